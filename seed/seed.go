// Package seed turns an optional user seed into the concrete value a workflow is bound with.
package seed

import (
	"crypto/rand"
	"encoding/binary"
	"log/slog"
)

// Max is the largest seed Resolve generates on its own
const Max = 1<<16 - 1

// Resolve returns s when it is set and non-negative, otherwise a random seed in [0, Max]
func Resolve(s *int64) int64 {
	if s != nil && *s >= 0 {
		return *s
	}
	v := Random()
	slog.Info("Random seed set", "seed", v)
	return v
}

func Random() int64 {
	var b [2]byte
	if _, err := rand.Read(b[:]); err != nil {
		// crypto/rand only fails when the OS source is unusable
		panic(err)
	}
	return int64(binary.BigEndian.Uint16(b[:]))
}
