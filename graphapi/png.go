package graphapi

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"os"
)

var (
	ErrNotPNG         = errors.New("not a PNG file")
	ErrChunkTooLarge  = errors.New("png text chunk too large")
	ErrNoPromptInPNG  = errors.New("png does not contain prompt metadata")
	pngMagic          = []byte("\x89PNG\r\n\x1a\n")
	maxTextChunkBytes = uint32(64 << 20)
)

// GetPngMetadata returns the tEXt chunks of a PNG keyed by keyword.
// ComfyUI stores the executed API workflow under "prompt" and the UI graph under "workflow".
// Text chunks longer than 64 MiB or with a bad checksum are rejected.
func GetPngMetadata(r io.Reader) (map[string]string, error) {
	br := bufio.NewReader(r)
	magic := make([]byte, len(pngMagic))
	if _, err := io.ReadFull(br, magic); err != nil || !bytes.Equal(magic, pngMagic) {
		return nil, ErrNotPNG
	}

	text := make(map[string]string)
	var head [8]byte
	for {
		if _, err := io.ReadFull(br, head[:]); err != nil {
			if errors.Is(err, io.EOF) {
				// a truncated file still yields what was read
				return text, nil
			}
			return nil, err
		}
		length := binary.BigEndian.Uint32(head[:4])
		kind := string(head[4:])

		switch kind {
		case "IEND":
			return text, nil
		case "tEXt":
			if length > maxTextChunkBytes {
				return nil, fmt.Errorf("%w: %d bytes", ErrChunkTooLarge, length)
			}
			body := make([]byte, length+4)
			if _, err := io.ReadFull(br, body); err != nil {
				return nil, err
			}
			data, sum := body[:length], binary.BigEndian.Uint32(body[length:])
			crc := crc32.NewIEEE()
			crc.Write(head[4:])
			crc.Write(data)
			if crc.Sum32() != sum {
				return nil, errors.New("png tEXt chunk checksum mismatch")
			}
			keyword, value, ok := bytes.Cut(data, []byte{0})
			if !ok {
				return nil, errors.New("malformed tEXt chunk")
			}
			text[string(keyword)] = string(value)
		default:
			// image data and other ancillary chunks, plus their CRC
			if _, err := br.Discard(int(length) + 4); err != nil {
				return nil, err
			}
		}
	}
}

// NewWorkflowFromPNGReader extracts the API workflow that produced a ComfyUI image
func NewWorkflowFromPNGReader(r io.Reader) (Workflow, error) {
	text, err := GetPngMetadata(r)
	if err != nil {
		return nil, err
	}
	prompt, ok := text["prompt"]
	if !ok {
		return nil, ErrNoPromptInPNG
	}
	return NewWorkflowFromJsonString(prompt)
}

func NewWorkflowFromPNGFile(path string) (Workflow, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return NewWorkflowFromPNGReader(f)
}
