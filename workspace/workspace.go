// Package workspace owns the directories shared between the predictor and the
// rendering engine: where inputs are placed, where outputs are written and the
// engine's scratch space. All three are cleared at the start of every request and
// keep that request's artifacts until the next one begins.
package workspace

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"

	"github.com/viant/afs"
	"github.com/viant/afs/file"
	"github.com/viant/afs/url"
)

type Workspace struct {
	fs     afs.Service
	output string
	input  string
	temp   string
}

// New returns a workspace over the given roots. Relative roots are resolved
// against the current working directory.
func New(output, input, temp string) (*Workspace, error) {
	retv := &Workspace{fs: afs.New()}
	for _, d := range []struct {
		target *string
		path   string
		name   string
	}{
		{&retv.output, output, "output"},
		{&retv.input, input, "input"},
		{&retv.temp, temp, "temp"},
	} {
		if d.path == "" {
			return nil, fmt.Errorf("%s directory is not set", d.name)
		}
		abs, err := filepath.Abs(d.path)
		if err != nil {
			return nil, err
		}
		*d.target = abs
	}
	return retv, nil
}

func (w *Workspace) OutputDir() string { return w.output }
func (w *Workspace) InputDir() string  { return w.input }
func (w *Workspace) TempDir() string   { return w.temp }

// Dirs returns the output, input and temp roots
func (w *Workspace) Dirs() []string {
	return []string{w.output, w.input, w.temp}
}

// Ensure creates any missing root without touching existing contents
func (w *Workspace) Ensure(ctx context.Context) error {
	for _, dir := range w.Dirs() {
		exists, err := w.fs.Exists(ctx, fileURL(dir))
		if err != nil {
			return err
		}
		if exists {
			continue
		}
		if err := w.fs.Create(ctx, fileURL(dir), file.DefaultDirOsMode, true); err != nil {
			return fmt.Errorf("creating %s: %w", dir, err)
		}
	}
	return nil
}

// Reset removes every root with its contents and recreates it empty.
// A reset interrupted half way is repaired by the next one.
func (w *Workspace) Reset(ctx context.Context) error {
	for _, dir := range w.Dirs() {
		exists, err := w.fs.Exists(ctx, fileURL(dir))
		if err != nil {
			return err
		}
		if exists {
			if err := w.fs.Delete(ctx, fileURL(dir)); err != nil {
				return fmt.Errorf("clearing %s: %w", dir, err)
			}
		}
		if err := w.fs.Create(ctx, fileURL(dir), file.DefaultDirOsMode, true); err != nil {
			return fmt.Errorf("creating %s: %w", dir, err)
		}
	}
	slog.Debug("Workspace reset", "dirs", w.Dirs())
	return nil
}

// MaterializeInput copies src into the input root as prefix plus src's extension
// and returns the new file name.
func (w *Workspace) MaterializeInput(ctx context.Context, src string, prefix string) (string, error) {
	abs, err := filepath.Abs(src)
	if err != nil {
		return "", err
	}
	name := prefix + filepath.Ext(abs)
	dest := filepath.Join(w.input, name)
	if err := w.fs.Copy(ctx, fileURL(abs), fileURL(dest)); err != nil {
		return "", fmt.Errorf("copying %s to %s: %w", src, dest, err)
	}
	return name, nil
}

// ListFiles returns the regular files below dir, sorted by path
func (w *Workspace) ListFiles(ctx context.Context, dir string) ([]string, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	retv := make([]string, 0)
	if err := w.walk(ctx, abs, &retv); err != nil {
		return nil, err
	}
	sort.Strings(retv)
	return retv, nil
}

func (w *Workspace) walk(ctx context.Context, dir string, files *[]string) error {
	objects, err := w.fs.List(ctx, fileURL(dir))
	if err != nil {
		return fmt.Errorf("listing %s: %w", dir, err)
	}
	for _, obj := range objects {
		p := filepath.Clean(url.Path(obj.URL()))
		// the listed directory is reported as its own first entry
		if p == dir {
			continue
		}
		if obj.IsDir() {
			if err := w.walk(ctx, p, files); err != nil {
				return err
			}
			continue
		}
		*files = append(*files, p)
	}
	return nil
}

func fileURL(p string) string {
	return "file://" + filepath.ToSlash(p)
}
