// Package imageopt re-encodes engine output images to the requested format and quality.
package imageopt

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
	"image/png"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/gen2brain/webp"
)

var ErrUnsupportedFormat = errors.New("unsupported output format")

// Formats accepted by Transform
var Formats = []string{"webp", "jpg", "png"}

// Optimiser converts image files in place, next to the originals
type Optimiser struct {
	// Lossless encodes webp without loss when quality is 100
	Lossless bool
}

func New() *Optimiser {
	return &Optimiser{}
}

func isConvertible(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".png", ".jpg", ".jpeg":
		return true
	}
	return false
}

func supported(format string) bool {
	for _, f := range Formats {
		if f == format {
			return true
		}
	}
	return false
}

// Transform converts every png or jpeg in files to format at quality and returns the
// resulting paths in the same order. Other files pass through untouched. When quality is
// 100 and the format is png the files are returned as they are.
func (o *Optimiser) Transform(format string, quality int, files []string) ([]string, error) {
	if !supported(format) {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
	if quality >= 100 && format == "png" {
		return files, nil
	}

	out := make([]string, 0, len(files))
	for _, f := range files {
		if !isConvertible(f) {
			out = append(out, f)
			continue
		}
		converted, err := o.convert(f, format, quality)
		if err != nil {
			return nil, fmt.Errorf("converting %s: %w", filepath.Base(f), err)
		}
		out = append(out, converted)
	}
	return out, nil
}

func (o *Optimiser) convert(src string, format string, quality int) (string, error) {
	in, err := os.Open(src)
	if err != nil {
		return "", err
	}
	img, _, err := image.Decode(in)
	in.Close()
	if err != nil {
		return "", err
	}

	dst := strings.TrimSuffix(src, filepath.Ext(src)) + "." + format
	tmp := dst + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return "", err
	}
	if err := o.encode(f, img, format, quality); err != nil {
		f.Close()
		os.Remove(tmp)
		return "", err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return "", err
	}
	if err := os.Rename(tmp, dst); err != nil {
		return "", err
	}
	slog.Debug("Converted image", "src", src, "dst", dst, "quality", quality)
	return dst, nil
}

func (o *Optimiser) encode(w io.Writer, img image.Image, format string, quality int) error {
	switch format {
	case "jpg":
		return jpeg.Encode(w, flatten(img), &jpeg.Options{Quality: clampQuality(quality)})
	case "webp":
		return webp.Encode(w, img, webp.Options{
			Quality:  clampQuality(quality),
			Lossless: o.Lossless && quality >= 100,
		})
	case "png":
		enc := png.Encoder{CompressionLevel: png.BestCompression}
		return enc.Encode(w, img)
	}
	return fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
}

// flatten draws img onto white, since jpeg has no alpha channel
func flatten(img image.Image) image.Image {
	b := img.Bounds()
	rgb := image.NewRGBA(b)
	draw.Draw(rgb, b, image.NewUniform(color.White), image.Point{}, draw.Src)
	draw.Draw(rgb, b, img, b.Min, draw.Over)
	return rgb
}

func clampQuality(q int) int {
	if q < 1 {
		return 1
	}
	if q > 100 {
		return 100
	}
	return q
}
