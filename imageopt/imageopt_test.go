package imageopt

import (
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/gen2brain/webp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writePNG writes a 16x16 image whose left half is opaque red and right half transparent
func writePNG(t *testing.T, dir, name string) string {
	img := image.NewNRGBA(image.Rect(0, 0, 16, 16))
	for y := 0; y < 16; y++ {
		for x := 0; x < 8; x++ {
			img.Set(x, y, color.NRGBA{R: 255, A: 255})
		}
	}
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, img))
	require.NoError(t, f.Close())
	return path
}

func TestTransformToWebp(t *testing.T) {
	dir := t.TempDir()
	src := writePNG(t, dir, "ComfyUI_00001_.png")

	out, err := New().Transform("webp", 80, []string{src})
	require.NoError(t, err)
	require.Equal(t, []string{filepath.Join(dir, "ComfyUI_00001_.webp")}, out)

	f, err := os.Open(out[0])
	require.NoError(t, err)
	defer f.Close()
	img, err := webp.Decode(f)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 16, 16), img.Bounds())
}

func TestTransformToJpgFlattensAlpha(t *testing.T) {
	dir := t.TempDir()
	src := writePNG(t, dir, "ComfyUI_00001_.png")

	out, err := New().Transform("jpg", 95, []string{src})
	require.NoError(t, err)
	require.Equal(t, []string{filepath.Join(dir, "ComfyUI_00001_.jpg")}, out)

	f, err := os.Open(out[0])
	require.NoError(t, err)
	defer f.Close()
	img, err := jpeg.Decode(f)
	require.NoError(t, err)

	r, g, b, _ := img.At(14, 8).RGBA()
	assert.Greater(t, r>>8, uint32(240), "transparent area should be white")
	assert.Greater(t, g>>8, uint32(240))
	assert.Greater(t, b>>8, uint32(240))

	r, g, _, _ = img.At(2, 8).RGBA()
	assert.Greater(t, r>>8, uint32(200))
	assert.Less(t, g>>8, uint32(60))
}

func TestTransformPngAtFullQualityIsUntouched(t *testing.T) {
	dir := t.TempDir()
	src := writePNG(t, dir, "a.png")
	before, err := os.ReadFile(src)
	require.NoError(t, err)

	out, err := New().Transform("png", 100, []string{src})
	require.NoError(t, err)
	assert.Equal(t, []string{src}, out)

	after, err := os.ReadFile(src)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestTransformPngBelowFullQualityReencodes(t *testing.T) {
	dir := t.TempDir()
	src := writePNG(t, dir, "a.png")

	out, err := New().Transform("png", 90, []string{src})
	require.NoError(t, err)
	assert.Equal(t, []string{src}, out)

	f, err := os.Open(src)
	require.NoError(t, err)
	defer f.Close()
	_, err = png.Decode(f)
	assert.NoError(t, err)
}

func TestTransformKeepsOrderAndPassesThroughOthers(t *testing.T) {
	dir := t.TempDir()
	a := writePNG(t, dir, "a.png")
	txt := filepath.Join(dir, "b.txt")
	require.NoError(t, os.WriteFile(txt, []byte("caption"), 0o644))
	c := writePNG(t, dir, "c.PNG")

	out, err := New().Transform("webp", 80, []string{a, txt, c})
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(dir, "a.webp"),
		txt,
		filepath.Join(dir, "c.webp"),
	}, out)
}

func TestTransformErrors(t *testing.T) {
	dir := t.TempDir()

	_, err := New().Transform("gif", 80, nil)
	assert.ErrorIs(t, err, ErrUnsupportedFormat)

	broken := filepath.Join(dir, "broken.png")
	require.NoError(t, os.WriteFile(broken, []byte("not a png"), 0o644))
	_, err = New().Transform("webp", 80, []string{broken})
	assert.Error(t, err)
	assert.NoFileExists(t, filepath.Join(dir, "broken.webp"))
}
