package vae

import (
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/disintegration/imaging"
	"github.com/gomlx/gomlx/types/tensors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunStampFileNames(t *testing.T) {
	stamp := RunStamp(time.Date(2016, time.March, 7, 5, 32, 0, 0, time.UTC))
	assert.Equal(t, "_2016_3_7_5_", stamp)
	assert.Equal(t, "out/sample__2016_3_7_5_10.png", SampleFileName("out", stamp, 10))
	assert.Equal(t, "out/reconstruction__2016_3_7_5_10.png", ReconstructionFileName("out", stamp, 10))
}

func TestMakeImageGrid(t *testing.T) {
	red := color.NRGBA{R: 255, A: 255}
	green := color.NRGBA{G: 255, A: 255}
	blue := color.NRGBA{B: 255, A: 255}
	list := []image.Image{
		imaging.New(8, 8, red),
		imaging.New(8, 8, green),
		imaging.New(8, 8, blue),
	}

	// Two images per row: the 3 images make 2 rows, the last cell stays empty.
	grid := MakeImageGrid(list, 2)
	require.Equal(t, 2*(8+2)+2, grid.Bounds().Dx())
	require.Equal(t, 2*(8+2)+2, grid.Bounds().Dy())

	black := color.NRGBA{A: 255}
	assert.Equal(t, black, grid.NRGBAAt(0, 0))
	assert.Equal(t, red, grid.NRGBAAt(2, 2))
	assert.Equal(t, green, grid.NRGBAAt(2+10, 2))
	assert.Equal(t, blue, grid.NRGBAAt(2, 2+10))
	assert.Equal(t, black, grid.NRGBAAt(2+10, 2+10))

	require.Panics(t, func() { MakeImageGrid(nil, 8) })
	require.Panics(t, func() { MakeImageGrid(list, 0) })
}

func TestComparisonGrid(t *testing.T) {
	// 3 solid red originals and 3 solid green reconstructions of 4x4 pixels, of
	// which the first 2 of each are kept.
	solidBatch := func(r, g, b float32) *tensors.Tensor {
		flat := make([]float32, 3*4*4*3)
		for i := 0; i < len(flat); i += 3 {
			flat[i], flat[i+1], flat[i+2] = r, g, b
		}
		return tensors.FromFlatDataAndDimensions(flat, 3, 4, 4, 3)
	}
	originals := solidBatch(1, 0, 0)
	reconstructions := solidBatch(0, 1, 0)

	grid := ComparisonGrid(originals, reconstructions, 2)
	require.Equal(t, 2*(4+2)+2, grid.Bounds().Dx())
	require.Equal(t, 2*(4+2)+2, grid.Bounds().Dy())

	// Originals on the top row, reconstructions below.
	assert.Equal(t, color.NRGBA{R: 255, A: 255}, grid.NRGBAAt(2, 2))
	assert.Equal(t, color.NRGBA{G: 255, A: 255}, grid.NRGBAAt(2, 2+6))
}

func TestSaveImageGrid(t *testing.T) {
	dir := t.TempDir()
	list := make([]image.Image, 6)
	for ii := range list {
		list[ii] = imaging.New(5, 5, color.NRGBA{R: uint8(40 * ii), A: 255})
	}
	filePath := filepath.Join(dir, "grid.png")
	require.NoError(t, SaveImageGrid(list, 3, filePath))

	f, err := os.Open(filePath)
	require.NoError(t, err)
	defer func() { _ = f.Close() }()
	decoded, err := png.Decode(f)
	require.NoError(t, err)
	assert.Equal(t, 3*(5+2)+2, decoded.Bounds().Dx())
	assert.Equal(t, 2*(5+2)+2, decoded.Bounds().Dy())
}

func TestSavePNGError(t *testing.T) {
	img := imaging.New(2, 2, color.Black)
	err := SavePNG(img, filepath.Join(t.TempDir(), "no", "such", "dir.png"))
	require.Error(t, err)
}
