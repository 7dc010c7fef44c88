package cifar

import (
	"os"
	"path"
	"testing"

	"github.com/gomlx/gomlx/types/tensors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPartition(t *testing.T) {
	assert.Equal(t, "train", Train.String())
	assert.Equal(t, "test", Test.String())
	assert.Equal(t, NumTrainExamples, Train.NumExamples())
	assert.Equal(t, NumTestExamples, Test.NumExamples())
	assert.Len(t, Train.files(), 5)
	assert.Len(t, Test.files(), 1)
	require.Panics(t, func() { Partition(3).check() })
}

func TestConvertImageBytes(t *testing.T) {
	// Channel-major input: red plane, green plane, blue plane.
	raw := make([]byte, imageSizeBytes)
	for h := range Height {
		for w := range Width {
			raw[0*(Height*Width)+h*Width+w] = byte(h)       // Red.
			raw[1*(Height*Width)+h*Width+w] = byte(w)       // Green.
			raw[2*(Height*Width)+h*Width+w] = byte(h + w*2) // Blue.
		}
	}
	out := make([]float32, imageSizeBytes)
	convertImageBytes(raw, out)
	for _, hw := range [][2]int{{0, 0}, {3, 7}, {31, 31}} {
		h, w := hw[0], hw[1]
		base := (h*Width + w) * Depth
		assert.Equal(t, float32(h)/255, out[base])
		assert.Equal(t, float32(w)/255, out[base+1])
		assert.Equal(t, float32(h+w*2)/255, out[base+2])
	}
}

// writeSyntheticBatchFile writes one batch file where example i has label i%10, red
// channel i%256, green 2*i%256 and blue 3*i%256, constant over the image.
func writeSyntheticBatchFile(t *testing.T, filePath string) {
	f, err := os.Create(filePath)
	require.NoError(t, err)
	defer func() { require.NoError(t, f.Close()) }()
	record := make([]byte, 1+imageSizeBytes)
	for i := range examplesPerFile {
		record[0] = byte(i % 10)
		for p := range Height * Width {
			record[1+p] = byte(i % 256)
			record[1+Height*Width+p] = byte(2 * i % 256)
			record[1+2*Height*Width+p] = byte(3 * i % 256)
		}
		_, err := f.Write(record)
		require.NoError(t, err)
	}
}

func TestParseExamplesFile(t *testing.T) {
	filePath := path.Join(t.TempDir(), "data_batch_1.bin")
	writeSyntheticBatchFile(t, filePath)

	imagesData := make([]float32, examplesPerFile*imageSizeBytes)
	labelsData := make([]int64, examplesPerFile)
	nextIdx, err := parseExamplesFile(filePath, imagesData, labelsData, 0)
	require.NoError(t, err)
	assert.Equal(t, examplesPerFile, nextIdx)

	for _, i := range []int{0, 1, 513, examplesPerFile - 1} {
		assert.Equal(t, int64(i%10), labelsData[i])
		base := i * imageSizeBytes
		assert.Equal(t, float32(i%256)/255, imagesData[base])
		assert.Equal(t, float32(2*i%256)/255, imagesData[base+1])
		assert.Equal(t, float32(3*i%256)/255, imagesData[base+2])
	}

	// Truncated file errors out.
	truncated := path.Join(t.TempDir(), "short.bin")
	require.NoError(t, os.WriteFile(truncated, make([]byte, 100), 0644))
	_, err = parseExamplesFile(truncated, imagesData, labelsData, 0)
	require.Error(t, err)
}

func TestConvertToGoImage(t *testing.T) {
	// Two images: first all 0.5 gray, second with a red gradient along width.
	flat := make([]float32, 2*imageSizeBytes)
	for p := range imageSizeBytes {
		flat[p] = 0.5
	}
	for h := range Height {
		for w := range Width {
			flat[imageSizeBytes+(h*Width+w)*Depth] = float32(w) / float32(Width)
		}
	}
	images := tensors.FromFlatDataAndDimensions(flat, 2, Height, Width, Depth)

	img := ConvertToGoImage(images, 0)
	require.Equal(t, Width, img.Bounds().Dx())
	require.Equal(t, Height, img.Bounds().Dy())
	r, g, b, a := img.At(10, 10).RGBA()
	assert.Equal(t, uint32(127), r>>8)
	assert.Equal(t, uint32(127), g>>8)
	assert.Equal(t, uint32(127), b>>8)
	assert.Equal(t, uint32(255), a>>8)

	img = ConvertToGoImage(images, 1)
	r0, _, _, _ := img.At(0, 5).RGBA()
	r31, _, _, _ := img.At(31, 5).RGBA()
	assert.Less(t, r0, r31)
}
