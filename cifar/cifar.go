// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package cifar downloads and prepares the CIFAR-10 dataset.
// Information about it in https://www.cs.toronto.edu/~kriz/cifar.html
//
// Images are parsed into tensors shaped [numExamples, 32, 32, 3] (channels-last),
// Float32, with pixel values scaled to [0, 1].
package cifar

import (
	"bufio"
	"fmt"
	"image"
	"io"
	"os"
	"path"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/backends"
	"github.com/gomlx/gomlx/ml/data"
	"github.com/gomlx/gomlx/types/tensors"
	"github.com/pkg/errors"
)

const (
	DownloadURL = "https://www.cs.toronto.edu/~kriz/cifar-10-binary.tar.gz"

	tarName  = "cifar-10-binary.tar.gz"
	untarDir = "cifar-10-batches-bin"
	checksum = "c4a38c50a1bc5f3a1c5537f2155ab9d68f9f25eb1ed8d9ddda3db29a59bca1dd"
)

// Width, Height and Depth are the dimensions of every CIFAR-10 image.
const (
	Width  int = 32
	Height int = 32
	Depth  int = 3
)

const (
	// NumTrainExamples is the number of examples in the Train partition.
	NumTrainExamples = 50000

	// NumTestExamples is the number of examples in the Test partition.
	NumTestExamples = 10000

	examplesPerFile = 10000
	imageSizeBytes  = Height * Width * Depth
)

// ClassNames of the 10 classes, indexed by label value.
var ClassNames = []string{
	"airplane", "automobile", "bird", "cat", "deer",
	"dog", "frog", "horse", "ship", "truck"}

// Download fetches and unpacks the CIFAR-10 binary archive into baseDir, if it is
// not already there. The archive checksum is verified.
func Download(baseDir string) error {
	baseDir = data.ReplaceTildeInDir(baseDir)
	return data.DownloadAndUntarIfMissing(DownloadURL, baseDir, tarName, untarDir, checksum)
}

// Partition refers to the train or test examples of the dataset.
type Partition int

const (
	Train Partition = iota
	Test
)

// String implements fmt.Stringer.
func (p Partition) String() string {
	switch p {
	case Train:
		return "train"
	case Test:
		return "test"
	}
	return fmt.Sprintf("Partition(%d)", int(p))
}

// NumExamples in the partition.
func (p Partition) NumExamples() int {
	if p == Train {
		return NumTrainExamples
	}
	return NumTestExamples
}

// files with the partition's examples, in order.
func (p Partition) files() []string {
	if p == Train {
		return []string{
			"data_batch_1.bin", "data_batch_2.bin", "data_batch_3.bin",
			"data_batch_4.bin", "data_batch_5.bin"}
	}
	return []string{"test_batch.bin"}
}

func (p Partition) check() {
	if p != Train && p != Test {
		exceptions.Panicf("invalid partition %d, only cifar.Train or cifar.Test accepted", int(p))
	}
}

// Load parses the binary files of the given partition under baseDir.
// It returns an images tensor shaped [numExamples, 32, 32, 3] of Float32 with values
// in [0, 1], and a labels tensor shaped [numExamples, 1] of Int64.
// It assumes the files have been downloaded already, see Download.
func Load(baseDir string, partition Partition) (images, labels *tensors.Tensor, err error) {
	partition.check()
	baseDir = data.ReplaceTildeInDir(baseDir)
	numExamples := partition.NumExamples()
	imagesData := make([]float32, numExamples*imageSizeBytes)
	labelsData := make([]int64, numExamples)
	exampleIdx := 0
	for _, fileName := range partition.files() {
		filePath := path.Join(baseDir, untarDir, fileName)
		exampleIdx, err = parseExamplesFile(filePath, imagesData, labelsData, exampleIdx)
		if err != nil {
			return nil, nil, err
		}
	}
	if exampleIdx != numExamples {
		return nil, nil, errors.Errorf("parsed %d examples for partition %q, wanted %d",
			exampleIdx, partition, numExamples)
	}
	images = tensors.FromFlatDataAndDimensions(imagesData, numExamples, Height, Width, Depth)
	labels = tensors.FromFlatDataAndDimensions(labelsData, numExamples, 1)
	return
}

// parseExamplesFile reads one binary batch file: each record is 1 label byte followed
// by 3072 image bytes, channel-major (all red, all green, all blue).
func parseExamplesFile(filePath string, imagesData []float32, labelsData []int64, exampleIdx int) (int, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return exampleIdx, errors.Wrapf(err, "opening data file %q", filePath)
	}
	defer func() { _ = f.Close() }()
	reader := bufio.NewReader(f)
	var record [1 + imageSizeBytes]byte
	for inFileIdx := range examplesPerFile {
		if _, err := io.ReadFull(reader, record[:]); err != nil {
			return exampleIdx, errors.Wrapf(err, "reading example %d (out of %d) from %q",
				inFileIdx, examplesPerFile, filePath)
		}
		labelsData[exampleIdx] = int64(record[0])
		convertImageBytes(record[1:], imagesData[exampleIdx*imageSizeBytes:(exampleIdx+1)*imageSizeBytes])
		exampleIdx++
	}
	return exampleIdx, nil
}

// convertImageBytes transposes one channel-major raw image to channels-last float32
// values scaled to [0, 1].
func convertImageBytes(raw []byte, out []float32) {
	pos := 0
	for h := range Height {
		for w := range Width {
			for d := range Depth {
				out[pos] = float32(raw[d*(Height*Width)+h*Width+w]) / 255
				pos++
			}
		}
	}
}

type imagesAndLabels struct {
	images, labels *tensors.Tensor
}

// Cache of loaded partitions: datasets created by NewDataset share the underlying tensors.
var loadedCache [2]*imagesAndLabels

// ResetCache drops the cached tensors, forcing the next access to re-read the files.
func ResetCache() {
	loadedCache = [2]*imagesAndLabels{}
}

// ImagesAndLabels returns the tensors of the given partition, downloading and parsing
// the dataset files if needed. Results are cached, so repeated calls are free.
func ImagesAndLabels(baseDir string, partition Partition) (images, labels *tensors.Tensor, err error) {
	partition.check()
	if cached := loadedCache[partition]; cached != nil {
		return cached.images, cached.labels, nil
	}
	if err = Download(baseDir); err != nil {
		return nil, nil, errors.WithMessagef(err, "downloading CIFAR-10 to %q", baseDir)
	}
	images, labels, err = Load(baseDir, partition)
	if err != nil {
		return nil, nil, err
	}
	loadedCache[partition] = &imagesAndLabels{images: images, labels: labels}
	return
}

// NewDataset returns an in-memory dataset over the partition, which implements
// train.Dataset and hence can be used by train.Trainer methods.
// Inputs are the image batches; the class labels are carried as the dataset labels.
//
// It automatically downloads the data from the web, and loads it into memory if it
// hasn't been loaded yet.
func NewDataset(backend backends.Backend, name, baseDir string, partition Partition) (*data.InMemoryDataset, error) {
	images, labels, err := ImagesAndLabels(baseDir, partition)
	if err != nil {
		return nil, err
	}
	return data.InMemoryFromData(backend, name, []any{images}, []any{labels})
}

// ConvertToGoImage builds an NRGBA image from one example of an images tensor, assuming
// values in [0, 1].
func ConvertToGoImage(images *tensors.Tensor, exampleNum int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, Width, Height))
	tensors.ConstFlatData(images, func(flat []float32) {
		pos := exampleNum * imageSizeBytes
		for h := range Height {
			for w := range Width {
				for d := range Depth {
					img.Pix[h*img.Stride+w*4+d] = uint8(flat[pos] * 255)
					pos++
				}
				img.Pix[h*img.Stride+w*4+3] = 255
			}
		}
	})
	return img
}
