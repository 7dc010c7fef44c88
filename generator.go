// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package vae

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"path"
	"time"

	"github.com/disintegration/imaging"
	"github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/backends"
	. "github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/ml/context"
	"github.com/gomlx/gomlx/types/shapes"
	"github.com/gomlx/gomlx/types/tensors"
	timages "github.com/gomlx/gomlx/types/tensors/images"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
)

// gridSpacing is the number of black pixels around and between grid cells.
const gridSpacing = 2

// RunStamp tags the image files of a training run with its start time, formatted
// "_<year>_<month>_<day>_<hour>_".
func RunStamp(t time.Time) string {
	return fmt.Sprintf("_%d_%d_%d_%d_", t.Year(), int(t.Month()), t.Day(), t.Hour())
}

// SampleFileName is where the grid of decoded prior samples of an epoch is saved.
func SampleFileName(resultsDir, stamp string, epoch int) string {
	return path.Join(resultsDir, fmt.Sprintf("sample_%s%d.png", stamp, epoch))
}

// ReconstructionFileName is where the originals-vs-reconstructions grid of an epoch
// is saved.
func ReconstructionFileName(resultsDir, stamp string, epoch int) string {
	return path.Join(resultsDir, fmt.Sprintf("reconstruction_%s%d.png", stamp, epoch))
}

// SampleGenerator decodes latent vectors drawn from the standard normal prior into
// images, using the decoder variables of the given context.
//
// It can be called repeatedly as training progresses: each call samples fresh
// latents and sees the latest variable values.
type SampleGenerator struct {
	numImages int
	exec      *context.Exec
}

// NewSampleGenerator creates a generator of numImages samples per call. The context
// must be the one being trained; its variables are reused, not created.
func NewSampleGenerator(backend backends.Backend, ctx *context.Context, numImages int) *SampleGenerator {
	ctx = ctx.Reuse()
	latentDim := context.GetParamOr(ctx, ParamLatentDim, 128)
	return &SampleGenerator{
		numImages: numImages,
		exec: context.NewExec(backend, ctx, func(ctx *context.Context, g *Graph) *Node {
			ctx.SetTraining(g, false)
			latents := ctx.RandomNormal(g, shapes.Make(dtypes.Float32, numImages, latentDim))
			return DecoderGraph(ctx, latents)
		}),
	}
}

// Generate decodes a fresh batch of latents, returning images shaped
// [numImages, 32, 32, 3] with values in [0, 1].
func (s *SampleGenerator) Generate() *tensors.Tensor {
	return s.exec.Call()[0]
}

// TensorToImages converts a batch shaped [n, height, width, 3] with values in [0, 1]
// to Go images.
func TensorToImages(batch *tensors.Tensor) []image.Image {
	return timages.ToImage().MaxValue(1.0).Batch(batch)
}

// MakeImageGrid arranges the images in rows of numPerRow, with black spacing around
// and between them. All images must have the same size.
func MakeImageGrid(list []image.Image, numPerRow int) *image.NRGBA {
	if len(list) == 0 || numPerRow <= 0 {
		exceptions.Panicf("MakeImageGrid requires images (got %d) and numPerRow > 0 (got %d)",
			len(list), numPerRow)
	}
	bounds := list[0].Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	numRows := (len(list) + numPerRow - 1) / numPerRow
	grid := imaging.New(
		numPerRow*(width+gridSpacing)+gridSpacing,
		numRows*(height+gridSpacing)+gridSpacing,
		color.Black)
	for ii, img := range list {
		row, col := ii/numPerRow, ii%numPerRow
		grid = imaging.Paste(grid, img, image.Pt(
			gridSpacing+col*(width+gridSpacing),
			gridSpacing+row*(height+gridSpacing)))
	}
	return grid
}

// ComparisonGrid pairs the first n originals (top row) with their reconstructions
// (bottom row).
func ComparisonGrid(originals, reconstructions *tensors.Tensor, n int) *image.NRGBA {
	list := make([]image.Image, 0, 2*n)
	list = append(list, TensorToImages(originals)[:n]...)
	list = append(list, TensorToImages(reconstructions)[:n]...)
	return MakeImageGrid(list, n)
}

// SaveImageGrid writes the images as a PNG grid with numPerRow images per row.
func SaveImageGrid(list []image.Image, numPerRow int, filePath string) error {
	return SavePNG(MakeImageGrid(list, numPerRow), filePath)
}

// SavePNG encodes the image to filePath.
func SavePNG(img image.Image, filePath string) error {
	f, err := os.Create(filePath)
	if err != nil {
		return errors.Wrapf(err, "creating %q", filePath)
	}
	if err = png.Encode(f, img); err != nil {
		_ = f.Close()
		return errors.Wrapf(err, "failed to encode image as PNG to %q", filePath)
	}
	return errors.Wrapf(f.Close(), "writing %q", filePath)
}
