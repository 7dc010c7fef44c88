// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package vae trains a variational autoencoder (VAE) on CIFAR-10 images.
//
// The model encodes 32x32 RGB images into the mean and log-variance of a Gaussian
// over a low-dimensional latent space, samples it with the reparameterization trick
// and decodes the sample back to an image. Training minimizes a summed
// reconstruction term plus the KL divergence to the standard normal prior, as in
// "Auto-Encoding Variational Bayes" (https://arxiv.org/abs/1312.6114).
//
// Two architectures are provided, selected by the "model" hyperparameter: "cnn"
// (strided convolutions, the default) and "fnn" (dense layers only). All
// hyperparameters live in the context, see CreateDefaultContext.
package vae

import (
	"github.com/gomlx/exceptions"
	. "github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/ml/context"
	"github.com/gomlx/gomlx/ml/layers"
	"github.com/gomlx/gomlx/ml/layers/activations"
	"github.com/gomlx/gomlx/ml/train/losses"

	"github.com/gomlx/vae/cifar"
)

// Hyperparameters used by the model graphs. Defaults are set in CreateDefaultContext.
const (
	// ParamModel selects the architecture, one of ValidModels.
	ParamModel = "model"

	// ParamLatentDim is the dimension of the latent space.
	ParamLatentDim = "latent_dim"

	// ParamReconstructionLoss selects how reconstructions are scored against the
	// inputs: "mse" (summed squared error) or "bce" (summed binary cross-entropy).
	ParamReconstructionLoss = "recon_loss"

	// ParamLogVarBound, when > 0, clips the encoded log-variance to [-bound, bound]
	// before it is used. The default 0 disables clipping, so a runaway encoder can
	// overflow exp(logVar) and abort training with a NaN loss.
	ParamLogVarBound = "logvar_bound"

	// ParamFnnNumHiddenLayers and ParamFnnNumHiddenNodes configure the "fnn" model.
	ParamFnnNumHiddenLayers = "fnn_num_hidden_layers"
	ParamFnnNumHiddenNodes  = "fnn_num_hidden_nodes"

	// ParamCnnNumLayers and ParamCnnNumFilters configure the "cnn" model: number of
	// stride-2 convolution blocks and the filter count of the first one (doubled at
	// each block).
	ParamCnnNumLayers  = "cnn_num_layers"
	ParamCnnNumFilters = "cnn_num_filters"
)

// ValidModels is the list of model types supported.
var ValidModels = []string{"cnn", "fnn"}

// EncoderGraph maps a batch of images shaped [batchSize, 32, 32, 3] to the mean and
// log-variance of the approximate posterior, each shaped [batchSize, latentDim].
func EncoderGraph(ctx *context.Context, images *Node) (mean, logVar *Node) {
	ctx = ctx.In("encoder")
	batchSize := images.Shape().Dimensions[0]
	latentDim := context.GetParamOr(ctx, ParamLatentDim, 128)
	var hidden *Node
	switch modelType := context.GetParamOr(ctx, ParamModel, ValidModels[0]); modelType {
	case "cnn":
		hidden = cnnEncoder(ctx, images)
	case "fnn":
		hidden = fnnEncoder(ctx, images)
	default:
		exceptions.Panicf("parameter %q must take one value from %v, got %q",
			ParamModel, ValidModels, modelType)
	}
	mean = layers.Dense(ctx.In("mean"), hidden, true, latentDim)
	logVar = layers.Dense(ctx.In("log_var"), hidden, true, latentDim)
	mean.AssertDims(batchSize, latentDim)
	logVar.AssertDims(batchSize, latentDim)
	return
}

func cnnEncoder(ctx *context.Context, images *Node) *Node {
	batchSize := images.Shape().Dimensions[0]
	numFilters := context.GetParamOr(ctx, ParamCnnNumFilters, 32)
	numLayers := context.GetParamOr(ctx, ParamCnnNumLayers, 3)
	layerIdx := 0
	nextCtx := func(name string) *context.Context {
		scopedCtx := ctx.Inf("%03d_%s", layerIdx, name)
		layerIdx++
		return scopedCtx
	}
	x := images
	for range numLayers {
		x = layers.Convolution(nextCtx("conv"), x).
			Filters(numFilters).KernelSize(3).Strides(2).PadSame().Done()
		x = activations.ApplyFromContext(ctx, x)
		numFilters *= 2
	}
	return Reshape(x, batchSize, -1)
}

func fnnEncoder(ctx *context.Context, images *Node) *Node {
	batchSize := images.Shape().Dimensions[0]
	numLayers := context.GetParamOr(ctx, ParamFnnNumHiddenLayers, 2)
	numNodes := context.GetParamOr(ctx, ParamFnnNumHiddenNodes, 512)
	x := Reshape(images, batchSize, -1)
	for ii := range numLayers {
		x = layers.Dense(ctx.Inf("%03d_dense", ii), x, true, numNodes)
		x = activations.ApplyFromContext(ctx, x)
	}
	return x
}

// ReparameterizeGraph draws z = mean + stdDev * noise with noise ~ N(0, I), where
// stdDev = exp(logVar / 2). The noise is sampled fresh on every execution, during
// training and evaluation alike. The random state lives in the context, so runs are
// reproducible given the same seed.
func ReparameterizeGraph(ctx *context.Context, mean, logVar *Node) *Node {
	g := mean.Graph()
	stdDev := Exp(MulScalar(logVar, 0.5))
	noise := ctx.RandomNormal(g, mean.Shape())
	return Add(mean, Mul(stdDev, noise))
}

// KLDivergenceGraph computes the KL divergence from the approximate posterior
// N(mean, exp(logVar)) to the standard normal prior, summed over the batch and the
// latent dimensions:
//
//	-0.5 * Σ (1 + logVar - mean² - exp(logVar))
//
// It is exactly 0 when mean is all zeros and logVar all zeros.
func KLDivergenceGraph(mean, logVar *Node) *Node {
	terms := OnePlus(logVar)
	terms = Sub(terms, Mul(mean, mean))
	terms = Sub(terms, Exp(logVar))
	return MulScalar(ReduceAllSum(terms), -0.5)
}

// DecoderGraph maps latent vectors shaped [batchSize, latentDim] back to images
// shaped [batchSize, 32, 32, 3], with pixel values in [0, 1].
func DecoderGraph(ctx *context.Context, latents *Node) *Node {
	return Sigmoid(DecoderLogitsGraph(ctx, latents))
}

// DecoderLogitsGraph is DecoderGraph before the final sigmoid. The "bce"
// reconstruction loss is computed directly from these logits, which is numerically
// stabler than taking the log of the sigmoid.
func DecoderLogitsGraph(ctx *context.Context, latents *Node) *Node {
	ctx = ctx.In("decoder")
	switch modelType := context.GetParamOr(ctx, ParamModel, ValidModels[0]); modelType {
	case "cnn":
		return cnnDecoder(ctx, latents)
	case "fnn":
		return fnnDecoder(ctx, latents)
	default:
		exceptions.Panicf("parameter %q must take one value from %v, got %q",
			ParamModel, ValidModels, modelType)
	}
	return nil
}

func cnnDecoder(ctx *context.Context, latents *Node) *Node {
	batchSize := latents.Shape().Dimensions[0]
	numFilters := context.GetParamOr(ctx, ParamCnnNumFilters, 32)
	numLayers := context.GetParamOr(ctx, ParamCnnNumLayers, 3)
	layerIdx := 0
	nextCtx := func(name string) *context.Context {
		scopedCtx := ctx.Inf("%03d_%s", layerIdx, name)
		layerIdx++
		return scopedCtx
	}

	// Mirror of cnnEncoder: project the latents onto the encoder's deepest grid,
	// then alternate 2x up-sampling with convolutions back to the image size.
	gridSize := cifar.Width >> numLayers
	if gridSize < 1 {
		exceptions.Panicf("parameter %q is too large: %d halvings of a %dx%d image leave nothing to decode",
			ParamCnnNumLayers, numLayers, cifar.Height, cifar.Width)
	}
	maxFilters := numFilters
	for range numLayers - 1 {
		maxFilters *= 2
	}
	x := layers.Dense(nextCtx("dense"), latents, true, gridSize*gridSize*maxFilters)
	x = activations.ApplyFromContext(ctx, x)
	x = Reshape(x, batchSize, gridSize, gridSize, maxFilters)
	filters := maxFilters
	for range numLayers - 1 {
		filters /= 2
		x = upSampleImages(x)
		x = layers.Convolution(nextCtx("conv"), x).
			Filters(filters).KernelSize(3).PadSame().Done()
		x = activations.ApplyFromContext(ctx, x)
	}
	x = upSampleImages(x)
	x = layers.Convolution(nextCtx("conv"), x).
		Filters(cifar.Depth).KernelSize(3).PadSame().Done()
	x.AssertDims(batchSize, cifar.Height, cifar.Width, cifar.Depth)
	return x
}

func fnnDecoder(ctx *context.Context, latents *Node) *Node {
	batchSize := latents.Shape().Dimensions[0]
	numLayers := context.GetParamOr(ctx, ParamFnnNumHiddenLayers, 2)
	numNodes := context.GetParamOr(ctx, ParamFnnNumHiddenNodes, 512)
	x := latents
	for ii := range numLayers {
		x = layers.Dense(ctx.Inf("%03d_dense", ii), x, true, numNodes)
		x = activations.ApplyFromContext(ctx, x)
	}
	x = layers.Dense(ctx.In("output"), x, true, cifar.Height*cifar.Width*cifar.Depth)
	return Reshape(x, batchSize, cifar.Height, cifar.Width, cifar.Depth)
}

// upSampleImages doubles the spatial dimensions of images shaped
// [batchSize, height, width, channels] by repeating rows and columns.
func upSampleImages(images *Node) *Node {
	shape := images.Shape()
	batchSize := shape.Dimensions[0]
	height, width := shape.Dimensions[1], shape.Dimensions[2]
	numChannels := shape.Dimensions[3]
	upSampled := Concatenate([]*Node{images, images}, 3)
	upSampled = Reshape(upSampled, batchSize, height, 2*width, numChannels)
	upSampled = Concatenate([]*Node{upSampled, upSampled}, 2)
	return Reshape(upSampled, batchSize, 2*height, 2*width, numChannels)
}

// ReconstructionLossGraph scores the decoder logits against the original images,
// summed over every pixel and every example of the batch. The metric is selected by
// ParamReconstructionLoss.
func ReconstructionLossGraph(ctx *context.Context, images, logits *Node) *Node {
	kind := context.GetParamOr(ctx, ParamReconstructionLoss, "mse")
	switch kind {
	case "mse":
		diff := Sub(Sigmoid(logits), images)
		return ReduceAllSum(Mul(diff, diff))
	case "bce":
		return ReduceAllSum(losses.BinaryCrossentropyLogits([]*Node{images}, []*Node{logits}))
	}
	exceptions.Panicf("parameter %q must be \"mse\" or \"bce\", got %q",
		ParamReconstructionLoss, kind)
	return nil
}

func clipLogVar(ctx *context.Context, logVar *Node) *Node {
	bound := context.GetParamOr(ctx, ParamLogVarBound, 0.0)
	if bound <= 0 {
		return logVar
	}
	return ClipScalar(logVar, -bound, bound)
}

// ModelGraph is the train.ModelFn of the autoencoder: it encodes the input images,
// samples latents with the reparameterization trick, decodes them back and computes
// the training loss inside the graph.
//
// It returns [reconstruction, mean, logVar, loss]. Use LossFromPredictions as the
// loss function of the trainer.
func ModelGraph(ctx *context.Context, spec any, inputs []*Node) []*Node {
	images := inputs[0]
	images.AssertRank(4)
	mean, logVar := EncoderGraph(ctx, images)
	logVar = clipLogVar(ctx, logVar)
	latents := ReparameterizeGraph(ctx, mean, logVar)
	logits := DecoderLogitsGraph(ctx, latents)
	reconstruction := Sigmoid(logits)
	reconstruction.AssertDims(images.Shape().Dimensions...)
	loss := Add(
		ReconstructionLossGraph(ctx, images, logits),
		KLDivergenceGraph(mean, logVar))
	return []*Node{reconstruction, mean, logVar, loss}
}

// LossFromPredictions hands the trainer the loss already computed by ModelGraph.
// The dataset labels are ignored: the autoencoder scores reconstructions against
// its own inputs.
func LossFromPredictions(labels, predictions []*Node) *Node {
	return predictions[3]
}
