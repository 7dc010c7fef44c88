package vae

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/backends"
	. "github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/ml/context"
	"github.com/gomlx/gomlx/ml/data"
	"github.com/gomlx/gomlx/ml/train"
	"github.com/gomlx/gomlx/ml/train/metrics"
	"github.com/gomlx/gomlx/ml/train/optimizers"
	"github.com/gomlx/gomlx/types/tensors"
	"github.com/gomlx/gomlx/ui/commandline"
	"github.com/gomlx/gomlx/ui/gonb/plotly"
	"github.com/janpfeifer/must"

	"github.com/gomlx/vae/cifar"
)

// NumSampledImages is the number of images decoded from random latent vectors
// after each epoch. They are saved as a square grid, so it should be a perfect
// square.
const NumSampledImages = 64

// TrainModel trains the VAE for the configured number of epochs, writing a grid of
// reconstructions and a grid of freshly sampled images to resultsDir after every
// epoch.
//
// Hyperparameters are read from ctx -- see CreateDefaultContext. paramsSet lists
// the ones overridden from the command line, so they can be reported.
func TrainModel(backend backends.Backend, ctx *context.Context, dataDir, resultsDir string, evaluateOnEnd bool, verbosity int, paramsSet []string) {
	if verbosity >= 1 {
		fmt.Printf("Backend %q:\t%s\n", backend.Name(), backend.Description())
	}
	if verbosity >= 2 {
		fmt.Println(commandline.SprintContextSettings(ctx))
	}
	if verbosity >= 1 {
		// Enumerate parameters that were set.
		for _, paramsPath := range paramsSet {
			scope, name := context.SplitScope(paramsPath)
			if scope == "" {
				if value, found := ctx.GetParam(name); found {
					fmt.Printf("\t%s=%v\n", name, value)
				}
			} else {
				if value, found := ctx.InAbsPath(scope).GetParam(name); found {
					fmt.Printf("\tscope=%q %s=%v\n", scope, name, value)
				}
			}
		}
	}

	// Variable initialization and latent sampling all derive from the "seed"
	// hyperparameter.
	seed := int64(context.GetParamOr(ctx, ParamSeed, 1))
	ctx.RngStateFromSeed(seed)

	// Data directory: CIFAR-10 is downloaded here if not yet present.
	dataDir = data.ReplaceTildeInDir(dataDir)
	if !data.FileExists(dataDir) {
		must.M(os.MkdirAll(dataDir, 0777))
	}

	// Results directory, where the reconstruction and sample images are written.
	resultsDir = data.ReplaceTildeInDir(resultsDir)
	if !data.FileExists(resultsDir) {
		must.M(os.MkdirAll(resultsDir, 0777))
	}

	batchSize := context.GetParamOr(ctx, ParamBatchSize, 0)
	if batchSize <= 0 {
		exceptions.Panicf("Batch size must be > 0 (maybe it was not set?): %d", batchSize)
	}
	numEpochs := context.GetParamOr(ctx, ParamEpochs, 0)
	if numEpochs <= 0 {
		exceptions.Panicf("Number of epochs must be > 0 (maybe it was not set?): %d", numEpochs)
	}
	logInterval := context.GetParamOr(ctx, ParamLogInterval, 1)
	if logInterval <= 0 {
		logInterval = 1
	}

	// Create datasets used for training and evaluation. Reconstructions are
	// evaluated on the same training split, reshuffled, drawing fresh latent
	// noise.
	baseTrain := must.M1(cifar.NewDataset(backend, "train", dataDir, cifar.Train))
	trainDS := newCountingDataset(baseTrain.Copy().Shuffle().BatchSize(batchSize, false))
	evalDS := baseTrain.Copy().Shuffle().BatchSize(batchSize, false)
	numTrain := cifar.Train.NumExamples()
	numBatches := (numTrain + batchSize - 1) / batchSize
	if verbosity >= 1 {
		fmt.Printf("Training data:\t%s images\n", humanize.Comma(int64(numTrain)))
	}

	// Create a train.Trainer: this object will orchestrate running the model, feeding
	// results to the optimizer, evaluating the metrics, etc. (all happens in trainer.TrainStep)
	trainer := train.NewTrainer(backend, ctx, ModelGraph,
		LossFromPredictions,
		optimizers.FromContext(ctx),
		[]metrics.Interface{}, // trainMetrics
		[]metrics.Interface{}) // evalMetrics

	// Use a standard training loop, one RunEpochs call per epoch, so images can be
	// generated in between.
	loop := train.NewLoop(trainer)
	if verbosity == 0 {
		// At verbosity >= 1 the per-batch loss lines take over the reporting.
		commandline.AttachProgressBar(loop)
	}

	// Per-batch loss reporting and per-epoch accumulation. The trainer's first
	// metric is the batch loss, here the sum of the reconstruction and KL terms
	// over the batch.
	var epoch int
	var epochLoss float64
	loop.OnStep("epoch logging", 100, func(loop *train.Loop, metrics []*tensors.Tensor) error {
		batchLoss := float64(tensors.ToScalar[float32](metrics[0]))
		epochLoss += batchLoss
		if verbosity >= 1 && trainDS.lastBatchIdx%logInterval == 0 {
			fmt.Printf("Train Epoch: %d [%d/%d (%.0f%%)]\tLoss: %.6f\n",
				epoch, trainDS.lastBatchIdx*trainDS.lastBatchLen, numTrain,
				100*float64(trainDS.lastBatchIdx)/float64(numBatches),
				batchLoss/float64(trainDS.lastBatchLen))
		}
		return nil
	})

	// Attach Plotly plots: plot points at exponential steps. The plots get their
	// own dataset, since evalDS is consumed by the per-epoch reconstruction pass.
	if context.GetParamOr(ctx, plotly.ParamPlots, false) {
		plotEvalDS := baseTrain.Copy().Shuffle().BatchSize(batchSize, false)
		_ = plotly.New().
			Dynamic().
			WithDatasets(plotEvalDS).
			ScheduleExponential(loop, 200, 1.2)
	}

	// Reconstruction executor shared by every epoch: runs the model in inference
	// mode and returns the summed loss along with the reconstructed images.
	evalExec := context.NewExec(backend, ctx.Reuse(), func(ctx *context.Context, images *Node) []*Node {
		g := images.Graph()
		ctx.SetTraining(g, false)
		outputs := ModelGraph(ctx, nil, []*Node{images})
		return []*Node{LossFromPredictions(nil, outputs), outputs[0]}
	})
	sampleGen := NewSampleGenerator(backend, ctx, NumSampledImages)
	stamp := RunStamp(time.Now())

	for epoch = 1; epoch <= numEpochs; epoch++ {
		epochLoss = 0
		_ = must.M1(loop.RunEpochs(trainDS, 1))
		if verbosity >= 0 {
			fmt.Printf("====> Epoch: %d Average loss: %.4f\n", epoch, epochLoss/float64(numTrain))
		}

		evalLoss := evalReconstructions(evalExec, evalDS, ReconstructionFileName(resultsDir, stamp, epoch))
		if verbosity >= 0 {
			fmt.Printf("====> Test set loss: %.4f\n", evalLoss/float64(numTrain))
		}

		samples := sampleGen.Generate()
		must.M(SaveImageGrid(TensorToImages(samples), 8, SampleFileName(resultsDir, stamp, epoch)))
		samples.FinalizeAll()
	}

	if verbosity >= 1 {
		fmt.Printf("\t[Step %d] median train step: %d microseconds\n",
			loop.LoopStep, loop.MedianTrainStepDuration().Microseconds())
		fmt.Printf("\tModel #params:\t%d\n", ctx.NumParameters())
	}

	// Finally, print an evaluation on the training data and on the held out test split.
	if evaluateOnEnd {
		if verbosity >= 1 {
			fmt.Println()
		}
		baseTest := must.M1(cifar.NewDataset(backend, "test", dataDir, cifar.Test))
		trainEvalDS := baseTrain.Copy().BatchSize(batchSize, false)
		testEvalDS := baseTest.BatchSize(batchSize, false)
		must.M(commandline.ReportEval(trainer, trainEvalDS, testEvalDS))
	}
}

// evalReconstructions runs the model over ds in inference mode and returns the
// loss summed over all examples. The first batch is also rendered side by side
// with its reconstructions and saved to imagePath.
func evalReconstructions(evalExec *context.Exec, ds train.Dataset, imagePath string) float64 {
	ds.Reset()
	var totalLoss float64
	firstBatch := true
	for {
		_, inputs, _, err := ds.Yield()
		if err == io.EOF {
			break
		}
		must.M(err)
		images := inputs[0]
		results := evalExec.Call(images)
		totalLoss += float64(tensors.ToScalar[float32](results[0]))
		if firstBatch {
			firstBatch = false
			n := min(images.Shape().Dimensions[0], 8)
			grid := ComparisonGrid(images, results[1], n)
			must.M(SavePNG(grid, imagePath))
		}
		images.FinalizeAll()
		for _, result := range results {
			result.FinalizeAll()
		}
	}
	return totalLoss
}

// countingDataset wraps a dataset and keeps tabs on the batches yielded in the
// current epoch, so the logging hook can report progress within the epoch.
type countingDataset struct {
	ds train.Dataset

	batchIdx     int // Batches yielded since the last Reset.
	lastBatchIdx int // Index of the last batch yielded, starting at 0.
	lastBatchLen int // Number of examples in the last batch yielded.
}

func newCountingDataset(ds train.Dataset) *countingDataset {
	return &countingDataset{ds: ds}
}

// Name implements train.Dataset.
func (c *countingDataset) Name() string { return c.ds.Name() }

// Reset implements train.Dataset. The training loop calls it at the end of each
// epoch.
func (c *countingDataset) Reset() {
	c.batchIdx = 0
	c.ds.Reset()
}

// Yield implements train.Dataset.
func (c *countingDataset) Yield() (spec any, inputs, labels []*tensors.Tensor, err error) {
	spec, inputs, labels, err = c.ds.Yield()
	if err != nil {
		return
	}
	c.lastBatchIdx = c.batchIdx
	c.lastBatchLen = inputs[0].Shape().Dimensions[0]
	c.batchIdx++
	return
}
