package vae

import (
	"github.com/gomlx/gomlx/ml/context"
	"github.com/gomlx/gomlx/ml/layers/activations"
	"github.com/gomlx/gomlx/ml/train/optimizers"
	"github.com/gomlx/gomlx/ui/gonb/plotly"
)

// Hyperparameters of the training driver, see TrainModel.
const (
	// ParamSeed initializes the context random state, making parameter
	// initialization and latent sampling reproducible.
	ParamSeed = "seed"

	// ParamBatchSize used for training and evaluation.
	ParamBatchSize = "batch_size"

	// ParamEpochs is the number of passes over the training data.
	ParamEpochs = "epochs"

	// ParamLogInterval is the number of training batches between progress lines.
	ParamLogInterval = "log_interval"
)

// CreateDefaultContext creates a context set with the default hyperparameters for
// TrainModel. Any of them can be overridden with the --set flag, see
// commandline.ParseContextSettings.
func CreateDefaultContext() *context.Context {
	ctx := context.New()
	ctx.SetParams(map[string]any{
		// Model selection, one of ValidModels.
		ParamModel: ValidModels[0],

		// Dimension of the latent space the images are encoded into.
		ParamLatentDim: 128,

		// Reconstruction metric: "mse" or "bce", both summed over every pixel of
		// every example.
		ParamReconstructionLoss: "mse",

		// If > 0, clips the encoded log-variance to [-bound, bound]. Disabled by
		// default, so exp(logVar) may overflow if training diverges.
		ParamLogVarBound: 0.0,

		// Training driver.
		ParamBatchSize:   128,
		ParamEpochs:      100,
		ParamLogInterval: 10,
		ParamSeed:        1,

		// "plots" collects per-epoch loss points and, if running in a GoNB
		// notebook, plots them with Plotly.
		plotly.ParamPlots: false,

		optimizers.ParamOptimizer:    "adam",
		optimizers.ParamLearningRate: 1e-4,
		optimizers.ParamAdamEpsilon:  1e-8,
		activations.ParamActivation:  "relu",

		// FNN model.
		ParamFnnNumHiddenLayers: 2,
		ParamFnnNumHiddenNodes:  512,

		// CNN model.
		ParamCnnNumLayers:  3,
		ParamCnnNumFilters: 32,
	})
	return ctx
}
