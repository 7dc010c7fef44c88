// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// CIFAR-10 VAE demo trainer.
// It trains a variational autoencoder on CIFAR-10 and writes a grid of
// reconstructions and a grid of sampled images after every epoch. It supports
// CNN and FNN based encoders/decoders, see the vae package for the
// hyperparameters.
package main

import (
	"flag"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/backends"
	"github.com/gomlx/gomlx/ui/commandline"
	"github.com/gomlx/vae"
	"github.com/janpfeifer/must"
	"k8s.io/klog/v2"

	_ "github.com/gomlx/gomlx/backends/default"
)

var (
	flagDataDir    = flag.String("data", "~/work/cifar", "Directory to cache downloaded and generated dataset files.")
	flagResultsDir = flag.String("results", "results_c", "Directory where reconstruction and sample images are written after each epoch.")
	flagCPU        = flag.Bool("cpu", false, "Force execution on the CPU, even if an accelerator is available.")
	flagEval       = flag.Bool("eval", true, "Whether to evaluate the model on the held out test data in the end.")
	flagVerbosity  = flag.Int("verbosity", 1, "Level of verbosity, the higher the more verbose.")
)

func main() {
	// Flags with context settings.
	ctx := vae.CreateDefaultContext()
	settings := commandline.CreateContextSettingsFlag(ctx, "")
	klog.InitFlags(nil)
	flag.Parse()
	paramsSet := must.M1(commandline.ParseContextSettings(ctx, *settings))

	// Backend handles creation of ML computation graphs, accelerator resources, etc.
	var backend backends.Backend
	if *flagCPU {
		backend = must.M1(backends.NewWithConfig("xla:cpu"))
	} else {
		backend = backends.New()
	}

	err := exceptions.TryCatch[error](func() {
		vae.TrainModel(backend, ctx, *flagDataDir, *flagResultsDir, *flagEval, *flagVerbosity, paramsSet)
	})
	if err != nil {
		klog.Fatalf("Failed with error: %+v", err)
	}
}
