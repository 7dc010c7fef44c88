// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"os"
	"testing"

	"github.com/gomlx/gomlx/backends"
	"github.com/gomlx/gomlx/ui/commandline"
	"github.com/gomlx/vae"
	"github.com/janpfeifer/must"
	"k8s.io/klog/v2"
)

var flagSettings *string

func init() {
	klog.InitFlags(nil)
	ctx := vae.CreateDefaultContext()
	flagSettings = commandline.CreateContextSettingsFlag(ctx, "")
	if _, found := os.LookupEnv(backends.GOMLX_BACKEND); !found {
		// For testing, we use the CPU backend (and avoid GPU if not explicitly requested).
		must.M(os.Setenv(backends.GOMLX_BACKEND, "xla:cpu"))
	}
}

// TestDemo trains a small FNN model for one epoch.
//
// It has to download the training data, and it will use the flag *flagDataDir (--data)
// as the location to store the training data.
//
// It is disabled for short tests.
func TestDemo(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping testing in short mode")
		return
	}

	ctx := vae.CreateDefaultContext()
	ctx.SetParam(vae.ParamModel, "fnn")
	ctx.SetParam(vae.ParamFnnNumHiddenLayers, 1)
	ctx.SetParam(vae.ParamFnnNumHiddenNodes, 32)
	ctx.SetParam(vae.ParamLatentDim, 8)
	ctx.SetParam(vae.ParamEpochs, 1)
	ctx.SetParam(vae.ParamBatchSize, 1024)
	paramsSet := must.M1(commandline.ParseContextSettings(ctx, *flagSettings))
	backend := backends.New()
	vae.TrainModel(backend, ctx, *flagDataDir, t.TempDir(), false, 1, paramsSet)
}
