// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package tri

import (
	"fmt"
	"io"
	"log"
	"math"

	"github.com/kshedden/statmodel/glm"
	"github.com/kshedden/statmodel/statmodel"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

var glmConfig = &glm.Config{
	Family:         glm.NewFamily(glm.BinomialFamily),
	FitMethod:      "IRLS",
	ConcurrentIRLS: 1000,
	Log:            log.New(io.Discard, "", 0),
}

func normalize(a []float64) {
	mean, std := stat.MeanStdDev(a, nil)
	for i, x := range a {
		a[i] = (x - mean) / std
	}
}

// SampleInfo carries one sample's phenotype and ancestry covariates
// into the null-model fit: whether it is a case or control, whether
// it belongs to the training partition, and its leading principal
// components (as produced by the pca subcommand).
type SampleInfo struct {
	Name          string
	IsCase        bool
	IsTraining    bool
	PCAComponents []float64
}

// NullModel is a logistic regression of case/control status on the
// leading nPCA principal components, fit once per chromosome's
// association run. Test then adds one variant's dosage as a covariate
// and reports a likelihood-ratio p-value against this null.
type NullModel struct {
	sampleInfo []SampleInfo
	nPCA       int
	names      []string
	data       [][]statmodel.Dtype
	logLike    float64
}

// NewNullModel fits outcome ~ pca1 + ... + pcaN over the training
// partition of sampleInfo.
func NewNullModel(sampleInfo []SampleInfo, nPCA int) (*NullModel, error) {
	pcaNames := make([]string, 0, nPCA)
	data := make([][]statmodel.Dtype, 0, nPCA)
	for k := 0; k < nPCA; k++ {
		series := make([]statmodel.Dtype, 0, len(sampleInfo))
		for _, si := range sampleInfo {
			if si.IsTraining {
				series = append(series, si.PCAComponents[k])
			}
		}
		normalize(series)
		data = append(data, series)
		pcaNames = append(pcaNames, fmt.Sprintf("pca%d", k))
	}

	outcome := make([]statmodel.Dtype, 0, len(sampleInfo))
	constants := make([]statmodel.Dtype, 0, len(sampleInfo))
	for _, si := range sampleInfo {
		if si.IsTraining {
			if si.IsCase {
				outcome = append(outcome, 1)
			} else {
				outcome = append(outcome, 0)
			}
			constants = append(constants, 1)
		}
	}
	data = append([][]statmodel.Dtype{outcome, constants}, data...)
	names := append([]string{"outcome", "constants"}, pcaNames...)
	dataset := statmodel.NewDataset(data, names)

	model, err := glm.NewGLM(dataset, "outcome", names[1:], glmConfig)
	if err != nil {
		return nil, err
	}
	result := model.Fit()

	return &NullModel{
		sampleInfo: sampleInfo,
		nPCA:       nPCA,
		names:      names,
		data:       data,
		logLike:    result.LogLike(),
	}, nil
}

// Test fits outcome ~ dosage + pca1 + ... + pcaN and returns the
// likelihood-ratio p-value of adding dosage over the null model.
// dosage must have one entry per training sample, in sampleInfo order.
func (m *NullModel) Test(dosage []float64) (p float64) {
	defer func() {
		if recover() != nil {
			// typically "matrix singular or near-singular with condition number +Inf"
			p = math.NaN()
		}
	}()

	variant := make([]statmodel.Dtype, 0, len(dosage))
	for _, d := range dosage {
		variant = append(variant, statmodel.Dtype(d))
	}

	data := append([][]statmodel.Dtype{m.data[0], variant}, m.data[1:]...)
	names := append([]string{"outcome", "dosage"}, m.names[1:]...)
	dataset := statmodel.NewDataset(data, names)

	model, err := glm.NewGLM(dataset, "outcome", names[1:], glmConfig)
	if err != nil {
		return math.NaN()
	}
	result := model.Fit()
	dist := distuv.ChiSquared{K: 1}
	return dist.Survival(-2 * (m.logLike - result.LogLike()))
}

// TrainingDosage extracts dosage for the training partition of
// sampleInfo, in the same order NewNullModel used, from a full-cohort
// dosage slice indexed the same way as sampleInfo.
func TrainingDosage(sampleInfo []SampleInfo, fullDosage []float64) []float64 {
	out := make([]float64, 0, len(sampleInfo))
	for i, si := range sampleInfo {
		if si.IsTraining {
			out = append(out, fullDosage[i])
		}
	}
	return out
}
