// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package tri

import (
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

var chisquared = distuv.ChiSquared{K: 1, Src: rand.NewSource(rand.Uint64())}

// carrierChiSquaredPvalue tests independence between a variant's
// carrier status and case/control status over the training samples:
// the fast per-variant association test assoc.go runs before (and
// alongside) the slower GLM likelihood-ratio test in glm.go.
//
// The 2x2 contingency table is derived from its three marginal counts
// in one pass; the statistic is stat.ChiSquare over the observed cells
// against the expected cells under independence, with 1 degree of
// freedom.
func carrierChiSquaredPvalue(carrier, caseControl []bool) float64 {
	var carriers, cases, carrierCases float64
	for i := range carrier {
		if carrier[i] {
			carriers++
		}
		if caseControl[i] {
			cases++
		}
		if carrier[i] && caseControl[i] {
			carrierCases++
		}
	}
	n := float64(len(carrier))

	// Cell order: noncarrier/control, noncarrier/case,
	// carrier/control, carrier/case.
	observed := []float64{
		n - carriers - cases + carrierCases,
		cases - carrierCases,
		carriers - carrierCases,
		carrierCases,
	}
	expected := []float64{
		(n - carriers) * (n - cases) / n,
		(n - carriers) * cases / n,
		carriers * (n - cases) / n,
		carriers * cases / n,
	}
	return chisquared.Survival(stat.ChiSquare(observed, expected))
}
