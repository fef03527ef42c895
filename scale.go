// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package tri

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// scale centers and standardizes each row of a (variants, samples)
// view in place: subtract the row mean, then divide by the standard
// deviation implied by the row's minor allele frequency. A row whose
// predicate-passing MAF is exactly 0 or 1 cannot occur (the upstream
// predicate filter rejects it); if a zero standard deviation arises
// anyway, scale fails with NumericDegeneracyError rather than divide
// by zero.
func scale(b *View) error {
	row := make([]float64, b.Cols())
	for i := 0; i < b.Rows(); i++ {
		row = b.Row(i, row)
		mean := floats.Sum(row) / float64(len(row))
		minorAlleleFrequency := mean / 2
		standardDeviation := math.Sqrt(2 * minorAlleleFrequency * (1 - minorAlleleFrequency))
		if standardDeviation == 0 {
			return &NumericDegeneracyError{VariantIndex: i}
		}
		floats.AddConst(-mean, row)
		floats.Scale(1/standardDeviation, row)
		b.SetRow(i, row)
	}
	return nil
}
