// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package tri

import (
	"gonum.org/v1/gonum/lapack/gonum"
)

// Pivot is a permutation of column indices in the order they were
// selected by column-pivoted QR: applying Pivot to the original
// columns (in order) gives the pivoted matrix's columns.
type Pivot []int

// invertPivot returns the inverse permutation Q such that Q[P[i]] = i
// for all i, computed directly rather than via an argsort.
func invertPivot(p Pivot) Pivot {
	inv := make(Pivot, len(p))
	for i, pi := range p {
		inv[pi] = i
	}
	return inv
}

// triangularizeWithPivoting overwrites view (shape m x n) with the
// upper-triangular factor of a column-pivoted Householder QR (Golub &
// Van Loan, Matrix Computations, section 5.4.1/12.5.2), computed by
// LAPACK's DGEQP3 via gonum's native lapack implementation rather
// than a hand-rolled Householder loop: after the call, the leading
// r x r block (r = min(m, n)) is upper triangular and every row beyond
// it is zero, and columns have been reordered so that |R[i,i]| is
// non-increasing, to within the usual floating point caveats of
// DGEQP3's greedy pivoting. It returns the pivot permutation
// describing that reordering, as a slice of length n whose first r
// entries are the meaningful ones.
//
// The tall case (m >= n) is the common one here: a block's variant
// count usually dwarfs the sample count, which is the entire premise
// of a tall-skinny QR. The wide case (m < n) also arises, e.g. a
// chunk whose predicate-passing variant count fell short of the
// sample count, and is handled identically via r = min(m, n).
//
// view's data is not necessarily contiguous row-major (it may be a
// transposed or sub-resized alias over the shared workspace arena),
// which LAPACK's plain row-major stride cannot express directly, so
// the matrix is staged into a dense buffer for the LAPACK call and
// copied back afterward.
func triangularizeWithPivoting(view *View) (Pivot, error) {
	m, n := view.Rows(), view.Cols()
	r := m
	if n < r {
		r = n
	}

	a := make([]float64, m*n)
	row := make([]float64, n)
	for i := 0; i < m; i++ {
		row = view.Row(i, row)
		copy(a[i*n:(i+1)*n], row)
	}

	jpvt := make([]int, n)
	for j := range jpvt {
		jpvt[j] = -1 // every column starts free to pivot
	}
	tau := make([]float64, r)

	if m > 0 && n > 0 {
		impl := gonum.Implementation{}
		work := make([]float64, 1)
		impl.Dgeqp3(m, n, a, n, jpvt, tau, work, -1)
		lwork := int(work[0])
		if lwork < 1 {
			lwork = 1
		}
		work = make([]float64, lwork)
		impl.Dgeqp3(m, n, a, n, jpvt, tau, work, lwork)
	} else {
		for j := range jpvt {
			jpvt[j] = j
		}
	}

	// DGEQP3 packs the Householder vectors that generate Q below the
	// diagonal of the leading r x r block; this module never
	// reconstructs Q, so those entries are zeroed rather than copied
	// back.
	for i := 0; i < m; i++ {
		for j := 0; j < n; j++ {
			if i <= j {
				row[j] = a[i*n+j]
			} else {
				row[j] = 0
			}
		}
		view.SetRow(i, row)
	}

	return Pivot(jpvt), nil
}
