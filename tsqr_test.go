// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package tri

import (
	"math"

	"gopkg.in/check.v1"
)

type tsqrSuite struct{}

var _ = check.Suite(&tsqrSuite{})

// balancedDosages builds n rows of S sample dosages (S even), each
// with MAF estimate exactly 0.5 (so none are rejected by any cutoff
// and none are numerically degenerate) by mirroring complementary
// values (v, 2-v) around the row's midpoint. The value at each
// position still varies with the row index, so rows differ from one
// another. After centering, column S-1-j is the negative of column j,
// so a scaled block has rank at most S/2.
func balancedDosages(n, sampleCount int) [][]float64 {
	rows := make([][]float64, n)
	half := sampleCount / 2
	for i := range rows {
		row := make([]float64, sampleCount)
		for j := 0; j < half; j++ {
			v := float64((i + j) % 3)
			row[j] = v
			row[sampleCount-1-j] = 2 - v
		}
		if sampleCount%2 == 1 {
			row[half] = 1
		}
		rows[i] = row
	}
	return rows
}

// TestMapWholeFileFit: the whole file fits
// in one allocation, so a single Map call both signals can_run and
// returns every variant; a second Map call reports the file exhausted.
func (s *tsqrSuite) TestMapWholeFileFit(c *check.C) {
	const sampleCount, variantCount = 4, 10
	dosages := balancedDosages(variantCount, sampleCount)
	samples := []string{"s1", "s2", "s3", "s4"}
	file := NewMemReader("7", samples, dosages)

	ws := NewWorkspace(int64(sampleCount) * int64(variantCount) * float64size)
	sync := NewTaskSyncCollection(1)
	q := newTSQR(file, ws, 0, sync)

	c.Check(sync.CanRun(), check.Equals, false)
	chunk, err := q.mapOnce()
	c.Assert(err, check.IsNil)
	c.Assert(chunk, check.NotNil)
	c.Check(chunk.VariantCount, check.Equals, variantCount)
	c.Check(sync.CanRun(), check.Equals, true)

	// Free the chunk before probing for exhaustion: its block still
	// holds the whole arena, so another Map could not even allocate.
	c.Assert(chunk.Free(), check.IsNil)
	again, err := q.mapOnce()
	c.Assert(err, check.IsNil)
	c.Check(again, check.IsNil)
}

// TestReduceIdentity exercises the core TSQR identity:
// triangularizing the whole stacked matrix in one pass agrees, on
// the diagonal magnitudes of the stored (row-permuted) factor, with
// triangularizing two row-blocks separately and then reducing them.
func (s *tsqrSuite) TestReduceIdentity(c *check.C) {
	const sampleCount = 4
	samples := []string{"s1", "s2", "s3", "s4"}
	allDosages := balancedDosages(10, sampleCount)

	// Single pass: everything in one block.
	wsFull := NewWorkspace(int64(sampleCount) * 10 * float64size)
	fullFile := NewMemReader("3", samples, allDosages)
	qFull := newTSQR(fullFile, wsFull, 0, nil)
	full, err := qFull.mapOnce()
	c.Assert(err, check.IsNil)
	c.Assert(full.VariantCount, check.Equals, 10)

	// Split pass: two blocks of 6 and 4, reduced together.
	wsSplit := NewWorkspace(int64(sampleCount) * 10 * float64size)
	block1 := NewMemReader("3", samples, allDosages[:6])
	block2 := NewMemReader("3", samples, allDosages[6:])
	q1 := newTSQR(block1, wsSplit, 0, nil)
	chunk1, err := q1.mapOnce()
	c.Assert(err, check.IsNil)
	c.Assert(chunk1.VariantCount, check.Equals, 6)
	q2 := newTSQR(block2, wsSplit, 0, nil)
	q2.block = q1.block // keep block names distinct across the two tsqr instances sharing wsSplit
	chunk2, err := q2.mapOnce()
	c.Assert(err, check.IsNil)
	c.Assert(chunk2.VariantCount, check.Equals, 4)

	reduced, err := reduceTriangulars(wsSplit, chunk1, chunk2)
	c.Assert(err, check.IsNil)
	c.Check(reduced.VariantCount, check.Equals, 10)

	fullDiag := make([]float64, sampleCount)
	reducedDiag := make([]float64, sampleCount)
	for i := 0; i < sampleCount; i++ {
		fullDiag[i] = math.Abs(full.View().At(i, i))
		reducedDiag[i] = math.Abs(reduced.View().At(i, i))
	}
	for i := range fullDiag {
		c.Check(math.Abs(fullDiag[i]-reducedDiag[i]) < 1e-6*math.Max(1, fullDiag[i]), check.Equals, true)
	}
}

// TestReduceSingleChunkIsIdentity exercises the k=1 pass-through:
// reducing a single chunk returns that exact artifact, untouched.
func (s *tsqrSuite) TestReduceSingleChunkIsIdentity(c *check.C) {
	const sampleCount = 4
	samples := []string{"s1", "s2", "s3", "s4"}
	ws := NewWorkspace(int64(sampleCount) * 6 * float64size)
	file := NewMemReader("4", samples, balancedDosages(6, sampleCount))
	q := newTSQR(file, ws, 0, nil)
	chunk, err := q.mapOnce()
	c.Assert(err, check.IsNil)

	reduced, err := reduceTriangulars(ws, chunk)
	c.Assert(err, check.IsNil)
	c.Check(reduced, check.Equals, chunk)
}

// TestReduceRejectsChromosomeMismatch exercises the IncompatibleChunksError
// guard in reduceTriangulars.
func (s *tsqrSuite) TestReduceRejectsChromosomeMismatch(c *check.C) {
	const sampleCount = 4
	samples := []string{"s1", "s2", "s3", "s4"}
	ws := NewWorkspace(int64(sampleCount) * 20 * float64size)

	a := NewMemReader("1", samples, balancedDosages(4, sampleCount))
	b := NewMemReader("2", samples, balancedDosages(4, sampleCount))
	qa := newTSQR(a, ws, 0, nil)
	chunkA, err := qa.mapOnce()
	c.Assert(err, check.IsNil)
	qb := newTSQR(b, ws, 0, nil)
	chunkB, err := qb.mapOnce()
	c.Assert(err, check.IsNil)

	_, err = reduceTriangulars(ws, chunkA, chunkB)
	c.Assert(err, check.NotNil)
	_, ok := err.(*IncompatibleChunksError)
	c.Check(ok, check.Equals, true)
}
