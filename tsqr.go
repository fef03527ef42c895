// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package tri

import (
	"fmt"
	"math"
)

// tsqr holds the state threaded through repeated Map calls for one
// chromosome: the variant file, the workspace, the MAF cutoff, an
// optional task-sync handle (nil outside the scheduler, e.g. in
// tests), and a counter used to keep block names unique across
// successive Map calls on the same chromosome.
type tsqr struct {
	file   VariantFile
	ws     *Workspace
	cutoff float64
	sync   *TaskSyncCollection
	block  int
}

func newTSQR(file VariantFile, ws *Workspace, cutoff float64, sync *TaskSyncCollection) *tsqr {
	return &tsqr{file: file, ws: ws, cutoff: cutoff, sync: sync}
}

// blockName returns a deterministic name containing the chromosome
// identifier, unique across Map calls for the same chromosome.
func (q *tsqr) blockName() string {
	q.block++
	return fmt.Sprintf("tri-chr%s-block%d", q.file.Chromosome(), q.block)
}

// mapOnce triangularizes as much of the file as fits into the
// workspace and returns one chunk. It returns (nil, nil) once the file
// is exhausted. It never loops to top up a short read: the next
// mapOnce call continues where this one left off.
func (q *tsqr) mapOnce() (*Triangular, error) {
	sampleCount := q.file.SampleCount()

	vBudget := int(q.ws.UnallocatedSize() / (float64size * int64(sampleCount)))
	if vBudget < sampleCount {
		return nil, &InsufficientSpaceError{
			Available: q.ws.UnallocatedSize(),
			Needed:    int64(sampleCount) * int64(sampleCount) * float64size,
		}
	}
	vTotal := q.file.VariantCount()
	if vBudget >= vTotal {
		if q.sync != nil {
			q.sync.SetCanRun()
		}
		vBudget = vTotal
	}

	name := q.blockName()
	a, err := q.ws.Alloc(name, sampleCount, vBudget)
	if err != nil {
		return nil, err
	}

	a.Transpose() // (vBudget, S): orientation the file reads dosages into
	written, err := q.file.Read(a, MAFCutoff{Cutoff: q.cutoff}.Accept)
	a.Transpose() // back to (S, vBudget)
	if err != nil {
		q.ws.Free(name)
		return nil, err
	}
	if written == 0 {
		if err := q.ws.Free(name); err != nil {
			return nil, err
		}
		return nil, nil
	}

	if err := a.Resize(sampleCount, written); err != nil {
		return nil, err
	}
	a.Transpose() // (written, S)
	if err := scale(a); err != nil {
		return nil, err
	}
	pivot, err := triangularizeWithPivoting(a)
	if err != nil {
		return nil, err
	}
	a.Transpose() // back to (S, written)
	if err := a.Resize(sampleCount, sampleCount); err != nil {
		return nil, err
	}
	permuteRowsByInversePivot(a, pivot)

	return &Triangular{
		view:                       a,
		Chromosome:                 q.file.Chromosome(),
		Samples:                    q.file.Samples(),
		VariantCount:               written,
		MinorAlleleFrequencyCutoff: q.cutoff,
	}, nil
}

// permuteRowsByInversePivot reorders an S x S view's rows so that row
// i holds what was row invert(pivot)[i], restoring original sample
// order after a pivoted triangularization.
func permuteRowsByInversePivot(view *View, pivot Pivot) {
	inv := invertPivot(pivot)
	n := view.Rows()
	scratch := make([]float64, n*n)
	for i := 0; i < n; i++ {
		row := view.Row(i, nil)
		copy(scratch[i*n:(i+1)*n], row)
	}
	buf := make([]float64, n)
	for i := 0; i < n; i++ {
		src := inv[i]
		copy(buf, scratch[src*n:(src+1)*n])
		view.SetRow(i, buf)
	}
}

// reduceTriangulars concatenates one or more Triangulars sharing
// samples, chromosome, and (within tolerance) MAF cutoff into a single
// Triangular, using the standard TSQR identity: concatenating
// R-factors and re-triangularizing yields the R of the full stacked
// matrix.
func reduceTriangulars(ws *Workspace, chunks ...*Triangular) (*Triangular, error) {
	if len(chunks) == 0 {
		return nil, fmt.Errorf("tri: reduce requires at least one chunk")
	}
	if len(chunks) == 1 {
		return chunks[0], nil
	}

	chromosome := chunks[0].Chromosome
	minCutoff, maxCutoff := chunks[0].MinorAlleleFrequencyCutoff, chunks[0].MinorAlleleFrequencyCutoff
	names := make([]string, len(chunks))
	variantCount := 0
	for i, c := range chunks {
		if c.Chromosome != chromosome {
			return nil, &IncompatibleChunksError{Reason: fmt.Sprintf("chromosome mismatch: %q vs %q", chromosome, c.Chromosome)}
		}
		if c.MinorAlleleFrequencyCutoff < minCutoff {
			minCutoff = c.MinorAlleleFrequencyCutoff
		}
		if c.MinorAlleleFrequencyCutoff > maxCutoff {
			maxCutoff = c.MinorAlleleFrequencyCutoff
		}
		names[i] = c.view.Name()
		variantCount += c.VariantCount
	}
	const relTol = 1e-9
	if math.Abs(maxCutoff-minCutoff) > relTol*math.Max(math.Abs(maxCutoff), math.Abs(minCutoff)) {
		return nil, &IncompatibleChunksError{Reason: fmt.Sprintf("maf_cutoff mismatch: %g vs %g", minCutoff, maxCutoff)}
	}

	merged, err := ws.Merge(names...)
	if err != nil {
		return nil, err
	}

	merged.Transpose() // (k*S, S)
	pivot, err := triangularizeWithPivoting(merged)
	if err != nil {
		return nil, err
	}
	merged.Transpose() // back to (S, k*S)
	sampleCount := merged.Rows()
	if err := merged.Resize(sampleCount, sampleCount); err != nil {
		return nil, err
	}
	permuteRowsByInversePivot(merged, pivot)

	return &Triangular{
		view:                       merged,
		Chromosome:                 chromosome,
		Samples:                    chunks[0].Samples,
		VariantCount:               variantCount,
		MinorAlleleFrequencyCutoff: minCutoff,
	}, nil
}
