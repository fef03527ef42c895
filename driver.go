// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package tri

import "errors"

// RunDriver repeatedly maps blocks of file into the workspace,
// reducing the accumulated chunks whenever a block allocation runs
// out of room, until the file is exhausted, then returns one final
// Reduce over everything collected. If the very first Map fails with
// allocation exhaustion, the driver fails outright: there is nothing
// yet to reduce to free up room.
func RunDriver(ws *Workspace, file VariantFile, cutoff float64, sync *TaskSyncCollection) (*Triangular, error) {
	q := newTSQR(file, ws, cutoff, sync)

	var chunks []*Triangular
	for {
		chunk, err := q.mapOnce()
		if err != nil {
			var insufficient *InsufficientSpaceError
			if errors.As(err, &insufficient) {
				if len(chunks) == 0 {
					return nil, err
				}
				reduced, rerr := reclaimChunks(ws, chunks)
				if rerr != nil {
					return nil, rerr
				}
				chunks = []*Triangular{reduced}
				continue
			}
			return nil, err
		}
		if chunk == nil {
			break
		}
		chunks = append(chunks, chunk)
	}

	if len(chunks) == 0 {
		return nil, &EmptyFilterError{Chromosome: file.Chromosome()}
	}
	return reduceTriangulars(ws, chunks...)
}

// reclaimChunks frees up arena room so the driver's next Map attempt
// can proceed. With two or more chunks this is exactly a Reduce:
// merging genuinely shrinks the combined footprint from the sum of
// the chunks' block widths down to S*S. Reducing exactly one chunk is
// a pass-through that does not touch the workspace, but that one
// chunk can still be carrying unreclaimed slack from its own Map call
// (it was allocated at its full block width and only logically shrunk
// to S x S afterward). Compacting it through a single-name Merge
// releases that slack without invoking Reduce's pivoting.
func reclaimChunks(ws *Workspace, chunks []*Triangular) (*Triangular, error) {
	if len(chunks) > 1 {
		return reduceTriangulars(ws, chunks...)
	}
	return compactChunk(ws, chunks[0])
}

func compactChunk(ws *Workspace, t *Triangular) (*Triangular, error) {
	merged, err := ws.Merge(t.view.Name())
	if err != nil {
		return nil, err
	}
	return &Triangular{
		view:                       merged,
		Chromosome:                 t.Chromosome,
		Samples:                    t.Samples,
		VariantCount:               t.VariantCount,
		MinorAlleleFrequencyCutoff: t.MinorAlleleFrequencyCutoff,
	}, nil
}
