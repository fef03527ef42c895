// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package tri

import "fmt"

// InsufficientSpaceError indicates the workspace cannot fit even one
// block at least sampleCount columns wide. It is recoverable by the
// map-reduce driver (C6), which reduces the accumulated chunks and
// retries; it is fatal if raised on the very first Map call.
type InsufficientSpaceError struct {
	Available int64
	Needed    int64
}

func (e *InsufficientSpaceError) Error() string {
	return fmt.Sprintf("insufficient space in workspace: have %d bytes, need at least %d", e.Available, e.Needed)
}

// NumericDegeneracyError indicates a variant's dosages had zero
// variance after the minor-allele-frequency filter, so the scaler
// could not compute a standard deviation to divide by.
type NumericDegeneracyError struct {
	VariantIndex int
}

func (e *NumericDegeneracyError) Error() string {
	return fmt.Sprintf("variant %d has zero variance after scaling", e.VariantIndex)
}

// IncompatibleChunksError indicates Reduce was called with chunks that
// disagree on chromosome or minor-allele-frequency cutoff.
type IncompatibleChunksError struct {
	Reason string
}

func (e *IncompatibleChunksError) Error() string {
	return "incompatible chunks: " + e.Reason
}

// EmptyFilterError indicates the very first Map call for a chromosome
// returned no variants at all: no variant in the file passed the
// minor-allele-frequency predicate.
type EmptyFilterError struct {
	Chromosome string
}

func (e *EmptyFilterError) Error() string {
	return fmt.Sprintf("chromosome %s: no variants passed the filter", e.Chromosome)
}

// MissingOutputError indicates that, after the scheduler finished, an
// expected output file was not found on disk.
type MissingOutputError struct {
	Path string
}

func (e *MissingOutputError) Error() string {
	return fmt.Sprintf("missing output file %q", e.Path)
}

// WorkerFailure wraps an error raised inside a per-chromosome worker so
// it can be carried across the exception queue to the scheduler with
// the chromosome it belongs to.
type WorkerFailure struct {
	Chromosome string
	Err        error
}

func (e *WorkerFailure) Error() string {
	return fmt.Sprintf("chromosome %s: %s", e.Chromosome, e.Err)
}

func (e *WorkerFailure) Unwrap() error {
	return e.Err
}
