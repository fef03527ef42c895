// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package tri

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/klauspost/compress/gzip"
)

// Predicate decides whether a variant's dosages (length sampleCount)
// should be kept.
type Predicate func(dosages []float64) bool

// MAFCutoff accepts a variant iff min(p, 1-p) >= Cutoff, where p is the
// per-variant allele frequency computed from its dosages.
type MAFCutoff struct {
	Cutoff float64
}

// Accept implements Predicate.
func (m MAFCutoff) Accept(dosages []float64) bool {
	var sum float64
	for _, d := range dosages {
		sum += d
	}
	p := sum / float64(2*len(dosages))
	maf := p
	if 1-p < maf {
		maf = 1 - p
	}
	return maf >= m.Cutoff
}

// VariantFile is the capability interface exposed by a variant-file
// back-end: metadata accessors plus a block read of dosages. Two
// interchangeable back-ends implement it: VCFReader is the reference
// (disk, gzip-aware) back-end and MemReader is the fast (pre-decoded,
// in-memory) back-end used by tests and synthetic runs.
type VariantFile interface {
	SampleCount() int
	VariantCount() int
	Samples() []string
	Chromosome() string
	FilePath() string
	// VariantIndices returns the indices (within the file, 0-based)
	// of variants this reader will ever yield, in file order.
	VariantIndices() []int
	// Read fills buffer (an (S, V_block) view, in transposed
	// orientation, i.e. Rows() == V_block, Cols() == S) with
	// dosages of consecutive not-yet-read variants that satisfy
	// predicate, one per row, and returns how many rows were
	// written. Rejected variants are skipped and reading goes on
	// with the next one until the buffer is full, so a row count
	// below buffer.Rows() means the file is exhausted.
	Read(buffer *View, predicate Predicate) (int, error)
	Close() error
}

// VCFReader is the reference back-end: a streaming, line-oriented VCF
// parser. It supports plain text and gzip-compressed (.vcf.gz) input.
type VCFReader struct {
	path         string
	file         *os.File
	gz           *gzip.Reader
	scanner      *bufio.Scanner
	samples      []string
	chromosome   string
	sampleCount  int
	variantCount int
	indices      []int
}

// OpenVCFFile opens path as a scoped resource: it reads the header,
// then performs a cheap independent pre-count of data lines so
// VariantCount is known before the first Read.
func OpenVCFFile(path string) (*VCFReader, error) {
	count, chromosome, err := countVCFVariants(path)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	r, closer, err := vcfDecompress(f, path)
	if err != nil {
		f.Close()
		return nil, err
	}
	var rd io.Reader = f
	if r != nil {
		rd = r
	}
	sc := bufio.NewScanner(rd)
	sc.Buffer(make([]byte, 1<<16), 1<<28)
	samples, err := scanVCFHeader(sc)
	if err != nil {
		closer()
		f.Close()
		return nil, err
	}

	indices := make([]int, count)
	for i := range indices {
		indices[i] = i
	}

	return &VCFReader{
		path:         path,
		file:         f,
		gz:           r,
		scanner:      sc,
		samples:      samples,
		chromosome:   chromosome,
		sampleCount:  len(samples),
		variantCount: count,
		indices:      indices,
	}, nil
}

func vcfDecompress(f *os.File, path string) (*gzip.Reader, func(), error) {
	if !strings.HasSuffix(path, ".gz") {
		return nil, func() {}, nil
	}
	gz, err := gzip.NewReader(f)
	if err != nil {
		return nil, nil, err
	}
	return gz, func() { gz.Close() }, nil
}

func scanVCFHeader(sc *bufio.Scanner) ([]string, error) {
	for sc.Scan() {
		line := sc.Text()
		if strings.HasPrefix(line, "##") {
			continue
		}
		if strings.HasPrefix(line, "#CHROM") {
			fields := strings.Split(line, "\t")
			if len(fields) <= 9 {
				return nil, fmt.Errorf("tri: VCF header has no sample columns")
			}
			return fields[9:], nil
		}
		return nil, fmt.Errorf("tri: expected #CHROM header line, got %q", line)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return nil, fmt.Errorf("tri: VCF file has no #CHROM header line")
}

func countVCFVariants(path string) (count int, chromosome string, err error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, "", err
	}
	defer f.Close()
	r, closer, err := vcfDecompress(f, path)
	if err != nil {
		return 0, "", err
	}
	defer closer()

	var rd io.Reader = f
	if r != nil {
		rd = r
	}
	sc := bufio.NewScanner(rd)
	sc.Buffer(make([]byte, 1<<16), 1<<28)
	seenHeader := false
	for sc.Scan() {
		line := sc.Text()
		if strings.HasPrefix(line, "#") {
			seenHeader = seenHeader || strings.HasPrefix(line, "#CHROM")
			continue
		}
		if chromosome == "" {
			if tab := strings.IndexByte(line, '\t'); tab > 0 {
				chromosome = line[:tab]
			}
		}
		count++
	}
	if err := sc.Err(); err != nil {
		return 0, "", err
	}
	if !seenHeader {
		return 0, "", fmt.Errorf("tri: %s: no #CHROM header line", path)
	}
	return count, chromosome, nil
}

func (r *VCFReader) SampleCount() int      { return r.sampleCount }
func (r *VCFReader) VariantCount() int     { return r.variantCount }
func (r *VCFReader) Samples() []string     { return r.samples }
func (r *VCFReader) Chromosome() string    { return r.chromosome }
func (r *VCFReader) FilePath() string      { return r.path }
func (r *VCFReader) VariantIndices() []int { return r.indices }

// Read implements VariantFile.
func (r *VCFReader) Read(buffer *View, predicate Predicate) (int, error) {
	dosages := make([]float64, r.sampleCount)
	written := 0
	for written < buffer.Rows() {
		if !r.scanner.Scan() {
			if err := r.scanner.Err(); err != nil {
				return written, err
			}
			break
		}
		fields := strings.Split(r.scanner.Text(), "\t")
		if len(fields) < 9+r.sampleCount {
			return written, fmt.Errorf("tri: variant line has %d fields, want at least %d", len(fields), 9+r.sampleCount)
		}
		formatKeys := strings.Split(fields[8], ":")
		for i, sampleField := range fields[9 : 9+r.sampleCount] {
			dosages[i] = parseDosage(sampleField, formatKeys)
		}
		if !predicate(dosages) {
			continue
		}
		buffer.SetRow(written, dosages)
		written++
	}
	return written, nil
}

// parseDosage extracts a dosage in [0,2] from one VCF sample field. It
// prefers an explicit DS subfield (the dosage already estimated by an
// upstream imputation tool) and otherwise derives a hard-call dosage
// from GT by counting non-reference alleles.
func parseDosage(sampleField string, formatKeys []string) float64 {
	parts := strings.Split(sampleField, ":")
	for i, key := range formatKeys {
		if key != "DS" || i >= len(parts) {
			continue
		}
		if ds, err := strconv.ParseFloat(parts[i], 64); err == nil {
			return ds
		}
	}
	gt := parts[0]
	gt = strings.NewReplacer("|", "/").Replace(gt)
	alleles := strings.Split(gt, "/")
	dosage := 0.0
	for _, a := range alleles {
		if a != "0" && a != "." {
			dosage++
		}
	}
	return dosage
}

// Close releases the underlying file handles.
func (r *VCFReader) Close() error {
	if r.gz != nil {
		r.gz.Close()
	}
	return r.file.Close()
}

// MemReader is the fast back-end: a pre-decoded, in-memory dosage
// matrix (variants x samples), used by tests and by synthetic data
// generation so the scheduler and TSQR code can run without touching
// disk. It satisfies the same VariantFile interface as VCFReader.
type MemReader struct {
	chromosome string
	samples    []string
	dosages    [][]float64 // [variant][sample]
	cursor     int
}

// NewMemReader builds a fast in-memory back-end from a pre-decoded
// dosage matrix.
func NewMemReader(chromosome string, samples []string, dosages [][]float64) *MemReader {
	return &MemReader{chromosome: chromosome, samples: samples, dosages: dosages}
}

func (r *MemReader) SampleCount() int   { return len(r.samples) }
func (r *MemReader) VariantCount() int  { return len(r.dosages) }
func (r *MemReader) Samples() []string  { return r.samples }
func (r *MemReader) Chromosome() string { return r.chromosome }
func (r *MemReader) FilePath() string   { return fmt.Sprintf("<memory:chr%s>", r.chromosome) }

func (r *MemReader) VariantIndices() []int {
	idx := make([]int, len(r.dosages))
	for i := range idx {
		idx[i] = i
	}
	return idx
}

func (r *MemReader) Read(buffer *View, predicate Predicate) (int, error) {
	written := 0
	for written < buffer.Rows() && r.cursor < len(r.dosages) {
		dosages := r.dosages[r.cursor]
		r.cursor++
		if !predicate(dosages) {
			continue
		}
		buffer.SetRow(written, dosages)
		written++
	}
	return written, nil
}

func (r *MemReader) Close() error { return nil }
