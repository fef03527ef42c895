// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package tri

import (
	"bufio"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/klauspost/pgzip"
	"golang.org/x/crypto/blake2b"
)

// Triangular is the per-chromosome lower-triangular R-factor, row-
// permuted back to sample order, persisted for later SVD and
// null-model estimation.
type Triangular struct {
	view                       *View
	Chromosome                 string
	Samples                    []string
	VariantCount               int
	MinorAlleleFrequencyCutoff float64
}

// SampleCount returns S, the number of rows/columns of the triangular
// matrix.
func (t *Triangular) SampleCount() int { return t.view.Rows() }

// View exposes the underlying workspace view.
func (t *Triangular) View() *View { return t.view }

// Free releases the underlying workspace allocation.
func (t *Triangular) Free() error {
	return t.view.ws.Free(t.view.name)
}

func fileName(chromosome string) string {
	return fmt.Sprintf("chr%s.tri.txt.gz", chromosome)
}

// ToFile writes a gzip-compressed text serialization of t to path,
// sufficient to reconstruct both the S x S matrix and its metadata.
// Floats are written with 17 significant digits so the round trip
// through TriangularFromFile is bit-exact.
func (t *Triangular) ToFile(path string) (err error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()
	gz := pgzip.NewWriter(f)
	defer func() {
		if cerr := gz.Close(); err == nil {
			err = cerr
		}
	}()
	w := bufio.NewWriter(gz)
	defer func() {
		if ferr := w.Flush(); err == nil {
			err = ferr
		}
	}()

	fmt.Fprintf(w, "chromosome\t%s\n", t.Chromosome)
	fmt.Fprintf(w, "variant_count\t%d\n", t.VariantCount)
	fmt.Fprintf(w, "maf_cutoff\t%s\n", strconv.FormatFloat(t.MinorAlleleFrequencyCutoff, 'g', 17, 64))
	fmt.Fprintf(w, "samples\t%s\n", strings.Join(t.Samples, ","))
	n := t.SampleCount()
	fmt.Fprintf(w, "shape\t%d\t%d\n", n, n)
	fmt.Fprintf(w, "checksum\t%s\n", hex.EncodeToString(checksumView(t.view)))
	row := make([]float64, n)
	for i := 0; i < n; i++ {
		row = t.view.Row(i, row)
		for j, x := range row {
			if j > 0 {
				w.WriteByte('\t')
			}
			w.WriteString(strconv.FormatFloat(x, 'g', 17, 64))
		}
		w.WriteByte('\n')
	}
	return nil
}

// checksumView hashes a view's payload, row by row in logical order, so
// ToFile/TriangularFromFile can detect a truncated or corrupted
// artifact on read rather than silently handing back a damaged matrix.
func checksumView(v *View) []byte {
	h, _ := blake2b.New256(nil)
	buf := make([]byte, 8)
	row := make([]float64, v.Cols())
	for i := 0; i < v.Rows(); i++ {
		row = v.Row(i, row)
		for _, x := range row {
			binary.LittleEndian.PutUint64(buf, math.Float64bits(x))
			h.Write(buf)
		}
	}
	return h.Sum(nil)
}

// TriangularFromFile reads back a Triangular written by ToFile,
// allocating its matrix in ws.
func TriangularFromFile(path string, ws *Workspace) (t *Triangular, err error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()
	gz, err := pgzip.NewReader(f)
	if err != nil {
		return nil, err
	}
	defer gz.Close()

	sc := bufio.NewScanner(gz)
	sc.Buffer(make([]byte, 1<<16), 1<<30)

	readLine := func(prefix string) (string, error) {
		if !sc.Scan() {
			if err := sc.Err(); err != nil {
				return "", err
			}
			return "", io.ErrUnexpectedEOF
		}
		line := sc.Text()
		if !strings.HasPrefix(line, prefix) {
			return "", fmt.Errorf("tri: expected %q header, got %q", prefix, line)
		}
		return strings.TrimPrefix(line, prefix), nil
	}

	chromosome, err := readLine("chromosome\t")
	if err != nil {
		return nil, err
	}
	variantCountStr, err := readLine("variant_count\t")
	if err != nil {
		return nil, err
	}
	variantCount, err := strconv.Atoi(variantCountStr)
	if err != nil {
		return nil, err
	}
	mafStr, err := readLine("maf_cutoff\t")
	if err != nil {
		return nil, err
	}
	maf, err := strconv.ParseFloat(mafStr, 64)
	if err != nil {
		return nil, err
	}
	samplesStr, err := readLine("samples\t")
	if err != nil {
		return nil, err
	}
	samples := strings.Split(samplesStr, ",")
	shapeStr, err := readLine("shape\t")
	if err != nil {
		return nil, err
	}
	var rows, cols int
	if _, err := fmt.Sscanf(shapeStr, "%d\t%d", &rows, &cols); err != nil {
		return nil, fmt.Errorf("tri: bad shape line: %w", err)
	}
	checksumStr, err := readLine("checksum\t")
	if err != nil {
		return nil, err
	}
	wantChecksum, err := hex.DecodeString(checksumStr)
	if err != nil {
		return nil, fmt.Errorf("tri: bad checksum line: %w", err)
	}

	name := fmt.Sprintf("%s-from-file", fileName(chromosome))
	view, err := ws.Alloc(name, rows, cols)
	if err != nil {
		return nil, err
	}
	for i := 0; i < rows; i++ {
		if !sc.Scan() {
			if err := sc.Err(); err != nil {
				return nil, err
			}
			return nil, io.ErrUnexpectedEOF
		}
		fields := strings.Split(sc.Text(), "\t")
		if len(fields) != cols {
			return nil, fmt.Errorf("tri: row %d has %d columns, want %d", i, len(fields), cols)
		}
		for j, field := range fields {
			x, err := strconv.ParseFloat(field, 64)
			if err != nil {
				return nil, fmt.Errorf("tri: row %d col %d: %w", i, j, err)
			}
			view.Set(i, j, x)
		}
	}
	if got := checksumView(view); hex.EncodeToString(got) != hex.EncodeToString(wantChecksum) {
		return nil, fmt.Errorf("tri: %s: checksum mismatch, file may be corrupted", path)
	}

	return &Triangular{
		view:                       view,
		Chromosome:                 chromosome,
		Samples:                    samples,
		VariantCount:               variantCount,
		MinorAlleleFrequencyCutoff: maf,
	}, nil
}

// SubsetSamples reduces t to the given subsequence of samples,
// physically moving the selected columns into the leading positions
// and shrinking the logical width. Golub and Van Loan (1996) section
// 12.5.2 restores triangularity here with Givens rotations; since this
// result is only ever used for SVD, t simply drops the rest of the
// columns and is no longer triangular afterward. Idempotent when
// samples already equals t.Samples.
func (t *Triangular) SubsetSamples(samples []string) error {
	if sameStrings(samples, t.Samples) {
		return nil
	}
	index := make(map[string]int, len(t.Samples))
	for i, s := range t.Samples {
		index[s] = i
	}
	cols := make([]int, len(samples))
	for i, s := range samples {
		j, ok := index[s]
		if !ok {
			return fmt.Errorf("tri: sample %q not present in triangular", s)
		}
		cols[i] = j
	}

	n := t.SampleCount()
	tmp := make([]float64, len(samples))
	for i := 0; i < n; i++ {
		for k, j := range cols {
			tmp[k] = t.view.At(i, j)
		}
		for k, x := range tmp {
			t.view.Set(i, k, x)
		}
	}
	if err := t.view.Resize(n, len(samples)); err != nil {
		return err
	}
	t.Samples = samples
	return nil
}

func sameStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// sameSampleSet reports whether a and b contain the same samples,
// ignoring order: cache reuse treats a reordering of the same sample
// set as a match.
func sameSampleSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	set := make(map[string]struct{}, len(a))
	for _, s := range a {
		set[s] = struct{}{}
	}
	for _, s := range b {
		if _, ok := set[s]; !ok {
			return false
		}
	}
	return true
}
