// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package tri

import (
	"os"

	"gopkg.in/check.v1"
)

type triangularSuite struct{}

var _ = check.Suite(&triangularSuite{})

func makeTriangular(c *check.C, ws *Workspace, name string, chromosome string, samples []string, rows [][]float64, variantCount int, cutoff float64) *Triangular {
	v, err := ws.Alloc(name, len(rows), len(rows[0]))
	c.Assert(err, check.IsNil)
	fillView(v, rows)
	return &Triangular{
		view:                       v,
		Chromosome:                 chromosome,
		Samples:                    samples,
		VariantCount:               variantCount,
		MinorAlleleFrequencyCutoff: cutoff,
	}
}

// TestTriangularFileRoundTrip exercises C3's to_file/from_file pair:
// every field, including the float payload, must survive intact.
func (s *triangularSuite) TestTriangularFileRoundTrip(c *check.C) {
	samples := []string{"s1", "s2", "s3"}
	rows := [][]float64{
		{1.0 / 3, 0, 0},
		{0.123456789012345, 2.0 / 7, 0},
		{-1.5, 4.0, 9.999999999999998},
	}
	ws := NewWorkspace(100 * float64size)
	t := makeTriangular(c, ws, "a", "11", samples, rows, 42, 0.01)

	path := c.MkDir() + "/chr11.tri.txt.gz"
	c.Assert(t.ToFile(path), check.IsNil)

	ws2 := NewWorkspace(100 * float64size)
	got, err := TriangularFromFile(path, ws2)
	c.Assert(err, check.IsNil)

	c.Check(got.Chromosome, check.Equals, "11")
	c.Check(got.Samples, check.DeepEquals, samples)
	c.Check(got.VariantCount, check.Equals, 42)
	c.Check(got.MinorAlleleFrequencyCutoff, check.Equals, 0.01)
	c.Check(got.SampleCount(), check.Equals, 3)
	for i, row := range rows {
		c.Check(got.View().Row(i, nil), check.DeepEquals, row)
	}
}

// TestTriangularFileCorruption exercises the checksum guard: bytes
// flipped in the file after writing must be caught on read (either as
// a gzip-level error or, if the stream still decompresses, as a
// checksum mismatch) rather than silently handed back.
func (s *triangularSuite) TestTriangularFileCorruption(c *check.C) {
	samples := []string{"s1", "s2"}
	rows := [][]float64{{1, 2}, {3, 4}}
	ws := NewWorkspace(20 * float64size)
	t := makeTriangular(c, ws, "a", "1", samples, rows, 5, 0)

	path := c.MkDir() + "/chr1.tri.txt.gz"
	c.Assert(t.ToFile(path), check.IsNil)

	data, err := os.ReadFile(path)
	c.Assert(err, check.IsNil)
	c.Assert(len(data) > 20, check.Equals, true)
	corrupted := append([]byte{}, data...)
	corrupted[len(corrupted)-10] ^= 0xff
	c.Assert(os.WriteFile(path, corrupted, 0644), check.IsNil)

	ws2 := NewWorkspace(20 * float64size)
	_, err = TriangularFromFile(path, ws2)
	c.Check(err, check.NotNil)
}

// TestSubsetSamplesIdempotent exercises C3's stated invariant: calling
// SubsetSamples with the current sample list is a no-op.
func (s *triangularSuite) TestSubsetSamplesIdempotent(c *check.C) {
	samples := []string{"s1", "s2", "s3"}
	rows := [][]float64{{1, 2, 3}, {4, 5, 6}, {7, 8, 9}}
	ws := NewWorkspace(20 * float64size)
	t := makeTriangular(c, ws, "a", "1", samples, rows, 3, 0)

	c.Assert(t.SubsetSamples(append([]string{}, samples...)), check.IsNil)
	c.Check(t.Samples, check.DeepEquals, samples)
	for i, row := range rows {
		c.Check(t.View().Row(i, nil), check.DeepEquals, row)
	}
}

// TestSubsetSamplesReorders exercises the actual column move: picking
// a reordered subset must physically relocate columns to the front.
func (s *triangularSuite) TestSubsetSamplesReorders(c *check.C) {
	samples := []string{"s1", "s2", "s3"}
	rows := [][]float64{{1, 2, 3}, {4, 5, 6}, {7, 8, 9}}
	ws := NewWorkspace(20 * float64size)
	t := makeTriangular(c, ws, "a", "1", samples, rows, 3, 0)

	c.Assert(t.SubsetSamples([]string{"s3", "s1"}), check.IsNil)
	c.Check(t.Samples, check.DeepEquals, []string{"s3", "s1"})
	c.Check(t.View().Cols(), check.Equals, 2)
	c.Check(t.View().Row(0, nil), check.DeepEquals, []float64{3, 1})
	c.Check(t.View().Row(1, nil), check.DeepEquals, []float64{6, 4})
	c.Check(t.View().Row(2, nil), check.DeepEquals, []float64{9, 7})
}

func (s *triangularSuite) TestSameSampleSetIgnoresOrder(c *check.C) {
	c.Check(sameSampleSet([]string{"a", "b", "c"}, []string{"c", "a", "b"}), check.Equals, true)
	c.Check(sameSampleSet([]string{"a", "b"}, []string{"a", "c"}), check.Equals, false)
	c.Check(sameSampleSet([]string{"a", "b"}, []string{"a", "b", "c"}), check.Equals, false)
}
