// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package tri

import (
	"os"
	"path/filepath"

	"gopkg.in/check.v1"
)

type schedulerSuite struct{}

var _ = check.Suite(&schedulerSuite{})

// TestSchedulerSkipsChromosomeX: "X" is
// never looked up in the chromosome->file map and never produces an
// output file, even though it's in the input chromosome list.
func (s *schedulerSuite) TestSchedulerSkipsChromosomeX(c *check.C) {
	const sampleCount, variantCount = 4, 4
	samples := []string{"s1", "s2", "s3", "s4"}
	vcfByChromosome := map[string]VariantFile{
		"21": NewMemReader("21", samples, balancedDosages(variantCount, sampleCount)),
		"22": NewMemReader("22", samples, balancedDosages(variantCount, sampleCount)),
	}
	outputDir := c.MkDir()
	ws := NewWorkspace(int64(sampleCount) * variantCount * float64size * 4)

	err := RunScheduler(ws, []string{"21", "22", "X"}, vcfByChromosome, outputDir, nil, 0)
	c.Assert(err, check.IsNil)

	_, statErr := os.Stat(filepath.Join(outputDir, fileName("21")))
	c.Check(statErr, check.IsNil)
	_, statErr = os.Stat(filepath.Join(outputDir, fileName("22")))
	c.Check(statErr, check.IsNil)
	_, statErr = os.Stat(filepath.Join(outputDir, fileName("X")))
	c.Check(os.IsNotExist(statErr), check.Equals, true)
}

// TestSchedulerRecomputesStaleCache: a
// pre-existing output whose stored samples differ from the current
// file's samples is recomputed and overwritten rather than adopted.
func (s *schedulerSuite) TestSchedulerRecomputesStaleCache(c *check.C) {
	const sampleCount, variantCount = 4, 4
	currentSamples := []string{"s1", "s2", "s3", "s4"}
	vcfByChromosome := map[string]VariantFile{
		"5": NewMemReader("5", currentSamples, balancedDosages(variantCount, sampleCount)),
	}
	outputDir := c.MkDir()
	path := filepath.Join(outputDir, fileName("5"))

	staleWS := NewWorkspace(100 * float64size)
	stale := makeTriangular(c, staleWS, "stale", "5", []string{"old1", "old2"}, [][]float64{{1, 2}, {3, 4}}, 99, 0)
	c.Assert(stale.ToFile(path), check.IsNil)

	ws := NewWorkspace(int64(sampleCount) * variantCount * float64size * 4)
	err := RunScheduler(ws, []string{"5"}, vcfByChromosome, outputDir, nil, 0)
	c.Assert(err, check.IsNil)

	ws2 := NewWorkspace(int64(sampleCount) * float64size * 4)
	got, err := TriangularFromFile(path, ws2)
	c.Assert(err, check.IsNil)
	c.Check(got.Samples, check.DeepEquals, currentSamples)
	c.Check(got.VariantCount, check.Equals, variantCount)
}

// TestSchedulerBarrierSerializes: two
// chromosomes whose combined required_size plus intermediate-R-factor
// overhead exceeds the arena, so the scheduler must run them one at a
// time rather than concurrently. The capacity admits either task alone
// but not both together, so the second task is held back until the
// first finishes; the test checks that both outputs are written.
func (s *schedulerSuite) TestSchedulerBarrierSerializes(c *check.C) {
	const sampleCount, variantCount = 2, 4
	samples := []string{"s1", "s2"}
	vcfByChromosome := map[string]VariantFile{
		"20": NewMemReader("20", samples, balancedDosages(variantCount, sampleCount)),
		"21": NewMemReader("21", samples, balancedDosages(variantCount, sampleCount)),
	}
	outputDir := c.MkDir()

	// required_size = S*V*8 = 64 bytes each. Admitting one task alone
	// needs required_size + 1*8*S^2 = 96 bytes; admitting a second
	// while one is running needs 2*8*S^2 = 64 bytes of overhead on top
	// of its own required_size, i.e. 128 bytes, more than this arena
	// holds outright.
	ws := NewWorkspace(96)

	err := RunScheduler(ws, []string{"20", "21"}, vcfByChromosome, outputDir, nil, 0)
	c.Assert(err, check.IsNil)

	_, statErr := os.Stat(filepath.Join(outputDir, fileName("20")))
	c.Check(statErr, check.IsNil)
	_, statErr = os.Stat(filepath.Join(outputDir, fileName("21")))
	c.Check(statErr, check.IsNil)
}
