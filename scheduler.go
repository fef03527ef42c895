// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package tri

import (
	"os"
	"path/filepath"
	"sort"
	"time"

	log "github.com/sirupsen/logrus"
)

// schedulerTask pairs a not-yet-started Worker with the arena footprint
// it will need if run on the whole file, used only for admission
// ordering.
type schedulerTask struct {
	chromosome   string
	requiredSize int64
	worker       *Worker
	outputPath   string
}

// RunScheduler sizes, orders, and launches one Worker per chromosome
// (skipping "X") under the shared workspace's memory budget, admitting
// new workers only as room allows and draining them fairly in batches.
// It returns the first error raised by any worker, or a
// MissingOutputError if, after teardown, some expected output file is
// absent.
func RunScheduler(ws *Workspace, chromosomes []string, vcfByChromosome map[string]VariantFile, outputDir string, preexistingTriPaths []string, cutoff float64) (err error) {
	maxWorkers := len(chromosomes)
	if maxWorkers < 1 {
		maxWorkers = 1
	}
	sync := NewTaskSyncCollection(maxWorkers)
	sync.SetCanRun() // the first task may run immediately

	adopted := map[string]bool{}
	outputPaths := map[string]string{}

	checkTriPath := func(path string) bool {
		if _, statErr := os.Stat(path); statErr != nil {
			return false
		}
		existing, loadErr := TriangularFromFile(path, ws)
		if loadErr != nil {
			log.Warnf("tri: could not read existing %s: %s", path, loadErr)
			return false
		}
		vf, ok := vcfByChromosome[existing.Chromosome]
		matched := ok && sameSampleSet(existing.Samples, vf.Samples())
		existing.Free()
		if matched {
			adopted[existing.Chromosome] = true
			outputPaths[existing.Chromosome] = path
			log.Debugf("using existing triangularized file %s for chromosome %s", path, existing.Chromosome)
		} else {
			log.Warnf("will recompute tri file %s because samples do not match", path)
		}
		return matched
	}

	for _, path := range preexistingTriPaths {
		checkTriPath(path)
	}

	var tasks []*schedulerTask
	for _, chromosome := range chromosomes {
		if chromosome == "X" {
			continue
		}
		if adopted[chromosome] {
			continue
		}
		path := filepath.Join(outputDir, fileName(chromosome))
		outputPaths[chromosome] = path
		if checkTriPath(path) {
			continue
		}
		vf, ok := vcfByChromosome[chromosome]
		if !ok {
			return &MissingOutputError{Path: path}
		}
		requiredSize := int64(vf.SampleCount()) * int64(vf.VariantCount()) * float64size
		w := NewWorker(chromosome, vf, path, cutoff, sync, ws)
		tasks = append(tasks, &schedulerTask{chromosome: chromosome, requiredSize: requiredSize, worker: w, outputPath: path})
	}
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].requiredSize < tasks[j].requiredSize })
	log.Debugf("will run %d triangularize tasks", len(tasks))

	var running []*Worker
	barrier := true

	defer func() {
		sync.SetShouldExit()
		for _, w := range running {
			select {
			case <-w.Done():
			case <-time.After(time.Second):
				log.Warnf("worker for chromosome %s had not finished at teardown; abandoning it", w.Chromosome)
			}
		}
		if err != nil {
			return
		}
		for _, path := range outputPaths {
			if _, statErr := os.Stat(path); statErr != nil {
				err = &MissingOutputError{Path: path}
				return
			}
		}
	}()

admission:
	for {
		if f := sync.TryException(); f != nil {
			err = f
			break admission
		}

		running = pollRunning(running)

		if len(running) == 0 && len(tasks) == 0 {
			break admission
		}
		if len(running) == 0 {
			barrier = true
			time.Sleep(10 * time.Millisecond)
		}
		if !sync.CanRun() {
			continue
		}
		if len(tasks) == 0 {
			continue
		}
		if !barrier {
			continue
		}

		next := tasks[len(tasks)-1]
		sampleCount := int64(next.worker.File.SampleCount())
		extra := int64(len(running)+1) * float64size * sampleCount * sampleCount
		need := next.requiredSize + extra
		if need > ws.UnallocatedSize() && len(running) > 0 {
			barrier = false
			continue
		}

		tasks = tasks[:len(tasks)-1]
		next.worker.Start()
		running = append(running, next.worker)
		sync.ClearCanRun()
	}

	return err
}

// pollRunning waits, at most one second, for the first not-yet-finished
// worker in running, then returns the subset still running. The bounded
// wait doubles as the admission loop's poll interval.
func pollRunning(running []*Worker) []*Worker {
	for _, w := range running {
		select {
		case <-w.Done():
			continue
		default:
		}
		select {
		case <-w.Done():
		case <-time.After(time.Second):
		}
		break
	}
	still := running[:0]
	for _, w := range running {
		select {
		case <-w.Done():
		default:
			still = append(still, w)
		}
	}
	return still
}
