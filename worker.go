// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package tri

import (
	"fmt"

	log "github.com/sirupsen/logrus"
)

// Worker runs the map-reduce driver for one chromosome in its own
// goroutine. A goroutine cannot be force-killed the way an OS process
// can; the scheduler's teardown path accounts for that by abandoning,
// rather than killing, a worker that outlives the grace period.
type Worker struct {
	Chromosome string
	File       VariantFile
	OutputPath string
	Cutoff     float64
	Sync       *TaskSyncCollection
	Workspace  *Workspace

	done chan struct{}
}

// NewWorker builds a worker for one chromosome, named deterministically
// by the chromosome it handles.
func NewWorker(chromosome string, file VariantFile, outputPath string, cutoff float64, sync *TaskSyncCollection, ws *Workspace) *Worker {
	return &Worker{
		Chromosome: chromosome,
		File:       file,
		OutputPath: outputPath,
		Cutoff:     cutoff,
		Sync:       sync,
		Workspace:  ws,
		done:       make(chan struct{}),
	}
}

// Start launches the worker's goroutine. It must be called at most once.
func (w *Worker) Start() {
	go w.run()
}

// Done returns a channel closed when the worker has finished, whether
// successfully or not.
func (w *Worker) Done() <-chan struct{} { return w.done }

func (w *Worker) run() {
	defer close(w.done)
	defer func() {
		if r := recover(); r != nil {
			w.Sync.ReportException(&WorkerFailure{Chromosome: w.Chromosome, Err: fmt.Errorf("panic: %v", r)})
		}
	}()
	log.Infof("triangularizing chromosome %s", w.Chromosome)

	tri, err := RunDriver(w.Workspace, w.File, w.Cutoff, w.Sync)
	if err != nil {
		w.Sync.ReportException(&WorkerFailure{Chromosome: w.Chromosome, Err: err})
		return
	}

	err = tri.ToFile(w.OutputPath)
	tri.Free()
	if err != nil {
		w.Sync.ReportException(&WorkerFailure{Chromosome: w.Chromosome, Err: err})
		return
	}

	// Admit the next task now that this one has finished and freed
	// its allocation.
	w.Sync.SetCanRun()
}
