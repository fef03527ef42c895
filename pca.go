// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package tri

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	"net/http"
	_ "net/http/pprof"
	"os"

	"github.com/james-bowman/nlp"
	"github.com/kshedden/gonpy"
	log "github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/mat"
)

// pcaCmd is the "pca" subcommand: it loads the per-chromosome
// triangular R-factors written by the "tri" subcommand, stacks them
// side by side into one (samples, chromosomes*samples) matrix, and
// runs james-bowman/nlp's truncated SVD-based PCA over it, writing
// the component scores as a numpy array. X^T X for the whole genome
// is the sum of R_c^T R_c over chromosomes c, so the stacked
// R-factors carry exactly the second-moment information a
// principal-component decomposition needs, without ever reassembling
// a raw dosage matrix.
type pcaCmd struct{}

func (cmd *pcaCmd) RunCommand(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	var err error
	defer func() {
		if err != nil {
			fmt.Fprintf(stderr, "%s\n", err)
		}
	}()

	flags := flag.NewFlagSet("", flag.ContinueOnError)
	flags.SetOutput(stderr)
	pprof := flags.String("pprof", "", "serve Go profile data at http://`[addr]:port`")
	outputFilename := flags.String("o", "-", "output `file`")
	components := flags.Int("components", 4, "number of principal components")
	arenaBytes := flags.Int64("arena-bytes", 1<<30, "shared workspace capacity in bytes")
	err = flags.Parse(args)
	if err == flag.ErrHelp {
		err = nil
		return 0
	} else if err != nil {
		return 2
	}
	triPaths := flags.Args()
	if len(triPaths) == 0 {
		err = fmt.Errorf("tri pca: at least one chr*.tri.txt.gz path is required")
		return 2
	}

	if *pprof != "" {
		go func() {
			log.Println(http.ListenAndServe(*pprof, nil))
		}()
	}

	ws := NewWorkspace(*arenaBytes)
	var triangulars []*Triangular
	for _, path := range triPaths {
		log.Infof("reading %s", path)
		t, terr := TriangularFromFile(path, ws)
		if terr != nil {
			err = terr
			return 1
		}
		triangulars = append(triangulars, t)
	}
	for i := 1; i < len(triangulars); i++ {
		if !sameSampleSet(triangulars[0].Samples, triangulars[i].Samples) {
			err = fmt.Errorf("tri pca: %s and %s do not share the same samples", triPaths[0], triPaths[i])
			return 1
		}
	}

	names := make([]string, len(triangulars))
	for i, t := range triangulars {
		names[i] = t.View().Name()
	}
	log.Info("merging per-chromosome factors")
	merged, err := ws.Merge(names...)
	if err != nil {
		return 1
	}

	log.Info("fitting PCA")
	dense := viewToDense(merged)
	mtx := mat.Matrix(dense.T())
	transformer := nlp.NewPCA(*components)
	transformer.Fit(mtx)
	mtx, err = transformer.Transform(mtx)
	if err != nil {
		return 1
	}
	mtx = mtx.T()

	rows, cols := mtx.Dims()
	log.Infof("copying result to numpy output array: %d rows, %d cols", rows, cols)
	out := make([]float64, rows*cols)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			out[i*cols+j] = mtx.At(i, j)
		}
	}

	var output io.WriteCloser
	if *outputFilename == "-" {
		output = nopCloser{stdout}
	} else {
		output, err = os.OpenFile(*outputFilename, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
		if err != nil {
			return 1
		}
		defer output.Close()
	}
	bufw := bufio.NewWriter(output)
	npw, err := gonpy.NewWriter(nopCloser{bufw})
	if err != nil {
		return 1
	}
	npw.Shape = []int{rows, cols}
	if err = npw.WriteFloat64(out); err != nil {
		return 1
	}
	if err = bufw.Flush(); err != nil {
		return 1
	}
	if err = output.Close(); err != nil {
		return 1
	}
	log.Info("done")
	return 0
}

// viewToDense copies a workspace view into a gonum dense matrix, for
// hand-off to libraries that expect mat.Matrix rather than our arena.
func viewToDense(v *View) *mat.Dense {
	rows, cols := v.Rows(), v.Cols()
	data := make([]float64, rows*cols)
	row := make([]float64, cols)
	for i := 0; i < rows; i++ {
		row = v.Row(i, row)
		copy(data[i*cols:(i+1)*cols], row)
	}
	return mat.NewDense(rows, cols, data)
}

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }
