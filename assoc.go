// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package tri

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/kshedden/gonpy"
	log "github.com/sirupsen/logrus"
)

// assocCmd is the "assoc" subcommand: per variant in a chromosome's
// variant file, it runs both a fast 2x2 chi-squared carrier test and a
// logistic-regression likelihood-ratio test against a null model of
// case/control status on principal components.
type assocCmd struct{}

func (cmd *assocCmd) RunCommand(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	var err error
	defer func() {
		if err != nil {
			fmt.Fprintf(stderr, "%s\n", err)
		}
	}()

	flags := flag.NewFlagSet("", flag.ContinueOnError)
	flags.SetOutput(stderr)
	vcfPath := flags.String("vcf", "", "variant `file` to test (.vcf or .vcf.gz)")
	phenoPath := flags.String("pheno", "", "phenotype `file`: sample\\tcase(0/1)\\ttraining(0/1)")
	pcaPath := flags.String("pca", "", "numpy `file` of principal component scores, one row per sample")
	components := flags.Int("components", 4, "number of leading principal components to use as covariates")
	mafCutoff := flags.Float64("maf", 0.05, "minor allele frequency cutoff")
	outputFilename := flags.String("o", "-", "output `file`")
	err = flags.Parse(args)
	if err == flag.ErrHelp {
		err = nil
		return 0
	} else if err != nil {
		return 2
	}
	if *vcfPath == "" || *phenoPath == "" || *pcaPath == "" {
		err = fmt.Errorf("tri assoc: -vcf, -pheno, and -pca are all required")
		return 2
	}

	vf, err := OpenVCFFile(*vcfPath)
	if err != nil {
		return 1
	}
	defer vf.Close()

	pheno, err := readPhenotypes(*phenoPath)
	if err != nil {
		return 1
	}
	pca, err := readPCAScores(*pcaPath)
	if err != nil {
		return 1
	}
	if len(pca) != len(vf.Samples()) {
		err = fmt.Errorf("tri assoc: pca file has %d rows, vcf has %d samples", len(pca), len(vf.Samples()))
		return 1
	}

	sampleInfo := make([]SampleInfo, len(vf.Samples()))
	for i, name := range vf.Samples() {
		p, ok := pheno[name]
		if !ok {
			err = fmt.Errorf("tri assoc: no phenotype entry for sample %q", name)
			return 1
		}
		sampleInfo[i] = SampleInfo{
			Name:          name,
			IsCase:        p.isCase,
			IsTraining:    p.isTraining,
			PCAComponents: pca[i][:*components],
		}
	}
	trainingCase := make([]bool, 0, len(sampleInfo))
	for _, si := range sampleInfo {
		if si.IsTraining {
			trainingCase = append(trainingCase, si.IsCase)
		}
	}

	log.Info("fitting null model")
	null, err := NewNullModel(sampleInfo, *components)
	if err != nil {
		return 1
	}

	var output io.WriteCloser
	if *outputFilename == "-" {
		output = nopCloser{os.Stdout}
	} else {
		output, err = os.OpenFile(*outputFilename, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
		if err != nil {
			return 1
		}
		defer output.Close()
	}
	w := bufio.NewWriter(output)
	fmt.Fprintln(w, "variant_index\tchisquare_pvalue\tglm_pvalue")

	// The loop below streams one variant column at a time, so the
	// arena only ever holds a single (S, 1) block.
	ws := NewWorkspace(int64(vf.SampleCount()) * float64size * 4)
	block, err := ws.Alloc("assoc-block", vf.SampleCount(), 1)
	if err != nil {
		return 1
	}
	predicate := MAFCutoff{Cutoff: *mafCutoff}.Accept
	dosage := make([]float64, vf.SampleCount())
	variantIndex := 0
	for {
		block.Transpose()
		written, rerr := vf.Read(block, func(d []float64) bool {
			copy(dosage, d)
			return predicate(d)
		})
		block.Transpose()
		if rerr != nil {
			err = rerr
			return 1
		}
		if written == 0 {
			break
		}

		carrier := make([]bool, len(dosage))
		for i, d := range dosage {
			carrier[i] = d >= 0.5
		}
		trainingCarrier := make([]bool, 0, len(trainingCase))
		for i, si := range sampleInfo {
			if si.IsTraining {
				trainingCarrier = append(trainingCarrier, carrier[i])
			}
		}
		chiP := carrierChiSquaredPvalue(trainingCarrier, trainingCase)
		glmP := null.Test(TrainingDosage(sampleInfo, dosage))
		fmt.Fprintf(w, "%d\t%g\t%g\n", variantIndex, chiP, glmP)
		variantIndex++
	}
	if err = w.Flush(); err != nil {
		return 1
	}
	if err = output.Close(); err != nil {
		return 1
	}
	return 0
}

type phenotype struct {
	isCase     bool
	isTraining bool
}

func readPhenotypes(path string) (map[string]phenotype, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	out := map[string]phenotype{}
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		fields := strings.Split(line, "\t")
		if len(fields) != 3 {
			return nil, fmt.Errorf("tri: %s: expected 3 tab-separated fields, got %d", path, len(fields))
		}
		isCase, err := strconv.ParseBool(fields[1])
		if err != nil {
			return nil, fmt.Errorf("tri: %s: case field: %w", path, err)
		}
		isTraining, err := strconv.ParseBool(fields[2])
		if err != nil {
			return nil, fmt.Errorf("tri: %s: training field: %w", path, err)
		}
		out[fields[0]] = phenotype{isCase: isCase, isTraining: isTraining}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// readPCAScores reads a numpy float64 array of shape (samples,
// components), as written by the "pca" subcommand.
func readPCAScores(path string) ([][]float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	r, err := gonpy.NewReader(f)
	if err != nil {
		return nil, err
	}
	flat, err := r.GetFloat64()
	if err != nil {
		return nil, err
	}
	if len(r.Shape) != 2 {
		return nil, fmt.Errorf("tri: %s: expected a 2-dimensional array, got shape %v", path, r.Shape)
	}
	rows, cols := r.Shape[0], r.Shape[1]
	out := make([][]float64, rows)
	for i := range out {
		out[i] = flat[i*cols : (i+1)*cols]
	}
	return out, nil
}
