// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package tri

import (
	"flag"
	"fmt"
	"io"
	"os"
	"runtime/debug"

	"github.com/mattn/go-isatty"
	"github.com/sirupsen/logrus"
)

// Handler is the contract every subcommand implements.
type Handler interface {
	RunCommand(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int
}

// multiHandler dispatches on args[0].
type multiHandler map[string]Handler

func (m multiHandler) RunCommand(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprintf(stderr, "usage: %s {tri|pca|assoc|version} ...\n", prog)
		return 2
	}
	h, ok := m[args[0]]
	if !ok {
		fmt.Fprintf(stderr, "%s: unknown subcommand %q\n", prog, args[0])
		return 2
	}
	return h.RunCommand(prog+" "+args[0], args[1:], stdin, stdout, stderr)
}

type versionHandler struct{}

func (versionHandler) RunCommand(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	fmt.Fprintln(stdout, "tri (GWAS triangularization scheduler)")
	return 0
}

var handler = multiHandler{
	"version":   versionHandler{},
	"-version":  versionHandler{},
	"--version": versionHandler{},
	"tri":       &triCmd{},
	"pca":       &pcaCmd{},
	"assoc":     &assocCmd{},
}

func init() {
	if os.Getenv("GOGC") == "" {
		debug.SetGCPercent(30)
	}
}

// Main is the process entry point: configures logging (plain text, no
// timestamps, when stderr is not a terminal) and dispatches to a
// subcommand.
func Main() {
	if !isatty.IsTerminal(os.Stderr.Fd()) {
		logrus.StandardLogger().Formatter = &logrus.TextFormatter{DisableTimestamp: true}
	}
	os.Exit(handler.RunCommand(os.Args[0], os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

// stringList accumulates repeated occurrences of a flag into a slice,
// e.g. -vcf a.vcf.gz -vcf b.vcf.gz.
type stringList []string

func (s *stringList) String() string { return fmt.Sprint([]string(*s)) }
func (s *stringList) Set(v string) error {
	*s = append(*s, v)
	return nil
}

// triCmd is the "tri" subcommand: open one variant file per
// chromosome and run the admission scheduler (C8) over all of them.
type triCmd struct{}

func (cmd *triCmd) RunCommand(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	var err error
	defer func() {
		if err != nil {
			fmt.Fprintf(stderr, "%s\n", err)
		}
	}()

	flags := flag.NewFlagSet("", flag.ContinueOnError)
	flags.SetOutput(stderr)
	var vcfPaths stringList
	var triPaths stringList
	flags.Var(&vcfPaths, "vcf", "variant `file` for one chromosome (repeatable)")
	flags.Var(&triPaths, "tri", "pre-existing triangularized `file` to try to reuse (repeatable)")
	outputDir := flags.String("output-dir", ".", "output `directory` for chr*.tri.txt.gz files")
	maf := flags.Float64("maf", 0.05, "minor allele frequency cutoff")
	arenaBytes := flags.Int64("arena-bytes", 1<<31, "shared workspace capacity in bytes")
	err = flags.Parse(args)
	if err == flag.ErrHelp {
		err = nil
		return 0
	} else if err != nil {
		return 2
	}
	if len(vcfPaths) == 0 {
		err = fmt.Errorf("tri tri: at least one -vcf is required")
		return 2
	}

	vcfByChromosome := map[string]VariantFile{}
	var chromosomes []string
	for _, path := range vcfPaths {
		vf, openErr := OpenVCFFile(path)
		if openErr != nil {
			err = openErr
			return 1
		}
		vcfByChromosome[vf.Chromosome()] = vf
		chromosomes = append(chromosomes, vf.Chromosome())
		defer vf.Close()
	}

	ws := NewWorkspace(*arenaBytes)
	err = RunScheduler(ws, chromosomes, vcfByChromosome, *outputDir, triPaths, *maf)
	if err != nil {
		return 1
	}
	return 0
}
