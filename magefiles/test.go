//go:build mage

// Copyright (c) 2026 Petar Djukic. All rights reserved.
// SPDX-License-Identifier: MIT

package main

import (
	"flag"
	"fmt"

	"github.com/magefile/mage/mg"
	"github.com/magefile/mage/sh"
)

// Test groups test targets (all, unit, race, cover).
type Test mg.Namespace

// All runs all tests.
func (Test) All() error {
	return sh.RunV(binGo, "test", "-v", "./...")
}

// Unit runs tests in short mode, skipping the slower file watcher and
// server round trips.
func (Test) Unit() error {
	return sh.RunV(binGo, "test", "-short", "./...")
}

// Race runs all tests with the race detector.
func (Test) Race() error {
	return sh.RunV(binGo, "test", "-race", "./...")
}

// Cover writes a coverage profile and prints the per-function summary.
//
//	mage test:cover --out cover.out
func (Test) Cover() error {
	fs := flag.NewFlagSet("test:cover", flag.ContinueOnError)
	out := fs.String("out", "cover.out", "coverage profile path")
	parseTargetFlags(fs)

	if err := sh.RunV(binGo, "test", "-coverprofile", *out, "./..."); err != nil {
		return err
	}
	summary, err := sh.Output(binGo, "tool", "cover", "-func", *out)
	if err != nil {
		return err
	}
	fmt.Println(summary)
	return nil
}
