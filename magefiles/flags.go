//go:build mage

// Copyright (c) 2026 Petar Djukic. All rights reserved.
// SPDX-License-Identifier: MIT

package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"

	"github.com/magefile/mage/sh"
)

// targetArgs holds command-line arguments that follow the mage target name.
// Mage only supports positional parameters, so init() moves everything
// after the target name here and targets parse it with flag.NewFlagSet.
//
// Example: "mage serve --dir ./work --port 8001" sets targetArgs to
// ["--dir", "./work", "--port", "8001"] and leaves os.Args as ["mage", "serve"].
var targetArgs []string

func init() {
	// Mage's os.Args layout: [binary] [mage-flags...] [target] [target-args...]
	if len(os.Args) < 2 {
		return
	}

	targetIdx := -1
	for i := 1; i < len(os.Args); i++ {
		if os.Args[i] == "--" {
			break
		}
		if len(os.Args[i]) > 0 && os.Args[i][0] != '-' {
			targetIdx = i
			break
		}
	}

	if targetIdx < 0 || targetIdx+1 >= len(os.Args) {
		return
	}

	targetArgs = os.Args[targetIdx+1:]
	os.Args = os.Args[:targetIdx+1]
}

// parseTargetFlags parses targetArgs into fs. On --help it prints usage and
// exits cleanly. On other parse errors it prints the error and exits with 1.
func parseTargetFlags(fs *flag.FlagSet) {
	err := fs.Parse(targetArgs)
	if err == nil {
		return
	}
	if errors.Is(err, flag.ErrHelp) {
		os.Exit(0)
	}
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}

// Serve runs the API server from source over a projects directory.
//
//	mage serve --dir ./work --port 8001 --log-level debug
func Serve() error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	dir := fs.String("dir", ".", "projects directory")
	port := fs.Int("port", 8000, "listen port")
	logLevel := fs.String("log-level", "info", "log level")
	parseTargetFlags(fs)

	return sh.RunV(binGo, "run", "-ldflags", ldflags(), cmdDir,
		"--log-level", *logLevel,
		"serve", *dir,
		"--port", strconv.Itoa(*port))
}
