//go:build mage

// Copyright (c) 2026 Petar Djukic. All rights reserved.
// SPDX-License-Identifier: MIT

// Package main provides build targets for fira using Mage.
//
// Usage:
//
//	mage build           Compile the fira binary to bin/
//	mage install         Install fira to GOPATH/bin
//	mage clean           Remove build artifacts
//	mage test:all        Run all tests
//	mage test:unit       Run tests in short mode
//	mage test:race       Run all tests with the race detector
//	mage test:cover      Write a coverage profile (--out cover.out)
//	mage lint            Run golangci-lint
//	mage vet             Run go vet
//	mage serve           Serve a projects directory (--dir, --port)
//	mage stats           Print Go LOC and documentation word counts
package main

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/magefile/mage/mg"
	"github.com/magefile/mage/sh"
)

const (
	binGo      = "go"
	binLint    = "golangci-lint"
	binaryName = "fira"
	binaryDir  = "bin"
	cmdDir     = "./cmd/fira"
	modulePath = "github.com/mesh-intelligence/fira"
)

// version returns the build version: FIRA_VERSION, else the latest git
// tag, else "dev".
func version() string {
	if v := os.Getenv("FIRA_VERSION"); v != "" {
		return v
	}
	out, err := sh.Output("git", "describe", "--tags", "--always", "--dirty")
	if err != nil || out == "" {
		return "dev"
	}
	return strings.TrimPrefix(out, "v")
}

func ldflags() string {
	return "-X " + modulePath + "/internal/cli.Version=" + version()
}

// Build compiles the fira binary to bin/.
func Build() error {
	if err := os.MkdirAll(binaryDir, 0o755); err != nil {
		return err
	}
	return sh.RunV(binGo, "build", "-v", "-ldflags", ldflags(), "-o", filepath.Join(binaryDir, binaryName), cmdDir)
}

// Clean removes build artifacts.
func Clean() error {
	if err := os.RemoveAll(binaryDir); err != nil {
		return err
	}
	return sh.RunV(binGo, "clean")
}

// Install builds and copies the binary to GOPATH/bin.
func Install() error {
	mg.Deps(Build)
	gopath, err := sh.Output(binGo, "env", "GOPATH")
	if err != nil {
		return err
	}
	src := filepath.Join(binaryDir, binaryName)
	dst := filepath.Join(gopath, "bin", binaryName)
	return sh.Copy(dst, src)
}
