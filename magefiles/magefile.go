//go:build mage

// Package main provides build targets for the tether project using Mage.
//
// Usage:
//
//	mage build     Compile all packages
//	mage test      Run all tests
//	mage testRace  Run all tests with the race detector
//	mage cover     Run tests with a coverage profile
//	mage lint      Run golangci-lint
//	mage clean     Remove build artifacts
package main

import (
	"os"

	"github.com/magefile/mage/sh"
)

const coverProfile = "coverage.out"

// Build compiles all packages.
func Build() error {
	return sh.RunV("go", "build", "./...")
}

// Test runs all tests.
func Test() error {
	return sh.RunV("go", "test", "./...")
}

// TestRace runs all tests with the race detector. The project is a
// concurrency primitive; this is the target CI should run.
func TestRace() error {
	return sh.RunV("go", "test", "-race", "./...")
}

// Cover runs tests with a coverage profile and prints the summary.
func Cover() error {
	if err := sh.RunV("go", "test", "-coverprofile", coverProfile, "./..."); err != nil {
		return err
	}
	return sh.RunV("go", "tool", "cover", "-func", coverProfile)
}

// Lint runs golangci-lint.
func Lint() error {
	return sh.RunV("golangci-lint", "run", "./...")
}

// Clean removes build artifacts.
func Clean() error {
	if err := os.Remove(coverProfile); err != nil && !os.IsNotExist(err) {
		return err
	}
	return sh.RunV("go", "clean")
}
