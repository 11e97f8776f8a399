// Package cmd implements the command-line interface of memjob.
//
// The package is organized into several subpackages:
//
//   - serve: Runs a storage with a demo workload and serves its metrics
//   - perf: Benchmarks the storage operations in-process
//   - util: Shared utilities for command-line processing and configuration (internal use)
//
// See memjob -help for a list of all commands.
package cmd
