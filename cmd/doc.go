// Package cmd implements the command-line interface of dIPC. It provides a
// small command tree to run a binder service and to call remote objects.
//
// The package is organized into several subpackages:
//
//   - serve: Commands for serving the echo service on a binder thread pool
//   - call: Commands for sending a single transaction to a remote handle
//   - util: Shared utilities for command-line processing and configuration (internal use)
//
// Every flag can also be set through an environment variable DIPC_<FLAG>
// (e.g. DIPC_MAX_THREADS=4) or a .env / .env.local file.
//
// See dipc -help for a list of all commands.
package cmd
