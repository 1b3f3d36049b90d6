// Package common provides the configuration structures and the logging setup
// shared by the dIPC engine, its driver backends and the command line tool.
//
// The package focuses on:
//   - Configuration structures for a binder process and for single calls
//   - Custom logging implementation integrated with Dragonboat's logger package
//
// Key Components:
//
//   - ProcessConfig: Everything needed to open the binder device and run the
//     thread pool: device path, mapping size, pool size, context manager
//     registration, scheduling, logging and metrics settings.
//
//   - CallConfig: Parameters of a single outgoing transaction issued by the
//     command line tool.
//
//   - Logger: Custom logging implementation that plugs into Dragonboat's
//     logger factory so that every package logs with the same format.
package common
