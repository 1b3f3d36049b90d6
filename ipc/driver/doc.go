// Package driver connects the dIPC engine to the binder kernel driver.
//
// The package focuses on:
//   - A small interface over the handful of binder ioctls the engine needs
//   - Opening, version checking and memory mapping the binder device
//   - Translating between Go memory and the addresses the kernel sees
//
// Key Components:
//
//   - IDriver: The transport contract used by the engine. Besides the real
//     device it is implemented by drivertest.Broker, an in-process simulation
//     used in tests.
//
//   - Binder: The Linux implementation backed by a /dev/binder file
//     descriptor. WriteRead performs a single BINDER_WRITE_READ ioctl and
//     returns the raw errno, including EINTR, so that the caller decides on
//     retries. Incoming payloads are views into the read-only mapping the
//     driver fills; they stay valid until the engine frees them with
//     BC_FREE_BUFFER.
package driver
