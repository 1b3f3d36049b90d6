// Package engine implements the per-thread binder transaction engine of
// dIPC: the component that turns local calls into the BC_* command stream,
// interprets the BR_* return stream, tracks cross-process object lifetime and
// runs the pool of threads that serve incoming calls.
//
// The package focuses on:
//   - One Thread per OS thread, created lazily and owning all per-thread
//     state (command buffers, calling identity, deferred dereferences)
//   - Blocking BINDER_WRITE_READ exchanges with EINTR retry and consumed
//     byte reconciliation
//   - Outgoing calls and an explicit reply state machine
//   - Dispatch of driver-initiated commands: incoming transactions, strong and
//     weak reference changes, death notifications, pool control
//   - A bounded thread pool with starvation detection
//
// Key Components:
//
//   - Process: Process-wide state shared by all threads: the driver, the pool
//     bookkeeping guarded by one mutex and condition variable, the table of
//     local nodes, the table of remote proxies and the metrics.
//
//   - Thread: The engine instance of one OS thread. Obtained with
//     Process.Self and released with Thread.Close, never shared. Transact
//     issues calls, JoinThreadPool turns the thread into a pool worker.
//
//   - IBinder: The capability every dispatch target exposes. Local objects
//     implement it directly; *Proxy implements it for remote handles.
//
//   - Node table: Local objects known to the driver are addressed by an
//     integer id that is sent as binder ptr and cookie. Strong and weak
//     counts live in the table; promotion is the only way to obtain a strong
//     reference for a dispatch.
//
// Reference decrements announced by the driver (BR_RELEASE, BR_DECREFS) are
// deferred until the current return batch is fully consumed, so that an
// object never loses its last reference while commands referencing it are
// still being processed.
package engine
