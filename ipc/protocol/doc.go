// Package protocol defines the binder kernel wire protocol spoken by the
// dIPC transaction engine. Every constant and record layout in this package
// matches the Linux binder UAPI (protocol version 8, 64-bit binder_size_t and
// binder_uintptr_t, little endian) so that the engine can talk to an unmodified
// kernel driver.
//
// The package focuses on:
//   - Command codes written by user space (BC_*) and return codes produced by
//     the driver (BR_*), including their human-readable names
//   - The fixed-shape payload records carried by those codes
//   - ioctl request numbers and the BINDER_WRITE_READ exchange unit
//   - Status codes exchanged inside STATUS_CODE replies and BR_ERROR payloads
//
// Key Components:
//
//   - Command / Return: Opcode types for the two disjoint opcode spaces. The
//     payload size of every opcode is encoded in the opcode itself (the ioctl
//     size field) and is available through PayloadSize.
//
//   - TransactionData: The 64-byte transaction record carried by TRANSACTION
//     and REPLY in both directions.
//
//   - Record: A decoded command or return record for any opcode. Used by the
//     simulated broker and for diagnostics; the engine itself reads and writes
//     payload fields directly from its buffers.
//
//   - FlatObject: The flattened object reference embedded in parcel payloads
//     and located through the offsets table.
//
//   - Status: The binder status_t codes, implementing the error interface.
package protocol
