package protocol

import "encoding/binary"

// ByteOrder is the byte order of every multi-byte field on the wire. Binder
// uses native order; dIPC supports the little endian targets binder ships on.
var ByteOrder = binary.LittleEndian

// CurrentProtocolVersion is the BINDER_CURRENT_PROTOCOL_VERSION of the 64-bit
// protocol. The driver reports it through BINDER_VERSION.
const CurrentProtocolVersion int32 = 8

// DefaultVMSize is the size of the read-only mapping over which the driver
// delivers incoming transaction payloads (1 MiB minus two pages).
const DefaultVMSize = 1024*1024 - 4096*2

// DefaultMaxThreads is the default upper bound of driver-requested pool threads.
const DefaultMaxThreads uint32 = 15

// ioctl request numbers on the binder device ('b' type byte).
const (
	IoctlWriteRead       = 0xc0306201 // _IOWR('b', 1, struct binder_write_read)
	IoctlSetIdleTimeout  = 0x40086203 // _IOW('b', 3, __s64)
	IoctlSetMaxThreads   = 0x40046205 // _IOW('b', 5, __u32)
	IoctlSetIdlePriority = 0x40046206 // _IOW('b', 6, __s32)
	IoctlSetContextMgr   = 0x40046207 // _IOW('b', 7, __s32)
	IoctlThreadExit      = 0x40046208 // _IOW('b', 8, __s32)
	IoctlVersion         = 0xc0046209 // _IOWR('b', 9, struct binder_version)
)

// IoctlNames maps ioctl request numbers to their kernel header names for logging.
var IoctlNames = map[uint32]string{
	IoctlWriteRead:       "BINDER_WRITE_READ",
	IoctlSetIdleTimeout:  "BINDER_SET_IDLE_TIMEOUT",
	IoctlSetMaxThreads:   "BINDER_SET_MAX_THREADS",
	IoctlSetIdlePriority: "BINDER_SET_IDLE_PRIORITY",
	IoctlSetContextMgr:   "BINDER_SET_CONTEXT_MGR",
	IoctlThreadExit:      "BINDER_THREAD_EXIT",
	IoctlVersion:         "BINDER_VERSION",
}

// Record sizes in bytes.
const (
	WriteReadSize       = 48
	TransactionDataSize = 64
	FlatObjectSize      = 24
	PtrCookieSize       = 16
	PriPtrCookieSize    = 24
	HandleCookieSize    = 12
	PriDescSize         = 8
	OffsetEntrySize     = 8
	StatusPayloadSize   = 4
)

// maxTransactionPayload bounds the sizes accepted from a decoded record.
const maxTransactionPayload = 1 << 30

// WriteRead is struct binder_write_read, the unit passed to a single
// BINDER_WRITE_READ ioctl. Its field order and sizes are the kernel's.
type WriteRead struct {
	WriteSize     uint64 // bytes available in WriteBuffer
	WriteConsumed uint64 // bytes consumed by the driver
	WriteBuffer   uint64 // user address of the outgoing command stream
	ReadSize      uint64 // bytes available in ReadBuffer
	ReadConsumed  uint64 // bytes filled by the driver
	ReadBuffer    uint64 // user address of the incoming return stream
}
