package driver

import (
	"github.com/lni/dragonboat/v4/logger"
)

var Logger = logger.GetLogger("ipc/driver")

// --------------------------------------------------------------------------
// Interface Definition
// --------------------------------------------------------------------------

// IDriver is the kernel broker as seen by one process. It is shared by all
// threads of that process; implementations must be safe for concurrent use.
type IDriver interface {
	// WriteRead performs one blocking BINDER_WRITE_READ exchange. write holds
	// the outgoing command stream, read receives incoming return records. It
	// reports how many bytes of write were consumed and how many bytes of read
	// were filled. Errors are returned as unix.Errno, EINTR included.
	WriteRead(write, read []byte) (written, filled int, err error)
	// SetMaxThreads tells the driver how many pool threads it may request
	// through BR_SPAWN_LOOPER.
	SetMaxThreads(n uint32) error
	// SetContextManager registers the process as the context manager, the
	// owner of handle 0.
	SetContextManager() error
	// ThreadExit releases the driver state of the calling thread.
	ThreadExit() error
	// Version returns the driver protocol version.
	Version() (int32, error)
	// Address returns the address the driver must be given for memory b, or
	// 0 for an empty slice. b must stay alive until the driver consumed it.
	Address(b []byte) uint64
	// Buffer returns a view of size bytes of driver-owned memory at addr, as
	// referenced by incoming transaction records.
	Buffer(addr uint64, size uint64) ([]byte, error)
	// Close closes the driver connection. Every later exchange fails with
	// EBADF.
	Close() error
	// Closed reports whether Close was called.
	Closed() bool
}
