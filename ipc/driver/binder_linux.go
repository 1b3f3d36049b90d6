//go:build linux

package driver

import (
	"fmt"
	"github.com/ValentinKolb/dIPC/ipc/common"
	"github.com/ValentinKolb/dIPC/ipc/protocol"
	"golang.org/x/sys/unix"
	"runtime"
	"sync"
	"sync/atomic"
	"unsafe"
)

// Binder is the binder device of the calling process.
type Binder struct {
	fd     int
	device string
	vm     []byte // read-only mapping filled by the driver
	closed atomic.Bool
	mu     sync.Mutex // serializes Close
}

// Open opens the binder device named in config, checks the protocol
// version and maps the transaction buffer area. The pool size is set by the
// process created on top of it.
func Open(config common.ProcessConfig) (*Binder, error) {
	device := config.Device
	if device == "" {
		device = common.DefaultDevice
	}
	vmSize := config.VMSize
	if vmSize <= 0 {
		vmSize = protocol.DefaultVMSize
	}

	fd, err := unix.Open(device, unix.O_RDWR|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", device, err)
	}

	b := &Binder{fd: fd, device: device}

	version, err := b.Version()
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("failed to query binder version of %s: %w", device, err)
	}
	if version != protocol.CurrentProtocolVersion {
		unix.Close(fd)
		return nil, fmt.Errorf("binder driver protocol version %d does not match user space protocol version %d",
			version, protocol.CurrentProtocolVersion)
	}

	vm, err := unix.Mmap(fd, 0, vmSize, unix.PROT_READ, unix.MAP_PRIVATE|unix.MAP_NORESERVE)
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("failed to map %d bytes of %s: %w", vmSize, device, err)
	}
	b.vm = vm

	Logger.Infof("opened %s (protocol %d, %d KiB mapped)", device, version, vmSize/1024)
	return b, nil
}

// --------------------------------------------------------------------------
// Interface Methods (docu see driver.IDriver)
// --------------------------------------------------------------------------

func (b *Binder) WriteRead(write, read []byte) (int, int, error) {
	if b.closed.Load() {
		return 0, 0, unix.EBADF
	}

	bwr := protocol.WriteRead{
		WriteSize:   uint64(len(write)),
		WriteBuffer: b.Address(write),
		ReadSize:    uint64(len(read)),
		ReadBuffer:  b.Address(read),
	}

	var pinner runtime.Pinner
	defer pinner.Unpin()
	if len(write) > 0 {
		pinner.Pin(&write[0])
	}
	if len(read) > 0 {
		pinner.Pin(&read[0])
	}

	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(b.fd), uintptr(protocol.IoctlWriteRead), uintptr(unsafe.Pointer(&bwr)))
	if errno != 0 {
		return int(bwr.WriteConsumed), int(bwr.ReadConsumed), errno
	}
	return int(bwr.WriteConsumed), int(bwr.ReadConsumed), nil
}

func (b *Binder) SetMaxThreads(n uint32) error {
	if b.closed.Load() {
		return unix.EBADF
	}
	return b.setInt(protocol.IoctlSetMaxThreads, int(n))
}

func (b *Binder) SetContextManager() error {
	if b.closed.Load() {
		return unix.EBADF
	}
	return b.setInt(protocol.IoctlSetContextMgr, 0)
}

func (b *Binder) ThreadExit() error {
	if b.closed.Load() {
		return unix.EBADF
	}
	return b.setInt(protocol.IoctlThreadExit, 0)
}

// setInt issues an ioctl taking a pointer to an int argument.
func (b *Binder) setInt(req uint, v int) error {
	err := unix.IoctlSetPointerInt(b.fd, req, v)
	if err != nil {
		Logger.Debugf("%s(%d) on %s: %v", protocol.OpcodeName(uint32(req)), v, b.device, err)
	}
	return err
}

func (b *Binder) Version() (int32, error) {
	if b.closed.Load() {
		return 0, unix.EBADF
	}
	v, err := unix.IoctlGetUint32(b.fd, protocol.IoctlVersion)
	return int32(v), err
}

func (b *Binder) Address(p []byte) uint64 {
	if len(p) == 0 {
		return 0
	}
	return uint64(uintptr(unsafe.Pointer(unsafe.SliceData(p))))
}

func (b *Binder) Buffer(addr uint64, size uint64) ([]byte, error) {
	if size == 0 {
		return nil, nil
	}
	base := b.Address(b.vm)
	if addr < base || addr+size > base+uint64(len(b.vm)) || addr+size < addr {
		return nil, fmt.Errorf("buffer %#x+%d outside of the mapped area %#x+%d", addr, size, base, len(b.vm))
	}
	off := addr - base
	return b.vm[off : off+size : off+size], nil
}

// Close closes the device. Views returned by Buffer must not be used
// afterwards.
func (b *Binder) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed.Swap(true) {
		return nil
	}

	var firstErr error
	if b.vm != nil {
		if err := unix.Munmap(b.vm); err != nil {
			firstErr = fmt.Errorf("failed to unmap %s: %w", b.device, err)
		}
		b.vm = nil
	}
	if err := unix.Close(b.fd); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("failed to close %s: %w", b.device, err)
	}
	Logger.Infof("closed %s", b.device)
	return firstErr
}

func (b *Binder) Closed() bool {
	return b.closed.Load()
}
