package engine

import (
	"errors"
	"fmt"
	"github.com/ValentinKolb/dIPC/ipc/protocol"
	"golang.org/x/sys/unix"
)

// exchange performs one BINDER_WRITE_READ with the driver.
//
// A read is requested only if wantReceive is set and the last batch is fully
// consumed. The outgoing commands are written unless a read is wanted while
// unread input is still pending. With nothing to write and nothing to read
// no syscall is made. EINTR is retried with the part of the write the driver
// did not consume yet.
func (t *Thread) exchange(wantReceive bool) error {
	drv := t.proc.driver
	if drv.Closed() {
		return protocol.StatusBadDescriptor
	}

	needRead := t.in.Exhausted()
	var write, read []byte
	if !wantReceive || needRead {
		write = t.out.Bytes()
	}
	if wantReceive && needRead {
		read = t.in.Space()
	}
	if len(write) == 0 && len(read) == 0 {
		return nil
	}

	written, received := 0, 0
	for {
		w, r, err := drv.WriteRead(write[written:], read)
		written += w
		if err == nil {
			received = r
			break
		}
		if errors.Is(err, unix.EINTR) {
			continue
		}
		t.trimOut(written)
		return transportError(err)
	}
	if drv.Closed() {
		return protocol.StatusBadDescriptor
	}

	t.trimOut(written)
	if received > 0 {
		if err := t.in.Fill(received); err != nil {
			return fmt.Errorf("%w: %v", ErrProtocol, err)
		}
	}
	return nil
}

// trimOut drops the consumed prefix of out. Pinned payloads are released
// once everything was handed over.
func (t *Thread) trimOut(consumed int) {
	if consumed <= 0 {
		return
	}
	t.out.Discard(consumed)
	if t.out.Len() == 0 {
		t.pinner.Unpin()
	}
}

// pin keeps payload memory referenced from out in place until the driver
// consumed the command.
func (t *Thread) pin(b []byte) {
	if len(b) > 0 {
		t.pinner.Pin(&b[0])
	}
}

// FlushCommands hands all queued commands to the driver without waiting for
// input.
func (t *Thread) FlushCommands() error {
	if t.proc.driver.Closed() {
		return protocol.StatusBadDescriptor
	}
	return t.exchange(false)
}

func transportError(err error) error {
	var errno unix.Errno
	if errors.As(err, &errno) {
		return protocol.StatusFromErrno(errno)
	}
	var status protocol.Status
	if errors.As(err, &status) {
		return status
	}
	return fmt.Errorf("binder exchange failed: %w", err)
}
