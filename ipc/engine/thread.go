package engine

import (
	"github.com/ValentinKolb/dIPC/ipc/buffer"
	"github.com/ValentinKolb/dIPC/ipc/driver"
	"github.com/ValentinKolb/dIPC/ipc/protocol"
	"golang.org/x/sys/unix"
	"runtime"
)

// Thread is the binder state of one OS thread. All methods must be called
// from the goroutine that obtained it through Process.Self.
type Thread struct {
	proc  *Process
	tid   int
	start uint64 // start time of the OS thread, 0 if unknown

	out    *buffer.Buffer // commands not yet consumed by the driver
	in     *buffer.Buffer // latest return batch
	pinner runtime.Pinner // outgoing payloads referenced from out

	// calling identity of the transaction being served
	callingPid           int32
	callingUid           uint32
	strictPolicy         int32
	lastTransactionFlags uint32
	lastError            error

	// decrements deferred until in is exhausted
	pendingWeak   []*node
	pendingStrong []*node

	closed bool
}

func newThread(p *Process, tid int) *Thread {
	t := &Thread{
		proc:  p,
		tid:   tid,
		start: driver.ThreadStartTime(tid),
		out:   buffer.New(),
		in:    buffer.New(),
	}
	t.clearCaller()
	return t
}

// ID returns the kernel id of the OS thread.
func (t *Thread) ID() int { return t.tid }

// Process returns the process the thread belongs to.
func (t *Thread) Process() *Process { return t.proc }

// checkUsable fails if the thread was closed or is used off its OS thread.
func (t *Thread) checkUsable() error {
	if t.closed {
		return ErrThreadClosed
	}
	if driver.ThreadID() != t.tid {
		return ErrWrongThread
	}
	return nil
}

// current reports whether the OS thread with the thread's id is still the
// one the thread was created on.
func (t *Thread) current() bool {
	return t.start == 0 || driver.ThreadStartTime(t.tid) == t.start
}

// Close flushes pending commands, applies deferred dereferences, tells the
// driver the thread is gone and unlocks the goroutine from its OS thread.
func (t *Thread) Close() error {
	if t.closed {
		return nil
	}
	t.closed = true

	t.drainPending()
	if err := t.FlushCommands(); err != nil {
		Logger.Debugf("thread %d: flush on close: %v", t.tid, err)
	}

	var err error
	if !t.proc.driver.Closed() {
		err = t.proc.driver.ThreadExit()
	}
	t.pinner.Unpin()
	t.proc.forgetThread(t)
	Logger.Debugf("closed binder thread %d", t.tid)

	if driver.ThreadID() == t.tid {
		runtime.UnlockOSThread()
	}
	return err
}

// --------------------------------------------------------------------------
// Calling Identity
// --------------------------------------------------------------------------

func (t *Thread) clearCaller() {
	t.callingPid = int32(unix.Getpid())
	t.callingUid = uint32(unix.Getuid())
}

// CallingPid returns the pid of the process that sent the transaction being
// served, or the own pid outside of a transaction.
func (t *Thread) CallingPid() int32 { return t.callingPid }

// CallingUid returns the effective uid of the caller.
func (t *Thread) CallingUid() uint32 { return t.callingUid }

// ClearCallingIdentity replaces the calling identity with the own one and
// returns a token for RestoreCallingIdentity.
func (t *Thread) ClearCallingIdentity() int64 {
	token := int64(t.callingUid)<<32 | int64(uint32(t.callingPid))
	t.clearCaller()
	return token
}

// RestoreCallingIdentity restores an identity saved by ClearCallingIdentity.
func (t *Thread) RestoreCallingIdentity(token int64) {
	t.callingUid = uint32(token >> 32)
	t.callingPid = int32(token)
}

func (t *Thread) SetStrictModePolicy(policy int32) { t.strictPolicy = policy }

func (t *Thread) StrictModePolicy() int32 { return t.strictPolicy }

func (t *Thread) SetLastTransactionBinderFlags(flags uint32) { t.lastTransactionFlags = flags }

// LastTransactionBinderFlags returns the flags of the transaction being
// served.
func (t *Thread) LastTransactionBinderFlags() uint32 { return t.lastTransactionFlags }

// LastError returns the last error a call or command produced on this thread.
func (t *Thread) LastError() error { return t.lastError }

func (t *Thread) ClearLastError() { t.lastError = nil }

// --------------------------------------------------------------------------
// Reference Commands
// --------------------------------------------------------------------------

// IncStrongHandle queues BC_ACQUIRE for a remote handle.
func (t *Thread) IncStrongHandle(handle uint32) {
	t.writeHandleCommand(protocol.BCAcquire, handle)
}

// DecStrongHandle queues BC_RELEASE for a remote handle.
func (t *Thread) DecStrongHandle(handle uint32) {
	t.writeHandleCommand(protocol.BCRelease, handle)
}

// IncWeakHandle queues BC_INCREFS for a remote handle.
func (t *Thread) IncWeakHandle(handle uint32) {
	t.writeHandleCommand(protocol.BCIncRefs, handle)
}

// DecWeakHandle queues BC_DECREFS for a remote handle.
func (t *Thread) DecWeakHandle(handle uint32) {
	t.writeHandleCommand(protocol.BCDecRefs, handle)
}

// AttemptIncStrongHandle asks the driver to promote the weak reference on
// handle and waits for the answer. It fails with StatusInvalidOperation when
// the remote object has no strong references left.
func (t *Thread) AttemptIncStrongHandle(handle uint32) error {
	t.out.WriteUint32(uint32(protocol.BCAttemptAcquire))
	t.out.WriteInt32(0) // priority
	t.out.WriteUint32(handle)

	_, acquired, err := t.awaitReply(false, true)
	if err != nil {
		return err
	}
	if !acquired {
		return protocol.StatusInvalidOperation
	}
	return nil
}

// RequestDeathNotification queues BC_REQUEST_DEATH_NOTIFICATION.
func (t *Thread) RequestDeathNotification(handle uint32, cookie uint64) {
	t.writeHandleCookie(protocol.BCRequestDeathNotification, handle, cookie)
}

// ClearDeathNotification queues BC_CLEAR_DEATH_NOTIFICATION.
func (t *Thread) ClearDeathNotification(handle uint32, cookie uint64) {
	t.writeHandleCookie(protocol.BCClearDeathNotification, handle, cookie)
}

// FreeBuffer queues BC_FREE_BUFFER for a driver buffer.
func (t *Thread) FreeBuffer(addr uint64) {
	Logger.Debugf("thread %d: free buffer %#x", t.tid, addr)
	t.out.WriteUint32(uint32(protocol.BCFreeBuffer))
	t.out.WriteUint64(addr)
}

func (t *Thread) writeHandleCommand(cmd protocol.Command, handle uint32) {
	Logger.Debugf("thread %d: %s handle %d", t.tid, cmd, handle)
	t.out.WriteUint32(uint32(cmd))
	t.out.WriteUint32(handle)
}

func (t *Thread) writeHandleCookie(cmd protocol.Command, handle uint32, cookie uint64) {
	Logger.Debugf("thread %d: %s handle %d cookie %#x", t.tid, cmd, handle, cookie)
	t.out.WriteUint32(uint32(cmd))
	t.out.WriteUint32(handle)
	t.out.WriteUint64(cookie)
}

func (t *Thread) writePtrCookie(cmd protocol.Command, ptr, cookie uint64) {
	t.out.WriteUint32(uint32(cmd))
	t.out.WriteUint64(ptr)
	t.out.WriteUint64(cookie)
}
