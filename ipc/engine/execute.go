package engine

import (
	"fmt"
	"github.com/ValentinKolb/dIPC/ipc/parcel"
	"github.com/ValentinKolb/dIPC/ipc/protocol"
	"time"
)

// executeCommand handles one driver-initiated return record whose opcode was
// already consumed from in. The error, if any, is also kept as last error.
func (t *Thread) executeCommand(code protocol.Return) error {
	t.proc.metrics.commands.Mark(1)

	result := t.execute(code)
	if result != nil {
		t.lastError = result
	}
	return result
}

func (t *Thread) execute(code protocol.Return) error {
	switch code {
	case protocol.BRError:
		v, err := t.in.ReadInt32()
		if err != nil {
			return truncated(code, err)
		}
		return protocol.Status(v)

	case protocol.BROk, protocol.BRNoop:
		return nil

	case protocol.BRAcquire:
		ptr, cookie, n, err := t.readNodeRef(code)
		if err != nil {
			return err
		}
		n.incStrong()
		t.writePtrCookie(protocol.BCAcquireDone, ptr, cookie)
		return nil

	case protocol.BRRelease:
		_, _, n, err := t.readNodeRef(code)
		if err != nil {
			return err
		}
		t.pendingStrong = append(t.pendingStrong, n)
		return nil

	case protocol.BRIncRefs:
		ptr, cookie, n, err := t.readNodeRef(code)
		if err != nil {
			return err
		}
		n.incDriverWeak()
		t.writePtrCookie(protocol.BCIncRefsDone, ptr, cookie)
		return nil

	case protocol.BRDecRefs:
		_, _, n, err := t.readNodeRef(code)
		if err != nil {
			return err
		}
		t.pendingWeak = append(t.pendingWeak, n)
		return nil

	case protocol.BRAttemptAcquire:
		if _, err := t.in.ReadInt32(); err != nil { // priority
			return truncated(code, err)
		}
		if _, err := t.in.Next(4); err != nil { // padding
			return truncated(code, err)
		}
		_, _, n, err := t.readNodeRef(code)
		if err != nil {
			return err
		}
		success := n.attemptIncStrong()
		t.out.WriteUint32(uint32(protocol.BCAcquireResult))
		if success {
			t.out.WriteInt32(1)
		} else {
			t.out.WriteInt32(0)
		}
		return nil

	case protocol.BRTransaction:
		return t.handleTransaction()

	case protocol.BRDeadBinder:
		cookie, err := t.in.ReadUint64()
		if err != nil {
			return truncated(code, err)
		}
		if proxy, ok := t.proc.proxies.byCookie(cookie); ok {
			proxy.SendObituary(t)
		} else {
			Logger.Warningf("thread %d: %s for unknown cookie %#x", t.tid, code, cookie)
		}
		t.out.WriteUint32(uint32(protocol.BCDeadBinderDone))
		t.out.WriteUint64(cookie)
		return nil

	case protocol.BRClearDeathNotificationDone:
		cookie, err := t.in.ReadUint64()
		if err != nil {
			return truncated(code, err)
		}
		if proxy, ok := t.proc.proxies.byCookie(cookie); ok {
			proxy.DecWeak(t)
		} else {
			Logger.Warningf("thread %d: %s for unknown cookie %#x", t.tid, code, cookie)
		}
		return nil

	case protocol.BRFinished:
		return protocol.StatusTimedOut

	case protocol.BRSpawnLooper:
		t.proc.SpawnPooledThread(false)
		return nil

	default:
		return fmt.Errorf("%w: unknown command %s from driver", ErrProtocol, code)
	}
}

// readNodeRef reads the ptr/cookie pair of a reference command and resolves
// the local node it names.
func (t *Thread) readNodeRef(code protocol.Return) (uint64, uint64, *node, error) {
	ptr, err := t.in.ReadUint64()
	if err != nil {
		return 0, 0, nil, truncated(code, err)
	}
	cookie, err := t.in.ReadUint64()
	if err != nil {
		return 0, 0, nil, truncated(code, err)
	}
	n, ok := t.proc.nodes.lookup(cookie)
	if !ok || n.id != ptr {
		return ptr, cookie, nil, fmt.Errorf("%w: %s for unknown node ptr %#x cookie %#x", ErrProtocol, code, ptr, cookie)
	}
	return ptr, cookie, n, nil
}

func truncated(code protocol.Return, err error) error {
	return fmt.Errorf("%w: truncated %s: %v", ErrProtocol, code, err)
}

// handleTransaction serves one BR_TRANSACTION under the identity of its
// sender and replies unless the call is one-way.
func (t *Thread) handleTransaction() error {
	tr, err := t.readTransaction()
	if err != nil {
		return err
	}
	start := time.Now()
	t.proc.metrics.transactionIn.Inc()

	buffer, err := t.wrapTransaction(&tr)
	if err != nil {
		t.FreeBuffer(tr.DataBuffer)
		return err
	}

	origPid := t.callingPid
	origUid := t.callingUid
	origPolicy := t.strictPolicy
	origFlags := t.lastTransactionFlags

	t.callingPid = tr.SenderPID
	t.callingUid = tr.SenderEUID
	t.lastTransactionFlags = tr.Flags
	t.strictPolicy = 0

	origNice, clamped := 0, false
	if t.proc.config.DisableBackgroundScheduling {
		origNice, clamped = clampPriority(t.tid)
	}

	Logger.Debugf("thread %d: incoming transaction %s", t.tid, tr)
	reply := parcel.New()
	var result error
	if tr.Target != 0 {
		result = t.dispatchToNode(tr, buffer, reply)
	} else if ctx := t.proc.ContextObject(); ctx != nil {
		result = ctx.Transact(t, tr.Code, buffer, reply, tr.Flags)
	} else {
		result = protocol.StatusUnknownTransaction
	}

	t.callingPid = origPid
	t.callingUid = origUid
	t.strictPolicy = origPolicy
	t.lastTransactionFlags = origFlags
	if clamped {
		restorePriority(t.tid, origNice)
	}

	if tr.Flags&protocol.FlagOneWay == 0 {
		if err := t.sendReply(reply, 0, result); err != nil {
			Logger.Debugf("thread %d: sending reply failed: %v", t.tid, err)
		}
	} else if result != nil {
		Logger.Debugf("thread %d: one-way transaction %#x failed: %v", t.tid, tr.Code, result)
	}

	buffer.Recycle()
	reply.Recycle()
	t.proc.metrics.dispatch.UpdateSince(start)
	return nil
}

// dispatchToNode delivers a transaction to the local node it targets,
// holding a temporary strong reference for the duration of the call.
func (t *Thread) dispatchToNode(tr protocol.TransactionData, data, reply *parcel.Parcel) error {
	n, ok := t.proc.nodes.lookup(tr.Cookie)
	if !ok || n.id != tr.Target || !n.attemptIncStrong() {
		return protocol.StatusUnknownTransaction
	}
	defer n.decStrong()
	return n.binder.Transact(t, tr.Code, data, reply, tr.Flags)
}
