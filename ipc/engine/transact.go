package engine

import (
	"fmt"
	"github.com/ValentinKolb/dIPC/ipc/parcel"
	"github.com/ValentinKolb/dIPC/ipc/protocol"
	"time"
)

// replyTarget is the handle written into BC_REPLY records; the driver
// routes replies by thread, not by target.
const replyTarget = 0xffffffff

// Transact sends a transaction to the remote handle and, unless flags has
// FlagOneWay, blocks until the reply arrives. The reply references driver
// memory; call Recycle on it to hand the memory back. One-way calls return
// a nil reply. It fails with ErrThreadClosed after Close and with
// ErrWrongThread off the thread's OS thread.
func (t *Thread) Transact(handle uint32, code uint32, data *parcel.Parcel, flags uint32) (*parcel.Parcel, error) {
	if err := t.checkUsable(); err != nil {
		return nil, err
	}
	if data == nil {
		data = parcel.New()
	}
	if err := data.Err(); err != nil {
		t.lastError = err
		return nil, err
	}

	flags |= protocol.FlagAcceptFDs
	Logger.Debugf("thread %d: transact handle %d code %#x flags %#x (%d bytes)", t.tid, handle, code, flags, data.DataSize())
	t.writeTransaction(protocol.BCTransaction, flags, handle, code, data, nil)
	t.proc.metrics.transactionOut.Inc()

	if flags&protocol.FlagOneWay != 0 {
		_, _, err := t.awaitReply(false, false)
		return nil, err
	}

	start := time.Now()
	reply, _, err := t.awaitReply(true, false)
	t.proc.metrics.transact.UpdateSince(start)
	return reply, err
}

// writeTransaction queues a BC_TRANSACTION or BC_REPLY record. With a
// non-nil status the payload is that status code instead of data.
func (t *Thread) writeTransaction(cmd protocol.Command, flags uint32, handle uint32, code uint32, data *parcel.Parcel, status *protocol.Status) {
	tr := protocol.TransactionData{
		Target: uint64(handle),
		Code:   code,
		Flags:  flags,
	}
	drv := t.proc.driver

	if status == nil {
		payload := data.Data()
		offsets := encodeOffsets(data.Objects())
		tr.DataSize = uint64(len(payload))
		tr.DataBuffer = drv.Address(payload)
		tr.OffsetsSize = uint64(len(offsets))
		tr.OffsetsBuffer = drv.Address(offsets)
		t.pin(payload)
		t.pin(offsets)
	} else {
		raw := make([]byte, protocol.StatusPayloadSize)
		protocol.ByteOrder.PutUint32(raw, uint32(*status))
		tr.Flags |= protocol.FlagStatusCode
		tr.DataSize = uint64(len(raw))
		tr.DataBuffer = drv.Address(raw)
		t.pin(raw)
	}

	t.out.WriteUint32(uint32(cmd))
	tr.Serialize(t.out.Extend(protocol.TransactionDataSize))
}

// sendReply answers the transaction being served with reply, or with the
// status code of err.
func (t *Thread) sendReply(reply *parcel.Parcel, flags uint32, err error) error {
	if err == nil {
		err = reply.Err()
	}
	if err != nil {
		status := protocol.StatusOf(err)
		t.writeTransaction(protocol.BCReply, flags, replyTarget, 0, nil, &status)
	} else {
		t.writeTransaction(protocol.BCReply, flags, replyTarget, 0, reply, nil)
	}
	_, _, werr := t.awaitReply(false, false)
	return werr
}

func encodeOffsets(objects []uint64) []byte {
	if len(objects) == 0 {
		return nil
	}
	raw := make([]byte, len(objects)*protocol.OffsetEntrySize)
	for i, off := range objects {
		protocol.ByteOrder.PutUint64(raw[i*protocol.OffsetEntrySize:], off)
	}
	return raw
}

func decodeOffsets(raw []byte) []uint64 {
	if len(raw) == 0 {
		return nil
	}
	out := make([]uint64, len(raw)/protocol.OffsetEntrySize)
	for i := range out {
		out[i] = protocol.ByteOrder.Uint64(raw[i*protocol.OffsetEntrySize:])
	}
	return out
}

// wrapTransaction builds a read-only parcel over the driver buffer of tr.
// Recycling the parcel queues BC_FREE_BUFFER on t.
func (t *Thread) wrapTransaction(tr *protocol.TransactionData) (*parcel.Parcel, error) {
	drv := t.proc.driver
	data, err := drv.Buffer(tr.DataBuffer, tr.DataSize)
	if err != nil {
		return nil, fmt.Errorf("%w: transaction data: %v", ErrProtocol, err)
	}
	rawOffsets, err := drv.Buffer(tr.OffsetsBuffer, tr.OffsetsSize)
	if err != nil {
		return nil, fmt.Errorf("%w: transaction offsets: %v", ErrProtocol, err)
	}
	addr := tr.DataBuffer
	return parcel.Wrap(data, decodeOffsets(rawOffsets), func() { t.FreeBuffer(addr) }), nil
}

// --------------------------------------------------------------------------
// Reply State Machine
// --------------------------------------------------------------------------

type replyState int

const (
	stateIdle replyState = iota
	stateSending
	stateAwaitingReply
	stateReplied
	stateDead
	stateFailed
)

var replyStateNames = [...]string{"idle", "sending", "awaiting reply", "replied", "dead", "failed"}

func (s replyState) String() string {
	if int(s) < len(replyStateNames) {
		return replyStateNames[s]
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// replyWait is one run of awaitReply.
type replyWait struct {
	t           *Thread
	state       replyState
	wantReply   bool
	wantAcquire bool

	reply    *parcel.Parcel
	acquired bool
	err      error
}

func (w *replyWait) done() bool {
	return w.state == stateReplied || w.state == stateDead || w.state == stateFailed
}

func (w *replyWait) finish(state replyState, err error) {
	w.state = state
	w.err = err
}

// awaitReply exchanges with the driver until the outstanding command is
// answered. Driver-initiated commands arriving meanwhile are executed in
// place. wantReply waits for BR_REPLY, wantAcquire for BR_ACQUIRE_RESULT;
// with neither, BR_TRANSACTION_COMPLETE ends the wait.
func (t *Thread) awaitReply(wantReply, wantAcquire bool) (*parcel.Parcel, bool, error) {
	w := &replyWait{t: t, state: stateSending, wantReply: wantReply, wantAcquire: wantAcquire}

	for !w.done() {
		if err := t.exchange(true); err != nil {
			w.finish(stateFailed, err)
			break
		}
		if t.out.Len() == 0 && w.state == stateSending {
			w.state = stateAwaitingReply
		}
		if t.in.Exhausted() {
			continue
		}

		code, err := t.in.ReadUint32()
		if err != nil {
			w.finish(stateFailed, fmt.Errorf("%w: %v", ErrProtocol, err))
			break
		}
		w.step(protocol.Return(code))
	}

	if w.err != nil {
		t.lastError = w.err
		Logger.Debugf("thread %d: wait ended %s: %v", t.tid, w.state, w.err)
	}
	return w.reply, w.acquired, w.err
}

func (w *replyWait) step(code protocol.Return) {
	Logger.Debugf("thread %d: %s while %s", w.t.tid, code, w.state)
	switch code {
	case protocol.BRTransactionComplete:
		w.onTransactionComplete()
	case protocol.BRDeadReply:
		w.onDeadReply()
	case protocol.BRFailedReply:
		w.onFailedReply()
	case protocol.BRAcquireResult:
		w.onAcquireResult()
	case protocol.BRReply:
		w.onReply()
	default:
		w.onCommand(code)
	}
}

func (w *replyWait) onTransactionComplete() {
	if !w.wantReply && !w.wantAcquire {
		w.finish(stateReplied, nil)
	}
}

func (w *replyWait) onDeadReply() {
	w.t.proc.metrics.deadReplies.Inc()
	w.finish(stateDead, protocol.StatusDeadObject)
}

func (w *replyWait) onFailedReply() {
	w.t.proc.metrics.failedReplies.Inc()
	w.finish(stateFailed, protocol.StatusFailedTransaction)
}

func (w *replyWait) onAcquireResult() {
	result, err := w.t.in.ReadInt32()
	if err != nil {
		w.finish(stateFailed, fmt.Errorf("%w: %s: %v", ErrProtocol, protocol.BRAcquireResult, err))
		return
	}
	if !w.wantAcquire {
		return
	}
	w.acquired = result != 0
	w.finish(stateReplied, nil)
}

func (w *replyWait) onReply() {
	t := w.t
	tr, err := t.readTransaction()
	if err != nil {
		w.finish(stateFailed, err)
		return
	}

	if !w.wantReply {
		t.FreeBuffer(tr.DataBuffer)
		return
	}

	if tr.Flags&protocol.FlagStatusCode != 0 {
		raw, err := t.proc.driver.Buffer(tr.DataBuffer, tr.DataSize)
		t.FreeBuffer(tr.DataBuffer)
		if err != nil || len(raw) < protocol.StatusPayloadSize {
			w.finish(stateFailed, fmt.Errorf("%w: status reply without status", ErrProtocol))
			return
		}
		status := protocol.Status(int32(protocol.ByteOrder.Uint32(raw)))
		if status == protocol.StatusOK {
			w.reply = parcel.New()
			w.finish(stateReplied, nil)
			return
		}
		w.finish(stateFailed, status)
		return
	}

	reply, err := t.wrapTransaction(&tr)
	if err != nil {
		t.FreeBuffer(tr.DataBuffer)
		w.finish(stateFailed, err)
		return
	}
	w.reply = reply
	w.finish(stateReplied, nil)
}

func (w *replyWait) onCommand(code protocol.Return) {
	if err := w.t.executeCommand(code); err != nil {
		w.finish(stateFailed, err)
	}
}

// readTransaction decodes the transaction record following a TRANSACTION or
// REPLY opcode.
func (t *Thread) readTransaction() (protocol.TransactionData, error) {
	var tr protocol.TransactionData
	raw, err := t.in.Next(protocol.TransactionDataSize)
	if err != nil {
		return tr, fmt.Errorf("%w: truncated transaction record: %v", ErrProtocol, err)
	}
	if err := tr.Deserialize(raw); err != nil {
		return tr, fmt.Errorf("%w: %v", ErrProtocol, err)
	}
	return tr, nil
}
