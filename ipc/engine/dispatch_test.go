//go:build linux

package engine

import (
	"github.com/ValentinKolb/dIPC/ipc/common"
	"github.com/ValentinKolb/dIPC/ipc/parcel"
	"github.com/ValentinKolb/dIPC/ipc/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
	"testing"
)

// recorder is a context object that records what it sees while serving a
// call and answers with a fixed reply or error.
type recorder struct {
	calls     int
	code      uint32
	flags     uint32
	callerPid int32
	callerUid uint32
	callFlags uint32
	payload   string
	replyWith string
	failWith  error
}

func (r *recorder) Transact(t *Thread, code uint32, data, reply *parcel.Parcel, flags uint32) error {
	r.calls++
	r.code = code
	r.flags = flags
	r.callerPid = t.CallingPid()
	r.callerUid = t.CallingUid()
	r.callFlags = t.LastTransactionBinderFlags()
	r.payload, _ = data.ReadString()
	if r.failWith != nil {
		return r.failWith
	}
	reply.WriteString(r.replyWith)
	return nil
}

func TestIncomingTransaction(t *testing.T) {
	p, b := newTestProcess(t, common.ProcessConfig{})
	th := newTestThread(t, p)
	ctx := &recorder{replyWith: "pong"}
	p.SetContextObject(ctx)

	tr := b.NewTransaction(0, 0, 42, stringParcel("ping").Data(), 0, 1234, 1000)
	b.Queue(tr)
	require.NoError(t, th.getAndExecute())

	assert.Equal(t, 1, ctx.calls)
	assert.Equal(t, uint32(42), ctx.code)
	assert.Equal(t, "ping", ctx.payload)
	assert.Equal(t, int32(1234), ctx.callerPid)
	assert.Equal(t, uint32(1000), ctx.callerUid)

	// identity is restored once the call is served
	assert.Equal(t, int32(unix.Getpid()), th.CallingPid())
	assert.Equal(t, uint32(unix.Getuid()), th.CallingUid())

	replies := sentOf(b, protocol.BCReply)
	require.Len(t, replies, 1)
	assert.Equal(t, uint64(replyTarget), replies[0].Record.Transaction.Target)
	assert.Zero(t, replies[0].Record.Transaction.Flags&protocol.FlagStatusCode)
	assert.Equal(t, stringParcel("pong").Data(), replies[0].Data)

	// the transaction buffer is handed back with the next exchange
	assert.Empty(t, b.Freed())
	require.NoError(t, th.FlushCommands())
	assert.Equal(t, []uint64{tr.Transaction.DataBuffer}, b.Freed())
	assert.Zero(t, b.LiveBuffers())
}

func TestIncomingTransactionStatus(t *testing.T) {
	tests := []struct {
		name    string
		context IBinder
		target  uint64
		want    protocol.Status
	}{
		{"handler error", &recorder{failWith: protocol.StatusPermissionDenied}, 0, protocol.StatusPermissionDenied},
		{"plain error", &recorder{failWith: assert.AnError}, 0, protocol.StatusUnknownError},
		{"no context object", nil, 0, protocol.StatusUnknownTransaction},
		{"unknown node", &recorder{}, 0x9990, protocol.StatusUnknownTransaction},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, b := newTestProcess(t, common.ProcessConfig{})
			th := newTestThread(t, p)
			if tt.context != nil {
				p.SetContextObject(tt.context)
			}

			b.Queue(b.NewTransaction(tt.target, tt.target, 1, nil, 0, 1, 1))
			require.NoError(t, th.getAndExecute())

			replies := sentOf(b, protocol.BCReply)
			require.Len(t, replies, 1)
			tr := replies[0].Record.Transaction
			assert.NotZero(t, tr.Flags&protocol.FlagStatusCode)
			require.Len(t, replies[0].Data, protocol.StatusPayloadSize)
			assert.Equal(t, tt.want, protocol.Status(int32(protocol.ByteOrder.Uint32(replies[0].Data))))
		})
	}
}

func TestIncomingOneWay(t *testing.T) {
	p, b := newTestProcess(t, common.ProcessConfig{})
	th := newTestThread(t, p)
	ctx := &recorder{failWith: protocol.StatusBadValue}
	p.SetContextObject(ctx)

	b.Queue(b.NewTransaction(0, 0, 3, stringParcel("note").Data(), protocol.FlagOneWay, 1, 1))
	require.NoError(t, th.getAndExecute())
	require.NoError(t, th.FlushCommands())

	assert.Equal(t, 1, ctx.calls)
	assert.Equal(t, protocol.FlagOneWay, ctx.flags)
	assert.Equal(t, protocol.FlagOneWay, ctx.callFlags)
	assert.Empty(t, sentOf(b, protocol.BCReply), "one-way calls are not answered")
	assert.Equal(t, []protocol.Command{protocol.BCFreeBuffer}, b.Commands())
	assert.Zero(t, th.LastTransactionBinderFlags())
}

func TestDispatchToLocalNode(t *testing.T) {
	p, b := newTestProcess(t, common.ProcessConfig{})
	th := newTestThread(t, p)
	local := &localObject{proc: p}
	obj := p.FlattenBinder(local)

	b.Queue(
		refRecord(protocol.BRIncRefs, obj),
		refRecord(protocol.BRAcquire, obj),
		b.NewTransaction(obj.Binder, obj.Cookie, 77, nil, 0, 1, 1),
	)
	executeBatch(t, th, nil)

	require.Equal(t, []int32{2}, local.observed, "dispatch holds a temporary strong reference")
	strong, _, _ := p.NodeRefs(local)
	assert.Equal(t, int32(1), strong)

	replies := sentOf(b, protocol.BCReply)
	require.Len(t, replies, 1)
	reply := parcel.Wrap(replies[0].Data, nil, nil)
	code, err := reply.ReadUint32()
	require.NoError(t, err)
	assert.Equal(t, uint32(77), code)
}

func TestNestedCallKeepsIdentity(t *testing.T) {
	p, b := newTestProcess(t, common.ProcessConfig{})
	th := newTestThread(t, p)
	b.Responder = replyWith("inner")

	var seenPid int32
	var inner string
	p.SetContextObject(binderFunc(func(t *Thread, code uint32, data, reply *parcel.Parcel, flags uint32) error {
		res, err := t.Transact(8, 1, nil, 0)
		if err != nil {
			return err
		}
		defer res.Recycle()
		inner, _ = res.ReadString()
		seenPid = t.CallingPid()
		return nil
	}))

	b.Queue(b.NewTransaction(0, 0, 1, nil, 0, 555, 10))
	require.NoError(t, th.getAndExecute())
	assert.Equal(t, "inner", inner)
	assert.Equal(t, int32(555), seenPid, "outgoing calls keep the identity of the served caller")
	assert.Equal(t, int32(unix.Getpid()), th.CallingPid())
}

func TestDeadBinderForUnknownCookie(t *testing.T) {
	p, b := newTestProcess(t, common.ProcessConfig{})
	th := newTestThread(t, p)

	b.Queue(protocol.Record{Code: uint32(protocol.BRDeadBinder), Cookie: 0xabc0})
	require.NoError(t, th.getAndExecute())
	require.NoError(t, th.FlushCommands())

	sent := sentOf(b, protocol.BCDeadBinderDone)
	require.Len(t, sent, 1)
	assert.Equal(t, uint64(0xabc0), sent[0].Record.Cookie)
}

type binderFunc func(t *Thread, code uint32, data, reply *parcel.Parcel, flags uint32) error

func (f binderFunc) Transact(t *Thread, code uint32, data, reply *parcel.Parcel, flags uint32) error {
	return f(t, code, data, reply, flags)
}
