//go:build linux

package engine

import (
	"github.com/ValentinKolb/dIPC/ipc/common"
	"github.com/ValentinKolb/dIPC/ipc/driver/drivertest"
	"github.com/ValentinKolb/dIPC/ipc/parcel"
	"github.com/ValentinKolb/dIPC/ipc/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"math/rand"
	"testing"
)

// localObject is a local binder that records reference callbacks and the
// counts observed while serving a call.
type localObject struct {
	firstRefs   int
	lastStrongs int
	observed    []int32
	proc        *Process
}

func (o *localObject) Transact(t *Thread, code uint32, data, reply *parcel.Parcel, flags uint32) error {
	if o.proc != nil {
		strong, _, _ := o.proc.NodeRefs(o)
		o.observed = append(o.observed, strong)
	}
	reply.WriteUint32(code)
	return nil
}

func (o *localObject) OnFirstRef() { o.firstRefs++ }

func (o *localObject) OnLastStrongRef() { o.lastStrongs++ }

func refRecord(code protocol.Return, obj protocol.FlatObject) protocol.Record {
	return protocol.Record{Code: uint32(code), Ptr: obj.Binder, Cookie: obj.Cookie}
}

// executeBatch reads one batch and executes every record in it without
// draining deferred decrements. check runs after each record.
func executeBatch(t *testing.T, th *Thread, check func()) {
	t.Helper()
	require.NoError(t, th.getAndExecute())
	if check != nil {
		check()
	}
	for !th.in.Exhausted() {
		require.NoError(t, th.getAndExecute())
		if check != nil {
			check()
		}
	}
}

func TestDeferredReleaseWithinBatch(t *testing.T) {
	p, b := newTestProcess(t, common.ProcessConfig{})
	th := newTestThread(t, p)
	local := &localObject{}
	obj := p.FlattenBinder(local)

	b.Queue(refRecord(protocol.BRIncRefs, obj))
	executeBatch(t, th, nil)
	th.drainPending()

	b.Queue(refRecord(protocol.BRAcquire, obj), refRecord(protocol.BRRelease, obj))
	executeBatch(t, th, nil)

	strong, weak, ok := p.NodeRefs(local)
	require.True(t, ok)
	assert.Equal(t, int32(1), strong, "release is deferred until the batch is consumed")
	assert.Equal(t, int32(2), weak)
	assert.Equal(t, 1, local.firstRefs)
	assert.Zero(t, local.lastStrongs)

	th.drainPending()
	strong, weak, ok = p.NodeRefs(local)
	require.True(t, ok)
	assert.Zero(t, strong)
	assert.Equal(t, int32(1), weak)
	assert.Equal(t, 1, local.lastStrongs)

	require.NoError(t, th.FlushCommands())
	assert.Equal(t, []protocol.Command{protocol.BCIncRefsDone, protocol.BCAcquireDone}, b.Commands())
	done := b.Sent()[1].Record
	assert.Equal(t, obj.Binder, done.Ptr)
	assert.Equal(t, obj.Cookie, done.Cookie)
}

func TestDecRefsRemovesNode(t *testing.T) {
	p, b := newTestProcess(t, common.ProcessConfig{})
	th := newTestThread(t, p)
	local := &localObject{}
	obj := p.FlattenBinder(local)
	assert.Equal(t, 1, p.Nodes())

	b.Queue(refRecord(protocol.BRIncRefs, obj), refRecord(protocol.BRDecRefs, obj))
	executeBatch(t, th, nil)
	assert.Equal(t, 1, p.Nodes())

	th.drainPending()
	assert.Zero(t, p.Nodes())
	_, _, ok := p.NodeRefs(local)
	assert.False(t, ok)

	// a new flatten registers a fresh node
	again := p.FlattenBinder(local)
	assert.NotEqual(t, obj.Binder, again.Binder)
}

func TestTransactionBeforeIncRefs(t *testing.T) {
	p, b := newTestProcess(t, common.ProcessConfig{})
	th := newTestThread(t, p)
	local := &localObject{proc: p}
	obj := p.FlattenBinder(local)

	b.Queue(b.NewTransaction(obj.Binder, obj.Cookie, 5, nil, 0, 1, 1))
	executeBatch(t, th, nil)
	th.drainPending()
	require.Equal(t, []int32{1}, local.observed)
	assert.Equal(t, 1, p.Nodes(), "the node survives a call that arrives before BR_INCREFS")

	b.Queue(refRecord(protocol.BRIncRefs, obj))
	executeBatch(t, th, nil)
	th.drainPending()
	_, weak, ok := p.NodeRefs(local)
	require.True(t, ok)
	assert.Equal(t, int32(1), weak, "the driver takes over the reference of the table")

	b.Queue(refRecord(protocol.BRDecRefs, obj))
	executeBatch(t, th, nil)
	th.drainPending()
	assert.Zero(t, p.Nodes())

	require.NoError(t, th.FlushCommands())
	assert.Len(t, sentOf(b, protocol.BCIncRefsDone), 1)
	assert.Len(t, sentOf(b, protocol.BCReply), 1)
}

func TestRefCountsAfterBatch(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	for i := 0; i < 50; i++ {
		p, b := newTestProcess(t, common.ProcessConfig{})
		th := newTestThread(t, p)
		local := &localObject{}
		obj := p.FlattenBinder(local)

		// the kernel keeps one weak reference throughout
		b.Queue(refRecord(protocol.BRIncRefs, obj), refRecord(protocol.BRAcquire, obj))
		executeBatch(t, th, nil)
		th.drainPending()

		heldStrong, heldWeak := 1, 0
		acquires, releases, increfs, decrefs := 0, 0, 0, 0
		var batch []protocol.Record
		for len(batch) < 12 {
			switch rng.Intn(4) {
			case 0:
				batch = append(batch, refRecord(protocol.BRAcquire, obj))
				heldStrong++
				acquires++
			case 1:
				if heldStrong > 0 {
					batch = append(batch, refRecord(protocol.BRRelease, obj))
					heldStrong--
					releases++
				}
			case 2:
				batch = append(batch, refRecord(protocol.BRIncRefs, obj))
				heldWeak++
				increfs++
			case 3:
				if heldWeak > 0 {
					batch = append(batch, refRecord(protocol.BRDecRefs, obj))
					heldWeak--
					decrefs++
				}
			}
		}

		before, beforeWeak, _ := p.NodeRefs(local)
		last := before
		b.Queue(batch...)
		executeBatch(t, th, func() {
			strong, weak, ok := p.NodeRefs(local)
			require.True(t, ok)
			assert.GreaterOrEqual(t, strong, last, "strong count never drops within a batch")
			assert.Positive(t, weak)
			last = strong
		})

		th.drainPending()
		strong, weak, ok := p.NodeRefs(local)
		require.True(t, ok)
		assert.Equal(t, before+int32(acquires-releases), strong)
		assert.Equal(t, beforeWeak+int32(acquires-releases+increfs-decrefs), weak)

		th.Close()
		p.Close()
	}
}

func TestAttemptAcquireFromDriver(t *testing.T) {
	p, b := newTestProcess(t, common.ProcessConfig{})
	th := newTestThread(t, p)
	local := &localObject{}
	obj := p.FlattenBinder(local)
	attempt := protocol.Record{Code: uint32(protocol.BRAttemptAcquire), Ptr: obj.Binder, Cookie: obj.Cookie}

	// never acquired: promotion succeeds
	b.Queue(refRecord(protocol.BRIncRefs, obj), attempt)
	executeBatch(t, th, nil)
	th.drainPending()
	strong, _, _ := p.NodeRefs(local)
	assert.Equal(t, int32(1), strong)
	assert.Equal(t, 1, local.firstRefs)

	// last strong reference gone: promotion fails
	b.Queue(refRecord(protocol.BRRelease, obj))
	executeBatch(t, th, nil)
	th.drainPending()
	b.Queue(attempt)
	executeBatch(t, th, nil)
	th.drainPending()
	strong, _, _ = p.NodeRefs(local)
	assert.Zero(t, strong)

	require.NoError(t, th.FlushCommands())
	results := sentOf(b, protocol.BCAcquireResult)
	require.Len(t, results, 2)
	assert.Equal(t, int32(1), results[0].Record.Value)
	assert.Equal(t, int32(0), results[1].Record.Value)
}

func TestUnknownNodeIsProtocolError(t *testing.T) {
	p, b := newTestProcess(t, common.ProcessConfig{})
	th := newTestThread(t, p)

	b.Queue(protocol.Record{Code: uint32(protocol.BRAcquire), Ptr: 0x990, Cookie: 0x990})
	err := th.getAndExecute()
	assert.ErrorIs(t, err, ErrProtocol)
	assert.ErrorIs(t, th.LastError(), ErrProtocol)
}

func TestPoolDrainsAtBatchEnd(t *testing.T) {
	p, b := newTestProcess(t, common.ProcessConfig{})
	th := newTestThread(t, p)
	local := &localObject{proc: p}
	obj := p.FlattenBinder(local)

	b.Responder = func(b *drivertest.Broker, s drivertest.Sent) {
		if s.Code() == protocol.BCAcquireDone {
			b.QueueTo(s.Tid, protocol.Record{Code: uint32(protocol.BRFinished)})
		}
	}
	b.Queue(
		refRecord(protocol.BRIncRefs, obj),
		refRecord(protocol.BRAcquire, obj),
		refRecord(protocol.BRRelease, obj),
	)

	require.NoError(t, th.JoinThreadPool(false))
	strong, weak, ok := p.NodeRefs(local)
	require.True(t, ok)
	assert.Zero(t, strong)
	assert.Equal(t, int32(1), weak)
	assert.Equal(t, 1, local.lastStrongs)
}
