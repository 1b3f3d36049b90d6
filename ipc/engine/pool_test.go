//go:build linux

package engine

import (
	"github.com/ValentinKolb/dIPC/ipc/common"
	"github.com/ValentinKolb/dIPC/ipc/parcel"
	"github.com/ValentinKolb/dIPC/ipc/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"strings"
	"testing"
	"time"
)

func TestSecondaryThreadLeavesWhenFinished(t *testing.T) {
	p, b := newTestProcess(t, common.ProcessConfig{})
	th := newTestThread(t, p)

	b.Queue(protocol.Record{Code: uint32(protocol.BRFinished)})
	require.NoError(t, th.JoinThreadPool(false))
	assert.Equal(t, []protocol.Command{protocol.BCRegisterLooper, protocol.BCExitLooper}, b.Commands())
}

func TestMainThreadIgnoresFinished(t *testing.T) {
	p, b := newTestProcess(t, common.ProcessConfig{})
	th := newTestThread(t, p)

	b.Queue(protocol.Record{Code: uint32(protocol.BRFinished)})
	go func() {
		for b.Pending() > 0 {
			time.Sleep(time.Millisecond)
		}
		time.Sleep(20 * time.Millisecond)
		p.Close()
	}()

	require.NoError(t, th.JoinThreadPool(true), "closing the driver is a regular exit")
	assert.Equal(t, []protocol.Command{protocol.BCEnterLooper}, b.Commands())
}

func TestPoolFatalError(t *testing.T) {
	p, b := newTestProcess(t, common.ProcessConfig{})
	th := newTestThread(t, p)

	raw := make([]byte, 4)
	protocol.ByteOrder.PutUint32(raw, 0x0000727f)
	b.QueueRaw(raw)

	err := th.JoinThreadPool(true)
	assert.ErrorIs(t, err, ErrFatal)
	assert.ErrorIs(t, err, ErrProtocol)
	cmds := b.Commands()
	require.NotEmpty(t, cmds)
	assert.Equal(t, protocol.BCExitLooper, cmds[len(cmds)-1])
}

func TestWrongThread(t *testing.T) {
	p, _ := newTestProcess(t, common.ProcessConfig{})
	th := newTestThread(t, p)

	errs := make(chan error, 2)
	go func() {
		_, err := th.Transact(1, 1, nil, 0)
		errs <- err
		errs <- th.JoinThreadPool(false)
	}()
	assert.ErrorIs(t, <-errs, ErrWrongThread)
	assert.ErrorIs(t, <-errs, ErrWrongThread)
}

func TestSpawnLooper(t *testing.T) {
	p, b := newTestProcess(t, common.ProcessConfig{MaxThreads: 2})
	th := newTestThread(t, p)

	b.Queue(protocol.Record{Code: uint32(protocol.BRSpawnLooper)})
	require.NoError(t, th.getAndExecute())

	require.True(t, b.WaitSent(1, time.Second))
	sent := b.Sent()[0]
	assert.Equal(t, protocol.BCRegisterLooper, sent.Code())
	assert.NotEqual(t, th.ID(), sent.Tid, "the looper runs on its own OS thread")
	assert.Equal(t, int64(1), p.SpawnedThreads())
	assert.Equal(t, 2, p.Threads())
}

func TestStartThreadPool(t *testing.T) {
	p, b := newTestProcess(t, common.ProcessConfig{})

	p.StartThreadPool()
	p.StartThreadPool()
	require.True(t, b.WaitSent(1, time.Second))
	assert.Equal(t, protocol.BCEnterLooper, b.Commands()[0])
	assert.Equal(t, int64(1), p.SpawnedThreads())

	require.NoError(t, p.Close())
	p.Wait()
	assert.Zero(t, p.Threads(), "pool threads close themselves")
}

func TestStarvation(t *testing.T) {
	p, b := newTestProcess(t, common.ProcessConfig{MaxThreads: 1})
	th := newTestThread(t, p)

	released := make(chan struct{})
	var blockedDuringCall bool
	p.SetContextObject(binderFunc(func(t *Thread, code uint32, data, reply *parcel.Parcel, flags uint32) error {
		go func() {
			p.BlockUntilThreadAvailable()
			close(released)
		}()
		time.Sleep(2 * starvationThreshold)
		select {
		case <-released:
		default:
			blockedDuringCall = true
		}
		return nil
	}))

	b.Queue(b.NewTransaction(0, 0, 1, nil, 0, 1, 1))
	require.NoError(t, th.getAndExecute())
	assert.True(t, blockedDuringCall, "no thread is available while the only one executes")

	select {
	case <-released:
	case <-time.After(time.Second):
		t.Fatal("waiter not released")
	}
	assert.Zero(t, p.ExecutingThreads())

	var sb strings.Builder
	p.WritePrometheus(&sb)
	assert.Contains(t, sb.String(), "dipc_pool_starvation_total 1")
}

func TestUnlimitedPoolNeverBlocks(t *testing.T) {
	p, _ := newTestProcess(t, common.ProcessConfig{})
	done := make(chan struct{})
	go func() {
		p.BlockUntilThreadAvailable()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("blocked without a thread limit")
	}
}

func TestProcessSetup(t *testing.T) {
	p, b := newTestProcess(t, common.ProcessConfig{MaxThreads: 4, ContextManager: true})
	assert.Equal(t, uint32(4), b.MaxThreads())
	assert.Equal(t, uint32(4), p.MaxThreads())
	assert.True(t, b.IsContextManager())
	assert.Error(t, p.BecomeContextManager(), "handle 0 is taken")

	require.NoError(t, p.SetMaxThreads(8))
	assert.Equal(t, uint32(8), b.MaxThreads())
	assert.Equal(t, uint32(8), p.MaxThreads())
}
