package engine

import (
	"errors"
	"fmt"
	"github.com/ValentinKolb/dIPC/ipc/protocol"
	"github.com/lni/dragonboat/v4/logger"
	"time"
)

var PoolLogger = logger.GetLogger("ipc/pool")

// JoinThreadPool turns the calling thread into a pool worker and serves
// driver commands until the driver goes away or, for a non-main thread, the
// driver reports the thread as idle. The main thread is the one the process
// itself dedicates to the pool; secondary threads are requested by the
// driver.
//
// It returns nil on a regular exit. Any other error stops the loop and is
// returned wrapped in ErrFatal. Calling it after Close fails with
// ErrThreadClosed, calling it from another OS thread than the one the Thread
// belongs to with ErrWrongThread.
func (t *Thread) JoinThreadPool(isMain bool) error {
	if err := t.checkUsable(); err != nil {
		return err
	}
	if isMain {
		t.out.WriteUint32(uint32(protocol.BCEnterLooper))
	} else {
		t.out.WriteUint32(uint32(protocol.BCRegisterLooper))
	}
	PoolLogger.Infof("thread %d joined the pool (main: %t)", t.tid, isMain)

	var result error
	for {
		if t.in.Exhausted() {
			t.drainPending()
		}

		result = t.getAndExecute()
		if result == nil {
			continue
		}
		if errors.Is(result, protocol.StatusBadDescriptor) || errors.Is(result, protocol.StatusConnectionRefused) {
			result = nil
			break
		}
		if errors.Is(result, protocol.StatusTimedOut) {
			if isMain {
				continue
			}
			result = nil
			break
		}
		break
	}

	t.out.WriteUint32(uint32(protocol.BCExitLooper))
	if err := t.exchange(false); err != nil {
		PoolLogger.Debugf("thread %d: exit looper: %v", t.tid, err)
	}
	PoolLogger.Infof("thread %d left the pool", t.tid)

	if result != nil {
		return fmt.Errorf("%w: thread %d: %w", ErrFatal, t.tid, result)
	}
	return nil
}

// getAndExecute waits for one driver command and executes it, counting the
// thread as executing for the duration.
func (t *Thread) getAndExecute() error {
	if err := t.exchange(true); err != nil {
		return err
	}
	if t.in.Exhausted() {
		return nil
	}
	code, err := t.in.ReadUint32()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrProtocol, err)
	}

	p := t.proc
	p.mu.Lock()
	p.executing++
	if p.maxThreads > 0 && p.executing >= p.maxThreads && p.starvationStart.IsZero() {
		p.starvationStart = time.Now()
	}
	p.mu.Unlock()

	result := t.executeCommand(protocol.Return(code))

	p.mu.Lock()
	p.executing--
	if p.executing < p.maxThreads && !p.starvationStart.IsZero() {
		if starved := time.Since(p.starvationStart); starved > starvationThreshold {
			PoolLogger.Warningf("binder thread pool (%d threads) starved for %d ms", p.maxThreads, starved.Milliseconds())
			p.metrics.starvation.Inc()
		}
		p.starvationStart = time.Time{}
	}
	p.cond.Broadcast()
	p.mu.Unlock()

	return result
}

// StartThreadPool spawns the main pool thread. Later calls do nothing.
func (p *Process) StartThreadPool() {
	p.mu.Lock()
	started := p.poolStarted
	p.poolStarted = true
	p.mu.Unlock()
	if !started {
		p.SpawnPooledThread(true)
	}
}

// SpawnPooledThread starts one pool thread on a new goroutine locked to its
// own OS thread. A fatal pool error in that thread panics.
func (p *Process) SpawnPooledThread(isMain bool) {
	if p.shutdown.Load() {
		return
	}
	name := fmt.Sprintf("dIPC Thread #%d", p.spawned.Add(1))

	p.workers.Add(1)
	go func() {
		defer p.workers.Done()

		t, err := p.Self()
		if err != nil {
			PoolLogger.Warningf("%s not started: %v", name, err)
			return
		}
		PoolLogger.Infof("%s started on thread %d", name, t.tid)

		if err := t.JoinThreadPool(isMain); err != nil {
			PoolLogger.Panicf("%s: %v", name, err)
		}
		if err := t.Close(); err != nil {
			PoolLogger.Debugf("%s: close: %v", name, err)
		}
	}()
}

// SpawnedThreads returns the number of pool threads started so far.
func (p *Process) SpawnedThreads() int64 {
	return p.spawned.Load()
}

// BlockUntilThreadAvailable waits until fewer than the maximum number of
// pool threads are executing commands, or the process is shut down.
func (p *Process) BlockUntilThreadAvailable() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for p.maxThreads > 0 && p.executing >= p.maxThreads && !p.shutdown.Load() {
		p.cond.Wait()
	}
}
