package engine

import (
	"fmt"
	"github.com/ValentinKolb/dIPC/ipc/common"
	"github.com/ValentinKolb/dIPC/ipc/driver"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
	"runtime"
	"sync"
	"sync/atomic"
	"time"
)

var Logger = logger.GetLogger("ipc")

// starvationThreshold is how long the pool may stay at its limit before a
// warning is logged.
const starvationThreshold = 100 * time.Millisecond

// Process is the process-wide state of a binder connection.
type Process struct {
	driver driver.IDriver
	config common.ProcessConfig

	// pool bookkeeping, guarded by mu
	mu              sync.Mutex
	cond            *sync.Cond
	maxThreads      uint32
	executing       uint32
	starvationStart time.Time
	poolStarted     bool
	spawned         atomic.Int64
	workers         sync.WaitGroup

	shutdown  atomic.Bool
	threadsMu sync.Mutex // serializes creation of threads
	threads   *xsync.MapOf[int, *Thread]

	contextMu     sync.RWMutex
	contextObject IBinder

	nodes   *nodeTable
	proxies *proxyTable

	metrics *processMetrics
}

// Open opens the binder device named in config and creates a process on it.
func Open(config common.ProcessConfig) (*Process, error) {
	drv, err := driver.Open(config)
	if err != nil {
		return nil, err
	}
	p, err := NewProcess(drv, config)
	if err != nil {
		drv.Close()
		return nil, err
	}
	return p, nil
}

// NewProcess creates a process on an already opened driver. It configures
// the pool size and, if requested, registers as context manager.
func NewProcess(drv driver.IDriver, config common.ProcessConfig) (*Process, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	p := &Process{
		driver:     drv,
		config:     config,
		maxThreads: config.MaxThreads,
		threads:    xsync.NewMapOf[int, *Thread](),
		nodes:      newNodeTable(),
		proxies:    newProxyTable(),
	}
	p.cond = sync.NewCond(&p.mu)
	p.metrics = newProcessMetrics(p)

	if err := drv.SetMaxThreads(config.MaxThreads); err != nil {
		Logger.Warningf("failed to set max threads to %d: %v", config.MaxThreads, err)
	}
	if config.ContextManager {
		if err := p.BecomeContextManager(); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// --------------------------------------------------------------------------
// Threads
// --------------------------------------------------------------------------

// Self returns the Thread of the calling OS thread, creating it on first use.
// Creation locks the calling goroutine to its OS thread until Thread.Close.
//
// Close is mandatory: a goroutine that exits without it leaves its Thread
// registered. Should the kernel hand the id of that OS thread to a new one,
// Self notices the different start time and replaces the stale Thread.
func (p *Process) Self() (*Thread, error) {
	if p.shutdown.Load() {
		return nil, ErrShutdown
	}

	runtime.LockOSThread()
	tid := driver.ThreadID()
	if t, ok := p.threads.Load(tid); ok {
		if t.current() {
			// the lock taken at creation is still held
			runtime.UnlockOSThread()
			return t, nil
		}
		p.discardStale(t)
	}

	p.threadsMu.Lock()
	defer p.threadsMu.Unlock()
	if p.shutdown.Load() {
		runtime.UnlockOSThread()
		return nil, ErrShutdown
	}
	t := newThread(p, tid)
	p.threads.Store(tid, t)
	Logger.Debugf("created binder thread %d", tid)
	return t, nil
}

// Threads returns the number of live Thread instances.
func (p *Process) Threads() int {
	return p.threads.Size()
}

// discardStale drops a Thread whose OS thread is gone. Its deferred
// decrements are applied; its queued commands belonged to the old thread and
// are dropped.
func (p *Process) discardStale(t *Thread) {
	Logger.Warningf("discarding binder thread %d left open by an exited goroutine", t.tid)
	t.closed = true
	t.drainPending()
	t.pinner.Unpin()
	p.forgetThread(t)
}

func (p *Process) forgetThread(t *Thread) {
	p.threadsMu.Lock()
	defer p.threadsMu.Unlock()
	if cur, ok := p.threads.Load(t.tid); ok && cur == t {
		p.threads.Delete(t.tid)
	}
}

// --------------------------------------------------------------------------
// Process Properties
// --------------------------------------------------------------------------

// Driver returns the driver of the process.
func (p *Process) Driver() driver.IDriver {
	return p.driver
}

// Config returns the configuration the process was created with.
func (p *Process) Config() common.ProcessConfig {
	return p.config
}

// MaxThreads returns the pool thread limit.
func (p *Process) MaxThreads() uint32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.maxThreads
}

// SetMaxThreads changes the pool thread limit in the driver and locally.
func (p *Process) SetMaxThreads(n uint32) error {
	if err := p.driver.SetMaxThreads(n); err != nil {
		return fmt.Errorf("failed to set max threads to %d: %w", n, err)
	}
	p.mu.Lock()
	p.maxThreads = n
	p.cond.Broadcast()
	p.mu.Unlock()
	return nil
}

// ExecutingThreads returns the number of pool threads currently executing a
// command.
func (p *Process) ExecutingThreads() uint32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.executing
}

// BecomeContextManager registers the process as the owner of handle 0.
func (p *Process) BecomeContextManager() error {
	if err := p.driver.SetContextManager(); err != nil {
		return fmt.Errorf("failed to become context manager: %w", err)
	}
	Logger.Infof("registered as context manager")
	return nil
}

// SetContextObject sets the object serving transactions addressed to the
// process itself (target 0).
func (p *Process) SetContextObject(b IBinder) {
	p.contextMu.Lock()
	defer p.contextMu.Unlock()
	p.contextObject = b
}

// ContextObject returns the object set with SetContextObject, or nil.
func (p *Process) ContextObject() IBinder {
	p.contextMu.RLock()
	defer p.contextMu.RUnlock()
	return p.contextObject
}

// --------------------------------------------------------------------------
// Shutdown
// --------------------------------------------------------------------------

// Close shuts the process down: no new threads are created and the driver is
// closed, which fails every blocked and future exchange with
// StatusBadDescriptor. Pool threads exit on their own; use Wait to join them.
func (p *Process) Close() error {
	if p.shutdown.Swap(true) {
		return nil
	}
	err := p.driver.Close()

	p.mu.Lock()
	p.cond.Broadcast()
	p.mu.Unlock()

	Logger.Infof("binder process shut down")
	return err
}

// Wait blocks until every pooled thread spawned by the process has exited.
func (p *Process) Wait() {
	p.workers.Wait()
}
