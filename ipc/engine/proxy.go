package engine

import (
	"github.com/ValentinKolb/dIPC/ipc/parcel"
	"github.com/ValentinKolb/dIPC/ipc/protocol"
	"github.com/puzpuzpuz/xsync/v3"
	"slices"
	"sync"
	"sync/atomic"
)

// Proxy is the local representative of an object in another process,
// addressed by its driver handle.
//
// Strong and weak counts on a proxy mirror the references the process holds
// in the driver: the first strong reference issues BC_ACQUIRE, the last one
// BC_RELEASE, and when the weak count drops to zero the proxy is removed from
// the table and BC_DECREFS is issued.
type Proxy struct {
	proc   *Process
	handle uint32
	cookie uint64 // death notification cookie

	mu         sync.Mutex
	strong     int32
	weak       int32
	recipients []IDeathRecipient
	obitsSent  bool
	alive      atomic.Bool
}

// Handle returns the driver handle of the remote object.
func (p *Proxy) Handle() uint32 { return p.handle }

// IsAlive reports whether the remote object is not known to be dead.
func (p *Proxy) IsAlive() bool { return p.alive.Load() }

// --------------------------------------------------------------------------
// Interface Methods (docu see engine.IBinder)
// --------------------------------------------------------------------------

// Transact forwards the call to the remote object and copies its reply into
// reply. Use Call to receive the reply without copying.
func (p *Proxy) Transact(t *Thread, code uint32, data, reply *parcel.Parcel, flags uint32) error {
	res, err := p.Call(t, code, data, flags)
	if err != nil {
		return err
	}
	if res != nil {
		if reply != nil {
			reply.CopyFrom(res)
		}
		res.Recycle()
	}
	return nil
}

// --------------------------------------------------------------------------
// Calls and Death Notification
// --------------------------------------------------------------------------

// Call sends a transaction to the remote object. A two-way call returns the
// reply, which must be recycled by the caller. A dead reply marks the proxy
// as dead.
func (p *Proxy) Call(t *Thread, code uint32, data *parcel.Parcel, flags uint32) (*parcel.Parcel, error) {
	if !p.IsAlive() {
		return nil, protocol.StatusDeadObject
	}
	reply, err := t.Transact(p.handle, code, data, flags)
	if err == protocol.StatusDeadObject {
		p.alive.Store(false)
	}
	return reply, err
}

// LinkToDeath registers r to be notified when the remote process dies. The
// first registration requests a death notification from the driver.
func (p *Proxy) LinkToDeath(t *Thread, r IDeathRecipient) error {
	p.mu.Lock()
	if p.obitsSent || !p.alive.Load() {
		p.mu.Unlock()
		return protocol.StatusDeadObject
	}
	first := len(p.recipients) == 0
	p.recipients = append(p.recipients, r)
	if first {
		p.weak++ // released by BR_CLEAR_DEATH_NOTIFICATION_DONE
	}
	p.mu.Unlock()

	if first {
		Logger.Debugf("requesting death notification for handle %d", p.handle)
		t.RequestDeathNotification(p.handle, p.cookie)
		return t.FlushCommands()
	}
	return nil
}

// UnlinkToDeath removes a recipient registered with LinkToDeath. Removing
// the last one clears the death notification in the driver.
func (p *Proxy) UnlinkToDeath(t *Thread, r IDeathRecipient) error {
	p.mu.Lock()
	if p.obitsSent {
		p.mu.Unlock()
		return protocol.StatusDeadObject
	}
	i := slices.Index(p.recipients, r)
	if i < 0 {
		p.mu.Unlock()
		return protocol.StatusNameNotFound
	}
	p.recipients = slices.Delete(p.recipients, i, i+1)
	last := len(p.recipients) == 0
	p.mu.Unlock()

	if last {
		t.ClearDeathNotification(p.handle, p.cookie)
		return t.FlushCommands()
	}
	return nil
}

// SendObituary marks the proxy as dead and notifies every recipient once.
func (p *Proxy) SendObituary(t *Thread) {
	p.alive.Store(false)

	p.mu.Lock()
	if p.obitsSent {
		p.mu.Unlock()
		return
	}
	recipients := p.recipients
	p.recipients = nil
	p.obitsSent = true
	p.mu.Unlock()

	if len(recipients) > 0 {
		t.ClearDeathNotification(p.handle, p.cookie)
		if err := t.FlushCommands(); err != nil {
			Logger.Debugf("clearing death notification for handle %d: %v", p.handle, err)
		}
	}

	Logger.Infof("remote object of handle %d died, notifying %d recipients", p.handle, len(recipients))
	p.proc.metrics.obituaries.Inc()
	for _, r := range recipients {
		r.BinderDied(p)
	}
}

// --------------------------------------------------------------------------
// Reference Counting
// --------------------------------------------------------------------------

// IncStrong takes a strong reference on the remote object.
func (p *Proxy) IncStrong(t *Thread) {
	p.mu.Lock()
	p.weak++
	p.strong++
	first := p.strong == 1
	p.mu.Unlock()
	if first {
		t.IncStrongHandle(p.handle)
	}
}

// DecStrong drops a strong reference taken with IncStrong.
func (p *Proxy) DecStrong(t *Thread) {
	p.mu.Lock()
	p.strong--
	last := p.strong == 0
	p.mu.Unlock()
	if last {
		t.DecStrongHandle(p.handle)
	}
	p.DecWeak(t)
}

// IncWeak takes a weak reference on the proxy. The caller must already hold
// a reference.
func (p *Proxy) IncWeak(t *Thread) {
	p.mu.Lock()
	p.weak++
	p.mu.Unlock()
}

// tryIncWeak takes a weak reference unless the proxy is being expunged.
func (p *Proxy) tryIncWeak() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.weak <= 0 {
		return false
	}
	p.weak++
	return true
}

// DecWeak drops a weak reference. The last one removes the proxy and
// releases the driver handle.
func (p *Proxy) DecWeak(t *Thread) {
	p.mu.Lock()
	p.weak--
	last := p.weak == 0
	p.mu.Unlock()
	if last {
		p.proc.proxies.expunge(p)
		t.DecWeakHandle(p.handle)
	}
}

// Refs returns the strong and weak counts of the proxy.
func (p *Proxy) Refs() (strong, weak int32) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.strong, p.weak
}

// --------------------------------------------------------------------------
// Proxy Table
// --------------------------------------------------------------------------

type proxyTable struct {
	byHandle   *xsync.MapOf[uint32, *Proxy]
	cookies    *xsync.MapOf[uint64, *Proxy]
	mu         sync.Mutex
	nextCookie atomic.Uint64
}

func newProxyTable() *proxyTable {
	return &proxyTable{
		byHandle: xsync.NewMapOf[uint32, *Proxy](),
		cookies:  xsync.NewMapOf[uint64, *Proxy](),
	}
}

func (pt *proxyTable) byCookie(cookie uint64) (*Proxy, bool) {
	return pt.cookies.Load(cookie)
}

func (pt *proxyTable) expunge(p *Proxy) {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	if cur, ok := pt.byHandle.Load(p.handle); ok && cur == p {
		pt.byHandle.Delete(p.handle)
	}
	pt.cookies.Delete(p.cookie)
	Logger.Debugf("proxy for handle %d expunged", p.handle)
}

// ProxyForHandle returns the proxy of a remote handle and a weak reference
// on it, to be dropped with DecWeak. Handle 0 is the context manager. A new
// proxy takes a weak reference on the handle in the driver.
func (p *Process) ProxyForHandle(t *Thread, handle uint32) *Proxy {
	pt := p.proxies
	if proxy, ok := pt.byHandle.Load(handle); ok && proxy.tryIncWeak() {
		return proxy
	}

	pt.mu.Lock()
	if proxy, ok := pt.byHandle.Load(handle); ok && proxy.tryIncWeak() {
		pt.mu.Unlock()
		return proxy
	}
	proxy := &Proxy{
		proc:   p,
		handle: handle,
		cookie: pt.nextCookie.Add(1) << 4,
		weak:   1,
	}
	proxy.alive.Store(true)
	pt.byHandle.Store(handle, proxy)
	pt.cookies.Store(proxy.cookie, proxy)
	pt.mu.Unlock()

	t.IncWeakHandle(handle)
	return proxy
}

// ContextManager returns a weak reference on the proxy of handle 0.
func (p *Process) ContextManager(t *Thread) *Proxy {
	return p.ProxyForHandle(t, 0)
}

// Proxies returns the number of live proxies.
func (p *Process) Proxies() int {
	return p.proxies.byHandle.Size()
}
