package engine

import (
	"github.com/puzpuzpuz/xsync/v3"
	"sync"
	"sync/atomic"
)

// initialStrong marks a node whose strong count was never raised.
const initialStrong = 1 << 28

// node is the table entry of a local object known to the driver. Its id is
// sent to the driver as both binder ptr and cookie.
type node struct {
	id     uint64
	binder IBinder
	table  *nodeTable

	strong atomic.Int32
	weak   atomic.Int32

	// tableRef is set while the weak reference taken at registration is
	// outstanding. The first BR_INCREFS takes it over for the driver.
	tableRef atomic.Bool
}

// incStrong takes a strong reference. Strong references also hold a weak one.
func (n *node) incStrong() {
	n.incWeak()
	if n.strong.Add(1)-1 == initialStrong {
		n.strong.Add(-initialStrong)
		n.onFirstRef()
	}
}

func (n *node) decStrong() {
	if n.strong.Add(-1) == 0 {
		if obs, ok := n.binder.(ILastStrongRefObserver); ok {
			obs.OnLastStrongRef()
		}
	}
	n.decWeak()
}

func (n *node) incWeak() {
	n.weak.Add(1)
}

// incDriverWeak records a weak reference the driver took with BR_INCREFS.
func (n *node) incDriverWeak() {
	if !n.tableRef.CompareAndSwap(true, false) {
		n.incWeak()
	}
}

func (n *node) decWeak() {
	if n.weak.Add(-1) == 0 {
		n.table.remove(n)
	}
}

// attemptIncStrong promotes a weak reference: it takes a strong reference
// unless the last one is already gone.
func (n *node) attemptIncStrong() bool {
	n.incWeak()
	for {
		cur := n.strong.Load()
		if cur <= 0 {
			n.decWeak()
			return false
		}
		if n.strong.CompareAndSwap(cur, cur+1) {
			if cur == initialStrong {
				n.strong.Add(-initialStrong)
				n.onFirstRef()
			}
			return true
		}
	}
}

func (n *node) onFirstRef() {
	if obs, ok := n.binder.(IFirstRefObserver); ok {
		obs.OnFirstRef()
	}
}

// counts returns the strong and weak counts, reporting a never acquired
// strong count as 0.
func (n *node) counts() (int32, int32) {
	strong := n.strong.Load()
	if strong >= initialStrong {
		strong -= initialStrong
	}
	return strong, n.weak.Load()
}

// --------------------------------------------------------------------------
// Node Table
// --------------------------------------------------------------------------

// nodeTable maps node ids to local objects. Lookups by id are lock-free;
// registration and removal are serialized by mu, which also guards the
// reverse index.
type nodeTable struct {
	byID     *xsync.MapOf[uint64, *node]
	mu       sync.Mutex
	byBinder map[IBinder]*node
	nextID   atomic.Uint64
}

func newNodeTable() *nodeTable {
	return &nodeTable{
		byID:     xsync.NewMapOf[uint64, *node](),
		byBinder: make(map[IBinder]*node),
	}
}

// register returns the node of b, creating it if b is not known yet. A new
// node holds one weak reference until the driver first references it, so
// calls arriving before BR_INCREFS cannot drop it from the table.
func (nt *nodeTable) register(b IBinder) *node {
	nt.mu.Lock()
	defer nt.mu.Unlock()
	if n, ok := nt.byBinder[b]; ok {
		return n
	}
	n := &node{id: nt.nextID.Add(1) << 4, binder: b, table: nt}
	n.strong.Store(initialStrong)
	n.weak.Store(1)
	n.tableRef.Store(true)
	nt.byBinder[b] = n
	nt.byID.Store(n.id, n)
	return n
}

func (nt *nodeTable) lookup(id uint64) (*node, bool) {
	return nt.byID.Load(id)
}

func (nt *nodeTable) find(b IBinder) (*node, bool) {
	nt.mu.Lock()
	defer nt.mu.Unlock()
	n, ok := nt.byBinder[b]
	return n, ok
}

// remove drops n once its weak count reached zero.
func (nt *nodeTable) remove(n *node) {
	nt.mu.Lock()
	defer nt.mu.Unlock()
	if n.weak.Load() != 0 {
		return
	}
	if cur, ok := nt.byBinder[n.binder]; ok && cur == n {
		delete(nt.byBinder, n.binder)
	}
	nt.byID.Delete(n.id)
	Logger.Debugf("node %#x released", n.id)
}

func (nt *nodeTable) size() int {
	return nt.byID.Size()
}

// NodeRefs returns the strong and weak counts the driver and in-flight
// dispatches hold on the local object b. ok is false if b has no node.
func (p *Process) NodeRefs(b IBinder) (strong, weak int32, ok bool) {
	n, ok := p.nodes.find(b)
	if !ok {
		return 0, 0, false
	}
	strong, weak = n.counts()
	return strong, weak, true
}

// Nodes returns the number of local objects in the node table.
func (p *Process) Nodes() int {
	return p.nodes.size()
}

// drainPending applies the decrements deferred while the last batch was
// processed: weak ones first, then strong ones, each in arrival order.
func (t *Thread) drainPending() {
	if len(t.pendingWeak) == 0 && len(t.pendingStrong) == 0 {
		return
	}
	for _, n := range t.pendingWeak {
		n.decWeak()
	}
	for _, n := range t.pendingStrong {
		n.decStrong()
	}
	clear(t.pendingWeak)
	clear(t.pendingStrong)
	t.pendingWeak = t.pendingWeak[:0]
	t.pendingStrong = t.pendingStrong[:0]
}
