package drivertest

import (
	"fmt"
	"github.com/ValentinKolb/dIPC/ipc/driver"
	"github.com/ValentinKolb/dIPC/ipc/protocol"
	"golang.org/x/sys/unix"
	"slices"
	"sync"
	"time"
)

// Sent is one command written by the engine, decoded. For BC_TRANSACTION and
// BC_REPLY, Data and Offsets hold copies of the referenced memory.
type Sent struct {
	Tid     int
	Record  protocol.Record
	Data    []byte
	Offsets []uint64
}

// Code returns the command opcode.
func (s Sent) Code() protocol.Command {
	return protocol.Command(s.Record.Code)
}

// Responder reacts to a decoded command. It runs on the writing thread
// without the broker lock held and may queue records.
type Responder func(b *Broker, s Sent)

// region is a fake address range backed by Go memory.
type region struct {
	addr uint64
	mem  []byte
}

// Broker simulates the binder driver. The zero value is not usable; create
// one with New.
type Broker struct {
	mu   sync.Mutex
	cond *sync.Cond

	shared  [][]byte         // encoded records for any reader
	private map[int][][]byte // encoded records for one thread

	sent    []Sent
	calls   int
	eintr   int
	closed  bool
	nextVA  uint64
	outMem  map[uint64][]byte  // registered outgoing memory
	arena   map[uint64]*region // driver buffers by start address
	freed   []uint64
	badFree []uint64

	deathCookies map[uint32]uint64

	maxThreads     uint32
	contextManager bool
	threadExits    int

	// ProtocolVersion is reported by the BINDER_VERSION ioctl.
	ProtocolVersion int32
	// AutoComplete makes the broker answer like the kernel: TRANSACTION_COMPLETE
	// for every BC_TRANSACTION and BC_REPLY, CLEAR_DEATH_NOTIFICATION_DONE for
	// every BC_CLEAR_DEATH_NOTIFICATION.
	AutoComplete bool
	// Responder, if set, is called for every decoded command.
	Responder Responder
}

// New creates an open broker.
func New() *Broker {
	b := &Broker{
		private:         make(map[int][][]byte),
		nextVA:          0x10000,
		outMem:          make(map[uint64][]byte),
		arena:           make(map[uint64]*region),
		deathCookies:    make(map[uint32]uint64),
		ProtocolVersion: protocol.CurrentProtocolVersion,
	}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// --------------------------------------------------------------------------
// Interface Methods (docu see driver.IDriver)
// --------------------------------------------------------------------------

func (b *Broker) WriteRead(write, read []byte) (int, int, error) {
	tid := driver.ThreadID()

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return 0, 0, unix.EBADF
	}
	if b.eintr > 0 {
		b.eintr--
		b.mu.Unlock()
		return 0, 0, unix.EINTR
	}
	b.calls++

	decoded, err := b.decodeLocked(tid, write)
	if err != nil {
		b.mu.Unlock()
		return 0, 0, unix.EINVAL
	}
	responder := b.Responder
	b.mu.Unlock()

	if responder != nil {
		for _, s := range decoded {
			responder(b, s)
		}
	}

	if len(read) == 0 {
		return len(write), 0, nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for !b.closed && len(b.private[tid]) == 0 && len(b.shared) == 0 {
		b.cond.Wait()
	}
	if b.closed {
		return len(write), 0, unix.EBADF
	}

	n := b.fillLocked(tid, read)
	if n == 0 {
		return len(write), 0, unix.ENOMEM
	}
	return len(write), n, nil
}

func (b *Broker) SetMaxThreads(n uint32) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return unix.EBADF
	}
	b.maxThreads = n
	return nil
}

func (b *Broker) SetContextManager() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return unix.EBADF
	}
	if b.contextManager {
		return unix.EBUSY
	}
	b.contextManager = true
	return nil
}

func (b *Broker) ThreadExit() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return unix.EBADF
	}
	b.threadExits++
	delete(b.private, driver.ThreadID())
	return nil
}

func (b *Broker) Version() (int32, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return 0, unix.EBADF
	}
	return b.ProtocolVersion, nil
}

func (b *Broker) Address(p []byte) uint64 {
	if len(p) == 0 {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	addr := b.allocVALocked(len(p))
	b.outMem[addr] = p
	return addr
}

func (b *Broker) Buffer(addr uint64, size uint64) ([]byte, error) {
	if size == 0 {
		return nil, nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, r := range b.arena {
		if addr >= r.addr && addr+size <= r.addr+uint64(len(r.mem)) {
			off := addr - r.addr
			return r.mem[off : off+size : off+size], nil
		}
	}
	return nil, fmt.Errorf("no driver buffer at %#x+%d", addr, size)
}

func (b *Broker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.cond.Broadcast()
	return nil
}

func (b *Broker) Closed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

// --------------------------------------------------------------------------
// Scripting
// --------------------------------------------------------------------------

// Queue makes records available to the next reading thread, whichever it is.
func (b *Broker) Queue(records ...protocol.Record) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, r := range records {
		b.shared = append(b.shared, mustEncode(r))
	}
	b.cond.Broadcast()
}

// QueueTo makes records available to the thread tid only.
func (b *Broker) QueueTo(tid int, records ...protocol.Record) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, r := range records {
		b.private[tid] = append(b.private[tid], mustEncode(r))
	}
	b.cond.Broadcast()
}

// QueueRaw queues an arbitrary byte sequence as one shared record. It is
// meant for malformed input.
func (b *Broker) QueueRaw(raw []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.shared = append(b.shared, slices.Clone(raw))
	b.cond.Broadcast()
}

// InjectEINTR makes the next n exchanges fail with EINTR before doing anything.
func (b *Broker) InjectEINTR(n int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.eintr += n
}

// NewBuffer copies data and offsets into a fresh driver buffer and returns
// the transaction fields referencing it.
func (b *Broker) NewBuffer(data []byte, offsets []uint64) protocol.TransactionData {
	b.mu.Lock()
	defer b.mu.Unlock()

	tr := protocol.TransactionData{
		DataSize:    uint64(len(data)),
		OffsetsSize: uint64(len(offsets) * protocol.OffsetEntrySize),
	}
	size := max(len(data)+len(offsets)*protocol.OffsetEntrySize, 1)
	mem := make([]byte, size)
	copy(mem, data)
	for i, off := range offsets {
		protocol.ByteOrder.PutUint64(mem[len(data)+i*protocol.OffsetEntrySize:], off)
	}

	addr := b.allocVALocked(size)
	b.arena[addr] = &region{addr: addr, mem: mem}
	tr.DataBuffer = addr
	tr.OffsetsBuffer = addr + uint64(len(data))
	return tr
}

// NewReply builds a BR_REPLY carrying data in a fresh driver buffer.
func (b *Broker) NewReply(data []byte, offsets []uint64, flags uint32) protocol.Record {
	tr := b.NewBuffer(data, offsets)
	tr.Flags = flags
	return protocol.Record{Code: uint32(protocol.BRReply), Transaction: tr}
}

// NewStatusReply builds a BR_REPLY whose payload is status.
func (b *Broker) NewStatusReply(status protocol.Status) protocol.Record {
	data := make([]byte, protocol.StatusPayloadSize)
	protocol.ByteOrder.PutUint32(data, uint32(status))
	return b.NewReply(data, nil, protocol.FlagStatusCode)
}

// NewTransaction builds a BR_TRANSACTION for the node ptr/cookie (0 for the
// context object) carrying data in a fresh driver buffer.
func (b *Broker) NewTransaction(ptr, cookie uint64, code uint32, data []byte, flags uint32, pid int32, euid uint32) protocol.Record {
	tr := b.NewBuffer(data, nil)
	tr.Target = ptr
	tr.Cookie = cookie
	tr.Code = code
	tr.Flags = flags
	tr.SenderPID = pid
	tr.SenderEUID = euid
	return protocol.Record{Code: uint32(protocol.BRTransaction), Transaction: tr}
}

// KillHandle delivers BR_DEAD_BINDER for the death notification registered
// on handle. It reports whether one was registered.
func (b *Broker) KillHandle(handle uint32) bool {
	b.mu.Lock()
	cookie, ok := b.deathCookies[handle]
	b.mu.Unlock()
	if ok {
		b.Queue(protocol.Record{Code: uint32(protocol.BRDeadBinder), Cookie: cookie})
	}
	return ok
}

// --------------------------------------------------------------------------
// Inspection
// --------------------------------------------------------------------------

// Sent returns a copy of the command log.
func (b *Broker) Sent() []Sent {
	b.mu.Lock()
	defer b.mu.Unlock()
	return slices.Clone(b.sent)
}

// Commands returns the opcodes of the command log.
func (b *Broker) Commands() []protocol.Command {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]protocol.Command, len(b.sent))
	for i, s := range b.sent {
		out[i] = s.Code()
	}
	return out
}

// WaitSent blocks until at least n commands were written or timeout elapsed.
func (b *Broker) WaitSent(n int, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	timer := time.AfterFunc(timeout, func() {
		b.mu.Lock()
		b.cond.Broadcast()
		b.mu.Unlock()
	})
	defer timer.Stop()

	b.mu.Lock()
	defer b.mu.Unlock()
	for len(b.sent) < n {
		if !time.Now().Before(deadline) {
			return false
		}
		b.cond.Wait()
	}
	return true
}

// Calls returns the number of exchanges that reached the broker.
func (b *Broker) Calls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls
}

// Pending returns the number of queued records no thread has read yet.
func (b *Broker) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := len(b.shared)
	for _, q := range b.private {
		n += len(q)
	}
	return n
}

// Freed returns the addresses handed back with BC_FREE_BUFFER.
func (b *Broker) Freed() []uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return slices.Clone(b.freed)
}

// BadFrees returns BC_FREE_BUFFER addresses that named no live buffer.
func (b *Broker) BadFrees() []uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return slices.Clone(b.badFree)
}

// LiveBuffers returns the number of driver buffers not yet freed.
func (b *Broker) LiveBuffers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.arena)
}

// MaxThreads returns the value set through SetMaxThreads.
func (b *Broker) MaxThreads() uint32 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.maxThreads
}

// IsContextManager reports whether SetContextManager succeeded.
func (b *Broker) IsContextManager() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.contextManager
}

// ThreadExits returns the number of BINDER_THREAD_EXIT calls.
func (b *Broker) ThreadExits() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.threadExits
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

func mustEncode(r protocol.Record) []byte {
	raw, err := protocol.AppendRecord(nil, r)
	if err != nil {
		panic(fmt.Sprintf("drivertest: %v", err))
	}
	return raw
}

// allocVALocked hands out a fresh 16-byte aligned fake address range with
// a gap after it.
func (b *Broker) allocVALocked(size int) uint64 {
	addr := b.nextVA
	b.nextVA += (uint64(size) + 31) &^ 15
	return addr
}

// decodeLocked decodes and logs the write stream and applies the effects
// the broker simulates.
func (b *Broker) decodeLocked(tid int, write []byte) ([]Sent, error) {
	records, err := protocol.DecodeRecords(write)
	if err != nil {
		return nil, err
	}

	out := make([]Sent, 0, len(records))
	for _, r := range records {
		s := Sent{Tid: tid, Record: r}

		switch protocol.Command(r.Code) {
		case protocol.BCTransaction, protocol.BCReply:
			s.Data = b.takeOutgoingLocked(r.Transaction.DataBuffer, r.Transaction.DataSize)
			raw := b.takeOutgoingLocked(r.Transaction.OffsetsBuffer, r.Transaction.OffsetsSize)
			for i := 0; i+protocol.OffsetEntrySize <= len(raw); i += protocol.OffsetEntrySize {
				s.Offsets = append(s.Offsets, protocol.ByteOrder.Uint64(raw[i:]))
			}
			if b.AutoComplete {
				b.private[tid] = append(b.private[tid], mustEncode(protocol.Record{Code: uint32(protocol.BRTransactionComplete)}))
			}
		case protocol.BCFreeBuffer:
			if _, ok := b.arena[r.Ptr]; ok {
				delete(b.arena, r.Ptr)
				b.freed = append(b.freed, r.Ptr)
			} else {
				b.badFree = append(b.badFree, r.Ptr)
			}
		case protocol.BCRequestDeathNotification:
			b.deathCookies[r.Handle] = r.Cookie
		case protocol.BCClearDeathNotification:
			delete(b.deathCookies, r.Handle)
			if b.AutoComplete {
				b.private[tid] = append(b.private[tid], mustEncode(protocol.Record{
					Code:   uint32(protocol.BRClearDeathNotificationDone),
					Cookie: r.Cookie,
				}))
			}
		}

		b.sent = append(b.sent, s)
		out = append(out, s)
	}
	if len(out) > 0 {
		b.cond.Broadcast()
	}
	return out, nil
}

// takeOutgoingLocked copies size bytes of registered outgoing memory at addr
// and forgets the registration.
func (b *Broker) takeOutgoingLocked(addr, size uint64) []byte {
	if addr == 0 || size == 0 {
		return nil
	}
	mem, ok := b.outMem[addr]
	if !ok || uint64(len(mem)) < size {
		return nil
	}
	delete(b.outMem, addr)
	return slices.Clone(mem[:size])
}

// fillLocked copies whole queued records into read, private ones first. Shared
// records follow in the same read once the private queue of tid is drained.
func (b *Broker) fillLocked(tid int, read []byte) int {
	n := 0
	take := func(queue [][]byte) [][]byte {
		for len(queue) > 0 && n+len(queue[0]) <= len(read) {
			n += copy(read[n:], queue[0])
			queue = queue[1:]
		}
		return queue
	}

	if q := take(b.private[tid]); len(q) > 0 {
		b.private[tid] = q
		return n
	}
	delete(b.private, tid)
	b.shared = take(b.shared)
	return n
}
