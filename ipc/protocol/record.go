package protocol

import "fmt"

// --------------------------------------------------------------------------
// Generic Record
// --------------------------------------------------------------------------

// Record is one decoded command or return record. Only the fields that belong
// to the opcode's payload shape are meaningful:
//
//	TRANSACTION, REPLY                       Transaction
//	BR_ERROR, *_ACQUIRE_RESULT               Value
//	BC_INCREFS, BC_ACQUIRE, ...              Handle
//	BC_FREE_BUFFER                           Ptr
//	BC_DEAD_BINDER_DONE, BR_DEAD_BINDER, ... Cookie
//	*_DONE, BR_INCREFS, BR_ACQUIRE, ...      Ptr, Cookie
//	BC_ATTEMPT_ACQUIRE                       Value (priority), Handle
//	BR_ATTEMPT_ACQUIRE                       Value (priority), Ptr, Cookie
//	BC_*_DEATH_NOTIFICATION                  Handle, Cookie
type Record struct {
	Code        uint32
	Transaction TransactionData
	Value       int32
	Handle      uint32
	Ptr         uint64
	Cookie      uint64
}

func (r Record) String() string {
	name := OpcodeName(r.Code)
	switch shapeOf(r.Code) {
	case shapeTransaction:
		return fmt.Sprintf("%s{%s}", name, r.Transaction)
	case shapeValue:
		return fmt.Sprintf("%s{value=%d}", name, r.Value)
	case shapeHandle:
		return fmt.Sprintf("%s{handle=%d}", name, r.Handle)
	case shapePtr:
		return fmt.Sprintf("%s{ptr=%#x}", name, r.Ptr)
	case shapeCookie:
		return fmt.Sprintf("%s{cookie=%#x}", name, r.Cookie)
	case shapePtrCookie:
		return fmt.Sprintf("%s{ptr=%#x cookie=%#x}", name, r.Ptr, r.Cookie)
	case shapePriDesc:
		return fmt.Sprintf("%s{priority=%d handle=%d}", name, r.Value, r.Handle)
	case shapePriPtrCookie:
		return fmt.Sprintf("%s{priority=%d ptr=%#x cookie=%#x}", name, r.Value, r.Ptr, r.Cookie)
	case shapeHandleCookie:
		return fmt.Sprintf("%s{handle=%d cookie=%#x}", name, r.Handle, r.Cookie)
	default:
		return name
	}
}

// payload shapes
type shape int

const (
	shapeNone shape = iota
	shapeTransaction
	shapeValue
	shapeHandle
	shapePtr
	shapeCookie
	shapePtrCookie
	shapePriDesc
	shapePriPtrCookie
	shapeHandleCookie
	shapeUnknown
)

func shapeOf(code uint32) shape {
	switch code {
	case uint32(BCTransaction), uint32(BCReply), uint32(BRTransaction), uint32(BRReply):
		return shapeTransaction
	case uint32(BCAcquireResult), uint32(BRError), uint32(BRAcquireResult):
		return shapeValue
	case uint32(BCIncRefs), uint32(BCAcquire), uint32(BCRelease), uint32(BCDecRefs):
		return shapeHandle
	case uint32(BCFreeBuffer):
		return shapePtr
	case uint32(BCDeadBinderDone), uint32(BRDeadBinder), uint32(BRClearDeathNotificationDone):
		return shapeCookie
	case uint32(BCIncRefsDone), uint32(BCAcquireDone),
		uint32(BRIncRefs), uint32(BRAcquire), uint32(BRRelease), uint32(BRDecRefs):
		return shapePtrCookie
	case uint32(BCAttemptAcquire):
		return shapePriDesc
	case uint32(BRAttemptAcquire):
		return shapePriPtrCookie
	case uint32(BCRequestDeathNotification), uint32(BCClearDeathNotification):
		return shapeHandleCookie
	case uint32(BCRegisterLooper), uint32(BCEnterLooper), uint32(BCExitLooper),
		uint32(BROk), uint32(BRDeadReply), uint32(BRTransactionComplete), uint32(BRNoop),
		uint32(BRSpawnLooper), uint32(BRFinished), uint32(BRFailedReply):
		return shapeNone
	default:
		return shapeUnknown
	}
}

// KnownOpcode reports whether code is a BC or BR opcode of protocol version 8.
func KnownOpcode(code uint32) bool {
	return shapeOf(code) != shapeUnknown
}

// RecordSize returns the encoded size of a record with the given opcode.
func RecordSize(code uint32) int {
	return 4 + PayloadSize(code)
}

// AppendRecord appends the wire encoding of r to dst and returns the
// extended slice.
func AppendRecord(dst []byte, r Record) ([]byte, error) {
	sh := shapeOf(r.Code)
	if sh == shapeUnknown {
		return dst, fmt.Errorf("cannot encode unknown opcode %#x", r.Code)
	}
	n := RecordSize(r.Code)
	pos := len(dst)
	dst = append(dst, make([]byte, n)...)
	b := dst[pos : pos+n]
	ByteOrder.PutUint32(b[0:4], r.Code)
	p := b[4:]

	switch sh {
	case shapeTransaction:
		r.Transaction.Serialize(p)
	case shapeValue:
		ByteOrder.PutUint32(p[0:4], uint32(r.Value))
	case shapeHandle:
		ByteOrder.PutUint32(p[0:4], r.Handle)
	case shapePtr:
		ByteOrder.PutUint64(p[0:8], r.Ptr)
	case shapeCookie:
		ByteOrder.PutUint64(p[0:8], r.Cookie)
	case shapePtrCookie:
		ByteOrder.PutUint64(p[0:8], r.Ptr)
		ByteOrder.PutUint64(p[8:16], r.Cookie)
	case shapePriDesc:
		ByteOrder.PutUint32(p[0:4], uint32(r.Value))
		ByteOrder.PutUint32(p[4:8], r.Handle)
	case shapePriPtrCookie:
		ByteOrder.PutUint32(p[0:4], uint32(r.Value))
		ByteOrder.PutUint64(p[8:16], r.Ptr)
		ByteOrder.PutUint64(p[16:24], r.Cookie)
	case shapeHandleCookie:
		ByteOrder.PutUint32(p[0:4], r.Handle)
		ByteOrder.PutUint64(p[4:12], r.Cookie)
	}
	return dst, nil
}

// DecodeRecord decodes the first record in b and returns it together with the
// number of bytes it occupies.
func DecodeRecord(b []byte) (Record, int, error) {
	var r Record
	if len(b) < 4 {
		return r, 0, fmt.Errorf("data too short for opcode: %d bytes", len(b))
	}
	r.Code = ByteOrder.Uint32(b[0:4])
	sh := shapeOf(r.Code)
	if sh == shapeUnknown {
		return r, 0, fmt.Errorf("unknown opcode %#x", r.Code)
	}
	n := RecordSize(r.Code)
	if len(b) < n {
		return r, 0, fmt.Errorf("data too short for %s: have %d bytes, need %d", OpcodeName(r.Code), len(b), n)
	}
	p := b[4:n]

	switch sh {
	case shapeTransaction:
		if err := r.Transaction.Deserialize(p); err != nil {
			return r, 0, fmt.Errorf("failed to decode %s: %w", OpcodeName(r.Code), err)
		}
	case shapeValue:
		r.Value = int32(ByteOrder.Uint32(p[0:4]))
	case shapeHandle:
		r.Handle = ByteOrder.Uint32(p[0:4])
	case shapePtr:
		r.Ptr = ByteOrder.Uint64(p[0:8])
	case shapeCookie:
		r.Cookie = ByteOrder.Uint64(p[0:8])
	case shapePtrCookie:
		r.Ptr = ByteOrder.Uint64(p[0:8])
		r.Cookie = ByteOrder.Uint64(p[8:16])
	case shapePriDesc:
		r.Value = int32(ByteOrder.Uint32(p[0:4]))
		r.Handle = ByteOrder.Uint32(p[4:8])
	case shapePriPtrCookie:
		r.Value = int32(ByteOrder.Uint32(p[0:4]))
		r.Ptr = ByteOrder.Uint64(p[8:16])
		r.Cookie = ByteOrder.Uint64(p[16:24])
	case shapeHandleCookie:
		r.Handle = ByteOrder.Uint32(p[0:4])
		r.Cookie = ByteOrder.Uint64(p[4:12])
	}
	return r, n, nil
}

// DecodeRecords decodes a whole command stream.
func DecodeRecords(b []byte) ([]Record, error) {
	var out []Record
	for len(b) > 0 {
		r, n, err := DecodeRecord(b)
		if err != nil {
			return out, err
		}
		out = append(out, r)
		b = b[n:]
	}
	return out, nil
}
