package protocol

import "fmt"

// Flattened object types (BINDER_TYPE_*), built like B_PACK_CHARS(c1, c2, c3, 0x85).
const (
	TypeBinder     uint32 = 0x73622a85 // "sb*"
	TypeWeakBinder uint32 = 0x77622a85 // "wb*"
	TypeHandle     uint32 = 0x73682a85 // "sh*"
	TypeWeakHandle uint32 = 0x77682a85 // "wh*"
	TypeFD         uint32 = 0x66642a85 // "fd*"
)

// Flat object flags.
const (
	FlatFlagPriorityMask uint32 = 0xff
	FlatFlagAcceptsFDs   uint32 = 0x100
)

// FlatObject is struct flat_binder_object. For TypeBinder and TypeWeakBinder,
// Binder and Cookie identify a local node; for TypeHandle and TypeWeakHandle
// only the low 32 bits of Binder are used and carry the remote handle.
type FlatObject struct {
	Type   uint32
	Flags  uint32
	Binder uint64 // binder ptr or handle
	Cookie uint64
}

// Handle returns the remote handle of a handle object.
func (o *FlatObject) Handle() uint32 {
	return uint32(o.Binder)
}

// IsLocal reports whether the object names a node owned by this process.
func (o *FlatObject) IsLocal() bool {
	return o.Type == TypeBinder || o.Type == TypeWeakBinder
}

// SizeBytes returns the serialized size of the object.
func (o *FlatObject) SizeBytes() int {
	return FlatObjectSize
}

// Serialize writes the object into b, which must hold FlatObjectSize bytes.
func (o *FlatObject) Serialize(b []byte) {
	_ = b[FlatObjectSize-1]
	ByteOrder.PutUint32(b[0:4], o.Type)
	ByteOrder.PutUint32(b[4:8], o.Flags)
	ByteOrder.PutUint64(b[8:16], o.Binder)
	ByteOrder.PutUint64(b[16:24], o.Cookie)
}

// Deserialize reads the object from b.
func (o *FlatObject) Deserialize(b []byte) error {
	if len(b) < FlatObjectSize {
		return fmt.Errorf("data too short for flat object: %d bytes", len(b))
	}
	o.Type = ByteOrder.Uint32(b[0:4])
	o.Flags = ByteOrder.Uint32(b[4:8])
	o.Binder = ByteOrder.Uint64(b[8:16])
	o.Cookie = ByteOrder.Uint64(b[16:24])

	switch o.Type {
	case TypeBinder, TypeWeakBinder, TypeHandle, TypeWeakHandle, TypeFD:
		return nil
	default:
		return fmt.Errorf("unknown flat object type %#x", o.Type)
	}
}
