package parcel

import (
	"errors"
	"fmt"
	"github.com/ValentinKolb/dIPC/ipc/protocol"
	"slices"
	"unicode/utf16"
)

// ErrReadOnly is recorded when writing into a wrapped parcel.
var ErrReadOnly = errors.New("parcel is read-only")

// Parcel is a serialized payload with an offsets table of embedded objects.
// It is not safe for concurrent use.
type Parcel struct {
	data    []byte
	objects []uint64 // offsets of flattened objects in data, ascending
	pos     int
	err     error

	readOnly bool
	release  func()
}

// New creates an empty writable parcel.
func New() *Parcel {
	return &Parcel{}
}

// Wrap creates a read-only parcel over data and objects without copying
// them. release is called exactly once, by the first Recycle.
func Wrap(data []byte, objects []uint64, release func()) *Parcel {
	return &Parcel{
		data:     data,
		objects:  objects,
		readOnly: true,
		release:  release,
	}
}

// Recycle drops the content. For a wrapped parcel it runs the release
// callback; the wrapped memory must not be touched afterwards.
func (p *Parcel) Recycle() {
	release := p.release
	p.data = nil
	p.objects = nil
	p.pos = 0
	p.err = nil
	p.readOnly = false
	p.release = nil
	if release != nil {
		release()
	}
}

// CopyFrom replaces the content of a writable parcel with a copy of src and
// rewinds the cursor.
func (p *Parcel) CopyFrom(src *Parcel) {
	if p.readOnly {
		p.SetError(ErrReadOnly)
		return
	}
	p.data = slices.Clone(src.data)
	p.objects = slices.Clone(src.objects)
	p.pos = 0
}

// --------------------------------------------------------------------------
// Accessors
// --------------------------------------------------------------------------

// Data returns the payload bytes.
func (p *Parcel) Data() []byte { return p.data }

// DataSize returns the payload length.
func (p *Parcel) DataSize() int { return len(p.data) }

// Objects returns the offsets of the embedded objects.
func (p *Parcel) Objects() []uint64 { return p.objects }

// Position returns the read cursor.
func (p *Parcel) Position() int { return p.pos }

// SetPosition moves the read cursor.
func (p *Parcel) SetPosition(pos int) {
	p.pos = min(max(pos, 0), len(p.data))
}

// Avail returns the number of unread payload bytes.
func (p *Parcel) Avail() int { return len(p.data) - p.pos }

// Err returns the first error recorded while writing.
func (p *Parcel) Err() error { return p.err }

// SetError records err unless an error is already recorded.
func (p *Parcel) SetError(err error) {
	if p.err == nil {
		p.err = err
	}
}

// IsWrapped reports whether the parcel references memory it does not own.
func (p *Parcel) IsWrapped() bool { return p.readOnly }

// --------------------------------------------------------------------------
// Writing
// --------------------------------------------------------------------------

func pad4(n int) int { return (n + 3) &^ 3 }

// grow appends n zero bytes, padded to 4, and returns the unpadded part.
func (p *Parcel) grow(n int) []byte {
	if p.readOnly {
		p.SetError(ErrReadOnly)
		return make([]byte, n)
	}
	start := len(p.data)
	p.data = append(p.data, make([]byte, pad4(n))...)
	return p.data[start : start+n]
}

func (p *Parcel) WriteInt32(v int32) { p.WriteUint32(uint32(v)) }

func (p *Parcel) WriteUint32(v uint32) { protocol.ByteOrder.PutUint32(p.grow(4), v) }

func (p *Parcel) WriteInt64(v int64) { p.WriteUint64(uint64(v)) }

func (p *Parcel) WriteUint64(v uint64) { protocol.ByteOrder.PutUint64(p.grow(8), v) }

func (p *Parcel) WriteBool(v bool) {
	if v {
		p.WriteInt32(1)
	} else {
		p.WriteInt32(0)
	}
}

// WriteBytes writes a length-prefixed byte array. A nil slice is written as
// length -1.
func (p *Parcel) WriteBytes(v []byte) {
	if v == nil {
		p.WriteInt32(-1)
		return
	}
	p.WriteInt32(int32(len(v)))
	copy(p.grow(len(v)), v)
}

// WriteString writes a length-prefixed, NUL terminated UTF-8 string.
func (p *Parcel) WriteString(s string) {
	p.WriteInt32(int32(len(s)))
	copy(p.grow(len(s)+1), s)
}

// WriteString16 writes a length-prefixed, NUL terminated UTF-16 string, the
// encoding used for interface descriptors.
func (p *Parcel) WriteString16(s string) {
	units := utf16.Encode([]rune(s))
	p.WriteInt32(int32(len(units)))
	b := p.grow((len(units) + 1) * 2)
	for i, u := range units {
		protocol.ByteOrder.PutUint16(b[i*2:], u)
	}
}

// WriteInterfaceToken writes the strict mode policy header followed by the
// interface descriptor.
func (p *Parcel) WriteInterfaceToken(policy int32, descriptor string) {
	p.WriteInt32(policy)
	p.WriteString16(descriptor)
}

// WriteObject writes a flattened object and records its offset.
func (p *Parcel) WriteObject(obj protocol.FlatObject) {
	offset := uint64(len(p.data))
	obj.Serialize(p.grow(protocol.FlatObjectSize))
	if !p.readOnly {
		p.objects = append(p.objects, offset)
	}
}

// --------------------------------------------------------------------------
// Reading
// --------------------------------------------------------------------------

func (p *Parcel) next(n int) ([]byte, error) {
	if n < 0 || p.Avail() < n {
		return nil, fmt.Errorf("read of %d bytes at %d: %w", n, p.pos, protocol.StatusNotEnoughData)
	}
	b := p.data[p.pos : p.pos+n]
	p.pos = min(p.pos+pad4(n), len(p.data))
	return b, nil
}

func (p *Parcel) ReadInt32() (int32, error) {
	v, err := p.ReadUint32()
	return int32(v), err
}

func (p *Parcel) ReadUint32() (uint32, error) {
	b, err := p.next(4)
	if err != nil {
		return 0, err
	}
	return protocol.ByteOrder.Uint32(b), nil
}

func (p *Parcel) ReadInt64() (int64, error) {
	v, err := p.ReadUint64()
	return int64(v), err
}

func (p *Parcel) ReadUint64() (uint64, error) {
	b, err := p.next(8)
	if err != nil {
		return 0, err
	}
	return protocol.ByteOrder.Uint64(b), nil
}

func (p *Parcel) ReadBool() (bool, error) {
	v, err := p.ReadInt32()
	return v != 0, err
}

// ReadBytes reads a length-prefixed byte array. The result is a copy.
func (p *Parcel) ReadBytes() ([]byte, error) {
	n, err := p.ReadInt32()
	if err != nil {
		return nil, err
	}
	if n == -1 {
		return nil, nil
	}
	if n < 0 {
		return nil, fmt.Errorf("negative byte array length %d: %w", n, protocol.StatusBadValue)
	}
	b, err := p.next(int(n))
	if err != nil {
		return nil, err
	}
	return slices.Clone(b), nil
}

// ReadString reads a string written by WriteString.
func (p *Parcel) ReadString() (string, error) {
	n, err := p.ReadInt32()
	if err != nil {
		return "", err
	}
	if n < 0 {
		return "", fmt.Errorf("negative string length %d: %w", n, protocol.StatusBadValue)
	}
	b, err := p.next(int(n) + 1)
	if err != nil {
		return "", err
	}
	return string(b[:n]), nil
}

// ReadString16 reads a string written by WriteString16.
func (p *Parcel) ReadString16() (string, error) {
	n, err := p.ReadInt32()
	if err != nil {
		return "", err
	}
	if n < 0 {
		return "", fmt.Errorf("negative string16 length %d: %w", n, protocol.StatusBadValue)
	}
	b, err := p.next((int(n) + 1) * 2)
	if err != nil {
		return "", err
	}
	units := make([]uint16, n)
	for i := range units {
		units[i] = protocol.ByteOrder.Uint16(b[i*2:])
	}
	return string(utf16.Decode(units)), nil
}

// EnforceInterface reads an interface token and checks its descriptor. It
// returns the strict mode policy of the caller.
func (p *Parcel) EnforceInterface(descriptor string) (int32, error) {
	policy, err := p.ReadInt32()
	if err != nil {
		return 0, err
	}
	got, err := p.ReadString16()
	if err != nil {
		return 0, err
	}
	if got != descriptor {
		return 0, fmt.Errorf("interface %q does not match %q: %w", got, descriptor, protocol.StatusPermissionDenied)
	}
	return policy, nil
}

// ReadObject reads a flattened object. The cursor must sit on an offset
// listed in the objects table.
func (p *Parcel) ReadObject() (protocol.FlatObject, error) {
	var obj protocol.FlatObject
	if _, found := slices.BinarySearch(p.objects, uint64(p.pos)); !found {
		return obj, fmt.Errorf("no object at offset %d: %w", p.pos, protocol.StatusBadType)
	}
	b, err := p.next(protocol.FlatObjectSize)
	if err != nil {
		return obj, err
	}
	if err := obj.Deserialize(b); err != nil {
		return obj, fmt.Errorf("%v: %w", err, protocol.StatusBadType)
	}
	return obj, nil
}
