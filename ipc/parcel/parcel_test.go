package parcel

import (
	"github.com/ValentinKolb/dIPC/ipc/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"testing"
)

func TestPrimitives(t *testing.T) {
	p := New()
	p.WriteInt32(-7)
	p.WriteUint32(7)
	p.WriteInt64(-1 << 40)
	p.WriteUint64(1 << 63)
	p.WriteBool(true)
	p.WriteString("hello")
	p.WriteString16("grüße")
	p.WriteBytes([]byte{1, 2, 3})
	p.WriteBytes(nil)
	require.NoError(t, p.Err())
	assert.Zero(t, p.DataSize()%4, "payload stays 4-byte aligned")

	i32, err := p.ReadInt32()
	require.NoError(t, err)
	assert.Equal(t, int32(-7), i32)

	u32, err := p.ReadUint32()
	require.NoError(t, err)
	assert.Equal(t, uint32(7), u32)

	i64, err := p.ReadInt64()
	require.NoError(t, err)
	assert.Equal(t, int64(-1<<40), i64)

	u64, err := p.ReadUint64()
	require.NoError(t, err)
	assert.Equal(t, uint64(1<<63), u64)

	b, err := p.ReadBool()
	require.NoError(t, err)
	assert.True(t, b)

	s, err := p.ReadString()
	require.NoError(t, err)
	assert.Equal(t, "hello", s)

	s16, err := p.ReadString16()
	require.NoError(t, err)
	assert.Equal(t, "grüße", s16)

	raw, err := p.ReadBytes()
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, raw)

	raw, err = p.ReadBytes()
	require.NoError(t, err)
	assert.Nil(t, raw)

	assert.Zero(t, p.Avail())
	_, err = p.ReadInt32()
	assert.ErrorIs(t, err, protocol.StatusNotEnoughData)
}

func TestInterfaceToken(t *testing.T) {
	p := New()
	p.WriteInterfaceToken(3, "dipc.IEcho")

	policy, err := p.EnforceInterface("dipc.IEcho")
	require.NoError(t, err)
	assert.Equal(t, int32(3), policy)

	p.SetPosition(0)
	_, err = p.EnforceInterface("dipc.IOther")
	assert.ErrorIs(t, err, protocol.StatusPermissionDenied)
}

func TestObjects(t *testing.T) {
	p := New()
	p.WriteInt32(1)
	p.WriteObject(protocol.FlatObject{Type: protocol.TypeHandle, Binder: 4})
	p.WriteObject(protocol.FlatObject{Type: protocol.TypeBinder, Binder: 9, Cookie: 9})

	assert.Equal(t, []uint64{4, 4 + protocol.FlatObjectSize}, p.Objects())

	_, err := p.ReadObject()
	assert.ErrorIs(t, err, protocol.StatusBadType, "int32 at offset 0 is not an object")

	p.SetPosition(4)
	obj, err := p.ReadObject()
	require.NoError(t, err)
	assert.Equal(t, uint32(4), obj.Handle())

	obj, err = p.ReadObject()
	require.NoError(t, err)
	assert.True(t, obj.IsLocal())
	assert.Equal(t, uint64(9), obj.Cookie)
}

func TestWrap(t *testing.T) {
	src := New()
	src.WriteString("world")

	released := 0
	p := Wrap(src.Data(), nil, func() { released++ })
	assert.True(t, p.IsWrapped())

	s, err := p.ReadString()
	require.NoError(t, err)
	assert.Equal(t, "world", s)

	p.WriteInt32(1)
	assert.ErrorIs(t, p.Err(), ErrReadOnly)
	assert.Equal(t, src.DataSize(), p.DataSize(), "wrapped memory untouched")

	p.Recycle()
	p.Recycle()
	assert.Equal(t, 1, released)
	assert.Zero(t, p.DataSize())
}

func TestCopyFrom(t *testing.T) {
	src := New()
	src.WriteObject(protocol.FlatObject{Type: protocol.TypeHandle, Binder: 1})
	wrapped := Wrap(src.Data(), src.Objects(), nil)

	dst := New()
	dst.WriteInt32(99)
	dst.CopyFrom(wrapped)
	require.NoError(t, dst.Err())
	assert.Equal(t, src.Data(), dst.Data())
	assert.Equal(t, []uint64{0}, dst.Objects())

	dst.Data()[0] = 0xff
	assert.NotEqual(t, byte(0xff), src.Data()[0], "copy does not alias")

	wrapped.CopyFrom(dst)
	assert.ErrorIs(t, wrapped.Err(), ErrReadOnly)
}
