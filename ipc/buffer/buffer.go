// Package buffer provides the growable byte sequence the engine uses for
// its outgoing command stream and its most recent incoming return batch.
//
// A Buffer has an independent write end (Len) and read cursor (Pos). The
// capacity starts at InitialCapacity and grows by doubling, copying the
// written bytes in order. Buffers are owned by a single thread and are not
// safe for concurrent use.
package buffer

import (
	"encoding/binary"
	"fmt"
)

// InitialCapacity is the capacity of a buffer created by New.
const InitialCapacity = 256

var order = binary.LittleEndian

// Buffer is a growable byte sequence with a read cursor.
type Buffer struct {
	data []byte // data[:len(data)] is written, cap(data) is the capacity
	pos  int    // read cursor, 0 <= pos <= len(data)
}

// New creates an empty buffer with InitialCapacity bytes of capacity.
func New() *Buffer {
	return &Buffer{data: make([]byte, 0, InitialCapacity)}
}

// --------------------------------------------------------------------------
// State
// --------------------------------------------------------------------------

// Len returns the number of written bytes.
func (b *Buffer) Len() int { return len(b.data) }

// Cap returns the current capacity.
func (b *Buffer) Cap() int { return cap(b.data) }

// Pos returns the read cursor.
func (b *Buffer) Pos() int { return b.pos }

// Avail returns the number of written bytes not yet read.
func (b *Buffer) Avail() int { return len(b.data) - b.pos }

// Exhausted reports whether the read cursor reached the write end.
func (b *Buffer) Exhausted() bool { return b.pos >= len(b.data) }

// Bytes returns all written bytes. The slice aliases the buffer until the
// next write.
func (b *Buffer) Bytes() []byte { return b.data }

// Unread returns the written bytes after the read cursor.
func (b *Buffer) Unread() []byte { return b.data[b.pos:] }

// Reset drops all bytes and rewinds the cursor. The capacity is kept.
func (b *Buffer) Reset() {
	b.data = b.data[:0]
	b.pos = 0
}

// Discard removes the first n written bytes, shifting the rest to the front.
// The read cursor moves back by n, never below zero.
func (b *Buffer) Discard(n int) {
	if n <= 0 {
		return
	}
	if n >= len(b.data) {
		b.Reset()
		return
	}
	rest := copy(b.data, b.data[n:])
	b.data = b.data[:rest]
	b.pos = max(b.pos-n, 0)
}

// Grow makes room for n more bytes without changing the written content.
// The capacity doubles until it fits.
func (b *Buffer) Grow(n int) {
	need := len(b.data) + n
	if need <= cap(b.data) {
		return
	}
	newCap := max(cap(b.data), InitialCapacity)
	for newCap < need {
		newCap *= 2
	}
	grown := make([]byte, len(b.data), newCap)
	copy(grown, b.data)
	b.data = grown
}

// Space returns the whole capacity as a writable slice for a driver read.
// Call Fill with the number of bytes the driver produced.
func (b *Buffer) Space() []byte {
	return b.data[:cap(b.data)]
}

// Fill replaces the content with the first n bytes of Space and rewinds the
// read cursor to the start of them.
func (b *Buffer) Fill(n int) error {
	if n < 0 || n > cap(b.data) {
		return fmt.Errorf("fill of %d bytes exceeds capacity %d", n, cap(b.data))
	}
	b.data = b.data[:n]
	b.pos = 0
	return nil
}

// --------------------------------------------------------------------------
// Writing
// --------------------------------------------------------------------------

// Extend appends n zero bytes and returns them for in-place encoding.
func (b *Buffer) Extend(n int) []byte {
	b.Grow(n)
	start := len(b.data)
	b.data = b.data[:start+n]
	clear(b.data[start:])
	return b.data[start:]
}

// Write appends p. It never fails.
func (b *Buffer) Write(p []byte) (int, error) {
	copy(b.Extend(len(p)), p)
	return len(p), nil
}

func (b *Buffer) WriteUint32(v uint32) { order.PutUint32(b.Extend(4), v) }

func (b *Buffer) WriteInt32(v int32) { b.WriteUint32(uint32(v)) }

func (b *Buffer) WriteUint64(v uint64) { order.PutUint64(b.Extend(8), v) }

// --------------------------------------------------------------------------
// Reading
// --------------------------------------------------------------------------

// Next returns the next n unread bytes and advances the cursor, or an error
// if fewer than n bytes are left. The cursor does not move on error.
func (b *Buffer) Next(n int) ([]byte, error) {
	if n < 0 || b.Avail() < n {
		return nil, fmt.Errorf("read of %d bytes at %d overruns buffer of %d bytes", n, b.pos, len(b.data))
	}
	p := b.data[b.pos : b.pos+n]
	b.pos += n
	return p, nil
}

func (b *Buffer) ReadUint32() (uint32, error) {
	p, err := b.Next(4)
	if err != nil {
		return 0, err
	}
	return order.Uint32(p), nil
}

func (b *Buffer) ReadInt32() (int32, error) {
	v, err := b.ReadUint32()
	return int32(v), err
}

func (b *Buffer) ReadUint64() (uint64, error) {
	p, err := b.Next(8)
	if err != nil {
		return 0, err
	}
	return order.Uint64(p), nil
}
