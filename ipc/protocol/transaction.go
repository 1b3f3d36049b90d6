package protocol

import "fmt"

// Transaction flags (enum transaction_flags).
const (
	FlagOneWay     uint32 = 0x01 // this is a one-way call: async, no return
	FlagRootObject uint32 = 0x04 // contents are the component's root object
	FlagStatusCode uint32 = 0x08 // contents are a 32-bit status code
	FlagAcceptFDs  uint32 = 0x10 // allow replies with file descriptors
)

// TransactionData is struct binder_transaction_data. Target holds either a
// remote handle (outgoing BC_TRANSACTION) or the node pointer the driver
// resolved for an incoming BR_TRANSACTION; a zero target addresses the
// context manager.
type TransactionData struct {
	Target        uint64 // handle or node ptr
	Cookie        uint64 // node cookie (incoming only)
	Code          uint32 // transaction code
	Flags         uint32
	SenderPID     int32
	SenderEUID    uint32
	DataSize      uint64 // payload bytes
	OffsetsSize   uint64 // offsets table bytes
	DataBuffer    uint64 // payload address
	OffsetsBuffer uint64 // offsets table address
}

// Handle returns the target interpreted as a remote handle.
func (tr *TransactionData) Handle() uint32 {
	return uint32(tr.Target)
}

// OffsetsCount returns the number of entries in the offsets table.
func (tr *TransactionData) OffsetsCount() int {
	return int(tr.OffsetsSize / OffsetEntrySize)
}

// IsOneWay reports whether the transaction carries FlagOneWay.
func (tr *TransactionData) IsOneWay() bool {
	return tr.Flags&FlagOneWay != 0
}

// SizeBytes returns the serialized size of the record.
func (tr *TransactionData) SizeBytes() int {
	return TransactionDataSize
}

// Serialize writes the record into b, which must hold TransactionDataSize bytes,
// with the format:
// 8 bytes target (handle in the low 32 bits),
// 8 bytes cookie,
// 4 bytes code, 4 bytes flags,
// 4 bytes sender pid, 4 bytes sender euid,
// 8 bytes data size, 8 bytes offsets size,
// 8 bytes data address, 8 bytes offsets address
func (tr *TransactionData) Serialize(b []byte) {
	_ = b[TransactionDataSize-1]
	ByteOrder.PutUint64(b[0:8], tr.Target)
	ByteOrder.PutUint64(b[8:16], tr.Cookie)
	ByteOrder.PutUint32(b[16:20], tr.Code)
	ByteOrder.PutUint32(b[20:24], tr.Flags)
	ByteOrder.PutUint32(b[24:28], uint32(tr.SenderPID))
	ByteOrder.PutUint32(b[28:32], tr.SenderEUID)
	ByteOrder.PutUint64(b[32:40], tr.DataSize)
	ByteOrder.PutUint64(b[40:48], tr.OffsetsSize)
	ByteOrder.PutUint64(b[48:56], tr.DataBuffer)
	ByteOrder.PutUint64(b[56:64], tr.OffsetsBuffer)
}

// Deserialize reads the record from b.
func (tr *TransactionData) Deserialize(b []byte) error {
	if len(b) < TransactionDataSize {
		return fmt.Errorf("data too short for transaction record: %d bytes", len(b))
	}
	tr.Target = ByteOrder.Uint64(b[0:8])
	tr.Cookie = ByteOrder.Uint64(b[8:16])
	tr.Code = ByteOrder.Uint32(b[16:20])
	tr.Flags = ByteOrder.Uint32(b[20:24])
	tr.SenderPID = int32(ByteOrder.Uint32(b[24:28]))
	tr.SenderEUID = ByteOrder.Uint32(b[28:32])
	tr.DataSize = ByteOrder.Uint64(b[32:40])
	tr.OffsetsSize = ByteOrder.Uint64(b[40:48])
	tr.DataBuffer = ByteOrder.Uint64(b[48:56])
	tr.OffsetsBuffer = ByteOrder.Uint64(b[56:64])

	if tr.DataSize > maxTransactionPayload || tr.OffsetsSize > maxTransactionPayload {
		return fmt.Errorf("transaction record sizes out of range: data %d, offsets %d", tr.DataSize, tr.OffsetsSize)
	}
	if tr.OffsetsSize%OffsetEntrySize != 0 {
		return fmt.Errorf("offsets size %d is not a multiple of %d", tr.OffsetsSize, OffsetEntrySize)
	}
	return nil
}

func (tr TransactionData) String() string {
	return fmt.Sprintf("target=%#x cookie=%#x code=%#x flags=%#x pid=%d uid=%d data=%d@%#x offsets=%d@%#x",
		tr.Target, tr.Cookie, tr.Code, tr.Flags, tr.SenderPID, tr.SenderEUID,
		tr.DataSize, tr.DataBuffer, tr.OffsetsSize, tr.OffsetsBuffer)
}
