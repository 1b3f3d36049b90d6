package protocol

import (
	"errors"
	"fmt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
	"testing"
)

// ioc rebuilds an ioctl number from its parts (asm-generic/ioctl.h).
func ioc(dir, typ, nr, size uint32) uint32 {
	return dir<<30 | size<<16 | typ<<8 | nr
}

const (
	iocNone  = 0
	iocWrite = 1
	iocRead  = 2
)

func TestOpcodeValues(t *testing.T) {
	tests := []struct {
		name string
		got  uint32
		want uint32
	}{
		{"BC_TRANSACTION", uint32(BCTransaction), ioc(iocWrite, 'c', 0, TransactionDataSize)},
		{"BC_REPLY", uint32(BCReply), ioc(iocWrite, 'c', 1, TransactionDataSize)},
		{"BC_ACQUIRE_RESULT", uint32(BCAcquireResult), ioc(iocWrite, 'c', 2, 4)},
		{"BC_FREE_BUFFER", uint32(BCFreeBuffer), ioc(iocWrite, 'c', 3, 8)},
		{"BC_DECREFS", uint32(BCDecRefs), ioc(iocWrite, 'c', 7, 4)},
		{"BC_ACQUIRE_DONE", uint32(BCAcquireDone), ioc(iocWrite, 'c', 9, PtrCookieSize)},
		{"BC_ATTEMPT_ACQUIRE", uint32(BCAttemptAcquire), ioc(iocWrite, 'c', 10, PriDescSize)},
		{"BC_EXIT_LOOPER", uint32(BCExitLooper), ioc(iocNone, 'c', 13, 0)},
		{"BC_CLEAR_DEATH_NOTIFICATION", uint32(BCClearDeathNotification), ioc(iocWrite, 'c', 15, HandleCookieSize)},
		{"BC_DEAD_BINDER_DONE", uint32(BCDeadBinderDone), ioc(iocWrite, 'c', 16, 8)},
		{"BR_ERROR", uint32(BRError), ioc(iocRead, 'r', 0, 4)},
		{"BR_REPLY", uint32(BRReply), ioc(iocRead, 'r', 3, TransactionDataSize)},
		{"BR_TRANSACTION_COMPLETE", uint32(BRTransactionComplete), ioc(iocNone, 'r', 6, 0)},
		{"BR_DECREFS", uint32(BRDecRefs), ioc(iocRead, 'r', 10, PtrCookieSize)},
		{"BR_ATTEMPT_ACQUIRE", uint32(BRAttemptAcquire), ioc(iocRead, 'r', 11, PriPtrCookieSize)},
		{"BR_DEAD_BINDER", uint32(BRDeadBinder), ioc(iocRead, 'r', 15, 8)},
		{"BR_FAILED_REPLY", uint32(BRFailedReply), ioc(iocNone, 'r', 17, 0)},
		{"BINDER_WRITE_READ", IoctlWriteRead, ioc(iocRead|iocWrite, 'b', 1, WriteReadSize)},
		{"BINDER_VERSION", IoctlVersion, ioc(iocRead|iocWrite, 'b', 9, 4)},
		{"BINDER_THREAD_EXIT", IoctlThreadExit, ioc(iocWrite, 'b', 8, 4)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, fmt.Sprintf("%#x", tt.want), fmt.Sprintf("%#x", tt.got))
			assert.Equal(t, tt.name, OpcodeName(tt.got), "name lookup")
		})
	}
}

func TestOpcodeNames(t *testing.T) {
	assert.Equal(t, "BC_ENTER_LOOPER", BCEnterLooper.String())
	assert.Equal(t, "BR_SPAWN_LOOPER", BRSpawnLooper.String())
	assert.Equal(t, "BC_UNKNOWN(0x1234)", Command(0x1234).String())
	assert.Equal(t, "BR_UNKNOWN(0x7299)", Return(0x7299).String())
	assert.Equal(t, uint32(0x5f504e47), PingTransaction)
}

func TestTransactionDataRoundTrip(t *testing.T) {
	in := TransactionData{
		Target:        5,
		Cookie:        0xdeadbeef,
		Code:          7,
		Flags:         FlagOneWay | FlagAcceptFDs,
		SenderPID:     -1,
		SenderEUID:    1000,
		DataSize:      11,
		OffsetsSize:   16,
		DataBuffer:    0x7f0000001000,
		OffsetsBuffer: 0x7f0000002000,
	}

	b := make([]byte, in.SizeBytes())
	in.Serialize(b)

	var out TransactionData
	require.NoError(t, out.Deserialize(b))
	assert.Equal(t, in, out)
	assert.Equal(t, uint32(5), out.Handle())
	assert.Equal(t, 2, out.OffsetsCount())
	assert.True(t, out.IsOneWay())

	assert.Error(t, out.Deserialize(b[:TransactionDataSize-1]))

	bad := in
	bad.OffsetsSize = 12
	bad.Serialize(b)
	assert.Error(t, out.Deserialize(b))
}

func TestRecordRoundTrip(t *testing.T) {
	tests := []Record{
		{Code: uint32(BCTransaction), Transaction: TransactionData{Target: 5, Code: 7, Flags: FlagAcceptFDs, DataSize: 5, DataBuffer: 0x1000}},
		{Code: uint32(BRError), Value: int32(StatusDeadObject)},
		{Code: uint32(BCAcquire), Handle: 3},
		{Code: uint32(BCFreeBuffer), Ptr: 0x4000},
		{Code: uint32(BRDeadBinder), Cookie: 9},
		{Code: uint32(BCIncRefsDone), Ptr: 1, Cookie: 2},
		{Code: uint32(BCAttemptAcquire), Value: -4, Handle: 8},
		{Code: uint32(BRAttemptAcquire), Value: 10, Ptr: 11, Cookie: 12},
		{Code: uint32(BCRequestDeathNotification), Handle: 6, Cookie: 0x60},
		{Code: uint32(BRNoop)},
	}

	var stream []byte
	for _, r := range tests {
		var err error
		stream, err = AppendRecord(stream, r)
		require.NoError(t, err, r.String())
	}

	got, err := DecodeRecords(stream)
	require.NoError(t, err)
	require.Len(t, got, len(tests))
	for i := range tests {
		t.Run(OpcodeName(tests[i].Code), func(t *testing.T) {
			assert.Equal(t, tests[i], got[i])
		})
	}
}

func TestDecodeRecordErrors(t *testing.T) {
	t.Run("short opcode", func(t *testing.T) {
		_, _, err := DecodeRecord([]byte{1, 2})
		assert.Error(t, err)
	})
	t.Run("unknown opcode", func(t *testing.T) {
		b := make([]byte, 4)
		ByteOrder.PutUint32(b, 0x7299)
		_, _, err := DecodeRecord(b)
		assert.Error(t, err)
	})
	t.Run("short payload", func(t *testing.T) {
		b, err := AppendRecord(nil, Record{Code: uint32(BRIncRefs), Ptr: 1, Cookie: 1})
		require.NoError(t, err)
		_, _, err = DecodeRecord(b[:10])
		assert.Error(t, err)
	})
	t.Run("encode unknown", func(t *testing.T) {
		_, err := AppendRecord(nil, Record{Code: 0x1})
		assert.Error(t, err)
	})
}

func TestFlatObject(t *testing.T) {
	in := FlatObject{Type: TypeHandle, Flags: FlatFlagAcceptsFDs | 0x7f, Binder: 42}
	b := make([]byte, FlatObjectSize)
	in.Serialize(b)

	var out FlatObject
	require.NoError(t, out.Deserialize(b))
	assert.Equal(t, in, out)
	assert.Equal(t, uint32(42), out.Handle())
	assert.False(t, out.IsLocal())

	ByteOrder.PutUint32(b[0:4], 0x1234)
	assert.Error(t, out.Deserialize(b))
}

func TestStatus(t *testing.T) {
	assert.Equal(t, int32(-32), int32(StatusDeadObject))
	assert.Equal(t, int32(-9), int32(StatusBadDescriptor))
	assert.Equal(t, int32(-2147483646), int32(StatusFailedTransaction))
	assert.Equal(t, "DEAD_OBJECT", StatusDeadObject.String())
	assert.Contains(t, StatusTimedOut.Error(), "TIMED_OUT")
	assert.Equal(t, "STATUS(-12345)", Status(-12345).String())

	assert.NoError(t, StatusOK.Err())
	assert.Equal(t, StatusBadValue, StatusFromErrno(unix.EINVAL))
	assert.Equal(t, StatusOK, StatusFromErrno(0))

	wrapped := fmt.Errorf("call failed: %w", StatusDeadObject)
	assert.True(t, errors.Is(wrapped, StatusDeadObject))
	assert.Equal(t, StatusDeadObject, StatusOf(wrapped))
	assert.Equal(t, StatusOK, StatusOf(nil))
	assert.Equal(t, StatusUnknownError, StatusOf(errors.New("plain")))
}
