package protocol

import "fmt"

// --------------------------------------------------------------------------
// Opcode Types
// --------------------------------------------------------------------------

// Command is an opcode written by user space into the write half of a
// BINDER_WRITE_READ exchange (BC_* in the kernel headers).
type Command uint32

// Return is an opcode produced by the driver into the read half of a
// BINDER_WRITE_READ exchange (BR_* in the kernel headers).
type Return uint32

// PayloadSize returns the number of payload bytes following an opcode.
// Binder opcodes are ioctl numbers, so the size lives in bits 16..29.
func PayloadSize(code uint32) int {
	return int((code >> 16) & 0x3fff)
}

// --------------------------------------------------------------------------
// Command Constants (user space -> driver)
// --------------------------------------------------------------------------

const (
	BCTransaction              Command = 0x40406300 // TransactionData
	BCReply                    Command = 0x40406301 // TransactionData
	BCAcquireResult            Command = 0x40046302 // int32 result
	BCFreeBuffer               Command = 0x40086303 // uint64 buffer address
	BCIncRefs                  Command = 0x40046304 // uint32 handle
	BCAcquire                  Command = 0x40046305 // uint32 handle
	BCRelease                  Command = 0x40046306 // uint32 handle
	BCDecRefs                  Command = 0x40046307 // uint32 handle
	BCIncRefsDone              Command = 0x40106308 // uint64 ptr, uint64 cookie
	BCAcquireDone              Command = 0x40106309 // uint64 ptr, uint64 cookie
	BCAttemptAcquire           Command = 0x4008630a // int32 priority, uint32 handle
	BCRegisterLooper           Command = 0x0000630b
	BCEnterLooper              Command = 0x0000630c
	BCExitLooper               Command = 0x0000630d
	BCRequestDeathNotification Command = 0x400c630e // uint32 handle, uint64 cookie (packed)
	BCClearDeathNotification   Command = 0x400c630f // uint32 handle, uint64 cookie (packed)
	BCDeadBinderDone           Command = 0x40086310 // uint64 cookie
)

// --------------------------------------------------------------------------
// Return Constants (driver -> user space)
// --------------------------------------------------------------------------

const (
	BRError                      Return = 0x80047200 // int32 status
	BROk                         Return = 0x00007201
	BRTransaction                Return = 0x80407202 // TransactionData
	BRReply                      Return = 0x80407203 // TransactionData
	BRAcquireResult              Return = 0x80047204 // int32 result
	BRDeadReply                  Return = 0x00007205
	BRTransactionComplete        Return = 0x00007206
	BRIncRefs                    Return = 0x80107207 // uint64 ptr, uint64 cookie
	BRAcquire                    Return = 0x80107208 // uint64 ptr, uint64 cookie
	BRRelease                    Return = 0x80107209 // uint64 ptr, uint64 cookie
	BRDecRefs                    Return = 0x8010720a // uint64 ptr, uint64 cookie
	BRAttemptAcquire             Return = 0x8018720b // int32 priority, pad, uint64 ptr, uint64 cookie
	BRNoop                       Return = 0x0000720c
	BRSpawnLooper                Return = 0x0000720d
	BRFinished                   Return = 0x0000720e
	BRDeadBinder                 Return = 0x8008720f // uint64 cookie
	BRClearDeathNotificationDone Return = 0x80087210 // uint64 cookie
	BRFailedReply                Return = 0x00007211
)

// --------------------------------------------------------------------------
// Opcode Names
// --------------------------------------------------------------------------

// CommandNames maps command opcodes to their kernel header names for logging.
var CommandNames = map[Command]string{
	BCTransaction:              "BC_TRANSACTION",
	BCReply:                    "BC_REPLY",
	BCAcquireResult:            "BC_ACQUIRE_RESULT",
	BCFreeBuffer:               "BC_FREE_BUFFER",
	BCIncRefs:                  "BC_INCREFS",
	BCAcquire:                  "BC_ACQUIRE",
	BCRelease:                  "BC_RELEASE",
	BCDecRefs:                  "BC_DECREFS",
	BCIncRefsDone:              "BC_INCREFS_DONE",
	BCAcquireDone:              "BC_ACQUIRE_DONE",
	BCAttemptAcquire:           "BC_ATTEMPT_ACQUIRE",
	BCRegisterLooper:           "BC_REGISTER_LOOPER",
	BCEnterLooper:              "BC_ENTER_LOOPER",
	BCExitLooper:               "BC_EXIT_LOOPER",
	BCRequestDeathNotification: "BC_REQUEST_DEATH_NOTIFICATION",
	BCClearDeathNotification:   "BC_CLEAR_DEATH_NOTIFICATION",
	BCDeadBinderDone:           "BC_DEAD_BINDER_DONE",
}

// ReturnNames maps return opcodes to their kernel header names for logging.
var ReturnNames = map[Return]string{
	BRError:                      "BR_ERROR",
	BROk:                         "BR_OK",
	BRTransaction:                "BR_TRANSACTION",
	BRReply:                      "BR_REPLY",
	BRAcquireResult:              "BR_ACQUIRE_RESULT",
	BRDeadReply:                  "BR_DEAD_REPLY",
	BRTransactionComplete:        "BR_TRANSACTION_COMPLETE",
	BRIncRefs:                    "BR_INCREFS",
	BRAcquire:                    "BR_ACQUIRE",
	BRRelease:                    "BR_RELEASE",
	BRDecRefs:                    "BR_DECREFS",
	BRAttemptAcquire:             "BR_ATTEMPT_ACQUIRE",
	BRNoop:                       "BR_NOOP",
	BRSpawnLooper:                "BR_SPAWN_LOOPER",
	BRFinished:                   "BR_FINISHED",
	BRDeadBinder:                 "BR_DEAD_BINDER",
	BRClearDeathNotificationDone: "BR_CLEAR_DEATH_NOTIFICATION_DONE",
	BRFailedReply:                "BR_FAILED_REPLY",
}

// String returns the kernel header name of the command.
func (c Command) String() string {
	if name, ok := CommandNames[c]; ok {
		return name
	}
	return fmt.Sprintf("BC_UNKNOWN(%#x)", uint32(c))
}

// String returns the kernel header name of the return code.
func (r Return) String() string {
	if name, ok := ReturnNames[r]; ok {
		return name
	}
	return fmt.Sprintf("BR_UNKNOWN(%#x)", uint32(r))
}

// OpcodeName names a BC or BR opcode or a device ioctl. BC and BR opcodes never
// collide because their ioctl type bytes differ ('c' and 'r').
func OpcodeName(code uint32) string {
	if name, ok := CommandNames[Command(code)]; ok {
		return name
	}
	if name, ok := ReturnNames[Return(code)]; ok {
		return name
	}
	if name, ok := IoctlNames[code]; ok {
		return name
	}
	return fmt.Sprintf("UNKNOWN(%#x)", code)
}

// --------------------------------------------------------------------------
// Well-known Transaction Codes
// --------------------------------------------------------------------------

// Four-character codes are packed big-end first, like B_PACK_CHARS.
const (
	PingTransaction      uint32 = '_'<<24 | 'P'<<16 | 'N'<<8 | 'G'
	DumpTransaction      uint32 = '_'<<24 | 'D'<<16 | 'M'<<8 | 'P'
	InterfaceTransaction uint32 = '_'<<24 | 'N'<<16 | 'T'<<8 | 'F'

	FirstCallTransaction uint32 = 0x00000001
	LastCallTransaction  uint32 = 0x00ffffff
)
