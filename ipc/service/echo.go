// Package service contains dispatch targets served by the dipc tool.
package service

import (
	"fmt"
	"github.com/ValentinKolb/dIPC/ipc/engine"
	"github.com/ValentinKolb/dIPC/ipc/parcel"
	"github.com/ValentinKolb/dIPC/ipc/protocol"
	"sync/atomic"
)

// EchoDescriptor is the interface descriptor of the echo service.
const EchoDescriptor = "dipc.IEcho"

// Echo transaction codes.
const (
	CodeEcho   = protocol.FirstCallTransaction     // replies the string it receives
	CodeWhoAmI = protocol.FirstCallTransaction + 1 // replies calling pid and uid
)

// Echo is a minimal service: it answers ping and interface queries, echoes
// strings and tells callers who they are.
type Echo struct {
	calls atomic.Uint64
}

// NewEcho creates an echo service.
func NewEcho() *Echo {
	return &Echo{}
}

// Calls returns the number of transactions served.
func (e *Echo) Calls() uint64 {
	return e.calls.Load()
}

// --------------------------------------------------------------------------
// Interface Methods (docu see engine.IBinder)
// --------------------------------------------------------------------------

func (e *Echo) Transact(t *engine.Thread, code uint32, data, reply *parcel.Parcel, flags uint32) error {
	e.calls.Add(1)

	switch code {
	case protocol.PingTransaction:
		return nil

	case protocol.InterfaceTransaction:
		reply.WriteString16(EchoDescriptor)
		return nil

	case CodeEcho:
		msg, err := data.ReadString()
		if err != nil {
			return fmt.Errorf("echo: %w", err)
		}
		engine.Logger.Debugf("echo %q for pid %d", msg, t.CallingPid())
		reply.WriteString(msg)
		return nil

	case CodeWhoAmI:
		reply.WriteInt32(t.CallingPid())
		reply.WriteUint32(t.CallingUid())
		return nil

	default:
		return protocol.StatusUnknownTransaction
	}
}
