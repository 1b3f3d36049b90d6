package engine

import (
	"github.com/ValentinKolb/dIPC/ipc/parcel"
)

// --------------------------------------------------------------------------
// Interface Definition
// --------------------------------------------------------------------------

// IBinder is a dispatch target. Local objects implement it to serve incoming
// transactions; *Proxy implements it for objects of other processes.
//
// Local implementations must be comparable (typically pointer types) since
// they are used as keys of the node table.
type IBinder interface {
	// Transact handles one call. t is the calling thread, data is only valid
	// until Transact returns. The returned error is sent back to the caller
	// as a status code when the call is not one-way.
	Transact(t *Thread, code uint32, data, reply *parcel.Parcel, flags uint32) error
}

// IFirstRefObserver is notified when the driver takes the first strong
// reference on a local object.
type IFirstRefObserver interface {
	OnFirstRef()
}

// ILastStrongRefObserver is notified when the last strong reference on a
// local object is dropped.
type ILastStrongRefObserver interface {
	OnLastStrongRef()
}

// IDeathRecipient is notified once when the process behind a proxy dies.
type IDeathRecipient interface {
	BinderDied(p *Proxy)
}
