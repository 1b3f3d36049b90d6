package engine

import (
	"fmt"
	"github.com/ValentinKolb/dIPC/ipc/parcel"
	"github.com/ValentinKolb/dIPC/ipc/protocol"
)

// flatBinderFlags are the flags of every flattened local object: minimum
// priority 0x7f, file descriptors accepted.
const flatBinderFlags = protocol.FlatFlagAcceptsFDs | 0x7f

// FlattenBinder returns the flat object that names b in a parcel. Local
// objects are entered into the node table; proxies flatten to their handle.
// A nil binder flattens to an empty local reference.
func (p *Process) FlattenBinder(b IBinder) protocol.FlatObject {
	if b == nil {
		return protocol.FlatObject{Type: protocol.TypeBinder, Flags: flatBinderFlags}
	}
	if proxy, ok := b.(*Proxy); ok {
		return p.FlattenProxy(proxy)
	}
	n := p.nodes.register(b)
	return protocol.FlatObject{
		Type:   protocol.TypeBinder,
		Flags:  flatBinderFlags,
		Binder: n.id,
		Cookie: n.id,
	}
}

// FlattenProxy returns the flat object that names a remote handle.
func (p *Process) FlattenProxy(proxy *Proxy) protocol.FlatObject {
	return protocol.FlatObject{
		Type:   protocol.TypeHandle,
		Flags:  flatBinderFlags,
		Binder: uint64(proxy.handle),
	}
}

// Unflatten resolves a flat object read from a parcel. Local objects
// resolve to the registered binder; handles resolve to a proxy on which the
// caller receives a weak reference.
func (p *Process) Unflatten(t *Thread, obj protocol.FlatObject) (IBinder, error) {
	switch obj.Type {
	case protocol.TypeBinder, protocol.TypeWeakBinder:
		if obj.Cookie == 0 {
			return nil, nil
		}
		n, ok := p.nodes.lookup(obj.Cookie)
		if !ok {
			return nil, fmt.Errorf("unknown local node %#x: %w", obj.Cookie, protocol.StatusNameNotFound)
		}
		return n.binder, nil
	case protocol.TypeHandle, protocol.TypeWeakHandle:
		return p.ProxyForHandle(t, obj.Handle()), nil
	default:
		return nil, fmt.Errorf("flat object type %#x is not a binder: %w", obj.Type, protocol.StatusBadType)
	}
}

// WriteBinder flattens b into data.
func (p *Process) WriteBinder(data *parcel.Parcel, b IBinder) {
	data.WriteObject(p.FlattenBinder(b))
}

// ReadBinder reads a flattened binder from data and resolves it.
func (p *Process) ReadBinder(t *Thread, data *parcel.Parcel) (IBinder, error) {
	obj, err := data.ReadObject()
	if err != nil {
		return nil, err
	}
	return p.Unflatten(t, obj)
}
