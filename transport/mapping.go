// Package transport implements the Address & Transport Registry and the
// connection-oriented transport server (§4.1, §4.5): pluggable per-class
// TransportMapping implementations (UDP, TCP, TLS, DTLS) registered under a
// shared lookup keyed by transport class and direction, mirroring the
// registry shape the dispatcher consults when it needs to send or has just
// received a message.
package transport

import (
	"context"
	"errors"
	"sync"

	"github.com/netmgmt/snmpcore/addr"
	"github.com/netmgmt/snmpcore/txstate"
)

// ErrClosed is returned by Send/Listen once a mapping has been closed.
var ErrClosed = errors.New("transport: mapping closed")

// IncomingMessage is one received datagram or framed stream message,
// handed to the dispatcher's process_message operation (§4.3 step 2).
type IncomingMessage struct {
	Data     []byte
	Source   *addr.Address
	StateRef *txstate.Reference
}

// Direction is a transport mapping's role in outbound destination lookup
// (§3 "Transport Mapping": "direction (sender/receiver/any)"; §4.1). A
// sender-direction mapping is selected to originate new requests; a
// receiver-direction mapping is selected to send a reply back to whoever
// asked. "Any" participates in both lookups.
type Direction int

const (
	DirectionSender Direction = iota
	DirectionReceiver
	DirectionAny
)

func (d Direction) String() string {
	switch d {
	case DirectionSender:
		return "sender"
	case DirectionReceiver:
		return "receiver"
	case DirectionAny:
		return "any"
	default:
		return "unknown"
	}
}

// Mapping is one transport-mapping implementation (§4.1 "Transport
// Mapping"): it owns a socket or listener for exactly one addr.Class and
// can send to / receive from peers of that class.
type Mapping interface {
	Class() addr.Class
	Direction() Direction
	LocalAddress() *addr.Address

	// Send transmits data to dest. stateRef, if non-nil, carries the
	// caller's expectations about the peer's transport-authenticated
	// security name (TSM); mapping implementations that don't support TSM
	// ignore it.
	Send(ctx context.Context, data []byte, dest *addr.Address, stateRef *txstate.Reference) error

	// Listen begins accepting/receiving and returns a channel of inbound
	// messages, open until Close is called.
	Listen(ctx context.Context) (<-chan IncomingMessage, error)

	Close() error
}

// Registry is the Address & Transport Registry (§4.1): a keyed multimap per
// direction (sender, receiver) for outbound destination lookup, plus the
// incoming-listener multimap, each preserving insertion order and
// supporting exact-then-hierarchy lookup via addr.Class.Super().
type Registry struct {
	mu       sync.RWMutex
	sender   []Mapping
	receiver []Mapping
	incoming []Mapping
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// AddOutgoing registers m for outbound sends under its own class, filed
// under its Direction(): sender-only, receiver-only, or both for "any"
// (§4.1 "Registration rules": "A transport advertising direction any is
// inserted into both maps for every supported address class").
func (r *Registry) AddOutgoing(m Mapping) {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch m.Direction() {
	case DirectionSender:
		r.sender = append(r.sender, m)
	case DirectionReceiver:
		r.receiver = append(r.receiver, m)
	default:
		r.sender = append(r.sender, m)
		r.receiver = append(r.receiver, m)
	}
}

// AddIncoming registers m to receive inbound messages under its own class.
func (r *Registry) AddIncoming(m Mapping) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.incoming = append(r.incoming, m)
}

// LookupSender finds the sender-direction mapping whose class exactly
// matches, or failing that the nearest registered superclass, walking
// addr.Class.Super() (§4.1 "exact-then-hierarchy lookup").
func (r *Registry) LookupSender(class addr.Class) (Mapping, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return lookup(r.sender, class)
}

// LookupReceiver is LookupSender for the receiver-direction multimap.
func (r *Registry) LookupReceiver(class addr.Class) (Mapping, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return lookup(r.receiver, class)
}

// LookupOutgoing is the legacy, direction-agnostic lookup (§4.1 "Legacy
// lookup (direction not specified) attempts receiver then sender").
func (r *Registry) LookupOutgoing(class addr.Class) (Mapping, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if m, ok := lookup(r.receiver, class); ok {
		return m, true
	}
	return lookup(r.sender, class)
}

// LookupIncoming is LookupOutgoing for the incoming-listener multimap.
func (r *Registry) LookupIncoming(class addr.Class) (Mapping, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return lookup(r.incoming, class)
}

// AllIncoming returns every registered incoming mapping, in insertion
// order.
func (r *Registry) AllIncoming() []Mapping {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Mapping, len(r.incoming))
	copy(out, r.incoming)
	return out
}

func lookup(mappings []Mapping, class addr.Class) (Mapping, bool) {
	for _, m := range mappings {
		if m.Class() == class {
			return m, true
		}
	}
	for super, ok := class.Super(); ok; super, ok = super.Super() {
		for _, m := range mappings {
			if m.Class() == super {
				return m, true
			}
		}
	}
	return nil, false
}
