package engine

import (
	"sync"
	"time"

	"github.com/netmgmt/snmpcore/pdu"
	"github.com/netmgmt/snmpcore/transport"
)

// Request is the input to Engine.SendAsync/SendSync (§4.4 "Send
// (confirmed)"). Exactly one of PDU or ScopedPDU is set: PDU for MPv1/v2c,
// ScopedPDU for MPv3.
type Request struct {
	Target                *pdu.Target
	AuthoritativeEngineID []byte
	PDU                   *pdu.PDU
	ScopedPDU             *pdu.ScopedPDU
	TransportOverride     transport.Mapping

	// TimeoutModel overrides the Engine's default for this request only;
	// nil inherits the Engine's configured model.
	TimeoutModel TimeoutModel
}

// ResponseEvent is delivered to a Listener (async) or returned from
// SendSync once a PendingRequest finishes, one way or another (§4.4
// "Response handling", "Report handling", §7 "Request lifecycle errors").
type ResponseEvent struct {
	Handle    pdu.Handle
	PDU       *pdu.PDU       // nil on timeout/cancellation
	ScopedPDU *pdu.ScopedPDU // set when the original request was v3
	Err       error          // set on cancellation; nil on timeout (PDU also nil)
	Duration  time.Duration
}

// Listener receives a PendingRequest's terminal ResponseEvent (§4.4).
type Listener interface {
	OnResponse(evt *ResponseEvent)
}

// ListenerFunc adapts a plain function to Listener.
type ListenerFunc func(evt *ResponseEvent)

func (f ListenerFunc) OnResponse(evt *ResponseEvent) { f(evt) }

// PendingRequest is the per-handle retry/timeout state machine (§3
// "PendingRequest", §4.4). Fields are guarded by mu; the engine's pending
// map and an individual PendingRequest's internals are separate locks, so a
// retry timer firing never blocks the map during a long-running listener
// callback.
type PendingRequest struct {
	mu sync.Mutex

	handle   pdu.Handle
	pdu      *pdu.PDU
	scoped   *pdu.ScopedPDU // nil for v1/v2c
	nextPDU  *pdu.PDU
	nextScoped *pdu.ScopedPDU

	target                *pdu.Target // snapshot, duplicated at creation time
	authoritativeEngineID []byte
	transportOverride     transport.Mapping
	listener              Listener

	timeoutModel TimeoutModel

	retriesLeft      int
	requestStatus    int
	maxRequestStatus int

	finished         bool
	responseReceived bool
	pendingRetry     bool
	cancelled        bool

	sentAt time.Time
	timer  *time.Timer
}

func (p *PendingRequest) Handle() pdu.Handle {
	return p.handle
}

// attemptSnapshot is the copy snapshot() takes of what the retry timer's
// run() needs, so the lock is not held across the dispatcher send (§4.4 "Retry run()": "Snapshot
// (handle, pdu, target, transport, listener, user)").
type attemptSnapshot struct {
	handle            pdu.Handle
	pdu               *pdu.PDU
	scoped            *pdu.ScopedPDU
	target            *pdu.Target
	authoritativeEngineID []byte
	transportOverride transport.Mapping
}

func (p *PendingRequest) snapshot() attemptSnapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return attemptSnapshot{
		handle:                p.handle,
		pdu:                   p.pdu,
		scoped:                p.scoped,
		target:                p.target,
		authoritativeEngineID: p.authoritativeEngineID,
		transportOverride:     p.transportOverride,
	}
}
