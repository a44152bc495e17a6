package dispatcher

import (
	"sync"

	"github.com/netmgmt/snmpcore/addr"
	"github.com/netmgmt/snmpcore/mp"
	"github.com/netmgmt/snmpcore/pdu"
	"github.com/netmgmt/snmpcore/txstate"
)

// CommandResponderEvent is fired for every successfully decoded inbound
// message (§4.3 step 4) and for the locally-synthesized response an MP
// produces when it answers a request by itself (e.g. none here, but the
// shape is shared with outbound responses built by callers that handle a
// request and want to send a RESPONSE back through the same dispatcher).
type CommandResponderEvent struct {
	SourceTransport addr.Class
	PeerAddress     *addr.Address
	MPModel         int
	SecurityModel   int
	SecurityName    []byte
	SecurityLevel   pdu.SecurityLevel
	Handle          pdu.Handle
	PDU             *pdu.PDU
	ScopedPDU       *pdu.ScopedPDU
	MaxSizeResponse int
	StateRef        *txstate.Reference

	processed bool
}

// MarkProcessed stops further listeners in the registration-order chain
// from seeing this event (§4.3 step 4, §5 "Ordering guarantees").
func (e *CommandResponderEvent) MarkProcessed() { e.processed = true }

// Processed reports whether a prior listener already claimed this event.
func (e *CommandResponderEvent) Processed() bool { return e.processed }

// AuthenticationFailureEvent is fired on the security errors enumerated in
// §4.3 step 5 / §7 ("Security errors"): unknown user, auth failure,
// not-in-time-window, unsupported security level, unknown engine ID, TSM
// inadequate security.
type AuthenticationFailureEvent struct {
	PeerAddress *addr.Address
	Status      mp.Status
	Err         error
}

// CommandResponderListener receives decoded inbound messages in
// registration order (§4.3 step 4, §5 "Ordering guarantees").
type CommandResponderListener interface {
	ProcessPDU(evt *CommandResponderEvent)
}

// CommandResponderFunc adapts a plain function to CommandResponderListener.
type CommandResponderFunc func(evt *CommandResponderEvent)

func (f CommandResponderFunc) ProcessPDU(evt *CommandResponderEvent) { f(evt) }

// AuthenticationFailureListener receives security-error notifications
// (§4.3 step 5).
type AuthenticationFailureListener interface {
	ProcessAuthenticationFailure(evt *AuthenticationFailureEvent)
}

// AuthenticationFailureFunc adapts a plain function to
// AuthenticationFailureListener.
type AuthenticationFailureFunc func(evt *AuthenticationFailureEvent)

func (f AuthenticationFailureFunc) ProcessAuthenticationFailure(evt *AuthenticationFailureEvent) {
	f(evt)
}

// listenerList is the copy-on-write vector from §5 "Shared state &
// locking": "Listener lists are copy-on-write" / §9 "map to immutable
// vectors swapped atomically on subscribe/unsubscribe... no lock is held
// during user callbacks". A mutex guards only the swap; dispatch reads the
// slice header once and iterates it unlocked.
type listenerList struct {
	mu        sync.Mutex
	listeners []CommandResponderListener
}

func (l *listenerList) add(lis CommandResponderListener) {
	l.mu.Lock()
	defer l.mu.Unlock()
	next := make([]CommandResponderListener, len(l.listeners)+1)
	copy(next, l.listeners)
	next[len(l.listeners)] = lis
	l.listeners = next
}

func (l *listenerList) remove(lis CommandResponderListener) {
	l.mu.Lock()
	defer l.mu.Unlock()
	next := make([]CommandResponderListener, 0, len(l.listeners))
	for _, existing := range l.listeners {
		if existing != lis {
			next = append(next, existing)
		}
	}
	l.listeners = next
}

func (l *listenerList) snapshot() []CommandResponderListener {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.listeners
}

type authFailureListenerList struct {
	mu        sync.Mutex
	listeners []AuthenticationFailureListener
}

func (l *authFailureListenerList) add(lis AuthenticationFailureListener) {
	l.mu.Lock()
	defer l.mu.Unlock()
	next := make([]AuthenticationFailureListener, len(l.listeners)+1)
	copy(next, l.listeners)
	next[len(l.listeners)] = lis
	l.listeners = next
}

func (l *authFailureListenerList) remove(lis AuthenticationFailureListener) {
	l.mu.Lock()
	defer l.mu.Unlock()
	next := make([]AuthenticationFailureListener, 0, len(l.listeners))
	for _, existing := range l.listeners {
		if existing != lis {
			next = append(next, existing)
		}
	}
	l.listeners = next
}

func (l *authFailureListenerList) snapshot() []AuthenticationFailureListener {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.listeners
}
