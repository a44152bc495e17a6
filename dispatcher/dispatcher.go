// Package dispatcher implements the Message Dispatcher (§4.3): it routes
// outbound PDUs to the right Message Processing model and transport
// mapping, routes inbound bytes through the matching MP back to listeners,
// and fires counter/authentication-failure events along the way.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/netmgmt/snmpcore/addr"
	"github.com/netmgmt/snmpcore/ber"
	"github.com/netmgmt/snmpcore/mp"
	"github.com/netmgmt/snmpcore/pdu"
	"github.com/netmgmt/snmpcore/transport"
	"github.com/netmgmt/snmpcore/txstate"
)

// ErrUnsupportedMPModel is returned by SendPDU/ProcessMessage when the
// target's (or the wire message's) version has no registered MP model
// (§4.3 step 1, §4.3 step inbound 3).
var ErrUnsupportedMPModel = errors.New("dispatcher: no message processing model registered for this version")

// ErrUnsupportedAddressClass is returned when no transport mapping accepts
// the destination address's class (§4.3 step 2).
var ErrUnsupportedAddressClass = errors.New("dispatcher: no transport mapping for destination address class")

// engineIDRegistrar is the optional interface an MPv3/USM model implements
// to let the dispatcher seed its peer->engine-ID cache from a UserTarget
// the caller already knows out of band (§4.3 step 8). MPv3/TSM models don't
// need to implement it since they carry no USM engine cache.
type engineIDRegistrar interface {
	RegisterEngineID(peer string, engineID []byte)
}

// listeningReporter is the optional interface a connection-oriented
// transport.Mapping implements so SendPDU can tell whether it has started
// accepting connections yet (§4.3 step 3). UDP mappings don't implement it
// and are treated as always ready.
type listeningReporter interface {
	Listening() bool
}

// Options configures global dispatcher behavior (§4.3 step 4, §7
// "Propagation policy").
type Options struct {
	// NoGetBulk forces every outbound GETBULK to be rewritten to GETNEXT
	// regardless of MP version, not just for MPv1 targets (§4.3 step 4).
	NoGetBulk bool

	// ForwardRuntimeExceptions controls whether a panic recovered while
	// processing an inbound message is re-raised on the caller's goroutine
	// instead of logged and dropped (§7 "Propagation policy").
	ForwardRuntimeExceptions bool

	Log *logrus.Logger
}

// Dispatcher is the Message Dispatcher (§4.3, §2 "Message Dispatcher").
type Dispatcher struct {
	mpModels   *mp.Registry
	transports *transport.Registry

	handles  *handleAllocator
	Counters Counters

	responders    listenerList
	authFailures  authFailureListenerList

	noGetBulk                bool
	forwardRuntimeExceptions bool
	log                      *logrus.Entry
}

// New builds a Dispatcher over the given MP and transport registries.
func New(mpModels *mp.Registry, transports *transport.Registry, opts Options) *Dispatcher {
	log := opts.Log
	if log == nil {
		log = logrus.New()
	}
	return &Dispatcher{
		mpModels:                 mpModels,
		transports:               transports,
		handles:                  newHandleAllocator(),
		noGetBulk:                opts.NoGetBulk,
		forwardRuntimeExceptions: opts.ForwardRuntimeExceptions,
		log:                      log.WithField("component", "dispatcher"),
	}
}

// AddCommandResponderListener registers lis to receive decoded inbound
// messages and chained-discovery/timeout responses, in registration order
// (§5 "Ordering guarantees").
func (d *Dispatcher) AddCommandResponderListener(lis CommandResponderListener) {
	d.responders.add(lis)
}

// RemoveCommandResponderListener reverses AddCommandResponderListener.
func (d *Dispatcher) RemoveCommandResponderListener(lis CommandResponderListener) {
	d.responders.remove(lis)
}

// AddAuthenticationFailureListener registers lis for the security errors in
// §4.3 step 5.
func (d *Dispatcher) AddAuthenticationFailureListener(lis AuthenticationFailureListener) {
	d.authFailures.add(lis)
}

// RemoveAuthenticationFailureListener reverses
// AddAuthenticationFailureListener.
func (d *Dispatcher) RemoveAuthenticationFailureListener(lis AuthenticationFailureListener) {
	d.authFailures.remove(lis)
}

// SendRequest is the input to SendPDU (§4.3 "Outbound send_pdu").
type SendRequest struct {
	// TransportOverride, if set, is used instead of a registry lookup
	// (§4.3 step 2 "transport_opt").
	TransportOverride transport.Mapping

	Target *pdu.Target

	// AuthoritativeEngineID is set from a UserTarget/DirectUserTarget's
	// known engine ID, if any (§4.3 step 8). Leave nil for a plain Target.
	AuthoritativeEngineID []byte

	// PDU is the request for MPv1/MPv2c. Ignored when ScopedPDU is set.
	PDU *pdu.PDU

	// ScopedPDU is the request for MPv3; its inner PDU is canonical.
	ScopedPDU *pdu.ScopedPDU

	ExpectResponse bool

	// OnHandleAssigned fires synchronously once a handle has been chosen
	// and written into the PDU's RequestID, before the wire bytes are
	// handed to the transport (§4.3 step 9). The engine package uses this
	// to register the PendingRequest under its handle before any response
	// can race in.
	OnHandleAssigned func(pdu.Handle, *pdu.PDU)
}

// SendPDU implements §4.3's outbound operation.
func (d *Dispatcher) SendPDU(ctx context.Context, req *SendRequest) (pdu.Handle, error) {
	inner := req.PDU
	if req.ScopedPDU != nil {
		inner = req.ScopedPDU.PDU
	}
	if inner == nil {
		return pdu.Invalid, errors.New("dispatcher: SendRequest has no PDU")
	}

	model, ok := d.mpModels.Get(req.Target.Version)
	if !ok {
		return pdu.Invalid, fmt.Errorf("%w: version %d", ErrUnsupportedMPModel, req.Target.Version)
	}

	mapping := req.TransportOverride
	if mapping == nil {
		var found bool
		mapping, found = d.resolveTransport(req.Target, inner)
		if !found {
			return pdu.Invalid, fmt.Errorf("%w: %s", ErrUnsupportedAddressClass, req.Target.Address)
		}
	}

	if inner.Type.IsConfirmed() && req.ExpectResponse {
		if lr, ok := mapping.(listeningReporter); ok && !lr.Listening() {
			d.log.WithField("peer", req.Target.Address).Warn("sending confirmed PDU to a transport that is not listening")
		}
	}

	// §4.3 step 4: outgoing-message consistency check.
	if inner.Type == pdu.TypeGetBulk && (d.noGetBulk || req.Target.Version == 1) {
		inner.Type = pdu.TypeGetNext
		inner.NonRepeaters = 0
		inner.MaxRepetitions = 0
		d.log.Warn("coerced GETBULK to GETNEXT for a v1 target or NoGetBulk policy")
	}

	handle := pdu.Handle(inner.RequestID)
	if inner.Type != pdu.TypeResponse && !handle.Valid() {
		handle = d.handles.next()
	}
	if inner.Type != pdu.TypeV1Trap {
		inner.RequestID = int32(handle)
	}

	stateRef := txstate.New(mapping.Class(), req.Target.Address, req.Target.SecurityName, req.Target.SecurityLevel, req.Target)

	if inner.Type.IsConfirmed() && len(req.AuthoritativeEngineID) > 0 {
		if reg, ok := model.(engineIDRegistrar); ok {
			reg.RegisterEngineID(req.Target.Address.String(), req.AuthoritativeEngineID)
		}
	}

	out := &mp.OutgoingRequest{
		Dest:           req.Target.Address,
		MaxMessageSize: req.Target.MaxSizeRequestPDU,
		SecurityModel:  req.Target.SecurityModel,
		SecurityName:   req.Target.SecurityName,
		SecurityLevel:  req.Target.SecurityLevel,
		PDU:            inner,
		ScopedPDU:      req.ScopedPDU,
		ExpectResponse: req.ExpectResponse,
		Handle:         handle,
		StateRef:       stateRef,
	}

	var (
		result *mp.OutgoingResult
		status mp.Status
		err    error
	)
	if inner.Type == pdu.TypeResponse || inner.Type == pdu.TypeReport {
		result, status, err = model.PrepareResponseMessage(out)
	} else {
		result, status, err = model.PrepareOutgoingMessage(out)
	}
	if err != nil || status != mp.StatusOK {
		if err == nil {
			err = &mp.Error{Status: status}
		}
		return pdu.Invalid, err
	}

	if req.OnHandleAssigned != nil {
		req.OnHandleAssigned(handle, inner)
	}

	if err := mapping.Send(ctx, result.Wire, req.Target.Address, stateRef); err != nil {
		return handle, fmt.Errorf("dispatcher: transport send: %w", err)
	}
	return handle, nil
}

// resolveTransport implements §4.1's lookup for an outbound send: direction
// is receiver if the PDU is itself a reply (RESPONSE/REPORT), sender
// otherwise (§4.3 step 2), consulting Target.PreferredTransports (§3)
// before falling back to the destination address's own class hierarchy.
// §8's testable invariant ("a receiver-direction transport is never
// selected for a sender-direction lookup, and vice versa") follows directly
// from never touching the other direction's map here.
func (d *Dispatcher) resolveTransport(target *pdu.Target, inner *pdu.PDU) (transport.Mapping, bool) {
	lookup := d.transports.LookupSender
	if inner.Type.IsResponse() {
		lookup = d.transports.LookupReceiver
	}
	for _, class := range target.PreferredTransports {
		if m, ok := lookup(class); ok {
			return m, true
		}
	}
	return lookup(target.Address.Class())
}

// ProcessMessage implements §4.3's inbound operation: sourceClass
// identifies which registered transport produced the bytes (used only for
// the CommandResponderEvent's SourceTransport field).
func (d *Dispatcher) ProcessMessage(ctx context.Context, sourceClass addr.Class, src *addr.Address, buf []byte, stateRef *txstate.Reference) {
	defer d.recoverPanic()

	d.Counters.incInPkts()

	version, err := ber.PeekVersion(buf)
	if err != nil {
		d.Counters.incASNParseErrs()
		d.log.WithError(err).WithField("peer", src).Debug("failed to parse SNMP version from inbound message")
		return
	}

	// The registry is keyed by MP model id; SNMPv1 and SNMPv2c put 0 and 1
	// on the wire for model ids 1 and 2.
	modelID := version
	if version == 0 || version == 1 {
		modelID = version + 1
	}
	model, ok := d.mpModels.Get(modelID)
	if !ok {
		d.Counters.incBadVersions()
		d.log.WithField("version", version).WithField("peer", src).Debug("no MP model registered for inbound version")
		return
	}

	start := time.Now()
	decoded, status, err := model.PrepareDataElements(&mp.IncomingMessage{Source: src, Buf: buf, StateRef: stateRef})
	if err != nil || status != mp.StatusOK {
		if isSecurityStatus(status) {
			d.fireAuthenticationFailure(src, status, err)
			return
		}
		d.Counters.incInvalidMsgs()
		d.log.WithError(err).WithField("status", status).WithField("peer", src).Debug("failed to decode inbound message")
		return
	}

	evt := &CommandResponderEvent{
		SourceTransport: sourceClass,
		PeerAddress:     src,
		MPModel:         decoded.MPModel,
		SecurityModel:   decoded.SecurityModel,
		SecurityName:    decoded.SecurityName,
		SecurityLevel:   decoded.SecurityLevel,
		Handle:          decoded.Handle,
		PDU:             decoded.PDU,
		ScopedPDU:       decoded.ScopedPDU,
		MaxSizeResponse: decoded.MaxSizeResponse,
		StateRef:        decoded.StateRef,
	}
	d.fireCommandResponder(evt)
	d.Counters.addResponseProcessTime(time.Since(start).Nanoseconds())
}

func (d *Dispatcher) fireCommandResponder(evt *CommandResponderEvent) {
	for _, lis := range d.responders.snapshot() {
		lis.ProcessPDU(evt)
		if evt.Processed() {
			return
		}
	}
}

func (d *Dispatcher) fireAuthenticationFailure(peer *addr.Address, status mp.Status, err error) {
	evt := &AuthenticationFailureEvent{PeerAddress: peer, Status: status, Err: err}
	for _, lis := range d.authFailures.snapshot() {
		lis.ProcessAuthenticationFailure(evt)
	}
}

func (d *Dispatcher) recoverPanic() {
	r := recover()
	if r == nil {
		return
	}
	if d.forwardRuntimeExceptions {
		panic(r)
	}
	d.log.WithField("panic", r).Error("recovered from panic while processing inbound message")
}

func isSecurityStatus(status mp.Status) bool {
	switch status {
	case mp.StatusUnknownSecurityName, mp.StatusAuthenticationFailure, mp.StatusNotInTimeWindow,
		mp.StatusUnsupportedSecurityLevel, mp.StatusUnknownEngineID, mp.StatusTSMInadequateSecurity,
		mp.StatusUnsupportedSecurityModel:
		return true
	default:
		return false
	}
}
