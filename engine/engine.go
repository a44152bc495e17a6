// Package engine implements the Pending-Request Engine (§4.4): the
// retry/timeout state machine, async and sync request correlation, and
// Report-PDU driven re-send with bounded status progression.
package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/netmgmt/snmpcore/dispatcher"
	"github.com/netmgmt/snmpcore/mp"
	"github.com/netmgmt/snmpcore/pdu"
)

// ErrCancelled is the Err on a ResponseEvent delivered because Cancel or
// Close tore down the PendingRequest before a response arrived (§4.4
// "Cancellation", "Close").
var ErrCancelled = errors.New("engine: request cancelled")

// defaultMaxRequestStatus is §4.4's "max_request_status = 2 (default)".
const defaultMaxRequestStatus = 2

// Options configures an Engine.
type Options struct {
	// LocalEngineID is this entity's own authoritative engine ID, used to
	// build the RFC 5343 discovery GET (§4.4 step 3).
	LocalEngineID []byte

	// ContextCache is consulted/populated per §4.4 step 3; nil disables
	// the cache-hit fast path (every TSM send with an empty contextEngineID
	// then always runs discovery).
	ContextCache ContextEngineIDCache

	// DiscoveryDisabled skips RFC 5343 discovery entirely even when the MP
	// model doesn't support engine-ID discovery (§4.4 step 3).
	DiscoveryDisabled bool

	// TimeoutModel is the engine-wide default; LinearTimeoutModel{} if nil
	// (§4.4, §5 "Timeouts").
	TimeoutModel TimeoutModel

	Log *logrus.Logger
}

// Engine is the Pending-Request Engine (§2, §4.4). It registers itself as a
// dispatcher.CommandResponderListener to correlate RESPONSE/REPORT messages
// back to the PendingRequest that sent the original confirmed PDU.
type Engine struct {
	disp     *dispatcher.Dispatcher
	mpModels *mp.Registry

	localEngineID     []byte
	contextCache      ContextEngineIDCache
	discoveryDisabled bool
	timeoutModel      TimeoutModel

	mu      sync.Mutex
	pending map[pdu.Handle]*PendingRequest

	log *logrus.Entry
}

// New builds an Engine over disp and mpModels and registers it as a
// command-responder listener so it sees every decoded inbound message.
func New(disp *dispatcher.Dispatcher, mpModels *mp.Registry, opts Options) *Engine {
	log := opts.Log
	if log == nil {
		log = logrus.New()
	}
	timeoutModel := opts.TimeoutModel
	if timeoutModel == nil {
		timeoutModel = LinearTimeoutModel{}
	}
	e := &Engine{
		disp:              disp,
		mpModels:          mpModels,
		localEngineID:     append([]byte(nil), opts.LocalEngineID...),
		contextCache:      opts.ContextCache,
		discoveryDisabled: opts.DiscoveryDisabled,
		timeoutModel:      timeoutModel,
		pending:           make(map[pdu.Handle]*PendingRequest),
		log:               log.WithField("component", "engine"),
	}
	disp.AddCommandResponderListener(dispatcher.CommandResponderFunc(e.ProcessPDU))
	return e
}

// SendAsync implements §4.4 "Send (confirmed)": it never blocks waiting for
// a response; listener (may be nil) receives the terminal ResponseEvent.
func (e *Engine) SendAsync(ctx context.Context, req *Request, listener Listener) (pdu.Handle, error) {
	target := req.Target.Clone()

	timeoutModel := req.TimeoutModel
	if timeoutModel == nil {
		timeoutModel = e.timeoutModel
	}

	pr := &PendingRequest{
		pdu:                   req.PDU,
		scoped:                req.ScopedPDU,
		target:                target,
		authoritativeEngineID: req.AuthoritativeEngineID,
		transportOverride:     req.TransportOverride,
		listener:              listener,
		timeoutModel:          timeoutModel,
		retriesLeft:           target.Retries,
		maxRequestStatus:      defaultMaxRequestStatus,
	}

	e.prepareContextEngineID(pr)

	return e.submit(ctx, pr)
}

// SendSync implements §4.4 "Sync wait": it blocks until either the
// response arrives or the total timeout elapses, then returns the
// resulting ResponseEvent.
func (e *Engine) SendSync(ctx context.Context, req *Request) (*ResponseEvent, error) {
	done := make(chan *ResponseEvent, 1)
	_, err := e.SendAsync(ctx, req, ListenerFunc(func(evt *ResponseEvent) {
		done <- evt
	}))
	if err != nil {
		return nil, err
	}
	select {
	case evt := <-done:
		return evt, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// prepareContextEngineID implements §4.4 step 3: cache lookup, or (for a
// model that can't drive USM's own Report-based discovery) an explicit
// RFC 5343 discovery GET chained ahead of the real request.
func (e *Engine) prepareContextEngineID(pr *PendingRequest) {
	if pr.scoped == nil || len(pr.scoped.ContextEngineID) != 0 {
		return
	}
	peer := pr.target.Address.String()

	if e.contextCache != nil {
		if id, ok := e.contextCache.Get(peer); ok {
			pr.scoped.ContextEngineID = id
			return
		}
	}

	if e.discoveryDisabled {
		return
	}
	model, ok := e.mpModels.Get(pr.target.Version)
	if !ok || model.SupportsEngineIDDiscovery() {
		return
	}

	discovery := pdu.NewDiscoveryGetPDU(e.localEngineID)
	pr.nextScoped = pr.scoped
	pr.nextPDU = pr.scoped.PDU
	pr.scoped = discovery
	pr.pdu = discovery.PDU
	pr.maxRequestStatus = 0
}

// submit hands pr to the dispatcher, stores it under the assigned handle,
// and arms the first retry timer (§4.4 "Send (confirmed)" step 4).
func (e *Engine) submit(ctx context.Context, pr *PendingRequest) (pdu.Handle, error) {
	sendReq := &dispatcher.SendRequest{
		TransportOverride:     pr.transportOverride,
		Target:                pr.target,
		AuthoritativeEngineID: pr.authoritativeEngineID,
		PDU:                   pr.pdu,
		ScopedPDU:             pr.scoped,
		ExpectResponse:        true,
		OnHandleAssigned: func(h pdu.Handle, _ *pdu.PDU) {
			pr.mu.Lock()
			pr.handle = h
			pr.sentAt = time.Now()
			pr.mu.Unlock()
			e.store(h, pr)
		},
	}
	handle, err := e.disp.SendPDU(ctx, sendReq)
	if err != nil {
		return pdu.Invalid, err
	}

	attempt := pr.target.Retries - pr.retriesLeft
	delay := pr.timeoutModel.RetryTimeout(attempt, pr.target.Retries, pr.target.Timeout)
	e.armTimer(pr, delay)
	return handle, nil
}

func (e *Engine) armTimer(pr *PendingRequest, delay time.Duration) {
	pr.mu.Lock()
	pr.timer = time.AfterFunc(delay, func() { e.runRetry(pr) })
	pr.mu.Unlock()
}

func (e *Engine) store(handle pdu.Handle, pr *PendingRequest) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pending[handle] = pr
}

func (e *Engine) removePending(handle pdu.Handle) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.pending, handle)
}

func (e *Engine) lookup(handle pdu.Handle) (*PendingRequest, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	pr, ok := e.pending[handle]
	return pr, ok
}

// runRetry is §4.4's "Retry run()".
func (e *Engine) runRetry(pr *PendingRequest) {
	snap := pr.snapshot()

	pr.mu.Lock()
	pr.pendingRetry = !pr.finished && pr.retriesLeft > 0 && !pr.responseReceived && !pr.cancelled
	retry := pr.pendingRetry
	if retry {
		pr.retriesLeft--
	}
	finishedNow := !retry && !pr.finished
	if finishedNow {
		pr.finished = true
	}
	pr.mu.Unlock()

	if retry {
		e.disp.Counters.IncRequestRetries()
		sendReq := &dispatcher.SendRequest{
			TransportOverride:     snap.transportOverride,
			Target:                snap.target,
			AuthoritativeEngineID: snap.authoritativeEngineID,
			PDU:                   snap.pdu,
			ScopedPDU:             snap.scoped,
			ExpectResponse:        true,
		}
		if _, err := e.disp.SendPDU(context.Background(), sendReq); err != nil {
			e.log.WithError(err).WithField("handle", snap.handle).Warn("retry send failed")
		}
		attempt := snap.target.Retries - pr.retriesLeftSnapshot()
		delay := pr.timeoutModel.RetryTimeout(attempt, snap.target.Retries, snap.target.Timeout)
		e.armTimer(pr, delay)
		return
	}

	if finishedNow {
		e.disp.Counters.IncRequestTimeouts()
		e.finishTimeout(pr, snap)
		return
	}

	// already finished by a concurrent response/cancellation: idempotent
	// removal (§4.4 "Retry run()": "if already finished, idempotently
	// remove from the map").
	e.removePending(snap.handle)
}

func (p *PendingRequest) retriesLeftSnapshot() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.retriesLeft
}

func (e *Engine) finishTimeout(pr *PendingRequest, snap attemptSnapshot) {
	e.removePending(snap.handle)
	e.releaseState(snap)
	duration := time.Since(pr.sentAt)
	e.disp.Counters.AddRequestWaitTime(duration.Nanoseconds())
	e.deliver(pr, &ResponseEvent{Handle: snap.handle, Duration: duration})
}

func (e *Engine) releaseState(snap attemptSnapshot) {
	if model, ok := e.mpModels.Get(snap.target.Version); ok {
		model.ReleaseStateReference(snap.handle)
	}
}

func (e *Engine) deliver(pr *PendingRequest, evt *ResponseEvent) {
	pr.mu.Lock()
	listener := pr.listener
	pr.mu.Unlock()
	if listener != nil {
		listener.OnResponse(evt)
	}
}

// ProcessPDU implements the engine's half of §4.3 step 4's listener chain:
// it claims CommandResponderEvents whose handle matches a pending request
// (RESPONSE or REPORT) and discards the rest so other listeners (trap
// handlers, etc.) still see unsolicited PDUs.
func (e *Engine) ProcessPDU(evt *dispatcher.CommandResponderEvent) {
	if evt.PDU == nil {
		return
	}
	switch evt.PDU.Type {
	case pdu.TypeResponse:
	case pdu.TypeReport:
	default:
		return
	}

	pr, ok := e.lookup(evt.Handle)
	if !ok {
		e.log.WithField("handle", evt.Handle).Debug("no pending request for inbound response/report; discarding")
		return
	}
	evt.MarkProcessed()

	if evt.PDU.Type == pdu.TypeReport {
		e.handleReport(pr, evt)
		return
	}
	e.handleResponse(pr, evt)
}

// handleResponse implements §4.4 "Response handling".
func (e *Engine) handleResponse(pr *PendingRequest, evt *dispatcher.CommandResponderEvent) {
	pr.mu.Lock()
	pr.responseReceived = true
	timer := pr.timer
	chained := pr.nextScoped != nil
	pr.mu.Unlock()
	if timer != nil {
		timer.Stop()
	}

	duration := time.Since(pr.sentAt)
	e.disp.Counters.AddRequestWaitTime(duration.Nanoseconds())

	if !chained {
		e.removePending(pr.handle)
		if model, ok := e.mpModels.Get(pr.target.Version); ok {
			model.ReleaseStateReference(pr.handle)
		}
		e.deliver(pr, &ResponseEvent{
			Handle:    pr.handle,
			PDU:       evt.PDU,
			ScopedPDU: evt.ScopedPDU,
			Duration:  duration,
		})
		return
	}

	e.resendAfterDiscovery(pr, evt)
}

// resendAfterDiscovery completes §4.4 step 3's chained discovery: adopt
// next_pdu as the current request, inject the discovered contextEngineID,
// and re-send through the dispatcher under a fresh handle.
func (e *Engine) resendAfterDiscovery(pr *PendingRequest, evt *dispatcher.CommandResponderEvent) {
	oldHandle := pr.handle

	pr.mu.Lock()
	real := pr.nextScoped
	pr.nextScoped = nil
	pr.nextPDU = nil
	pr.mu.Unlock()

	if real == nil {
		e.removePending(oldHandle)
		return
	}

	if len(evt.PDU.VarBinds) > 0 {
		if engineID, ok := evt.PDU.VarBinds[0].OctetStringValue(); ok && len(engineID) > 0 {
			real.ContextEngineID = engineID
			if e.contextCache != nil {
				e.contextCache.Set(pr.target.Address.String(), engineID)
			}
		}
	}

	pr.mu.Lock()
	pr.scoped = real
	pr.pdu = real.PDU
	pr.retriesLeft = pr.target.Retries
	pr.requestStatus = 0
	pr.maxRequestStatus = defaultMaxRequestStatus
	pr.responseReceived = false
	pr.finished = false
	pr.mu.Unlock()

	real.PDU.RequestID = 0 // force the dispatcher to allocate a fresh handle (§4.3 step 5)

	if _, err := e.submit(context.Background(), pr); err != nil {
		e.log.WithError(err).WithField("handle", oldHandle).Warn("failed to resend real request after contextEngineID discovery")
		e.removePending(oldHandle)
		e.deliver(pr, &ResponseEvent{Handle: oldHandle, Err: err})
		return
	}
	e.removePending(oldHandle)
}

// handleReport implements §4.4 "Report handling" (RFC 3412 §7.2.11(b)).
func (e *Engine) handleReport(pr *PendingRequest, evt *dispatcher.CommandResponderEvent) {
	pr.mu.Lock()
	status := pr.requestStatus
	maxStatus := pr.maxRequestStatus
	securityModel := pr.target.SecurityModel
	securityLevel := pr.target.SecurityLevel
	timer := pr.timer
	pr.mu.Unlock()

	var reportOID pdu.OID
	if len(evt.PDU.VarBinds) > 0 {
		reportOID = evt.PDU.VarBinds[0].OID
	}

	// RFC 3412 §7.2.11(b): a Report is only acceptable if its security
	// model matches the original request's, and (unless it's reporting
	// unknownUserNames/unknownEngineIDs, the two cases where the
	// responder couldn't have known the right level yet) its security
	// level matches too. A Report failing this check is the spoofing case
	// this precondition exists to reject, so it's discarded exactly like
	// an unmatched handle: the timer keeps running and a genuine
	// response/report can still arrive.
	if evt.SecurityModel != securityModel {
		e.log.WithField("handle", pr.handle).WithField("security_model", evt.SecurityModel).
			Debug("discarding report: security model does not match request")
		return
	}
	if evt.SecurityLevel == pdu.SecurityLevelNoAuthNoPriv && evt.SecurityLevel != securityLevel &&
		!reportOID.Equal(pdu.OIDUsmStatsUnknownUserNames) &&
		!reportOID.Equal(pdu.OIDUsmStatsUnknownEngineIDs) {
		e.log.WithField("handle", pr.handle).WithField("security_level", evt.SecurityLevel).
			Debug("discarding report: noAuthNoPriv report does not match request's security level")
		return
	}

	if timer != nil {
		timer.Stop()
	}

	resend := false
	newStatus := status
	if status < maxStatus {
		switch {
		case status == 0 && reportOID.Equal(pdu.OIDUsmStatsUnknownEngineIDs):
			resend = true
		case status == 0 && reportOID.Equal(pdu.OIDUsmStatsNotInTimeWindows):
			resend = true
			newStatus = 1
		case status == 1 && reportOID.Equal(pdu.OIDUsmStatsNotInTimeWindows):
			resend = true
			newStatus = 2
		}
	}

	if !resend {
		e.removePending(pr.handle)
		if model, ok := e.mpModels.Get(pr.target.Version); ok {
			model.ReleaseStateReference(pr.handle)
		}
		e.deliver(pr, &ResponseEvent{Handle: pr.handle, PDU: evt.PDU, ScopedPDU: evt.ScopedPDU})
		return
	}

	pr.mu.Lock()
	pr.requestStatus = newStatus
	pr.responseReceived = false
	snap := attemptSnapshot{
		handle:                pr.handle,
		pdu:                   pr.pdu,
		scoped:                pr.scoped,
		target:                pr.target,
		authoritativeEngineID: pr.authoritativeEngineID,
		transportOverride:     pr.transportOverride,
	}
	pr.mu.Unlock()

	sendReq := &dispatcher.SendRequest{
		TransportOverride:     snap.transportOverride,
		Target:                snap.target,
		AuthoritativeEngineID: snap.authoritativeEngineID,
		PDU:                   snap.pdu,
		ScopedPDU:             snap.scoped,
		ExpectResponse:        true,
	}
	if _, err := e.disp.SendPDU(context.Background(), sendReq); err != nil {
		e.log.WithError(err).WithField("handle", snap.handle).Warn("report-driven resend failed")
	}

	delay := pr.timeoutModel.RetryTimeout(snap.target.Retries-pr.retriesLeftSnapshot(), snap.target.Retries, snap.target.Timeout)
	e.armTimer(pr, delay)
}

// Cancel implements §4.4 "Cancellation": the listener receives no further
// events for this handle once Cancel returns.
func (e *Engine) Cancel(handle pdu.Handle) {
	pr, ok := e.lookup(handle)
	if !ok {
		return
	}
	e.removePending(handle)

	pr.mu.Lock()
	alreadyDone := pr.finished || pr.responseReceived
	pr.cancelled = true
	pr.finished = true
	timer := pr.timer
	pr.mu.Unlock()
	if timer != nil {
		timer.Stop()
	}
	if alreadyDone {
		return
	}
	e.disp.Counters.IncRequestTimeouts()
	e.deliver(pr, &ResponseEvent{Handle: handle, Err: ErrCancelled})
}

// Close implements §4.4 "Close": every pending request is cancelled and
// its listener receives a cancellation ResponseEvent.
func (e *Engine) Close() {
	e.mu.Lock()
	handles := make([]pdu.Handle, 0, len(e.pending))
	for h := range e.pending {
		handles = append(handles, h)
	}
	e.mu.Unlock()

	for _, h := range handles {
		e.Cancel(h)
	}
}
