package dispatcher

import "sync/atomic"

// Counters holds the lock-free statistics of §6 "Events/counters" (§5
// "Shared state & locking"). Every field is updated with sync/atomic so
// readers never block a hot send/receive path. No counter events are
// fired; readers take a Snapshot.
type Counters struct {
	InPkts          int64
	InASNParseErrs  int64
	InBadVersions   int64
	InvalidMsgs     int64

	// snmp4jStats* family (§6): request-level timing/retry accounting.
	ResponseProcessTimeNanos int64
	RequestWaitTimeNanos     int64
	RequestRetries           int64
	RequestTimeouts          int64

	// snmpTlstmSession* family (§6): TLS-TM session bookkeeping. Only the
	// counters a connection-oriented mapping can actually observe are
	// carried; cipher/identity detail lives on txstate.Reference instead.
	TlstmSessionOpens      int64
	TlstmSessionCloses     int64
	TlstmSessionNoSessions int64
	TlstmSessionInvalidClientCertificates int64
}

func (c *Counters) incInPkts()         { atomic.AddInt64(&c.InPkts, 1) }
func (c *Counters) incASNParseErrs()   { atomic.AddInt64(&c.InASNParseErrs, 1) }
func (c *Counters) incBadVersions()    { atomic.AddInt64(&c.InBadVersions, 1) }
func (c *Counters) incInvalidMsgs()    { atomic.AddInt64(&c.InvalidMsgs, 1) }

func (c *Counters) addResponseProcessTime(nanos int64) {
	atomic.AddInt64(&c.ResponseProcessTimeNanos, nanos)
}

// AddRequestWaitTime lets engine.PendingRequest feed its wait-time
// measurement back into the shared counters (§4.4 "Response handling" step 2).
func (c *Counters) AddRequestWaitTime(nanos int64) {
	atomic.AddInt64(&c.RequestWaitTimeNanos, nanos)
}

// IncRequestRetries lets engine.PendingRequest record a retry attempt.
func (c *Counters) IncRequestRetries() { atomic.AddInt64(&c.RequestRetries, 1) }

// IncRequestTimeouts lets engine.PendingRequest record a retry-exhausted
// timeout.
func (c *Counters) IncRequestTimeouts() { atomic.AddInt64(&c.RequestTimeouts, 1) }

func (c *Counters) IncTlstmSessionOpens()  { atomic.AddInt64(&c.TlstmSessionOpens, 1) }
func (c *Counters) IncTlstmSessionCloses() { atomic.AddInt64(&c.TlstmSessionCloses, 1) }
func (c *Counters) IncTlstmSessionNoSessions() {
	atomic.AddInt64(&c.TlstmSessionNoSessions, 1)
}
func (c *Counters) IncTlstmSessionInvalidClientCertificates() {
	atomic.AddInt64(&c.TlstmSessionInvalidClientCertificates, 1)
}

// Snapshot returns a point-in-time copy safe to log or export.
func (c *Counters) Snapshot() Counters {
	return Counters{
		InPkts:                                 atomic.LoadInt64(&c.InPkts),
		InASNParseErrs:                         atomic.LoadInt64(&c.InASNParseErrs),
		InBadVersions:                          atomic.LoadInt64(&c.InBadVersions),
		InvalidMsgs:                            atomic.LoadInt64(&c.InvalidMsgs),
		ResponseProcessTimeNanos:               atomic.LoadInt64(&c.ResponseProcessTimeNanos),
		RequestWaitTimeNanos:                   atomic.LoadInt64(&c.RequestWaitTimeNanos),
		RequestRetries:                         atomic.LoadInt64(&c.RequestRetries),
		RequestTimeouts:                        atomic.LoadInt64(&c.RequestTimeouts),
		TlstmSessionOpens:                      atomic.LoadInt64(&c.TlstmSessionOpens),
		TlstmSessionCloses:                     atomic.LoadInt64(&c.TlstmSessionCloses),
		TlstmSessionNoSessions:                 atomic.LoadInt64(&c.TlstmSessionNoSessions),
		TlstmSessionInvalidClientCertificates:  atomic.LoadInt64(&c.TlstmSessionInvalidClientCertificates),
	}
}
