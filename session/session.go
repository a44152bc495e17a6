// Package session implements the Session Facade (§2, §4.4): the
// synchronous/asynchronous send API built on the dispatcher and pending
// engine, plus the (peer -> contextEngineID) cache and listener
// registration that glue the message dispatcher, pending-request engine,
// transport mappings, MP models, USM user table, and engine-ID
// persistence into one usable client.
package session

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/netmgmt/snmpcore/dispatcher"
	"github.com/netmgmt/snmpcore/engine"
	"github.com/netmgmt/snmpcore/mp"
	"github.com/netmgmt/snmpcore/pdu"
	"github.com/netmgmt/snmpcore/persist"
	"github.com/netmgmt/snmpcore/transport"
	"github.com/netmgmt/snmpcore/usm"
)

// Config configures a new Session. Message-processing models and
// transport mappings are never auto-discovered (§1 Non-goals): the caller
// registers them explicitly via AddMPModel/AddTransport after New returns.
type Config struct {
	// PersistPath, if set, backs the engine-boots/engine-ID file (§6). If
	// empty, LocalEngineID must be supplied directly and boots starts at 0
	// every run.
	PersistPath   string
	LocalEngineID []byte

	Users       *usm.UserTable
	EngineCache *usm.EngineCache

	ContextCacheSize int

	NoGetBulk                bool
	DiscoveryDisabled        bool
	ForwardRuntimeExceptions bool
	TimeoutModel             engine.TimeoutModel

	Log *logrus.Logger
}

// Session is the facade wiring the Message Dispatcher, Pending-Request
// Engine, transport registry, and MP registry together (§2).
type Session struct {
	MPModels   *mp.Registry
	Transports *transport.Registry
	Dispatcher *dispatcher.Dispatcher
	Engine     *engine.Engine
	Users      *usm.UserTable
	EngineIDs  *usm.EngineCache

	LocalEngineID []byte
	EngineBoots   int32

	contextCache *contextEngineIDCache
	log          *logrus.Entry

	mu        sync.Mutex
	incoming  []transport.Mapping
	cancel    context.CancelFunc
	listening bool
}

// New builds a Session. If cfg.PersistPath is set, it loads (and
// increments) the engine-boots/engine-ID file (§6); otherwise
// cfg.LocalEngineID is used as-is and boots stays 0.
func New(cfg Config) (*Session, error) {
	log := cfg.Log
	if log == nil {
		log = logrus.New()
	}

	localEngineID := cfg.LocalEngineID
	var boots int32
	if cfg.PersistPath != "" {
		store := persist.NewStore(cfg.PersistPath)
		state, err := store.Load()
		if err != nil {
			return nil, fmt.Errorf("session: loading engine-boots file: %w", err)
		}
		localEngineID = state.EngineID
		boots = state.Boots
	}

	users := cfg.Users
	if users == nil {
		users = usm.NewUserTable()
	}
	engineCache := cfg.EngineCache
	if engineCache == nil {
		engineCache = usm.NewEngineCache()
	}

	mpModels := mp.NewRegistry()
	transports := transport.NewRegistry()

	disp := dispatcher.New(mpModels, transports, dispatcher.Options{
		NoGetBulk:                cfg.NoGetBulk,
		ForwardRuntimeExceptions: cfg.ForwardRuntimeExceptions,
		Log:                      log,
	})

	contextCache := newContextEngineIDCache(cfg.ContextCacheSize)

	e := engine.New(disp, mpModels, engine.Options{
		LocalEngineID:     localEngineID,
		ContextCache:      contextCache,
		DiscoveryDisabled: cfg.DiscoveryDisabled,
		TimeoutModel:      cfg.TimeoutModel,
		Log:               log,
	})

	return &Session{
		MPModels:      mpModels,
		Transports:    transports,
		Dispatcher:    disp,
		Engine:        e,
		Users:         users,
		EngineIDs:     engineCache,
		LocalEngineID: localEngineID,
		EngineBoots:   boots,
		contextCache:  contextCache,
		log:           log.WithField("component", "session"),
	}, nil
}

// AddMPModel registers model explicitly (§1 Non-goals: no plug-in
// discovery).
func (s *Session) AddMPModel(model mp.Model) {
	s.MPModels.Add(model)
}

// AddTransport registers mapping for outbound sends, inbound receipt, or
// both (§4.1). With outgoing set, the registry files the mapping under its
// own Direction(), so a DirectionAny mapping such as UDP serves both new
// requests and replies; with incoming set, Listen starts its read loop.
func (s *Session) AddTransport(mapping transport.Mapping, outgoing, incoming bool) {
	if outgoing {
		s.Transports.AddOutgoing(mapping)
	}
	if incoming {
		s.Transports.AddIncoming(mapping)
		s.mu.Lock()
		s.incoming = append(s.incoming, mapping)
		s.mu.Unlock()
	}
}

// Listen starts every registered incoming transport's I/O loop and begins
// routing its messages through the dispatcher (§3 "Lifecycle": "A Session
// starts with no transports; transports are added, then listen() starts
// their I/O loops").
func (s *Session) Listen(ctx context.Context) error {
	s.mu.Lock()
	if s.listening {
		s.mu.Unlock()
		return nil
	}
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.listening = true
	mappings := append([]transport.Mapping(nil), s.incoming...)
	s.mu.Unlock()

	for _, m := range mappings {
		msgs, err := m.Listen(ctx)
		if err != nil {
			return fmt.Errorf("session: starting transport %s: %w", m.Class(), err)
		}
		go s.pump(ctx, m, msgs)
	}
	return nil
}

func (s *Session) pump(ctx context.Context, mapping transport.Mapping, msgs <-chan transport.IncomingMessage) {
	class := mapping.Class()
	for {
		select {
		case m, ok := <-msgs:
			if !ok {
				return
			}
			s.Dispatcher.ProcessMessage(ctx, class, m.Source, m.Data, m.StateRef)
		case <-ctx.Done():
			return
		}
	}
}

// AddCommandResponderListener registers lis on the underlying dispatcher.
func (s *Session) AddCommandResponderListener(lis dispatcher.CommandResponderListener) {
	s.Dispatcher.AddCommandResponderListener(lis)
}

// RemoveCommandResponderListener reverses AddCommandResponderListener.
func (s *Session) RemoveCommandResponderListener(lis dispatcher.CommandResponderListener) {
	s.Dispatcher.RemoveCommandResponderListener(lis)
}

// AddAuthenticationFailureListener registers lis on the underlying
// dispatcher.
func (s *Session) AddAuthenticationFailureListener(lis dispatcher.AuthenticationFailureListener) {
	s.Dispatcher.AddAuthenticationFailureListener(lis)
}

// RemoveAuthenticationFailureListener reverses
// AddAuthenticationFailureListener.
func (s *Session) RemoveAuthenticationFailureListener(lis dispatcher.AuthenticationFailureListener) {
	s.Dispatcher.RemoveAuthenticationFailureListener(lis)
}

// Request is the session-level send request: exactly one of PDU or
// ScopedPDU should be set, matching engine.Request.
type Request struct {
	Target                *pdu.Target
	AuthoritativeEngineID []byte
	PDU                   *pdu.PDU
	ScopedPDU             *pdu.ScopedPDU
	TransportOverride     transport.Mapping
	TimeoutModel          engine.TimeoutModel
}

func toEngineRequest(req *Request) *engine.Request {
	return &engine.Request{
		Target:                req.Target,
		AuthoritativeEngineID: req.AuthoritativeEngineID,
		PDU:                   req.PDU,
		ScopedPDU:             req.ScopedPDU,
		TransportOverride:     req.TransportOverride,
		TimeoutModel:          req.TimeoutModel,
	}
}

// SendSync sends a confirmed PDU and blocks for the response (§4.4 "Sync
// wait").
func (s *Session) SendSync(ctx context.Context, req *Request) (*engine.ResponseEvent, error) {
	return s.Engine.SendSync(ctx, toEngineRequest(req))
}

// SendAsync sends a confirmed PDU without blocking; listener receives the
// terminal ResponseEvent (§4.4 "Send (confirmed)").
func (s *Session) SendAsync(ctx context.Context, req *Request, listener engine.Listener) (pdu.Handle, error) {
	return s.Engine.SendAsync(ctx, toEngineRequest(req), listener)
}

// Send is a fire-and-forget send for unconfirmed PDUs (traps, notifications
// without an Inform's confirmation) that bypasses the pending-request
// engine entirely.
func (s *Session) Send(ctx context.Context, req *Request) error {
	_, err := s.Dispatcher.SendPDU(ctx, &dispatcher.SendRequest{
		TransportOverride:     req.TransportOverride,
		Target:                req.Target,
		AuthoritativeEngineID: req.AuthoritativeEngineID,
		PDU:                   req.PDU,
		ScopedPDU:             req.ScopedPDU,
		ExpectResponse:        false,
	})
	return err
}

// Cancel cancels a previously-sent async request (§4.4 "Cancellation").
func (s *Session) Cancel(handle pdu.Handle) {
	s.Engine.Cancel(handle)
}

// Close tears down the session: every pending request is cancelled, every
// incoming transport's read loop is stopped, and every mapping registered
// as incoming is closed (§4.4 "Close"). Mappings registered only for
// outgoing sends are not closed.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	mappings := append([]transport.Mapping(nil), s.incoming...)
	s.mu.Unlock()

	s.Engine.Close()

	var firstErr error
	seen := make(map[transport.Mapping]bool)
	for _, m := range mappings {
		if seen[m] {
			continue
		}
		seen[m] = true
		if err := m.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
