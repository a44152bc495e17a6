package transport

import (
	"context"
	"io"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/netmgmt/snmpcore/addr"
	"github.com/netmgmt/snmpcore/ber"
	"github.com/netmgmt/snmpcore/txstate"
)

// Default idle-reap, busy-loop-guard, and max-inbound-message-size values
// the connection-oriented transport server applies when a mapping doesn't
// override them (§4.5).
const (
	DefaultIdleTimeout     = 60 * time.Second
	DefaultDTLSIdleTimeout = 300 * time.Second
	DefaultBusyLoopGuard   = 100

	// DefaultMaxInboundMessageSize bounds a single framed message read off
	// a stream socket (§4.5 "Length validation"). 65536 covers the largest
	// MaxMessageSize a v3 agent is likely to advertise with headroom; a
	// caller expecting larger PDUs raises it via SetMaxInboundMessageSize.
	DefaultMaxInboundMessageSize = 65536

	// minFrameHeaderLen is RFC 3430's "minimum 6-byte SNMP header": a
	// stream mapping never attempts to decode a frame length until at
	// least this many bytes have been read, regardless of what a shorter
	// prefix might parse as.
	minFrameHeaderLen = 6
)

// Dialer opens an outbound connection for a stream mapping; TCP, TLS, and
// DTLS each supply their own (net.Dialer.DialContext, tls.Dial, dtls.Dial).
type Dialer func(ctx context.Context, network, address string) (net.Conn, error)

// socketEntry is one peer connection's bookkeeping (connection, remote
// address, last-activity timestamp, byte counters), trimmed to what the
// transport server itself needs: idle reaping and framed-read state.
// Per-peer protocol-level security context lives in txstate.Reference
// instead.
type socketEntry struct {
	conn         net.Conn
	peer         *addr.Address
	lastActivity time.Time
	bytesSent    uint64
	bytesRecv    uint64
	mu           sync.Mutex
}

func (s *socketEntry) touch() {
	s.mu.Lock()
	s.lastActivity = time.Now()
	s.mu.Unlock()
}

func (s *socketEntry) idleSince() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return time.Since(s.lastActivity)
}

// StreamMapping is the connection-oriented transport server shared by TCP,
// TLS, and DTLS (pion/dtls/v2 listeners also satisfy net.Listener): a
// selector-loop adaptation using one goroutine per accepted connection
// instead of a literal NIO selector, with per-peer SocketEntry bookkeeping,
// idle reaping, and a busy-loop guard on the accept path (§4.5).
type StreamMapping struct {
	class          addr.Class
	direction      Direction
	listener       net.Listener
	dial           Dialer
	localAddr      *addr.Address
	idleTimeout    time.Duration
	busyGuard      int
	maxInboundSize int
	log            *logrus.Entry

	mu    sync.Mutex
	peers map[string]*socketEntry

	out    chan IncomingMessage
	cancel context.CancelFunc
}

// NewStreamMapping wraps an already-bound listener (and a Dialer for
// client-initiated sends) as a Mapping for class. idleTimeout<=0 uses
// DefaultIdleTimeout. The mapping defaults to DirectionAny (a single
// TCP/TLS/DTLS socket both dials out and accepts); callers needing a
// one-sided sender or receiver mapping call SetDirection afterward.
func NewStreamMapping(class addr.Class, listener net.Listener, dial Dialer, idleTimeout time.Duration, log *logrus.Logger) (*StreamMapping, error) {
	local, err := addr.FromNetAddr(listener.Addr(), class)
	if err != nil {
		return nil, err
	}
	if idleTimeout <= 0 {
		idleTimeout = DefaultIdleTimeout
	}
	if log == nil {
		log = logrus.New()
	}
	return &StreamMapping{
		class:          class,
		direction:      DirectionAny,
		listener:       listener,
		dial:           dial,
		localAddr:      local,
		idleTimeout:    idleTimeout,
		busyGuard:      DefaultBusyLoopGuard,
		maxInboundSize: DefaultMaxInboundMessageSize,
		peers:          make(map[string]*socketEntry),
		log:            log.WithFields(logrus.Fields{"mapping": class.String()}),
	}, nil
}

func (m *StreamMapping) Class() addr.Class { return m.class }

func (m *StreamMapping) Direction() Direction { return m.direction }

// SetDirection overrides the mapping's default DirectionAny.
func (m *StreamMapping) SetDirection(d Direction) { m.direction = d }

// SetMaxInboundMessageSize overrides DefaultMaxInboundMessageSize (§4.5
// "Length validation").
func (m *StreamMapping) SetMaxInboundMessageSize(n int) { m.maxInboundSize = n }

func (m *StreamMapping) LocalAddress() *addr.Address { return m.localAddr }

// Listening reports whether Listen has been called and its accept loop is
// running, so the dispatcher can warn (not fail) when sending a confirmed
// PDU to a connection-oriented mapping that never started listening (§4.3
// step 3).
func (m *StreamMapping) Listening() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.out != nil
}

func (m *StreamMapping) Listen(ctx context.Context) (<-chan IncomingMessage, error) {
	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.out = make(chan IncomingMessage, 64)

	go m.acceptLoop(ctx)
	go m.reapIdle(ctx)

	return m.out, nil
}

// acceptLoop accepts new connections, counting consecutive transient
// accept errors so a misbehaving listener can't spin the CPU (§4.5
// "busy-loop guard"): after busyGuard consecutive failures the loop backs
// off briefly before retrying, rather than hammering Accept in a tight
// loop.
func (m *StreamMapping) acceptLoop(ctx context.Context) {
	consecutiveErrors := 0
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		conn, err := m.listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
			}
			consecutiveErrors++
			m.log.WithError(err).Warn("accept failed")
			if consecutiveErrors >= m.busyGuard {
				time.Sleep(time.Second)
				consecutiveErrors = 0
			}
			continue
		}
		consecutiveErrors = 0
		go m.handleConn(ctx, conn)
	}
}

func (m *StreamMapping) handleConn(ctx context.Context, conn net.Conn) {
	peerAddr, err := addr.FromNetAddr(conn.RemoteAddr(), m.class)
	if err != nil {
		m.log.WithError(err).Warn("could not classify peer, dropping connection")
		conn.Close()
		return
	}

	entry := &socketEntry{conn: conn, peer: peerAddr, lastActivity: time.Now()}
	key := peerAddr.String()
	m.mu.Lock()
	m.peers[key] = entry
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		delete(m.peers, key)
		m.mu.Unlock()
		conn.Close()
	}()

	m.readFramedLoop(ctx, entry)
}

// readFramedLoop reads BER-framed messages off entry's connection: the
// SNMPv3/v2c wire message's own outer SEQUENCE length is the frame length
// (§4.5 "message framing"), so no extra length prefix is added on top of
// the MP model's own encoding. A decoded length that is non-positive or
// exceeds maxInboundSize closes the socket immediately (§4.5 "Length
// validation", §8 "A frame longer than max_inbound_message_size on a
// TCP/TLS socket causes that socket to be closed immediately").
func (m *StreamMapping) readFramedLoop(ctx context.Context, entry *socketEntry) {
	buf := make([]byte, 0, 4096)
	chunk := make([]byte, 4096)

	for {
		if len(buf) >= minFrameHeaderLen {
			total, _, err := ber.MessageLength(buf)
			if err == nil {
				if total <= 0 || total > m.maxInboundSize {
					m.log.WithField("length", total).WithField("peer", entry.peer).
						Warn("inbound frame length invalid or exceeds max inbound message size, closing connection")
					return
				}
				if len(buf) >= total {
					frame := append([]byte(nil), buf[:total]...)
					buf = buf[total:]
					entry.touch()
					stateRef := txstate.New(m.class, entry.peer, nil, 0, nil)
					select {
					case m.out <- IncomingMessage{Data: frame, Source: entry.peer, StateRef: stateRef}:
					case <-ctx.Done():
						return
					}
					continue
				}
			} else if err != ber.ErrTruncated {
				m.log.WithError(err).Warn("malformed frame, closing connection")
				return
			}
		}

		_ = entry.conn.SetReadDeadline(time.Now().Add(m.idleTimeout))
		n, err := entry.conn.Read(chunk)
		if err != nil {
			if err != io.EOF {
				m.log.WithError(err).Debug("stream read ended")
			}
			return
		}
		entry.mu.Lock()
		entry.bytesRecv += uint64(n)
		entry.mu.Unlock()
		buf = append(buf, chunk[:n]...)

		select {
		case <-ctx.Done():
			return
		default:
		}
	}
}

// reapIdle periodically closes connections that have been silent past
// idleTimeout (§4.5 "idle reaping").
func (m *StreamMapping) reapIdle(ctx context.Context) {
	ticker := time.NewTicker(m.idleTimeout / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.mu.Lock()
			for key, entry := range m.peers {
				if entry.idleSince() > m.idleTimeout {
					entry.conn.Close()
					delete(m.peers, key)
				}
			}
			m.mu.Unlock()
		}
	}
}

func (m *StreamMapping) Send(ctx context.Context, data []byte, dest *addr.Address, stateRef *txstate.Reference) error {
	key := dest.String()

	m.mu.Lock()
	entry, ok := m.peers[key]
	m.mu.Unlock()

	if !ok {
		if m.dial == nil {
			return ErrClosed
		}
		conn, err := m.dial(ctx, netNetworkFor(m.class), dest.ToNetAddr().String())
		if err != nil {
			return err
		}
		entry = &socketEntry{conn: conn, peer: dest, lastActivity: time.Now()}
		m.mu.Lock()
		m.peers[key] = entry
		m.mu.Unlock()
		go m.readFramedLoopIfListening(conn, entry)
	}

	n, err := entry.conn.Write(data)
	if err != nil {
		return err
	}
	entry.mu.Lock()
	entry.bytesSent += uint64(n)
	entry.mu.Unlock()
	entry.touch()
	return nil
}

// readFramedLoopIfListening starts reading responses off a client-dialed
// connection, reusing the same framing loop the server side uses, so a
// client that dials out still receives the RESPONSE on the connection it
// opened rather than needing a separate accepted socket.
func (m *StreamMapping) readFramedLoopIfListening(conn net.Conn, entry *socketEntry) {
	if m.out == nil {
		return
	}
	ctx := context.Background()
	defer func() {
		m.mu.Lock()
		delete(m.peers, entry.peer.String())
		m.mu.Unlock()
		conn.Close()
	}()
	m.readFramedLoop(ctx, entry)
}

func netNetworkFor(class addr.Class) string {
	if class == addr.ClassDTLS {
		return "udp"
	}
	return "tcp"
}

func (m *StreamMapping) Close() error {
	if m.cancel != nil {
		m.cancel()
	}
	m.mu.Lock()
	for _, entry := range m.peers {
		entry.conn.Close()
	}
	m.peers = make(map[string]*socketEntry)
	m.mu.Unlock()
	return m.listener.Close()
}
