package transport

import (
	"context"
	"net"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/netmgmt/snmpcore/addr"
	"github.com/netmgmt/snmpcore/txstate"
)

// UDPMapping is the connectionless UDP transport mapping (RFC 3417). Its
// read loop uses a cancellable context, a bounded read deadline so the
// loop can notice cancellation, and per-packet dispatch onto a channel
// instead of direct handler callbacks.
type UDPMapping struct {
	conn      net.PacketConn
	localAddr *addr.Address
	log       *logrus.Entry

	out    chan IncomingMessage
	cancel context.CancelFunc
}

// NewUDPMapping binds a UDP socket at listenAddr (host:port, or ":0" for an
// ephemeral port).
func NewUDPMapping(listenAddr string, log *logrus.Logger) (*UDPMapping, error) {
	conn, err := net.ListenPacket("udp", listenAddr)
	if err != nil {
		return nil, err
	}
	local, err := addr.FromNetAddr(conn.LocalAddr(), addr.ClassUDP)
	if err != nil {
		conn.Close()
		return nil, err
	}
	if log == nil {
		log = logrus.New()
	}
	return &UDPMapping{
		conn:      conn,
		localAddr: local,
		log:       log.WithField("mapping", "udp"),
	}, nil
}

func (m *UDPMapping) Class() addr.Class { return addr.ClassUDP }

// Direction is always DirectionAny: a single UDP socket both originates
// requests and answers them (RFC 3417 has no separate request/response
// transport).
func (m *UDPMapping) Direction() Direction { return DirectionAny }

func (m *UDPMapping) LocalAddress() *addr.Address { return m.localAddr }

func (m *UDPMapping) Send(ctx context.Context, data []byte, dest *addr.Address, _ *txstate.Reference) error {
	_, err := m.conn.WriteTo(data, dest.ToNetAddr())
	return err
}

func (m *UDPMapping) Listen(ctx context.Context) (<-chan IncomingMessage, error) {
	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.out = make(chan IncomingMessage, 64)
	go m.readLoop(ctx)
	return m.out, nil
}

func (m *UDPMapping) readLoop(ctx context.Context) {
	defer close(m.out)
	buffer := make([]byte, 65535)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		_ = m.conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
		n, peer, err := m.conn.ReadFrom(buffer)
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				continue
			}
			select {
			case <-ctx.Done():
				return
			default:
				m.log.WithError(err).Warn("udp read failed")
				continue
			}
		}

		peerAddr, err := addr.FromNetAddr(peer, addr.ClassUDP)
		if err != nil {
			m.log.WithError(err).Warn("could not classify peer address")
			continue
		}

		data := make([]byte, n)
		copy(data, buffer[:n])

		stateRef := txstate.New(addr.ClassUDP, peerAddr, nil, 0, nil)
		msg := IncomingMessage{Data: data, Source: peerAddr, StateRef: stateRef}
		select {
		case m.out <- msg:
		case <-ctx.Done():
			return
		}
	}
}

func (m *UDPMapping) Close() error {
	if m.cancel != nil {
		m.cancel()
	}
	return m.conn.Close()
}
