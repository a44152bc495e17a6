package transport

import (
	"context"
	"net"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/netmgmt/snmpcore/addr"
)

// NewTCPMapping listens for TCP connections at listenAddr (RFC 3430).
func NewTCPMapping(listenAddr string, log *logrus.Logger) (*StreamMapping, error) {
	listener, err := net.Listen("tcp", listenAddr)
	if err != nil {
		return nil, err
	}
	dialer := net.Dialer{}
	dial := func(ctx context.Context, network, address string) (net.Conn, error) {
		return dialer.DialContext(ctx, network, address)
	}
	return NewStreamMapping(addr.ClassTCP, listener, dial, DefaultIdleTimeout, log)
}

// NewTCPMappingWithIdleTimeout is NewTCPMapping with an explicit idle-reap
// timeout, for callers that need a tighter bound than the §4.5 default.
func NewTCPMappingWithIdleTimeout(listenAddr string, idleTimeout time.Duration, log *logrus.Logger) (*StreamMapping, error) {
	listener, err := net.Listen("tcp", listenAddr)
	if err != nil {
		return nil, err
	}
	dialer := net.Dialer{}
	dial := func(ctx context.Context, network, address string) (net.Conn, error) {
		return dialer.DialContext(ctx, network, address)
	}
	return NewStreamMapping(addr.ClassTCP, listener, dial, idleTimeout, log)
}
