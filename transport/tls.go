package transport

import (
	"context"
	"crypto/tls"
	"net"

	"github.com/sirupsen/logrus"

	"github.com/netmgmt/snmpcore/addr"
)

// NewTLSMapping listens for TLSTM connections at listenAddr using cfg (RFC
// 6353): certificate-based peer authentication is cfg's responsibility
// (ClientAuth/ClientCAs), this mapping only wires the handshake into the
// stream-framing machinery shared with plain TCP.
func NewTLSMapping(listenAddr string, cfg *tls.Config, log *logrus.Logger) (*StreamMapping, error) {
	listener, err := tls.Listen("tcp", listenAddr, cfg)
	if err != nil {
		return nil, err
	}
	dial := func(ctx context.Context, network, address string) (net.Conn, error) {
		dialer := tls.Dialer{Config: cfg}
		return dialer.DialContext(ctx, network, address)
	}
	return NewStreamMapping(addr.ClassTLS, listener, dial, DefaultIdleTimeout, log)
}
