package transport

import (
	"context"
	"net"

	"github.com/pion/dtls/v2"
	"github.com/sirupsen/logrus"

	"github.com/netmgmt/snmpcore/addr"
)

// NewDTLSMapping listens for DTLS-TM associations at listenAddr using cfg
// (RFC 6353 §5.2's DTLS variant, RFC 7525 cipher-suite guidance is cfg's
// responsibility). DTLS rides UDP, so its idle timeout defaults wider than
// TCP/TLS's (§4.5) since a quiet association is cheaper to keep than a
// quiet TCP socket.
func NewDTLSMapping(listenAddr string, cfg *dtls.Config, log *logrus.Logger) (*StreamMapping, error) {
	laddr, err := net.ResolveUDPAddr("udp", listenAddr)
	if err != nil {
		return nil, err
	}
	listener, err := dtls.Listen("udp", laddr, cfg)
	if err != nil {
		return nil, err
	}
	dial := func(ctx context.Context, network, address string) (net.Conn, error) {
		raddr, err := net.ResolveUDPAddr("udp", address)
		if err != nil {
			return nil, err
		}
		return dtls.DialWithContext(ctx, "udp", raddr, cfg)
	}
	return NewStreamMapping(addr.ClassDTLS, listener, dial, DefaultDTLSIdleTimeout, log)
}
