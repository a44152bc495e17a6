package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/netmgmt/snmpcore/dispatcher"
	"github.com/netmgmt/snmpcore/mp"
	"github.com/netmgmt/snmpcore/pdu"
	"github.com/netmgmt/snmpcore/transport"
)

func newV2cUDPSession(t *testing.T) (*Session, *transport.UDPMapping) {
	t.Helper()
	s, err := New(Config{LocalEngineID: []byte{0x80, 0x00, 0x1f, 0x88, 0x01}})
	require.NoError(t, err)
	s.AddMPModel(mp.NewV2c())

	udpMapping, err := transport.NewUDPMapping("127.0.0.1:0", nil)
	require.NoError(t, err)
	s.AddTransport(udpMapping, true, true)
	return s, udpMapping
}

func TestSessionSyncGetRoundTrip(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	server, serverMapping := newV2cUDPSession(t)
	defer server.Close()
	client, clientMapping := newV2cUDPSession(t)
	defer client.Close()
	_ = clientMapping

	require.NoError(t, server.Listen(ctx))
	require.NoError(t, client.Listen(ctx))

	server.AddCommandResponderListener(dispatcher.CommandResponderFunc(func(evt *dispatcher.CommandResponderEvent) {
		if evt.PDU.Type != pdu.TypeGet {
			return
		}
		evt.MarkProcessed()
		resp := pdu.NewPDU(pdu.TypeResponse)
		resp.RequestID = evt.PDU.RequestID
		resp.VarBinds = []pdu.VarBind{pdu.NewVarBind(evt.PDU.VarBinds[0].OID, []byte("unit-test-agent"))}
		err := server.Send(ctx, &Request{
			Target: &pdu.Target{
				Address:       evt.PeerAddress,
				Version:       2,
				SecurityModel: pdu.SecurityModelSNMPv2c,
				SecurityName:  []byte("public"),
			},
			PDU: resp,
		})
		assert.NoError(t, err)
	}))

	target := &pdu.Target{
		Address:       serverMapping.LocalAddress(),
		Version:       2,
		Retries:       1,
		Timeout:       500 * time.Millisecond,
		SecurityModel: pdu.SecurityModelSNMPv2c,
		SecurityName:  []byte("public"),
	}
	req := pdu.NewPDU(pdu.TypeGet)
	req.VarBinds = []pdu.VarBind{pdu.NewVarBind(pdu.MustParseOID("1.3.6.1.2.1.1.1.0"), nil)}

	evt, err := client.SendSync(ctx, &Request{Target: target, PDU: req})
	require.NoError(t, err)
	require.NotNil(t, evt.PDU)
	assert.Equal(t, []byte("unit-test-agent"), evt.PDU.VarBinds[0].Value)
}

func TestSessionListenThenClose(t *testing.T) {
	s, _ := newV2cUDPSession(t)
	ctx := context.Background()
	require.NoError(t, s.Listen(ctx))
	require.NoError(t, s.Close())
}
