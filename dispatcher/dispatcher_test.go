package dispatcher

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/netmgmt/snmpcore/mp"
	"github.com/netmgmt/snmpcore/pdu"
	"github.com/netmgmt/snmpcore/transport"
)

func pumpIncoming(ctx context.Context, d *Dispatcher, mapping transport.Mapping, msgs <-chan transport.IncomingMessage) {
	go func() {
		for {
			select {
			case m, ok := <-msgs:
				if !ok {
					return
				}
				d.ProcessMessage(ctx, mapping.Class(), m.Source, m.Data, m.StateRef)
			case <-ctx.Done():
				return
			}
		}
	}()
}

func newUDPDispatcher(t *testing.T) (*Dispatcher, *transport.UDPMapping, <-chan transport.IncomingMessage) {
	t.Helper()
	udpMapping, err := transport.NewUDPMapping("127.0.0.1:0", nil)
	require.NoError(t, err)

	mpModels := mp.NewRegistry()
	mpModels.Add(mp.NewV2c())

	transports := transport.NewRegistry()
	transports.AddOutgoing(udpMapping)
	transports.AddIncoming(udpMapping)

	d := New(mpModels, transports, Options{})

	ctx := context.Background()
	msgs, err := udpMapping.Listen(ctx)
	require.NoError(t, err)

	return d, udpMapping, msgs
}

func TestSendPDUGetResponseRoundTrip(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	server, serverMapping, serverMsgs := newUDPDispatcher(t)
	defer serverMapping.Close()
	client, clientMapping, clientMsgs := newUDPDispatcher(t)
	defer clientMapping.Close()

	pumpIncoming(ctx, server, serverMapping, serverMsgs)
	pumpIncoming(ctx, client, clientMapping, clientMsgs)

	server.AddCommandResponderListener(CommandResponderFunc(func(evt *CommandResponderEvent) {
		if evt.PDU.Type != pdu.TypeGet {
			return
		}
		evt.MarkProcessed()

		resp := pdu.NewPDU(pdu.TypeResponse)
		resp.RequestID = evt.PDU.RequestID
		resp.VarBinds = evt.PDU.VarBinds

		target := &pdu.Target{
			Address:       evt.PeerAddress,
			Version:       2,
			SecurityModel: pdu.SecurityModelSNMPv2c,
			SecurityName:  []byte("public"),
		}
		_, err := server.SendPDU(ctx, &SendRequest{Target: target, PDU: resp})
		assert.NoError(t, err)
	}))

	responses := make(chan *CommandResponderEvent, 1)
	client.AddCommandResponderListener(CommandResponderFunc(func(evt *CommandResponderEvent) {
		if evt.PDU.Type != pdu.TypeResponse {
			return
		}
		evt.MarkProcessed()
		responses <- evt
	}))

	req := pdu.NewPDU(pdu.TypeGet)
	req.VarBinds = []pdu.VarBind{pdu.NewVarBind(pdu.MustParseOID("1.3.6.1.2.1.1.1.0"), nil)}

	target := &pdu.Target{
		Address:       serverMapping.LocalAddress(),
		Version:       2,
		SecurityModel: pdu.SecurityModelSNMPv2c,
		SecurityName:  []byte("public"),
	}

	var assignedHandle pdu.Handle
	handle, err := client.SendPDU(ctx, &SendRequest{
		Target:         target,
		PDU:            req,
		ExpectResponse: true,
		OnHandleAssigned: func(h pdu.Handle, p *pdu.PDU) {
			assignedHandle = h
		},
	})
	require.NoError(t, err)
	assert.True(t, handle.Valid())
	assert.Equal(t, assignedHandle, handle)

	select {
	case evt := <-responses:
		assert.Equal(t, handle, evt.Handle)
		require.Len(t, evt.PDU.VarBinds, 1)
		assert.Equal(t, "1.3.6.1.2.1.1.1.0", evt.PDU.VarBinds[0].OID.String())
	case <-ctx.Done():
		t.Fatal("timed out waiting for response")
	}

	assert.Equal(t, int64(1), server.Counters.Snapshot().InPkts)
	assert.Equal(t, int64(1), client.Counters.Snapshot().InPkts)
}

func TestSendPDUUnsupportedVersion(t *testing.T) {
	mpModels := mp.NewRegistry()
	mpModels.Add(mp.NewV2c())
	transports := transport.NewRegistry()
	d := New(mpModels, transports, Options{})

	target := &pdu.Target{Version: 3, SecurityModel: pdu.SecurityModelUSM}
	req := pdu.NewPDU(pdu.TypeGet)

	_, err := d.SendPDU(context.Background(), &SendRequest{Target: target, PDU: req})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnsupportedMPModel)
}

func TestSendPDUCoercesGetBulkForV1(t *testing.T) {
	mpModels := mp.NewRegistry()
	mpModels.Add(mp.NewV1())
	transports := transport.NewRegistry()
	udpMapping, err := transport.NewUDPMapping("127.0.0.1:0", nil)
	require.NoError(t, err)
	defer udpMapping.Close()
	transports.AddOutgoing(udpMapping)

	d := New(mpModels, transports, Options{})

	req := pdu.NewPDU(pdu.TypeGetBulk)
	req.NonRepeaters = 1
	req.MaxRepetitions = 10
	req.VarBinds = []pdu.VarBind{pdu.NewVarBind(pdu.MustParseOID("1.3.6.1.2.1.1.1.0"), nil)}

	target := &pdu.Target{
		Address:       udpMapping.LocalAddress(),
		Version:       1,
		SecurityModel: pdu.SecurityModelSNMPv1,
		SecurityName:  []byte("public"),
	}

	_, err = d.SendPDU(context.Background(), &SendRequest{Target: target, PDU: req})
	require.NoError(t, err)
	assert.Equal(t, pdu.TypeGetNext, req.Type)
	assert.Equal(t, 0, req.NonRepeaters)
	assert.Equal(t, 0, req.MaxRepetitions)
}
