package mp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/netmgmt/snmpcore/pdu"
)

func TestV1V2cEncodeDecodeRoundTrip(t *testing.T) {
	model := NewV2c()

	p := pdu.NewPDU(pdu.TypeGet)
	p.RequestID = 42
	p.VarBinds = []pdu.VarBind{
		pdu.NewVarBind(pdu.MustParseOID("1.3.6.1.2.1.1.1.0"), nil),
	}

	res, status, err := model.PrepareOutgoingMessage(&OutgoingRequest{
		SecurityName: []byte("public"),
		PDU:          p,
	})
	require.NoError(t, err)
	require.Equal(t, StatusOK, status)

	decoded, status, err := model.PrepareDataElements(&IncomingMessage{Buf: res.Wire})
	require.NoError(t, err)
	require.Equal(t, StatusOK, status)

	assert.Equal(t, int32(42), decoded.PDU.RequestID)
	assert.Equal(t, pdu.TypeGet, decoded.PDU.Type)
	assert.Equal(t, []byte("public"), decoded.SecurityName)
	assert.Equal(t, pdu.SecurityModelSNMPv2c, decoded.SecurityModel)
	require.Len(t, decoded.PDU.VarBinds, 1)
	assert.True(t, decoded.PDU.VarBinds[0].OID.Equal(pdu.MustParseOID("1.3.6.1.2.1.1.1.0")))
	assert.Nil(t, decoded.PDU.VarBinds[0].Value)
}

func TestV1V2cGetBulkReusesErrorSlots(t *testing.T) {
	model := NewV2c()
	p := pdu.NewPDU(pdu.TypeGetBulk)
	p.RequestID = 7
	p.NonRepeaters = 1
	p.MaxRepetitions = 10
	p.VarBinds = []pdu.VarBind{pdu.NewVarBind(pdu.MustParseOID("1.3.6.1.2.1.2.2"), nil)}

	res, _, err := model.PrepareOutgoingMessage(&OutgoingRequest{SecurityName: []byte("public"), PDU: p})
	require.NoError(t, err)

	decoded, _, err := model.PrepareDataElements(&IncomingMessage{Buf: res.Wire})
	require.NoError(t, err)
	assert.Equal(t, 1, decoded.PDU.NonRepeaters)
	assert.Equal(t, 10, decoded.PDU.MaxRepetitions)
}

func TestV1V2cResponseWithException(t *testing.T) {
	model := NewV1()
	p := pdu.NewPDU(pdu.TypeResponse)
	p.RequestID = 3
	p.VarBinds = []pdu.VarBind{
		pdu.NewVarBind(pdu.MustParseOID("1.3.6.1.2.1.1.99.0"), pdu.ExceptionNoSuchObject),
	}

	res, _, err := model.PrepareOutgoingMessage(&OutgoingRequest{SecurityName: []byte("public"), PDU: p})
	require.NoError(t, err)

	decoded, _, err := model.PrepareDataElements(&IncomingMessage{Buf: res.Wire})
	require.NoError(t, err)
	assert.Equal(t, pdu.ExceptionNoSuchObject, decoded.PDU.VarBinds[0].Value)
	assert.Equal(t, pdu.SecurityModelSNMPv1, decoded.SecurityModel)
}

func TestV1TrapRoundTrip(t *testing.T) {
	model := NewV1()
	p := pdu.NewPDU(pdu.TypeV1Trap)
	p.EnterpriseOID = pdu.MustParseOID("1.3.6.1.4.1.9999")
	p.AgentAddr = [4]byte{10, 0, 0, 1}
	p.GenericTrap = 6
	p.SpecificTrap = 1
	p.Timestamp = 12345

	res, _, err := model.PrepareOutgoingMessage(&OutgoingRequest{SecurityName: []byte("public"), PDU: p})
	require.NoError(t, err)

	decoded, _, err := model.PrepareDataElements(&IncomingMessage{Buf: res.Wire})
	require.NoError(t, err)
	assert.Equal(t, pdu.TypeV1Trap, decoded.PDU.Type)
	assert.Equal(t, [4]byte{10, 0, 0, 1}, decoded.PDU.AgentAddr)
	assert.Equal(t, 6, decoded.PDU.GenericTrap)
	assert.Equal(t, uint32(12345), decoded.PDU.Timestamp)
}

func TestRegistryIdempotentAdd(t *testing.T) {
	reg := NewRegistry()
	reg.Add(NewV1())
	reg.Add(NewV2c())

	first, ok := reg.Get(1)
	require.True(t, ok)

	reg.Add(NewV1()) // must not replace
	second, ok := reg.Get(1)
	require.True(t, ok)
	assert.Same(t, first, second)

	_, ok = reg.Get(99)
	assert.False(t, ok)
}
