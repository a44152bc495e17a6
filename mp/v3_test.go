package mp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/netmgmt/snmpcore/pdu"
	"github.com/netmgmt/snmpcore/usm"
)

func TestV3NoAuthNoPrivRoundTrip(t *testing.T) {
	localEngineID := []byte{0x80, 0x00, 0x1f, 0x88, 0x01}
	model := NewV3USM(usm.NewUserTable(), usm.NewEngineCache(), localEngineID)

	p := pdu.NewPDU(pdu.TypeGet)
	p.RequestID = 55
	p.VarBinds = []pdu.VarBind{pdu.NewVarBind(pdu.OIDSnmpEngineID, nil)}
	scoped := pdu.NewScopedPDU(p)
	scoped.ContextEngineID = localEngineID

	res, status, err := model.PrepareOutgoingMessage(&OutgoingRequest{
		MaxMessageSize: 65507,
		SecurityModel:  pdu.SecurityModelUSM,
		SecurityName:   []byte("noauth"),
		SecurityLevel:  pdu.SecurityLevelNoAuthNoPriv,
		PDU:            p,
		ScopedPDU:      scoped,
	})
	require.NoError(t, err)
	require.Equal(t, StatusOK, status)

	decoded, status, err := model.PrepareDataElements(&IncomingMessage{Buf: res.Wire})
	require.NoError(t, err)
	require.Equal(t, StatusOK, status)
	assert.Equal(t, int32(55), decoded.PDU.RequestID)
	assert.Equal(t, pdu.SecurityLevelNoAuthNoPriv, decoded.SecurityLevel)
	assert.Equal(t, []byte("noauth"), decoded.SecurityName)
}

func TestV3AuthPrivRoundTrip(t *testing.T) {
	localEngineID := []byte{0x80, 0x00, 0x1f, 0x88, 0x02}
	users := usm.NewUserTable()
	users.AddUser(&usm.User{
		SecurityName: []byte("secadmin"),
		AuthProtocol: usm.AuthHMACSHA256,
		AuthPassword: []byte("authpassword1"),
		PrivProtocol: usm.PrivAES128,
		PrivPassword: []byte("privpassword1"),
	})
	cache := usm.NewEngineCache()
	cache.SetEngineID("10.0.0.5:161", localEngineID)

	model := NewV3USM(users, cache, localEngineID)

	p := pdu.NewPDU(pdu.TypeGet)
	p.RequestID = 101
	p.VarBinds = []pdu.VarBind{pdu.NewVarBind(pdu.MustParseOID("1.3.6.1.2.1.1.3.0"), nil)}
	scoped := pdu.NewScopedPDU(p)
	scoped.ContextEngineID = localEngineID

	req := &OutgoingRequest{
		MaxMessageSize: 65507,
		SecurityModel:  pdu.SecurityModelUSM,
		SecurityName:   []byte("secadmin"),
		SecurityLevel:  pdu.SecurityLevelAuthPriv,
		PDU:            p,
		ScopedPDU:      scoped,
	}

	res, status, err := model.PrepareOutgoingMessage(req)
	require.NoError(t, err)
	require.Equal(t, StatusOK, status)

	decoded, status, err := model.PrepareDataElements(&IncomingMessage{Buf: res.Wire})
	require.NoError(t, err)
	require.Equal(t, StatusOK, status)
	assert.Equal(t, int32(101), decoded.PDU.RequestID)
	assert.Equal(t, pdu.SecurityLevelAuthPriv, decoded.SecurityLevel)
	assert.Equal(t, []byte("secadmin"), decoded.SecurityName)
	require.Len(t, decoded.PDU.VarBinds, 1)
}

func TestV3AuthPrivTamperedMessageFailsAuth(t *testing.T) {
	localEngineID := []byte{0x80, 0x00, 0x1f, 0x88, 0x03}
	users := usm.NewUserTable()
	users.AddUser(&usm.User{
		SecurityName: []byte("secadmin"),
		AuthProtocol: usm.AuthHMACSHA1,
		AuthPassword: []byte("authpassword1"),
	})
	model := NewV3USM(users, usm.NewEngineCache(), localEngineID)

	p := pdu.NewPDU(pdu.TypeGet)
	p.RequestID = 9
	scoped := pdu.NewScopedPDU(p)
	scoped.ContextEngineID = localEngineID

	res, _, err := model.PrepareOutgoingMessage(&OutgoingRequest{
		MaxMessageSize: 65507,
		SecurityModel:  pdu.SecurityModelUSM,
		SecurityName:   []byte("secadmin"),
		SecurityLevel:  pdu.SecurityLevelAuthNoPriv,
		PDU:            p,
		ScopedPDU:      scoped,
	})
	require.NoError(t, err)

	tampered := append([]byte(nil), res.Wire...)
	tampered[len(tampered)-1] ^= 0xff

	_, status, err := model.PrepareDataElements(&IncomingMessage{Buf: tampered})
	assert.Error(t, err)
	assert.Equal(t, StatusAuthenticationFailure, status)
}

func TestV3TSMDoesNotSupportDiscovery(t *testing.T) {
	model := NewV3TSM([]byte{0x80, 0x00, 0x1f, 0x88, 0x04})
	assert.False(t, model.SupportsEngineIDDiscovery())

	usmModel := NewV3USM(usm.NewUserTable(), usm.NewEngineCache(), []byte{0x01})
	assert.True(t, usmModel.SupportsEngineIDDiscovery())
}
