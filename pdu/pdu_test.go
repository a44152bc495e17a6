package pdu

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOIDParseAndString(t *testing.T) {
	oid, err := ParseOID("1.3.6.1.2.1.1.1.0")
	require.NoError(t, err)
	assert.Equal(t, "1.3.6.1.2.1.1.1.0", oid.String())
}

func TestOIDEqual(t *testing.T) {
	a := MustParseOID("1.3.6.1.2.1.1.1.0")
	b := MustParseOID("1.3.6.1.2.1.1.1.0")
	c := MustParseOID("1.3.6.1.2.1.1.2.0")
	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(c))
}

func TestOIDCloneIsIndependent(t *testing.T) {
	a := MustParseOID("1.3.6.1.2.1.1.1.0")
	b := a.Clone()
	b[0] = 99
	assert.NotEqual(t, a[0], b[0])
}

func TestPDUCloneDeepCopiesVarBinds(t *testing.T) {
	p := NewPDU(TypeGet)
	p.VarBinds = []VarBind{NewVarBind(OIDSnmpEngineID, nil)}

	clone := p.Clone()
	clone.VarBinds[0].OID[0] = 42

	assert.NotEqual(t, p.VarBinds[0].OID[0], clone.VarBinds[0].OID[0])
}

func TestTypeIsConfirmed(t *testing.T) {
	assert.True(t, TypeGet.IsConfirmed())
	assert.True(t, TypeGetBulk.IsConfirmed())
	assert.False(t, TypeResponse.IsConfirmed())
	assert.False(t, TypeReport.IsConfirmed())
	assert.False(t, TypeV1Trap.IsConfirmed())
}

func TestTypeIsResponse(t *testing.T) {
	assert.True(t, TypeResponse.IsResponse())
	assert.True(t, TypeReport.IsResponse())
	assert.False(t, TypeGet.IsResponse())
}

func TestNewDiscoveryGetPDU(t *testing.T) {
	localEngineID := []byte{0x80, 0x00, 0x1f, 0x88}
	scoped := NewDiscoveryGetPDU(localEngineID)

	assert.Equal(t, localEngineID, scoped.ContextEngineID)
	assert.Equal(t, TypeGet, scoped.PDU.Type)
	require.Len(t, scoped.PDU.VarBinds, 1)
	assert.True(t, scoped.PDU.VarBinds[0].OID.Equal(OIDSnmpEngineID))
}

func TestScopedPDUCloneIndependent(t *testing.T) {
	scoped := NewDiscoveryGetPDU([]byte{1, 2, 3})
	clone := scoped.Clone()
	clone.ContextEngineID[0] = 0xff
	clone.PDU.VarBinds[0].OID[0] = 99

	assert.NotEqual(t, scoped.ContextEngineID[0], clone.ContextEngineID[0])
	assert.NotEqual(t, scoped.PDU.VarBinds[0].OID[0], clone.PDU.VarBinds[0].OID[0])
}
