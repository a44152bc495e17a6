package addr

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassHierarchyWalk(t *testing.T) {
	dtls := NewDTLS(net.ParseIP("127.0.0.1"), 10161)

	assert.True(t, dtls.IsTransportCompatible(ClassDTLS), "exact match")
	assert.True(t, dtls.IsTransportCompatible(ClassUDP), "DTLS walks up to UDP")
	assert.True(t, dtls.IsTransportCompatible(ClassIP), "UDP walks up to IP")
	assert.True(t, dtls.IsTransportCompatible(ClassGeneric), "IP walks up to Generic")
	assert.False(t, dtls.IsTransportCompatible(ClassTCP), "DTLS never reaches TCP")
	assert.False(t, dtls.IsTransportCompatible(ClassTLS))
}

func TestTLSWalksThroughTCP(t *testing.T) {
	tls := NewTLS(net.ParseIP("10.0.0.1"), 10161)
	assert.True(t, tls.IsTransportCompatible(ClassTCP))
	assert.False(t, tls.IsTransportCompatible(ClassUDP))
}

func TestFromNetAddrRoundTrip(t *testing.T) {
	udpAddr := &net.UDPAddr{IP: net.ParseIP("192.168.1.1"), Port: 161}
	a, err := FromNetAddr(udpAddr, ClassUDP)
	require.NoError(t, err)
	assert.Equal(t, ClassUDP, a.Class())
	assert.Equal(t, uint16(161), a.Port())
	assert.Equal(t, "192.168.1.1", a.IP().String())
}

func TestFromNetAddrNil(t *testing.T) {
	_, err := FromNetAddr(nil, ClassUDP)
	assert.Error(t, err)
}
