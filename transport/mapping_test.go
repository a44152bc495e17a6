package transport

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/netmgmt/snmpcore/addr"
	"github.com/netmgmt/snmpcore/txstate"
)

type stubMapping struct {
	class     addr.Class
	direction Direction
	local     *addr.Address
}

func (s *stubMapping) Class() addr.Class           { return s.class }
func (s *stubMapping) Direction() Direction        { return s.direction }
func (s *stubMapping) LocalAddress() *addr.Address { return s.local }
func (s *stubMapping) Close() error                     { return nil }
func (s *stubMapping) Listen(context.Context) (<-chan IncomingMessage, error) {
	return nil, nil
}
func (s *stubMapping) Send(context.Context, []byte, *addr.Address, *txstate.Reference) error {
	return nil
}

func TestRegistryExactMatch(t *testing.T) {
	reg := NewRegistry()
	udp := &stubMapping{class: addr.ClassUDP}
	tcp := &stubMapping{class: addr.ClassTCP}
	reg.AddOutgoing(udp)
	reg.AddOutgoing(tcp)

	got, ok := reg.LookupOutgoing(addr.ClassUDP)
	assert.True(t, ok)
	assert.Same(t, udp, got)
}

func TestRegistryHierarchyFallback(t *testing.T) {
	reg := NewRegistry()
	udp := &stubMapping{class: addr.ClassUDP}
	reg.AddIncoming(udp)

	// DTLS walks up to UDP (addr.Class.Super), so a DTLS lookup should
	// fall back to the registered UDP mapping when no DTLS mapping exists.
	got, ok := reg.LookupIncoming(addr.ClassDTLS)
	assert.True(t, ok)
	assert.Same(t, udp, got)
}

func TestRegistryNoMatch(t *testing.T) {
	reg := NewRegistry()
	_, ok := reg.LookupOutgoing(addr.ClassTCP)
	assert.False(t, ok)
}

func TestRegistryDirectionIsolation(t *testing.T) {
	reg := NewRegistry()
	sender := &stubMapping{class: addr.ClassUDP, direction: DirectionSender}
	receiver := &stubMapping{class: addr.ClassTCP, direction: DirectionReceiver}
	reg.AddOutgoing(sender)
	reg.AddOutgoing(receiver)

	// A sender-direction mapping is never returned by a receiver lookup for
	// its own class, and vice versa (§8 "A transport marked as
	// direction=receiver is never selected for a destination lookup with
	// direction=sender, and vice versa").
	_, ok := reg.LookupReceiver(addr.ClassUDP)
	assert.False(t, ok)
	_, ok = reg.LookupSender(addr.ClassTCP)
	assert.False(t, ok)

	got, ok := reg.LookupSender(addr.ClassUDP)
	assert.True(t, ok)
	assert.Same(t, sender, got)

	got, ok = reg.LookupReceiver(addr.ClassTCP)
	assert.True(t, ok)
	assert.Same(t, receiver, got)
}

func TestRegistryDirectionAnyRegistersBoth(t *testing.T) {
	reg := NewRegistry()
	any := &stubMapping{class: addr.ClassUDP, direction: DirectionAny}
	reg.AddOutgoing(any)

	got, ok := reg.LookupSender(addr.ClassUDP)
	assert.True(t, ok)
	assert.Same(t, any, got)

	got, ok = reg.LookupReceiver(addr.ClassUDP)
	assert.True(t, ok)
	assert.Same(t, any, got)
}

func TestUDPMappingLoopback(t *testing.T) {
	server, err := NewUDPMapping("127.0.0.1:0", nil)
	if err != nil {
		t.Fatal(err)
	}
	defer server.Close()

	client, err := NewUDPMapping("127.0.0.1:0", nil)
	if err != nil {
		t.Fatal(err)
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	msgs, err := server.Listen(ctx)
	if err != nil {
		t.Fatal(err)
	}

	serverUDPAddr := server.LocalAddress()
	err = client.Send(ctx, []byte("hello"), serverUDPAddr, nil)
	if err != nil {
		t.Fatal(err)
	}

	select {
	case m := <-msgs:
		assert.Equal(t, []byte("hello"), m.Data)
	case <-ctx.Done():
		t.Fatal("timed out waiting for packet")
	}
}
