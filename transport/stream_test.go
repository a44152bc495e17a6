package transport

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/netmgmt/snmpcore/ber"
)

func TestTCPMappingFramedRoundTrip(t *testing.T) {
	server, err := NewTCPMapping("127.0.0.1:0", nil)
	require.NoError(t, err)
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	msgs, err := server.Listen(ctx)
	require.NoError(t, err)

	client, err := NewTCPMapping("127.0.0.1:0", nil)
	require.NoError(t, err)
	defer client.Close()

	frame := ber.Encode(ber.TagSequence, []byte("snmp-message-body"))
	err = client.Send(ctx, frame, server.LocalAddress(), nil)
	require.NoError(t, err)

	select {
	case m := <-msgs:
		assert.Equal(t, frame, m.Data)
	case <-ctx.Done():
		t.Fatal("timed out waiting for framed message")
	}
}
