package trustping

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentmesh/didcomm-engine/core/dispatch"
	"github.com/agentmesh/didcomm-engine/core/fsm"
	"github.com/agentmesh/didcomm-engine/core/message"
	"github.com/agentmesh/didcomm-engine/kvstore/memory"
)

func newPlaintext(typ, from, to, thid string) message.Plaintext {
	return message.Plaintext{BaseMessage: message.BaseMessage{
		ID: message.NewID(), Type: typ, From: from, To: []string{to}, ThreadID: thid,
	}}
}

// TestTrustPingRoundTrip is scenario S3: send ping, receive ping, send
// ping_response, receive ping_response leaves both sides in a terminal
// state with no further legal transition.
func TestTrustPingRoundTrip(t *testing.T) {
	ctx := context.Background()
	kv := memory.New()

	registry := dispatch.NewRegistry()
	registry.Register(ProtocolURI, New(kv))

	thid := "thread-trustping-1"

	pingOut, handled, err := registry.DispatchSend(ctx, newPlaintext(message.BuildType(ProtocolURI, "ping"), "did:example:alice", "did:example:bob", thid))
	require.NoError(t, err)
	assert.True(t, handled)
	assert.True(t, pingOut.Encrypt)

	_, handled, err = registry.DispatchReceive(ctx, newPlaintext(message.BuildType(ProtocolURI, "ping"), "did:example:alice", "did:example:bob", thid))
	require.NoError(t, err)
	assert.True(t, handled)

	_, handled, err = registry.DispatchSend(ctx, newPlaintext(message.BuildType(ProtocolURI, "ping_response"), "did:example:bob", "did:example:alice", thid))
	require.NoError(t, err)
	assert.True(t, handled)

	_, handled, err = registry.DispatchReceive(ctx, newPlaintext(message.BuildType(ProtocolURI, "ping_response"), "did:example:bob", "did:example:alice", thid))
	require.NoError(t, err)
	assert.True(t, handled)

	runtime := fsm.New(kv, protocolShort)
	pingerState, err := runtime.CurrentState(ctx, thid, Pinger)
	require.NoError(t, err)
	assert.Equal(t, StateReceivePingResponse, pingerState)

	pongerState, err := runtime.CurrentState(ctx, thid, Ponger)
	require.NoError(t, err)
	assert.Equal(t, StateSendPingResponse, pongerState)

	// Terminal: replaying either final step again is an illegal transition.
	_, _, err = registry.DispatchReceive(ctx, newPlaintext(message.BuildType(ProtocolURI, "ping_response"), "did:example:bob", "did:example:alice", thid))
	require.Error(t, err)
	assert.ErrorIs(t, err, fsm.ErrIllegalTransition)
}

func TestSendPingBodyRequestsResponse(t *testing.T) {
	ctx := context.Background()
	kv := memory.New()
	registry := dispatch.NewRegistry()
	registry.Register(ProtocolURI, New(kv))

	out, _, err := registry.DispatchSend(ctx, newPlaintext(message.BuildType(ProtocolURI, "ping"), "did:example:alice", "did:example:bob", "thread-2"))
	require.NoError(t, err)

	body, ok := out.Message.Body.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, true, body["response_requested"])
}
