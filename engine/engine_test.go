package engine

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentmesh/didcomm-engine/core/didexchange"
	"github.com/agentmesh/didcomm-engine/core/fsm"
	"github.com/agentmesh/didcomm-engine/core/message"
	"github.com/agentmesh/didcomm-engine/keystore"
	"github.com/agentmesh/didcomm-engine/kvstore/memory"
)

const (
	aliceDID = "did:example:alice"
	bobDID   = "did:example:bob"
)

func requestPlaintext(thid string) []byte {
	raw, _ := json.Marshal(map[string]any{
		"type":             message.BuildType(didexchange.ProtocolURI, "request"),
		"from":             aliceDID,
		"to":               []string{bobDID},
		"thid":             thid,
		"service_endpoint": "http://127.0.0.1:7070/didcomm",
	})
	return raw
}

// TestDIDExchangeRequestRoundTrip is scenario S1: the inviter's PREPARE
// returns an unencrypted request carrying a fresh key-agreement public
// key, saves a partial CKR for (alice, bob), and leaves (thid, Inviter)
// at SendRequest.
func TestDIDExchangeRequestRoundTrip(t *testing.T) {
	ctx := context.Background()
	kv := memory.New()
	eng := New(kv)

	result, err := eng.Prepare(ctx, nil, requestPlaintext("thread-s1"))
	require.NoError(t, err)

	var out message.Plaintext
	require.NoError(t, json.Unmarshal(result.Message, &out))
	assert.Equal(t, message.BuildType(didexchange.ProtocolURI, "request"), out.Type)

	body, ok := out.Body.(map[string]any)
	require.True(t, ok)
	pub, ok := body["publicKey"].([]any)
	require.True(t, ok)
	require.NotEmpty(t, pub, "request body must carry a new X25519 public key")

	ckr, err := keystore.New(kv).GetCommKeyPair(ctx, aliceDID, bobDID)
	require.NoError(t, err)
	assert.NotEmpty(t, ckr.LocalSecret)

	state, err := fsm.New(kv, "didexchange").CurrentState(ctx, "thread-s1", didexchange.Inviter)
	require.NoError(t, err)
	assert.Equal(t, didexchange.StateSendRequest, state)
}

// TestDIDExchangeReplayIsIllegalTransition is scenario S2: re-PREPAREing
// an identical request on the same thid after it already reached
// SendRequest is an IllegalTransition, and classify() surfaces it that way.
func TestDIDExchangeReplayIsIllegalTransition(t *testing.T) {
	ctx := context.Background()
	kv := memory.New()
	eng := New(kv)

	_, err := eng.Prepare(ctx, nil, requestPlaintext("thread-s2"))
	require.NoError(t, err)

	_, err = eng.Prepare(ctx, nil, requestPlaintext("thread-s2"))
	require.Error(t, err)

	var classified *Error
	require.ErrorAs(t, err, &classified)
	assert.Equal(t, IllegalTransition, classified.Kind)
}

// TestUnknownProtocolPassthrough is scenario S6: a message whose protocol
// isn't registered passes through PREPARE unchanged, with empty metadata
// and no state or key material written.
func TestUnknownProtocolPassthrough(t *testing.T) {
	ctx := context.Background()
	kv := memory.New()
	eng := New(kv)

	plaintext, _ := json.Marshal(map[string]any{
		"type": "https://example.com/unknown/1.0/hello",
		"from": aliceDID,
		"to":   []string{bobDID},
	})

	result, err := eng.Prepare(ctx, nil, plaintext)
	require.NoError(t, err)
	assert.JSONEq(t, "{}", result.Metadata)

	var out message.Plaintext
	require.NoError(t, json.Unmarshal(result.Message, &out))
	assert.Equal(t, "https://example.com/unknown/1.0/hello", out.Type)
	assert.Equal(t, aliceDID, out.From)
	assert.Equal(t, []string{bobDID}, out.To)

	_, err = keystore.New(kv).GetCommKeyPair(ctx, aliceDID, bobDID)
	assert.ErrorIs(t, err, keystore.ErrNoKeyMaterial)
}
