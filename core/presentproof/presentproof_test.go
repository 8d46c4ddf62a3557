package presentproof

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

func newPlaintext(typ, from, to, thid string, body any) message.Plaintext {
	return message.Plaintext{BaseMessage: message.BaseMessage{
		ID: message.NewID(), Type: typ, From: from, To: []string{to}, ThreadID: thid, Body: body,
	}}
}

const (
	verifierDID = "did:example:verifier"
	proverDID   = "did:example:prover"
)

// TestPresentationCrossCheckMatches is scenario S5's success path: the
// prover answers the same input_descriptor.ids the verifier asked for.
func TestPresentationCrossCheckMatches(t *testing.T) {
	ctx := context.Background()
	kv := memory.New()
	registry := dispatch.NewRegistry()
	registry.Register(ProtocolURI, New(kv))

	thid := "thread-presentproof-1"
	descriptors := []InputDescriptor{{ID: "degree"}, {ID: "employment"}}

	_, _, err := registry.DispatchSend(ctx, newPlaintext(
		message.BuildType(ProtocolURI, "request-presentation"), verifierDID, proverDID, thid,
		RequestPresentationBody{InputDescriptors: descriptors},
	))
	require.NoError(t, err)

	_, _, err = registry.DispatchReceive(ctx, newPlaintext(
		message.BuildType(ProtocolURI, "request-presentation"), verifierDID, proverDID, thid,
		RequestPresentationBody{InputDescriptors: descriptors},
	))
	require.NoError(t, err)

	_, _, err = registry.DispatchSend(ctx, newPlaintext(
		message.BuildType(ProtocolURI, "presentation"), proverDID, verifierDID, thid,
		PresentationBody{InputDescriptors: descriptors},
	))
	require.NoError(t, err)

	_, handled, err := registry.DispatchReceive(ctx, newPlaintext(
		message.BuildType(ProtocolURI, "presentation"), proverDID, verifierDID, thid,
		PresentationBody{InputDescriptors: descriptors},
	))
	require.NoError(t, err)
	assert.True(t, handled)

	runtime := fsm.New(kv, protocolShort)
	verifierState, err := runtime.CurrentState(ctx, thid, Verifier)
	require.NoError(t, err)
	assert.Equal(t, StatePresentationReceived, verifierState)
}

// TestPresentationCrossCheckMismatch is scenario S5's failure path: a
// presentation answering different input_descriptor.ids than requested is
// a domain error and leaves state at PresentationRequested.
func TestPresentationCrossCheckMismatch(t *testing.T) {
	ctx := context.Background()
	kv := memory.New()
	registry := dispatch.NewRegistry()
	registry.Register(ProtocolURI, New(kv))

	thid := "thread-presentproof-2"
	requested := []InputDescriptor{{ID: "degree"}}
	presented := []InputDescriptor{{ID: "something-else"}}

	_, _, err := registry.DispatchSend(ctx, newPlaintext(
		message.BuildType(ProtocolURI, "request-presentation"), verifierDID, proverDID, thid,
		RequestPresentationBody{InputDescriptors: requested},
	))
	require.NoError(t, err)

	_, _, err = registry.DispatchReceive(ctx, newPlaintext(
		message.BuildType(ProtocolURI, "presentation"), proverDID, verifierDID, thid,
		PresentationBody{InputDescriptors: presented},
	))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDescriptorMismatch)

	runtime := fsm.New(kv, protocolShort)
	verifierState, err := runtime.CurrentState(ctx, thid, Verifier)
	require.NoError(t, err)
	assert.Equal(t, StatePresentationRequested, verifierState, "a mismatch must not advance verifier state")
}
