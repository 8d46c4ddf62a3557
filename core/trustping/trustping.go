// Package trustping implements the trust-ping protocol: a liveness check
// with no cryptographic payload of its own. It is grounded almost
// verbatim in shape on the originating implementation's
// protocols/pingpong.rs (send_ping marks response_requested, the rest are
// no-ops), adapted onto core/fsm for persisted per-thread state — the
// original's pingpong steps are plain stateless functions, which predates
// this engine's requirement that every protocol persist state.
package trustping

import (
	"context"
	"fmt"

	"github.com/agentmesh/didcomm-engine/core/dispatch"
	"github.com/agentmesh/didcomm-engine/core/fsm"
	"github.com/agentmesh/didcomm-engine/core/message"
	"github.com/agentmesh/didcomm-engine/kvstore"
)

func errIllegalTransition(from, to fsm.State, role fsm.Role) error {
	return fmt.Errorf("%w: %s -> %s (role %s)", fsm.ErrIllegalTransition, from, to, role)
}

// ProtocolURI identifies the trust-ping protocol.
const ProtocolURI = "https://didcomm.org/trust-ping/1.0"

const protocolShort = "trustping"

// Roles.
const (
	Pinger fsm.Role = "pinger"
	Ponger fsm.Role = "ponger"
)

// States.
const (
	StateSendPing            fsm.State = "SendPing"
	StateReceivePingResponse fsm.State = "ReceivePingResponse"
	StateReceivePing         fsm.State = "ReceivePing"
	StateSendPingResponse    fsm.State = "SendPingResponse"
)

var pingerTable = fsm.Table{
	StateSendPing:            {fsm.Unknown},
	StateReceivePingResponse: {StateSendPing},
}

var pongerTable = fsm.Table{
	StateReceivePing:      {fsm.Unknown},
	StateSendPingResponse: {StateReceivePing},
}

type handlers struct {
	fsm *fsm.Runtime
}

// New builds the trust-ping Protocol wired to kv for state persistence.
func New(kv kvstore.Store) *dispatch.Protocol {
	h := &handlers{fsm: fsm.New(kv, protocolShort)}
	return &dispatch.Protocol{
		Name: ProtocolURI,
		Steps: []dispatch.Step{
			dispatch.SendStep("ping", h.sendPing),
			dispatch.ReceiveStep("ping", h.receivePing),
			dispatch.SendStep("ping_response", h.sendPingResponse),
			dispatch.ReceiveStep("ping_response", h.receivePingResponse),
		},
	}
}

func (h *handlers) transition(ctx context.Context, thid string, role fsm.Role, target fsm.State, table fsm.Table) error {
	current, err := h.fsm.CurrentState(ctx, thid, role)
	if err != nil {
		return err
	}
	if !table.Allows(current, target) {
		return errIllegalTransition(current, target, role)
	}
	return h.fsm.SaveState(ctx, thid, role, target, table)
}

// sendPing marks the outgoing ping as requesting a response, mirroring
// the originating implementation's send_ping.
func (h *handlers) sendPing(ctx context.Context, msg message.Plaintext) (dispatch.StepOutput, error) {
	if err := h.transition(ctx, msg.ThreadID, Pinger, StateSendPing, pingerTable); err != nil {
		return dispatch.StepOutput{}, err
	}

	out := msg
	out.Body = map[string]any{"response_requested": true}

	return dispatch.StepOutput{Encrypt: true, Message: out}, nil
}

// receivePing acknowledges a ping with no FSM terminal state of its own;
// the ponger's own terminal transition happens when it sends the
// response.
func (h *handlers) receivePing(ctx context.Context, msg message.Plaintext) (dispatch.StepOutput, error) {
	if err := h.transition(ctx, msg.ThreadID, Ponger, StateReceivePing, pongerTable); err != nil {
		return dispatch.StepOutput{}, err
	}
	return dispatch.StepOutput{Encrypt: true, Message: msg}, nil
}

// sendPingResponse drives the ponger's FSM to its terminal state.
func (h *handlers) sendPingResponse(ctx context.Context, msg message.Plaintext) (dispatch.StepOutput, error) {
	if err := h.transition(ctx, msg.ThreadID, Ponger, StateSendPingResponse, pongerTable); err != nil {
		return dispatch.StepOutput{}, err
	}
	return dispatch.StepOutput{Encrypt: true, Message: msg}, nil
}

// receivePingResponse drives the pinger's FSM to its terminal state.
func (h *handlers) receivePingResponse(ctx context.Context, msg message.Plaintext) (dispatch.StepOutput, error) {
	if err := h.transition(ctx, msg.ThreadID, Pinger, StateReceivePingResponse, pingerTable); err != nil {
		return dispatch.StepOutput{}, err
	}
	return dispatch.StepOutput{Encrypt: true, Message: msg}, nil
}
