// Package presentproof is the present-proof protocol: one of the generic
// state-machine instances §4.2 describes abstractly, with its one
// concrete requirement fully implemented — the verifier-side cross-check
// that a received presentation answers the same input descriptors the
// verifier actually asked for. Grounded on the originating
// implementation's protocols/present_proof/{verifier,prover}.rs state
// table (PresentationRequested -> PresentationReceived guarded by
// get_current_state/save_state), generalized from that implementation's
// request_presentations~attach/presentations~attach shape to the
// specified input_descriptor.id comparison.
package presentproof

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/agentmesh/didcomm-engine/core/dispatch"
	"github.com/agentmesh/didcomm-engine/core/fsm"
	"github.com/agentmesh/didcomm-engine/core/message"
	"github.com/agentmesh/didcomm-engine/kvstore"
)

// ProtocolURI identifies the present-proof protocol.
const ProtocolURI = "https://didcomm.org/present-proof/1.0"

const protocolShort = "presentproof"

// Roles.
const (
	Verifier fsm.Role = "verifier"
	Prover   fsm.Role = "prover"
)

// States.
const (
	StatePresentationRequested       fsm.State = "PresentationRequested"
	StatePresentationRequestReceived fsm.State = "PresentationRequestReceived"
	StatePresentationReceived        fsm.State = "PresentationReceived"
	StatePresentationSent            fsm.State = "PresentationSent"
)

var verifierTable = fsm.Table{
	StatePresentationRequested: {fsm.Unknown},
	StatePresentationReceived:  {StatePresentationRequested},
}

var proverTable = fsm.Table{
	StatePresentationRequestReceived: {fsm.Unknown},
	StatePresentationSent:            {StatePresentationRequestReceived},
}

// ErrDescriptorMismatch is the domain error raised when a received
// presentation doesn't answer the same input_descriptor.id set the
// verifier's stored request asked for.
var ErrDescriptorMismatch = errors.New("presentproof: presentation does not match requested input descriptors")

// InputDescriptor names one credential claim being requested or
// presented, identified by id.
type InputDescriptor struct {
	ID string `json:"id"`
}

// RequestPresentationBody is the body of a request-presentation message.
type RequestPresentationBody struct {
	InputDescriptors []InputDescriptor `json:"input_descriptors"`
}

// PresentationBody is the body of a presentation message.
type PresentationBody struct {
	InputDescriptors []InputDescriptor `json:"input_descriptors"`
}

type handlers struct {
	fsm *fsm.Runtime
}

// New builds the present-proof Protocol wired to kv for state and
// payload persistence.
func New(kv kvstore.Store) *dispatch.Protocol {
	h := &handlers{fsm: fsm.New(kv, protocolShort)}
	return &dispatch.Protocol{
		Name: ProtocolURI,
		Steps: []dispatch.Step{
			dispatch.SendStep("request-presentation", h.sendRequestPresentation),
			dispatch.ReceiveStep("request-presentation", h.receiveRequestPresentation),
			dispatch.SendStep("presentation", h.sendPresentation),
			dispatch.ReceiveStep("presentation", h.receivePresentation),
		},
	}
}

func guard(ctx context.Context, r *fsm.Runtime, thid string, role fsm.Role, target fsm.State, table fsm.Table) error {
	current, err := r.CurrentState(ctx, thid, role)
	if err != nil {
		return err
	}
	if !table.Allows(current, target) {
		return fmt.Errorf("%w: %s -> %s (role %s)", fsm.ErrIllegalTransition, current, target, role)
	}
	return nil
}

// bodyAs re-decodes a generically-unmarshaled message body (arriving as
// map[string]any because core/message doesn't know this protocol's body
// shape) into a concrete type.
func bodyAs[T any](body any) (T, error) {
	var out T
	raw, err := json.Marshal(body)
	if err != nil {
		return out, fmt.Errorf("%w: %v", message.ErrMalformed, err)
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, fmt.Errorf("%w: %v", message.ErrMalformed, err)
	}
	return out, nil
}

// sendRequestPresentation records the verifier's request so a later
// receivePresentation can cross-check it.
func (h *handlers) sendRequestPresentation(ctx context.Context, msg message.Plaintext) (dispatch.StepOutput, error) {
	reqBody, err := bodyAs[RequestPresentationBody](msg.Body)
	if err != nil {
		return dispatch.StepOutput{}, err
	}

	if err := guard(ctx, h.fsm, msg.ThreadID, Verifier, StatePresentationRequested, verifierTable); err != nil {
		return dispatch.StepOutput{}, err
	}

	if err := h.fsm.SavePayload(ctx, StatePresentationRequested, msg.ThreadID, reqBody); err != nil {
		return dispatch.StepOutput{}, fmt.Errorf("presentproof: save request payload: %w", err)
	}
	if err := h.fsm.SaveState(ctx, msg.ThreadID, Verifier, StatePresentationRequested, verifierTable); err != nil {
		return dispatch.StepOutput{}, err
	}

	return dispatch.StepOutput{Encrypt: true, Message: msg}, nil
}

func (h *handlers) receiveRequestPresentation(ctx context.Context, msg message.Plaintext) (dispatch.StepOutput, error) {
	if err := guard(ctx, h.fsm, msg.ThreadID, Prover, StatePresentationRequestReceived, proverTable); err != nil {
		return dispatch.StepOutput{}, err
	}
	if err := h.fsm.SaveState(ctx, msg.ThreadID, Prover, StatePresentationRequestReceived, proverTable); err != nil {
		return dispatch.StepOutput{}, err
	}
	return dispatch.StepOutput{Encrypt: true, Message: msg}, nil
}

func (h *handlers) sendPresentation(ctx context.Context, msg message.Plaintext) (dispatch.StepOutput, error) {
	if err := guard(ctx, h.fsm, msg.ThreadID, Prover, StatePresentationSent, proverTable); err != nil {
		return dispatch.StepOutput{}, err
	}
	if err := h.fsm.SaveState(ctx, msg.ThreadID, Prover, StatePresentationSent, proverTable); err != nil {
		return dispatch.StepOutput{}, err
	}
	return dispatch.StepOutput{Encrypt: true, Message: msg}, nil
}

// receivePresentation cross-checks the received presentation's
// input_descriptor.ids against the verifier's stored request before
// advancing the FSM. A mismatch is a domain error that leaves the
// Thread State Record at PresentationRequested, per the guard-before-
// persist rule: the cross-check runs before any write, so a failure
// here makes no persistent change at all.
func (h *handlers) receivePresentation(ctx context.Context, msg message.Plaintext) (dispatch.StepOutput, error) {
	presented, err := bodyAs[PresentationBody](msg.Body)
	if err != nil {
		return dispatch.StepOutput{}, err
	}

	if err := guard(ctx, h.fsm, msg.ThreadID, Verifier, StatePresentationReceived, verifierTable); err != nil {
		return dispatch.StepOutput{}, err
	}

	// The request this presentation answers was saved by the verifier
	// under this same thid.
	var requested RequestPresentationBody
	if err := h.fsm.LoadPayload(ctx, StatePresentationRequested, msg.ThreadID, &requested); err != nil {
		return dispatch.StepOutput{}, fmt.Errorf("presentproof: load stored request: %w", err)
	}

	if !sameDescriptorIDs(requested.InputDescriptors, presented.InputDescriptors) {
		return dispatch.StepOutput{}, ErrDescriptorMismatch
	}

	if err := h.fsm.SavePayload(ctx, StatePresentationReceived, msg.ThreadID, presented); err != nil {
		return dispatch.StepOutput{}, fmt.Errorf("presentproof: save presentation payload: %w", err)
	}
	if err := h.fsm.SaveState(ctx, msg.ThreadID, Verifier, StatePresentationReceived, verifierTable); err != nil {
		return dispatch.StepOutput{}, err
	}

	return dispatch.StepOutput{Encrypt: true, Message: msg}, nil
}

func sameDescriptorIDs(want, got []InputDescriptor) bool {
	if len(want) != len(got) {
		return false
	}
	index := make(map[string]bool, len(want))
	for _, d := range want {
		index[d.ID] = true
	}
	for _, d := range got {
		if !index[d.ID] {
			return false
		}
	}
	return true
}
