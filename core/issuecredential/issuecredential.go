// Package issuecredential is the issue-credential protocol: a generic
// state-machine instance per §4.2's abstract contract, carrying no
// concrete cross-check of its own (present-proof carries that). Grounded
// on the originating implementation's protocols/issue_credential/
// {issuer,holder,helper}.rs offer -> request -> issue -> done chain and
// its datatypes.rs state enum, trimmed to the offer/request/issue steps
// the originating implementation's own helper.rs treats as the common
// path (propose-credential is an optional detour the spec doesn't name).
package issuecredential

import (
	"context"
	"fmt"

	"github.com/agentmesh/didcomm-engine/core/dispatch"
	"github.com/agentmesh/didcomm-engine/core/fsm"
	"github.com/agentmesh/didcomm-engine/core/message"
	"github.com/agentmesh/didcomm-engine/kvstore"
)

// ProtocolURI identifies the issue-credential protocol.
const ProtocolURI = "https://didcomm.org/issue-credential/1.0"

const protocolShort = "issuecredential"

// Roles.
const (
	Issuer fsm.Role = "issuer"
	Holder fsm.Role = "holder"
)

// States.
const (
	StateSendOfferCredential      fsm.State = "SendOfferCredential"
	StateReceiveOfferCredential   fsm.State = "ReceiveOfferCredential"
	StateSendRequestCredential    fsm.State = "SendRequestCredential"
	StateReceiveRequestCredential fsm.State = "ReceiveRequestCredential"
	StateSendIssueCredential      fsm.State = "SendIssueCredential"
	StateReceiveIssueCredential   fsm.State = "ReceiveIssueCredential"
)

var issuerTable = fsm.Table{
	StateSendOfferCredential:      {fsm.Unknown},
	StateReceiveRequestCredential: {StateSendOfferCredential},
	StateSendIssueCredential:      {StateReceiveRequestCredential},
}

var holderTable = fsm.Table{
	StateReceiveOfferCredential: {fsm.Unknown},
	StateSendRequestCredential:  {StateReceiveOfferCredential},
	StateReceiveIssueCredential: {StateSendRequestCredential},
}

type handlers struct {
	fsm *fsm.Runtime
}

// New builds the issue-credential Protocol wired to kv for state
// persistence.
func New(kv kvstore.Store) *dispatch.Protocol {
	h := &handlers{fsm: fsm.New(kv, protocolShort)}
	return &dispatch.Protocol{
		Name: ProtocolURI,
		Steps: []dispatch.Step{
			dispatch.SendStep("offer-credential", h.step(Issuer, StateSendOfferCredential, issuerTable)),
			dispatch.ReceiveStep("offer-credential", h.step(Holder, StateReceiveOfferCredential, holderTable)),
			dispatch.SendStep("request-credential", h.step(Holder, StateSendRequestCredential, holderTable)),
			dispatch.ReceiveStep("request-credential", h.step(Issuer, StateReceiveRequestCredential, issuerTable)),
			dispatch.SendStep("issue-credential", h.step(Issuer, StateSendIssueCredential, issuerTable)),
			dispatch.ReceiveStep("issue-credential", h.step(Holder, StateReceiveIssueCredential, holderTable)),
		},
	}
}

// step returns a handler that guards and persists the given role's
// transition to target, with no payload handling beyond passing the
// message through: every issue-credential step is a pure FSM instance,
// the state transition is the only effect §4.2 requires of it.
func (h *handlers) step(role fsm.Role, target fsm.State, table fsm.Table) dispatch.Handler {
	return func(ctx context.Context, msg message.Plaintext) (dispatch.StepOutput, error) {
		current, err := h.fsm.CurrentState(ctx, msg.ThreadID, role)
		if err != nil {
			return dispatch.StepOutput{}, err
		}
		if !table.Allows(current, target) {
			return dispatch.StepOutput{}, fmt.Errorf("%w: %s -> %s (role %s)", fsm.ErrIllegalTransition, current, target, role)
		}
		if err := h.fsm.SaveState(ctx, msg.ThreadID, role, target, table); err != nil {
			return dispatch.StepOutput{}, err
		}
		return dispatch.StepOutput{Encrypt: true, Message: msg}, nil
	}
}
