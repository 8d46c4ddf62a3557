package didexchange

import (
	"context"
	"fmt"

	"github.com/agentmesh/didcomm-engine/core/dispatch"
	"github.com/agentmesh/didcomm-engine/core/fsm"
	"github.com/agentmesh/didcomm-engine/core/message"
)

// ProblemReportData is the body of a problem_report message: the
// properties the originating implementation carries outside the default
// DIDComm message set to describe what went wrong and from whose
// perspective.
type ProblemReportData struct {
	UserType      string `json:"user_type"`
	Description   string `json:"description,omitempty"`
	ProblemItems  string `json:"problem_items,omitempty"`
	WhoRetries    string `json:"who_retries,omitempty"`
	FixHint       string `json:"fix_hint,omitempty"`
	Impact        string `json:"impact,omitempty"`
	Where         string `json:"where,omitempty"`
	NoticedTime   string `json:"noticed_time,omitempty"`
	TrackingURI   string `json:"tracking_uri,omitempty"`
	EscalationURI string `json:"escalation_uri,omitempty"`
}

func flipRole(role fsm.Role) fsm.Role {
	return fsm.FlipRole(role, rolePairs)
}

// sendProblemReport drives the caller's own role to the terminal
// SendProblemReport state. The caller declares which role it is reporting
// as via body.UserType.
func (h *handlers) sendProblemReport(ctx context.Context, msg message.Plaintext) (dispatch.StepOutput, error) {
	report, err := bodyAsProblemReport(msg.Body)
	if err != nil {
		return dispatch.StepOutput{}, err
	}
	role := fsm.Role(report.UserType)

	if err := h.guard(ctx, msg.ThreadID, role, StateSendProblemReport); err != nil {
		return dispatch.StepOutput{}, err
	}
	if err := h.saveState(ctx, msg.ThreadID, role, StateSendProblemReport); err != nil {
		return dispatch.StepOutput{}, err
	}

	return dispatch.StepOutput{Encrypt: true, Message: msg}, nil
}

// receiveProblemReport derives the local role by flipping the sender's
// declared role (report.UserType) and drives that role's FSM to its
// terminal ReceiveProblemReport state.
func (h *handlers) receiveProblemReport(ctx context.Context, msg message.Plaintext) (dispatch.StepOutput, error) {
	report, err := bodyAsProblemReport(msg.Body)
	if err != nil {
		return dispatch.StepOutput{}, err
	}
	localRole := flipRole(fsm.Role(report.UserType))

	if err := h.guard(ctx, msg.ThreadID, localRole, StateReceiveProblemReport); err != nil {
		return dispatch.StepOutput{}, err
	}
	if err := h.saveState(ctx, msg.ThreadID, localRole, StateReceiveProblemReport); err != nil {
		return dispatch.StepOutput{}, err
	}

	return dispatch.StepOutput{Encrypt: true, Message: msg}, nil
}

func bodyAsProblemReport(body any) (ProblemReportData, error) {
	raw, err := jsonRoundTrip(body)
	if err != nil {
		return ProblemReportData{}, errMalformed("problem report: " + err.Error())
	}
	var report ProblemReportData
	if err := jsonInto(raw, &report); err != nil {
		return ProblemReportData{}, errMalformed("problem report: " + err.Error())
	}
	if report.UserType == "" {
		return ProblemReportData{}, fmt.Errorf("%w: body.user_type", message.ErrMissingField)
	}
	return report, nil
}
