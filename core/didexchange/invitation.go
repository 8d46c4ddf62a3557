package didexchange

import (
	"context"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/agentmesh/didcomm-engine/core/dispatch"
	"github.com/agentmesh/didcomm-engine/core/message"
)

// invitationTokenTTL bounds how long a minted invitation JWT is valid.
const invitationTokenTTL = 10 * time.Minute

// invitationClaims is the JWT payload carried alongside an invitation
// message; it is how the inviter's DID reaches the invitee ahead of any
// did-exchange request/response exchange. This step is not in the
// originating implementation's state table: it precedes SendRequest and
// never touches the Thread State Record, matching the teacher's own
// handshake.InvitationMessage, which is likewise "delivered alongside a
// JWT carrying the agent's DID information" rather than carrying FSM
// state of its own.
type invitationClaims struct {
	jwt.RegisteredClaims
	ServiceEndpoint string `json:"service_endpoint,omitempty"`
}

// sendInvitation mints a JWT carrying the local DID and service endpoint
// and attaches it to the message under the "invitation_jwt" header. It is
// a zeroth, state-free message: did-exchange proper begins at "request".
func (h *handlers) sendInvitation(ctx context.Context, msg message.Plaintext) (dispatch.StepOutput, error) {
	if msg.From == "" {
		return dispatch.StepOutput{}, fmt.Errorf("%w: from", message.ErrMissingField)
	}

	signingKey, err := h.keys.InvitationSigningKey(ctx, msg.From)
	if err != nil {
		return dispatch.StepOutput{}, fmt.Errorf("didexchange: invitation signing key: %w", err)
	}

	now := time.Now().UTC()
	claims := invitationClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   msg.From,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(invitationTokenTTL)),
		},
		ServiceEndpoint: msg.Extra["service_endpoint"],
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(signingKey)
	if err != nil {
		return dispatch.StepOutput{}, fmt.Errorf("didexchange: sign invitation: %w", err)
	}

	out := msg
	if out.Extra == nil {
		out.Extra = make(map[string]string)
	}
	out.Extra["invitation_jwt"] = signed

	return dispatch.StepOutput{Encrypt: false, Message: out}, nil
}

// receiveInvitation verifies the invitation JWT against the claimed
// sender DID's invitation signing key and surfaces its claims as
// metadata. It never touches the Thread State Record.
//
// InvitationSigningKey generates a random HMAC secret per DID and persists
// it in this keystore, so this only verifies when the inviter and invitee
// share one kvstore — across two separate keystores the invitee holds a
// different secret for the sender DID and verification always fails.
func (h *handlers) receiveInvitation(ctx context.Context, msg message.Plaintext) (dispatch.StepOutput, error) {
	signed, ok := msg.Extra["invitation_jwt"]
	if !ok || signed == "" {
		return dispatch.StepOutput{}, fmt.Errorf("%w: invitation_jwt", message.ErrMissingField)
	}
	if msg.From == "" {
		return dispatch.StepOutput{}, fmt.Errorf("%w: from", message.ErrMissingField)
	}

	signingKey, err := h.keys.InvitationSigningKey(ctx, msg.From)
	if err != nil {
		return dispatch.StepOutput{}, fmt.Errorf("didexchange: invitation signing key: %w", err)
	}

	claims := &invitationClaims{}
	_, err = jwt.ParseWithClaims(signed, claims, func(*jwt.Token) (any, error) {
		return signingKey, nil
	})
	if err != nil {
		return dispatch.StepOutput{}, errMalformed("invalid invitation token: " + err.Error())
	}

	return dispatch.StepOutput{
		Encrypt: false,
		Message: msg,
		Metadata: map[string]any{
			"subject":          claims.Subject,
			"service_endpoint": claims.ServiceEndpoint,
		},
	}, nil
}
