// Package didexchange implements the DID-exchange protocol: the only
// protocol that bootstraps key material for the cryptographic envelope.
// Its state machine and message shapes are grounded directly in the
// originating implementation's protocols/did_exchange/{request,response,
// complete,helper}.rs, generalized from that implementation's fixed
// AES-256-GCM scheme to this engine's XC20P envelope and rebuilt on
// core/fsm instead of bespoke get_current_state/save_state functions.
package didexchange

import (
	"context"
	"crypto/ecdh"
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"github.com/mr-tron/base58"

	"github.com/agentmesh/didcomm-engine/core/dispatch"
	"github.com/agentmesh/didcomm-engine/core/fsm"
	"github.com/agentmesh/didcomm-engine/core/message"
	"github.com/agentmesh/didcomm-engine/keystore"
	"github.com/agentmesh/didcomm-engine/kvstore"
)

// ProtocolURI identifies the did-exchange protocol in the registry and in
// every message's type field.
const ProtocolURI = "https://didcomm.org/didexchange/1.0"

const protocolShort = "didexchange"

// Roles.
const (
	Inviter fsm.Role = "inviter"
	Invitee fsm.Role = "invitee"
)

var rolePairs = [][2]fsm.Role{{Inviter, Invitee}}

// States.
const (
	StateSendRequest          fsm.State = "SendRequest"
	StateReceiveRequest       fsm.State = "ReceiveRequest"
	StateSendResponse         fsm.State = "SendResponse"
	StateReceiveResponse      fsm.State = "ReceiveResponse"
	StateSendComplete         fsm.State = "SendComplete"
	StateReceiveComplete      fsm.State = "ReceiveComplete"
	StateSendProblemReport    fsm.State = "SendProblemReport"
	StateReceiveProblemReport fsm.State = "ReceiveProblemReport"
)

var inviterTable = fsm.Table{
	StateSendRequest:          {fsm.Unknown},
	StateReceiveResponse:      {StateSendRequest},
	StateSendComplete:         {StateReceiveResponse},
	StateSendProblemReport:    {fsm.Unknown, StateSendRequest, StateReceiveResponse},
	StateReceiveProblemReport: {fsm.Unknown, StateSendRequest, StateReceiveResponse},
}

var inviteeTable = fsm.Table{
	StateReceiveRequest:       {fsm.Unknown},
	StateSendResponse:         {StateReceiveRequest},
	StateReceiveComplete:      {StateSendResponse},
	StateSendProblemReport:    {fsm.Unknown, StateReceiveRequest, StateSendResponse},
	StateReceiveProblemReport: {fsm.Unknown, StateReceiveRequest, StateSendResponse},
}

func tableFor(role fsm.Role) fsm.Table {
	if role == Inviter {
		return inviterTable
	}
	return inviteeTable
}

// handlers closes every step's handler over the keystore and FSM runtime
// the did-exchange protocol shares with the rest of the engine.
type handlers struct {
	keys *keystore.Store
	fsm  *fsm.Runtime
}

// New builds the did-exchange Protocol wired to kv for key and state
// persistence.
func New(kv kvstore.Store) *dispatch.Protocol {
	h := &handlers{keys: keystore.New(kv), fsm: fsm.New(kv, protocolShort)}
	return &dispatch.Protocol{
		Name: ProtocolURI,
		Steps: []dispatch.Step{
			dispatch.SendStep("invitation", h.sendInvitation),
			dispatch.ReceiveStep("invitation", h.receiveInvitation),
			dispatch.SendStep("request", h.sendRequest),
			dispatch.ReceiveStep("request", h.receiveRequest),
			dispatch.SendStep("response", h.sendResponse),
			dispatch.ReceiveStep("response", h.receiveResponse),
			dispatch.SendStep("complete", h.sendComplete),
			dispatch.ReceiveStep("complete", h.receiveComplete),
			dispatch.SendStep("problem_report", h.sendProblemReport),
			dispatch.ReceiveStep("problem_report", h.receiveProblemReport),
		},
	}
}

// guard reads the thread's current state for role and checks that
// transitioning to target is legal, WITHOUT persisting anything. Callers
// must perform all payload persistence after a successful guard and
// before calling saveState, per the guard-then-persist-then-save-state
// ordering every step must follow.
func (h *handlers) guard(ctx context.Context, thid string, role fsm.Role, target fsm.State) error {
	current, err := h.fsm.CurrentState(ctx, thid, role)
	if err != nil {
		return err
	}
	if !tableFor(role).Allows(current, target) {
		return fmt.Errorf("%w: %s -> %s (role %s)", fsm.ErrIllegalTransition, current, target, role)
	}
	return nil
}

func (h *handlers) saveState(ctx context.Context, thid string, role fsm.Role, target fsm.State) error {
	return h.fsm.SaveState(ctx, thid, role, target, tableFor(role))
}

// sendRequest generates a fresh X25519 keypair, stores a partial CKR for
// (from, to), embeds the local public key and service endpoint in a new
// Communication DID Document, and returns it unencrypted: the peer has no
// way to decrypt anything yet.
func (h *handlers) sendRequest(ctx context.Context, msg message.Plaintext) (dispatch.StepOutput, error) {
	from, to, err := message.FromTo(msg.BaseMessage)
	if err != nil {
		return dispatch.StepOutput{}, err
	}

	if err := h.guard(ctx, msg.ThreadID, Inviter, StateSendRequest); err != nil {
		return dispatch.StepOutput{}, err
	}

	priv, err := ecdh.X25519().GenerateKey(rand.Reader)
	if err != nil {
		return dispatch.StepOutput{}, fmt.Errorf("didexchange: generate key: %w", err)
	}
	pub := priv.PublicKey().Bytes()
	localKAKeyID := hex.EncodeToString(pub)

	ckr := &keystore.CKR{
		LocalDID:     from,
		PeerDID:      to,
		LocalPub:     pub,
		LocalSecret:  priv.Bytes(),
		LocalKAKeyID: localKAKeyID,
	}
	if err := h.keys.SaveCommKeyPair(ctx, ckr); err != nil {
		return dispatch.StepOutput{}, fmt.Errorf("didexchange: save partial ckr: %w", err)
	}

	doc := newCommunicationDidDoc(from, base58.Encode(pub), msg.Extra["service_endpoint"])

	out := msg
	out.Body = doc

	if err := h.saveState(ctx, msg.ThreadID, Inviter, StateSendRequest); err != nil {
		return dispatch.StepOutput{}, err
	}

	return dispatch.StepOutput{
		Encrypt: false,
		Message: out,
		Metadata: map[string]any{"ckr": ckr},
	}, nil
}

// receiveRequest parses the inviter's Communication DID Document,
// generates the invitee's own fresh X25519 keypair, and saves a complete
// CKR for (to, from) — note the reversal: this side's local DID is the
// request's "to".
func (h *handlers) receiveRequest(ctx context.Context, msg message.Plaintext) (dispatch.StepOutput, error) {
	from, to, err := message.FromTo(msg.BaseMessage)
	if err != nil {
		return dispatch.StepOutput{}, err
	}

	doc, err := bodyAsDoc(msg.Body)
	if err != nil {
		return dispatch.StepOutput{}, err
	}
	info, err := parseExchangeInfo(from, to, doc)
	if err != nil {
		return dispatch.StepOutput{}, err
	}

	if err := h.guard(ctx, msg.ThreadID, Invitee, StateReceiveRequest); err != nil {
		return dispatch.StepOutput{}, err
	}

	priv, err := ecdh.X25519().GenerateKey(rand.Reader)
	if err != nil {
		return dispatch.StepOutput{}, fmt.Errorf("didexchange: generate key: %w", err)
	}
	pub := priv.PublicKey().Bytes()

	ckr := &keystore.CKR{
		LocalDID:            to,
		PeerDID:             from,
		LocalPub:            pub,
		LocalSecret:         priv.Bytes(),
		LocalKAKeyID:        hex.EncodeToString(pub),
		PeerKAKeyID:         hex.EncodeToString(info.peerPubKey),
		PeerPub:             info.peerPubKey,
		PeerServiceEndpoint: info.serviceEndpoint,
	}
	if err := h.keys.SaveCommKeyPair(ctx, ckr); err != nil {
		return dispatch.StepOutput{}, fmt.Errorf("didexchange: save ckr: %w", err)
	}

	if err := h.saveState(ctx, msg.ThreadID, Invitee, StateReceiveRequest); err != nil {
		return dispatch.StepOutput{}, err
	}

	return dispatch.StepOutput{
		Encrypt:  false,
		Message:  msg,
		Metadata: map[string]any{"ckr": ckr},
	}, nil
}

// sendResponse mirrors the invitee's local key back to the inviter,
// encrypted with the shared secret derivable from the CKR saved during
// receive-request.
func (h *handlers) sendResponse(ctx context.Context, msg message.Plaintext) (dispatch.StepOutput, error) {
	from, to, err := message.FromTo(msg.BaseMessage)
	if err != nil {
		return dispatch.StepOutput{}, err
	}

	ckr, err := h.keys.GetCommKeyPair(ctx, from, to)
	if err != nil {
		return dispatch.StepOutput{}, fmt.Errorf("didexchange: load ckr for response: %w", err)
	}

	if err := h.guard(ctx, msg.ThreadID, Invitee, StateSendResponse); err != nil {
		return dispatch.StepOutput{}, err
	}

	doc := newCommunicationDidDoc(from, base58.Encode(ckr.LocalPub), msg.Extra["service_endpoint"])

	out := msg
	out.Body = doc

	if err := h.saveState(ctx, msg.ThreadID, Invitee, StateSendResponse); err != nil {
		return dispatch.StepOutput{}, err
	}

	return dispatch.StepOutput{
		Encrypt:  true,
		Message:  out,
		Metadata: map[string]any{"ckr": ckr},
	}, nil
}

// receiveResponse finalizes the inviter's previously partial CKR with the
// peer's public key and service endpoint.
func (h *handlers) receiveResponse(ctx context.Context, msg message.Plaintext) (dispatch.StepOutput, error) {
	from, to, err := message.FromTo(msg.BaseMessage)
	if err != nil {
		return dispatch.StepOutput{}, err
	}

	doc, err := bodyAsDoc(msg.Body)
	if err != nil {
		return dispatch.StepOutput{}, err
	}
	info, err := parseExchangeInfo(from, to, doc)
	if err != nil {
		return dispatch.StepOutput{}, err
	}

	// The response is addressed from the invitee's local key-agreement
	// identifier to the inviter's, so the CKR this finalizes is keyed by
	// the inviter's own DID pair as originally saved in send-request: to
	// is the inviter's local DID, from is the invitee's.
	ckr, err := h.keys.GetCommKeyPair(ctx, to, from)
	if err != nil {
		return dispatch.StepOutput{}, fmt.Errorf("didexchange: load partial ckr: %w", err)
	}

	if err := h.guard(ctx, msg.ThreadID, Inviter, StateReceiveResponse); err != nil {
		return dispatch.StepOutput{}, err
	}

	ckr.PeerKAKeyID = hex.EncodeToString(info.peerPubKey)
	ckr.PeerPub = info.peerPubKey
	ckr.PeerServiceEndpoint = info.serviceEndpoint
	if err := h.keys.SaveCommKeyPair(ctx, ckr); err != nil {
		return dispatch.StepOutput{}, fmt.Errorf("didexchange: finalize ckr: %w", err)
	}

	if err := h.saveState(ctx, msg.ThreadID, Inviter, StateReceiveResponse); err != nil {
		return dispatch.StepOutput{}, err
	}

	return dispatch.StepOutput{
		Encrypt:  true,
		Message:  msg,
		Metadata: map[string]any{"ckr": ckr},
	}, nil
}

// sendComplete carries no cryptographic payload; it exists purely to
// drive the inviter's FSM to its terminal state. It is the inviter's first
// message sent encrypted under the now-finalized CKR.
func (h *handlers) sendComplete(ctx context.Context, msg message.Plaintext) (dispatch.StepOutput, error) {
	if err := h.guard(ctx, msg.ThreadID, Inviter, StateSendComplete); err != nil {
		return dispatch.StepOutput{}, err
	}
	if err := h.saveState(ctx, msg.ThreadID, Inviter, StateSendComplete); err != nil {
		return dispatch.StepOutput{}, err
	}
	return dispatch.StepOutput{Encrypt: true, Message: msg}, nil
}

// receiveComplete drives the invitee's FSM to its terminal state.
func (h *handlers) receiveComplete(ctx context.Context, msg message.Plaintext) (dispatch.StepOutput, error) {
	if err := h.guard(ctx, msg.ThreadID, Invitee, StateReceiveComplete); err != nil {
		return dispatch.StepOutput{}, err
	}
	if err := h.saveState(ctx, msg.ThreadID, Invitee, StateReceiveComplete); err != nil {
		return dispatch.StepOutput{}, err
	}
	return dispatch.StepOutput{Encrypt: true, Message: msg}, nil
}

// bodyAsDoc re-decodes a generically-unmarshaled message body into a
// CommunicationDidDocument; msg.Body arrives as map[string]any because
// core/message doesn't know this protocol's body shape.
func bodyAsDoc(body any) (CommunicationDidDocument, error) {
	raw, err := jsonRoundTrip(body)
	if err != nil {
		return CommunicationDidDocument{}, errMalformed("communication DID document: " + err.Error())
	}
	var doc CommunicationDidDocument
	if err := jsonInto(raw, &doc); err != nil {
		return CommunicationDidDocument{}, errMalformed("communication DID document: " + err.Error())
	}
	return doc, nil
}

func decodeBase58PublicKey(encoded string) ([]byte, error) {
	pub, err := base58.Decode(encoded)
	if err != nil {
		return nil, errMalformed("invalid base58 public key: " + err.Error())
	}
	return pub, nil
}
