// Package message defines the wire-level plaintext and encrypted message
// shapes that flow through PREPARE and INGEST, along with the small set of
// helpers every protocol step and the engine itself need: thread/message id
// minting, from/to extraction, and splitting a message's type URI into a
// protocol URI and step name.
package message

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrMissingField is the sentinel wrapped by FromTo and SplitType when a
// required field is absent; the engine classifies it
// as a MissingField error.
var ErrMissingField = errors.New("message: missing field")

// ErrMalformed is the sentinel wrapped when a message's JSON or field
// shape is invalid; the engine classifies it as a MalformedMessage error.
var ErrMalformed = errors.New("message: malformed")

// ControlHeader is embedded by every typed protocol message to carry the
// control-plane fields common to all of them.
type ControlHeader interface {
	GetID() string
	GetThreadID() string
	GetType() string
}

// Attachment is an opaque payload carried alongside a message body.
type Attachment struct {
	ID       string `json:"id"`
	MimeType string `json:"mime_type,omitempty"`
	Data     []byte `json:"data"`
}

// BaseMessage carries the fields shared by every DIDComm-style plaintext
// message, plus a flat map of unrecognized string headers that round-trip
// verbatim (e.g. "service_endpoint" on a did-exchange request).
type BaseMessage struct {
	ID           string
	Type         string
	From         string
	To           []string
	ThreadID     string
	ParentThread string
	CreatedTime  time.Time
	ExpiresTime  time.Time
	Attachments  []Attachment
	Body         any
	Extra        map[string]string
}

func (m BaseMessage) GetID() string       { return m.ID }
func (m BaseMessage) GetThreadID() string { return m.ThreadID }
func (m BaseMessage) GetType() string     { return m.Type }

var knownFields = map[string]bool{
	"id": true, "type": true, "from": true, "to": true, "thid": true,
	"pthid": true, "created_time": true, "expires_time": true,
	"attachments": true, "body": true,
}

// MarshalJSON flattens Extra alongside the recognized fields so unknown
// headers round-trip at the top level of the JSON object, matching the
// plaintext message model's "flat map of unrecognized string headers".
func (m BaseMessage) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(m.Extra)+8)
	for k, v := range m.Extra {
		out[k] = v
	}

	out["id"] = m.ID
	out["type"] = m.Type
	if m.From != "" {
		out["from"] = m.From
	}
	if len(m.To) > 0 {
		out["to"] = m.To
	}
	if m.ThreadID != "" {
		out["thid"] = m.ThreadID
	}
	if m.ParentThread != "" {
		out["pthid"] = m.ParentThread
	}
	if !m.CreatedTime.IsZero() {
		out["created_time"] = m.CreatedTime.Unix()
	}
	if !m.ExpiresTime.IsZero() {
		out["expires_time"] = m.ExpiresTime.Unix()
	}
	if len(m.Attachments) > 0 {
		out["attachments"] = m.Attachments
	}
	if m.Body != nil {
		out["body"] = m.Body
	}
	return json.Marshal(out)
}

// UnmarshalJSON parses the recognized fields and collects every other
// string-valued top-level key into Extra.
func (m *BaseMessage) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	if v, ok := raw["id"]; ok {
		_ = json.Unmarshal(v, &m.ID)
	}
	if v, ok := raw["type"]; ok {
		_ = json.Unmarshal(v, &m.Type)
	}
	if v, ok := raw["from"]; ok {
		_ = json.Unmarshal(v, &m.From)
	}
	if v, ok := raw["to"]; ok {
		_ = json.Unmarshal(v, &m.To)
	}
	if v, ok := raw["thid"]; ok {
		_ = json.Unmarshal(v, &m.ThreadID)
	}
	if v, ok := raw["pthid"]; ok {
		_ = json.Unmarshal(v, &m.ParentThread)
	}
	if v, ok := raw["created_time"]; ok {
		var sec int64
		if err := json.Unmarshal(v, &sec); err == nil {
			m.CreatedTime = time.Unix(sec, 0).UTC()
		}
	}
	if v, ok := raw["expires_time"]; ok {
		var sec int64
		if err := json.Unmarshal(v, &sec); err == nil {
			m.ExpiresTime = time.Unix(sec, 0).UTC()
		}
	}
	if v, ok := raw["attachments"]; ok {
		if err := json.Unmarshal(v, &m.Attachments); err != nil {
			return fmt.Errorf("%w: attachments: %v", ErrMalformed, err)
		}
	}
	if v, ok := raw["body"]; ok {
		var body any
		if err := json.Unmarshal(v, &body); err != nil {
			return fmt.Errorf("%w: body: %v", ErrMalformed, err)
		}
		m.Body = body
	}

	m.Extra = make(map[string]string)
	for k, v := range raw {
		if knownFields[k] {
			continue
		}
		var s string
		if err := json.Unmarshal(v, &s); err == nil {
			m.Extra[k] = s
		}
	}
	return nil
}

// Plaintext is the message shape PREPARE accepts and INGEST returns: a
// BaseMessage that has not (or no longer) been sealed into an envelope.
type Plaintext struct {
	BaseMessage
}

// Envelope is the encrypted wire form PREPARE produces and INGEST accepts,
// matching the Encrypted Envelope data model.
type Envelope struct {
	Ciphertext   []byte              `json:"ciphertext"`
	IV           []byte              `json:"iv"`
	From         string              `json:"from"`
	To           []string            `json:"to"`
	KID          string              `json:"kid"`
	Recipients   []EnvelopeRecipient `json:"recipients"`
	SignerPublic []byte              `json:"signer_public"`
	Signature    []byte              `json:"signature"`
}

// EnvelopeRecipient carries the per-recipient key-agreement key id used to
// route decryption; the engine only ever populates a single entry since a
// thread has exactly one peer (multi-recipient fan-out is a non-goal).
type EnvelopeRecipient struct {
	Header RecipientHeader `json:"header"`
}

// RecipientHeader names the key-agreement key the envelope was sealed to.
type RecipientHeader struct {
	KID string `json:"kid"`
}

// NewID mints a fresh message id.
func NewID() string {
	return uuid.NewString()
}

// NewThreadID mints a fresh thread id for a message that starts a new
// thread (no thid supplied by the caller).
func NewThreadID() string {
	return uuid.NewString()
}

// FillDefaults assigns an id, thread id, and created-time to a message
// that doesn't already carry one. These values never overwrite
// caller-supplied values, matching the originating implementation's
// fill-message-id-and-timestamps step that runs before protocol dispatch.
func FillDefaults(m *Plaintext) {
	if m.ID == "" {
		m.ID = NewID()
	}
	if m.ThreadID == "" {
		m.ThreadID = NewThreadID()
	}
	if m.CreatedTime.IsZero() {
		m.CreatedTime = time.Now().UTC()
	}
}

// FromTo returns the message's from field and first to-entry, which is all
// the dispatcher and keystore need to resolve key material for a thread.
func FromTo(m BaseMessage) (from, to string, err error) {
	if m.From == "" {
		return "", "", fmt.Errorf("%w: from", ErrMissingField)
	}
	if len(m.To) == 0 || m.To[0] == "" {
		return "", "", fmt.Errorf("%w: to", ErrMissingField)
	}
	return m.From, m.To[0], nil
}

// SplitType splits a message type URI of the form
// "<protocolURI>/<stepName>" into its protocol URI and step name, e.g.
// "https://didcomm.org/didexchange/1.0/request" splits into
// "https://didcomm.org/didexchange/1.0" and "request".
func SplitType(typ string) (protocolURI, step string, err error) {
	if typ == "" {
		return "", "", fmt.Errorf("%w: type", ErrMissingField)
	}
	idx := strings.LastIndex(typ, "/")
	if idx < 0 || idx == len(typ)-1 {
		return "", "", fmt.Errorf("%w: type %q not parseable as <protocol>/<step>", ErrMalformed, typ)
	}
	return typ[:idx], typ[idx+1:], nil
}

// BuildType joins a protocol URI and step name back into a message type.
func BuildType(protocolURI, step string) string {
	return protocolURI + "/" + step
}
