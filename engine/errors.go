package engine

import (
	"errors"
	"fmt"

	"github.com/agentmesh/didcomm-engine/core/dispatch"
	"github.com/agentmesh/didcomm-engine/core/fsm"
	"github.com/agentmesh/didcomm-engine/core/message"
	"github.com/agentmesh/didcomm-engine/core/presentproof"
	"github.com/agentmesh/didcomm-engine/envelope"
	"github.com/agentmesh/didcomm-engine/keystore"
	"github.com/agentmesh/didcomm-engine/kvstore"
)

// ErrorKind is one of the seven load-bearing error kinds every caller of
// Prepare/Ingest must be able to branch on by name.
type ErrorKind string

const (
	MissingField      ErrorKind = "MissingField"
	UnknownStep       ErrorKind = "UnknownStep"
	IllegalTransition ErrorKind = "IllegalTransition"
	NoKeyMaterial     ErrorKind = "NoKeyMaterial"
	EnvelopeInvalid   ErrorKind = "EnvelopeInvalid"
	StoreFailure      ErrorKind = "StoreFailure"
	MalformedMessage  ErrorKind = "MalformedMessage"
)

// Error is the classified form every error Prepare/Ingest returns is
// wrapped in. Fields is set only where the engine itself raises the error:
// NoKeyMaterial carries "direction" (plus "from"/"to" except for signing)
// and options-parsing MalformedMessage carries "detail". Errors classified
// from a handler or store failure, IllegalTransition included, carry nil
// Fields.
type Error struct {
	Kind   ErrorKind
	Fields map[string]string
	Err    error
}

func (e *Error) Error() string {
	if len(e.Fields) == 0 {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s%v: %v", e.Kind, e.Fields, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func newError(kind ErrorKind, err error, fields map[string]string) *Error {
	return &Error{Kind: kind, Fields: fields, Err: err}
}

// classify maps a sentinel-wrapped error from core/message, core/fsm,
// core/dispatch, keystore, envelope, or kvstore onto its taxonomy kind.
// An error already classified passes through unchanged.
func classify(err error) error {
	if err == nil {
		return nil
	}

	var already *Error
	if errors.As(err, &already) {
		return already
	}

	switch {
	case errors.Is(err, message.ErrMissingField):
		return newError(MissingField, err, nil)
	case errors.Is(err, dispatch.ErrUnknownStep):
		return newError(UnknownStep, err, nil)
	case errors.Is(err, fsm.ErrIllegalTransition):
		return newError(IllegalTransition, err, nil)
	case errors.Is(err, keystore.ErrNoKeyMaterial):
		return newError(NoKeyMaterial, err, nil)
	case errors.Is(err, envelope.ErrInvalid):
		return newError(EnvelopeInvalid, err, nil)
	case errors.Is(err, presentproof.ErrDescriptorMismatch):
		// A descriptor mismatch is a shape violation of the received
		// payload relative to what was requested, not a missing field or
		// a transport failure — it fits MalformedMessage's "field-shape
		// violation" definition best among the seven kinds.
		return newError(MalformedMessage, err, nil)
	case errors.Is(err, message.ErrMalformed):
		return newError(MalformedMessage, err, nil)
	case errors.Is(err, kvstore.ErrNotFound):
		return newError(StoreFailure, err, nil)
	default:
		return newError(StoreFailure, err, nil)
	}
}
