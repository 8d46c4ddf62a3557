// Package dispatch is the protocol registry and the PREPARE/INGEST dispatch
// rule built on top of it. The teacher has no direct analog of a generic
// protocol-step table (its handshake package wires one fixed protocol
// directly), so this package follows the shape of the originating Rust
// implementation's protocols/protocol.rs instead, translated into
// idiomatic Go: a Direction enum, a Step with a typed handler, and a small
// Protocol value built from a constructor slice, in the same spirit as the
// teacher's registry.Client interface-plus-config pattern.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/agentmesh/didcomm-engine/core/message"
	"github.com/agentmesh/didcomm-engine/internal/logger"
	"github.com/agentmesh/didcomm-engine/internal/metrics"
)

// ErrUnknownStep is wrapped when a registered protocol has no step of the
// requested name/direction; the engine classifies it as an UnknownStep
// error.
var ErrUnknownStep = errors.New("dispatch: unknown step")

// Direction says which side of a step a handler implements.
type Direction int

const (
	// Send handlers run before a plaintext message is sealed/sent.
	Send Direction = iota
	// Receive handlers run after a wire message has been opened/received.
	Receive
)

// String renders d as the label value metrics record it under.
func (d Direction) String() string {
	if d == Send {
		return "send"
	}
	return "receive"
}

// StepOutput is a handler's verdict on a single message: whether the
// engine should encrypt/decrypt it, plus any rewritten message and
// metadata to surface to the caller.
type StepOutput struct {
	// Encrypt tells the engine whether this step's message should be
	// sealed into (or was expected to be opened from) an envelope.
	Encrypt bool
	// Message is the (possibly rewritten) plaintext to carry forward.
	Message message.Plaintext
	// Metadata is handler-defined auxiliary data returned to the caller
	// alongside Message, never put on the wire.
	Metadata map[string]any
}

// Handler implements one named step of a protocol, given the thread's
// plaintext message.
type Handler func(ctx context.Context, msg message.Plaintext) (StepOutput, error)

// Step is one named, directional step of a Protocol.
type Step struct {
	Name      string
	Direction Direction
	Handler   Handler
}

// SendStep builds a Step that runs when a message of this name is
// being prepared for sending.
func SendStep(name string, handler Handler) Step {
	return Step{Name: name, Direction: Send, Handler: handler}
}

// ReceiveStep builds a Step that runs when a message of this name has
// just been received.
func ReceiveStep(name string, handler Handler) Step {
	return Step{Name: name, Direction: Receive, Handler: handler}
}

// Protocol is a named collection of steps, keyed by protocol URI in a
// Registry.
type Protocol struct {
	Name  string
	Steps []Step
}

// step returns the step named name running in direction dir, if any.
func (p *Protocol) step(name string, dir Direction) (Step, bool) {
	for _, s := range p.Steps {
		if s.Name == name && s.Direction == dir {
			return s, true
		}
	}
	return Step{}, false
}

// Registry maps a protocol URI to its Protocol definition.
type Registry struct {
	mu        sync.RWMutex
	protocols map[string]*Protocol
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{protocols: make(map[string]*Protocol)}
}

// Register adds protocol under protocolURI, overwriting any previous
// registration for the same URI.
func (r *Registry) Register(protocolURI string, protocol *Protocol) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.protocols[protocolURI] = protocol
}

// lookup splits a message type into its protocol URI and step name and
// returns the registered protocol, if any.
func (r *Registry) lookup(typ string) (proto *Protocol, protocolURI, stepName string, registered bool, err error) {
	protocolURI, stepName, err = message.SplitType(typ)
	if err != nil {
		return nil, "", "", false, err
	}

	r.mu.RLock()
	proto, registered = r.protocols[protocolURI]
	r.mu.RUnlock()
	return proto, protocolURI, stepName, registered, nil
}

// Passthrough is the StepOutput used when a message's protocol isn't
// registered at all: PREPARE/INGEST leave it exactly as given, unencrypted
// and with empty metadata, rather than guessing at handling it doesn't
// recognize.
func Passthrough(msg message.Plaintext) StepOutput {
	return StepOutput{Encrypt: false, Message: msg, Metadata: map[string]any{}}
}

// DispatchSend resolves and runs the Send-direction handler for msg's
// type. If the message's protocol URI isn't registered at all, the
// message passes through unhandled (Passthrough). If the protocol IS
// registered but has no step of this name in the Send direction, that is
// an UnknownStep condition the caller should surface as a hard error –
// the protocol claims this namespace but doesn't know this step.
func (r *Registry) DispatchSend(ctx context.Context, msg message.Plaintext) (StepOutput, bool, error) {
	return r.dispatch(ctx, msg, Send)
}

// DispatchReceive is DispatchSend's Receive-direction counterpart.
func (r *Registry) DispatchReceive(ctx context.Context, msg message.Plaintext) (StepOutput, bool, error) {
	return r.dispatch(ctx, msg, Receive)
}

// dispatch returns (output, handled, err). handled is false only for the
// passthrough case; a registered-but-missing step returns a non-nil err
// instead, since "handled=false with no error" would conflate the two
// very different outcomes the engine's taxonomy distinguishes.
func (r *Registry) dispatch(ctx context.Context, msg message.Plaintext, dir Direction) (StepOutput, bool, error) {
	proto, protocolURI, stepName, registered, err := r.lookup(msg.Type)
	if err != nil {
		return StepOutput{}, false, err
	}
	if !registered {
		metrics.UnknownProtocolPassthroughs.Inc()
		return Passthrough(msg), false, nil
	}

	step, ok := proto.step(stepName, dir)
	if !ok {
		metrics.StepsDispatched.WithLabelValues(protocolURI, dir.String(), "failure").Inc()
		logger.GetDefaultLogger().Warn("unknown protocol step",
			logger.String("protocol", protocolURI),
			logger.String("step", stepName),
			logger.String("direction", dir.String()),
		)
		return StepOutput{}, false, fmt.Errorf("%w: %q for protocol %q", ErrUnknownStep, stepName, protocolURI)
	}

	start := time.Now()
	out, err := step.Handler(ctx, msg)
	metrics.DispatchDuration.WithLabelValues(protocolURI, stepName).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.StepsDispatched.WithLabelValues(protocolURI, dir.String(), "failure").Inc()
		logger.GetDefaultLogger().Warn("protocol step handler failed",
			logger.String("protocol", protocolURI),
			logger.String("step", stepName),
			logger.String("direction", dir.String()),
			logger.Error(err),
		)
		return StepOutput{}, false, err
	}
	metrics.StepsDispatched.WithLabelValues(protocolURI, dir.String(), "success").Inc()
	return out, true, nil
}

// ShortName derives a short, filesystem/key-safe protocol identifier from
// a protocol URI, e.g. "https://didcomm.org/didexchange/1.0" -> "didexchange".
// The protocol packages name their persisted kvstore keys with their own
// short-name constants, not with this function; for hyphenated URIs the two
// differ ("issue-credential" here, "issuecredential" in that package's keys).
func ShortName(protocolURI string) string {
	parts := strings.Split(strings.TrimRight(protocolURI, "/"), "/")
	for i := len(parts) - 1; i >= 0; i-- {
		if parts[i] != "" && !isVersionSegment(parts[i]) {
			return parts[i]
		}
	}
	return protocolURI
}

func isVersionSegment(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if (r < '0' || r > '9') && r != '.' {
			return false
		}
	}
	return true
}
