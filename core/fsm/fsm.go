// Package fsm is the generic state-machine runtime every protocol in
// core/ builds its own state table on top of: current-state lookup,
// legal-transition guarding, and role flipping are all generalized here
// from the per-thread lifecycle bookkeeping the teacher's session manager
// did in memory, rewired onto a kvstore.Store so state survives restarts.
package fsm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/agentmesh/didcomm-engine/internal/logger"
	"github.com/agentmesh/didcomm-engine/internal/metrics"
	"github.com/agentmesh/didcomm-engine/kvstore"
)

// State is a single named state in a protocol's state machine. A thread
// that has never been saved is in Unknown.
type State string

// Unknown is every thread's state before its first SaveState call.
const Unknown State = "unknown"

// Role distinguishes the two sides of a protocol run (e.g. Inviter vs.
// Invitee) so the same thread id can carry independent state per role.
type Role string

// ErrIllegalTransition is returned when SaveState is asked to move a
// thread from a state that isn't one of the next state's allowed
// predecessors.
var ErrIllegalTransition = errors.New("fsm: illegal transition")

// Table maps a target state to the set of states legally allowed to
// precede it. A protocol defines one Table per role.
type Table map[State][]State

// Allows reports whether from may legally transition to target under t.
func (t Table) Allows(from, target State) bool {
	for _, allowed := range t[target] {
		if allowed == from {
			return true
		}
	}
	return false
}

// Runtime persists and guards per-thread, per-role state over a
// kvstore.Store, namespaced by protocol.
type Runtime struct {
	kv            kvstore.Store
	protocolShort string
}

// New returns a Runtime that namespaces its keys under protocolShort,
// matching the engine's external key layout
// ("<protocol-short>_state_<role>_<thid>").
func New(kv kvstore.Store, protocolShort string) *Runtime {
	return &Runtime{kv: kv, protocolShort: protocolShort}
}

func (r *Runtime) key(role Role, threadID string) string {
	return fmt.Sprintf("%s_state_%s_%s", r.protocolShort, role, threadID)
}

// CurrentState returns the persisted state for (threadID, role), or
// Unknown if none has been saved yet.
func (r *Runtime) CurrentState(ctx context.Context, threadID string, role Role) (State, error) {
	raw, err := r.kv.Read(ctx, r.key(role, threadID))
	if errors.Is(err, kvstore.ErrNotFound) {
		return Unknown, nil
	}
	if err != nil {
		return "", fmt.Errorf("fsm: read state: %w", err)
	}
	return State(raw), nil
}

// SaveState guards target against table, then persists it for
// (threadID, role). Guarding happens against the state CurrentState
// would currently return, so callers must not race two writers on the
// same thread/role (the engine assumes single-writer-per-thread, per
// its concurrency model).
func (r *Runtime) SaveState(ctx context.Context, threadID string, role Role, target State, table Table) error {
	start := time.Now()
	current, err := r.CurrentState(ctx, threadID, role)
	if err != nil {
		return err
	}
	if !table.Allows(current, target) {
		metrics.TransitionsAttempted.WithLabelValues(r.protocolShort, "failure").Inc()
		metrics.IllegalTransitions.WithLabelValues(r.protocolShort).Inc()
		metrics.GetGlobalCollector().RecordIllegalTransition()
		logger.GetDefaultLogger().Warn("illegal state transition",
			logger.String("protocol", r.protocolShort),
			logger.String("thread_id", threadID),
			logger.String("from", string(current)),
			logger.String("to", string(target)),
		)
		return fmt.Errorf("%w: %s -> %s for role %s", ErrIllegalTransition, current, target, role)
	}
	if err := r.kv.Write(ctx, r.key(role, threadID), string(target)); err != nil {
		metrics.TransitionsAttempted.WithLabelValues(r.protocolShort, "failure").Inc()
		return fmt.Errorf("fsm: write state: %w", err)
	}
	if current == Unknown {
		metrics.ThreadsActive.Inc()
	}
	metrics.TransitionsAttempted.WithLabelValues(r.protocolShort, "success").Inc()
	metrics.TransitionDuration.WithLabelValues(r.protocolShort).Observe(time.Since(start).Seconds())
	return nil
}

func (r *Runtime) payloadKey(state State, threadID string) string {
	return fmt.Sprintf("%s_payload_%s_%s", r.protocolShort, state, threadID)
}

// SavePayload persists the latest payload object seen at (threadID, state)
// — the Protocol Payload Record used by verifier-side cross-checks and by
// tests that assert on what a thread last saw. Keyed by thid alone, not by
// from/to: §4.4's key-agreement rewrite replaces a sealed message's from/to
// with key-agreement identifiers before it ever reaches a protocol's
// receive handler, so from/to are not stable identifiers a send step and a
// later receive step can agree on across Prepare/Ingest — thid is.
func (r *Runtime) SavePayload(ctx context.Context, state State, threadID string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("fsm: marshal payload: %w", err)
	}
	if err := r.kv.Write(ctx, r.payloadKey(state, threadID), string(raw)); err != nil {
		return fmt.Errorf("fsm: write payload: %w", err)
	}
	return nil
}

// LoadPayload reads the payload previously saved at (threadID, state) into
// dst.
func (r *Runtime) LoadPayload(ctx context.Context, state State, threadID string, dst any) error {
	raw, err := r.kv.Read(ctx, r.payloadKey(state, threadID))
	if err != nil {
		return fmt.Errorf("fsm: read payload: %w", err)
	}
	if err := json.Unmarshal([]byte(raw), dst); err != nil {
		return fmt.Errorf("fsm: unmarshal payload: %w", err)
	}
	return nil
}

// FlipRole returns the counterpart role in a two-party protocol, e.g.
// Inviter<->Invitee, Issuer<->Holder, Prover<->Verifier. pairs must list
// both roles of each pair; FlipRole panics if role isn't in any pair,
// since that indicates a protocol wiring bug, not a runtime condition.
func FlipRole(role Role, pairs [][2]Role) Role {
	for _, pair := range pairs {
		if pair[0] == role {
			return pair[1]
		}
		if pair[1] == role {
			return pair[0]
		}
	}
	panic(fmt.Sprintf("fsm: role %q not found in any role pair", role))
}
