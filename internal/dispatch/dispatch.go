// Package dispatch is the ingress loop's routing layer (§4.1): it extracts
// the message kind and action, enforces the regeneration gate, and looks up
// the static action-to-handler table. Unknown actions produce code 99;
// everything during regeneration except the transaction applier is
// rejected with 503.
package dispatch

import (
	"context"
	"encoding/json"

	"go.uber.org/atomic"

	"github.com/dugrema/millegrilles-datacollector/internal/busproto"
	"github.com/dugrema/millegrilles-datacollector/internal/certauth"
	"github.com/dugrema/millegrilles-datacollector/internal/envelope"
)

// Handler processes one message of a given kind and returns the reply body,
// or a *busproto.Error on failure.
type Handler func(ctx context.Context, id certauth.Identity, env envelope.Envelope) (any, *busproto.Error)

// RegenerationGate tracks whether the domain is currently replaying its
// transaction log to rebuild state. While set, the ingress loop rejects
// every Request/Command/Event and skips the Trigger handler; only the
// transaction applier, invoked directly by the replay driver, runs.
type RegenerationGate struct {
	active atomic.Bool
}

// Set toggles regeneration mode on or off.
func (g *RegenerationGate) Set(active bool) { g.active.Store(active) }

// Active reports whether regeneration mode is currently on.
func (g *RegenerationGate) Active() bool { return g.active.Load() }

// Table is a static action-name-to-handler map for one message kind.
type Table map[string]Handler

// Dispatcher routes inbound messages by kind and action.
type Dispatcher struct {
	Requests  Table
	Commands  Table
	Events    Table
	Gate      *RegenerationGate
}

// NewDispatcher builds a Dispatcher with empty tables and a fresh gate.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		Requests: make(Table),
		Commands: make(Table),
		Events:   make(Table),
		Gate:     &RegenerationGate{},
	}
}

// Dispatch routes one message per §4.1. kind is KindRequest, KindCommand or
// KindEvent; KindTransaction and KindTrigger are handled by dedicated
// drivers (the replay applier and the ticker) rather than through this
// table, since neither produces a bus reply in the same shape.
func (d *Dispatcher) Dispatch(ctx context.Context, kind envelope.Kind, id certauth.Identity, env envelope.Envelope) (any, *busproto.Error) {
	if d.Gate.Active() {
		return nil, busproto.Errorf(busproto.CodeUnavailable, "domain is regenerating, request rejected")
	}

	var table Table
	switch kind {
	case envelope.KindRequest:
		table = d.Requests
	case envelope.KindCommand:
		table = d.Commands
	case envelope.KindEvent:
		table = d.Events
	default:
		return nil, busproto.Errorf(busproto.CodeUnknownAction, "unsupported message kind for dispatch table")
	}

	handler, ok := table[env.Action]
	if !ok {
		return nil, busproto.Errorf(busproto.CodeUnknownAction, "unknown action %q", env.Action)
	}

	return handler(ctx, id, env)
}

// ParseEnvelope is a convenience wrapper turning a raw bus delivery body into
// an Envelope ready for dispatch.
func ParseEnvelope(body []byte) (envelope.Envelope, error) {
	var env envelope.Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return envelope.Envelope{}, err
	}
	return env, nil
}
