package dispatch

import (
	"context"
	"testing"

	"github.com/dugrema/millegrilles-datacollector/internal/busproto"
	"github.com/dugrema/millegrilles-datacollector/internal/certauth"
	"github.com/dugrema/millegrilles-datacollector/internal/envelope"
)

func TestDispatch_RegenerationRejectsRequest(t *testing.T) {
	d := NewDispatcher()
	d.Gate.Set(true)

	_, berr := d.Dispatch(context.Background(), envelope.KindRequest, certauth.Identity{}, envelope.Envelope{Action: "getFeeds"})
	if berr == nil || berr.Code != busproto.CodeUnavailable {
		t.Fatalf("expected 503 during regeneration, got %+v", berr)
	}
}

func TestDispatch_UnknownActionIsCode99(t *testing.T) {
	d := NewDispatcher()
	_, berr := d.Dispatch(context.Background(), envelope.KindCommand, certauth.Identity{}, envelope.Envelope{Action: "doesNotExist"})
	if berr == nil || berr.Code != busproto.CodeUnknownAction {
		t.Fatalf("expected code 99 for unknown action, got %+v", berr)
	}
}

func TestDispatch_RoutesToRegisteredHandler(t *testing.T) {
	d := NewDispatcher()
	called := false
	d.Commands["createFeed"] = func(ctx context.Context, id certauth.Identity, env envelope.Envelope) (any, *busproto.Error) {
		called = true
		return map[string]bool{"ok": true}, nil
	}

	_, berr := d.Dispatch(context.Background(), envelope.KindCommand, certauth.Identity{}, envelope.Envelope{Action: "createFeed"})
	if berr != nil {
		t.Fatalf("unexpected error: %v", berr)
	}
	if !called {
		t.Errorf("expected registered handler to be invoked")
	}
}

func TestDispatch_SkipsGateWhenInactive(t *testing.T) {
	d := NewDispatcher()
	d.Gate.Set(false)
	d.Requests["getFeeds"] = func(ctx context.Context, id certauth.Identity, env envelope.Envelope) (any, *busproto.Error) {
		return nil, nil
	}
	if _, berr := d.Dispatch(context.Background(), envelope.KindRequest, certauth.Identity{}, envelope.Envelope{Action: "getFeeds"}); berr != nil {
		t.Fatalf("unexpected error: %v", berr)
	}
}
