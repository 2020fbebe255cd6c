package commands

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/dugrema/millegrilles-datacollector/internal/busproto"
	"github.com/dugrema/millegrilles-datacollector/internal/envelope"
)

func TestEnsureID_AssignsWhenEmpty(t *testing.T) {
	env := envelope.Envelope{Action: "createFeed", Contenu: json.RawMessage(`{"a":1}`)}
	if err := ensureID(&env); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if env.ID == "" {
		t.Fatal("expected a computed id")
	}
}

func TestEnsureID_PreservesExisting(t *testing.T) {
	env := envelope.Envelope{ID: "already-set", Action: "createFeed", Contenu: json.RawMessage(`{}`)}
	if err := ensureID(&env); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if env.ID != "already-set" {
		t.Errorf("ID = %q, want unchanged", env.ID)
	}
}

func TestAsBusError_Nil(t *testing.T) {
	if got := asBusError(nil); got != nil {
		t.Errorf("asBusError(nil) = %v, want nil", got)
	}
}

func TestAsBusError_UnwrapsExisting(t *testing.T) {
	be := busproto.Errorf(busproto.CodeConflict, "already exists")
	got := asBusError(be)
	if got == nil || got.Code != busproto.CodeConflict {
		t.Fatalf("got %+v, want code %d", got, busproto.CodeConflict)
	}
}

func TestAsBusError_WrapsGenericError(t *testing.T) {
	got := asBusError(errors.New("boom"))
	if got == nil || got.Code != busproto.CodeInternal {
		t.Fatalf("got %+v, want code %d", got, busproto.CodeInternal)
	}
}

func TestMustJSON(t *testing.T) {
	b := mustJSON(map[string]string{"feed_id": "abc"})
	var out map[string]string
	if err := json.Unmarshal(b, &out); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if out["feed_id"] != "abc" {
		t.Errorf("feed_id = %q, want abc", out["feed_id"])
	}
}
