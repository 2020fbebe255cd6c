package ingress

import (
	"encoding/json"
	"testing"

	"github.com/dugrema/millegrilles-datacollector/internal/envelope"
)

func TestParseRoutingKey(t *testing.T) {
	cases := []struct {
		name       string
		rk         string
		wantKind   envelope.Kind
		wantAction string
		wantErr    bool
	}{
		{"request", "requete.DataCollector.getFeeds", envelope.KindRequest, "getFeeds", false},
		{"command", "commande.DataCollector.createFeed", envelope.KindCommand, "createFeed", false},
		{"event", "evenement.DataCollector.feedDataUpdated", envelope.KindEvent, "feedDataUpdated", false},
		{"unknown kind word", "bogus.DataCollector.getFeeds", 0, "", true},
		{"too few segments", "requete.getFeeds", 0, "", true},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			kind, action, err := parseRoutingKey(c.rk)
			if c.wantErr {
				if err == nil {
					t.Fatalf("expected error for %q", c.rk)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if kind != c.wantKind || action != c.wantAction {
				t.Errorf("parseRoutingKey(%q) = (%v, %q), want (%v, %q)", c.rk, kind, action, c.wantKind, c.wantAction)
			}
		})
	}
}

func TestMergeOk_NilResult(t *testing.T) {
	body, err := mergeOk(nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var out map[string]bool
	if err := json.Unmarshal(body, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !out["ok"] {
		t.Error("expected ok:true")
	}
}

func TestMergeOk_ObjectResult(t *testing.T) {
	body, err := mergeOk(map[string]string{"feed_id": "abc"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var out map[string]any
	if err := json.Unmarshal(body, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out["ok"] != true {
		t.Errorf("ok = %v, want true", out["ok"])
	}
	if out["feed_id"] != "abc" {
		t.Errorf("feed_id = %v, want abc", out["feed_id"])
	}
}

func TestMergeOk_NonObjectResult(t *testing.T) {
	body, err := mergeOk([]int{1, 2, 3})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var out map[string]any
	if err := json.Unmarshal(body, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out["ok"] != true {
		t.Errorf("ok = %v, want true", out["ok"])
	}
	if _, ok := out["result"]; !ok {
		t.Error("expected a result field wrapping the non-object value")
	}
}
