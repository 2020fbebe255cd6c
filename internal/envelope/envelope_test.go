package envelope

import (
	"encoding/json"
	"testing"
)

func TestComputeID_Deterministic(t *testing.T) {
	contenu := json.RawMessage(`{"feed_type":"rss"}`)
	id1, err := ComputeID("createFeed", contenu)
	if err != nil {
		t.Fatalf("ComputeID: %v", err)
	}
	id2, err := ComputeID("createFeed", contenu)
	if err != nil {
		t.Fatalf("ComputeID: %v", err)
	}
	if id1 != id2 {
		t.Errorf("ComputeID is not deterministic: %s != %s", id1, id2)
	}
	if len(id1) != 64 {
		t.Errorf("expected 32-byte hex id (64 chars), got %d chars", len(id1))
	}
}

func TestComputeID_DistinctActionsDiffer(t *testing.T) {
	contenu := json.RawMessage(`{"feed_type":"rss"}`)
	id1, _ := ComputeID("createFeed", contenu)
	id2, _ := ComputeID("updateFeed", contenu)
	if id1 == id2 {
		t.Errorf("expected different actions to produce different ids")
	}
}

func TestAttachment(t *testing.T) {
	e := Envelope{Attachments: map[string]string{"key": "escrowed-key-material"}}
	v, ok := e.Attachment("key")
	if !ok || v != "escrowed-key-material" {
		t.Errorf("Attachment(key) = (%q, %v), want (escrowed-key-material, true)", v, ok)
	}
	if _, ok := e.Attachment("missing"); ok {
		t.Errorf("expected missing attachment to report false")
	}
}
