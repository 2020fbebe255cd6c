package envelope

import (
	"encoding/json"
	"testing"
)

type createFeedCommand struct {
	FeedType      string `json:"feed_type" validate:"required"`
	SecurityLevel string `json:"security_level" validate:"required,oneof=1.public 2.prive 3.protege 4.secure"`
}

func TestParse_Valid(t *testing.T) {
	var cmd createFeedCommand
	err := Parse(json.RawMessage(`{"feed_type":"rss","security_level":"2.prive"}`), &cmd)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cmd.FeedType != "rss" {
		t.Errorf("FeedType = %q, want rss", cmd.FeedType)
	}
}

func TestParse_MissingRequiredField(t *testing.T) {
	var cmd createFeedCommand
	err := Parse(json.RawMessage(`{"security_level":"2.prive"}`), &cmd)
	if err == nil {
		t.Fatal("expected validation error for missing feed_type")
	}
	if err.Code != 400 {
		t.Errorf("Code = %d, want 400", err.Code)
	}
}

func TestParse_UnknownField(t *testing.T) {
	var cmd createFeedCommand
	err := Parse(json.RawMessage(`{"feed_type":"rss","security_level":"2.prive","bogus":1}`), &cmd)
	if err == nil {
		t.Fatal("expected decode error for unknown field")
	}
}

func TestParse_InvalidEnum(t *testing.T) {
	var cmd createFeedCommand
	err := Parse(json.RawMessage(`{"feed_type":"rss","security_level":"not-a-level"}`), &cmd)
	if err == nil {
		t.Fatal("expected validation error for invalid security_level")
	}
}
