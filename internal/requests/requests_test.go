package requests

import (
	"testing"

	"github.com/dugrema/millegrilles-datacollector/pkg/feed"
)

func TestFeedKeyIDs(t *testing.T) {
	feeds := []feed.Feed{
		{FeedID: "a", EncryptedFeedInformation: feed.EncryptedInfo{CleID: "k1"}},
		{FeedID: "b", EncryptedFeedInformation: feed.EncryptedInfo{CleID: ""}},
		{FeedID: "c", EncryptedFeedInformation: feed.EncryptedInfo{CleID: "k2"}},
	}
	got := feedKeyIDs(feeds)
	want := []string{"k1", "k2"}
	if len(got) != len(want) {
		t.Fatalf("feedKeyIDs() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("feedKeyIDs()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestFeedKeyIDs_Empty(t *testing.T) {
	if got := feedKeyIDs(nil); len(got) != 0 {
		t.Errorf("feedKeyIDs(nil) = %v, want empty", got)
	}
}
