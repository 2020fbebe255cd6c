package feed

import (
	"testing"

	"go.mongodb.org/mongo-driver/v2/bson"
)

func TestIsSystemOwned(t *testing.T) {
	if !(Feed{}).IsSystemOwned() {
		t.Errorf("expected feed with empty UserID to be system-owned")
	}
	if (Feed{UserID: "u1"}).IsSystemOwned() {
		t.Errorf("expected feed with a UserID to not be system-owned")
	}
}

func TestVisibilityFilter_OwnFeedsAlwaysIncluded(t *testing.T) {
	f := VisibilityFilter("u1", false, nil)
	if f["deleted"] != false {
		t.Errorf("expected deleted:false in filter")
	}
	or, ok := f["$or"].(bson.A)
	if !ok || len(or) != 1 {
		t.Fatalf("expected a single $or clause when includeShared is false, got %v", f["$or"])
	}
}

func TestVisibilityFilter_IncludeSharedAddsClause(t *testing.T) {
	f := VisibilityFilter("u1", true, nil)
	or, ok := f["$or"].(bson.A)
	if !ok || len(or) != 2 {
		t.Fatalf("expected two $or clauses when includeShared is true, got %v", f["$or"])
	}
}

func TestVisibilityFilter_ExplicitFeedIDs(t *testing.T) {
	f := VisibilityFilter("u1", false, []string{"f1", "f2"})
	if _, ok := f["feed_id"]; !ok {
		t.Errorf("expected feed_id restriction to be present when feed_ids are given")
	}
}
