package transaction

import (
	"context"
	"errors"
	"testing"

	"github.com/dugrema/millegrilles-datacollector/internal/busproto"
	"github.com/dugrema/millegrilles-datacollector/internal/certauth"
	"github.com/dugrema/millegrilles-datacollector/internal/envelope"
	"github.com/dugrema/millegrilles-datacollector/pkg/feed"
)

func TestOwnerUserID(t *testing.T) {
	admin := certauth.Identity{UserID: "u1", GlobalOwner: true}
	if got := ownerUserID(admin); got != "" {
		t.Errorf("ownerUserID(admin) = %q, want empty", got)
	}

	user := certauth.Identity{UserID: "u1"}
	if got := ownerUserID(user); got != "u1" {
		t.Errorf("ownerUserID(user) = %q, want u1", got)
	}
}

func TestApply_UnknownAction(t *testing.T) {
	a := &Applier{}
	env := envelope.Envelope{Action: "bogus"}
	err := a.Apply(context.Background(), env, certauth.Identity{}, SourceLive)
	var busErr *busproto.Error
	if !errors.As(err, &busErr) || busErr.Code != busproto.CodeUnknownAction {
		t.Fatalf("Apply(unknown action) = %v, want code %d", err, busproto.CodeUnknownAction)
	}
}

func TestTranslateFeedErr(t *testing.T) {
	err := translateFeedErr(feed.ErrNotFound)
	var busErr *busproto.Error
	if !errors.As(err, &busErr) || busErr.Code != busproto.CodeNotFound {
		t.Fatalf("translateFeedErr(ErrNotFound) = %v, want code %d", err, busproto.CodeNotFound)
	}

	other := errors.New("boom")
	if translateFeedErr(other) != other {
		t.Errorf("translateFeedErr(other) should pass through unrelated errors")
	}
}
