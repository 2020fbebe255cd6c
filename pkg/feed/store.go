package feed

import (
	"context"
	"errors"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"

	"github.com/dugrema/millegrilles-datacollector/internal/platform"
)

// ErrNotFound is returned when a feed lookup or ownership-scoped mutation
// matches no document. Per §4.2 this is deliberately the same signal used
// for both "doesn't exist" and "not yours" — callers translate it to 404.
var ErrNotFound = errors.New("feed not found")

// Store is the materialised-collection writer/reader for Feed. It is the
// only component that touches the Feeds collection directly; both the
// command handlers (via the transaction applier) and the read handlers go
// through it.
type Store struct {
	coll *mongo.Collection
}

// NewStore builds a Store bound to the Feeds collection of db.
func NewStore(db *platform.Mongo) *Store {
	return &Store{coll: db.Collection(platform.CollectionFeeds)}
}

// ownerFilter implements the §4.4 ownership scoping shared by
// updateFeed/deleteFeed/restoreFeed: the caller must either be the system
// owner acting on a system feed, or the feed's own user.
func ownerFilter(feedID string, isAdmin bool, callerUserID string) bson.M {
	filter := bson.M{"feed_id": feedID}
	if isAdmin {
		filter["user_id"] = bson.M{"$in": bson.A{nil, ""}}
	} else {
		filter["user_id"] = callerUserID
	}
	return filter
}

// Create inserts a new feed. feed_id uniqueness is enforced by the declared
// index; a duplicate insert surfaces as a driver WriteException the caller
// maps to code 409.
func (s *Store) Create(ctx context.Context, f Feed) error {
	_, err := s.coll.InsertOne(ctx, f)
	return err
}

// Get looks up a feed by id regardless of ownership; callers apply
// authorization separately (used by read handlers that already resolved
// visibility).
func (s *Store) Get(ctx context.Context, feedID string) (Feed, error) {
	var f Feed
	err := s.coll.FindOne(ctx, bson.M{"feed_id": feedID}).Decode(&f)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return Feed{}, ErrNotFound
	}
	return f, err
}

// UpdateFields holds the subset of Feed fields an updateFeed command may
// change.
type UpdateFields struct {
	FeedType                 *string
	Domain                   *string
	SecurityLevel            *string
	PollRate                 *int
	Active                   *bool
	DecryptInDatabase        *bool
	EncryptedFeedInformation *EncryptedInfo
}

// Update applies UpdateFields scoped by ownership, per §4.4's updateFeed row.
// Returns ErrNotFound if no document matched the ownership filter.
func (s *Store) Update(ctx context.Context, feedID string, isAdmin bool, callerUserID string, fields UpdateFields) error {
	set := bson.M{}
	if fields.FeedType != nil {
		set["feed_type"] = *fields.FeedType
	}
	if fields.Domain != nil {
		set["domain"] = *fields.Domain
	}
	if fields.SecurityLevel != nil {
		set["security_level"] = *fields.SecurityLevel
	}
	if fields.PollRate != nil {
		set["poll_rate"] = *fields.PollRate
	}
	if fields.Active != nil {
		set["active"] = *fields.Active
	}
	if fields.DecryptInDatabase != nil {
		set["decrypt_in_database"] = *fields.DecryptInDatabase
	}
	if fields.EncryptedFeedInformation != nil {
		set["encrypted_feed_information"] = *fields.EncryptedFeedInformation
	}

	update := bson.M{"$currentDate": bson.M{"modified_at": true}}
	if len(set) > 0 {
		update["$set"] = set
	}

	res, err := s.coll.UpdateOne(ctx, ownerFilter(feedID, isAdmin, callerUserID), update)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete soft-deletes a feed scoped by ownership (§3: deleted ⇒ deleted_at set).
func (s *Store) Delete(ctx context.Context, feedID string, isAdmin bool, callerUserID string) error {
	update := bson.M{
		"$set":         bson.M{"deleted": true},
		"$currentDate": bson.M{"deleted_at": true},
	}
	res, err := s.coll.UpdateOne(ctx, ownerFilter(feedID, isAdmin, callerUserID), update)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// Purge permanently removes a feed, per the `purge` flag on DeleteFeedCommand
// (§12 supplemented feature) — used instead of Delete when the caller asked
// for a hard delete rather than the usual soft delete.
func (s *Store) Purge(ctx context.Context, feedID string, isAdmin bool, callerUserID string) error {
	res, err := s.coll.DeleteOne(ctx, ownerFilter(feedID, isAdmin, callerUserID))
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// Restore reverses a soft delete scoped by ownership.
func (s *Store) Restore(ctx context.Context, feedID string, isAdmin bool, callerUserID string) error {
	update := bson.M{
		"$set":   bson.M{"deleted": false},
		"$unset": bson.M{"deleted_at": ""},
	}
	res, err := s.coll.UpdateOne(ctx, ownerFilter(feedID, isAdmin, callerUserID), update)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// VisibilityFilter builds the getFeeds filter per §4.2: the caller's own
// feeds, plus (if includeShared) system feeds at public/private security
// levels, plus an optional explicit feed_ids restriction. The earlier
// revision's redundant $or+$in construction (§9 open question) is resolved
// here in favor of one clear predicate: own feeds OR shared system feeds.
func VisibilityFilter(callerUserID string, includeShared bool, feedIDs []string) bson.M {
	or := bson.A{bson.M{"user_id": callerUserID}}
	if includeShared {
		or = append(or, bson.M{
			"user_id":        bson.M{"$in": bson.A{nil, ""}},
			"security_level": bson.M{"$in": bson.A{"1.public", "2.prive"}},
		})
	}

	filter := bson.M{"deleted": false, "$or": or}
	if len(feedIDs) > 0 {
		filter["feed_id"] = bson.M{"$in": feedIDs}
	}
	return filter
}

// List returns feeds matching filter.
func (s *Store) List(ctx context.Context, filter bson.M) ([]Feed, error) {
	cur, err := s.coll.Find(ctx, filter)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var feeds []Feed
	if err := cur.All(ctx, &feeds); err != nil {
		return nil, err
	}
	return feeds, nil
}

// ListForScraper implements getFeedsForScraper: every active, non-deleted
// feed regardless of ownership.
func (s *Store) ListForScraper(ctx context.Context) ([]Feed, error) {
	return s.List(ctx, bson.M{"deleted": false, "active": true})
}
