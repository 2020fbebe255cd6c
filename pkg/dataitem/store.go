package dataitem

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/dugrema/millegrilles-datacollector/internal/platform"
)

// ErrDuplicate is returned when a (feed_id, data_id) pair already exists,
// the uniqueness property §8 requires saveDataItem/saveDataItemV2 to enforce
// with a 409. Grounded on the same shape the teacher's alert deduplicator
// uses to turn a unique-index collision into a typed error instead of a raw
// driver error — but backed only by the Mongo unique index, with no cache
// tier, since §5 enumerates this service's only resources as bus
// connections and a database connection pool.
var ErrDuplicate = errors.New("data item already exists")

// ErrNotFound is returned when a lookup matches no document.
var ErrNotFound = errors.New("not found")

// Store is the materialised-collection writer/reader for data items and
// volatile files.
type Store struct {
	v1       *mongo.Collection
	v2       *mongo.Collection
	volatile *mongo.Collection
}

// NewStore builds a Store bound to the v1, v2 and volatile collections of db.
func NewStore(db *platform.Mongo) *Store {
	return &Store{
		v1:       db.Collection(platform.CollectionDataItemsV1),
		v2:       db.Collection(platform.CollectionDataFilesV2),
		volatile: db.Collection(platform.CollectionVolatileFiles),
	}
}

func isDuplicateKeyError(err error) bool {
	var we mongo.WriteException
	if errors.As(err, &we) {
		for _, e := range we.WriteErrors {
			if e.Code == 11000 {
				return true
			}
		}
	}
	return mongo.IsDuplicateKeyError(err)
}

// InsertV1 inserts a legacy inline data item. Returns ErrDuplicate on a
// (feed_id, data_id) collision.
func (s *Store) InsertV1(ctx context.Context, item DataItemV1) error {
	_, err := s.v1.InsertOne(ctx, item)
	if isDuplicateKeyError(err) {
		return ErrDuplicate
	}
	return err
}

// InsertV2 inserts an out-of-line data file. Returns ErrDuplicate on a
// data_id collision.
func (s *Store) InsertV2(ctx context.Context, item DataFileV2) error {
	_, err := s.v2.InsertOne(ctx, item)
	if isDuplicateKeyError(err) {
		return ErrDuplicate
	}
	return err
}

// Exists reports whether (feedID, dataID) is already present in the v1
// collection, used as the pre-check in §4.3 step 3 before attempting an
// insert (the insert's own unique-index rejection is the authoritative
// backstop).
func (s *Store) Exists(ctx context.Context, feedID, dataID string) (bool, error) {
	n, err := s.v1.CountDocuments(ctx, bson.M{"feed_id": feedID, "data_id": dataID})
	return n > 0, err
}

// CheckExistingDataIds implements checkExistingDataIds: given a candidate
// set of data ids for a feed, returns which already exist and which are
// missing (missing = input \ present).
func (s *Store) CheckExistingDataIds(ctx context.Context, feedID string, dataIDs []string) (existing, missing []string, err error) {
	cur, err := s.v1.Find(ctx, bson.M{"feed_id": feedID, "data_id": bson.M{"$in": dataIDs}})
	if err != nil {
		return nil, nil, err
	}
	defer cur.Close(ctx)

	present := make(map[string]struct{})
	for cur.Next(ctx) {
		var row struct {
			DataID string `bson:"data_id"`
		}
		if err := cur.Decode(&row); err != nil {
			return nil, nil, err
		}
		present[row.DataID] = struct{}{}
	}
	if err := cur.Err(); err != nil {
		return nil, nil, err
	}

	for _, id := range dataIDs {
		if _, ok := present[id]; ok {
			existing = append(existing, id)
		} else {
			missing = append(missing, id)
		}
	}
	return existing, missing, nil
}

// MostRecent implements getDataItemsMostRecent: v1 rows for a feed, newest first.
func (s *Store) MostRecent(ctx context.Context, feedID string, skip, limit int64) ([]DataItemV1, error) {
	opts := options.Find().SetSort(bson.D{{Key: "pub_date", Value: -1}}).SetSkip(skip).SetLimit(limit)
	return s.findV1(ctx, bson.M{"feed_id": feedID}, opts)
}

// DateRange implements getDataItemsDateRange: v1 rows for a feed within
// [from, to], newest first, paginated.
func (s *Store) DateRange(ctx context.Context, feedID string, from, to time.Time, skip, limit int64) ([]DataItemV1, error) {
	filter := bson.M{"feed_id": feedID, "pub_date": bson.M{"$gte": from, "$lte": to}}
	opts := options.Find().SetSort(bson.D{{Key: "pub_date", Value: -1}}).SetSkip(skip).SetLimit(limit)
	return s.findV1(ctx, filter, opts)
}

// CountV1 returns the number of v1 rows matching filter, used to build
// estimated_count.
func (s *Store) CountV1(ctx context.Context, filter bson.M) (int64, error) {
	return s.v1.CountDocuments(ctx, filter)
}

func (s *Store) findV1(ctx context.Context, filter bson.M, opts *options.FindOptionsBuilder) ([]DataItemV1, error) {
	cur, err := s.v1.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var items []DataItemV1
	if err := cur.All(ctx, &items); err != nil {
		return nil, err
	}
	return items, nil
}

// FeedData implements getFeedData: v2 rows for a feed with save_date after
// batchStart, using the (save_date, feed_id) index.
func (s *Store) FeedData(ctx context.Context, feedID string, batchStart time.Time, skip, limit int64) ([]DataFileV2, error) {
	filter := bson.M{"feed_id": feedID, "save_date": bson.M{"$gt": batchStart}}
	opts := options.Find().SetSort(bson.D{{Key: "save_date", Value: 1}}).SetSkip(skip).SetLimit(limit)

	cur, err := s.v2.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var items []DataFileV2
	if err := cur.All(ctx, &items); err != nil {
		return nil, err
	}
	return items, nil
}

// AllFuuids streams every fuuid referenced from the v1 data collection
// across all feeds, for the ticker's claim-all sweep (§4.6 claim-all).
func (s *Store) AllFuuids(ctx context.Context) ([]string, error) {
	cur, err := s.v1.Find(ctx, bson.M{"files.fuuid": bson.M{"$exists": true}})
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var fuuids []string
	for cur.Next(ctx) {
		var row DataItemV1
		if err := cur.Decode(&row); err != nil {
			return nil, err
		}
		for _, f := range row.Files {
			fuuids = append(fuuids, f.Fuuid)
		}
	}
	return fuuids, cur.Err()
}

// AddFuuidsVolatile implements the special-cased addFuuidsVolatile command:
// an upsert into the volatile collection keyed by correlation, which does
// not generate a transaction (§4.3).
func (s *Store) AddFuuidsVolatile(ctx context.Context, vf VolatileFile) error {
	now := time.Now().UTC()
	if vf.Expiration.IsZero() {
		vf.Expiration = now.Add(DefaultVolatileTTL)
	}

	filter := bson.M{"correlation": vf.Correlation}
	update := bson.M{
		"$set": bson.M{
			"fuuid":       vf.Fuuid,
			"format":      vf.Format,
			"cle_id":      vf.CleID,
			"nonce":       vf.Nonce,
			"compression": vf.Compression,
			"modified":    now,
		},
		"$setOnInsert": bson.M{
			"expiration": vf.Expiration,
			"created":    now,
		},
	}
	_, err := s.volatile.UpdateOne(ctx, filter, update, options.UpdateOne().SetUpsert(true))
	return err
}

// GetFuuidsVolatile implements getFuuidsVolatile: lookup by a set of
// correlations.
func (s *Store) GetFuuidsVolatile(ctx context.Context, correlations []string) ([]VolatileFile, error) {
	cur, err := s.volatile.Find(ctx, bson.M{"correlation": bson.M{"$in": correlations}})
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out []VolatileFile
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}
