package feedview

import (
	"context"
	"errors"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/dugrema/millegrilles-datacollector/internal/platform"
)

// ErrNotFound is returned when a feed view lookup matches no document.
var ErrNotFound = errors.New("feed view not found")

// ErrNoMatch is returned by Update when the scoping filter matched zero
// documents — §4.4 requires updateFeedView's matched count be exactly 1.
var ErrNoMatch = errors.New("no feed view matched for update")

// Store is the materialised-collection writer/reader for feed views and
// their data rows.
type Store struct {
	views        *mongo.Collection
	dated        *mongo.Collection
	groupedDated *mongo.Collection
}

// NewStore builds a Store bound to the feed view collections of db.
func NewStore(db *platform.Mongo) *Store {
	return &Store{
		views:        db.Collection(platform.CollectionFeedViews),
		dated:        db.Collection(platform.CollectionFeedViewDated),
		groupedDated: db.Collection(platform.CollectionFeedViewGroupedDated),
	}
}

// Create inserts a new feed view.
func (s *Store) Create(ctx context.Context, v FeedView) error {
	_, err := s.views.InsertOne(ctx, v)
	return err
}

// Get looks up a feed view by id.
func (s *Store) Get(ctx context.Context, feedViewID string) (FeedView, error) {
	var v FeedView
	err := s.views.FindOne(ctx, bson.M{"feed_view_id": feedViewID}).Decode(&v)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return FeedView{}, ErrNotFound
	}
	return v, err
}

// ListForFeed returns non-deleted feed views for a feed, per getFeedViews.
func (s *Store) ListForFeed(ctx context.Context, feedID string) ([]FeedView, error) {
	cur, err := s.views.Find(ctx, bson.M{"feed_id": feedID, "deleted": false})
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var views []FeedView
	if err := cur.All(ctx, &views); err != nil {
		return nil, err
	}
	return views, nil
}

// UpdateFields holds the subset of FeedView fields an updateFeedView
// command may change.
type UpdateFields struct {
	EncryptedData *string
	Name          *string
	Active        *bool
	MappingCode   *string
}

// Update applies UpdateFields scoped by (feed_view_id, feed_id); §4.4
// requires exactly one match, surfacing ErrNoMatch otherwise.
func (s *Store) Update(ctx context.Context, feedViewID, feedID string, fields UpdateFields) error {
	set := bson.M{}
	if fields.EncryptedData != nil {
		set["encrypted_data"] = *fields.EncryptedData
	}
	if fields.Name != nil {
		set["name"] = *fields.Name
	}
	if fields.Active != nil {
		set["active"] = *fields.Active
	}
	if fields.MappingCode != nil {
		set["mapping_code"] = *fields.MappingCode
	}

	update := bson.M{"$currentDate": bson.M{"modification_date": true}}
	if len(set) > 0 {
		update["$set"] = set
	}

	res, err := s.views.UpdateOne(ctx, bson.M{"feed_view_id": feedViewID, "feed_id": feedID}, update)
	if err != nil {
		return err
	}
	if res.MatchedCount != 1 {
		return ErrNoMatch
	}
	return nil
}

// SetProcessing marks a view as not ready and stamps the processing start
// date, the first half of the processView command (§4.3 step 8).
func (s *Store) SetProcessing(ctx context.Context, feedViewID string) error {
	update := bson.M{
		"$set":         bson.M{"ready": false},
		"$currentDate": bson.M{"modification_date": true, "processing_start_date": true},
	}
	_, err := s.views.UpdateOne(ctx, bson.M{"feed_view_id": feedViewID}, update)
	return err
}

// dataCollection picks the target collection for a view's data type.
func (s *Store) dataCollection(dt ViewDataType) *mongo.Collection {
	if dt == ViewDataDated {
		return s.dated
	}
	return s.groupedDated
}

// Truncate removes every prior row of feedViewID from the collection
// matching dt, used by insertViewData when the command sets truncate=true.
// feedID is not part of the filter, since view data rows carry no feed_id.
func (s *Store) Truncate(ctx context.Context, dt ViewDataType, feedID, feedViewID string) error {
	_, err := s.dataCollection(dt).DeleteMany(ctx, bson.M{"feed_view_id": feedViewID})
	return err
}

// InsertViewData inserts a batch of rows for dt. When dedup is true, or when
// the driver reports a duplicate key during the bulk insert, it falls back
// to per-row upsert-on-insert ($setOnInsert semantics) so pre-existing rows
// are left unchanged and only new rows are added (§4.3, §8 idempotence
// property).
func (s *Store) InsertViewData(ctx context.Context, dt ViewDataType, rows []any, dedup bool) error {
	coll := s.dataCollection(dt)

	if !dedup {
		_, err := coll.InsertMany(ctx, rows)
		if !isDuplicateKeyError(err) {
			return err
		}
		// Fall through to per-row upsert on an unexpected duplicate.
	}

	for _, row := range rows {
		filter, err := rowKeyFilter(row)
		if err != nil {
			return err
		}
		_, err = coll.UpdateOne(ctx, filter, bson.M{"$setOnInsert": row}, options.UpdateOne().SetUpsert(true))
		if err != nil {
			return err
		}
	}
	return nil
}

// rowKeyFilter extracts the (data_id, feed_view_id) key from a DatedItem or
// GroupedDatedItem for the upsert filter.
func rowKeyFilter(row any) (bson.M, error) {
	switch r := row.(type) {
	case DatedItem:
		return bson.M{"data_id": r.DataID, "feed_view_id": r.FeedViewID}, nil
	case GroupedDatedItem:
		return bson.M{"data_id": r.DataID, "feed_view_id": r.FeedViewID}, nil
	default:
		return nil, errors.New("unsupported feed view data row type")
	}
}

func isDuplicateKeyError(err error) bool {
	if err == nil {
		return false
	}
	return mongo.IsDuplicateKeyError(err)
}

// DatedPage implements getFeedViewData for the Dated variant, paginated
// newest-first.
func (s *Store) DatedPage(ctx context.Context, feedViewID string, skip, limit int64) ([]DatedItem, error) {
	opts := options.Find().SetSort(bson.D{{Key: "pub_date", Value: -1}}).SetSkip(skip).SetLimit(limit)
	cur, err := s.dated.Find(ctx, bson.M{"feed_view_id": feedViewID}, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var rows []DatedItem
	if err := cur.All(ctx, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

// GroupedDatedPage implements getFeedViewData for the GroupedDated variant.
func (s *Store) GroupedDatedPage(ctx context.Context, feedViewID string, skip, limit int64) ([]GroupedDatedItem, error) {
	opts := options.Find().SetSort(bson.D{{Key: "pub_date", Value: -1}}).SetSkip(skip).SetLimit(limit)
	cur, err := s.groupedDated.Find(ctx, bson.M{"feed_view_id": feedViewID}, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var rows []GroupedDatedItem
	if err := cur.All(ctx, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

// CountData returns the row count for a view's data collection, used to
// build estimated_count.
func (s *Store) CountData(ctx context.Context, dt ViewDataType, feedViewID string) (int64, error) {
	return s.dataCollection(dt).CountDocuments(ctx, bson.M{"feed_view_id": feedViewID})
}
