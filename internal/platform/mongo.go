// Package platform wires the two external collaborators this service treats
// as opaque (§1): the MongoDB driver and the message-bus client. Nothing in
// here carries domain semantics — it is index declaration, connection setup,
// and queue/exchange topology only.
package platform

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// Collection names, matching §6's persisted-collections table.
const (
	CollectionFeeds                 = "datacollector_feeds"
	CollectionDataItemsV1            = "datacollector_data"
	CollectionDataFilesV2            = "datacollector_datafiles"
	CollectionVolatileFiles          = "datacollector_volatile"
	CollectionFeedViews              = "datacollector_feedviews"
	CollectionFeedViewDated          = "datacollector_feedview_dated"
	CollectionFeedViewGroupedDated   = "datacollector_feedview_groupeddated"
	CollectionTransactions           = "datacollector_transactions"
)

// Mongo holds the driver client and the database handle every store uses.
type Mongo struct {
	Client   *mongo.Client
	Database *mongo.Database
}

// Connect dials MongoDB and returns a Mongo wrapping the named database.
func Connect(ctx context.Context, uri, database string) (*Mongo, error) {
	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connecting to mongodb: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		return nil, fmt.Errorf("pinging mongodb: %w", err)
	}

	return &Mongo{Client: client, Database: client.Database(database)}, nil
}

// Disconnect closes the underlying client.
func (m *Mongo) Disconnect(ctx context.Context) error {
	return m.Client.Disconnect(ctx)
}

// Collection is a typed accessor, used by every pkg/*/store.go.
func (m *Mongo) Collection(name string) *mongo.Collection {
	return m.Database.Collection(name)
}

// WithSession begins a Mongo session, starts a transaction on it, and runs fn
// within that transaction, committing on success and aborting on any error —
// the §4.3/§5 discipline that the persist and apply steps share a single
// database transaction that commits or aborts as one.
func (m *Mongo) WithSession(ctx context.Context, fn func(sessCtx context.Context) error) error {
	sess, err := m.Client.StartSession()
	if err != nil {
		return fmt.Errorf("starting mongodb session: %w", err)
	}
	defer sess.EndSession(ctx)

	_, err = sess.WithTransaction(ctx, func(sessCtx context.Context) (any, error) {
		return nil, fn(sessCtx)
	})
	return err
}

// EnsureIndexes declares the unique and non-unique indexes from §6 and the
// original implementation's setup_mongodb.rs. Run once at boot, before the
// ingress loop starts accepting traffic.
func (m *Mongo) EnsureIndexes(ctx context.Context) error {
	type indexSpec struct {
		collection string
		name       string
		keys       bson.D
		unique     bool
	}

	specs := []indexSpec{
		{CollectionFeeds, "feed_id_uniq", bson.D{{Key: "feed_id", Value: 1}}, true},
		{CollectionDataItemsV1, "datacollector_data_id_uniq", bson.D{{Key: "data_id", Value: 1}, {Key: "feed_id", Value: 1}}, true},
		{CollectionDataFilesV2, "data_id_uniq", bson.D{{Key: "data_id", Value: 1}}, true},
		{CollectionDataFilesV2, "date_feed", bson.D{{Key: "save_date", Value: 1}, {Key: "feed_id", Value: 1}}, false},
		{CollectionVolatileFiles, "correlation_id_uniq", bson.D{{Key: "correlation", Value: 1}}, true},
		{CollectionFeedViews, "feed_view_id_uniq", bson.D{{Key: "feed_view_id", Value: 1}}, true},
		{CollectionFeedViewDated, "data_id_feedview_uniq", bson.D{{Key: "data_id", Value: 1}, {Key: "feed_view_id", Value: 1}}, true},
		{CollectionFeedViewDated, "pubdate_desc", bson.D{{Key: "pub_date", Value: -1}, {Key: "feed_view_id", Value: 1}}, false},
		{CollectionFeedViewGroupedDated, "data_id_feedview_uniq", bson.D{{Key: "data_id", Value: 1}, {Key: "feed_view_id", Value: 1}}, true},
		{CollectionFeedViewGroupedDated, "pubdate_desc_group", bson.D{{Key: "pub_date", Value: -1}, {Key: "feed_view_id", Value: 1}, {Key: "group_id", Value: 1}}, false},
	}

	for _, s := range specs {
		model := mongo.IndexModel{
			Keys:    s.keys,
			Options: options.Index().SetName(s.name).SetUnique(s.unique),
		}
		if _, err := m.Collection(s.collection).Indexes().CreateOne(ctx, model); err != nil {
			return fmt.Errorf("creating index %s on %s: %w", s.name, s.collection, err)
		}
	}

	return nil
}
