// Package requests implements the read handlers (§4.5): visibility-scoped
// lookups across feeds, data items and feed views, each optionally bundling
// a re-encrypted key set from KeyMaster for the caller.
package requests

import (
	"context"
	"time"

	"github.com/dugrema/millegrilles-datacollector/internal/busproto"
	"github.com/dugrema/millegrilles-datacollector/internal/certauth"
	"github.com/dugrema/millegrilles-datacollector/internal/envelope"
	"github.com/dugrema/millegrilles-datacollector/internal/dispatch"
	"github.com/dugrema/millegrilles-datacollector/internal/pageutil"
	"github.com/dugrema/millegrilles-datacollector/internal/replycrypto"
	"github.com/dugrema/millegrilles-datacollector/pkg/dataitem"
	"github.com/dugrema/millegrilles-datacollector/pkg/feed"
	"github.com/dugrema/millegrilles-datacollector/pkg/feedview"
	"github.com/dugrema/millegrilles-datacollector/pkg/keymaster"
)

// Service wires the stores and the KeyMaster client into the read handlers
// the dispatcher routes to.
type Service struct {
	Feeds     *feed.Store
	Items     *dataitem.Store
	Views     *feedview.Store
	KeyMaster *keymaster.Client
}

// NewService builds a Service from its collaborators.
func NewService(feeds *feed.Store, items *dataitem.Store, views *feedview.Store, km *keymaster.Client) *Service {
	return &Service{Feeds: feeds, Items: items, Views: views, KeyMaster: km}
}

// Handlers returns the static action-to-handler table for every read §4.5
// enumerates.
func (s *Service) Handlers() dispatch.Table {
	return dispatch.Table{
		"getFeeds":               s.getFeeds,
		"getFeedsForScraper":     s.getFeedsForScraper,
		"checkExistingDataIds":   s.checkExistingDataIds,
		"getDataItemsMostRecent": s.getDataItemsMostRecent,
		"getDataItemsDateRange":  s.getDataItemsDateRange,
		"getFeedData":            s.getFeedData,
		"getFeedViews":           s.getFeedViews,
		"getFeedViewData":        s.getFeedViewData,
		"getFuuidsVolatile":      s.getFuuidsVolatile,
	}
}

func unauthorized() *busproto.Error {
	return busproto.Errorf(busproto.CodeUnauthorized, "unauthorized")
}

// feedKeyIDs collects the non-empty cle_id of every feed, in feed order with
// duplicates kept (keymaster.FetchKeys removes them), used to build the
// KeyMaster fetch request for a page of feeds.
func feedKeyIDs(feeds []feed.Feed) []string {
	ids := make([]string, 0, len(feeds))
	for _, f := range feeds {
		if f.EncryptedFeedInformation.CleID != "" {
			ids = append(ids, f.EncryptedFeedInformation.CleID)
		}
	}
	return ids
}

// GetFeedsRequest is the getFeeds request payload.
type GetFeedsRequest struct {
	IncludeShared bool     `json:"include_shared,omitempty"`
	FeedIDs       []string `json:"feed_ids,omitempty"`
}

// GetFeedsReply is the getFeeds reply: the visible feeds plus the
// re-encrypted key bundle needed to decrypt their encrypted information.
type GetFeedsReply struct {
	Feeds []feed.Feed          `json:"feeds"`
	Keys  *keymaster.KeyBundle `json:"keys,omitempty"`
}

func (s *Service) getFeeds(ctx context.Context, id certauth.Identity, env envelope.Envelope) (any, *busproto.Error) {
	if !certauth.Admitted(id) {
		return nil, unauthorized()
	}

	var req GetFeedsRequest
	if err := envelope.Parse(env.Contenu, &req); err != nil {
		return nil, err
	}

	filter := feed.VisibilityFilter(id.UserID, req.IncludeShared, req.FeedIDs)
	feeds, err := s.Feeds.List(ctx, filter)
	if err != nil {
		return nil, busproto.Wrap(busproto.CodeInternal, err, "listing feeds")
	}

	reply := GetFeedsReply{Feeds: feeds}
	if cleIDs := feedKeyIDs(feeds); len(cleIDs) > 0 {
		bundle, kerr := s.KeyMaster.FetchKeys(ctx, cleIDs, id.CertChain)
		if kerr != nil {
			return nil, kerr
		}
		reply.Keys = &bundle
	}
	return reply, nil
}

// GetFeedsForScraperReply is the getFeedsForScraper reply.
type GetFeedsForScraperReply struct {
	Feeds []feed.Feed `json:"feeds"`
}

func (s *Service) getFeedsForScraper(ctx context.Context, id certauth.Identity, env envelope.Envelope) (any, *busproto.Error) {
	if !certauth.RequireRoleOnExchange(id, certauth.RoleWebScraper, certauth.ExchangePublic) {
		return nil, unauthorized()
	}

	feeds, err := s.Feeds.ListForScraper(ctx)
	if err != nil {
		return nil, busproto.Wrap(busproto.CodeInternal, err, "listing scraper feeds")
	}
	return GetFeedsForScraperReply{Feeds: feeds}, nil
}

// CheckExistingDataIdsRequest is the checkExistingDataIds request payload.
type CheckExistingDataIdsRequest struct {
	FeedID  string   `json:"feed_id" validate:"required"`
	DataIDs []string `json:"data_ids" validate:"required,min=1"`
}

// CheckExistingDataIdsReply is the checkExistingDataIds reply.
type CheckExistingDataIdsReply struct {
	ExistingIDs []string `json:"existing_ids"`
	MissingIDs  []string `json:"missing_ids"`
}

func (s *Service) checkExistingDataIds(ctx context.Context, id certauth.Identity, env envelope.Envelope) (any, *busproto.Error) {
	if !certauth.RequireRoleOnExchange(id, certauth.RoleWebScraper, certauth.ExchangePublic) {
		return nil, unauthorized()
	}

	var req CheckExistingDataIdsRequest
	if err := envelope.Parse(env.Contenu, &req); err != nil {
		return nil, err
	}

	existing, missing, err := s.Items.CheckExistingDataIds(ctx, req.FeedID, req.DataIDs)
	if err != nil {
		return nil, busproto.Wrap(busproto.CodeInternal, err, "checking existing data ids")
	}
	return CheckExistingDataIdsReply{ExistingIDs: existing, MissingIDs: missing}, nil
}

// PagedDataItemsRequest is the shared request shape of
// getDataItemsMostRecent/getDataItemsDateRange.
type PagedDataItemsRequest struct {
	FeedID string     `json:"feed_id" validate:"required"`
	From   *time.Time `json:"from,omitempty"`
	To     *time.Time `json:"to,omitempty"`
	Skip   int64      `json:"skip,omitempty"`
	Limit  int64      `json:"limit,omitempty"`
}

// DataItemsPageReply is the reply for both data item read handlers.
type DataItemsPageReply struct {
	pageutil.Page[dataitem.DataItemV1]
	Keys *keymaster.KeyBundle `json:"keys,omitempty"`
}

func (s *Service) dataItemKeys(ctx context.Context, id certauth.Identity, items []dataitem.DataItemV1) (*keymaster.KeyBundle, *busproto.Error) {
	seen := make(map[string]struct{})
	var cleIDs []string
	for _, it := range items {
		for _, f := range it.Files {
			if f.CleID == "" {
				continue
			}
			if _, ok := seen[f.CleID]; ok {
				continue
			}
			seen[f.CleID] = struct{}{}
			cleIDs = append(cleIDs, f.CleID)
		}
	}
	if len(cleIDs) == 0 {
		return nil, nil
	}
	bundle, err := s.KeyMaster.FetchKeys(ctx, cleIDs, id.CertChain)
	if err != nil {
		return nil, err
	}
	return &bundle, nil
}

func (s *Service) getDataItemsMostRecent(ctx context.Context, id certauth.Identity, env envelope.Envelope) (any, *busproto.Error) {
	if !certauth.Admitted(id) {
		return nil, unauthorized()
	}

	var req PagedDataItemsRequest
	if err := envelope.Parse(env.Contenu, &req); err != nil {
		return nil, err
	}

	if _, err := s.lookupVisibleFeed(ctx, id, req.FeedID); err != nil {
		return nil, err
	}

	page := pageutil.Normalize(req.Skip, req.Limit)
	items, err := s.Items.MostRecent(ctx, req.FeedID, page.Skip, page.Limit)
	if err != nil {
		return nil, busproto.Wrap(busproto.CodeInternal, err, "listing most recent data items")
	}
	count, err := s.Items.CountV1(ctx, map[string]any{"feed_id": req.FeedID})
	if err != nil {
		return nil, busproto.Wrap(busproto.CodeInternal, err, "counting data items")
	}

	keys, kerr := s.dataItemKeys(ctx, id, items)
	if kerr != nil {
		return nil, kerr
	}
	return DataItemsPageReply{Page: pageutil.NewPage(items, count), Keys: keys}, nil
}

func (s *Service) getDataItemsDateRange(ctx context.Context, id certauth.Identity, env envelope.Envelope) (any, *busproto.Error) {
	if !certauth.Admitted(id) {
		return nil, unauthorized()
	}

	var req PagedDataItemsRequest
	if err := envelope.Parse(env.Contenu, &req); err != nil {
		return nil, err
	}
	if req.From == nil || req.To == nil {
		return nil, busproto.Errorf(busproto.CodeBadRequest, "from and to are required")
	}

	if _, err := s.lookupVisibleFeed(ctx, id, req.FeedID); err != nil {
		return nil, err
	}

	page := pageutil.Normalize(req.Skip, req.Limit)
	items, err := s.Items.DateRange(ctx, req.FeedID, *req.From, *req.To, page.Skip, page.Limit)
	if err != nil {
		return nil, busproto.Wrap(busproto.CodeInternal, err, "listing data items in range")
	}
	count, err := s.Items.CountV1(ctx, map[string]any{
		"feed_id":  req.FeedID,
		"pub_date": map[string]any{"$gte": *req.From, "$lte": *req.To},
	})
	if err != nil {
		return nil, busproto.Wrap(busproto.CodeInternal, err, "counting data items in range")
	}

	keys, kerr := s.dataItemKeys(ctx, id, items)
	if kerr != nil {
		return nil, kerr
	}
	return DataItemsPageReply{Page: pageutil.NewPage(items, count), Keys: keys}, nil
}

// lookupVisibleFeed resolves feedID and checks the caller may see it,
// translating a failed lookup into the non-disclosing 404 §4.2 requires.
func (s *Service) lookupVisibleFeed(ctx context.Context, id certauth.Identity, feedID string) (feed.Feed, *busproto.Error) {
	f, err := s.Feeds.Get(ctx, feedID)
	if err != nil {
		return feed.Feed{}, busproto.Errorf(busproto.CodeNotFound, "feed not found")
	}
	if !certauth.FeedOwnership(id, f.UserID, certauth.Exchange(f.SecurityLevel), true) {
		return feed.Feed{}, busproto.Errorf(busproto.CodeNotFound, "feed not found")
	}
	return f, nil
}

// GetFeedDataRequest is the getFeedData request payload.
type GetFeedDataRequest struct {
	FeedID     string    `json:"feed_id" validate:"required"`
	BatchStart time.Time `json:"batch_start"`
	Skip       int64     `json:"skip,omitempty"`
	Limit      int64     `json:"limit,omitempty"`
}

// GetFeedDataReply is the getFeedData reply.
type GetFeedDataReply struct {
	pageutil.Page[dataitem.DataFileV2]
	Keys *keymaster.KeyBundle `json:"keys,omitempty"`
}

func (s *Service) getFeedData(ctx context.Context, id certauth.Identity, env envelope.Envelope) (any, *busproto.Error) {
	if !certauth.RequireRoleOnExchange(id, certauth.RoleDatasourceMapper, certauth.ExchangeProtected) {
		return nil, unauthorized()
	}

	var req GetFeedDataRequest
	if err := envelope.Parse(env.Contenu, &req); err != nil {
		return nil, err
	}

	page := pageutil.Normalize(req.Skip, req.Limit)
	items, err := s.Items.FeedData(ctx, req.FeedID, req.BatchStart, page.Skip, page.Limit)
	if err != nil {
		return nil, busproto.Wrap(busproto.CodeInternal, err, "listing feed data")
	}

	var cleIDs []string
	for _, it := range items {
		cleIDs = append(cleIDs, it.KeyIDs...)
	}
	reply := GetFeedDataReply{Page: pageutil.NewPage(items, int64(len(items)))}
	if len(cleIDs) > 0 {
		bundle, kerr := s.KeyMaster.FetchKeys(ctx, cleIDs, id.CertChain)
		if kerr != nil {
			return nil, kerr
		}
		reply.Keys = &bundle
	}
	return reply, nil
}

// GetFeedViewsRequest is the getFeedViews request payload.
type GetFeedViewsRequest struct {
	FeedID string `json:"feed_id" validate:"required"`
}

// GetFeedViewsReply is the getFeedViews reply. Keys carries the bundle for
// the feed's own encrypted_feed_information cle_id; no other key is fetched
// for the returned views.
type GetFeedViewsReply struct {
	Feed  feed.Feed            `json:"feed"`
	Views []feedview.FeedView  `json:"views"`
	Keys  *keymaster.KeyBundle `json:"keys,omitempty"`
}

func (s *Service) getFeedViews(ctx context.Context, id certauth.Identity, env envelope.Envelope) (any, *busproto.Error) {
	if !certauth.Admitted(id) {
		return nil, unauthorized()
	}

	var req GetFeedViewsRequest
	if err := envelope.Parse(env.Contenu, &req); err != nil {
		return nil, err
	}

	f, verr := s.lookupVisibleFeed(ctx, id, req.FeedID)
	if verr != nil {
		return nil, verr
	}

	views, err := s.Views.ListForFeed(ctx, req.FeedID)
	if err != nil {
		return nil, busproto.Wrap(busproto.CodeInternal, err, "listing feed views")
	}

	cleIDs := []string{f.EncryptedFeedInformation.CleID}
	bundle, kerr := s.KeyMaster.FetchKeys(ctx, cleIDs, id.CertChain)
	if kerr != nil {
		return nil, kerr
	}
	reply := GetFeedViewsReply{Feed: f, Views: views, Keys: &bundle}

	return s.sealReply(id, reply)
}

// sealReply encrypts reply for the caller's certificate chain, per §4.5's
// "reply body is encrypted for the caller (not just the keys)" requirement
// on getFeedViews/getFeedViewData.
func (s *Service) sealReply(id certauth.Identity, reply any) (any, *busproto.Error) {
	sealed, err := replycrypto.SealForCertChain(id.CertChain, reply)
	if err != nil {
		return nil, busproto.Wrap(busproto.CodeInternal, err, "encrypting reply for caller")
	}
	return sealed, nil
}

// GetFeedViewDataRequest is the getFeedViewData request payload.
type GetFeedViewDataRequest struct {
	FeedViewID string `json:"feed_view_id" validate:"required"`
	Skip       int64  `json:"skip,omitempty"`
	Limit      int64  `json:"limit,omitempty"`
}

func (s *Service) getFeedViewData(ctx context.Context, id certauth.Identity, env envelope.Envelope) (any, *busproto.Error) {
	if !certauth.Admitted(id) {
		return nil, unauthorized()
	}

	var req GetFeedViewDataRequest
	if err := envelope.Parse(env.Contenu, &req); err != nil {
		return nil, err
	}

	view, err := s.Views.Get(ctx, req.FeedViewID)
	if err != nil {
		return nil, busproto.Errorf(busproto.CodeNotFound, "feed view not found")
	}
	if _, verr := s.lookupVisibleFeed(ctx, id, view.FeedID); verr != nil {
		return nil, verr
	}

	page := pageutil.Normalize(req.Skip, req.Limit)
	count, err := s.Views.CountData(ctx, view.DataType, req.FeedViewID)
	if err != nil {
		return nil, busproto.Wrap(busproto.CodeInternal, err, "counting feed view data")
	}

	var reply any
	if view.DataType == feedview.ViewDataDated {
		rows, rerr := s.Views.DatedPage(ctx, req.FeedViewID, page.Skip, page.Limit)
		if rerr != nil {
			return nil, busproto.Wrap(busproto.CodeInternal, rerr, "listing dated feed view data")
		}
		reply = pageutil.NewPage(rows, count)
	} else {
		rows, rerr := s.Views.GroupedDatedPage(ctx, req.FeedViewID, page.Skip, page.Limit)
		if rerr != nil {
			return nil, busproto.Wrap(busproto.CodeInternal, rerr, "listing grouped dated feed view data")
		}
		reply = pageutil.NewPage(rows, count)
	}

	return s.sealReply(id, reply)
}

// GetFuuidsVolatileRequest is the getFuuidsVolatile request payload.
type GetFuuidsVolatileRequest struct {
	Correlations []string `json:"correlations" validate:"required,min=1"`
}

// GetFuuidsVolatileReply is the getFuuidsVolatile reply.
type GetFuuidsVolatileReply struct {
	Files []dataitem.VolatileFile `json:"files"`
}

func (s *Service) getFuuidsVolatile(ctx context.Context, id certauth.Identity, env envelope.Envelope) (any, *busproto.Error) {
	if !certauth.RequireRoleOnExchange(id, certauth.RoleWebScraper, certauth.ExchangePublic) {
		return nil, unauthorized()
	}

	var req GetFuuidsVolatileRequest
	if err := envelope.Parse(env.Contenu, &req); err != nil {
		return nil, err
	}

	files, err := s.Items.GetFuuidsVolatile(ctx, req.Correlations)
	if err != nil {
		return nil, busproto.Wrap(busproto.CodeInternal, err, "looking up volatile files")
	}
	return GetFuuidsVolatileReply{Files: files}, nil
}
