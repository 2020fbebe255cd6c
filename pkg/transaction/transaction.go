// Package transaction implements the applier: the single, deterministic
// writer to the materialised feed/data-item/feed-view collections. It is
// called from inside the same database session that persists the durable
// transaction log entry; it takes no live-path-only input, so a replay
// driver rebuilding state from that log can call it unchanged (this
// repository does not contain one).
package transaction

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/v2/mongo"

	"github.com/dugrema/millegrilles-datacollector/internal/busproto"
	"github.com/dugrema/millegrilles-datacollector/internal/certauth"
	"github.com/dugrema/millegrilles-datacollector/internal/envelope"
	"github.com/dugrema/millegrilles-datacollector/internal/telemetry"
	"github.com/dugrema/millegrilles-datacollector/pkg/dataitem"
	"github.com/dugrema/millegrilles-datacollector/pkg/feed"
	"github.com/dugrema/millegrilles-datacollector/pkg/feedview"
)

// Apply sources, distinguishing the live dispatch path from a future replay
// driver rebuilding state from the transaction log (§4.4, §9).
const (
	SourceLive  = "live"
	SourceRegen = "regen"
)

// Applier is the only writer of the Feeds, DataCollector/DataFiles and
// FeedViews/FeedViewData collections.
type Applier struct {
	Feeds     *feed.Store
	DataItems *dataitem.Store
	Views     *feedview.Store
}

// NewApplier wires an Applier to its three materialised stores.
func NewApplier(feeds *feed.Store, items *dataitem.Store, views *feedview.Store) *Applier {
	return &Applier{Feeds: feeds, DataItems: items, Views: views}
}

// Apply dispatches env to the handler for its action. caller carries the
// identity claims the envelope was signed under — the applier re-derives
// ownership/ role facts from it rather than trusting anything pre-computed,
// so that replay produces byte-identical decisions to the live path.
func (a *Applier) Apply(ctx context.Context, env envelope.Envelope, caller certauth.Identity, source string) error {
	err := a.dispatch(ctx, env, caller)
	if err == nil {
		telemetry.TransactionsAppliedTotal.WithLabelValues(env.Action, source).Inc()
	}
	return err
}

func (a *Applier) dispatch(ctx context.Context, env envelope.Envelope, caller certauth.Identity) error {
	switch env.Action {
	case "createFeed":
		return a.applyCreateFeed(ctx, env, caller)
	case "updateFeed":
		return a.applyUpdateFeed(ctx, env, caller)
	case "deleteFeed":
		return a.applyDeleteFeed(ctx, env, caller)
	case "restoreFeed":
		return a.applyRestoreFeed(ctx, env, caller)
	case "saveDataItem":
		return a.applySaveDataItem(ctx, env, caller)
	case "saveDataItemV2":
		return a.applySaveDataItemV2(ctx, env, caller)
	case "createFeedView":
		return a.applyCreateFeedView(ctx, env, caller)
	case "updateFeedView":
		return a.applyUpdateFeedView(ctx, env)
	case "processView":
		return a.applyProcessView(ctx, env)
	case "insertViewData":
		return a.applyInsertViewData(ctx, env)
	default:
		return busproto.Errorf(busproto.CodeUnknownAction, "unknown transaction action %q", env.Action)
	}
}

func isAdmin(caller certauth.Identity) bool {
	return caller.GlobalOwner
}

func ownerUserID(caller certauth.Identity) string {
	if isAdmin(caller) {
		return ""
	}
	return caller.UserID
}

// CreateFeedFields is the createFeed transaction's contenu.
type CreateFeedFields struct {
	FeedType                 string             `json:"feed_type"`
	Domain                   string             `json:"domain"`
	SecurityLevel            string             `json:"security_level"`
	PollRate                 *int               `json:"poll_rate,omitempty"`
	Active                   *bool              `json:"active,omitempty"`
	DecryptInDatabase        *bool              `json:"decrypt_in_database,omitempty"`
	EncryptedFeedInformation feed.EncryptedInfo `json:"encrypted_feed_information"`
}

func (a *Applier) applyCreateFeed(ctx context.Context, env envelope.Envelope, caller certauth.Identity) error {
	var fields CreateFeedFields
	if err := json.Unmarshal(env.Contenu, &fields); err != nil {
		return busproto.Wrap(busproto.CodeBadRequest, err, "invalid createFeed payload")
	}

	f := feed.Feed{
		FeedID:                   env.ID,
		FeedType:                 fields.FeedType,
		Domain:                   fields.Domain,
		SecurityLevel:            fields.SecurityLevel,
		PollRate:                 fields.PollRate,
		Active:                   fields.Active,
		DecryptInDatabase:        fields.DecryptInDatabase,
		EncryptedFeedInformation: fields.EncryptedFeedInformation,
		UserID:                   ownerUserID(caller),
		CreatedAt:                env.Estampille,
		ModifiedAt:               time.Now().UTC(),
		Deleted:                  false,
	}
	if err := a.Feeds.Create(ctx, f); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return busproto.Errorf(busproto.CodeConflict, "Feed already exists")
		}
		return err
	}
	return nil
}

// UpdateFeedFields is the updateFeed transaction's contenu.
type UpdateFeedFields struct {
	FeedID                   string             `json:"feed_id"`
	FeedType                 *string            `json:"feed_type,omitempty"`
	Domain                   *string            `json:"domain,omitempty"`
	SecurityLevel            *string            `json:"security_level,omitempty"`
	PollRate                 *int               `json:"poll_rate,omitempty"`
	Active                   *bool              `json:"active,omitempty"`
	DecryptInDatabase        *bool              `json:"decrypt_in_database,omitempty"`
	EncryptedFeedInformation *feed.EncryptedInfo `json:"encrypted_feed_information,omitempty"`
}

func (a *Applier) applyUpdateFeed(ctx context.Context, env envelope.Envelope, caller certauth.Identity) error {
	var fields UpdateFeedFields
	if err := json.Unmarshal(env.Contenu, &fields); err != nil {
		return busproto.Wrap(busproto.CodeBadRequest, err, "invalid updateFeed payload")
	}

	err := a.Feeds.Update(ctx, fields.FeedID, isAdmin(caller), caller.UserID, feed.UpdateFields{
		FeedType:                 fields.FeedType,
		Domain:                   fields.Domain,
		SecurityLevel:            fields.SecurityLevel,
		PollRate:                 fields.PollRate,
		Active:                   fields.Active,
		DecryptInDatabase:        fields.DecryptInDatabase,
		EncryptedFeedInformation: fields.EncryptedFeedInformation,
	})
	return translateFeedErr(err)
}

// DeleteFeedFields is the deleteFeed transaction's contenu. Purge is the
// §12-supplemented hard-delete escape hatch absent from the base spec.
type DeleteFeedFields struct {
	FeedID string `json:"feed_id"`
	Purge  bool   `json:"purge,omitempty"`
}

func (a *Applier) applyDeleteFeed(ctx context.Context, env envelope.Envelope, caller certauth.Identity) error {
	var fields DeleteFeedFields
	if err := json.Unmarshal(env.Contenu, &fields); err != nil {
		return busproto.Wrap(busproto.CodeBadRequest, err, "invalid deleteFeed payload")
	}

	var err error
	if fields.Purge {
		err = a.Feeds.Purge(ctx, fields.FeedID, isAdmin(caller), caller.UserID)
	} else {
		err = a.Feeds.Delete(ctx, fields.FeedID, isAdmin(caller), caller.UserID)
	}
	return translateFeedErr(err)
}

// RestoreFeedFields is the restoreFeed transaction's contenu.
type RestoreFeedFields struct {
	FeedID string `json:"feed_id"`
}

func (a *Applier) applyRestoreFeed(ctx context.Context, env envelope.Envelope, caller certauth.Identity) error {
	var fields RestoreFeedFields
	if err := json.Unmarshal(env.Contenu, &fields); err != nil {
		return busproto.Wrap(busproto.CodeBadRequest, err, "invalid restoreFeed payload")
	}
	return translateFeedErr(a.Feeds.Restore(ctx, fields.FeedID, isAdmin(caller), caller.UserID))
}

func (a *Applier) applySaveDataItem(ctx context.Context, env envelope.Envelope, caller certauth.Identity) error {
	if !certauth.RequireRoleOnExchange(caller, certauth.RoleWebScraper, certauth.ExchangePublic) {
		return busproto.Errorf(busproto.CodeUnauthorized, "web_scraper role required on public exchange")
	}

	var item dataitem.DataItemV1
	if err := json.Unmarshal(env.Contenu, &item); err != nil {
		return busproto.Wrap(busproto.CodeBadRequest, err, "invalid saveDataItem payload")
	}
	if err := a.DataItems.InsertV1(ctx, item); err != nil {
		if errors.Is(err, dataitem.ErrDuplicate) {
			return busproto.Errorf(busproto.CodeConflict, "Data item already exists")
		}
		return err
	}
	return nil
}

func (a *Applier) applySaveDataItemV2(ctx context.Context, env envelope.Envelope, caller certauth.Identity) error {
	if !certauth.RequireRoleOnExchange(caller, certauth.RoleWebScraper, certauth.ExchangePublic) {
		return busproto.Errorf(busproto.CodeUnauthorized, "web_scraper role required on public exchange")
	}

	var item dataitem.DataFileV2
	if err := json.Unmarshal(env.Contenu, &item); err != nil {
		return busproto.Wrap(busproto.CodeBadRequest, err, "invalid saveDataItemV2 payload")
	}
	if err := a.DataItems.InsertV2(ctx, item); err != nil {
		if errors.Is(err, dataitem.ErrDuplicate) {
			return busproto.Errorf(busproto.CodeConflict, "Data item already exists")
		}
		return err
	}
	return nil
}

// CreateFeedViewFields is the createFeedView transaction's contenu.
type CreateFeedViewFields struct {
	FeedID        string  `json:"feed_id"`
	EncryptedData string  `json:"encrypted_data"`
	Name          *string `json:"name,omitempty"`
	MappingCode   string  `json:"mapping_code"`
	DataType      string  `json:"data_type,omitempty"`
}

func (a *Applier) applyCreateFeedView(ctx context.Context, env envelope.Envelope, caller certauth.Identity) error {
	var fields CreateFeedViewFields
	if err := json.Unmarshal(env.Contenu, &fields); err != nil {
		return busproto.Wrap(busproto.CodeBadRequest, err, "invalid createFeedView payload")
	}

	parent, err := a.Feeds.Get(ctx, fields.FeedID)
	if err != nil {
		if errors.Is(err, feed.ErrNotFound) {
			return busproto.Errorf(busproto.CodeNotFound, "feed not found")
		}
		return err
	}
	if parent.Deleted {
		return busproto.Errorf(busproto.CodeNotFound, "feed not found")
	}

	v := feedview.FeedView{
		FeedViewID:       env.ID,
		FeedID:           fields.FeedID,
		EncryptedData:    fields.EncryptedData,
		Name:             fields.Name,
		Active:           true,
		MappingCode:      fields.MappingCode,
		DataType:         feedview.ParseViewDataType(fields.DataType),
		CreationDate:     env.Estampille,
		ModificationDate: time.Now().UTC(),
		Ready:            false,
		Deleted:          false,
	}
	return a.Views.Create(ctx, v)
}

// UpdateFeedViewFields is the updateFeedView transaction's contenu.
type UpdateFeedViewFields struct {
	FeedViewID    string  `json:"feed_view_id"`
	FeedID        string  `json:"feed_id"`
	EncryptedData *string `json:"encrypted_data,omitempty"`
	Name          *string `json:"name,omitempty"`
	Active        *bool   `json:"active,omitempty"`
	MappingCode   *string `json:"mapping_code,omitempty"`
}

func (a *Applier) applyUpdateFeedView(ctx context.Context, env envelope.Envelope) error {
	var fields UpdateFeedViewFields
	if err := json.Unmarshal(env.Contenu, &fields); err != nil {
		return busproto.Wrap(busproto.CodeBadRequest, err, "invalid updateFeedView payload")
	}

	err := a.Views.Update(ctx, fields.FeedViewID, fields.FeedID, feedview.UpdateFields{
		EncryptedData: fields.EncryptedData,
		Name:          fields.Name,
		Active:        fields.Active,
		MappingCode:   fields.MappingCode,
	})
	if errors.Is(err, feedview.ErrNoMatch) {
		return busproto.Errorf(busproto.CodeNotFound, "feed view not found")
	}
	return err
}

func translateFeedErr(err error) error {
	if errors.Is(err, feed.ErrNotFound) {
		return busproto.Errorf(busproto.CodeNotFound, "Feed not found / access refused")
	}
	return err
}

// ProcessViewFields is the processView transaction's contenu: it carries only
// the view being (re-)processed. The earlier revision of the original
// command stamped the processing event with the feed's own identifier under
// the feed_view_id key (a copy-paste bug, §9 open question); the later,
// preferred revision — and this implementation — uses the view's own id.
type ProcessViewFields struct {
	FeedViewID string `json:"feed_view_id"`
}

func (a *Applier) applyProcessView(ctx context.Context, env envelope.Envelope) error {
	var fields ProcessViewFields
	if err := json.Unmarshal(env.Contenu, &fields); err != nil {
		return busproto.Wrap(busproto.CodeBadRequest, err, "invalid processView payload")
	}
	if err := a.Views.SetProcessing(ctx, fields.FeedViewID); err != nil {
		if errors.Is(err, feedview.ErrNotFound) {
			return busproto.Errorf(busproto.CodeNotFound, "feed view not found")
		}
		return err
	}
	return nil
}

// InsertViewDataFields is the insertViewData transaction's contenu: the
// Mapper's write-back of materialised rows for a feed view (§4.3).
type InsertViewDataFields struct {
	FeedID      string          `json:"feed_id"`
	FeedViewID  string          `json:"feed_view_id"`
	Truncate    bool            `json:"truncate,omitempty"`
	Deduplicate bool            `json:"deduplicate,omitempty"`
	Rows        json.RawMessage `json:"rows"`
}

func (a *Applier) applyInsertViewData(ctx context.Context, env envelope.Envelope) error {
	var fields InsertViewDataFields
	if err := json.Unmarshal(env.Contenu, &fields); err != nil {
		return busproto.Wrap(busproto.CodeBadRequest, err, "invalid insertViewData payload")
	}

	parentFeed, err := a.Feeds.Get(ctx, fields.FeedID)
	if err != nil {
		if errors.Is(err, feed.ErrNotFound) {
			return busproto.Errorf(busproto.CodeNotFound, "feed not found")
		}
		return err
	}
	if parentFeed.Deleted {
		return busproto.Errorf(busproto.CodeNotFound, "feed not found")
	}

	view, err := a.Views.Get(ctx, fields.FeedViewID)
	if err != nil {
		if errors.Is(err, feedview.ErrNotFound) {
			return busproto.Errorf(busproto.CodeNotFound, "feed view not found")
		}
		return err
	}
	if view.Deleted {
		return busproto.Errorf(busproto.CodeNotFound, "feed view not found")
	}

	rows, err := decodeViewRows(view.DataType, fields.Rows)
	if err != nil {
		return busproto.Wrap(busproto.CodeBadRequest, err, "invalid view data rows")
	}

	if fields.Truncate {
		if err := a.Views.Truncate(ctx, view.DataType, fields.FeedID, fields.FeedViewID); err != nil {
			return err
		}
	}

	return a.Views.InsertViewData(ctx, view.DataType, rows, fields.Deduplicate)
}

// decodeViewRows unmarshals the raw rows payload into the concrete row type
// matching dt, boxed as []any for Store.InsertViewData's shared signature.
func decodeViewRows(dt feedview.ViewDataType, raw json.RawMessage) ([]any, error) {
	if dt == feedview.ViewDataDated {
		var items []feedview.DatedItem
		if err := json.Unmarshal(raw, &items); err != nil {
			return nil, err
		}
		out := make([]any, len(items))
		for i, it := range items {
			out[i] = it
		}
		return out, nil
	}

	var items []feedview.GroupedDatedItem
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, err
	}
	out := make([]any, len(items))
	for i, it := range items {
		out[i] = it
	}
	return out, nil
}
