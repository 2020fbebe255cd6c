// Package commands implements the command handlers: the persist-then-apply
// protocol (§4.3) that turns an inbound write into a durable transaction and
// its materialised-collection effect, plus the post-commit side effects that
// follow a successful commit.
package commands

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/v2/mongo"

	"github.com/dugrema/millegrilles-datacollector/internal/busproto"
	"github.com/dugrema/millegrilles-datacollector/internal/certauth"
	"github.com/dugrema/millegrilles-datacollector/internal/dispatch"
	"github.com/dugrema/millegrilles-datacollector/internal/envelope"
	"github.com/dugrema/millegrilles-datacollector/internal/platform"
	"github.com/dugrema/millegrilles-datacollector/pkg/dataitem"
	"github.com/dugrema/millegrilles-datacollector/pkg/feed"
	"github.com/dugrema/millegrilles-datacollector/pkg/feedview"
	"github.com/dugrema/millegrilles-datacollector/pkg/keymaster"
	"github.com/dugrema/millegrilles-datacollector/pkg/mapper"
	"github.com/dugrema/millegrilles-datacollector/pkg/topology"
	"github.com/dugrema/millegrilles-datacollector/pkg/transaction"
)

// eventFeedDataUpdated is the fan-out event published after a V2 data-item
// save (§4.3 step 8).
const eventFeedDataUpdated = "feedDataUpdated"

// Service wires the stores, the transaction applier and the cross-domain
// clients into the command handlers the dispatcher routes to.
type Service struct {
	Mongo     *platform.Mongo
	Bus       *platform.Bus
	Feeds     *feed.Store
	Items     *dataitem.Store
	Views     *feedview.Store
	Applier   *transaction.Applier
	KeyMaster *keymaster.Client
	Topology  *topology.Client
	Mapper    *mapper.Client
	Log       *slog.Logger

	transactions *mongo.Collection
}

// NewService builds a Service from its collaborators.
func NewService(
	db *platform.Mongo,
	bus *platform.Bus,
	feeds *feed.Store,
	items *dataitem.Store,
	views *feedview.Store,
	applier *transaction.Applier,
	km *keymaster.Client,
	topo *topology.Client,
	mp *mapper.Client,
	log *slog.Logger,
) *Service {
	return &Service{
		Mongo:        db,
		Bus:          bus,
		Feeds:        feeds,
		Items:        items,
		Views:        views,
		Applier:      applier,
		KeyMaster:    km,
		Topology:     topo,
		Mapper:       mp,
		Log:          log,
		transactions: db.Collection(platform.CollectionTransactions),
	}
}

// Handlers returns the static action-to-handler table for every command §4.3
// enumerates.
func (s *Service) Handlers() dispatch.Table {
	return dispatch.Table{
		"createFeed":        s.createFeed,
		"updateFeed":        s.updateFeed,
		"deleteFeed":        s.deleteFeed,
		"restoreFeed":       s.restoreFeed,
		"saveDataItem":      s.saveDataItem,
		"saveDataItemV2":    s.saveDataItemV2,
		"createFeedView":    s.createFeedView,
		"updateFeedView":    s.updateFeedView,
		"processView":       s.processView,
		"addFuuidsVolatile": s.addFuuidsVolatile,
		"insertViewData":    s.insertViewData,
	}
}

func unauthorized() *busproto.Error {
	return busproto.Errorf(busproto.CodeUnauthorized, "unauthorized")
}

// ensureID assigns env's content-addressed id if the caller didn't already
// carry one, so every command can be persisted and replayed under a stable
// identifier (§4.3).
func ensureID(env *envelope.Envelope) error {
	if env.ID != "" {
		return nil
	}
	id, err := envelope.ComputeID(env.Action, env.Contenu)
	if err != nil {
		return err
	}
	env.ID = id
	return nil
}

// persistEnvelope writes env to the durable transaction log, inside the same
// session the apply step runs in (§4.3 step 6).
func (s *Service) persistEnvelope(ctx context.Context, env envelope.Envelope) error {
	_, err := s.transactions.InsertOne(ctx, env)
	return err
}

// applyInSession runs the shared persist-then-apply sequence (§4.3 steps
// 5-7): open a session, persist the envelope, apply it, commit or abort as
// one unit.
func (s *Service) applyInSession(ctx context.Context, env envelope.Envelope, caller certauth.Identity) *busproto.Error {
	err := s.Mongo.WithSession(ctx, func(sessCtx context.Context) error {
		if err := s.persistEnvelope(sessCtx, env); err != nil {
			return err
		}
		return s.Applier.Apply(sessCtx, env, caller, transaction.SourceLive)
	})
	return asBusError(err)
}

// asBusError surfaces a *busproto.Error unchanged and wraps anything else as
// an internal failure (§7: fatal errors abort the session and surface 500).
func asBusError(err error) *busproto.Error {
	if err == nil {
		return nil
	}
	var be *busproto.Error
	if errors.As(err, &be) {
		return be
	}
	return busproto.Wrap(busproto.CodeInternal, err, "internal error")
}

// requireFeedOwnership looks up feedID and checks the caller owns it (or is
// admin over a system feed) before a write proceeds, translating both a
// missing feed and a failed ownership check to the same non-disclosing 404
// (§4.3 step 2), mirroring requests.go's lookupVisibleFeed.
func (s *Service) requireFeedOwnership(ctx context.Context, id certauth.Identity, feedID string) (feed.Feed, *busproto.Error) {
	f, err := s.Feeds.Get(ctx, feedID)
	if err != nil {
		return feed.Feed{}, busproto.Errorf(busproto.CodeNotFound, "feed not found")
	}
	if !certauth.FeedOwnership(id, f.UserID, certauth.Exchange(f.SecurityLevel), false) {
		return feed.Feed{}, busproto.Errorf(busproto.CodeNotFound, "feed not found")
	}
	return f, nil
}

// escrowKeyIfPresent forwards an attached key message to KeyMaster (§4.3
// step 4). mandatory is set for createFeed/createFeedView, where a missing
// key aborts the command.
func (s *Service) escrowKeyIfPresent(ctx context.Context, env envelope.Envelope, mandatory bool) *busproto.Error {
	keyMessage, ok := env.Attachment("key")
	if !ok {
		if mandatory {
			return busproto.Errorf(busproto.CodeBadRequest, "missing required key attachment")
		}
		return nil
	}
	return s.KeyMaster.EscrowKey(ctx, json.RawMessage(keyMessage))
}

// CreateFeedCommand is the createFeed command payload.
type CreateFeedCommand struct {
	FeedType                 string             `json:"feed_type" validate:"required"`
	Domain                   string             `json:"domain" validate:"required"`
	SecurityLevel            string             `json:"security_level" validate:"required"`
	PollRate                 *int               `json:"poll_rate,omitempty"`
	Active                   *bool              `json:"active,omitempty"`
	DecryptInDatabase        *bool              `json:"decrypt_in_database,omitempty"`
	EncryptedFeedInformation feed.EncryptedInfo `json:"encrypted_feed_information" validate:"required"`
}

func (s *Service) createFeed(ctx context.Context, id certauth.Identity, env envelope.Envelope) (any, *busproto.Error) {
	if !certauth.Admitted(id) {
		return nil, unauthorized()
	}

	var cmd CreateFeedCommand
	if err := envelope.Parse(env.Contenu, &cmd); err != nil {
		return nil, err
	}

	if err := s.escrowKeyIfPresent(ctx, env, true); err != nil {
		return nil, err
	}

	if err := ensureID(&env); err != nil {
		return nil, busproto.Wrap(busproto.CodeInternal, err, "computing transaction id")
	}

	if err := s.applyInSession(ctx, env, id); err != nil {
		return nil, err
	}
	return busproto.OkAck(), nil
}

// UpdateFeedCommand is the updateFeed command payload.
type UpdateFeedCommand struct {
	FeedID                   string              `json:"feed_id" validate:"required"`
	FeedType                 *string             `json:"feed_type,omitempty"`
	Domain                   *string             `json:"domain,omitempty"`
	SecurityLevel            *string             `json:"security_level,omitempty"`
	PollRate                 *int                `json:"poll_rate,omitempty"`
	Active                   *bool               `json:"active,omitempty"`
	DecryptInDatabase        *bool               `json:"decrypt_in_database,omitempty"`
	EncryptedFeedInformation *feed.EncryptedInfo `json:"encrypted_feed_information,omitempty"`
}

func (s *Service) updateFeed(ctx context.Context, id certauth.Identity, env envelope.Envelope) (any, *busproto.Error) {
	if !certauth.Admitted(id) {
		return nil, unauthorized()
	}

	var cmd UpdateFeedCommand
	if err := envelope.Parse(env.Contenu, &cmd); err != nil {
		return nil, err
	}

	if err := s.escrowKeyIfPresent(ctx, env, false); err != nil {
		return nil, err
	}
	if err := ensureID(&env); err != nil {
		return nil, busproto.Wrap(busproto.CodeInternal, err, "computing transaction id")
	}
	if err := s.applyInSession(ctx, env, id); err != nil {
		return nil, err
	}
	return busproto.OkAck(), nil
}

// DeleteFeedCommand is the deleteFeed command payload. Purge is the
// §12-supplemented hard-delete escape hatch.
type DeleteFeedCommand struct {
	FeedID string `json:"feed_id" validate:"required"`
	Purge  bool   `json:"purge,omitempty"`
}

func (s *Service) deleteFeed(ctx context.Context, id certauth.Identity, env envelope.Envelope) (any, *busproto.Error) {
	if !certauth.Admitted(id) {
		return nil, unauthorized()
	}

	var cmd DeleteFeedCommand
	if err := envelope.Parse(env.Contenu, &cmd); err != nil {
		return nil, err
	}

	if err := ensureID(&env); err != nil {
		return nil, busproto.Wrap(busproto.CodeInternal, err, "computing transaction id")
	}
	if err := s.applyInSession(ctx, env, id); err != nil {
		return nil, err
	}
	return busproto.OkAck(), nil
}

// RestoreFeedCommand is the restoreFeed command payload.
type RestoreFeedCommand struct {
	FeedID string `json:"feed_id" validate:"required"`
}

func (s *Service) restoreFeed(ctx context.Context, id certauth.Identity, env envelope.Envelope) (any, *busproto.Error) {
	if !certauth.Admitted(id) {
		return nil, unauthorized()
	}

	var cmd RestoreFeedCommand
	if err := envelope.Parse(env.Contenu, &cmd); err != nil {
		return nil, err
	}

	if err := ensureID(&env); err != nil {
		return nil, busproto.Wrap(busproto.CodeInternal, err, "computing transaction id")
	}
	if err := s.applyInSession(ctx, env, id); err != nil {
		return nil, err
	}
	return busproto.OkAck(), nil
}

// DataItemV1Command is the saveDataItem command payload.
type DataItemV1Command struct {
	FeedID        string             `json:"feed_id" validate:"required"`
	DataID        string             `json:"data_id" validate:"required"`
	PubDate       time.Time          `json:"pub_date" validate:"required"`
	EncryptedData string             `json:"encrypted_data" validate:"required"`
	Files         []dataitem.FileRef `json:"files,omitempty"`
}

func (s *Service) saveDataItem(ctx context.Context, id certauth.Identity, env envelope.Envelope) (any, *busproto.Error) {
	if !certauth.Admitted(id) {
		return nil, unauthorized()
	}
	if !certauth.RequireRoleOnExchange(id, certauth.RoleWebScraper, certauth.ExchangePublic) {
		return nil, unauthorized()
	}

	var cmd DataItemV1Command
	if err := envelope.Parse(env.Contenu, &cmd); err != nil {
		return nil, err
	}

	exists, err := s.Items.Exists(ctx, cmd.FeedID, cmd.DataID)
	if err != nil {
		return nil, busproto.Wrap(busproto.CodeInternal, err, "checking for existing data item")
	}
	if exists {
		return nil, busproto.Errorf(busproto.CodeConflict, "Data item already exists")
	}

	if err := s.escrowKeyIfPresent(ctx, env, false); err != nil {
		return nil, err
	}
	if err := ensureID(&env); err != nil {
		return nil, busproto.Wrap(busproto.CodeInternal, err, "computing transaction id")
	}
	if err := s.applyInSession(ctx, env, id); err != nil {
		return nil, err
	}

	fuuids := make([]string, 0, len(cmd.Files))
	for _, f := range cmd.Files {
		fuuids = append(fuuids, f.Fuuid)
	}
	s.claimAndVisitBestEffort(ctx, fuuids, cmd.FeedID, cmd.DataID)

	return busproto.OkAck(), nil
}

// DataFileV2Command is the saveDataItemV2 command payload.
type DataFileV2Command struct {
	FeedID         string     `json:"feed_id" validate:"required"`
	DataID         string     `json:"data_id" validate:"required"`
	PubDateStart   *time.Time `json:"pub_date_start,omitempty"`
	PubDateEnd     *time.Time `json:"pub_date_end,omitempty"`
	DataFuuid      string     `json:"data_fuuid" validate:"required"`
	KeyIDs         []string   `json:"key_ids" validate:"required,min=1"`
	AttachedFuuids []string   `json:"attached_fuuids,omitempty"`
}

func (s *Service) saveDataItemV2(ctx context.Context, id certauth.Identity, env envelope.Envelope) (any, *busproto.Error) {
	if !certauth.Admitted(id) {
		return nil, unauthorized()
	}
	if !certauth.RequireRoleOnExchange(id, certauth.RoleWebScraper, certauth.ExchangePublic) {
		return nil, unauthorized()
	}

	var cmd DataFileV2Command
	if err := envelope.Parse(env.Contenu, &cmd); err != nil {
		return nil, err
	}

	exists, err := s.Items.Exists(ctx, cmd.FeedID, cmd.DataID)
	if err != nil {
		return nil, busproto.Wrap(busproto.CodeInternal, err, "checking for existing data item")
	}
	if exists {
		return nil, busproto.Errorf(busproto.CodeConflict, "Data item already exists")
	}

	if err := s.escrowKeyIfPresent(ctx, env, false); err != nil {
		return nil, err
	}
	if err := ensureID(&env); err != nil {
		return nil, busproto.Wrap(busproto.CodeInternal, err, "computing transaction id")
	}
	if err := s.applyInSession(ctx, env, id); err != nil {
		return nil, err
	}

	file := dataitem.DataFileV2{
		DataFuuid:      cmd.DataFuuid,
		AttachedFuuids: cmd.AttachedFuuids,
	}
	s.claimAndVisitBestEffort(ctx, file.AllFuuids(), cmd.FeedID, cmd.DataID)

	if err := s.Bus.Publish(ctx, platform.ExchangeProtectedRK, "evenement."+platform.DomainName+"."+eventFeedDataUpdated,
		mustJSON(map[string]string{"feed_id": cmd.FeedID})); err != nil && s.Log != nil {
		s.Log.Warn("publishing feedDataUpdated failed", "error", err, "feed_id", cmd.FeedID)
	}

	return busproto.OkAck(), nil
}

// claimAndVisitBestEffort submits fuuids to Topology after commit. Failure is
// logged, not surfaced: it is reconciled by the ticker's claim-all sweep
// (§4.3 step 8, §5, §7).
func (s *Service) claimAndVisitBestEffort(ctx context.Context, fuuids []string, feedID, dataID string) {
	if len(fuuids) == 0 {
		return
	}
	if err := s.Topology.ClaimAndVisit(ctx, fuuids); err != nil && s.Log != nil {
		s.Log.Warn("topology claim-and-visit failed", "error", err, "feed_id", feedID, "data_id", dataID)
	}
}

// CreateFeedViewCommand is the createFeedView command payload.
type CreateFeedViewCommand struct {
	FeedID        string  `json:"feed_id" validate:"required"`
	EncryptedData string  `json:"encrypted_data" validate:"required"`
	Name          *string `json:"name,omitempty"`
	MappingCode   string  `json:"mapping_code" validate:"required"`
	DataType      string  `json:"data_type,omitempty"`
}

func (s *Service) createFeedView(ctx context.Context, id certauth.Identity, env envelope.Envelope) (any, *busproto.Error) {
	if !certauth.Admitted(id) {
		return nil, unauthorized()
	}

	var cmd CreateFeedViewCommand
	if err := envelope.Parse(env.Contenu, &cmd); err != nil {
		return nil, err
	}

	if _, ferr := s.requireFeedOwnership(ctx, id, cmd.FeedID); ferr != nil {
		return nil, ferr
	}

	if err := s.escrowKeyIfPresent(ctx, env, true); err != nil {
		return nil, err
	}
	if err := ensureID(&env); err != nil {
		return nil, busproto.Wrap(busproto.CodeInternal, err, "computing transaction id")
	}
	if err := s.applyInSession(ctx, env, id); err != nil {
		return nil, err
	}
	return busproto.OkAck(), nil
}

// UpdateFeedViewCommand is the updateFeedView command payload.
type UpdateFeedViewCommand struct {
	FeedViewID    string  `json:"feed_view_id" validate:"required"`
	FeedID        string  `json:"feed_id" validate:"required"`
	EncryptedData *string `json:"encrypted_data,omitempty"`
	Name          *string `json:"name,omitempty"`
	Active        *bool   `json:"active,omitempty"`
	MappingCode   *string `json:"mapping_code,omitempty"`
}

func (s *Service) updateFeedView(ctx context.Context, id certauth.Identity, env envelope.Envelope) (any, *busproto.Error) {
	if !certauth.Admitted(id) {
		return nil, unauthorized()
	}

	var cmd UpdateFeedViewCommand
	if err := envelope.Parse(env.Contenu, &cmd); err != nil {
		return nil, err
	}

	if _, ferr := s.requireFeedOwnership(ctx, id, cmd.FeedID); ferr != nil {
		return nil, ferr
	}

	if err := ensureID(&env); err != nil {
		return nil, busproto.Wrap(busproto.CodeInternal, err, "computing transaction id")
	}
	if err := s.applyInSession(ctx, env, id); err != nil {
		return nil, err
	}
	return busproto.OkAck(), nil
}

// ProcessViewCommand is the processView command payload.
type ProcessViewCommand struct {
	FeedViewID string `json:"feed_view_id" validate:"required"`
}

func (s *Service) processView(ctx context.Context, id certauth.Identity, env envelope.Envelope) (any, *busproto.Error) {
	if !certauth.Admitted(id) {
		return nil, unauthorized()
	}

	var cmd ProcessViewCommand
	if err := envelope.Parse(env.Contenu, &cmd); err != nil {
		return nil, err
	}

	view, err := s.Views.Get(ctx, cmd.FeedViewID)
	if err != nil {
		if errors.Is(err, feedview.ErrNotFound) {
			return nil, busproto.Errorf(busproto.CodeNotFound, "feed view not found")
		}
		return nil, busproto.Wrap(busproto.CodeInternal, err, "looking up feed view")
	}

	if _, ferr := s.requireFeedOwnership(ctx, id, view.FeedID); ferr != nil {
		return nil, ferr
	}

	if err := ensureID(&env); err != nil {
		return nil, busproto.Wrap(busproto.CodeInternal, err, "computing transaction id")
	}
	if err := s.applyInSession(ctx, env, id); err != nil {
		return nil, err
	}

	// §9 open question: the preferred (later) revision dispatches the Mapper
	// with the view's own feed_id, not a copy of the wrong field.
	if mapErr := s.Mapper.ProcessFeedView(ctx, view.FeedID, cmd.FeedViewID); mapErr != nil {
		return nil, mapErr
	}
	return busproto.OkAck(), nil
}

// AddFuuidsVolatileCommand is the addFuuidsVolatile command payload — the
// one write that never generates a transaction (§4.3).
type AddFuuidsVolatileCommand struct {
	Correlation string     `json:"correlation" validate:"required"`
	Fuuid       string     `json:"fuuid" validate:"required"`
	Format      string     `json:"format" validate:"required"`
	CleID       string     `json:"cle_id" validate:"required"`
	Nonce       *string    `json:"nonce,omitempty"`
	Compression *string    `json:"compression,omitempty"`
	Expiration  *time.Time `json:"expiration,omitempty"`
}

func (s *Service) addFuuidsVolatile(ctx context.Context, id certauth.Identity, env envelope.Envelope) (any, *busproto.Error) {
	if !certauth.Admitted(id) {
		return nil, unauthorized()
	}

	var cmd AddFuuidsVolatileCommand
	if err := envelope.Parse(env.Contenu, &cmd); err != nil {
		return nil, err
	}

	vf := dataitem.VolatileFile{
		Correlation: cmd.Correlation,
		Fuuid:       cmd.Fuuid,
		Format:      cmd.Format,
		CleID:       cmd.CleID,
		Nonce:       cmd.Nonce,
		Compression: cmd.Compression,
	}
	if cmd.Expiration != nil {
		vf.Expiration = *cmd.Expiration
	}

	if err := s.Items.AddFuuidsVolatile(ctx, vf); err != nil {
		return nil, busproto.Wrap(busproto.CodeInternal, err, "upserting volatile file")
	}
	return busproto.OkAck(), nil
}

// InsertViewDataCommand is the insertViewData command payload: the Mapper's
// write-back of a batch of materialised rows.
type InsertViewDataCommand struct {
	FeedID      string          `json:"feed_id" validate:"required"`
	FeedViewID  string          `json:"feed_view_id" validate:"required"`
	Truncate    bool            `json:"truncate,omitempty"`
	Deduplicate bool            `json:"deduplicate,omitempty"`
	Rows        json.RawMessage `json:"rows" validate:"required"`
}

func (s *Service) insertViewData(ctx context.Context, id certauth.Identity, env envelope.Envelope) (any, *busproto.Error) {
	if !certauth.RequireRoleOnExchange(id, certauth.RoleDatasourceMapper, certauth.ExchangeProtected) {
		return nil, unauthorized()
	}

	var cmd InsertViewDataCommand
	if err := envelope.Parse(env.Contenu, &cmd); err != nil {
		return nil, err
	}

	if err := ensureID(&env); err != nil {
		return nil, busproto.Wrap(busproto.CodeInternal, err, "computing transaction id")
	}
	if err := s.applyInSession(ctx, env, id); err != nil {
		return nil, err
	}
	return busproto.OkAck(), nil
}

func mustJSON(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		return []byte("{}")
	}
	return b
}
