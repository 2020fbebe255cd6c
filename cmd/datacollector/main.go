// Command datacollector boots the DataCollector domain service: it loads
// configuration, connects to MongoDB and the message bus, wires every
// store/client/handler together, and runs the ingress loop, the ticker and
// the ops HTTP server concurrently until signalled to stop.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/prometheus/client_golang/prometheus"
	amqp "github.com/rabbitmq/amqp091-go"
	"golang.org/x/sync/errgroup"

	"github.com/dugrema/millegrilles-datacollector/internal/certauth"
	"github.com/dugrema/millegrilles-datacollector/internal/commands"
	"github.com/dugrema/millegrilles-datacollector/internal/config"
	"github.com/dugrema/millegrilles-datacollector/internal/dispatch"
	"github.com/dugrema/millegrilles-datacollector/internal/ingress"
	"github.com/dugrema/millegrilles-datacollector/internal/opsserver"
	"github.com/dugrema/millegrilles-datacollector/internal/platform"
	"github.com/dugrema/millegrilles-datacollector/internal/requests"
	"github.com/dugrema/millegrilles-datacollector/internal/telemetry"
	"github.com/dugrema/millegrilles-datacollector/internal/ticker"
	"github.com/dugrema/millegrilles-datacollector/pkg/dataitem"
	"github.com/dugrema/millegrilles-datacollector/pkg/feed"
	"github.com/dugrema/millegrilles-datacollector/pkg/feedview"
	"github.com/dugrema/millegrilles-datacollector/pkg/keymaster"
	"github.com/dugrema/millegrilles-datacollector/pkg/mapper"
	"github.com/dugrema/millegrilles-datacollector/pkg/topology"
	"github.com/dugrema/millegrilles-datacollector/pkg/transaction"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("loading configuration", "error", err)
		os.Exit(1)
	}

	log := telemetry.NewLogger(cfg.LogFormat, cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("datacollector exited with error", "error", err)
		os.Exit(1)
	}
}

// connectWithRetry dials a collaborator with exponential backoff (at most 10
// tries), to ride out Mongo/the broker being briefly unreachable at boot. The
// bounded cross-domain calls do not retry; they are guarded by circuit
// breakers instead.
func connectWithRetry[T any](ctx context.Context, name string, log *slog.Logger, dial func() (T, error)) (T, error) {
	return backoff.Retry(ctx, func() (T, error) {
		v, err := dial()
		if err != nil {
			log.Warn("connection attempt failed, retrying", "target", name, "error", err)
			return v, err
		}
		return v, nil
	}, backoff.WithBackOff(backoff.NewExponentialBackOff()), backoff.WithMaxTries(10))
}

func run(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	db, err := connectWithRetry(ctx, "mongodb", log, func() (*platform.Mongo, error) {
		connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		return platform.Connect(connectCtx, cfg.MongoURI, cfg.MongoDatabase)
	})
	if err != nil {
		return err
	}
	defer db.Disconnect(context.Background())

	if err := db.EnsureIndexes(ctx); err != nil {
		return err
	}

	bus, err := connectWithRetry(ctx, "amqp broker", log, func() (*platform.Bus, error) {
		return platform.ConnectBus(cfg.AMQPURL)
	})
	if err != nil {
		return err
	}
	defer bus.Close()

	if err := bus.Declare(cfg.QueueVolatile, routingBindings()); err != nil {
		return err
	}

	feeds := feed.NewStore(db)
	items := dataitem.NewStore(db)
	views := feedview.NewStore(db)
	applier := transaction.NewApplier(feeds, items, views)

	km := keymaster.New(bus)
	topo := topology.New(bus, cfg.TopologyTimeout)
	mp := mapper.New(bus, cfg.MapperTimeout)

	cmdSvc := commands.NewService(db, bus, feeds, items, views, applier, km, topo, mp, log)
	reqSvc := requests.NewService(feeds, items, views, km)

	disp := dispatch.NewDispatcher()
	disp.Commands = cmdSvc.Handlers()
	disp.Requests = reqSvc.Handlers()
	disp.Gate.Set(cfg.Regenerating())

	registry := prometheus.NewRegistry()
	registry.MustRegister(telemetry.All()...)

	ops := opsserver.NewServer(log, db, registry)
	ingressLoop := &ingress.Loop{
		Bus:               bus,
		Queue:             cfg.QueueVolatile,
		Dispatcher:        disp,
		IdentityExtractor: identityFromDelivery,
		Log:               log,
	}
	tick := ticker.New(items, topo, disp.Gate, log, cfg.TickerInterval, cfg.ClaimAllFilesHour, cfg.ClaimAllFilesMinute)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return ingressLoop.Run(gctx) })
	g.Go(func() error { tick.Run(gctx); return nil })
	g.Go(func() error { return serveOps(gctx, ops, cfg.OpsListenAddr()) })

	return g.Wait()
}

// serveOps runs the ops HTTP server until ctx is cancelled, then shuts it
// down gracefully.
func serveOps(ctx context.Context, ops *opsserver.Server, addr string) error {
	srv := &http.Server{Addr: addr, Handler: ops}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// identityFromDelivery is the seam where certificate validation plugs in;
// extracting and verifying the caller's certificate is out of this
// service's scope (§1), so every claim defaults to the least-privileged
// identity until that seam is wired to the middleware's certificate store.
func identityFromDelivery(d amqp.Delivery) (certauth.Identity, error) {
	return certauth.Identity{}, nil
}

// routingBindings is the static (kind, action, exchange) table from §6.
func routingBindings() []platform.Binding {
	var b []platform.Binding
	add := func(kind, exchange string, actions ...string) {
		for _, a := range actions {
			b = append(b, platform.Binding{Kind: kind, Action: a, Exchange: exchange})
		}
	}

	add("requete", platform.ExchangePublicRK, "getFeedsForScraper", "checkExistingDataIds", "getFuuidsVolatile")
	add("requete", platform.ExchangePrivateRK, "getFeeds", "getFeedViews", "getDataItemsMostRecent", "getDataItemsDateRange")
	add("requete", platform.ExchangeProtectedRK, "getFeedData", "getFeedViewData")
	add("commande", platform.ExchangePublicRK, "saveDataItem", "saveDataItemV2", "addFuuidsVolatile")
	add("commande", platform.ExchangePrivateRK, "createFeed", "updateFeed", "deleteFeed", "createFeedView", "updateFeedView", "processView")
	add("commande", platform.ExchangeProtectedRK, "insertViewData")

	return b
}
