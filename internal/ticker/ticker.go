// Package ticker runs the scheduled maintenance loop (§4.7): stale ticks are
// dropped, a tick landing on the configured wall-clock minute triggers the
// claim-all-files sweep, every other tick is a no-op.
package ticker

import (
	"context"
	"log/slog"
	"time"

	"github.com/dugrema/millegrilles-datacollector/internal/dispatch"
	"github.com/dugrema/millegrilles-datacollector/internal/telemetry"
	"github.com/dugrema/millegrilles-datacollector/pkg/dataitem"
	"github.com/dugrema/millegrilles-datacollector/pkg/topology"
)

// StaleAfter is the maximum age a tick may have before it is dropped
// (§4.7: "ignored if older than 90 s").
const StaleAfter = 90 * time.Second

// Ticker owns the periodic maintenance loop.
type Ticker struct {
	Items    *dataitem.Store
	Topology *topology.Client
	Gate     *dispatch.RegenerationGate
	Log      *slog.Logger

	Interval    time.Duration
	ClaimHour   int
	ClaimMinute int

	// now and claim are overridable in tests; they default to time.Now and
	// t.claimAllFiles respectively.
	now   func() time.Time
	claim func(ctx context.Context)
}

// New builds a Ticker firing claim_all_files at claimHour:claimMinute and
// otherwise sleeping for interval between idle ticks.
func New(items *dataitem.Store, topo *topology.Client, gate *dispatch.RegenerationGate, log *slog.Logger, interval time.Duration, claimHour, claimMinute int) *Ticker {
	t := &Ticker{
		Items:       items,
		Topology:    topo,
		Gate:        gate,
		Log:         log,
		Interval:    interval,
		ClaimHour:   claimHour,
		ClaimMinute: claimMinute,
		now:         time.Now,
	}
	t.claim = t.claimAllFiles
	return t
}

// Run blocks, firing Tick every Interval until ctx is cancelled.
func (t *Ticker) Run(ctx context.Context) {
	timer := time.NewTicker(t.Interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case fired := <-timer.C:
			t.Tick(ctx, fired)
		}
	}
}

// Tick processes one scheduled tick that fired at scheduledFor. Regeneration
// mode and a stale tick both short-circuit to a no-op; otherwise a tick
// landing on the configured claim-all-files minute triggers the sweep.
func (t *Ticker) Tick(ctx context.Context, scheduledFor time.Time) {
	if t.Gate != nil && t.Gate.Active() {
		return
	}
	if t.now().Sub(scheduledFor) > StaleAfter {
		if t.Log != nil {
			t.Log.Warn("dropping stale tick", "scheduled_for", scheduledFor)
		}
		return
	}

	if scheduledFor.Hour() == t.ClaimHour && scheduledFor.Minute() == t.ClaimMinute {
		t.claim(ctx)
	}
}

// claimAllFiles runs the full sweep: every fuuid referenced from the v1
// collection, submitted to Topology in numbered batches of 100 (§4.6).
func (t *Ticker) claimAllFiles(ctx context.Context) {
	fuuids, err := t.Items.AllFuuids(ctx)
	if err != nil {
		if t.Log != nil {
			t.Log.Error("listing fuuids for claim-all sweep failed", "error", err)
		}
		return
	}

	for _, batch := range topology.ClaimAllBatches(fuuids) {
		telemetry.TickerClaimBatchesTotal.Inc()
		if err := t.Topology.ClaimFiles(ctx, batch); err != nil {
			if t.Log != nil {
				t.Log.Warn("claim-all batch failed", "error", err, "batch_no", batch.BatchNo, "done", batch.Done)
			}
			continue
		}
	}
}
