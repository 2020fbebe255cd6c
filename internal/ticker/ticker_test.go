package ticker

import (
	"context"
	"testing"
	"time"

	"github.com/dugrema/millegrilles-datacollector/internal/dispatch"
)

func newTestTicker() *Ticker {
	t := &Ticker{
		Gate:        dispatch.NewDispatcher().Gate,
		ClaimHour:   9,
		ClaimMinute: 39,
		now:         time.Now,
	}
	t.claim = func(ctx context.Context) {}
	return t
}

func TestTick_FiresClaimAtConfiguredMinute(t *testing.T) {
	tk := newTestTicker()
	fired := false
	tk.claim = func(ctx context.Context) { fired = true }

	scheduledFor := time.Date(2026, 7, 31, 9, 39, 0, 0, time.UTC)
	tk.now = func() time.Time { return scheduledFor }

	tk.Tick(context.Background(), scheduledFor)
	if !fired {
		t.Error("expected claim-all to fire at 09:39")
	}
}

func TestTick_SkipsOffMinute(t *testing.T) {
	tk := newTestTicker()
	fired := false
	tk.claim = func(ctx context.Context) { fired = true }

	scheduledFor := time.Date(2026, 7, 31, 9, 40, 0, 0, time.UTC)
	tk.now = func() time.Time { return scheduledFor }

	tk.Tick(context.Background(), scheduledFor)
	if fired {
		t.Error("expected no claim-all outside the configured minute")
	}
}

func TestTick_DropsStaleTick(t *testing.T) {
	tk := newTestTicker()
	fired := false
	tk.claim = func(ctx context.Context) { fired = true }

	scheduledFor := time.Date(2026, 7, 31, 9, 39, 0, 0, time.UTC)
	tk.now = func() time.Time { return scheduledFor.Add(91 * time.Second) }

	tk.Tick(context.Background(), scheduledFor)
	if fired {
		t.Error("expected a stale tick to be dropped")
	}
}

func TestTick_SkipsDuringRegeneration(t *testing.T) {
	tk := newTestTicker()
	tk.Gate.Set(true)
	fired := false
	tk.claim = func(ctx context.Context) { fired = true }

	scheduledFor := time.Date(2026, 7, 31, 9, 39, 0, 0, time.UTC)
	tk.now = func() time.Time { return scheduledFor }

	tk.Tick(context.Background(), scheduledFor)
	if fired {
		t.Error("expected regeneration mode to suppress the ticker")
	}
}
