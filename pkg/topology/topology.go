// Package topology is the bounded RPC client to the sibling Topology domain:
// the file-reclaim registry this service tells about every fuuid it still
// references (§4.6).
package topology

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/sony/gobreaker"

	"github.com/dugrema/millegrilles-datacollector/internal/busproto"
	"github.com/dugrema/millegrilles-datacollector/internal/platform"
	"github.com/dugrema/millegrilles-datacollector/internal/telemetry"
)

// domainName is the sibling domain this client addresses on the bus.
const domainName = "Topologie"

const (
	actionClaimVisit = "claimAndFilehostVisits"
	actionClaimFiles = "claimFiles"
	exchange         = platform.ExchangeProtectedRK

	// BatchSize is the fuuid batch size for the ticker's claim-all sweep
	// (§4.6 claim-all: "batches of 100").
	BatchSize = 100
)

// Client is the Topology cross-domain client.
type Client struct {
	bus     *platform.Bus
	timeout time.Duration
	breaker *gobreaker.CircuitBreaker
}

// New builds a Client bound to bus, with every call bounded by timeout.
func New(bus *platform.Bus, timeout time.Duration) *Client {
	settings := gobreaker.Settings{
		Name:        "topology",
		MaxRequests: 1,
		Interval:    30 * time.Second,
		Timeout:     15 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
	}
	return &Client{bus: bus, timeout: timeout, breaker: gobreaker.NewCircuitBreaker(settings)}
}

// ClaimAndVisit implements claimAndFilehostVisits, called inline after every
// data-item save with the set of fuuids the save introduced (§4.3 step 8,
// §4.6). This is a best-effort post-commit side effect: the caller logs but
// does not surface failures to its own reply (§5, §7).
func (c *Client) ClaimAndVisit(ctx context.Context, fuuids []string) error {
	if len(fuuids) == 0 {
		return nil
	}
	body, err := json.Marshal(map[string]any{"fuuids": fuuids})
	if err != nil {
		return err
	}
	if _, callErr := c.call(ctx, actionClaimVisit, body); callErr != nil {
		return callErr
	}
	return nil
}

// ClaimBatch is one batch of the claimFiles sweep: batch_no counts from 0,
// done is true only on the final batch (§4.6 claim-all).
type ClaimBatch struct {
	BatchNo int      `json:"batch_no"`
	Fuuids  []string `json:"fuuids"`
	Done    bool     `json:"done"`
}

// ClaimFiles sends one batch of the claim-all sweep.
func (c *Client) ClaimFiles(ctx context.Context, batch ClaimBatch) error {
	body, err := json.Marshal(batch)
	if err != nil {
		return err
	}
	if _, callErr := c.call(ctx, actionClaimFiles, body); callErr != nil {
		return callErr
	}
	return nil
}

// ClaimAllBatches splits fuuids into BatchSize-sized ClaimBatch values,
// numbered from 0 with done=true on the last one (§4.6, §8 scenario 5).
func ClaimAllBatches(fuuids []string) []ClaimBatch {
	if len(fuuids) == 0 {
		return nil
	}
	var batches []ClaimBatch
	for i := 0; i < len(fuuids); i += BatchSize {
		end := i + BatchSize
		if end > len(fuuids) {
			end = len(fuuids)
		}
		batches = append(batches, ClaimBatch{
			BatchNo: len(batches),
			Fuuids:  fuuids[i:end],
		})
	}
	batches[len(batches)-1].Done = true
	return batches
}

func (c *Client) call(ctx context.Context, action string, body []byte) ([]byte, *busproto.Error) {
	routingKey := "commande." + domainName + "." + action

	start := time.Now()
	result, err := c.breaker.Execute(func() (any, error) {
		return c.bus.Call(ctx, exchange, routingKey, body, c.timeout)
	})

	outcome := "ok"
	defer func() {
		telemetry.CrossDomainCallDuration.WithLabelValues(domainName, action, outcome).Observe(time.Since(start).Seconds())
	}()

	if err != nil {
		if errors.Is(err, platform.ErrTimeout) {
			outcome = "timeout"
			return nil, busproto.Errorf(busproto.CodeGeneric, "Timeout")
		}
		outcome = "transport_failure"
		return nil, busproto.Wrap(busproto.CodeDownstreamTransport, err, "topology transport failure")
	}

	reply := result.([]byte)
	if derr := busproto.DecodeReply(reply, nil); derr != nil {
		outcome = "reply_error"
		return reply, derr
	}
	return reply, nil
}
