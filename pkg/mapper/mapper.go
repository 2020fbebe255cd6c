// Package mapper is the bounded RPC client to the sibling DatasourceMapper
// domain: dispatching a view for (re-)processing (§4.6).
package mapper

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
const domainName = "DatasourceMapper"

const (
	action   = "processFeedView"
	exchange = platform.ExchangeProtectedRK
)

// Client is the Mapper cross-domain client.
type Client struct {
	bus     *platform.Bus
	timeout time.Duration
	breaker *gobreaker.CircuitBreaker
}

// New builds a Client bound to bus, every call bounded by timeout (the
// default is 5s per §4.6/§9 "timeouts are contracts").
func New(bus *platform.Bus, timeout time.Duration) *Client {
	settings := gobreaker.Settings{
		Name:        "mapper",
		MaxRequests: 1,
		Interval:    30 * time.Second,
		Timeout:     15 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
	}
	return &Client{bus: bus, timeout: timeout, breaker: gobreaker.NewCircuitBreaker(settings)}
}

// ProcessFeedView dispatches processFeedView for (feedID, feedViewID). A
// missing confirmation or ok≠true surfaces the remote code/message to the
// caller verbatim (§4.3 step 8, §4.6).
func (c *Client) ProcessFeedView(ctx context.Context, feedID, feedViewID string) *busproto.Error {
	body, err := json.Marshal(map[string]string{"feed_id": feedID, "feed_view_id": feedViewID})
	if err != nil {
		return busproto.Wrap(busproto.CodeInternal, err, "encoding processFeedView request")
	}

	routingKey := "commande." + domainName + "." + action
	start := time.Now()
	result, callErr := c.breaker.Execute(func() (any, error) {
		return c.bus.Call(ctx, exchange, routingKey, body, c.timeout)
	})

	outcome := "ok"
	defer func() {
		telemetry.CrossDomainCallDuration.WithLabelValues(domainName, action, outcome).Observe(time.Since(start).Seconds())
	}()

	if callErr != nil {
		if errors.Is(callErr, platform.ErrTimeout) {
			outcome = "timeout"
			return busproto.Errorf(busproto.CodeGeneric, "Timeout")
		}
		outcome = "transport_failure"
		return busproto.Wrap(busproto.CodeDownstreamTransport, callErr, "mapper transport failure")
	}

	if derr := busproto.DecodeReply(result.([]byte), nil); derr != nil {
		outcome = "reply_error"
		return derr
	}
	return nil
}
