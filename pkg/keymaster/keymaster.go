// Package keymaster is the bounded RPC client to the sibling KeyMaster
// domain: key escrow on create, and decryption-bundle fetch on every read
// that returns key material (§4.6).
package keymaster

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

// domainName is the sibling domain this client addresses on the bus — never
// this service's own DomainName.
const domainName = "MaitreDesCles"

const (
	actionEscrow    = "ajouterCleDomaines"
	actionFetchKeys = "requeteDechiffrage"
	exchangeEscrow  = platform.ExchangePublicRK
	exchangeFetch   = platform.ExchangeProtectedRK
	// Timeout is the bounded RPC deadline for every KeyMaster call (§4.6, §9
	// "timeouts are contracts").
	Timeout = 3 * time.Second
)

// Client is the KeyMaster cross-domain client. One Client is shared by every
// command/request handler that needs key escrow or key fetch.
type Client struct {
	bus     *platform.Bus
	breaker *gobreaker.CircuitBreaker
}

// New builds a Client over bus, guarded by a circuit breaker that opens after
// repeated transport failures so a wedged KeyMaster does not pile up bounded
// RPCs behind it.
func New(bus *platform.Bus) *Client {
	settings := gobreaker.Settings{
		Name:        "keymaster",
		MaxRequests: 1,
		Interval:    30 * time.Second,
		Timeout:     15 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
	}
	return &Client{bus: bus, breaker: gobreaker.NewCircuitBreaker(settings)}
}

// EscrowKey forwards an attached key message verbatim to ajouterCleDomaines.
// Per §4.3 step 4: a timeout surfaces as code 1, a non-ok reply is relayed
// unchanged, any transport failure is wrapped as code 4.
func (c *Client) EscrowKey(ctx context.Context, keyMessage json.RawMessage) *busproto.Error {
	reply, err := c.call(ctx, "commande", exchangeEscrow, actionEscrow, keyMessage, Timeout)
	if err != nil {
		return err
	}
	return busproto.DecodeReply(reply, nil)
}

// FetchKeysRequest is the requeteDechiffrage v2 payload: either a
// re-encrypted bundle for a target certificate chain, or (CertChain empty) a
// directly decrypted set for this service's own identity.
type FetchKeysRequest struct {
	CleIDs    []string `json:"cle_ids"`
	CertChain []string `json:"certificat,omitempty"`
}

// KeyBundle is the decryption key bundle returned by KeyMaster, attached
// unchanged to replies that carry key material (§4.5).
type KeyBundle struct {
	Cles json.RawMessage `json:"cles"`
}

// FetchKeys requests a key bundle for the deduplicated cle_ids, either
// re-encrypted for certChain or (certChain nil) decrypted for this service.
func (c *Client) FetchKeys(ctx context.Context, cleIDs []string, certChain []string) (KeyBundle, *busproto.Error) {
	req := FetchKeysRequest{CleIDs: dedupe(cleIDs), CertChain: certChain}
	body, err := json.Marshal(req)
	if err != nil {
		return KeyBundle{}, busproto.Wrap(busproto.CodeInternal, err, "encoding key fetch request")
	}

	reply, callErr := c.call(ctx, "requete", exchangeFetch, actionFetchKeys, body, Timeout)
	if callErr != nil {
		return KeyBundle{}, callErr
	}

	var bundle KeyBundle
	if decErr := busproto.DecodeReply(reply, &bundle); decErr != nil {
		return KeyBundle{}, decErr
	}
	return bundle, nil
}

// call wraps Bus.Call with the circuit breaker and translates a timeout or
// transport failure into the reserved error codes from §6/§7.
func (c *Client) call(ctx context.Context, kind, exchange, action string, body []byte, timeout time.Duration) ([]byte, *busproto.Error) {
	routingKey := kind + "." + domainName + "." + action

	start := time.Now()
	result, err := c.breaker.Execute(func() (any, error) {
		return c.bus.Call(ctx, exchange, routingKey, body, timeout)
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
		return nil, busproto.Wrap(busproto.CodeDownstreamTransport, err, "keymaster transport failure")
	}
	return result.([]byte), nil
}

// dedupe removes duplicate entries from ids, preserving first-seen order —
// §4.6 requires "the set of cle_ids is deduplicated before the call".
func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
