package platform

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/dugrema/millegrilles-datacollector/internal/certauth"
)

// Domain name this service answers to on the bus.
const DomainName = "DataCollector"

// Exchange names (security levels) this service's routing keys are bound on
// and its cross-domain calls are published to, matching §6.
const (
	ExchangePublicRK = "1.public"
	ExchangePrivateRK = "2.prive"
	ExchangeProtectedRK = "3.protege"
)

// Bus wraps the AMQP connection and channel this service uses both to
// consume its own queues and to issue bounded RPCs to sibling domains.
type Bus struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	replyTo string
}

// ConnectBus dials the broker and opens a single channel, plus an exclusive
// reply queue used for request/response RPCs to sibling domains.
func ConnectBus(url string) (*Bus, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dialing amqp broker: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("opening amqp channel: %w", err)
	}
	replyQueue, err := ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("declaring reply queue: %w", err)
	}
	return &Bus{conn: conn, channel: ch, replyTo: replyQueue.Name}, nil
}

// Close shuts down the channel and connection.
func (b *Bus) Close() error {
	if err := b.channel.Close(); err != nil {
		return err
	}
	return b.conn.Close()
}

// Binding is one routing key this service's volatile queue should bind to:
// an action name, the message kind word ("requete" or "commande") and the
// exchange it travels on.
type Binding struct {
	Kind     string // "requete" or "commande"
	Action   string
	Exchange string
}

// Declare binds this domain's volatile queue to its per-action routing keys,
// grounded on the original implementation's setup_queues.rs: one queue per
// domain, one routing key per (kind, action, exchange) triple, built from
// static tables rather than discovered at runtime.
func (b *Bus) Declare(queueVolatile string, bindings []Binding) error {
	q, err := b.channel.QueueDeclare(queueVolatile, true, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("declaring queue %s: %w", queueVolatile, err)
	}

	for _, bd := range bindings {
		rk := fmt.Sprintf("%s.%s.%s", bd.Kind, DomainName, bd.Action)
		if err := b.channel.QueueBind(q.Name, rk, bd.Exchange, false, nil); err != nil {
			return fmt.Errorf("binding %s to %s: %w", rk, bd.Exchange, err)
		}
	}
	return nil
}

// Consume starts delivering messages from the given queue. The caller is
// responsible for acking/nacking each delivery.
func (b *Bus) Consume(queue string) (<-chan amqp.Delivery, error) {
	return b.channel.Consume(queue, "", false, false, false, false, nil)
}

// Publish sends a one-way message (an event, or a reply) to an exchange with
// a routing key.
func (b *Bus) Publish(ctx context.Context, exchange, routingKey string, body []byte) error {
	return b.channel.PublishWithContext(ctx, exchange, routingKey, false, false, amqp.Publishing{
		ContentType: "application/json",
		Body:        body,
	})
}

// Call issues a bounded request/response RPC: publish body to (exchange,
// routingKey), then wait up to timeout for a correlated reply on this bus's
// private reply queue. This is the shared transport behind every
// cross-domain client (KeyMaster, Topology, Mapper) — each client layers its
// own action name and payload shape on top of this single primitive, the
// way the teacher's messaging.Provider implementations share one HTTP
// client underneath distinct per-platform APIs.
func (b *Bus) Call(ctx context.Context, exchange, routingKey string, body []byte, timeout time.Duration) ([]byte, error) {
	correlationID := uuid.NewString()

	deliveries, err := b.channel.Consume(b.replyTo, correlationID, true, true, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("consuming reply queue: %w", err)
	}

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	err = b.channel.PublishWithContext(callCtx, exchange, routingKey, false, false, amqp.Publishing{
		ContentType:   "application/json",
		CorrelationId: correlationID,
		ReplyTo:       b.replyTo,
		Body:          body,
	})
	if err != nil {
		return nil, fmt.Errorf("publishing rpc request: %w", err)
	}

	select {
	case d, ok := <-deliveries:
		if !ok {
			return nil, fmt.Errorf("reply channel closed before response arrived")
		}
		if d.CorrelationId != correlationID {
			return nil, fmt.Errorf("reply correlation id mismatch")
		}
		return d.Body, nil
	case <-callCtx.Done():
		return nil, ErrTimeout
	}
}

// ErrTimeout is returned by Call when no reply arrives within the deadline.
var ErrTimeout = fmt.Errorf("cross-domain rpc timed out")

// IdentityExtractor is the seam the ingress loop uses to turn a validated
// certificate (out of scope per §1) into the Identity the authorization gate
// consumes. The real certificate parser plugs in here; it is intentionally
// not implemented in this package, which only owns bus transport.
type IdentityExtractor func(amqp.Delivery) (certauth.Identity, error)
