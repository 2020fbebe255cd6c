// Package ingress is the consumption loop that turns inbound bus deliveries
// into dispatched requests/commands/events and publishes their replies
// (§4.1, §5: one ingress task per delivery, suspension only on i/o).
package ingress

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/dugrema/millegrilles-datacollector/internal/busproto"
	"github.com/dugrema/millegrilles-datacollector/internal/dispatch"
	"github.com/dugrema/millegrilles-datacollector/internal/envelope"
	"github.com/dugrema/millegrilles-datacollector/internal/platform"
	"github.com/dugrema/millegrilles-datacollector/internal/telemetry"
)

// Loop consumes one queue and routes every delivery through a Dispatcher.
type Loop struct {
	Bus               *platform.Bus
	Queue             string
	Dispatcher        *dispatch.Dispatcher
	IdentityExtractor platform.IdentityExtractor
	Log               *slog.Logger
}

// Run consumes l.Queue until ctx is cancelled or the delivery channel closes.
func (l *Loop) Run(ctx context.Context) error {
	deliveries, err := l.Bus.Consume(l.Queue)
	if err != nil {
		return fmt.Errorf("consuming queue %s: %w", l.Queue, err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("delivery channel for %s closed", l.Queue)
			}
			l.handle(ctx, d)
		}
	}
}

// handle routes one delivery and, for requests/commands, publishes its
// reply to the delivery's ReplyTo/CorrelationId.
func (l *Loop) handle(ctx context.Context, d amqp.Delivery) {
	kind, action, err := parseRoutingKey(d.RoutingKey)
	if err != nil {
		l.logWarn("dropping delivery with unparseable routing key", "routing_key", d.RoutingKey, "error", err)
		_ = d.Nack(false, false)
		return
	}

	env, err := dispatch.ParseEnvelope(d.Body)
	if err != nil {
		l.reply(ctx, d, busproto.Wrap(busproto.CodeBadRequest, err, "malformed envelope"))
		_ = d.Ack(false)
		return
	}
	if env.Action == "" {
		env.Action = action
	}

	id, err := l.IdentityExtractor(d)
	if err != nil {
		l.reply(ctx, d, busproto.Wrap(busproto.CodeUnauthorized, err, "could not establish caller identity"))
		_ = d.Ack(false)
		return
	}

	start := time.Now()
	result, berr := l.Dispatcher.Dispatch(ctx, kind, id, env)
	l.recordOutcome(kind, env.Action, berr, time.Since(start))

	if kind == envelope.KindRequest || kind == envelope.KindCommand {
		if berr != nil {
			l.reply(ctx, d, berr)
		} else {
			l.replyOk(ctx, d, result)
		}
	} else if berr != nil {
		l.logWarn("event handler failed", "action", env.Action, "error", berr)
	}

	_ = d.Ack(false)
}

// recordOutcome is the single chokepoint where every dispatched message's
// action, outcome code and duration are known: it increments the matching
// Prometheus counter and logs one line per message, per §10's ambient
// logging requirement.
func (l *Loop) recordOutcome(kind envelope.Kind, action string, berr *busproto.Error, dur time.Duration) {
	code := 0
	if berr != nil {
		code = berr.Code
	}
	codeLabel := strconv.Itoa(code)

	switch kind {
	case envelope.KindCommand:
		telemetry.CommandsTotal.WithLabelValues(action, codeLabel).Inc()
	case envelope.KindRequest:
		telemetry.RequestsTotal.WithLabelValues(action, codeLabel).Inc()
	}
	if berr != nil && berr.Code == busproto.CodeUnavailable {
		telemetry.RegenerationRejectedTotal.Inc()
	}

	if l.Log == nil {
		return
	}
	level := slog.LevelInfo
	if berr != nil {
		level = slog.LevelWarn
	}
	l.Log.Log(context.Background(), level, "dispatched message",
		"kind", int(kind), "action", action, "code", code, "duration_ms", dur.Milliseconds())
}

// parseRoutingKey splits a "<kind-word>.<domain>.<action>" routing key into
// the dispatch Kind and the action name.
func parseRoutingKey(rk string) (envelope.Kind, string, error) {
	parts := strings.SplitN(rk, ".", 3)
	if len(parts) != 3 {
		return 0, "", fmt.Errorf("malformed routing key %q", rk)
	}
	action := parts[2]
	switch parts[0] {
	case "requete":
		return envelope.KindRequest, action, nil
	case "commande":
		return envelope.KindCommand, action, nil
	case "evenement":
		return envelope.KindEvent, action, nil
	default:
		return 0, "", fmt.Errorf("unrecognised routing key kind %q", parts[0])
	}
}

// replyOk publishes a successful {ok:true, ...} reply, flattening result's
// own fields alongside ok.
func (l *Loop) replyOk(ctx context.Context, d amqp.Delivery, result any) {
	body, err := mergeOk(result)
	if err != nil {
		l.logWarn("encoding reply failed", "error", err)
		return
	}
	l.publishReply(ctx, d, body)
}

// reply publishes a {ok:false, code, message} reply from a *busproto.Error.
func (l *Loop) reply(ctx context.Context, d amqp.Delivery, berr *busproto.Error) {
	body, err := json.Marshal(busproto.ReplyEnvelope{Ok: false, Code: berr.Code, Message: berr.Message})
	if err != nil {
		l.logWarn("encoding error reply failed", "error", err)
		return
	}
	l.publishReply(ctx, d, body)
}

func (l *Loop) publishReply(ctx context.Context, d amqp.Delivery, body []byte) {
	if d.ReplyTo == "" {
		return
	}
	err := l.Bus.Publish(ctx, "", d.ReplyTo, body)
	if err != nil && l.Log != nil {
		l.Log.Warn("publishing reply failed", "error", err)
	}
}

// mergeOk marshals result (if any) and splices in "ok":true, matching the
// {ok:bool, ...} shape every reply carries (§6).
func mergeOk(result any) ([]byte, error) {
	if result == nil {
		return json.Marshal(map[string]bool{"ok": true})
	}

	fields, err := json.Marshal(result)
	if err != nil {
		return nil, err
	}

	var asMap map[string]json.RawMessage
	if err := json.Unmarshal(fields, &asMap); err != nil {
		// result didn't marshal to an object; wrap it under "result" instead.
		return json.Marshal(map[string]any{"ok": true, "result": json.RawMessage(fields)})
	}
	asMap["ok"] = json.RawMessage("true")
	return json.Marshal(asMap)
}

func (l *Loop) logWarn(msg string, args ...any) {
	if l.Log != nil {
		l.Log.Warn(msg, args...)
	}
}
