// Package amqpq is a message-queue integration over AMQP 0-9-1. It
// publishes events for downstream consumers and inspects queue depth.
package amqpq

import (
	"context"
	"encoding/json"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"

	xerrors "quackcore/internal/errors"
	"quackcore/pkg/capability"
)

// PluginName is the registry name of the amqp integration.
const PluginName = "amqp"

// Operation names exposed by the integration.
const (
	OpPublish    = "publish"
	OpQueueDepth = "queue_depth"
)

// Plugin implements capability.Integration over one AMQP connection.
type Plugin struct {
	url     string
	queue   string
	conn    *amqp.Connection
	channel *amqp.Channel
}

// New returns an unconfigured plugin instance, for use as a factory.
func New() capability.Instance { return &Plugin{} }

// Configure implements capability.Instance.
func (p *Plugin) Configure(cfg map[string]any) error {
	p.url, _ = cfg["url"].(string)
	p.queue, _ = cfg["queue"].(string)
	return nil
}

// Open implements capability.Instance.
func (p *Plugin) Open(_ context.Context) error {
	if p.url == "" || p.queue == "" {
		return xerrors.New(xerrors.CodeInitializationFailure, "amqp integration requires url and queue")
	}
	conn, err := amqp.Dial(p.url)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeInitializationFailure, err, "dialing amqp broker failed")
	}
	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return xerrors.Wrap(xerrors.CodeInitializationFailure, err, "opening amqp channel failed")
	}
	if _, err := channel.QueueDeclare(p.queue, true, false, false, false, nil); err != nil {
		channel.Close()
		conn.Close()
		return xerrors.Wrap(xerrors.CodeInitializationFailure, err,
			fmt.Sprintf("declaring queue %s failed", p.queue))
	}
	p.conn = conn
	p.channel = channel
	return nil
}

// Close implements capability.Instance.
func (p *Plugin) Close(_ context.Context) error {
	if p.channel != nil {
		p.channel.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}

// Operations implements capability.Integration. Publishing is not
// idempotent; a retried publish enqueues the payload twice.
func (p *Plugin) Operations() []capability.Operation {
	return []capability.Operation{
		{Name: OpPublish, Idempotent: false},
		{Name: OpQueueDepth, Idempotent: true},
	}
}

// Call implements capability.Integration.
func (p *Plugin) Call(ctx context.Context, op string, args map[string]any) (any, error) {
	switch op {
	case OpPublish:
		payload, ok := args["payload"]
		if !ok {
			return nil, xerrors.New(xerrors.CodeInvalidArgument, "argument payload is required")
		}
		body, err := json.Marshal(payload)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "encoding payload failed")
		}
		err = p.channel.PublishWithContext(ctx, "", p.queue, false, false, amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Body:         body,
		})
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodePluginFault, err, "publishing failed",
				xerrors.WithRetryable(true))
		}
		return len(body), nil

	case OpQueueDepth:
		state, err := p.channel.QueueDeclarePassive(p.queue, true, false, false, false, nil)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodePluginFault, err,
				fmt.Sprintf("inspecting queue %s failed", p.queue), xerrors.WithRetryable(true))
		}
		return state.Messages, nil

	default:
		return nil, xerrors.New(xerrors.CodeInvalidArgument,
			fmt.Sprintf("amqp integration does not expose operation %s", op))
	}
}

// Paginate implements capability.Integration. No amqp operation paginates.
func (p *Plugin) Paginate(_ context.Context, op string, _ map[string]any) (capability.Pager, error) {
	return nil, xerrors.New(xerrors.CodeInvalidArgument,
		fmt.Sprintf("amqp operation %s is not paginated", op))
}
