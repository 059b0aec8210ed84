// Package nats bridges an external NATS subject to registry.SendEvent
// calls (spec.md §6's "event ingress"): a producer publishes a JSON
// envelope {machineId, eventType, payload, description} to
// <prefix>.event.<machineType>, and the bridge turns each message into a
// call against the registry that owns machineType. Grounded on
// pkg/core/eventbus_cluster_nats.go's nats.Connect/Subscribe/queue-group
// shape, trimmed from a full EventBus transport down to one inbound
// direction.
package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/quadgate/statekeep/pkg/corelog"
	"github.com/quadgate/statekeep/pkg/fsm"
	"github.com/quadgate/statekeep/pkg/registry"
)

// Config configures the bridge's NATS connection and subject prefix.
type Config struct {
	URL            string
	Prefix         string // default "statekeep"
	ConnectionName string
}

// envelope is the wire shape producers publish (spec.md §6 expansion:
// "a JSON envelope {eventType, payload, timestamp, description}").
type envelope struct {
	MachineID   string          `json:"machineId"`
	EventType   string          `json:"eventType"`
	Payload     json.RawMessage `json:"payload"`
	Timestamp   int64           `json:"timestamp"`
	Description string          `json:"description"`
}

// RegistryLookup resolves a machine-type subject segment to the live
// Registry that should receive its events.
type RegistryLookup func(machineType string) (*registry.Registry, bool)

// Bridge subscribes to one subject per registered machine type and
// forwards every well-formed envelope to registry.SendEvent.
type Bridge struct {
	nc     *nats.Conn
	prefix string
	lookup RegistryLookup
	logger corelog.Logger
	subs   []*nats.Subscription
}

// Connect dials NATS and constructs a Bridge ready to subscribe.
func Connect(cfg Config, lookup RegistryLookup, logger corelog.Logger) (*Bridge, error) {
	if logger == nil {
		logger = corelog.NewDefault()
	}
	url := cfg.URL
	if url == "" {
		url = nats.DefaultURL
	}
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "statekeep"
	}
	nc, err := nats.Connect(url, func(o *nats.Options) error {
		if cfg.ConnectionName != "" {
			o.Name = cfg.ConnectionName
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	return &Bridge{nc: nc, prefix: prefix, lookup: lookup, logger: logger}, nil
}

func (b *Bridge) subject(machineType string) string {
	return b.prefix + ".event." + machineType
}

// Subscribe starts receiving envelopes for machineType on a queue group
// (so multiple bridge instances share the load rather than each
// processing every message).
func (b *Bridge) Subscribe(machineType string) error {
	subject := b.subject(machineType)
	sub, err := b.nc.QueueSubscribe(subject, subject, b.handler(machineType))
	if err != nil {
		return fmt.Errorf("subscribe to %s: %w", subject, err)
	}
	b.subs = append(b.subs, sub)
	return nil
}

func (b *Bridge) handler(machineType string) nats.MsgHandler {
	return func(msg *nats.Msg) {
		var env envelope
		if err := json.Unmarshal(msg.Data, &env); err != nil {
			b.logger.Warnf("ingress/nats: malformed envelope on %s: %v", msg.Subject, err)
			return
		}
		if env.EventType == "" {
			b.logger.Warnf("ingress/nats: envelope on %s missing eventType", msg.Subject)
			return
		}
		reg, ok := b.lookup(machineType)
		if !ok {
			b.logger.Warnf("ingress/nats: no registry for machine type %s", machineType)
			return
		}

		machineID := env.MachineID
		if machineID == "" {
			// A producer that doesn't yet know the entity's id (e.g. "open a
			// new call") gets one generated here rather than being rejected.
			machineID = uuid.NewString()
		}

		var payload interface{}
		if len(env.Payload) > 0 {
			json.Unmarshal(env.Payload, &payload)
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		outcome := reg.SendEvent(ctx, machineID, fsm.Event{
			Type:        fsm.EventType(env.EventType),
			Payload:     payload,
			Description: env.Description,
		})
		if outcome.Result != registry.Accepted {
			b.logger.Warnf("ingress/nats: %s/%s rejected: %s", machineType, machineID, outcome.Reason)
		}
	}
}

// Close unsubscribes from every registered subject and closes the
// connection.
func (b *Bridge) Close() error {
	for _, s := range b.subs {
		s.Unsubscribe()
	}
	b.nc.Close()
	return nil
}
