// Package nats implements bus.Bus over NATS JetStream: durable,
// at-least-once delivery with queue-group consumers standing in for
// bus.QueueCapable's named single-consumer queues. Grounded in the
// teacher's pkg/nats/eventbus.go, generalized off the protobuf
// eventsourcing.Event wire type onto message.Message. Payload travels
// through message.EncodePayload/DecodePayload, so a protobuf-typed
// payload round-trips as an anypb.Any instead of degrading to a
// map[string]any the way the teacher's bank-account events never had to
// worry about.
package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	natsgo "github.com/nats-io/nats.go"

	"github.com/coreflux/eventcore/pkg/bus"
	"github.com/coreflux/eventcore/pkg/idgen"
	"github.com/coreflux/eventcore/pkg/message"
)

// Config configures the JetStream stream a Bus publishes into.
type Config struct {
	URL            string
	StreamName     string
	StreamSubjects []string
	MaxAge         time.Duration
	MaxBytes       int64
}

// DefaultConfig returns sensible defaults for local development.
func DefaultConfig() Config {
	return Config{
		URL:            natsgo.DefaultURL,
		StreamName:     "EVENTCORE",
		StreamSubjects: []string{"eventcore.>"},
		MaxAge:         7 * 24 * time.Hour,
		MaxBytes:       1024 * 1024 * 1024,
	}
}

// wireMessage is the on-the-wire JSON envelope for message.Message.
// Payload is tagged with the encoding EncodePayload chose, so a
// protobuf-typed payload reconstructs to its original concrete type on
// the receiving side via the global protobuf registry instead of
// degrading to a map[string]any; Context always travels as plain JSON.
type wireMessage struct {
	Type             string          `json:"type"`
	AggregateID      any             `json:"aggregateId,omitempty"`
	AggregateVersion *uint64         `json:"aggregateVersion,omitempty"`
	SagaID           any             `json:"sagaId,omitempty"`
	SagaVersion      *uint64         `json:"sagaVersion,omitempty"`
	Payload          []byte          `json:"payload,omitempty"`
	PayloadEncoding  string          `json:"payloadEncoding,omitempty"`
	Context          json.RawMessage `json:"context,omitempty"`
}

// Bus is a NATS JetStream-backed bus.Bus and bus.QueueCapable.
type Bus struct {
	nc         *natsgo.Conn
	js         natsgo.JetStreamContext
	streamName string
	gen        idgen.Generator

	mu   sync.Mutex
	subs map[string]*natsgo.Subscription
}

// Connect opens a NATS connection, establishes (or reuses) the configured
// JetStream stream, and returns a ready-to-use Bus.
func Connect(cfg Config) (*Bus, error) {
	nc, err := natsgo.Connect(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("nats bus: connect: %w", err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("nats bus: jetstream context: %w", err)
	}

	b := &Bus{nc: nc, js: js, streamName: cfg.StreamName, gen: idgen.Default, subs: make(map[string]*natsgo.Subscription)}
	if err := b.ensureStream(cfg); err != nil {
		nc.Close()
		return nil, err
	}
	return b, nil
}

func (b *Bus) ensureStream(cfg Config) error {
	streamConfig := &natsgo.StreamConfig{
		Name:      cfg.StreamName,
		Subjects:  cfg.StreamSubjects,
		Retention: natsgo.InterestPolicy,
		MaxAge:    cfg.MaxAge,
		MaxBytes:  cfg.MaxBytes,
		Storage:   natsgo.FileStorage,
		Replicas:  1,
	}

	if _, err := b.js.StreamInfo(cfg.StreamName); err != nil {
		if _, err := b.js.AddStream(streamConfig); err != nil {
			return fmt.Errorf("nats bus: create stream: %w", err)
		}
		return nil
	}
	if _, err := b.js.UpdateStream(streamConfig); err != nil {
		return fmt.Errorf("nats bus: update stream: %w", err)
	}
	return nil
}

func subject(msgType string) string {
	return "eventcore." + msgType
}

func (b *Bus) marshal(m message.Message) ([]byte, error) {
	payload, encoding, err := message.EncodePayload(m.Payload)
	if err != nil {
		return nil, fmt.Errorf("nats bus: %w", err)
	}
	ctxJSON, err := json.Marshal(m.Context)
	if err != nil {
		return nil, fmt.Errorf("nats bus: marshal context: %w", err)
	}
	return json.Marshal(wireMessage{
		Type:             m.Type,
		AggregateID:      m.AggregateID,
		AggregateVersion: m.AggregateVersion,
		SagaID:           m.SagaID,
		SagaVersion:      m.SagaVersion,
		Payload:          payload,
		PayloadEncoding:  string(encoding),
		Context:          ctxJSON,
	})
}

func unmarshal(data []byte) (message.Message, error) {
	var w wireMessage
	if err := json.Unmarshal(data, &w); err != nil {
		return message.Message{}, fmt.Errorf("nats bus: unmarshal envelope: %w", err)
	}
	m := message.Message{
		Type:             w.Type,
		AggregateID:      w.AggregateID,
		AggregateVersion: w.AggregateVersion,
		SagaID:           w.SagaID,
		SagaVersion:      w.SagaVersion,
	}
	if len(w.Payload) > 0 {
		payload, err := message.DecodePayload(w.Payload, message.PayloadEncoding(w.PayloadEncoding))
		if err != nil {
			return message.Message{}, fmt.Errorf("nats bus: %w", err)
		}
		m.Payload = payload
	}
	if len(w.Context) > 0 {
		var ctx any
		if err := json.Unmarshal(w.Context, &ctx); err != nil {
			return message.Message{}, fmt.Errorf("nats bus: unmarshal context: %w", err)
		}
		m.Context = ctx
	}
	return m, nil
}

// Publish publishes m to JetStream with a deterministic message id derived
// from m's identity fields, so redelivery of the same commit is deduped by
// the broker.
func (b *Bus) Publish(ctx context.Context, m message.Message) error {
	data, err := b.marshal(m)
	if err != nil {
		return err
	}
	var version any
	if m.AggregateVersion != nil {
		version = *m.AggregateVersion
	}
	msgID := fmt.Sprintf("%v:%v:%s", m.AggregateID, version, m.Type)
	_, err = b.js.Publish(subject(m.Type), data, natsgo.MsgId(msgID))
	if err != nil {
		return fmt.Errorf("nats bus: publish %q: %w", m.Type, err)
	}
	return nil
}

// On creates a durable queue-group consumer for msgType. Without
// bus.WithQueue, each call gets its own uniquely named consumer so every
// subscriber sees every message, mirroring the in-memory bus's broadcast
// semantics; with bus.WithQueue(name), every subscriber sharing name joins
// the same NATS queue group so messages are load-balanced across them.
func (b *Bus) On(msgType string, handler bus.Handler, opts ...bus.OnOption) (bus.Subscription, error) {
	group := bus.QueueName(opts)
	if group == "" {
		group = fmt.Sprintf("consumer-%s", b.gen.NewID())
	}
	return b.subscribe(msgType, group, handler)
}

// Queue returns a named queue group handle.
func (b *Bus) Queue(name string) (bus.Queue, error) {
	return &queue{bus: b, name: name}, nil
}

func (b *Bus) subscribe(msgType, group string, handler bus.Handler) (bus.Subscription, error) {
	consumerName := fmt.Sprintf("%s_%s", group, b.gen.NewID())

	sub, err := b.js.QueueSubscribe(subject(msgType), group, func(msg *natsgo.Msg) {
		m, err := unmarshal(msg.Data)
		if err != nil {
			msg.Nak()
			return
		}
		if err := handler(context.Background(), m); err != nil {
			msg.Nak()
			return
		}
		msg.Ack()
	}, natsgo.Durable(consumerName), natsgo.ManualAck(), natsgo.AckExplicit())
	if err != nil {
		return nil, fmt.Errorf("nats bus: subscribe %q: %w", msgType, err)
	}

	b.mu.Lock()
	b.subs[consumerName] = sub
	b.mu.Unlock()

	return &subscription{bus: b, sub: sub, consumerName: consumerName}, nil
}

// Close unsubscribes every consumer and closes the NATS connection.
func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, sub := range b.subs {
		_ = sub.Unsubscribe()
	}
	b.nc.Close()
	return nil
}

type subscription struct {
	bus          *Bus
	sub          *natsgo.Subscription
	consumerName string
}

func (s *subscription) Unsubscribe() error {
	s.bus.mu.Lock()
	delete(s.bus.subs, s.consumerName)
	s.bus.mu.Unlock()
	return s.sub.Unsubscribe()
}

// queue is a named NATS queue group: every handler registered via On joins
// the same group name and messages are load-balanced across them.
type queue struct {
	bus  *Bus
	name string
}

func (q *queue) On(msgType string, handler bus.Handler) (bus.Subscription, error) {
	return q.bus.subscribe(msgType, q.name, handler)
}
