package broadcast

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/twmb/franz-go/pkg/kgo"
)

// KafkaBus broadcasts auth events over a Kafka topic, letting controller
// instances on different hosts observe each other's sign-ins and sign-outs.
// Each instance consumes from the end of the topic without a group, so every
// instance sees every event.
type KafkaBus struct {
	client *kgo.Client
	topic  string
	logger *slog.Logger

	mu     sync.Mutex
	subs   map[int]func(Event)
	next   int
	cancel context.CancelFunc
	done   chan struct{}
}

// NewKafkaBus connects to the given brokers and starts the consume loop.
func NewKafkaBus(brokers []string, topic string, logger *slog.Logger) (*KafkaBus, error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.ConsumeTopics(topic),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtEnd()),
	)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	b := &KafkaBus{
		client: client,
		topic:  topic,
		logger: logger,
		subs:   make(map[int]func(Event)),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go b.consume(ctx)
	return b, nil
}

func (b *KafkaBus) Publish(ctx context.Context, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	record := &kgo.Record{
		Topic: b.topic,
		Key:   []byte(ev.UserID),
		Value: payload,
	}
	return b.client.ProduceSync(ctx, record).FirstErr()
}

func (b *KafkaBus) Subscribe(fn func(Event)) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.next
	b.next++
	b.subs[id] = fn
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.subs, id)
	}
}

func (b *KafkaBus) Close() error {
	b.cancel()
	<-b.done
	b.client.Close()
	return nil
}

func (b *KafkaBus) consume(ctx context.Context) {
	defer close(b.done)
	for {
		fetches := b.client.PollFetches(ctx)
		if ctx.Err() != nil {
			return
		}
		fetches.EachError(func(topic string, partition int32, err error) {
			b.logger.Warn("broadcast fetch error",
				"topic", topic, "partition", partition, "error", err)
		})
		fetches.EachRecord(func(record *kgo.Record) {
			var ev Event
			if err := json.Unmarshal(record.Value, &ev); err != nil {
				b.logger.Warn("broadcast decode error", "error", err)
				return
			}
			b.dispatch(ev)
		})
	}
}

func (b *KafkaBus) dispatch(ev Event) {
	b.mu.Lock()
	handlers := make([]func(Event), 0, len(b.subs))
	for _, fn := range b.subs {
		handlers = append(handlers, fn)
	}
	b.mu.Unlock()

	for _, fn := range handlers {
		fn(ev)
	}
}
