package kafka

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/angelmondragon/orderflow-backend/pkg/config"
	"github.com/angelmondragon/orderflow-backend/pkg/logger"
)

const (
	handlerAttempts = 3
	handlerBackoff  = 200 * time.Millisecond
)

// Message is the broker-neutral view of a consumed record.
type Message struct {
	Topic     string
	Partition int
	Offset    int64
	Key       []byte
	Value     []byte
	Headers   map[string]string
}

// Handler returns nil once the message may be committed.
type Handler func(ctx context.Context, msg Message) error

type messageReader interface {
	FetchMessage(ctx context.Context) (kafkago.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// Consumer reads one topic inside a consumer group and commits offsets only
// after the handler has processed the record.
type Consumer struct {
	r    messageReader
	name string
	logg *logger.Logger
}

// NewConsumer joins "<group>-<name>" so each worker role gets every event.
func NewConsumer(cfg config.KafkaConfig, name string, logg *logger.Logger) (*Consumer, error) {
	brokers := cleanBrokers(cfg.Brokers)
	if len(brokers) == 0 {
		return nil, errNoBrokers
	}
	if strings.TrimSpace(cfg.OrdersTopic) == "" {
		return nil, errors.New("kafka orders topic is required")
	}
	group := strings.TrimSpace(cfg.ConsumerGroup)
	if name != "" {
		group = group + "-" + name
	}
	r := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:           brokers,
		GroupID:           group,
		Topic:             cfg.OrdersTopic,
		MinBytes:          1,
		MaxBytes:          10e6,
		CommitInterval:    0,
		HeartbeatInterval: 3 * time.Second,
		SessionTimeout:    30 * time.Second,
	})
	return &Consumer{r: r, name: name, logg: logg}, nil
}

// Run blocks until ctx is canceled. A handler that keeps failing is logged and
// the record committed so one poison message cannot stall the partition.
func (c *Consumer) Run(ctx context.Context, h Handler) error {
	defer c.r.Close()
	for {
		m, err := c.r.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return ctx.Err()
			}
			return fmt.Errorf("kafka fetch: %w", err)
		}
		msg := toMessage(m)
		if err := c.handle(ctx, h, msg); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if c.logg != nil {
				logCtx := c.logg.WithFields(ctx, map[string]any{
					"consumer":  c.name,
					"topic":     m.Topic,
					"partition": m.Partition,
					"offset":    m.Offset,
				})
				c.logg.Error(logCtx, "kafka handler gave up", err)
			}
		}
		if err := c.r.CommitMessages(ctx, m); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("kafka commit: %w", err)
		}
	}
}

func (c *Consumer) handle(ctx context.Context, h Handler, msg Message) error {
	var err error
	for attempt := 1; attempt <= handlerAttempts; attempt++ {
		if err = h(ctx, msg); err == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt) * handlerBackoff):
		}
	}
	return err
}

func toMessage(m kafkago.Message) Message {
	headers := make(map[string]string, len(m.Headers))
	for _, h := range m.Headers {
		headers[h.Key] = string(h.Value)
	}
	return Message{
		Topic:     m.Topic,
		Partition: m.Partition,
		Offset:    m.Offset,
		Key:       m.Key,
		Value:     m.Value,
		Headers:   headers,
	}
}
