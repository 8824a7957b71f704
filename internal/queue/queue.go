// Package queue moves command envelopes into the node and execution results out of it.
package queue

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	DriverKafka  = "kafka"
	DriverStdio  = "stdio"
	DriverMemory = "memory"
)

const envKafkaTLS = "ORIGINS_QUEUE_KAFKA_TLS"

var ErrInvalidConfig = errors.New("queue: invalid config")

// Message is a record delivered to a consumer.
type Message struct {
	Topic string
	Key   []byte
	Value []byte
	// Timestamp is the producer timestamp (kafka) or local receive time (stdio, memory).
	Timestamp time.Time

	ackFn func(context.Context) error
}

// Ack commits the message offset when the driver tracks one.
func (m Message) Ack(ctx context.Context) error {
	if m.ackFn == nil {
		return nil
	}
	return m.ackFn(ctx)
}

type Consumer interface {
	Messages() <-chan Message
	Errors() <-chan error
	Close() error
}

// Producer publishes records. Records sharing a key keep their relative order.
type Producer interface {
	Publish(ctx context.Context, topic string, key, payload []byte) error
	Close() error
}

type ConsumerConfig struct {
	Driver string
	// Topics are the subscriptions for the kafka and memory drivers.
	Topics []string
	// Logger receives kafka client errors.
	Logger *slog.Logger

	// kafka
	Brokers       []string
	Group         string
	KafkaMinBytes int
	KafkaMaxBytes int

	// stdio
	Reader       io.Reader
	MaxLineBytes int

	// memory
	Broker *MemoryBroker
}

type ProducerConfig struct {
	Driver string

	// kafka
	Brokers      []string
	BatchTimeout time.Duration

	// stdio
	Writer io.Writer

	// memory
	Broker *MemoryBroker
}

// NewConsumer opens a consumer for cfg.Driver; an empty driver selects kafka.
func NewConsumer(ctx context.Context, cfg ConsumerConfig) (Consumer, error) {
	driver := driverName(cfg.Driver)
	switch driver {
	case DriverKafka:
		return newKafkaConsumer(ctx, cfg)
	case DriverStdio:
		return newStdioConsumer(ctx, cfg)
	case DriverMemory:
		if cfg.Broker != nil {
			return cfg.Broker.Subscribe(ctx, normalizeList(cfg.Topics)...)
		}
	}
	return nil, unsupported("consumer", driver, cfg.Broker)
}

// NewProducer opens a producer for cfg.Driver; an empty driver selects kafka.
func NewProducer(cfg ProducerConfig) (Producer, error) {
	driver := driverName(cfg.Driver)
	switch driver {
	case DriverKafka:
		return newKafkaProducer(cfg)
	case DriverStdio:
		return newStdioProducer(cfg), nil
	case DriverMemory:
		if cfg.Broker != nil {
			return cfg.Broker, nil
		}
	}
	return nil, unsupported("producer", driver, cfg.Broker)
}

func unsupported(role, driver string, broker *MemoryBroker) error {
	if driver == DriverMemory && broker == nil {
		return fmt.Errorf("%w: memory %s requires a broker", ErrInvalidConfig, role)
	}
	return fmt.Errorf("%w: unsupported %s driver %q", ErrInvalidConfig, role, driver)
}

func driverName(v string) string {
	if v = strings.ToLower(strings.TrimSpace(v)); v != "" {
		return v
	}
	return DriverKafka
}

// normalizeList trims every entry and drops the empty ones.
func normalizeList(values []string) []string {
	var out []string
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

// SplitCommaList parses a flag value such as "b1:9092, b2:9092".
func SplitCommaList(s string) []string {
	return normalizeList(strings.Split(s, ","))
}

func kafkaTLSEnabled() bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(envKafkaTLS)))
	if on, err := strconv.ParseBool(v); err == nil {
		return on
	}
	return v == "yes" || v == "on"
}
