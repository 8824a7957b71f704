package queue

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
)

const (
	defaultKafkaMinBytes = 1
	defaultKafkaMaxBytes = 10 << 20
)

// kafkaReaderConfig builds a group reader. A group with no committed offsets starts from the
// oldest record so commands published before the first node joined are still executed.
func kafkaReaderConfig(cfg ConsumerConfig) (kafka.ReaderConfig, error) {
	brokers := normalizeList(cfg.Brokers)
	topics := normalizeList(cfg.Topics)
	group := strings.TrimSpace(cfg.Group)
	switch {
	case len(brokers) == 0:
		return kafka.ReaderConfig{}, fmt.Errorf("%w: kafka consumer requires at least one broker", ErrInvalidConfig)
	case group == "":
		return kafka.ReaderConfig{}, fmt.Errorf("%w: kafka consumer requires group", ErrInvalidConfig)
	case len(topics) == 0:
		return kafka.ReaderConfig{}, fmt.Errorf("%w: kafka consumer requires at least one topic", ErrInvalidConfig)
	}
	minBytes, maxBytes := cfg.KafkaMinBytes, cfg.KafkaMaxBytes
	if minBytes <= 0 {
		minBytes = defaultKafkaMinBytes
	}
	if maxBytes <= 0 {
		maxBytes = defaultKafkaMaxBytes
	}
	if maxBytes < minBytes {
		return kafka.ReaderConfig{}, fmt.Errorf("%w: kafka max bytes must be >= min bytes", ErrInvalidConfig)
	}

	rc := kafka.ReaderConfig{
		Brokers:     brokers,
		GroupID:     group,
		GroupTopics: topics,
		MinBytes:    minBytes,
		MaxBytes:    maxBytes,
		StartOffset: kafka.FirstOffset,
		// Offsets are committed by Message.Ack only.
		CommitInterval: 0,
	}
	if cfg.Logger != nil {
		rc.ErrorLogger = kafkaErrorLogger(cfg.Logger)
	}
	if kafkaTLSEnabled() {
		rc.Dialer = &kafka.Dialer{Timeout: 10 * time.Second, DualStack: true, TLS: kafkaTLS()}
	}
	return rc, nil
}

func kafkaTLS() *tls.Config {
	return &tls.Config{MinVersion: tls.VersionTLS12}
}

func kafkaErrorLogger(log *slog.Logger) kafka.Logger {
	return kafka.LoggerFunc(func(format string, args ...interface{}) {
		log.Error("kafka client", "msg", fmt.Sprintf(format, args...))
	})
}

// fetchStopped reports whether a fetch error means the consumer is shutting down.
func fetchStopped(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

type kafkaConsumer struct {
	reader *kafka.Reader

	msgCh chan Message
	errCh chan error

	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

func newKafkaConsumer(parent context.Context, cfg ConsumerConfig) (Consumer, error) {
	rc, err := kafkaReaderConfig(cfg)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(parent)
	c := &kafkaConsumer{
		reader: kafka.NewReader(rc),
		msgCh:  make(chan Message, 64),
		errCh:  make(chan error, 8),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go c.fetchLoop(ctx)
	return c, nil
}

func (c *kafkaConsumer) fetchLoop(ctx context.Context) {
	defer close(c.done)
	defer close(c.msgCh)
	defer close(c.errCh)

	for {
		km, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if fetchStopped(err) {
				return
			}
			select {
			case c.errCh <- fmt.Errorf("queue/kafka: fetch: %w", err):
			case <-ctx.Done():
				return
			}
			continue
		}
		select {
		case c.msgCh <- c.message(km):
		case <-ctx.Done():
			return
		}
	}
}

func (c *kafkaConsumer) message(km kafka.Message) Message {
	return Message{
		Topic:     km.Topic,
		Key:       append([]byte(nil), km.Key...),
		Value:     append([]byte(nil), km.Value...),
		Timestamp: km.Time,
		ackFn: func(ctx context.Context) error {
			return c.reader.CommitMessages(ctx, km)
		},
	}
}

func (c *kafkaConsumer) Messages() <-chan Message { return c.msgCh }
func (c *kafkaConsumer) Errors() <-chan error     { return c.errCh }

func (c *kafkaConsumer) Close() error {
	var err error
	c.once.Do(func() {
		c.cancel()
		err = c.reader.Close()
		<-c.done
	})
	return err
}

// kafkaProducer writes synchronously. The hash balancer sends one key to one partition, which
// keeps a caller's commands and results in order.
type kafkaProducer struct {
	writer *kafka.Writer
}

func kafkaWriter(cfg ProducerConfig) (*kafka.Writer, error) {
	brokers := normalizeList(cfg.Brokers)
	if len(brokers) == 0 {
		return nil, fmt.Errorf("%w: kafka producer requires at least one broker", ErrInvalidConfig)
	}
	batchTimeout := cfg.BatchTimeout
	if batchTimeout <= 0 {
		batchTimeout = 10 * time.Millisecond
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Balancer:     &kafka.Hash{},
		BatchTimeout: batchTimeout,
		RequiredAcks: kafka.RequireAll,
		MaxAttempts:  5,
	}
	if kafkaTLSEnabled() {
		w.Transport = &kafka.Transport{TLS: kafkaTLS()}
	}
	return w, nil
}

func newKafkaProducer(cfg ProducerConfig) (Producer, error) {
	w, err := kafkaWriter(cfg)
	if err != nil {
		return nil, err
	}
	return &kafkaProducer{writer: w}, nil
}

func (p *kafkaProducer) Publish(ctx context.Context, topic string, key, payload []byte) error {
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return fmt.Errorf("%w: topic is required", ErrInvalidConfig)
	}
	if err := p.writer.WriteMessages(ctx, kafka.Message{Topic: topic, Key: key, Value: payload}); err != nil {
		return fmt.Errorf("queue/kafka: write %s: %w", topic, err)
	}
	return nil
}

func (p *kafkaProducer) Close() error {
	return p.writer.Close()
}
