package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

var ErrClosed = errors.New("queue: closed")

// MemoryBroker is an in-process topic fan-out. Every subscriber of a topic receives every
// record published to it, in publish order. It serves single-process deployments and tests.
type MemoryBroker struct {
	mu     sync.Mutex
	subs   map[string][]*memoryConsumer
	buffer int
	closed bool
}

func NewMemoryBroker(buffer int) *MemoryBroker {
	if buffer <= 0 {
		buffer = 64
	}
	return &MemoryBroker{subs: make(map[string][]*memoryConsumer), buffer: buffer}
}

// Subscribe returns a consumer for the given topics. It stops when ctx is done or on Close.
func (b *MemoryBroker) Subscribe(ctx context.Context, topics ...string) (Consumer, error) {
	if len(topics) == 0 {
		return nil, fmt.Errorf("%w: memory consumer requires at least one topic", ErrInvalidConfig)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}

	c := &memoryConsumer{
		broker: b,
		msgCh:  make(chan Message, b.buffer),
		errCh:  make(chan error),
		topics: topics,
		done:   make(chan struct{}),
	}
	for _, t := range topics {
		b.subs[t] = append(b.subs[t], c)
	}
	go func() {
		<-ctx.Done()
		_ = c.Close()
	}()
	return c, nil
}

// Publish blocks while a subscriber's buffer is full.
func (b *MemoryBroker) Publish(ctx context.Context, topic string, key, payload []byte) error {
	if topic == "" {
		return fmt.Errorf("%w: topic is required", ErrInvalidConfig)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}

	msg := Message{
		Topic:     topic,
		Key:       append([]byte(nil), key...),
		Value:     append([]byte(nil), payload...),
		Timestamp: time.Now().UTC(),
	}
	for _, c := range b.subs[topic] {
		select {
		case c.msgCh <- msg:
		case <-c.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Close closes every subscriber. Producers obtained from the broker share its lifetime.
func (b *MemoryBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	seen := make(map[*memoryConsumer]bool)
	for _, cs := range b.subs {
		for _, c := range cs {
			if !seen[c] {
				seen[c] = true
				c.closeLocked()
			}
		}
	}
	b.subs = nil
	return nil
}

type memoryConsumer struct {
	broker *MemoryBroker
	msgCh  chan Message
	errCh  chan error
	topics []string
	closed bool

	done     chan struct{}
	doneOnce sync.Once
}

func (c *memoryConsumer) Messages() <-chan Message { return c.msgCh }
func (c *memoryConsumer) Errors() <-chan error     { return c.errCh }

func (c *memoryConsumer) Close() error {
	// Release a publisher blocked on this consumer before taking the broker lock.
	c.doneOnce.Do(func() { close(c.done) })

	b := c.broker
	b.mu.Lock()
	defer b.mu.Unlock()
	if c.closed {
		return nil
	}
	for _, t := range c.topics {
		subs := b.subs[t]
		for i, s := range subs {
			if s == c {
				b.subs[t] = append(subs[:i:i], subs[i+1:]...)
				break
			}
		}
	}
	c.closeLocked()
	return nil
}

func (c *memoryConsumer) closeLocked() {
	if c.closed {
		return
	}
	c.closed = true
	c.doneOnce.Do(func() { close(c.done) })
	close(c.msgCh)
	close(c.errCh)
}
