package queue

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

const defaultMaxLineBytes = 1 << 20

// lineConsumer turns newline-delimited input into messages. Keys are not carried and Ack is a
// no-op, so a restarted reader sees only what is still unread on its input.
type lineConsumer struct {
	in      *bufio.Scanner
	records chan Message
	failed  chan error

	stop     context.CancelFunc
	stopOnce sync.Once
}

func newStdioConsumer(parent context.Context, cfg ConsumerConfig) (Consumer, error) {
	src := cfg.Reader
	if src == nil {
		src = os.Stdin
	}
	limit := cfg.MaxLineBytes
	if limit <= 0 {
		limit = defaultMaxLineBytes
	}
	if limit < 64 {
		return nil, fmt.Errorf("%w: stdio max line bytes must be >= 64", ErrInvalidConfig)
	}

	in := bufio.NewScanner(src)
	in.Buffer(make([]byte, 0, 4096), limit)

	ctx, stop := context.WithCancel(parent)
	c := &lineConsumer{
		in:      in,
		records: make(chan Message, 64),
		failed:  make(chan error, 1),
		stop:    stop,
	}
	go c.scanLines(ctx)
	return c, nil
}

func (c *lineConsumer) scanLines(ctx context.Context) {
	defer close(c.failed)
	defer close(c.records)

	for c.in.Scan() {
		line := c.in.Bytes()
		if len(line) == 0 {
			continue
		}
		rec := Message{Value: append([]byte(nil), line...), Timestamp: time.Now().UTC()}
		select {
		case c.records <- rec:
		case <-ctx.Done():
			return
		}
	}
	if err := c.in.Err(); err != nil {
		c.failed <- fmt.Errorf("queue/stdio: read: %w", err)
	}
}

func (c *lineConsumer) Messages() <-chan Message { return c.records }
func (c *lineConsumer) Errors() <-chan error     { return c.failed }

func (c *lineConsumer) Close() error {
	c.stopOnce.Do(c.stop)
	return nil
}

// lineProducer writes each payload as one line. Topic and key are dropped.
type lineProducer struct {
	mu  sync.Mutex
	out io.Writer
}

func newStdioProducer(cfg ProducerConfig) Producer {
	out := cfg.Writer
	if out == nil {
		out = os.Stdout
	}
	return &lineProducer{out: out}
}

func (p *lineProducer) Publish(ctx context.Context, _ string, _ []byte, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, err := p.out.Write(append(append(make([]byte, 0, len(payload)+1), payload...), '\n')); err != nil {
		return fmt.Errorf("queue/stdio: write: %w", err)
	}
	return nil
}

func (p *lineProducer) Close() error { return nil }
