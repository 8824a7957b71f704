package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/Sovryn-Origins/origins/internal/command"
)

// Submitter hands a validated envelope to the executing node.
type Submitter interface {
	Submit(ctx context.Context, env command.Envelope) error
}

type publisher interface {
	Publish(ctx context.Context, topic string, key, payload []byte) error
}

// QueueSubmitter publishes envelopes to the command topic keyed by caller, so one caller's
// commands are consumed in submission order.
type QueueSubmitter struct {
	topic    string
	producer publisher
}

func NewQueueSubmitter(producer publisher, topic string) (*QueueSubmitter, error) {
	if producer == nil {
		return nil, errors.New("producer is required")
	}
	if strings.TrimSpace(topic) == "" {
		return nil, errors.New("command topic is required")
	}
	return &QueueSubmitter{topic: strings.TrimSpace(topic), producer: producer}, nil
}

func (s *QueueSubmitter) Submit(ctx context.Context, env command.Envelope) error {
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	if err := s.producer.Publish(ctx, s.topic, env.Caller.Bytes(), body); err != nil {
		return fmt.Errorf("publish envelope: %w", err)
	}
	return nil
}
