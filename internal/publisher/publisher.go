// Package publisher emits pipeline events to Google Cloud Pub/Sub. The
// downstream vector indexer subscribes to the needs-embedding topic; this
// side only announces that new text exists.
package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"cloud.google.com/go/pubsub"
	"go.uber.org/zap"
)

// ProjectEvent is the needs-embedding notification payload.
type ProjectEvent struct {
	ProjectID    int64     `json:"projectId"`
	GroupID      *int64    `json:"groupId,omitempty"`
	Name         string    `json:"name"`
	Organization string    `json:"organization"`
	UpsertedAt   time.Time `json:"upsertedAt"`
}

// Publisher wraps one Pub/Sub topic.
type Publisher struct {
	client *pubsub.Client
	topic  *pubsub.Topic
	logger *zap.Logger
}

// New connects to Pub/Sub and binds the topic. Empty project or topic
// disables publication; callers get a nil Publisher and skip the handoff.
func New(ctx context.Context, projectID, topicID string, logger *zap.Logger) (*Publisher, error) {
	if projectID == "" || topicID == "" {
		return nil, nil
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	client, err := pubsub.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("create pubsub client: %w", err)
	}
	return &Publisher{
		client: client,
		topic:  client.Topic(topicID),
		logger: logger,
	}, nil
}

// Publish marshals the event to JSON and publishes it, blocking until the
// server acknowledges. Returns the server-assigned message ID.
func (p *Publisher) Publish(ctx context.Context, event ProjectEvent) (string, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return "", fmt.Errorf("marshal event: %w", err)
	}
	result := p.topic.Publish(ctx, &pubsub.Message{
		Data:       data,
		Attributes: map[string]string{"event": "project.needs-embedding"},
	})
	id, err := result.Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish event: %w", err)
	}
	p.logger.Debug("published needs-embedding event",
		zap.Int64("project_id", event.ProjectID),
		zap.String("message_id", id))
	return id, nil
}

// Close flushes the topic and releases the client.
func (p *Publisher) Close() error {
	p.topic.Stop()
	return p.client.Close()
}
