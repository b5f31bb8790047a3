package notifications

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/pubsub"

	"github.com/findmytreasure/api/internal/platform/textutil"
	"github.com/findmytreasure/api/internal/services"
)

// PubSubDispatcher publishes outbound notification requests to a Pub/Sub
// topic consumed by the email/SMS delivery worker.
type PubSubDispatcher struct {
	topic   *pubsub.Topic
	marshal func(any) ([]byte, error)
	now     func() time.Time
}

var _ services.NotificationDispatcher = (*PubSubDispatcher)(nil)

// NewPubSubDispatcher constructs a Pub/Sub backed notification dispatcher.
func NewPubSubDispatcher(topic *pubsub.Topic) (*PubSubDispatcher, error) {
	if topic == nil {
		return nil, errors.New("pubsub notification dispatcher: topic is required")
	}
	return &PubSubDispatcher{
		topic:   topic,
		marshal: json.Marshal,
		now:     time.Now,
	}, nil
}

type notificationMessage struct {
	Kind      string            `json:"kind"`
	JobID     string            `json:"jobId,omitempty"`
	Recipient string            `json:"recipient"`
	Data      map[string]string `json:"data,omitempty"`
	QueuedAt  time.Time         `json:"queuedAt"`
}

// Dispatch enqueues one notification message on the configured topic and
// returns the broker-assigned message identifier.
func (d *PubSubDispatcher) Dispatch(ctx context.Context, notification services.Notification) (string, error) {
	if d == nil || d.topic == nil {
		return "", errors.New("pubsub notification dispatcher: not initialised")
	}
	recipient := strings.TrimSpace(notification.Recipient)
	if recipient == "" {
		return "", errors.New("pubsub notification dispatcher: recipient is required")
	}

	data, err := d.marshal(notificationMessage{
		Kind:      string(notification.Kind),
		JobID:     notification.JobID,
		Recipient: recipient,
		Data:      textutil.NormalizeStringMap(notification.Data),
		QueuedAt:  d.now().UTC(),
	})
	if err != nil {
		return "", fmt.Errorf("marshal notification: %w", err)
	}

	attrs := make(map[string]string)
	setAttr(attrs, "kind", string(notification.Kind))
	setAttr(attrs, "jobId", notification.JobID)

	result := d.topic.Publish(ctx, &pubsub.Message{
		Data:       data,
		Attributes: attrs,
	})

	id, err := result.Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish notification: %w", err)
	}
	return id, nil
}

func setAttr(attrs map[string]string, key string, value string) {
	if v := strings.TrimSpace(value); v != "" {
		attrs[key] = v
	}
}
