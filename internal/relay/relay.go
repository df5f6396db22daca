package relay

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/angelmondragon/lms-notifier/internal/realtime"
	"github.com/angelmondragon/lms-notifier/pkg/logger"
	"github.com/angelmondragon/lms-notifier/pkg/metrics"
	"github.com/google/uuid"
)

const defaultPublishTimeout = 15 * time.Second

// Envelope is the message body published for each relayed push.
type Envelope struct {
	EventID    string          `json:"eventId"`
	Event      string          `json:"event"`
	UserID     string          `json:"userId"`
	ReceivedAt time.Time       `json:"receivedAt"`
	Data       json.RawMessage `json:"data,omitempty"`
}

type Params struct {
	Publisher Publisher
	Logger    *logger.Logger
	Metrics   *metrics.NotifierMetrics
	Timeout   time.Duration
}

// Relay forwards inbound pushes to Pub/Sub. Publishing is best-effort: the
// listener hands the message to the publisher and returns, and the outcome
// is only logged and counted.
type Relay struct {
	publisher Publisher
	logg      *logger.Logger
	metrics   *metrics.NotifierMetrics
	timeout   time.Duration
	pending   sync.WaitGroup
}

func New(params Params) (*Relay, error) {
	if params.Publisher == nil {
		return nil, errors.New("publisher is required")
	}
	if params.Logger == nil {
		return nil, errors.New("logger is required")
	}
	timeout := params.Timeout
	if timeout <= 0 {
		timeout = defaultPublishTimeout
	}
	return &Relay{
		publisher: params.Publisher,
		logg:      params.Logger,
		metrics:   params.Metrics,
		timeout:   timeout,
	}, nil
}

func (r *Relay) Listener() realtime.Listener {
	return r.Forward
}

// Forward publishes push. It only fails when the push cannot be encoded.
func (r *Relay) Forward(ctx context.Context, push realtime.Push) error {
	eventID, err := uuid.NewV7()
	if err != nil {
		eventID = uuid.New()
	}
	data := push.Payload
	if len(data) > 0 && !json.Valid(data) {
		data = nil
	}
	body, err := json.Marshal(Envelope{
		EventID:    eventID.String(),
		Event:      push.Event,
		UserID:     push.Identity,
		ReceivedAt: push.ReceivedAt.UTC(),
		Data:       data,
	})
	if err != nil {
		return err
	}

	msg := &gcppubsub.Message{
		Data: body,
		Attributes: map[string]string{
			"event_id":    eventID.String(),
			"event_type":  push.Event,
			"user_id":     push.Identity,
			"received_at": push.ReceivedAt.UTC().Format(time.RFC3339Nano),
		},
	}
	logCtx := r.logg.WithFields(context.WithoutCancel(ctx), map[string]any{
		"event_id":   eventID.String(),
		"event_type": push.Event,
		"user_id":    push.Identity,
	})

	pubCtx, cancel := context.WithTimeout(logCtx, r.timeout)
	result := r.publisher.Publish(pubCtx, msg)
	if result == nil {
		cancel()
		r.metrics.IncRelay(false)
		r.logg.Warn(logCtx, "relay publisher returned no result")
		return nil
	}

	r.pending.Add(1)
	go func() {
		defer r.pending.Done()
		defer cancel()
		serverID, err := result.Get(pubCtx)
		if err != nil {
			r.metrics.IncRelay(false)
			r.logg.Error(logCtx, "relay publish failed", err)
			return
		}
		r.metrics.IncRelay(true)
		r.logg.Debug(r.logg.WithField(logCtx, "message_id", serverID), "relayed notification")
	}()
	return nil
}

// Close waits for in-flight publishes and stops the publisher.
func (r *Relay) Close() {
	r.pending.Wait()
	r.publisher.Stop()
}
