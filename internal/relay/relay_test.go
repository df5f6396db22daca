package relay

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/angelmondragon/lms-notifier/internal/realtime"
	"github.com/angelmondragon/lms-notifier/pkg/logger"
	"github.com/angelmondragon/lms-notifier/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

type fakePublisher struct {
	mu       sync.Mutex
	messages []*gcppubsub.Message
	results  []PublishResult
	stopped  bool
}

func (f *fakePublisher) Publish(_ context.Context, msg *gcppubsub.Message) PublishResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, msg)
	if len(f.results) == 0 {
		return fakePublishResult{id: "srv-1"}
	}
	res := f.results[0]
	f.results = f.results[1:]
	return res
}

func (f *fakePublisher) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = true
}

type fakePublishResult struct {
	id  string
	err error
}

func (r fakePublishResult) Get(context.Context) (string, error) {
	return r.id, r.err
}

func newTestRelay(t *testing.T, pub *fakePublisher, m *metrics.NotifierMetrics) *Relay {
	t.Helper()
	r, err := New(Params{Publisher: pub, Logger: logger.Nop(), Metrics: m})
	if err != nil {
		t.Fatalf("new relay: %v", err)
	}
	return r
}

func TestNewRequiresDependencies(t *testing.T) {
	if _, err := New(Params{Logger: logger.Nop()}); err == nil {
		t.Fatal("expected publisher error")
	}
	if _, err := New(Params{Publisher: &fakePublisher{}}); err == nil {
		t.Fatal("expected logger error")
	}
	if NewGCPPublisher(nil) != nil {
		t.Fatal("nil gcp publisher should stay nil")
	}
}

func TestForwardPublishesEnvelope(t *testing.T) {
	pub := &fakePublisher{}
	r := newTestRelay(t, pub, nil)
	at := time.Date(2025, 1, 15, 14, 30, 0, 0, time.UTC)

	err := r.Listener()(context.Background(), realtime.Push{
		Event:      "new-assignment",
		Identity:   "42",
		Payload:    json.RawMessage(`{"data":{"assignmentId":7}}`),
		ReceivedAt: at,
	})
	if err != nil {
		t.Fatalf("forward: %v", err)
	}
	r.Close()

	if len(pub.messages) != 1 {
		t.Fatalf("expected one message, got %d", len(pub.messages))
	}
	msg := pub.messages[0]
	if msg.Attributes["event_type"] != "new-assignment" || msg.Attributes["user_id"] != "42" {
		t.Fatalf("unexpected attributes: %v", msg.Attributes)
	}
	if msg.Attributes["event_id"] == "" {
		t.Fatal("expected event id attribute")
	}

	var env Envelope
	if err := json.Unmarshal(msg.Data, &env); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	if env.EventID != msg.Attributes["event_id"] || env.UserID != "42" || !env.ReceivedAt.Equal(at) {
		t.Fatalf("unexpected envelope: %+v", env)
	}
	if string(env.Data) != `{"data":{"assignmentId":7}}` {
		t.Fatalf("payload not preserved: %s", env.Data)
	}
	if !pub.stopped {
		t.Fatal("close should stop the publisher")
	}
}

func TestForwardCountsOutcomes(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewNotifierMetrics(reg)
	pub := &fakePublisher{results: []PublishResult{
		fakePublishResult{err: errors.New("topic not found")},
		fakePublishResult{id: "srv-2"},
	}}
	r := newTestRelay(t, pub, m)

	push := realtime.Push{Event: "new-assignment", Identity: "42", Payload: json.RawMessage(`{}`), ReceivedAt: time.Now()}
	for i := 0; i < 2; i++ {
		if err := r.Forward(context.Background(), push); err != nil {
			t.Fatalf("forward should not surface publish errors: %v", err)
		}
	}
	r.Close()

	if got := relayCount(t, reg, "failure"); got != 1 {
		t.Fatalf("expected 1 failed relay, got %v", got)
	}
	if got := relayCount(t, reg, "success"); got != 1 {
		t.Fatalf("expected 1 successful relay, got %v", got)
	}
}

func relayCount(t *testing.T, reg *prometheus.Registry, result string) float64 {
	t.Helper()
	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	for _, mf := range mfs {
		if mf.GetName() != "lms_notifier_relay_publish_total" {
			continue
		}
		for _, metric := range mf.GetMetric() {
			if hasLabel(metric, "result", result) {
				return metric.GetCounter().GetValue()
			}
		}
	}
	return 0
}

func hasLabel(metric *dto.Metric, name, value string) bool {
	for _, lp := range metric.GetLabel() {
		if lp.GetName() == name && lp.GetValue() == value {
			return true
		}
	}
	return false
}

func TestForwardDropsInvalidPayloadBody(t *testing.T) {
	pub := &fakePublisher{}
	r := newTestRelay(t, pub, nil)

	if err := r.Forward(context.Background(), realtime.Push{Event: "new-assignment", Payload: json.RawMessage(`{oops`)}); err != nil {
		t.Fatalf("forward: %v", err)
	}
	r.Close()

	var env Envelope
	if err := json.Unmarshal(pub.messages[0].Data, &env); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	if env.Data != nil {
		t.Fatalf("expected invalid payload to be dropped, got %s", env.Data)
	}
}
