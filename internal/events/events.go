// Package events publishes job lifecycle events for downstream consumers
// (schedulers that pick up the CSV manifests, dashboards).
package events

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"clipmill/internal/batch"
	"clipmill/internal/pkg/logger"

	"github.com/segmentio/kafka-go"
)

const (
	TypeJobDone   = "job.done"
	TypeJobFailed = "job.failed"
)

type ManifestRef struct {
	Variant int    `json:"variant"`
	URL     string `json:"url,omitempty"`
	Rows    int    `json:"rows"`
}

type Event struct {
	Type      string        `json:"type"`
	JobID     string        `json:"job_id"`
	Status    batch.Status  `json:"status"`
	Successes int           `json:"successes"`
	Failures  int           `json:"failures"`
	Manifests []ManifestRef `json:"manifests,omitempty"`
	Error     string        `json:"error,omitempty"`
	At        time.Time     `json:"at"`
}

// FromSnapshot builds the terminal event for a job. ok is false for
// non-terminal snapshots.
func FromSnapshot(s batch.Snapshot) (Event, bool) {
	if !s.Status.Terminal() {
		return Event{}, false
	}
	ev := Event{
		Type:      TypeJobDone,
		JobID:     s.ID,
		Status:    s.Status,
		Successes: s.Successes(),
		Failures:  len(s.Errors),
		Error:     s.Error,
		At:        s.UpdatedAt,
	}
	if s.Status == batch.StatusError {
		ev.Type = TypeJobFailed
	}
	for _, m := range s.Manifests {
		ev.Manifests = append(ev.Manifests, ManifestRef{Variant: m.Variant, URL: m.URL, Rows: len(m.Rows)})
	}
	return ev, true
}

type Publisher interface {
	Publish(ctx context.Context, ev Event) error
	Close() error
}

// Nop drops every event.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }
func (Nop) Close() error                         { return nil }

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes events as JSON keyed by job ID, so all events of a
// job land on the same partition.
type KafkaPublisher struct {
	w messageWriter
}

func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	return &KafkaPublisher{w: &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.LeastBytes{},
		AllowAutoTopicCreation: true,
	}}
}

func (p *KafkaPublisher) Publish(ctx context.Context, ev Event) error {
	value, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return p.w.WriteMessages(ctx, kafka.Message{
		Key:   []byte(ev.JobID),
		Value: value,
	})
}

func (p *KafkaPublisher) Close() error { return p.w.Close() }

// SplitBrokers parses a comma separated broker list.
func SplitBrokers(s string) []string {
	var out []string
	for _, b := range strings.Split(s, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}

// Hook returns a job observer that publishes terminal events.
func Hook(p Publisher, timeout time.Duration, log *logger.Logger) func(batch.Snapshot) {
	if log == nil {
		log = logger.NewDefault()
	}
	log = log.WithComponent("events")
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return func(s batch.Snapshot) {
		ev, ok := FromSnapshot(s)
		if !ok {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := p.Publish(ctx, ev); err != nil {
			log.Warn("publish event failed", "job_id", ev.JobID, "type", ev.Type, "error", err)
			return
		}
		log.Debug("event published", "job_id", ev.JobID, "type", ev.Type)
	}
}
