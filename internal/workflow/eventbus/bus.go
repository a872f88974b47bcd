// Package eventbus implements the Event Bus (spec §4.7): per-subject
// pub/sub over Redis, with a Postgres-backed outbox that records every
// published event as a WorkflowEvent row. Generalized from the teacher's
// single-channel internal/clients/redis/sse_bus.go into a multi-subject
// bus. Delivery is at-most-once: Redis pub/sub has no acknowledgement or
// redelivery, a subscriber that is not connected when an event is
// published never receives it, and no code in this module reads the
// outbox rows back.
package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	workflow "github.com/yungbote/neurobridge-backend/internal/domain/workflow"
	"github.com/yungbote/neurobridge-backend/internal/pkg/logger"
)

// Handler processes one delivered event. Handlers must be idempotent. The
// bus delivers each message at most once to each connected subscriber and
// never redelivers it.
type Handler func(ctx context.Context, evt workflow.Event) error

// Bus is the publish/subscribe contract the Orchestrator and Aggregator
// depend on.
type Bus interface {
	Publish(ctx context.Context, evt workflow.Event) error
	// Subscribe registers h for subject and starts consuming in the
	// background. Multiple subscribers to the same subject all receive
	// every message (fan-out pub/sub), matching the event bus's role of
	// coupling producers to potentially-many consumers.
	Subscribe(ctx context.Context, subject workflow.EventSubject, h Handler) error
	Close() error
}

// VisibilityTimeout bounds each handler call: Subscribe runs the handler
// under a context with this deadline. Messages are not acked, and nothing
// is redelivered when the deadline passes.
const VisibilityTimeout = 30 * time.Second

type redisBus struct {
	log          *logger.Logger
	rdb          *goredis.Client
	db           *gorm.DB
	channelPrefix string

	mu       sync.Mutex
	cancels  []context.CancelFunc
}

// NewRedisBus connects to addr (ping-verified) and wires the outbox table
// through db. channelPrefix namespaces Redis pub/sub channels per subject
// (e.g. "nanopore:events:").
func NewRedisBus(log *logger.Logger, db *gorm.DB, addr, channelPrefix string) (Bus, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	if addr == "" {
		return nil, fmt.Errorf("missing redis address")
	}
	if channelPrefix == "" {
		channelPrefix = "nanopore:events:"
	}
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &redisBus{
		log:           log.With("component", "EventBus"),
		rdb:           rdb,
		db:            db,
		channelPrefix: channelPrefix,
	}, nil
}

func (b *redisBus) channel(subject workflow.EventSubject) string {
	return b.channelPrefix + string(subject)
}

// Publish persists the event to the outbox (durability + replay) and then
// publishes to Redis (fan-out to live subscribers). Per-subject ordering
// is preserved because a single Redis channel is FIFO for a single
// publisher connection, and every event for a subject is written to the
// same channel.
func (b *redisBus) Publish(ctx context.Context, evt workflow.Event) error {
	if evt.ID == uuid.Nil {
		evt.ID = uuid.New()
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}
	payloadJSON, err := json.Marshal(evt.Payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	if b.db != nil {
		row := workflow.WorkflowEvent{
			ID:            evt.ID,
			Subject:       string(evt.Subject),
			SampleID:      evt.SampleID,
			SubmissionID:  evt.SubmissionID,
			StepID:        evt.StepID,
			CorrelationID: evt.CorrelationID,
			Payload:       datatypes.JSON(payloadJSON),
			PublishedAt:   evt.Timestamp,
		}
		if err := b.db.WithContext(ctx).Create(&row).Error; err != nil {
			return fmt.Errorf("persist event outbox row: %w", err)
		}
	}
	raw, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	return b.rdb.Publish(ctx, b.channel(evt.Subject), raw).Err()
}

// Subscribe starts a background goroutine consuming subject. On handler
// error the message is logged and NOT retried from Redis pub/sub itself
// (pub/sub has no redelivery); the backstop for missed step events is the
// Orchestrator's reconciler, which re-reads pending and in-progress steps
// from the steps table. Nothing reads the outbox.
func (b *redisBus) Subscribe(ctx context.Context, subject workflow.EventSubject, h Handler) error {
	sub := b.rdb.Subscribe(ctx, b.channel(subject))
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return fmt.Errorf("subscribe %s: %w", subject, err)
	}
	subCtx, cancel := context.WithCancel(ctx)
	b.mu.Lock()
	b.cancels = append(b.cancels, cancel)
	b.mu.Unlock()

	go func() {
		ch := sub.Channel()
		for {
			select {
			case <-subCtx.Done():
				_ = sub.Close()
				return
			case m, ok := <-ch:
				if !ok || m == nil {
					_ = sub.Close()
					return
				}
				var evt workflow.Event
				if err := json.Unmarshal([]byte(m.Payload), &evt); err != nil {
					b.log.Warn("bad event payload", "subject", subject, "error", err)
					continue
				}
				deadline, dcancel := context.WithTimeout(subCtx, VisibilityTimeout)
				if err := h(deadline, evt); err != nil {
					b.log.Error("event handler failed", "subject", subject, "event_id", evt.ID, "error", err)
				}
				dcancel()
			}
		}
	}()
	return nil
}

func (b *redisBus) Close() error {
	b.mu.Lock()
	for _, cancel := range b.cancels {
		cancel()
	}
	b.mu.Unlock()
	return b.rdb.Close()
}
