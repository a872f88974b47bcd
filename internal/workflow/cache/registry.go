// Package cache implements the Step Registry (spec §4.1): a low-latency,
// shared-across-replicas index of in-progress steps keyed by step id,
// backed by Redis. Grounded on the teacher's Redis wiring in
// internal/clients/redis/sse_bus.go (client construction, address/ping on
// startup) generalized from a pub/sub-only client into a lease store.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/yungbote/neurobridge-backend/internal/pkg/logger"
)

// Record is the full step snapshot stored alongside its lease.
type Record struct {
	StepID   uuid.UUID      `json:"step_id"`
	SampleID uuid.UUID      `json:"sample_id"`
	StepName string         `json:"step_name"`
	Status   string         `json:"status"`
	Fields   map[string]any `json:"fields,omitempty"`
}

// StepRegistry is the interface the Orchestrator and Stage Worker Runtime
// depend on. Any cache error is non-fatal to callers: they fall back to
// the Persistence Adapter, never assuming the cache reflects authoritative
// state (§4.1).
type StepRegistry interface {
	Put(ctx context.Context, stepID uuid.UUID, rec Record, ttl time.Duration) error
	Get(ctx context.Context, stepID uuid.UUID) (Record, bool, error)
	Delete(ctx context.Context, stepID uuid.UUID) error
	AcquireLease(ctx context.Context, stepID uuid.UUID, holderID string, ttl time.Duration) (bool, error)
	RenewLease(ctx context.Context, stepID uuid.UUID, holderID string, ttl time.Duration) (bool, error)
	// LeaseHolder returns the current holder id, or "" if no lease is held
	// (including an expired one).
	LeaseHolder(ctx context.Context, stepID uuid.UUID) (string, error)
	Close() error
}

type redisRegistry struct {
	log    *logger.Logger
	rdb    *goredis.Client
	prefix string
}

// NewRedisStepRegistry connects to addr and verifies connectivity via PING.
// keyPrefix namespaces all keys (e.g. "nanopore:steps:").
func NewRedisStepRegistry(log *logger.Logger, addr, keyPrefix string) (StepRegistry, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	if addr == "" {
		return nil, fmt.Errorf("missing redis address")
	}
	if keyPrefix == "" {
		keyPrefix = "nanopore:steps:"
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
	return &redisRegistry{
		log:    log.With("component", "StepRegistry"),
		rdb:    rdb,
		prefix: keyPrefix,
	}, nil
}

func (r *redisRegistry) recordKey(stepID uuid.UUID) string {
	return r.prefix + "record:" + stepID.String()
}

func (r *redisRegistry) leaseKey(stepID uuid.UUID) string {
	return r.prefix + "lease:" + stepID.String()
}

// Put is an idempotent upsert with an explicit TTL (default: 2x
// estimated_duration_hours, computed by the caller).
func (r *redisRegistry) Put(ctx context.Context, stepID uuid.UUID, rec Record, ttl time.Duration) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return r.rdb.Set(ctx, r.recordKey(stepID), raw, ttl).Err()
}

func (r *redisRegistry) Get(ctx context.Context, stepID uuid.UUID) (Record, bool, error) {
	raw, err := r.rdb.Get(ctx, r.recordKey(stepID)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, err
	}
	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return Record{}, false, err
	}
	return rec, true, nil
}

func (r *redisRegistry) Delete(ctx context.Context, stepID uuid.UUID) error {
	return r.rdb.Del(ctx, r.recordKey(stepID), r.leaseKey(stepID)).Err()
}

// AcquireLease succeeds only if no lease exists or the existing lease has
// expired (SET NX already encodes this: the key only exists while the TTL
// has not elapsed), enforcing at-most-one worker per step across
// replicas.
func (r *redisRegistry) AcquireLease(ctx context.Context, stepID uuid.UUID, holderID string, ttl time.Duration) (bool, error) {
	ok, err := r.rdb.SetNX(ctx, r.leaseKey(stepID), holderID, ttl).Result()
	if err != nil {
		return false, err
	}
	return ok, nil
}

// renewLeaseScript atomically extends a lease's TTL only if the caller
// still holds it, so a holder that lost its lease cannot resurrect it.
var renewLeaseScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("PEXPIRE", KEYS[1], ARGV[2])
else
  return 0
end
`)

func (r *redisRegistry) RenewLease(ctx context.Context, stepID uuid.UUID, holderID string, ttl time.Duration) (bool, error) {
	res, err := renewLeaseScript.Run(ctx, r.rdb, []string{r.leaseKey(stepID)}, holderID, ttl.Milliseconds()).Int()
	if err != nil {
		return false, err
	}
	return res == 1, nil
}

func (r *redisRegistry) LeaseHolder(ctx context.Context, stepID uuid.UUID) (string, error) {
	holder, err := r.rdb.Get(ctx, r.leaseKey(stepID)).Result()
	if errors.Is(err, goredis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return holder, nil
}

func (r *redisRegistry) Close() error {
	return r.rdb.Close()
}
