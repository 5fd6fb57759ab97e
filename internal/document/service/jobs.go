package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jotion/jotion/backend/go-services/internal/document"
	"github.com/redis/go-redis/v9"
)

// ErrJobNotFound is returned for unknown or expired cascade job ids.
var ErrJobNotFound = fmt.Errorf("cascade job: %w", document.ErrNotFound)

// JobStore persists cascade job status so clients can poll it.
type JobStore interface {
	Save(ctx context.Context, j *CascadeJob) error
	Get(ctx context.Context, id string) (*CascadeJob, error)
}

// MemoryJobStore keeps jobs in process. Jobs are never evicted.
type MemoryJobStore struct {
	mu   sync.RWMutex
	jobs map[string]CascadeJob
}

func NewMemoryJobStore() *MemoryJobStore {
	return &MemoryJobStore{jobs: make(map[string]CascadeJob)}
}

func (m *MemoryJobStore) Save(ctx context.Context, j *CascadeJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[j.ID] = *j
	return nil
}

func (m *MemoryJobStore) Get(ctx context.Context, id string) (*CascadeJob, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	j, ok := m.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	return &j, nil
}

// RedisJobStore stores jobs as JSON under "<prefix><id>" with a TTL, so status
// is visible to every replica and old jobs expire on their own.
type RedisJobStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func NewRedisJobStore(client *redis.Client, prefix string, ttl time.Duration) *RedisJobStore {
	if prefix == "" {
		prefix = "cascade:job:"
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &RedisJobStore{client: client, prefix: prefix, ttl: ttl}
}

func (r *RedisJobStore) key(id string) string { return r.prefix + id }

func (r *RedisJobStore) Save(ctx context.Context, j *CascadeJob) error {
	b, err := json.Marshal(j)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, r.key(j.ID), b, r.ttl).Err()
}

func (r *RedisJobStore) Get(ctx context.Context, id string) (*CascadeJob, error) {
	b, err := r.client.Get(ctx, r.key(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrJobNotFound
		}
		return nil, err
	}
	var j CascadeJob
	if err := json.Unmarshal(b, &j); err != nil {
		return nil, fmt.Errorf("decode cascade job %s: %w", id, err)
	}
	return &j, nil
}
