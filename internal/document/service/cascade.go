package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jotion/jotion/backend/go-services/internal/document"
	"github.com/jotion/jotion/backend/go-services/internal/document/repository"
	"github.com/jotion/jotion/backend/go-services/internal/events"
	"github.com/jotion/jotion/backend/go-services/pkg/logger"
	"github.com/jotion/jotion/backend/go-services/pkg/metrics"
	"golang.org/x/sync/semaphore"
)

// Kind is the state change a cascade applies to every descendant.
type Kind string

const (
	KindArchive Kind = "archive"
	KindRestore Kind = "restore"
	KindDelete  Kind = "delete"
)

// Status of a cascade job.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// ErrTooDeep stops a walk whose subtree exceeds the configured depth.
var ErrTooDeep = errors.New("subtree exceeds maximum depth")

// CascadeJob tracks one subtree walk. Updated counts descendants changed so
// far; the root document itself is not included.
type CascadeJob struct {
	ID         string     `json:"id" bson:"_id"`
	Kind       Kind       `json:"kind" bson:"kind"`
	OwnerID    string     `json:"ownerId" bson:"ownerId"`
	RootID     string     `json:"rootId" bson:"rootId"`
	Status     Status     `json:"status" bson:"status"`
	Updated    int        `json:"updated" bson:"updated"`
	Error      string     `json:"error,omitempty" bson:"error,omitempty"`
	CreatedAt  time.Time  `json:"createdAt" bson:"createdAt"`
	StartedAt  *time.Time `json:"startedAt,omitempty" bson:"startedAt,omitempty"`
	FinishedAt *time.Time `json:"finishedAt,omitempty" bson:"finishedAt,omitempty"`
}

// Done reports whether the job reached a terminal status.
func (j *CascadeJob) Done() bool {
	return j.Status == StatusSucceeded || j.Status == StatusFailed
}

type CascaderConfig struct {
	Async    bool
	Workers  int
	MaxDepth int
}

// Cascader walks a document's subtree breadth-first and applies a Kind to
// every descendant. Walks for the same owner never overlap. In async mode
// Start queues the walk and returns immediately; each owner's queue is
// drained in submission order by a single worker holding one pool slot.
// Otherwise Start runs the walk before returning.
type Cascader struct {
	repo     repository.Repository
	jobs     JobStore
	pub      events.Publisher
	async    bool
	maxDepth int
	sem      *semaphore.Weighted

	locks sync.Map // owner id -> *sync.Mutex
	wg    sync.WaitGroup

	qmu    sync.Mutex
	queues map[string][]*CascadeJob // owner id -> pending jobs; present while a worker runs

	ctx    context.Context
	cancel context.CancelFunc
	now    func() time.Time

	onRemove func(context.Context, *document.Document)
}

func NewCascader(repo repository.Repository, jobs JobStore, pub events.Publisher, cfg CascaderConfig) *Cascader {
	if cfg.Workers < 1 {
		cfg.Workers = 4
	}
	if cfg.MaxDepth < 1 {
		cfg.MaxDepth = 256
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Cascader{
		repo:     repo,
		jobs:     jobs,
		pub:      pub,
		async:    cfg.Async,
		maxDepth: cfg.MaxDepth,
		sem:      semaphore.NewWeighted(int64(cfg.Workers)),
		queues:   make(map[string][]*CascadeJob),
		ctx:      ctx,
		cancel:   cancel,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (c *Cascader) newJob(kind Kind, owner, root string) *CascadeJob {
	return &CascadeJob{
		ID:        uuid.NewString(),
		Kind:      kind,
		OwnerID:   owner,
		RootID:    root,
		Status:    StatusPending,
		CreatedAt: c.now(),
	}
}

// Start launches a cascade for root's descendants according to the mode.
func (c *Cascader) Start(ctx context.Context, kind Kind, owner, root string) (*CascadeJob, error) {
	if !c.async {
		return c.Run(ctx, kind, owner, root)
	}
	job := c.newJob(kind, owner, root)
	if err := c.jobs.Save(ctx, job); err != nil {
		return nil, fmt.Errorf("save cascade job: %w", err)
	}
	snapshot := *job
	c.enqueue(job)
	return &snapshot, nil
}

// enqueue appends job to its owner's queue and starts a worker for the owner
// when none is running.
func (c *Cascader) enqueue(job *CascadeJob) {
	c.qmu.Lock()
	defer c.qmu.Unlock()
	q, running := c.queues[job.OwnerID]
	c.queues[job.OwnerID] = append(q, job)
	if running {
		return
	}
	c.wg.Add(1)
	go c.drain(job.OwnerID)
}

// drain runs owner's queued jobs one at a time until the queue is empty.
func (c *Cascader) drain(owner string) {
	defer c.wg.Done()
	for {
		c.qmu.Lock()
		q := c.queues[owner]
		if len(q) == 0 {
			delete(c.queues, owner)
			c.qmu.Unlock()
			return
		}
		job := q[0]
		c.queues[owner] = q[1:]
		c.qmu.Unlock()

		if err := c.sem.Acquire(c.ctx, 1); err != nil {
			c.finish(c.ctx, job, 0, fmt.Errorf("cascade not started: %w", err))
			continue
		}
		_ = c.execute(c.ctx, job)
		c.sem.Release(1)
	}
}

// Run performs the walk synchronously and returns the finished job. The
// returned error is the walk's error, if any.
func (c *Cascader) Run(ctx context.Context, kind Kind, owner, root string) (*CascadeJob, error) {
	job := c.newJob(kind, owner, root)
	err := c.execute(ctx, job)
	return job, err
}

func (c *Cascader) ownerLock(owner string) *sync.Mutex {
	mu, _ := c.locks.LoadOrStore(owner, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

func (c *Cascader) execute(ctx context.Context, job *CascadeJob) error {
	mu := c.ownerLock(job.OwnerID)
	mu.Lock()
	defer mu.Unlock()

	started := c.now()
	job.Status = StatusRunning
	job.StartedAt = &started
	c.save(ctx, job)

	metrics.CascadesInFlight.Inc()
	defer metrics.CascadesInFlight.Dec()

	n, err := c.walk(ctx, job.Kind, job.OwnerID, job.RootID)
	c.finish(ctx, job, n, err)
	return err
}

func (c *Cascader) save(ctx context.Context, job *CascadeJob) {
	if err := c.jobs.Save(context.WithoutCancel(ctx), job); err != nil {
		logger.Warnw("save cascade job", "job", job.ID, "status", job.Status, "error", err)
	}
}

func (c *Cascader) finish(ctx context.Context, job *CascadeJob, updated int, err error) {
	finished := c.now()
	job.Updated = updated
	job.FinishedAt = &finished
	if err != nil {
		job.Status = StatusFailed
		job.Error = err.Error()
		logger.Errorw("cascade failed", "job", job.ID, "kind", job.Kind, "root", job.RootID, "updated", updated, "error", err)
	} else {
		job.Status = StatusSucceeded
		logger.Debugw("cascade finished", "job", job.ID, "kind", job.Kind, "root", job.RootID, "updated", updated)
	}
	c.save(ctx, job)

	metrics.CascadeJobs.WithLabelValues(string(job.Kind), string(job.Status)).Inc()
	metrics.CascadeNodes.WithLabelValues(string(job.Kind)).Add(float64(updated))

	if c.pub != nil {
		e := events.Event{Type: events.Cascaded, OwnerID: job.OwnerID, DocumentID: job.RootID, JobID: job.ID}
		if perr := c.pub.Publish(context.WithoutCancel(ctx), e); perr != nil {
			logger.Warnw("publish cascade event", "job", job.ID, "error", perr)
		}
	}
}

// walk visits root's descendants level by level. Children are matched by
// parentId and owner. Archive and restore patch each child as it is found;
// delete collects the subtree and removes it deepest level first. A failing
// step aborts the walk and leaves earlier changes in place.
func (c *Cascader) walk(ctx context.Context, kind Kind, owner, root string) (int, error) {
	type node struct {
		id    string
		depth int
	}
	queue := []node{{id: root}}
	seen := map[string]bool{root: true}
	var doomed []string
	updated := 0

	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		if err := ctx.Err(); err != nil {
			return updated, err
		}
		parentID := n.id
		children, err := c.repo.List(ctx, repository.Filter{OwnerID: owner, ByParent: true, ParentID: &parentID})
		if err != nil {
			return updated, fmt.Errorf("list children of %s: %w", n.id, err)
		}
		for _, child := range children {
			if seen[child.ID] {
				continue
			}
			seen[child.ID] = true
			if n.depth+1 > c.maxDepth {
				return updated, fmt.Errorf("%w (%d) below %s", ErrTooDeep, c.maxDepth, root)
			}
			switch kind {
			case KindArchive, KindRestore:
				_, err := c.repo.Update(ctx, child.ID, document.Patch{IsArchived: document.Bool(kind == KindArchive)})
				if errors.Is(err, repository.ErrNotFound) {
					continue
				}
				if err != nil {
					return updated, fmt.Errorf("%s %s: %w", kind, child.ID, err)
				}
				updated++
			case KindDelete:
				doomed = append(doomed, child.ID)
			default:
				return updated, fmt.Errorf("unknown cascade kind %q", kind)
			}
			queue = append(queue, node{id: child.ID, depth: n.depth + 1})
		}
	}

	for i := len(doomed) - 1; i >= 0; i-- {
		d, err := c.repo.Delete(ctx, doomed[i])
		if errors.Is(err, repository.ErrNotFound) {
			continue
		}
		if err != nil {
			return updated, fmt.Errorf("delete %s: %w", doomed[i], err)
		}
		updated++
		if c.onRemove != nil {
			c.onRemove(ctx, d)
		}
	}
	return updated, nil
}

// Wait blocks until every background walk has finished.
func (c *Cascader) Wait() { c.wg.Wait() }

// Close waits for background walks. When ctx expires first the remaining
// walks are cancelled and ctx.Err() is returned.
func (c *Cascader) Close(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		c.cancel()
		return nil
	case <-ctx.Done():
		c.cancel()
		<-done
		return ctx.Err()
	}
}
