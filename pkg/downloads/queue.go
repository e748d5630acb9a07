// Package downloads implements the video-download job queue: a FIFO queue
// drained by a worker pool with a static concurrency cap. Jobs never contend
// on locks with each other; ordering comes from the queue and parallelism
// from the pool.
package downloads

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Workiva/go-datastructures/queue"
	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"
)

// ErrClosed is returned by Enqueue after the queue shut down.
var ErrClosed = errors.New("downloads: queue is closed")

// Job is one download request.
type Job struct {
	// ID is assigned at enqueue time.
	ID string `json:"id"`

	// URL is the media location to fetch.
	URL string `json:"url"`

	// Requester identifies the user who asked for the download.
	Requester string `json:"requester"`

	// EnqueuedAt is when the job entered the queue.
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// Handler processes one job. It runs on a pool worker; the context is the
// queue's lifetime context.
type Handler func(ctx context.Context, job Job) error

// Config configures a Queue.
type Config struct {
	// Concurrency is the static cap on jobs processed in parallel.
	Concurrency int `yaml:"concurrency"`

	// QueueHint sizes the backing queue's initial allocation.
	QueueHint int64 `yaml:"queue_hint"`
}

// Queue is the download job queue.
type Queue struct {
	q       *queue.Queue
	pool    *ants.Pool
	handler Handler

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	closed    atomic.Bool
	enqueued  atomic.Uint64
	completed atomic.Uint64
	failed    atomic.Uint64
}

// NewQueue creates a queue and starts its dispatch loop.
func NewQueue(cfg Config, handler Handler) (*Queue, error) {
	if handler == nil {
		return nil, fmt.Errorf("downloads: handler is required")
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 2
	}
	if cfg.QueueHint <= 0 {
		cfg.QueueHint = 16
	}

	pool, err := ants.NewPool(cfg.Concurrency)
	if err != nil {
		return nil, fmt.Errorf("downloads: creating worker pool: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	d := &Queue{
		q:       queue.New(cfg.QueueHint),
		pool:    pool,
		handler: handler,
		ctx:     ctx,
		cancel:  cancel,
	}

	d.wg.Add(1)
	go d.dispatch()
	return d, nil
}

// Enqueue appends a job to the back of the queue and returns it with its
// assigned ID.
func (d *Queue) Enqueue(url, requester string) (Job, error) {
	if d.closed.Load() {
		return Job{}, ErrClosed
	}
	if url == "" {
		return Job{}, fmt.Errorf("downloads: URL is required")
	}

	job := Job{
		ID:         uuid.NewString(),
		URL:        url,
		Requester:  requester,
		EnqueuedAt: time.Now(),
	}
	if err := d.q.Put(job); err != nil {
		return Job{}, ErrClosed
	}

	d.enqueued.Add(1)
	slog.Debug("downloads: job enqueued",
		"job_id", job.ID, "requester", requester)
	return job, nil
}

// dispatch pulls jobs in FIFO order and hands them to the pool. Submission
// blocks while all workers are busy, which is what enforces the static cap.
func (d *Queue) dispatch() {
	defer d.wg.Done()

	for {
		items, err := d.q.Get(1)
		if err != nil {
			// The queue was disposed; drain is over.
			return
		}
		for _, item := range items {
			job, ok := item.(Job)
			if !ok {
				continue
			}
			d.wg.Add(1)
			if err := d.pool.Submit(func() { d.run(job) }); err != nil {
				d.wg.Done()
				if !errors.Is(err, ants.ErrPoolClosed) {
					slog.Error("downloads: submitting job failed",
						"job_id", job.ID, "error", err)
				}
				return
			}
		}
	}
}

// run executes one job on a pool worker.
func (d *Queue) run(job Job) {
	defer d.wg.Done()

	start := time.Now()
	if err := d.handler(d.ctx, job); err != nil {
		d.failed.Add(1)
		slog.Warn("downloads: job failed",
			"job_id", job.ID, "url", job.URL, "error", err,
			"duration", time.Since(start))
		return
	}

	d.completed.Add(1)
	slog.Info("downloads: job completed",
		"job_id", job.ID, "duration", time.Since(start))
}

// Stats reports queue counters.
type Stats struct {
	Pending   int64  `json:"pending"`
	Running   int    `json:"running"`
	Enqueued  uint64 `json:"enqueued"`
	Completed uint64 `json:"completed"`
	Failed    uint64 `json:"failed"`
}

// Stats returns a point-in-time view of the queue.
func (d *Queue) Stats() Stats {
	return Stats{
		Pending:   d.q.Len(),
		Running:   d.pool.Running(),
		Enqueued:  d.enqueued.Load(),
		Completed: d.completed.Load(),
		Failed:    d.failed.Load(),
	}
}

// Close stops intake, cancels the lifetime context, and waits for running
// jobs to finish. Pending jobs that were never dispatched are abandoned.
func (d *Queue) Close() error {
	if !d.closed.CompareAndSwap(false, true) {
		return nil
	}

	d.q.Dispose()
	d.cancel()
	d.wg.Wait()
	d.pool.Release()
	return nil
}
