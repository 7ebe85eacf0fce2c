package executor

import (
	"context"
	"errors"
	"sync"

	"github.com/NamanBalaji/rdm/internal/logger"
)

var (
	// ErrPoolClosed is returned by Submit once Shutdown or ShutdownNow has been called.
	ErrPoolClosed = errors.New("executor is shut down")
	// ErrInvalidSize is returned when the worker limit is not positive.
	ErrInvalidSize = errors.New("pool size must be at least 1")
)

// Stats is a point-in-time view of the pool.
type Stats struct {
	Active     int `json:"active"`
	Queued     int `json:"queued"`
	MaxWorkers int `json:"maxWorkers"`
}

type job struct {
	id     string
	run    func(ctx context.Context)
	abort  func()
	ctx    context.Context
	cancel context.CancelFunc
}

// Handle refers to a submitted job.
type Handle struct {
	pool *Pool
	job  *job
}

// Cancel cancels the job's context. It reports true when the job was still
// queued; such a job is removed and will never run.
func (h *Handle) Cancel() bool {
	removed := h.pool.dequeue(h.job)
	h.job.cancel()

	return removed
}

// Pool runs submitted jobs with at most MaxWorkers of them active at a time.
// Jobs beyond the limit wait in FIFO order.
type Pool struct {
	mu sync.Mutex

	maxWorkers int
	queued     []*job
	active     int
	closed     bool

	ctx    context.Context
	cancel context.CancelFunc

	drained     chan struct{}
	drainedOnce sync.Once
}

// New creates a pool with the given worker limit.
func New(maxWorkers int) (*Pool, error) {
	if maxWorkers < 1 {
		return nil, ErrInvalidSize
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Pool{
		maxWorkers: maxWorkers,
		queued:     make([]*job, 0),
		ctx:        ctx,
		cancel:     cancel,
		drained:    make(chan struct{}),
	}, nil
}

// Submit queues run for execution. The context passed to run is cancelled
// when the handle is cancelled or the pool is shut down forcefully. abort is
// called instead of run if the job is discarded by ShutdownNow; it may be nil.
func (p *Pool) Submit(id string, run func(ctx context.Context), abort func()) (*Handle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, ErrPoolClosed
	}

	ctx, cancel := context.WithCancel(p.ctx)
	j := &job{id: id, run: run, abort: abort, ctx: ctx, cancel: cancel}

	p.queued = append(p.queued, j)
	logger.Debugf("Job %s queued (active=%d, queued=%d, max=%d)", id, p.active, len(p.queued), p.maxWorkers)

	p.fillAvailableSlotsLocked()

	return &Handle{pool: p, job: j}, nil
}

// SetMaxWorkers changes the worker limit. Growing starts queued jobs at once;
// shrinking lets running jobs finish and holds new ones back until below the limit.
func (p *Pool) SetMaxWorkers(n int) error {
	if n < 1 {
		return ErrInvalidSize
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	logger.Infof("Resizing pool from %d to %d workers", p.maxWorkers, n)
	p.maxWorkers = n
	p.fillAvailableSlotsLocked()

	return nil
}

func (p *Pool) MaxWorkers() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.maxWorkers
}

func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	return Stats{Active: p.active, Queued: len(p.queued), MaxWorkers: p.maxWorkers}
}

// Shutdown stops accepting jobs and waits until every queued and running job
// has finished, or until ctx is done.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	p.closed = true
	p.checkDrainedLocked()
	p.mu.Unlock()

	select {
	case <-p.drained:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ShutdownNow stops accepting jobs, discards the queue and cancels running
// jobs. It returns the ids of the discarded jobs.
func (p *Pool) ShutdownNow() []string {
	p.mu.Lock()
	p.closed = true
	dropped := p.queued
	p.queued = nil
	p.checkDrainedLocked()
	p.mu.Unlock()

	ids := make([]string, 0, len(dropped))
	for _, j := range dropped {
		ids = append(ids, j.id)
		j.cancel()
		if j.abort != nil {
			j.abort()
		}
	}

	p.cancel()

	if len(dropped) > 0 {
		logger.Warnf("Discarded %d queued jobs", len(dropped))
	}

	return ids
}

// Done is closed once the pool is shut down and no jobs remain.
func (p *Pool) Done() <-chan struct{} {
	return p.drained
}

func (p *Pool) dequeue(target *job) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	for i, j := range p.queued {
		if j == target {
			p.queued = append(p.queued[:i], p.queued[i+1:]...)
			p.checkDrainedLocked()
			return true
		}
	}

	return false
}

// fillAvailableSlotsLocked starts queued jobs while slots are available
func (p *Pool) fillAvailableSlotsLocked() {
	available := p.maxWorkers - p.active
	if available <= 0 || len(p.queued) == 0 {
		return
	}

	toStart := min(available, len(p.queued))
	for i := 0; i < toStart; i++ {
		j := p.queued[0]
		p.queued[0] = nil
		p.queued = p.queued[1:]
		p.active++

		go p.execute(j)
	}
}

func (p *Pool) execute(j *job) {
	defer p.finish(j)

	j.run(j.ctx)
}

func (p *Pool) finish(j *job) {
	j.cancel()

	p.mu.Lock()
	defer p.mu.Unlock()

	p.active--
	p.fillAvailableSlotsLocked()
	p.checkDrainedLocked()
}

func (p *Pool) checkDrainedLocked() {
	if p.closed && p.active == 0 && len(p.queued) == 0 {
		p.drainedOnce.Do(func() { close(p.drained) })
	}
}
