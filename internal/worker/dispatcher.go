package worker

import (
	"container/list"
	"errors"
	"sync"
	"time"
)

// ErrBusy is returned when the inbound job queue is full. Callers surface
// it as a retry-later condition.
var ErrBusy = errors.New("dispatcher queue full")

// Job is one unit of completion work. Scope is the fairness key: jobs
// sharing a scope run in FIFO order, different scopes interleave so one
// noisy group cannot starve the rest.
type Job struct {
	Scope string
	Run   func()
}

type scopeQueue struct {
	jobs     []Job
	enqueued bool
}

// Dispatcher feeds jobs from a bounded queue to a sized worker pool,
// round-robining across scopes.
type Dispatcher struct {
	pool     *workerPool
	jobQueue chan Job

	mu        sync.Mutex
	queues    map[string]*scopeQueue
	ready     *list.List // round-robin queue of scope ids
	positions map[string]*list.Element
}

// Config sizes the dispatcher.
type Config struct {
	MinWorkers  int
	MaxWorkers  int
	QueueSize   int
	IdleTimeout time.Duration
}

func NewDispatcher(cfg Config) *Dispatcher {
	if cfg.MinWorkers <= 0 {
		cfg.MinWorkers = 1
	}
	if cfg.MaxWorkers < cfg.MinWorkers {
		cfg.MaxWorkers = cfg.MinWorkers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 16
	}
	d := &Dispatcher{
		pool:      newWorkerPool(cfg.MinWorkers, cfg.MaxWorkers, cfg.IdleTimeout),
		jobQueue:  make(chan Job, cfg.QueueSize),
		queues:    make(map[string]*scopeQueue),
		ready:     list.New(),
		positions: make(map[string]*list.Element),
	}
	go d.run()
	return d
}

// Submit enqueues a job, or fails immediately with ErrBusy when the queue
// is full.
func (d *Dispatcher) Submit(job Job) error {
	select {
	case d.jobQueue <- job:
		return nil
	default:
		return ErrBusy
	}
}

// Do submits fn and waits for it to finish, returning ErrBusy when the
// queue is full.
func (d *Dispatcher) Do(scope string, fn func()) error {
	done := make(chan struct{})
	err := d.Submit(Job{Scope: scope, Run: func() {
		defer close(done)
		fn()
	}})
	if err != nil {
		return err
	}
	<-done
	return nil
}

func (d *Dispatcher) run() {
	for {
		// pull everything waiting into the scope queues first, so the
		// round-robin sees the whole backlog rather than channel order
		d.drainQueue()
		if !d.dispatchOne() {
			// nothing queued; block until a job arrives
			d.enqueueJob(<-d.jobQueue)
		}
	}
}

func (d *Dispatcher) drainQueue() {
	for {
		select {
		case job := <-d.jobQueue:
			d.enqueueJob(job)
		default:
			return
		}
	}
}

func (d *Dispatcher) enqueueJob(job Job) {
	d.mu.Lock()
	defer d.mu.Unlock()

	q := d.queues[job.Scope]
	if q == nil {
		q = &scopeQueue{}
		d.queues[job.Scope] = q
	}
	q.jobs = append(q.jobs, job)
	if q.enqueued {
		return
	}
	q.enqueued = true
	d.positions[job.Scope] = d.ready.PushBack(job.Scope)
}

// dispatchOne hands the front scope's oldest job to a worker, rotating the
// scope to the back of the ready list when it has more work.
func (d *Dispatcher) dispatchOne() bool {
	d.mu.Lock()
	elem := d.ready.Front()
	if elem == nil {
		d.mu.Unlock()
		return false
	}
	scope := elem.Value.(string)
	q := d.queues[scope]
	job := q.jobs[0]
	q.jobs = q.jobs[1:]
	if len(q.jobs) == 0 {
		q.enqueued = false
		d.ready.Remove(elem)
		delete(d.positions, scope)
		delete(d.queues, scope)
	} else {
		d.ready.MoveToBack(elem)
	}
	d.mu.Unlock()

	d.pool.acquire() <- job
	return true
}
