package worker

import (
	"sync"
	"time"
)

const defaultWorkerIdle = 30 * time.Second

type workerMeta struct {
	ch        chan Job
	lastUsed  time.Time
	enqueued  bool // is in the idle queue
	discarded bool // is targeted for retirement
}

// workerPool keeps between min and max workers alive, spawning on demand
// and retiring workers idle past the expiry.
type workerPool struct {
	mu       sync.Mutex
	cond     *sync.Cond
	idle     []*workerMeta
	metadata map[chan Job]*workerMeta
	min      int
	max      int
	running  int
	expiry   time.Duration
}

func newWorkerPool(min, max int, idle time.Duration) *workerPool {
	if idle <= 0 {
		idle = defaultWorkerIdle
	}
	p := &workerPool{
		metadata: make(map[chan Job]*workerMeta),
		min:      min,
		max:      max,
		expiry:   idle,
	}
	p.cond = sync.NewCond(&p.mu)
	for i := 0; i < min; i++ {
		p.spawnLocked()
	}
	go p.purgeStaleWorkers()
	return p
}

// spawnLocked starts one worker goroutine and parks it on the idle list so
// acquire can hand it work; callers hold p.mu or run before the pool is
// shared.
func (p *workerPool) spawnLocked() {
	ch := make(chan Job)
	meta := &workerMeta{ch: ch, enqueued: true, lastUsed: time.Now()}
	p.metadata[ch] = meta
	p.idle = append(p.idle, meta)
	p.running++
	go p.work(ch)
}

func (p *workerPool) work(ch chan Job) {
	// the channel is closed to retire the worker
	for job := range ch {
		job.Run()
		p.release(ch)
	}
}

// acquire returns an idle worker channel, spawning up to max and blocking
// when every worker is busy.
func (p *workerPool) acquire() chan Job {
	p.mu.Lock()
	defer p.mu.Unlock()
	for {
		if meta := p.popIdleLocked(); meta != nil {
			return meta.ch
		}
		if p.running < p.max {
			ch := make(chan Job)
			p.metadata[ch] = &workerMeta{ch: ch}
			p.running++
			go p.work(ch)
			return ch
		}
		p.cond.Wait()
	}
}

func (p *workerPool) release(ch chan Job) {
	p.mu.Lock()
	meta, ok := p.metadata[ch]
	if !ok || meta.discarded || meta.enqueued {
		p.mu.Unlock()
		return
	}
	meta.enqueued = true
	meta.lastUsed = time.Now()
	p.idle = append(p.idle, meta)
	p.mu.Unlock()
	p.cond.Signal()
}

func (p *workerPool) popIdleLocked() *workerMeta {
	for len(p.idle) > 0 {
		meta := p.idle[0]
		p.idle = p.idle[1:]
		if meta.discarded {
			continue
		}
		meta.enqueued = false
		return meta
	}
	return nil
}

func (p *workerPool) purgeStaleWorkers() {
	ticker := time.NewTicker(p.expiry)
	defer ticker.Stop()
	for range ticker.C {
		p.shutdownExpired()
	}
}

// shutdownExpired retires workers idle past the expiry, never dropping
// below min.
func (p *workerPool) shutdownExpired() {
	var stale []*workerMeta
	now := time.Now()

	p.mu.Lock()
	if len(p.idle) == 0 || p.running <= p.min {
		p.mu.Unlock()
		return
	}
	remaining := p.idle[:0]
	for _, meta := range p.idle {
		if meta.discarded {
			continue
		}
		if now.Sub(meta.lastUsed) >= p.expiry && p.running > p.min {
			meta.discarded = true
			meta.enqueued = false
			delete(p.metadata, meta.ch)
			p.running--
			stale = append(stale, meta)
			continue
		}
		remaining = append(remaining, meta)
	}
	p.idle = remaining
	p.mu.Unlock()

	for _, meta := range stale {
		close(meta.ch)
	}
}
