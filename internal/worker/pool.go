// Package worker runs jobs on an elastic set of goroutines. Workers are spawned on
// demand up to a maximum and retired after sitting idle, down to a minimum.
package worker

import (
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Job is a unit of work. A panicking job is logged and does not kill its worker.
type Job func()

var ErrPoolClosed = errors.New("worker pool closed")

const defaultWorkerIdle = 30 * time.Second

type workerMeta struct {
	ch        chan Job
	lastUsed  time.Time
	enqueued  bool // in the idle queue
	discarded bool // told to stop
}

type Pool struct {
	mu       sync.Mutex
	cond     *sync.Cond
	idle     []*workerMeta
	metadata map[chan Job]*workerMeta
	min      int
	max      int
	running  int
	active   int // acquired and not yet released
	expiry   time.Duration
	closed   bool
	logger   *zap.Logger

	stop      chan struct{}
	purgeDone chan struct{}
	wg        sync.WaitGroup
}

// NewPool starts minWorkers workers. maxWorkers below one is treated as one.
func NewPool(minWorkers, maxWorkers int, idle time.Duration, logger *zap.Logger) *Pool {
	if idle <= 0 {
		idle = defaultWorkerIdle
	}
	if minWorkers < 0 {
		minWorkers = 0
	}
	if maxWorkers < 1 {
		maxWorkers = 1
	}
	if maxWorkers < minWorkers {
		maxWorkers = minWorkers
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Pool{
		metadata:  make(map[chan Job]*workerMeta),
		min:       minWorkers,
		max:       maxWorkers,
		expiry:    idle,
		logger:    logger,
		stop:      make(chan struct{}),
		purgeDone: make(chan struct{}),
	}
	p.cond = sync.NewCond(&p.mu)

	p.mu.Lock()
	for i := 0; i < minWorkers; i++ {
		meta := p.spawnLocked()
		meta.enqueued = true
		meta.lastUsed = time.Now()
		p.idle = append(p.idle, meta)
	}
	p.mu.Unlock()

	go p.purgeStaleWorkers()
	return p
}

// Submit hands job to an idle worker, spawning one if below the maximum and
// blocking otherwise.
func (p *Pool) Submit(job Job) error {
	if job == nil {
		return errors.New("nil job")
	}
	ch, err := p.acquire()
	if err != nil {
		return err
	}
	ch <- job
	return nil
}

// Running reports the number of live workers.
func (p *Pool) Running() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// Close waits for submitted jobs to finish and stops every worker.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.cond.Broadcast()
	p.mu.Unlock()

	close(p.stop)
	<-p.purgeDone

	p.mu.Lock()
	for p.active > 0 {
		p.cond.Wait()
	}
	var live []*workerMeta
	for _, meta := range p.metadata {
		if !meta.discarded {
			meta.discarded = true
			live = append(live, meta)
		}
	}
	p.idle = nil
	p.mu.Unlock()

	for _, meta := range live {
		meta.ch <- nil
	}
	p.wg.Wait()
}

// spawnLocked starts a worker. The caller holds p.mu.
func (p *Pool) spawnLocked() *workerMeta {
	meta := &workerMeta{ch: make(chan Job)}
	p.metadata[meta.ch] = meta
	p.running++
	p.wg.Add(1)
	go p.work(meta.ch)
	return meta
}

func (p *Pool) work(ch chan Job) {
	defer p.wg.Done()
	for job := range ch {
		if job == nil {
			p.retire(ch)
			return
		}
		p.runJob(job)
		p.release(ch)
	}
}

func (p *Pool) runJob(job Job) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("job panicked", zap.Any("panic", r))
		}
	}()
	job()
}

// acquire gets an idle worker, or spawns a new one.
func (p *Pool) acquire() (chan Job, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for {
		if p.closed {
			return nil, ErrPoolClosed
		}
		if meta := p.popIdleLocked(); meta != nil {
			p.active++
			return meta.ch, nil
		}
		if p.running < p.max {
			meta := p.spawnLocked()
			p.active++
			return meta.ch, nil
		}
		p.cond.Wait()
	}
}

// release puts a worker back into the idle queue.
func (p *Pool) release(ch chan Job) {
	p.mu.Lock()
	if p.active > 0 {
		p.active--
	}
	meta, ok := p.metadata[ch]
	if ok && !meta.discarded && !meta.enqueued {
		meta.enqueued = true
		meta.lastUsed = time.Now()
		p.idle = append(p.idle, meta)
	}
	p.mu.Unlock()
	p.cond.Broadcast()
}

func (p *Pool) retire(ch chan Job) {
	p.mu.Lock()
	if meta, ok := p.metadata[ch]; ok {
		delete(p.metadata, ch)
		meta.discarded = true
		if p.running > 0 {
			p.running--
		}
	}
	p.mu.Unlock()
	p.cond.Broadcast()
}

func (p *Pool) popIdleLocked() *workerMeta {
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

func (p *Pool) purgeStaleWorkers() {
	defer close(p.purgeDone)
	ticker := time.NewTicker(p.expiry)
	defer ticker.Stop()
	for {
		select {
		case <-p.stop:
			return
		case <-ticker.C:
			p.shutdownExpired(time.Now())
		}
	}
}

// shutdownExpired retires idle workers unused for longer than the expiry, keeping min alive.
func (p *Pool) shutdownExpired(now time.Time) {
	var stale []*workerMeta

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
		if now.Sub(meta.lastUsed) >= p.expiry && p.running-len(stale) > p.min {
			meta.discarded = true
			meta.enqueued = false
			stale = append(stale, meta)
			continue
		}
		remaining = append(remaining, meta)
	}
	p.idle = remaining
	p.mu.Unlock()

	for _, meta := range stale {
		meta.ch <- nil
	}
	if len(stale) > 0 {
		p.logger.Debug("retired idle workers", zap.Int("count", len(stale)))
	}
}
