package watcher

import (
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
)

// DefaultDispatchWorkers is the number of idle dispatch goroutines kept
// when none is configured.
const DefaultDispatchWorkers = 8

// dispatchJob is one (event, subscription) delivery. A final job carries no
// event; it ends the subscription once the jobs ahead of it are delivered.
type dispatchJob struct {
	sub   *Subscription
	event Event
	final bool
	cause error
}

// lane holds the undelivered jobs of one subscription. At most one
// goroutine drains a lane at a time, so a subscription sees its events in
// order and one callback never runs concurrently with itself.
type lane struct {
	sub  *Subscription
	jobs []dispatchJob
}

// dispatcher runs subscriber callbacks. Each subscription has its own
// lane. A lane with work is handed to an idle worker, or to a new
// goroutine when every worker is busy, so a blocked callback only holds
// up the deliveries of its own subscription.
type dispatcher struct {
	logger  *slog.Logger
	metrics Recorder
	idle    chan *lane

	mu     sync.Mutex
	lanes  map[*Subscription]*lane
	queued int
	closed bool

	active  sync.WaitGroup
	workers sync.WaitGroup
}

func newDispatcher(logger *slog.Logger, metrics Recorder, workers int) *dispatcher {
	if workers <= 0 {
		workers = DefaultDispatchWorkers
	}
	d := &dispatcher{
		logger:  logger,
		metrics: metrics,
		idle:    make(chan *lane),
		lanes:   make(map[*Subscription]*lane),
	}

	d.workers.Add(workers)
	for range workers {
		go d.work()
	}
	return d
}

// submit queues jobs for delivery. It reports false once the dispatcher is closed.
func (d *dispatcher) submit(jobs ...dispatchJob) bool {
	if len(jobs) == 0 {
		return true
	}

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return false
	}
	var started []*lane
	for _, job := range jobs {
		l, ok := d.lanes[job.sub]
		if !ok {
			l = &lane{sub: job.sub}
			d.lanes[job.sub] = l
			d.active.Add(1)
			started = append(started, l)
		}
		l.jobs = append(l.jobs, job)
		d.queued++
	}
	d.mu.Unlock()

	for _, l := range started {
		select {
		case d.idle <- l:
		default:
			go d.drain(l)
		}
	}
	return true
}

// pending returns the number of jobs not yet handed to a callback.
func (d *dispatcher) pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.queued
}

// close stops accepting jobs, waits for every lane to drain and then stops
// the workers.
func (d *dispatcher) close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	d.mu.Unlock()

	d.active.Wait()
	close(d.idle)
	d.workers.Wait()
}

func (d *dispatcher) work() {
	defer d.workers.Done()

	for l := range d.idle {
		d.drain(l)
	}
}

// drain delivers the jobs of l until it is empty, then retires the lane.
func (d *dispatcher) drain(l *lane) {
	for {
		d.mu.Lock()
		if len(l.jobs) == 0 {
			delete(d.lanes, l.sub)
			d.mu.Unlock()
			d.active.Done()
			return
		}
		job := l.jobs[0]
		l.jobs[0] = dispatchJob{}
		l.jobs = l.jobs[1:]
		d.queued--
		d.mu.Unlock()

		if job.final {
			job.sub.finish(job.cause)
			continue
		}
		d.deliver(job)
	}
}

// deliver runs one callback. A panic is logged and does not kill the lane.
// Jobs for a subscription that has already ended are skipped.
func (d *dispatcher) deliver(job dispatchJob) {
	if job.sub.finished() {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			d.metrics.CallbackPanicked()
			d.logger.Error("subscriber callback panicked",
				"path", job.sub.Path,
				"event", job.event.Type.String(),
				"error", fmt.Sprint(r),
				"stack", string(debug.Stack()),
			)
		}
	}()

	job.sub.Callback(job.event)
	d.metrics.EventDispatched(job.event.Type)
}
