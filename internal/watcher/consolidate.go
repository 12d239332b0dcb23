package watcher

import (
	"fmt"
	"time"
)

// consolidationLoop ticks while the engine lives. Each tick runs in its
// own goroutine; a tick that finds the previous one still running is skipped.
func (e *engine) consolidationLoop() {
	defer e.wg.Done()

	ticker := time.NewTicker(e.opts.ConsolidationInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.ctx.Done():
			return
		case <-ticker.C:
			if e.State() == StateEnabled {
				go e.consolidate()
			}
		}
	}
}

// consolidate runs one tick: flush events that were held by the previous
// tick, absorbing their later duplicates, and hold everything newer.
func (e *engine) consolidate() {
	if !e.tickMu.TryLock() {
		return
	}
	defer e.tickMu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("consolidation tick panicked", "error", fmt.Sprint(r))
		}
	}()

	ready, dropped := e.collect()
	if dropped > 0 {
		e.opts.Metrics.DuplicatesDropped(dropped)
	}
	if e.State() != StateEnabled {
		return
	}
	e.dispatchEvents(ready)
}

// collect partitions the buffer. Unheld events become held and stay; held
// events remove every later duplicate and leave the buffer in order.
func (e *engine) collect() (ready []*bufferedEvent, dropped int) {
	e.eventsMu.Lock()
	defer e.eventsMu.Unlock()

	events := e.events
	var rest []*bufferedEvent

	for i, ev := range events {
		if ev == nil {
			continue
		}
		if !ev.held {
			ev.held = true
			rest = append(rest, ev)
			continue
		}
		for j := i + 1; j < len(events); j++ {
			if events[j] != nil && ev.duplicates(events[j]) {
				events[j] = nil
				dropped++
			}
		}
		ready = append(ready, ev)
	}

	e.events = rest
	return ready, dropped
}
