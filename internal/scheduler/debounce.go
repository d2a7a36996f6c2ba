package scheduler

import (
	"log"
	"sync"
	"time"
)

// debouncer coalesces bursts of push notifications per key. A new trigger
// within the window replaces the pending one, so a burst runs the function
// once, after the burst quiets down.
type debouncer struct {
	mu     sync.Mutex
	delay  time.Duration
	timers map[string]*time.Timer
}

func newDebouncer(delay time.Duration) *debouncer {
	return &debouncer{delay: delay, timers: make(map[string]*time.Timer)}
}

// trigger schedules fn to run after the debounce window, replacing any pending
// run for the same key. fn runs on a timer goroutine; panics are contained so
// one bad run cannot kill the process.
func (d *debouncer) trigger(key string, fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if t, ok := d.timers[key]; ok {
		t.Stop()
	}
	d.timers[key] = time.AfterFunc(d.delay, func() {
		d.mu.Lock()
		delete(d.timers, key)
		d.mu.Unlock()

		defer func() {
			if r := recover(); r != nil {
				log.Printf("[Scheduler] debounced run for %s panicked: %v", key, r)
			}
		}()
		fn()
	})
}

// pending reports whether a run is queued for the key. Test hook.
func (d *debouncer) pending(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.timers[key]
	return ok
}
