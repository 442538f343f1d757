package reactive

import (
	"sync"
	"time"
)

// debounceEpsilon tolerates timer wake-up jitter when deciding whether
// a pending emission was superseded by a newer call.
const debounceEpsilon = 10 * time.Millisecond

// DebouncedEmitter returns a function that coalesces bursts of calls
// into a single delayed emission of event. Each call (re)starts the
// delay timer, cancelling the previous one, so a burst of N calls
// inside the window yields at most one emission carrying the payload
// of the last call. The returned function is safe for concurrent use;
// timer cancel/restart is serialized by a mutex private to the
// emitter instance.
func (b *Bus) DebouncedEmitter(event string, delay time.Duration) func(data any) {
	var (
		mu       sync.Mutex
		timer    *time.Timer
		lastCall time.Time
	)

	return func(data any) {
		mu.Lock()
		defer mu.Unlock()

		lastCall = time.Now()
		call := lastCall

		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(delay, func() {
			mu.Lock()
			superseded := lastCall.Sub(call) > debounceEpsilon
			mu.Unlock()
			if superseded {
				return
			}
			b.Emit(event, data)
		})
	}
}
