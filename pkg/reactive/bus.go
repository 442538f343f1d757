package reactive

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

/*
	In-process publish/subscribe bus with a keyed state store attached.

	One Bus is constructed per login session and passed explicitly to
	everything that needs it. All shared structures (observer table,
	state map, history ring, element bindings) are guarded by a single
	mutex scoped to the Bus instance. Callbacks are always invoked
	outside that mutex so a callback may re-enter the bus (emit, set
	state, subscribe) without deadlocking.
*/

// Well-known event names emitted by the bus itself.
const (
	EventStateChanged      = "state_changed"
	EventBatchStateChanged = "batch_state_changed"
	EventHistoryCleared    = "history_cleared"
	EventSystemDisposed    = "system_disposed"
)

// DefaultHistoryCapacity bounds the in-memory event history.
const DefaultHistoryCapacity = 100

// StateChangedEvent is the per-key change event name for a state key.
func StateChangedEvent(key string) string {
	return EventStateChanged + "_" + key
}

// Callback receives the payload an emitter attached to the event.
// A callback that panics is recovered and logged at the bus boundary;
// it never disturbs the emitter or the remaining subscribers.
type Callback func(data any)

// Token identifies one live subscription. Tokens are opaque and
// comparable; the (event, token) pair is unique for the life of the
// subscription. Callers hold the token to unsubscribe later.
type Token string

// Event is one record of the bounded history buffer. Immutable after
// creation.
type Event struct {
	Name      string
	Data      any
	EmittedAt time.Time
}

type subscription struct {
	token Token
	fn    Callback
}

type Config struct {
	Logger          *slog.Logger
	HistoryCapacity int // 0 means DefaultHistoryCapacity
}

type Bus struct {
	logger     *slog.Logger
	maxHistory int

	mu        sync.Mutex
	observers map[string][]subscription
	state     map[string]any
	history   []Event
	bindings  map[string]binding
	closed    bool
}

func New(cfg Config) *Bus {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	maxHistory := cfg.HistoryCapacity
	if maxHistory <= 0 {
		maxHistory = DefaultHistoryCapacity
	}

	return &Bus{
		logger:     logger.WithGroup("bus"),
		maxHistory: maxHistory,
		observers:  make(map[string][]subscription),
		state:      make(map[string]any),
		bindings:   make(map[string]binding),
	}
}

// Subscribe registers fn for event and returns the token that names the
// registration. Subscribing the same function twice yields two distinct
// registrations; dedup is the token's job, not function identity.
func (b *Bus) Subscribe(event string, fn Callback) Token {
	token := Token(uuid.New().String())

	b.mu.Lock()
	b.observers[event] = append(b.observers[event], subscription{token: token, fn: fn})
	b.mu.Unlock()

	b.logger.Debug("subscribed", "event", event, "token", token)
	return token
}

// Unsubscribe removes the registration named by token. Unsubscribing a
// token that is absent (or already removed) is a no-op, not an error.
func (b *Bus) Unsubscribe(event string, token Token) {
	b.mu.Lock()
	subs := b.observers[event]
	for i, sub := range subs {
		if sub.token == token {
			b.observers[event] = append(subs[:i], subs[i+1:]...)
			if len(b.observers[event]) == 0 {
				delete(b.observers, event)
			}
			break
		}
	}
	b.mu.Unlock()
}

// Emit appends the event to history and delivers it to every callback
// registered at the moment of emission. The callback list is
// snapshotted under the lock and invoked after release, so a callback
// that subscribes or unsubscribes affects future emissions only.
// Delivery order equals subscription order.
func (b *Bus) Emit(event string, data any) {
	b.mu.Lock()
	b.appendHistoryLocked(event, data)
	var snapshot []subscription
	if subs := b.observers[event]; len(subs) > 0 {
		snapshot = make([]subscription, len(subs))
		copy(snapshot, subs)
	}
	b.mu.Unlock()

	for _, sub := range snapshot {
		b.invoke(event, sub.fn, data)
	}
}

// EmitAsync schedules delivery on its own goroutine after delay. There
// is no cancellation handle; relative ordering with other emissions is
// best-effort.
func (b *Bus) EmitAsync(event string, data any, delay time.Duration) {
	go func() {
		if delay > 0 {
			time.Sleep(delay)
		}
		b.Emit(event, data)
	}()
}

// invoke runs one callback, containing any panic so delivery to the
// remaining subscribers is unaffected.
func (b *Bus) invoke(event string, fn Callback, data any) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("subscriber callback panicked", "event", event, "panic", r)
		}
	}()
	fn(data)
}

func (b *Bus) appendHistoryLocked(event string, data any) {
	b.history = append(b.history, Event{
		Name:      event,
		Data:      data,
		EmittedAt: time.Now(),
	})
	if len(b.history) > b.maxHistory {
		b.history = b.history[len(b.history)-b.maxHistory:]
	}
}

// History returns recorded events newest-first. Both filters are
// optional: an empty event name matches everything, and limit <= 0
// means no cap.
func (b *Bus) History(event string, limit int) []Event {
	b.mu.Lock()
	matched := make([]Event, 0, len(b.history))
	for _, ev := range b.history {
		if event == "" || ev.Name == event {
			matched = append(matched, ev)
		}
	}
	b.mu.Unlock()

	// Recorded oldest-first; reverse for newest-first.
	for i, j := 0, len(matched)-1; i < j; i, j = i+1, j-1 {
		matched[i], matched[j] = matched[j], matched[i]
	}

	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}
	return matched
}

// ClearHistory drops every recorded event, then announces it.
func (b *Bus) ClearHistory() {
	b.mu.Lock()
	b.history = nil
	b.mu.Unlock()

	b.Emit(EventHistoryCleared, nil)
}

// ObserverCount reports the number of live registrations for event.
func (b *Bus) ObserverCount(event string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.observers[event])
}

// ObserverCounts reports live registration counts for every event that
// has at least one subscriber.
func (b *Bus) ObserverCounts() map[string]int {
	b.mu.Lock()
	defer b.mu.Unlock()

	counts := make(map[string]int, len(b.observers))
	for event, subs := range b.observers {
		counts[event] = len(subs)
	}
	return counts
}

// Close tears the session bus down: observers, state, history, and
// bindings are dropped, then a final system_disposed event is emitted
// (the disposal notice itself is the only entry left in history).
// Using the bus after Close is undefined: calls do not panic, but any
// state or subscriptions they create belong to no session and are
// never torn down again. Debug().Running reports the closed flag.
func (b *Bus) Close() {
	b.mu.Lock()
	b.observers = make(map[string][]subscription)
	b.state = make(map[string]any)
	b.history = nil
	b.bindings = make(map[string]binding)
	b.closed = true
	b.mu.Unlock()

	b.Emit(EventSystemDisposed, nil)
	b.logger.Debug("bus disposed")
}

// DebugInfo is a point-in-time snapshot for diagnostics.
type DebugInfo struct {
	Observers     map[string]int
	StateKeys     []string
	HistoryLength int
	BoundElements []string
	Running       bool
}

func (b *Bus) Debug() DebugInfo {
	b.mu.Lock()
	defer b.mu.Unlock()

	info := DebugInfo{
		Observers:     make(map[string]int, len(b.observers)),
		StateKeys:     make([]string, 0, len(b.state)),
		BoundElements: make([]string, 0, len(b.bindings)),
		HistoryLength: len(b.history),
		Running:       !b.closed,
	}
	for event, subs := range b.observers {
		info.Observers[event] = len(subs)
	}
	for key := range b.state {
		info.StateKeys = append(info.StateKeys, key)
	}
	for id := range b.bindings {
		info.BoundElements = append(info.BoundElements, id)
	}
	return info
}
