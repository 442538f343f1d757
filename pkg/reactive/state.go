package reactive

import "reflect"

// StateChange is the payload carried by state_changed and
// state_changed_<key> events. Old is nil when the key had no previous
// value.
type StateChange struct {
	Key string
	Old any
	New any
}

// BatchStateChange is the payload of batch_state_changed: every key the
// batch actually changed, with its old and new values.
type BatchStateChange map[string]StateChange

// SetState stores value under key and, when the value differs from the
// stored one, emits state_changed_<key> followed by the generic
// state_changed, both carrying a StateChange. Writing an equal value is
// silent. The comparison and write happen under the bus lock; emission
// happens after release.
func (b *Bus) SetState(key string, value any) {
	b.setState(key, value, true)
}

// SetStateSilent stores value under key without emitting change events.
func (b *Bus) SetStateSilent(key string, value any) {
	b.setState(key, value, false)
}

func (b *Bus) setState(key string, value any, emitChange bool) {
	b.mu.Lock()
	old, existed := b.state[key]
	b.state[key] = value
	changed := !existed || !reflect.DeepEqual(old, value)
	b.mu.Unlock()

	if !changed || !emitChange {
		return
	}

	change := StateChange{Key: key, Old: old, New: value}
	b.Emit(StateChangedEvent(key), change)
	b.Emit(EventStateChanged, change)
}

// GetState reads the value stored under key.
func (b *Bus) GetState(key string) (any, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	value, ok := b.state[key]
	return value, ok
}

// GetStateDefault reads the value stored under key, falling back to
// def when the key is absent.
func (b *Bus) GetStateDefault(key string, def any) any {
	if value, ok := b.GetState(key); ok {
		return value
	}
	return def
}

// UpdateState applies every entry of updates in a single lock
// acquisition, so concurrent state mutations see either none or all of
// the batch. It then emits one state_changed_<key> per changed key and
// a single batch_state_changed carrying the changed subset. Keys whose
// value did not change emit nothing.
func (b *Bus) UpdateState(updates map[string]any) {
	b.updateState(updates, true)
}

// UpdateStateSilent applies the batch without emitting change events.
func (b *Bus) UpdateStateSilent(updates map[string]any) {
	b.updateState(updates, false)
}

func (b *Bus) updateState(updates map[string]any, emitChange bool) {
	changes := make(BatchStateChange)

	b.mu.Lock()
	for key, value := range updates {
		old, existed := b.state[key]
		b.state[key] = value
		if !existed || !reflect.DeepEqual(old, value) {
			changes[key] = StateChange{Key: key, Old: old, New: value}
		}
	}
	b.mu.Unlock()

	if !emitChange || len(changes) == 0 {
		return
	}

	for key, change := range changes {
		b.Emit(StateChangedEvent(key), change)
	}
	b.Emit(EventBatchStateChanged, changes)
}
