package reactive

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestState_SetAndGet(t *testing.T) {
	bus := newTestBus(t)

	if _, ok := bus.GetState("missing"); ok {
		t.Error("GetState() reported a value for an absent key")
	}
	if got := bus.GetStateDefault("missing", 42); got != 42 {
		t.Errorf("GetStateDefault() = %v, want 42", got)
	}

	bus.SetState("daily_posts", 2)
	value, ok := bus.GetState("daily_posts")
	if !ok || value != 2 {
		t.Errorf("GetState() = %v, %v, want 2, true", value, ok)
	}
}

func TestState_ChangeEventsFireOncePerTransition(t *testing.T) {
	bus := newTestBus(t)

	var keyed, generic []StateChange
	bus.Subscribe(StateChangedEvent("k"), func(data any) {
		keyed = append(keyed, data.(StateChange))
	})
	bus.Subscribe(EventStateChanged, func(data any) {
		generic = append(generic, data.(StateChange))
	})

	bus.SetState("k", "v")
	bus.SetState("k", "v") // equal write is silent
	bus.SetState("k", "w")
	bus.SetState("other", 1) // different key, generic only

	require.Len(t, keyed, 2)
	assert.Equal(t, StateChange{Key: "k", Old: nil, New: "v"}, keyed[0])
	assert.Equal(t, StateChange{Key: "k", Old: "v", New: "w"}, keyed[1])

	require.Len(t, generic, 3)
	assert.Equal(t, "other", generic[2].Key)
}

func TestState_SilentWriteEmitsNothing(t *testing.T) {
	bus := newTestBus(t)

	fired := false
	bus.Subscribe(StateChangedEvent("quiet"), func(any) { fired = true })
	bus.Subscribe(EventStateChanged, func(any) { fired = true })

	bus.SetStateSilent("quiet", "value")

	if fired {
		t.Error("silent write emitted a change event")
	}
	if got := bus.GetStateDefault("quiet", nil); got != "value" {
		t.Errorf("silent write did not store value, got %v", got)
	}
}

func TestState_UpdateBatch(t *testing.T) {
	bus := newTestBus(t)
	bus.SetStateSilent("a", 1)
	bus.SetStateSilent("b", 2)

	perKey := make(map[string]StateChange)
	var batches []BatchStateChange
	for _, key := range []string{"a", "b", "c"} {
		key := key
		bus.Subscribe(StateChangedEvent(key), func(data any) {
			perKey[key] = data.(StateChange)
		})
	}
	bus.Subscribe(EventBatchStateChanged, func(data any) {
		batches = append(batches, data.(BatchStateChange))
	})

	bus.UpdateState(map[string]any{
		"a": 1,  // unchanged, must stay silent
		"b": 20, // changed
		"c": 30, // new key
	})

	assert.NotContains(t, perKey, "a")
	assert.Equal(t, StateChange{Key: "b", Old: 2, New: 20}, perKey["b"])
	assert.Equal(t, StateChange{Key: "c", Old: nil, New: 30}, perKey["c"])

	require.Len(t, batches, 1)
	require.Len(t, batches[0], 2)
	assert.Equal(t, 20, batches[0]["b"].New)
	assert.Equal(t, 30, batches[0]["c"].New)
}

func TestState_UpdateWithNoChangesEmitsNoBatch(t *testing.T) {
	bus := newTestBus(t)
	bus.SetStateSilent("a", 1)

	batchFired := false
	bus.Subscribe(EventBatchStateChanged, func(any) { batchFired = true })

	bus.UpdateState(map[string]any{"a": 1})

	if batchFired {
		t.Error("batch_state_changed fired for an all-equal batch")
	}
}

func TestState_ConcurrentWritersLinearize(t *testing.T) {
	bus := newTestBus(t)

	// Every observed transition's Old must be some writer's fully
	// applied value, never a torn intermediate.
	seen := make(map[any]bool)
	var seenMu sync.Mutex
	bus.Subscribe(StateChangedEvent("counter"), func(data any) {
		change := data.(StateChange)
		seenMu.Lock()
		seen[change.New] = true
		seenMu.Unlock()
	})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			bus.SetState("counter", i)
		}()
	}
	wg.Wait()

	final, ok := bus.GetState("counter")
	require.True(t, ok)
	seenMu.Lock()
	defer seenMu.Unlock()
	assert.True(t, seen[final], "final state %v was never observed as a transition target", final)
}

func TestBinding_ImmediateRenderAndUpdates(t *testing.T) {
	bus := newTestBus(t)
	bus.SetStateSilent("username", "ada")

	var renders []any
	bus.BindElement("name_label", "username", func(value any) {
		renders = append(renders, value)
	})

	// Bound with a current value present: rendered immediately.
	require.Equal(t, []any{"ada"}, renders)

	bus.SetState("username", "grace")
	assert.Equal(t, []any{"ada", "grace"}, renders)
}

func TestBinding_NoImmediateRenderWithoutValue(t *testing.T) {
	bus := newTestBus(t)

	rendered := false
	bus.BindElement("label", "unset_key", func(any) { rendered = true })

	if rendered {
		t.Error("render callback fired for a key with no value")
	}
}

func TestBinding_UnbindLeavesSubscriptionRegistered(t *testing.T) {
	bus := newTestBus(t)

	var renders int
	token := bus.BindElement("label", "k", func(any) { renders++ })

	event := StateChangedEvent("k")
	require.Equal(t, 1, bus.ObserverCount(event))

	bus.UnbindElement("label")

	// The record is gone so nothing renders, but the subscription is
	// still registered until the caller releases the token.
	bus.SetState("k", "v")
	assert.Zero(t, renders)
	assert.Equal(t, 1, bus.ObserverCount(event))

	bus.Unsubscribe(event, token)
	assert.Zero(t, bus.ObserverCount(event))
}

func TestBinding_PanickingRenderIsContained(t *testing.T) {
	bus := newTestBus(t)

	bus.BindElement("bad", "k", func(any) { panic("widget destroyed") })
	bus.SetState("k", 1) // must not propagate
}
