package reactive

type binding struct {
	stateKey string
	token    Token
	render   Callback
}

// BindElement ties a render callback to a state key: the callback is
// subscribed to state_changed_<stateKey> and, if the key already holds
// a value, invoked immediately with it. The returned token is the
// underlying bus subscription, which callers must release themselves
// with Unsubscribe when the render target goes away; UnbindElement
// does not.
func (b *Bus) BindElement(elementID, stateKey string, render Callback) Token {
	token := b.Subscribe(StateChangedEvent(stateKey), func(data any) {
		change, ok := data.(StateChange)
		if !ok {
			return
		}
		b.renderBound(elementID, change.New)
	})

	b.mu.Lock()
	b.bindings[elementID] = binding{
		stateKey: stateKey,
		token:    token,
		render:   render,
	}
	b.mu.Unlock()

	if current, ok := b.GetState(stateKey); ok {
		b.invoke(StateChangedEvent(stateKey), render, current)
	}

	return token
}

// UnbindElement removes the binding record for elementID. The bus
// subscription created by BindElement stays registered; it becomes a
// no-op once the record is gone. Callers that need the subscription
// gone too must Unsubscribe with the token BindElement returned.
func (b *Bus) UnbindElement(elementID string) {
	b.mu.Lock()
	delete(b.bindings, elementID)
	b.mu.Unlock()
}

func (b *Bus) renderBound(elementID string, value any) {
	b.mu.Lock()
	bnd, ok := b.bindings[elementID]
	b.mu.Unlock()
	if !ok {
		return
	}
	b.invoke(StateChangedEvent(bnd.stateKey), bnd.render, value)
}
