package items

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// Subscribe registers a listener for every item event and returns a
// function that removes it.
func (r *Registry) Subscribe(l Listener) (unsubscribe func()) {
	r.listenersMu.Lock()
	id := r.nextListener
	r.nextListener++
	r.listeners[id] = l
	r.listenersMu.Unlock()

	return func() {
		r.listenersMu.Lock()
		delete(r.listeners, id)
		r.listenersMu.Unlock()
	}
}

func (r *Registry) emit(ctx context.Context, ev Event) {
	r.listenersMu.RLock()
	ls := make([]Listener, 0, len(r.listeners))
	for _, l := range r.listeners {
		ls = append(ls, l)
	}
	r.listenersMu.RUnlock()

	for _, l := range ls {
		l(ctx, ev)
	}
}

// SendCommand sends a command to an item.
//
// The command is published to the item's bridge and emitted as
// EventCommand. With autoupdate enabled the command value is then posted
// as the item's new state.
func (r *Registry) SendCommand(ctx context.Context, name, value string) error {
	if _, err := r.GetItem(ctx, name); err != nil {
		return err
	}
	if err := ValidateState(value); err != nil {
		return err
	}

	if r.publisher != nil {
		if err := r.publisher.PublishItemCommand(name, value); err != nil {
			return fmt.Errorf("publishing command for %s: %w", name, err)
		}
	}

	r.logger.Debug("item command", "name", name, "command", value)
	r.emit(ctx, Event{
		Type:      EventCommand,
		ItemName:  name,
		Value:     value,
		Timestamp: r.now(),
	})

	if r.autoupdate {
		return r.PostUpdate(ctx, name, value)
	}
	return nil
}

// SendCommandIfDifferent sends value only when the item state differs from it.
// It reports whether the command was sent.
func (r *Registry) SendCommandIfDifferent(ctx context.Context, name, value string) (bool, error) {
	item, err := r.GetItem(ctx, name)
	if err != nil {
		return false, err
	}
	if item.State == value {
		return false, nil
	}
	if err := r.SendCommand(ctx, name, value); err != nil {
		return false, err
	}
	return true, nil
}

// PostUpdate sets the state of an item.
//
// The state is persisted, published (retained), recorded in history and
// emitted as EventUpdate, followed by EventChange when it differs from the
// previous state. Publish and history failures are logged, not returned:
// the state has already been accepted.
func (r *Registry) PostUpdate(ctx context.Context, name, value string) error {
	if err := ValidateState(value); err != nil {
		return err
	}

	r.stateMu.Lock()
	item, err := r.GetItem(ctx, name)
	if err != nil {
		r.stateMu.Unlock()
		return err
	}
	oldState := item.State
	now := r.now()

	if err := r.repo.UpdateState(ctx, name, value, now); err != nil {
		r.stateMu.Unlock()
		return err
	}

	r.cacheMu.Lock()
	if cached, ok := r.cache[name]; ok {
		updated := cached.DeepCopy()
		updated.State = value
		updated.StateUpdatedAt = &now
		updated.UpdatedAt = now
		r.cache[name] = updated
	}
	r.cacheMu.Unlock()
	r.stateMu.Unlock()

	if r.publisher != nil {
		if err := r.publisher.PublishItemState(name, value); err != nil {
			r.logger.Warn("publishing item state failed", "name", name, "error", err)
		}
	}
	if r.history != nil {
		if err := r.history.RecordItemState(ctx, name, value, now); err != nil {
			r.logger.Warn("recording item state failed", "name", name, "error", err)
		}
	}

	r.logger.Debug("item state updated", "name", name, "state", value, "old_state", oldState)

	ev := Event{
		Type:      EventUpdate,
		ItemName:  name,
		Value:     value,
		OldState:  oldState,
		Timestamp: now,
	}
	r.emit(ctx, ev)

	if oldState != value {
		ev.Type = EventChange
		r.emit(ctx, ev)
	}
	return nil
}

// bridgeStatePayload is the JSON body protocol bridges publish.
type bridgeStatePayload struct {
	State *string `json:"state"`
}

// BridgeStateHandler returns an MQTT message handler that posts bridge
// state reports as item updates.
//
// The item name is the last topic level ("graylogic/state/knx/Kitchen_Light").
// Payloads are either {"state":"ON"} or the bare state string.
func (r *Registry) BridgeStateHandler(ctx context.Context) func(topic string, payload []byte) error {
	return func(topic string, payload []byte) error {
		name := topic[strings.LastIndex(topic, "/")+1:]
		if name == "" {
			return fmt.Errorf("%w: topic %q has no item name", ErrInvalidName, topic)
		}
		state, err := parseBridgeState(payload)
		if err != nil {
			return fmt.Errorf("bridge state for %s: %w", name, err)
		}
		return r.PostUpdate(ctx, name, state)
	}
}

func parseBridgeState(payload []byte) (string, error) {
	trimmed := strings.TrimSpace(string(payload))
	if !strings.HasPrefix(trimmed, "{") {
		return trimmed, nil
	}

	var p bridgeStatePayload
	if err := json.Unmarshal([]byte(trimmed), &p); err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidState, err)
	}
	if p.State == nil {
		return "", fmt.Errorf("%w: payload has no state field", ErrInvalidState)
	}
	return *p.State, nil
}
