package fluent

import (
	"context"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-fluent/internal/rules"
	"github.com/nerrad567/gray-logic-fluent/internal/triggers"
)

// TimingTrigger fires once an item has changed to a target state and stayed
// there for a duration. Create it with ItemTrigger.For.
//
// Every change of the item re-evaluates its state: entering the target
// state (re)starts the timer, leaving it cancels the timer. At most one
// timer is pending per TimingTrigger.
type TimingTrigger struct {
	inner    *ItemTrigger
	duration time.Duration

	mu         sync.Mutex
	pending    Timer
	generation uint64
}

// Complete reports whether the wrapped trigger is complete.
func (t *TimingTrigger) Complete() bool {
	return t.inner.Complete()
}

// Describe renders the wrapped trigger followed by the duration.
func (t *TimingTrigger) Describe(compact bool) string {
	return t.inner.Describe(compact) + " for " + t.duration.String()
}

// HostTriggers returns a change trigger without a state filter, so the hook
// also sees the item leave the target state.
func (t *TimingTrigger) HostTriggers() ([]triggers.Trigger, error) {
	return []triggers.Trigger{triggers.ItemStateChange(t.inner.itemName, "", "")}, nil
}

// ExecuteHook returns the debounce hook.
func (t *TimingTrigger) ExecuteHook() Hook {
	return t.hook
}

// Duration returns how long the state must be held.
func (t *TimingTrigger) Duration() time.Duration {
	return t.duration
}

func (t *TimingTrigger) hook(ctx context.Context, fc rules.FiringContext, next rules.ExecuteFunc) error {
	item, err := t.inner.dsl.items.GetItem(ctx, t.inner.itemName)
	if err != nil {
		return err
	}

	if item.State == t.inner.toValue {
		t.start(context.WithoutCancel(ctx), fc, next)
	} else {
		t.cancel()
	}
	return nil
}

func (t *TimingTrigger) start(ctx context.Context, fc rules.FiringContext, next rules.ExecuteFunc) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.pending != nil {
		t.pending.Stop()
		t.pending = nil
	}
	t.generation++
	if t.inner.dsl.isClosed() {
		return
	}
	gen := t.generation

	t.pending = t.inner.dsl.schedule(t.duration, func() {
		t.mu.Lock()
		if gen != t.generation {
			t.mu.Unlock()
			return
		}
		// Claim the timer: a repeated callback sees a stale generation.
		t.generation++
		t.pending = nil
		t.mu.Unlock()

		if err := next(ctx, fc); err != nil {
			t.inner.dsl.logger.Error("delayed rule operation failed",
				"trigger", t.Describe(false),
				"error", err,
			)
		}
	})
}

// cancel stops the pending timer. It is a no-op when none is pending.
func (t *TimingTrigger) cancel() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.pending == nil {
		return
	}
	t.pending.Stop()
	t.pending = nil
	t.generation++
}

// Pending reports whether a timer is waiting to fire.
func (t *TimingTrigger) Pending() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pending != nil
}
