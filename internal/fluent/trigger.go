package fluent

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/nerrad567/gray-logic-fluent/internal/items"
	"github.com/nerrad567/gray-logic-fluent/internal/rules"
	"github.com/nerrad567/gray-logic-fluent/internal/triggers"
)

// Hook intercepts rule execution. It decides whether, when and with which
// firing context next runs.
type Hook func(ctx context.Context, fc rules.FiringContext, next rules.ExecuteFunc) error

// TriggerConfig is a rule trigger under construction.
type TriggerConfig interface {
	// Complete reports whether the trigger can be added to a rule.
	Complete() bool

	// Describe renders the trigger. The compact form uses symbols.
	Describe(compact bool) string

	// HostTriggers renders the trigger as host trigger descriptors.
	HostTriggers() ([]triggers.Trigger, error)

	// ExecuteHook returns the hook the trigger adds to rule execution,
	// or nil.
	ExecuteHook() Hook
}

// TriggerKind is the item event an ItemTrigger fires on.
type TriggerKind int

// Trigger kinds. KindNone is the zero value of an unfinished trigger.
const (
	KindNone TriggerKind = iota
	KindChanged
	KindReceivedCommand
	KindReceivedUpdate
)

func (k TriggerKind) String() string {
	switch k {
	case KindChanged:
		return "changed"
	case KindReceivedCommand:
		return "received command"
	case KindReceivedUpdate:
		return "received update"
	default:
		return "none"
	}
}

// ItemTrigger fires on an item event, optionally only for one value.
type ItemTrigger struct {
	dsl      *DSL
	itemName string
	kind     TriggerKind
	toValue  string
}

// Changed fires when the item state changes.
func (t *ItemTrigger) Changed() *ItemTrigger {
	t.kind = KindChanged
	return t
}

// ReceivedCommand fires when the item receives a command.
func (t *ItemTrigger) ReceivedCommand() *ItemTrigger {
	t.kind = KindReceivedCommand
	return t
}

// ReceivedUpdate fires when the item receives a state update.
func (t *ItemTrigger) ReceivedUpdate() *ItemTrigger {
	t.kind = KindReceivedUpdate
	return t
}

// To only fires for value: the new state of a change, the command, or the
// updated state.
func (t *ItemTrigger) To(value string) *ItemTrigger {
	t.toValue = value
	return t
}

// Of is To; it reads better after ReceivedCommand.
func (t *ItemTrigger) Of(value string) *ItemTrigger {
	return t.To(value)
}

// ToOn is To("ON").
func (t *ItemTrigger) ToOn() *ItemTrigger {
	return t.To(items.StateOn)
}

// ToOff is To("OFF").
func (t *ItemTrigger) ToOff() *ItemTrigger {
	return t.To(items.StateOff)
}

// For fires once the item has changed to the target value and held it for d.
func (t *ItemTrigger) For(d time.Duration) (*TimingTrigger, error) {
	if t.toValue == "" {
		return nil, fmt.Errorf("%w: %s", ErrTargetValueRequired, t.Describe(false))
	}
	if t.kind != KindChanged {
		return nil, fmt.Errorf("%w: %s", ErrNotChangeTrigger, t.Describe(false))
	}
	if d <= 0 {
		return nil, fmt.Errorf("%w: %s", ErrInvalidDuration, d)
	}
	inner := *t
	timing := &TimingTrigger{inner: &inner, duration: d}
	t.dsl.track(timing)
	return timing, nil
}

// Complete reports whether an event kind is set.
func (t *ItemTrigger) Complete() bool {
	return t.kind != KindNone
}

// Describe renders the trigger.
func (t *ItemTrigger) Describe(compact bool) string {
	if compact {
		return t.describeCompact()
	}

	var sb strings.Builder
	sb.WriteString("item ")
	sb.WriteString(t.itemName)
	switch t.kind {
	case KindChanged:
		sb.WriteString(" changed")
		if t.toValue != "" {
			sb.WriteString(" to ")
			sb.WriteString(t.toValue)
		}
	case KindReceivedCommand, KindReceivedUpdate:
		sb.WriteString(" ")
		sb.WriteString(t.kind.String())
		if t.toValue != "" {
			sb.WriteString(" ")
			sb.WriteString(t.toValue)
		}
	}
	return sb.String()
}

func (t *ItemTrigger) describeCompact() string {
	withValue := func(s string) string {
		if t.toValue == "" {
			return s
		}
		return s + " " + t.toValue
	}

	switch t.kind {
	case KindChanged:
		if t.toValue == "" {
			return t.itemName + " Δ"
		}
		return t.itemName + " → " + t.toValue
	case KindReceivedCommand:
		return withValue(t.itemName + " ⌘")
	case KindReceivedUpdate:
		return withValue(t.itemName + " ↻")
	default:
		return t.itemName
	}
}

// HostTriggers renders the trigger as one host trigger.
func (t *ItemTrigger) HostTriggers() ([]triggers.Trigger, error) {
	switch t.kind {
	case KindChanged:
		return []triggers.Trigger{triggers.ItemStateChange(t.itemName, "", t.toValue)}, nil
	case KindReceivedCommand:
		return []triggers.Trigger{triggers.ItemCommand(t.itemName, t.toValue)}, nil
	case KindReceivedUpdate:
		return []triggers.Trigger{triggers.ItemStateUpdate(t.itemName, t.toValue)}, nil
	default:
		return nil, fmt.Errorf("%w: %s for item %s", ErrUnknownTriggerKind, t.kind, t.itemName)
	}
}

// ExecuteHook returns a hook that sets It to the received command for
// command triggers, and nil otherwise.
func (t *ItemTrigger) ExecuteHook() Hook {
	if t.kind != KindReceivedCommand {
		return nil
	}
	return injectCommand
}

func injectCommand(ctx context.Context, fc rules.FiringContext, next rules.ExecuteFunc) error {
	fc.It = fc.ReceivedCommand
	return next(ctx, fc)
}

// contextPrimer is implemented by triggers whose hook only fills in the
// firing context and never defers or skips the next layer.
type contextPrimer interface {
	primesContext() bool
	primeContext(fc rules.FiringContext) rules.FiringContext
}

func (t *ItemTrigger) primesContext() bool {
	return t.kind == KindReceivedCommand
}

// primeContext sets It to the received command. Events of other triggers
// in the same rule carry no command and leave It alone.
func (t *ItemTrigger) primeContext(fc rules.FiringContext) rules.FiringContext {
	if fc.ReceivedCommand != "" {
		fc.It = fc.ReceivedCommand
	}
	return fc
}

// CronTrigger fires on a cron schedule.
type CronTrigger struct {
	expression string
}

// Complete is always true.
func (t *CronTrigger) Complete() bool {
	return true
}

// Describe renders the trigger.
func (t *CronTrigger) Describe(compact bool) string {
	if compact {
		return "⏲ " + t.expression
	}
	return fmt.Sprintf("matches cron %q", t.expression)
}

// HostTriggers renders the trigger as one cron trigger.
func (t *CronTrigger) HostTriggers() ([]triggers.Trigger, error) {
	return []triggers.Trigger{triggers.GenericCron(t.expression)}, nil
}

// ExecuteHook returns nil.
func (t *CronTrigger) ExecuteHook() Hook {
	return nil
}

// AtTrigger fires every day at a wall-clock time in the site timezone.
type AtTrigger struct {
	hhmm string
}

// Complete is always true. The time is checked by HostTriggers.
func (t *AtTrigger) Complete() bool {
	return true
}

// Describe renders the trigger.
func (t *AtTrigger) Describe(compact bool) string {
	if compact {
		return "⏰ " + t.hhmm
	}
	return "at " + t.hhmm
}

// HostTriggers renders the trigger as one time-of-day trigger.
func (t *AtTrigger) HostTriggers() ([]triggers.Trigger, error) {
	tr, err := triggers.TimeOfDay(t.hhmm)
	if err != nil {
		return nil, err
	}
	return []triggers.Trigger{tr}, nil
}

// ExecuteHook returns nil.
func (t *AtTrigger) ExecuteHook() Hook {
	return nil
}
