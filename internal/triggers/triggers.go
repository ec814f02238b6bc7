// Package triggers builds the host trigger descriptors that rules fire on.
//
// A Trigger is plain data: a type UID plus a string configuration. The rule
// engine interprets item triggers against item events (Matches) and
// schedules cron and time-of-day triggers.
package triggers

import (
	"fmt"
	"maps"
	"regexp"

	"github.com/google/uuid"

	"github.com/nerrad567/gray-logic-fluent/internal/items"
)

// Trigger type UIDs.
const (
	TypeItemStateChange = "core.ItemStateChangeTrigger"
	TypeItemStateUpdate = "core.ItemStateUpdateTrigger"
	TypeItemCommand     = "core.ItemCommandTrigger"
	TypeGenericCron     = "timer.GenericCronTrigger"
	TypeTimeOfDay       = "timer.TimeOfDayTrigger"
)

// Configuration keys.
const (
	ConfigItemName       = "itemName"
	ConfigState          = "state"
	ConfigPreviousState  = "previousState"
	ConfigCommand        = "command"
	ConfigCronExpression = "cronExpression"
	ConfigTime           = "time"
)

// Trigger is a host trigger descriptor.
type Trigger struct {
	ID            string            `json:"id"`
	TypeUID       string            `json:"type"`
	Configuration map[string]string `json:"configuration"`
}

// Option customises a trigger at construction.
type Option func(*Trigger)

// WithName sets the trigger ID instead of a random UUID.
func WithName(name string) Option {
	return func(t *Trigger) {
		t.ID = name
	}
}

func newTrigger(typeUID string, config map[string]string, opts []Option) Trigger {
	t := Trigger{
		ID:            uuid.NewString(),
		TypeUID:       typeUID,
		Configuration: make(map[string]string, len(config)),
	}
	// Empty values mean "any" and are left out.
	for k, v := range config {
		if v != "" {
			t.Configuration[k] = v
		}
	}
	for _, opt := range opts {
		opt(&t)
	}
	return t
}

// ItemStateChange fires when item changes from previousState to state.
// Either filter may be empty to match any value.
func ItemStateChange(item, previousState, state string, opts ...Option) Trigger {
	return newTrigger(TypeItemStateChange, map[string]string{
		ConfigItemName:      item,
		ConfigPreviousState: previousState,
		ConfigState:         state,
	}, opts)
}

// ItemStateUpdate fires when item receives an update, optionally only to state.
func ItemStateUpdate(item, state string, opts ...Option) Trigger {
	return newTrigger(TypeItemStateUpdate, map[string]string{
		ConfigItemName: item,
		ConfigState:    state,
	}, opts)
}

// ItemCommand fires when item receives a command, optionally only command.
func ItemCommand(item, command string, opts ...Option) Trigger {
	return newTrigger(TypeItemCommand, map[string]string{
		ConfigItemName: item,
		ConfigCommand:  command,
	}, opts)
}

// GenericCron fires on a cron schedule. Expressions have six fields with
// seconds first ("0 */5 * * * *"); descriptors such as "@hourly" are accepted.
func GenericCron(expression string, opts ...Option) Trigger {
	return newTrigger(TypeGenericCron, map[string]string{
		ConfigCronExpression: expression,
	}, opts)
}

var timeOfDayPattern = regexp.MustCompile(`^([01]\d|2[0-3]):([0-5]\d)$`)

// TimeOfDay fires every day at "HH:MM".
func TimeOfDay(hhmm string, opts ...Option) (Trigger, error) {
	if !timeOfDayPattern.MatchString(hhmm) {
		return Trigger{}, fmt.Errorf("time of day %q: want HH:MM", hhmm)
	}
	return newTrigger(TypeTimeOfDay, map[string]string{
		ConfigTime: hhmm,
	}, opts), nil
}

// ItemName returns the item an item trigger watches, or "" for timer triggers.
func (t Trigger) ItemName() string {
	return t.Configuration[ConfigItemName]
}

// IsItemTrigger reports whether t fires on item events.
func (t Trigger) IsItemTrigger() bool {
	switch t.TypeUID {
	case TypeItemStateChange, TypeItemStateUpdate, TypeItemCommand:
		return true
	default:
		return false
	}
}

// Matches reports whether an item event satisfies the trigger.
func (t Trigger) Matches(ev items.Event) bool {
	if ev.ItemName != t.ItemName() {
		return false
	}
	switch t.TypeUID {
	case TypeItemStateChange:
		return ev.Type == items.EventChange &&
			matchesFilter(t.Configuration[ConfigState], ev.Value) &&
			matchesFilter(t.Configuration[ConfigPreviousState], ev.OldState)
	case TypeItemStateUpdate:
		return ev.Type == items.EventUpdate && matchesFilter(t.Configuration[ConfigState], ev.Value)
	case TypeItemCommand:
		return ev.Type == items.EventCommand && matchesFilter(t.Configuration[ConfigCommand], ev.Value)
	default:
		return false
	}
}

func matchesFilter(filter, value string) bool {
	return filter == "" || filter == value
}

// Clone returns a copy that does not share the configuration map.
func (t Trigger) Clone() Trigger {
	t.Configuration = maps.Clone(t.Configuration)
	return t
}
