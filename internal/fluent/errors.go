package fluent

import "errors"

// Configuration errors are returned by the builder call that caused them.
// Run-time errors from operations and conditions are returned by the rule's
// execute function.
var (
	// ErrTriggerIncomplete is returned when a trigger without an event kind
	// is added to a rule.
	ErrTriggerIncomplete = errors.New("fluent: trigger is not complete")

	// ErrOperationIncomplete is returned when an operation without its
	// target item is passed to Then, or run.
	ErrOperationIncomplete = errors.New("fluent: operation is not complete")

	// ErrMissingField is returned when a copy operation runs without its
	// source or destination item.
	ErrMissingField = errors.New("fluent: missing field")

	// ErrUnsupportedItemType is returned when toggling an item that is
	// neither binary nor brightness-bearing.
	ErrUnsupportedItemType = errors.New("fluent: unsupported item type")

	// ErrUnknownTriggerKind is returned when rendering a trigger whose kind
	// is unset.
	ErrUnknownTriggerKind = errors.New("fluent: unknown trigger kind")

	// ErrTargetValueRequired is returned by For when no target state is set.
	ErrTargetValueRequired = errors.New("fluent: must specify target value")

	// ErrNotChangeTrigger is returned by For on a command or update trigger.
	ErrNotChangeTrigger = errors.New("fluent: timing needs a changed trigger")

	// ErrInvalidDuration is returned by For with a non-positive duration.
	ErrInvalidDuration = errors.New("fluent: invalid duration")

	// ErrRuleFinalized is returned when changing a rule after Then.
	ErrRuleFinalized = errors.New("fluent: rule already finalized")
)
