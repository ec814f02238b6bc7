package fluent

import (
	"context"
	"fmt"

	"github.com/nerrad567/gray-logic-fluent/internal/items"
	"github.com/nerrad567/gray-logic-fluent/internal/rules"
)

// Operation is what a rule does when it fires.
type Operation interface {
	// Complete reports whether the operation can run.
	Complete() bool

	// Describe renders the operation and everything chained after it.
	Describe() string

	// Run performs the operation, then the chained operation if the
	// action was performed.
	Run(ctx context.Context, fc rules.FiringContext) error
}

// OperationFunc is a custom operation.
type OperationFunc func(ctx context.Context, fc rules.FiringContext) error

// Complete is always true.
func (f OperationFunc) Complete() bool { return true }

// Describe returns "custom function".
func (f OperationFunc) Describe() string { return "custom function" }

// Run calls f.
func (f OperationFunc) Run(ctx context.Context, fc rules.FiringContext) error { return f(ctx, fc) }

// ValueFunc supplies a command value when a rule runs.
type ValueFunc func(ctx context.Context, fc rules.FiringContext) (string, error)

func literal(value string) ValueFunc {
	return func(context.Context, rules.FiringContext) (string, error) {
		return value, nil
	}
}

// chain runs one step and continues with next if the step was performed.
func chain(ctx context.Context, fc rules.FiringContext, next Operation, step func() (bool, error)) error {
	performed, err := step()
	if err != nil {
		return err
	}
	if !performed || next == nil {
		return nil
	}
	return next.Run(ctx, fc)
}

func describeChain(desc string, next Operation) string {
	if next == nil {
		return desc
	}
	return desc + " and " + next.Describe()
}

func orUnset(name string) string {
	if name == "" {
		return "?"
	}
	return name
}

// ─── Send Command ───────────────────────────────────────────────────────────

// SendCommandOperation sends a command to an item.
type SendCommandOperation struct {
	items       ItemService
	value       ValueFunc
	valueDesc   string
	itemName    string
	ifDifferent bool
	next        Operation
}

// ToItem sets the item to command.
func (o *SendCommandOperation) ToItem(name string) *SendCommandOperation {
	o.itemName = name
	return o
}

// IfDifferent skips the command, and ends the chain, when the item is
// already in the commanded state.
func (o *SendCommandOperation) IfDifferent() *SendCommandOperation {
	o.ifDifferent = true
	return o
}

// And chains another operation.
func (o *SendCommandOperation) And(next Operation) *SendCommandOperation {
	o.next = next
	return o
}

// Complete reports whether the target item is set.
func (o *SendCommandOperation) Complete() bool {
	return o.itemName != ""
}

// Describe renders "send V to X".
func (o *SendCommandOperation) Describe() string {
	return describeChain(fmt.Sprintf("send %s to %s", o.valueDesc, orUnset(o.itemName)), o.next)
}

// Run sends the command.
func (o *SendCommandOperation) Run(ctx context.Context, fc rules.FiringContext) error {
	if !o.Complete() {
		return fmt.Errorf("%w: %s", ErrOperationIncomplete, o.Describe())
	}
	return chain(ctx, fc, o.next, func() (bool, error) {
		value, err := o.value(ctx, fc)
		if err != nil {
			return false, err
		}
		if o.ifDifferent {
			item, err := o.items.GetItem(ctx, o.itemName)
			if err != nil {
				return false, err
			}
			if item.State == value {
				return false, nil
			}
		}
		return true, o.items.SendCommand(ctx, o.itemName, value)
	})
}

// ─── Copy State ─────────────────────────────────────────────────────────────

// CopyStateOperation copies the state of one item to another, as an update
// or, in send mode, as a command.
type CopyStateOperation struct {
	items    ItemService
	send     bool
	fromItem string
	toItem   string
	next     Operation
}

// FromItem sets the source item.
func (o *CopyStateOperation) FromItem(name string) *CopyStateOperation {
	o.fromItem = name
	return o
}

// ToItem sets the destination item.
func (o *CopyStateOperation) ToItem(name string) *CopyStateOperation {
	o.toItem = name
	return o
}

// And chains another operation.
func (o *CopyStateOperation) And(next Operation) *CopyStateOperation {
	o.next = next
	return o
}

// Complete reports whether both items are set.
func (o *CopyStateOperation) Complete() bool {
	return o.fromItem != "" && o.toItem != ""
}

// Describe renders "copy state from A to B".
func (o *CopyStateOperation) Describe() string {
	verb := "copy state"
	if o.send {
		verb = "copy and send state"
	}
	return describeChain(fmt.Sprintf("%s from %s to %s", verb, orUnset(o.fromItem), orUnset(o.toItem)), o.next)
}

// Run copies the state.
func (o *CopyStateOperation) Run(ctx context.Context, fc rules.FiringContext) error {
	if o.fromItem == "" {
		return fmt.Errorf("%w: from item not set", ErrMissingField)
	}
	if o.toItem == "" {
		return fmt.Errorf("%w: to item not set", ErrMissingField)
	}
	return chain(ctx, fc, o.next, func() (bool, error) {
		from, err := o.items.GetItem(ctx, o.fromItem)
		if err != nil {
			return false, fmt.Errorf("from item %s: %w", o.fromItem, err)
		}
		if _, err := o.items.GetItem(ctx, o.toItem); err != nil {
			return false, fmt.Errorf("to item %s: %w", o.toItem, err)
		}
		if o.send {
			return true, o.items.SendCommand(ctx, o.toItem, from.State)
		}
		return true, o.items.PostUpdate(ctx, o.toItem, from.State)
	})
}

// ─── Toggle ─────────────────────────────────────────────────────────────────

// ToggleOperation flips an item between ON and OFF.
type ToggleOperation struct {
	items    ItemService
	itemName string
	next     Operation
}

// ToItem sets the item to toggle.
func (o *ToggleOperation) ToItem(name string) *ToggleOperation {
	o.itemName = name
	return o
}

// And chains another operation.
func (o *ToggleOperation) And(next Operation) *ToggleOperation {
	o.next = next
	return o
}

// Complete reports whether the item is set.
func (o *ToggleOperation) Complete() bool {
	return o.itemName != ""
}

// Describe renders "toggle X".
func (o *ToggleOperation) Describe() string {
	return describeChain("toggle "+orUnset(o.itemName), o.next)
}

// Run sends the opposite state. Binary items flip ON and OFF; brightness
// items are switched OFF when lit and ON when dark.
func (o *ToggleOperation) Run(ctx context.Context, fc rules.FiringContext) error {
	if !o.Complete() {
		return fmt.Errorf("%w: %s", ErrOperationIncomplete, o.Describe())
	}
	return chain(ctx, fc, o.next, func() (bool, error) {
		item, err := o.items.GetItem(ctx, o.itemName)
		if err != nil {
			return false, err
		}
		value, err := toggledState(item)
		if err != nil {
			return false, err
		}
		return true, o.items.SendCommand(ctx, o.itemName, value)
	})
}

func toggledState(item *items.Item) (string, error) {
	switch item.Type.Capability() {
	case items.CapabilityBinary:
		if item.State == items.StateOn {
			return items.StateOff, nil
		}
		return items.StateOn, nil
	case items.CapabilityBrightness:
		brightness, err := item.Brightness()
		if err != nil {
			return "", err
		}
		if brightness != 0 {
			return items.StateOff, nil
		}
		return items.StateOn, nil
	default:
		return "", fmt.Errorf("%w: cannot toggle %s item %s", ErrUnsupportedItemType, item.Type, item.Name)
	}
}
