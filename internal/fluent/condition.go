package fluent

import (
	"context"
	"fmt"
	"slices"

	"github.com/nerrad567/gray-logic-fluent/internal/rules"
)

// Condition decides whether a fired rule runs its operation.
type Condition interface {
	Check(ctx context.Context, fc rules.FiringContext) (bool, error)
}

// Predicate is a condition function.
type Predicate func(ctx context.Context, fc rules.FiringContext) (bool, error)

// FunctionCondition checks a Predicate.
type FunctionCondition struct {
	predicate Predicate
}

// Func wraps a predicate as a condition.
func Func(p Predicate) *FunctionCondition {
	return &FunctionCondition{predicate: p}
}

// Check returns the predicate's result unchanged.
func (c *FunctionCondition) Check(ctx context.Context, fc rules.FiringContext) (bool, error) {
	return c.predicate(ctx, fc)
}

// ItemStateCondition holds when an item is in one of a set of states.
type ItemStateCondition struct {
	items    ItemService
	itemName string
	values   []string
}

// Is accepts a single state.
func (c *ItemStateCondition) Is(value string) *ItemStateCondition {
	c.values = []string{value}
	return c
}

// In accepts any of values. It replaces states set earlier.
func (c *ItemStateCondition) In(values ...string) *ItemStateCondition {
	c.values = slices.Clone(values)
	return c
}

// Check looks the item up and tests its state.
func (c *ItemStateCondition) Check(ctx context.Context, _ rules.FiringContext) (bool, error) {
	item, err := c.items.GetItem(ctx, c.itemName)
	if err != nil {
		return false, fmt.Errorf("condition item %s: %w", c.itemName, err)
	}
	return slices.Contains(c.values, item.State), nil
}
