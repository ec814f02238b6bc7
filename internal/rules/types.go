package rules

import (
	"context"
	"regexp"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/gray-logic-fluent/internal/items"
	"github.com/nerrad567/gray-logic-fluent/internal/triggers"
)

// EventType classifies what fired a rule.
type EventType string

// Event types.
const (
	EventCommand EventType = "command"
	EventUpdate  EventType = "update"
	EventChange  EventType = "change"
	EventTime    EventType = "time"
)

// FiringContext is the data a rule execution receives.
//
// Which fields are set depends on EventType: ReceivedCommand for commands,
// State and ReceivedState for updates, OldState and NewState for changes.
// It carries an implicit value injected by execute hooks.
type FiringContext struct {
	ItemName        string         `json:"item_name,omitempty"`
	EventType       EventType      `json:"event_type"`
	TriggerType     string         `json:"trigger_type"`
	OldState        string         `json:"old_state,omitempty"`
	NewState        string         `json:"new_state,omitempty"`
	State           string         `json:"state,omitempty"`
	ReceivedCommand string         `json:"received_command,omitempty"`
	ReceivedState   string         `json:"received_state,omitempty"`
	Payload         map[string]any `json:"payload,omitempty"`
	It              string         `json:"it,omitempty"`
	FiredAt         time.Time      `json:"fired_at"`
}

// ExecuteFunc runs a rule.
type ExecuteFunc func(ctx context.Context, fc FiringContext) error

// Config describes a rule to register.
type Config struct {
	Name string

	// Description is free text. For toggleable rules it is also the
	// label of the generated switch item.
	Description string

	// Group places the switch item of a toggleable rule in a rule group.
	Group string

	Triggers []triggers.Trigger
	Execute  ExecuteFunc
}

// Rule is a registered rule.
type Rule struct {
	UID         string             `json:"uid"`
	Name        string             `json:"name"`
	Description string             `json:"description,omitempty"`
	Group       string             `json:"group,omitempty"`
	Triggers    []triggers.Trigger `json:"triggers"`
	Enabled     bool               `json:"enabled"`
	Toggleable  bool               `json:"toggleable"`
	SwitchItem  string             `json:"switch_item,omitempty"`
	CreatedAt   time.Time          `json:"created_at"`
}

// DeepCopy creates an independent copy of the rule.
func (r *Rule) DeepCopy() *Rule {
	if r == nil {
		return nil
	}
	cp := *r
	cp.Triggers = make([]triggers.Trigger, len(r.Triggers))
	for i, t := range r.Triggers {
		cp.Triggers[i] = t.Clone()
	}
	return &cp
}

var nonWordPattern = regexp.MustCompile(`\W`)

// GenerateUID returns a rule UID: the name with non-word characters
// replaced by "-", then a random UUID.
func GenerateUID(name string) string {
	return nonWordPattern.ReplaceAllString(name, "-") + "-" + uuid.NewString()
}

// Names of the items and rules generated for toggleable rules.
const (
	switchItemPrefix = "vRuleItemFor"
	proxyRulePrefix  = "vProxyRuleFor"

	// DefaultToggleGroup is the group every rule switch item belongs to.
	DefaultToggleGroup = "gRules"
)

// SwitchItemName returns the name of the switch item for a toggleable rule.
func SwitchItemName(ruleName string) string {
	return switchItemPrefix + items.SafeItemName(ruleName)
}
