package items

import (
	"fmt"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"
)

// Item represents a named point of automation state.
// This matches the items table in migrations/20260301_090000_create_items.up.sql.
type Item struct {
	Name     string `json:"name"`
	Type     Type   `json:"type"`
	Label    string `json:"label,omitempty"`
	Category string `json:"category,omitempty"`

	// Groups lists the group items this item belongs to.
	Groups []string `json:"groups,omitempty"`

	// Tags are free-form labels, e.g. DynamicItemTag or GeneratedRuleItemTag.
	Tags []string `json:"tags,omitempty"`

	// State is the raw state string ("ON", "42", "120,100,35", ...).
	// StateNull when the item has never been updated.
	State          string     `json:"state"`
	StateUpdatedAt *time.Time `json:"state_updated_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DeepCopy returns an independent copy of the item.
// Slices are cloned so callers can modify the copy freely.
func (i *Item) DeepCopy() *Item {
	if i == nil {
		return nil
	}
	cpy := *i
	cpy.Groups = slices.Clone(i.Groups)
	cpy.Tags = slices.Clone(i.Tags)
	return &cpy
}

// HasTag reports whether the item carries tag.
func (i *Item) HasTag(tag string) bool {
	return slices.Contains(i.Tags, tag)
}

// InGroup reports whether the item is a direct member of group.
func (i *Item) InGroup(group string) bool {
	return slices.Contains(i.Groups, group)
}

// IsUninitialized reports whether the item has no meaningful state yet.
func (i *Item) IsUninitialized() bool {
	return IsUninitializedState(i.State)
}

// Brightness returns the brightness component of the item state in percent.
//
// For Color items this is the third field of an "H,S,B" state; for Dimmer
// items it is the state itself. ON and OFF map to 100 and 0, and an
// uninitialised item reports 0.
func (i *Item) Brightness() (float64, error) {
	if i.Type.Capability() != CapabilityBrightness {
		return 0, fmt.Errorf("%w: %s item %s has no brightness", ErrInvalidState, i.Type, i.Name)
	}
	if i.IsUninitialized() {
		return 0, nil
	}

	raw := strings.TrimSpace(i.State)
	switch raw {
	case StateOn:
		return 100, nil
	case StateOff:
		return 0, nil
	}

	if i.Type == TypeColor {
		parts := strings.Split(raw, ",")
		if len(parts) != hsbComponents {
			return 0, fmt.Errorf("%w: color state %q is not H,S,B", ErrInvalidState, i.State)
		}
		raw = strings.TrimSpace(parts[2])
	}

	b, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: brightness %q: %w", ErrInvalidState, raw, err)
	}
	return b, nil
}

// hsbComponents is the number of comma separated fields in a Color state.
const hsbComponents = 3

// Canonical state values.
const (
	StateOn        = "ON"
	StateOff       = "OFF"
	StateOpen      = "OPEN"
	StateClosed    = "CLOSED"
	StateNull      = "NULL"
	StateUndefined = "UNDEF"
)

// IsUninitializedState reports whether a raw state means "no value".
func IsUninitializedState(state string) bool {
	switch state {
	case "", StateNull, StateUndefined, "Undefined", "Uninitialized":
		return true
	default:
		return false
	}
}

// Item tags with special meaning.
const (
	// DynamicItemTag marks items created at run time through AddItem.
	DynamicItemTag = "_DYNAMIC_"

	// GeneratedRuleItemTag marks switch items provisioned for toggleable rules.
	GeneratedRuleItemTag = "GENERATED_RULE_ITEM"
)

// Type is the item type.
type Type string

// Type constants.
const (
	TypeSwitch        Type = "Switch"
	TypeDimmer        Type = "Dimmer"
	TypeColor         Type = "Color"
	TypeContact       Type = "Contact"
	TypeString        Type = "String"
	TypeNumber        Type = "Number"
	TypeDateTime      Type = "DateTime"
	TypeRollershutter Type = "Rollershutter"
	TypeGroup         Type = "Group"
)

// AllTypes returns all valid item types.
func AllTypes() []Type {
	return []Type{
		TypeSwitch, TypeDimmer, TypeColor, TypeContact, TypeString,
		TypeNumber, TypeDateTime, TypeRollershutter, TypeGroup,
	}
}

// Capability describes how an item can be toggled.
type Capability int

// Capability constants.
const (
	// CapabilityNone items cannot be toggled.
	CapabilityNone Capability = iota

	// CapabilityBinary items flip between ON and OFF.
	CapabilityBinary

	// CapabilityBrightness items are on when their brightness is nonzero.
	CapabilityBrightness
)

// String implements fmt.Stringer.
func (c Capability) String() string {
	switch c {
	case CapabilityBinary:
		return "binary"
	case CapabilityBrightness:
		return "brightness"
	default:
		return "none"
	}
}

// Capability returns the toggle capability of the type.
func (t Type) Capability() Capability {
	switch t {
	case TypeSwitch:
		return CapabilityBinary
	case TypeColor, TypeDimmer:
		return CapabilityBrightness
	default:
		return CapabilityNone
	}
}

// Metadata is a value plus free-form configuration attached to an item
// under a namespace, e.g. namespace "expire" value "5m,command=OFF".
type Metadata struct {
	ItemName  string         `json:"item_name"`
	Namespace string         `json:"namespace"`
	Value     string         `json:"value"`
	Config    map[string]any `json:"config,omitempty"`
}

// EventType is the kind of item event.
type EventType string

// EventType constants.
const (
	EventCommand EventType = "command"
	EventUpdate  EventType = "update"
	EventChange  EventType = "change"
)

// Event is emitted by the Registry whenever an item receives a command or a state.
type Event struct {
	Type     EventType `json:"type"`
	ItemName string    `json:"item_name"`

	// Value is the command for EventCommand and the new state otherwise.
	Value string `json:"value"`

	// OldState is the state before the update (EventUpdate, EventChange).
	OldState string `json:"old_state,omitempty"`

	Timestamp time.Time `json:"timestamp"`
}

var unsafeNameChars = regexp.MustCompile(`[^a-zA-Z0-9_]`)

// SafeItemName replaces every character that is not a letter, digit or
// underscore with an underscore, producing a valid item name.
func SafeItemName(s string) string {
	return unsafeNameChars.ReplaceAllString(s, "_")
}
