package items

import (
	"fmt"
	"regexp"
)

// Validation constants.
const (
	// maxNameLength leaves room for generated names such as
	// "vRuleItemFor" + a sanitised rule description.
	maxNameLength  = 255
	maxLabelLength = 255
	maxTags        = 50
	maxGroups      = 50
	maxStateLength = 4096
)

var namePattern = regexp.MustCompile(`^[a-zA-Z0-9_]+$`)

// validTypes is built once for O(1) lookups.
var validTypes = func() map[Type]struct{} {
	m := make(map[Type]struct{}, len(AllTypes()))
	for _, t := range AllTypes() {
		m[t] = struct{}{}
	}
	return m
}()

// ValidateItem checks an item before it is persisted.
// Returns an error describing the first validation failure found.
func ValidateItem(i *Item) error {
	if i == nil {
		return ErrInvalidItem
	}
	if err := ValidateName(i.Name); err != nil {
		return err
	}
	if err := ValidateType(i.Type); err != nil {
		return err
	}
	if len(i.Label) > maxLabelLength {
		return fmt.Errorf("%w: label exceeds %d characters", ErrInvalidItem, maxLabelLength)
	}
	if len(i.Tags) > maxTags {
		return fmt.Errorf("%w: more than %d tags", ErrInvalidItem, maxTags)
	}
	if len(i.Groups) > maxGroups {
		return fmt.Errorf("%w: more than %d groups", ErrInvalidItem, maxGroups)
	}
	for _, g := range i.Groups {
		if err := ValidateName(g); err != nil {
			return fmt.Errorf("group %q: %w", g, err)
		}
		if g == i.Name {
			return fmt.Errorf("%w: item cannot be a member of itself", ErrInvalidItem)
		}
	}
	return ValidateState(i.State)
}

// ValidateName checks that an item name is non-empty and only contains
// letters, digits and underscores. Use SafeItemName to derive one.
func ValidateName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: name cannot be empty", ErrInvalidName)
	}
	if len(name) > maxNameLength {
		return fmt.Errorf("%w: name exceeds %d characters", ErrInvalidName, maxNameLength)
	}
	if !namePattern.MatchString(name) {
		return fmt.Errorf("%w: %q may only contain letters, digits and underscores", ErrInvalidName, name)
	}
	return nil
}

// ValidateType checks that an item type is recognised.
func ValidateType(t Type) error {
	if _, ok := validTypes[t]; !ok {
		return fmt.Errorf("%w: %q", ErrInvalidType, t)
	}
	return nil
}

// ValidateState checks a raw state or command value.
func ValidateState(state string) error {
	if len(state) > maxStateLength {
		return fmt.Errorf("%w: exceeds %d bytes", ErrInvalidState, maxStateLength)
	}
	return nil
}
