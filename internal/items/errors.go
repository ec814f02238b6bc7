package items

import "errors"

// Domain errors for the items package.
//
// These errors can be checked using errors.Is():
//
//	if errors.Is(err, items.ErrItemNotFound) {
//	    // handle missing item
//	}
var (
	// ErrItemNotFound is returned when an item name does not exist.
	ErrItemNotFound = errors.New("items: not found")

	// ErrItemExists is returned when adding an item whose name is taken.
	ErrItemExists = errors.New("items: already exists")

	// ErrInvalidItem is returned when item validation fails.
	ErrInvalidItem = errors.New("items: invalid item")

	// ErrInvalidName is returned when an item name is empty or contains
	// characters other than letters, digits and underscores.
	ErrInvalidName = errors.New("items: invalid name")

	// ErrInvalidType is returned when an item type is not recognised.
	ErrInvalidType = errors.New("items: invalid type")

	// ErrInvalidState is returned when a state cannot be interpreted for the item type.
	ErrInvalidState = errors.New("items: invalid state")

	// ErrMetadataNotFound is returned when an item has no metadata in a namespace.
	ErrMetadataNotFound = errors.New("items: metadata not found")
)
