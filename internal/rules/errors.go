package rules

import "errors"

// Domain errors for the rules package.
var (
	// ErrRuleNotFound is returned when a rule UID does not exist.
	ErrRuleNotFound = errors.New("rules: not found")

	// ErrInvalidRule is returned when a rule configuration is unusable.
	ErrInvalidRule = errors.New("rules: invalid rule")

	// ErrNoTriggers is returned when registering a rule without triggers.
	ErrNoTriggers = errors.New("rules: no triggers")

	// ErrInvalidCron is returned when a cron or time-of-day trigger cannot be parsed.
	ErrInvalidCron = errors.New("rules: invalid cron expression")

	// ErrNameRequired is returned when a toggleable rule has no name.
	ErrNameRequired = errors.New("rules: name required")
)
