package fluent

import (
	"context"
	"fmt"
	"strings"

	"github.com/nerrad567/gray-logic-fluent/internal/items"
	"github.com/nerrad567/gray-logic-fluent/internal/rules"
	"github.com/nerrad567/gray-logic-fluent/internal/triggers"
)

// Rule is a rule under construction. Create it with DSL.When or
// DSL.WhenToggleable and finish it with Then.
type Rule struct {
	dsl        *DSL
	toggleable bool

	triggers  []TriggerConfig
	condition Condition
	operation Operation
	group     string
	finalized bool
}

// Or adds another trigger. The rule fires on any of its triggers.
func (r *Rule) Or(tc TriggerConfig) error {
	if r.finalized {
		return ErrRuleFinalized
	}
	if tc == nil {
		return ErrTriggerIncomplete
	}
	if !tc.Complete() {
		return fmt.Errorf("%w: %s", ErrTriggerIncomplete, tc.Describe(false))
	}
	r.triggers = append(r.triggers, tc)
	return nil
}

// If sets the condition checked before the operation runs, replacing any
// earlier one. It has no effect once the rule is finalized.
func (r *Rule) If(c Condition) *Rule {
	if r.finalized {
		r.dsl.logger.Warn("condition ignored on finalized rule", "rule", r.Describe())
		return r
	}
	r.condition = c
	return r
}

// IfFunc sets a predicate as the condition.
func (r *Rule) IfFunc(p Predicate) *Rule {
	return r.If(Func(p))
}

// ThenFunc finishes the rule with a custom operation.
func (r *Rule) ThenFunc(ctx context.Context, fn OperationFunc, group ...string) (*rules.Rule, error) {
	return r.Then(ctx, fn, group...)
}

// Then sets the operation, builds the rule and registers it. An optional
// group names the rule group.
func (r *Rule) Then(ctx context.Context, op Operation, group ...string) (*rules.Rule, error) {
	if r.finalized {
		return nil, ErrRuleFinalized
	}
	if op == nil {
		return nil, ErrOperationIncomplete
	}
	if !op.Complete() {
		return nil, fmt.Errorf("%w: %s", ErrOperationIncomplete, op.Describe())
	}

	hostTriggers, err := r.hostTriggers()
	if err != nil {
		return nil, err
	}

	r.operation = op
	if len(group) > 0 {
		r.group = group[0]
	}

	cfg := rules.Config{
		Name:        items.SafeItemName(r.Describe()),
		Description: r.DescribeCompact(),
		Group:       r.group,
		Triggers:    hostTriggers,
		Execute:     r.executable(),
	}

	register := r.dsl.registrar.Register
	if r.toggleable {
		register = r.dsl.registrar.RegisterToggleable
	}
	registered, err := register(ctx, cfg)
	if err != nil {
		r.operation = nil
		r.group = ""
		return nil, fmt.Errorf("registering rule %q: %w", cfg.Name, err)
	}

	r.finalized = true
	r.dsl.logger.Debug("fluent rule registered",
		"name", cfg.Name,
		"uid", registered.UID,
		"toggleable", r.toggleable,
	)
	return registered, nil
}

func (r *Rule) hostTriggers() ([]triggers.Trigger, error) {
	var out []triggers.Trigger
	for _, tc := range r.triggers {
		ts, err := tc.HostTriggers()
		if err != nil {
			return nil, err
		}
		out = append(out, ts...)
	}
	return out, nil
}

// executable folds trigger hooks and the condition around the operation.
// Each hook wraps the layers built before it, so the last trigger's hook
// is outermost. The condition wraps the deferring hooks (timing), so a
// false condition never starts a timer. Hooks that only fill in the firing
// context run before the condition, so the condition sees It.
func (r *Rule) executable() rules.ExecuteFunc {
	exec := rules.ExecuteFunc(r.operation.Run)

	var primers []contextPrimer
	for _, tc := range r.triggers {
		if p, ok := tc.(contextPrimer); ok && p.primesContext() {
			primers = append(primers, p)
			continue
		}
		hook := tc.ExecuteHook()
		if hook == nil {
			continue
		}
		next := exec
		exec = func(ctx context.Context, fc rules.FiringContext) error {
			return hook(ctx, fc, next)
		}
	}

	if r.condition != nil {
		cond, inner := r.condition, exec
		exec = func(ctx context.Context, fc rules.FiringContext) error {
			ok, err := cond.Check(ctx, fc)
			if err != nil {
				return err
			}
			if !ok {
				return nil
			}
			return inner(ctx, fc)
		}
	}

	if len(primers) > 0 {
		inner := exec
		exec = func(ctx context.Context, fc rules.FiringContext) error {
			for _, p := range primers {
				fc = p.primeContext(fc)
			}
			return inner(ctx, fc)
		}
	}
	return exec
}

// Describe renders "<trigger> or <trigger> then <operation>", with
// " (in group G)" when a group is set. The operation reads "?" before Then.
func (r *Rule) Describe() string {
	var sb strings.Builder
	for i, tc := range r.triggers {
		if i > 0 {
			sb.WriteString(" or ")
		}
		sb.WriteString(tc.Describe(false))
	}
	sb.WriteString(" then ")
	sb.WriteString(r.describeOperation())
	if r.group != "" {
		sb.WriteString(" (in group ")
		sb.WriteString(r.group)
		sb.WriteString(")")
	}
	return sb.String()
}

// DescribeCompact renders the triggers in compact form joined by " | ",
// then " ⇒ " and the operation.
func (r *Rule) DescribeCompact() string {
	parts := make([]string, len(r.triggers))
	for i, tc := range r.triggers {
		parts[i] = tc.Describe(true)
	}
	return strings.Join(parts, " | ") + " ⇒ " + r.describeOperation()
}

func (r *Rule) describeOperation() string {
	if r.operation == nil {
		return "?"
	}
	return r.operation.Describe()
}

// Toggleable reports whether the rule gets an enable/disable switch item.
func (r *Rule) Toggleable() bool {
	return r.toggleable
}
