// Package rulefile loads fluent rules, and the items they use, declared in YAML.
//
// Example:
//
//	items:
//	  - name: Hall_Motion
//	    type: Switch
//	  - name: Hall_Light
//	    type: Switch
//	    label: Hall ceiling
//	    groups: [gHall]
//	rules:
//	  - name: hall light follows motion
//	    when:
//	      - item: Hall_Motion
//	        event: changed
//	        to: "ON"
//	    then:
//	      - send: "ON"
//	        to: Hall_Light
//	  - name: porch off at night
//	    when:
//	      - time_of_day: NIGHT
//	      - cron: "0 30 23 * * *"
//	      - at: "23:45"
//	    if:
//	      item: Porch_Light
//	      in: ["ON"]
//	    then:
//	      - send: "OFF"
//	        to: Porch_Light
//	    group: Outside
//	    toggleable: true
package rulefile

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/nerrad567/gray-logic-fluent/internal/fluent"
	"github.com/nerrad567/gray-logic-fluent/internal/items"
	"github.com/nerrad567/gray-logic-fluent/internal/rules"
	"github.com/nerrad567/gray-logic-fluent/internal/triggers"
)

// ErrInvalidFile is returned when a rules file cannot be parsed or declares
// an unusable rule.
var ErrInvalidFile = errors.New("rulefile: invalid file")

// Item trigger events.
const (
	EventChanged = "changed"
	EventCommand = "command"
	EventUpdate  = "update"
)

// File is a parsed rules file.
type File struct {
	Items []ItemSpec `yaml:"items"`
	Rules []RuleSpec `yaml:"rules"`
}

// ItemSpec declares an item provisioned before the rules are built.
type ItemSpec struct {
	Name     string   `yaml:"name"`
	Type     string   `yaml:"type"`
	Label    string   `yaml:"label"`
	Category string   `yaml:"category"`
	Groups   []string `yaml:"groups"`
	Tags     []string `yaml:"tags"`
}

// ItemReplacer creates or replaces items. Satisfied by *items.Registry.
type ItemReplacer interface {
	ReplaceItem(ctx context.Context, item *items.Item) (*items.Item, error)
}

// RuleSpec declares one rule.
type RuleSpec struct {
	// Name identifies the rule in errors and logs. The registered rule is
	// named after its description.
	Name       string          `yaml:"name"`
	When       []TriggerSpec   `yaml:"when"`
	If         *ConditionSpec  `yaml:"if"`
	Then       []OperationSpec `yaml:"then"`
	Group      string          `yaml:"group"`
	Toggleable bool            `yaml:"toggleable"`
}

// TriggerSpec declares one trigger: an item event, a cron expression, a
// time-of-day state or a daily wall-clock time ("at").
type TriggerSpec struct {
	Item      string `yaml:"item"`
	Event     string `yaml:"event"`
	To        string `yaml:"to"`
	For       string `yaml:"for"`
	Cron      string `yaml:"cron"`
	TimeOfDay string `yaml:"time_of_day"`
	At        string `yaml:"at"`
}

// ConditionSpec requires an item to be in one of a set of states.
type ConditionSpec struct {
	Item string   `yaml:"item"`
	Is   string   `yaml:"is"`
	In   []string `yaml:"in"`
}

// OperationSpec declares one step of the operation chain.
type OperationSpec struct {
	Send        string    `yaml:"send"`
	SendIt      bool      `yaml:"send_it"`
	To          string    `yaml:"to"`
	IfDifferent bool      `yaml:"if_different"`
	Toggle      string    `yaml:"toggle"`
	Copy        *CopySpec `yaml:"copy"`
}

// CopySpec copies the state of one item to another.
type CopySpec struct {
	From string `yaml:"from"`
	To   string `yaml:"to"`
	Send bool   `yaml:"send"`
}

// Load reads and validates a rules file.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path comes from the operator's config
	if err != nil {
		return nil, fmt.Errorf("reading rules file: %w", err)
	}
	return Parse(data)
}

// Parse parses and validates a rules document. Unknown keys are rejected.
func Parse(data []byte) (*File, error) {
	var f File
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: %w", ErrInvalidFile, err)
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

// Validate checks every item and rule without building them.
func (f *File) Validate() error {
	for i, it := range f.Items {
		if err := items.ValidateItem(it.item()); err != nil {
			return fmt.Errorf("%w: item %d (%s): %w", ErrInvalidFile, i, it.Name, err)
		}
	}
	for i, r := range f.Rules {
		if err := r.validate(); err != nil {
			return fmt.Errorf("%w: rule %d (%s): %w", ErrInvalidFile, i, r.Name, err)
		}
	}
	return nil
}

func (r *RuleSpec) validate() error {
	if len(r.When) == 0 {
		return errors.New("when: at least one trigger is required")
	}
	for i, t := range r.When {
		if err := t.validate(); err != nil {
			return fmt.Errorf("when[%d]: %w", i, err)
		}
	}
	if r.If != nil {
		if r.If.Item == "" {
			return errors.New("if: item is required")
		}
		if (r.If.Is == "") == (len(r.If.In) == 0) {
			return errors.New("if: exactly one of is or in is required")
		}
	}
	if len(r.Then) == 0 {
		return errors.New("then: at least one operation is required")
	}
	for i, o := range r.Then {
		if err := o.validate(); err != nil {
			return fmt.Errorf("then[%d]: %w", i, err)
		}
	}
	return nil
}

func (t *TriggerSpec) validate() error {
	set := 0
	for _, s := range []string{t.Item, t.Cron, t.TimeOfDay, t.At} {
		if s != "" {
			set++
		}
	}
	if set != 1 {
		return errors.New("exactly one of item, cron, time_of_day or at is required")
	}
	if t.Item == "" {
		if t.Event != "" || t.To != "" || t.For != "" {
			return errors.New("event, to and for apply to item triggers only")
		}
		if t.At != "" {
			if _, err := triggers.TimeOfDay(t.At); err != nil {
				return fmt.Errorf("at: %w", err)
			}
		}
		return nil
	}

	switch t.Event {
	case EventChanged, EventCommand, EventUpdate:
	case "":
		return fmt.Errorf("item %s: event is required", t.Item)
	default:
		return fmt.Errorf("item %s: unknown event %q", t.Item, t.Event)
	}
	if t.For != "" {
		if _, err := time.ParseDuration(t.For); err != nil {
			return fmt.Errorf("item %s: for: %w", t.Item, err)
		}
	}
	return nil
}

func (o *OperationSpec) validate() error {
	kinds := 0
	if o.Send != "" {
		kinds++
	}
	if o.SendIt {
		kinds++
	}
	if o.Toggle != "" {
		kinds++
	}
	if o.Copy != nil {
		kinds++
	}
	if kinds != 1 {
		return errors.New("exactly one of send, send_it, toggle or copy is required")
	}
	if (o.Send != "" || o.SendIt) && o.To == "" {
		return errors.New("to is required when sending")
	}
	if o.IfDifferent && o.Send == "" {
		return errors.New("if_different applies to send only")
	}
	if o.Copy != nil && (o.Copy.From == "" || o.Copy.To == "") {
		return errors.New("copy: from and to are required")
	}
	return nil
}

func (s ItemSpec) item() *items.Item {
	return &items.Item{
		Name:     s.Name,
		Type:     items.Type(s.Type),
		Label:    s.Label,
		Category: s.Category,
		Groups:   s.Groups,
		Tags:     s.Tags,
	}
}

// ProvisionItems creates or replaces every declared item. Existing items
// keep their current state.
func ProvisionItems(ctx context.Context, store ItemReplacer, f *File) error {
	for _, spec := range f.Items {
		if _, err := store.ReplaceItem(ctx, spec.item()); err != nil {
			return fmt.Errorf("provisioning item %s: %w", spec.Name, err)
		}
	}
	return nil
}

// Apply builds every rule in f with dsl and registers it. It stops at the
// first rule that fails.
func Apply(ctx context.Context, dsl *fluent.DSL, f *File) ([]*rules.Rule, error) {
	registered := make([]*rules.Rule, 0, len(f.Rules))
	for i := range f.Rules {
		r, err := applyRule(ctx, dsl, &f.Rules[i])
		if err != nil {
			return registered, fmt.Errorf("rule %d (%s): %w", i, f.Rules[i].Name, err)
		}
		registered = append(registered, r)
	}
	return registered, nil
}

func applyRule(ctx context.Context, dsl *fluent.DSL, spec *RuleSpec) (*rules.Rule, error) {
	if err := spec.validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidFile, err)
	}

	first, err := buildTrigger(dsl, spec.When[0])
	if err != nil {
		return nil, err
	}
	when := dsl.When
	if spec.Toggleable {
		when = dsl.WhenToggleable
	}
	rule, err := when(first)
	if err != nil {
		return nil, err
	}
	for _, ts := range spec.When[1:] {
		tc, err := buildTrigger(dsl, ts)
		if err != nil {
			return nil, err
		}
		if err := rule.Or(tc); err != nil {
			return nil, err
		}
	}

	if c := spec.If; c != nil {
		cond := dsl.StateOfItem(c.Item)
		if c.Is != "" {
			cond.Is(c.Is)
		} else {
			cond.In(c.In...)
		}
		rule.If(cond)
	}

	var group []string
	if spec.Group != "" {
		group = append(group, spec.Group)
	}
	return rule.Then(ctx, buildChain(dsl, spec.Then), group...)
}

func buildTrigger(dsl *fluent.DSL, ts TriggerSpec) (fluent.TriggerConfig, error) {
	switch {
	case ts.Cron != "":
		return dsl.Cron(ts.Cron), nil
	case ts.TimeOfDay != "":
		return dsl.TimeOfDay(ts.TimeOfDay), nil
	case ts.At != "":
		return dsl.At(ts.At), nil
	}

	t := dsl.Item(ts.Item)
	switch ts.Event {
	case EventChanged:
		t.Changed()
	case EventCommand:
		t.ReceivedCommand()
	case EventUpdate:
		t.ReceivedUpdate()
	}
	if ts.To != "" {
		t.To(ts.To)
	}
	if ts.For == "" {
		return t, nil
	}

	d, err := time.ParseDuration(ts.For)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidFile, err)
	}
	return t.For(d)
}

// buildChain links the operations back to front so each one's And points
// at the next.
func buildChain(dsl *fluent.DSL, specs []OperationSpec) fluent.Operation {
	var next fluent.Operation
	for i := len(specs) - 1; i >= 0; i-- {
		next = buildOperation(dsl, specs[i], next)
	}
	return next
}

func buildOperation(dsl *fluent.DSL, o OperationSpec, next fluent.Operation) fluent.Operation {
	switch {
	case o.Send != "":
		op := dsl.Send(o.Send).ToItem(o.To)
		if o.IfDifferent {
			op.IfDifferent()
		}
		if next != nil {
			op.And(next)
		}
		return op
	case o.SendIt:
		op := dsl.SendIt().ToItem(o.To)
		if next != nil {
			op.And(next)
		}
		return op
	case o.Toggle != "":
		op := dsl.SendToggle().ToItem(o.Toggle)
		if next != nil {
			op.And(next)
		}
		return op
	default:
		op := dsl.CopyState()
		if o.Copy.Send {
			op = dsl.CopyAndSendState()
		}
		op.FromItem(o.Copy.From).ToItem(o.Copy.To)
		if next != nil {
			op.And(next)
		}
		return op
	}
}
