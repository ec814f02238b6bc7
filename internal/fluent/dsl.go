package fluent

import (
	"context"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-fluent/internal/items"
	"github.com/nerrad567/gray-logic-fluent/internal/rules"
)

// Logger defines the logging interface used by the DSL.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// ItemService reads item state and dispatches commands and updates.
// Satisfied by *items.Registry.
type ItemService interface {
	GetItem(ctx context.Context, name string) (*items.Item, error)
	SendCommand(ctx context.Context, name, value string) error
	PostUpdate(ctx context.Context, name, value string) error
}

// RuleRegistrar registers finalized rules. Satisfied by *rules.Engine.
type RuleRegistrar interface {
	Register(ctx context.Context, cfg rules.Config) (*rules.Rule, error)
	RegisterToggleable(ctx context.Context, cfg rules.Config) (*rules.Rule, error)
}

// Timer is a pending deferred call. Satisfied by *time.Timer.
type Timer interface {
	Stop() bool
}

// Scheduler runs f after d.
type Scheduler func(d time.Duration, f func()) Timer

func afterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// TimeOfDayItem is the item TimeOfDay triggers watch.
const TimeOfDayItem = "vTimeOfDay"

// DSL creates triggers, conditions, operations and rules bound to an item
// service and a rule registrar.
type DSL struct {
	items     ItemService
	registrar RuleRegistrar
	schedule  Scheduler
	logger    Logger

	mu      sync.Mutex
	timings []*TimingTrigger
	closed  bool
}

// Option configures a DSL.
type Option func(*DSL)

// WithScheduler replaces time.AfterFunc for timing triggers.
func WithScheduler(s Scheduler) Option {
	return func(d *DSL) {
		d.schedule = s
	}
}

// NewDSL creates a DSL.
func NewDSL(itemService ItemService, registrar RuleRegistrar, opts ...Option) *DSL {
	d := &DSL{
		items:     itemService,
		registrar: registrar,
		schedule:  afterFunc,
		logger:    noopLogger{},
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// SetLogger sets the logger for the DSL.
func (d *DSL) SetLogger(logger Logger) {
	d.logger = logger
}

// Close cancels every pending timing trigger and stops new ones from
// starting. Call it before the item registry and rule engine shut down.
func (d *DSL) Close() {
	d.mu.Lock()
	d.closed = true
	timings := d.timings
	d.timings = nil
	d.mu.Unlock()

	for _, t := range timings {
		t.cancel()
	}
	d.logger.Debug("fluent DSL closed", "timing_triggers", len(timings))
}

func (d *DSL) track(t *TimingTrigger) {
	d.mu.Lock()
	d.timings = append(d.timings, t)
	d.mu.Unlock()
}

func (d *DSL) isClosed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

// ─── Rules ──────────────────────────────────────────────────────────────────

// When starts a rule that fires on tc.
func (d *DSL) When(tc TriggerConfig) (*Rule, error) {
	return d.newRule(tc, false)
}

// WhenToggleable starts a rule that gets an enable/disable switch item.
func (d *DSL) WhenToggleable(tc TriggerConfig) (*Rule, error) {
	return d.newRule(tc, true)
}

func (d *DSL) newRule(tc TriggerConfig, toggleable bool) (*Rule, error) {
	r := &Rule{dsl: d, toggleable: toggleable}
	if err := r.Or(tc); err != nil {
		return nil, err
	}
	return r, nil
}

// ─── Triggers ───────────────────────────────────────────────────────────────

// Item starts a trigger on an item. Set the event with Changed,
// ReceivedCommand or ReceivedUpdate.
func (d *DSL) Item(name string) *ItemTrigger {
	return &ItemTrigger{dsl: d, itemName: name}
}

// Cron creates a trigger on a six-field cron expression.
func (d *DSL) Cron(expression string) *CronTrigger {
	return &CronTrigger{expression: expression}
}

// At fires every day at "HH:MM". An invalid time fails at Then.
func (d *DSL) At(hhmm string) *AtTrigger {
	return &AtTrigger{hhmm: hhmm}
}

// TimeOfDay fires when the time-of-day item changes to state.
func (d *DSL) TimeOfDay(state string) *ItemTrigger {
	return d.Item(TimeOfDayItem).Changed().To(state)
}

// ─── Conditions ─────────────────────────────────────────────────────────────

// StateOfItem starts a condition on the state of an item.
func (d *DSL) StateOfItem(name string) *ItemStateCondition {
	return &ItemStateCondition{items: d.items, itemName: name}
}

// ─── Operations ─────────────────────────────────────────────────────────────

// Send sends a fixed command.
func (d *DSL) Send(value string) *SendCommandOperation {
	return d.newSend(literal(value), value)
}

// SendFunc sends the command fn returns. desc names the value in
// descriptions; "[something]" is used when it is empty.
func (d *DSL) SendFunc(desc string, fn ValueFunc) *SendCommandOperation {
	if desc == "" {
		desc = "[something]"
	}
	return d.newSend(fn, desc)
}

// SendOn sends ON.
func (d *DSL) SendOn() *SendCommandOperation {
	return d.Send(items.StateOn)
}

// SendOff sends OFF.
func (d *DSL) SendOff() *SendCommandOperation {
	return d.Send(items.StateOff)
}

// SendIt sends the implicit value of the firing context, which a
// received-command trigger sets to the command.
func (d *DSL) SendIt() *SendCommandOperation {
	return d.newSend(func(_ context.Context, fc rules.FiringContext) (string, error) {
		return fc.It, nil
	}, "it")
}

// SendToggle toggles an item.
func (d *DSL) SendToggle() *ToggleOperation {
	return &ToggleOperation{items: d.items}
}

// CopyState posts the state of one item as the state of another.
func (d *DSL) CopyState() *CopyStateOperation {
	return &CopyStateOperation{items: d.items}
}

// CopyAndSendState sends the state of one item as a command to another.
func (d *DSL) CopyAndSendState() *CopyStateOperation {
	return &CopyStateOperation{items: d.items, send: true}
}

func (d *DSL) newSend(value ValueFunc, desc string) *SendCommandOperation {
	return &SendCommandOperation{items: d.items, value: value, valueDesc: desc}
}
