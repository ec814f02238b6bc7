package rules

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/nerrad567/gray-logic-fluent/internal/items"
	"github.com/nerrad567/gray-logic-fluent/internal/triggers"
)

// Logger defines the logging interface used by the Engine.
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

// ItemStore is what the engine needs from the item registry to provision
// toggleable rules. Satisfied by *items.Registry.
type ItemStore interface {
	GetItem(ctx context.Context, name string) (*items.Item, error)
	ReplaceItem(ctx context.Context, item *items.Item) (*items.Item, error)
	SendCommand(ctx context.Context, name, value string) error
	PostUpdate(ctx context.Context, name, value string) error
	HistoricState(ctx context.Context, name string, at time.Time) (string, bool, error)
}

// EventSource delivers item events. Satisfied by *items.Registry.
type EventSource interface {
	Subscribe(l items.Listener) (unsubscribe func())
}

// cronParser accepts six fields, seconds first, and descriptors.
var cronParser = cron.NewParser(
	cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

type entry struct {
	rule    Rule
	execute ExecuteFunc
	cronIDs []cron.EntryID
	proxy   string // UID of the proxy rule of a toggleable rule
}

// Engine registers rules and fires them.
type Engine struct {
	store       ItemStore
	cron        *cron.Cron
	location    *time.Location
	toggleGroup string
	logger      Logger

	mu      sync.RWMutex
	entries map[string]*entry

	runCtx    context.Context
	cancelRun context.CancelFunc
	running   sync.WaitGroup

	// dispatchMu guards unsubscribe and stopped. running.Add only happens
	// under it while not stopped, so Stop can Wait safely.
	dispatchMu  sync.Mutex
	stopped     bool
	unsubscribe func()

	now func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithLocation sets the time zone cron triggers are evaluated in.
func WithLocation(loc *time.Location) Option {
	return func(e *Engine) {
		e.location = loc
	}
}

// WithToggleGroup sets the group switch items of toggleable rules are
// placed in. Defaults to DefaultToggleGroup.
func WithToggleGroup(group string) Option {
	return func(e *Engine) {
		e.toggleGroup = group
	}
}

// NewEngine creates a rule engine. store may be nil when toggleable rules
// are not used.
func NewEngine(store ItemStore, opts ...Option) *Engine {
	e := &Engine{
		store:       store,
		location:    time.Local,
		toggleGroup: DefaultToggleGroup,
		logger:      noopLogger{},
		entries:     make(map[string]*entry),
		now:         func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(e)
	}
	e.runCtx, e.cancelRun = context.WithCancel(context.Background())
	e.cron = cron.New(
		cron.WithParser(cronParser),
		cron.WithLocation(e.location),
		cron.WithLogger(cronLogger{e}),
	)
	return e
}

// SetLogger sets the logger for the engine.
func (e *Engine) SetLogger(logger Logger) {
	e.logger = logger
}

// Start starts the cron scheduler. Timer triggers only fire after Start.
func (e *Engine) Start(ctx context.Context) {
	e.mu.Lock()
	e.cancelRun()
	e.runCtx, e.cancelRun = context.WithCancel(context.WithoutCancel(ctx))
	e.mu.Unlock()

	e.dispatchMu.Lock()
	e.stopped = false
	e.dispatchMu.Unlock()

	e.cron.Start()
	e.logger.Info("rule engine started", "rules", e.count())
}

// Stop stops the scheduler, detaches from the event source and waits for
// running executions until ctx expires.
func (e *Engine) Stop(ctx context.Context) error {
	e.dispatchMu.Lock()
	e.stopped = true
	unsubscribe := e.unsubscribe
	e.unsubscribe = nil
	e.dispatchMu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	cronDone := e.cron.Stop()

	done := make(chan struct{})
	go func() {
		<-cronDone.Done()
		e.running.Wait()
		close(done)
	}()

	defer func() {
		e.mu.RLock()
		cancel := e.cancelRun
		e.mu.RUnlock()
		cancel()
	}()

	select {
	case <-done:
		e.logger.Info("rule engine stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for running rules: %w", ctx.Err())
	}
}

// Attach subscribes the engine to item events. Each event is dispatched on
// its own goroutine. Events delivered after Stop are dropped.
func (e *Engine) Attach(src EventSource) {
	unsubscribe := src.Subscribe(func(ctx context.Context, ev items.Event) {
		if !e.beginRun() {
			e.logger.Debug("rule engine stopped, event dropped", "item", ev.ItemName)
			return
		}
		go func() {
			defer e.running.Done()
			if err := e.HandleEvent(context.WithoutCancel(ctx), ev); err != nil {
				e.logger.Debug("rule dispatch finished with errors", "item", ev.ItemName, "error", err)
			}
		}()
	})

	e.dispatchMu.Lock()
	if e.stopped {
		e.dispatchMu.Unlock()
		unsubscribe()
		return
	}
	e.unsubscribe = unsubscribe
	e.dispatchMu.Unlock()
}

// beginRun counts a new execution unless the engine is stopped.
func (e *Engine) beginRun() bool {
	e.dispatchMu.Lock()
	defer e.dispatchMu.Unlock()
	if e.stopped {
		return false
	}
	e.running.Add(1)
	return true
}

// Register validates and registers a rule. The rule starts enabled.
func (e *Engine) Register(ctx context.Context, cfg Config) (*Rule, error) {
	if cfg.Execute == nil {
		return nil, fmt.Errorf("%w: execute function is required", ErrInvalidRule)
	}
	if cfg.Name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidRule)
	}
	if len(cfg.Triggers) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoTriggers, cfg.Name)
	}

	type schedule struct{ spec, typeUID string }
	var schedules []schedule
	for _, t := range cfg.Triggers {
		spec, timer, err := timerSpec(t)
		if err != nil {
			return nil, fmt.Errorf("rule %s: %w", cfg.Name, err)
		}
		if timer {
			schedules = append(schedules, schedule{spec, t.TypeUID})
		} else if !t.IsItemTrigger() || t.ItemName() == "" {
			return nil, fmt.Errorf("%w: trigger %s of type %q", ErrInvalidRule, t.ID, t.TypeUID)
		}
	}

	ent := &entry{
		rule: Rule{
			UID:         GenerateUID(cfg.Name),
			Name:        cfg.Name,
			Description: cfg.Description,
			Group:       cfg.Group,
			Triggers:    make([]triggers.Trigger, len(cfg.Triggers)),
			Enabled:     true,
			CreatedAt:   e.now(),
		},
		execute: cfg.Execute,
	}
	for i, t := range cfg.Triggers {
		ent.rule.Triggers[i] = t.Clone()
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	for _, s := range schedules {
		uid, typeUID := ent.rule.UID, s.typeUID
		id, err := e.cron.AddFunc(s.spec, func() { e.fireTimer(uid, typeUID) })
		if err != nil {
			for _, added := range ent.cronIDs {
				e.cron.Remove(added)
			}
			return nil, fmt.Errorf("%w: %q: %w", ErrInvalidCron, s.spec, err)
		}
		ent.cronIDs = append(ent.cronIDs, id)
	}
	e.entries[ent.rule.UID] = ent

	e.logger.Info("rule registered", "uid", ent.rule.UID, "name", ent.rule.Name, "triggers", len(ent.rule.Triggers))
	return ent.rule.DeepCopy(), nil
}

// timerSpec returns the cron spec of a timer trigger. timer is false for
// item triggers.
func timerSpec(t triggers.Trigger) (spec string, timer bool, err error) {
	switch t.TypeUID {
	case triggers.TypeGenericCron:
		spec = t.Configuration[triggers.ConfigCronExpression]
	case triggers.TypeTimeOfDay:
		var hour, minute int
		if _, scanErr := fmt.Sscanf(t.Configuration[triggers.ConfigTime], "%d:%d", &hour, &minute); scanErr != nil {
			return "", true, fmt.Errorf("%w: time %q", ErrInvalidCron, t.Configuration[triggers.ConfigTime])
		}
		spec = fmt.Sprintf("0 %d %d * * *", minute, hour)
	default:
		return "", false, nil
	}
	if _, err := cronParser.Parse(spec); err != nil {
		return "", true, fmt.Errorf("%w: %q: %w", ErrInvalidCron, spec, err)
	}
	return spec, true, nil
}

// SetEnabled enables or disables a rule.
func (e *Engine) SetEnabled(uid string, enabled bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	ent, ok := e.entries[uid]
	if !ok {
		return fmt.Errorf("%w: %s", ErrRuleNotFound, uid)
	}
	ent.rule.Enabled = enabled
	e.logger.Info("rule enabled state set", "uid", uid, "name", ent.rule.Name, "enabled", enabled)
	return nil
}

// Get returns a copy of a registered rule.
func (e *Engine) Get(uid string) (*Rule, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	ent, ok := e.entries[uid]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRuleNotFound, uid)
	}
	return ent.rule.DeepCopy(), nil
}

// List returns copies of all registered rules ordered by name.
func (e *Engine) List() []Rule {
	e.mu.RLock()
	out := make([]Rule, 0, len(e.entries))
	for _, ent := range e.entries {
		out = append(out, *ent.rule.DeepCopy())
	}
	e.mu.RUnlock()

	sort.Slice(out, func(a, b int) bool {
		if out[a].Name != out[b].Name {
			return out[a].Name < out[b].Name
		}
		return out[a].UID < out[b].UID
	})
	return out
}

// Remove unregisters a rule and its proxy rule, if any.
func (e *Engine) Remove(uid string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	ent, ok := e.entries[uid]
	if !ok {
		return fmt.Errorf("%w: %s", ErrRuleNotFound, uid)
	}
	e.removeLocked(ent)
	if proxy, ok := e.entries[ent.proxy]; ok {
		e.removeLocked(proxy)
	}
	return nil
}

func (e *Engine) removeLocked(ent *entry) {
	for _, id := range ent.cronIDs {
		e.cron.Remove(id)
	}
	delete(e.entries, ent.rule.UID)
	e.logger.Info("rule removed", "uid", ent.rule.UID, "name", ent.rule.Name)
}

func (e *Engine) count() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.entries)
}

// HandleEvent runs every enabled rule with an item trigger matching ev.
// Rules run one after another; their errors are logged and joined.
func (e *Engine) HandleEvent(ctx context.Context, ev items.Event) error {
	type match struct {
		uid, name string
		trigger   triggers.Trigger
		execute   ExecuteFunc
	}

	e.mu.RLock()
	var matches []match
	for _, ent := range e.entries {
		if !ent.rule.Enabled {
			continue
		}
		for _, t := range ent.rule.Triggers {
			if t.Matches(ev) {
				matches = append(matches, match{ent.rule.UID, ent.rule.Name, t, ent.execute})
				break
			}
		}
	}
	e.mu.RUnlock()

	var errs []error
	for _, m := range matches {
		fc := firingContextForEvent(m.trigger, ev)
		if err := e.run(ctx, m.uid, m.name, m.execute, fc); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func firingContextForEvent(t triggers.Trigger, ev items.Event) FiringContext {
	fc := FiringContext{
		ItemName:    ev.ItemName,
		TriggerType: t.TypeUID,
		FiredAt:     ev.Timestamp,
		Payload: map[string]any{
			"type":  string(ev.Type),
			"value": ev.Value,
		},
	}
	switch ev.Type {
	case items.EventCommand:
		fc.EventType = EventCommand
		fc.ReceivedCommand = ev.Value
	case items.EventUpdate:
		fc.EventType = EventUpdate
		fc.State = ev.Value
		fc.ReceivedState = ev.Value
	case items.EventChange:
		fc.EventType = EventChange
		fc.OldState = ev.OldState
		fc.NewState = ev.Value
		fc.Payload["oldValue"] = ev.OldState
	}
	return fc
}

// fireTimer runs a rule from the cron scheduler.
func (e *Engine) fireTimer(uid, triggerType string) {
	e.mu.RLock()
	ent, ok := e.entries[uid]
	var (
		enabled bool
		name    string
		execute ExecuteFunc
	)
	if ok {
		enabled, name, execute = ent.rule.Enabled, ent.rule.Name, ent.execute
	}
	ctx := e.runCtx
	e.mu.RUnlock()

	if !ok || !enabled || !e.beginRun() {
		return
	}
	defer e.running.Done()

	fc := FiringContext{
		EventType:   EventTime,
		TriggerType: triggerType,
		FiredAt:     e.now(),
	}
	_ = e.run(ctx, uid, name, execute, fc) //nolint:errcheck // logged by run
}

// run executes a rule, converting a panic into an error.
func (e *Engine) run(ctx context.Context, uid, name string, execute ExecuteFunc, fc FiringContext) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("rule %s panicked: %v", name, r)
			e.logger.Error("rule panicked", "uid", uid, "name", name, "panic", r, "stack", string(debug.Stack()))
		}
	}()

	start := time.Now()
	if err := execute(ctx, fc); err != nil {
		e.logger.Error("failed to execute rule", "uid", uid, "name", name, "error", err)
		return fmt.Errorf("rule %s: %w", name, err)
	}
	e.logger.Debug("rule executed",
		"uid", uid,
		"name", name,
		"event_type", fc.EventType,
		"item", fc.ItemName,
		"duration", time.Since(start),
	)
	return nil
}

// cronLogger adapts the engine logger to cron.Logger.
type cronLogger struct {
	e *Engine
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.e.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.e.logger.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
