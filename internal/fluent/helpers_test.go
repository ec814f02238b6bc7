package fluent

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-fluent/internal/items"
	"github.com/nerrad567/gray-logic-fluent/internal/rules"
)

// ─── Mock Item Service ──────────────────────────────────────────────────────

type mockItems struct {
	mu    sync.Mutex
	items map[string]*items.Item
	calls []string // "cmd A=ON", "upd A=ON"
}

func newMockItems(list ...*items.Item) *mockItems {
	m := &mockItems{items: make(map[string]*items.Item)}
	for _, it := range list {
		m.items[it.Name] = it
	}
	return m
}

func item(name string, typ items.Type, state string) *items.Item {
	return &items.Item{Name: name, Type: typ, State: state}
}

func (m *mockItems) GetItem(_ context.Context, name string) (*items.Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	it, ok := m.items[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", items.ErrItemNotFound, name)
	}
	return it.DeepCopy(), nil
}

func (m *mockItems) SendCommand(_ context.Context, name, value string) error {
	return m.record("cmd", name, value)
}

func (m *mockItems) PostUpdate(_ context.Context, name, value string) error {
	return m.record("upd", name, value)
}

func (m *mockItems) record(kind, name, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	it, ok := m.items[name]
	if !ok {
		return fmt.Errorf("%w: %s", items.ErrItemNotFound, name)
	}
	it.State = value
	m.calls = append(m.calls, kind+" "+name+"="+value)
	return nil
}

func (m *mockItems) setState(name, state string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[name].State = state
}

func (m *mockItems) recorded() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

// ─── Mock Registrar ─────────────────────────────────────────────────────────

type mockRegistrar struct {
	configs    []rules.Config
	toggleable []bool
	err        error
}

func (m *mockRegistrar) Register(_ context.Context, cfg rules.Config) (*rules.Rule, error) {
	return m.register(cfg, false)
}

func (m *mockRegistrar) RegisterToggleable(_ context.Context, cfg rules.Config) (*rules.Rule, error) {
	return m.register(cfg, true)
}

func (m *mockRegistrar) register(cfg rules.Config, toggleable bool) (*rules.Rule, error) {
	if m.err != nil {
		return nil, m.err
	}
	m.configs = append(m.configs, cfg)
	m.toggleable = append(m.toggleable, toggleable)
	return &rules.Rule{
		UID:         rules.GenerateUID(cfg.Name),
		Name:        cfg.Name,
		Description: cfg.Description,
		Group:       cfg.Group,
		Triggers:    cfg.Triggers,
		Enabled:     true,
		Toggleable:  toggleable,
	}, nil
}

func (m *mockRegistrar) last() rules.Config {
	return m.configs[len(m.configs)-1]
}

// ─── Fake Scheduler ─────────────────────────────────────────────────────────

type fakeTimer struct {
	d       time.Duration
	f       func()
	stopped bool
}

func (t *fakeTimer) Stop() bool {
	was := !t.stopped
	t.stopped = true
	return was
}

// fire runs the callback the way a timer that lost the race with Stop would.
func (t *fakeTimer) fire() {
	t.f()
}

type fakeScheduler struct {
	timers []*fakeTimer
}

func (s *fakeScheduler) schedule(d time.Duration, f func()) Timer {
	t := &fakeTimer{d: d, f: f}
	s.timers = append(s.timers, t)
	return t
}

// ─── Fixtures ───────────────────────────────────────────────────────────────

type fixture struct {
	items     *mockItems
	registrar *mockRegistrar
	scheduler *fakeScheduler
	dsl       *DSL
}

func newFixture(list ...*items.Item) *fixture {
	f := &fixture{
		items:     newMockItems(list...),
		registrar: &mockRegistrar{},
		scheduler: &fakeScheduler{},
	}
	f.dsl = NewDSL(f.items, f.registrar, WithScheduler(f.scheduler.schedule))
	return f
}
