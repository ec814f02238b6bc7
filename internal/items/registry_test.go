package items

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ─── Mock Dependencies ──────────────────────────────────────────────

// MockRepository is an in-memory Repository.
type MockRepository struct {
	mu       sync.Mutex
	items    map[string]*Item
	metadata map[string]*Metadata

	updateStateErr error
}

func NewMockRepository() *MockRepository {
	return &MockRepository{
		items:    make(map[string]*Item),
		metadata: make(map[string]*Metadata),
	}
}

func (m *MockRepository) Get(_ context.Context, name string) (*Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if i, ok := m.items[name]; ok {
		return i.DeepCopy(), nil
	}
	return nil, ErrItemNotFound
}

func (m *MockRepository) List(_ context.Context) ([]Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Item, 0, len(m.items))
	for _, i := range m.items {
		out = append(out, *i.DeepCopy())
	}
	return out, nil
}

func (m *MockRepository) Create(_ context.Context, item *Item) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.items[item.Name]; ok {
		return ErrItemExists
	}
	m.items[item.Name] = item.DeepCopy()
	return nil
}

func (m *MockRepository) Save(_ context.Context, item *Item) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[item.Name] = item.DeepCopy()
	return nil
}

func (m *MockRepository) Delete(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.items[name]; !ok {
		return ErrItemNotFound
	}
	delete(m.items, name)
	return nil
}

func (m *MockRepository) UpdateState(_ context.Context, name, state string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.updateStateErr != nil {
		return m.updateStateErr
	}
	i, ok := m.items[name]
	if !ok {
		return ErrItemNotFound
	}
	i.State = state
	i.StateUpdatedAt = &at
	return nil
}

func (m *MockRepository) GetMetadata(_ context.Context, name, namespace string) (*Metadata, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if md, ok := m.metadata[name+"/"+namespace]; ok {
		cpy := *md
		return &cpy, nil
	}
	return nil, ErrMetadataNotFound
}

func (m *MockRepository) SetMetadata(_ context.Context, md *Metadata) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cpy := *md
	m.metadata[md.ItemName+"/"+md.Namespace] = &cpy
	return nil
}

type publishedMessage struct {
	kind  string
	item  string
	value string
}

type mockPublisher struct {
	mu         sync.Mutex
	messages   []publishedMessage
	commandErr error
	stateErr   error
}

func (p *mockPublisher) PublishItemCommand(item, command string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.commandErr != nil {
		return p.commandErr
	}
	p.messages = append(p.messages, publishedMessage{"command", item, command})
	return nil
}

func (p *mockPublisher) PublishItemState(item, state string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stateErr != nil {
		return p.stateErr
	}
	p.messages = append(p.messages, publishedMessage{"state", item, state})
	return nil
}

type mockHistory struct {
	mu       sync.Mutex
	recorded []string
	historic map[string]string
	err      error
}

func (h *mockHistory) RecordItemState(_ context.Context, item, state string, _ time.Time) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.recorded = append(h.recorded, item+"="+state)
	return h.err
}

func (h *mockHistory) HistoricItemState(_ context.Context, item string, _ time.Time) (string, bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	s, ok := h.historic[item]
	return s, ok, h.err
}

type eventRecorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *eventRecorder) listen(_ context.Context, ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *eventRecorder) types() []EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]EventType, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Type
	}
	return out
}

// ─── Helpers ────────────────────────────────────────────────────────

func newTestRegistry(t *testing.T, seed ...*Item) (*Registry, *MockRepository) {
	t.Helper()
	repo := NewMockRepository()
	for _, i := range seed {
		if i.State == "" {
			i.State = StateNull
		}
		require.NoError(t, repo.Create(context.Background(), i))
	}
	reg := NewRegistry(repo)
	require.NoError(t, reg.RefreshCache(context.Background()))
	return reg, repo
}

// ─── Registry ───────────────────────────────────────────────────────

func TestRegistry_GetItem(t *testing.T) {
	reg, repo := newTestRegistry(t, &Item{Name: "Light", Type: TypeSwitch, State: "ON"})
	ctx := context.Background()

	got, err := reg.GetItem(ctx, "Light")
	require.NoError(t, err)
	assert.Equal(t, "ON", got.State)

	// Returned copies do not alias the cache.
	got.State = "OFF"
	again, err := reg.GetItem(ctx, "Light")
	require.NoError(t, err)
	assert.Equal(t, "ON", again.State)

	// Falls back to the repository for items created behind the cache.
	require.NoError(t, repo.Create(ctx, &Item{Name: "Late", Type: TypeNumber, State: "1"}))
	late, err := reg.GetItem(ctx, "Late")
	require.NoError(t, err)
	assert.Equal(t, "1", late.State)

	_, err = reg.GetItem(ctx, "Missing")
	assert.ErrorIs(t, err, ErrItemNotFound)
}

func TestRegistry_AddItem(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx := context.Background()

	item := &Item{Name: "Dyn", Type: TypeSwitch}
	require.NoError(t, reg.AddItem(ctx, item))

	got, err := reg.GetItem(ctx, "Dyn")
	require.NoError(t, err)
	assert.True(t, got.HasTag(DynamicItemTag))
	assert.Equal(t, StateNull, got.State)
	assert.True(t, got.IsUninitialized())
	assert.Equal(t, 1, reg.GetItemCount())

	err = reg.AddItem(ctx, &Item{Name: "Dyn", Type: TypeSwitch})
	assert.ErrorIs(t, err, ErrItemExists)

	err = reg.AddItem(ctx, &Item{Name: "bad name", Type: TypeSwitch})
	assert.ErrorIs(t, err, ErrInvalidName)
}

func TestRegistry_ReplaceItem(t *testing.T) {
	reg, _ := newTestRegistry(t, &Item{Name: "Toggle", Type: TypeSwitch, Label: "old", State: "OFF"})
	ctx := context.Background()

	prev, err := reg.ReplaceItem(ctx, &Item{Name: "Toggle", Type: TypeSwitch, Label: "new"})
	require.NoError(t, err)
	require.NotNil(t, prev)
	assert.Equal(t, "old", prev.Label)

	got, err := reg.GetItem(ctx, "Toggle")
	require.NoError(t, err)
	assert.Equal(t, "new", got.Label)
	assert.Equal(t, "OFF", got.State, "state carries over when the replacement has none")

	prev, err = reg.ReplaceItem(ctx, &Item{Name: "Fresh", Type: TypeGroup})
	require.NoError(t, err)
	assert.Nil(t, prev)

	fresh, err := reg.GetItem(ctx, "Fresh")
	require.NoError(t, err)
	assert.True(t, fresh.IsUninitialized())
}

func TestRegistry_RemoveItem(t *testing.T) {
	reg, _ := newTestRegistry(t, &Item{Name: "Gone", Type: TypeSwitch})
	ctx := context.Background()

	removed, err := reg.RemoveItem(ctx, "Gone")
	require.NoError(t, err)
	assert.True(t, removed)

	removed, err = reg.RemoveItem(ctx, "Gone")
	require.NoError(t, err)
	assert.False(t, removed)
	assert.Equal(t, 0, reg.GetItemCount())
}

func TestRegistry_ListFilters(t *testing.T) {
	reg, _ := newTestRegistry(t,
		&Item{Name: "B", Type: TypeSwitch, Groups: []string{"gLights"}, Tags: []string{"Lighting"}},
		&Item{Name: "A", Type: TypeSwitch, Groups: []string{"gLights"}},
		&Item{Name: "C", Type: TypeContact, Tags: []string{"Lighting"}},
	)
	ctx := context.Background()

	all, err := reg.ListItems(ctx)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "A", all[0].Name)
	assert.Equal(t, "C", all[2].Name)

	tagged, err := reg.ListItemsByTag(ctx, "Lighting")
	require.NoError(t, err)
	assert.Len(t, tagged, 2)

	members, err := reg.ListGroupMembers(ctx, "gLights")
	require.NoError(t, err)
	require.Len(t, members, 2)
	assert.Equal(t, "A", members[0].Name)
}

func TestRegistry_Metadata(t *testing.T) {
	reg, _ := newTestRegistry(t, &Item{Name: "Light", Type: TypeSwitch})
	ctx := context.Background()

	_, ok, err := reg.GetMetadataValue(ctx, "Light", "expire")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, reg.SetMetadata(ctx, &Metadata{ItemName: "Light", Namespace: "expire", Value: "5m"}))

	v, ok, err := reg.GetMetadataValue(ctx, "Light", "expire")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "5m", v)

	err = reg.SetMetadata(ctx, &Metadata{ItemName: "Missing", Namespace: "expire"})
	assert.ErrorIs(t, err, ErrItemNotFound)

	err = reg.SetMetadata(ctx, &Metadata{ItemName: "Light"})
	assert.ErrorIs(t, err, ErrInvalidItem)
}

func TestRegistry_HistoricState(t *testing.T) {
	reg, _ := newTestRegistry(t, &Item{Name: "Light", Type: TypeSwitch})
	ctx := context.Background()

	_, ok, err := reg.HistoricState(ctx, "Light", time.Now())
	require.NoError(t, err)
	assert.False(t, ok, "no history configured")

	reg.SetHistory(&mockHistory{historic: map[string]string{"Light": "OFF"}})
	s, ok, err := reg.HistoricState(ctx, "Light", time.Now())
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "OFF", s)
}

// ─── Event Bus ──────────────────────────────────────────────────────

func TestRegistry_PostUpdate(t *testing.T) {
	reg, _ := newTestRegistry(t, &Item{Name: "Door", Type: TypeContact, State: "CLOSED"})
	pub := &mockPublisher{}
	hist := &mockHistory{}
	reg.SetPublisher(pub)
	reg.SetHistory(hist)

	rec := &eventRecorder{}
	reg.Subscribe(rec.listen)
	ctx := context.Background()

	require.NoError(t, reg.PostUpdate(ctx, "Door", "OPEN"))
	assert.Equal(t, []EventType{EventUpdate, EventChange}, rec.types())
	assert.Equal(t, "CLOSED", rec.events[1].OldState)
	assert.Equal(t, "OPEN", rec.events[1].Value)

	// Same state again: update only.
	require.NoError(t, reg.PostUpdate(ctx, "Door", "OPEN"))
	assert.Equal(t, []EventType{EventUpdate, EventChange, EventUpdate}, rec.types())

	got, err := reg.GetItem(ctx, "Door")
	require.NoError(t, err)
	assert.Equal(t, "OPEN", got.State)
	assert.NotNil(t, got.StateUpdatedAt)

	assert.Equal(t, []publishedMessage{{"state", "Door", "OPEN"}, {"state", "Door", "OPEN"}}, pub.messages)
	assert.Equal(t, []string{"Door=OPEN", "Door=OPEN"}, hist.recorded)
}

func TestRegistry_PostUpdate_Errors(t *testing.T) {
	reg, repo := newTestRegistry(t, &Item{Name: "Door", Type: TypeContact})
	ctx := context.Background()

	assert.ErrorIs(t, reg.PostUpdate(ctx, "Missing", "OPEN"), ErrItemNotFound)

	repo.updateStateErr = errors.New("disk full")
	assert.Error(t, reg.PostUpdate(ctx, "Door", "OPEN"))

	// Side-channel failures do not fail the update.
	repo.updateStateErr = nil
	reg.SetPublisher(&mockPublisher{stateErr: errors.New("broker down")})
	reg.SetHistory(&mockHistory{err: errors.New("influx down")})
	assert.NoError(t, reg.PostUpdate(ctx, "Door", "OPEN"))
}

func TestRegistry_SendCommand(t *testing.T) {
	t.Run("autoupdate posts the commanded state", func(t *testing.T) {
		reg, _ := newTestRegistry(t, &Item{Name: "Light", Type: TypeSwitch, State: "OFF"})
		pub := &mockPublisher{}
		reg.SetPublisher(pub)
		rec := &eventRecorder{}
		reg.Subscribe(rec.listen)
		ctx := context.Background()

		require.NoError(t, reg.SendCommand(ctx, "Light", "ON"))

		assert.Equal(t, []EventType{EventCommand, EventUpdate, EventChange}, rec.types())
		assert.Equal(t, publishedMessage{"command", "Light", "ON"}, pub.messages[0])
		got, _ := reg.GetItem(ctx, "Light")
		assert.Equal(t, "ON", got.State)
	})

	t.Run("without autoupdate only the command is emitted", func(t *testing.T) {
		reg, _ := newTestRegistry(t, &Item{Name: "Light", Type: TypeSwitch, State: "OFF"})
		reg.SetAutoupdate(false)
		rec := &eventRecorder{}
		reg.Subscribe(rec.listen)
		ctx := context.Background()

		require.NoError(t, reg.SendCommand(ctx, "Light", "ON"))

		assert.Equal(t, []EventType{EventCommand}, rec.types())
		got, _ := reg.GetItem(ctx, "Light")
		assert.Equal(t, "OFF", got.State)
	})

	t.Run("publish failure is returned", func(t *testing.T) {
		reg, _ := newTestRegistry(t, &Item{Name: "Light", Type: TypeSwitch})
		reg.SetPublisher(&mockPublisher{commandErr: errors.New("not connected")})
		rec := &eventRecorder{}
		reg.Subscribe(rec.listen)

		err := reg.SendCommand(context.Background(), "Light", "ON")
		assert.Error(t, err)
		assert.Empty(t, rec.types())
	})

	t.Run("unknown item", func(t *testing.T) {
		reg, _ := newTestRegistry(t)
		assert.ErrorIs(t, reg.SendCommand(context.Background(), "Nope", "ON"), ErrItemNotFound)
	})
}

func TestRegistry_SendCommandIfDifferent(t *testing.T) {
	reg, _ := newTestRegistry(t, &Item{Name: "Light", Type: TypeSwitch, State: "ON"})
	ctx := context.Background()

	sent, err := reg.SendCommandIfDifferent(ctx, "Light", "ON")
	require.NoError(t, err)
	assert.False(t, sent)

	sent, err = reg.SendCommandIfDifferent(ctx, "Light", "OFF")
	require.NoError(t, err)
	assert.True(t, sent)
}

func TestRegistry_Unsubscribe(t *testing.T) {
	reg, _ := newTestRegistry(t, &Item{Name: "Light", Type: TypeSwitch})
	rec := &eventRecorder{}
	unsubscribe := reg.Subscribe(rec.listen)
	ctx := context.Background()

	require.NoError(t, reg.PostUpdate(ctx, "Light", "ON"))
	unsubscribe()
	require.NoError(t, reg.PostUpdate(ctx, "Light", "OFF"))

	assert.Equal(t, []EventType{EventUpdate, EventChange}, rec.types())
}

func TestRegistry_BridgeStateHandler(t *testing.T) {
	reg, _ := newTestRegistry(t, &Item{Name: "Kitchen_Light", Type: TypeSwitch})
	handle := reg.BridgeStateHandler(context.Background())

	require.NoError(t, handle("graylogic/state/knx/Kitchen_Light", []byte(`{"state":"ON"}`)))
	got, _ := reg.GetItem(context.Background(), "Kitchen_Light")
	assert.Equal(t, "ON", got.State)

	require.NoError(t, handle("graylogic/state/knx/Kitchen_Light", []byte(" OFF \n")))
	got, _ = reg.GetItem(context.Background(), "Kitchen_Light")
	assert.Equal(t, "OFF", got.State)

	assert.ErrorIs(t, handle("graylogic/state/knx/Kitchen_Light", []byte(`{"level":3}`)), ErrInvalidState)
	assert.ErrorIs(t, handle("graylogic/state/knx/Kitchen_Light", []byte(`{"state":`)), ErrInvalidState)
	assert.ErrorIs(t, handle("graylogic/state/knx/", []byte("ON")), ErrInvalidName)
	assert.ErrorIs(t, handle("graylogic/state/knx/Unknown", []byte("ON")), ErrItemNotFound)
}
