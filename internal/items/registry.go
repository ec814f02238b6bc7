package items

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Logger defines the logging interface used by the Registry.
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

// Publisher forwards item commands to protocol bridges and announces new
// states. Satisfied by *mqtt.Client.
type Publisher interface {
	PublishItemCommand(item, command string) error
	PublishItemState(item, state string) error
}

// History stores item state over time. Satisfied by *influxdb.Client.
type History interface {
	RecordItemState(ctx context.Context, item, state string, at time.Time) error

	// HistoricItemState returns the last state recorded at or before at.
	// ok is false when nothing was recorded.
	HistoricItemState(ctx context.Context, item string, at time.Time) (state string, ok bool, err error)
}

// Listener receives item events.
type Listener func(ctx context.Context, ev Event)

// Registry provides item management with caching and thread safety, and
// acts as the command/update event bus.
//
// The cache is populated on startup via RefreshCache() and kept in sync by
// every mutating operation. All public methods are thread-safe.
type Registry struct {
	repo    Repository
	cache   map[string]*Item
	cacheMu sync.RWMutex
	logger  Logger

	// stateMu serialises read-modify-write of item state so OldState in
	// emitted events is always the state the update replaced.
	stateMu sync.Mutex

	publisher  Publisher
	history    History
	autoupdate bool

	listenersMu  sync.RWMutex
	listeners    map[int]Listener
	nextListener int

	now func() time.Time
}

// NewRegistry creates a new item registry over repo.
func NewRegistry(repo Repository) *Registry {
	return &Registry{
		repo:       repo,
		cache:      make(map[string]*Item),
		logger:     noopLogger{},
		listeners:  make(map[int]Listener),
		autoupdate: true,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

// SetPublisher sets where commands and states are published. Nil disables publishing.
func (r *Registry) SetPublisher(p Publisher) {
	r.publisher = p
}

// SetHistory sets the state history store. Nil disables history.
func (r *Registry) SetHistory(h History) {
	r.history = h
}

// SetAutoupdate controls whether a command also posts the commanded value as
// the new state.
func (r *Registry) SetAutoupdate(enabled bool) {
	r.autoupdate = enabled
}

// RefreshCache reloads all items from the repository into the cache.
// This should be called on application startup.
func (r *Registry) RefreshCache(ctx context.Context) error {
	items, err := r.repo.List(ctx)
	if err != nil {
		return fmt.Errorf("loading items: %w", err)
	}

	r.cacheMu.Lock()
	defer r.cacheMu.Unlock()

	r.cache = make(map[string]*Item, len(items))
	for i := range items {
		r.cache[items[i].Name] = items[i].DeepCopy()
	}

	r.logger.Info("item cache refreshed", "count", len(items))
	return nil
}

// GetItem retrieves an item by name.
// Returns ErrItemNotFound if the item does not exist.
// The returned item is a copy; callers can safely modify it.
func (r *Registry) GetItem(ctx context.Context, name string) (*Item, error) {
	r.cacheMu.RLock()
	cached, ok := r.cache[name]
	r.cacheMu.RUnlock()
	if ok {
		return cached.DeepCopy(), nil
	}

	item, err := r.repo.Get(ctx, name)
	if err != nil {
		return nil, err
	}

	r.cacheMu.Lock()
	r.cache[name] = item.DeepCopy()
	r.cacheMu.Unlock()

	return item, nil
}

// ListItems returns every cached item ordered by name.
func (r *Registry) ListItems(ctx context.Context) ([]Item, error) {
	return r.filter(func(*Item) bool { return true }), nil
}

// ListItemsByTag returns the items carrying tag, ordered by name.
func (r *Registry) ListItemsByTag(ctx context.Context, tag string) ([]Item, error) {
	return r.filter(func(i *Item) bool { return i.HasTag(tag) }), nil
}

// ListGroupMembers returns the direct members of a group item, ordered by name.
func (r *Registry) ListGroupMembers(ctx context.Context, group string) ([]Item, error) {
	return r.filter(func(i *Item) bool { return i.InGroup(group) }), nil
}

func (r *Registry) filter(keep func(*Item) bool) []Item {
	r.cacheMu.RLock()
	out := make([]Item, 0, len(r.cache))
	for _, i := range r.cache {
		if keep(i) {
			out = append(out, *i.DeepCopy())
		}
	}
	r.cacheMu.RUnlock()

	sort.Slice(out, func(a, b int) bool { return out[a].Name < out[b].Name })
	return out
}

// GetItemCount returns the number of cached items.
func (r *Registry) GetItemCount() int {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()
	return len(r.cache)
}

// AddItem creates a new item tagged DynamicItemTag.
// Returns ErrItemExists if the name is taken.
func (r *Registry) AddItem(ctx context.Context, item *Item) error {
	if !item.HasTag(DynamicItemTag) {
		item.Tags = append(item.Tags, DynamicItemTag)
	}
	if item.State == "" {
		item.State = StateNull
	}
	now := r.now()
	item.CreatedAt = now
	item.UpdatedAt = now

	if err := ValidateItem(item); err != nil {
		return err
	}
	if err := r.repo.Create(ctx, item); err != nil {
		return err
	}

	r.cacheMu.Lock()
	r.cache[item.Name] = item.DeepCopy()
	r.cacheMu.Unlock()

	r.logger.Info("item added", "name", item.Name, "type", item.Type)
	return nil
}

// ReplaceItem creates the item or replaces an existing one with the same
// name and returns the previous definition (nil if there was none).
//
// When item.State is empty the previous state is carried over, so a
// replaced item does not lose its value across restarts.
func (r *Registry) ReplaceItem(ctx context.Context, item *Item) (*Item, error) {
	previous, err := r.GetItem(ctx, item.Name)
	if err != nil && !errors.Is(err, ErrItemNotFound) {
		return nil, err
	}

	now := r.now()
	item.UpdatedAt = now
	item.CreatedAt = now
	if previous != nil {
		item.CreatedAt = previous.CreatedAt
		if item.State == "" {
			item.State = previous.State
			item.StateUpdatedAt = previous.StateUpdatedAt
		}
	}
	if item.State == "" {
		item.State = StateNull
	}

	if err := ValidateItem(item); err != nil {
		return nil, err
	}
	if err := r.repo.Save(ctx, item); err != nil {
		return nil, err
	}

	r.cacheMu.Lock()
	r.cache[item.Name] = item.DeepCopy()
	r.cacheMu.Unlock()

	r.logger.Debug("item replaced", "name", item.Name, "existed", previous != nil)
	return previous, nil
}

// RemoveItem deletes an item. It reports false when there was nothing to remove.
func (r *Registry) RemoveItem(ctx context.Context, name string) (bool, error) {
	if err := r.repo.Delete(ctx, name); err != nil {
		if errors.Is(err, ErrItemNotFound) {
			return false, nil
		}
		return false, err
	}

	r.cacheMu.Lock()
	delete(r.cache, name)
	r.cacheMu.Unlock()

	r.logger.Info("item removed", "name", name)
	return true, nil
}

// GetMetadata returns the metadata of an item in a namespace.
func (r *Registry) GetMetadata(ctx context.Context, name, namespace string) (*Metadata, error) {
	return r.repo.GetMetadata(ctx, name, namespace)
}

// GetMetadataValue returns the metadata value of an item in a namespace.
// ok is false when the item has no metadata there.
func (r *Registry) GetMetadataValue(ctx context.Context, name, namespace string) (string, bool, error) {
	md, err := r.repo.GetMetadata(ctx, name, namespace)
	if err != nil {
		if errors.Is(err, ErrMetadataNotFound) {
			return "", false, nil
		}
		return "", false, err
	}
	return md.Value, true, nil
}

// SetMetadata stores metadata for an existing item.
func (r *Registry) SetMetadata(ctx context.Context, md *Metadata) error {
	if _, err := r.GetItem(ctx, md.ItemName); err != nil {
		return err
	}
	if md.Namespace == "" {
		return fmt.Errorf("%w: metadata namespace is required", ErrInvalidItem)
	}
	return r.repo.SetMetadata(ctx, md)
}

// HistoricState returns the state an item had at a point in time.
// ok is false when no history is configured or nothing was recorded.
func (r *Registry) HistoricState(ctx context.Context, name string, at time.Time) (string, bool, error) {
	if r.history == nil {
		return "", false, nil
	}
	return r.history.HistoricItemState(ctx, name, at)
}
