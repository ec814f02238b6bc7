package items

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"
)

// Repository defines the persistence operations for items and their metadata.
// The SQLite implementation is used in production; tests use an in-memory mock.
type Repository interface {
	// Get retrieves an item by name.
	// Returns ErrItemNotFound if the item does not exist.
	Get(ctx context.Context, name string) (*Item, error)

	// List retrieves all items ordered by name.
	List(ctx context.Context) ([]Item, error)

	// Create inserts a new item.
	// Returns ErrItemExists if the name is taken.
	Create(ctx context.Context, item *Item) error

	// Save inserts the item or replaces every field of an existing one.
	Save(ctx context.Context, item *Item) error

	// Delete removes an item and its metadata.
	// Returns ErrItemNotFound if the item does not exist.
	Delete(ctx context.Context, name string) error

	// UpdateState stores a new raw state and its timestamp.
	// Returns ErrItemNotFound if the item does not exist.
	UpdateState(ctx context.Context, name, state string, at time.Time) error

	// GetMetadata retrieves the metadata of an item in a namespace.
	// Returns ErrMetadataNotFound if none is set.
	GetMetadata(ctx context.Context, name, namespace string) (*Metadata, error)

	// SetMetadata inserts or replaces metadata for (item, namespace).
	SetMetadata(ctx context.Context, md *Metadata) error
}

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed repository.
// The db parameter should be an open, migrated SQLite connection.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const itemColumns = `name, type, label, category, group_names, tags, state, state_updated_at, created_at, updated_at`

// Get retrieves an item by name.
func (r *SQLiteRepository) Get(ctx context.Context, name string) (*Item, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+itemColumns+` FROM items WHERE name = ?`, name)
	item, err := scanItem(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrItemNotFound, name)
		}
		return nil, fmt.Errorf("querying item: %w", err)
	}
	return item, nil
}

// List retrieves all items ordered by name.
func (r *SQLiteRepository) List(ctx context.Context) ([]Item, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+itemColumns+` FROM items ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("querying items: %w", err)
	}
	defer rows.Close()

	var items []Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning item: %w", err)
		}
		items = append(items, *item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating items: %w", err)
	}
	return items, nil
}

// Create inserts a new item.
func (r *SQLiteRepository) Create(ctx context.Context, item *Item) error {
	args, err := itemArgs(item)
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO items (`+itemColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, args...)
	if err != nil {
		if isConstraintError(err) {
			return fmt.Errorf("%w: %s", ErrItemExists, item.Name)
		}
		return fmt.Errorf("inserting item: %w", err)
	}
	return nil
}

// Save inserts or replaces an item. The original created_at is kept on replace.
func (r *SQLiteRepository) Save(ctx context.Context, item *Item) error {
	args, err := itemArgs(item)
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO items (`+itemColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			type = excluded.type,
			label = excluded.label,
			category = excluded.category,
			group_names = excluded.group_names,
			tags = excluded.tags,
			state = excluded.state,
			state_updated_at = excluded.state_updated_at,
			updated_at = excluded.updated_at`, args...)
	if err != nil {
		return fmt.Errorf("saving item: %w", err)
	}
	return nil
}

// Delete removes an item. Metadata rows go with it (ON DELETE CASCADE).
func (r *SQLiteRepository) Delete(ctx context.Context, name string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM items WHERE name = ?", name)
	if err != nil {
		return fmt.Errorf("deleting item: %w", err)
	}
	return requireRow(result, name)
}

// UpdateState stores a new raw state.
func (r *SQLiteRepository) UpdateState(ctx context.Context, name, state string, at time.Time) error {
	ts := at.UTC().Format(time.RFC3339Nano)
	result, err := r.db.ExecContext(ctx,
		"UPDATE items SET state = ?, state_updated_at = ?, updated_at = ? WHERE name = ?",
		state, ts, ts, name,
	)
	if err != nil {
		return fmt.Errorf("updating item state: %w", err)
	}
	return requireRow(result, name)
}

// GetMetadata retrieves metadata for (item, namespace).
func (r *SQLiteRepository) GetMetadata(ctx context.Context, name, namespace string) (*Metadata, error) {
	md := Metadata{ItemName: name, Namespace: namespace}
	var configJSON string

	err := r.db.QueryRowContext(ctx,
		"SELECT value, config FROM item_metadata WHERE item_name = ? AND namespace = ?",
		name, namespace,
	).Scan(&md.Value, &configJSON)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s/%s", ErrMetadataNotFound, name, namespace)
		}
		return nil, fmt.Errorf("querying metadata: %w", err)
	}

	if err := json.Unmarshal([]byte(configJSON), &md.Config); err != nil {
		return nil, fmt.Errorf("unmarshalling metadata config: %w", err)
	}
	return &md, nil
}

// SetMetadata inserts or replaces metadata.
// Returns ErrItemNotFound if the item does not exist.
func (r *SQLiteRepository) SetMetadata(ctx context.Context, md *Metadata) error {
	config := md.Config
	if config == nil {
		config = map[string]any{}
	}
	configJSON, err := json.Marshal(config)
	if err != nil {
		return fmt.Errorf("marshalling metadata config: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO item_metadata (item_name, namespace, value, config) VALUES (?, ?, ?, ?)
		ON CONFLICT(item_name, namespace) DO UPDATE SET
			value = excluded.value,
			config = excluded.config`,
		md.ItemName, md.Namespace, md.Value, string(configJSON),
	)
	if err != nil {
		if isConstraintError(err) {
			return fmt.Errorf("%w: %s", ErrItemNotFound, md.ItemName)
		}
		return fmt.Errorf("saving metadata: %w", err)
	}
	return nil
}

// rowScanner is an interface that sql.Row and sql.Rows both implement.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanItem(scanner rowScanner) (*Item, error) {
	var i Item
	var itemType, groupsJSON, tagsJSON, createdAt, updatedAt string
	var stateUpdatedAt sql.NullString

	if err := scanner.Scan(
		&i.Name, &itemType, &i.Label, &i.Category,
		&groupsJSON, &tagsJSON,
		&i.State, &stateUpdatedAt,
		&createdAt, &updatedAt,
	); err != nil {
		return nil, err
	}
	i.Type = Type(itemType)

	if err := json.Unmarshal([]byte(groupsJSON), &i.Groups); err != nil {
		return nil, fmt.Errorf("unmarshalling groups: %w", err)
	}
	if err := json.Unmarshal([]byte(tagsJSON), &i.Tags); err != nil {
		return nil, fmt.Errorf("unmarshalling tags: %w", err)
	}

	if stateUpdatedAt.Valid {
		if t, err := time.Parse(time.RFC3339Nano, stateUpdatedAt.String); err == nil {
			i.StateUpdatedAt = &t
		}
	}

	var err error
	if i.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if i.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}
	return &i, nil
}

// itemArgs renders an item as the positional arguments matching itemColumns.
func itemArgs(item *Item) ([]any, error) {
	groups := item.Groups
	if groups == nil {
		groups = []string{}
	}
	tags := item.Tags
	if tags == nil {
		tags = []string{}
	}

	groupsJSON, err := json.Marshal(groups)
	if err != nil {
		return nil, fmt.Errorf("marshalling groups: %w", err)
	}
	tagsJSON, err := json.Marshal(tags)
	if err != nil {
		return nil, fmt.Errorf("marshalling tags: %w", err)
	}

	var stateUpdatedAt sql.NullString
	if item.StateUpdatedAt != nil {
		stateUpdatedAt = sql.NullString{String: item.StateUpdatedAt.UTC().Format(time.RFC3339Nano), Valid: true}
	}

	return []any{
		item.Name, string(item.Type), item.Label, item.Category,
		string(groupsJSON), string(tagsJSON),
		item.State, stateUpdatedAt,
		item.CreatedAt.UTC().Format(time.RFC3339Nano),
		item.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}, nil
}

func requireRow(result sql.Result, name string) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrItemNotFound, name)
	}
	return nil
}

// isConstraintError reports whether err is a SQLite primary key, unique or
// foreign key violation.
func isConstraintError(err error) bool {
	var se sqlite3.Error
	if !errors.As(err, &se) {
		return false
	}
	switch se.ExtendedCode {
	case sqlite3.ErrConstraintPrimaryKey, sqlite3.ErrConstraintUnique, sqlite3.ErrConstraintForeignKey:
		return true
	default:
		return false
	}
}
