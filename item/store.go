package item

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/guchang/superinbox-sub005/errors"
)

// ErrNotFound is returned when an item id does not exist.
var ErrNotFound = errors.New("item not found")

// Store handles persistence of items.
type Store struct {
	db *sql.DB
}

// NewStore creates a new item store.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

const itemColumns = `id, user_id, content, category, entities, routing_status, created_at, updated_at`

// Create inserts a new item.
func (s *Store) Create(it *Item) error {
	entities, err := it.MarshalEntities()
	if err != nil {
		return err
	}

	query := `
		INSERT INTO items (` + itemColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = s.db.Exec(query,
		it.ID,
		it.UserID,
		it.Content,
		it.Category,
		entities,
		it.RoutingStatus,
		it.CreatedAt,
		it.UpdatedAt,
	)
	if err != nil {
		return errors.Wrap(err, "failed to create item")
	}
	return nil
}

// Get retrieves an item by ID.
func (s *Store) Get(id string) (*Item, error) {
	query := `SELECT ` + itemColumns + ` FROM items WHERE id = ?`

	var it Item
	var entities string
	err := s.db.QueryRow(query, id).Scan(
		&it.ID,
		&it.UserID,
		&it.Content,
		&it.Category,
		&entities,
		&it.RoutingStatus,
		&it.CreatedAt,
		&it.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrapf(ErrNotFound, "%s", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get item")
	}

	if entities != "" && entities != "{}" {
		if err := json.Unmarshal([]byte(entities), &it.Entities); err != nil {
			return nil, errors.Wrap(err, "unmarshal entities")
		}
	}

	return &it, nil
}

// UpdateRoutingStatus persists a status transition after validating it
// against the forward-only state machine.
func (s *Store) UpdateRoutingStatus(id string, from, to RoutingStatus) error {
	if !from.CanTransitionTo(to) {
		return errors.Newf("invalid routing status transition: %s -> %s", from, to)
	}

	res, err := s.db.Exec(
		`UPDATE items SET routing_status = ?, updated_at = ? WHERE id = ? AND routing_status = ?`,
		to, time.Now(), id, from,
	)
	if err != nil {
		return errors.Wrap(err, "failed to update routing status")
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "rows affected")
	}
	if affected == 0 {
		// Either the item is gone or its status moved underneath us.
		return errors.Wrapf(ErrNotFound, "update routing status %s", id)
	}
	return nil
}

// ListByStatus returns items for a user with the given routing status,
// oldest first.
func (s *Store) ListByStatus(userID string, status RoutingStatus, limit int) ([]*Item, error) {
	query := `
		SELECT ` + itemColumns + ` FROM items
		WHERE user_id = ? AND routing_status = ?
		ORDER BY created_at ASC
		LIMIT ?
	`
	rows, err := s.db.Query(query, userID, status, limit)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list items")
	}
	defer rows.Close()

	var items []*Item
	for rows.Next() {
		var it Item
		var entities string
		if err := rows.Scan(
			&it.ID,
			&it.UserID,
			&it.Content,
			&it.Category,
			&entities,
			&it.RoutingStatus,
			&it.CreatedAt,
			&it.UpdatedAt,
		); err != nil {
			return nil, errors.Wrap(err, "scan item")
		}
		if entities != "" && entities != "{}" {
			if err := json.Unmarshal([]byte(entities), &it.Entities); err != nil {
				return nil, errors.Wrap(err, "unmarshal entities")
			}
		}
		items = append(items, &it)
	}
	return items, rows.Err()
}
