package routing

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/guchang/superinbox-sub005/errors"
)

// ErrNotFound is returned when a rule id does not exist.
var ErrNotFound = errors.New("rule not found")

// ErrSystemRule is returned when deleting a system rule.
var ErrSystemRule = errors.New("system rules cannot be deleted")

// Store handles persistence of routing rules.
type Store struct {
	db *sql.DB
}

// NewStore creates a new rule store.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

const ruleColumns = `id, user_id, name, priority, conditions, actions, is_active, is_system, created_at, updated_at`

// Create inserts a new rule.
func (s *Store) Create(rule *Rule) error {
	conditions, actions, err := marshalRule(rule)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO routing_rules (` + ruleColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = s.db.Exec(query,
		rule.ID,
		rule.UserID,
		rule.Name,
		rule.Priority,
		conditions,
		actions,
		rule.IsActive,
		rule.IsSystem,
		rule.CreatedAt,
		rule.UpdatedAt,
	)
	if err != nil {
		return errors.Wrap(err, "failed to create rule")
	}
	return nil
}

// Get retrieves a rule by ID.
func (s *Store) Get(id string) (*Rule, error) {
	query := `SELECT ` + ruleColumns + ` FROM routing_rules WHERE id = ?`
	rule, err := scanRule(s.db.QueryRow(query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrapf(ErrNotFound, "%s", id)
	}
	return rule, err
}

// ListActiveRules returns the user's active rules. Ordering by priority
// happens in the engine; the store returns creation order so priority
// ties stay deterministic.
func (s *Store) ListActiveRules(userID string) ([]*Rule, error) {
	return s.list(userID, true)
}

// ListRules returns all of the user's rules, active or not.
func (s *Store) ListRules(userID string) ([]*Rule, error) {
	return s.list(userID, false)
}

func (s *Store) list(userID string, activeOnly bool) ([]*Rule, error) {
	query := `SELECT ` + ruleColumns + ` FROM routing_rules WHERE user_id = ?`
	if activeOnly {
		query += ` AND is_active = 1`
	}
	query += ` ORDER BY created_at ASC`

	rows, err := s.db.Query(query, userID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list rules")
	}
	defer rows.Close()

	var rules []*Rule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	return rules, rows.Err()
}

// Update rewrites a rule's mutable fields.
func (s *Store) Update(rule *Rule) error {
	conditions, actions, err := marshalRule(rule)
	if err != nil {
		return err
	}

	rule.UpdatedAt = time.Now()
	res, err := s.db.Exec(`
		UPDATE routing_rules
		SET name = ?, priority = ?, conditions = ?, actions = ?, is_active = ?, updated_at = ?
		WHERE id = ?
	`,
		rule.Name,
		rule.Priority,
		conditions,
		actions,
		rule.IsActive,
		rule.UpdatedAt,
		rule.ID,
	)
	if err != nil {
		return errors.Wrap(err, "failed to update rule")
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "rows affected")
	}
	if affected == 0 {
		return errors.Wrapf(ErrNotFound, "update %s", rule.ID)
	}
	return nil
}

// Delete removes a user rule. System rules refuse deletion.
func (s *Store) Delete(id string) error {
	rule, err := s.Get(id)
	if err != nil {
		return err
	}
	if rule.IsSystem {
		return errors.Wrapf(ErrSystemRule, "%s", id)
	}

	if _, err := s.db.Exec(`DELETE FROM routing_rules WHERE id = ?`, id); err != nil {
		return errors.Wrap(err, "failed to delete rule")
	}
	return nil
}

func marshalRule(rule *Rule) (conditions string, actions string, err error) {
	condBytes, err := json.Marshal(rule.Conditions)
	if err != nil {
		return "", "", errors.Wrap(err, "marshal conditions")
	}
	actBytes, err := json.Marshal(rule.Actions)
	if err != nil {
		return "", "", errors.Wrap(err, "marshal actions")
	}
	return string(condBytes), string(actBytes), nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRule(row rowScanner) (*Rule, error) {
	var rule Rule
	var conditions, actions string
	err := row.Scan(
		&rule.ID,
		&rule.UserID,
		&rule.Name,
		&rule.Priority,
		&conditions,
		&actions,
		&rule.IsActive,
		&rule.IsSystem,
		&rule.CreatedAt,
		&rule.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, errors.Wrap(err, "scan rule")
	}

	if err := json.Unmarshal([]byte(conditions), &rule.Conditions); err != nil {
		return nil, errors.Wrap(err, "unmarshal conditions")
	}
	if err := json.Unmarshal([]byte(actions), &rule.Actions); err != nil {
		return nil, errors.Wrap(err, "unmarshal actions")
	}
	return &rule, nil
}
