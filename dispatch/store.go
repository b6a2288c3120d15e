package dispatch

import (
	"database/sql"

	"github.com/guchang/superinbox-sub005/adapter"
	"github.com/guchang/superinbox-sub005/errors"
)

// ResultStore persists distribution results. The table is append-only:
// rows are inserted, never updated or deleted.
type ResultStore struct {
	db *sql.DB
}

// NewResultStore creates a result store.
func NewResultStore(db *sql.DB) *ResultStore {
	return &ResultStore{db: db}
}

const resultColumns = `id, item_id, target_id, adapter_type, rule_id, rule_name, status, external_id, external_url, error, created_at`

// Append inserts one dispatch attempt record.
func (s *ResultStore) Append(r *adapter.Result) error {
	query := `
		INSERT INTO distribution_results (` + resultColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.Exec(query,
		r.ID,
		r.ItemID,
		r.TargetID,
		r.AdapterType,
		r.RuleID,
		r.RuleName,
		r.Status,
		r.ExternalID,
		r.ExternalURL,
		r.Error,
		r.CreatedAt,
	)
	if err != nil {
		return errors.Wrapf(err, "failed to append result for item %s", r.ItemID)
	}
	return nil
}

// ForItem returns the full attempt history for an item, oldest first.
// rowid breaks created_at ties so batch order is stable.
func (s *ResultStore) ForItem(itemID string) ([]*adapter.Result, error) {
	query := `
		SELECT ` + resultColumns + ` FROM distribution_results
		WHERE item_id = ?
		ORDER BY created_at ASC, rowid ASC
	`
	rows, err := s.db.Query(query, itemID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list results")
	}
	defer rows.Close()

	var results []*adapter.Result
	for rows.Next() {
		var r adapter.Result
		if err := rows.Scan(
			&r.ID,
			&r.ItemID,
			&r.TargetID,
			&r.AdapterType,
			&r.RuleID,
			&r.RuleName,
			&r.Status,
			&r.ExternalID,
			&r.ExternalURL,
			&r.Error,
			&r.CreatedAt,
		); err != nil {
			return nil, errors.Wrap(err, "scan result")
		}
		results = append(results, &r)
	}
	return results, rows.Err()
}
