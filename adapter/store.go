package adapter

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/guchang/superinbox-sub005/errors"
)

// ErrConfigNotFound is returned when no configuration exists for a
// user/adapter-type pair.
var ErrConfigNotFound = errors.New("adapter config not found")

// ConfigStore persists per-user destination configurations. Transport
// fields live in a settings JSON blob so the two adapter families share
// one table.
type ConfigStore struct {
	db *sql.DB
}

// NewConfigStore creates a config store.
func NewConfigStore(db *sql.DB) *ConfigStore {
	return &ConfigStore{db: db}
}

// Save inserts or replaces the configuration for one destination.
func (s *ConfigStore) Save(cfg *Config) error {
	settings, err := cfg.MarshalSettings()
	if err != nil {
		return err
	}
	conditions, err := json.Marshal(cfg.Conditions)
	if err != nil {
		return errors.Wrap(err, "marshal conditions")
	}

	now := time.Now()
	query := `
		INSERT INTO adapter_configs (user_id, adapter_type, enabled, priority, conditions, settings, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, adapter_type) DO UPDATE SET
			enabled = excluded.enabled,
			priority = excluded.priority,
			conditions = excluded.conditions,
			settings = excluded.settings,
			updated_at = excluded.updated_at
	`
	_, err = s.db.Exec(query,
		cfg.UserID,
		cfg.AdapterType,
		cfg.Enabled,
		cfg.Priority,
		string(conditions),
		settings,
		now,
		now,
	)
	if err != nil {
		return errors.Wrapf(err, "failed to save adapter config %s/%s", cfg.UserID, cfg.AdapterType)
	}
	return nil
}

// Get retrieves the configuration for one user/adapter-type pair.
func (s *ConfigStore) Get(userID, adapterType string) (*Config, error) {
	query := `
		SELECT user_id, adapter_type, enabled, priority, conditions, settings
		FROM adapter_configs
		WHERE user_id = ? AND adapter_type = ?
	`

	var cfg Config
	var conditions, settings string
	err := s.db.QueryRow(query, userID, adapterType).Scan(
		&cfg.UserID,
		&cfg.AdapterType,
		&cfg.Enabled,
		&cfg.Priority,
		&conditions,
		&settings,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrapf(ErrConfigNotFound, "%s/%s", userID, adapterType)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get adapter config")
	}

	if err := decodeConfigBlobs(&cfg, conditions, settings); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ListForUser returns all destination configurations for a user,
// highest priority last.
func (s *ConfigStore) ListForUser(userID string) ([]*Config, error) {
	query := `
		SELECT user_id, adapter_type, enabled, priority, conditions, settings
		FROM adapter_configs
		WHERE user_id = ?
		ORDER BY priority ASC, adapter_type ASC
	`
	rows, err := s.db.Query(query, userID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list adapter configs")
	}
	defer rows.Close()

	var configs []*Config
	for rows.Next() {
		var cfg Config
		var conditions, settings string
		if err := rows.Scan(
			&cfg.UserID,
			&cfg.AdapterType,
			&cfg.Enabled,
			&cfg.Priority,
			&conditions,
			&settings,
		); err != nil {
			return nil, errors.Wrap(err, "scan adapter config")
		}
		if err := decodeConfigBlobs(&cfg, conditions, settings); err != nil {
			return nil, err
		}
		configs = append(configs, &cfg)
	}
	return configs, rows.Err()
}

// LoadMerged returns the effective destination set for a user. File
// declarations seed the table the first time they are seen; after that
// the stored row wins, so edits made through the store survive restarts
// with an unchanged config file. Destinations present only in the table
// are included as-is.
func (s *ConfigStore) LoadMerged(userID string, file map[string]*Config) (map[string]*Config, error) {
	stored, err := s.ListForUser(userID)
	if err != nil {
		return nil, err
	}

	merged := make(map[string]*Config, len(file)+len(stored))
	for adapterType, cfg := range file {
		merged[adapterType] = cfg
	}

	inTable := make(map[string]bool, len(stored))
	for _, cfg := range stored {
		merged[cfg.AdapterType] = cfg
		inTable[cfg.AdapterType] = true
	}

	for adapterType, cfg := range file {
		if inTable[adapterType] {
			continue
		}
		if err := s.Save(cfg); err != nil {
			return nil, errors.Wrapf(err, "seed adapter config %s", adapterType)
		}
	}
	return merged, nil
}

// Delete removes the configuration for one destination.
func (s *ConfigStore) Delete(userID, adapterType string) error {
	res, err := s.db.Exec(
		`DELETE FROM adapter_configs WHERE user_id = ? AND adapter_type = ?`,
		userID, adapterType,
	)
	if err != nil {
		return errors.Wrap(err, "failed to delete adapter config")
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "rows affected")
	}
	if affected == 0 {
		return errors.Wrapf(ErrConfigNotFound, "%s/%s", userID, adapterType)
	}
	return nil
}

func decodeConfigBlobs(cfg *Config, conditions, settings string) error {
	if conditions != "" && conditions != "[]" {
		if err := json.Unmarshal([]byte(conditions), &cfg.Conditions); err != nil {
			return errors.Wrap(err, "unmarshal conditions")
		}
	}
	// Settings are unmarshaled into the same struct; the row columns
	// already populated take precedence, so re-apply them afterwards.
	userID, adapterType := cfg.UserID, cfg.AdapterType
	enabled, priority := cfg.Enabled, cfg.Priority
	conds := cfg.Conditions
	if err := cfg.UnmarshalSettings(settings); err != nil {
		return err
	}
	cfg.UserID, cfg.AdapterType = userID, adapterType
	cfg.Enabled, cfg.Priority = enabled, priority
	cfg.Conditions = conds
	return nil
}
