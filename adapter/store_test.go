package adapter

import (
	"testing"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/guchang/superinbox-sub005/errors"
	"github.com/guchang/superinbox-sub005/routing"
)

func TestConfigStore(t *testing.T) {
	t.Run("save upserts", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		if err != nil {
			t.Fatalf("sqlmock: %v", err)
		}
		defer db.Close()

		mock.ExpectExec("INSERT INTO adapter_configs").
			WillReturnResult(sqlmock.NewResult(1, 1))

		store := NewConfigStore(db)
		err = store.Save(&Config{
			UserID:      "usr_1",
			AdapterType: "notion",
			Enabled:     true,
			Command:     "npx server",
			Kind:        "notion",
		})
		if err != nil {
			t.Fatalf("Save: %v", err)
		}
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Error(err)
		}
	})

	t.Run("get decodes settings blob", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		if err != nil {
			t.Fatalf("sqlmock: %v", err)
		}
		defer db.Close()

		settings := `{"command":"npx server","kind":"notion","token":"tok"}`
		conditions := `[{"field":"category","operator":"equals","value":"task"}]`
		rows := sqlmock.NewRows([]string{"user_id", "adapter_type", "enabled", "priority", "conditions", "settings"}).
			AddRow("usr_1", "notion", true, 100, conditions, settings)

		mock.ExpectQuery("SELECT (.+) FROM adapter_configs").
			WithArgs("usr_1", "notion").
			WillReturnRows(rows)

		store := NewConfigStore(db)
		cfg, err := store.Get("usr_1", "notion")
		if err != nil {
			t.Fatalf("Get: %v", err)
		}

		if !cfg.IsProtocol() || cfg.Command != "npx server" {
			t.Errorf("cfg = %+v", cfg)
		}
		if cfg.Token != "tok" {
			t.Errorf("Token = %q", cfg.Token)
		}
		if len(cfg.Conditions) != 1 || cfg.Conditions[0].Operator != routing.OpEquals {
			t.Errorf("Conditions = %+v", cfg.Conditions)
		}
		if !cfg.Enabled || cfg.UserID != "usr_1" {
			t.Errorf("row columns lost: %+v", cfg)
		}
	})

	t.Run("get miss yields ErrConfigNotFound", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		if err != nil {
			t.Fatalf("sqlmock: %v", err)
		}
		defer db.Close()

		mock.ExpectQuery("SELECT (.+) FROM adapter_configs").
			WithArgs("usr_1", "linear").
			WillReturnRows(sqlmock.NewRows([]string{"user_id", "adapter_type", "enabled", "priority", "conditions", "settings"}))

		store := NewConfigStore(db)
		_, err = store.Get("usr_1", "linear")
		if !errors.Is(err, ErrConfigNotFound) {
			t.Errorf("err = %v, want ErrConfigNotFound", err)
		}
	})

	t.Run("delete missing yields ErrConfigNotFound", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		if err != nil {
			t.Fatalf("sqlmock: %v", err)
		}
		defer db.Close()

		mock.ExpectExec("DELETE FROM adapter_configs").
			WithArgs("usr_1", "linear").
			WillReturnResult(sqlmock.NewResult(0, 0))

		store := NewConfigStore(db)
		err = store.Delete("usr_1", "linear")
		if !errors.Is(err, ErrConfigNotFound) {
			t.Errorf("err = %v, want ErrConfigNotFound", err)
		}
	})
}
