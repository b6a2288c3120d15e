package dispatch

import (
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/guchang/superinbox-sub005/adapter"
)

func TestResultStore(t *testing.T) {
	t.Run("append inserts one row", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		if err != nil {
			t.Fatalf("sqlmock: %v", err)
		}
		defer db.Close()

		r := adapter.Success("itm_1", "notion", "dest", "ext-1", "https://dest/ext-1")
		r.RuleID = "rul_1"
		r.RuleName = "to-notion"

		mock.ExpectExec("INSERT INTO distribution_results").
			WithArgs(r.ID, r.ItemID, r.TargetID, r.AdapterType, r.RuleID, r.RuleName,
				r.Status, r.ExternalID, r.ExternalURL, r.Error, r.CreatedAt).
			WillReturnResult(sqlmock.NewResult(1, 1))

		store := NewResultStore(db)
		if err := store.Append(r); err != nil {
			t.Fatalf("Append: %v", err)
		}
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Error(err)
		}
	})

	t.Run("for item returns history oldest first", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		if err != nil {
			t.Fatalf("sqlmock: %v", err)
		}
		defer db.Close()

		now := time.Now()
		rows := sqlmock.NewRows([]string{
			"id", "item_id", "target_id", "adapter_type", "rule_id", "rule_name",
			"status", "external_id", "external_url", "error", "created_at",
		}).
			AddRow("dst_1", "itm_1", "dest", "notion", "rul_1", "to-notion", "success", "ext-1", "", "", now.Add(-time.Hour)).
			AddRow("dst_2", "itm_1", "dest", "notion", "rul_1", "to-notion", "failed", "", "", "down", now)

		mock.ExpectQuery("SELECT (.+) FROM distribution_results").
			WithArgs("itm_1").
			WillReturnRows(rows)

		store := NewResultStore(db)
		results, err := store.ForItem("itm_1")
		if err != nil {
			t.Fatalf("ForItem: %v", err)
		}

		if len(results) != 2 {
			t.Fatalf("got %d results, want 2", len(results))
		}
		if results[0].ID != "dst_1" || results[1].ID != "dst_2" {
			t.Errorf("order = %s, %s", results[0].ID, results[1].ID)
		}
		if results[1].Status != adapter.StatusFailed || results[1].Error != "down" {
			t.Errorf("second result = %+v", results[1])
		}
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Error(err)
		}
	})

	t.Run("empty history", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		if err != nil {
			t.Fatalf("sqlmock: %v", err)
		}
		defer db.Close()

		mock.ExpectQuery("SELECT (.+) FROM distribution_results").
			WithArgs("itm_none").
			WillReturnRows(sqlmock.NewRows([]string{
				"id", "item_id", "target_id", "adapter_type", "rule_id", "rule_name",
				"status", "external_id", "external_url", "error", "created_at",
			}))

		store := NewResultStore(db)
		results, err := store.ForItem("itm_none")
		if err != nil {
			t.Fatalf("ForItem: %v", err)
		}
		if len(results) != 0 {
			t.Errorf("got %d results, want 0", len(results))
		}
	})
}
