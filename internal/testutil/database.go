// Package testutil provides shared test fixtures: seeded SQLite stores and
// in-memory collaborators with failure injection.
package testutil

import (
	"context"
	"testing"

	"github.com/Veraticus/payproof/internal/model"
	"github.com/Veraticus/payproof/internal/storage"
	"github.com/shopspring/decimal"
)

// SetupTestDB creates a migrated in-memory database seeded with submissions.
// It automatically handles cleanup.
//
// Example:
//
//	db := testutil.SetupTestDB(t,
//		testutil.Submission("sub-1", "1000", "PHP"),
//	)
func SetupTestDB(t *testing.T, subs ...model.Submission) *storage.SQLiteStorage {
	t.Helper()

	store, err := storage.NewSQLiteStorage(":memory:")
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})

	ctx := context.Background()
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("failed to run migrations: %v", err)
	}

	if len(subs) > 0 {
		if _, err := store.ImportSubmissions(ctx, subs); err != nil {
			t.Fatalf("failed to seed submissions: %v", err)
		}
	}
	return store
}

// Submission builds a pending submission for order "order-1".
func Submission(id, amount, currency string) model.Submission {
	return model.Submission{
		ID:             id,
		OrderID:        "order-1",
		ExpectedAmount: decimal.RequireFromString(amount),
		Currency:       currency,
		Status:         model.SubmissionPending,
	}
}
