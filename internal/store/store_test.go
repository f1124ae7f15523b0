package store

import (
	"context"
	"errors"
	"testing"

	"github.com/motorical/encimap/internal/model"
)

var errCanceled = errors.New("store test: operation canceled")

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open("sqlite", "file::memory:?cache=shared", false)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestVaultboxInsertAndFind(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	alias := "sales"
	vb := &model.Vaultbox{
		ID:          "vb-1",
		OwnerUserID: "user-1",
		Domain:      "example.com",
		Alias:       &alias,
		MailboxType: model.MailboxEncrypted,
		Status:      model.StatusActive,
	}
	if err := s.Vaultboxes.Insert(ctx, vb); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	got, ok, err := s.Vaultboxes.FindByID(ctx, "vb-1")
	if err != nil {
		t.Fatalf("FindByID failed: %v", err)
	}
	if !ok {
		t.Fatal("expected vaultbox to be found")
	}
	if got.Domain != "example.com" {
		t.Fatalf("expected domain example.com, got %s", got.Domain)
	}

	rows, err := s.Vaultboxes.Find(ctx, "", Eq("domain", "example.com"))
	if err != nil {
		t.Fatalf("Find failed: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(rows))
	}
}

func TestVaultboxDomainAliasUniqueConstraint(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	alias := "sales"
	vb1 := &model.Vaultbox{ID: "vb-1", OwnerUserID: "u1", Domain: "example.com", Alias: &alias, MailboxType: model.MailboxEncrypted}
	if err := s.Vaultboxes.Insert(ctx, vb1); err != nil {
		t.Fatalf("first insert failed: %v", err)
	}

	vb2 := &model.Vaultbox{ID: "vb-2", OwnerUserID: "u2", Domain: "example.com", Alias: &alias, MailboxType: model.MailboxEncrypted}
	err := s.Vaultboxes.Insert(ctx, vb2)
	if err == nil {
		t.Fatal("expected unique constraint violation on (domain, alias)")
	}
	if _, ok := err.(*ConstraintError); !ok {
		t.Fatalf("expected *ConstraintError, got %T: %v", err, err)
	}
}

func TestPredicateSkipsNilValues(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	alias := "sales"
	vb := &model.Vaultbox{ID: "vb-1", OwnerUserID: "u1", Domain: "example.com", Alias: &alias, MailboxType: model.MailboxEncrypted}
	if err := s.Vaultboxes.Insert(ctx, vb); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	var missing interface{}
	rows, err := s.Vaultboxes.Find(ctx, "", Eq("domain", missing))
	if err != nil {
		t.Fatalf("Find failed: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected nil predicate to be skipped and return all rows, got %d", len(rows))
	}
}

func TestTransactionRollsBackOnError(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	wantErr := errCanceled
	err := s.Transaction(ctx, ReadCommitted, func(tx *Store) error {
		alias := "ops"
		vb := &model.Vaultbox{ID: "vb-rollback", OwnerUserID: "u1", Domain: "example.com", Alias: &alias, MailboxType: model.MailboxEncrypted}
		if err := tx.Vaultboxes.Insert(ctx, vb); err != nil {
			return err
		}
		return wantErr
	})
	if err != wantErr {
		t.Fatalf("expected transaction to propagate the original error, got %v", err)
	}

	_, ok, err := s.Vaultboxes.FindByID(ctx, "vb-rollback")
	if err != nil {
		t.Fatalf("FindByID failed: %v", err)
	}
	if ok {
		t.Fatal("expected insert to be rolled back")
	}
}
