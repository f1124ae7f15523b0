package vaultbox

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/motorical/encimap/framework/log"
	"github.com/motorical/encimap/internal/credential"
	"github.com/motorical/encimap/internal/model"
	"github.com/motorical/encimap/internal/mta"
	"github.com/motorical/encimap/internal/store"
)

func newTestService(t *testing.T) (*Service, string) {
	t.Helper()
	s, err := store.Open("sqlite", "file::memory:?cache=shared", false)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	root := t.TempDir()
	router := mta.New(filepath.Join(root, "transport_map"), mta.NoopDriver{}, s.Routes, log.Logger{})
	imapDrv := credential.NewFileIMAPDriver(filepath.Join(root, "imap_creds"), root, "", "")
	issuer := credential.NewIssuer(s.IMAPCreds, s.SMTPCreds, imapDrv)
	return NewService(s, router, issuer, root, log.Logger{}), root
}

func TestCreateEncryptedVaultboxLifecycle(t *testing.T) {
	svc, root := newTestService(t)
	ctx := context.Background()

	vb, err := svc.CreateEncryptedVaultbox(ctx, "user-1", "call.autoroad.lv", "cat", "")
	if err != nil {
		t.Fatalf("CreateEncryptedVaultbox failed: %v", err)
	}

	row, ok, err := svc.Store.Vaultboxes.FindByID(ctx, vb.ID)
	if err != nil || !ok {
		t.Fatalf("expected vaultbox row to exist, ok=%v err=%v", ok, err)
	}
	if row.MailboxType != model.MailboxEncrypted {
		t.Fatalf("expected encrypted mailbox type, got %s", row.MailboxType)
	}

	newDir := filepath.Join(root, vb.ID, "Maildir", "new")
	entries, err := os.ReadDir(newDir)
	if err != nil {
		t.Fatalf("ReadDir new/ failed: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected exactly one welcome message, found %d", len(entries))
	}

	lines, err := svc.Router.ListRoutes()
	if err != nil {
		t.Fatalf("ListRoutes failed: %v", err)
	}
	want := "cat@call.autoroad.lv\tencimap-pipe:" + vb.ID
	found := false
	for _, l := range lines {
		if l == want {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected route line %q, got %v", want, lines)
	}

	certs, err := svc.Store.Certificates.Find(ctx, "", store.Eq("vaultbox_id", vb.ID))
	if err != nil || len(certs) != 1 {
		t.Fatalf("expected one self-signed certificate, got %d (err=%v)", len(certs), err)
	}
}

func TestCatchallConversionRequiresForceWithAliases(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	vb, err := svc.CreateSimpleVaultbox(ctx, "user-1", "carmarket.lv", "info mailbox", false)
	if err != nil {
		t.Fatalf("CreateSimpleVaultbox failed: %v", err)
	}
	vb.Alias = ptr("info")
	if err := svc.Store.Vaultboxes.Update(ctx, vb); err != nil {
		t.Fatalf("updating vaultbox alias: %v", err)
	}

	if _, _, err := svc.CreateIMAPCredential(ctx, vb); err != nil {
		t.Fatalf("CreateIMAPCredential failed: %v", err)
	}

	if _, err := svc.CreateAlias(ctx, vb, "sales"); err != nil {
		t.Fatalf("CreateAlias failed: %v", err)
	}

	if err := svc.EnableCatchall(ctx, "carmarket.lv", vb.ID, false); err == nil {
		t.Fatal("expected ALIAS_PRESENT conflict without force")
	}

	if err := svc.EnableCatchall(ctx, "carmarket.lv", vb.ID, true); err != nil {
		t.Fatalf("EnableCatchall with force failed: %v", err)
	}

	aliasCount, err := svc.Store.Aliases.Count(ctx, store.Eq("vaultbox_id", vb.ID))
	if err != nil || aliasCount != 0 {
		t.Fatalf("expected zero aliases after forced conversion, got %d (err=%v)", aliasCount, err)
	}

	lines, err := svc.Router.ListRoutes()
	if err != nil {
		t.Fatalf("ListRoutes failed: %v", err)
	}
	wantCatchall := "@carmarket.lv\tinfo@carmarket.lv"
	gotCatchall := false
	for _, l := range lines {
		if l == wantCatchall {
			gotCatchall = true
		}
		if len(l) >= len("sales@carmarket.lv") && l[:len("sales@carmarket.lv")] == "sales@carmarket.lv" {
			t.Fatalf("did not expect a surviving sales@ route, got %v", lines)
		}
	}
	if !gotCatchall {
		t.Fatalf("expected catch-all route %q, got %v", wantCatchall, lines)
	}
}

func TestAliasLimitEnforced(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	vb, err := svc.CreateSimpleVaultbox(ctx, "user-1", "example.com", "info mailbox", false)
	if err != nil {
		t.Fatalf("CreateSimpleVaultbox failed: %v", err)
	}
	if _, _, err := svc.CreateIMAPCredential(ctx, vb); err != nil {
		t.Fatalf("CreateIMAPCredential failed: %v", err)
	}

	for i := 0; i < maxAliasesPerVaultbox; i++ {
		name := []string{"a", "b", "c", "d", "e"}[i]
		if _, err := svc.CreateAlias(ctx, vb, name); err != nil {
			t.Fatalf("CreateAlias %s failed: %v", name, err)
		}
	}
	if _, err := svc.CreateAlias(ctx, vb, "f"); err == nil {
		t.Fatal("expected ALIAS_LIMIT conflict on the 6th alias")
	}
}

func TestDeleteVaultboxCascades(t *testing.T) {
	svc, root := newTestService(t)
	ctx := context.Background()

	vb, err := svc.CreateEncryptedVaultbox(ctx, "user-1", "example.com", "billing", "")
	if err != nil {
		t.Fatalf("CreateEncryptedVaultbox failed: %v", err)
	}

	if err := svc.DeleteVaultbox(ctx, vb); err != nil {
		t.Fatalf("DeleteVaultbox failed: %v", err)
	}

	if _, ok, err := svc.Store.Vaultboxes.FindByID(ctx, vb.ID); err != nil || ok {
		t.Fatalf("expected vaultbox gone, ok=%v err=%v", ok, err)
	}
	certs, err := svc.Store.Certificates.Find(ctx, "", store.Eq("vaultbox_id", vb.ID))
	if err != nil || len(certs) != 0 {
		t.Fatalf("expected no surviving certificates, got %d (err=%v)", len(certs), err)
	}
	if _, err := os.Stat(filepath.Join(root, vb.ID)); !os.IsNotExist(err) {
		t.Fatalf("expected maildir directory removed, stat err=%v", err)
	}
	lines, err := svc.Router.ListRoutes()
	if err != nil {
		t.Fatalf("ListRoutes failed: %v", err)
	}
	for _, l := range lines {
		if l == "billing@example.com\tencimap-pipe:"+vb.ID {
			t.Fatalf("expected route removed, still present: %v", lines)
		}
	}
}

func ptr(s string) *string { return &s }
