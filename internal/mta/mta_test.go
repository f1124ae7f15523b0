package mta

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/motorical/encimap/framework/log"
	"github.com/motorical/encimap/internal/model"
	"github.com/motorical/encimap/internal/store"
)

func newTestRouter(t *testing.T) *Router {
	t.Helper()
	dir := t.TempDir()
	s, err := store.Open("sqlite", "file::memory:?cache=shared", false)
	if err != nil {
		t.Fatalf("Open store failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return New(filepath.Join(dir, "transport_map"), NoopDriver{}, s.Routes, log.Logger{})
}

func TestAddEmailRouteIsIdempotent(t *testing.T) {
	r := newTestRouter(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := r.AddEmailRoute(ctx, "sales", "example.com", "encimap-pipe:vb-1", "vb-1", model.RouteEncryptedIMAP); err != nil {
			t.Fatalf("AddEmailRoute failed on iteration %d: %v", i, err)
		}
	}

	lines, err := r.ListRoutes()
	if err != nil {
		t.Fatalf("ListRoutes failed: %v", err)
	}
	if len(lines) != 1 {
		t.Fatalf("expected exactly one route line after repeated adds, got %d: %v", len(lines), lines)
	}
	if lines[0] != "sales@example.com\tencimap-pipe:vb-1" {
		t.Fatalf("unexpected route line: %q", lines[0])
	}
}

func TestRemoveEmailRouteIsIdempotent(t *testing.T) {
	r := newTestRouter(t)
	ctx := context.Background()

	if err := r.AddEmailRoute(ctx, "sales", "example.com", "encimap-pipe:vb-1", "vb-1", model.RouteEncryptedIMAP); err != nil {
		t.Fatalf("AddEmailRoute failed: %v", err)
	}
	for i := 0; i < 2; i++ {
		if err := r.RemoveEmailRoute(ctx, "sales", "example.com"); err != nil {
			t.Fatalf("RemoveEmailRoute failed on iteration %d: %v", i, err)
		}
	}

	lines, err := r.ListRoutes()
	if err != nil {
		t.Fatalf("ListRoutes failed: %v", err)
	}
	if len(lines) != 0 {
		t.Fatalf("expected no routes after removal, got %v", lines)
	}
}

func TestAddEmailRouteReplacesExisting(t *testing.T) {
	r := newTestRouter(t)
	ctx := context.Background()

	if err := r.AddEmailRoute(ctx, "sales", "example.com", "encimap-pipe:vb-1", "vb-1", model.RouteEncryptedIMAP); err != nil {
		t.Fatalf("first AddEmailRoute failed: %v", err)
	}
	if err := r.AddEmailRoute(ctx, "sales", "example.com", "simple-maildir:vb-2-user", "vb-2", model.RouteSimpleIMAP); err != nil {
		t.Fatalf("second AddEmailRoute failed: %v", err)
	}

	lines, err := r.ListRoutes()
	if err != nil {
		t.Fatalf("ListRoutes failed: %v", err)
	}
	if len(lines) != 1 || lines[0] != "sales@example.com\tsimple-maildir:vb-2-user" {
		t.Fatalf("expected the route to be replaced, got %v", lines)
	}
}

func TestWriteEntriesIsAtomic(t *testing.T) {
	r := newTestRouter(t)
	ctx := context.Background()

	if err := r.AddEmailRoute(ctx, "a", "example.com", "encimap-pipe:vb-a", "vb-a", model.RouteEncryptedIMAP); err != nil {
		t.Fatalf("AddEmailRoute failed: %v", err)
	}

	dir := filepath.Dir(r.mapPath)
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir failed: %v", err)
	}
	for _, e := range entries {
		if filepath.Ext(e.Name()) == ".tmp" {
			t.Fatalf("expected no leftover temp file, found %s", e.Name())
		}
	}
}
