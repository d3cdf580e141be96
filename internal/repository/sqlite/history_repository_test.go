package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"trackersync/internal/domain"
)

func openTestRepo(t *testing.T) *HistoryRepository {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("Open returned error: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	repo := NewHistoryRepository(db)
	if err := repo.Init(context.Background()); err != nil {
		t.Fatalf("Init returned error: %v", err)
	}
	return repo
}

func TestHistory_AppendAndList(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()

	outcomes := []domain.Outcome{
		{ReleaseID: "42", OK: false, Reason: domain.ReasonLinkNotFound, Message: "no link"},
		{ReleaseID: "7", OK: true, InfoHash: "abc"},
		{ReleaseID: "42", OK: true, InfoHash: "def", Message: "submitted"},
	}
	for _, o := range outcomes {
		if err := repo.Append(ctx, "run-1", o); err != nil {
			t.Fatalf("Append returned error: %v", err)
		}
	}

	entries, err := repo.ListByRelease(ctx, "42", 10)
	if err != nil {
		t.Fatalf("ListByRelease returned error: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("len(entries) = %d, want 2", len(entries))
	}
	if !entries[0].OK || entries[0].InfoHash != "def" {
		t.Fatalf("latest entry = %+v, want ok with hash def", entries[0])
	}
	if entries[1].Reason != domain.ReasonLinkNotFound || entries[1].RunID != "run-1" {
		t.Fatalf("oldest entry = %+v, want link_not_found from run-1", entries[1])
	}

	limited, err := repo.ListByRelease(ctx, "42", 1)
	if err != nil {
		t.Fatalf("ListByRelease returned error: %v", err)
	}
	if len(limited) != 1 {
		t.Fatalf("len(limited) = %d, want 1", len(limited))
	}
}

func TestHistory_DeleteByRelease(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()

	for _, id := range []string{"42", "7"} {
		if err := repo.Append(ctx, "run", domain.Outcome{ReleaseID: id, OK: true}); err != nil {
			t.Fatalf("Append returned error: %v", err)
		}
	}
	if err := repo.DeleteByRelease(ctx, "42"); err != nil {
		t.Fatalf("DeleteByRelease returned error: %v", err)
	}

	left, err := repo.ListByRelease(ctx, "42", 0)
	if err != nil {
		t.Fatalf("ListByRelease returned error: %v", err)
	}
	if len(left) != 0 {
		t.Fatalf("release 42 still has %d entries", len(left))
	}
	other, err := repo.ListByRelease(ctx, "7", 0)
	if err != nil {
		t.Fatalf("ListByRelease returned error: %v", err)
	}
	if len(other) != 1 {
		t.Fatalf("release 7 has %d entries, want 1", len(other))
	}
}
