package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"digestbot/internal/feed"
	"digestbot/pkg/logx"
)

func openTestStore(t *testing.T, driver string) Store {
	t.Helper()
	st, err := Open(Config{
		Driver: driver,
		Path:   filepath.Join(t.TempDir(), "store.db"),
	}, logx.Nop())
	if err != nil {
		t.Fatalf("Open(%s): %v", driver, err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func eachDriver(t *testing.T, fn func(t *testing.T, st Store)) {
	for _, driver := range []string{"file", "sqlite"} {
		t.Run(driver, func(t *testing.T) {
			fn(t, openTestStore(t, driver))
		})
	}
}

func TestOpenDisabled(t *testing.T) {
	for _, driver := range []string{"", "none"} {
		st, err := Open(Config{Driver: driver}, logx.Nop())
		if err != nil {
			t.Fatalf("Open(%q): %v", driver, err)
		}
		if st != nil {
			t.Fatalf("disabled storage must return a nil store")
		}
	}
	if _, err := Open(Config{Driver: "bolt"}, logx.Nop()); err == nil {
		t.Fatalf("expected error for unknown driver")
	}
}

func TestSaveAssignsIDs(t *testing.T) {
	eachDriver(t, func(t *testing.T, st Store) {
		ctx := context.Background()
		saved, err := st.SaveItems(ctx, []feed.Item{
			{Title: "first", Topic: "general", Source: "wire"},
			{Title: "second", Topic: "general", Source: "wire"},
		})
		if err != nil {
			t.Fatalf("SaveItems: %v", err)
		}
		if len(saved) != 2 {
			t.Fatalf("expected 2 items back, got %d", len(saved))
		}
		for i, it := range saved {
			if !it.Persisted() {
				t.Fatalf("item %d has no ID", i)
			}
			if it.FetchedAt.IsZero() {
				t.Fatalf("item %d has no fetch timestamp", i)
			}
		}
		if saved[0].ID == saved[1].ID {
			t.Fatalf("IDs must be unique")
		}
	})
}

func TestUnprocessedWindowAndOrder(t *testing.T) {
	eachDriver(t, func(t *testing.T, st Store) {
		ctx := context.Background()
		now := time.Now()
		saved, err := st.SaveItems(ctx, []feed.Item{
			{Title: "old", Topic: "general", Source: "wire", FetchedAt: now.Add(-48 * time.Hour)},
			{Title: "older recent", Topic: "general", Source: "wire", FetchedAt: now.Add(-2 * time.Hour)},
			{Title: "newest", Topic: "general", Source: "wire", FetchedAt: now.Add(-time.Minute)},
			{Title: "done", Topic: "general", Source: "wire", FetchedAt: now.Add(-time.Minute), Summary: "already summarized"},
		})
		if err != nil {
			t.Fatalf("SaveItems: %v", err)
		}

		got, err := st.Unprocessed(ctx, 6*time.Hour, 0)
		if err != nil {
			t.Fatalf("Unprocessed: %v", err)
		}
		if len(got) != 2 {
			t.Fatalf("expected 2 unprocessed items, got %d", len(got))
		}
		if got[0].Title != "newest" || got[1].Title != "older recent" {
			t.Fatalf("expected newest-first order, got %q then %q", got[0].Title, got[1].Title)
		}

		limited, err := st.Unprocessed(ctx, 6*time.Hour, 1)
		if err != nil {
			t.Fatalf("Unprocessed limited: %v", err)
		}
		if len(limited) != 1 || limited[0].Title != "newest" {
			t.Fatalf("limit should keep the newest item")
		}

		// UpdateSummary removes the item from the backlog.
		ok, err := st.UpdateSummary(ctx, saved[2].ID, "a summary")
		if err != nil || !ok {
			t.Fatalf("UpdateSummary: ok=%v err=%v", ok, err)
		}
		got, err = st.Unprocessed(ctx, 6*time.Hour, 0)
		if err != nil {
			t.Fatalf("Unprocessed: %v", err)
		}
		if len(got) != 1 || got[0].Title != "older recent" {
			t.Fatalf("summarized item still in backlog")
		}
	})
}

func TestUpdateSummaryUnknownID(t *testing.T) {
	eachDriver(t, func(t *testing.T, st Store) {
		ok, err := st.UpdateSummary(context.Background(), 9999, "s")
		if err != nil {
			t.Fatalf("UpdateSummary: %v", err)
		}
		if ok {
			t.Fatalf("update of missing row must report false")
		}
	})
}

func TestSaveItemsFailingBatchReturnsError(t *testing.T) {
	ctx := context.Background()
	batch := []feed.Item{
		{Title: "first", Topic: "general", Source: "wire"},
		{Title: "second", Topic: "general", Source: "wire"},
	}

	t.Run("file", func(t *testing.T) {
		fs := openTestStore(t, "file").(*fileStore)
		ro, err := os.Open(os.DevNull)
		if err != nil {
			t.Fatalf("open %s: %v", os.DevNull, err)
		}
		orig := fs.journalFile
		fs.journalFile = ro
		saved, err := fs.SaveItems(ctx, batch)
		fs.journalFile = orig
		_ = ro.Close()
		if err == nil {
			t.Fatalf("expected an error when no row of the batch persists")
		}
		for i, it := range saved {
			if it.Persisted() {
				t.Fatalf("item %d must keep a zero ID after a failed insert", i)
			}
		}
	})

	t.Run("sqlite", func(t *testing.T) {
		sq := openTestStore(t, "sqlite").(*sqliteStore)
		if _, err := sq.db.ExecContext(ctx, "DROP TABLE items"); err != nil {
			t.Fatalf("drop table: %v", err)
		}
		saved, err := sq.SaveItems(ctx, batch)
		if err == nil {
			t.Fatalf("expected an error when no row of the batch persists")
		}
		for i, it := range saved {
			if it.Persisted() {
				t.Fatalf("item %d must keep a zero ID after a failed insert", i)
			}
		}
	})
}

func TestMarkDeliveredIdempotent(t *testing.T) {
	eachDriver(t, func(t *testing.T, st Store) {
		ctx := context.Background()
		saved, err := st.SaveItems(ctx, []feed.Item{
			{Title: "a", URL: "https://x.test/a", Topic: "general", Source: "wire"},
			{Title: "b", Topic: "general", Source: "wire"}, // no URL, keyed by title|source
		})
		if err != nil {
			t.Fatalf("SaveItems: %v", err)
		}

		if err := st.MarkDelivered(ctx, saved); err != nil {
			t.Fatalf("MarkDelivered: %v", err)
		}
		// Repeat must not error or grow the ledger.
		if err := st.MarkDelivered(ctx, saved); err != nil {
			t.Fatalf("repeat MarkDelivered: %v", err)
		}

		keys, err := st.DeliveredKeys(ctx)
		if err != nil {
			t.Fatalf("DeliveredKeys: %v", err)
		}
		if len(keys) != 2 {
			t.Fatalf("expected 2 ledger keys, got %d", len(keys))
		}
		if _, ok := keys["https://x.test/a"]; !ok {
			t.Fatalf("URL key missing from ledger")
		}
		if _, ok := keys["b|wire"]; !ok {
			t.Fatalf("title|source key missing from ledger")
		}
	})
}

func TestFileStoreSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	cfg := Config{Driver: "file", Path: filepath.Join(dir, "store.db")}
	ctx := context.Background()

	st, err := Open(cfg, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	saved, err := st.SaveItems(ctx, []feed.Item{
		{Title: "keep me", URL: "https://x.test/k", Topic: "general", Source: "wire"},
	})
	if err != nil {
		t.Fatalf("SaveItems: %v", err)
	}
	if _, err := st.UpdateSummary(ctx, saved[0].ID, "s"); err != nil {
		t.Fatalf("UpdateSummary: %v", err)
	}
	if err := st.MarkDelivered(ctx, saved); err != nil {
		t.Fatalf("MarkDelivered: %v", err)
	}
	if err := st.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	st2, err := Open(cfg, logx.Nop())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer st2.Close()

	keys, err := st2.DeliveredKeys(ctx)
	if err != nil {
		t.Fatalf("DeliveredKeys: %v", err)
	}
	if _, ok := keys["https://x.test/k"]; !ok {
		t.Fatalf("ledger lost across reopen")
	}

	backlog, err := st2.Unprocessed(ctx, 24*time.Hour, 0)
	if err != nil {
		t.Fatalf("Unprocessed: %v", err)
	}
	if len(backlog) != 0 {
		t.Fatalf("summarized item reappeared in backlog after reopen")
	}

	// New saves continue the ID sequence instead of reusing IDs.
	more, err := st2.SaveItems(ctx, []feed.Item{{Title: "next", Topic: "general", Source: "wire"}})
	if err != nil {
		t.Fatalf("SaveItems: %v", err)
	}
	if more[0].ID <= saved[0].ID {
		t.Fatalf("ID sequence regressed: %d after %d", more[0].ID, saved[0].ID)
	}
}
