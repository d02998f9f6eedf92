package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"digestbot/internal/feed"
	logx "digestbot/pkg/logx"
)

// fileStore is a dependency-free persistence backend.
//
// Files:
//   - <prefix>.snapshot.json (periodic snapshot of items + ledger)
//   - <prefix>.journal.jsonl (append-only journal of mutations)
//
// The journal is periodically compacted into the snapshot. All state is also
// held in memory, so reads never touch disk.
type fileStore struct {
	log logx.Logger

	mu sync.Mutex

	snapshotPath string
	journalFile  *os.File

	items     map[int64]feed.Item
	delivered map[string]int64 // dedup key -> unix milli
	nextID    int64

	writes int
}

// journalRecord is one mutation. Op is "item", "summary" or "delivered".
type journalRecord struct {
	Op      string      `json:"op"`
	Item    *itemRecord `json:"item,omitempty"`
	ID      int64       `json:"id,omitempty"`
	Summary string      `json:"summary,omitempty"`
	Key     string      `json:"key,omitempty"`
	At      int64       `json:"at,omitempty"`
}

type itemRecord struct {
	ID        int64  `json:"id"`
	Title     string `json:"title"`
	Body      string `json:"body,omitempty"`
	URL       string `json:"url,omitempty"`
	Topic     string `json:"topic"`
	Source    string `json:"source"`
	FetchedAt int64  `json:"fetched_at"`
	Summary   string `json:"summary,omitempty"`
}

type snapshot struct {
	NextID    int64            `json:"next_id"`
	Items     []itemRecord     `json:"items"`
	Delivered map[string]int64 `json:"delivered"`
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	s := &fileStore{
		log:          log,
		snapshotPath: prefix + ".snapshot.json",
		items:        map[int64]feed.Item{},
		delivered:    map[string]int64{},
		nextID:       1,
	}

	journalPath := prefix + ".journal.jsonl"
	_ = s.loadSnapshot()
	_ = s.replayJournal(journalPath)

	jf, err := os.OpenFile(journalPath, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		return nil, err
	}
	s.journalFile = jf
	return s, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journalFile == nil {
		return nil
	}
	// Fold the journal into the snapshot so the next open starts clean.
	if err := s.compactLocked(); err != nil {
		s.log.Debug("compact on close failed", logx.Err(err))
	}
	err := s.journalFile.Close()
	s.journalFile = nil
	return err
}

func (s *fileStore) SaveItems(ctx context.Context, items []feed.Item) ([]feed.Item, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journalFile == nil {
		return items, errors.New("journal closed")
	}

	out := make([]feed.Item, len(items))
	copy(out, items)
	var persisted int
	var firstErr error
	for i := range out {
		it := &out[i]
		if it.FetchedAt.IsZero() {
			it.FetchedAt = time.Now()
		}
		it.ID = s.nextID
		rec := journalRecord{Op: "item", Item: toRecord(*it)}
		if err := s.appendLocked(rec); err != nil {
			it.ID = 0
			s.log.Warn("item journal append failed", logx.String("title", it.Title), logx.Err(err))
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		s.items[it.ID] = *it
		s.nextID++
		persisted++
	}
	// Losing some rows is tolerated; losing every row of a batch means the
	// store itself is broken and callers must hear about it.
	if len(out) > 0 && persisted == 0 {
		return out, fmt.Errorf("no items persisted: %w", firstErr)
	}
	return out, nil
}

func (s *fileStore) Unprocessed(ctx context.Context, window time.Duration, limit int) ([]feed.Item, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().Add(-window)
	var out []feed.Item
	for _, it := range s.items {
		if it.Summary != "" || it.FetchedAt.Before(cutoff) {
			continue
		}
		out = append(out, it)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FetchedAt.After(out[j].FetchedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *fileStore) UpdateSummary(ctx context.Context, id int64, summary string) (bool, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()

	it, ok := s.items[id]
	if !ok {
		return false, nil
	}
	if err := s.appendLocked(journalRecord{Op: "summary", ID: id, Summary: summary, At: time.Now().UnixMilli()}); err != nil {
		return false, err
	}
	it.Summary = summary
	s.items[id] = it
	return true, nil
}

func (s *fileStore) DeliveredKeys(ctx context.Context) (map[string]struct{}, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()

	keys := make(map[string]struct{}, len(s.delivered))
	for k := range s.delivered {
		keys[k] = struct{}{}
	}
	return keys, nil
}

func (s *fileStore) MarkDelivered(ctx context.Context, items []feed.Item) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UnixMilli()
	var firstErr error
	for _, it := range items {
		key := it.DedupKey()
		if key == "" {
			continue
		}
		err := s.appendLocked(journalRecord{Op: "delivered", Key: key, ID: it.ID, At: now})
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		s.delivered[key] = now
		if stored, ok := s.items[it.ID]; ok {
			stored.DeliveredAt = time.UnixMilli(now)
			s.items[it.ID] = stored
		}
	}
	return firstErr
}

func (s *fileStore) appendLocked(rec journalRecord) error {
	if s.journalFile == nil {
		return errors.New("journal closed")
	}
	if err := json.NewEncoder(s.journalFile).Encode(rec); err != nil {
		return err
	}
	s.writes++
	if s.writes%1000 == 0 {
		// Best-effort compact.
		if err := s.compactLocked(); err != nil {
			s.log.Debug("journal compact failed", logx.Err(err))
		}
	}
	return nil
}

func (s *fileStore) apply(rec journalRecord) {
	switch rec.Op {
	case "item":
		if rec.Item == nil {
			return
		}
		it := fromRecord(*rec.Item)
		s.items[it.ID] = it
		if it.ID >= s.nextID {
			s.nextID = it.ID + 1
		}
	case "summary":
		if it, ok := s.items[rec.ID]; ok {
			it.Summary = rec.Summary
			s.items[rec.ID] = it
		}
	case "delivered":
		s.delivered[rec.Key] = rec.At
		if it, ok := s.items[rec.ID]; ok {
			it.DeliveredAt = time.UnixMilli(rec.At)
			s.items[rec.ID] = it
		}
	}
}

func (s *fileStore) loadSnapshot() error {
	f, err := os.Open(s.snapshotPath)
	if err != nil {
		return err
	}
	defer f.Close()

	var snap snapshot
	if err := json.NewDecoder(f).Decode(&snap); err != nil {
		return err
	}
	for _, rec := range snap.Items {
		it := fromRecord(rec)
		s.items[it.ID] = it
	}
	for k, v := range snap.Delivered {
		s.delivered[k] = v
	}
	if snap.NextID > s.nextID {
		s.nextID = snap.NextID
	}
	return nil
}

func (s *fileStore) replayJournal(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		var rec journalRecord
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			// Tolerate a torn tail write; everything before it replayed fine.
			s.log.Debug("skipping bad journal line", logx.Err(err))
			continue
		}
		s.apply(rec)
	}
	return sc.Err()
}

func (s *fileStore) compactLocked() error {
	snap := snapshot{NextID: s.nextID, Delivered: s.delivered}
	snap.Items = make([]itemRecord, 0, len(s.items))
	for _, it := range s.items {
		snap.Items = append(snap.Items, *toRecord(it))
	}
	sort.Slice(snap.Items, func(i, j int) bool { return snap.Items[i].ID < snap.Items[j].ID })

	tmp := s.snapshotPath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(f).Encode(snap); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.snapshotPath); err != nil {
		return err
	}
	// Truncate journal.
	if err := s.journalFile.Truncate(0); err != nil {
		return err
	}
	_, err = s.journalFile.Seek(0, 2)
	return err
}

func toRecord(it feed.Item) *itemRecord {
	return &itemRecord{
		ID:        it.ID,
		Title:     it.Title,
		Body:      it.Body,
		URL:       it.URL,
		Topic:     it.Topic,
		Source:    it.Source,
		FetchedAt: it.FetchedAt.UnixMilli(),
		Summary:   it.Summary,
	}
}

func fromRecord(rec itemRecord) feed.Item {
	return feed.Item{
		ID:        rec.ID,
		Title:     rec.Title,
		Body:      rec.Body,
		URL:       rec.URL,
		Topic:     rec.Topic,
		Source:    rec.Source,
		FetchedAt: time.UnixMilli(rec.FetchedAt),
		Summary:   rec.Summary,
	}
}
