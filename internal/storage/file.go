package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"scorebot/pkg/logx"
)

// fileStore is a dependency-free persistence backend.
//
// Files:
//   - <prefix>.subs.snapshot.json (full subscriber map)
//   - <prefix>.subs.journal.jsonl (append-only journal)
//
// The journal is periodically compacted into the snapshot. On open, the
// snapshot is loaded and the journal replayed on top of it.
type fileStore struct {
	log logx.Logger

	mu sync.Mutex

	snapshotPath string
	journalFile  *os.File
	subs         map[string]SubscriberRecord

	writes int
}

type journalRecord struct {
	Op  string            `json:"op"` // "put", "del", "delivery"
	ID  string            `json:"id"`
	Rec *SubscriberRecord `json:"rec,omitempty"`
	// delivery fields
	Hash uint64 `json:"hash,omitempty"`
	At   int64  `json:"at,omitempty"` // unix milli
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

	snapPath := prefix + ".subs.snapshot.json"
	journalPath := prefix + ".subs.journal.jsonl"

	subs := map[string]SubscriberRecord{}
	_ = loadSnapshot(snapPath, subs)
	_ = replayJournal(journalPath, subs)

	jf, err := os.OpenFile(journalPath, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		return nil, err
	}

	return &fileStore{
		log:          log,
		snapshotPath: snapPath,
		journalFile:  jf,
		subs:         subs,
	}, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journalFile == nil {
		return nil
	}
	// Compact on close so the next open doesn't replay a long journal.
	if err := s.compactLocked(); err != nil {
		s.log.Debug("snapshot compact on close failed", logx.Err(err))
	}
	err := s.journalFile.Close()
	s.journalFile = nil
	return err
}

func (s *fileStore) LoadSubscribers(ctx context.Context) ([]SubscriberRecord, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]SubscriberRecord, 0, len(s.subs))
	for _, rec := range s.subs {
		out = append(out, rec)
	}
	return out, nil
}

func (s *fileStore) PutSubscriber(ctx context.Context, rec SubscriberRecord) error {
	_ = ctx
	if strings.TrimSpace(rec.ID) == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journalFile == nil {
		return errors.New("subscriber journal closed")
	}
	s.subs[rec.ID] = rec
	return s.appendLocked(journalRecord{Op: "put", ID: rec.ID, Rec: &rec})
}

func (s *fileStore) DeleteSubscriber(ctx context.Context, id string) error {
	_ = ctx
	if strings.TrimSpace(id) == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journalFile == nil {
		return errors.New("subscriber journal closed")
	}
	delete(s.subs, id)
	return s.appendLocked(journalRecord{Op: "del", ID: id})
}

func (s *fileStore) PutDelivery(ctx context.Context, id string, hash uint64, at time.Time) error {
	_ = ctx
	if strings.TrimSpace(id) == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journalFile == nil {
		return errors.New("subscriber journal closed")
	}
	rec, ok := s.subs[id]
	if !ok {
		// Subscriber vanished; bookkeeping for it is discarded.
		return nil
	}
	rec.LastPayloadHash = hash
	rec.LastDeliveredAt = at
	s.subs[id] = rec
	return s.appendLocked(journalRecord{Op: "delivery", ID: id, Hash: hash, At: at.UnixMilli()})
}

func (s *fileStore) appendLocked(r journalRecord) error {
	enc := json.NewEncoder(s.journalFile)
	if err := enc.Encode(r); err != nil {
		return err
	}
	s.writes++
	if s.writes%1000 == 0 {
		// Best-effort compact.
		if err := s.compactLocked(); err != nil {
			s.log.Debug("subscriber compact failed", logx.Err(err))
		}
	}
	return nil
}

func (s *fileStore) compactLocked() error {
	tmp := s.snapshotPath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(f).Encode(s.subs); err != nil {
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

func loadSnapshot(path string, out map[string]SubscriberRecord) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	var m map[string]SubscriberRecord
	if err := json.NewDecoder(f).Decode(&m); err != nil {
		return err
	}
	for k, v := range m {
		out[k] = v
	}
	return nil
}

func replayJournal(path string, out map[string]SubscriberRecord) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var r journalRecord
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil {
			continue
		}
		switch r.Op {
		case "put":
			if r.Rec != nil && r.Rec.ID != "" {
				out[r.Rec.ID] = *r.Rec
			}
		case "del":
			delete(out, r.ID)
		case "delivery":
			if rec, ok := out[r.ID]; ok {
				rec.LastPayloadHash = r.Hash
				rec.LastDeliveredAt = time.UnixMilli(r.At)
				out[r.ID] = rec
			}
		}
	}
	return sc.Err()
}
