// Package spool is the Event Spool component, spec 4.2: a durable FIFO
// event log surviving process restart, append-only and partitioned into
// pending/ and processed/ directories with POSIX atomic rename as the
// move-on-success and dedup-on-race mechanism.
//
// Built fresh — the teacher's internal/events/bus.go and
// internal/events/store.go model an in-memory pub/sub bus with a SQLite
// delivered_at timestamp column, not a filesystem rename-based spool, so
// there is no direct teacher file to adapt here. The Event struct and ID
// idiom are grounded on internal/events/types.go's NewEvent/uuid.New.
package spool

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/orchestrator/agentctl/internal/orchestrator/model"
	"github.com/orchestrator/agentctl/internal/orchestrator/orcherr"
)

const (
	pendingDir   = "pending"
	processedDir = "processed"
)

// Spool is the append-only, directory-backed event log. Shared read-many/
// write-many across components; every mutation is filesystem-atomic, so
// no locking is required across components (spec 5).
type Spool struct {
	base string
}

// Open ensures base/pending and base/processed exist and returns a Spool
// rooted there.
func Open(base string) (*Spool, error) {
	for _, sub := range []string{pendingDir, processedDir} {
		if err := os.MkdirAll(filepath.Join(base, sub), 0o755); err != nil {
			return nil, orcherr.Wrap(orcherr.KindSpool, "create spool directory", err)
		}
	}
	return &Spool{base: base}, nil
}

// filename builds "<ts>-<kind-with-dashes>-<id8>.json", spec 6. The UTC
// timestamp uses a fixed-width nanosecond layout with '-' in place of ':';
// its '.' and the '.' in the event kind are replaced with '-' so the name
// is filesystem-safe and lexicographically sorts by time.
func filename(kind model.EventKind, id string) string {
	ts := time.Now().UTC().Format("2006-01-02T15-04-05.000000000Z")
	ts = strings.NewReplacer(":", "-", ".", "-").Replace(ts)
	kindPart := strings.ReplaceAll(string(kind), ".", "-")
	idPart := id
	if len(idPart) > 8 {
		idPart = idPart[:8]
	}
	return fmt.Sprintf("%s-%s-%s.json", ts, kindPart, idPart)
}

// Append writes a new event file to pending/, fsyncing before return
// (spec 4.2 "Must fsync before returning").
func (s *Spool) Append(kind model.EventKind, payload any, source string) (*model.Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, orcherr.Wrap(orcherr.KindValidation, "marshal event payload", err)
	}

	id := uuid.New().String()
	ev := &model.Event{
		ID:        id,
		Kind:      kind,
		Timestamp: time.Now().UTC(),
		Source:    source,
		Payload:   raw,
	}

	data, err := json.Marshal(ev)
	if err != nil {
		return nil, orcherr.Wrap(orcherr.KindSpool, "marshal event envelope", err)
	}

	name := filename(kind, id)
	finalPath := filepath.Join(s.base, pendingDir, name)
	tmpPath := finalPath + ".tmp"

	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, orcherr.Wrap(orcherr.KindSpool, "create event file", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return nil, orcherr.Wrap(orcherr.KindSpool, "write event file", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return nil, orcherr.Wrap(orcherr.KindSpool, "fsync event file", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return nil, orcherr.Wrap(orcherr.KindSpool, "close event file", err)
	}
	// Same-directory rename is the atomic publish step: the file is
	// either wholly absent or wholly present under its final name.
	if err := os.Rename(tmpPath, finalPath); err != nil {
		os.Remove(tmpPath)
		return nil, orcherr.Wrap(orcherr.KindSpool, "publish event file", err)
	}

	return ev, nil
}

// entry pairs a spool filename with its directory for list/lookup use.
type entry struct {
	name string
	dir  string
}

func listDir(path string) ([]string, error) {
	ents, err := os.ReadDir(path)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range ents {
		if e.IsDir() || strings.HasSuffix(e.Name(), ".tmp") {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names) // lexicographic == chronological, spec 4.2
	return names, nil
}

func readEvent(path string) (*model.Event, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var ev model.Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, err
	}
	return &ev, nil
}

// ListPending returns pending events in lexicographic filename order.
func (s *Spool) ListPending() ([]*model.Event, error) {
	return s.listAndRead(pendingDir, 0)
}

// ListProcessed returns processed events, most recent limit (0 = all).
func (s *Spool) ListProcessed(limit int) ([]*model.Event, error) {
	return s.listAndRead(processedDir, limit)
}

// ListAll returns pending and processed events merged, most recent limit.
func (s *Spool) ListAll(limit int) ([]*model.Event, error) {
	pending, err := s.listAndRead(pendingDir, 0)
	if err != nil {
		return nil, err
	}
	processed, err := s.listAndRead(processedDir, 0)
	if err != nil {
		return nil, err
	}
	all := append(pending, processed...)
	sort.Slice(all, func(i, j int) bool { return all[i].Timestamp.Before(all[j].Timestamp) })
	if limit > 0 && len(all) > limit {
		all = all[len(all)-limit:]
	}
	return all, nil
}

func (s *Spool) listAndRead(dir string, limit int) ([]*model.Event, error) {
	names, err := listDir(filepath.Join(s.base, dir))
	if err != nil {
		return nil, orcherr.Wrap(orcherr.KindSpool, "list "+dir, err)
	}
	if limit > 0 && len(names) > limit {
		names = names[len(names)-limit:]
	}
	out := make([]*model.Event, 0, len(names))
	for _, name := range names {
		ev, err := readEvent(filepath.Join(s.base, dir, name))
		if err != nil {
			return nil, orcherr.Wrap(orcherr.KindSpool, "read event "+name, err)
		}
		out = append(out, ev)
	}
	return out, nil
}

// findByID locates an event's filename in dir by exact or unambiguous
// short-prefix id match. Implementations must reject ambiguous prefixes
// (spec 4.2).
func (s *Spool) findByID(dir, id string) (string, error) {
	names, err := listDir(filepath.Join(s.base, dir))
	if err != nil {
		return "", orcherr.Wrap(orcherr.KindSpool, "list "+dir, err)
	}
	var match string
	for _, name := range names {
		ev, err := readEvent(filepath.Join(s.base, dir, name))
		if err != nil {
			continue
		}
		if ev.ID == id || strings.HasPrefix(ev.ID, id) {
			if match != "" && match != name {
				return "", orcherr.New(orcherr.KindValidation, "ambiguous event id prefix: "+id)
			}
			match = name
		}
	}
	if match == "" {
		return "", orcherr.New(orcherr.KindNotFound, "event not found: "+id)
	}
	return match, nil
}

// MarkProcessed atomically renames an event's file from pending/ to
// processed/. If two observers race on the same id, the loser's rename
// fails with not-found — this is the deduplication mechanism for handler
// retries (spec 4.2, law L1).
func (s *Spool) MarkProcessed(id string) error {
	name, err := s.findByID(pendingDir, id)
	if err != nil {
		return err
	}
	src := filepath.Join(s.base, pendingDir, name)
	dst := filepath.Join(s.base, processedDir, name)

	if _, err := os.Stat(dst); err == nil {
		return orcherr.New(orcherr.KindNotFound, "event already processed: "+id)
	}
	if err := os.Rename(src, dst); err != nil {
		if os.IsNotExist(err) {
			return orcherr.New(orcherr.KindNotFound, "event not found: "+id)
		}
		return orcherr.Wrap(orcherr.KindSpool, "mark event processed", err)
	}
	return nil
}

// GetByID returns a single event (pending or processed) by exact or
// unambiguous short-prefix id.
func (s *Spool) GetByID(id string) (*model.Event, error) {
	if name, err := s.findByID(pendingDir, id); err == nil {
		return readEventWrapped(filepath.Join(s.base, pendingDir, name))
	}
	if name, err := s.findByID(processedDir, id); err == nil {
		return readEventWrapped(filepath.Join(s.base, processedDir, name))
	}
	return nil, orcherr.New(orcherr.KindNotFound, "event not found: "+id)
}

func readEventWrapped(path string) (*model.Event, error) {
	ev, err := readEvent(path)
	if err != nil {
		return nil, orcherr.Wrap(orcherr.KindSpool, "read event", err)
	}
	return ev, nil
}
