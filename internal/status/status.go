// Package status persists per-request progress records as JSON files.
// Records are written atomically (temp file then rename) so a reader
// never observes a half-written record, and expire after a TTL.
package status

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"appforge/internal/logging"
)

// Request phases in lifecycle order.
const (
	PhasePending    = "pending"
	PhaseGenerating = "generating"
	PhaseRepairing  = "repairing"
	PhaseComplete   = "complete"
	PhaseFailed     = "failed"
	PhaseCancelled  = "cancelled"
)

// ErrNotFound is returned when no record exists for a request ID.
var ErrNotFound = errors.New("status record not found")

// maxLogLines caps the per-record log ring.
const maxLogLines = 50

// Record is one request's persisted state.
type Record struct {
	ID         string    `json:"id"`
	Phase      string    `json:"phase"`
	Log        []string  `json:"log"`
	Error      string    `json:"error,omitempty"`
	ResultPath string    `json:"result_path,omitempty"`
	UpdatedAt  time.Time `json:"updated_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// Store manages records under one directory.
type Store struct {
	dir string
	ttl time.Duration
}

// NewStore creates the directory if needed.
func NewStore(dir string, ttl time.Duration) (*Store, error) {
	if ttl <= 0 {
		ttl = time.Hour
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating status dir: %w", err)
	}
	return &Store{dir: dir, ttl: ttl}, nil
}

func (s *Store) path(id string) string {
	return filepath.Join(s.dir, sanitizeID(id)+".json")
}

func (s *Store) cancelPath(id string) string {
	return filepath.Join(s.dir, sanitizeID(id)+".cancel")
}

// sanitizeID keeps record filenames flat regardless of what arrives in
// the request ID.
func sanitizeID(id string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, id)
}

// Create writes a fresh pending record.
func (s *Store) Create(id string) (*Record, error) {
	rec := &Record{
		ID:        id,
		Phase:     PhasePending,
		UpdatedAt: time.Now(),
		ExpiresAt: time.Now().Add(s.ttl),
	}
	if err := s.write(rec); err != nil {
		return nil, err
	}
	logging.Status("created record %s", id)
	return rec, nil
}

// Get reads one record.
func (s *Store) Get(id string) (*Record, error) {
	data, err := os.ReadFile(s.path(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("reading status record: %w", err)
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decoding status record %s: %w", id, err)
	}
	return &rec, nil
}

// Update applies fn to the current record and persists the result.
func (s *Store) Update(id string, fn func(*Record)) error {
	rec, err := s.Get(id)
	if err != nil {
		return err
	}
	fn(rec)
	rec.UpdatedAt = time.Now()
	rec.ExpiresAt = time.Now().Add(s.ttl)
	return s.write(rec)
}

// SetPhase transitions the record's phase.
func (s *Store) SetPhase(id, phase string) error {
	return s.Update(id, func(r *Record) { r.Phase = phase })
}

// AppendLog adds a progress line, evicting the oldest past the cap.
func (s *Store) AppendLog(id, line string) error {
	return s.Update(id, func(r *Record) {
		r.Log = append(r.Log, line)
		if len(r.Log) > maxLogLines {
			r.Log = r.Log[len(r.Log)-maxLogLines:]
		}
	})
}

// Fail marks the record failed with the error text.
func (s *Store) Fail(id string, cause error) error {
	return s.Update(id, func(r *Record) {
		r.Phase = PhaseFailed
		r.Error = cause.Error()
	})
}

// Complete marks the record done, pointing at the written result.
func (s *Store) Complete(id, resultPath string) error {
	return s.Update(id, func(r *Record) {
		r.Phase = PhaseComplete
		r.ResultPath = resultPath
	})
}

// Cancel drops a marker the pipeline polls between model invocations.
func (s *Store) Cancel(id string) error {
	if err := os.WriteFile(s.cancelPath(id), []byte(time.Now().Format(time.RFC3339)), 0o644); err != nil {
		return fmt.Errorf("writing cancel marker: %w", err)
	}
	logging.Status("cancel requested for %s", id)
	return nil
}

// IsCancelled reports whether a cancel marker exists for the request.
func (s *Store) IsCancelled(id string) bool {
	_, err := os.Stat(s.cancelPath(id))
	return err == nil
}

// List returns all live records, newest first.
func (s *Store) List() ([]*Record, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("reading status dir: %w", err)
	}
	var out []*Record
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		rec, err := s.Get(strings.TrimSuffix(e.Name(), ".json"))
		if err != nil {
			logging.StatusWarn("skipping unreadable record %s: %v", e.Name(), err)
			continue
		}
		out = append(out, rec)
	}
	for i := 0; i < len(out); i++ {
		for j := i + 1; j < len(out); j++ {
			if out[j].UpdatedAt.After(out[i].UpdatedAt) {
				out[i], out[j] = out[j], out[i]
			}
		}
	}
	return out, nil
}

// GC removes expired records and their cancel markers, returning the
// number of records removed.
func (s *Store) GC() (int, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, fmt.Errorf("reading status dir: %w", err)
	}
	now := time.Now()
	removed := 0
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		id := strings.TrimSuffix(e.Name(), ".json")
		rec, err := s.Get(id)
		if err != nil {
			// Unreadable records age out by mtime.
			if info, ierr := e.Info(); ierr == nil && now.Sub(info.ModTime()) > s.ttl {
				os.Remove(filepath.Join(s.dir, e.Name()))
				removed++
			}
			continue
		}
		if now.After(rec.ExpiresAt) {
			os.Remove(s.path(id))
			os.Remove(s.cancelPath(id))
			removed++
		}
	}
	if removed > 0 {
		logging.Status("gc removed %d expired records", removed)
	}
	return removed, nil
}

// write persists atomically: temp file in the same directory, fsync-free
// rename over the destination.
func (s *Store) write(rec *Record) error {
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding status record: %w", err)
	}

	tmp, err := os.CreateTemp(s.dir, "."+sanitizeID(rec.ID)+"-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp record: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("writing temp record: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("closing temp record: %w", err)
	}
	if err := os.Rename(tmpName, s.path(rec.ID)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("publishing status record: %w", err)
	}
	return nil
}
