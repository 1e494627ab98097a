package runstore

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/Skydoge-zjm/runicorn/pkg/errors"
)

// CreateOptions configures CreateRun.
type CreateOptions struct {
	Alias string
	Host  string
}

// Store resolves run directories under a configured data root and
// allocates new runs. It holds no per-run state itself — every
// operation on an individual run goes through the Handle CreateRun (or
// Open) returns.
type Store struct {
	root string
	log  *slog.Logger
}

// New returns a Store rooted at root, creating the runs/ subdirectory
// if it does not already exist.
func New(root string, log *slog.Logger) (*Store, error) {
	if log == nil {
		log = slog.Default()
	}
	runsDir := filepath.Join(root, "runs")
	if err := os.MkdirAll(runsDir, 0755); err != nil {
		return nil, fmt.Errorf("create runs directory: %w", err)
	}
	return &Store{root: root, log: log}, nil
}

// Root returns the data root this Store was constructed with.
func (s *Store) Root() string { return s.root }

// RunDir returns the directory a run with the given id would occupy.
func (s *Store) RunDir(id string) string {
	return filepath.Join(s.root, "runs", id)
}

// ListRunIDs returns every run id currently present under the runs/
// directory, in directory-listing order. Used by the index's
// scan-and-heal rebuild; callers that need metadata should Open each id.
func (s *Store) ListRunIDs() ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(s.root, "runs"))
	if err != nil {
		return nil, fmt.Errorf("list runs directory: %w", err)
	}
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			ids = append(ids, e.Name())
		}
	}
	return ids, nil
}

// ReadMeta reads a run's immutable meta.json without opening a full
// Handle. Used by read-only callers like the index rebuild.
func (s *Store) ReadMeta(id string) (Meta, error) {
	var meta Meta
	err := readJSON(filepath.Join(s.RunDir(id), "meta.json"), &meta)
	return meta, err
}

// ReadStatus reads a run's status.json without opening a full Handle.
func (s *Store) ReadStatus(id string) (StatusFile, error) {
	var status StatusFile
	err := readJSON(filepath.Join(s.RunDir(id), "status.json"), &status)
	return status, err
}

// CreateRun allocates a new run id, creates its directory and initial
// metadata, and returns a Handle for appending to it. Collisions on the
// generated id (astronomically unlikely, but the id format is only
// second-resolution plus 6 hex chars) are retried with a fresh random
// suffix.
func (s *Store) CreateRun(path string, opts CreateOptions) (*Handle, error) {
	if path == "" {
		return nil, &errors.ValidationError{Field: "path", Message: "must not be empty"}
	}

	const maxAttempts = 5
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		id, err := newRunID()
		if err != nil {
			return nil, fmt.Errorf("generate run id: %w", err)
		}

		dir := s.RunDir(id)
		if err := os.Mkdir(dir, 0755); err != nil {
			if os.IsExist(err) {
				lastErr = err
				continue
			}
			return nil, fmt.Errorf("create run directory: %w", err)
		}

		h, err := s.initRun(dir, id, path, opts)
		if err != nil {
			os.RemoveAll(dir)
			return nil, err
		}
		return h, nil
	}
	return nil, fmt.Errorf("allocate run id after %d attempts: %w", maxAttempts, lastErr)
}

func (s *Store) initRun(dir, id, path string, opts CreateOptions) (*Handle, error) {
	if err := os.MkdirAll(filepath.Join(dir, "media"), 0755); err != nil {
		return nil, fmt.Errorf("create media directory: %w", err)
	}

	now := time.Now().UTC()
	meta := Meta{ID: id, Path: path, Alias: opts.Alias, CreatedAt: now, Host: opts.Host}
	if err := writeJSONAtomic(filepath.Join(dir, "meta.json"), meta); err != nil {
		return nil, fmt.Errorf("write meta.json: %w", err)
	}

	status := StatusFile{Status: StatusRunning, PID: os.Getpid(), UpdatedAt: now}
	if err := writeJSONAtomic(filepath.Join(dir, "status.json"), status); err != nil {
		return nil, fmt.Errorf("write status.json: %w", err)
	}

	for _, name := range []string{"events.jsonl", "logs.txt"} {
		f, err := os.OpenFile(filepath.Join(dir, name), os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			return nil, fmt.Errorf("create %s: %w", name, err)
		}
		f.Close()
	}

	return &Handle{
		store:  s,
		id:     id,
		dir:    dir,
		status: status,
		log:    s.log.With(slog.String("run_id", id)),
	}, nil
}

// Open returns a Handle for an existing run, reading its current
// status.json. Used by the stale sweep and by writers resuming into a
// run they already created.
func (s *Store) Open(id string) (*Handle, error) {
	dir := s.RunDir(id)
	if _, err := os.Stat(dir); err != nil {
		if os.IsNotExist(err) {
			return nil, &errors.NotFoundError{Resource: "run", ID: id}
		}
		return nil, err
	}

	var status StatusFile
	if err := readJSON(filepath.Join(dir, "status.json"), &status); err != nil {
		return nil, fmt.Errorf("read status.json: %w", err)
	}

	return &Handle{
		store:  s,
		id:     id,
		dir:    dir,
		status: status,
		log:    s.log.With(slog.String("run_id", id)),
	}, nil
}

// SoftDelete flips a run's deleted flag in status.json without
// touching its directory contents. Returns the updated status so
// callers (the index's dual-write path) can re-project it without a
// second read.
func (s *Store) SoftDelete(id string) (StatusFile, error) {
	path := filepath.Join(s.RunDir(id), "status.json")
	var status StatusFile
	if err := readJSON(path, &status); err != nil {
		if os.IsNotExist(err) {
			return status, &errors.NotFoundError{Resource: "run", ID: id}
		}
		return status, fmt.Errorf("read status.json: %w", err)
	}
	if status.DeletedAt != nil {
		return status, nil
	}
	now := time.Now().UTC()
	status.DeletedAt = &now
	status.UpdatedAt = now
	if err := writeJSONAtomic(path, status); err != nil {
		return status, fmt.Errorf("write status.json: %w", err)
	}
	return status, nil
}

// HardDelete permanently removes a run's directory. It does not touch
// the assets store: blobs the run's manifest referenced are reclaimed
// by the next cleanup_orphaned_blobs sweep, not by this call.
func (s *Store) HardDelete(id string) error {
	dir := s.RunDir(id)
	if _, err := os.Stat(dir); err != nil {
		if os.IsNotExist(err) {
			return &errors.NotFoundError{Resource: "run", ID: id}
		}
		return err
	}
	return os.RemoveAll(dir)
}

func newRunID() (string, error) {
	var buf [3]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", err
	}
	return fmt.Sprintf("%s_%s", time.Now().UTC().Format("20060102_150405"), hex.EncodeToString(buf[:])), nil
}
