package credentials

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/cockroachdb/errors"
)

// FileStore keeps the record in a TOML file at a fixed path.
type FileStore struct {
	path string
	now  Clock
}

var _ Store = (*FileStore)(nil)

// NewFileStore creates a FileStore for path. A nil clock uses time.Now.
func NewFileStore(path string, now Clock) *FileStore {
	if now == nil {
		now = time.Now
	}
	return &FileStore{path: path, now: now}
}

// DefaultPath returns the default credential file location.
func DefaultPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "veda", "credentials.toml")
}

// Path returns the file the store reads and writes.
func (s *FileStore) Path() string {
	return s.path
}

// Load reads the record. A missing, unreadable or malformed file is reported as absent.
func (s *FileStore) Load(_ context.Context) (Record, bool) {
	var rec Record
	if _, err := toml.DecodeFile(s.path, &rec); err != nil {
		return Record{}, false
	}
	if rec.AccessToken == "" {
		return Record{}, false
	}
	return rec, true
}

// Save writes rec, creating parent directories as needed.
// The file is written to a temporary sibling and renamed into place; permissions are 0600.
func (s *FileStore) Save(_ context.Context, rec Record) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0700); err != nil {
		return errors.Wrap(err, "creating credentials directory")
	}
	tmp := s.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return errors.Wrap(err, "opening credentials file")
	}
	if encErr := toml.NewEncoder(f).Encode(rec); encErr != nil {
		f.Close()
		_ = os.Remove(tmp)
		return errors.Wrap(encErr, "encoding credentials")
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return errors.Wrap(err, "closing credentials file")
	}
	if err := os.Rename(tmp, s.path); err != nil {
		_ = os.Remove(tmp)
		return errors.Wrap(err, "replacing credentials file")
	}
	return nil
}

func (s *FileStore) IsExpired(ctx context.Context) bool {
	return isExpired(ctx, s, s.now)
}

// Clear removes the file. A file that is already gone counts as cleared.
func (s *FileStore) Clear(_ context.Context) error {
	err := os.Remove(s.path)
	if err == nil || errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return errors.Wrap(err, "removing credentials file")
}
