package storage

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
)

// ErrNotFound is returned by Get/Open/Path for unknown or purged refs.
var ErrNotFound = errors.New("storage: blob not found")

// StorageError wraps filesystem failures (disk full, permissions) so callers
// can tell them apart from pipeline errors.
type StorageError struct {
	Op  string
	Ref Ref
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage: %s %s: %v", e.Op, e.Ref, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// LocalStore owns the uploads/, outputs/ and work/ directory trees under a
// single data root. It is the only component that writes blob bytes; everyone
// else holds refs.
type LocalStore struct {
	root string
	log  zerolog.Logger
}

// NewLocalStore creates the managed directories if needed.
func NewLocalStore(root string, log zerolog.Logger) (*LocalStore, error) {
	for _, kind := range []Kind{KindUpload, KindOutput, KindWork} {
		if err := os.MkdirAll(filepath.Join(root, string(kind)), 0o755); err != nil {
			return nil, &StorageError{Op: "mkdir", Ref: NewRef(kind, ""), Err: err}
		}
	}
	return &LocalStore{root: root, log: log.With().Str("component", "storage").Logger()}, nil
}

// Root returns the data root directory.
func (s *LocalStore) Root() string { return s.root }

// Put writes a blob durably and returns its ref. The file and its directory
// are both synced before Put returns, so a crash after a successful Put never
// loses the blob. Writes go through a temp file plus rename so readers never
// observe a torn blob.
func (s *LocalStore) Put(kind Kind, name string, r io.Reader) (Ref, error) {
	ref := NewRef(kind, name)
	if _, _, err := ref.Parse(); err != nil {
		return "", &StorageError{Op: "put", Ref: ref, Err: err}
	}
	dst := s.absPath(kind, name)
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return "", &StorageError{Op: "mkdir", Ref: ref, Err: err}
	}

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".put-*")
	if err != nil {
		return "", &StorageError{Op: "create", Ref: ref, Err: err}
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		return "", &StorageError{Op: "write", Ref: ref, Err: err}
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return "", &StorageError{Op: "sync", Ref: ref, Err: err}
	}
	if err := tmp.Close(); err != nil {
		return "", &StorageError{Op: "close", Ref: ref, Err: err}
	}
	if err := os.Rename(tmpName, dst); err != nil {
		return "", &StorageError{Op: "rename", Ref: ref, Err: err}
	}
	if err := s.syncDir(filepath.Dir(dst)); err != nil {
		return "", &StorageError{Op: "syncdir", Ref: ref, Err: err}
	}

	s.log.Debug().Str("ref", ref.String()).Msg("blob written")
	return ref, nil
}

// Get reads a whole blob into memory.
func (s *LocalStore) Get(ref Ref) ([]byte, error) {
	p, err := s.Path(ref)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, &StorageError{Op: "read", Ref: ref, Err: err}
	}
	return data, nil
}

// Open returns a reader over the blob for streaming consumers.
func (s *LocalStore) Open(ref Ref) (io.ReadCloser, error) {
	p, err := s.Path(ref)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, &StorageError{Op: "open", Ref: ref, Err: err}
	}
	return f, nil
}

// Path resolves a ref to its absolute filesystem path, failing with
// ErrNotFound if the blob does not exist. External process stages (ffmpeg)
// use this to hand paths across the process boundary.
func (s *LocalStore) Path(ref Ref) (string, error) {
	kind, name, err := ref.Parse()
	if err != nil {
		return "", &StorageError{Op: "resolve", Ref: ref, Err: err}
	}
	p := s.absPath(kind, name)
	if _, err := os.Stat(p); err != nil {
		if os.IsNotExist(err) {
			return "", ErrNotFound
		}
		return "", &StorageError{Op: "stat", Ref: ref, Err: err}
	}
	return p, nil
}

// Allocate reserves a destination for a blob an external process will write,
// returning the ref and the path. The caller must Commit the ref once the
// process has exited to make the write durable.
func (s *LocalStore) Allocate(kind Kind, name string) (Ref, string, error) {
	ref := NewRef(kind, name)
	if _, _, err := ref.Parse(); err != nil {
		return "", "", &StorageError{Op: "allocate", Ref: ref, Err: err}
	}
	p := s.absPath(kind, name)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return "", "", &StorageError{Op: "mkdir", Ref: ref, Err: err}
	}
	return ref, p, nil
}

// Commit flushes an externally written blob and its directory entry.
func (s *LocalStore) Commit(ref Ref) error {
	p, err := s.Path(ref)
	if err != nil {
		return err
	}
	f, err := os.Open(p)
	if err != nil {
		return &StorageError{Op: "commit", Ref: ref, Err: err}
	}
	defer f.Close()
	if err := f.Sync(); err != nil {
		return &StorageError{Op: "commit", Ref: ref, Err: err}
	}
	return s.syncDir(filepath.Dir(p))
}

// Delete is best-effort removal; deleting a missing ref is not an error.
func (s *LocalStore) Delete(ref Ref) error {
	kind, name, err := ref.Parse()
	if err != nil {
		return &StorageError{Op: "delete", Ref: ref, Err: err}
	}
	if err := os.Remove(s.absPath(kind, name)); err != nil && !os.IsNotExist(err) {
		return &StorageError{Op: "delete", Ref: ref, Err: err}
	}
	return nil
}

func (s *LocalStore) absPath(kind Kind, name string) string {
	return filepath.Join(s.root, string(kind), filepath.FromSlash(name))
}

func (s *LocalStore) syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	return d.Sync()
}
