package history

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"benchtrack/internal/benchmark"
)

const lockPollInterval = 25 * time.Millisecond

// FileStore keeps the history in a single JSON or data.js file.
type FileStore struct {
	path string
	opts options
}

// NewFileStore creates a file-backed store. The file itself is created on
// the first append.
func NewFileStore(path string, opts ...Option) (*FileStore, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
	}
	s := &FileStore{path: path}
	for _, o := range opts {
		o(&s.opts)
	}
	return s, nil
}

func (s *FileStore) read() (*Document, Version, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return NewDocument(isDataJS(s.path)), NoVersion, nil
		}
		return nil, NoVersion, err
	}
	if len(data) == 0 {
		return NewDocument(isDataJS(s.path)), fileVersion(data), nil
	}
	doc, err := Decode(data)
	if err != nil {
		return nil, NoVersion, fmt.Errorf("%s: %w", s.path, err)
	}
	return doc, fileVersion(data), nil
}

func (s *FileStore) Load(ctx context.Context, tool string) (*Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	doc, version, err := s.read()
	if err != nil {
		return nil, err
	}
	series, ok := doc.Series(tool)
	if !ok {
		return emptySnapshot(tool, version), notFound(tool)
	}
	return &Snapshot{Tool: tool, Series: series, Version: version}, nil
}

func (s *FileStore) Append(ctx context.Context, tool string, run benchmark.Run, expected Version) (Version, error) {
	unlock, err := s.lock(ctx)
	if err != nil {
		return NoVersion, err
	}
	defer unlock()

	doc, current, err := s.read()
	if err != nil {
		return NoVersion, err
	}
	if expected != AnyVersion && current != expected {
		return NoVersion, fmt.Errorf("%w: %s changed since load", ErrConcurrentModification, s.path)
	}

	if err := doc.SetRepoURL(s.opts.repoURL); err != nil {
		return NoVersion, err
	}
	if err := doc.Append(tool, run); err != nil {
		return NoVersion, err
	}
	data, err := doc.Encode()
	if err != nil {
		return NoVersion, fmt.Errorf("failed to encode history: %w", err)
	}

	// last chance to back out before the file is replaced
	if err := ctx.Err(); err != nil {
		return NoVersion, err
	}
	if err := writeFileAtomic(s.path, data, 0644); err != nil {
		return NoVersion, err
	}
	return fileVersion(data), nil
}

func (s *FileStore) Tools(ctx context.Context) ([]string, error) {
	doc, _, err := s.read()
	if err != nil {
		return nil, err
	}
	return doc.Tools(), nil
}

func (s *FileStore) Close() error { return nil }

// lock takes an advisory lock on the sibling .lock file, polling until ctx
// is done. The lock file stays on disk; the lock itself dies with the
// process holding it.
func (s *FileStore) lock(ctx context.Context) (func(), error) {
	lockPath := s.path + ".lock"
	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open lock file %s: %w", lockPath, err)
	}
	for {
		ok, err := tryLockFile(f)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to lock %s: %w", lockPath, err)
		}
		if ok {
			return func() {
				unlockFile(f)
				f.Close()
			}, nil
		}

		select {
		case <-ctx.Done():
			f.Close()
			return nil, fmt.Errorf("waiting for lock %s: %w", lockPath, ctx.Err())
		case <-time.After(lockPollInterval):
		}
	}
}

// writeFileAtomic writes data to a temp file in the target directory and
// renames it over path, so readers see either the old or the new file.
func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() {
		tmp.Close()
		os.Remove(tmpName)
	}

	if _, err := tmp.Write(data); err != nil {
		cleanup()
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Chmod(tmpName, perm); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace %s: %w", path, err)
	}
	return nil
}

func fileVersion(data []byte) Version {
	sum := sha256.Sum256(data)
	return Version(hex.EncodeToString(sum[:]))
}
