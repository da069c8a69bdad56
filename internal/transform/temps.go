package transform

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
)

// Temps tracks temporary files and directories until Cleanup.
type Temps struct {
	dir    string
	mu     sync.Mutex
	paths  []string
	remove func(string) error
}

// NewTemps returns a tracker allocating paths under dir (os.TempDir when
// empty).
func NewTemps(dir string) *Temps {
	if dir == "" {
		dir = os.TempDir()
	}
	return &Temps{dir: dir, remove: os.RemoveAll}
}

// Path allocates and tracks a fresh path ending in suffix. Only the scratch
// directory is created on disk.
func (t *Temps) Path(prefix, suffix string) (string, error) {
	if err := t.ensureDir(); err != nil {
		return "", err
	}
	p := filepath.Join(t.dir, fmt.Sprintf("%s-%s%s", prefix, uuid.NewString(), suffix))
	t.Track(p)
	return p, nil
}

func (t *Temps) ensureDir() error {
	if err := os.MkdirAll(t.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create scratch directory %s: %w", t.dir, err)
	}
	return nil
}

// Dir creates and tracks a fresh directory.
func (t *Temps) Dir(prefix string) (string, error) {
	if err := t.ensureDir(); err != nil {
		return "", err
	}
	p, err := os.MkdirTemp(t.dir, prefix+"-")
	if err != nil {
		return "", fmt.Errorf("failed to create temporary directory: %w", err)
	}
	t.Track(p)
	return p, nil
}

// Track adds path to the tracked set.
func (t *Temps) Track(path string) {
	t.mu.Lock()
	t.paths = append(t.paths, path)
	t.mu.Unlock()
}

// Len returns the number of tracked paths.
func (t *Temps) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.paths)
}

// Cleanup removes every tracked path, most recent first. Every removal is
// attempted and failures are joined.
func (t *Temps) Cleanup() error {
	t.mu.Lock()
	paths := t.paths
	t.paths = nil
	t.mu.Unlock()

	var errs []error
	for i := len(paths) - 1; i >= 0; i-- {
		if err := t.remove(paths[i]); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, fmt.Errorf("failed to remove %s: %w", paths[i], err))
		}
	}
	return errors.Join(errs...)
}

// withCleanup joins cleanup failures after err so errors.Is still finds the
// primary cause.
func withCleanup(err error, cleanup func() error) error {
	if cerr := cleanup(); cerr != nil {
		return errors.Join(err, fmt.Errorf("cleanup: %w", cerr))
	}
	return err
}
