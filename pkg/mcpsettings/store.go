package mcpsettings

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// osUserConfigDir is swappable in tests.
var osUserConfigDir = os.UserConfigDir

// DefaultPath returns the well-known settings location under the host's
// per-user configuration directory.
func DefaultPath() (string, error) {
	dir, err := osUserConfigDir()
	if err != nil {
		return "", fmt.Errorf("mcpsettings: resolve config dir: %w", err)
	}
	return filepath.Join(dir, "mcp-hub", SettingsFileName), nil
}

// StoreOptions tune a Store.
type StoreOptions struct {
	// Logger receives store diagnostics. Defaults to slog.Default().
	Logger *slog.Logger
	// Debounce is the quiet period after a file event before a reload.
	// Defaults to 200ms.
	Debounce time.Duration
}

func (o StoreOptions) normalized() StoreOptions {
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Debounce <= 0 {
		o.Debounce = 200 * time.Millisecond
	}
	return o
}

// Store reads, writes, and watches one settings document on disk. All
// mutations go through Update so concurrent writers serialize on the store
// and the file stays the single source of truth.
type Store struct {
	path string
	opts StoreOptions

	mu sync.Mutex
}

// NewStore returns a store bound to the settings file at path.
func NewStore(path string, opts StoreOptions) *Store {
	return &Store{path: filepath.Clean(path), opts: opts.normalized()}
}

// Path returns the settings file location.
func (s *Store) Path() string { return s.path }

// Load reads and validates the settings document. A missing file is
// bootstrapped with an empty servers mapping. A malformed or schema-violating
// file yields a *ValidationError; the caller keeps its last-known-good state.
func (s *Store) Load() (*Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked()
}

func (s *Store) loadLocked() (*Document, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		doc := NewDocument()
		if err := s.writeLocked(doc); err != nil {
			return nil, err
		}
		s.opts.Logger.Info("bootstrapped settings file", "path", s.path)
		return doc, nil
	}
	if err != nil {
		return nil, fmt.Errorf("mcpsettings: read %s: %w", s.path, err)
	}
	return ParseDocument(data, s.path)
}

// Write persists doc with stable key order and two-space indentation.
func (s *Store) Write(doc *Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeLocked(doc)
}

func (s *Store) writeLocked(doc *Document) error {
	compact, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("mcpsettings: encode settings: %w", err)
	}
	var out bytes.Buffer
	if err := json.Indent(&out, compact, "", "  "); err != nil {
		return fmt.Errorf("mcpsettings: format settings: %w", err)
	}
	out.WriteByte('\n')
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("mcpsettings: create settings dir: %w", err)
	}
	if err := os.WriteFile(s.path, out.Bytes(), 0o600); err != nil {
		return fmt.Errorf("mcpsettings: write %s: %w", s.path, err)
	}
	return nil
}

// Update applies fn to the current document under the store lock and
// persists the result, returning the written document. The mutated document
// is re-validated before it touches disk.
func (s *Store) Update(fn func(*Document) error) (*Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.loadLocked()
	if err != nil {
		return nil, err
	}
	if err := fn(doc); err != nil {
		return nil, err
	}
	if err := doc.Validate(); err != nil {
		return nil, fmt.Errorf("mcpsettings: rejecting update: %w", err)
	}
	if err := s.writeLocked(doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// Watch observes the settings file and invokes onChange with each document
// that loads cleanly after a debounced burst of file events. Invalid
// intermediate states are logged and skipped so the caller keeps its
// last-known-good configuration. Watch returns once the watcher is
// registered; delivery runs until ctx is cancelled.
func (s *Store) Watch(ctx context.Context, onChange func(*Document)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("mcpsettings: create watcher: %w", err)
	}
	// Watch the directory, not the file: editors and atomic saves replace
	// the inode and a file watch would go stale after the first save.
	if err := watcher.Add(filepath.Dir(s.path)); err != nil {
		watcher.Close()
		return fmt.Errorf("mcpsettings: watch %s: %w", filepath.Dir(s.path), err)
	}
	go s.watchLoop(ctx, watcher, onChange)
	return nil
}

func (s *Store) watchLoop(ctx context.Context, watcher *fsnotify.Watcher, onChange func(*Document)) {
	defer watcher.Close()

	var timer *time.Timer
	var pending <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != s.path {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.NewTimer(s.opts.Debounce)
			pending = timer.C
		case <-pending:
			timer = nil
			pending = nil
			doc, err := s.Load()
			if err != nil {
				s.opts.Logger.Warn("ignoring settings change", "path", s.path, "error", err)
				continue
			}
			s.opts.Logger.Debug("settings file changed", "path", s.path, "servers", doc.Len())
			onChange(doc)
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			s.opts.Logger.Warn("settings watcher error", "error", err)
		}
	}
}
