package mcpsettings

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "nested", SettingsFileName)
	return NewStore(path, StoreOptions{Debounce: 20 * time.Millisecond})
}

func TestStoreBootstrapsMissingFile(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	doc, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, 0, doc.Len())

	data, err := os.ReadFile(store.Path())
	require.NoError(t, err)
	assert.Contains(t, string(data), `"servers"`)
}

func TestStoreWriteLoadRoundTripKeepsOrder(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	doc := NewDocument()
	require.NoError(t, doc.Set("gamma", &ServerConfig{Command: "run-gamma"}))
	require.NoError(t, doc.Set("alpha", &ServerConfig{URL: "https://alpha.test/mcp"}))
	require.NoError(t, store.Write(doc))

	loaded, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"gamma", "alpha"}, loaded.Names())

	data, err := os.ReadFile(store.Path())
	require.NoError(t, err)
	text := string(data)
	assert.Less(t, strings.Index(text, `"gamma"`), strings.Index(text, `"alpha"`))
}

func TestStoreUpdate(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	_, err := store.Update(func(doc *Document) error {
		return doc.Set("added", &ServerConfig{Command: "run"})
	})
	require.NoError(t, err)

	loaded, err := store.Load()
	require.NoError(t, err)
	assert.True(t, loaded.Has("added"))

	// An update that leaves an entry structurally invalid never hits disk.
	_, err = store.Update(func(doc *Document) error {
		return doc.Set("broken", &ServerConfig{Command: "run", URL: "https://both.test"})
	})
	require.Error(t, err)
	loaded, err = store.Load()
	require.NoError(t, err)
	assert.False(t, loaded.Has("broken"))
}

func TestStoreLoadReportsValidationError(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	require.NoError(t, os.MkdirAll(filepath.Dir(store.Path()), 0o755))
	require.NoError(t, os.WriteFile(store.Path(), []byte(`{"servers": {"x": {}}}`), 0o600))

	_, err := store.Load()
	require.Error(t, err)
	var verr *ValidationError
	assert.True(t, errors.As(err, &verr))
}

func TestStoreWatchDebouncesAndSkipsInvalid(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	_, err := store.Load()
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	changes := make(chan *Document, 8)
	require.NoError(t, store.Watch(ctx, func(doc *Document) {
		changes <- doc
	}))

	doc := NewDocument()
	require.NoError(t, doc.Set("alpha", &ServerConfig{Command: "run-alpha"}))
	require.NoError(t, store.Write(doc))

	select {
	case got := <-changes:
		assert.True(t, got.Has("alpha"))
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for settings change")
	}

	// Invalid content must not reach the callback.
	require.NoError(t, os.WriteFile(store.Path(), []byte("{ not json"), 0o600))
	select {
	case got := <-changes:
		t.Fatalf("unexpected delivery for invalid settings: %v", got.Names())
	case <-time.After(300 * time.Millisecond):
	}

	require.NoError(t, doc.Set("beta", &ServerConfig{URL: "https://beta.test/mcp"}))
	require.NoError(t, store.Write(doc))
	select {
	case got := <-changes:
		assert.Equal(t, []string{"alpha", "beta"}, got.Names())
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for second settings change")
	}
}

func TestDefaultPath(t *testing.T) {
	orig := osUserConfigDir
	t.Cleanup(func() { osUserConfigDir = orig })
	osUserConfigDir = func() (string, error) {
		return filepath.Join("home", ".config"), nil
	}

	path, err := DefaultPath()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("home", ".config", "mcp-hub", SettingsFileName), path)
}
