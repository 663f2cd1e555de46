package mcphub

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/caphub/mcp-hub-go/pkg/mcpsettings"
)

// artifactWatcher follows one process server's build artifact and restarts
// that single server when it changes.
type artifactWatcher struct {
	watcher *fsnotify.Watcher
	done    chan struct{}
}

func (w *artifactWatcher) close() {
	select {
	case <-w.done:
	default:
		close(w.done)
	}
	w.watcher.Close()
}

// buildArtifactPath picks the watchable build artifact out of a process
// server's args: the first argument naming an existing .js file. Servers
// launched straight from a registry package have none and are not watched.
func buildArtifactPath(args []string) string {
	for _, arg := range args {
		if !strings.HasSuffix(arg, ".js") {
			continue
		}
		info, err := os.Stat(arg)
		if err != nil || !info.Mode().IsRegular() {
			continue
		}
		return arg
	}
	return ""
}

// watchArtifacts (re-)registers the hot-reload watcher for one server.
// Reconciliation tears every watcher down at the start of a pass, so this
// runs for each desired process server on every pass.
func (h *Hub) watchArtifacts(name string, cfg *mcpsettings.ServerConfig) {
	if cfg.Kind() != mcpsettings.KindProcess || cfg.Disabled {
		return
	}
	path := buildArtifactPath(cfg.Args)
	if path == "" {
		return
	}
	path = filepath.Clean(path)
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		h.opts.Logger.Warn("cannot create artifact watcher", "server", name, "error", err)
		return
	}
	// Watch the parent directory: rebuilds that replace the artifact by
	// rename would silently kill a watch on the file itself.
	if err := fw.Add(filepath.Dir(path)); err != nil {
		fw.Close()
		h.opts.Logger.Warn("cannot watch build artifact", "server", name, "path", path, "error", err)
		return
	}
	aw := &artifactWatcher{watcher: fw, done: make(chan struct{})}
	h.watchMu.Lock()
	if old := h.watchers[name]; old != nil {
		old.close()
	}
	h.watchers[name] = aw
	h.watchMu.Unlock()
	h.opts.Logger.Debug("watching build artifact", "server", name, "path", path)
	go h.artifactLoop(name, path, aw)
}

func (h *Hub) artifactLoop(name, path string, aw *artifactWatcher) {
	var timer *time.Timer
	var pending <-chan time.Time
	for {
		select {
		case <-aw.done:
			return
		case ev, ok := <-aw.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != path {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.NewTimer(h.opts.ArtifactDebounce)
			pending = timer.C
		case <-pending:
			timer = nil
			pending = nil
			h.opts.Logger.Info("build artifact changed, restarting server", "server", name, "path", path)
			if err := h.RestartServer(context.Background(), name); err != nil {
				h.opts.Logger.Warn("hot-reload restart failed", "server", name, "error", err)
			}
		case err, ok := <-aw.watcher.Errors:
			if !ok {
				return
			}
			h.opts.Logger.Warn("artifact watcher error", "server", name, "error", err)
		}
	}
}

// closeArtifactWatchers tears down every hot-reload watcher. Watchers are
// cheap to recreate and must not leak across reconciliation passes.
func (h *Hub) closeArtifactWatchers() {
	h.watchMu.Lock()
	for name, aw := range h.watchers {
		aw.close()
		delete(h.watchers, name)
	}
	h.watchMu.Unlock()
}
