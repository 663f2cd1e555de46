package mcphub

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/caphub/mcp-hub-go/pkg/mcpsettings"
)

const closeTimeout = 5 * time.Second

// Hub manages the live connection set for every server declared in the
// settings document. Construct it with NewHub and drive it either with Run,
// which loads the settings, reconciles, and follows file changes until the
// context ends, or by calling Reconcile directly with documents of your own.
type Hub struct {
	store *mcpsettings.Store
	opts  Options

	mu     sync.RWMutex
	states map[string]*connState
	order  []string

	reconciling atomic.Bool

	restartMu    sync.Mutex
	restartLocks map[string]*sync.Mutex

	watchMu  sync.Mutex
	watchers map[string]*artifactWatcher

	subMu sync.Mutex
	subs  map[*Subscription]struct{}
}

// NewHub returns a hub backed by store.
func NewHub(store *mcpsettings.Store, opts Options) *Hub {
	return &Hub{
		store:        store,
		opts:         opts.normalized(),
		states:       make(map[string]*connState),
		restartLocks: make(map[string]*sync.Mutex),
		watchers:     make(map[string]*artifactWatcher),
		subs:         make(map[*Subscription]struct{}),
	}
}

// Store returns the settings store backing this hub.
func (h *Hub) Store() *mcpsettings.Store { return h.store }

// Run loads the settings document, reconciles, and keeps converging on
// every file change until ctx ends, then disposes all connections. An
// invalid document at startup is a warning, not a crash: the hub serves an
// empty set until the file loads cleanly.
func (h *Hub) Run(ctx context.Context) error {
	doc, err := h.store.Load()
	if err != nil {
		h.opts.Logger.Warn("settings invalid at startup, serving empty set until fixed", "error", err)
	} else {
		h.Reconcile(ctx, doc)
	}
	if err := h.store.Watch(ctx, func(doc *mcpsettings.Document) {
		h.Reconcile(ctx, doc)
	}); err != nil {
		return err
	}
	<-ctx.Done()
	h.Dispose()
	return nil
}

// Reconcile converges the live connection set to doc: servers that
// disappeared are destroyed, new ones are connected, and structurally
// changed ones are rebuilt from scratch rather than patched in place.
// Overlapping calls coalesce: a pass already in flight absorbs the trigger
// and later file events converge the remainder. Exactly one snapshot is
// published per pass, ordered by the document's key order.
func (h *Hub) Reconcile(ctx context.Context, doc *mcpsettings.Document) {
	if !h.reconciling.CompareAndSwap(false, true) {
		h.opts.Logger.Debug("reconciliation already in flight, coalescing")
		return
	}
	defer h.reconciling.Store(false)

	h.closeArtifactWatchers()

	h.mu.RLock()
	current := make([]string, 0, len(h.states))
	for name := range h.states {
		current = append(current, name)
	}
	h.mu.RUnlock()

	for _, name := range current {
		if doc.Has(name) {
			continue
		}
		if err := h.destroyServer(name); err != nil {
			h.opts.Logger.Warn("teardown failed", "server", name, "error", err)
		} else {
			h.opts.Logger.Info("removed server", "server", name)
		}
	}

	for _, name := range doc.Names() {
		cfg, ok := doc.Get(name)
		if !ok {
			continue
		}
		h.watchArtifacts(name, cfg)

		h.mu.RLock()
		st, exists := h.states[name]
		structurallySame := exists && st.config.StructuralEqual(cfg)
		h.mu.RUnlock()

		switch {
		case !exists:
			if err := h.connectServer(ctx, name, cfg); err != nil {
				h.opts.Logger.Warn("connect failed", "server", name, "error", err)
			}
		case !structurallySame:
			h.opts.Logger.Info("server config changed, rebuilding", "server", name)
			if err := h.destroyServer(name); err != nil {
				h.opts.Logger.Warn("teardown failed", "server", name, "error", err)
			}
			if err := h.connectServer(ctx, name, cfg); err != nil {
				h.opts.Logger.Warn("connect failed", "server", name, "error", err)
			}
		default:
			h.applyNonStructural(name, cfg)
		}
	}

	h.mu.Lock()
	h.order = doc.Names()
	h.mu.Unlock()

	h.publish()
}

// applyNonStructural refreshes the fields a reconnect does not own: the
// stored config and the derived auto-approve flags.
func (h *Hub) applyNonStructural(name string, cfg *mcpsettings.ServerConfig) {
	h.mu.Lock()
	if st, ok := h.states[name]; ok {
		st.config = cfg.Clone()
		for i := range st.tools {
			st.tools[i].AutoApprove = cfg.AutoApproves(st.tools[i].Name)
		}
	}
	h.mu.Unlock()
}

// connectServer builds a fresh record for name and performs the handshake.
// The connecting record is visible to concurrent readers before the
// handshake completes. Disabled servers stop at an inert disconnected
// record so they stay visible in snapshots without a transport.
func (h *Hub) connectServer(ctx context.Context, name string, cfg *mcpsettings.ServerConfig) error {
	cfg = cfg.Clone()

	// A record with this name should already be gone; drop it if not.
	h.mu.Lock()
	stale := h.states[name]
	delete(h.states, name)
	h.mu.Unlock()
	if stale != nil {
		h.opts.Logger.Warn("dropping stale record", "server", name)
		if stale.session != nil {
			_ = closeSession(stale.session)
		}
	}

	st := &connState{name: name, config: cfg, status: StatusConnecting}
	h.mu.Lock()
	h.states[name] = st
	h.mu.Unlock()

	if cfg.Disabled {
		h.mu.Lock()
		st.status = StatusDisconnected
		h.mu.Unlock()
		return nil
	}

	transports, err := h.newTransports(name, cfg, st)
	if err != nil {
		h.failConnect(st, err)
		return err
	}

	impl := &mcp.Implementation{Name: h.opts.ClientName, Version: h.opts.ClientVersion}
	connectCtx, cancel := context.WithTimeout(ctx, h.callTimeout(cfg))
	defer cancel()

	var session *mcp.ClientSession
	var client *mcp.Client
	var attemptErrs []error
	for _, transport := range transports {
		candidate := mcp.NewClient(impl, h.clientOptions(name))
		s, err := candidate.Connect(connectCtx, h.wrapTransport(name, transport), nil)
		if err == nil {
			session, client = s, candidate
			break
		}
		attemptErrs = append(attemptErrs, err)
	}
	if session == nil {
		cause := errors.Join(attemptErrs...)
		h.failConnect(st, cause)
		return fmt.Errorf("mcphub: connect %q: %w", name, cause)
	}

	h.mu.Lock()
	if h.states[name] != st {
		// Superseded while handshaking; the replacement owns the name now.
		h.mu.Unlock()
		_ = closeSession(session)
		return nil
	}
	st.client = client
	st.session = session
	st.status = StatusConnected
	h.mu.Unlock()

	go h.monitorSession(st, session)
	h.refreshCapabilities(ctx, name)
	h.opts.Logger.Info("connected to server", "server", name, "transport", cfg.Kind())
	return nil
}

func (h *Hub) failConnect(st *connState, cause error) {
	h.mu.Lock()
	if h.states[st.name] == st {
		st.status = StatusDisconnected
		st.appendError(cause.Error())
	}
	h.mu.Unlock()
}

// monitorSession downgrades the record when its session ends, whether by a
// transport failure or an orderly close initiated elsewhere. Records are
// compared by identity so a replacement started in the meantime is never
// touched.
func (h *Hub) monitorSession(st *connState, session *mcp.ClientSession) {
	err := session.Wait()

	h.mu.Lock()
	if h.states[st.name] != st || st.session != session {
		h.mu.Unlock()
		return
	}
	st.session = nil
	st.client = nil
	st.status = StatusDisconnected
	if err != nil {
		st.appendError(err.Error())
	}
	h.mu.Unlock()

	if st.stderr != nil {
		st.stderr.flush()
	}
	h.opts.Logger.Warn("server connection closed", "server", st.name, "error", err)
	h.publish()
}

func (h *Hub) recordStderr(st *connState, line string) {
	h.mu.Lock()
	if h.states[st.name] != st {
		h.mu.Unlock()
		return
	}
	st.appendError(line)
	disconnected := st.status == StatusDisconnected
	h.mu.Unlock()

	h.opts.Logger.Warn("server stderr", "server", st.name, "line", line)
	if disconnected {
		// Late stderr after a disconnect is the only signal left; benign
		// startup chatter instead rides the eventual close event.
		h.publish()
	}
}

func (h *Hub) destroyServer(name string) error {
	h.mu.Lock()
	st, ok := h.states[name]
	if !ok {
		h.mu.Unlock()
		return nil
	}
	delete(h.states, name)
	session := st.session
	st.session = nil
	st.client = nil
	h.mu.Unlock()

	if session == nil {
		return nil
	}
	if err := closeSession(session); err != nil {
		return fmt.Errorf("mcphub: disconnect %q: %w", name, err)
	}
	return nil
}

// closeSession closes with a bounded wait so one stuck transport cannot
// block teardown of the rest.
func closeSession(session *mcp.ClientSession) error {
	done := make(chan error, 1)
	go func() { done <- session.Close() }()
	select {
	case err := <-done:
		return err
	case <-time.After(closeTimeout):
		return fmt.Errorf("close timed out after %s", closeTimeout)
	}
}

// RestartServer tears down and reconnects one server using its existing
// config. At most one restart per server is in flight at a time; the
// connecting state is published before the delay so observers see the
// restart in progress. Failure leaves the server disconnected with the
// error recorded, never a crash.
func (h *Hub) RestartServer(ctx context.Context, name string) error {
	lock := h.restartLock(name)
	lock.Lock()
	defer lock.Unlock()

	h.mu.Lock()
	st, ok := h.states[name]
	if !ok {
		h.mu.Unlock()
		return &UnknownServerError{Server: name}
	}
	cfg := st.config.Clone()
	if cfg.Disabled {
		h.mu.Unlock()
		return &ServerDisabledError{Server: name}
	}
	st.status = StatusConnecting
	h.mu.Unlock()

	h.opts.Logger.Info("restarting server", "server", name)
	h.publish()
	if h.opts.RestartDelay > 0 {
		time.Sleep(h.opts.RestartDelay)
	}

	if err := h.destroyServer(name); err != nil {
		h.opts.Logger.Warn("teardown during restart", "server", name, "error", err)
	}
	err := h.connectServer(ctx, name, cfg)
	h.publish()
	return err
}

func (h *Hub) restartLock(name string) *sync.Mutex {
	h.restartMu.Lock()
	defer h.restartMu.Unlock()
	lock, ok := h.restartLocks[name]
	if !ok {
		lock = &sync.Mutex{}
		h.restartLocks[name] = lock
	}
	return lock
}

// Dispose destroys every connection and closes all subscriptions.
func (h *Hub) Dispose() {
	h.closeArtifactWatchers()

	h.mu.Lock()
	names := make([]string, 0, len(h.states))
	for name := range h.states {
		names = append(names, name)
	}
	h.order = nil
	h.mu.Unlock()

	var errs []error
	for _, name := range names {
		if err := h.destroyServer(name); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		h.opts.Logger.Warn("teardown during dispose", "error", err)
	}

	h.subMu.Lock()
	for sub := range h.subs {
		delete(h.subs, sub)
		close(sub.ch)
	}
	h.subMu.Unlock()
}

// ListServers returns the current ordered snapshot.
func (h *Hub) ListServers() Snapshot { return h.Snapshot() }

// ToggleServerDisabled flips a server's disabled flag in the settings
// document and reconciles, which starts or stops the underlying transport.
func (h *Hub) ToggleServerDisabled(ctx context.Context, name string, disabled bool) error {
	doc, err := h.store.Update(func(doc *mcpsettings.Document) error {
		cfg, ok := doc.Get(name)
		if !ok {
			return &UnknownServerError{Server: name}
		}
		cfg.Disabled = disabled
		return doc.Set(name, cfg)
	})
	if err != nil {
		return err
	}
	h.Reconcile(ctx, doc)
	return nil
}

// ToggleToolAutoApprove adds or removes tools on a server's auto-approve
// list. The derived per-tool flags are refreshed before the next publish;
// the connection itself is left alone.
func (h *Hub) ToggleToolAutoApprove(ctx context.Context, name string, tools []string, autoApprove bool) error {
	doc, err := h.store.Update(func(doc *mcpsettings.Document) error {
		cfg, ok := doc.Get(name)
		if !ok {
			return &UnknownServerError{Server: name}
		}
		for _, tool := range tools {
			has := cfg.AutoApproves(tool)
			switch {
			case autoApprove && !has:
				cfg.AutoApprove = append(cfg.AutoApprove, tool)
			case !autoApprove && has:
				cfg.AutoApprove = slices.DeleteFunc(cfg.AutoApprove, func(t string) bool { return t == tool })
			}
		}
		return doc.Set(name, cfg)
	})
	if err != nil {
		return err
	}
	h.Reconcile(ctx, doc)
	return nil
}

// UpdateServerTimeout sets a server's per-call timeout in seconds.
func (h *Hub) UpdateServerTimeout(ctx context.Context, name string, seconds int) error {
	if seconds < mcpsettings.MinTimeoutSeconds {
		return fmt.Errorf("mcphub: timeout must be at least %d second(s)", mcpsettings.MinTimeoutSeconds)
	}
	doc, err := h.store.Update(func(doc *mcpsettings.Document) error {
		cfg, ok := doc.Get(name)
		if !ok {
			return &UnknownServerError{Server: name}
		}
		cfg.TimeoutSeconds = seconds
		return doc.Set(name, cfg)
	})
	if err != nil {
		return err
	}
	h.Reconcile(ctx, doc)
	return nil
}

// AddRemoteServer appends a network server to the settings document and
// connects it.
func (h *Hub) AddRemoteServer(ctx context.Context, name, rawURL string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("mcphub: server name is required")
	}
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("mcphub: invalid server url %q", rawURL)
	}
	doc, err := h.store.Update(func(doc *mcpsettings.Document) error {
		if doc.Has(name) {
			return fmt.Errorf("mcphub: server %q already exists", name)
		}
		return doc.Set(name, &mcpsettings.ServerConfig{URL: u.String()})
	})
	if err != nil {
		return err
	}
	h.Reconcile(ctx, doc)
	return nil
}

// DeleteServer removes a server from the settings document and tears its
// connection down.
func (h *Hub) DeleteServer(ctx context.Context, name string) error {
	doc, err := h.store.Update(func(doc *mcpsettings.Document) error {
		if !doc.Delete(name) {
			return &UnknownServerError{Server: name}
		}
		return nil
	})
	if err != nil {
		return err
	}
	h.Reconcile(ctx, doc)
	return nil
}

func (h *Hub) clientOptions(name string) *mcp.ClientOptions {
	return &mcp.ClientOptions{
		ToolListChangedHandler: func(ctx context.Context, req *mcp.ToolListChangedRequest) {
			go h.handleToolListChanged(name)
		},
		ResourceListChangedHandler: func(ctx context.Context, req *mcp.ResourceListChangedRequest) {
			go h.handleResourceListChanged(name)
		},
		ResourceUpdatedHandler: func(ctx context.Context, req *mcp.ResourceUpdatedNotificationRequest) {
			if req != nil && req.Params != nil {
				h.opts.Logger.Debug("resource updated", "server", name, "uri", req.Params.URI)
			}
		},
	}
}

func (h *Hub) handleToolListChanged(name string) {
	ctx, cancel := context.WithTimeout(context.Background(), h.opts.ListTimeout)
	defer cancel()
	tools := h.fetchTools(ctx, name)

	h.mu.Lock()
	if st, ok := h.states[name]; ok && st.status == StatusConnected {
		st.tools = tools
	}
	h.mu.Unlock()
	h.publish()
}

func (h *Hub) handleResourceListChanged(name string) {
	ctx, cancel := context.WithTimeout(context.Background(), h.opts.ListTimeout)
	defer cancel()
	resources := h.fetchResources(ctx, name)
	templates := h.fetchResourceTemplates(ctx, name)

	h.mu.Lock()
	if st, ok := h.states[name]; ok && st.status == StatusConnected {
		st.resources = resources
		st.templates = templates
	}
	h.mu.Unlock()
	h.publish()
}
