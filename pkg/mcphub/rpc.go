package mcphub

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/caphub/mcp-hub-go/pkg/mcpsettings"
)

// CallTool invokes tool on server, bounded by the server's configured
// timeout. Unknown, disabled, and disconnected servers fail immediately with
// a typed error; a disabled server is rejected before any transport round
// trip. The hub never retries.
func (h *Hub) CallTool(ctx context.Context, server, tool string, args map[string]any) (*mcp.CallToolResult, error) {
	session, cfg, err := h.activeSession(server)
	if err != nil {
		return nil, err
	}
	timeout := h.callTimeout(cfg)
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	result, err := session.CallTool(callCtx, &mcp.CallToolParams{Name: tool, Arguments: args})
	if err != nil {
		if deadlineHit(callCtx, err) {
			return nil, &TimeoutError{Server: server, Op: "tools/call", Timeout: timeout, Err: err}
		}
		return nil, fmt.Errorf("mcphub: call tool %q on %q: %w", tool, server, err)
	}
	return result, nil
}

// ReadResource reads uri from server under the same rules as CallTool.
func (h *Hub) ReadResource(ctx context.Context, server, uri string) (*mcp.ReadResourceResult, error) {
	session, cfg, err := h.activeSession(server)
	if err != nil {
		return nil, err
	}
	timeout := h.callTimeout(cfg)
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	result, err := session.ReadResource(callCtx, &mcp.ReadResourceParams{URI: uri})
	if err != nil {
		if deadlineHit(callCtx, err) {
			return nil, &TimeoutError{Server: server, Op: "resources/read", Timeout: timeout, Err: err}
		}
		return nil, fmt.Errorf("mcphub: read resource %q on %q: %w", uri, server, err)
	}
	return result, nil
}

// ProbeServer pings the server's session to distinguish a live connection
// from a stale one.
func (h *Hub) ProbeServer(ctx context.Context, name string) ConnectionStatus {
	h.mu.RLock()
	st, ok := h.states[name]
	if !ok {
		h.mu.RUnlock()
		return StatusDisconnected
	}
	status := st.status
	session := st.session
	h.mu.RUnlock()

	if status == StatusConnecting {
		return StatusConnecting
	}
	if session == nil {
		return StatusDisconnected
	}
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := session.Ping(pingCtx, nil); err != nil {
		return StatusDisconnected
	}
	return StatusConnected
}

func (h *Hub) activeSession(name string) (*mcp.ClientSession, *mcpsettings.ServerConfig, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	st, ok := h.states[name]
	if !ok {
		return nil, nil, &UnknownServerError{Server: name}
	}
	if st.config.Disabled {
		return nil, nil, &ServerDisabledError{Server: name}
	}
	if st.session == nil {
		return nil, nil, &NotConnectedError{Server: name, Status: st.status}
	}
	return st.session, st.config, nil
}

func (h *Hub) callTimeout(cfg *mcpsettings.ServerConfig) time.Duration {
	if cfg == nil || cfg.Timeout() <= 0 {
		return h.opts.DefaultCallTimeout
	}
	return cfg.Timeout()
}

func deadlineHit(ctx context.Context, err error) bool {
	return errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded)
}

// refreshCapabilities fetches the three capability lists for name and stores
// them on its live record. Fetches are best-effort: each failure leaves an
// empty list and is retried by the next reconciliation or list-changed
// notification, never surfaced to the caller.
func (h *Hub) refreshCapabilities(ctx context.Context, name string) {
	tools := h.fetchTools(ctx, name)
	resources := h.fetchResources(ctx, name)
	templates := h.fetchResourceTemplates(ctx, name)

	h.mu.Lock()
	if st, ok := h.states[name]; ok && st.status == StatusConnected {
		st.tools = tools
		st.resources = resources
		st.templates = templates
	}
	h.mu.Unlock()
}

func (h *Hub) fetchTools(ctx context.Context, name string) []ToolInfo {
	session, cfg, err := h.activeSession(name)
	if err != nil {
		return nil
	}
	listCtx, cancel := context.WithTimeout(ctx, h.opts.ListTimeout)
	defer cancel()
	result, err := session.ListTools(listCtx, nil)
	if err != nil {
		h.logListFailure("tools", name, err)
		return nil
	}
	return projectTools(result.Tools, cfg)
}

func (h *Hub) fetchResources(ctx context.Context, name string) []ResourceInfo {
	session, _, err := h.activeSession(name)
	if err != nil {
		return nil
	}
	listCtx, cancel := context.WithTimeout(ctx, h.opts.ListTimeout)
	defer cancel()
	result, err := session.ListResources(listCtx, nil)
	if err != nil {
		h.logListFailure("resources", name, err)
		return nil
	}
	return projectResources(result.Resources)
}

func (h *Hub) fetchResourceTemplates(ctx context.Context, name string) []ResourceTemplateInfo {
	session, _, err := h.activeSession(name)
	if err != nil {
		return nil
	}
	listCtx, cancel := context.WithTimeout(ctx, h.opts.ListTimeout)
	defer cancel()
	result, err := session.ListResourceTemplates(listCtx, nil)
	if err != nil {
		h.logListFailure("resource templates", name, err)
		return nil
	}
	return projectResourceTemplates(result.ResourceTemplates)
}

func (h *Hub) logListFailure(kind, name string, err error) {
	// Servers without the capability legitimately reject the list call.
	if isMethodUnavailable(err) {
		return
	}
	h.opts.Logger.Debug("capability fetch failed", "kind", kind, "server", name, "error", err)
}

func isMethodUnavailable(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{"method not found", "not implemented", "unsupported", "does not support", "unimplemented"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
