package mcpbridge

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"sync"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/caphub/mcp-hub-go/pkg/mcphub"
)

// Options tune a Bridge. The zero value is usable.
type Options struct {
	// Implementation is the identity the bridge presents to its clients.
	Implementation *mcp.Implementation

	// Namespace shapes the bridged identifiers.
	Namespace Namespace

	// Streamable is passed through to the streamable HTTP handler.
	Streamable mcp.StreamableHTTPOptions

	// Logger receives bridge diagnostics. Defaults to slog.Default().
	Logger *slog.Logger
}

func (o Options) normalized() Options {
	if o.Implementation == nil {
		o.Implementation = &mcp.Implementation{Name: "mcp-hub-bridge", Version: "1.0.0"}
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// target locates the native feature behind one bridged registration.
type target struct {
	Server string
	Name   string // native tool name or URI
}

// serverEntry remembers what one server currently contributes, so snapshot
// diffs can skip servers whose served surface is unchanged.
type serverEntry struct {
	tools     []mcphub.ToolInfo
	resources []mcphub.ResourceInfo
	templates []mcphub.ResourceTemplateInfo

	toolNames    []string
	resourceURIs []string
	templateURIs []string
}

// Bridge mirrors the hub's connected capability set onto one mcp.Server.
type Bridge struct {
	hub  *mcphub.Hub
	opts Options

	server  *mcp.Server
	handler http.Handler
	sub     *mcphub.Subscription

	mu      sync.Mutex
	servers map[string]*serverEntry
}

// NewBridge builds the bridge, registers the current snapshot, and starts
// following the hub's publish feed. Close detaches it again.
func NewBridge(hub *mcphub.Hub, opts Options) *Bridge {
	b := &Bridge{
		hub:     hub,
		opts:    opts.normalized(),
		servers: make(map[string]*serverEntry),
	}
	b.server = mcp.NewServer(b.opts.Implementation, &mcp.ServerOptions{
		HasTools:     true,
		HasResources: true,
	})
	b.handler = mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server {
		return b.server
	}, &b.opts.Streamable)

	b.sub = hub.Subscribe(8)
	b.syncSnapshot(hub.Snapshot())
	go b.follow()
	return b
}

// Handler serves the streamable MCP endpoint.
func (b *Bridge) Handler() http.Handler { return b.handler }

// Close stops following the hub. Registered features stay in place for any
// still-connected clients; the process is expected to be shutting down.
func (b *Bridge) Close() { b.sub.Close() }

func (b *Bridge) follow() {
	for snap := range b.sub.Updates() {
		b.syncSnapshot(snap)
	}
}

// syncSnapshot reconciles the bridged registrations against one snapshot.
// Only connected servers contribute features; the SDK notifies live clients
// when the registration set changes.
func (b *Bridge) syncSnapshot(snap mcphub.Snapshot) {
	b.mu.Lock()
	defer b.mu.Unlock()

	seen := make(map[string]struct{}, len(snap))
	for _, state := range snap {
		seen[state.Name] = struct{}{}
		tools, resources, templates := state.Tools, state.Resources, state.ResourceTemplates
		if state.Status != mcphub.StatusConnected {
			tools, resources, templates = nil, nil, nil
		}
		entry := b.servers[state.Name]
		if entry != nil &&
			toolsEqual(entry.tools, tools) &&
			slices.Equal(entry.resources, resources) &&
			slices.Equal(entry.templates, templates) {
			continue
		}
		b.withdrawLocked(state.Name)
		b.registerLocked(state.Name, tools, resources, templates)
	}
	for name := range b.servers {
		if _, ok := seen[name]; !ok {
			b.withdrawLocked(name)
		}
	}
}

// toolsEqual ignores AutoApprove: the flag is hub-side policy and does not
// change the surface served to bridge clients.
func toolsEqual(a, b []mcphub.ToolInfo) bool {
	return slices.EqualFunc(a, b, func(x, y mcphub.ToolInfo) bool {
		return x.Name == y.Name && x.Description == y.Description && x.InputSchema == y.InputSchema
	})
}

func (b *Bridge) registerLocked(server string, tools []mcphub.ToolInfo, resources []mcphub.ResourceInfo, templates []mcphub.ResourceTemplateInfo) {
	entry := &serverEntry{tools: tools, resources: resources, templates: templates}
	ns := b.opts.Namespace

	for _, tool := range tools {
		bridged := ns.ToolName(server, tool.Name)
		schema := tool.InputSchema
		if schema == nil {
			schema = &jsonschema.Schema{Type: "object"}
		}
		b.server.AddTool(&mcp.Tool{
			Name:        bridged,
			Description: tool.Description,
			InputSchema: schema,
		}, b.makeToolHandler(target{Server: server, Name: tool.Name}))
		entry.toolNames = append(entry.toolNames, bridged)
	}
	for _, res := range resources {
		bridged := ns.ResourceURI(server, res.URI)
		b.server.AddResource(&mcp.Resource{
			URI:         bridged,
			Name:        res.Name,
			Description: res.Description,
			MIMEType:    res.MIMEType,
		}, b.makeResourceHandler(target{Server: server, Name: res.URI}))
		entry.resourceURIs = append(entry.resourceURIs, bridged)
	}
	for _, tpl := range templates {
		bridged := ns.TemplateURI(server, tpl.URITemplate)
		b.server.AddResourceTemplate(&mcp.ResourceTemplate{
			URITemplate: bridged,
			Name:        tpl.Name,
			Description: tpl.Description,
		}, b.makeTemplateHandler(server))
		entry.templateURIs = append(entry.templateURIs, bridged)
	}

	b.servers[server] = entry
	if len(entry.toolNames)+len(entry.resourceURIs)+len(entry.templateURIs) > 0 {
		b.opts.Logger.Debug("bridge serving features",
			"server", server,
			"tools", len(entry.toolNames),
			"resources", len(entry.resourceURIs),
			"templates", len(entry.templateURIs))
	}
}

func (b *Bridge) withdrawLocked(server string) {
	entry := b.servers[server]
	if entry == nil {
		return
	}
	if len(entry.toolNames) > 0 {
		b.server.RemoveTools(entry.toolNames...)
	}
	if len(entry.resourceURIs) > 0 {
		b.server.RemoveResources(entry.resourceURIs...)
	}
	if len(entry.templateURIs) > 0 {
		b.server.RemoveResourceTemplates(entry.templateURIs...)
	}
	delete(b.servers, server)
	if len(entry.toolNames)+len(entry.resourceURIs)+len(entry.templateURIs) > 0 {
		b.opts.Logger.Debug("bridge withdrew features", "server", server)
	}
}

func (b *Bridge) makeToolHandler(tgt target) mcp.ToolHandler {
	return func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var args map[string]any
		if req != nil && req.Params != nil {
			args = toolArguments(req.Params.Arguments)
		}
		return b.hub.CallTool(ctx, tgt.Server, tgt.Name, args)
	}
}

func (b *Bridge) makeResourceHandler(tgt target) mcp.ResourceHandler {
	return func(ctx context.Context, _ *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
		return b.hub.ReadResource(ctx, tgt.Server, tgt.Name)
	}
}

// makeTemplateHandler routes reads of template-expanded URIs. Expansion
// happens inside the bridged form, so stripping the prefix recovers the
// native expanded URI.
func (b *Bridge) makeTemplateHandler(server string) mcp.ResourceHandler {
	return func(ctx context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
		if req == nil || req.Params == nil {
			return nil, fmt.Errorf("mcpbridge: missing read params")
		}
		native, ok := b.opts.Namespace.NativeTemplateURI(server, req.Params.URI)
		if !ok {
			return nil, fmt.Errorf("mcpbridge: %q is not a bridged URI for server %q", req.Params.URI, server)
		}
		return b.hub.ReadResource(ctx, server, native)
	}
}

// toolArguments normalizes the argument payload the SDK hands raw handlers.
func toolArguments(raw any) map[string]any {
	switch v := raw.(type) {
	case map[string]any:
		return v
	case json.RawMessage:
		var m map[string]any
		if err := json.Unmarshal(v, &m); err == nil {
			return m
		}
	}
	return nil
}
