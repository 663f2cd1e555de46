package mcphub

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caphub/mcp-hub-go/pkg/mcpsettings"
)

func TestCallToolRoundTrip(t *testing.T) {
	t.Parallel()

	backend := newFakeBackend()
	backend.serve("alpha", newEchoServer("alpha"))
	hub := newTestHub(t, backend, func(doc *mcpsettings.Document) {
		require.NoError(t, doc.Set("alpha", &mcpsettings.ServerConfig{Command: "run-alpha"}))
	})
	reconcileNow(t, hub)

	result, err := hub.CallTool(context.Background(), "alpha", "echo", map[string]any{"text": "round trip"})
	require.NoError(t, err)
	require.NotNil(t, result)
	require.NotEmpty(t, result.Content)
	text, ok := result.Content[0].(*mcp.TextContent)
	require.True(t, ok, "expected text content, got %T", result.Content[0])
	assert.Equal(t, "round trip", text.Text)
}

func TestReadResourceRoundTrip(t *testing.T) {
	t.Parallel()

	const uri = "file:///notes.txt"
	server := mcp.NewServer(&mcp.Implementation{Name: "alpha", Version: "0.0.1"}, nil)
	server.AddResource(&mcp.Resource{
		URI:      uri,
		Name:     "notes",
		MIMEType: "text/plain",
	}, func(ctx context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
		return &mcp.ReadResourceResult{
			Contents: []*mcp.ResourceContents{{URI: uri, MIMEType: "text/plain", Text: "remember the milk"}},
		}, nil
	})

	backend := newFakeBackend()
	backend.serve("alpha", server)
	hub := newTestHub(t, backend, func(doc *mcpsettings.Document) {
		require.NoError(t, doc.Set("alpha", &mcpsettings.ServerConfig{Command: "run-alpha"}))
	})
	reconcileNow(t, hub)

	state, ok := serverStateByName(hub.Snapshot(), "alpha")
	require.True(t, ok)
	require.Len(t, state.Resources, 1)
	assert.Equal(t, uri, state.Resources[0].URI)

	result, err := hub.ReadResource(context.Background(), "alpha", uri)
	require.NoError(t, err)
	require.Len(t, result.Contents, 1)
	assert.Equal(t, "remember the milk", result.Contents[0].Text)
}

func TestCallToolEnforcesConfiguredTimeout(t *testing.T) {
	t.Parallel()

	server := mcp.NewServer(&mcp.Implementation{Name: "slow", Version: "0.0.1"}, nil)
	server.AddTool(&mcp.Tool{
		Name:        "sleep",
		Description: "never answers in time",
		InputSchema: &jsonschema.Schema{Type: "object"},
	}, func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		select {
		case <-time.After(30 * time.Second):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		return &mcp.CallToolResult{}, nil
	})

	backend := newFakeBackend()
	backend.serve("slow", server)
	hub := newTestHub(t, backend, func(doc *mcpsettings.Document) {
		require.NoError(t, doc.Set("slow", &mcpsettings.ServerConfig{Command: "run-slow", TimeoutSeconds: 1}))
	})
	reconcileNow(t, hub)

	start := time.Now()
	_, err := hub.CallTool(context.Background(), "slow", "sleep", nil)
	elapsed := time.Since(start)

	require.Error(t, err)
	assert.True(t, IsTimeout(err), "expected a timeout, got %v", err)
	var timeout *TimeoutError
	require.ErrorAs(t, err, &timeout)
	assert.Equal(t, "slow", timeout.Server)
	assert.Equal(t, "tools/call", timeout.Op)
	assert.Equal(t, time.Second, timeout.Timeout)
	assert.Less(t, elapsed, 5*time.Second, "the call must abort at the configured deadline")
}

func TestCallToolErrorTaxonomy(t *testing.T) {
	t.Parallel()

	backend := newFakeBackend()
	hub := newTestHub(t, backend, func(doc *mcpsettings.Document) {
		require.NoError(t, doc.Set("off", &mcpsettings.ServerConfig{Command: "run-off", Disabled: true}))
	})
	reconcileNow(t, hub)

	var unknown *UnknownServerError
	_, err := hub.CallTool(context.Background(), "ghost", "echo", nil)
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, "ghost", unknown.Server)
	assert.False(t, IsTimeout(err))

	var disabled *ServerDisabledError
	_, err = hub.CallTool(context.Background(), "off", "echo", nil)
	require.ErrorAs(t, err, &disabled)
	assert.Zero(t, backend.connectCount("off"))

	_, err = hub.ReadResource(context.Background(), "ghost", "file:///x")
	require.ErrorAs(t, err, &unknown)
}

func TestBareServerYieldsEmptyCapabilities(t *testing.T) {
	t.Parallel()

	backend := newFakeBackend()
	backend.serve("bare", mcp.NewServer(&mcp.Implementation{Name: "bare", Version: "0.0.1"}, nil))
	hub := newTestHub(t, backend, func(doc *mcpsettings.Document) {
		require.NoError(t, doc.Set("bare", &mcpsettings.ServerConfig{Command: "run-bare"}))
	})
	reconcileNow(t, hub)

	state, ok := serverStateByName(hub.Snapshot(), "bare")
	require.True(t, ok)
	assert.Equal(t, StatusConnected, state.Status, "a server without tools is still healthy")
	assert.Empty(t, state.Tools)
	assert.Empty(t, state.Resources)
	assert.Empty(t, state.ResourceTemplates)
	assert.Empty(t, state.Error, "missing capabilities are not an error condition")
}

func TestProbeServer(t *testing.T) {
	t.Parallel()

	backend := newFakeBackend()
	backend.serve("alpha", newEchoServer("alpha"))
	hub := newTestHub(t, backend, func(doc *mcpsettings.Document) {
		require.NoError(t, doc.Set("alpha", &mcpsettings.ServerConfig{Command: "run-alpha"}))
	})
	reconcileNow(t, hub)

	assert.Equal(t, StatusConnected, hub.ProbeServer(context.Background(), "alpha"))
	assert.Equal(t, StatusDisconnected, hub.ProbeServer(context.Background(), "ghost"))

	backend.closeServerSessions("alpha")
	waitForSnapshot(t, hub, func(snap Snapshot) bool {
		state, ok := serverStateByName(snap, "alpha")
		return ok && state.Status == StatusDisconnected
	})
	assert.Equal(t, StatusDisconnected, hub.ProbeServer(context.Background(), "alpha"))
}

func TestIsMethodUnavailable(t *testing.T) {
	t.Parallel()

	assert.False(t, isMethodUnavailable(nil))
	assert.False(t, isMethodUnavailable(assert.AnError))
	for _, msg := range []string{
		"jsonrpc2: method not found",
		"resources not implemented",
		"server does not support tools",
		"Unsupported capability",
	} {
		assert.True(t, isMethodUnavailable(errors.New(msg)), "expected %q to read as unavailable", msg)
	}
}
