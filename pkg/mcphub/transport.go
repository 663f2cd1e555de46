package mcphub

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"os/exec"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/jsonrpc"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/caphub/mcp-hub-go/pkg/mcpsettings"
)

// newTransports returns the candidate transports for one server in attempt
// order. Process servers have exactly one candidate; network servers try the
// streamable transport first and fall back to SSE, unless the endpoint path
// already names an SSE stream.
func (h *Hub) newTransports(name string, cfg *mcpsettings.ServerConfig, st *connState) ([]mcp.Transport, error) {
	if h.opts.TransportFactory != nil {
		transport, err := h.opts.TransportFactory(name, cfg)
		if err != nil {
			return nil, err
		}
		return []mcp.Transport{transport}, nil
	}
	switch cfg.Kind() {
	case mcpsettings.KindProcess:
		transport, err := h.buildProcessTransport(name, cfg, st)
		if err != nil {
			return nil, err
		}
		return []mcp.Transport{transport}, nil
	case mcpsettings.KindNetwork:
		return h.buildNetworkTransports(name, cfg)
	default:
		return nil, fmt.Errorf("mcphub: unsupported transport for %q", name)
	}
}

func (h *Hub) buildProcessTransport(name string, cfg *mcpsettings.ServerConfig, st *connState) (mcp.Transport, error) {
	if cfg.Command == "" {
		return nil, fmt.Errorf("mcphub: command missing for %q", name)
	}
	cmd := exec.Command(cfg.Command, cfg.Args...)
	cmd.Env = mergedEnv(cfg.Env)
	// The tap is attached before the SDK starts the process, so stderr
	// emitted ahead of the handshake is never lost.
	tap := &stderrTap{hub: h, state: st}
	st.stderr = tap
	cmd.Stderr = tap
	return &mcp.CommandTransport{Command: cmd}, nil
}

func (h *Hub) buildNetworkTransports(name string, cfg *mcpsettings.ServerConfig) ([]mcp.Transport, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("mcphub: url missing for %q", name)
	}
	sse := &mcp.SSEClientTransport{Endpoint: cfg.URL}
	if preferSSE(cfg.URL) {
		return []mcp.Transport{sse}, nil
	}
	streamable := &mcp.StreamableClientTransport{Endpoint: cfg.URL}
	return []mcp.Transport{streamable, sse}, nil
}

// preferSSE reports whether the endpoint self-identifies as an SSE stream,
// in which case the streamable attempt is skipped.
func preferSSE(endpoint string) bool {
	u, err := url.Parse(endpoint)
	if err != nil {
		return false
	}
	path := strings.TrimSuffix(strings.ToLower(u.Path), "/")
	return strings.HasSuffix(path, "/sse") || path == "sse"
}

// mergedEnv layers a server's declared environment over the host
// environment. PATH always reaches the child this way; declared entries are
// appended last so they win over inherited duplicates.
func mergedEnv(extra map[string]string) []string {
	env := os.Environ()
	for k, v := range extra {
		env = append(env, fmt.Sprintf("%s=%s", k, v))
	}
	return env
}

func (h *Hub) wrapTransport(name string, transport mcp.Transport) mcp.Transport {
	if !h.opts.LogJSONRPC {
		return transport
	}
	return &loggingTransport{server: name, delegate: transport, logger: h.opts.Logger}
}

// loggingTransport mirrors every JSON-RPC message crossing a connection at
// debug level.
type loggingTransport struct {
	server   string
	delegate mcp.Transport
	logger   *slog.Logger
}

func (t *loggingTransport) Connect(ctx context.Context) (mcp.Connection, error) {
	conn, err := t.delegate.Connect(ctx)
	if err != nil {
		return nil, err
	}
	return &loggingConnection{server: t.server, delegate: conn, logger: t.logger}, nil
}

type loggingConnection struct {
	server   string
	delegate mcp.Connection
	logger   *slog.Logger
}

func (c *loggingConnection) SessionID() string { return c.delegate.SessionID() }

func (c *loggingConnection) Read(ctx context.Context) (jsonrpc.Message, error) {
	msg, err := c.delegate.Read(ctx)
	if err == nil {
		c.emit("recv", msg)
	}
	return msg, err
}

func (c *loggingConnection) Write(ctx context.Context, msg jsonrpc.Message) error {
	if err := c.delegate.Write(ctx, msg); err != nil {
		return err
	}
	c.emit("send", msg)
	return nil
}

func (c *loggingConnection) Close() error { return c.delegate.Close() }

func (c *loggingConnection) emit(dir string, msg jsonrpc.Message) {
	encoded, err := json.Marshal(msg)
	if err != nil {
		encoded = []byte(err.Error())
	}
	c.logger.Debug("rpc", "server", c.server, "dir", dir, "msg", string(encoded))
}
