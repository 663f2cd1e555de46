package mcphub

import (
	"log/slog"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/caphub/mcp-hub-go/pkg/mcpsettings"
)

// TransportFactory builds the transport for one server. Production code
// leaves it nil and gets the process/network transports derived from the
// config; tests inject in-memory transports here.
type TransportFactory func(name string, cfg *mcpsettings.ServerConfig) (mcp.Transport, error)

// Options tune a Hub. The zero value is usable.
type Options struct {
	// Logger receives hub diagnostics. Defaults to slog.Default().
	Logger *slog.Logger

	// ClientName and ClientVersion form the identity presented to every
	// server during the handshake.
	ClientName    string
	ClientVersion string

	// ListTimeout bounds the best-effort capability-list fetches.
	ListTimeout time.Duration

	// DefaultCallTimeout bounds caller-facing calls when a server config
	// carries no usable timeout of its own.
	DefaultCallTimeout time.Duration

	// RestartDelay is the pause between publishing the connecting state and
	// tearing a server down during a restart, giving observers a visible
	// transition and a just-rebuilt artifact time to settle.
	RestartDelay time.Duration

	// ArtifactDebounce is the quiet period after a build-artifact file event
	// before the hot-reload restart fires.
	ArtifactDebounce time.Duration

	// LogJSONRPC wraps every transport so the raw JSON-RPC traffic is
	// emitted at debug level.
	LogJSONRPC bool

	// TransportFactory overrides transport construction.
	TransportFactory TransportFactory
}

func (o Options) normalized() Options {
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.ClientName == "" {
		o.ClientName = "mcp-hub"
	}
	if o.ClientVersion == "" {
		o.ClientVersion = "1.0.0"
	}
	if o.ListTimeout <= 0 {
		o.ListTimeout = 30 * time.Second
	}
	if o.DefaultCallTimeout <= 0 {
		o.DefaultCallTimeout = time.Duration(mcpsettings.DefaultTimeoutSeconds) * time.Second
	}
	if o.RestartDelay == 0 {
		o.RestartDelay = 500 * time.Millisecond
	}
	if o.ArtifactDebounce <= 0 {
		o.ArtifactDebounce = 300 * time.Millisecond
	}
	return o
}
