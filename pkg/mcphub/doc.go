// Package mcphub keeps a set of Model Context Protocol (MCP) server
// connections converged on a declarative settings document. It layers
// connection lifecycle tracking, structural-diff reconciliation, and ordered
// state fan-out on top of the modelcontextprotocol/go-sdk client so callers
// can focus on invoking tools and reading resources instead of rebuilding
// connection plumbing.
//
// # Core entry points
//
//   - Hub is the long-lived orchestration type. Construct it with NewHub
//     around an mcpsettings.Store, then either call Run to load the settings,
//     connect everything, and follow file changes until the context ends, or
//     drive Reconcile directly with documents of your own.
//   - Options toggles client identifiers, list and call timeouts, the restart
//     delay, and JSON-RPC wire logging.
//   - Subscribe returns a Subscription whose channel carries an ordered
//     Snapshot after every state change; Snapshot serves the same view on
//     demand.
//
// Once servers are connected, CallTool and ReadResource proxy requests to
// the named server under its configured timeout, and ListServers reports
// every server's status, recorded errors, and fetched capabilities in
// settings order. The mutators (ToggleServerDisabled, ToggleToolAutoApprove,
// UpdateServerTimeout, AddRemoteServer, DeleteServer) write through the
// settings store first and then reconcile, so the file on disk is always the
// source of truth and external edits merge with API edits instead of racing
// them.
//
// Process servers launched from a local build are additionally watched
// through their first .js argument: when the artifact is rewritten the hub
// restarts the server automatically. RestartServer does the same on demand.
package mcphub
