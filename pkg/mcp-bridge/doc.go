// Package mcpbridge re-serves a hub's fleet as one MCP server. It follows
// the hub's snapshot feed, registers every connected server's tools,
// resources, and resource templates under namespaced identifiers, and routes
// incoming calls back through the hub so per-server timeouts and typed
// errors apply unchanged. Connected clients see list_changed notifications
// as servers come and go.
package mcpbridge
