// Package mcpsettings owns the on-disk settings document that declares which
// MCP servers the hub should run. It parses and validates the JSON document,
// preserves the author's key order across rewrites, and exposes a Store for
// loading, mutating, and watching the file so every configuration change
// funnels through a single reconciliation trigger.
package mcpsettings
