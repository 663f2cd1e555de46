package mcpbridge

import (
	"net/url"
	"strings"
)

// Namespace maps native identifiers into the single flat space the bridge
// serves. Tool names get a server prefix; resource and template URIs get a
// reversible scheme prefix so reads can be routed back to their origin.
type Namespace struct {
	// Separator sits between the server name and the native tool name.
	// Defaults to "__", which stays within the MCP name character guidance.
	Separator string
}

func (n Namespace) separator() string {
	if n.Separator == "" {
		return "__"
	}
	return n.Separator
}

func (n Namespace) ToolName(server, tool string) string {
	return server + n.separator() + tool
}

func (n Namespace) ResourceURI(server, uri string) string {
	return n.encode("resources", server, uri)
}

func (n Namespace) TemplateURI(server, uriTemplate string) string {
	return n.encode("templates", server, uriTemplate)
}

// NativeResourceURI undoes ResourceURI. It fails when the URI was bridged
// for a different server or not bridged at all.
func (n Namespace) NativeResourceURI(server, bridged string) (string, bool) {
	return n.decode("resources", server, bridged)
}

// NativeTemplateURI undoes TemplateURI for both the template itself and any
// URI produced by expanding it, since expansion leaves the prefix intact.
func (n Namespace) NativeTemplateURI(server, bridged string) (string, bool) {
	return n.decode("templates", server, bridged)
}

func (n Namespace) encode(category, server, raw string) string {
	return "mcphub+" + url.PathEscape(server) + "/" + category + "::" + raw
}

func (n Namespace) decode(category, server, bridged string) (string, bool) {
	prefix := "mcphub+" + url.PathEscape(server) + "/" + category + "::"
	native, ok := strings.CutPrefix(bridged, prefix)
	if !ok {
		return "", false
	}
	return native, true
}
