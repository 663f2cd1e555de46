package mcpbridge

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNamespaceToolName(t *testing.T) {
	t.Parallel()

	var ns Namespace
	require.Equal(t, "alpha__echo", ns.ToolName("alpha", "echo"))

	custom := Namespace{Separator: "."}
	require.Equal(t, "alpha.echo", custom.ToolName("alpha", "echo"))
}

func TestNamespaceResourceRoundTrip(t *testing.T) {
	t.Parallel()

	var ns Namespace
	bridged := ns.ResourceURI("alpha", "file:///notes.txt")
	require.Equal(t, "mcphub+alpha/resources::file:///notes.txt", bridged)

	native, ok := ns.NativeResourceURI("alpha", bridged)
	require.True(t, ok)
	require.Equal(t, "file:///notes.txt", native)

	// A URI bridged for one server never decodes for another.
	_, ok = ns.NativeResourceURI("beta", bridged)
	require.False(t, ok)

	// Unbridged URIs do not decode at all.
	_, ok = ns.NativeResourceURI("alpha", "file:///notes.txt")
	require.False(t, ok)

	// Template URIs live in a separate category.
	_, ok = ns.NativeTemplateURI("alpha", bridged)
	require.False(t, ok)
}

func TestNamespaceTemplateExpansion(t *testing.T) {
	t.Parallel()

	var ns Namespace
	bridged := ns.TemplateURI("alpha", "file:///logs/{date}")
	require.Equal(t, "mcphub+alpha/templates::file:///logs/{date}", bridged)

	// Expanding the bridged template keeps the prefix, so the expanded URI
	// still decodes to the expanded native form.
	native, ok := ns.NativeTemplateURI("alpha", "mcphub+alpha/templates::file:///logs/2024-01-01")
	require.True(t, ok)
	require.Equal(t, "file:///logs/2024-01-01", native)
}

func TestNamespaceEscapesServerNames(t *testing.T) {
	t.Parallel()

	var ns Namespace
	bridged := ns.ResourceURI("my server", "file:///a.txt")
	require.Equal(t, "mcphub+my%20server/resources::file:///a.txt", bridged)

	native, ok := ns.NativeResourceURI("my server", bridged)
	require.True(t, ok)
	require.Equal(t, "file:///a.txt", native)
}
