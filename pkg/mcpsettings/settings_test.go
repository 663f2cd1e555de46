package mcpsettings

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDocumentPreservesKeyOrder(t *testing.T) {
	t.Parallel()

	input := `{
		"servers": {
			"charlie": {"command": "run-charlie"},
			"alpha": {"url": "https://alpha.example/mcp"},
			"bravo": {"command": "run-bravo", "args": ["--fast"]}
		}
	}`
	var doc Document
	require.NoError(t, json.Unmarshal([]byte(input), &doc))
	assert.Equal(t, []string{"charlie", "alpha", "bravo"}, doc.Names())

	out, err := json.Marshal(&doc)
	require.NoError(t, err)
	text := string(out)
	assert.Less(t, strings.Index(text, `"charlie"`), strings.Index(text, `"alpha"`))
	assert.Less(t, strings.Index(text, `"alpha"`), strings.Index(text, `"bravo"`))
}

func TestDocumentSetAppendsDeleteSplices(t *testing.T) {
	t.Parallel()

	doc := NewDocument()
	require.NoError(t, doc.Set("one", &ServerConfig{Command: "a"}))
	require.NoError(t, doc.Set("two", &ServerConfig{Command: "b"}))
	require.NoError(t, doc.Set("three", &ServerConfig{Command: "c"}))

	// Updating an existing entry keeps its position.
	require.NoError(t, doc.Set("one", &ServerConfig{Command: "a", TimeoutSeconds: 5}))
	assert.Equal(t, []string{"one", "two", "three"}, doc.Names())

	assert.True(t, doc.Delete("two"))
	assert.False(t, doc.Delete("two"))
	assert.Equal(t, []string{"one", "three"}, doc.Names())

	cfg, ok := doc.Get("one")
	require.True(t, ok)
	assert.Equal(t, 5, cfg.TimeoutSeconds)
}

func TestDocumentRoundTripKeepsUnknownEntryFields(t *testing.T) {
	t.Parallel()

	input := `{"servers":{"x":{"command":"run","note":"keep me"}}}`
	var doc Document
	require.NoError(t, json.Unmarshal([]byte(input), &doc))
	out, err := json.Marshal(&doc)
	require.NoError(t, err)
	assert.Contains(t, string(out), `"note":"keep me"`)
}

func TestServerConfigKind(t *testing.T) {
	t.Parallel()

	assert.Equal(t, KindProcess, (&ServerConfig{Command: "node"}).Kind())
	assert.Equal(t, KindNetwork, (&ServerConfig{URL: "https://example.test/sse"}).Kind())
}

func TestServerConfigTimeoutClamping(t *testing.T) {
	t.Parallel()

	assert.Equal(t, time.Duration(DefaultTimeoutSeconds)*time.Second, (&ServerConfig{Command: "x"}).Timeout())
	assert.Equal(t, time.Duration(MinTimeoutSeconds)*time.Second, (&ServerConfig{Command: "x", TimeoutSeconds: -4}).Timeout())
	assert.Equal(t, 30*time.Second, (&ServerConfig{Command: "x", TimeoutSeconds: 30}).Timeout())
}

func TestServerConfigStructuralEqual(t *testing.T) {
	t.Parallel()

	base := func() *ServerConfig {
		return &ServerConfig{
			Command:        "node",
			Args:           []string{"build/index.js"},
			Env:            map[string]string{"TOKEN": "t"},
			TimeoutSeconds: 30,
			AutoApprove:    []string{"search"},
		}
	}

	assert.True(t, base().StructuralEqual(base()))

	mutations := map[string]func(*ServerConfig){
		"command": func(c *ServerConfig) { c.Command = "deno" },
		"args":    func(c *ServerConfig) { c.Args = []string{"dist/index.js"} },
		"env":     func(c *ServerConfig) { c.Env["TOKEN"] = "other" },
		"timeout": func(c *ServerConfig) { c.TimeoutSeconds = 31 },
		"disabled": func(c *ServerConfig) {
			c.Disabled = true
		},
	}
	for field, mutate := range mutations {
		changed := base()
		mutate(changed)
		assert.False(t, base().StructuralEqual(changed), "field %s should be structural", field)
	}

	// Auto-approve changes never force a reconnect.
	relabeled := base()
	relabeled.AutoApprove = []string{"search", "fetch"}
	assert.True(t, base().StructuralEqual(relabeled))

	network := &ServerConfig{URL: "https://a.test/mcp"}
	assert.False(t, network.StructuralEqual(&ServerConfig{URL: "https://b.test/mcp"}))
	assert.True(t, network.StructuralEqual(&ServerConfig{URL: "https://a.test/mcp"}))
}

func TestServerConfigClone(t *testing.T) {
	t.Parallel()

	orig := &ServerConfig{Command: "node", Args: []string{"a"}, Env: map[string]string{"K": "v"}}
	dup := orig.Clone()
	dup.Args[0] = "b"
	dup.Env["K"] = "w"
	assert.Equal(t, "a", orig.Args[0])
	assert.Equal(t, "v", orig.Env["K"])
}

func TestParseDocumentValid(t *testing.T) {
	t.Parallel()

	doc, err := ParseDocument([]byte(`{
		"servers": {
			"local": {"command": "node", "args": ["build/index.js"], "env": {"A": "1"}, "timeoutSeconds": 15},
			"remote": {"url": "https://remote.example/mcp", "disabled": true, "autoApprove": ["ping"]}
		}
	}`), "test")
	require.NoError(t, err)
	require.Equal(t, 2, doc.Len())

	local, ok := doc.Get("local")
	require.True(t, ok)
	assert.Equal(t, KindProcess, local.Kind())
	assert.Equal(t, 15*time.Second, local.Timeout())

	remote, ok := doc.Get("remote")
	require.True(t, ok)
	assert.Equal(t, KindNetwork, remote.Kind())
	assert.True(t, remote.Disabled)
	assert.True(t, remote.AutoApproves("ping"))
	assert.False(t, remote.AutoApproves("other"))
}

func TestParseDocumentRejections(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"not json":             `{"servers"`,
		"missing servers":      `{}`,
		"servers not object":   `{"servers": []}`,
		"entry not object":     `{"servers": {"x": 5}}`,
		"no transport payload": `{"servers": {"x": {"disabled": true}}}`,
		"both payloads":        `{"servers": {"x": {"command": "node", "url": "https://x.test"}}}`,
		"args with url":        `{"servers": {"x": {"url": "https://x.test", "args": ["a"]}}}`,
		"timeout wrong type":   `{"servers": {"x": {"command": "node", "timeoutSeconds": "30"}}}`,
		"args wrong type":      `{"servers": {"x": {"command": "node", "args": "build/index.js"}}}`,
	}
	for name, input := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			_, err := ParseDocument([]byte(input), "test")
			require.Error(t, err)
			var verr *ValidationError
			assert.True(t, errors.As(err, &verr), "want ValidationError, got %T", err)
		})
	}
}
