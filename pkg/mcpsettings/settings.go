package mcpsettings

import (
	"bytes"
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"time"
)

// TransportKind identifies how the hub reaches a server.
type TransportKind string

const (
	// KindProcess servers are spawned as a child process speaking stdio.
	KindProcess TransportKind = "process"
	// KindNetwork servers are reached over a persistent HTTP session.
	KindNetwork TransportKind = "network"
)

const (
	// DefaultTimeoutSeconds applies when a server declares no timeout.
	DefaultTimeoutSeconds = 60
	// MinTimeoutSeconds is the floor a declared timeout is clamped to.
	MinTimeoutSeconds = 1
	// SettingsFileName is the well-known basename of the settings document.
	SettingsFileName = "mcp_settings.json"
)

// ServerConfig declares one server entry of the settings document. Exactly
// one of Command or URL must be set; the transport kind is derived from which
// one is present and is never serialized.
type ServerConfig struct {
	Command        string            `json:"command,omitempty"`
	Args           []string          `json:"args,omitempty"`
	Env            map[string]string `json:"env,omitempty"`
	URL            string            `json:"url,omitempty"`
	Disabled       bool              `json:"disabled,omitempty"`
	AutoApprove    []string          `json:"autoApprove,omitempty"`
	TimeoutSeconds int               `json:"timeoutSeconds,omitempty"`
}

// Kind reports the transport kind derived from the populated payload.
func (c *ServerConfig) Kind() TransportKind {
	if c.URL != "" {
		return KindNetwork
	}
	return KindProcess
}

// Timeout returns the effective per-call timeout, applying the default when
// unset and clamping to the minimum otherwise.
func (c *ServerConfig) Timeout() time.Duration {
	secs := c.TimeoutSeconds
	if secs == 0 {
		secs = DefaultTimeoutSeconds
	}
	if secs < MinTimeoutSeconds {
		secs = MinTimeoutSeconds
	}
	return time.Duration(secs) * time.Second
}

// AutoApproves reports whether tool is on this server's auto-approve list.
func (c *ServerConfig) AutoApproves(tool string) bool {
	return slices.Contains(c.AutoApprove, tool)
}

// Clone returns a deep copy.
func (c *ServerConfig) Clone() *ServerConfig {
	if c == nil {
		return nil
	}
	dup := *c
	dup.Args = slices.Clone(c.Args)
	dup.Env = maps.Clone(c.Env)
	dup.AutoApprove = slices.Clone(c.AutoApprove)
	return &dup
}

// StructuralEqual reports whether two configs describe the same live
// connection. AutoApprove is deliberately excluded: it only affects the
// derived per-tool flags and never warrants a reconnect.
func (c *ServerConfig) StructuralEqual(other *ServerConfig) bool {
	if c == nil || other == nil {
		return c == other
	}
	return c.Command == other.Command &&
		slices.Equal(c.Args, other.Args) &&
		maps.Equal(c.Env, other.Env) &&
		c.URL == other.URL &&
		c.Disabled == other.Disabled &&
		c.TimeoutSeconds == other.TimeoutSeconds
}

func (c *ServerConfig) validate(name string) error {
	switch {
	case c.Command == "" && c.URL == "":
		return fmt.Errorf("server %q: either command or url is required", name)
	case c.Command != "" && c.URL != "":
		return fmt.Errorf("server %q: command and url are mutually exclusive", name)
	case c.URL != "" && (len(c.Args) > 0 || len(c.Env) > 0):
		return fmt.Errorf("server %q: args and env apply only to command servers", name)
	}
	return nil
}

// Document is the ordered name-to-config mapping backing the settings file.
// Key order is significant: it drives the display and reconciliation order
// downstream, so the document round-trips it through decode and encode and
// keeps it stable across mutations. New names append, deletes splice.
type Document struct {
	names []string
	raw   map[string]json.RawMessage
}

// NewDocument returns an empty document.
func NewDocument() *Document {
	return &Document{raw: make(map[string]json.RawMessage)}
}

// Len returns the number of server entries.
func (d *Document) Len() int { return len(d.names) }

// Names returns the server names in document order.
func (d *Document) Names() []string { return slices.Clone(d.names) }

// Has reports whether name is present.
func (d *Document) Has(name string) bool {
	_, ok := d.raw[name]
	return ok
}

// Raw returns the unparsed JSON for name.
func (d *Document) Raw(name string) (json.RawMessage, bool) {
	raw, ok := d.raw[name]
	return raw, ok
}

// Get parses and returns the config for name.
func (d *Document) Get(name string) (*ServerConfig, bool) {
	raw, ok := d.raw[name]
	if !ok {
		return nil, false
	}
	var cfg ServerConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, false
	}
	return &cfg, true
}

// Set stores cfg under name, appending the name when it is new.
func (d *Document) Set(name string, cfg *ServerConfig) error {
	raw, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("mcpsettings: encode server %q: %w", name, err)
	}
	if d.raw == nil {
		d.raw = make(map[string]json.RawMessage)
	}
	if !d.Has(name) {
		d.names = append(d.names, name)
	}
	d.raw[name] = raw
	return nil
}

// Delete removes name and reports whether it was present.
func (d *Document) Delete(name string) bool {
	if !d.Has(name) {
		return false
	}
	delete(d.raw, name)
	d.names = slices.DeleteFunc(d.names, func(n string) bool { return n == name })
	return true
}

// Validate parses every entry and checks the transport payload rules. Used
// before persisting a mutated document.
func (d *Document) Validate() error {
	for _, name := range d.names {
		cfg, ok := d.Get(name)
		if !ok {
			return fmt.Errorf("server %q: malformed entry", name)
		}
		if err := cfg.validate(name); err != nil {
			return err
		}
	}
	return nil
}

// UnmarshalJSON decodes the document while recording the key order of the
// servers object.
func (d *Document) UnmarshalJSON(data []byte) error {
	d.names = nil
	d.raw = make(map[string]json.RawMessage)

	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("settings document must be a JSON object")
	}
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		key, _ := keyTok.(string)
		if key != "servers" {
			var skip json.RawMessage
			if err := dec.Decode(&skip); err != nil {
				return err
			}
			continue
		}
		openTok, err := dec.Token()
		if err != nil {
			return err
		}
		if delim, ok := openTok.(json.Delim); !ok || delim != '{' {
			return fmt.Errorf("servers must be a JSON object")
		}
		for dec.More() {
			nameTok, err := dec.Token()
			if err != nil {
				return err
			}
			name, _ := nameTok.(string)
			var raw json.RawMessage
			if err := dec.Decode(&raw); err != nil {
				return err
			}
			if _, dup := d.raw[name]; !dup {
				d.names = append(d.names, name)
			}
			d.raw[name] = raw
		}
		if _, err := dec.Token(); err != nil {
			return err
		}
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	return nil
}

// MarshalJSON encodes the document with its recorded key order.
func (d *Document) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(`{"servers":{`)
	for i, name := range d.names {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(name)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		raw := d.raw[name]
		if len(raw) == 0 {
			raw = json.RawMessage("{}")
		}
		buf.Write(raw)
	}
	buf.WriteString("}}")
	return buf.Bytes(), nil
}
