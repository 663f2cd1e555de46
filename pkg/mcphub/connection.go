package mcphub

import (
	"strings"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/caphub/mcp-hub-go/pkg/mcpsettings"
)

// ConnectionStatus describes where a server is in its lifecycle. Within one
// record the only legal sequence is connecting followed by connected or
// disconnected; a disconnected record never becomes connected again, it is
// replaced by a fresh one on reconnect.
type ConnectionStatus string

const (
	StatusConnecting   ConnectionStatus = "connecting"
	StatusConnected    ConnectionStatus = "connected"
	StatusDisconnected ConnectionStatus = "disconnected"
)

// ToolInfo is the published projection of one server tool. AutoApprove is
// derived from the owning server's auto-approve set at fetch time and is
// recomputed whenever that set changes.
type ToolInfo struct {
	Name        string             `json:"name"`
	Description string             `json:"description,omitempty"`
	InputSchema *jsonschema.Schema `json:"inputSchema,omitempty"`
	AutoApprove bool               `json:"autoApprove"`
}

// ResourceInfo is the published projection of one server resource.
type ResourceInfo struct {
	URI         string `json:"uri"`
	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`
	MIMEType    string `json:"mimeType,omitempty"`
}

// ResourceTemplateInfo is the published projection of one resource template.
type ResourceTemplateInfo struct {
	URITemplate string `json:"uriTemplate"`
	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`
}

// ServerState is one entry of a published snapshot.
type ServerState struct {
	Name              string                 `json:"name"`
	Status            ConnectionStatus       `json:"status"`
	Disabled          bool                   `json:"disabled"`
	Error             string                 `json:"error,omitempty"`
	TimeoutSeconds    int                    `json:"timeoutSeconds,omitempty"`
	Tools             []ToolInfo             `json:"tools"`
	Resources         []ResourceInfo         `json:"resources"`
	ResourceTemplates []ResourceTemplateInfo `json:"resourceTemplates"`
}

// Snapshot is the full server set in settings-document order.
type Snapshot []ServerState

// connState is the live record for one managed server. Guarded by Hub.mu.
// Every reconnect replaces the record wholesale, so async completions carry
// the record pointer and compare it against the live map before mutating.
type connState struct {
	name   string
	config *mcpsettings.ServerConfig
	status ConnectionStatus
	errLog []string

	client  *mcp.Client
	session *mcp.ClientSession
	stderr  *stderrTap

	tools     []ToolInfo
	resources []ResourceInfo
	templates []ResourceTemplateInfo
}

func (st *connState) appendError(msg string) {
	if msg == "" {
		return
	}
	st.errLog = append(st.errLog, msg)
}

func (st *connState) view() ServerState {
	state := ServerState{
		Name:              st.name,
		Status:            st.status,
		Disabled:          st.config.Disabled,
		Error:             strings.Join(st.errLog, "\n"),
		TimeoutSeconds:    st.config.TimeoutSeconds,
		Tools:             make([]ToolInfo, len(st.tools)),
		Resources:         make([]ResourceInfo, len(st.resources)),
		ResourceTemplates: make([]ResourceTemplateInfo, len(st.templates)),
	}
	copy(state.Tools, st.tools)
	copy(state.Resources, st.resources)
	copy(state.ResourceTemplates, st.templates)
	return state
}

func projectTools(tools []*mcp.Tool, cfg *mcpsettings.ServerConfig) []ToolInfo {
	infos := make([]ToolInfo, 0, len(tools))
	for _, tool := range tools {
		if tool == nil {
			continue
		}
		infos = append(infos, ToolInfo{
			Name:        tool.Name,
			Description: tool.Description,
			InputSchema: tool.InputSchema,
			AutoApprove: cfg.AutoApproves(tool.Name),
		})
	}
	return infos
}

func projectResources(resources []*mcp.Resource) []ResourceInfo {
	infos := make([]ResourceInfo, 0, len(resources))
	for _, res := range resources {
		if res == nil {
			continue
		}
		infos = append(infos, ResourceInfo{
			URI:         res.URI,
			Name:        res.Name,
			Description: res.Description,
			MIMEType:    res.MIMEType,
		})
	}
	return infos
}

func projectResourceTemplates(templates []*mcp.ResourceTemplate) []ResourceTemplateInfo {
	infos := make([]ResourceTemplateInfo, 0, len(templates))
	for _, tpl := range templates {
		if tpl == nil {
			continue
		}
		infos = append(infos, ResourceTemplateInfo{
			URITemplate: tpl.URITemplate,
			Name:        tpl.Name,
			Description: tpl.Description,
		})
	}
	return infos
}
