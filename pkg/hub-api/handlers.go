package hubapi

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/caphub/mcp-hub-go/pkg/mcphub"
	"github.com/caphub/mcp-hub-go/pkg/mcpsettings"
)

type serversHandler struct {
	hub     *mcphub.Hub
	logger  *slog.Logger
	metrics *hubMetrics
}

func newServersHandler(hub *mcphub.Hub, logger *slog.Logger, metrics *hubMetrics) *serversHandler {
	return &serversHandler{hub: hub, logger: logger, metrics: metrics}
}

type serversPayload struct {
	Servers mcphub.Snapshot `json:"servers"`
}

type addServerRequest struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

type toggleRequest struct {
	Disabled bool `json:"disabled"`
}

type timeoutRequest struct {
	TimeoutSeconds int `json:"timeoutSeconds"`
}

type autoApproveRequest struct {
	Tools       []string `json:"tools"`
	AutoApprove bool     `json:"autoApprove"`
}

func (h *serversHandler) List(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, serversPayload{Servers: h.hub.ListServers()}, http.StatusOK)
}

func (h *serversHandler) Add(w http.ResponseWriter, r *http.Request) {
	var req addServerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if err := h.hub.AddRemoteServer(r.Context(), req.Name, req.URL); err != nil {
		h.writeError(w, err, http.StatusBadRequest)
		return
	}
	respondJSON(w, serversPayload{Servers: h.hub.ListServers()}, http.StatusCreated)
}

func (h *serversHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.hub.DeleteServer(r.Context(), chi.URLParam(r, "name")); err != nil {
		h.writeError(w, err, http.StatusBadRequest)
		return
	}
	respondJSON(w, serversPayload{Servers: h.hub.ListServers()}, http.StatusOK)
}

func (h *serversHandler) Toggle(w http.ResponseWriter, r *http.Request) {
	var req toggleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if err := h.hub.ToggleServerDisabled(r.Context(), chi.URLParam(r, "name"), req.Disabled); err != nil {
		h.writeError(w, err, http.StatusBadRequest)
		return
	}
	respondJSON(w, serversPayload{Servers: h.hub.ListServers()}, http.StatusOK)
}

func (h *serversHandler) Timeout(w http.ResponseWriter, r *http.Request) {
	var req timeoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if err := h.hub.UpdateServerTimeout(r.Context(), chi.URLParam(r, "name"), req.TimeoutSeconds); err != nil {
		h.writeError(w, err, http.StatusBadRequest)
		return
	}
	respondJSON(w, serversPayload{Servers: h.hub.ListServers()}, http.StatusOK)
}

func (h *serversHandler) AutoApprove(w http.ResponseWriter, r *http.Request) {
	var req autoApproveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if err := h.hub.ToggleToolAutoApprove(r.Context(), chi.URLParam(r, "name"), req.Tools, req.AutoApprove); err != nil {
		h.writeError(w, err, http.StatusBadRequest)
		return
	}
	respondJSON(w, serversPayload{Servers: h.hub.ListServers()}, http.StatusOK)
}

func (h *serversHandler) Restart(w http.ResponseWriter, r *http.Request) {
	if err := h.hub.RestartServer(r.Context(), chi.URLParam(r, "name")); err != nil {
		h.writeError(w, err, http.StatusBadGateway)
		return
	}
	respondJSON(w, serversPayload{Servers: h.hub.ListServers()}, http.StatusOK)
}

// CallTool forwards a JSON-object body as the tool arguments. An empty body
// means no arguments. Tool-level failures still produce 200 with IsError set
// in the result; only transport and hub errors map to error statuses.
func (h *serversHandler) CallTool(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	tool := chi.URLParam(r, "tool")

	body, err := io.ReadAll(r.Body)
	if err != nil {
		respondError(w, "failed to read request body", http.StatusBadRequest)
		return
	}
	var args map[string]any
	if len(bytes.TrimSpace(body)) > 0 {
		if err := json.Unmarshal(body, &args); err != nil {
			respondError(w, "arguments must be a JSON object", http.StatusBadRequest)
			return
		}
	}

	start := time.Now()
	result, err := h.hub.CallTool(r.Context(), name, tool, args)
	h.metrics.observeToolCall(name, err, time.Since(start))
	if err != nil {
		h.writeError(w, err, http.StatusBadGateway)
		return
	}
	respondJSON(w, result, http.StatusOK)
}

func (h *serversHandler) ReadResource(w http.ResponseWriter, r *http.Request) {
	uri := r.URL.Query().Get("uri")
	if uri == "" {
		respondError(w, "uri query parameter is required", http.StatusBadRequest)
		return
	}
	result, err := h.hub.ReadResource(r.Context(), chi.URLParam(r, "name"), uri)
	if err != nil {
		h.writeError(w, err, http.StatusBadGateway)
		return
	}
	respondJSON(w, result, http.StatusOK)
}

// writeError maps hub and settings errors onto statuses. fallback covers
// untyped errors and differs by call site: mutations report 400, proxied
// calls report 502.
func (h *serversHandler) writeError(w http.ResponseWriter, err error, fallback int) {
	var (
		unknown  *mcphub.UnknownServerError
		disabled *mcphub.ServerDisabledError
		notConn  *mcphub.NotConnectedError
		invalid  *mcpsettings.ValidationError
	)
	status := fallback
	switch {
	case errors.As(err, &unknown):
		status = http.StatusNotFound
	case errors.As(err, &disabled):
		status = http.StatusConflict
	case mcphub.IsTimeout(err):
		status = http.StatusGatewayTimeout
	case errors.As(err, &notConn):
		status = http.StatusBadGateway
	case errors.As(err, &invalid):
		status = http.StatusBadRequest
	}
	if status >= http.StatusInternalServerError {
		h.logger.Warn("request failed", "status", status, "error", err)
	}
	respondError(w, err.Error(), status)
}

func respondJSON(w http.ResponseWriter, data any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("json encode error", "error", err)
	}
}

func respondError(w http.ResponseWriter, message string, status int) {
	respondJSON(w, map[string]string{"error": message}, status)
}
