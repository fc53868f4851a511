package admin

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/txn2/room-engine/pkg/activity"
	"github.com/txn2/room-engine/pkg/config"
	"github.com/txn2/room-engine/pkg/transport"
)

// statusResponse is returned by GET /api/v1/status.
type statusResponse struct {
	Connected    bool             `json:"connected"`
	State        string           `json:"state"`
	Rooms        []string         `json:"rooms"`
	SessionCount int              `json:"sessionCount"`
	PluginCount  int              `json:"pluginCount"`
	StoreHealthy bool             `json:"storeHealthy"`
	StoreError   string           `json:"storeError,omitempty"`
	RecentLogs   []activity.Entry `json:"recentLogs"`
}

// connectRequest is the body of POST /api/v1/connect. Rooms may be a comma
// separated string or a list.
type connectRequest struct {
	Username string          `json:"username"`
	Password string          `json:"password"`
	Rooms    json.RawMessage `json:"rooms"`
}

func (h *Handler) getStatus(w http.ResponseWriter, _ *http.Request) {
	resp := statusResponse{
		State:      transport.Disconnected.String(),
		Rooms:      []string{},
		RecentLogs: []activity.Entry{},
	}
	if c := h.deps.Connector; c != nil {
		resp.Connected = c.Connected()
		resp.State = c.State().String()
		if rooms := c.Rooms(); rooms != nil {
			resp.Rooms = rooms
		}
	}
	if h.deps.Sessions != nil {
		resp.SessionCount = h.deps.Sessions.Len()
	}
	if h.deps.Plugins != nil {
		resp.PluginCount = h.deps.Plugins.Len()
	}

	store := h.deps.Health.Store()
	resp.StoreHealthy = store.Healthy
	if !store.Healthy {
		resp.StoreError = store.Op + ": " + store.Error
	}

	if h.deps.Activity != nil {
		resp.RecentLogs = h.deps.Activity.Recent()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) connect(w http.ResponseWriter, r *http.Request) {
	if h.deps.Connector == nil {
		writeError(w, http.StatusServiceUnavailable, "transport not available")
		return
	}

	var req connectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	rooms, err := parseRooms(req.Rooms)
	if err != nil {
		writeError(w, http.StatusBadRequest, "rooms must be a string or a list of strings")
		return
	}
	req.Username = strings.TrimSpace(req.Username)
	if req.Username == "" || len(rooms) == 0 {
		writeError(w, http.StatusBadRequest, "username and rooms are required")
		return
	}

	creds := transport.Credentials{Username: req.Username, Password: req.Password, Rooms: rooms}
	if err := h.deps.Connector.Connect(r.Context(), creds); err != nil {
		slog.Error("connect failed", "error", err)
		writeError(w, http.StatusInternalServerError, "connect failed")
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{"status": "connecting", "rooms": rooms})
}

func (h *Handler) disconnect(w http.ResponseWriter, _ *http.Request) {
	if h.deps.Connector == nil {
		writeError(w, http.StatusServiceUnavailable, "transport not available")
		return
	}
	h.deps.Connector.Disconnect()
	writeJSON(w, http.StatusOK, map[string]string{"status": "disconnected"})
}

func parseRooms(raw json.RawMessage) ([]string, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return config.SplitRooms(s), nil
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil, err
	}
	return config.SplitRooms(strings.Join(list, ",")), nil
}
