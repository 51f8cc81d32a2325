package httpapi

import (
	"crypto/rsa"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"macro-service/internal/engine"
	"macro-service/internal/middleware"
	"macro-service/internal/store"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"gorm.io/datatypes"
)

// EventSink receives device-side events pushed through the API. The
// scheduler implements it.
type EventSink interface {
	HandleNetworkEvent(transition string)
	HandleClipboardEvent()
}

type Server struct {
	repo   *store.Repo
	engine *engine.Engine
	events EventSink
	pubKey *rsa.PublicKey
}

func New(repo *store.Repo, eng *engine.Engine, events EventSink, pubKey *rsa.PublicKey) *Server {
	return &Server{repo: repo, engine: eng, events: events, pubKey: pubKey}
}

func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)

	// NOTE: WebSocket routes are authenticated at the API gateway.
	// The gateway's WS reverse proxy does not forward Authorization/Cookies
	// to upstream, so this handler must NOT require JWT.
	r.Get("/api/macros/runs/{run_id}/ws", s.handleRunEventsWS)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
	})

	r.Route("/api/macros", func(r chi.Router) {
		if s.pubKey == nil {
			r.Use(func(next http.Handler) http.Handler {
				return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
					writeError(w, http.StatusInternalServerError, "jwt public key not configured")
				})
			})
			return
		}
		r.Use(middleware.JWTAuthMiddlewareRS256(s.pubKey))
		r.Use(middleware.RoleAtLeastMiddleware("user"))

		r.Get("/", s.handleListMacros)
		r.Post("/", s.handleCreateMacro)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", s.handleGetMacro)
			r.Put("/", s.handleUpdateMacro)
			r.Post("/enable", s.handleSetEnabled(true))
			r.Post("/disable", s.handleSetEnabled(false))
			r.Post("/run", s.handleRunMacro)
			r.Get("/logs", s.handleListLogs)
			// delete restricted to admin
			r.With(middleware.RoleAtLeastMiddleware("admin")).Delete("/", s.handleDeleteMacro)
		})
		r.Get("/runs/{run_id}", s.handleGetRun)

		r.Get("/variables", s.handleListVariables)
		r.Put("/variables", s.handleUpsertVariable)
		r.Delete("/variables/{scope}/{name}", s.handleDeleteVariable)

		// Device events pushed by the agent or gateway.
		r.With(middleware.RoleAtLeastMiddleware("service")).Post("/events/network", s.handleNetworkEvent)
		r.With(middleware.RoleAtLeastMiddleware("service")).Post("/events/clipboard", s.handleClipboardEvent)
	})

	return r
}

func (s *Server) handleRunEventsWS(w http.ResponseWriter, r *http.Request) {
	runID, err := uuid.Parse(chi.URLParam(r, "run_id"))
	if err != nil {
		http.Error(w, "invalid run id", http.StatusBadRequest)
		return
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true },
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	// Subscribe to run events (includes a small replay buffer).
	ch, cancel := s.engine.SubscribeRunEvents(runID)
	defer cancel()

	// Read pump just to detect disconnects.
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = conn.SetReadDeadline(time.Time{})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	// Periodic ping to keep intermediaries alive.
	ticker := time.NewTicker(25 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-done:
			return
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(2 * time.Second))
			if err := conn.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(2*time.Second)); err != nil {
				return
			}
		case evt, ok := <-ch:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := conn.WriteJSON(evt); err != nil {
				slog.Debug("ws write failed", "error", err)
				return
			}
		}
	}
}

type triggerPayload struct {
	Type    string          `json:"type"`
	Config  json.RawMessage `json:"config"`
	Enabled *bool           `json:"enabled,omitempty"`
}

type actionPayload struct {
	Type   string          `json:"type"`
	Config json.RawMessage `json:"config"`
}

type conditionPayload struct {
	Field         string `json:"field"`
	Operator      string `json:"operator"`
	Value         string `json:"value"`
	LogicOperator string `json:"logic_operator,omitempty"`
}

type macroPayload struct {
	Name        string             `json:"name"`
	Description string             `json:"description,omitempty"`
	Icon        string             `json:"icon,omitempty"`
	Enabled     *bool              `json:"enabled,omitempty"`
	Triggers    []triggerPayload   `json:"triggers"`
	Actions     []actionPayload    `json:"actions"`
	Conditions  []conditionPayload `json:"conditions,omitempty"`
}

// validateParts checks every trigger, action and condition config so that bad
// shapes are rejected at save time, not mid-run.
func validateParts(p macroPayload) ([]store.Trigger, []store.Action, []store.Condition, error) {
	triggers := make([]store.Trigger, 0, len(p.Triggers))
	for _, t := range p.Triggers {
		cfg := t.Config
		if len(cfg) == 0 {
			cfg = json.RawMessage("{}")
		}
		if err := engine.ValidateTriggerConfig(t.Type, cfg); err != nil {
			return nil, nil, nil, err
		}
		enabled := true
		if t.Enabled != nil {
			enabled = *t.Enabled
		}
		triggers = append(triggers, store.Trigger{Type: strings.ToLower(strings.TrimSpace(t.Type)), Config: datatypes.JSON(cfg), Enabled: enabled})
	}

	actions := make([]store.Action, 0, len(p.Actions))
	for i, a := range p.Actions {
		if err := engine.ValidateActionConfig(engine.ActionType(a.Type), a.Config); err != nil {
			return nil, nil, nil, err
		}
		actions = append(actions, store.Action{Type: a.Type, Config: datatypes.JSON(a.Config), OrderIndex: i})
	}

	conditions := make([]store.Condition, 0, len(p.Conditions))
	for _, c := range p.Conditions {
		if strings.TrimSpace(c.Field) == "" {
			return nil, nil, nil, errors.New("condition field is required")
		}
		switch c.LogicOperator {
		case "", "AND", "OR":
		default:
			return nil, nil, nil, errors.New("condition logic_operator must be AND or OR")
		}
		conditions = append(conditions, store.Condition{Field: c.Field, Operator: c.Operator, Value: c.Value, LogicOperator: c.LogicOperator})
	}
	return triggers, actions, conditions, nil
}

func (s *Server) handleListMacros(w http.ResponseWriter, r *http.Request) {
	rows, err := s.repo.ListMacros(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list macros")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"macros": rows})
}

func (s *Server) handleGetMacro(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid macro id")
		return
	}
	m, err := s.repo.GetMacro(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load macro")
		return
	}
	if m == nil {
		writeError(w, http.StatusNotFound, "macro not found")
		return
	}
	triggers, err := s.repo.ListTriggersByMacro(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load triggers")
		return
	}
	actions, err := s.repo.ListActionsByMacro(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load actions")
		return
	}
	conditions, err := s.repo.ListConditionsByMacro(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load conditions")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"macro": m, "triggers": triggers, "actions": actions, "conditions": conditions})
}

func (s *Server) handleCreateMacro(w http.ResponseWriter, r *http.Request) {
	var p macroPayload
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if err := engine.ValidateMacroName(p.Name); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(p.Actions) == 0 {
		writeError(w, http.StatusBadRequest, "at least one action is required")
		return
	}
	triggers, actions, conditions, err := validateParts(p)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	m := &store.Macro{Name: strings.TrimSpace(p.Name), Description: p.Description, Icon: p.Icon, Enabled: false}
	if err := s.repo.CreateMacro(r.Context(), m); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create macro")
		return
	}
	if err := s.repo.ReplaceMacroParts(r.Context(), m.ID, triggers, actions, conditions); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to save macro parts")
		return
	}
	writeJSON(w, http.StatusCreated, m)
}

func (s *Server) handleUpdateMacro(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid macro id")
		return
	}
	m, err := s.repo.GetMacro(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load macro")
		return
	}
	if m == nil {
		writeError(w, http.StatusNotFound, "macro not found")
		return
	}
	var p macroPayload
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if strings.TrimSpace(p.Name) != "" {
		if err := engine.ValidateMacroName(p.Name); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		m.Name = strings.TrimSpace(p.Name)
	}
	m.Description = p.Description
	m.Icon = p.Icon

	triggers, actions, conditions, err := validateParts(p)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.repo.UpdateMacro(r.Context(), m); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to update macro")
		return
	}
	if len(p.Triggers) > 0 || len(p.Actions) > 0 || len(p.Conditions) > 0 {
		if err := s.repo.ReplaceMacroParts(r.Context(), id, triggers, actions, conditions); err != nil {
			writeError(w, http.StatusInternalServerError, "failed to save macro parts")
			return
		}
	}
	// Re-register triggers if the macro is live.
	if m.Enabled {
		if err := s.engine.EnableMacro(r.Context(), id); err != nil {
			slog.Warn("trigger re-registration failed", "macro_id", id, "error", err)
		}
	}
	writeJSON(w, http.StatusOK, m)
}

func (s *Server) handleDeleteMacro(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid macro id")
		return
	}
	if err := s.engine.DisableMacro(r.Context(), id); err != nil {
		slog.Warn("disable before delete failed", "macro_id", id, "error", err)
	}
	if err := s.repo.DeleteMacro(r.Context(), id); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to delete macro")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": true})
}

func (s *Server) handleSetEnabled(enabled bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := parseID(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid macro id")
			return
		}
		if enabled {
			err = s.engine.EnableMacro(r.Context(), id)
		} else {
			err = s.engine.DisableMacro(r.Context(), id)
		}
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to update macro")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"enabled": enabled})
	}
}

func (s *Server) handleRunMacro(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid macro id")
		return
	}
	runID, err := s.engine.StartRun(r.Context(), id, engine.TriggerManual)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"queued": true, "run_id": runID.String()})
}

func (s *Server) handleListLogs(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid macro id")
		return
	}
	limit := 50
	if ls := strings.TrimSpace(r.URL.Query().Get("limit")); ls != "" {
		if n, err := parsePositiveInt(ls); err == nil {
			limit = n
		}
	}
	if limit > 200 {
		limit = 200
	}
	logs, err := s.repo.ListExecutionLogs(r.Context(), id, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list logs")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"logs": logs})
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	runID, err := uuid.Parse(chi.URLParam(r, "run_id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid run id")
		return
	}
	run, actions, err := s.repo.GetExecutionLogWithActions(r.Context(), runID)
	if err != nil || run == nil {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"run": run, "actions": actions})
}

type variablePayload struct {
	Scope   string          `json:"scope"` // global|macro
	MacroID int64           `json:"macro_id,omitempty"`
	Name    string          `json:"name"`
	Value   json.RawMessage `json:"value"`
}

func (s *Server) handleListVariables(w http.ResponseWriter, r *http.Request) {
	var rows []store.Variable
	var err error
	if ms := strings.TrimSpace(r.URL.Query().Get("macro_id")); ms != "" {
		macroID, perr := parseID(ms)
		if perr != nil {
			writeError(w, http.StatusBadRequest, "invalid macro_id")
			return
		}
		rows, err = s.repo.ListMacroVariables(r.Context(), macroID)
	} else {
		rows, err = s.repo.ListGlobalVariables(r.Context())
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list variables")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"variables": rows})
}

func (s *Server) handleUpsertVariable(w http.ResponseWriter, r *http.Request) {
	var p variablePayload
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if p.Scope != store.ScopeGlobal && p.Scope != store.ScopeMacro {
		writeError(w, http.StatusBadRequest, "scope must be global or macro")
		return
	}
	if p.Scope == store.ScopeMacro && p.MacroID <= 0 {
		writeError(w, http.StatusBadRequest, "macro_id required for macro scope")
		return
	}
	if len(p.Value) == 0 {
		writeError(w, http.StatusBadRequest, "value is required")
		return
	}
	var val any
	if err := json.Unmarshal(p.Value, &val); err != nil {
		writeError(w, http.StatusBadRequest, "value must be valid json")
		return
	}
	typ, raw, err := store.EncodeVariableValue(val)
	if err != nil {
		writeError(w, http.StatusBadRequest, "unsupported variable value")
		return
	}
	macroID := p.MacroID
	if p.Scope == store.ScopeGlobal {
		macroID = 0
	}
	v := &store.Variable{Scope: p.Scope, MacroID: macroID, Name: strings.TrimSpace(p.Name), Type: typ, Value: raw}
	if v.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	if err := s.repo.UpsertVariable(r.Context(), v); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to save variable")
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (s *Server) handleDeleteVariable(w http.ResponseWriter, r *http.Request) {
	scope := chi.URLParam(r, "scope")
	name := chi.URLParam(r, "name")
	if scope != store.ScopeGlobal && scope != store.ScopeMacro {
		writeError(w, http.StatusBadRequest, "scope must be global or macro")
		return
	}
	var macroID int64
	if ms := strings.TrimSpace(r.URL.Query().Get("macro_id")); ms != "" {
		id, err := parseID(ms)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid macro_id")
			return
		}
		macroID = id
	}
	if err := s.repo.DeleteVariable(r.Context(), scope, macroID, name); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to delete variable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": true})
}

type networkEventPayload struct {
	Transition string `json:"transition"`
}

func (s *Server) handleNetworkEvent(w http.ResponseWriter, r *http.Request) {
	var p networkEventPayload
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	switch p.Transition {
	case "wifi_connected", "wifi_disconnected", "mobile_connected", "network_disconnected":
	default:
		writeError(w, http.StatusBadRequest, "unsupported transition")
		return
	}
	if s.events != nil {
		s.events.HandleNetworkEvent(p.Transition)
	}
	writeJSON(w, http.StatusOK, map[string]any{"accepted": true})
}

func (s *Server) handleClipboardEvent(w http.ResponseWriter, r *http.Request) {
	if s.events != nil {
		s.events.HandleClipboardEvent()
	}
	writeJSON(w, http.StatusOK, map[string]any{"accepted": true})
}

func parseID(s string) (int64, error) {
	n, err := parsePositiveInt(strings.TrimSpace(s))
	if err != nil {
		return 0, err
	}
	return int64(n), nil
}

func parsePositiveInt(s string) (int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, errors.New("empty")
	}
	n := 0
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, errors.New("not a number")
		}
		n = n*10 + int(r-'0')
		if n > 1_000_000 {
			return 0, errors.New("too large")
		}
	}
	if n <= 0 {
		return 0, errors.New("must be > 0")
	}
	return n, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"error": msg, "code": status})
}
