// Package api exposes the client's presentation boundary over HTTP so the
// session can be driven headless (kiosk shells, scripts, tests).
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/fakeyudi/lokseva/internal/agentstate"
	"github.com/fakeyudi/lokseva/internal/app"
	"github.com/fakeyudi/lokseva/internal/appstate"
	"github.com/fakeyudi/lokseva/internal/auth"
	"github.com/fakeyudi/lokseva/internal/bridge"
	"github.com/fakeyudi/lokseva/internal/identity"
	"github.com/fakeyudi/lokseva/internal/timeline"
)

// Client is the part of *app.App the API drives.
type Client interface {
	State() app.View
	GetStarted(ctx context.Context) error
	ShowLogin(ctx context.Context) error
	ShowRegister(ctx context.Context) error
	Back(ctx context.Context) error
	Login(ctx context.Context, email, password string) error
	Register(ctx context.Context, p identity.Profile) error
	Logout(ctx context.Context) error
	Send(ctx context.Context, text string) error
	Reconnect(ctx context.Context) error
	Dismiss(ctx context.Context, id string) error
}

type Server struct {
	router *chi.Mux
	addr   string
	client Client
	logger *slog.Logger
}

func NewServer(addr string, client Client, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)

	s := &Server{
		router: router,
		addr:   addr,
		client: client,
		logger: logger.With("component", "api"),
	}

	router.Get("/health", s.health)
	router.Route("/api/v1", func(r chi.Router) {
		r.Get("/state", s.state)
		r.Get("/timeline", s.timeline)
		r.Post("/intents", s.intent)
		r.Post("/login", s.login)
		r.Post("/register", s.register)
		r.Post("/messages", s.sendMessage)
		r.Delete("/notifications/{id}", s.dismiss)
	})

	return s
}

// Handler returns the router, for embedding in another server.
func (s *Server) Handler() http.Handler { return s.router }

// Start serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{Addr: s.addr, Handler: s.router, ReadHeaderTimeout: 10 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("API server starting", "addr", s.addr)
		errCh <- srv.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

// ── Response shapes ──────────────────────────────────────────────────────────

type StateResponse struct {
	Title         string                  `json:"title"`
	Screen        string                  `json:"screen"`
	Status        string                  `json:"status"`
	Pending       bool                    `json:"pending"`
	Identity      *identity.Identity      `json:"identity,omitempty"`
	AuthError     string                  `json:"auth_error,omitempty"`
	Agent         agentstate.DisplayState `json:"agent"`
	Connected     bool                    `json:"connected"`
	ConnError     string                  `json:"connection_error,omitempty"`
	ChatInput     bool                    `json:"chat_input"`
	Notifications []bridge.Notification   `json:"notifications"`
	Version       uint64                  `json:"version"`
	Warning       string                  `json:"warning,omitempty"`
}

type EntryResponse struct {
	Kind          string    `json:"kind"`
	ID            string    `json:"id"`
	SenderID      string    `json:"sender_id,omitempty"`
	SenderName    string    `json:"sender_name,omitempty"`
	SenderIsAgent bool      `json:"sender_is_agent"`
	Text          string    `json:"text"`
	Final         bool      `json:"final"`
	Local         bool      `json:"local,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

type TimelineResponse struct {
	Entries []EntryResponse `json:"entries"`
	Count   int             `json:"count"`
}

type IntentRequest struct {
	Intent string `json:"intent"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type MessageRequest struct {
	Text string `json:"text"`
}

func stateResponse(v app.View) StateResponse {
	notes := v.Notifications
	if notes == nil {
		notes = []bridge.Notification{}
	}
	return StateResponse{
		Title:         v.Title,
		Screen:        v.Screen.String(),
		Status:        v.Status.String(),
		Pending:       v.Pending,
		Identity:      v.Identity,
		AuthError:     v.AuthError,
		Agent:         v.Agent,
		Connected:     v.Connected,
		ConnError:     v.ConnError,
		ChatInput:     v.ChatInput,
		Notifications: notes,
		Version:       v.Version,
	}
}

func entryResponse(e timeline.Entry) EntryResponse {
	m := e.Meta()
	r := EntryResponse{
		Kind:          timeline.KindOf(e),
		ID:            m.ID,
		SenderID:      m.SenderID,
		SenderName:    m.SenderName,
		SenderIsAgent: m.SenderIsAgent,
		Text:          m.Text,
		Final:         m.Final,
		Timestamp:     m.Timestamp,
	}
	if c, ok := e.(timeline.ChatEntry); ok {
		r.Local = c.Local
	}
	return r
}

// ── Handlers ─────────────────────────────────────────────────────────────────

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) state(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, stateResponse(s.client.State()))
}

func (s *Server) timeline(w http.ResponseWriter, r *http.Request) {
	v := s.client.State()
	entries := make([]EntryResponse, 0, len(v.Timeline))
	for _, e := range v.Timeline {
		entries = append(entries, entryResponse(e))
	}
	writeJSON(w, http.StatusOK, TimelineResponse{Entries: entries, Count: len(entries)})
}

func (s *Server) intent(w http.ResponseWriter, r *http.Request) {
	var req IntentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	intents := map[string]func(context.Context) error{
		"get_started":   s.client.GetStarted,
		"show_login":    s.client.ShowLogin,
		"show_register": s.client.ShowRegister,
		"back":          s.client.Back,
		"logout":        s.client.Logout,
		"reconnect":     s.client.Reconnect,
	}
	fn, ok := intents[req.Intent]
	if !ok {
		writeError(w, http.StatusBadRequest, "unknown intent: "+req.Intent)
		return
	}
	err := fn(r.Context())
	if errors.Is(err, auth.ErrRemoteLogout) {
		// Signed out locally; only the server-side token may linger.
		s.logger.Warn("logout not confirmed by server", "error", err)
		resp := stateResponse(s.client.State())
		resp.Warning = "Signed out on this device, but the server could not be notified."
		writeJSON(w, http.StatusOK, resp)
		return
	}
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stateResponse(s.client.State()))
}

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if err := s.client.Login(r.Context(), req.Email, req.Password); err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stateResponse(s.client.State()))
}

func (s *Server) register(w http.ResponseWriter, r *http.Request) {
	var p identity.Profile
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if err := s.client.Register(r.Context(), p); err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, stateResponse(s.client.State()))
}

func (s *Server) sendMessage(w http.ResponseWriter, r *http.Request) {
	var req MessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if err := s.client.Send(r.Context(), req.Text); err != nil {
		s.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) dismiss(w http.ResponseWriter, r *http.Request) {
	if err := s.client.Dismiss(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// fail maps domain errors onto HTTP statuses.
func (s *Server) fail(w http.ResponseWriter, err error) {
	var authErr *auth.Error
	var sendErr *bridge.TransportError
	switch {
	case errors.As(err, &authErr):
		status := http.StatusBadGateway
		switch authErr.Kind {
		case auth.Invalid:
			status = http.StatusUnauthorized
		case auth.DuplicateAccount:
			status = http.StatusConflict
		case auth.ValidationFailed:
			status = http.StatusUnprocessableEntity
		}
		msg := authErr.Message
		if msg == "" {
			msg = authErr.Kind.String()
		}
		writeError(w, status, msg)
	case errors.As(err, &sendErr):
		writeJSON(w, http.StatusBadGateway, map[string]string{
			"error":    "message not delivered",
			"entry_id": sendErr.EntryID,
		})
	case errors.Is(err, app.ErrWrongScreen), errors.Is(err, appstate.ErrNoTransition),
		errors.Is(err, auth.ErrInFlight), errors.Is(err, auth.ErrSuperseded),
		errors.Is(err, auth.ErrAlreadyAuthenticated):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, app.ErrChatDisabled):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, bridge.ErrNotAttached):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		s.logger.Warn("request failed", "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
