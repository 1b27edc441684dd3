// ABOUTME: HTTP front end: chat page, auth forms, setup wizard, and admin panel.
// ABOUTME: Routes are gated on the bootstrap phase so a broken backend never 500s.

package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/parlorhq/parlor-web/internal/backend"
	"github.com/parlorhq/parlor-web/internal/bootstrap"
	"github.com/parlorhq/parlor-web/internal/localstore"
	"github.com/parlorhq/parlor-web/internal/relay"
	"github.com/parlorhq/parlor-web/internal/settings"
	"github.com/parlorhq/parlor-web/internal/theme"
)

// contextKey is a custom type for context keys to avoid collisions
type contextKey string

const userContextKey contextKey = "session_user"
const csrfContextKey contextKey = "csrf_token"

// Deps bundles the services the web front end sits on top of.
type Deps struct {
	Machine      *bootstrap.Machine
	Orchestrator *bootstrap.Orchestrator
	Manager      *backend.Manager
	ConfigCache  *backend.ConfigCache
	Store        *localstore.Store
	Settings     *settings.Service
	Theme        *theme.Controller
	Relay        *relay.Client

	// Prober validates candidate configurations from the setup wizard.
	// Defaults to a live HTTP probe.
	Prober backend.Prober

	// Environment stamps configurations saved by the setup wizard.
	Environment string
}

// Server handles all user-facing routes.
type Server struct {
	deps     Deps
	sessions *Sessions
	logger   *slog.Logger
}

// New creates the web server. sessionSecret may be empty; see NewSessions.
func New(sessionSecret []byte, deps Deps) (*Server, error) {
	sessions, err := NewSessions(sessionSecret)
	if err != nil {
		return nil, err
	}
	if deps.Prober == nil {
		deps.Prober = backend.NewHTTPProber(nil)
	}
	return &Server{
		deps:     deps,
		sessions: sessions,
		logger:   slog.Default().With("component", "web"),
	}, nil
}

// RegisterRoutes registers all routes on the given mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	// Always reachable, regardless of bootstrap phase
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.HandleFunc("GET /setup", s.handleSetupPage)
	mux.HandleFunc("POST /setup", s.handleSetup)
	mux.HandleFunc("POST /admin/reset", s.handleAdminReset)

	// Auth
	mux.HandleFunc("GET /login", s.gatePhase(s.handleLoginPage))
	mux.HandleFunc("POST /login", s.gatePhase(s.handleLogin))
	mux.HandleFunc("GET /signup", s.gatePhase(s.handleSignupPage))
	mux.HandleFunc("POST /signup", s.gatePhase(s.handleSignup))
	mux.HandleFunc("POST /logout", s.handleLogout)

	// Chat
	mux.HandleFunc("GET /{$}", s.gatePhase(s.requireSession(s.handleChatPage)))
	mux.HandleFunc("POST /chat/send", s.gatePhase(s.requireSession(s.handleChatSend)))

	// Admin panel
	mux.HandleFunc("GET /admin", s.gatePhase(s.requireAdmin(s.handleAdminPage)))
	mux.HandleFunc("POST /admin/settings", s.gatePhase(s.requireAdmin(s.handleAdminSettings)))
	mux.HandleFunc("POST /admin/webhook", s.gatePhase(s.requireAdmin(s.handleAdminWebhook)))
	mux.HandleFunc("GET /admin/users", s.gatePhase(s.requireAdmin(s.handleAdminUsers)))
	mux.HandleFunc("POST /admin/users/role", s.gatePhase(s.requireAdmin(s.handleAdminUserRole)))

	s.logger.Info("web routes registered")
}

// gatePhase holds requests back until bootstrap has finished. NEEDS_SETUP
// redirects to the setup wizard; ERROR renders the error page with a reset
// action; anything in between gets a self-refreshing progress page.
func (s *Server) gatePhase(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		state := s.deps.Machine.Snapshot()
		switch {
		case state.Phase == bootstrap.PhaseNeedsSetup:
			http.Redirect(w, r, "/setup", http.StatusSeeOther)
		case state.Phase == bootstrap.PhaseError:
			r, csrfToken := s.ensureCSRFToken(w, r)
			user := s.optionalUser(r)
			s.renderPage(w, "error.html", errorData{
				pageBase:  s.base(r.Context(), "Something went wrong", user),
				Message:   state.Err,
				CanReset:  true,
				CSRFToken: csrfToken,
			})
		case state.Phase != bootstrap.PhaseComplete:
			w.Header().Set("Refresh", "2")
			s.renderPage(w, "loading.html", loadingData{
				pageBase: s.base(r.Context(), "Starting up", nil),
				Phase:    string(state.Phase),
				Progress: state.Progress,
			})
		default:
			next(w, r)
		}
	}
}

// requireSession wraps a handler to require a signed-in user
func (s *Server) requireSession(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, err := s.sessions.Verify(r)
		if err != nil {
			http.Redirect(w, r, "/login", http.StatusSeeOther)
			return
		}

		ctx := context.WithValue(r.Context(), userContextKey, user)
		next(w, r.WithContext(ctx))
	}
}

// requireAdmin wraps a handler to require the admin or owner role
func (s *Server) requireAdmin(next http.HandlerFunc) http.HandlerFunc {
	return s.requireSession(func(w http.ResponseWriter, r *http.Request) {
		user := userFromContext(r)
		if user == nil || !user.Admin() {
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}
		next(w, r)
	})
}

// userFromContext retrieves the authenticated user from the request context
func userFromContext(r *http.Request) *SessionUser {
	user, ok := r.Context().Value(userContextKey).(SessionUser)
	if !ok {
		return nil
	}
	return &user
}

// optionalUser returns the session user if one is signed in, else nil.
func (s *Server) optionalUser(r *http.Request) *SessionUser {
	if u := userFromContext(r); u != nil {
		return u
	}
	user, err := s.sessions.Verify(r)
	if err != nil {
		return nil
	}
	return &user
}

// ensureCSRFToken generates a CSRF token if not present and adds it to context
func (s *Server) ensureCSRFToken(w http.ResponseWriter, r *http.Request) (*http.Request, string) {
	cookie, err := r.Cookie(CSRFCookieName)
	if err == nil && cookie.Value != "" {
		ctx := context.WithValue(r.Context(), csrfContextKey, cookie.Value)
		return r.WithContext(ctx), cookie.Value
	}

	token, err := generateSecureToken(32)
	if err != nil {
		s.logger.Error("failed to generate CSRF token", "error", err)
		token = "" // Will fail validation, but won't crash
	}

	http.SetCookie(w, &http.Cookie{
		Name:     CSRFCookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteStrictMode,
	})

	ctx := context.WithValue(r.Context(), csrfContextKey, token)
	return r.WithContext(ctx), token
}

// validateCSRF checks the CSRF token from form against cookie
func (s *Server) validateCSRF(r *http.Request) bool {
	cookie, err := r.Cookie(CSRFCookieName)
	if err != nil || cookie.Value == "" {
		return false
	}

	formToken := r.FormValue("csrf_token")
	if formToken == "" {
		formToken = r.Header.Get("X-CSRF-Token")
	}

	return formToken != "" && formToken == cookie.Value
}

func (s *Server) base(ctx context.Context, title string, user *SessionUser) pageBase {
	appName := "Parlor"
	if name, err := s.deps.Settings.GetSetting(ctx, settings.KeyAppName); err == nil && name != "" {
		appName = name
	}
	return pageBase{
		Title:   title,
		AppName: appName,
		Theme:   s.deps.Theme.Active(ctx),
		User:    user,
	}
}

// handleHealthz reports the bootstrap phase snapshot as JSON.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	state := s.deps.Machine.Snapshot()
	status, _ := s.deps.Manager.State()

	w.Header().Set("Content-Type", "application/json")
	if state.Phase == bootstrap.PhaseError {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(map[string]any{
		"phase":         state.Phase,
		"progress":      state.Progress,
		"config_source": state.ConfigSource,
		"error":         state.Err,
		"client_status": status.String(),
		"last_updated":  state.LastUpdated.Format(time.RFC3339),
	})
}

// handleLoginPage renders the login form
func (s *Server) handleLoginPage(w http.ResponseWriter, r *http.Request) {
	if _, err := s.sessions.Verify(r); err == nil {
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}
	r, csrfToken := s.ensureCSRFToken(w, r)
	s.renderLogin(w, r, "", csrfToken)
}

func (s *Server) renderLogin(w http.ResponseWriter, r *http.Request, errorMsg, csrfToken string) {
	s.renderPage(w, "login.html", loginData{
		pageBase:  s.base(r.Context(), "Sign in", nil),
		Error:     errorMsg,
		CSRFToken: csrfToken,
	})
}

// handleLogin processes login form submission
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		_, csrfToken := s.ensureCSRFToken(w, r)
		s.renderLogin(w, r, "Invalid form data", csrfToken)
		return
	}
	if !s.validateCSRF(r) {
		_, csrfToken := s.ensureCSRFToken(w, r)
		s.renderLogin(w, r, "Invalid request, please try again", csrfToken)
		return
	}

	email := strings.TrimSpace(r.FormValue("email"))
	password := r.FormValue("password")
	if email == "" || password == "" {
		_, csrfToken := s.ensureCSRFToken(w, r)
		s.renderLogin(w, r, "Email and password required", csrfToken)
		return
	}

	handle := s.deps.Manager.Client()
	if handle == nil {
		_, csrfToken := s.ensureCSRFToken(w, r)
		s.renderLogin(w, r, "Service is still starting, please try again", csrfToken)
		return
	}

	session, err := handle.Auth().SignInWithPassword(r.Context(), email, password)
	if err != nil {
		s.logger.Info("sign-in rejected", "email", email, "error", err)
		_, csrfToken := s.ensureCSRFToken(w, r)
		s.renderLogin(w, r, "Invalid email or password", csrfToken)
		return
	}

	user := SessionUser{
		ID:    session.User.ID,
		Email: session.User.Email,
		Role:  s.lookupRole(r.Context(), handle, session.User),
	}
	if err := s.sessions.Issue(w, r, user); err != nil {
		s.logger.Error("failed to issue session", "error", err)
		_, csrfToken := s.ensureCSRFToken(w, r)
		s.renderLogin(w, r, "An error occurred", csrfToken)
		return
	}

	s.logger.Info("sign-in successful", "user_id", user.ID)
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// lookupRole reads the user's role from their profile row, falling back to
// the auth response and finally to plain membership.
func (s *Server) lookupRole(ctx context.Context, handle *backend.Handle, user backend.User) string {
	var rows []userRow
	err := handle.From("profiles").Eq("id", user.ID).Select(ctx, "id,email,role", &rows)
	if err == nil && len(rows) > 0 && rows[0].Role != "" {
		return rows[0].Role
	}
	if err != nil {
		s.logger.Debug("profile role lookup failed", "user_id", user.ID, "error", err)
	}
	if user.Role != "" {
		return user.Role
	}
	return "member"
}

// handleSignupPage renders the signup form
func (s *Server) handleSignupPage(w http.ResponseWriter, r *http.Request) {
	if !s.signupsEnabled(r.Context()) {
		http.Redirect(w, r, "/login", http.StatusSeeOther)
		return
	}
	r, csrfToken := s.ensureCSRFToken(w, r)
	s.renderSignup(w, r, "", csrfToken)
}

func (s *Server) renderSignup(w http.ResponseWriter, r *http.Request, errorMsg, csrfToken string) {
	s.renderPage(w, "signup.html", signupData{
		pageBase:  s.base(r.Context(), "Create account", nil),
		Error:     errorMsg,
		CSRFToken: csrfToken,
	})
}

func (s *Server) signupsEnabled(ctx context.Context) bool {
	v, err := s.deps.Settings.GetSetting(ctx, settings.KeySignupsEnabled)
	if err != nil {
		return true
	}
	return v != "false"
}

// handleSignup processes the signup form
func (s *Server) handleSignup(w http.ResponseWriter, r *http.Request) {
	if !s.signupsEnabled(r.Context()) {
		http.Redirect(w, r, "/login", http.StatusSeeOther)
		return
	}
	if err := r.ParseForm(); err != nil {
		_, csrfToken := s.ensureCSRFToken(w, r)
		s.renderSignup(w, r, "Invalid form data", csrfToken)
		return
	}
	if !s.validateCSRF(r) {
		_, csrfToken := s.ensureCSRFToken(w, r)
		s.renderSignup(w, r, "Invalid request, please try again", csrfToken)
		return
	}

	email := strings.TrimSpace(r.FormValue("email"))
	password := r.FormValue("password")
	if email == "" || len(password) < 8 {
		_, csrfToken := s.ensureCSRFToken(w, r)
		s.renderSignup(w, r, "Email and a password of at least 8 characters required", csrfToken)
		return
	}

	handle := s.deps.Manager.Client()
	if handle == nil {
		_, csrfToken := s.ensureCSRFToken(w, r)
		s.renderSignup(w, r, "Service is still starting, please try again", csrfToken)
		return
	}

	session, err := handle.Auth().SignUp(r.Context(), email, password)
	if err != nil {
		s.logger.Info("sign-up rejected", "email", email, "error", err)
		_, csrfToken := s.ensureCSRFToken(w, r)
		s.renderSignup(w, r, "Could not create the account", csrfToken)
		return
	}

	// Some backends require email confirmation and return no session.
	if session == nil || session.AccessToken == "" {
		http.Redirect(w, r, "/login", http.StatusSeeOther)
		return
	}

	user := SessionUser{ID: session.User.ID, Email: session.User.Email, Role: "member"}
	if err := s.sessions.Issue(w, r, user); err != nil {
		s.logger.Error("failed to issue session", "error", err)
		http.Redirect(w, r, "/login", http.StatusSeeOther)
		return
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// handleLogout signs the user out locally and at the backend
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err == nil {
		if !s.validateCSRF(r) {
			s.logger.Warn("logout request with invalid CSRF token")
		}
	}

	if handle := s.deps.Manager.Client(); handle != nil {
		if err := handle.Auth().SignOut(r.Context()); err != nil {
			s.logger.Warn("backend sign-out failed", "error", err)
		}
	}
	s.sessions.Clear(w)
	http.Redirect(w, r, "/login", http.StatusSeeOther)
}

// handleChatPage renders the chat interface
func (s *Server) handleChatPage(w http.ResponseWriter, r *http.Request) {
	user := userFromContext(r)
	r, csrfToken := s.ensureCSRFToken(w, r)

	welcome, err := s.deps.Settings.GetSetting(r.Context(), settings.KeyWelcomeMessage)
	if err != nil {
		welcome = ""
	}

	s.renderPage(w, "chat.html", chatPageData{
		pageBase:  s.base(r.Context(), "Chat", user),
		Welcome:   renderMarkdown(welcome),
		CSRFToken: csrfToken,
	})
}

// handleChatSend relays a chat turn and renders the reply partial
func (s *Server) handleChatSend(w http.ResponseWriter, r *http.Request) {
	user := userFromContext(r)
	if err := r.ParseForm(); err != nil || !s.validateCSRF(r) {
		http.Error(w, "Invalid request", http.StatusBadRequest)
		return
	}

	message := strings.TrimSpace(r.FormValue("message"))
	if message == "" {
		http.Error(w, "Message required", http.StatusBadRequest)
		return
	}
	sessionID := r.FormValue("chat_session")
	if sessionID == "" {
		sessionID = user.ID
	}

	turn := relay.NewTurn(sessionID, user.ID, message)
	reply, err := s.deps.Relay.Send(r.Context(), turn)
	if err != nil {
		data := chatReplyData{Sent: renderMarkdown(message)}
		switch {
		case errors.Is(err, relay.ErrNoWebhook):
			data.Error = "No automation webhook is configured."
		case errors.Is(err, relay.ErrCanceled):
			data.Error = "Message canceled."
		default:
			s.logger.Warn("relay send failed", "turn_id", turn.TurnID, "error", err)
			data.Error = "The automation service did not respond."
		}
		s.renderPartial(w, "chat_reply.html", data)
		return
	}

	s.renderPartial(w, "chat_reply.html", chatReplyData{
		Sent:  renderMarkdown(message),
		Reply: renderMarkdown(reply.Message),
	})
}

// handleSetupPage renders the setup wizard
func (s *Server) handleSetupPage(w http.ResponseWriter, r *http.Request) {
	r, csrfToken := s.ensureCSRFToken(w, r)

	url := ""
	if cfg, ok := s.deps.ConfigCache.Peek(); ok {
		url = cfg.URL
	}
	s.renderPage(w, "setup.html", setupData{
		pageBase:     s.base(r.Context(), "Setup", nil),
		NeedPassword: s.setupPasswordSet(r.Context()),
		URL:          url,
		CSRFToken:    csrfToken,
	})
}

func (s *Server) setupPasswordSet(ctx context.Context) bool {
	_, ok, err := s.deps.Store.Get(ctx, localstore.KeySetupPassword)
	return err == nil && ok
}

func (s *Server) renderSetupError(w http.ResponseWriter, r *http.Request, msg, csrfToken string) {
	s.renderPage(w, "setup.html", setupData{
		pageBase:     s.base(r.Context(), "Setup", nil),
		Error:        msg,
		NeedPassword: s.setupPasswordSet(r.Context()),
		URL:          r.FormValue("url"),
		CSRFToken:    csrfToken,
	})
}

// handleSetup validates submitted credentials by probing the backend, saves
// them, and kicks off a fresh bootstrap.
func (s *Server) handleSetup(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		_, csrfToken := s.ensureCSRFToken(w, r)
		s.renderSetupError(w, r, "Invalid form data", csrfToken)
		return
	}
	if !s.validateCSRF(r) {
		_, csrfToken := s.ensureCSRFToken(w, r)
		s.renderSetupError(w, r, "Invalid request, please try again", csrfToken)
		return
	}

	if s.setupPasswordSet(r.Context()) {
		hash, _, err := s.deps.Store.Get(r.Context(), localstore.KeySetupPassword)
		if err != nil {
			s.logger.Error("failed to read setup password", "error", err)
			_, csrfToken := s.ensureCSRFToken(w, r)
			s.renderSetupError(w, r, "An error occurred", csrfToken)
			return
		}
		if bcrypt.CompareHashAndPassword(hash, []byte(r.FormValue("setup_password"))) != nil {
			_, csrfToken := s.ensureCSRFToken(w, r)
			s.renderSetupError(w, r, "Incorrect setup password", csrfToken)
			return
		}
	}

	cfg := backend.Configuration{
		URL:         strings.TrimSpace(r.FormValue("url")),
		AnonKey:     strings.TrimSpace(r.FormValue("anon_key")),
		Environment: s.deps.Environment,
	}
	if !cfg.Usable() {
		_, csrfToken := s.ensureCSRFToken(w, r)
		s.renderSetupError(w, r, "A valid URL and key are required", csrfToken)
		return
	}

	probeCtx, cancel := context.WithTimeout(r.Context(), backend.ProbeTimeout)
	defer cancel()
	if err := s.deps.Prober.Probe(probeCtx, cfg); err != nil {
		s.logger.Info("setup probe failed", "url", cfg.URL, "error", err)
		_, csrfToken := s.ensureCSRFToken(w, r)
		s.renderSetupError(w, r, "Could not reach the backend with those credentials", csrfToken)
		return
	}

	if err := s.deps.ConfigCache.Set(r.Context(), cfg); err != nil {
		s.logger.Error("failed to save configuration", "error", err)
		_, csrfToken := s.ensureCSRFToken(w, r)
		s.renderSetupError(w, r, "Could not save the configuration", csrfToken)
		return
	}

	if s.deps.Machine.Snapshot().Terminal() {
		s.deps.Machine.Reset()
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		if err := s.deps.Orchestrator.Bootstrap(ctx); err != nil {
			s.logger.Error("bootstrap after setup failed", "error", err)
		}
	}()

	s.logger.Info("setup completed", "url", cfg.URL)
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// handleAdminPage renders the admin settings panel
func (s *Server) handleAdminPage(w http.ResponseWriter, r *http.Request) {
	s.renderAdmin(w, r, "", "")
}

func (s *Server) renderAdmin(w http.ResponseWriter, r *http.Request, notice, errorMsg string) {
	user := userFromContext(r)
	r, csrfToken := s.ensureCSRFToken(w, r)

	values, err := s.deps.Settings.Get(r.Context())
	if err != nil {
		s.logger.Warn("failed to load settings for admin panel", "error", err)
		values = settings.Defaults()
	}

	s.renderPage(w, "admin.html", adminData{
		pageBase:  s.base(r.Context(), "Admin", user),
		Settings:  values,
		Presets:   s.deps.Theme.Presets(),
		Notice:    notice,
		Error:     errorMsg,
		CSRFToken: csrfToken,
	})
}

// handleAdminSettings persists general settings
func (s *Server) handleAdminSettings(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil || !s.validateCSRF(r) {
		s.renderAdmin(w, r, "", "Invalid request, please try again")
		return
	}

	updates := map[string]string{
		settings.KeyAppName:        strings.TrimSpace(r.FormValue("app_name")),
		settings.KeyWelcomeMessage: r.FormValue("welcome_message"),
	}
	if r.FormValue("signups_enabled") != "" {
		updates[settings.KeySignupsEnabled] = "true"
	} else {
		updates[settings.KeySignupsEnabled] = "false"
	}

	for key, value := range updates {
		if err := s.deps.Settings.Save(r.Context(), key, value); err != nil {
			s.logger.Error("failed to save setting", "key", key, "error", err)
			s.renderAdmin(w, r, "", "Saved locally, but the backend rejected the change")
			return
		}
	}

	if preset := r.FormValue("theme_preset"); preset != "" {
		if err := s.deps.Theme.Set(r.Context(), preset); err != nil {
			s.renderAdmin(w, r, "", "Unknown theme preset")
			return
		}
	}

	s.renderAdmin(w, r, "Settings saved", "")
}

// handleAdminWebhook persists the automation webhook settings
func (s *Server) handleAdminWebhook(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil || !s.validateCSRF(r) {
		s.renderAdmin(w, r, "", "Invalid request, please try again")
		return
	}

	url := strings.TrimSpace(r.FormValue("webhook_url"))
	if url != "" && !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		s.renderAdmin(w, r, "", "Webhook URL must be absolute")
		return
	}

	timeout := strings.TrimSpace(r.FormValue("webhook_timeout_seconds"))
	if timeout != "" {
		if secs, err := strconv.Atoi(timeout); err != nil || secs < 1 {
			s.renderAdmin(w, r, "", "Webhook timeout must be a positive number of seconds")
			return
		}
	}

	if err := s.deps.Settings.Save(r.Context(), settings.KeyWebhookURL, url); err != nil {
		s.logger.Error("failed to save webhook url", "error", err)
		s.renderAdmin(w, r, "", "Saved locally, but the backend rejected the change")
		return
	}
	if timeout != "" {
		if err := s.deps.Settings.Save(r.Context(), settings.KeyWebhookTimeout, timeout); err != nil {
			s.logger.Error("failed to save webhook timeout", "error", err)
			s.renderAdmin(w, r, "", "Saved locally, but the backend rejected the change")
			return
		}
	}

	s.renderAdmin(w, r, "Webhook settings saved", "")
}

// handleAdminUsers renders the user list partial
func (s *Server) handleAdminUsers(w http.ResponseWriter, r *http.Request) {
	r, csrfToken := s.ensureCSRFToken(w, r)

	handle := s.deps.Manager.Client()
	if handle == nil {
		http.Error(w, "Backend unavailable", http.StatusServiceUnavailable)
		return
	}

	var users []userRow
	if err := handle.From("profiles").Select(r.Context(), "id,email,role", &users); err != nil {
		s.logger.Error("failed to list users", "error", err)
		http.Error(w, "Failed to load users", http.StatusBadGateway)
		return
	}

	s.renderPartial(w, "users_list.html", usersListData{Users: users, CSRFToken: csrfToken})
}

// handleAdminUserRole updates a user's role
func (s *Server) handleAdminUserRole(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil || !s.validateCSRF(r) {
		http.Error(w, "Invalid request", http.StatusBadRequest)
		return
	}

	userID := r.FormValue("user_id")
	role := r.FormValue("role")
	switch role {
	case "member", "admin", "owner":
	default:
		http.Error(w, "Invalid role", http.StatusBadRequest)
		return
	}
	if userID == "" {
		http.Error(w, "User required", http.StatusBadRequest)
		return
	}

	actor := userFromContext(r)
	if actor != nil && actor.ID == userID {
		http.Error(w, "You cannot change your own role", http.StatusBadRequest)
		return
	}

	handle := s.deps.Manager.Client()
	if handle == nil {
		http.Error(w, "Backend unavailable", http.StatusServiceUnavailable)
		return
	}

	update := map[string]string{"role": role}
	if err := handle.From("profiles").Eq("id", userID).Update(r.Context(), update); err != nil {
		s.logger.Error("failed to update role", "user_id", userID, "error", err)
		http.Error(w, "Failed to update role", http.StatusBadGateway)
		return
	}

	s.logger.Info("role updated", "user_id", userID, "role", role)
	s.handleAdminUsers(w, r)
}

// handleAdminReset clears the saved configuration and restarts bootstrap.
// Reachable from the error page, so only gated on a session when the
// backend is actually up.
func (s *Server) handleAdminReset(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil || !s.validateCSRF(r) {
		http.Error(w, "Invalid request", http.StatusBadRequest)
		return
	}

	if !s.deps.Machine.Snapshot().Terminal() {
		user, err := s.sessions.Verify(r)
		if err != nil || !user.Admin() {
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}
	}

	if err := s.deps.Orchestrator.Reset(r.Context()); err != nil {
		s.logger.Error("reset failed", "error", err)
		http.Error(w, "Reset failed", http.StatusInternalServerError)
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		if err := s.deps.Orchestrator.Bootstrap(ctx); err != nil {
			s.logger.Error("bootstrap after reset failed", "error", err)
		}
	}()

	s.logger.Info("configuration reset requested")
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// SetSetupPassword stores a bcrypt hash guarding the setup wizard.
func SetSetupPassword(ctx context.Context, store *localstore.Store, password string) error {
	if password == "" {
		return fmt.Errorf("setup password must not be empty")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hashing setup password: %w", err)
	}
	if err := store.Put(ctx, localstore.KeySetupPassword, hash); err != nil {
		return fmt.Errorf("storing setup password: %w", err)
	}
	return nil
}
