// Package http is the portal's web surface: pages, form handlers and the
// small JSON API, all behind the authorization gate.
package http

import (
	"encoding/json"
	"html/template"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"gatepro/portal/internal/catalog"
	"gatepro/portal/internal/config"
	"gatepro/portal/internal/gate"
	"gatepro/portal/internal/logger"
	"gatepro/portal/internal/metrics"
	"gatepro/portal/internal/middleware"
	"gatepro/portal/internal/model"
	"gatepro/portal/internal/session"
)

const (
	clientIDCookieName = "sid"

	msgUnexpectedError = "An unexpected error occurred. Please try again."
	msgRegistered      = "Signup successful. Please log in."
)

type Server struct {
	cfg      config.Config
	identity session.IdentityClient
	backends session.Backends
	gate     *gate.Gate
	limiter  *middleware.RateLimiter
	log      *zap.Logger
	metrics  metrics.Recorder
	gatherer prometheus.Gatherer
	pages    map[string]*template.Template
}

type Option func(*Server)

func WithLogger(l *zap.Logger) Option {
	return func(s *Server) {
		s.log = logger.OrNop(l)
	}
}

// WithMetrics reports to recorder and serves gatherer on /metrics.
func WithMetrics(recorder metrics.Recorder, gatherer prometheus.Gatherer) Option {
	return func(s *Server) {
		if recorder != nil {
			s.metrics = recorder
		}
		if gatherer != nil {
			s.gatherer = gatherer
		}
	}
}

// WithRateLimiter limits login and signup submissions.
func WithRateLimiter(rl *middleware.RateLimiter) Option {
	return func(s *Server) {
		s.limiter = rl
	}
}

func NewServer(cfg config.Config, identity session.IdentityClient, backends session.Backends, opts ...Option) (*Server, error) {
	pages, err := parsePages()
	if err != nil {
		return nil, err
	}
	s := &Server{
		cfg:      cfg,
		identity: identity,
		backends: backends,
		log:      zap.NewNop(),
		metrics:  metrics.Nop{},
		gatherer: prometheus.DefaultGatherer,
		pages:    pages,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.gate = gate.New(cfg.JWTSecret, gate.WithLogger(s.log), gate.WithMetrics(s.metrics))
	return s, nil
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(middleware.Logging(s.log))
	r.Use(middleware.SecurityHeaders)
	r.Use(s.gate.Middleware)
	r.Use(s.canonicalPath)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", metrics.Handler(s.gatherer))

	r.Get("/", s.handleLanding)
	r.Get("/login", s.handleLoginPage)
	r.Get("/signup", s.handleSignupPage)
	r.Group(func(r chi.Router) {
		if s.limiter != nil {
			r.Use(s.limiter.Middleware)
		}
		r.Post("/login", s.handleLogin)
		r.Post("/signup", s.handleSignup)
	})
	r.Post("/logout", s.handleLogout)

	for _, role := range model.Roles() {
		handler := s.handleDashboard(role)
		r.Get(role.HomePath(), handler)
		r.Get(role.HomePath()+"/*", handler)
	}

	r.Get("/topics/{slug}", s.handleTopic)
	r.Get("/search", s.handleSearchPage)
	r.Get("/api/search", s.handleSearch)
	r.Get("/api/nav", s.handleNav)

	return r
}

// canonicalPath sends capitalized dashboard paths such as /Admin to their
// lowercase form. It runs after the gate, so only allowed requests get here.
func (s *Server) canonicalPath(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := r.URL.Path
		lower := strings.ToLower(path)
		if lower == path {
			next.ServeHTTP(w, r)
			return
		}
		if _, protected := s.gate.Match(path); !protected {
			next.ServeHTTP(w, r)
			return
		}
		target := lower
		if r.URL.RawQuery != "" {
			target += "?" + r.URL.RawQuery
		}
		http.Redirect(w, r, target, http.StatusPermanentRedirect)
	})
}

func (s *Server) handleLanding(w http.ResponseWriter, r *http.Request) {
	data := s.newPage("", s.currentUser(w, r))
	data.Topics = catalog.Topics()
	s.render(w, http.StatusOK, "landing", data)
}

func (s *Server) handleLoginPage(w http.ResponseWriter, r *http.Request) {
	data := s.newPage("Login", nil)
	if r.URL.Query().Get("registered") != "" {
		data.Notice = msgRegistered
	}
	s.render(w, http.StatusOK, "login", data)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_form")
		return
	}
	form := parseLoginForm(r)
	data := s.newPage("Login", nil)
	data.Form["email"] = form.Email
	if errs := validateForm(form); errs != nil {
		data.Errors = errs
		s.render(w, http.StatusBadRequest, "login", data)
		return
	}

	sess, err := s.sessionFor(w, r)
	if err != nil {
		s.log.Error("session unavailable", zap.Error(err))
		data.Errors["general"] = msgUnexpectedError
		s.render(w, http.StatusInternalServerError, "login", data)
		return
	}
	result := sess.Login(r.Context(), form.Email, form.Password)
	if !result.Success {
		data.Errors["general"] = result.Message
		s.render(w, http.StatusUnauthorized, "login", data)
		return
	}

	role := result.User.NormalizedRole()
	if role == "" {
		s.log.Warn("login returned unknown role", zap.String("role", result.User.Role))
	}
	http.Redirect(w, r, role.HomePath(), http.StatusSeeOther)
}

func (s *Server) handleSignupPage(w http.ResponseWriter, _ *http.Request) {
	data := s.newPage("Sign Up", nil)
	data.Roles = model.Roles()
	data.Form["role"] = string(model.RoleStudent)
	s.render(w, http.StatusOK, "signup", data)
}

func (s *Server) handleSignup(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_form")
		return
	}
	form := parseSignupForm(r)
	data := s.newPage("Sign Up", nil)
	data.Roles = model.Roles()
	data.Form["fullName"] = form.Name
	data.Form["email"] = form.Email
	data.Form["role"] = strings.ToLower(form.Role)
	if errs := validateForm(form); errs != nil {
		data.Errors = errs
		s.render(w, http.StatusBadRequest, "signup", data)
		return
	}

	sess, err := s.sessionFor(w, r)
	if err != nil {
		s.log.Error("session unavailable", zap.Error(err))
		data.Errors["general"] = msgUnexpectedError
		s.render(w, http.StatusInternalServerError, "signup", data)
		return
	}
	role, _ := model.ParseRole(form.Role)
	result := sess.Signup(r.Context(), form.Name, form.Email, form.Password, string(role))
	if !result.Success {
		data.Errors["general"] = result.Message
		s.render(w, http.StatusBadRequest, "signup", data)
		return
	}
	http.Redirect(w, r, "/login?registered=1", http.StatusSeeOther)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if !hasSessionCookies(r) {
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}
	sess, err := s.sessionFor(w, r)
	if err != nil {
		s.log.Error("session unavailable", zap.Error(err))
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}
	if err := sess.Logout(r.Context()); err != nil {
		s.log.Warn("logout clear failed", zap.Error(err))
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (s *Server) handleDashboard(role model.Role) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess, err := s.sessionFor(w, r)
		if err != nil {
			s.log.Error("session unavailable", zap.Error(err))
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			return
		}
		state := sess.Init(r.Context())
		switch session.Guard(state, role) {
		case session.DecisionRedirect:
			http.Redirect(w, r, session.LoginPath, http.StatusSeeOther)
		case session.DecisionPending:
			data := s.newPage(role.Title()+" Panel", nil)
			data.Pending = true
			s.render(w, http.StatusOK, "dashboard", data)
		default:
			data := s.newPage(role.Title()+" Panel", state.User)
			data.Role = role
			data.Tagline = dashboardTagline(role)
			s.render(w, http.StatusOK, "dashboard", data)
		}
	}
}

func (s *Server) handleTopic(w http.ResponseWriter, r *http.Request) {
	topic, ok := catalog.Topic(chi.URLParam(r, "slug"))
	if !ok {
		http.NotFound(w, r)
		return
	}
	data := s.newPage(topic.Label, s.currentUser(w, r))
	data.Topic = topic
	s.render(w, http.StatusOK, "topic", data)
}

func (s *Server) handleSearchPage(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	data := s.newPage("Search", s.currentUser(w, r))
	data.Query = query
	data.Results = catalog.Search(query)
	s.render(w, http.StatusOK, "search", data)
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string][]catalog.Link{
		"results": catalog.Search(r.URL.Query().Get("q")),
	})
}

func (s *Server) handleNav(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, catalog.DefaultMenus())
}

// currentUser resolves the session for page chrome. Failures render the
// page anonymously. Requests carrying neither cookie get no storage slot.
func (s *Server) currentUser(w http.ResponseWriter, r *http.Request) *model.User {
	if !hasSessionCookies(r) {
		return nil
	}
	sess, err := s.sessionFor(w, r)
	if err != nil {
		s.log.Warn("session unavailable", zap.Error(err))
		return nil
	}
	return sess.Init(r.Context()).User
}

// sessionFor builds the Session for this browser. The sid cookie selects the
// storage slot and the token cookie mirror is written on w.
func (s *Server) sessionFor(w http.ResponseWriter, r *http.Request) (*session.Session, error) {
	backend, err := s.backends.For(s.clientID(w, r))
	if err != nil {
		return nil, err
	}
	s.adoptCookieToken(r, backend)
	store := session.NewStore(backend, session.ResponseMirror{W: w, Secure: s.cfg.CookieSecure}, s.cfg.TokenCookieMaxAge)
	return session.New(store, s.identity, session.WithLogger(s.log), session.WithMetrics(s.metrics)), nil
}

// adoptCookieToken makes the token cookie authoritative when the backend
// holds nothing or a different token, as happens for clients that keep
// their own Token Store. The cached user is dropped so the resolver
// revalidates.
func (s *Server) adoptCookieToken(r *http.Request, backend session.Backend) {
	cookie, err := r.Cookie(session.TokenCookieName)
	if err != nil || cookie.Value == "" {
		return
	}
	snap, err := backend.Load(r.Context())
	if err != nil {
		s.log.Warn("session load failed", zap.Error(err))
		return
	}
	if snap.Token == cookie.Value {
		return
	}
	if err := backend.Save(r.Context(), session.Snapshot{Token: cookie.Value}, s.cfg.TokenCookieMaxAge); err != nil {
		s.log.Warn("session adopt failed", zap.Error(err))
	}
}

func (s *Server) clientID(w http.ResponseWriter, r *http.Request) string {
	if cookie, err := r.Cookie(clientIDCookieName); err == nil {
		if id, err := uuid.Parse(cookie.Value); err == nil {
			return id.String()
		}
	}
	id := uuid.NewString()
	http.SetCookie(w, &http.Cookie{
		Name:     clientIDCookieName,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		Secure:   s.cfg.CookieSecure,
		SameSite: http.SameSiteStrictMode,
	})
	replaceRequestCookie(r, &http.Cookie{Name: clientIDCookieName, Value: id})
	return id
}

// replaceRequestCookie swaps c into the request's Cookie header so later
// lookups in the same request see it instead of any earlier value.
func replaceRequestCookie(r *http.Request, c *http.Cookie) {
	cookies := r.Cookies()
	r.Header.Del("Cookie")
	for _, existing := range cookies {
		if existing.Name != c.Name {
			r.AddCookie(existing)
		}
	}
	r.AddCookie(c)
}

func hasSessionCookies(r *http.Request) bool {
	for _, name := range []string{clientIDCookieName, session.TokenCookieName} {
		if c, err := r.Cookie(name); err == nil && c.Value != "" {
			return true
		}
	}
	return false
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]string{"error": code})
}
