// Package identitytest runs an in-process identity service implementing the
// /api/auth contract the portal consumes. It exists for tests.
package identitytest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/crypto/bcrypt"

	"gatepro/portal/internal/auth"
	"gatepro/portal/internal/model"
)

type account struct {
	user model.User
	hash []byte
}

type Server struct {
	*httptest.Server
	Secret string
	TTL    time.Duration

	mu       sync.Mutex
	accounts map[string]account
	meCalls  int
	meStatus int
	meHTML   bool
	htmlAuth bool
}

// New starts a fake identity service signing tokens with secret. It is closed
// when the test ends.
func New(t testing.TB, secret string) *Server {
	t.Helper()
	s := &Server{
		Secret:   secret,
		TTL:      time.Hour,
		accounts: make(map[string]account),
	}
	s.Server = httptest.NewServer(s.router())
	t.Cleanup(s.Close)
	return s
}

func (s *Server) router() http.Handler {
	r := chi.NewRouter()
	r.Post("/api/auth/signup", s.handleSignup)
	r.Post("/api/auth/login", s.handleLogin)
	r.Get("/api/auth/me", s.handleMe)
	return r
}

// AddUser registers an account directly.
func (s *Server) AddUser(t testing.TB, name, email, password, role string) model.User {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash error: %v", err)
	}
	user := model.User{Name: name, Email: strings.ToLower(email), Role: role}
	s.mu.Lock()
	s.accounts[user.Email] = account{user: user, hash: hash}
	s.mu.Unlock()
	return user
}

// Token issues a token for user the way the login endpoint would.
func (s *Server) Token(t testing.TB, user model.User) string {
	t.Helper()
	token, err := s.issue(user)
	if err != nil {
		t.Fatalf("token error: %v", err)
	}
	return token
}

// SetMeStatus forces /api/auth/me to answer with status. Zero restores normal behavior.
func (s *Server) SetMeStatus(status int) {
	s.mu.Lock()
	s.meStatus = status
	s.mu.Unlock()
}

// SetMeHTML makes /api/auth/me answer 200 with an HTML body.
func (s *Server) SetMeHTML(enabled bool) {
	s.mu.Lock()
	s.meHTML = enabled
	s.mu.Unlock()
}

// SetAuthHTML makes login and signup answer with an HTML body.
func (s *Server) SetAuthHTML(enabled bool) {
	s.mu.Lock()
	s.htmlAuth = enabled
	s.mu.Unlock()
}

func (s *Server) MeCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.meCalls
}

type signupRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type authResponse struct {
	Token string     `json:"token"`
	User  model.User `json:"user"`
}

func (s *Server) handleSignup(w http.ResponseWriter, r *http.Request) {
	if s.authHTML(w) {
		return
	}
	var req signupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeMessage(w, http.StatusBadRequest, "Invalid request")
		return
	}
	req.Email = strings.TrimSpace(strings.ToLower(req.Email))
	if req.Name == "" || req.Email == "" || req.Password == "" {
		writeMessage(w, http.StatusBadRequest, "All fields are required")
		return
	}
	role, err := model.ParseRole(req.Role)
	if err != nil {
		writeMessage(w, http.StatusBadRequest, "Invalid role")
		return
	}

	s.mu.Lock()
	_, exists := s.accounts[req.Email]
	s.mu.Unlock()
	if exists {
		writeMessage(w, http.StatusBadRequest, "User already exists")
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.MinCost)
	if err != nil {
		writeMessage(w, http.StatusInternalServerError, "Server error")
		return
	}
	user := model.User{Name: req.Name, Email: req.Email, Role: string(role)}
	s.mu.Lock()
	s.accounts[user.Email] = account{user: user, hash: hash}
	s.mu.Unlock()

	token, err := s.issue(user)
	if err != nil {
		writeMessage(w, http.StatusInternalServerError, "Server error")
		return
	}
	writeJSON(w, http.StatusCreated, authResponse{Token: token, User: user})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if s.authHTML(w) {
		return
	}
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeMessage(w, http.StatusBadRequest, "Invalid request")
		return
	}
	req.Email = strings.TrimSpace(strings.ToLower(req.Email))

	s.mu.Lock()
	acct, ok := s.accounts[req.Email]
	s.mu.Unlock()
	if !ok || bcrypt.CompareHashAndPassword(acct.hash, []byte(req.Password)) != nil {
		writeMessage(w, http.StatusUnauthorized, "Invalid credentials")
		return
	}

	token, err := s.issue(acct.user)
	if err != nil {
		writeMessage(w, http.StatusInternalServerError, "Server error")
		return
	}
	writeJSON(w, http.StatusOK, authResponse{Token: token, User: acct.user})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.meCalls++
	status, html := s.meStatus, s.meHTML
	s.mu.Unlock()

	if status != 0 {
		writeMessage(w, status, "Forced failure")
		return
	}
	if html {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("<html>maintenance</html>"))
		return
	}

	token := bearerToken(r.Header.Get("Authorization"))
	claims, err := auth.ParseToken(s.Secret, token)
	if err != nil {
		writeMessage(w, http.StatusUnauthorized, "Invalid token")
		return
	}

	s.mu.Lock()
	acct, ok := s.accounts[strings.ToLower(claims.Email)]
	s.mu.Unlock()
	if !ok {
		writeMessage(w, http.StatusNotFound, "User not found")
		return
	}
	writeJSON(w, http.StatusOK, acct.user)
}

func (s *Server) authHTML(w http.ResponseWriter) bool {
	s.mu.Lock()
	html := s.htmlAuth
	s.mu.Unlock()
	if !html {
		return false
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusBadGateway)
	_, _ = w.Write([]byte("<html>bad gateway</html>"))
	return true
}

func (s *Server) issue(user model.User) (string, error) {
	return auth.NewAccessToken(s.Secret, s.TTL, auth.Claims{
		Role:  user.Role,
		Name:  user.Name,
		Email: user.Email,
	})
}

func bearerToken(header string) string {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeMessage(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"message": message})
}
