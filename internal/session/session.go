package session

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"gatepro/portal/internal/identity"
	"gatepro/portal/internal/logger"
	"gatepro/portal/internal/metrics"
	"gatepro/portal/internal/model"
)

const (
	msgLoginSuccess  = "Login successful"
	msgSignupSuccess = "Signup successful"
	msgUnreachable   = "Unable to reach the identity service"
	msgStoreFailed   = "Unable to save your session. Please try again."
	msgUnexpected    = "An unexpected error occurred"
)

// IdentityClient is the part of the identity service a Session talks to.
type IdentityClient interface {
	Me(ctx context.Context, token string) (model.User, error)
	Login(ctx context.Context, email, password string) (identity.AuthResponse, error)
	Signup(ctx context.Context, req identity.SignupRequest) (identity.AuthResponse, error)
}

// State is the session as views see it.
type State struct {
	User    *model.User
	Loading bool
}

// Result is what Login and Signup report. Callers must treat anything but
// Success uniformly.
type Result struct {
	Success bool
	Message string
	Token   string
	User    *model.User
}

// Session is one client's authentication lifecycle: Init restores and
// revalidates, Login/Signup replace, Logout clears.
type Session struct {
	store    *Store
	identity IdentityClient
	log      *zap.Logger
	metrics  metrics.Recorder

	initOnce sync.Once
	mu       sync.Mutex
	state    State
}

type Option func(*Session)

func WithLogger(l *zap.Logger) Option {
	return func(s *Session) {
		s.log = logger.OrNop(l)
	}
}

func WithMetrics(m metrics.Recorder) Option {
	return func(s *Session) {
		if m != nil {
			s.metrics = m
		}
	}
}

func New(store *Store, identity IdentityClient, opts ...Option) *Session {
	s := &Session{
		store:    store,
		identity: identity,
		log:      zap.NewNop(),
		metrics:  metrics.Nop{},
		state:    State{Loading: true},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return State{User: cloneUser(s.state.User), Loading: s.state.Loading}
}

// Init resolves the session once. Later calls return the current state.
func (s *Session) Init(ctx context.Context) State {
	s.initOnce.Do(func() {
		s.resolve(ctx)
	})
	return s.State()
}

// Refresh revalidates the stored token against the identity service.
func (s *Session) Refresh(ctx context.Context) State {
	s.resolve(ctx)
	return s.State()
}

func (s *Session) resolve(ctx context.Context) {
	s.setLoading(true)
	defer s.setLoading(false)

	snap, err := s.store.Get(ctx)
	if err != nil {
		s.log.Error("session load failed", zap.Error(err))
		s.reset(ctx)
		return
	}
	if snap.Token == "" {
		if snap.User != nil {
			s.log.Info("discarding cached user without token")
			s.reset(ctx)
			return
		}
		s.setUser(nil)
		return
	}

	optimistic := snap.User != nil
	if optimistic {
		s.setUser(snap.User)
	}

	user, err := s.identity.Me(ctx, snap.Token)
	if err == nil {
		if err := s.store.Set(ctx, snap.Token, user); err != nil {
			s.log.Warn("session cache refresh failed", zap.Error(err))
		}
		s.setUser(&user)
		return
	}

	// A rejection from the identity service is authoritative. Anything else
	// keeps an optimistic user so an outage does not log everyone out.
	if optimistic && !identity.IsKind(err, identity.KindServer) {
		s.log.Warn("session revalidation failed, keeping cached user", zap.Error(err))
		return
	}
	s.log.Info("session revalidation failed, clearing", zap.Error(err))
	s.reset(ctx)
}

// Login replaces any existing session with the one issued for email.
func (s *Session) Login(ctx context.Context, email, password string) Result {
	s.setLoading(true)
	defer s.setLoading(false)

	s.reset(ctx)

	resp, err := s.identity.Login(ctx, email, password)
	if err != nil {
		s.metrics.RecordCredentialResult("login", false)
		s.log.Info("login failed", zap.Error(err))
		return Result{Message: failureMessage(err)}
	}
	if err := s.store.Set(ctx, resp.Token, resp.User); err != nil {
		s.metrics.RecordCredentialResult("login", false)
		s.log.Error("login store failed", zap.Error(err))
		return Result{Message: msgStoreFailed}
	}
	user := resp.User
	s.setUser(&user)
	s.metrics.RecordCredentialResult("login", true)
	return Result{Success: true, Message: msgLoginSuccess, Token: resp.Token, User: cloneUser(&user)}
}

// Signup registers an account and stores the issued session. Navigation is
// left to the caller.
func (s *Session) Signup(ctx context.Context, name, email, password, role string) Result {
	s.setLoading(true)
	defer s.setLoading(false)

	resp, err := s.identity.Signup(ctx, identity.SignupRequest{
		Name:     name,
		Email:    email,
		Password: password,
		Role:     role,
	})
	if err != nil {
		s.metrics.RecordCredentialResult("signup", false)
		s.log.Info("signup failed", zap.Error(err))
		return Result{Message: failureMessage(err)}
	}
	if err := s.store.Set(ctx, resp.Token, resp.User); err != nil {
		s.metrics.RecordCredentialResult("signup", false)
		s.log.Error("signup store failed", zap.Error(err))
		return Result{Message: msgStoreFailed}
	}
	user := resp.User
	s.setUser(&user)
	s.metrics.RecordCredentialResult("signup", true)
	return Result{Success: true, Message: msgSignupSuccess}
}

// Logout clears the Token Store and the user. No network call is made.
func (s *Session) Logout(ctx context.Context) error {
	s.setUser(nil)
	return s.store.Clear(ctx)
}

func (s *Session) reset(ctx context.Context) {
	s.setUser(nil)
	if err := s.store.Clear(ctx); err != nil {
		s.log.Warn("session clear failed", zap.Error(err))
	}
}

func (s *Session) setUser(user *model.User) {
	s.mu.Lock()
	s.state.User = cloneUser(user)
	s.mu.Unlock()
}

func (s *Session) setLoading(loading bool) {
	s.mu.Lock()
	s.state.Loading = loading
	s.mu.Unlock()
}

func failureMessage(err error) string {
	if identity.IsKind(err, identity.KindTransport) {
		return msgUnreachable
	}
	if msg := err.Error(); msg != "" {
		return msg
	}
	return msgUnexpected
}

func cloneUser(u *model.User) *model.User {
	if u == nil {
		return nil
	}
	c := *u
	return &c
}
