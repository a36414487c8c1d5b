// Package gate is the server-side authorization check for role dashboards.
// It runs before any page handler and is the only enforcement point.
package gate

import (
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"gatepro/portal/internal/auth"
	"gatepro/portal/internal/logger"
	"gatepro/portal/internal/metrics"
	"gatepro/portal/internal/model"
)

const (
	TokenCookieName = "token"
	LoginPath       = "/login"
	HomePath        = "/"
)

type Outcome string

const (
	OutcomeNotProtected  Outcome = "not_protected"
	OutcomeAllow         Outcome = "allow"
	OutcomeRedirectLogin Outcome = "redirect_login"
	OutcomeRedirectHome  Outcome = "redirect_home"
)

// Reason explains a decision for logs only; it never reaches the client.
type Reason string

const (
	ReasonNone          Reason = ""
	ReasonMissingToken  Reason = "missing_token"
	ReasonMissingSecret Reason = "missing_secret"
	ReasonInvalidToken  Reason = "invalid_token"
	ReasonRoleMismatch  Reason = "role_mismatch"
)

type Decision struct {
	Outcome  Outcome
	Location string
	Reason   Reason
	Required model.Role
}

// Rule maps a path prefix to the role allowed behind it.
type Rule struct {
	Prefix string
	Role   model.Role
}

func DefaultRules() []Rule {
	return []Rule{
		{Prefix: "/admin", Role: model.RoleAdmin},
		{Prefix: "/teacher", Role: model.RoleTeacher},
		{Prefix: "/student", Role: model.RoleStudent},
	}
}

type Gate struct {
	secret  string
	rules   []Rule
	log     *zap.Logger
	metrics metrics.Recorder
}

type Option func(*Gate)

func WithRules(rules []Rule) Option {
	return func(g *Gate) {
		g.rules = rules
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(g *Gate) {
		g.log = logger.OrNop(l)
	}
}

func WithMetrics(m metrics.Recorder) Option {
	return func(g *Gate) {
		if m != nil {
			g.metrics = m
		}
	}
}

// New builds a gate verifying tokens with secret. An empty secret denies
// every protected request.
func New(secret string, opts ...Option) *Gate {
	g := &Gate{
		secret:  secret,
		rules:   DefaultRules(),
		log:     zap.NewNop(),
		metrics: metrics.Nop{},
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Match returns the rule protecting path. Matching is per path segment and
// ignores case, so /Admin/x and /admin/x are the same protected area.
func (g *Gate) Match(path string) (Rule, bool) {
	for _, rule := range g.rules {
		if hasPrefixFold(path, rule.Prefix) {
			return rule, true
		}
	}
	return Rule{}, false
}

// Decide evaluates one request's path and token cookie value.
func (g *Gate) Decide(path, token string) Decision {
	rule, ok := g.Match(path)
	if !ok {
		return Decision{Outcome: OutcomeNotProtected}
	}
	deny := func(reason Reason) Decision {
		return Decision{Outcome: OutcomeRedirectLogin, Location: LoginPath, Reason: reason, Required: rule.Role}
	}
	if token == "" {
		return deny(ReasonMissingToken)
	}
	if g.secret == "" {
		return deny(ReasonMissingSecret)
	}
	claims, err := auth.ParseToken(g.secret, token)
	if err != nil {
		if errors.Is(err, auth.ErrMissingSecret) {
			return deny(ReasonMissingSecret)
		}
		return deny(ReasonInvalidToken)
	}
	if claims.NormalizedRole() != string(rule.Role) {
		return Decision{Outcome: OutcomeRedirectHome, Location: HomePath, Reason: ReasonRoleMismatch, Required: rule.Role}
	}
	return Decision{Outcome: OutcomeAllow, Required: rule.Role}
}

// Middleware forwards allowed and unprotected requests unchanged and
// redirects everything else.
func (g *Gate) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := ""
		if cookie, err := r.Cookie(TokenCookieName); err == nil {
			token = cookie.Value
		}
		decision := g.Decide(r.URL.Path, token)
		if decision.Outcome == OutcomeNotProtected {
			next.ServeHTTP(w, r)
			return
		}

		g.metrics.RecordGateDecision(string(decision.Outcome))
		if decision.Outcome == OutcomeAllow {
			g.log.Debug("gate allow", zap.String("path", r.URL.Path), zap.String("role", string(decision.Required)))
			next.ServeHTTP(w, r)
			return
		}

		g.log.Info("gate deny",
			zap.String("path", r.URL.Path),
			zap.String("outcome", string(decision.Outcome)),
			zap.String("reason", string(decision.Reason)),
		)
		if decision.Reason == ReasonMissingSecret {
			g.log.Error("gate has no signing secret configured")
		}
		w.Header().Set("Cache-Control", "no-store")
		http.Redirect(w, r, decision.Location, http.StatusTemporaryRedirect)
	})
}

func hasPrefixFold(path, prefix string) bool {
	if len(path) < len(prefix) || !strings.EqualFold(path[:len(prefix)], prefix) {
		return false
	}
	return len(path) == len(prefix) || path[len(prefix)] == '/'
}
