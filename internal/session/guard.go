package session

import "gatepro/portal/internal/model"

const (
	LoginPath = "/login"
	HomePath  = "/"
)

type Decision int

const (
	// DecisionPending means the session is still resolving; render a neutral
	// placeholder and do not navigate.
	DecisionPending Decision = iota
	DecisionRedirect
	DecisionAllow
)

func (d Decision) String() string {
	switch d {
	case DecisionPending:
		return "pending"
	case DecisionRedirect:
		return "redirect"
	case DecisionAllow:
		return "allow"
	default:
		return "unknown"
	}
}

// Guard decides whether a view requiring role may render for state. It is a
// UX check; the gate is what enforces access. Redirects always go to LoginPath.
func Guard(state State, required model.Role) Decision {
	if state.Loading {
		return DecisionPending
	}
	if !state.User.HasRole(required) {
		return DecisionRedirect
	}
	return DecisionAllow
}
