// Package identity is the HTTP client for the external identity service that
// issues session tokens.
package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"gatepro/portal/internal/logger"
	"gatepro/portal/internal/metrics"
	"gatepro/portal/internal/model"
)

const (
	pathMe     = "/api/auth/me"
	pathLogin  = "/api/auth/login"
	pathSignup = "/api/auth/signup"

	maxBodyBytes = 1 << 20
)

type AuthResponse struct {
	Token string     `json:"token"`
	User  model.User `json:"user"`
}

type SignupRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type errorBody struct {
	Message string `json:"message"`
}

type Client struct {
	baseURL    string
	http       *http.Client
	retryDelay time.Duration
	log        *zap.Logger
	metrics    metrics.Recorder
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.http.Timeout = timeout
		}
	}
}

func WithRetryDelay(delay time.Duration) Option {
	return func(c *Client) {
		if delay >= 0 {
			c.retryDelay = delay
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(c *Client) {
		c.log = logger.OrNop(l)
	}
}

func WithMetrics(m metrics.Recorder) Option {
	return func(c *Client) {
		if m != nil {
			c.metrics = m
		}
	}
}

func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		http:       &http.Client{Timeout: 10 * time.Second},
		retryDelay: 250 * time.Millisecond,
		log:        zap.NewNop(),
		metrics:    metrics.Nop{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Me fetches the user behind token. Transport failures are retried once;
// answers from the service are never retried.
func (c *Client) Me(ctx context.Context, token string) (model.User, error) {
	start := time.Now()
	var user model.User
	attempt := 0
	op := func() error {
		attempt++
		u, err := c.me(ctx, token)
		if err != nil {
			if IsKind(err, KindTransport) && ctx.Err() == nil {
				c.log.Warn("identity me transport failure", zap.Int("attempt", attempt), zap.Error(err))
				return err
			}
			return backoff.Permanent(err)
		}
		user = u
		return nil
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(c.retryDelay), 1), ctx)
	err := backoff.Retry(op, policy)
	c.record("me", err, start)
	return user, err
}

func (c *Client) me(ctx context.Context, token string) (model.User, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+pathMe, nil)
	if err != nil {
		return model.User{}, &Error{Kind: KindTransport, Op: "me", Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return model.User{}, &Error{Kind: KindTransport, Op: "me", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyBytes))
		return model.User{}, &Error{Kind: KindServer, Op: "me", Status: resp.StatusCode}
	}
	if !isJSON(resp.Header.Get("Content-Type")) {
		return model.User{}, &Error{Kind: KindFormat, Op: "me", Status: resp.StatusCode, Message: msgUnexpectedFormat}
	}
	var user model.User
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodyBytes)).Decode(&user); err != nil {
		return model.User{}, &Error{Kind: KindFormat, Op: "me", Status: resp.StatusCode, Message: msgUnexpectedFormat, Err: err}
	}
	return user, nil
}

func (c *Client) Login(ctx context.Context, email, password string) (AuthResponse, error) {
	start := time.Now()
	resp, err := c.postCredentials(ctx, "login", pathLogin, loginRequest{Email: email, Password: password}, "Login failed")
	c.record("login", err, start)
	return resp, err
}

func (c *Client) Signup(ctx context.Context, req SignupRequest) (AuthResponse, error) {
	start := time.Now()
	resp, err := c.postCredentials(ctx, "signup", pathSignup, req, "Signup failed")
	c.record("signup", err, start)
	return resp, err
}

func (c *Client) postCredentials(ctx context.Context, op, path string, body interface{}, fallback string) (AuthResponse, error) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(body); err != nil {
		return AuthResponse{}, &Error{Kind: KindTransport, Op: op, Err: err}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, &buf)
	if err != nil {
		return AuthResponse{}, &Error{Kind: KindTransport, Op: op, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return AuthResponse{}, &Error{Kind: KindTransport, Op: op, Err: err}
	}
	defer resp.Body.Close()

	if !isJSON(resp.Header.Get("Content-Type")) {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyBytes))
		return AuthResponse{}, &Error{Kind: KindFormat, Op: op, Status: resp.StatusCode, Message: msgUnexpectedFormat}
	}
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return AuthResponse{}, &Error{Kind: KindTransport, Op: op, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var eb errorBody
		_ = json.Unmarshal(raw, &eb)
		message := strings.TrimSpace(eb.Message)
		if message == "" {
			message = fallback
		}
		return AuthResponse{}, &Error{Kind: KindServer, Op: op, Status: resp.StatusCode, Message: message}
	}

	var out AuthResponse
	if err := json.Unmarshal(raw, &out); err != nil || out.Token == "" {
		return AuthResponse{}, &Error{Kind: KindFormat, Op: op, Status: resp.StatusCode, Message: msgUnexpectedFormat, Err: err}
	}
	return out, nil
}

func (c *Client) record(op string, err error, start time.Time) {
	result := "ok"
	if err != nil {
		var idErr *Error
		if errors.As(err, &idErr) {
			result = idErr.Kind.String()
		} else {
			result = "error"
		}
	}
	c.metrics.RecordIdentityCall(op, result, time.Since(start))
}

func isJSON(contentType string) bool {
	if contentType == "" {
		return false
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return strings.Contains(contentType, "application/json")
	}
	return mediaType == "application/json" || strings.HasSuffix(mediaType, "+json")
}
