package http

import (
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gatepro/portal/internal/config"
	"gatepro/portal/internal/identity"
	"gatepro/portal/internal/identity/identitytest"
	"gatepro/portal/internal/metrics"
	"gatepro/portal/internal/middleware"
	"gatepro/portal/internal/session"
)

const testSecret = "portal-test-secret"

type harness struct {
	identity *identitytest.Server
	backends *session.MemoryBackends
	app      *httptest.Server
	client   *http.Client
	registry *prometheus.Registry
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	idp := identitytest.New(t, testSecret)
	cfg := config.Config{
		JWTSecret:         testSecret,
		IdentityURL:       idp.URL,
		TokenCookieMaxAge: time.Hour,
	}
	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)
	client := identity.New(idp.URL, identity.WithRetryDelay(time.Millisecond))

	backends := session.NewMemoryBackends()
	opts = append([]Option{WithMetrics(collector, registry)}, opts...)
	server, err := NewServer(cfg, client, backends, opts...)
	require.NoError(t, err)
	app := httptest.NewServer(server.Router())
	t.Cleanup(app.Close)

	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	return &harness{
		identity: idp,
		backends: backends,
		app:      app,
		registry: registry,
		client: &http.Client{
			Jar: jar,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

func (h *harness) get(t *testing.T, path string) (*http.Response, string) {
	t.Helper()
	resp, err := h.client.Get(h.app.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, string(body)
}

func (h *harness) post(t *testing.T, path string, form url.Values) (*http.Response, string) {
	t.Helper()
	resp, err := h.client.PostForm(h.app.URL+path, form)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, string(body)
}

func (h *harness) cookie(name string) *http.Cookie {
	u, _ := url.Parse(h.app.URL)
	for _, c := range h.client.Jar.Cookies(u) {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func TestHealth(t *testing.T) {
	h := newHarness(t)
	resp, body := h.get(t, "/health")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"status":"ok"}`, body)
}

func TestProtectedPathWithoutCookieRedirectsToLogin(t *testing.T) {
	h := newHarness(t)
	resp, _ := h.get(t, "/admin/reports")
	assert.Equal(t, http.StatusTemporaryRedirect, resp.StatusCode)
	assert.Equal(t, "/login", resp.Header.Get("Location"))
}

func TestSignupLoginDashboardLogout(t *testing.T) {
	h := newHarness(t)

	resp, _ := h.post(t, "/signup", url.Values{
		"fullName": {"Ana Student"},
		"email":    {"ana@example.com"},
		"password": {"Passw0rd!"},
		"role":     {"Student"},
	})
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)
	assert.Equal(t, "/login?registered=1", resp.Header.Get("Location"))

	_, body := h.get(t, "/login?registered=1")
	assert.Contains(t, body, msgRegistered)

	resp, _ = h.post(t, "/login", url.Values{"email": {"ana@example.com"}, "password": {"Passw0rd!"}})
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)
	assert.Equal(t, "/student", resp.Header.Get("Location"))
	require.NotNil(t, h.cookie(session.TokenCookieName))
	require.NotNil(t, h.cookie(clientIDCookieName))

	resp, body = h.get(t, "/student/tests")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "Student Panel")
	assert.Contains(t, body, "Welcome, Ana Student!")

	resp, _ = h.get(t, "/teacher")
	assert.Equal(t, http.StatusTemporaryRedirect, resp.StatusCode)
	assert.Equal(t, "/", resp.Header.Get("Location"))

	resp, _ = h.post(t, "/logout", url.Values{})
	assert.Equal(t, http.StatusSeeOther, resp.StatusCode)
	assert.Nil(t, h.cookie(session.TokenCookieName))

	resp, _ = h.get(t, "/student")
	assert.Equal(t, http.StatusTemporaryRedirect, resp.StatusCode)
	assert.Equal(t, "/login", resp.Header.Get("Location"))
}

func TestLoginValidation(t *testing.T) {
	h := newHarness(t)
	resp, body := h.post(t, "/login", url.Values{"email": {"not-an-email"}})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, body, "Invalid email format.")
	assert.Contains(t, body, "Password is required.")
	assert.Equal(t, 0, h.identity.MeCalls())
}

func TestLoginRejected(t *testing.T) {
	h := newHarness(t)
	h.identity.AddUser(t, "Tom", "tom@example.com", "Passw0rd!", "teacher")

	resp, body := h.post(t, "/login", url.Values{"email": {"tom@example.com"}, "password": {"wrong"}})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Contains(t, body, "Invalid credentials")
	assert.Nil(t, h.cookie(session.TokenCookieName))
}

func TestSignupPasswordPolicy(t *testing.T) {
	h := newHarness(t)
	resp, body := h.post(t, "/signup", url.Values{
		"fullName": {"Ana"},
		"email":    {"ana@example.com"},
		"password": {"password1!"},
		"role":     {"student"},
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, body, "at least one uppercase letter")
}

func TestLegacyCapitalizedPathRedirects(t *testing.T) {
	h := newHarness(t)
	resp, _ := h.get(t, "/Teacher")
	assert.Equal(t, http.StatusTemporaryRedirect, resp.StatusCode)
	assert.Equal(t, "/login", resp.Header.Get("Location"))

	user := h.identity.AddUser(t, "Tom", "tom@example.com", "Passw0rd!", "teacher")
	u, _ := url.Parse(h.app.URL)
	h.client.Jar.SetCookies(u, []*http.Cookie{{Name: session.TokenCookieName, Value: h.identity.Token(t, user), Path: "/"}})

	resp, _ = h.get(t, "/Teacher/classes?tab=1")
	assert.Equal(t, http.StatusPermanentRedirect, resp.StatusCode)
	assert.Equal(t, "/teacher/classes?tab=1", resp.Header.Get("Location"))
}

func TestDashboardAdoptsTokenCookie(t *testing.T) {
	h := newHarness(t)
	user := h.identity.AddUser(t, "Ada", "ada@example.com", "Passw0rd!", "ADMIN")
	u, _ := url.Parse(h.app.URL)
	h.client.Jar.SetCookies(u, []*http.Cookie{{Name: session.TokenCookieName, Value: h.identity.Token(t, user), Path: "/"}})

	resp, body := h.get(t, "/admin")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "Admin Panel")
	assert.Equal(t, 1, h.identity.MeCalls())
}

func TestDashboardRevokedTokenRedirectsToLogin(t *testing.T) {
	h := newHarness(t)
	user := h.identity.AddUser(t, "Sam", "sam@example.com", "Passw0rd!", "student")
	u, _ := url.Parse(h.app.URL)
	h.client.Jar.SetCookies(u, []*http.Cookie{{Name: session.TokenCookieName, Value: h.identity.Token(t, user), Path: "/"}})
	h.identity.SetMeStatus(http.StatusUnauthorized)

	resp, _ := h.get(t, "/student")
	assert.Equal(t, http.StatusSeeOther, resp.StatusCode)
	assert.Equal(t, "/login", resp.Header.Get("Location"))
	assert.Nil(t, h.cookie(session.TokenCookieName))
}

func TestSearchAPI(t *testing.T) {
	h := newHarness(t)
	resp, body := h.get(t, "/api/search?q=algo")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"results":[{"label":"Algorithms","href":"/topics/algorithms"}]}`, body)

	_, body = h.get(t, "/api/search")
	assert.JSONEq(t, `{"results":[]}`, body)

	_, body = h.get(t, "/api/nav")
	assert.Contains(t, body, `"testSeries"`)
	assert.Contains(t, body, "/analytics/report")
}

func TestTopicPage(t *testing.T) {
	h := newHarness(t)
	resp, body := h.get(t, "/topics/digital-logic")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "Digital Logic")

	resp, _ = h.get(t, "/topics/astrology")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestLoginRateLimited(t *testing.T) {
	rl := middleware.NewRateLimiter(middleware.RateLimiterConfig{Rate: 0.001, Burst: 1, CleanupInterval: time.Minute}, nil)
	t.Cleanup(rl.Stop)
	h := newHarness(t, WithRateLimiter(rl))

	resp, _ := h.post(t, "/login", url.Values{"email": {"x@example.com"}, "password": {"x"}})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp, _ = h.post(t, "/login", url.Values{"email": {"x@example.com"}, "password": {"x"}})
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
}

func TestMetricsEndpoint(t *testing.T) {
	h := newHarness(t)
	h.get(t, "/admin")
	resp, body := h.get(t, "/metrics")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, strings.Contains(body, `portal_gate_decisions_total{outcome="redirect_login"} 1`), body)
}

func TestSecurityHeadersApplied(t *testing.T) {
	h := newHarness(t)
	resp, _ := h.get(t, "/")
	assert.Equal(t, "DENY", resp.Header.Get("X-Frame-Options"))
}

func TestAnonymousPagesAllocateNoSessionSlot(t *testing.T) {
	h := newHarness(t)
	anon := &http.Client{}
	for i := 0; i < 20; i++ {
		for _, path := range []string{"/", "/search?q=algo", "/topics/algorithms"} {
			resp, err := anon.Get(h.app.URL + path)
			require.NoError(t, err)
			resp.Body.Close()
			assert.Equal(t, http.StatusOK, resp.StatusCode, path)
			assert.Empty(t, resp.Header.Values("Set-Cookie"), path)
		}
	}
	resp, err := anon.PostForm(h.app.URL+"/logout", url.Values{})
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, 0, h.backends.Len())
}

func TestClientIDReplacesInvalidCookie(t *testing.T) {
	server, err := NewServer(config.Config{}, nil, session.NewMemoryBackends())
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: clientIDCookieName, Value: "not-a-uuid"})
	req.AddCookie(&http.Cookie{Name: session.TokenCookieName, Value: "tok"})
	w := httptest.NewRecorder()

	first := server.clientID(w, req)
	second := server.clientID(w, req)
	assert.Equal(t, first, second)
	assert.Len(t, w.Result().Cookies(), 1)

	var sids int
	for _, c := range req.Cookies() {
		if c.Name == clientIDCookieName {
			sids++
			assert.Equal(t, first, c.Value)
		}
	}
	assert.Equal(t, 1, sids)
	token, err := req.Cookie(session.TokenCookieName)
	require.NoError(t, err)
	assert.Equal(t, "tok", token.Value)
}
