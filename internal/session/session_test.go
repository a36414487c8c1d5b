package session_test

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gatepro/portal/internal/identity"
	"gatepro/portal/internal/identity/identitytest"
	"gatepro/portal/internal/model"
	"gatepro/portal/internal/session"
)

const testSecret = "test-secret"

type recordingMirror struct {
	mu     sync.Mutex
	token  string
	maxAge time.Duration
	sets   int
	clears int
}

func (m *recordingMirror) SetToken(token string, maxAge time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.token, m.maxAge = token, maxAge
	m.sets++
}

func (m *recordingMirror) ClearToken() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.token, m.maxAge = "", 0
	m.clears++
}

type fixture struct {
	svc     *identitytest.Server
	backend *session.MemoryBackend
	mirror  *recordingMirror
	store   *session.Store
	sess    *session.Session
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	svc := identitytest.New(t, testSecret)
	backend := session.NewMemoryBackend()
	mirror := &recordingMirror{}
	store := session.NewStore(backend, mirror, time.Hour)
	client := identity.New(svc.URL, identity.WithRetryDelay(time.Millisecond))
	return &fixture{
		svc:     svc,
		backend: backend,
		mirror:  mirror,
		store:   store,
		sess:    session.New(store, client),
	}
}

func TestNewSessionStartsLoading(t *testing.T) {
	f := newFixture(t)
	state := f.sess.State()
	assert.True(t, state.Loading)
	assert.Nil(t, state.User)
}

func TestLoginStoresTokenAndUser(t *testing.T) {
	f := newFixture(t)
	f.svc.AddUser(t, "Raju Kumar", "raju@example.com", "Passw0rd!", "admin")

	res := f.sess.Login(context.Background(), "raju@example.com", "Passw0rd!")
	require.True(t, res.Success, res.Message)
	assert.Equal(t, "Login successful", res.Message)
	assert.NotEmpty(t, res.Token)
	require.NotNil(t, res.User)
	assert.Contains(t, model.Roles(), res.User.NormalizedRole())

	snap, err := f.store.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, res.Token, snap.Token)
	assert.Equal(t, res.Token, f.mirror.token)
	assert.Equal(t, time.Hour, f.mirror.maxAge.Round(time.Minute))

	state := f.sess.State()
	assert.False(t, state.Loading)
	require.NotNil(t, state.User)
	assert.Equal(t, "raju@example.com", state.User.Email)
}

func TestLoginClearsPreviousSessionFirst(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.Set(ctx, "old-token", model.User{Name: "Old", Role: "teacher"}))

	res := f.sess.Login(ctx, "nobody@example.com", "whatever")
	assert.False(t, res.Success)
	assert.Equal(t, "Invalid credentials", res.Message)

	snap, err := f.store.Get(ctx)
	require.NoError(t, err)
	assert.True(t, snap.Empty())
	assert.Empty(t, f.mirror.token)
	assert.Nil(t, f.sess.State().User)
}

func TestLoginUnexpectedFormat(t *testing.T) {
	f := newFixture(t)
	f.svc.SetAuthHTML(true)

	res := f.sess.Login(context.Background(), "a@example.com", "x")
	assert.False(t, res.Success)
	assert.Equal(t, "Unexpected response format", res.Message)
}

func TestLoginTransportFailure(t *testing.T) {
	store := session.NewStore(session.NewMemoryBackend(), &recordingMirror{}, time.Hour)
	sess := session.New(store, identity.New("http://127.0.0.1:1", identity.WithTimeout(200*time.Millisecond)))

	res := sess.Login(context.Background(), "a@example.com", "x")
	assert.False(t, res.Success)
	assert.Equal(t, "Unable to reach the identity service", res.Message)
}

func TestSignupRoundTrip(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res := f.sess.Signup(ctx, "Asha", "asha@example.com", "Passw0rd!", "teacher")
	require.True(t, res.Success, res.Message)
	assert.Equal(t, "Signup successful", res.Message)

	snap, err := f.store.Get(ctx)
	require.NoError(t, err)
	require.NotNil(t, snap.User)
	assert.Equal(t, "teacher", snap.User.Role)
	assert.Equal(t, f.mirror.token, snap.Token)

	// The stored token is exactly what the service issued: it authenticates /me.
	client := identity.New(f.svc.URL)
	me, err := client.Me(ctx, snap.Token)
	require.NoError(t, err)
	assert.Equal(t, *snap.User, me)
}

func TestSignupFailureLeavesStoreUntouched(t *testing.T) {
	f := newFixture(t)
	f.svc.AddUser(t, "Asha", "asha@example.com", "Passw0rd!", "teacher")

	res := f.sess.Signup(context.Background(), "Asha", "asha@example.com", "Passw0rd!", "teacher")
	assert.False(t, res.Success)
	assert.Equal(t, "User already exists", res.Message)
	assert.Equal(t, 0, f.mirror.sets)
}

func TestLogoutThenGetIsEmpty(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.svc.AddUser(t, "S", "s@example.com", "Passw0rd!", "student")
	require.True(t, f.sess.Login(ctx, "s@example.com", "Passw0rd!").Success)

	require.NoError(t, f.sess.Logout(ctx))

	snap, err := f.store.Get(ctx)
	require.NoError(t, err)
	assert.Empty(t, snap.Token)
	assert.Nil(t, snap.User)
	assert.Empty(t, f.mirror.token)
	assert.Nil(t, f.sess.State().User)
}

func TestInitWithoutTokenSkipsIdentity(t *testing.T) {
	f := newFixture(t)

	state := f.sess.Init(context.Background())
	assert.False(t, state.Loading)
	assert.Nil(t, state.User)
	assert.Equal(t, 0, f.svc.MeCalls())
}

func TestInitDiscardsCachedUserWithoutToken(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.backend.Save(ctx, session.Snapshot{User: &model.User{Name: "Ghost", Role: "admin"}}, time.Hour))

	state := f.sess.Init(ctx)
	assert.Nil(t, state.User)
	snap, err := f.store.Get(ctx)
	require.NoError(t, err)
	assert.True(t, snap.Empty())
}

func TestInitRevalidatesAndRefreshesCache(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := f.svc.AddUser(t, "Fresh Name", "t@example.com", "Passw0rd!", "teacher")
	token := f.svc.Token(t, user)
	require.NoError(t, f.store.Set(ctx, token, model.User{Name: "Stale Name", Email: "t@example.com", Role: "teacher"}))

	state := f.sess.Init(ctx)
	require.NotNil(t, state.User)
	assert.Equal(t, "Fresh Name", state.User.Name)

	snap, err := f.store.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, token, snap.Token)
	assert.Equal(t, "Fresh Name", snap.User.Name)

	// Init runs once per session.
	f.sess.Init(ctx)
	assert.Equal(t, 1, f.svc.MeCalls())
}

func TestInitTokenWithoutCachedUser(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := f.svc.AddUser(t, "S", "s@example.com", "Passw0rd!", "student")
	require.NoError(t, f.backend.Save(ctx, session.Snapshot{Token: f.svc.Token(t, user)}, time.Hour))

	state := f.sess.Init(ctx)
	require.NotNil(t, state.User)
	assert.Equal(t, "student", state.User.Role)
}

func TestRefreshRejectedTokenClearsEvenWithCache(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.Set(ctx, "revoked", model.User{Name: "S", Role: "student"}))
	f.svc.SetMeStatus(http.StatusUnauthorized)

	state := f.sess.Refresh(ctx)
	assert.False(t, state.Loading)
	assert.Nil(t, state.User)
	snap, err := f.store.Get(ctx)
	require.NoError(t, err)
	assert.True(t, snap.Empty())
	assert.Empty(t, f.mirror.token)
}

func TestRefreshFormatFailureKeepsOptimisticUser(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.Set(ctx, "tok", model.User{Name: "S", Role: "student"}))
	f.svc.SetMeHTML(true)

	state := f.sess.Refresh(ctx)
	require.NotNil(t, state.User)
	assert.Equal(t, "S", state.User.Name)
	snap, err := f.store.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, "tok", snap.Token)
}

func TestRefreshTransportFailureWithoutCacheClears(t *testing.T) {
	ctx := context.Background()
	backend := session.NewMemoryBackend()
	mirror := &recordingMirror{}
	store := session.NewStore(backend, mirror, time.Hour)
	require.NoError(t, backend.Save(ctx, session.Snapshot{Token: "tok"}, time.Hour))

	sess := session.New(store, identity.New("http://127.0.0.1:1",
		identity.WithTimeout(200*time.Millisecond), identity.WithRetryDelay(time.Millisecond)))
	state := sess.Init(ctx)
	assert.Nil(t, state.User)
	snap, err := store.Get(ctx)
	require.NoError(t, err)
	assert.True(t, snap.Empty())
	assert.Equal(t, 1, mirror.clears)
}

type failingBackend struct {
	session.MemoryBackend
	deletes int
}

func (b *failingBackend) Save(context.Context, session.Snapshot, time.Duration) error {
	return errors.New("disk full")
}

func (b *failingBackend) Delete(ctx context.Context) error {
	b.deletes++
	return nil
}

func TestStoreSetFailureClearsMirror(t *testing.T) {
	backend := &failingBackend{}
	mirror := &recordingMirror{token: "previous"}
	store := session.NewStore(backend, mirror, time.Hour)

	err := store.Set(context.Background(), "tok", model.User{Role: "student"})
	require.Error(t, err)
	assert.Empty(t, mirror.token)
	assert.Equal(t, 1, backend.deletes)
}
