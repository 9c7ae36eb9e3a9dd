package identity_test

import (
	"context"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/i474232898/weather-api/internal/appconfig"
	"github.com/i474232898/weather-api/internal/apperr"
	"github.com/i474232898/weather-api/internal/email"
	"github.com/i474232898/weather-api/internal/identity"
	"github.com/i474232898/weather-api/internal/store"
)

type stubClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *stubClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *stubClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type outbox struct {
	mu   sync.Mutex
	sent []email.Message
}

func (o *outbox) Send(_ context.Context, msg email.Message) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.sent = append(o.sent, msg)
	return nil
}

func (o *outbox) last(t *testing.T) email.Message {
	t.Helper()
	o.mu.Lock()
	defer o.mu.Unlock()
	require.NotEmpty(t, o.sent)
	return o.sent[len(o.sent)-1]
}

// linkFrom extracts the sign-in URL from a magic-link email.
func linkFrom(t *testing.T, msg email.Message) *url.URL {
	t.Helper()
	for _, line := range strings.Split(msg.Text, "\n") {
		if strings.Contains(line, "token=") {
			u, err := url.Parse(line)
			require.NoError(t, err)
			return u
		}
	}
	t.Fatalf("no link in %q", msg.Text)
	return nil
}

type harness struct {
	mem   *store.MemoryStore
	clock *stubClock
	box   *outbox
	flow  *identity.MagicLinkFlow
}

func newHarness(t *testing.T, cfg identity.FlowConfig) *harness {
	t.Helper()
	h := &harness{
		mem:   store.NewMemoryStore(),
		clock: &stubClock{now: time.Date(2024, 1, 15, 9, 0, 0, 0, time.UTC)},
		box:   &outbox{},
	}
	sessions, err := identity.NewSessions("session-secret", cfg.Audience)
	require.NoError(t, err)
	cfg.Clock = h.clock
	h.flow = identity.NewMagicLinkFlow(cfg, h.mem, h.mem, h.box, sessions, appconfig.Static{})
	return h
}

func adminConfig() identity.FlowConfig {
	return identity.FlowConfig{
		Audience:           identity.AudienceAdmin,
		VerifyPath:         "/admin/auth/verify",
		DefaultRedirect:    "/admin.html",
		Subject:            "admin login",
		LinkBaseURL:        "https://api.example.com",
		BootstrapEmail:     "Owner@Example.com",
		RequireAdminAccess: true,
		MagicTTLKey:        appconfig.KeyAuthTokenMinutes,
		SessionTTLKey:      appconfig.KeyBackendSessionMinutes,
	}
}

func frontendConfig() identity.FlowConfig {
	return identity.FlowConfig{
		Audience:           identity.AudienceFrontend,
		VerifyPath:         "/auth/verify",
		DefaultRedirect:    "/",
		Subject:            "login",
		LinkBaseURL:        "https://api.example.com",
		RedirectBaseURL:    "https://app.example.com",
		AllowNewUsers:      true,
		ClosedSignupNotice: true,
		MagicTTLKey:        appconfig.KeyAuthTokenMinutes,
		SessionTTLKey:      appconfig.KeyFrontendSessionMinutes,
	}
}

func (h *harness) requestToken(t *testing.T, addr string, mode identity.LinkMode) string {
	t.Helper()
	err := h.flow.RequestLink(context.Background(), identity.LinkRequest{Email: addr, RedirectPath: "/dash", Mode: mode})
	require.NoError(t, err)
	return linkFrom(t, h.box.last(t)).Query().Get("token")
}

func messageOf(t *testing.T, err error) string {
	t.Helper()
	appErr, ok := apperr.As(err)
	require.True(t, ok, "unexpected error %v", err)
	return appErr.Message
}

func TestBootstrapOwnerReceivesLink(t *testing.T) {
	h := newHarness(t, adminConfig())
	ctx := context.Background()

	require.NoError(t, h.flow.RequestLink(ctx, identity.LinkRequest{Email: " owner@example.com ", RedirectPath: "//evil.com"}))
	link := linkFrom(t, h.box.last(t))
	assert.Equal(t, "api.example.com", link.Host)
	assert.Equal(t, "/admin/auth/verify", link.Path)
	assert.Equal(t, "/admin.html", link.Query().Get("redirect"))
	assert.Len(t, link.Query().Get("token"), 64)
	assert.Contains(t, h.box.last(t).Text, "expires in 15 minutes")

	owner, err := h.mem.FindUserByEmail(ctx, "owner@example.com")
	require.NoError(t, err)
	assert.Equal(t, identity.RoleOwner, owner.Role)
	assert.True(t, owner.AdminAccess)
}

func TestAdminLinkIsNotSentToUnknownOrNonAdminUsers(t *testing.T) {
	h := newHarness(t, adminConfig())
	ctx := context.Background()
	require.NoError(t, h.mem.CreateUser(ctx, &identity.User{ID: "u1", Email: "reader@example.com", Role: identity.RoleReadonly, Status: identity.UserActive}))

	require.NoError(t, h.flow.RequestLink(ctx, identity.LinkRequest{Email: "nobody@example.com"}))
	require.NoError(t, h.flow.RequestLink(ctx, identity.LinkRequest{Email: "reader@example.com"}))
	assert.Empty(t, h.box.sent)

	err := h.flow.RequestLink(ctx, identity.LinkRequest{Email: "  "})
	assert.Equal(t, 400, apperr.Status(err))
}

func TestClosedSignupSendsCourtesyEmail(t *testing.T) {
	cfg := frontendConfig()
	cfg.AllowNewUsers = false
	h := newHarness(t, cfg)

	require.NoError(t, h.flow.RequestLink(context.Background(), identity.LinkRequest{Email: "new@example.com"}))
	msg := h.box.last(t)
	assert.Equal(t, []string{"new@example.com"}, msg.To)
	assert.NotContains(t, msg.Text, "token=")

	_, err := h.mem.FindUserByEmail(context.Background(), "new@example.com")
	assert.ErrorIs(t, err, identity.ErrUserNotFound)
}

func TestVerifyIsSingleUse(t *testing.T) {
	h := newHarness(t, adminConfig())
	ctx := context.Background()
	token := h.requestToken(t, "owner@example.com", identity.ModeCookie)

	user, err := h.flow.Verify(ctx, token, identity.ClientMeta{IP: "10.0.0.1", UserAgent: "test"})
	require.NoError(t, err)
	assert.Equal(t, "owner@example.com", user.Email)

	stored, err := h.mem.GetUser(ctx, user.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.LastLoginAt)
	assert.Equal(t, "10.0.0.1", stored.LastLoginIP)

	_, err = h.flow.Verify(ctx, token, identity.ClientMeta{})
	assert.Equal(t, 401, apperr.Status(err))
	assert.Equal(t, "Token already used", messageOf(t, err))
	assert.ErrorIs(t, err, identity.ErrTokenUsed)

	_, err = h.flow.Verify(ctx, "bogus", identity.ClientMeta{})
	assert.Equal(t, "Invalid token", messageOf(t, err))
}

func TestVerifyRejectsExpiredToken(t *testing.T) {
	h := newHarness(t, adminConfig())
	token := h.requestToken(t, "owner@example.com", identity.ModeCookie)

	h.clock.Advance(16 * time.Minute)
	_, err := h.flow.Verify(context.Background(), token, identity.ClientMeta{})
	assert.Equal(t, "Token expired", messageOf(t, err))
}

func TestVerifyConsumesOnceUnderConcurrency(t *testing.T) {
	h := newHarness(t, adminConfig())
	token := h.requestToken(t, "owner@example.com", identity.ModeCookie)

	var ok int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := h.flow.Verify(context.Background(), token, identity.ClientMeta{}); err == nil {
				atomic.AddInt32(&ok, 1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), ok)
}

func TestSessionRoundTrip(t *testing.T) {
	h := newHarness(t, adminConfig())
	ctx := context.Background()
	token := h.requestToken(t, "owner@example.com", identity.ModeCookie)
	user, err := h.flow.Verify(ctx, token, identity.ClientMeta{})
	require.NoError(t, err)

	session, err := h.flow.StartSession(user)
	require.NoError(t, err)
	got, err := h.flow.SessionUser(ctx, session)
	require.NoError(t, err)
	assert.Equal(t, user.ID, got.ID)

	_, err = h.flow.SessionUser(ctx, session+"x")
	assert.Equal(t, 401, apperr.Status(err))

	h.clock.Advance(61 * time.Minute)
	_, err = h.flow.SessionUser(ctx, session)
	assert.Error(t, err)
}

func TestSessionFromOtherAudienceIsRejected(t *testing.T) {
	admin := newHarness(t, adminConfig())
	frontendSessions, err := identity.NewSessions("session-secret", identity.AudienceFrontend)
	require.NoError(t, err)

	forged, err := frontendSessions.Issue(&identity.User{ID: "u1", Email: "a@example.com"}, time.Hour)
	require.NoError(t, err)
	_, err = admin.flow.SessionUser(context.Background(), forged)
	assert.Error(t, err)
}

func TestRefreshRotationDetectsReplay(t *testing.T) {
	h := newHarness(t, frontendConfig())
	ctx := context.Background()
	token := h.requestToken(t, "fan@example.com", identity.ModeToken)

	pair, err := h.flow.VerifyForTokens(ctx, token, identity.ClientMeta{})
	require.NoError(t, err)
	assert.Equal(t, 15, pair.ExpiresInMinutes)
	_, err = h.flow.SessionUser(ctx, pair.AccessToken)
	require.NoError(t, err)

	next, err := h.flow.Refresh(ctx, pair.RefreshToken, identity.ClientMeta{})
	require.NoError(t, err)
	require.NotEqual(t, pair.RefreshToken, next.RefreshToken)

	old, err := h.mem.FindRefreshToken(ctx, identity.HashToken(pair.RefreshToken))
	require.NoError(t, err)
	require.NotNil(t, old.UsedAt)
	assert.Equal(t, identity.HashToken(next.RefreshToken), old.ReplacedByTokenHash)

	_, err = h.flow.Refresh(ctx, pair.RefreshToken, identity.ClientMeta{})
	assert.Equal(t, 401, apperr.Status(err))
	assert.ErrorIs(t, err, identity.ErrRefreshReused)

	// reuse revoked the whole chain
	_, err = h.flow.Refresh(ctx, next.RefreshToken, identity.ClientMeta{})
	assert.ErrorIs(t, err, identity.ErrRefreshRevoked)
}

func TestLogoutRevokesRefreshToken(t *testing.T) {
	h := newHarness(t, frontendConfig())
	ctx := context.Background()
	token := h.requestToken(t, "fan@example.com", identity.ModeToken)
	pair, err := h.flow.VerifyForTokens(ctx, token, identity.ClientMeta{})
	require.NoError(t, err)

	require.NoError(t, h.flow.Logout(ctx, pair.RefreshToken))
	require.NoError(t, h.flow.Logout(ctx, "unknown"))

	_, err = h.flow.Refresh(ctx, pair.RefreshToken, identity.ClientMeta{})
	assert.Equal(t, "Refresh token revoked", messageOf(t, err))
}

func TestTokenModeLinkAndRedirects(t *testing.T) {
	h := newHarness(t, frontendConfig())
	err := h.flow.RequestLink(context.Background(), identity.LinkRequest{Email: "fan@example.com", RedirectPath: "/forecast", Mode: identity.ModeToken})
	require.NoError(t, err)
	link := linkFrom(t, h.box.last(t))
	assert.Equal(t, "token", link.Query().Get("mode"))
	assert.Equal(t, "/forecast", link.Query().Get("redirect"))

	assert.Equal(t, "https://app.example.com/forecast", h.flow.RedirectTarget("/forecast"))
	assert.Equal(t, "https://app.example.com/", h.flow.RedirectTarget("https://evil.com"))
	assert.Equal(t, "https://app.example.com/forecast?token=abc", h.flow.TokenRedirectTarget("/forecast", "abc"))
}

func TestSafeRedirect(t *testing.T) {
	assert.Equal(t, "/a?b=1", identity.SafeRedirect("/a?b=1", "/"))
	assert.Equal(t, "/", identity.SafeRedirect("//evil.com", "/"))
	assert.Equal(t, "/", identity.SafeRedirect("http://evil.com", "/"))
	assert.Equal(t, "/", identity.SafeRedirect("", "/"))
}

func TestNormalizeRole(t *testing.T) {
	assert.Equal(t, identity.RoleAdmin, identity.NormalizeRole(" Admin "))
	assert.Equal(t, identity.RoleReadonly, identity.NormalizeRole("advanced"))
	assert.True(t, identity.RoleOwner.CanWrite())
	assert.False(t, identity.RoleReadonly.CanWrite())
}

func TestUserAdminProtectsOwner(t *testing.T) {
	mem := store.NewMemoryStore()
	admin := identity.NewUserAdmin(mem, "owner@example.com")
	ctx := context.Background()

	_, err := admin.Create(ctx, identity.NewUser{Email: "owner@example.com"})
	assert.Equal(t, 403, apperr.Status(err))
	_, err = admin.Create(ctx, identity.NewUser{Email: "x@example.com", Role: "owner"})
	assert.Equal(t, 403, apperr.Status(err))

	created, err := admin.Create(ctx, identity.NewUser{Email: "Ops@Example.com", Role: "admin"})
	require.NoError(t, err)
	assert.Equal(t, "ops@example.com", created.Email)
	assert.Equal(t, identity.LocationAccessAll, created.LocationAccess)

	_, err = admin.Create(ctx, identity.NewUser{Email: "ops@example.com"})
	assert.Equal(t, 409, apperr.Status(err))

	owner := &identity.User{ID: "owner", Email: "owner@example.com", Role: identity.RoleOwner, Status: identity.UserActive, AdminAccess: true}
	require.NoError(t, mem.CreateUser(ctx, owner))

	suspended := "suspended"
	updated, err := admin.Update(ctx, "owner", identity.UserPatch{Status: &suspended})
	require.NoError(t, err)
	assert.Equal(t, identity.UserActive, updated.Status)

	ownerRole := "owner"
	_, err = admin.Update(ctx, created.ID, identity.UserPatch{Role: &ownerRole})
	assert.Equal(t, 403, apperr.Status(err))

	bad := "paused"
	_, err = admin.Update(ctx, created.ID, identity.UserPatch{Status: &bad})
	assert.Equal(t, 400, apperr.Status(err))

	assert.Equal(t, 403, apperr.Status(admin.Delete(ctx, "owner")))
	assert.Equal(t, 404, apperr.Status(admin.Delete(ctx, "missing")))

	emails, err := admin.ActiveAdminEmails(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"ops@example.com", "owner@example.com"}, emails)

	require.NoError(t, admin.Delete(ctx, created.ID))
}
