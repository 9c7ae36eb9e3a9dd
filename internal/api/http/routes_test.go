package httpapi_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	httpapi "github.com/i474232898/weather-api/internal/api/http"
	"github.com/i474232898/weather-api/internal/admission"
	"github.com/i474232898/weather-api/internal/appconfig"
	"github.com/i474232898/weather-api/internal/email"
	"github.com/i474232898/weather-api/internal/identity"
	"github.com/i474232898/weather-api/internal/locations"
	"github.com/i474232898/weather-api/internal/ratelimit"
	"github.com/i474232898/weather-api/internal/store"
	"github.com/i474232898/weather-api/internal/timezone"
	"github.com/i474232898/weather-api/internal/weather"
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

type fixture struct {
	mem     *store.MemoryStore
	clock   *stubClock
	clients *admission.ClientService
	admin   *identity.MagicLinkFlow
	config  *appconfig.Store
	srv     *httpapi.Server
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	mem := store.NewMemoryStore()
	clock := &stubClock{now: time.Date(2024, 7, 10, 12, 0, 10, 0, time.UTC)}

	cfg := appconfig.New(mem)
	require.NoError(t, cfg.EnsureDefaults(ctx))

	tz := timezone.NewResolver()
	dir := locations.NewDirectory(mem, cfg, nil, tz)
	require.NoError(t, mem.CreateLocation(ctx, &locations.Location{
		ID: "loc-vail", Name: "Vail", Country: "US", Region: "CO", Lat: 39.64, Lon: -106.37, TimeZone: "America/Denver",
	}))
	_, err := dir.Refresh(ctx)
	require.NoError(t, err)

	hasher, err := admission.NewKeyHasher("test-secret")
	require.NoError(t, err)
	users := identity.NewUserAdmin(mem, "owner@example.com")
	clients := admission.NewClientService(mem, mem, mem, hasher, cfg).WithClock(clock)
	anomaly := admission.NewAnomalyDetector(mem, mem, users, email.LogSender{})
	tracker := admission.NewTracker(mem, mem, mem, anomaly, cfg, admission.TrackerConfig{Clock: clock})

	adminSessions, err := identity.NewSessions("admin-secret", identity.AudienceAdmin)
	require.NoError(t, err)
	admin := identity.NewMagicLinkFlow(identity.FlowConfig{
		Audience:           identity.AudienceAdmin,
		VerifyPath:         "/admin/auth/verify",
		DefaultRedirect:    "/admin.html",
		LinkBaseURL:        "https://api.example.com",
		BootstrapEmail:     "owner@example.com",
		RequireAdminAccess: true,
		MagicTTLKey:        appconfig.KeyAuthTokenMinutes,
		SessionTTLKey:      appconfig.KeyBackendSessionMinutes,
	}, mem, mem, email.LogSender{}, adminSessions, cfg)

	frontendSessions, err := identity.NewSessions("frontend-secret", identity.AudienceFrontend)
	require.NoError(t, err)
	frontend := identity.NewMagicLinkFlow(identity.FlowConfig{
		Audience:        identity.AudienceFrontend,
		VerifyPath:      "/auth/verify",
		LinkBaseURL:     "https://api.example.com",
		RedirectBaseURL: "https://app.example.com",
		MagicTTLKey:     appconfig.KeyAuthTokenMinutes,
		SessionTTLKey:   appconfig.KeyFrontendSessionMinutes,
	}, mem, mem, email.LogSender{}, frontendSessions, cfg)

	srv := httpapi.New(httpapi.Deps{
		Clients:      clients,
		Tracker:      tracker,
		Weather:      weather.NewService(mem, nil, dir, cfg, tz),
		Locations:    dir,
		Config:       cfg,
		Users:        users,
		Admin:        admin,
		Frontend:     frontend,
		AdminLimiter: ratelimit.New(ratelimit.NewMemoryCounter(), cfg, appconfig.KeyAdminRateLimit, time.Minute, "admin"),
	}, httpapi.Options{})

	return &fixture{mem: mem, clock: clock, clients: clients, admin: admin, config: cfg, srv: srv}
}

func (f *fixture) issue(t *testing.T, rateLimit int) *admission.Issued {
	t.Helper()
	issued, err := f.clients.Create(context.Background(), admission.CreateInput{Name: "acme", RateLimitPerMin: &rateLimit})
	require.NoError(t, err)
	return issued
}

// session creates a user with role and returns an admin session cookie value.
func (f *fixture) session(t *testing.T, email string, role identity.Role) string {
	t.Helper()
	u := &identity.User{
		ID:             email,
		Email:          email,
		Role:           role,
		Status:         identity.UserActive,
		AdminAccess:    true,
		LocationAccess: identity.LocationAccessAll,
	}
	require.NoError(t, f.mem.CreateUser(context.Background(), u))
	token, err := f.admin.StartSession(u)
	require.NoError(t, err)
	return token
}

func (f *fixture) do(t *testing.T, req *http.Request) *http.Response {
	t.Helper()
	resp, err := f.srv.App().Test(req, -1)
	require.NoError(t, err)
	return resp
}

func decode(t *testing.T, resp *http.Response, dst any) {
	t.Helper()
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(body, dst), string(body))
}

func withKey(req *http.Request, key string) *http.Request {
	req.Header.Set("x-api-key", key)
	return req
}

func withAdmin(req *http.Request, token string) *http.Request {
	req.AddCookie(&http.Cookie{Name: "adminSession", Value: token})
	return req
}

func jsonRequest(method, target, body string) *http.Request {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func TestRateLimitAcrossWindows(t *testing.T) {
	f := newFixture(t)
	issued := f.issue(t, 2)

	hourly := func() *http.Response {
		return f.do(t, withKey(httptest.NewRequest(http.MethodGet, "/weather/hourly?locationId=loc-vail", nil), issued.APIKey))
	}

	assert.Equal(t, http.StatusOK, hourly().StatusCode)
	assert.Equal(t, http.StatusOK, hourly().StatusCode)

	limited := hourly()
	assert.Equal(t, http.StatusTooManyRequests, limited.StatusCode)
	assert.Equal(t, "50", limited.Header.Get("Retry-After"))
	var body struct {
		Error   bool   `json:"error"`
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	decode(t, limited, &body)
	assert.True(t, body.Error)
	assert.Equal(t, "rate_limited", body.Code)
	assert.Equal(t, "Rate limit exceeded", body.Message)

	f.clock.Advance(time.Minute)
	assert.Equal(t, http.StatusOK, hourly().StatusCode)
}

func TestMissingAndInvalidKeys(t *testing.T) {
	f := newFixture(t)

	resp := f.do(t, httptest.NewRequest(http.MethodGet, "/weather/hourly?locationId=loc-vail", nil))
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = f.do(t, withKey(httptest.NewRequest(http.MethodGet, "/locations", nil), "nope"))
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestKeyRotationInvalidatesOldKey(t *testing.T) {
	f := newFixture(t)
	issued := f.issue(t, 0)

	rotated, err := f.clients.RegenerateKey(context.Background(), issued.Client.ID)
	require.NoError(t, err)

	resp := f.do(t, withKey(httptest.NewRequest(http.MethodGet, "/locations", nil), issued.APIKey))
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = f.do(t, withKey(httptest.NewRequest(http.MethodGet, "/locations", nil), rotated.APIKey))
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAccessLogPrefersForwardedFor(t *testing.T) {
	f := newFixture(t)
	issued := f.issue(t, 0)

	req := withKey(httptest.NewRequest(http.MethodGet, "/locations", nil), issued.APIKey)
	req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
	resp := f.do(t, req)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = f.do(t, withKey(httptest.NewRequest(http.MethodGet, "/locations", nil), issued.APIKey))
	require.Equal(t, http.StatusOK, resp.StatusCode)

	logs, err := f.mem.RecentAccessLogs(context.Background(), issued.Client.ID, 10)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	ips := []string{logs[0].IP, logs[1].IP}
	assert.Contains(t, ips, "203.0.113.7")
	assert.NotContains(t, ips, "")
}

func TestAdminSessionBypassesMetering(t *testing.T) {
	f := newFixture(t)
	token := f.session(t, "owner@example.com", identity.RoleOwner)

	for i := 0; i < 3; i++ {
		resp := f.do(t, withAdmin(httptest.NewRequest(http.MethodGet, "/weather/daily/overview?locationId=loc-vail", nil), token))
		require.Equal(t, http.StatusOK, resp.StatusCode)
	}

	resp := f.do(t, withAdmin(httptest.NewRequest(http.MethodGet, "/weather/daily/overview?locationId=loc-vail", nil), "forged"))
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestWeatherQueryErrors(t *testing.T) {
	f := newFixture(t)
	issued := f.issue(t, 0)

	resp := f.do(t, withKey(httptest.NewRequest(http.MethodGet, "/weather/hourly", nil), issued.APIKey))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = f.do(t, withKey(httptest.NewRequest(http.MethodGet, "/weather/hourly?locationId=missing", nil), issued.APIKey))
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = f.do(t, withKey(httptest.NewRequest(http.MethodGet, "/weather/daily/segments/by-coords?lat=abc&lon=1", nil), issued.APIKey))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = f.do(t, withKey(httptest.NewRequest(http.MethodGet, "/weather/hourly/by-coords?lat=39.65&lon=-106.38", nil), issued.APIKey))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var hourly weather.HourlyResponse
	decode(t, resp, &hourly)
	assert.Equal(t, "loc-vail", hourly.Location.ID)
	require.NotNil(t, hourly.Location.DistanceKm)
}

func TestNearestLocation(t *testing.T) {
	f := newFixture(t)
	issued := f.issue(t, 0)

	resp := f.do(t, withKey(httptest.NewRequest(http.MethodGet, "/locations/nearest?lat=39.6&lon=-106.3", nil), issued.APIKey))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var view locations.View
	decode(t, resp, &view)
	assert.Equal(t, "Vail - CO, US", view.DisplayName)

	resp = f.do(t, withKey(httptest.NewRequest(http.MethodGet, "/locations/nearest?lat=0&lon=0", nil), issued.APIKey))
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAdminRoutesRequireSessionAndRole(t *testing.T) {
	f := newFixture(t)

	resp := f.do(t, httptest.NewRequest(http.MethodGet, "/admin/config", nil))
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	reader := f.session(t, "reader@example.com", identity.RoleReadonly)
	resp = f.do(t, withAdmin(httptest.NewRequest(http.MethodGet, "/admin/config", nil), reader))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var entries []appconfig.Entry
	decode(t, resp, &entries)
	assert.Len(t, entries, len(appconfig.Definitions))

	resp = f.do(t, withAdmin(jsonRequest(http.MethodPut, "/admin/config/DB_DAYS_TO_KEEP", `{"value":30}`), reader))
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	owner := f.session(t, "owner@example.com", identity.RoleOwner)
	resp = f.do(t, withAdmin(jsonRequest(http.MethodPut, "/admin/config/DB_DAYS_TO_KEEP", `{"value":30}`), owner))
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 30, f.config.Int(appconfig.KeyDaysToKeep))

	resp = f.do(t, withAdmin(jsonRequest(http.MethodPut, "/admin/config/NOPE", `{"value":1}`), owner))
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = f.do(t, withAdmin(jsonRequest(http.MethodPut, "/admin/config/DB_DAYS_TO_KEEP", `{"value":"many"}`), owner))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAdminClientLifecycle(t *testing.T) {
	f := newFixture(t)
	owner := f.session(t, "owner@example.com", identity.RoleOwner)

	resp := f.do(t, withAdmin(jsonRequest(http.MethodPost, "/admin/api-clients", `{"name":"partner","rateLimitPerMin":5}`), owner))
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var issued admission.Issued
	decode(t, resp, &issued)
	require.NotEmpty(t, issued.APIKey)

	resp = f.do(t, withKey(httptest.NewRequest(http.MethodGet, "/locations", nil), issued.APIKey))
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = f.do(t, withAdmin(httptest.NewRequest(http.MethodGet, "/admin/api-clients", nil), owner))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var listed []admission.Summary
	decode(t, resp, &listed)
	require.Len(t, listed, 1)
	assert.Equal(t, int64(1), listed[0].CurrentDayUsage)
	assert.Empty(t, listed[0].LatestPlainAPIKey)

	resp = f.do(t, withAdmin(httptest.NewRequest(http.MethodPost, "/admin/api-clients/"+issued.Client.ID+"/toggle", nil), owner))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp = f.do(t, withKey(httptest.NewRequest(http.MethodGet, "/locations", nil), issued.APIKey))
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = f.do(t, withAdmin(httptest.NewRequest(http.MethodGet, "/admin/api-clients/"+issued.Client.ID+"/access", nil), owner))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var report admission.AccessReport
	decode(t, resp, &report)
	assert.Len(t, report.Logs, 1)

	resp = f.do(t, withAdmin(httptest.NewRequest(http.MethodDelete, "/admin/api-clients/"+issued.Client.ID, nil), owner))
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp = f.do(t, withAdmin(httptest.NewRequest(http.MethodGet, "/admin/api-clients/"+issued.Client.ID+"/access", nil), owner))
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAdminLocationWrites(t *testing.T) {
	f := newFixture(t)
	owner := f.session(t, "owner@example.com", identity.RoleOwner)

	resp := f.do(t, withAdmin(jsonRequest(http.MethodPost, "/locations", `{"name":"Beaver Creek","country":"US","lat":39.6,"lon":-106.5}`), owner))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = f.do(t, withAdmin(jsonRequest(http.MethodPost, "/locations",
		`{"name":"Vail Village","country":"US","region":"CO","lat":39.641,"lon":-106.371,"tz_iana":"America/Denver"}`), owner))
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp = f.do(t, withAdmin(jsonRequest(http.MethodPost, "/locations",
		`{"name":"Aspen","country":"US","region":"CO","lat":39.19,"lon":-106.82,"tz_iana":"America/Denver","isSkiResort":true}`), owner))
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var created locations.View
	decode(t, resp, &created)
	assert.True(t, created.IsSkiResort)

	resp = f.do(t, withAdmin(httptest.NewRequest(http.MethodDelete, "/locations/"+created.ID, nil), owner))
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp = f.do(t, withAdmin(httptest.NewRequest(http.MethodDelete, "/locations/"+created.ID, nil), owner))
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAdminRateLimit(t *testing.T) {
	f := newFixture(t)
	_, err := f.config.Set(context.Background(), appconfig.KeyAdminRateLimit, 2)
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		resp := f.do(t, httptest.NewRequest(http.MethodGet, "/admin/auth/session", nil))
		require.Equal(t, http.StatusForbidden, resp.StatusCode)
	}
	resp := f.do(t, httptest.NewRequest(http.MethodGet, "/admin/auth/session", nil))
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("Retry-After"))
}

func TestAdminSessionStatus(t *testing.T) {
	f := newFixture(t)
	owner := f.session(t, "owner@example.com", identity.RoleOwner)

	resp := f.do(t, withAdmin(httptest.NewRequest(http.MethodGet, "/admin/auth/session", nil), owner))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var body struct {
		Authenticated bool `json:"authenticated"`
		User          struct {
			Email string `json:"email"`
			Role  string `json:"role"`
		} `json:"user"`
	}
	decode(t, resp, &body)
	assert.True(t, body.Authenticated)
	assert.Equal(t, "owner", body.User.Role)
}

func TestFrontendRequestLinkValidation(t *testing.T) {
	f := newFixture(t)

	resp := f.do(t, jsonRequest(http.MethodPost, "/auth/request-link", `{}`))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = f.do(t, jsonRequest(http.MethodPost, "/auth/request-link", `{"email":"nobody@example.com"}`))
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = f.do(t, httptest.NewRequest(http.MethodGet, "/auth/verify?token=bogus", nil))
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = f.do(t, httptest.NewRequest(http.MethodGet, "/auth/session", nil))
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestMiscRoutes(t *testing.T) {
	f := newFixture(t)

	resp := f.do(t, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = f.do(t, httptest.NewRequest(http.MethodGet, "/does-not-exist", nil))
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	var body map[string]any
	decode(t, resp, &body)
	assert.Equal(t, "not_found", body["code"])
}
