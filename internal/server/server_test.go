package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	auditdomain "github.com/smallbiznis/hwlicense/internal/audit/domain"
	auditrepository "github.com/smallbiznis/hwlicense/internal/audit/repository"
	auditservice "github.com/smallbiznis/hwlicense/internal/audit/service"
	authdomain "github.com/smallbiznis/hwlicense/internal/auth/domain"
	authrepository "github.com/smallbiznis/hwlicense/internal/auth/repository"
	authservice "github.com/smallbiznis/hwlicense/internal/auth/service"
	"github.com/smallbiznis/hwlicense/internal/auth/session"
	"github.com/smallbiznis/hwlicense/internal/clock"
	"github.com/smallbiznis/hwlicense/internal/config"
	"github.com/smallbiznis/hwlicense/internal/download"
	licensedomain "github.com/smallbiznis/hwlicense/internal/license/domain"
	licenserepository "github.com/smallbiznis/hwlicense/internal/license/repository"
	licenseservice "github.com/smallbiznis/hwlicense/internal/license/service"
	"github.com/smallbiznis/hwlicense/internal/observability"
	"github.com/smallbiznis/hwlicense/internal/proof"
	"github.com/smallbiznis/hwlicense/internal/ratelimit"
	"github.com/smallbiznis/hwlicense/internal/release"
	"github.com/smallbiznis/hwlicense/pkg/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	testSecret   = "proof-secret"
	testAdmin    = "admin"
	testPassword = "correct-horse"
)

type fakeDownload struct {
	calls int
	err   error
}

func (f *fakeDownload) GetDownloadLink(_ context.Context, req download.LinkRequest) (download.Link, error) {
	f.calls++
	if f.err != nil {
		return download.Link{}, f.err
	}
	return download.Link{URL: "https://releases.example/bot.exe?key=" + req.LicenseKey, ExpiresAt: time.Unix(0, 0).UTC()}, nil
}

type failingLimiter struct{}

func (failingLimiter) Allow(context.Context, string, string) (ratelimit.Result, error) {
	return ratelimit.Result{}, ratelimit.ErrBackendUnavailable
}

type fixture struct {
	server   *Server
	clock    *clock.FakeClock
	licenses licensedomain.Service
	download *fakeDownload
}

func newFixture(t *testing.T, mutate func(*config.Policy)) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	conn, err := db.NewTest()
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(&licensedomain.License{}, &auditdomain.Event{}, &authdomain.Session{}))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	fake := clock.NewFakeClock(time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC))

	policy := config.DefaultPolicy()
	if mutate != nil {
		mutate(&policy)
	}
	holder := config.NewStaticPolicyHolder(policy)

	cfg := config.Config{
		AppName: "hwlicense",
		Admin: config.AdminConfig{
			Username:   testAdmin,
			Password:   testPassword,
			SessionTTL: 12 * time.Hour,
		},
		License: config.LicenseConfig{KeyPrefix: "TIR", ProofSecret: testSecret},
	}

	audit := auditservice.NewService(auditservice.Params{
		DB:    conn,
		Log:   zap.NewNop(),
		GenID: node,
		Clock: fake,
		Repo:  auditrepository.Provide(),
	})
	licenses := licenseservice.New(licenseservice.Params{
		DB:     conn,
		Log:    zap.NewNop(),
		GenID:  node,
		Clock:  fake,
		Config: cfg,
		Repo:   licenserepository.Provide(),
		Audit:  audit,
	})
	auth, err := authservice.New(authservice.Params{
		Log:         zap.NewNop(),
		Config:      cfg,
		Clock:       fake,
		SessionRepo: authrepository.New(conn),
	})
	require.NoError(t, err)
	gate, err := proof.New(cfg, holder, fake)
	require.NoError(t, err)

	engine, err := NewEngine(cfg, observability.Config{Environment: "production"}, nil)
	require.NoError(t, err)

	dl := &fakeDownload{}
	srv := NewServer(ServerParams{
		Gin:         engine,
		Cfg:         cfg,
		Clock:       fake,
		Authsvc:     auth,
		Sessions:    session.NewManager(cfg),
		LicenseSvc:  licenses,
		AuditSvc:    audit,
		DownloadSvc: dl,
		ReleaseSvc:  release.NewService(holder),
		ProofGate:   gate,
		Limiter:     ratelimit.NewMemoryLimiter(holder, fake),
	})

	return &fixture{server: srv, clock: fake, licenses: licenses, download: dl}
}

func (f *fixture) do(t *testing.T, method, path string, body any, header http.Header) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range header {
		req.Header[k] = v
	}
	resp := httptest.NewRecorder()
	f.server.Engine().ServeHTTP(resp, req)
	return resp
}

func (f *fixture) proof(hwid string) string {
	return proof.Derive([]byte(testSecret), hwid, f.clock.Now())
}

func (f *fixture) clientBody(key, hwid string) map[string]string {
	return map[string]string{"license_key": key, "hwid": hwid, "proof": f.proof(hwid)}
}

func (f *fixture) login(t *testing.T) http.Header {
	t.Helper()
	resp := f.do(t, http.MethodPost, "/admin/login", map[string]string{"username": testAdmin, "password": testPassword}, nil)
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	var body loginResponse
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
	require.NotEmpty(t, body.Token)
	return http.Header{"Authorization": []string{"Bearer " + body.Token}}
}

func (f *fixture) createLicense(t *testing.T, days int) string {
	t.Helper()
	l, err := f.licenses.Create(context.Background(), licensedomain.CreateRequest{Days: days})
	require.NoError(t, err)
	return l.LicenseKey
}

func decode(t *testing.T, resp *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &out), resp.Body.String())
	return out
}

func TestRootAndVersion(t *testing.T) {
	f := newFixture(t, nil)

	resp := f.do(t, http.MethodGet, "/", nil, nil)
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, "running", decode(t, resp)["status"])

	resp = f.do(t, http.MethodGet, "/version", nil, nil)
	require.Equal(t, http.StatusOK, resp.Code)
	body := decode(t, resp)
	assert.Equal(t, "1.0.0", body["version"])
	assert.Equal(t, "2024-01-01", body["release_date"])

	resp = f.do(t, http.MethodGet, "/nope", nil, nil)
	assert.Equal(t, http.StatusNotFound, resp.Code)
}

func TestActivateAndCheckFlow(t *testing.T) {
	f := newFixture(t, nil)
	key := f.createLicense(t, 30)

	resp := f.do(t, http.MethodPost, "/activate", f.clientBody(key, "HW-A"), nil)
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	body := decode(t, resp)
	assert.Equal(t, true, body["success"])
	assert.EqualValues(t, 30, body["days"])
	assert.NotEmpty(t, body["expires_at"])

	f.clock.Advance(10*24*time.Hour + time.Hour)
	resp = f.do(t, http.MethodPost, "/check_license", f.clientBody(key, "HW-A"), nil)
	require.Equal(t, http.StatusOK, resp.Code)
	body = decode(t, resp)
	assert.Equal(t, true, body["valid"])
	assert.EqualValues(t, 19, body["days_left"])

	resp = f.do(t, http.MethodPost, "/check_license", f.clientBody(key, "HW-B"), nil)
	require.Equal(t, http.StatusOK, resp.Code)
	body = decode(t, resp)
	assert.Equal(t, false, body["valid"])
	assert.Equal(t, "hwid_conflict", body["reason"])
	assert.NotContains(t, body, "days_left")
}

func TestActivateOutcomesAreNotErrors(t *testing.T) {
	f := newFixture(t, nil)
	key := f.createLicense(t, 30)

	resp := f.do(t, http.MethodPost, "/activate", f.clientBody("TIR-00000000-00000000", "HW-A"), nil)
	require.Equal(t, http.StatusOK, resp.Code)
	body := decode(t, resp)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, "License key not found", body["message"])

	require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/activate", f.clientBody(key, "HW-A"), nil).Code)
	resp = f.do(t, http.MethodPost, "/activate", f.clientBody(key, "HW-B"), nil)
	require.Equal(t, http.StatusOK, resp.Code)
	body = decode(t, resp)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, "License is already activated on another device", body["message"])
}

func TestActivateRejectsEmptyHWID(t *testing.T) {
	f := newFixture(t, func(p *config.Policy) { p.Proof.Activate = false })
	key := f.createLicense(t, 30)

	resp := f.do(t, http.MethodPost, "/activate", map[string]string{"license_key": key, "hwid": "  "}, nil)
	assert.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestProofGate(t *testing.T) {
	f := newFixture(t, nil)
	key := f.createLicense(t, 30)

	body := map[string]string{"license_key": key, "hwid": "HW-A"}
	resp := f.do(t, http.MethodPost, "/check_license", body, nil)
	assert.Equal(t, http.StatusForbidden, resp.Code)

	body["proof"] = "0000000000000000"
	resp = f.do(t, http.MethodPost, "/check_license", body, nil)
	assert.Equal(t, http.StatusForbidden, resp.Code)

	delete(body, "proof")
	resp = f.do(t, http.MethodPost, "/check_license", body, http.Header{HeaderProof: []string{f.proof("HW-A")}})
	assert.Equal(t, http.StatusOK, resp.Code)

	// Yesterday's proof stops working at UTC midnight.
	stale := f.proof("HW-A")
	f.clock.Set(time.Date(2026, 6, 2, 0, 0, 1, 0, time.UTC))
	body["proof"] = stale
	resp = f.do(t, http.MethodPost, "/check_license", body, nil)
	assert.Equal(t, http.StatusForbidden, resp.Code)
}

func TestProofOptionalPerEndpoint(t *testing.T) {
	f := newFixture(t, func(p *config.Policy) { p.Proof.Check = false })
	key := f.createLicense(t, 30)

	resp := f.do(t, http.MethodPost, "/check_license", map[string]string{"license_key": key, "hwid": "HW-A"}, nil)
	assert.Equal(t, http.StatusOK, resp.Code)

	resp = f.do(t, http.MethodPost, "/activate", map[string]string{"license_key": key, "hwid": "HW-A"}, nil)
	assert.Equal(t, http.StatusForbidden, resp.Code)
}

func TestRateLimitActivate(t *testing.T) {
	f := newFixture(t, nil)
	key := f.createLicense(t, 30)

	for i := 0; i < 5; i++ {
		resp := f.do(t, http.MethodPost, "/activate", f.clientBody(key, "HW-A"), nil)
		require.Equal(t, http.StatusOK, resp.Code, "request %d", i+1)
	}

	resp := f.do(t, http.MethodPost, "/activate", f.clientBody(key, "HW-A"), nil)
	require.Equal(t, http.StatusTooManyRequests, resp.Code)
	retryAfter, err := strconv.Atoi(resp.Header().Get("Retry-After"))
	require.NoError(t, err)
	assert.InDelta(t, 12, retryAfter, 1)
	assert.Equal(t, "rate_limited", decode(t, resp)["error"].(map[string]any)["type"])

	// Other classes keep their own budget.
	resp = f.do(t, http.MethodPost, "/check_license", f.clientBody(key, "HW-A"), nil)
	assert.Equal(t, http.StatusOK, resp.Code)
}

func TestRateLimitBackendFailureFailsClosed(t *testing.T) {
	f := newFixture(t, nil)
	f.server.limiter = failingLimiter{}
	key := f.createLicense(t, 30)

	resp := f.do(t, http.MethodPost, "/check_license", f.clientBody(key, "HW-A"), nil)
	assert.Equal(t, http.StatusServiceUnavailable, resp.Code)
}

func TestDownloadLink(t *testing.T) {
	f := newFixture(t, nil)
	key := f.createLicense(t, 30)

	resp := f.do(t, http.MethodPost, "/download_link", f.clientBody(key, "HW-A"), nil)
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Contains(t, decode(t, resp)["download_url"], "https://releases.example/")

	f.download.err = fmt.Errorf("%w: timeout", download.ErrUpstreamUnavailable)
	resp = f.do(t, http.MethodPost, "/download_link", f.clientBody(key, "HW-A"), nil)
	require.Equal(t, http.StatusServiceUnavailable, resp.Code)
	assert.NotContains(t, resp.Body.String(), "timeout")

	f.download.err = licensedomain.ErrHwidConflict
	resp = f.do(t, http.MethodPost, "/download_link", f.clientBody(key, "HW-B"), nil)
	require.Equal(t, http.StatusForbidden, resp.Code)
	assert.Equal(t, "hwid_conflict", decode(t, resp)["error"].(map[string]any)["type"])
}

func TestAdminRequiresSession(t *testing.T) {
	f := newFixture(t, nil)

	for _, path := range []string{"/admin/licenses", "/admin/stats"} {
		resp := f.do(t, http.MethodGet, path, nil, nil)
		assert.Equal(t, http.StatusUnauthorized, resp.Code, path)
	}

	resp := f.do(t, http.MethodGet, "/admin/stats", nil, http.Header{"Authorization": []string{"Bearer forged"}})
	assert.Equal(t, http.StatusUnauthorized, resp.Code)

	resp = f.do(t, http.MethodPost, "/admin/login", map[string]string{"username": testAdmin, "password": "wrong"}, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.Code)
}

func TestAdminLoginSetsCookie(t *testing.T) {
	f := newFixture(t, nil)

	resp := f.do(t, http.MethodPost, "/admin/login", map[string]string{"username": testAdmin, "password": testPassword}, nil)
	require.Equal(t, http.StatusOK, resp.Code)

	var sid *http.Cookie
	for _, c := range resp.Result().Cookies() {
		if c.Name == session.DefaultCookieName {
			sid = c
		}
	}
	require.NotNil(t, sid)
	assert.True(t, sid.HttpOnly)

	cookie := http.Header{"Cookie": []string{sid.Name + "=" + sid.Value}}
	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/admin/stats", nil, cookie).Code)

	assert.Equal(t, http.StatusNoContent, f.do(t, http.MethodPost, "/admin/logout", nil, cookie).Code)
	assert.Equal(t, http.StatusUnauthorized, f.do(t, http.MethodGet, "/admin/stats", nil, cookie).Code)
}

func TestAdminLicenseLifecycle(t *testing.T) {
	f := newFixture(t, nil)
	auth := f.login(t)

	resp := f.do(t, http.MethodPost, "/admin/create_license", map[string]any{"days": 7, "note": "trial"}, auth)
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	created := decode(t, resp)
	key := created["license_key"].(string)
	id := created["id"].(string)
	assert.EqualValues(t, 7, created["days"])

	resp = f.do(t, http.MethodPost, "/admin/create_license", map[string]any{"days": 0}, auth)
	assert.Equal(t, http.StatusBadRequest, resp.Code)

	resp = f.do(t, http.MethodPost, "/admin/create_license", nil, auth)
	require.Equal(t, http.StatusOK, resp.Code)
	assert.EqualValues(t, 30, decode(t, resp)["days"])

	require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/activate", f.clientBody(key, "HW-A"), nil).Code)

	resp = f.do(t, http.MethodGet, "/admin/stats", nil, auth)
	require.Equal(t, http.StatusOK, resp.Code)
	stats := decode(t, resp)
	assert.EqualValues(t, 2, stats["total_licenses"])
	assert.EqualValues(t, 2, stats["active_licenses"])
	assert.EqualValues(t, 1, stats["activated_licenses"])

	resp = f.do(t, http.MethodGet, "/admin/licenses", nil, auth)
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Len(t, decode(t, resp)["licenses"], 2)

	resp = f.do(t, http.MethodGet, "/admin/licenses?status=bogus", nil, auth)
	assert.Equal(t, http.StatusBadRequest, resp.Code)

	resp = f.do(t, http.MethodGet, "/admin/licenses/"+id+"/events", nil, auth)
	require.Equal(t, http.StatusOK, resp.Code)
	events := decode(t, resp)["events"].([]any)
	require.NotEmpty(t, events)
	assert.NotContains(t, resp.Body.String(), "HW-A")

	resp = f.do(t, http.MethodPost, "/admin/revoke_license/"+id, nil, auth)
	require.Equal(t, http.StatusOK, resp.Code)

	resp = f.do(t, http.MethodPost, "/check_license", f.clientBody(key, "HW-A"), nil)
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, false, decode(t, resp)["valid"])

	resp = f.do(t, http.MethodDelete, "/admin/delete_license/"+id, nil, auth)
	require.Equal(t, http.StatusOK, resp.Code)
	resp = f.do(t, http.MethodDelete, "/admin/delete_license/"+id, nil, auth)
	assert.Equal(t, http.StatusNotFound, resp.Code)
	resp = f.do(t, http.MethodDelete, "/admin/delete_license/not-a-number", nil, auth)
	assert.Equal(t, http.StatusBadRequest, resp.Code)

	resp = f.do(t, http.MethodPost, "/activate", f.clientBody(key, "HW-A"), nil)
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, "License key not found", decode(t, resp)["message"])
}

func TestMapError(t *testing.T) {
	cases := []struct {
		err    error
		status int
	}{
		{authdomain.ErrSessionExpired, http.StatusUnauthorized},
		{proof.ErrProofInvalid, http.StatusForbidden},
		{ErrRateLimited, http.StatusTooManyRequests},
		{ratelimit.ErrBackendUnavailable, http.StatusServiceUnavailable},
		{fmt.Errorf("wrap: %w", download.ErrUpstreamUnavailable), http.StatusServiceUnavailable},
		{licensedomain.ErrNotFound, http.StatusNotFound},
		{licensedomain.ErrExpired, http.StatusForbidden},
		{licensedomain.ErrInvalidDays, http.StatusBadRequest},
		{fmt.Errorf("activate license: %w", licensedomain.ErrStale), http.StatusInternalServerError},
		{fmt.Errorf("database is locked"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		status, payload := mapError(tc.err)
		assert.Equal(t, tc.status, status, tc.err.Error())
		if status == http.StatusInternalServerError {
			assert.Equal(t, "internal server error", payload.Message)
		}
	}
}

func TestClassifyErrorForLog(t *testing.T) {
	typ, code := classifyErrorForLog(fmt.Errorf("activate license: %w", licensedomain.ErrStale))
	assert.Equal(t, "internal_error", typ)
	assert.Equal(t, "stale_record", code)

	typ, code = classifyErrorForLog(licensedomain.ErrInvalidHWID)
	assert.Equal(t, "validation_error", typ)
	assert.Equal(t, "invalid_hwid", code)
}
