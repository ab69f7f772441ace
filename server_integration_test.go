package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"excursion/models"
	"excursion/pkg/auth"
	"excursion/pkg/config"
	"excursion/pkg/repository"
	"excursion/pkg/testdb"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/time/rate"
)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type captureMailer struct {
	mu   sync.Mutex
	sent []auth.Message
}

func (m *captureMailer) Send(_ context.Context, msg auth.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, msg)
	return nil
}

func (m *captureMailer) lastToken(t *testing.T) string {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	require.NotEmpty(t, m.sent)
	body := m.sent[len(m.sent)-1].Body
	// "<origin><path>?token=<hex>" or "Use this token with <path>: <hex>"
	fields := strings.FieldsFunc(body, func(r rune) bool { return r == ' ' || r == '=' })
	require.NotEmpty(t, fields)
	return fields[len(fields)-1]
}

type testServer struct {
	router http.Handler
	users  *repository.Users
	clock  *testClock
	mailer *captureMailer
	hasher auth.PasswordHasher
}

func setupTestServer(t *testing.T, mutate ...func(*config.Config)) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)
	cfg := config.Config{
		JWTSecret:       []byte("integration-secret"),
		AccessTokenTTL:  15 * time.Minute,
		RefreshTokenTTL: 7 * 24 * time.Hour,
		LoginRateLimit:  rate.Inf,
		LoginRateBurst:  100,
	}
	for _, m := range mutate {
		m(&cfg)
	}
	db := testdb.Open(t)
	clock := &testClock{t: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)}
	mailer := &captureMailer{}
	hasher := auth.BcryptHasher{Cost: bcrypt.MinCost}
	srv, err := newServer(serverDeps{DB: db, Config: cfg, Clock: clock.Now, Hasher: hasher, Mailer: mailer})
	require.NoError(t, err)
	return &testServer{router: srv.routes(), users: repository.NewUsers(db), clock: clock, mailer: mailer, hasher: hasher}
}

func (ts *testServer) seed(t *testing.T, email string, role models.Role) *models.User {
	t.Helper()
	hash, err := ts.hasher.Hash("secret123")
	require.NoError(t, err)
	now := ts.clock.Now()
	user := &models.User{Username: strings.Split(email, "@")[0], Email: email, PasswordHash: hash, Role: role, VerifiedAt: &now}
	require.NoError(t, ts.users.Create(context.Background(), user))
	return user
}

// helper to perform requests with auth token
func performRequest(r http.Handler, method, path string, body any, token string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != nil {
		raw, _ := json.Marshal(body)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

type sessionBody struct {
	ID           uint   `json:"id"`
	Role         string `json:"role"`
	JWTToken     string `json:"jwtToken"`
	RefreshToken string `json:"refreshToken"`
}

func (ts *testServer) login(t *testing.T, email string) sessionBody {
	t.Helper()
	resp := performRequest(ts.router, http.MethodPost, "/accounts/authenticate", map[string]string{"email": email, "password": "secret123"}, "")
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	var out sessionBody
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &out))
	return out
}

func (ts *testServer) storedToken(t *testing.T, value string) models.RefreshToken {
	t.Helper()
	owner, err := ts.users.FindByRefreshToken(context.Background(), value)
	require.NoError(t, err)
	return *owner.FindRefreshToken(value)
}

func TestSessionLifecycle(t *testing.T) {
	ts := setupTestServer(t)
	u1 := ts.seed(t, "u1@example.com", models.RoleUser)
	profile := "/accounts/" + strconv.Itoa(int(u1.ID))

	first := ts.login(t, "u1@example.com")
	assert.Equal(t, u1.ID, first.ID)
	assert.Equal(t, http.StatusOK, performRequest(ts.router, http.MethodGet, profile, nil, first.JWTToken).Code)

	// bearer credential is past its 15 minute lifetime
	ts.clock.Advance(16 * time.Minute)
	resp := performRequest(ts.router, http.MethodGet, profile, nil, first.JWTToken)
	assert.Equal(t, http.StatusUnauthorized, resp.Code)
	assert.JSONEq(t, `{"message":"Unauthorized"}`, resp.Body.String())

	resp = performRequest(ts.router, http.MethodPost, "/accounts/refresh-token", map[string]string{"token": first.RefreshToken}, "")
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	var second sessionBody
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &second))
	assert.NotEqual(t, first.RefreshToken, second.RefreshToken)

	r1 := ts.storedToken(t, first.RefreshToken)
	assert.True(t, r1.IsRevoked())
	require.NotNil(t, r1.ReplacedByToken)
	assert.Equal(t, second.RefreshToken, *r1.ReplacedByToken)
	assert.Equal(t, http.StatusOK, performRequest(ts.router, http.MethodGet, profile, nil, second.JWTToken).Code)

	// replaying r1 revokes its descendant r2
	resp = performRequest(ts.router, http.MethodPost, "/accounts/refresh-token", map[string]string{"token": first.RefreshToken}, "")
	assert.Equal(t, http.StatusUnauthorized, resp.Code)
	assert.JSONEq(t, `{"message":"Invalid token"}`, resp.Body.String())
	r2 := ts.storedToken(t, second.RefreshToken)
	assert.True(t, r2.IsRevoked())
	assert.Contains(t, *r2.ReasonRevoked, "Attempted reuse of revoked ancestor token")

	resp = performRequest(ts.router, http.MethodPost, "/accounts/refresh-token", map[string]string{"token": second.RefreshToken}, "")
	assert.Equal(t, http.StatusUnauthorized, resp.Code)
}

func TestRefreshFromCookie(t *testing.T) {
	ts := setupTestServer(t)
	ts.seed(t, "c@example.com", models.RoleUser)

	resp := performRequest(ts.router, http.MethodPost, "/accounts/authenticate", map[string]string{"email": "c@example.com", "password": "secret123"}, "")
	require.Equal(t, http.StatusOK, resp.Code)
	var cookie *http.Cookie
	for _, ck := range resp.Result().Cookies() {
		if ck.Name == refreshCookie {
			cookie = ck
		}
	}
	require.NotNil(t, cookie)
	assert.True(t, cookie.HttpOnly)

	req := httptest.NewRequest(http.MethodPost, "/accounts/refresh-token", nil)
	req.AddCookie(&http.Cookie{Name: refreshCookie, Value: cookie.Value})
	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestLoginFailuresShareOneMessage(t *testing.T) {
	ts := setupTestServer(t)
	ts.seed(t, "known@example.com", models.RoleUser)
	pending := &models.User{Username: "pending", Email: "pending@example.com", PasswordHash: "x", Role: models.RoleUser}
	require.NoError(t, ts.users.Create(context.Background(), pending))

	bodies := map[string]string{}
	for name, creds := range map[string]map[string]string{
		"wrong password": {"email": "known@example.com", "password": "nope"},
		"unknown email":  {"email": "ghost@example.com", "password": "secret123"},
		"unverified":     {"email": "pending@example.com", "password": "secret123"},
	} {
		resp := performRequest(ts.router, http.MethodPost, "/accounts/authenticate", creds, "")
		assert.Equal(t, http.StatusUnauthorized, resp.Code, name)
		bodies[name] = resp.Body.String()
	}
	assert.Equal(t, bodies["wrong password"], bodies["unknown email"])
	assert.Equal(t, bodies["unknown email"], bodies["unverified"])
}

func TestRegisterVerifyLogin(t *testing.T) {
	ts := setupTestServer(t)
	reg := map[string]string{"username": "newbie", "email": "newbie@example.com", "password": "secret123", "confirmPassword": "secret123"}
	assert.Equal(t, http.StatusOK, performRequest(ts.router, http.MethodPost, "/accounts/register", reg, "").Code)

	resp := performRequest(ts.router, http.MethodPost, "/accounts/authenticate", map[string]string{"email": "newbie@example.com", "password": "secret123"}, "")
	assert.Equal(t, http.StatusUnauthorized, resp.Code)

	token := ts.mailer.lastToken(t)
	assert.Equal(t, http.StatusOK, performRequest(ts.router, http.MethodPost, "/accounts/verify-email", map[string]string{"token": token}, "").Code)

	session := ts.login(t, "newbie@example.com")
	assert.Equal(t, string(models.RoleAdmin), session.Role)
}

func TestRegisterValidation(t *testing.T) {
	ts := setupTestServer(t)
	resp := performRequest(ts.router, http.MethodPost, "/accounts/register", map[string]string{"username": "x1y", "email": "not-an-email", "password": "secret123", "confirmPassword": "other"}, "")
	assert.Equal(t, http.StatusBadRequest, resp.Code)
	var body struct {
		Details []string `json:"details"`
	}
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
	assert.Contains(t, body.Details, "email is invalid")
	assert.Contains(t, body.Details, "confirmPassword must match password")
}

func TestPasswordResetOverHTTP(t *testing.T) {
	ts := setupTestServer(t)
	ts.seed(t, "forgetful@example.com", models.RoleUser)

	assert.Equal(t, http.StatusOK, performRequest(ts.router, http.MethodPost, "/accounts/forgot-password", map[string]string{"email": "ghost@example.com"}, "").Code)
	assert.Empty(t, ts.mailer.sent)

	assert.Equal(t, http.StatusOK, performRequest(ts.router, http.MethodPost, "/accounts/forgot-password", map[string]string{"email": "forgetful@example.com"}, "").Code)
	token := ts.mailer.lastToken(t)
	assert.Equal(t, http.StatusOK, performRequest(ts.router, http.MethodPost, "/accounts/validate-reset-token", map[string]string{"token": token}, "").Code)

	reset := map[string]string{"token": token, "password": "brandnew1", "confirmPassword": "brandnew1"}
	assert.Equal(t, http.StatusOK, performRequest(ts.router, http.MethodPost, "/accounts/reset-password", reset, "").Code)
	resp := performRequest(ts.router, http.MethodPost, "/accounts/authenticate", map[string]string{"email": "forgetful@example.com", "password": "brandnew1"}, "")
	assert.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, http.StatusUnauthorized, performRequest(ts.router, http.MethodPost, "/accounts/validate-reset-token", map[string]string{"token": token}, "").Code)
}

func TestAccountAuthorization(t *testing.T) {
	ts := setupTestServer(t)
	admin := ts.seed(t, "admin@example.com", models.RoleAdmin)
	alice := ts.seed(t, "alice@example.com", models.RoleUser)
	bob := ts.seed(t, "bob@example.com", models.RoleUser)
	adminSession := ts.login(t, "admin@example.com")
	aliceSession := ts.login(t, "alice@example.com")
	bobSession := ts.login(t, "bob@example.com")

	path := func(id uint, suffix string) string { return "/accounts/" + strconv.Itoa(int(id)) + suffix }

	assert.Equal(t, http.StatusUnauthorized, performRequest(ts.router, http.MethodGet, "/accounts", nil, aliceSession.JWTToken).Code)
	assert.Equal(t, http.StatusOK, performRequest(ts.router, http.MethodGet, "/accounts", nil, adminSession.JWTToken).Code)
	assert.Equal(t, http.StatusUnauthorized, performRequest(ts.router, http.MethodGet, path(bob.ID, ""), nil, aliceSession.JWTToken).Code)
	assert.Equal(t, http.StatusOK, performRequest(ts.router, http.MethodGet, path(bob.ID, ""), nil, adminSession.JWTToken).Code)
	assert.Equal(t, http.StatusOK, performRequest(ts.router, http.MethodGet, path(alice.ID, "/refresh-tokens"), nil, aliceSession.JWTToken).Code)
	assert.Equal(t, http.StatusNotFound, performRequest(ts.router, http.MethodGet, path(admin.ID+100, ""), nil, adminSession.JWTToken).Code)

	// only an admin may change roles
	promote := map[string]string{"role": "Admin"}
	assert.Equal(t, http.StatusUnauthorized, performRequest(ts.router, http.MethodPut, path(alice.ID, ""), promote, aliceSession.JWTToken).Code)
	assert.Equal(t, http.StatusOK, performRequest(ts.router, http.MethodPut, path(alice.ID, ""), map[string]string{"username": "alicia"}, aliceSession.JWTToken).Code)
	assert.Equal(t, http.StatusConflict, performRequest(ts.router, http.MethodPut, path(alice.ID, ""), map[string]string{"email": "bob@example.com"}, aliceSession.JWTToken).Code)

	// alice cannot revoke bob's token, an admin can
	assert.Equal(t, http.StatusUnauthorized, performRequest(ts.router, http.MethodPost, "/accounts/revoke-token", map[string]string{"token": bobSession.RefreshToken}, aliceSession.JWTToken).Code)
	assert.Equal(t, http.StatusOK, performRequest(ts.router, http.MethodPost, "/accounts/revoke-token", map[string]string{"token": bobSession.RefreshToken}, adminSession.JWTToken).Code)
	assert.Equal(t, http.StatusUnauthorized, performRequest(ts.router, http.MethodPost, "/accounts/revoke-token", map[string]string{"token": bobSession.RefreshToken}, adminSession.JWTToken).Code)
	assert.Equal(t, http.StatusBadRequest, performRequest(ts.router, http.MethodPost, "/accounts/revoke-token", nil, adminSession.JWTToken).Code)

	created := map[string]string{"username": "carol", "email": "carol@example.com", "password": "secret123", "role": "User"}
	assert.Equal(t, http.StatusUnauthorized, performRequest(ts.router, http.MethodPost, "/accounts", created, aliceSession.JWTToken).Code)
	assert.Equal(t, http.StatusCreated, performRequest(ts.router, http.MethodPost, "/accounts", created, adminSession.JWTToken).Code)

	assert.Equal(t, http.StatusOK, performRequest(ts.router, http.MethodDelete, path(bob.ID, ""), nil, bobSession.JWTToken).Code)
	// bob's credential still verifies but names a deleted principal
	assert.Equal(t, http.StatusUnauthorized, performRequest(ts.router, http.MethodGet, path(bob.ID, ""), nil, bobSession.JWTToken).Code)
}

func TestLoginRateLimit(t *testing.T) {
	ts := setupTestServer(t, func(c *config.Config) {
		c.LoginRateLimit = rate.Every(time.Hour)
		c.LoginRateBurst = 2
	})
	body := map[string]string{"email": "x@example.com", "password": "nope1234"}
	assert.Equal(t, http.StatusUnauthorized, performRequest(ts.router, http.MethodPost, "/accounts/authenticate", body, "").Code)
	assert.Equal(t, http.StatusUnauthorized, performRequest(ts.router, http.MethodPost, "/accounts/authenticate", body, "").Code)
	assert.Equal(t, http.StatusTooManyRequests, performRequest(ts.router, http.MethodPost, "/accounts/authenticate", body, "").Code)
}

func TestHealthAndMetrics(t *testing.T) {
	ts := setupTestServer(t)
	ts.seed(t, "m@example.com", models.RoleUser)
	ts.login(t, "m@example.com")

	assert.Equal(t, http.StatusOK, performRequest(ts.router, http.MethodGet, "/health", nil, "").Code)
	resp := performRequest(ts.router, http.MethodGet, "/metrics", nil, "")
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Contains(t, resp.Body.String(), `excursion_auth_logins_total{result="success"} 1`)
}

func TestVerificationLinkUsesOrigin(t *testing.T) {
	ts := setupTestServer(t)
	raw, _ := json.Marshal(map[string]string{"username": "linked", "email": "linked@example.com", "password": "secret123", "confirmPassword": "secret123"})
	req := httptest.NewRequest(http.MethodPost, "/accounts/register", bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Origin", "https://app.example.com")
	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	body := ts.mailer.sent[len(ts.mailer.sent)-1].Body
	assert.True(t, strings.HasPrefix(body, "https://app.example.com/accounts/verify-email?token="))

	token := ts.mailer.lastToken(t)
	assert.Equal(t, http.StatusOK, performRequest(ts.router, http.MethodPost, "/accounts/verify-email", map[string]string{"token": token}, "").Code)
	ts.login(t, "linked@example.com")
}
