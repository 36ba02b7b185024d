package auth

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"marketplace/internal/middleware"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRouter(t *testing.T) (*gin.Engine, *testEnv) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	env := setupService(t)
	h := NewHandler(env.svc)

	r := gin.New()
	account := r.Group("/api/v1/account")
	h.RegisterPublicRoutes(account)
	h.RegisterRefreshRoute(account.Group("", middleware.JWTAuthAllowExpired(env.tokens)))
	h.RegisterProtectedRoutes(account.Group("", middleware.JWTAuth(env.tokens)))
	return r, env
}

type envelope struct {
	Success bool            `json:"success"`
	Code    string          `json:"code"`
	Message string          `json:"message"`
	Errors  []string        `json:"errors"`
	Data    json.RawMessage `json:"data"`
}

func doJSON(t *testing.T, r http.Handler, method, path, bearer string, body any) (*httptest.ResponseRecorder, envelope) {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	return w, env
}

func TestHTTP_RegisterVerifyLoginRefresh(t *testing.T) {
	r, env := setupRouter(t)

	w, body := doJSON(t, r, http.MethodPost, "/api/v1/account/register", "", gin.H{
		"email":     "shopper@example.com",
		"password":  goodPassword,
		"firstName": "Sam",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.True(t, body.Success)

	code := env.mail.verificationCode("shopper@example.com")
	w, _ = doJSON(t, r, http.MethodPost, "/api/v1/account/verify-email-otp", "", gin.H{
		"email": "shopper@example.com",
		"code":  code,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w, body = doJSON(t, r, http.MethodPost, "/api/v1/account/login", "", gin.H{
		"email":    "shopper@example.com",
		"password": goodPassword,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var login LoginResponse
	require.NoError(t, json.Unmarshal(body.Data, &login))
	assert.Equal(t, "Bearer", login.TokenType)
	assert.Equal(t, int64(3600), login.ExpiresIn)
	assert.Equal(t, "shopper@example.com", login.User.Email)
	assert.Equal(t, []string{"customer"}, login.User.Roles)

	// the access token may already be expired when refreshing
	env.clock.Advance(2 * time.Hour)

	w, body = doJSON(t, r, http.MethodPost, "/api/v1/account/refresh-token", login.AccessToken, gin.H{
		"refreshToken": login.RefreshToken,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var rotated TokenResponse
	require.NoError(t, json.Unmarshal(body.Data, &rotated))
	assert.NotEqual(t, login.RefreshToken, rotated.RefreshToken)

	w, body = doJSON(t, r, http.MethodPost, "/api/v1/account/refresh-token", rotated.AccessToken, gin.H{
		"refreshToken": login.RefreshToken,
	})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "REFRESH_TOKEN_REUSED", body.Code)

	// the new access token works on protected routes but the session is gone
	w, body = doJSON(t, r, http.MethodGet, "/api/v1/account/profile", rotated.AccessToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var profile ProfileResponse
	require.NoError(t, json.Unmarshal(body.Data, &profile))
	assert.True(t, profile.EmailConfirmed)
	assert.Equal(t, 0, profile.ActiveSessions)
}

func TestHTTP_VerifyEmailOtpByQuery(t *testing.T) {
	r, env := setupRouter(t)

	w, _ := doJSON(t, r, http.MethodPost, "/api/v1/account/register", "", gin.H{
		"email": "a@b.com", "password": goodPassword,
	})
	require.Equal(t, http.StatusCreated, w.Code)

	code := env.mail.verificationCode("a@b.com")
	w, _ = doJSON(t, r, http.MethodGet, "/api/v1/account/verify-email-otp?email=a@b.com&code="+code, "", nil)
	assert.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w, body := doJSON(t, r, http.MethodGet, "/api/v1/account/verify-email-otp?email=a@b.com&code=12", "", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "VALIDATION_ERROR", body.Code)
}

func TestHTTP_RegisterErrors(t *testing.T) {
	r, env := setupRouter(t)

	w, body := doJSON(t, r, http.MethodPost, "/api/v1/account/register", "", gin.H{
		"email": "not-an-email", "password": goodPassword,
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "VALIDATION_ERROR", body.Code)
	assert.NotEmpty(t, body.Errors)

	w, body = doJSON(t, r, http.MethodPost, "/api/v1/account/register", "", gin.H{
		"email": "a@b.com", "password": "alllowercase",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "WEAK_PASSWORD", body.Code)
	assert.Len(t, body.Errors, 3)

	w, _ = doJSON(t, r, http.MethodPost, "/api/v1/account/register", "", gin.H{
		"email": "a@b.com", "password": goodPassword, "role": "admin",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = doJSON(t, r, http.MethodPost, "/api/v1/account/register", "", gin.H{
		"email": "a@b.com", "password": goodPassword,
	})
	require.Equal(t, http.StatusCreated, w.Code)

	w, body = doJSON(t, r, http.MethodPost, "/api/v1/account/register", "", gin.H{
		"email": "a@b.com", "password": goodPassword,
	})
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "OTP_THROTTLED", body.Code)
	assert.Equal(t, int64(1), env.countUsers(t))
}

func TestHTTP_LoginLockout(t *testing.T) {
	r, env := setupRouter(t)
	env.confirmedUser(t, "a@b.com")

	var w *httptest.ResponseRecorder
	var body envelope
	for i := 0; i < 5; i++ {
		w, body = doJSON(t, r, http.MethodPost, "/api/v1/account/login", "", gin.H{
			"email": "a@b.com", "password": "Wrong!Pass1",
		})
	}
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "ACCOUNT_LOCKED", body.Code)

	w, body = doJSON(t, r, http.MethodPost, "/api/v1/account/login", "", gin.H{
		"email": "nobody@b.com", "password": "Wrong!Pass1",
	})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "INVALID_CREDENTIALS", body.Code)
}

func TestHTTP_ProtectedRoutes(t *testing.T) {
	r, env := setupRouter(t)
	env.confirmedUser(t, "a@b.com")
	env.confirmedUser(t, "other@b.com")
	session := env.login(t, "a@b.com")
	otherSession := env.login(t, "other@b.com")

	w, body := doJSON(t, r, http.MethodPost, "/api/v1/account/revoke-token", "", gin.H{"refreshToken": session.RefreshToken})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "AUTH_HEADER_MISSING", body.Code)

	w, body = doJSON(t, r, http.MethodPost, "/api/v1/account/revoke-token", otherSession.AccessToken, gin.H{"refreshToken": session.RefreshToken})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "UNAUTHORIZED_REVOCATION", body.Code)

	w, _ = doJSON(t, r, http.MethodPost, "/api/v1/account/revoke-token", session.AccessToken, gin.H{"refreshToken": session.RefreshToken})
	assert.Equal(t, http.StatusOK, w.Code)

	w, body = doJSON(t, r, http.MethodPost, "/api/v1/account/revoke-token", session.AccessToken, gin.H{"refreshToken": session.RefreshToken})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "TOKEN_ALREADY_REVOKED", body.Code)

	env.login(t, "a@b.com")
	w, body = doJSON(t, r, http.MethodPost, "/api/v1/account/logout-all", session.AccessToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"revokedSessions":1}`, string(body.Data))

	w, body = doJSON(t, r, http.MethodPost, "/api/v1/account/change-password", session.AccessToken, gin.H{
		"currentPassword": goodPassword, "newPassword": "weak",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "WEAK_PASSWORD", body.Code)

	w, _ = doJSON(t, r, http.MethodPost, "/api/v1/account/change-password", session.AccessToken, gin.H{
		"currentPassword": goodPassword, "newPassword": "N3w!Password",
	})
	assert.Equal(t, http.StatusOK, w.Code)

	// an expired access token is only good for refreshing
	env.clock.Advance(2 * time.Hour)
	w, _ = doJSON(t, r, http.MethodGet, "/api/v1/account/profile", session.AccessToken, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestHTTP_PasswordRecovery(t *testing.T) {
	r, env := setupRouter(t)
	env.confirmedUser(t, "a@b.com")

	for _, email := range []string{"nobody@b.com", "a@b.com"} {
		w, body := doJSON(t, r, http.MethodPost, "/api/v1/account/forgot-password", "", gin.H{"email": email})
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "If your email is in our system, you will receive a reset code.", body.Message)
	}

	code := env.mail.resetCode("a@b.com")
	w, _ := doJSON(t, r, http.MethodPost, "/api/v1/account/reset-password", "", gin.H{
		"email": "a@b.com", "code": code, "newPassword": "N3w!Password",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w, body := doJSON(t, r, http.MethodPost, "/api/v1/account/reset-password", "", gin.H{
		"email": "a@b.com", "code": code, "newPassword": "N3w!Password",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "INVALID_REQUEST", body.Code)

	w, _ = doJSON(t, r, http.MethodPost, "/api/v1/account/login", "", gin.H{
		"email": "a@b.com", "password": "N3w!Password",
	})
	assert.Equal(t, http.StatusOK, w.Code)
}
