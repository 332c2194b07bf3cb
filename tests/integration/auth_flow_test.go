//go:build integration

package integration

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	SessionID    string `json:"session_id"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func newServer(t *testing.T) *TestServer {
	t.Helper()
	resetDB(t)
	ts, err := NewTestServer(testDB.DB)
	require.NoError(t, err)
	t.Cleanup(ts.Close)
	return ts
}

func expectError(t *testing.T, resp *http.Response, status int, code string) {
	t.Helper()
	assert.Equal(t, status, resp.StatusCode)
	var body errorResponse
	require.NoError(t, ParseJSONResponse(resp, &body))
	assert.Equal(t, code, body.Error)
}

func registerAndVerify(t *testing.T, ts *TestServer, username, password string) {
	t.Helper()
	email := username + "@example.com"

	resp, err := ts.Request(http.MethodPost, "/auth/register", map[string]string{
		"username": username, "email": email, "password": password,
	}, "")
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close()

	// not yet verified
	resp, err = ts.Request(http.MethodPost, "/auth/login", map[string]string{"login": username, "password": password}, "")
	require.NoError(t, err)
	expectError(t, resp, http.StatusForbidden, "account_not_active")

	sent := ts.Email.Last("verification", email)
	require.NotNil(t, sent, "verification email should be sent")

	resp, err = ts.Request(http.MethodPost, "/auth/verify-email", map[string]string{"token": sent.Token}, "")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()
}

func login(t *testing.T, ts *TestServer, username, password string) tokenResponse {
	t.Helper()
	resp, err := ts.Request(http.MethodPost, "/auth/login", map[string]string{"login": username, "password": password}, "")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var tokens tokenResponse
	require.NoError(t, ParseJSONResponse(resp, &tokens))
	require.NotEmpty(t, tokens.AccessToken)
	return tokens
}

func TestAuthFlow_RegisterLoginRefreshLogout(t *testing.T) {
	ts := newServer(t)
	registerAndVerify(t, ts, "alice", "Str0ng!Passw0rd")

	tokens := login(t, ts, "alice", "Str0ng!Passw0rd")

	resp, err := ts.Request(http.MethodGet, "/auth/me", nil, tokens.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "no-store", resp.Header.Get("Cache-Control"))
	resp.Body.Close()

	resp, err = ts.Request(http.MethodGet, "/auth/admin/accounts/6f1c2a7e-2b7d-4a53-9a3e-0d3f5c1b9e42/audit", nil, tokens.AccessToken)
	require.NoError(t, err)
	expectError(t, resp, http.StatusForbidden, "forbidden")

	// rotate, then replay the old refresh token
	resp, err = ts.Request(http.MethodPost, "/auth/refresh", map[string]string{"refresh_token": tokens.RefreshToken}, "")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var rotated tokenResponse
	require.NoError(t, ParseJSONResponse(resp, &rotated))
	assert.Equal(t, tokens.SessionID, rotated.SessionID)

	resp, err = ts.Request(http.MethodPost, "/auth/refresh", map[string]string{"refresh_token": tokens.RefreshToken}, "")
	require.NoError(t, err)
	expectError(t, resp, http.StatusUnauthorized, "invalid_token")

	resp, err = ts.Request(http.MethodPost, "/auth/logout", nil, rotated.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	// access tokens die with their session
	resp, err = ts.Request(http.MethodGet, "/auth/me", nil, rotated.AccessToken)
	require.NoError(t, err)
	expectError(t, resp, http.StatusUnauthorized, "session_revoked")
}

func TestAuthFlow_LockoutAfterRepeatedFailures(t *testing.T) {
	ts := newServer(t)
	registerAndVerify(t, ts, "bob", "Str0ng!Passw0rd")

	for i := 0; i < 4; i++ {
		resp, err := ts.Request(http.MethodPost, "/auth/login", map[string]string{"login": "bob", "password": "wrong"}, "")
		require.NoError(t, err)
		expectError(t, resp, http.StatusUnauthorized, "invalid_credentials")
	}

	resp, err := ts.Request(http.MethodPost, "/auth/login", map[string]string{"login": "bob", "password": "wrong"}, "")
	require.NoError(t, err)
	assert.NotEmpty(t, resp.Header.Get("Retry-After"))
	expectError(t, resp, http.StatusLocked, "account_locked")

	// the right password does not bypass an active lock
	resp, err = ts.Request(http.MethodPost, "/auth/login", map[string]string{"login": "bob", "password": "Str0ng!Passw0rd"}, "")
	require.NoError(t, err)
	expectError(t, resp, http.StatusLocked, "account_locked")

	assert.NotNil(t, ts.Email.Last("notice", "bob@example.com"), "lockout notice should be sent")
}

func TestAuthFlow_PasswordResetRevokesSessions(t *testing.T) {
	ts := newServer(t)
	registerAndVerify(t, ts, "carol", "Str0ng!Passw0rd")
	tokens := login(t, ts, "carol", "Str0ng!Passw0rd")

	for _, email := range []string{"carol@example.com", "nobody@example.com"} {
		resp, err := ts.Request(http.MethodPost, "/auth/password/reset-request", map[string]string{"email": email}, "")
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		resp.Body.Close()
	}
	assert.Nil(t, ts.Email.Last("reset", "nobody@example.com"))
	sent := ts.Email.Last("reset", "carol@example.com")
	require.NotNil(t, sent)

	resp, err := ts.Request(http.MethodPost, "/auth/password/reset", map[string]string{
		"token": sent.Token, "new_password": "N3w!Passw0rd#2",
	}, "")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp, err = ts.Request(http.MethodPost, "/auth/password/reset", map[string]string{
		"token": sent.Token, "new_password": "An0ther!Passw0rd",
	}, "")
	require.NoError(t, err)
	expectError(t, resp, http.StatusBadRequest, "invalid_reset_token")

	resp, err = ts.Request(http.MethodGet, "/auth/me", nil, tokens.AccessToken)
	require.NoError(t, err)
	expectError(t, resp, http.StatusUnauthorized, "session_revoked")

	login(t, ts, "carol", "N3w!Passw0rd#2")
}
