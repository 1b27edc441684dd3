// ABOUTME: Tests for JWT session cookies and helpers.
// ABOUTME: Covers issue/verify round trips, tampering, and role checks.

package web

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func issueCookie(t *testing.T, s *Sessions, user SessionUser) *http.Cookie {
	t.Helper()
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	require.NoError(t, s.Issue(w, r, user))

	for _, c := range w.Result().Cookies() {
		if c.Name == SessionCookieName {
			return c
		}
	}
	t.Fatal("no session cookie set")
	return nil
}

func TestSessions_IssueVerifyRoundTrip(t *testing.T) {
	s, err := NewSessions([]byte("test-secret"))
	require.NoError(t, err)

	cookie := issueCookie(t, s, SessionUser{ID: "u1", Email: "a@b.c", Role: "admin"})

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.AddCookie(cookie)
	user, err := s.Verify(r)
	require.NoError(t, err)
	assert.Equal(t, "u1", user.ID)
	assert.Equal(t, "a@b.c", user.Email)
	assert.Equal(t, "admin", user.Role)
}

func TestSessions_VerifyRejectsTamperedToken(t *testing.T) {
	s, err := NewSessions([]byte("test-secret"))
	require.NoError(t, err)

	cookie := issueCookie(t, s, SessionUser{ID: "u1"})
	cookie.Value = cookie.Value[:len(cookie.Value)-2] + "xx"

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.AddCookie(cookie)
	_, err = s.Verify(r)
	assert.ErrorIs(t, err, ErrInvalidSession)
}

func TestSessions_VerifyRejectsWrongSecret(t *testing.T) {
	a, err := NewSessions([]byte("secret-a"))
	require.NoError(t, err)
	b, err := NewSessions([]byte("secret-b"))
	require.NoError(t, err)

	cookie := issueCookie(t, a, SessionUser{ID: "u1"})

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.AddCookie(cookie)
	_, err = b.Verify(r)
	assert.ErrorIs(t, err, ErrInvalidSession)
}

func TestSessions_VerifyMissingCookie(t *testing.T) {
	s, err := NewSessions(nil)
	require.NoError(t, err)

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	_, err = s.Verify(r)
	assert.ErrorIs(t, err, ErrInvalidSession)
}

func TestSessions_ClearExpiresCookies(t *testing.T) {
	s, err := NewSessions(nil)
	require.NoError(t, err)

	w := httptest.NewRecorder()
	s.Clear(w)

	cleared := map[string]bool{}
	for _, c := range w.Result().Cookies() {
		if c.MaxAge < 0 {
			cleared[c.Name] = true
		}
	}
	assert.True(t, cleared[SessionCookieName])
	assert.True(t, cleared[CSRFCookieName])
}

func TestSessionUser_Admin(t *testing.T) {
	assert.True(t, SessionUser{Role: "admin"}.Admin())
	assert.True(t, SessionUser{Role: "owner"}.Admin())
	assert.False(t, SessionUser{Role: "member"}.Admin())
	assert.False(t, SessionUser{}.Admin())
}

func TestGenerateSecureToken(t *testing.T) {
	a, err := generateSecureToken(32)
	require.NoError(t, err)
	b, err := generateSecureToken(32)
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
	assert.False(t, strings.ContainsAny(a, "+/="))
}
