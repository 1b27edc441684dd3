// ABOUTME: Browser session management using signed JWT cookies plus CSRF tokens.
// ABOUTME: Sessions carry the backend user identity and role for route gating.

package web

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	// SessionCookieName is the name of the session cookie
	SessionCookieName = "parlor_session"

	// CSRFCookieName is the name of the CSRF token cookie
	CSRFCookieName = "parlor_csrf"

	// SessionDuration is how long sessions last
	SessionDuration = 7 * 24 * time.Hour
)

var (
	// ErrInvalidSession indicates a malformed or tampered session token
	ErrInvalidSession = errors.New("invalid session token")

	// ErrExpiredSession indicates a session token past its expiry
	ErrExpiredSession = errors.New("session expired")
)

// SessionUser is the identity carried by a session cookie.
type SessionUser struct {
	ID    string
	Email string
	Role  string
}

// Admin reports whether the user may access the admin panel.
func (u SessionUser) Admin() bool {
	return u.Role == "admin" || u.Role == "owner"
}

// Sessions issues and verifies session cookies signed with HS256.
type Sessions struct {
	secret []byte
}

// NewSessions creates a session manager. An empty secret gets a random one,
// which invalidates all sessions on restart.
func NewSessions(secret []byte) (*Sessions, error) {
	if len(secret) == 0 {
		secret = make([]byte, 32)
		if _, err := rand.Read(secret); err != nil {
			return nil, fmt.Errorf("generating session secret: %w", err)
		}
	}
	return &Sessions{secret: secret}, nil
}

// Issue signs a session token for the user and sets the cookie.
func (s *Sessions) Issue(w http.ResponseWriter, r *http.Request, user SessionUser) error {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub":   user.ID,
		"email": user.Email,
		"role":  user.Role,
		"iat":   now.Unix(),
		"exp":   now.Add(SessionDuration).Unix(),
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return fmt.Errorf("signing session token: %w", err)
	}

	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    token,
		Path:     "/",
		Expires:  now.Add(SessionDuration),
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}

// Verify parses the session cookie and returns the user it identifies.
func (s *Sessions) Verify(r *http.Request) (SessionUser, error) {
	cookie, err := r.Cookie(SessionCookieName)
	if err != nil || cookie.Value == "" {
		return SessionUser{}, ErrInvalidSession
	}

	token, err := jwt.Parse(cookie.Value, func(token *jwt.Token) (interface{}, error) {
		// Validate the signing method is HS256
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return SessionUser{}, ErrExpiredSession
		}
		return SessionUser{}, fmt.Errorf("%w: %v", ErrInvalidSession, err)
	}
	if !token.Valid {
		return SessionUser{}, ErrInvalidSession
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return SessionUser{}, ErrInvalidSession
	}

	sub, ok := claims["sub"].(string)
	if !ok || sub == "" {
		return SessionUser{}, ErrInvalidSession
	}
	email, _ := claims["email"].(string)
	role, _ := claims["role"].(string)

	return SessionUser{ID: sub, Email: email, Role: role}, nil
}

// Clear expires the session and CSRF cookies.
func (s *Sessions) Clear(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
	})
	http.SetCookie(w, &http.Cookie{
		Name:     CSRFCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
	})
}

// generateSecureToken returns a URL-safe random token of n bytes entropy.
func generateSecureToken(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
