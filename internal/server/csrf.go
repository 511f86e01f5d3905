package server

import (
	"crypto/rand"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/headline-goat/variant-goat/internal/assign"
)

const (
	sessionCookieName = "vg_sid"
	sessionHeader     = "X-VG-Session"
	tokenHeader       = "X-VG-Token"
	sessionTokenTTL   = 12 * time.Hour
)

var errSessionMismatch = errors.New("token does not belong to this session")

// sessionClaims binds an anti-forgery token to one browser session.
type sessionClaims struct {
	SessionID string `json:"sid"`
	jwt.RegisteredClaims
}

type csrfSigner struct {
	secret []byte
	now    func() time.Time
}

// newCSRFSigner signs with secret, or with a random per-process key when
// secret is empty. Tokens from a random key do not survive restarts.
func newCSRFSigner(secret []byte) *csrfSigner {
	if len(secret) == 0 {
		secret = make([]byte, 32)
		rand.Read(secret)
	}
	return &csrfSigner{secret: secret, now: time.Now}
}

func (c *csrfSigner) Issue(sessionID string) (string, error) {
	now := c.now()
	claims := &sessionClaims{
		SessionID: sessionID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(sessionTokenTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return token, nil
}

func (c *csrfSigner) Verify(token, sessionID string) error {
	claims := &sessionClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		return c.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(c.now),
	)
	if err != nil {
		return fmt.Errorf("invalid token: %w", err)
	}
	if sessionID == "" || claims.SessionID != sessionID {
		return errSessionMismatch
	}
	return nil
}

// sessionID returns the visitor's session id, issuing a new session cookie
// when there is none.
func sessionID(w http.ResponseWriter, r *http.Request) string {
	if cookie, err := r.Cookie(sessionCookieName); err == nil && cookie.Value != "" {
		return cookie.Value
	}

	id := uuid.NewString()
	assign.SetCookie(w, r, &http.Cookie{
		Name:     sessionCookieName,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
	})
	return id
}

// requestSessionID returns the session a tracking request belongs to: the
// session cookie, or the session header the tracker echoes from /session
// when the browser withholds cross-site cookies.
func requestSessionID(r *http.Request) string {
	if cookie, err := r.Cookie(sessionCookieName); err == nil && cookie.Value != "" {
		return cookie.Value
	}
	return r.Header.Get(sessionHeader)
}

// csrfMiddleware rejects requests whose token header does not verify
// against the request's session.
func (s *Server) csrfMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}

		if err := s.csrf.Verify(r.Header.Get(tokenHeader), requestSessionID(r)); err != nil {
			setCORSHeaders(w, r, "POST, OPTIONS")
			writeError(w, http.StatusForbidden, "invalid or missing anti-forgery token", "")
			return
		}
		next.ServeHTTP(w, r)
	})
}
