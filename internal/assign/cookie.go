package assign

import (
	"context"
	"net/http"
	"strconv"
	"time"
)

const (
	shownCookiePrefix = "vg_shown_"
	shownCookieMaxAge = 30 * 24 * time.Hour

	// ShownParam carries the variant the browser last showed when its
	// cookies are not sent, as on cross-site requests over plain HTTP.
	ShownParam = "shown"
)

// IsSecure reports whether r reached the server over HTTPS, directly or
// through a TLS-terminating proxy.
func IsSecure(r *http.Request) bool {
	return r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https"
}

// SetCookie sets c on w. Over HTTPS the cookie is Secure and SameSite=None,
// otherwise it is Lax.
func SetCookie(w http.ResponseWriter, r *http.Request, c *http.Cookie) {
	if IsSecure(r) {
		c.Secure = true
		c.SameSite = http.SameSiteNoneMode
	} else {
		c.Secure = false
		c.SameSite = http.SameSiteLaxMode
	}
	http.SetCookie(w, c)
}

// CookieStore keeps the variant last shown for each experiment in a cookie
// on the visitor's browser, falling back to the ShownParam query value the
// tracker copies from local storage. The visitor id is implied by the
// browser, so it is ignored. A CookieStore is bound to one request/response
// pair.
type CookieStore struct {
	r *http.Request
	w http.ResponseWriter
}

func NewCookieStore(w http.ResponseWriter, r *http.Request) *CookieStore {
	return &CookieStore{r: r, w: w}
}

func ShownCookieName(experimentID int64) string {
	return shownCookiePrefix + strconv.FormatInt(experimentID, 10)
}

func (c *CookieStore) Get(_ context.Context, experimentID int64, _ string) (string, bool, error) {
	if cookie, err := c.r.Cookie(ShownCookieName(experimentID)); err == nil && cookie.Value != "" {
		return cookie.Value, true, nil
	}
	if shown := c.r.URL.Query().Get(ShownParam); shown != "" {
		return shown, true, nil
	}
	return "", false, nil
}

func (c *CookieStore) Set(_ context.Context, experimentID int64, _ string, variantID string) error {
	SetCookie(c.w, c.r, &http.Cookie{
		Name:     ShownCookieName(experimentID),
		Value:    variantID,
		Path:     "/",
		HttpOnly: true,
		MaxAge:   int(shownCookieMaxAge / time.Second),
	})
	return nil
}

func (c *CookieStore) Delete(_ context.Context, experimentID int64, _ string) error {
	SetCookie(c.w, c.r, &http.Cookie{
		Name:     ShownCookieName(experimentID),
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		MaxAge:   -1,
	})
	return nil
}
