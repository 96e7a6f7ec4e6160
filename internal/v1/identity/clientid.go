// Package identity mints and recognises the stable client IDs carried
// in the clientID cookie.
package identity

import (
	"fmt"
	"math/rand/v2"
	"net/http"
	"time"
)

// CookieName is the cookie carrying the client's stable identity.
const CookieName = "clientID"

// cookieMaxAge is 100 years in seconds, so the identity effectively
// lives as long as the browser profile does.
const cookieMaxAge = 3153600000

// ClientIDFromCookies returns the clientID cookie value, or "" if the
// cookie is absent.
func ClientIDFromCookies(cookies []*http.Cookie) string {
	for _, c := range cookies {
		if c.Name == CookieName {
			return c.Value
		}
	}
	return ""
}

// NewClientID returns a fresh unique ID. The unix-seconds prefix keeps
// IDs from colliding across restarts; the random 31-bit suffix keeps
// them from colliding within one.
func NewClientID() string {
	return fmt.Sprintf("%d.%d", time.Now().Unix(), rand.Int32())
}

// ClientIDOrNew returns the ID from the cookies, minting one if needed.
func ClientIDOrNew(cookies []*http.Cookie) string {
	if id := ClientIDFromCookies(cookies); id != "" {
		return id
	}
	return NewClientID()
}

// Cookie builds the Set-Cookie value sent on every upgrade, whether the
// ID is new or reused, so the browser refreshes its expiry.
func Cookie(id string) *http.Cookie {
	return &http.Cookie{
		Name:   CookieName,
		Value:  id,
		Path:   "/",
		MaxAge: cookieMaxAge,
	}
}
