package session

import (
	"net/http"
	"net/url"
	"time"
)

const TokenCookieName = "token"

// CookieMirror is the server-visible half of the Token Store.
type CookieMirror interface {
	SetToken(token string, maxAge time.Duration)
	ClearToken()
}

// TokenCookie builds the token cookie. A non-positive maxAge expires it.
func TokenCookie(token string, maxAge time.Duration, secure bool) *http.Cookie {
	c := &http.Cookie{
		Name:     TokenCookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteStrictMode,
	}
	if maxAge <= 0 {
		c.Value = ""
		c.MaxAge = -1
		c.Expires = time.Unix(0, 0)
		return c
	}
	c.MaxAge = int(maxAge / time.Second)
	if c.MaxAge == 0 {
		c.MaxAge = 1
	}
	c.Expires = time.Now().Add(maxAge)
	return c
}

// ResponseMirror writes the token cookie onto an HTTP response.
type ResponseMirror struct {
	W      http.ResponseWriter
	Secure bool
}

func (m ResponseMirror) SetToken(token string, maxAge time.Duration) {
	http.SetCookie(m.W, TokenCookie(token, maxAge, m.Secure))
}

func (m ResponseMirror) ClearToken() {
	http.SetCookie(m.W, TokenCookie("", 0, m.Secure))
}

// JarMirror keeps the token cookie in a cookie jar for requests to URL.
type JarMirror struct {
	Jar http.CookieJar
	URL *url.URL
}

func (m JarMirror) SetToken(token string, maxAge time.Duration) {
	m.Jar.SetCookies(m.URL, []*http.Cookie{TokenCookie(token, maxAge, m.URL.Scheme == "https")})
}

func (m JarMirror) ClearToken() {
	m.Jar.SetCookies(m.URL, []*http.Cookie{TokenCookie("", 0, m.URL.Scheme == "https")})
}
