package credential

import (
	"net/http"
	"time"
)

// Cookie names written by the issuer. Nothing else in the process writes them.
const (
	AccessCookie  = "access_token"
	RefreshCookie = "refresh_token"
)

func (i *Issuer) setCookie(w http.ResponseWriter, name, value string, ttl time.Duration) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		HttpOnly: true,
		Secure:   i.cfg.Secure,
		SameSite: http.SameSiteStrictMode,
		MaxAge:   int(ttl.Seconds()),
	})
}

func (i *Issuer) clearCookie(w http.ResponseWriter, name string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Secure:   i.cfg.Secure,
		SameSite: http.SameSiteStrictMode,
		MaxAge:   -1,
		Expires:  time.Unix(0, 0),
	})
}

// ClearCookies expires both session cookies.
func (i *Issuer) ClearCookies(w http.ResponseWriter) {
	i.clearCookie(w, AccessCookie)
	i.clearCookie(w, RefreshCookie)
}

func cookieValue(r *http.Request, name string) string {
	c, err := r.Cookie(name)
	if err != nil {
		return ""
	}
	return c.Value
}
