package auth

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// CookieOptions はセッションクッキーの属性です。
type CookieOptions struct {
	Name   string
	Path   string
	Secure bool
}

func (o CookieOptions) withDefaults() CookieOptions {
	if o.Name == "" {
		o.Name = "hapi-university"
	}
	if o.Path == "" {
		o.Path = "/"
	}
	return o
}

// readToken はリクエストのセッションクッキーからトークンを取り出します。
func (o CookieOptions) readToken(c *gin.Context) string {
	token, err := c.Cookie(o.Name)
	if err != nil {
		return ""
	}
	return token
}

// writeToken はトークンを Max-Age 付きのクッキーとして設定します。
func (o CookieOptions) writeToken(c *gin.Context, token string, ttl time.Duration) {
	c.SetSameSite(http.SameSiteStrictMode)
	c.SetCookie(o.Name, token, int(ttl/time.Second), o.Path, "", o.Secure, true)
}

// clear はクッキーを即時失効させます（Max-Age=0）。
func (o CookieOptions) clear(c *gin.Context) {
	c.SetSameSite(http.SameSiteStrictMode)
	c.SetCookie(o.Name, "", -1, o.Path, "", o.Secure, true)
}
