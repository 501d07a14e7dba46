// Package web はログイン後のページ（/home, /account）を提供します。
package web

import (
	"net"
	"net/http"
	"net/url"

	"github.com/gin-gonic/gin"

	"github.com/yourusername/university/internal/auth"
)

const logoutPath = "/logout"

// Guard はページを保護するミドルウェアを提供します。
type Guard interface {
	Session() gin.HandlerFunc
	RequireLogin() gin.HandlerFunc
}

// Options は Register の設定です。
type Options struct {
	// TLSAddr を設定すると、ログアウトフォームの送信先を TLS リスナーにします。
	// 平文リスナーには /logout がなく、Secure クッキーも送られないためです。
	TLSAddr string
}

// Register は web / web-tls の両リスナーに共通するページを登録します。
func Register(router gin.IRouter, guard Guard, opts Options) {
	pages := router.Group("")
	pages.Use(guard.Session())
	{
		pages.GET("/", func(c *gin.Context) {
			c.Redirect(http.StatusFound, "/home")
		})
		pages.GET("/home", guard.RequireLogin(), HomeHandler(opts))
		pages.GET("/account", guard.RequireLogin(), AccountHandler)
	}
}

// HomeHandler はログイン中ユーザーの表示名を見出しに出すページです。
func HomeHandler(opts Options) gin.HandlerFunc {
	_, tlsPort, _ := net.SplitHostPort(opts.TLSAddr)
	return func(c *gin.Context) {
		p, ok := auth.CurrentPrincipal(c)
		if !ok {
			c.Status(http.StatusUnauthorized)
			return
		}
		logoutURL := logoutPath
		if opts.TLSAddr != "" {
			logoutURL = secureURL(c.Request, tlsPort, logoutPath, "")
		}
		c.HTML(http.StatusOK, "home.html", gin.H{
			"Title":       "Home",
			"DisplayName": p.DisplayName,
			"LogoutURL":   logoutURL,
		})
	}
}

// AccountHandler はアカウント情報のページです。
func AccountHandler(c *gin.Context) {
	p, ok := auth.CurrentPrincipal(c)
	if !ok {
		c.Status(http.StatusUnauthorized)
		return
	}
	c.HTML(http.StatusOK, "account.html", gin.H{
		"Title":       "Account",
		"Username":    p.Username,
		"DisplayName": p.DisplayName,
		"ExpiresAt":   p.ExpiresAt,
	})
}

// SecureRedirect は平文リスナーへのリクエストを TLS リスナーの同じパスへ転送するハンドラーを返します。
// tlsAddr は ":8001" のような待ち受けアドレスです。
// GET / HEAD 以外はメソッドを保ったまま 307 で転送します。
func SecureRedirect(tlsAddr string) gin.HandlerFunc {
	_, tlsPort, _ := net.SplitHostPort(tlsAddr)
	return func(c *gin.Context) {
		code := http.StatusFound
		if c.Request.Method != http.MethodGet && c.Request.Method != http.MethodHead {
			code = http.StatusTemporaryRedirect
		}
		c.Redirect(code, secureURL(c.Request, tlsPort, c.Request.URL.Path, c.Request.URL.RawQuery))
	}
}

// secureURL はリクエストのホストと TLS リスナーのポートから https の URL を組み立てます。
func secureURL(r *http.Request, tlsPort, path, rawQuery string) string {
	host := r.Host
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	if tlsPort != "" && tlsPort != "443" {
		host = net.JoinHostPort(host, tlsPort)
	}
	target := url.URL{
		Scheme:   "https",
		Host:     host,
		Path:     path,
		RawQuery: rawQuery,
	}
	return target.String()
}
