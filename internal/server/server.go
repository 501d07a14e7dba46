// Package server は web（平文）と web-tls / api（TLS）の 2 つのリスナーを組み立てます。
package server

import (
	"context"
	"crypto/tls"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/samber/oops"
	"golang.org/x/sync/errgroup"

	"github.com/yourusername/university/internal/auth"
	"github.com/yourusername/university/internal/config"
	"github.com/yourusername/university/internal/logging"
	"github.com/yourusername/university/internal/metrics"
	"github.com/yourusername/university/internal/session"
	"github.com/yourusername/university/internal/users"
	"github.com/yourusername/university/internal/views"
	"github.com/yourusername/university/internal/web"
)

const (
	formSessionMaxAge = 60 * 60
	shutdownTimeout   = 10 * time.Second
	readHeaderTimeout = 5 * time.Second
)

// Deps はサーバーの依存関係です。
type Deps struct {
	Config  *config.Config
	Users   users.Directory
	Tokens  session.Tokens
	Limiter auth.AttemptLimiter
	Auditor auth.Auditor
	Metrics *metrics.Metrics
	Logger  *slog.Logger
	// FormSecret はログインフォーム用セッションの署名鍵です。
	FormSecret []byte
	// TLS は TLS リスナーの設定です。Listen を呼ぶ場合は必須です。
	TLS *tls.Config
}

// Server は 2 つのリスナーとそのルーティングを保持します。
type Server struct {
	cfg    *config.Config
	logger *slog.Logger
	auth   *auth.Manager
	web    *gin.Engine
	secure *gin.Engine
	tls    *tls.Config

	webLn net.Listener
	tlsLn net.Listener
}

// New はルーティングを組み立てた Server を返します。リスナーはまだ開きません。
func New(deps Deps) (*Server, error) {
	if deps.Config == nil {
		return nil, oops.Code("SERVER_CONFIG_INVALID").Errorf("config is nil")
	}
	if deps.Users == nil || deps.Tokens == nil {
		return nil, oops.Code("SERVER_CONFIG_INVALID").Errorf("users and tokens are required")
	}
	if len(deps.FormSecret) == 0 {
		return nil, oops.Code("SERVER_CONFIG_INVALID").Errorf("form secret is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	manager := auth.NewManager(deps.Users, deps.Tokens, auth.Options{
		Cookie: auth.CookieOptions{
			Name:   deps.Config.CookieName,
			Secure: deps.Config.CookieSecure,
		},
		Limiter: deps.Limiter,
		Auditor: deps.Auditor,
		Metrics: deps.Metrics,
		Logger:  logger,
	})

	s := &Server{
		cfg:    deps.Config,
		logger: logger,
		auth:   manager,
		tls:    deps.TLS,
	}
	s.web = s.newEngine("web")
	s.secure = s.newEngine("web-tls")

	s.setupWebRoutes(deps.Metrics)
	s.setupSecureRoutes(deps.FormSecret)
	return s, nil
}

func (s *Server) newEngine(listener string) *gin.Engine {
	engine := gin.New()
	engine.Use(gin.Recovery(), logging.RequestID(), logging.RequestLogger(s.logger, listener))
	views.Load(engine)
	engine.GET("/health", handleHealth)
	return engine
}

// setupWebRoutes は平文リスナーのルートを登録します（home のみ）。
func (s *Server) setupWebRoutes(m *metrics.Metrics) {
	web.Register(s.web, s.auth, web.Options{TLSAddr: s.cfg.TLSAddr})
	// ログイン・ログアウトは api リスナーにしかないため TLS 側へ転送する
	s.web.GET(s.auth.LoginPath(), web.SecureRedirect(s.cfg.TLSAddr))
	s.web.POST("/logout", web.SecureRedirect(s.cfg.TLSAddr))
	if m != nil {
		s.web.GET("/metrics", gin.WrapH(m.Handler()))
	}
}

// setupSecureRoutes は TLS リスナーのルートを登録します（home と login API）。
func (s *Server) setupSecureRoutes(formSecret []byte) {
	web.Register(s.secure, s.auth, web.Options{})

	store := cookie.NewStore(formSecret)
	store.Options(sessions.Options{
		Path:     "/",
		MaxAge:   formSessionMaxAge,
		HttpOnly: true,
		Secure:   s.cfg.CookieSecure,
		SameSite: http.SameSiteStrictMode,
	})

	api := s.secure.Group("")
	// 許可オリジンが空なら同一オリジンのみ
	if origins := s.cfg.AllowedOrigins(); len(origins) > 0 {
		corsConfig := cors.DefaultConfig()
		corsConfig.AllowOrigins = origins
		corsConfig.AllowCredentials = true
		corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Accept"}
		api.Use(cors.New(corsConfig))
	}
	api.Use(sessions.Sessions(auth.FormSessionName, store), s.auth.Session())
	{
		api.GET("/login", s.auth.LoginPage)
		api.POST("/login", s.auth.Login)
		api.POST("/logout", s.auth.RequireLogin(), s.auth.Logout)
	}
}

// Web は平文リスナー（web）のハンドラーを返します。
func (s *Server) Web() http.Handler {
	return s.web
}

// Secure は TLS リスナー（web-tls / api）のハンドラーを返します。
func (s *Server) Secure() http.Handler {
	return s.secure
}

// Listen は両方のリスナーを開きます。
func (s *Server) Listen() error {
	if s.tls == nil {
		return oops.Code("SERVER_CONFIG_INVALID").Errorf("tls config is required")
	}
	webLn, err := net.Listen("tcp", s.cfg.WebAddr)
	if err != nil {
		return oops.Code("SERVER_LISTEN_FAILED").With("addr", s.cfg.WebAddr).Wrap(err)
	}
	rawTLS, err := net.Listen("tcp", s.cfg.TLSAddr)
	if err != nil {
		_ = webLn.Close()
		return oops.Code("SERVER_LISTEN_FAILED").With("addr", s.cfg.TLSAddr).Wrap(err)
	}
	s.webLn = webLn
	s.tlsLn = tls.NewListener(rawTLS, s.tls)
	return nil
}

// WebAddr は平文リスナーのアドレスを返します。
func (s *Server) WebAddr() net.Addr {
	if s.webLn == nil {
		return nil
	}
	return s.webLn.Addr()
}

// TLSAddr は TLS リスナーのアドレスを返します。
func (s *Server) TLSAddr() net.Addr {
	if s.tlsLn == nil {
		return nil
	}
	return s.tlsLn.Addr()
}

// Serve は ctx がキャンセルされるまでリクエストを処理し、その後グレースフルに停止します。
func (s *Server) Serve(ctx context.Context) error {
	if s.webLn == nil || s.tlsLn == nil {
		return oops.Code("SERVER_NOT_LISTENING").Errorf("Listen must be called before Serve")
	}

	webSrv := &http.Server{Handler: s.web, ReadHeaderTimeout: readHeaderTimeout}
	tlsSrv := &http.Server{Handler: s.secure, ReadHeaderTimeout: readHeaderTimeout, TLSConfig: s.tls}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.logger.Info("listening", "listener", "web", "addr", s.webLn.Addr().String())
		return ignoreClosed(webSrv.Serve(s.webLn))
	})
	g.Go(func() error {
		s.logger.Info("listening", "listener", "web-tls", "addr", s.tlsLn.Addr().String())
		return ignoreClosed(tlsSrv.Serve(s.tlsLn))
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return errors.Join(webSrv.Shutdown(shutdownCtx), tlsSrv.Shutdown(shutdownCtx))
	})
	return g.Wait()
}

func ignoreClosed(err error) error {
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// handleHealth はヘルスチェックエンドポイントのハンドラーです。
func handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "university",
	})
}
