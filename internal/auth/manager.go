package auth

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"

	"github.com/yourusername/university/internal/audit"
	"github.com/yourusername/university/internal/metrics"
	"github.com/yourusername/university/internal/session"
	"github.com/yourusername/university/internal/users"
)

const (
	// FormSessionName はログインフォーム用（CSRF トークン）のセッション名です。
	FormSessionName = "hapi-university-form"
	formKeyCSRF     = "crumb"
	formFieldCSRF   = "crumb"

	// ContextResolutionKey は、ハンドラー間でログイン状態を共有するためのキーです。
	ContextResolutionKey = "auth.resolution"

	loginTemplate = "login.html"
)

// Auditor は監査イベントを記録します。
type Auditor interface {
	Record(ctx context.Context, ev audit.Event) error
}

// Options は Manager の設定です。
type Options struct {
	Cookie      CookieOptions
	LoginPath   string // 未ログイン時のリダイレクト先
	AccountPath string // ログイン済みで /login を開いた場合のリダイレクト先
	Limiter     AttemptLimiter
	Auditor     Auditor
	Metrics     *metrics.Metrics
	Logger      *slog.Logger
}

// Manager は認証処理と状態をまとめた構造体です。
type Manager struct {
	dir         users.Directory
	tokens      session.Tokens
	cookie      CookieOptions
	loginPath   string
	accountPath string
	limiter     AttemptLimiter
	auditor     Auditor
	metrics     *metrics.Metrics
	logger      *slog.Logger
}

// NewManager は認証マネージャーを作成します。
func NewManager(dir users.Directory, tokens session.Tokens, opts Options) *Manager {
	m := &Manager{
		dir:         dir,
		tokens:      tokens,
		cookie:      opts.Cookie.withDefaults(),
		loginPath:   opts.LoginPath,
		accountPath: opts.AccountPath,
		limiter:     opts.Limiter,
		auditor:     opts.Auditor,
		metrics:     opts.Metrics,
		logger:      opts.Logger,
	}
	if m.loginPath == "" {
		m.loginPath = "/login"
	}
	if m.accountPath == "" {
		m.accountPath = "/account"
	}
	if m.limiter == nil {
		m.limiter = NewMemoryLimiter(DefaultLimitPolicy)
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	return m
}

// LoginPath は未ログイン時のリダイレクト先を返します。
func (m *Manager) LoginPath() string {
	return m.loginPath
}

// Session はクッキーのトークンを検証し、ログイン状態をコンテキストに保存するミドルウェアです。
func (m *Manager) Session() gin.HandlerFunc {
	return func(c *gin.Context) {
		m.resolve(c)
		c.Next()
	}
}

func (m *Manager) resolve(c *gin.Context) session.Resolution {
	if v, ok := c.Get(ContextResolutionKey); ok {
		if res, ok := v.(session.Resolution); ok {
			return res
		}
	}
	res := session.Resolve(m.tokens, m.cookie.readToken(c))
	c.Set(ContextResolutionKey, res)
	return res
}

// CurrentPrincipal はログイン中のユーザーを返します。
func CurrentPrincipal(c *gin.Context) (session.Principal, bool) {
	v, ok := c.Get(ContextResolutionKey)
	if !ok {
		return session.Principal{}, false
	}
	res, ok := v.(session.Resolution)
	if !ok || res.State != session.Authenticated {
		return session.Principal{}, false
	}
	return res.Principal, true
}

// RequireLogin は未ログインのリクエストをログインページへリダイレクトするミドルウェアです。
// 無効・期限切れのクッキーは消去します。
func (m *Manager) RequireLogin() gin.HandlerFunc {
	return func(c *gin.Context) {
		res := m.resolve(c)
		switch res.State {
		case session.Authenticated:
			c.Next()
		case session.Anonymous:
			if res.Stale() {
				m.metrics.SessionRejected(string(res.Rejection))
				m.cookie.clear(c)
			}
			c.Redirect(http.StatusFound, m.loginPath)
			c.Abort()
		}
	}
}

// LoginPage は GET /login のハンドラーです。ログイン済みの場合は AccountPath へリダイレクトします。
func (m *Manager) LoginPage(c *gin.Context) {
	res := m.resolve(c)
	switch res.State {
	case session.Authenticated:
		c.Redirect(http.StatusFound, m.accountPath)
	case session.Anonymous:
		crumb, err := m.ensureCSRF(c)
		if err != nil {
			m.logger.ErrorContext(c.Request.Context(), "failed to prepare login form", "error", err)
			respondWithError(c, err)
			return
		}
		m.renderLogin(c, http.StatusOK, crumb, "", "")
	}
}

// Login は POST /login のハンドラーです。
// JSON の場合は表示名を返し、フォーム送信の場合はページ遷移で応答します。
func (m *Manager) Login(c *gin.Context) {
	form := c.ContentType() == binding.MIMEPOSTForm

	var creds Credentials
	var bindErr error
	if form {
		bindErr = c.ShouldBindWith(&creds, binding.Form)
	} else {
		bindErr = c.ShouldBindJSON(&creds)
	}

	user, err := m.login(c, creds, bindErr, form)
	if err != nil {
		if form {
			m.renderLoginError(c, creds.Username, err)
			return
		}
		respondWithError(c, err)
		return
	}

	if form {
		c.Redirect(http.StatusFound, m.accountPath)
		return
	}
	c.JSON(http.StatusOK, gin.H{"username": user.DisplayName})
}

func (m *Manager) login(c *gin.Context, creds Credentials, bindErr error, form bool) (users.User, error) {
	ctx := c.Request.Context()
	ip := c.ClientIP()

	if form {
		if err := m.verifyCSRF(c); err != nil {
			m.metrics.LoginAttempt(metrics.ResultMalformed)
			return users.User{}, err
		}
	}

	if bindErr != nil {
		m.metrics.LoginAttempt(metrics.ResultMalformed)
		return users.User{}, ErrMalformedInput
	}
	if err := creds.Validate(); err != nil {
		m.metrics.LoginAttempt(metrics.ResultMalformed)
		return users.User{}, err
	}

	retryAfter, err := m.limiter.Check(ctx, ip)
	if err != nil {
		// 試行制限のストアが落ちていてもログイン自体は止めない
		m.logger.WarnContext(ctx, "login limiter check failed", "error", err)
	}
	if retryAfter > 0 {
		// Retry-After は秒数またはHTTP-Date形式が推奨されているため秒数で返す
		c.Header("Retry-After", strconv.FormatInt(int64(retryAfter.Seconds())+1, 10))
		m.metrics.LoginAttempt(metrics.ResultThrottled)
		m.record(c, audit.NewEvent(audit.KindLoginThrottled, creds.Username, ip).WithReason(audit.ReasonLocked))
		return users.User{}, ErrTooManyAttempts
	}

	user, err := CheckCredentials(ctx, m.dir, creds)
	if err != nil {
		if errors.Is(err, ErrInvalidCredentials) {
			remaining, limErr := m.limiter.RecordFailure(ctx, ip)
			if limErr != nil {
				m.logger.WarnContext(ctx, "failed to record login failure", "error", limErr)
			}
			m.metrics.LoginAttempt(metrics.ResultInvalid)
			m.logger.InfoContext(ctx, "login failed", "username", creds.Username, "client_ip", ip, "remaining_attempts", remaining)
			m.record(c, audit.NewEvent(audit.KindLoginFailed, creds.Username, ip).WithReason(audit.ReasonInvalidCredentials))
			return users.User{}, err
		}
		m.metrics.LoginAttempt(metrics.ResultError)
		m.logger.ErrorContext(ctx, "login lookup failed", "error", err)
		return users.User{}, err
	}

	if err := m.limiter.Reset(ctx, ip); err != nil {
		m.logger.WarnContext(ctx, "failed to reset login attempts", "error", err)
	}

	token, err := m.tokens.Issue(user)
	if err != nil {
		m.metrics.LoginAttempt(metrics.ResultError)
		m.logger.ErrorContext(ctx, "failed to issue session token", "error", err)
		return users.User{}, err
	}
	m.cookie.writeToken(c, token, m.tokens.TTL())

	m.metrics.LoginAttempt(metrics.ResultSuccess)
	m.logger.InfoContext(ctx, "login succeeded", "username", user.Username, "client_ip", ip)
	m.record(c, audit.NewEvent(audit.KindLoginSucceeded, user.Username, ip))
	return user, nil
}

// Logout は POST /logout のハンドラーです。RequireLogin の後に登録します。
func (m *Manager) Logout(c *gin.Context) {
	m.cookie.clear(c)

	var username string
	if p, ok := CurrentPrincipal(c); ok {
		username = p.Username
	}
	m.metrics.Logout()
	m.logger.InfoContext(c.Request.Context(), "logged out", "username", username)
	m.record(c, audit.NewEvent(audit.KindLogout, username, c.ClientIP()))

	c.JSON(http.StatusOK, gin.H{"message": MessageLoggedOut})
}

func (m *Manager) record(c *gin.Context, ev audit.Event) {
	if m.auditor == nil {
		return
	}
	ev.UserAgent = c.Request.UserAgent()
	if err := m.auditor.Record(c.Request.Context(), ev); err != nil {
		m.logger.WarnContext(c.Request.Context(), "failed to record audit event", "kind", ev.Kind, "error", err)
	}
}

// ensureCSRF はフォーム用セッションに CSRF トークンがなければ生成して保存します。
func (m *Manager) ensureCSRF(c *gin.Context) (string, error) {
	form := sessions.Default(c)
	if crumb, ok := form.Get(formKeyCSRF).(string); ok && crumb != "" {
		return crumb, nil
	}
	crumb, err := generateToken()
	if err != nil {
		return "", err
	}
	form.Set(formKeyCSRF, crumb)
	if err := form.Save(); err != nil {
		return "", err
	}
	return crumb, nil
}

// verifyCSRF はフォームの crumb をセッションの値と比較します。
func (m *Manager) verifyCSRF(c *gin.Context) error {
	form := sessions.Default(c)
	expected, ok := form.Get(formKeyCSRF).(string)
	if !ok || expected == "" {
		return ErrInvalidFormToken
	}
	received := c.PostForm(formFieldCSRF)
	if subtle.ConstantTimeCompare([]byte(expected), []byte(received)) != 1 {
		return ErrInvalidFormToken
	}
	return nil
}

func (m *Manager) renderLoginError(c *gin.Context, username string, err error) {
	status, _, message := errorStatus(err)
	var crumb string
	if v, ok := sessions.Default(c).Get(formKeyCSRF).(string); ok {
		crumb = v
	}
	m.renderLogin(c, status, crumb, username, message)
}

func (m *Manager) renderLogin(c *gin.Context, status int, crumb, username, message string) {
	c.HTML(status, loginTemplate, gin.H{
		"Title":    "Login",
		"Crumb":    crumb,
		"Username": username,
		"Message":  message,
	})
}

func generateToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
