package main

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/samber/oops"
	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"

	"github.com/yourusername/university/internal/audit"
	"github.com/yourusername/university/internal/auth"
	"github.com/yourusername/university/internal/certs"
	"github.com/yourusername/university/internal/config"
	"github.com/yourusername/university/internal/logging"
	"github.com/yourusername/university/internal/metrics"
	"github.com/yourusername/university/internal/server"
	"github.com/yourusername/university/internal/session"
	"github.com/yourusername/university/internal/users"
)

const auditShutdownTimeout = 5 * time.Second

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the web and web-tls listeners",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, cfg, cmd.ErrOrStderr())
		},
	}
}

// runServe は依存関係を組み立て、ctx がキャンセルされるまでサーバーを動かします。
func runServe(ctx context.Context, cfg *config.Config, logOut io.Writer) error {
	logger := logging.New(cfg.LogLevel, cfg.LogFormat, logOut)
	slog.SetDefault(logger)
	gin.SetMode(cfg.GinMode)

	dir, closeDir, err := openDirectory(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeDir()

	secret := []byte(cfg.SessionSecret)
	if len(secret) == 0 {
		// 開発時のみ。再起動するとセッションは無効になる
		secret = make([]byte, 32)
		if _, err := rand.Read(secret); err != nil {
			return oops.Code("SESSION_SECRET_FAILED").Wrap(err)
		}
		logger.Warn("SESSION_SECRET is not set; using a random secret for this process")
	}
	tokens, err := session.NewSignedTokens(secret, cfg.SessionTTL())
	if err != nil {
		return err
	}
	formSecret := sha256.Sum256(append([]byte("login-form:"), secret...))

	backends, err := openBackends(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer backends.close(logger)

	tlsConfig, err := certs.ServerConfig(cfg.TLSCertFile, cfg.TLSKeyFile, cfg.TLSHosts)
	if err != nil {
		return err
	}
	if cfg.TLSCertFile == "" {
		logger.Warn("TLS_CERT_FILE is not set; serving a self-signed certificate", "hosts", cfg.TLSHosts)
	}

	srv, err := server.New(server.Deps{
		Config:     cfg,
		Users:      dir,
		Tokens:     tokens,
		Limiter:    backends.limiter,
		Auditor:    backends.auditor,
		Metrics:    metrics.New(),
		Logger:     logger,
		FormSecret: formSecret[:],
		TLS:        tlsConfig,
	})
	if err != nil {
		return err
	}
	if err := srv.Listen(); err != nil {
		return err
	}

	logger.Info("starting university", "web", srv.WebAddr().String(), "web_tls", srv.TLSAddr().String(), "mode", cfg.GinMode)
	return srv.Serve(ctx)
}

// openDirectory は設定に応じてユーザーディレクトリを開きます。
func openDirectory(ctx context.Context, cfg *config.Config) (users.Directory, func(), error) {
	if cfg.UsersDatabaseURL != "" {
		dir, pool, err := users.OpenPostgresDirectory(ctx, cfg.UsersDatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		return dir, pool.Close, nil
	}
	dir, err := users.LoadStaticDirectory(cfg.UsersFile, bcrypt.DefaultCost)
	if err != nil {
		return nil, nil, err
	}
	return dir, func() {}, nil
}

// backends は Redis の有無で切り替わる試行制限と監査ログです。
type backends struct {
	limiter auth.AttemptLimiter
	auditor auth.Auditor
	audit   *audit.Manager
	rdb     *redis.Client
}

func openBackends(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*backends, error) {
	policy := auth.LimitPolicy{
		MaxAttempts:  cfg.LoginMaxAttempts,
		Window:       cfg.LoginWindow(),
		LockDuration: cfg.LoginLock(),
	}
	if cfg.RedisURL == "" {
		logger.Info("REDIS_URL is not set; login throttling is per-process and audit events are disabled")
		return &backends{limiter: auth.NewMemoryLimiter(policy)}, nil
	}

	rdb, err := openRedis(ctx, cfg.RedisURL)
	if err != nil {
		return nil, err
	}

	manager, err := audit.NewManager(cfg.RedisURL, audit.NewStore(rdb, cfg.AuditTTL()), logger)
	if err != nil {
		_ = rdb.Close()
		return nil, err
	}
	manager.StartWorkers()

	return &backends{
		limiter: auth.NewRedisLimiter(rdb, policy),
		auditor: manager,
		audit:   manager,
		rdb:     rdb,
	}, nil
}

func (b *backends) close(logger *slog.Logger) {
	if b.audit != nil {
		ctx, cancel := context.WithTimeout(context.Background(), auditShutdownTimeout)
		defer cancel()
		if err := b.audit.Shutdown(ctx); err != nil {
			logger.Warn("failed to stop audit workers", "error", err)
		}
	}
	if b.rdb != nil {
		_ = b.rdb.Close()
	}
}

func openRedis(ctx context.Context, redisURL string) (*redis.Client, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, oops.Code("REDIS_CONFIG_INVALID").Wrap(err)
	}
	rdb := redis.NewClient(opt)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, oops.Code("REDIS_UNAVAILABLE").With("addr", opt.Addr).Wrap(err)
	}
	return rdb, nil
}
