// Package config は環境変数から設定を読み込み、アプリケーション全体で使用する設定を提供します。
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/samber/oops"
)

// minSecretLength は release モードで要求するセッション署名鍵の最小長です。
const minSecretLength = 32

// Config はアプリケーションの設定を保持する構造体です。
type Config struct {
	// サーバー設定
	WebAddr string // 平文 HTTP (web) リスナーのアドレス
	TLSAddr string // TLS (web-tls / api) リスナーのアドレス
	GinMode string // Ginの実行モード (debug, release, test)

	// セッション設定
	SessionSecret     string // セッショントークン署名用の秘密鍵
	SessionTTLSeconds int    // セッションの有効期間（秒）
	CookieName        string // セッションクッキー名
	CookieSecure      bool   // Secure 属性を付与するか

	// TLS設定
	TLSCertFile string   // 証明書ファイル（空なら自己署名証明書を生成）
	TLSKeyFile  string   // 秘密鍵ファイル
	TLSHosts    []string // 自己署名証明書の SAN

	// ユーザー設定
	UsersFile        string // シードユーザーの YAML ファイル
	UsersDatabaseURL string // 指定時は PostgreSQL からユーザーを引く

	// CORS設定
	CORSAllowedOrigins string // CORS許可オリジン（カンマ区切り）

	// ログイン試行制限
	LoginMaxAttempts   int // ロックまでの失敗回数
	LoginWindowMinutes int // 失敗回数を数える期間（分）
	LoginLockMinutes   int // ロック期間（分）

	// Redis（試行制限・監査ログ）
	RedisURL      string // 空ならメモリ上の試行制限のみ、監査ログは無効
	AuditTTLHours int    // 監査イベントの保持期間（時間）

	// ログ設定
	LogLevel  string // debug, info, warn, error
	LogFormat string // text, json
}

// Load は環境変数から設定を読み込みます。
// .env.local ファイルが存在する場合はそこから読み込みます。
func Load() (*Config, error) {
	// .env.local ファイルを読み込む（存在しない場合はスキップ）
	loadEnvFile()

	config := &Config{
		WebAddr: getEnv("WEB_ADDR", ":8000"),
		TLSAddr: getEnv("TLS_ADDR", ":8001"),
		GinMode: getEnv("GIN_MODE", "debug"),

		SessionSecret:     getEnv("SESSION_SECRET", ""),
		SessionTTLSeconds: getEnvAsInt("SESSION_TTL_SECONDS", 60),
		CookieName:        getEnv("COOKIE_NAME", "hapi-university"),
		CookieSecure:      getEnvAsBool("COOKIE_SECURE", true),

		TLSCertFile: getEnv("TLS_CERT_FILE", ""),
		TLSKeyFile:  getEnv("TLS_KEY_FILE", ""),
		TLSHosts:    splitList(getEnv("TLS_HOSTS", "localhost,127.0.0.1")),

		UsersFile:        getEnv("USERS_FILE", ""),
		UsersDatabaseURL: getEnv("USERS_DATABASE_URL", ""),

		CORSAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "https://localhost:8001"),

		LoginMaxAttempts:   getEnvAsInt("LOGIN_MAX_ATTEMPTS", 5),
		LoginWindowMinutes: getEnvAsInt("LOGIN_WINDOW_MINUTES", 15),
		LoginLockMinutes:   getEnvAsInt("LOGIN_LOCK_MINUTES", 10),

		RedisURL:      getEnv("REDIS_URL", ""),
		AuditTTLHours: getEnvAsInt("AUDIT_TTL_HOURS", 24),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "text"),
	}

	// 必須設定のバリデーション
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func loadEnvFile() {
	if err := godotenv.Load(".env.local"); err == nil {
		return
	}

	cwd, err := os.Getwd()
	if err != nil {
		return
	}

	parent := filepath.Dir(cwd)
	if parent == "" || parent == cwd {
		return
	}

	_ = godotenv.Load(filepath.Join(parent, ".env.local"))
}

// Validate は設定の妥当性を検証します。
func (c *Config) Validate() error {
	if c.SessionTTLSeconds <= 0 {
		return oops.Code("CONFIG_INVALID").Errorf("SESSION_TTL_SECONDS must be positive")
	}
	if c.CookieName == "" {
		return oops.Code("CONFIG_INVALID").Errorf("COOKIE_NAME is required")
	}
	if (c.TLSCertFile == "") != (c.TLSKeyFile == "") {
		return oops.Code("CONFIG_INVALID").Errorf("TLS_CERT_FILE and TLS_KEY_FILE must be set together")
	}

	// ローカル開発では署名鍵は任意（起動時に生成）
	if c.GinMode == "release" {
		if c.SessionSecret == "" {
			return oops.Code("CONFIG_INVALID").Errorf("SESSION_SECRET is required in release mode")
		}
		if len(c.SessionSecret) < minSecretLength {
			return oops.Code("CONFIG_INVALID").Errorf("SESSION_SECRET must be at least %d bytes in release mode", minSecretLength)
		}
		if !c.CookieSecure {
			return oops.Code("CONFIG_INVALID").Errorf("COOKIE_SECURE cannot be disabled in release mode")
		}
	}

	return nil
}

// SessionTTL はセッションの有効期間を返します。
func (c *Config) SessionTTL() time.Duration {
	return time.Duration(c.SessionTTLSeconds) * time.Second
}

// LoginWindow は失敗回数を数える期間を返します。
func (c *Config) LoginWindow() time.Duration {
	return time.Duration(c.LoginWindowMinutes) * time.Minute
}

// LoginLock はロック期間を返します。
func (c *Config) LoginLock() time.Duration {
	return time.Duration(c.LoginLockMinutes) * time.Minute
}

// AuditTTL は監査イベントの保持期間を返します。
func (c *Config) AuditTTL() time.Duration {
	return time.Duration(c.AuditTTLHours) * time.Hour
}

// AllowedOrigins は CORS 許可オリジンを配列で返します。
func (c *Config) AllowedOrigins() []string {
	return splitList(c.CORSAllowedOrigins)
}

// getEnv は環境変数を取得し、存在しない場合はデフォルト値を返します。
func getEnv(key string, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// getEnvAsInt は環境変数を整数として取得します。
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsBool は環境変数を真偽値として取得します。
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
