// Package session はセッショントークンの発行・検証と、ログイン状態の判定を提供します。
// トークンはクッキーなどの運搬手段から独立しています。
package session

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/samber/oops"

	"github.com/yourusername/university/internal/users"
)

const issuer = "hapi-university"

var (
	// ErrInvalidToken は署名不正・形式不正なトークンに対して返されます。
	ErrInvalidToken = errors.New("invalid session token")
	// ErrExpiredToken は有効期限切れのトークンに対して返されます。
	ErrExpiredToken = errors.New("session token expired")
)

// Principal はトークンから復元したログイン中ユーザーです。
type Principal struct {
	Username    string
	DisplayName string
	IssuedAt    time.Time
	ExpiresAt   time.Time
}

// Tokens はセッショントークンの発行と検証を行います。
type Tokens interface {
	Issue(user users.User) (string, error)
	Verify(token string) (Principal, error)
	TTL() time.Duration
}

type claims struct {
	jwt.RegisteredClaims
	Name string `json:"name"`
	// ExpiresAtMillis はミリ秒精度の有効期限です。exp は秒単位に切り上げた値です。
	ExpiresAtMillis int64 `json:"exp_ms"`
}

// SignedTokens は HMAC-SHA256 で署名した JWT をセッショントークンとして使います。
type SignedTokens struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// Option は SignedTokens の設定を変更します。
type Option func(*SignedTokens)

// WithClock は現在時刻の取得関数を差し替えます。
func WithClock(now func() time.Time) Option {
	return func(t *SignedTokens) {
		t.now = now
	}
}

// NewSignedTokens は SignedTokens を作成します。
func NewSignedTokens(secret []byte, ttl time.Duration, opts ...Option) (*SignedTokens, error) {
	if len(secret) == 0 {
		return nil, oops.Code("SESSION_SECRET_EMPTY").Errorf("session secret cannot be empty")
	}
	if ttl <= 0 {
		return nil, oops.Code("SESSION_TTL_INVALID").Errorf("session ttl must be positive")
	}
	t := &SignedTokens{
		secret: secret,
		ttl:    ttl,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

// TTL はトークンの有効期間を返します。
func (t *SignedTokens) TTL() time.Duration {
	return t.ttl
}

// Issue はユーザーのセッショントークンを発行します。
func (t *SignedTokens) Issue(user users.User) (string, error) {
	if user.Username == "" {
		return "", oops.Code("SESSION_ISSUE_FAILED").Errorf("username cannot be empty")
	}
	now := t.now()
	expiresAt := now.Add(t.ttl)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   user.Username,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(ceilSecond(expiresAt)),
		},
		Name:            user.DisplayName,
		ExpiresAtMillis: expiresAt.UnixMilli(),
	})

	signed, err := token.SignedString(t.secret)
	if err != nil {
		return "", oops.Code("SESSION_ISSUE_FAILED").Wrap(err)
	}
	return signed, nil
}

// Verify はトークンを検証して Principal を返します。
// 期限切れは ErrExpiredToken、それ以外の不正は ErrInvalidToken になります。
func (t *SignedTokens) Verify(token string) (Principal, error) {
	if token == "" {
		return Principal{}, ErrInvalidToken
	}

	var c claims
	parsed, err := jwt.ParseWithClaims(token, &c, func(*jwt.Token) (any, error) {
		return t.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(t.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Principal{}, ErrExpiredToken
		}
		return Principal{}, ErrInvalidToken
	}
	if !parsed.Valid || c.Subject == "" || c.IssuedAt == nil || c.ExpiresAtMillis <= 0 {
		return Principal{}, ErrInvalidToken
	}
	expiresAt := time.UnixMilli(c.ExpiresAtMillis)
	if expiresAt.After(c.ExpiresAt.Time) {
		return Principal{}, ErrInvalidToken
	}
	if !t.now().Before(expiresAt) {
		return Principal{}, ErrExpiredToken
	}

	return Principal{
		Username:    c.Subject,
		DisplayName: c.Name,
		IssuedAt:    c.IssuedAt.Time,
		ExpiresAt:   expiresAt,
	}, nil
}

// ceilSecond は t を秒単位に切り上げます。
func ceilSecond(t time.Time) time.Time {
	truncated := t.Truncate(time.Second)
	if truncated.Equal(t) {
		return t
	}
	return truncated.Add(time.Second)
}
