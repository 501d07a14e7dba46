// Package auth はログイン・ログアウトとルートガードを提供します。
package auth

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/samber/oops"

	"github.com/yourusername/university/internal/users"
)

// クライアントに返すメッセージ
const (
	MessageMalformedInput     = "Malformed Data Entered"
	MessageInvalidCredentials = "Invalid password or username"
	MessageLoggedOut          = "Logged out"
	MessageTooManyAttempts    = "Too many failed login attempts, try again later"
	MessageInvalidFormToken   = "Invalid form token, reload the page and try again"
)

var (
	// ErrMalformedInput は username / password が欠けている場合に返されます。
	ErrMalformedInput = errors.New("malformed credentials")
	// ErrInvalidCredentials はユーザーが存在しないかパスワードが違う場合に返されます。
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrTooManyAttempts は試行制限によりロックされている場合に返されます。
	ErrTooManyAttempts = errors.New("too many login attempts")
	// ErrInvalidFormToken はフォームの CSRF トークンが一致しない場合に返されます。
	ErrInvalidFormToken = errors.New("invalid form token")
)

// Credentials はログイン要求のペイロードです。
type Credentials struct {
	Username string `json:"username" form:"username" binding:"required"`
	Password string `json:"password" form:"password" binding:"required"`
}

// Validate は必須項目がそろっているかを確認します。
func (c Credentials) Validate() error {
	if c.Username == "" || c.Password == "" {
		return oops.Code("MALFORMED_INPUT").Wrap(ErrMalformedInput)
	}
	return nil
}

// CheckCredentials はユーザー名とパスワードを照合し、一致したユーザーを返します。
// 存在しないユーザーとパスワード不一致は区別しません。
func CheckCredentials(ctx context.Context, dir users.Directory, creds Credentials) (users.User, error) {
	if err := creds.Validate(); err != nil {
		return users.User{}, err
	}
	user, ok, err := users.Authenticate(ctx, dir, creds.Username, creds.Password)
	if err != nil {
		return users.User{}, oops.Code("USER_LOOKUP_FAILED").With("username", creds.Username).Wrap(err)
	}
	if !ok {
		return users.User{}, oops.Code("INVALID_CREDENTIALS").Wrap(ErrInvalidCredentials)
	}
	return user, nil
}

// errorStatus はエラーを HTTP ステータス・コード・メッセージに対応付けます。
func errorStatus(err error) (int, string, string) {
	switch {
	case errors.Is(err, ErrMalformedInput):
		return http.StatusBadRequest, "MALFORMED_INPUT", MessageMalformedInput
	case errors.Is(err, ErrInvalidCredentials):
		return http.StatusUnauthorized, "INVALID_CREDENTIALS", MessageInvalidCredentials
	case errors.Is(err, ErrTooManyAttempts):
		return http.StatusTooManyRequests, "TOO_MANY_ATTEMPTS", MessageTooManyAttempts
	case errors.Is(err, ErrInvalidFormToken):
		return http.StatusForbidden, "CSRF_INVALID", MessageInvalidFormToken
	case errors.Is(err, context.Canceled):
		return http.StatusRequestTimeout, "REQUEST_CANCELED", "Request canceled"
	default:
		return http.StatusInternalServerError, "INTERNAL_ERROR", "Internal server error"
	}
}

func respondWithError(c *gin.Context, err error) {
	status, code, message := errorStatus(err)
	c.JSON(status, gin.H{
		"code":    code,
		"message": message,
	})
}
