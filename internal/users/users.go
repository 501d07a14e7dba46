// Package users はログイン対象ユーザーの読み取り専用ディレクトリを提供します。
package users

import (
	"context"
	"errors"

	"golang.org/x/crypto/bcrypt"
)

// ErrUserNotFound は指定されたユーザー名が存在しない場合に返されます。
var ErrUserNotFound = errors.New("user not found")

// User はログイン可能なユーザーです。実行中に変更されることはありません。
type User struct {
	Username     string
	PasswordHash string
	DisplayName  string
}

// CheckPassword はパスワードがハッシュと一致するかを返します。
func (u User) CheckPassword(password string) bool {
	if u.PasswordHash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) == nil
}

// Directory はユーザー名からユーザーを引く読み取り専用のサービスです。
// 存在しない場合は ErrUserNotFound を返します。
type Directory interface {
	Lookup(ctx context.Context, username string) (User, error)
}

// HashPassword は bcrypt でパスワードをハッシュ化します。
func HashPassword(password string, cost int) (string, error) {
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// dummyHash はユーザーが存在しない場合にも bcrypt 比較を行うためのハッシュです。
// 応答時間からユーザーの有無が推測されないようにします。
var dummyHash, _ = bcrypt.GenerateFromPassword([]byte("university"), bcrypt.DefaultCost)

// Authenticate はユーザー名とパスワードを照合します。
// ユーザーが存在しない場合とパスワード不一致の場合はどちらも ok=false を返します。
func Authenticate(ctx context.Context, dir Directory, username, password string) (User, bool, error) {
	user, err := dir.Lookup(ctx, username)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
			return User{}, false, nil
		}
		return User{}, false, err
	}
	if !user.CheckPassword(password) {
		return User{}, false, nil
	}
	return user, true, nil
}
