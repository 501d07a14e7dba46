package session

import "errors"

// State はリクエスト時点のログイン状態です。
type State int

const (
	// Anonymous は有効なセッションを持たない状態です。
	Anonymous State = iota
	// Authenticated は有効なセッションを持つ状態です。
	Authenticated
)

func (s State) String() string {
	switch s {
	case Anonymous:
		return "anonymous"
	case Authenticated:
		return "authenticated"
	default:
		return "unknown"
	}
}

// Rejection はトークンが拒否された理由です。
type Rejection string

const (
	RejectNone    Rejection = ""
	RejectMissing Rejection = "missing"
	RejectInvalid Rejection = "invalid"
	RejectExpired Rejection = "expired"
)

// Resolution はトークン検証の結果です。
type Resolution struct {
	State     State
	Principal Principal
	Rejection Rejection
}

// Stale はクッキーが提示されたが無効だった場合に true を返します。
func (r Resolution) Stale() bool {
	return r.Rejection == RejectInvalid || r.Rejection == RejectExpired
}

// Resolve はトークンからログイン状態を判定します。
func Resolve(tokens Tokens, token string) Resolution {
	if token == "" {
		return Resolution{State: Anonymous, Rejection: RejectMissing}
	}
	principal, err := tokens.Verify(token)
	switch {
	case err == nil:
		return Resolution{State: Authenticated, Principal: principal}
	case errors.Is(err, ErrExpiredToken):
		return Resolution{State: Anonymous, Rejection: RejectExpired}
	default:
		return Resolution{State: Anonymous, Rejection: RejectInvalid}
	}
}
