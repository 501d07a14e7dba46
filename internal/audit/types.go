// Package audit はログイン関連イベントを非同期に記録します。
package audit

import (
	"time"

	"github.com/google/uuid"
)

// Kind はイベントの種別を表します。
type Kind string

const (
	KindLoginSucceeded Kind = "login.succeeded"
	KindLoginFailed    Kind = "login.failed"
	KindLoginThrottled Kind = "login.throttled"
	KindLogout         Kind = "logout"
)

// 失敗・拒否の理由
const (
	ReasonInvalidCredentials = "invalid_credentials"
	ReasonLocked             = "locked"
)

// Event は監査ログの 1 件です。
type Event struct {
	ID        string    `json:"id"`
	Kind      Kind      `json:"kind"`
	Username  string    `json:"username,omitempty"`
	ClientIP  string    `json:"clientIp,omitempty"`
	UserAgent string    `json:"userAgent,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	At        time.Time `json:"at"`
}

// NewEvent は ID と時刻を埋めたイベントを作成します。
func NewEvent(kind Kind, username, clientIP string) Event {
	return Event{
		ID:       uuid.NewString(),
		Kind:     kind,
		Username: username,
		ClientIP: clientIP,
		At:       time.Now().UTC(),
	}
}

// WithReason は理由を設定したコピーを返します。
func (e Event) WithReason(reason string) Event {
	e.Reason = reason
	return e
}
