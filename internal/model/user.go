// Package model はドメインモデルを定義する。
package model

import "time"

const (
	// MinUsernameLength はユーザーIDの最小文字数。
	MinUsernameLength = 3
	// MinPasswordLength はパスワードの最小文字数。
	MinPasswordLength = 4
)

// Account はログイン可能なユーザーを表す。
// ユーザー名は大文字小文字を区別して一意で、作成後は変更しない。
type Account struct {
	Username     string
	PasswordHash string
	CreatedAt    time.Time
}

// Session はユーザーのログインセッションを表す。
type Session struct {
	ID        string
	Username  string
	ExpiresAt time.Time
	CreatedAt time.Time
}

// Expired はセッションが指定時刻時点で期限切れかどうかを返す。
func (s *Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}
