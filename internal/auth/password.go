package auth

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// DefaultBcryptCost は本番で使用するbcryptのコスト。
const DefaultBcryptCost = 12

// ErrPasswordTooLong はbcryptが扱えない長さ（72バイト超）のパスワードを表す。
var ErrPasswordTooLong = bcrypt.ErrPasswordTooLong

// PasswordHasher はbcryptによるパスワードのハッシュ化と照合を行う。
// 存在しないユーザーへのログインでも同じコストの照合を行うため、ダミーハッシュを保持する。
type PasswordHasher struct {
	cost  int
	dummy []byte
}

// NewPasswordHasher は指定コストのPasswordHasherを生成する。
// コストはbcrypt.MinCostからbcrypt.MaxCostの範囲でなければならない。
func NewPasswordHasher(cost int) (*PasswordHasher, error) {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		return nil, fmt.Errorf("bcrypt cost must be between %d and %d, got %d", bcrypt.MinCost, bcrypt.MaxCost, cost)
	}

	dummy, err := bcrypt.GenerateFromPassword([]byte("dailylog-dummy-password"), cost)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare dummy hash: %w", err)
	}

	return &PasswordHasher{cost: cost, dummy: dummy}, nil
}

// Hash はパスワードをハッシュ化する。
func (h *PasswordHasher) Hash(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), h.cost)
	if err != nil {
		if errors.Is(err, bcrypt.ErrPasswordTooLong) {
			return "", ErrPasswordTooLong
		}
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}

// Compare はハッシュとパスワードが一致するかどうかを返す。
func (h *PasswordHasher) Compare(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// CompareDummy はダミーハッシュと照合する。結果は常に不一致として扱う。
func (h *PasswordHasher) CompareDummy(password string) {
	_ = bcrypt.CompareHashAndPassword(h.dummy, []byte(password))
}
