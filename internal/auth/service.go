// Package auth はアカウント登録、パスワード認証、セッション管理を提供する。
package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/hitoshi/dailylog/internal/metrics"
	"github.com/hitoshi/dailylog/internal/model"
	"github.com/hitoshi/dailylog/internal/repository"
)

// ServiceConfig は認証サービスの設定。
type ServiceConfig struct {
	SessionMaxAge int // セッション有効期間（秒）
}

// Service は認証に関するビジネスロジックを提供する。
type Service struct {
	accounts repository.AccountRepository
	sessions repository.SessionRepository
	hasher   *PasswordHasher
	tokens   *TokenIssuer
	metrics  metrics.MetricsCollector
	config   ServiceConfig
	now      func() time.Time
}

// NewService はServiceを生成する。metricsがnilの場合は記録しない。
func NewService(
	accounts repository.AccountRepository,
	sessions repository.SessionRepository,
	hasher *PasswordHasher,
	tokens *TokenIssuer,
	mc metrics.MetricsCollector,
	config ServiceConfig,
) *Service {
	if mc == nil {
		mc = metrics.NopCollector{}
	}
	return &Service{
		accounts: accounts,
		sessions: sessions,
		hasher:   hasher,
		tokens:   tokens,
		metrics:  mc,
		config:   config,
		now:      time.Now,
	}
}

// validateCredentials は登録時の入力を検証し、前後の空白を除いたユーザー名を返す。
func validateCredentials(username, password string) (string, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return "", model.NewValidationError("username", "ユーザーIDとパスワードを入力してください")
	}
	if utf8.RuneCountInString(username) < model.MinUsernameLength {
		return "", model.NewValidationError("username",
			fmt.Sprintf("ユーザーIDは%d文字以上で入力してください", model.MinUsernameLength))
	}
	if utf8.RuneCountInString(password) < model.MinPasswordLength {
		return "", model.NewValidationError("password",
			fmt.Sprintf("パスワードは%d文字以上で入力してください", model.MinPasswordLength))
	}
	return username, nil
}

// Register は新しいアカウントを作成する。
// 同じユーザー名が既に存在する場合はCONFLICTエラーを返し、既存のハッシュは変更しない。
func (s *Service) Register(ctx context.Context, username, password string) (*model.Account, error) {
	username, err := validateCredentials(username, password)
	if err != nil {
		return nil, err
	}

	account, err := s.newAccount(username, password)
	if err != nil {
		return nil, err
	}

	created, err := s.accounts.CreateIfAbsent(ctx, account)
	if err != nil {
		return nil, model.NewStorageError("account.create", err)
	}
	if !created {
		return nil, model.NewUsernameConflictError()
	}

	s.metrics.RecordRegistration()
	slog.Info("account registered", slog.String("username", username))
	return account, nil
}

// Authenticate はユーザー名とパスワードを照合する。
// ユーザーが存在しない場合とパスワードが一致しない場合は同一のエラーを返す。
// 存在しないユーザーでもダミーハッシュとの照合を行い、応答時間を揃える。
func (s *Service) Authenticate(ctx context.Context, username, password string) (*model.Account, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return nil, model.NewValidationError("username", "ユーザーIDとパスワードを入力してください")
	}

	account, err := s.accounts.FindByUsername(ctx, username)
	if err != nil {
		s.metrics.RecordAuthAttempt(metrics.AuthResultError)
		return nil, model.NewStorageError("account.find", err)
	}

	if account == nil {
		s.hasher.CompareDummy(password)
		s.metrics.RecordAuthAttempt(metrics.AuthResultFailure)
		return nil, model.NewInvalidCredentialsError()
	}
	if !s.hasher.Compare(account.PasswordHash, password) {
		s.metrics.RecordAuthAttempt(metrics.AuthResultFailure)
		return nil, model.NewInvalidCredentialsError()
	}

	s.metrics.RecordAuthAttempt(metrics.AuthResultSuccess)
	return account, nil
}

// BootstrapDefaultAccount は既定アカウントが存在しなければ作成する。
// 既に存在する場合はパスワードを変更せずfalseを返す。
func (s *Service) BootstrapDefaultAccount(ctx context.Context, username, password string) (bool, error) {
	username, err := validateCredentials(username, password)
	if err != nil {
		return false, err
	}

	account, err := s.newAccount(username, password)
	if err != nil {
		return false, err
	}

	created, err := s.accounts.CreateIfAbsent(ctx, account)
	if err != nil {
		return false, model.NewStorageError("account.bootstrap", err)
	}
	if created {
		slog.Info("default account created", slog.String("username", username))
	}
	return created, nil
}

func (s *Service) newAccount(username, password string) (*model.Account, error) {
	hash, err := s.hasher.Hash(password)
	if err != nil {
		if errors.Is(err, ErrPasswordTooLong) {
			return nil, model.NewValidationError("password", "パスワードが長すぎます")
		}
		return nil, err
	}
	return &model.Account{
		Username:     username,
		PasswordHash: hash,
		CreatedAt:    s.now().UTC(),
	}, nil
}

// CreateSession はユーザーのセッションを作成し永続化する。
func (s *Service) CreateSession(ctx context.Context, username string) (*model.Session, error) {
	sessionID, err := generateSessionID()
	if err != nil {
		return nil, fmt.Errorf("failed to generate session ID: %w", err)
	}

	now := s.now()
	session := &model.Session{
		ID:        sessionID,
		Username:  username,
		ExpiresAt: now.Add(time.Duration(s.config.SessionMaxAge) * time.Second),
		CreatedAt: now,
	}

	if err := s.sessions.Create(ctx, session); err != nil {
		return nil, model.NewStorageError("session.create", err)
	}

	return session, nil
}

// ResolveSession はセッションIDからセッションを取得する。
// 存在しないか期限切れの場合はnilを返す。
func (s *Service) ResolveSession(ctx context.Context, sessionID string) (*model.Session, error) {
	if sessionID == "" {
		return nil, nil
	}

	session, err := s.sessions.FindByID(ctx, sessionID)
	if err != nil {
		return nil, model.NewStorageError("session.find", err)
	}
	return session, nil
}

// Logout はセッションを破棄する。
func (s *Service) Logout(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return nil
	}

	if err := s.sessions.DeleteByID(ctx, sessionID); err != nil {
		return model.NewStorageError("session.delete", err)
	}

	slog.Info("user logged out")
	return nil
}

// IssueToken はユーザーのベアラートークンを発行する。
func (s *Service) IssueToken(username string) (string, error) {
	return s.tokens.Issue(username)
}

// ParseToken はベアラートークンを検証し、ユーザー名を返す。
func (s *Service) ParseToken(token string) (string, error) {
	return s.tokens.Parse(token)
}

// generateSessionID は暗号的に安全なセッションIDを生成する。
func generateSessionID() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
