package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/hitoshi/dailylog/internal/model"
)

// SQLAccountRepo はdatabase/sqlを使用したアカウントリポジトリ。
// PostgreSQLとSQLiteの双方で同じ文を使用する。
type SQLAccountRepo struct {
	db *sql.DB
}

// NewSQLAccountRepo はSQLAccountRepoを生成する。
func NewSQLAccountRepo(db *sql.DB) *SQLAccountRepo {
	return &SQLAccountRepo{db: db}
}

// CreateIfAbsent はアカウントを作成する。既に存在する場合はfalseを返す。
func (r *SQLAccountRepo) CreateIfAbsent(ctx context.Context, account *model.Account) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`INSERT INTO accounts (username, password_hash, created_at)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (username) DO NOTHING`,
		account.Username, account.PasswordHash, account.CreatedAt.UTC(),
	)
	if err != nil {
		return false, fmt.Errorf("failed to create account: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get affected rows: %w", err)
	}
	return affected > 0, nil
}

// FindByUsername はユーザー名でアカウントを取得する。見つからない場合はnilを返す。
func (r *SQLAccountRepo) FindByUsername(ctx context.Context, username string) (*model.Account, error) {
	account := &model.Account{}
	err := r.db.QueryRowContext(ctx,
		`SELECT username, password_hash, created_at
		 FROM accounts
		 WHERE username = $1`,
		username,
	).Scan(&account.Username, &account.PasswordHash, &account.CreatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find account: %w", err)
	}

	return account, nil
}

// compile-time interface check
var _ AccountRepository = (*SQLAccountRepo)(nil)
