// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"time"

	"github.com/hitoshi/dailylog/internal/model"
)

// AccountRepository はアカウントデータの永続化インターフェース。
type AccountRepository interface {
	// CreateIfAbsent はアカウントを作成する。
	// 同じユーザー名が既に存在する場合は何もせずfalseを返す。
	// 存在確認と作成は単一の文で行われ、同時実行時も重複しない。
	CreateIfAbsent(ctx context.Context, account *model.Account) (bool, error)

	// FindByUsername はユーザー名でアカウントを取得する。見つからない場合はnilを返す。
	FindByUsername(ctx context.Context, username string) (*model.Account, error)
}

// SessionRepository はセッションデータの永続化インターフェース。
type SessionRepository interface {
	// Create はセッションを作成する。
	Create(ctx context.Context, session *model.Session) error
	// FindByID は指定IDのセッションを取得する。期限切れの場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Session, error)
	// DeleteByID は指定IDのセッションを削除する。
	DeleteByID(ctx context.Context, id string) error
	// DeleteByUsername は指定ユーザーの全セッションを削除する。
	DeleteByUsername(ctx context.Context, username string) error
	// DeleteExpired はbefore以前に期限切れとなったセッションを削除し、削除件数を返す。
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}

// JournalRepository はジャーナルデータの永続化インターフェース。
// すべての操作はユーザー名でスコープされ、他ユーザーの行には触れない。
type JournalRepository interface {
	// Upsert は(username, date_key)の行を挿入し、既存なら内容を丸ごと置き換える。
	// 単一の文で実行されるため、同一キーへの同時書き込みでも重複行は生じない。
	Upsert(ctx context.Context, record *model.JournalRecord) error

	// Find は指定日付のジャーナルを取得する。見つからない場合はnilを返す。
	Find(ctx context.Context, username, dateKey string) (*model.JournalRecord, error)

	// Each はユーザーのジャーナルを日付の降順で1件ずつfnに渡す。
	// fnがエラーを返した場合はその時点で打ち切り、そのエラーを返す。
	// 行カーソルは成功・失敗にかかわらず必ず閉じられる。
	Each(ctx context.Context, username string, fn func(*model.JournalRecord) error) error

	// Delete は指定日付のジャーナルを削除する。削除した行があればtrueを返す。
	Delete(ctx context.Context, username, dateKey string) (bool, error)
}
