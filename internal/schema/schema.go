// Package schema はjournal_recordsテーブルの任意カラムを管理する。
// 起動時にカラムを追加し、利用可能なカラムを一度だけ判定して
// 以降の書き込みで参照する不変のStateを提供する。
package schema

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sort"

	"github.com/hitoshi/dailylog/internal/database"
)

// JournalTable は任意カラムを持つテーブル名。
const JournalTable = "journal_records"

// AttrUpdatedAt は最終更新時刻を記録する任意カラム。
const AttrUpdatedAt = "updated_at"

// attribute は任意カラムのダイアレクト別定義。
type attribute struct {
	postgres string
	sqlite   string
}

// optionalAttributes は追加可能な任意カラムの一覧。
// SQLiteのALTER TABLEは非定数のデフォルト値を受け付けないため、NULL許容で追加する。
var optionalAttributes = map[string]attribute{
	AttrUpdatedAt: {
		postgres: "ALTER TABLE " + JournalTable + " ADD COLUMN IF NOT EXISTS updated_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP",
		sqlite:   "ALTER TABLE " + JournalTable + " ADD COLUMN updated_at DATETIME",
	},
}

// State は判定済みの任意カラムの集合。生成後は変更されない。
type State struct {
	attrs map[string]struct{}
}

// NewState は指定した任意カラムを持つStateを生成する。
func NewState(attrs ...string) State {
	s := State{attrs: make(map[string]struct{}, len(attrs))}
	for _, a := range attrs {
		s.attrs[a] = struct{}{}
	}
	return s
}

// Supports は任意カラムが利用可能かどうかを返す。
func (s State) Supports(name string) bool {
	_, ok := s.attrs[name]
	return ok
}

// Attributes は利用可能な任意カラムを名前順で返す。
func (s State) Attributes() []string {
	out := make([]string, 0, len(s.attrs))
	for a := range s.attrs {
		out = append(out, a)
	}
	sort.Strings(out)
	return out
}

// Manager は任意カラムの追加と判定を行う。
type Manager struct {
	db      *sql.DB
	dialect database.Dialect
	logger  *slog.Logger
}

// NewManager は新しいManagerを生成する。
func NewManager(db *sql.DB, dialect database.Dialect, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{db: db, dialect: dialect, logger: logger}
}

// EnsureOptionalAttribute は任意カラムが存在しなければ追加する。
// 既存の行は書き換えない。すでに存在する場合は何もしない。
func (m *Manager) EnsureOptionalAttribute(ctx context.Context, name string) error {
	attr, ok := optionalAttributes[name]
	if !ok {
		return fmt.Errorf("unknown optional attribute %q", name)
	}

	stmt := attr.postgres
	if m.dialect == database.DialectSQLite {
		stmt = attr.sqlite
	}

	if _, err := m.db.ExecContext(ctx, stmt); err != nil {
		if database.IsDuplicateColumn(err) {
			return nil
		}
		return fmt.Errorf("add column %s.%s: %w", JournalTable, name, err)
	}

	m.logger.Info("任意カラムを確認しました",
		slog.String("table", JournalTable),
		slog.String("column", name),
	)
	return nil
}

// EnsureAll はすべての任意カラムの追加を試みる。
// 失敗したカラムは警告ログを出力して続行する。
func (m *Manager) EnsureAll(ctx context.Context) {
	for _, name := range sortedAttributeNames() {
		if err := m.EnsureOptionalAttribute(ctx, name); err != nil {
			m.logger.Warn("任意カラムの追加に失敗しました。このカラムなしで動作します",
				slog.String("column", name),
				slog.String("error", err.Error()),
			)
		}
	}
}

// Resolve は任意カラムの有無を判定し、Stateを返す。
// 起動時に一度だけ呼び出し、結果を書き込み処理に渡すこと。
func (m *Manager) Resolve(ctx context.Context) (State, error) {
	var present []string
	for _, name := range sortedAttributeNames() {
		ok, err := m.columnExists(ctx, name)
		if err != nil {
			return State{}, fmt.Errorf("probe column %s.%s: %w", JournalTable, name, err)
		}
		if ok {
			present = append(present, name)
		}
	}

	state := NewState(present...)
	m.logger.Info("スキーマ状態を判定しました",
		slog.String("table", JournalTable),
		slog.Any("optional_columns", state.Attributes()),
	)
	return state, nil
}

func (m *Manager) columnExists(ctx context.Context, column string) (bool, error) {
	query := `SELECT COUNT(*) FROM information_schema.columns
		WHERE table_schema = current_schema() AND table_name = $1 AND column_name = $2`
	if m.dialect == database.DialectSQLite {
		query = `SELECT COUNT(*) FROM pragma_table_info($1) WHERE name = $2`
	}

	var count int
	if err := m.db.QueryRowContext(ctx, query, JournalTable, column).Scan(&count); err != nil {
		return false, err
	}
	return count > 0, nil
}

func sortedAttributeNames() []string {
	names := make([]string, 0, len(optionalAttributes))
	for name := range optionalAttributes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
