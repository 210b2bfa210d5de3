// Package dbtest はテスト用のデータベースを準備するヘルパーを提供する。
package dbtest

import (
	"database/sql"
	"os"
	"path/filepath"
	"testing"

	"github.com/hitoshi/dailylog/internal/database"
)

// SQLiteURL は一時ディレクトリ上のSQLiteファイルを指すURLを返す。
func SQLiteURL(t *testing.T) string {
	t.Helper()
	return "sqlite3://" + filepath.Join(t.TempDir(), "dailylog_test.db")
}

// OpenSQLite はマイグレーション適用済みのSQLiteデータベースを開く。
// テスト終了時に自動的にクローズされる。
func OpenSQLite(t *testing.T) *sql.DB {
	t.Helper()
	return open(t, SQLiteURL(t))
}

// OpenPostgres はTEST_DATABASE_URLのPostgreSQLに接続し、
// テーブルを作り直してマイグレーションを適用する。
// 接続できない場合はテストをスキップする。
func OpenPostgres(t *testing.T) *sql.DB {
	t.Helper()

	dbURL := os.Getenv("TEST_DATABASE_URL")
	if dbURL == "" {
		t.Skip("TEST_DATABASE_URL が未設定のためスキップ")
	}

	db, err := database.Open(dbURL)
	if err != nil {
		t.Fatalf("データベースへの接続に失敗: %v", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		t.Skipf("テスト用データベースに接続できません（スキップ）: %v", err)
	}

	cleanupSQL := `
		DROP TABLE IF EXISTS sessions CASCADE;
		DROP TABLE IF EXISTS journal_records CASCADE;
		DROP TABLE IF EXISTS accounts CASCADE;
		DROP TABLE IF EXISTS schema_migrations CASCADE;
	`
	if _, err := db.Exec(cleanupSQL); err != nil {
		db.Close()
		t.Fatalf("クリーンアップに失敗: %v", err)
	}
	db.Close()

	return open(t, dbURL)
}

func open(t *testing.T, dbURL string) *sql.DB {
	t.Helper()

	if err := database.RunMigrations(dbURL); err != nil {
		t.Fatalf("マイグレーション実行に失敗: %v", err)
	}

	db, err := database.Open(dbURL)
	if err != nil {
		t.Fatalf("データベースのオープンに失敗: %v", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		t.Fatalf("データベースへの接続に失敗: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	return db
}
