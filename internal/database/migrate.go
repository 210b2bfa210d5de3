// Package database はデータベース接続とマイグレーション管理を提供する。
package database

import (
	"embed"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/postgres/*.sql migrations/sqlite3/*.sql
var migrationsFS embed.FS

// NewMigrator はマイグレーション実行用のmigrateインスタンスを生成する。
// databaseURLのスキームからダイアレクトを判定し、対応するマイグレーションを読み込む。
// SQLiteはOpenと同じDSNで開いた接続を使う。
func NewMigrator(databaseURL string) (*migrate.Migrate, error) {
	dialect, _, err := ParseURL(databaseURL)
	if err != nil {
		return nil, err
	}

	src, err := iofs.New(migrationsFS, "migrations/"+string(dialect))
	if err != nil {
		return nil, fmt.Errorf("failed to create migration source: %w", err)
	}

	if dialect == DialectSQLite {
		return newSQLiteMigrator(databaseURL, src)
	}

	m, err := migrate.NewWithSourceInstance("iofs", src, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrator: %w", err)
	}

	return m, nil
}

// newSQLiteMigrator はファイルパスをURLとして再解釈させないよう、
// 開いた*sql.DBをmigrateへ渡す。返したMigrateのCloseで接続も閉じる。
func newSQLiteMigrator(databaseURL string, src source.Driver) (*migrate.Migrate, error) {
	config, err := sqliteMigrateConfig(databaseURL)
	if err != nil {
		return nil, err
	}

	db, err := Open(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrator: %w", err)
	}

	driver, err := migratesqlite.WithInstance(db, config)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create migrator: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, string(DialectSQLite), driver)
	if err != nil {
		driver.Close()
		return nil, fmt.Errorf("failed to create migrator: %w", err)
	}
	return m, nil
}

// sqliteMigrateConfig はURLの x-migrations-table と x-no-tx-wrap を読み取る。
func sqliteMigrateConfig(databaseURL string) (*migratesqlite.Config, error) {
	config := &migratesqlite.Config{}

	_, rawQuery, _ := strings.Cut(databaseURL, "?")
	params, err := url.ParseQuery(rawQuery)
	if err != nil {
		return nil, fmt.Errorf("invalid sqlite3 URL parameters: %w", err)
	}

	config.MigrationsTable = params.Get("x-migrations-table")
	if v := params.Get("x-no-tx-wrap"); v != "" {
		noTxWrap, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("invalid x-no-tx-wrap %q: %w", v, err)
		}
		config.NoTxWrap = noTxWrap
	}
	return config, nil
}

// RunMigrations はすべてのマイグレーションを適用する。
// すでに最新の場合はエラーなしで返る。
func RunMigrations(databaseURL string) error {
	m, err := NewMigrator(databaseURL)
	if err != nil {
		return err
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}
