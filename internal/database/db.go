package database

import (
	"database/sql"
	"fmt"
	"net/url"
	"strings"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// Dialect は接続先ストレージの種類を表す。
type Dialect string

const (
	// DialectPostgres はPostgreSQL（lib/pq）。
	DialectPostgres Dialect = "postgres"
	// DialectSQLite はSQLite（mattn/go-sqlite3）。
	DialectSQLite Dialect = "sqlite3"
)

// sqliteScheme はSQLite接続URLのスキーム接頭辞。
const sqliteScheme = "sqlite3://"

// sqliteDefaultParams はSQLite接続時に常に付与するDSNパラメータ。
// 書き込みの競合はbusy_timeoutで待ち合わせる。
var sqliteDefaultParams = map[string]string{
	"_busy_timeout": "5000",
	"_journal_mode": "WAL",
	"_foreign_keys": "on",
	"_synchronous":  "NORMAL",
}

// ParseURL はデータベースURLからダイアレクトとドライバに渡すDSNを取り出す。
// postgres:// と postgresql:// はlib/pqにそのまま渡す。
// sqlite3://<path> はパスにDSNパラメータを補って返す。
func ParseURL(databaseURL string) (Dialect, string, error) {
	switch {
	case strings.HasPrefix(databaseURL, "postgres://"), strings.HasPrefix(databaseURL, "postgresql://"):
		return DialectPostgres, databaseURL, nil
	case strings.HasPrefix(databaseURL, sqliteScheme):
		dsn, err := sqliteDSN(strings.TrimPrefix(databaseURL, sqliteScheme))
		if err != nil {
			return "", "", err
		}
		return DialectSQLite, dsn, nil
	default:
		return "", "", fmt.Errorf("unsupported database URL scheme: %q", Redact(databaseURL))
	}
}

// sqliteDSN はパス部分とクエリを分解し、未指定のパラメータにデフォルト値を設定する。
func sqliteDSN(rest string) (string, error) {
	path, rawQuery, _ := strings.Cut(rest, "?")
	if path == "" {
		return "", fmt.Errorf("sqlite3 database URL must include a file path")
	}

	params, err := url.ParseQuery(rawQuery)
	if err != nil {
		return "", fmt.Errorf("invalid sqlite3 URL parameters: %w", err)
	}
	for k, v := range sqliteDefaultParams {
		if params.Get(k) == "" {
			params.Set(k, v)
		}
	}
	// golang-migrate用の x- パラメータはドライバに渡さない
	for k := range params {
		if strings.HasPrefix(k, "x-") {
			params.Del(k)
		}
	}

	return path + "?" + params.Encode(), nil
}

// Open はデータベースURLのスキームに応じた接続を開く。
// sql.Openは接続を試行しないため、実際の接続確認にはdb.Ping()を使用すること。
// SQLiteは書き込みが単一のため、コネクションを1本に制限する。
func Open(databaseURL string) (*sql.DB, error) {
	dialect, dsn, err := ParseURL(databaseURL)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(string(dialect), dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if dialect == DialectSQLite {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	}

	return db, nil
}

// Redact はURL中のパスワードを伏せた文字列を返す。ログ出力用。
func Redact(databaseURL string) string {
	u, err := url.Parse(databaseURL)
	if err != nil {
		return "<invalid>"
	}
	return u.Redacted()
}
