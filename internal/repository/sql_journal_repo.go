package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hitoshi/dailylog/internal/model"
	"github.com/hitoshi/dailylog/internal/schema"
)

// SQLJournalRepo はdatabase/sqlを使用したジャーナルリポジトリ。
// 書き込み文は起動時に判定したschema.Stateから一度だけ組み立てる。
type SQLJournalRepo struct {
	db         *sql.DB
	upsertStmt string
}

// NewSQLJournalRepo はSQLJournalRepoを生成する。
func NewSQLJournalRepo(db *sql.DB, state schema.State) *SQLJournalRepo {
	return &SQLJournalRepo{db: db, upsertStmt: buildUpsertStatement(state)}
}

// buildUpsertStatement はupsert文を組み立てる。
// updated_atカラムが利用可能な場合のみ、挿入時・更新時の両方で現在時刻を設定する。
func buildUpsertStatement(state schema.State) string {
	columns := []string{"username", "date_key", "recorded_at", "payload"}
	values := []string{"$1", "$2", "$3", "$4"}
	updates := []string{"recorded_at = excluded.recorded_at", "payload = excluded.payload"}

	if state.Supports(schema.AttrUpdatedAt) {
		columns = append(columns, schema.AttrUpdatedAt)
		values = append(values, "CURRENT_TIMESTAMP")
		updates = append(updates, schema.AttrUpdatedAt+" = CURRENT_TIMESTAMP")
	}

	return fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (username, date_key) DO UPDATE SET %s",
		schema.JournalTable,
		strings.Join(columns, ", "),
		strings.Join(values, ", "),
		strings.Join(updates, ", "),
	)
}

// Upsert は(username, date_key)の行を挿入し、既存なら内容を丸ごと置き換える。
func (r *SQLJournalRepo) Upsert(ctx context.Context, record *model.JournalRecord) error {
	payload, err := json.Marshal(record.Fields)
	if err != nil {
		return fmt.Errorf("failed to encode journal payload: %w", err)
	}

	_, err = r.db.ExecContext(ctx, r.upsertStmt,
		record.Username,
		record.DateKey,
		record.RecordedAt.UTC().Format(time.RFC3339Nano),
		string(payload),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert journal record: %w", err)
	}
	return nil
}

// Find は指定日付のジャーナルを取得する。見つからない場合はnilを返す。
func (r *SQLJournalRepo) Find(ctx context.Context, username, dateKey string) (*model.JournalRecord, error) {
	var recordedAt, payload string
	err := r.db.QueryRowContext(ctx,
		`SELECT recorded_at, payload
		 FROM journal_records
		 WHERE username = $1 AND date_key = $2`,
		username, dateKey,
	).Scan(&recordedAt, &payload)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find journal record: %w", err)
	}

	return decodeRecord(username, dateKey, recordedAt, payload)
}

// Each はユーザーのジャーナルを日付の降順で1件ずつfnに渡す。
func (r *SQLJournalRepo) Each(ctx context.Context, username string, fn func(*model.JournalRecord) error) error {
	rows, err := r.db.QueryContext(ctx,
		`SELECT date_key, recorded_at, payload
		 FROM journal_records
		 WHERE username = $1
		 ORDER BY date_key DESC`,
		username,
	)
	if err != nil {
		return fmt.Errorf("failed to list journal records: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var dateKey, recordedAt, payload string
		if err := rows.Scan(&dateKey, &recordedAt, &payload); err != nil {
			return fmt.Errorf("failed to scan journal record: %w", err)
		}
		record, err := decodeRecord(username, dateKey, recordedAt, payload)
		if err != nil {
			return err
		}
		if err := fn(record); err != nil {
			return err
		}
	}

	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to iterate journal records: %w", err)
	}
	return nil
}

// Delete は指定日付のジャーナルを削除する。削除した行があればtrueを返す。
func (r *SQLJournalRepo) Delete(ctx context.Context, username, dateKey string) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM journal_records WHERE username = $1 AND date_key = $2`,
		username, dateKey,
	)
	if err != nil {
		return false, fmt.Errorf("failed to delete journal record: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get affected rows: %w", err)
	}
	return affected > 0, nil
}

// decodeRecord は保存形式の列値からJournalRecordを復元する。
func decodeRecord(username, dateKey, recordedAt, payload string) (*model.JournalRecord, error) {
	at, err := time.Parse(time.RFC3339Nano, recordedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to parse recorded_at for %s: %w", dateKey, err)
	}

	var fields model.Fields
	if err := json.Unmarshal([]byte(payload), &fields); err != nil {
		return nil, fmt.Errorf("failed to decode journal payload for %s: %w", dateKey, err)
	}

	return &model.JournalRecord{
		Username:   username,
		DateKey:    dateKey,
		RecordedAt: at.UTC(),
		Fields:     fields,
	}, nil
}

// compile-time interface check
var _ JournalRepository = (*SQLJournalRepo)(nil)
