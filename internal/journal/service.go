// Package journal はユーザーごと・日付ごとのジャーナル記録を管理する。
package journal

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hitoshi/dailylog/internal/database"
	"github.com/hitoshi/dailylog/internal/metrics"
	"github.com/hitoshi/dailylog/internal/model"
	"github.com/hitoshi/dailylog/internal/repository"
)

const (
	// MinProgress はprogressの下限値。
	MinProgress = 0
	// MaxProgress はprogressの上限値。
	MaxProgress = 100
)

// ServiceConfig はジャーナルサービスの設定。
type ServiceConfig struct {
	RetryAttempts int // 一時的なストレージエラーに対する試行回数（初回を含む）
}

// Service はジャーナルのupsert、取得、一覧、削除を提供する。
// すべての操作は呼び出し元のユーザー名でスコープされる。
type Service struct {
	repo    repository.JournalRepository
	metrics metrics.MetricsCollector
	retry   database.RetryPolicy
	now     func() time.Time
}

// NewService はServiceを生成する。metricsがnilの場合は記録しない。
func NewService(repo repository.JournalRepository, mc metrics.MetricsCollector, config ServiceConfig) *Service {
	if mc == nil {
		mc = metrics.NopCollector{}
	}
	attempts := config.RetryAttempts
	if attempts <= 0 {
		attempts = database.DefaultRetryAttempts
	}
	return &Service{
		repo:    repo,
		metrics: mc,
		retry:   database.RetryPolicy{Attempts: attempts},
		now:     time.Now,
	}
}

// Upsert はユーザーの指定日付のジャーナルを作成し、既存なら丸ごと置き換える。
// progressが存在しない場合は0を補完して保存する。
// recordedAtがnilの場合は現在時刻を記録日時とする。
func (s *Service) Upsert(ctx context.Context, username, dateKey string, fields model.Fields, recordedAt *time.Time) error {
	if username == "" {
		return model.NewAuthRequiredError()
	}
	if err := validateDateKey(dateKey); err != nil {
		return err
	}
	if err := validateProgress(fields); err != nil {
		return err
	}

	at := s.now()
	if recordedAt != nil {
		at = *recordedAt
	}
	record := &model.JournalRecord{
		Username:   username,
		DateKey:    dateKey,
		RecordedAt: at.UTC(),
		Fields:     fields.WithDefaultProgress(),
	}

	const op = "journal.upsert"
	err := s.withRetry(ctx, op, func(ctx context.Context) error {
		return s.repo.Upsert(ctx, record)
	})
	if err != nil {
		slog.Error("ジャーナルの保存に失敗しました",
			slog.String("username", username),
			slog.String("date_key", dateKey),
			slog.String("error", err.Error()),
		)
		return model.NewStorageError(op, err)
	}

	s.metrics.RecordJournalUpsert()
	progress, _, _ := record.Fields.Progress()
	slog.Info("journal upserted",
		slog.String("username", username),
		slog.String("date_key", dateKey),
		slog.Float64("progress", progress),
	)
	return nil
}

// List はユーザーの全ジャーナルを日付の降順で返す。
// 各記録のprogressは存在しなければ0で補完されるが、保存内容は変更しない。
// 全件を集めてから返すため、一時的なストレージエラーは最初から読み直す。
func (s *Service) List(ctx context.Context, username string) ([]*model.JournalRecord, error) {
	if username == "" {
		return nil, model.NewAuthRequiredError()
	}

	const op = "journal.list"
	var records []*model.JournalRecord
	err := s.withRetry(ctx, op, func(ctx context.Context) error {
		records = []*model.JournalRecord{}
		return s.repo.Each(ctx, username, func(r *model.JournalRecord) error {
			r.Fields = r.Fields.WithDefaultProgress()
			records = append(records, r)
			return nil
		})
	})
	if err != nil {
		return nil, model.NewStorageError(op, err)
	}
	return records, nil
}

// Each はユーザーのジャーナルを日付の降順で1件ずつfnに渡す。
// fnが返したエラーはそのまま返し、ストレージの失敗はStorageErrorとして返す。
// 途中まで渡した記録を取り消せないため、再試行は行わない。
func (s *Service) Each(ctx context.Context, username string, fn func(*model.JournalRecord) error) error {
	if username == "" {
		return model.NewAuthRequiredError()
	}

	const op = "journal.each"
	var callbackErr error
	start := time.Now()
	err := s.repo.Each(ctx, username, func(r *model.JournalRecord) error {
		r.Fields = r.Fields.WithDefaultProgress()
		if err := fn(r); err != nil {
			callbackErr = err
			return err
		}
		return nil
	})
	s.metrics.RecordStorageLatency(op, time.Since(start))

	if callbackErr != nil {
		return callbackErr
	}
	if err != nil {
		return model.NewStorageError(op, err)
	}
	return nil
}

// Get は指定日付のジャーナルを返す。存在しない場合はRECORD_NOT_FOUNDエラーを返す。
func (s *Service) Get(ctx context.Context, username, dateKey string) (*model.JournalRecord, error) {
	if username == "" {
		return nil, model.NewAuthRequiredError()
	}

	const op = "journal.get"
	var record *model.JournalRecord
	err := s.withRetry(ctx, op, func(ctx context.Context) error {
		var err error
		record, err = s.repo.Find(ctx, username, dateKey)
		return err
	})
	if err != nil {
		return nil, model.NewStorageError(op, err)
	}
	if record == nil {
		return nil, model.NewRecordNotFoundError(dateKey)
	}

	record.Fields = record.Fields.WithDefaultProgress()
	return record, nil
}

// Delete は指定日付のジャーナルを削除する。存在しない場合はRECORD_NOT_FOUNDエラーを返す。
// 削除件数で存在を判定するため、再試行は行わない。
func (s *Service) Delete(ctx context.Context, username, dateKey string) error {
	if username == "" {
		return model.NewAuthRequiredError()
	}

	const op = "journal.delete"
	start := time.Now()
	deleted, err := s.repo.Delete(ctx, username, dateKey)
	s.metrics.RecordStorageLatency(op, time.Since(start))
	if err != nil {
		return model.NewStorageError(op, err)
	}
	if !deleted {
		return model.NewRecordNotFoundError(dateKey)
	}

	s.metrics.RecordJournalDelete()
	slog.Info("journal deleted",
		slog.String("username", username),
		slog.String("date_key", dateKey),
	)
	return nil
}

// RecordActivity は当日（UTC）の記録としてアクションと詳細を保存する。
// ログイン・登録の履歴記録に使用する。当日の既存記録は置き換えられる。
func (s *Service) RecordActivity(ctx context.Context, username, action string, details model.Object) error {
	now := s.now().UTC()
	if details == nil {
		details = model.Object{}
	}
	fields := model.Fields{
		model.FieldAction:  model.String(action),
		model.FieldDetails: details,
	}
	return s.Upsert(ctx, username, model.DateKeyOf(now), fields, &now)
}

// withRetry はopをリトライ方針に従って実行し、レイテンシと再試行を記録する。
func (s *Service) withRetry(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	policy := s.retry
	policy.OnRetry = func(attempt int, err error) {
		s.metrics.RecordStorageRetry(op)
		slog.Warn("一時的なストレージエラーのため再試行します",
			slog.String("op", op),
			slog.Int("attempt", attempt),
			slog.String("error", err.Error()),
		)
	}

	start := time.Now()
	err := database.Retry(ctx, policy, fn)
	s.metrics.RecordStorageLatency(op, time.Since(start))
	return err
}

func validateDateKey(dateKey string) error {
	if strings.TrimSpace(dateKey) == "" {
		return model.NewValidationError("dateKey", "dateKey が必要です")
	}
	if _, err := model.ParseDateKey(dateKey); err != nil {
		return model.NewValidationError("dateKey", "dateKey は YYYY-MM-DD 形式の実在する日付で指定してください")
	}
	return nil
}

func validateProgress(fields model.Fields) error {
	v, present, err := fields.Progress()
	if err != nil {
		return model.NewValidationError(model.FieldProgress, "progress は数値で指定してください")
	}
	if present && (v < MinProgress || v > MaxProgress) {
		return model.NewValidationError(model.FieldProgress,
			fmt.Sprintf("progress は%dから%dの範囲で指定してください", MinProgress, MaxProgress))
	}
	return nil
}
