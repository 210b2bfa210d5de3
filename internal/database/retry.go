package database

import (
	"context"
	"time"
)

const (
	// DefaultRetryAttempts は一時的エラーに対する既定の試行回数（初回を含む）。
	DefaultRetryAttempts = 3
	// initialBackoff は指数バックオフの初回遅延。
	initialBackoff = 20 * time.Millisecond
	// maxBackoff は指数バックオフの最大遅延。
	maxBackoff = 500 * time.Millisecond
)

// RetryPolicy は一時的エラーの再試行方針を表す。
type RetryPolicy struct {
	// Attempts は初回を含む最大試行回数。1以下なら再試行しない。
	Attempts int
	// InitialBackoff は初回の待機時間。ゼロ値なら既定値を使用する。
	InitialBackoff time.Duration
	// MaxBackoff は待機時間の上限。ゼロ値なら既定値を使用する。
	MaxBackoff time.Duration
	// OnRetry は再試行の直前に呼ばれる。メトリクス記録やログ出力に使用する。
	OnRetry func(attempt int, err error)
}

// DefaultRetryPolicy は既定の再試行方針を返す。
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Attempts: DefaultRetryAttempts}
}

// CalculateBackoff は失敗回数に基づいて指数バックオフ遅延を計算する。
// 初回はinitial、以降2倍ずつ増加し、limitで頭打ちになる。
func CalculateBackoff(failures int, initial, limit time.Duration) time.Duration {
	delay := initial
	for i := 0; i < failures; i++ {
		delay *= 2
		if delay > limit {
			return limit
		}
	}
	return delay
}

// Retry はfnを実行し、IsTransientなエラーの場合のみ方針に従って再試行する。
// 再試行は冪等な操作に対してのみ使用すること。
// 待機中にctxがキャンセルされた場合は直前のエラーを返す。
func Retry(ctx context.Context, policy RetryPolicy, fn func(ctx context.Context) error) error {
	attempts := policy.Attempts
	if attempts < 1 {
		attempts = 1
	}
	initial := policy.InitialBackoff
	if initial <= 0 {
		initial = initialBackoff
	}
	limit := policy.MaxBackoff
	if limit <= 0 {
		limit = maxBackoff
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		err = fn(ctx)
		if err == nil || !IsTransient(err) || attempt == attempts {
			return err
		}

		if policy.OnRetry != nil {
			policy.OnRetry(attempt, err)
		}

		timer := time.NewTimer(CalculateBackoff(attempt-1, initial, limit))
		select {
		case <-ctx.Done():
			timer.Stop()
			return err
		case <-timer.C:
		}
	}
	return err
}
