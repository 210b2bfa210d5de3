// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// 認証試行の結果ラベル
const (
	AuthResultSuccess = "success"
	AuthResultFailure = "failure"
	AuthResultError   = "error"
)

// MetricsCollector はメトリクス収集のインターフェース。
// サービス層、ミドルウェア、ワーカーから利用する。
type MetricsCollector interface {
	RecordJournalUpsert()
	RecordJournalDelete()
	RecordExport(rows int)
	RecordAuthAttempt(result string)
	RecordRegistration()
	RecordHTTPStatus(statusCode int)
	RecordStorageLatency(op string, duration time.Duration)
	RecordStorageRetry(op string)
	RecordSessionsPurged(count int64)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	journalUpserts prometheus.Counter
	journalDeletes prometheus.Counter
	exports        prometheus.Counter
	exportRows     prometheus.Counter
	authAttempts   *prometheus.CounterVec
	registrations  prometheus.Counter
	httpStatus     *prometheus.CounterVec
	storageLatency *prometheus.HistogramVec
	storageRetries *prometheus.CounterVec
	sessionsPurged prometheus.Counter
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		journalUpserts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dailylog_journal_upserts_total",
			Help: "ジャーナルupsertの合計数",
		}),
		journalDeletes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dailylog_journal_deletes_total",
			Help: "ジャーナル削除の合計数",
		}),
		exports: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dailylog_exports_total",
			Help: "CSVエクスポートの合計数",
		}),
		exportRows: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dailylog_export_rows_total",
			Help: "CSVエクスポートで出力した行の合計数",
		}),
		authAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dailylog_auth_attempts_total",
			Help: "結果別のログイン試行数",
		}, []string{"result"}),
		registrations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dailylog_registrations_total",
			Help: "アカウント登録の合計数",
		}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dailylog_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		storageLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "dailylog_storage_latency_seconds",
			Help:    "操作別のストレージ呼び出しレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"op"}),
		storageRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dailylog_storage_retries_total",
			Help: "一時的エラーによるストレージ再試行数",
		}, []string{"op"}),
		sessionsPurged: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dailylog_sessions_purged_total",
			Help: "クリーンアップで削除した期限切れセッション数",
		}),
	}

	reg.MustRegister(
		c.journalUpserts,
		c.journalDeletes,
		c.exports,
		c.exportRows,
		c.authAttempts,
		c.registrations,
		c.httpStatus,
		c.storageLatency,
		c.storageRetries,
		c.sessionsPurged,
	)

	return c
}

// RecordJournalUpsert はジャーナルupsertを記録する。
func (c *Collector) RecordJournalUpsert() {
	c.journalUpserts.Inc()
}

// RecordJournalDelete はジャーナル削除を記録する。
func (c *Collector) RecordJournalDelete() {
	c.journalDeletes.Inc()
}

// RecordExport はエクスポート1回と出力行数を記録する。
func (c *Collector) RecordExport(rows int) {
	c.exports.Inc()
	c.exportRows.Add(float64(rows))
}

// RecordAuthAttempt はログイン試行を結果別に記録する。
func (c *Collector) RecordAuthAttempt(result string) {
	c.authAttempts.WithLabelValues(result).Inc()
}

// RecordRegistration はアカウント登録を記録する。
func (c *Collector) RecordRegistration() {
	c.registrations.Inc()
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordStorageLatency はストレージ呼び出しのレイテンシを記録する。
func (c *Collector) RecordStorageLatency(op string, duration time.Duration) {
	c.storageLatency.WithLabelValues(op).Observe(duration.Seconds())
}

// RecordStorageRetry はストレージ再試行を記録する。
func (c *Collector) RecordStorageRetry(op string) {
	c.storageRetries.WithLabelValues(op).Inc()
}

// RecordSessionsPurged は削除した期限切れセッション数を記録する。
func (c *Collector) RecordSessionsPurged(count int64) {
	c.sessionsPurged.Add(float64(count))
}

// NopCollector は何も記録しないMetricsCollector。テストやメトリクス無効時に使用する。
type NopCollector struct{}

func (NopCollector) RecordJournalUpsert() {}
func (NopCollector) RecordJournalDelete() {}
func (NopCollector) RecordExport(int) {}
func (NopCollector) RecordAuthAttempt(string) {}
func (NopCollector) RecordRegistration() {}
func (NopCollector) RecordHTTPStatus(int) {}
func (NopCollector) RecordStorageLatency(string, time.Duration) {}
func (NopCollector) RecordStorageRetry(string) {}
func (NopCollector) RecordSessionsPurged(int64) {}

// compile-time interface check
var (
	_ MetricsCollector = (*Collector)(nil)
	_ MetricsCollector = NopCollector{}
)

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
