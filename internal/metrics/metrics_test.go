package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// findMetric はレジストリから指定名のメトリクスファミリーを取得する。
func findMetric(t *testing.T, reg *prometheus.Registry, name string) *dto.MetricFamily {
	t.Helper()

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() == name {
			return mf
		}
	}
	t.Fatalf("%s metric not found", name)
	return nil
}

// labelValue はメトリクスから指定ラベルの値を取得する。
func labelValue(m *dto.Metric, name string) string {
	for _, lp := range m.GetLabel() {
		if lp.GetName() == name {
			return lp.GetValue()
		}
	}
	return ""
}

// TestNewCollector_ReturnsNonNil はCollectorが正常に生成されることを検証する。
func TestNewCollector_ReturnsNonNil(t *testing.T) {
	reg := prometheus.NewRegistry()
	if c := NewCollector(reg); c == nil {
		t.Fatal("expected non-nil Collector")
	}
}

// TestJournalCounters はupsert・削除カウンタが増加することを検証する。
func TestJournalCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordJournalUpsert()
	c.RecordJournalUpsert()
	c.RecordJournalDelete()

	if v := findMetric(t, reg, "dailylog_journal_upserts_total").GetMetric()[0].GetCounter().GetValue(); v != 2 {
		t.Errorf("journal_upserts_total = %v, want 2", v)
	}
	if v := findMetric(t, reg, "dailylog_journal_deletes_total").GetMetric()[0].GetCounter().GetValue(); v != 1 {
		t.Errorf("journal_deletes_total = %v, want 1", v)
	}
}

// TestRecordExport はエクスポート回数と行数が記録されることを検証する。
func TestRecordExport(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordExport(3)
	c.RecordExport(0)

	if v := findMetric(t, reg, "dailylog_exports_total").GetMetric()[0].GetCounter().GetValue(); v != 2 {
		t.Errorf("exports_total = %v, want 2", v)
	}
	if v := findMetric(t, reg, "dailylog_export_rows_total").GetMetric()[0].GetCounter().GetValue(); v != 3 {
		t.Errorf("export_rows_total = %v, want 3", v)
	}
}

// TestRecordAuthAttempt_ByResult は結果ラベル別にカウントされることを検証する。
func TestRecordAuthAttempt_ByResult(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordAuthAttempt(AuthResultSuccess)
	c.RecordAuthAttempt(AuthResultFailure)
	c.RecordAuthAttempt(AuthResultFailure)
	c.RecordRegistration()

	mf := findMetric(t, reg, "dailylog_auth_attempts_total")
	got := map[string]float64{}
	for _, m := range mf.GetMetric() {
		got[labelValue(m, "result")] = m.GetCounter().GetValue()
	}
	if got[AuthResultSuccess] != 1 || got[AuthResultFailure] != 2 {
		t.Errorf("auth_attempts_total = %v, want success=1 failure=2", got)
	}

	if v := findMetric(t, reg, "dailylog_registrations_total").GetMetric()[0].GetCounter().GetValue(); v != 1 {
		t.Errorf("registrations_total = %v, want 1", v)
	}
}

// TestRecordHTTPStatus_IncrementsCounterWithLabel はステータスコード別にカウントされることを検証する。
func TestRecordHTTPStatus_IncrementsCounterWithLabel(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordHTTPStatus(200)
	c.RecordHTTPStatus(200)
	c.RecordHTTPStatus(404)

	mf := findMetric(t, reg, "dailylog_http_status_total")
	got := map[string]float64{}
	for _, m := range mf.GetMetric() {
		got[labelValue(m, "status_code")] = m.GetCounter().GetValue()
	}
	if got["200"] != 2 || got["404"] != 1 {
		t.Errorf("http_status_total = %v, want 200=2 404=1", got)
	}
}

// TestStorageMetrics はレイテンシと再試行が操作別に記録されることを検証する。
func TestStorageMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordStorageLatency("journal.upsert", 150*time.Millisecond)
	c.RecordStorageRetry("journal.upsert")
	c.RecordSessionsPurged(4)

	h := findMetric(t, reg, "dailylog_storage_latency_seconds").GetMetric()[0]
	if labelValue(h, "op") != "journal.upsert" {
		t.Errorf("op label = %q", labelValue(h, "op"))
	}
	if h.GetHistogram().GetSampleCount() != 1 {
		t.Errorf("sample count = %d, want 1", h.GetHistogram().GetSampleCount())
	}
	if v := findMetric(t, reg, "dailylog_storage_retries_total").GetMetric()[0].GetCounter().GetValue(); v != 1 {
		t.Errorf("storage_retries_total = %v, want 1", v)
	}
	if v := findMetric(t, reg, "dailylog_sessions_purged_total").GetMetric()[0].GetCounter().GetValue(); v != 4 {
		t.Errorf("sessions_purged_total = %v, want 4", v)
	}
}

// TestMetricsHandler_ReturnsPrometheusFormat はハンドラーがテキスト形式で公開することを検証する。
func TestMetricsHandler_ReturnsPrometheusFormat(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)
	c.RecordJournalUpsert()

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	Handler(reg).ServeHTTP(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "dailylog_journal_upserts_total 1") {
		t.Errorf("response should contain dailylog_journal_upserts_total, got:\n%s", body)
	}
}

// TestMultipleCollectors_IndependentRegistries は別レジストリ同士が干渉しないことを検証する。
func TestMultipleCollectors_IndependentRegistries(t *testing.T) {
	reg1 := prometheus.NewRegistry()
	reg2 := prometheus.NewRegistry()
	c1 := NewCollector(reg1)
	_ = NewCollector(reg2)

	c1.RecordJournalUpsert()

	if v := findMetric(t, reg2, "dailylog_journal_upserts_total").GetMetric()[0].GetCounter().GetValue(); v != 0 {
		t.Errorf("reg2 journal_upserts_total = %v, want 0", v)
	}
}

// TestNopCollector はNopCollectorがpanicしないことを検証する。
func TestNopCollector(t *testing.T) {
	var c MetricsCollector = NopCollector{}
	c.RecordJournalUpsert()
	c.RecordExport(10)
	c.RecordStorageLatency("x", time.Second)
}
