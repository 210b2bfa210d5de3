package handler

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/dailylog/internal/export"
	"github.com/hitoshi/dailylog/internal/middleware"
	"github.com/hitoshi/dailylog/internal/model"
)

// フラットなレコード表現で予約されるキー。
const (
	keyDateKey = "dateKey"
	keyDate    = "date"
)

// JournalServiceInterface はジャーナルハンドラーが必要とするサービスインターフェース。
type JournalServiceInterface interface {
	Upsert(ctx context.Context, username, dateKey string, fields model.Fields, recordedAt *time.Time) error
	List(ctx context.Context, username string) ([]*model.JournalRecord, error)
	Get(ctx context.Context, username, dateKey string) (*model.JournalRecord, error)
	Delete(ctx context.Context, username, dateKey string) error
}

// CSVExporter はジャーナルをCSVとして書き出す。
type CSVExporter interface {
	WriteCSV(ctx context.Context, username string, w io.Writer) (int, error)
}

// JournalHandler はジャーナルのHTTPハンドラー。
// RequireIdentityの内側に配置する。
type JournalHandler struct {
	service  JournalServiceInterface
	exporter CSVExporter
}

// NewJournalHandler はJournalHandlerを生成する。
func NewJournalHandler(service JournalServiceInterface, exporter CSVExporter) *JournalHandler {
	return &JournalHandler{service: service, exporter: exporter}
}

// Upsert は指定日付のジャーナルを保存する。
// ボディは {dateKey, date?, ...fields} のフラットなJSONオブジェクト。
// POST /api/logs/upsert
func (h *JournalHandler) Upsert(w http.ResponseWriter, r *http.Request) {
	username, ok := h.requireUsername(w, r)
	if !ok {
		return
	}

	var body model.Object
	if err := decodeJSON(w, r, &body); err != nil {
		writeInvalidBody(w)
		return
	}

	dateKey, recordedAt, fields, apiErr := splitUpsertBody(body)
	if apiErr != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, apiErr)
		return
	}

	if err := h.service.Upsert(r.Context(), username, dateKey, fields, recordedAt); err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, okResponse{OK: true})
}

// splitUpsertBody は予約キーを取り出し、残りをフィールドとして返す。
func splitUpsertBody(body model.Object) (string, *time.Time, model.Fields, *model.APIError) {
	fields := make(model.Fields, len(body))
	for k, v := range body {
		if k == keyDateKey || k == keyDate {
			continue
		}
		fields[k] = v
	}

	var dateKey string
	switch v := body[keyDateKey].(type) {
	case nil, model.Null:
	case model.String:
		dateKey = string(v)
	default:
		return "", nil, nil, model.NewValidationError(keyDateKey, "dateKey は文字列で指定してください")
	}

	var recordedAt *time.Time
	switch v := body[keyDate].(type) {
	case nil, model.Null:
	case model.String:
		if v != "" {
			t, err := time.Parse(time.RFC3339Nano, string(v))
			if err != nil {
				return "", nil, nil, model.NewValidationError(keyDate, "date は ISO 8601 形式で指定してください")
			}
			recordedAt = &t
		}
	default:
		return "", nil, nil, model.NewValidationError(keyDate, "date は ISO 8601 形式で指定してください")
	}

	return dateKey, recordedAt, fields, nil
}

// List はユーザーの全ジャーナルを日付の降順で返す。
// GET /api/logs
func (h *JournalHandler) List(w http.ResponseWriter, r *http.Request) {
	username, ok := h.requireUsername(w, r)
	if !ok {
		return
	}

	records, err := h.service.List(r.Context(), username)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	resp := make([]flatRecord, len(records))
	for i, rec := range records {
		resp[i] = flatRecord{rec}
	}
	writeJSON(w, http.StatusOK, resp)
}

// Get は指定日付のジャーナルを返す。
// GET /api/logs/{dateKey}
func (h *JournalHandler) Get(w http.ResponseWriter, r *http.Request) {
	username, ok := h.requireUsername(w, r)
	if !ok {
		return
	}

	record, err := h.service.Get(r.Context(), username, chi.URLParam(r, "dateKey"))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, flatRecord{record})
}

// Delete は指定日付のジャーナルを削除する。
// DELETE /api/logs/{dateKey}
func (h *JournalHandler) Delete(w http.ResponseWriter, r *http.Request) {
	username, ok := h.requireUsername(w, r)
	if !ok {
		return
	}

	if err := h.service.Delete(r.Context(), username, chi.URLParam(r, "dateKey")); err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, okResponse{OK: true})
}

// Export はユーザーのジャーナルをCSVファイルとしてダウンロードさせる。
// GET /api/logs/export
func (h *JournalHandler) Export(w http.ResponseWriter, r *http.Request) {
	username, ok := h.requireUsername(w, r)
	if !ok {
		return
	}

	w.Header().Set("Content-Type", export.ContentType)
	w.Header().Set("Content-Disposition",
		mime.FormatMediaType("attachment", map[string]string{"filename": export.Filename(username)}))

	tw := &trackingWriter{w: w}
	if _, err := h.exporter.WriteCSV(r.Context(), username, tw); err != nil {
		if !tw.wrote {
			w.Header().Del("Content-Disposition")
			handleServiceError(w, r, err)
			return
		}
		// 送信開始後はステータスを変更できないため、ログのみ残して打ち切る
		slog.Error("csv export aborted",
			slog.String("username", username),
			slog.String("error", err.Error()),
		)
	}
}

// requireUsername はコンテキストのユーザー名を返す。存在しない場合は401を書き込む。
func (h *JournalHandler) requireUsername(w http.ResponseWriter, r *http.Request) (string, bool) {
	username, ok := middleware.UsernameFromContext(r.Context())
	if !ok {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewAuthRequiredError())
		return "", false
	}
	return username, true
}

// flatRecord はフィールドにdateKeyとdate（記録日時）を加えたフラットなJSON表現。
type flatRecord struct {
	*model.JournalRecord
}

// MarshalJSON はjson.Marshalerを実装する。
func (f flatRecord) MarshalJSON() ([]byte, error) {
	obj := make(model.Object, len(f.Fields)+2)
	for k, v := range f.Fields {
		obj[k] = v
	}
	obj[keyDateKey] = model.String(f.DateKey)
	obj[keyDate] = model.String(f.RecordedAt.UTC().Format(time.RFC3339Nano))
	return json.Marshal(obj)
}

// trackingWriter はレスポンスへの書き込みが始まったかを記録する。
type trackingWriter struct {
	w     io.Writer
	wrote bool
}

func (t *trackingWriter) Write(p []byte) (int, error) {
	if len(p) > 0 {
		t.wrote = true
	}
	return t.w.Write(p)
}
