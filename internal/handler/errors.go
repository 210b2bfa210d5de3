package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/hitoshi/dailylog/internal/middleware"
	"github.com/hitoshi/dailylog/internal/model"
)

// maxBodyBytes はリクエストボディの上限サイズ。
const maxBodyBytes = 2 << 20

// handleServiceError はサービス層から返されたエラーを適切なHTTPレスポンスに変換する。
// APIError以外（StorageErrorを含む）は内部エラーとして扱い、詳細はログにのみ残す。
func handleServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		middleware.WriteErrorResponse(w, middleware.StatusCodeFor(apiErr), apiErr)
		return
	}

	attrs := []any{
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.String("error", err.Error()),
	}
	var storageErr *model.StorageError
	if errors.As(err, &storageErr) {
		attrs = append(attrs, slog.String("op", storageErr.Op))
	}
	if id := middleware.RequestIDFromContext(r.Context()); id != "" {
		attrs = append(attrs, slog.String("request_id", id))
	}
	slog.Error("internal server error", attrs...)
	middleware.WriteInternalServerError(w)
}

// writeInvalidBody はリクエストボディの解析失敗を400で返す。
func writeInvalidBody(w http.ResponseWriter) {
	middleware.WriteErrorResponse(w, http.StatusBadRequest,
		model.NewValidationError("", "リクエストボディの解析に失敗しました"))
}

// writeJSON はJSONレスポンスを書き込む。
func writeJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", slog.String("error", err.Error()))
	}
}

// okResponse は処理成功のみを返すレスポンス。
type okResponse struct {
	OK bool `json:"ok"`
}
