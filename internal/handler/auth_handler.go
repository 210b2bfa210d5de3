// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"

	"github.com/hitoshi/dailylog/internal/middleware"
	"github.com/hitoshi/dailylog/internal/model"
)

// 認証時に記録するアクティビティのアクション名。
const (
	activityLogin    = "login"
	activityRegister = "register"
)

// AuthServiceInterface は認証ハンドラーが必要とするサービスインターフェース。
type AuthServiceInterface interface {
	Register(ctx context.Context, username, password string) (*model.Account, error)
	Authenticate(ctx context.Context, username, password string) (*model.Account, error)
	CreateSession(ctx context.Context, username string) (*model.Session, error)
	Logout(ctx context.Context, sessionID string) error
	IssueToken(username string) (string, error)
}

// ActivityRecorder はログイン・登録の履歴をジャーナルに記録する。
type ActivityRecorder interface {
	RecordActivity(ctx context.Context, username, action string, details model.Object) error
}

// AuthHandlerConfig は認証ハンドラーの設定。
type AuthHandlerConfig struct {
	CookieDomain   string
	CookieSecure   bool
	SessionMaxAge  int  // セッションCookieの有効期間（秒）
	RecordActivity bool // ログイン・登録を当日のジャーナルに記録するか
}

// AuthHandler はアカウント登録・ログイン関連のHTTPハンドラー。
type AuthHandler struct {
	service  AuthServiceInterface
	activity ActivityRecorder
	config   AuthHandlerConfig
}

// NewAuthHandler はAuthHandlerを生成する。activityはnilでもよい。
func NewAuthHandler(service AuthServiceInterface, activity ActivityRecorder, config AuthHandlerConfig) *AuthHandler {
	return &AuthHandler{
		service:  service,
		activity: activity,
		config:   config,
	}
}

// credentialsRequest は登録・ログインリクエストのボディ。
type credentialsRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// authResponse は登録・ログイン成功時のレスポンス。
type authResponse struct {
	OK    bool   `json:"ok"`
	User  string `json:"user"`
	Token string `json:"token,omitempty"`
}

// meResponse は現在のユーザー情報のレスポンス。未認証の場合userはnull。
type meResponse struct {
	User *string `json:"user"`
}

// Register は新規アカウントを登録し、そのままログイン状態にする。
// POST /api/register
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeInvalidBody(w)
		return
	}

	account, err := h.service.Register(r.Context(), req.Username, req.Password)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	h.establishIdentity(w, r, account.Username, activityRegister, true)
}

// Login はユーザー名とパスワードで認証する。
// POST /api/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeInvalidBody(w)
		return
	}

	account, err := h.service.Authenticate(r.Context(), req.Username, req.Password)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	h.establishIdentity(w, r, account.Username, activityLogin, false)
}

// establishIdentity はセッションを作成してCookieを設定し、ベアラートークンを返す。
// 登録直後（created）はアカウントを取り消せないため、セッションとトークンの
// どちらか一方でも発行できれば成功として返す。両方失敗した場合は500を返し、
// クライアントは/api/loginで再試行できる。
func (h *AuthHandler) establishIdentity(w http.ResponseWriter, r *http.Request, username, action string, created bool) {
	token, tokenErr := h.service.IssueToken(username)
	session, sessionErr := h.service.CreateSession(r.Context(), username)

	if err := errors.Join(tokenErr, sessionErr); err != nil {
		if !created || (tokenErr != nil && sessionErr != nil) {
			handleServiceError(w, r, err)
			return
		}
		slog.Warn("account created but credential issuance partially failed",
			slog.String("username", username),
			slog.String("error", err.Error()),
		)
	}

	if session != nil {
		// セッションCookieを設定（HTTP Only）
		http.SetCookie(w, &http.Cookie{
			Name:     middleware.SessionCookieName,
			Value:    session.ID,
			Path:     "/",
			Domain:   h.config.CookieDomain,
			MaxAge:   h.config.SessionMaxAge,
			HttpOnly: true,
			Secure:   h.config.CookieSecure,
			SameSite: http.SameSiteLaxMode,
		})
	}

	h.recordActivity(r, username, action)

	slog.Info("user authenticated",
		slog.String("username", username),
		slog.String("action", action),
	)
	writeJSON(w, http.StatusOK, authResponse{OK: true, User: username, Token: token})
}

// recordActivity は有効な場合にアクティビティを記録する。失敗しても認証結果には影響させない。
func (h *AuthHandler) recordActivity(r *http.Request, username, action string) {
	if !h.config.RecordActivity || h.activity == nil {
		return
	}
	details := model.Object{
		"ip":        model.String(clientAddr(r)),
		"userAgent": model.String(r.UserAgent()),
	}
	if err := h.activity.RecordActivity(r.Context(), username, action, details); err != nil {
		slog.Warn("failed to record auth activity",
			slog.String("username", username),
			slog.String("action", action),
			slog.String("error", err.Error()),
		)
	}
}

// Logout はセッションを破棄する。
// POST /api/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(middleware.SessionCookieName)
	if err == nil && cookie.Value != "" {
		if err := h.service.Logout(r.Context(), cookie.Value); err != nil {
			// ログアウト失敗してもCookieはクリアする
			slog.Error("failed to logout", slog.String("error", err.Error()))
		}
	}

	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookieName,
		Value:    "",
		Path:     "/",
		Domain:   h.config.CookieDomain,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})

	writeJSON(w, http.StatusOK, okResponse{OK: true})
}

// Me は現在のログインユーザー名を返す。未認証でもエラーにしない。
// GET /api/me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	var resp meResponse
	if username, ok := middleware.UsernameFromContext(r.Context()); ok {
		resp.User = &username
	}
	writeJSON(w, http.StatusOK, resp)
}

// decodeJSON はサイズ上限付きでリクエストボディをデコードする。
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	return json.NewDecoder(r.Body).Decode(v)
}

// clientAddr はRemoteAddrからポートを除いたアドレスを返す。
func clientAddr(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
