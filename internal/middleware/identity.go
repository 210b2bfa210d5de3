// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/hitoshi/dailylog/internal/model"
)

// SessionCookieName はセッションIDを格納するCookie名。
const SessionCookieName = "dailylog.session"

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

var (
	// usernameContextKey はリクエストコンテキストにユーザー名を格納するためのキー。
	usernameContextKey = contextKey("username")
	// usernameSinkKey は外側のロギングミドルウェアへユーザー名を伝えるための*stringを格納するキー。
	usernameSinkKey = contextKey("username_sink")
	// identityFailedKey はセッション照会がストレージエラーで失敗したことを示すキー。
	identityFailedKey = contextKey("identity_failed")
)

// IdentityResolver はCookieまたはベアラートークンからユーザーを解決する。
// auth.Serviceの部分集合として定義する。
type IdentityResolver interface {
	ResolveSession(ctx context.Context, sessionID string) (*model.Session, error)
	ParseToken(token string) (string, error)
}

// NewIdentityMiddleware はセッションCookieまたはAuthorizationヘッダーから
// ユーザー名を解決し、リクエストコンテキストに注入するミドルウェアを返す。
// 解決できない場合も拒否せず、未認証のまま次のハンドラーへ渡す。
// セッション照会が失敗した場合はその旨をコンテキストに残し、RequireIdentityが500を返す。
func NewIdentityMiddleware(resolver IdentityResolver) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			username, lookupFailed := resolveIdentity(r, resolver)
			switch {
			case username != "":
				r = r.WithContext(ContextWithUsername(r.Context(), username))
			case lookupFailed:
				r = r.WithContext(context.WithValue(r.Context(), identityFailedKey, true))
			}
			next.ServeHTTP(w, r)
		})
	}
}

// resolveIdentity はCookieを優先し、なければベアラートークンを検証する。
// lookupFailedはセッション照会がエラーになったかどうか。
func resolveIdentity(r *http.Request, resolver IdentityResolver) (username string, lookupFailed bool) {
	if cookie, err := r.Cookie(SessionCookieName); err == nil && cookie.Value != "" {
		session, err := resolver.ResolveSession(r.Context(), cookie.Value)
		if err != nil {
			slog.Error("failed to resolve session",
				slog.String("error", err.Error()),
			)
			lookupFailed = true
		}
		if session != nil {
			return session.Username, false
		}
	}

	token, ok := bearerToken(r)
	if !ok {
		return "", lookupFailed
	}
	username, err := resolver.ParseToken(token)
	if err != nil {
		slog.Debug("bearer token rejected", slog.String("error", err.Error()))
		return "", lookupFailed
	}
	return username, false
}

func bearerToken(r *http.Request) (string, bool) {
	const prefix = "bearer "
	h := r.Header.Get("Authorization")
	if len(h) <= len(prefix) || !strings.EqualFold(h[:len(prefix)], prefix) {
		return "", false
	}
	token := strings.TrimSpace(h[len(prefix):])
	return token, token != ""
}

// RequireIdentity は未認証リクエストを401 AUTH_REQUIREDで拒否するミドルウェアを返す。
// セッション照会がストレージエラーで失敗していた場合は500を返す。
// NewIdentityMiddlewareの後に配置する。
func RequireIdentity() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := UsernameFromContext(r.Context()); !ok {
				if failed, _ := r.Context().Value(identityFailedKey).(bool); failed {
					WriteInternalServerError(w)
					return
				}
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewAuthRequiredError())
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// UsernameFromContext はリクエストコンテキストから認証済みユーザー名を取得する。
func UsernameFromContext(ctx context.Context) (string, bool) {
	username, ok := ctx.Value(usernameContextKey).(string)
	if !ok || username == "" {
		return "", false
	}
	return username, true
}

// ContextWithUsername はコンテキストにユーザー名を注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithUsername(ctx context.Context, username string) context.Context {
	if sink, ok := ctx.Value(usernameSinkKey).(*string); ok {
		*sink = username
	}
	return context.WithValue(ctx, usernameContextKey, username)
}
