package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/hitoshi/dailylog/internal/middleware"
	"github.com/hitoshi/dailylog/internal/model"
)

// --- モック定義 ---

type mockAuthService struct {
	registerFn      func(ctx context.Context, username, password string) (*model.Account, error)
	authenticateFn  func(ctx context.Context, username, password string) (*model.Account, error)
	createSessionFn func(ctx context.Context, username string) (*model.Session, error)
	logoutFn        func(ctx context.Context, sessionID string) error
	issueTokenFn    func(username string) (string, error)
}

func (m *mockAuthService) Register(ctx context.Context, username, password string) (*model.Account, error) {
	if m.registerFn != nil {
		return m.registerFn(ctx, username, password)
	}
	return &model.Account{Username: username}, nil
}

func (m *mockAuthService) Authenticate(ctx context.Context, username, password string) (*model.Account, error) {
	if m.authenticateFn != nil {
		return m.authenticateFn(ctx, username, password)
	}
	return &model.Account{Username: username}, nil
}

func (m *mockAuthService) CreateSession(ctx context.Context, username string) (*model.Session, error) {
	if m.createSessionFn != nil {
		return m.createSessionFn(ctx, username)
	}
	return &model.Session{ID: "session-123", Username: username, ExpiresAt: time.Now().Add(time.Hour)}, nil
}

func (m *mockAuthService) Logout(ctx context.Context, sessionID string) error {
	if m.logoutFn != nil {
		return m.logoutFn(ctx, sessionID)
	}
	return nil
}

func (m *mockAuthService) IssueToken(username string) (string, error) {
	if m.issueTokenFn != nil {
		return m.issueTokenFn(username)
	}
	return "token-for-" + username, nil
}

type activityCall struct {
	username string
	action   string
	details  model.Object
}

type mockActivityRecorder struct {
	calls []activityCall
	err   error
}

func (m *mockActivityRecorder) RecordActivity(_ context.Context, username, action string, details model.Object) error {
	m.calls = append(m.calls, activityCall{username: username, action: action, details: details})
	return m.err
}

func defaultAuthConfig() AuthHandlerConfig {
	return AuthHandlerConfig{SessionMaxAge: 86400}
}

func findCookie(resp *http.Response, name string) *http.Cookie {
	for _, c := range resp.Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func decodeErrorBody(t *testing.T, w *httptest.ResponseRecorder) middleware.ErrorResponseBody {
	t.Helper()
	var body middleware.ErrorResponseBody
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode error body: %v", err)
	}
	return body
}

// --- テスト ---

func TestAuthHandler_Register_SetsSessionCookieAndReturnsToken(t *testing.T) {
	var gotUser, gotPass string
	svc := &mockAuthService{
		registerFn: func(_ context.Context, username, password string) (*model.Account, error) {
			gotUser, gotPass = username, password
			return &model.Account{Username: username}, nil
		},
	}
	h := NewAuthHandler(svc, nil, defaultAuthConfig())

	req := httptest.NewRequest(http.MethodPost, "/api/register",
		strings.NewReader(`{"username":"alice","password":"secret"}`))
	w := httptest.NewRecorder()
	h.Register(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d, body = %s", w.Code, http.StatusOK, w.Body.String())
	}
	if gotUser != "alice" || gotPass != "secret" {
		t.Errorf("service received (%q, %q)", gotUser, gotPass)
	}

	cookie := findCookie(w.Result(), middleware.SessionCookieName)
	if cookie == nil {
		t.Fatal("expected session cookie")
	}
	if cookie.Value != "session-123" {
		t.Errorf("cookie value = %q, want %q", cookie.Value, "session-123")
	}
	if !cookie.HttpOnly {
		t.Error("session cookie must be HttpOnly")
	}
	if cookie.MaxAge != 86400 {
		t.Errorf("cookie MaxAge = %d, want 86400", cookie.MaxAge)
	}

	var resp authResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if !resp.OK || resp.User != "alice" || resp.Token != "token-for-alice" {
		t.Errorf("response = %+v", resp)
	}
}

func TestAuthHandler_Register_Conflict(t *testing.T) {
	svc := &mockAuthService{
		registerFn: func(context.Context, string, string) (*model.Account, error) {
			return nil, model.NewUsernameConflictError()
		},
	}
	h := NewAuthHandler(svc, nil, defaultAuthConfig())

	req := httptest.NewRequest(http.MethodPost, "/api/register",
		strings.NewReader(`{"username":"alice","password":"secret"}`))
	w := httptest.NewRecorder()
	h.Register(w, req)

	if w.Code != http.StatusConflict {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusConflict)
	}
	if findCookie(w.Result(), middleware.SessionCookieName) != nil {
		t.Error("no session cookie should be set on conflict")
	}
	body := decodeErrorBody(t, w)
	if body.Code != model.ErrCodeConflict {
		t.Errorf("code = %q, want %q", body.Code, model.ErrCodeConflict)
	}
	if body.Field != "username" {
		t.Errorf("field = %q, want %q", body.Field, "username")
	}
}

func TestAuthHandler_Register_InvalidBody(t *testing.T) {
	h := NewAuthHandler(&mockAuthService{}, nil, defaultAuthConfig())

	req := httptest.NewRequest(http.MethodPost, "/api/register", strings.NewReader(`{not json`))
	w := httptest.NewRecorder()
	h.Register(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
	if body := decodeErrorBody(t, w); body.Code != model.ErrCodeValidation {
		t.Errorf("code = %q, want %q", body.Code, model.ErrCodeValidation)
	}
}

func TestAuthHandler_Login_InvalidCredentials(t *testing.T) {
	svc := &mockAuthService{
		authenticateFn: func(context.Context, string, string) (*model.Account, error) {
			return nil, model.NewInvalidCredentialsError()
		},
	}
	h := NewAuthHandler(svc, nil, defaultAuthConfig())

	req := httptest.NewRequest(http.MethodPost, "/api/login",
		strings.NewReader(`{"username":"alice","password":"wrong"}`))
	w := httptest.NewRecorder()
	h.Login(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
	if body := decodeErrorBody(t, w); body.Code != model.ErrCodeInvalidCredentials {
		t.Errorf("code = %q, want %q", body.Code, model.ErrCodeInvalidCredentials)
	}
}

func TestAuthHandler_Login_SessionFailureIsInternalError(t *testing.T) {
	svc := &mockAuthService{
		createSessionFn: func(context.Context, string) (*model.Session, error) {
			return nil, model.NewStorageError("session.create", errors.New("disk full"))
		},
	}
	h := NewAuthHandler(svc, nil, defaultAuthConfig())

	req := httptest.NewRequest(http.MethodPost, "/api/login",
		strings.NewReader(`{"username":"alice","password":"secret"}`))
	w := httptest.NewRecorder()
	h.Login(w, req)

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusInternalServerError)
	}
	body := decodeErrorBody(t, w)
	if strings.Contains(body.Message, "disk full") {
		t.Errorf("storage detail leaked into response: %q", body.Message)
	}
}

func TestAuthHandler_Register_PartialCredentialFailure(t *testing.T) {
	storageErr := model.NewStorageError("session.create", errors.New("disk full"))

	tests := []struct {
		name       string
		svc        *mockAuthService
		wantStatus int
		wantCookie bool
		wantToken  string
	}{
		{
			name: "session failure still returns token",
			svc: &mockAuthService{
				createSessionFn: func(context.Context, string) (*model.Session, error) { return nil, storageErr },
			},
			wantStatus: http.StatusOK,
			wantCookie: false,
			wantToken:  "token-for-alice",
		},
		{
			name: "token failure still sets cookie",
			svc: &mockAuthService{
				issueTokenFn: func(string) (string, error) { return "", errors.New("signing failed") },
			},
			wantStatus: http.StatusOK,
			wantCookie: true,
		},
		{
			name: "both failures are internal error",
			svc: &mockAuthService{
				createSessionFn: func(context.Context, string) (*model.Session, error) { return nil, storageErr },
				issueTokenFn:    func(string) (string, error) { return "", errors.New("signing failed") },
			},
			wantStatus: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewAuthHandler(tt.svc, nil, defaultAuthConfig())

			req := httptest.NewRequest(http.MethodPost, "/api/register",
				strings.NewReader(`{"username":"alice","password":"secret"}`))
			w := httptest.NewRecorder()
			h.Register(w, req)

			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d, body = %s", w.Code, tt.wantStatus, w.Body.String())
			}
			gotCookie := findCookie(w.Result(), middleware.SessionCookieName) != nil
			if gotCookie != tt.wantCookie {
				t.Errorf("cookie set = %v, want %v", gotCookie, tt.wantCookie)
			}
			if tt.wantStatus != http.StatusOK {
				return
			}

			var resp authResponse
			if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
				t.Fatalf("failed to decode response: %v", err)
			}
			if !resp.OK || resp.User != "alice" {
				t.Errorf("response = %+v, want ok for alice", resp)
			}
			if resp.Token != tt.wantToken {
				t.Errorf("token = %q, want %q", resp.Token, tt.wantToken)
			}
		})
	}
}

func TestAuthHandler_Login_TokenFailureIsInternalError(t *testing.T) {
	svc := &mockAuthService{
		issueTokenFn: func(string) (string, error) { return "", errors.New("signing failed") },
	}
	h := NewAuthHandler(svc, nil, defaultAuthConfig())

	req := httptest.NewRequest(http.MethodPost, "/api/login",
		strings.NewReader(`{"username":"alice","password":"secret"}`))
	w := httptest.NewRecorder()
	h.Login(w, req)

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusInternalServerError)
	}
	if findCookie(w.Result(), middleware.SessionCookieName) != nil {
		t.Error("session cookie must not be set when login fails")
	}
}

func TestAuthHandler_Login_RecordsActivityWhenEnabled(t *testing.T) {
	recorder := &mockActivityRecorder{}
	config := defaultAuthConfig()
	config.RecordActivity = true
	h := NewAuthHandler(&mockAuthService{}, recorder, config)

	req := httptest.NewRequest(http.MethodPost, "/api/login",
		strings.NewReader(`{"username":"alice","password":"secret"}`))
	req.RemoteAddr = "192.0.2.10:54321"
	req.Header.Set("User-Agent", "test-agent")
	w := httptest.NewRecorder()
	h.Login(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if len(recorder.calls) != 1 {
		t.Fatalf("activity calls = %d, want 1", len(recorder.calls))
	}
	call := recorder.calls[0]
	if call.username != "alice" || call.action != activityLogin {
		t.Errorf("call = %+v", call)
	}
	if call.details["ip"] != model.String("192.0.2.10") {
		t.Errorf("ip = %v, want 192.0.2.10", call.details["ip"])
	}
	if call.details["userAgent"] != model.String("test-agent") {
		t.Errorf("userAgent = %v", call.details["userAgent"])
	}
}

func TestAuthHandler_Login_ActivityFailureDoesNotFailLogin(t *testing.T) {
	recorder := &mockActivityRecorder{err: errors.New("boom")}
	config := defaultAuthConfig()
	config.RecordActivity = true
	h := NewAuthHandler(&mockAuthService{}, recorder, config)

	req := httptest.NewRequest(http.MethodPost, "/api/login",
		strings.NewReader(`{"username":"alice","password":"secret"}`))
	w := httptest.NewRecorder()
	h.Login(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
}

func TestAuthHandler_Login_SkipsActivityWhenDisabled(t *testing.T) {
	recorder := &mockActivityRecorder{}
	h := NewAuthHandler(&mockAuthService{}, recorder, defaultAuthConfig())

	req := httptest.NewRequest(http.MethodPost, "/api/login",
		strings.NewReader(`{"username":"alice","password":"secret"}`))
	w := httptest.NewRecorder()
	h.Login(w, req)

	if len(recorder.calls) != 0 {
		t.Errorf("activity calls = %d, want 0", len(recorder.calls))
	}
}

func TestAuthHandler_Logout_ClearsCookie(t *testing.T) {
	var loggedOut string
	svc := &mockAuthService{
		logoutFn: func(_ context.Context, sessionID string) error {
			loggedOut = sessionID
			return nil
		},
	}
	h := NewAuthHandler(svc, nil, defaultAuthConfig())

	req := httptest.NewRequest(http.MethodPost, "/api/logout", nil)
	req.AddCookie(&http.Cookie{Name: middleware.SessionCookieName, Value: "session-123"})
	w := httptest.NewRecorder()
	h.Logout(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if loggedOut != "session-123" {
		t.Errorf("logged out session = %q, want %q", loggedOut, "session-123")
	}
	cookie := findCookie(w.Result(), middleware.SessionCookieName)
	if cookie == nil {
		t.Fatal("expected cookie to be cleared")
	}
	if cookie.MaxAge >= 0 || cookie.Value != "" {
		t.Errorf("cookie not cleared: %+v", cookie)
	}
}

func TestAuthHandler_Logout_WithoutCookieStillSucceeds(t *testing.T) {
	called := false
	svc := &mockAuthService{
		logoutFn: func(context.Context, string) error {
			called = true
			return nil
		},
	}
	h := NewAuthHandler(svc, nil, defaultAuthConfig())

	req := httptest.NewRequest(http.MethodPost, "/api/logout", nil)
	w := httptest.NewRecorder()
	h.Logout(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if called {
		t.Error("Logout should not reach the service without a session cookie")
	}
}

func TestAuthHandler_Logout_ServiceErrorStillClearsCookie(t *testing.T) {
	svc := &mockAuthService{
		logoutFn: func(context.Context, string) error { return errors.New("db down") },
	}
	h := NewAuthHandler(svc, nil, defaultAuthConfig())

	req := httptest.NewRequest(http.MethodPost, "/api/logout", nil)
	req.AddCookie(&http.Cookie{Name: middleware.SessionCookieName, Value: "session-123"})
	w := httptest.NewRecorder()
	h.Logout(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if cookie := findCookie(w.Result(), middleware.SessionCookieName); cookie == nil || cookie.MaxAge >= 0 {
		t.Errorf("cookie not cleared: %+v", cookie)
	}
}

func TestAuthHandler_Me(t *testing.T) {
	h := NewAuthHandler(&mockAuthService{}, nil, defaultAuthConfig())

	t.Run("anonymous", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/me", nil)
		w := httptest.NewRecorder()
		h.Me(w, req)

		if w.Code != http.StatusOK {
			t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
		}
		if got := strings.TrimSpace(w.Body.String()); got != `{"user":null}` {
			t.Errorf("body = %s, want {\"user\":null}", got)
		}
	})

	t.Run("authenticated", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/me", nil)
		req = req.WithContext(middleware.ContextWithUsername(req.Context(), "alice"))
		w := httptest.NewRecorder()
		h.Me(w, req)

		if got := strings.TrimSpace(w.Body.String()); got != `{"user":"alice"}` {
			t.Errorf("body = %s, want {\"user\":\"alice\"}", got)
		}
	})
}
