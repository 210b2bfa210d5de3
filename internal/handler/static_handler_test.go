package handler

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
)

// newStaticDir はテスト用の公開ディレクトリを作成する。
func newStaticDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	files := map[string]string{
		"index.html":  "<html>index</html>",
		"login.html":  "<html>login</html>",
		"css/app.css": "body{}",
		"js/app.js":   "console.log(1)",
		".env":        "SECRET=1",
		"sub/.hidden": "hidden",
	}
	for name, content := range files {
		full := filepath.Join(dir, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

func TestStaticHandler_Index(t *testing.T) {
	h := NewStaticHandler(newStaticDir(t))

	t.Run("anonymous is redirected to login", func(t *testing.T) {
		w := httptest.NewRecorder()
		h.Index(w, httptest.NewRequest(http.MethodGet, "/", nil))

		if w.Code != http.StatusFound {
			t.Fatalf("status = %d, want %d", w.Code, http.StatusFound)
		}
		if got := w.Header().Get("Location"); got != "/login" {
			t.Errorf("Location = %q, want /login", got)
		}
	})

	t.Run("authenticated gets index", func(t *testing.T) {
		req := asUser(httptest.NewRequest(http.MethodGet, "/", nil), "alice")
		w := httptest.NewRecorder()
		h.Index(w, req)

		if w.Code != http.StatusOK {
			t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
		}
		if got := w.Body.String(); got != "<html>index</html>" {
			t.Errorf("body = %q", got)
		}
	})
}

func TestStaticHandler_Login(t *testing.T) {
	h := NewStaticHandler(newStaticDir(t))

	t.Run("authenticated is redirected home", func(t *testing.T) {
		req := asUser(httptest.NewRequest(http.MethodGet, "/login", nil), "alice")
		w := httptest.NewRecorder()
		h.Login(w, req)

		if w.Code != http.StatusFound {
			t.Fatalf("status = %d, want %d", w.Code, http.StatusFound)
		}
		if got := w.Header().Get("Location"); got != "/" {
			t.Errorf("Location = %q, want /", got)
		}
	})

	t.Run("anonymous gets login page", func(t *testing.T) {
		w := httptest.NewRecorder()
		h.Login(w, httptest.NewRequest(http.MethodGet, "/login", nil))

		if w.Code != http.StatusOK {
			t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
		}
		if got := w.Body.String(); got != "<html>login</html>" {
			t.Errorf("body = %q", got)
		}
	})
}

func TestStaticHandler_Files(t *testing.T) {
	h := NewStaticHandler(newStaticDir(t))

	tests := []struct {
		name       string
		method     string
		path       string
		wantStatus int
		wantBody   string
	}{
		{name: "css", method: http.MethodGet, path: "/css/app.css", wantStatus: http.StatusOK, wantBody: "body{}"},
		{name: "head", method: http.MethodHead, path: "/js/app.js", wantStatus: http.StatusOK},
		{name: "missing", method: http.MethodGet, path: "/nope.js", wantStatus: http.StatusNotFound},
		{name: "directory", method: http.MethodGet, path: "/css", wantStatus: http.StatusNotFound},
		{name: "dotfile", method: http.MethodGet, path: "/.env", wantStatus: http.StatusNotFound},
		{name: "traversal", method: http.MethodGet, path: "/../../etc/passwd", wantStatus: http.StatusNotFound},
		{name: "post", method: http.MethodPost, path: "/css/app.css", wantStatus: http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "/", nil)
			req.URL.Path = tt.path
			w := httptest.NewRecorder()
			h.Files(w, req)

			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if tt.wantBody != "" && w.Body.String() != tt.wantBody {
				t.Errorf("body = %q, want %q", w.Body.String(), tt.wantBody)
			}
			if tt.wantStatus == http.StatusOK {
				if got := w.Header().Get("Cache-Control"); got != "public, max-age=86400" {
					t.Errorf("Cache-Control = %q", got)
				}
			}
		})
	}
}

func TestNotFound_WritesJSON(t *testing.T) {
	w := httptest.NewRecorder()
	NotFound(w, httptest.NewRequest(http.MethodGet, "/missing", nil))

	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
	body := decodeErrorBody(t, w)
	if body.Code != "NOT_FOUND" {
		t.Errorf("code = %q, want NOT_FOUND", body.Code)
	}
	if body.Error != body.Message {
		t.Errorf("error = %q, want same as message %q", body.Error, body.Message)
	}
}
