package handler

import (
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/hitoshi/dailylog/internal/middleware"
	"github.com/hitoshi/dailylog/internal/model"
)

const (
	indexPage = "index.html"
	loginPage = "login.html"

	// staticMaxAge は静的ファイルのキャッシュ期間。
	staticMaxAge = 24 * time.Hour
)

// StaticHandler はフロントエンドのページと静的ファイルを配信する。
type StaticHandler struct {
	dir string
}

// NewStaticHandler はdir配下を配信するStaticHandlerを生成する。
func NewStaticHandler(dir string) *StaticHandler {
	return &StaticHandler{dir: dir}
}

// Index はメイン画面を返す。未認証の場合はログイン画面へリダイレクトする。
// GET /
func (h *StaticHandler) Index(w http.ResponseWriter, r *http.Request) {
	if _, ok := middleware.UsernameFromContext(r.Context()); !ok {
		http.Redirect(w, r, "/login", http.StatusFound)
		return
	}
	h.serveFile(w, r, indexPage)
}

// Login はログイン画面を返す。認証済みの場合はメイン画面へリダイレクトする。
// GET /login
func (h *StaticHandler) Login(w http.ResponseWriter, r *http.Request) {
	if _, ok := middleware.UsernameFromContext(r.Context()); ok {
		http.Redirect(w, r, "/", http.StatusFound)
		return
	}
	h.serveFile(w, r, loginPage)
}

// Files は静的ファイルを配信し、存在しないパスにはJSONの404を返す。
func (h *StaticHandler) Files(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		NotFound(w, r)
		return
	}
	h.serveFile(w, r, r.URL.Path)
}

// serveFile はdir配下のファイルをキャッシュヘッダー付きで返す。
// ディレクトリやdir外を指すパスは404とする。
func (h *StaticHandler) serveFile(w http.ResponseWriter, r *http.Request, name string) {
	clean := path.Clean("/" + name)
	if strings.HasPrefix(clean, "/.") {
		NotFound(w, r)
		return
	}
	full := filepath.Join(h.dir, filepath.FromSlash(clean))

	f, err := os.Open(full)
	if err != nil {
		NotFound(w, r)
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil || info.IsDir() {
		NotFound(w, r)
		return
	}

	w.Header().Set("Cache-Control", "public, max-age="+strconv.Itoa(int(staticMaxAge/time.Second)))
	http.ServeContent(w, r, info.Name(), info.ModTime(), f)
}

// NotFound はJSON形式の404を返す。
func NotFound(w http.ResponseWriter, r *http.Request) {
	middleware.WriteErrorResponse(w, http.StatusNotFound, &model.APIError{
		Code:     "NOT_FOUND",
		Message:  "ページが見つかりません",
		Category: "system",
		Action:   "URLを確認してください。",
	})
}

// MethodNotAllowed はJSON形式の405を返す。
func MethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	middleware.WriteErrorResponse(w, http.StatusMethodNotAllowed, &model.APIError{
		Code:     "METHOD_NOT_ALLOWED",
		Message:  "許可されていないメソッドです",
		Category: "system",
		Action:   "リクエスト方法を確認してください。",
	})
}
