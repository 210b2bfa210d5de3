// Package logger はslogによるJSON構造化ログの初期化を提供する。
package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/hitoshi/dailylog/internal/config"
)

// Setup はJSON構造化ログ出力のslog.Loggerを生成して返す。
func Setup(w io.Writer, level slog.Level) *slog.Logger {
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
	})
	return slog.New(handler)
}

// ParseLevel はログレベル名をslog.Levelに変換する。不明な値はInfoとする。
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// New は設定に従ってロガーを生成する。
// 出力先は常にconsole（nilの場合はos.Stdout）で、LOG_FILEが指定された場合は
// lumberjackでローテーションされるファイルにも書き出す。
// 返されたio.Closerはプロセス終了時に閉じる。
func New(cfg config.LogConfig, console io.Writer) (*slog.Logger, io.Closer) {
	if console == nil {
		console = os.Stdout
	}

	if cfg.File == "" {
		return Setup(console, ParseLevel(cfg.Level)), nopCloser{}
	}

	file := &lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		LocalTime:  true,
	}
	return Setup(io.MultiWriter(console, file), ParseLevel(cfg.Level)), file
}

// SetupDefault はNewで生成したロガーをグローバルロガーとして設定する。
func SetupDefault(cfg config.LogConfig, console io.Writer) io.Closer {
	logger, closer := New(cfg, console)
	slog.SetDefault(logger)
	return closer
}
