// Package export はジャーナルをCSV形式で書き出す。
package export

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"

	"github.com/hitoshi/dailylog/internal/metrics"
	"github.com/hitoshi/dailylog/internal/model"
)

const (
	// ContentType はCSVレスポンスのContent-Type。
	ContentType = "text/csv; charset=utf-8"

	// bom はExcelでUTF-8として認識させるためのバイトオーダーマーク。
	bom = "\ufeff"
	// header はCSVのヘッダ行。
	header = "日付,記録日時,進捗率,アクション,詳細\n"
	// defaultAction はactionフィールドがない場合のアクション列の値。
	defaultAction = "workout"
	// recordedAtLayout は記録日時列の書式（UTC、ミリ秒精度）。
	recordedAtLayout = "2006-01-02T15:04:05.000Z07:00"
)

// Source はユーザーのジャーナルを日付の降順で列挙する。
type Source interface {
	Each(ctx context.Context, username string, fn func(*model.JournalRecord) error) error
}

// Exporter はジャーナルをCSVとしてストリーミング出力する。
type Exporter struct {
	src     Source
	metrics metrics.MetricsCollector
}

// NewExporter はExporterを生成する。metricsがnilの場合は記録しない。
func NewExporter(src Source, mc metrics.MetricsCollector) *Exporter {
	if mc == nil {
		mc = metrics.NopCollector{}
	}
	return &Exporter{src: src, metrics: mc}
}

// Filename はダウンロード時のファイル名を返す。
func Filename(username string) string {
	return fmt.Sprintf("workout_logs_%s.csv", username)
}

// WriteCSV はユーザーのジャーナルをwへ書き出し、出力した行数を返す。
// 記録を1件ずつ書き出すため、全件をメモリに保持しない。
// 記録が0件でもBOMとヘッダ行は出力する。
func (e *Exporter) WriteCSV(ctx context.Context, username string, w io.Writer) (int, error) {
	bw := bufio.NewWriter(w)
	if _, err := bw.WriteString(bom + header); err != nil {
		return 0, err
	}

	rows := 0
	err := e.src.Each(ctx, username, func(r *model.JournalRecord) error {
		if err := writeRow(bw, formatRow(r)); err != nil {
			return err
		}
		rows++
		return nil
	})
	if err != nil {
		return rows, err
	}
	if err := bw.Flush(); err != nil {
		return rows, err
	}

	e.metrics.RecordExport(rows)
	slog.Info("journal exported",
		slog.String("username", username),
		slog.Int("rows", rows),
	)
	return rows, nil
}

// formatRow は1件の記録をCSVの列値に変換する。
func formatRow(r *model.JournalRecord) []string {
	return []string{
		r.DateKey,
		r.RecordedAt.UTC().Format(recordedAtLayout),
		formatProgress(r.Fields[model.FieldProgress]) + "%",
		formatAction(r.Fields[model.FieldAction]),
		formatDetails(r.Fields[model.FieldDetails]),
	}
}

func formatProgress(v model.Value) string {
	switch p := v.(type) {
	case model.Number:
		return strconv.FormatFloat(float64(p), 'f', -1, 64)
	case model.String:
		if p != "" {
			return string(p)
		}
	}
	return "0"
}

func formatAction(v model.Value) string {
	switch a := v.(type) {
	case model.String:
		if a != "" {
			return string(a)
		}
	case model.Number:
		if a != 0 {
			return strconv.FormatFloat(float64(a), 'f', -1, 64)
		}
	case model.Bool:
		if a {
			return "true"
		}
	}
	return defaultAction
}

// formatDetails はdetailsフィールドをJSON文字列にする。
// 空または偽値の場合は空オブジェクトとして扱う。
func formatDetails(v model.Value) string {
	if isEmptyValue(v) {
		return "{}"
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return "{}"
	}
	return strings.TrimSuffix(buf.String(), "\n")
}

func isEmptyValue(v model.Value) bool {
	switch d := v.(type) {
	case nil, model.Null:
		return true
	case model.String:
		return d == ""
	case model.Number:
		return d == 0
	case model.Bool:
		return !bool(d)
	}
	return false
}

// writeRow はすべての列をダブルクォートで囲み、内部のダブルクォートを二重化して書き出す。
func writeRow(w *bufio.Writer, cols []string) error {
	for i, col := range cols {
		if i > 0 {
			if err := w.WriteByte(','); err != nil {
				return err
			}
		}
		if err := w.WriteByte('"'); err != nil {
			return err
		}
		if _, err := w.WriteString(strings.ReplaceAll(col, `"`, `""`)); err != nil {
			return err
		}
		if err := w.WriteByte('"'); err != nil {
			return err
		}
	}
	return w.WriteByte('\n')
}
