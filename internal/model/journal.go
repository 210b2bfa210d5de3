package model

import (
	"encoding/json"
	"fmt"
	"time"
)

const (
	// DateKeyLayout は日付キーの書式（YYYY-MM-DD）。
	DateKeyLayout = "2006-01-02"

	// FieldProgress は進捗率を表す予約フィールド名。
	// ストアが解釈するのはこのキーのみで、それ以外は不透明に扱う。
	FieldProgress = "progress"
	// FieldAction はエクスポート時のアクション列に使用するフィールド名。
	FieldAction = "action"
	// FieldDetails はエクスポート時の詳細列に使用するフィールド名。
	FieldDetails = "details"

	// DefaultProgress はprogressが存在しない場合に補完する値。
	DefaultProgress = 0
)

// Fields は呼び出し側が自由に定義できるジャーナルのフィールド集合。
type Fields map[string]Value

// UnmarshalJSON はjson.Unmarshalerを実装する。
func (f *Fields) UnmarshalJSON(data []byte) error {
	var obj Object
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	*f = Fields(obj)
	return nil
}

// Clone はトップレベルをコピーしたFieldsを返す。
// ネストした値は不変として扱うため共有する。
func (f Fields) Clone() Fields {
	out := make(Fields, len(f)+1)
	for k, v := range f {
		out[k] = v
	}
	return out
}

// Progress はprogressフィールドの数値を返す。
// 存在しないかnullの場合はokがfalseになる。
func (f Fields) Progress() (value float64, present bool, err error) {
	v, ok := f[FieldProgress]
	if !ok || v == nil {
		return 0, false, nil
	}
	switch p := v.(type) {
	case Null:
		return 0, false, nil
	case Number:
		return float64(p), true, nil
	default:
		return 0, true, fmt.Errorf("progress must be a number, got %T", v)
	}
}

// WithDefaultProgress はprogressが存在しない（またはnullの）場合に
// DefaultProgressを補完したコピーを返す。元のFieldsは変更しない。
func (f Fields) WithDefaultProgress() Fields {
	out := f.Clone()
	if v, ok := out[FieldProgress]; !ok || v == nil {
		out[FieldProgress] = Number(DefaultProgress)
		return out
	}
	if _, isNull := out[FieldProgress].(Null); isNull {
		out[FieldProgress] = Number(DefaultProgress)
	}
	return out
}

// JournalRecord はユーザーの1日分のジャーナルを表す。
// (Username, DateKey) の組で一意となる。
type JournalRecord struct {
	Username   string
	DateKey    string
	RecordedAt time.Time
	Fields     Fields
}

// ParseDateKey は日付キーを検証し、暦日として解釈した時刻を返す。
// 2024-02-30 のような存在しない日付もエラーとなる。
func ParseDateKey(dateKey string) (time.Time, error) {
	if len(dateKey) != len(DateKeyLayout) {
		return time.Time{}, fmt.Errorf("date key must be in YYYY-MM-DD form: %q", dateKey)
	}
	t, err := time.Parse(DateKeyLayout, dateKey)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date key %q: %w", dateKey, err)
	}
	return t, nil
}

// DateKeyOf は時刻からUTC基準の日付キーを生成する。
func DateKeyOf(t time.Time) string {
	return t.UTC().Format(DateKeyLayout)
}
