package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"sort"
)

// Value はジャーナルのフィールド値を表すシールドインターフェース。
// Null, String, Number, Bool, List, Object のみが実装する。
type Value interface {
	fieldValue()
}

// Null はJSONのnullを表す。
type Null struct{}

func (Null) fieldValue() {}

// MarshalJSON はjson.Marshalerを実装する。
func (Null) MarshalJSON() ([]byte, error) {
	return []byte("null"), nil
}

// String は文字列値を表す。
type String string

func (String) fieldValue() {}

// Number は数値を表す。JSONの数値はすべてfloat64として保持する。
type Number float64

func (Number) fieldValue() {}

// Bool は真偽値を表す。
type Bool bool

func (Bool) fieldValue() {}

// List は値の配列を表す。
type List []Value

func (List) fieldValue() {}

// Object はネストしたマッピングを表す。
type Object map[string]Value

func (Object) fieldValue() {}

// SortedKeys はキーを昇順で返す。決定的な出力が必要な場合に使用する。
func (o Object) SortedKeys() []string {
	keys := make([]string, 0, len(o))
	for k := range o {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// UnmarshalJSON はjson.Unmarshalerを実装する。
func (o *Object) UnmarshalJSON(data []byte) error {
	v, err := DecodeValue(data)
	if err != nil {
		return err
	}
	obj, ok := v.(Object)
	if !ok {
		return fmt.Errorf("expected JSON object, got %T", v)
	}
	*o = obj
	return nil
}

// UnmarshalJSON はjson.Unmarshalerを実装する。
func (l *List) UnmarshalJSON(data []byte) error {
	v, err := DecodeValue(data)
	if err != nil {
		return err
	}
	list, ok := v.(List)
	if !ok {
		return fmt.Errorf("expected JSON array, got %T", v)
	}
	*l = list
	return nil
}

// DecodeValue はJSONを1つのValueにデコードする。
// 末尾に余分なデータがある場合はエラーを返す。
func DecodeValue(data []byte) (Value, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var raw any
	if err := dec.Decode(&raw); err != nil {
		return nil, err
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, fmt.Errorf("unexpected trailing data after JSON value")
	}
	return FromAny(raw)
}

// FromAny はencoding/jsonがデコードした値（UseNumber指定時を含む）をValueに変換する。
func FromAny(raw any) (Value, error) {
	switch v := raw.(type) {
	case nil:
		return Null{}, nil
	case string:
		return String(v), nil
	case bool:
		return Bool(v), nil
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return nil, fmt.Errorf("invalid number %q: %w", v.String(), err)
		}
		return Number(f), nil
	case float64:
		return Number(v), nil
	case []any:
		list := make(List, len(v))
		for i, elem := range v {
			val, err := FromAny(elem)
			if err != nil {
				return nil, fmt.Errorf("index %d: %w", i, err)
			}
			list[i] = val
		}
		return list, nil
	case map[string]any:
		obj := make(Object, len(v))
		for k, elem := range v {
			val, err := FromAny(elem)
			if err != nil {
				return nil, fmt.Errorf("key %q: %w", k, err)
			}
			obj[k] = val
		}
		return obj, nil
	default:
		return nil, fmt.Errorf("unsupported JSON value type %T", raw)
	}
}
