package decode

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"

	"github.com/mitchellh/mapstructure"
)

// Options 用于定制 Decode 行为。
type Options struct {
	// 是否启用宽松解码（默认 true）：
	// 例如 123 -> "123"、"1" -> int 等。
	WeaklyTypedInput bool
}

// DefaultOptions 返回默认选项。
func DefaultOptions() Options {
	return Options{
		WeaklyTypedInput: true,
	}
}

// DecodePayload 把实时通道的 data 解码到结构体 T（读 `json` tag）。
// data 可以是 JSON 对象，也可以是被再次字符串化的对象（部分客户端这么发）。
func DecodePayload[T any](raw json.RawMessage, opts ...Options) (*T, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("payload is empty")
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("unmarshal payload: %w", err)
	}
	if s, ok := v.(string); ok {
		var m map[string]any
		if err := json.Unmarshal([]byte(s), &m); err != nil {
			return nil, fmt.Errorf("payload is a plain string")
		}
		v = m
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("payload type %T not object", v)
	}
	return DecodeMap[T](m, opts...)
}

// DecodeMap 将 map 动态解码到任意结构体 T。
func DecodeMap[T any](m map[string]any, opts ...Options) (*T, error) {
	cfg := DefaultOptions()
	if len(opts) > 0 {
		cfg = opts[0]
	}

	var out T
	decCfg := &mapstructure.DecoderConfig{
		TagName:          "json",
		Result:           &out,
		WeaklyTypedInput: cfg.WeaklyTypedInput,
		DecodeHook:       floatToIntHook(),
	}
	dec, err := mapstructure.NewDecoder(decCfg)
	if err != nil {
		return nil, fmt.Errorf("new decoder: %w", err)
	}
	if err := dec.Decode(m); err != nil {
		return nil, fmt.Errorf("decode struct: %w", err)
	}
	return &out, nil
}

// ReadID data 为 "abc" 或 {"<key>": "abc"} 时取出 id
func ReadID(raw json.RawMessage, key string) (string, error) {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return "", fmt.Errorf("unmarshal payload: %w", err)
	}
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t), nil
	case map[string]any:
		s, ok := t[key].(string)
		if !ok {
			return "", fmt.Errorf("missing field %q", key)
		}
		return strings.TrimSpace(s), nil
	default:
		return "", fmt.Errorf("payload type %T not id", v)
	}
}

// -----------------------------
// Decode Hooks
// -----------------------------

// floatToIntHook：把 float64 自动转为 int / int32 / int64。
func floatToIntHook() mapstructure.DecodeHookFunc {
	return func(from, to reflect.Kind, data any) (any, error) {
		if from != reflect.Float64 {
			return data, nil
		}
		switch to {
		case reflect.Int:
			return int(data.(float64)), nil
		case reflect.Int32:
			return int32(data.(float64)), nil
		case reflect.Int64:
			return int64(data.(float64)), nil
		}
		return data, nil
	}
}
