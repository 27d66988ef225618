package api

import (
	"encoding/json"
	"reflect"
	"strings"
	"sync"
)

var knownFieldCache sync.Map // reflect.Type -> map[string]struct{}

// forwardableExtra 允许原样转发的未建模字段，只含不携带文本的控制参数。
// 其余未识别字段可能把未经评估的文本带给模型，转发时丢弃。
var forwardableExtra = map[string]struct{}{
	"keep_alive":   {},
	"truncate":     {},
	"shift":        {},
	"dimensions":   {},
	"logprobs":     {},
	"top_logprobs": {},
}

// ForwardableExtra 报告未识别字段 key 是否会被转发给后端
func ForwardableExtra(key string) bool {
	_, ok := forwardableExtra[key]
	return ok
}

// knownFields 返回结构体的 JSON 字段名集合
func knownFields(t reflect.Type) map[string]struct{} {
	if v, ok := knownFieldCache.Load(t); ok {
		return v.(map[string]struct{})
	}
	fields := make(map[string]struct{}, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		tag := t.Field(i).Tag.Get("json")
		if tag == "" || tag == "-" {
			continue
		}
		name, _, _ := strings.Cut(tag, ",")
		fields[name] = struct{}{}
	}
	knownFieldCache.Store(t, fields)
	return fields
}

// unmarshalWithExtra 解码到 dst，并把未识别的字段放入 extra
func unmarshalWithExtra(data []byte, dst any, extra *map[string]json.RawMessage) error {
	if err := json.Unmarshal(data, dst); err != nil {
		return err
	}

	var all map[string]json.RawMessage
	if err := json.Unmarshal(data, &all); err != nil {
		return err
	}
	known := knownFields(reflect.TypeOf(dst).Elem())
	for k := range all {
		if _, ok := known[k]; ok {
			delete(all, k)
		}
	}
	if len(all) == 0 {
		*extra = nil
		return nil
	}
	*extra = all
	return nil
}

// marshalWithExtra 编码 v，并合并 extra 中可转发且不与已知字段冲突的键
func marshalWithExtra(v any, extra map[string]json.RawMessage) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil || !hasForwardable(extra) {
		return data, err
	}

	var merged map[string]json.RawMessage
	if err := json.Unmarshal(data, &merged); err != nil {
		return nil, err
	}
	known := knownFields(reflect.TypeOf(v))
	for k, raw := range extra {
		if _, ok := known[k]; ok || !ForwardableExtra(k) {
			continue
		}
		merged[k] = raw
	}
	return json.Marshal(merged)
}

func hasForwardable(extra map[string]json.RawMessage) bool {
	for k := range extra {
		if ForwardableExtra(k) {
			return true
		}
	}
	return false
}
