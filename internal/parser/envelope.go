package parser

import (
	"bytes"
	"fmt"
	"sort"
	"strconv"

	json "github.com/goccy/go-json"
)

// 无法解析时的响应体诊断
const (
	DiagHTMLBody       = "HTML_BODY"
	DiagEmptyBody      = "EMPTY_BODY"
	DiagCSVBody        = "CSV_BODY"
	DiagUnknownNonJSON = "UNKNOWN_NON_JSON"
	DiagUnknownShape   = "UNKNOWN_SHAPE"
)

// PayloadError 响应体不是可识别的记录列表
type PayloadError struct {
	Diagnostic string
	Detail     string
}

func (e *PayloadError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("无法解析的响应体: %s", e.Diagnostic)
	}
	return fmt.Sprintf("无法解析的响应体: %s (%s)", e.Diagnostic, e.Detail)
}

// extractor 从解码后的 JSON 中取出记录数组
type extractor func(v any) ([]any, bool)

func fieldExtractor(key string) extractor {
	return func(v any) ([]any, bool) {
		m, ok := v.(map[string]any)
		if !ok {
			return nil, false
		}
		switch inner := m[key].(type) {
		case []any:
			return inner, true
		case map[string]any:
			// {"data": {"results": [...]}}
			if arr, ok := inner["results"].([]any); ok {
				return arr, true
			}
		}
		return nil, false
	}
}

func bareArray(v any) ([]any, bool) {
	arr, ok := v.([]any)
	return arr, ok
}

// DecodeEnvelope 依次尝试 results、data、调用方给出的字段名、裸数组，返回第一个命中的对象列表。
// 数字保持 json.Number，避免大整数 ID 丢精度。
func DecodeEnvelope(raw []byte, named ...string) ([]map[string]any, error) {
	body := bytes.TrimSpace(bytes.TrimPrefix(raw, []byte(bom)))
	if diag := Sniff(body); diag != "" {
		return nil, &PayloadError{Diagnostic: diag}
	}

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, &PayloadError{Diagnostic: DiagUnknownNonJSON, Detail: err.Error()}
	}

	extractors := []extractor{fieldExtractor("results"), fieldExtractor("data")}
	for _, key := range named {
		extractors = append(extractors, fieldExtractor(key))
	}
	extractors = append(extractors, bareArray)

	// 第一个非空的命中；只命中过空数组视为合法的空结果
	matched := false
	for _, extract := range extractors {
		arr, ok := extract(v)
		if !ok {
			continue
		}
		matched = true
		objs := make([]map[string]any, 0, len(arr))
		for _, item := range arr {
			if obj, ok := item.(map[string]any); ok {
				objs = append(objs, obj)
			}
		}
		if len(objs) > 0 {
			return objs, nil
		}
	}
	if matched {
		return []map[string]any{}, nil
	}
	return nil, &PayloadError{Diagnostic: DiagUnknownShape}
}

// Sniff 判断非 JSON 响应体的类型；是 JSON 开头时返回空串
func Sniff(body []byte) string {
	body = bytes.TrimSpace(bytes.TrimPrefix(body, []byte(bom)))
	if len(body) == 0 {
		return DiagEmptyBody
	}
	switch body[0] {
	case '{', '[':
		return ""
	case '<':
		return DiagHTMLBody
	}
	firstLine := body
	if i := bytes.IndexByte(body, '\n'); i >= 0 {
		firstLine = body[:i]
	}
	if bytes.IndexByte(firstLine, ',') >= 0 {
		return DiagCSVBody
	}
	return DiagUnknownNonJSON
}

// LooksLikeHTML CSV 端点有时返回 200 + HTML 错误页
func LooksLikeHTML(prefix []byte) bool {
	p := bytes.TrimSpace(bytes.TrimPrefix(prefix, []byte(bom)))
	return len(p) > 0 && p[0] == '<'
}

// RowsFromObjects 把 JSON 对象列表转成表头 + 行，便于复用 Schema 绑定。
// 表头为所有键的并集（排序），嵌套值序列化为 JSON 字符串。
func RowsFromObjects(objs []map[string]any) ([]string, [][]string) {
	keySet := map[string]struct{}{}
	for _, o := range objs {
		for k := range o {
			keySet[k] = struct{}{}
		}
	}
	header := make([]string, 0, len(keySet))
	for k := range keySet {
		header = append(header, k)
	}
	sort.Strings(header)

	rows := make([][]string, 0, len(objs))
	for _, o := range objs {
		row := make([]string, len(header))
		for i, k := range header {
			row[i] = stringify(o[k])
		}
		rows = append(rows, row)
	}
	return header, rows
}

// BindObjects 直接把 JSON 对象按 schema 转成 Record，返回记录与丢弃数
func BindObjects(s Schema, objs []map[string]any) ([]Record, int) {
	header, rows := RowsFromObjects(objs)
	b := s.Bind(header)
	records := make([]Record, 0, len(rows))
	for _, row := range rows {
		if rec, ok := b.Record(row); ok {
			records = append(records, rec)
		}
	}
	return records, b.Dropped
}

func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case json.Number:
		return t.String()
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(b)
	}
}
