package parser

import (
	"errors"
	"io"
)

var (
	ErrNoHeader       = errors.New("CSV 没有表头")
	ErrMissingColumns = errors.New("CSV 缺少必填的 id/name 列")
)

// RecordStats 一次流式解析的计数
type RecordStats struct {
	Rows      int `json:"rows"`      // 表头之后的有效行
	Dropped   int `json:"dropped"`   // 缺少 id/name
	Malformed int `json:"malformed"` // 无法分词
}

// StreamRecords 流式解析 CSV，按 schema 绑定表头后逐条回调；
// 表头缺少必填列时在第一行数据前返回 ErrMissingColumns。
func StreamRecords(r io.Reader, schema Schema, bufSize int, fn func(Record) error) (RecordStats, error) {
	var (
		stats   RecordStats
		binding *Binding
	)
	stream, err := StreamCSV(r, bufSize, func(header, row []string) error {
		if binding == nil {
			binding = schema.Bind(header)
			if !binding.Valid() {
				return ErrMissingColumns
			}
		}
		rec, ok := binding.Record(row)
		if !ok {
			return nil
		}
		return fn(rec)
	})
	if stream != nil {
		cs := stream.Stats()
		stats.Rows, stats.Malformed = cs.Rows, cs.Malformed
		if binding == nil && err == nil {
			if stream.Header() == nil {
				return stats, ErrNoHeader
			}
			// 只有表头，仍需校验列
			if !schema.Bind(stream.Header()).Valid() {
				return stats, ErrMissingColumns
			}
		}
	}
	if binding != nil {
		stats.Dropped = binding.Dropped
	}
	return stats, err
}
