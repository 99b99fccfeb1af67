// Package parser 上游响应体解析：分块流式 CSV、表头别名绑定、JSON 信封提取与诊断。
package parser

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
)

const bom = "\ufeff"

// CSVStats 解析统计
type CSVStats struct {
	Rows      int `json:"rows"`      // 数据行（不含表头）
	Malformed int `json:"malformed"` // 无法解析的行
}

// 记录边界扫描状态，与 encoding/csv 的 LazyQuotes 规则一致：
// 只有字段开头的引号才开启引号字段，字段中间的裸引号按普通字符处理。
type scanState uint8

const (
	stFieldStart scanState = iota // 行首或逗号之后
	stUnquoted                    // 非引号字段内
	stQuoted                      // 引号字段内
	stQuoteSeen                   // 引号字段内遇到引号：转义、结束或裸引号待定
)

// CSVStream 增量 CSV 解析：任意切分的字节块依次喂入，跨块的半行暂存到下一块；
// 引号内的换行不结束记录。首条记录作为表头（去 BOM、小写、去空白）。
type CSVStream struct {
	pending []byte    // 尚未结束的记录
	scanned int       // pending 中已扫描过的字节数
	state   scanState // 扫描到 scanned 处的状态
	header  []string
	stats   CSVStats
}

func NewCSVStream() *CSVStream {
	return &CSVStream{}
}

// ParseChunk 喂入一个数据块，返回本块内完整结束的数据行
func (s *CSVStream) ParseChunk(chunk []byte) [][]string {
	s.pending = append(s.pending, chunk...)

	var rows [][]string
	start := 0
	for i := s.scanned; i < len(s.pending); i++ {
		c := s.pending[i]
		// 流开头的 BOM 不算字段内容，否则带引号的首列会被当成裸引号
		if s.header == nil && s.state == stFieldStart && i-start < len(bom) && c == bom[i-start] {
			continue
		}
		if s.advance(c) {
			rows = append(rows, s.parseRecord(s.pending[start:i])...)
			start = i + 1
		}
	}

	rest := len(s.pending) - start
	copy(s.pending, s.pending[start:])
	s.pending = s.pending[:rest]
	s.scanned = rest
	return rows
}

// Finalize 处理末尾没有换行的最后一条记录
func (s *CSVStream) Finalize() [][]string {
	if len(s.pending) == 0 {
		return nil
	}
	line := s.pending
	s.pending, s.scanned, s.state = nil, 0, stFieldStart
	return s.parseRecord(line)
}

// advance 推进扫描状态，返回 true 表示 c 是记录结束的换行
func (s *CSVStream) advance(c byte) bool {
	switch s.state {
	case stQuoted:
		if c == '"' {
			s.state = stQuoteSeen
		}
		return false
	case stQuoteSeen:
		switch c {
		case '"': // 转义的双引号
			s.state = stQuoted
		case ',':
			s.state = stFieldStart
		case '\n':
			s.state = stFieldStart
			return true
		case '\r': // CRLF 行尾，等后面的 \n
		default: // 引号字段内的裸引号，字段继续
			s.state = stQuoted
		}
		return false
	}

	// stFieldStart / stUnquoted
	switch c {
	case '\n':
		s.state = stFieldStart
		return true
	case ',':
		s.state = stFieldStart
	case '"':
		if s.state == stFieldStart {
			s.state = stQuoted
		}
	default:
		s.state = stUnquoted
	}
	return false
}

func (s *CSVStream) Header() []string { return s.header }

func (s *CSVStream) Stats() CSVStats { return s.stats }

// parseRecord 解析一条完整记录；reader 读到 EOF 为止，
// 万一边界扫描与 encoding/csv 不一致，多出的记录照常返回，出错的计入 Malformed
func (s *CSVStream) parseRecord(line []byte) [][]string {
	line = bytes.TrimSuffix(line, []byte("\r"))
	if s.header == nil {
		line = bytes.TrimPrefix(line, []byte(bom))
	}
	if len(bytes.TrimSpace(line)) == 0 {
		return nil
	}

	r := csv.NewReader(bytes.NewReader(line))
	r.LazyQuotes = true
	r.FieldsPerRecord = -1

	var rows [][]string
	for {
		fields, err := r.Read()
		if errors.Is(err, io.EOF) {
			return rows
		}
		if err != nil {
			s.stats.Malformed++
			var perr *csv.ParseError
			if !errors.As(err, &perr) {
				return rows
			}
			continue
		}

		if s.header == nil {
			for i, f := range fields {
				fields[i] = strings.ToLower(strings.Trim(strings.TrimSpace(f), `"`))
			}
			s.header = fields
			continue
		}
		s.stats.Rows++
		rows = append(rows, fields)
	}
}

// StreamCSV 以 bufSize 为块从 r 读取并逐行回调；fn 返回错误即中止
func StreamCSV(r io.Reader, bufSize int, fn func(header, row []string) error) (*CSVStream, error) {
	if bufSize <= 0 {
		bufSize = 32 << 10
	}
	s := NewCSVStream()
	buf := make([]byte, bufSize)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			for _, row := range s.ParseChunk(buf[:n]) {
				if cbErr := fn(s.header, row); cbErr != nil {
					return s, cbErr
				}
			}
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return s, fmt.Errorf("读取CSV流失败: %w", err)
		}
	}
	for _, row := range s.Finalize() {
		if err := fn(s.header, row); err != nil {
			return s, err
		}
	}
	return s, nil
}
