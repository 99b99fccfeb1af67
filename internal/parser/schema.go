package parser

import (
	"sort"
	"strings"
)

// Schema 一类记录的表头别名。ID/Name 为必填，Fields 为可选角色 → 候选列名（按优先级）
type Schema struct {
	IDAliases   []string
	NameAliases []string
	Fields      map[string][]string
}

// Record 绑定后的一行
type Record struct {
	ID     string            `json:"id"`
	Name   string            `json:"name"`
	Fields map[string]string `json:"fields,omitempty"`
	Extra  map[string]string `json:"extra,omitempty"` // 未绑定的列原样保留
}

func (r Record) Field(role string) string {
	return r.Fields[role]
}

// Binding 表头到角色的列下标映射
type Binding struct {
	header  []string
	idIdx   int
	nameIdx int
	fields  map[string]int
	bound   map[int]bool
	Dropped int // 因缺少 id/name 丢弃的行数
}

// 产品/分组/类目 CSV 与 JSON 的常见列名
var (
	ProductSchema = Schema{
		IDAliases:   []string{"productid", "id"},
		NameAliases: []string{"name", "productname", "cleanname"},
		Fields: map[string][]string{
			"cleanname":   {"cleanname"},
			"number":      {"number", "extnumber", "cardnumber", "collectornumber"},
			"rarity":      {"rarity", "extrarity"},
			"type":        {"type", "extcardtype", "cardtype", "producttype"},
			"slug":        {"slug", "url"},
			"imageurl":    {"imageurl", "image"},
			"marketprice": {"marketprice"},
			"lowprice":    {"lowprice"},
			"midprice":    {"midprice"},
			"highprice":   {"highprice"},
			"subtype":     {"subtypename", "subtype"},
		},
	}

	GroupSchema = Schema{
		IDAliases:   []string{"groupid", "id"},
		NameAliases: []string{"name", "groupname"},
		Fields: map[string][]string{
			"abbreviation": {"abbreviation", "code"},
			"releasedate":  {"publishedon", "releasedate"},
			"supplemental": {"issupplemental"},
			"sealed":       {"issealed", "sealedproduct"},
			"categoryid":   {"categoryid"},
		},
	}

	CategorySchema = Schema{
		IDAliases:   []string{"categoryid", "id"},
		NameAliases: []string{"name", "displayname"},
		Fields: map[string][]string{
			"displayname": {"displayname"},
			"seocategory": {"seocategoryname"},
			"modifiedon":  {"modifiedon", "updatedat"},
		},
	}
)

// canonicalHeader 小写并去掉空格/下划线/连字符，"Product ID" 与 "product_id" 视为同名
func canonicalHeader(h string) string {
	h = strings.ToLower(strings.TrimSpace(h))
	return strings.Map(func(r rune) rune {
		switch r {
		case ' ', '_', '-':
			return -1
		}
		return r
	}, h)
}

// Bind 先按别名精确匹配，再对较长的别名做子串匹配；一个列只绑定一个角色
func (s Schema) Bind(header []string) *Binding {
	canon := make([]string, len(header))
	for i, h := range header {
		canon[i] = canonicalHeader(h)
	}

	b := &Binding{header: header, fields: map[string]int{}, bound: map[int]bool{}}
	find := func(aliases []string) int {
		for _, a := range aliases {
			for i, c := range canon {
				if !b.bound[i] && c == a {
					return i
				}
			}
		}
		for _, a := range aliases {
			if len(a) < 4 {
				continue
			}
			for i, c := range canon {
				if !b.bound[i] && strings.Contains(c, a) {
					return i
				}
			}
		}
		return -1
	}

	b.idIdx = find(s.IDAliases)
	if b.idIdx >= 0 {
		b.bound[b.idIdx] = true
	}
	b.nameIdx = find(s.NameAliases)
	if b.nameIdx >= 0 {
		b.bound[b.nameIdx] = true
	}

	roles := make([]string, 0, len(s.Fields))
	for role := range s.Fields {
		roles = append(roles, role)
	}
	sort.Strings(roles)
	for _, role := range roles {
		if idx := find(s.Fields[role]); idx >= 0 {
			b.fields[role] = idx
			b.bound[idx] = true
		}
	}
	return b
}

// Valid 必填的 id/name 两列都找到了
func (b *Binding) Valid() bool {
	return b.idIdx >= 0 && b.nameIdx >= 0
}

func (b *Binding) Has(role string) bool {
	_, ok := b.fields[role]
	return ok
}

// Record 将一行转为 Record；缺少 id 或 name 的行丢弃并计数
func (b *Binding) Record(row []string) (Record, bool) {
	id := cell(row, b.idIdx)
	name := cell(row, b.nameIdx)
	if id == "" || name == "" {
		b.Dropped++
		return Record{}, false
	}

	rec := Record{ID: id, Name: name, Fields: make(map[string]string, len(b.fields))}
	for role, idx := range b.fields {
		if v := cell(row, idx); v != "" {
			rec.Fields[role] = v
		}
	}
	for i, h := range b.header {
		if b.bound[i] || i == b.idIdx || i == b.nameIdx {
			continue
		}
		if v := cell(row, i); v != "" {
			if rec.Extra == nil {
				rec.Extra = map[string]string{}
			}
			rec.Extra[h] = v
		}
	}
	return rec, true
}

func cell(row []string, idx int) string {
	if idx < 0 || idx >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[idx])
}
