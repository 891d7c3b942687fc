package naming

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/John-Robertt/moviepages/internal/domain"
)

const (
	// PolicyColon 只把 ':' 替换为 '_'（与既有产物的文件名保持一致）。
	PolicyColon = "colon"
	// PolicyPortable 替换所有常见平台上不能出现在文件名里的字符。
	PolicyPortable = "portable"
)

const Ext = ".html"

// Presets 返回预置策略的替换表（每次返回新 map，调用方可修改）。
func Presets(name string) (map[string]string, error) {
	switch name {
	case "", PolicyColon:
		return map[string]string{":": "_"}, nil
	case PolicyPortable:
		m := make(map[string]string, 9)
		for _, c := range []string{"/", "\\", ":", "*", "?", "\"", "<", ">", "|"} {
			m[c] = "_"
		}
		return m, nil
	default:
		return nil, fmt.Errorf("未知的文件名策略：%q", name)
	}
}

// Policy 把标题映射为安全的文件名片段。零值不做任何替换。
type Policy struct {
	pairs []string
	r     *strings.Replacer
}

// NewPolicy 由替换表构造 Policy。
// 替换在一次扫描内完成；key 越长越优先，同长度按字典序，保证结果确定。
func NewPolicy(replace map[string]string) Policy {
	keys := make([]string, 0, len(replace))
	for k := range replace {
		if k == "" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if len(keys[i]) != len(keys[j]) {
			return len(keys[i]) > len(keys[j])
		}
		return keys[i] < keys[j]
	})

	pairs := make([]string, 0, 2*len(keys))
	for _, k := range keys {
		pairs = append(pairs, k, replace[k])
	}
	return Policy{pairs: pairs, r: strings.NewReplacer(pairs...)}
}

// Default 是 PolicyColon。
func Default() Policy {
	m, _ := Presets(PolicyColon)
	return NewPolicy(m)
}

func (p Policy) Sanitize(s string) string {
	if p.r == nil {
		return s
	}
	return p.r.Replace(s)
}

// FileName 返回 "<title> - <id>.html"，title 已按策略替换。
func (p Policy) FileName(rec domain.Record) string {
	return p.Sanitize(rec.Title) + " - " + strconv.Itoa(rec.ID) + Ext
}
