package page

import (
	"fmt"
	"strings"

	"github.com/spf13/afero"
)

// 占位符与 Record 字段的固定映射。
const (
	TokenID       = "%%1%%"
	TokenTitle    = "%%2%%"
	TokenYear     = "%%3%%"
	TokenDirector = "%%4%%"
	TokenGenre    = "%%5%%"
)

// Tokens 按字段顺序列出全部占位符。
var Tokens = []string{TokenID, TokenTitle, TokenYear, TokenDirector, TokenGenre}

// Template 是模板文件的原始文本，在一次 run 内只读。
type Template struct {
	Path string
	text string
}

// NewTemplate 用已有文本构造模板（不读文件）。
func NewTemplate(text string) Template {
	return Template{text: text}
}

func (t Template) Text() string { return t.text }

func (t Template) IsEmpty() bool { return t.text == "" }

// Placeholders 统计每个占位符在模板中出现的次数（未出现的也会给出 0）。
func (t Template) Placeholders() map[string]int {
	out := make(map[string]int, len(Tokens))
	for _, tok := range Tokens {
		out[tok] = strings.Count(t.text, tok)
	}
	return out
}

// HasPlaceholders 表示模板中至少有一个占位符。
func (t Template) HasPlaceholders() bool {
	for _, n := range t.Placeholders() {
		if n > 0 {
			return true
		}
	}
	return false
}

// TemplateError 表示模板文件无法读取。
type TemplateError struct {
	Path string
	Err  error
}

func (e *TemplateError) Error() string {
	return fmt.Sprintf("模板文件 %q 无法读取：%v", e.Path, e.Err)
}

func (e *TemplateError) Unwrap() error { return e.Err }

// LoadTemplate 一次性读入整个模板文件。
// 读取失败返回 *TemplateError 与空模板（Path 仍会填上，便于上层输出）。
func LoadTemplate(fs afero.Fs, path string) (Template, error) {
	b, err := afero.ReadFile(fs, path)
	if err != nil {
		return Template{Path: path}, &TemplateError{Path: path, Err: err}
	}
	return Template{Path: path, text: string(b)}, nil
}
