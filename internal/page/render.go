package page

import (
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/John-Robertt/moviepages/internal/domain"
)

// Render 把 rec 的字段替换进模板，返回新文档。
//
// 替换是字面量的：不做转义、不是正则。按 %%1%% → %%5%% 的顺序逐个占位符替换，
// 每一步都作用于上一步的结果：先插入的字段值会被后面的占位符再扫描一次
// （标题里的 "%%3%%" 会变成年份），但不会被它前面的占位符扫描（"%%1%%" 原样保留）。
// 未知的 "%%N%%" 原样保留。
func Render(t Template, rec domain.Record) string {
	out := t.text
	for _, kv := range [...][2]string{
		{TokenID, strconv.Itoa(rec.ID)},
		{TokenTitle, rec.Title},
		{TokenYear, strconv.Itoa(rec.Year)},
		{TokenDirector, rec.Director},
		{TokenGenre, rec.Genre},
	} {
		out = strings.ReplaceAll(out, kv[0], kv[1])
	}
	return out
}

// Title 返回文档中第一个 <title> 的文本（去首尾空白）。
// 文档不是 HTML 或没有 <title> 时返回空串。
func Title(doc string) string {
	d, err := goquery.NewDocumentFromReader(strings.NewReader(doc))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(d.Find("title").First().Text())
}
