package main

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/fatih/color"

	"github.com/John-Robertt/moviepages/internal/app/run"
	"github.com/John-Robertt/moviepages/internal/config"
	"github.com/John-Robertt/moviepages/internal/domain"
)

var _ run.Observer = (*progressUI)(nil)

// progressUI 是交互终端下的进度输出。
//
// 所有过程信息写到 stderr（或 fallback 到 stdout），不污染 stdout 的 JSON 输出契约。
// run 是同步执行的，事件按顺序到达，因此这里不需要锁。
type progressUI struct {
	w io.Writer

	startedAt time.Time
	ok        int
	fail      int

	okColor   *color.Color
	failColor *color.Color
	dimColor  *color.Color
}

func newProgressUI(w io.Writer) *progressUI {
	return &progressUI{
		w:         w,
		okColor:   color.New(color.FgGreen),
		failColor: color.New(color.FgRed, color.Bold),
		dimColor:  color.New(color.Faint),
	}
}

func (p *progressUI) OnStart(eff config.EffectiveConfig) {
	p.startedAt = time.Now()

	fmt.Fprintf(p.w, "[%s] moviepages run\n", p.startedAt.Format("15:04:05"))
	fmt.Fprintln(p.w, "配置（生效）:")
	if eff.ConfigPath != "" {
		fmt.Fprintf(p.w, "  config: %s\n", eff.ConfigPath)
	}
	fmt.Fprintf(p.w, "  input: %s\n", eff.InputPath)
	fmt.Fprintf(p.w, "  template: %s\n", eff.TemplatePath)
	fmt.Fprintf(p.w, "  out: %s\n", eff.OutputDir)
	fmt.Fprintf(p.w, "  on_bad_number: %s\n", eff.OnBadNumber)
	fmt.Fprintf(p.w, "  clean_recursive: %s\n", onOff(eff.CleanRecursive))
	fmt.Fprintf(p.w, "  filename_policy: %s%s\n", eff.FilenamePolicy, formatReplace(eff.FilenameReplace))
	fmt.Fprintln(p.w)
}

func (p *progressUI) OnPhaseDone(name string, fields map[string]any, dur time.Duration) {
	switch name {
	case "parse":
		fmt.Fprintf(p.w, "解析: accepted=%d malformed=%d (%s)\n",
			intField(fields, "accepted"), intField(fields, "malformed"), formatShortDuration(dur),
		)
	case "template":
		fmt.Fprintf(p.w, "模板: bytes=%d placeholders=%d (%s)\n",
			intField(fields, "bytes"), intField(fields, "placeholders"), formatShortDuration(dur),
		)
	case "clean":
		created := ""
		if b, _ := fields["created"].(bool); b {
			created = " created"
		}
		fmt.Fprintf(p.w, "清理: removed=%d kept_dirs=%d%s (%s)\n\n",
			intField(fields, "removed"), intField(fields, "kept"), created, formatShortDuration(dur),
		)
	case "write":
		fmt.Fprintf(p.w, "\n写入: written=%d failed=%d elapsed=%s\n",
			intField(fields, "written"), intField(fields, "failed"), formatElapsed(time.Since(p.startedAt)),
		)
	default:
		// 兜底：未知阶段也不要静默（便于调试/演进）。
		fmt.Fprintf(p.w, "%s (%s)\n", name, formatShortDuration(dur))
	}
}

func (p *progressUI) OnItemDone(idx, total int, res domain.ItemResult, dur time.Duration) {
	switch res.Status {
	case domain.StatusWritten:
		p.ok++
		title := ""
		if res.PageTitle != "" {
			title = " " + p.dimColor.Sprintf("<%s>", truncate(res.PageTitle, 60))
		}
		fmt.Fprintf(p.w, "[%d/%d] %s %s%s (%s)\n",
			idx, total, p.okColor.Sprint("OK"), res.File, title, formatShortDuration(dur),
		)
	default:
		p.fail++
		fmt.Fprintf(p.w, "[%d/%d] %s %s %s: %s (%s)\n",
			idx, total, p.failColor.Sprint("FAIL"), res.File, res.ErrorCode, truncate(res.ErrorMsg, 160), formatShortDuration(dur),
		)
	}
}

func onOff(v bool) string {
	if v {
		return "on"
	}
	return "off"
}

// formatReplace 以稳定顺序展示额外的文件名替换表。
func formatReplace(m map[string]string) string {
	if len(m) == 0 {
		return ""
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%q=>%q", k, m[k]))
	}
	return " + {" + strings.Join(parts, ", ") + "}"
}

// truncate 按 rune 截断，避免把多字节字符切成半个。
func truncate(s string, max int) string {
	s = strings.TrimSpace(s)
	r := []rune(s)
	if max <= 0 || len(r) <= max {
		return s
	}
	if max <= 3 {
		return string(r[:max])
	}
	return string(r[:max-3]) + "..."
}

func formatShortDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	return fmt.Sprintf("%.1fs", d.Seconds())
}

func formatElapsed(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	sec := int(d.Seconds())
	h := sec / 3600
	m := (sec % 3600) / 60
	s := sec % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}

func intField(fields map[string]any, key string) int {
	if fields == nil {
		return 0
	}
	switch x := fields[key].(type) {
	case int:
		return x
	case int64:
		return int(x)
	default:
		return 0
	}
}
