package domain

import (
	"encoding/json"
	"sort"
	"time"
)

const (
	StatusWritten     = "written"
	StatusWriteFailed = "write_failed"
	StatusMalformed   = "malformed"
)

const (
	ErrCodeMalformedLine      = "malformed_line"
	ErrCodeFieldParseFailed   = "field_parse_failed"
	ErrCodeInputUnreadable    = "input_unreadable"
	ErrCodeTemplateUnreadable = "template_unreadable"
	ErrCodeOutputDirFailed    = "output_dir_failed"
	ErrCodeCleanPartial       = "clean_partial"
	ErrCodeWriteFailed        = "write_failed"
	ErrCodeUnsafeName         = "unsafe_name"
	ErrCodeTargetConflict     = "target_conflict"
)

// RunReport 是对外稳定输出（--report 文件 / stdout JSON）的结构。
type RunReport struct {
	InputPath    string `json:"input_path"`
	TemplatePath string `json:"template_path"`
	OutputDir    string `json:"output_dir"`

	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`

	// Aborted 表示 run 被字段解析错误终止（on_bad_number=abort）。
	Aborted bool `json:"aborted"`

	Summary ReportSummary `json:"summary"`
	Items   []ItemResult  `json:"items"`
	Notices []Notice      `json:"notices"`
}

// ReportSummary 中 Accepted 是被解析器接受的记录数（= Written + WriteFailed）。
type ReportSummary struct {
	Accepted    int `json:"accepted"`
	Malformed   int `json:"malformed"`
	Written     int `json:"written"`
	WriteFailed int `json:"write_failed"`
}

type ItemResult struct {
	Line  int    `json:"line"`
	ID    int    `json:"id"`
	Title string `json:"title"`
	Raw   string `json:"raw,omitempty"`

	File      string `json:"file"`
	PageTitle string `json:"page_title"`

	Status    string `json:"status"`
	ErrorCode string `json:"error_code"`
	ErrorMsg  string `json:"error_msg"`
}

// Notice 是 run 级别被“降级”处理的失败（不对应某一行输入）。
type Notice struct {
	Code string `json:"code"`
	Msg  string `json:"msg"`
}

// Finalize 做三件事：
// 1) 时间统一为 UTC
// 2) items 按输入行号稳定排序
// 3) summary 由 items 计算得出
func (r *RunReport) Finalize() {
	r.StartedAt = r.StartedAt.UTC()
	r.FinishedAt = r.FinishedAt.UTC()

	sort.SliceStable(r.Items, func(i, j int) bool {
		return r.Items[i].Line < r.Items[j].Line
	})

	var s ReportSummary
	for _, it := range r.Items {
		switch it.Status {
		case StatusWritten:
			s.Accepted++
			s.Written++
		case StatusWriteFailed:
			s.Accepted++
			s.WriteFailed++
		case StatusMalformed:
			s.Malformed++
		}
	}
	r.Summary = s

	if r.Items == nil {
		r.Items = []ItemResult{}
	}
	if r.Notices == nil {
		r.Notices = []Notice{}
	}
}

// OK 表示本次 run 没有终止、也没有写入失败。
// malformed 行不影响结果（按约定只记录并跳过）。
func (r RunReport) OK() bool {
	return !r.Aborted && r.Summary.WriteFailed == 0
}

// MarshalJSON 仅用于集中约束输出的稳定性（避免未来不小心引入非确定字段）。
func (r RunReport) MarshalJSON() ([]byte, error) {
	type Alias RunReport
	return json.Marshal(Alias(r))
}
