package run

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/John-Robertt/moviepages/internal/config"
	"github.com/John-Robertt/moviepages/internal/domain"
	"github.com/John-Robertt/moviepages/internal/infra/fsx"
	"github.com/John-Robertt/moviepages/internal/infra/logx"
	"github.com/John-Robertt/moviepages/internal/naming"
	"github.com/John-Robertt/moviepages/internal/page"
	"github.com/John-Robertt/moviepages/internal/records"
)

// Execute 执行一次 run，并返回对外稳定的 RunReport。
//
// 顺序固定：解析输入 → 读模板 → 清理输出目录 → 逐条渲染并写入。
// 除字段解析错误（on_bad_number=abort）外，所有失败都被“降级”为报告里的条目或 notice，
// 单条失败不影响其他条目。返回的 error 只在 run 被终止时非 nil（此时输出目录未被触碰）。
func Execute(fs afero.Fs, eff config.EffectiveConfig, log *zap.Logger) (domain.RunReport, error) {
	return ExecuteWithObserver(fs, eff, log, nil)
}

// ExecuteWithObserver 与 Execute 相同，但允许传入 Observer 以输出进度/阶段信息。
func ExecuteWithObserver(fs afero.Fs, eff config.EffectiveConfig, log *zap.Logger, obs Observer) (domain.RunReport, error) {
	log = logx.OrNop(log)
	started := time.Now().UTC()

	if obs != nil {
		obs.OnStart(eff)
	}

	rr := domain.RunReport{
		InputPath:    eff.InputPath,
		TemplatePath: eff.TemplatePath,
		OutputDir:    eff.OutputDir,
		StartedAt:    started,
		Items:        make([]domain.ItemResult, 0, 64),
	}
	finish := func() {
		rr.FinishedAt = time.Now().UTC()
		rr.Finalize()
	}

	// 1) 解析输入
	parseStarted := time.Now()
	res, err := records.ReadFile(fs, eff.InputPath, records.Options{
		OnBadNumber: eff.NumberPolicy(),
		Logger:      log,
	})
	if err != nil {
		var fe *records.FieldError
		var ie *records.InputError
		switch {
		case errors.As(err, &fe):
			rr.Aborted = true
			rr.Items = append(rr.Items, fieldErrorItem(fe))
			finish()
			return rr, err
		case errors.As(err, &ie):
			// 读取中途失败时保留已解析的记录
			log.Error("无法读取输入文件，按已读取的记录继续", zap.String("path", ie.Path), zap.Int("accepted", len(res.Accepted)), zap.Error(ie.Err))
			rr.Notices = append(rr.Notices, domain.Notice{Code: domain.ErrCodeInputUnreadable, Msg: ie.Error()})
		default:
			// ReadFile 只返回上面两类错误；兜底按不可读处理。
			rr.Notices = append(rr.Notices, domain.Notice{Code: domain.ErrCodeInputUnreadable, Msg: err.Error()})
			res = records.Result{}
		}
	}
	for _, rej := range res.Rejected {
		rr.Items = append(rr.Items, rejectedItem(rej))
	}
	if obs != nil {
		obs.OnPhaseDone("parse", map[string]any{
			"accepted":  len(res.Accepted),
			"malformed": len(res.Rejected),
		}, time.Since(parseStarted))
	}

	// 2) 读模板
	tplStarted := time.Now()
	tpl, err := page.LoadTemplate(fs, eff.TemplatePath)
	if err != nil {
		log.Error("模板无法读取，按空模板继续", zap.String("path", eff.TemplatePath), zap.Error(err))
		rr.Notices = append(rr.Notices, domain.Notice{Code: domain.ErrCodeTemplateUnreadable, Msg: err.Error()})
	} else if !tpl.HasPlaceholders() {
		log.Warn("模板中没有任何占位符", zap.String("path", eff.TemplatePath))
	}
	if obs != nil {
		obs.OnPhaseDone("template", map[string]any{
			"bytes":        len(tpl.Text()),
			"placeholders": countPlaceholders(tpl),
		}, time.Since(tplStarted))
	}

	// 3) 清理输出目录（不可逆：上一次 run 的文件被无条件删除）
	cleanStarted := time.Now()
	prep, err := fsx.PrepareDir(fs, eff.OutputDir, eff.CleanRecursive)
	if err != nil {
		// 与写入阶段一致：目录不可用时不终止，后续每条写入各自失败。
		log.Error("输出目录不可用", zap.String("dir", eff.OutputDir), zap.Error(err))
		rr.Notices = append(rr.Notices, domain.Notice{Code: domain.ErrCodeOutputDirFailed, Msg: err.Error()})
	}
	for _, f := range prep.Failed {
		log.Warn("清理输出目录时删除失败", zap.String("path", f.Path), zap.Error(f.Err))
		rr.Notices = append(rr.Notices, domain.Notice{Code: domain.ErrCodeCleanPartial, Msg: f.Error()})
	}
	if obs != nil {
		obs.OnPhaseDone("clean", map[string]any{
			"created": prep.Created,
			"removed": len(prep.Removed),
			"kept":    len(prep.Kept),
		}, time.Since(cleanStarted))
	}

	// 4) 逐条渲染并写入（输入顺序，不重试）
	writeStarted := time.Now()
	policy := eff.NamingPolicy()
	total := len(res.Accepted)
	for i, line := range res.Accepted {
		oneStarted := time.Now()
		it := writeOne(fs, eff.OutputDir, policy, tpl, line, log)
		rr.Items = append(rr.Items, it)
		if obs != nil {
			obs.OnItemDone(i+1, total, it, time.Since(oneStarted))
		}
	}
	if obs != nil {
		var failed int
		for _, it := range rr.Items {
			if it.Status == domain.StatusWriteFailed {
				failed++
			}
		}
		obs.OnPhaseDone("write", map[string]any{
			"written": total - failed,
			"failed":  failed,
		}, time.Since(writeStarted))
	}

	finish()
	return rr, nil
}

func writeOne(fs afero.Fs, dir string, policy naming.Policy, tpl page.Template, line records.Line, log *zap.Logger) domain.ItemResult {
	rec := line.Record
	doc := page.Render(tpl, rec)
	name := policy.FileName(rec)

	it := domain.ItemResult{
		Line:      line.No,
		ID:        rec.ID,
		Title:     rec.Title,
		File:      name,
		PageTitle: page.Title(doc),
		Status:    domain.StatusWritten,
	}

	log.Info("保存文件", zap.String("file", name))
	if err := fsx.WriteFileAtomicReplace(fs, dir, name, []byte(doc)); err != nil {
		it.Status = domain.StatusWriteFailed
		switch {
		case fsx.IsUnsafeName(err):
			it.ErrorCode = domain.ErrCodeUnsafeName
		case fsx.IsPathTypeConflict(err):
			it.ErrorCode = domain.ErrCodeTargetConflict
		default:
			it.ErrorCode = domain.ErrCodeWriteFailed
		}
		it.ErrorMsg = err.Error()
		log.Error("无法保存 HTML 文件", zap.String("title", rec.Title), zap.Int("line", line.No), zap.Error(err))
	}
	return it
}

func rejectedItem(err error) domain.ItemResult {
	var me *records.MalformedLineError
	var fe *records.FieldError
	switch {
	case errors.As(err, &me):
		return domain.ItemResult{
			Line:      me.Line,
			Raw:       me.Raw,
			Status:    domain.StatusMalformed,
			ErrorCode: domain.ErrCodeMalformedLine,
			ErrorMsg:  me.Error(),
		}
	case errors.As(err, &fe):
		return fieldErrorItem(fe)
	default:
		return domain.ItemResult{
			Status:    domain.StatusMalformed,
			ErrorCode: domain.ErrCodeMalformedLine,
			ErrorMsg:  err.Error(),
		}
	}
}

func fieldErrorItem(fe *records.FieldError) domain.ItemResult {
	return domain.ItemResult{
		Line:      fe.Line,
		Raw:       fe.Raw,
		Status:    domain.StatusMalformed,
		ErrorCode: domain.ErrCodeFieldParseFailed,
		ErrorMsg:  fe.Error(),
	}
}

func countPlaceholders(tpl page.Template) int {
	n := 0
	for _, c := range tpl.Placeholders() {
		n += c
	}
	return n
}

// Summary 返回一行人类可读的摘要（CLI 与测试共用）。
func Summary(rr domain.RunReport) string {
	s := rr.Summary
	return fmt.Sprintf("完成：accepted=%d malformed=%d written=%d write_failed=%d",
		s.Accepted, s.Malformed, s.Written, s.WriteFailed,
	)
}
