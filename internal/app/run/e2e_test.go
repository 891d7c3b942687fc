package run

import (
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/spf13/afero"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/John-Robertt/moviepages/internal/config"
	"github.com/John-Robertt/moviepages/internal/domain"
	"github.com/John-Robertt/moviepages/internal/records"
)

const testTemplate = `<html><head><title>%%2%% (%%3%%)</title></head><body>%%1%%|%%2%%|%%3%%|%%4%%|%%5%%</body></html>`

type fixture struct {
	root string
	eff  config.EffectiveConfig
}

func newFixture(t *testing.T, csv string) fixture {
	t.Helper()
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "peliculas.csv"), csv)
	writeFile(t, filepath.Join(root, "template.html"), testTemplate)
	return fixture{
		root: root,
		eff: config.EffectiveConfig{
			InputPath:      filepath.Join(root, "peliculas.csv"),
			TemplatePath:   filepath.Join(root, "template.html"),
			OutputDir:      filepath.Join(root, "salida"),
			OnBadNumber:    config.DefaultOnBadNumber,
			FilenamePolicy: config.DefaultFilenamePolicy,
		},
	}
}

func TestExecute_EndToEnd_OneFileOneDiagnostic(t *testing.T) {
	fx := newFixture(t, "1,Matrix,1999,Wachowski,Action\n2,BadLine,Drama\n")

	core, logs := observer.New(zapcore.InfoLevel)
	rr, err := Execute(afero.NewOsFs(), fx.eff, zap.New(core))
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}

	if got := listDir(t, fx.eff.OutputDir); !cmp.Equal(got, []string{"Matrix - 1.html"}) {
		t.Fatalf("输出文件不符合预期：%v", got)
	}
	b, err := os.ReadFile(filepath.Join(fx.eff.OutputDir, "Matrix - 1.html"))
	if err != nil {
		t.Fatalf("读取输出失败：%v", err)
	}
	if !strings.Contains(string(b), "1|Matrix|1999|Wachowski|Action") {
		t.Fatalf("渲染内容不正确：%s", string(b))
	}

	if n := logs.FilterMessage("行格式无效").Len(); n != 1 {
		t.Fatalf("期望 1 条无效行诊断，实际 %d", n)
	}
	if n := logs.FilterMessage("保存文件").Len(); n != 1 {
		t.Fatalf("期望 1 条保存诊断，实际 %d", n)
	}

	want := domain.ReportSummary{Accepted: 1, Malformed: 1, Written: 1}
	if diff := cmp.Diff(want, rr.Summary); diff != "" {
		t.Fatalf("summary 不正确 (-want +got):\n%s", diff)
	}
	if rr.Items[0].PageTitle != "Matrix (1999)" || rr.Items[1].Raw != "2,BadLine,Drama" {
		t.Fatalf("items 不符合预期：%+v", rr.Items)
	}
	if !rr.OK() {
		t.Fatalf("期望 OK：%+v", rr)
	}
}

func TestExecute_TwiceCleansStaleFilesKeepsSubdir(t *testing.T) {
	fx := newFixture(t, "1,Matrix,1999,Wachowski,Action\n2,Alien,1979,Ridley Scott,Horror\n")
	fs := afero.NewOsFs()

	if _, err := Execute(fs, fx.eff, nil); err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if err := os.MkdirAll(filepath.Join(fx.eff.OutputDir, "assets"), 0o755); err != nil {
		t.Fatalf("创建目录失败：%v", err)
	}
	writeFile(t, filepath.Join(fx.eff.OutputDir, "assets", "style.css"), "body{}")

	writeFile(t, fx.eff.InputPath, "3,Se7en: The Director's Cut,1995,David Fincher,Thriller\n")
	if _, err := Execute(fs, fx.eff, nil); err != nil {
		t.Fatalf("不期望错误：%v", err)
	}

	want := []string{"Se7en_ The Director's Cut - 3.html", "assets"}
	if got := listDir(t, fx.eff.OutputDir); !cmp.Equal(got, want) {
		t.Fatalf("第二次 run 后目录内容不正确：%v", got)
	}
	if _, err := os.Stat(filepath.Join(fx.eff.OutputDir, "assets", "style.css")); err != nil {
		t.Fatalf("子目录内容不应被清理：%v", err)
	}
}

func TestExecute_CleanRecursiveRemovesSubdirs(t *testing.T) {
	fx := newFixture(t, "1,Matrix,1999,Wachowski,Action\n")
	fx.eff.CleanRecursive = true
	writeFile(t, filepath.Join(fx.eff.OutputDir, "old", "x.html"), "x")

	if _, err := Execute(afero.NewOsFs(), fx.eff, nil); err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if got := listDir(t, fx.eff.OutputDir); !cmp.Equal(got, []string{"Matrix - 1.html"}) {
		t.Fatalf("recursive 清理后目录内容不正确：%v", got)
	}
}

func TestExecute_BadNumberAbortsBeforeCleaning(t *testing.T) {
	fx := newFixture(t, "1,Matrix,1999,Wachowski,Action\nx,Bad,1999,Someone,Drama\n")
	writeFile(t, filepath.Join(fx.eff.OutputDir, "old - 9.html"), "stale")

	rr, err := Execute(afero.NewOsFs(), fx.eff, nil)
	var fe *records.FieldError
	if !errors.As(err, &fe) {
		t.Fatalf("期望 *records.FieldError，实际 %T %v", err, err)
	}
	if !rr.Aborted || rr.OK() {
		t.Fatalf("report 应标记 aborted：%+v", rr)
	}
	if got := listDir(t, fx.eff.OutputDir); !cmp.Equal(got, []string{"old - 9.html"}) {
		t.Fatalf("终止时不应触碰输出目录：%v", got)
	}
	if len(rr.Items) != 1 || rr.Items[0].ErrorCode != domain.ErrCodeFieldParseFailed || rr.Items[0].Line != 2 {
		t.Fatalf("items 不符合预期：%+v", rr.Items)
	}
}

func TestExecute_BadNumberSkipPolicy(t *testing.T) {
	fx := newFixture(t, "1,Matrix,1999,Wachowski,Action\nx,Bad,1999,Someone,Drama\n")
	fx.eff.OnBadNumber = string(records.NumberSkip)

	rr, err := Execute(afero.NewOsFs(), fx.eff, nil)
	if err != nil {
		t.Fatalf("skip 策略不应终止：%v", err)
	}
	want := domain.ReportSummary{Accepted: 1, Malformed: 1, Written: 1}
	if diff := cmp.Diff(want, rr.Summary); diff != "" {
		t.Fatalf("summary 不正确 (-want +got):\n%s", diff)
	}
	if rr.Items[1].ErrorCode != domain.ErrCodeFieldParseFailed {
		t.Fatalf("error_code 不正确：%+v", rr.Items[1])
	}
}

func TestExecute_InputUnreadable_ZeroOutputs(t *testing.T) {
	fx := newFixture(t, "")
	fx.eff.InputPath = filepath.Join(fx.root, "missing.csv")

	core, logs := observer.New(zapcore.InfoLevel)
	rr, err := Execute(afero.NewOsFs(), fx.eff, zap.New(core))
	if err != nil {
		t.Fatalf("输入不可读不应终止：%v", err)
	}
	if len(rr.Notices) != 1 || rr.Notices[0].Code != domain.ErrCodeInputUnreadable {
		t.Fatalf("notices 不符合预期：%+v", rr.Notices)
	}
	if logs.FilterLevelExact(zapcore.ErrorLevel).Len() != 1 {
		t.Fatalf("期望 1 条错误诊断：%v", logs.All())
	}
	if got := listDir(t, fx.eff.OutputDir); len(got) != 0 {
		t.Fatalf("不应产生输出：%v", got)
	}
}

func TestExecute_TemplateUnreadable_WritesEmptyDocs(t *testing.T) {
	fx := newFixture(t, "1,Matrix,1999,Wachowski,Action\n")
	fx.eff.TemplatePath = filepath.Join(fx.root, "missing.html")

	rr, err := Execute(afero.NewOsFs(), fx.eff, nil)
	if err != nil {
		t.Fatalf("模板不可读不应终止：%v", err)
	}
	if len(rr.Notices) != 1 || rr.Notices[0].Code != domain.ErrCodeTemplateUnreadable {
		t.Fatalf("notices 不符合预期：%+v", rr.Notices)
	}
	b, err := os.ReadFile(filepath.Join(fx.eff.OutputDir, "Matrix - 1.html"))
	if err != nil {
		t.Fatalf("仍应写出文件：%v", err)
	}
	if len(b) != 0 {
		t.Fatalf("空模板应得到空文档：%q", string(b))
	}
}

func TestExecute_WriteFailureDoesNotAbortBatch(t *testing.T) {
	fx := newFixture(t, strings.Join([]string{
		"1,AC/DC,2001,Someone,Music",
		"2,Taken,2008,Pierre Morel,Action",
		"3,../escape,2010,X,Y",
		"4,Alien,1979,Ridley Scott,Horror",
	}, "\n"))

	// 让 "Taken - 2.html" 成为目录，制造类型冲突。
	if err := os.MkdirAll(filepath.Join(fx.eff.OutputDir, "Taken - 2.html"), 0o755); err != nil {
		t.Fatalf("创建目录失败：%v", err)
	}

	core, logs := observer.New(zapcore.InfoLevel)
	rr, err := Execute(afero.NewOsFs(), fx.eff, zap.New(core))
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}

	want := domain.ReportSummary{Accepted: 4, Written: 1, WriteFailed: 3}
	if diff := cmp.Diff(want, rr.Summary); diff != "" {
		t.Fatalf("summary 不正确 (-want +got):\n%s", diff)
	}
	codes := []string{rr.Items[0].ErrorCode, rr.Items[1].ErrorCode, rr.Items[2].ErrorCode, rr.Items[3].ErrorCode}
	wantCodes := []string{domain.ErrCodeWriteFailed, domain.ErrCodeTargetConflict, domain.ErrCodeUnsafeName, ""}
	if diff := cmp.Diff(wantCodes, codes); diff != "" {
		t.Fatalf("error_code 不正确 (-want +got):\n%s", diff)
	}

	failed := logs.FilterMessage("无法保存 HTML 文件").All()
	if len(failed) != 3 || failed[0].ContextMap()["title"] != "AC/DC" {
		t.Fatalf("写入失败诊断应包含标题：%v", failed)
	}
	if _, err := os.Stat(filepath.Join(fx.eff.OutputDir, "Alien - 4.html")); err != nil {
		t.Fatalf("后续记录应继续写入：%v", err)
	}
	if _, err := os.Stat(filepath.Join(fx.root, "escape - 3.html")); !os.IsNotExist(err) {
		t.Fatalf("不应写到输出目录之外：%v", err)
	}
}

func TestExecute_PortablePolicyWritesSlashTitles(t *testing.T) {
	fx := newFixture(t, "1,AC/DC: Live?,2001,Someone,Music\n")
	fx.eff.FilenamePolicy = "portable"

	rr, err := Execute(afero.NewOsFs(), fx.eff, nil)
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if rr.Summary.Written != 1 {
		t.Fatalf("期望写入成功：%+v", rr.Items)
	}
	if got := listDir(t, fx.eff.OutputDir); !cmp.Equal(got, []string{"AC_DC_ Live_ - 1.html"}) {
		t.Fatalf("输出文件不符合预期：%v", got)
	}
}

func TestExecute_MemFs(t *testing.T) {
	fs := afero.NewMemMapFs()
	if err := afero.WriteFile(fs, "/in.csv", []byte("7,Dune,2021,Denis Villeneuve,Sci-Fi\n"), 0o644); err != nil {
		t.Fatalf("写入失败：%v", err)
	}
	if err := afero.WriteFile(fs, "/t.html", []byte(testTemplate), 0o644); err != nil {
		t.Fatalf("写入失败：%v", err)
	}

	rr, err := Execute(fs, config.EffectiveConfig{
		InputPath:      "/in.csv",
		TemplatePath:   "/t.html",
		OutputDir:      "/salida",
		OnBadNumber:    "abort",
		FilenamePolicy: "colon",
	}, nil)
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}

	b, err := afero.ReadFile(fs, "/salida/Dune - 7.html")
	if err != nil {
		t.Fatalf("读取输出失败：%v", err)
	}
	if !strings.Contains(string(b), "7|Dune|2021|Denis Villeneuve|Sci-Fi") || strings.Contains(string(b), "%%") {
		t.Fatalf("渲染内容不正确：%s", string(b))
	}
	if rr.Items[0].File != "Dune - 7.html" || rr.Items[0].PageTitle != "Dune (2021)" {
		t.Fatalf("item 不符合预期：%+v", rr.Items[0])
	}
}

func writeFile(t *testing.T, path, s string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("创建目录失败：%v", err)
	}
	if err := os.WriteFile(path, []byte(s), 0o644); err != nil {
		t.Fatalf("写入文件失败 %q：%v", path, err)
	}
}

func listDir(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir 失败：%v", err)
	}
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Name())
	}
	sort.Strings(out)
	return out
}
