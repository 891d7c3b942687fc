package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/spf13/afero"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/John-Robertt/moviepages/internal/app/run"
	"github.com/John-Robertt/moviepages/internal/config"
	"github.com/John-Robertt/moviepages/internal/domain"
	"github.com/John-Robertt/moviepages/internal/infra/fsx"
	"github.com/John-Robertt/moviepages/internal/infra/logx"
)

func main() {
	args := os.Args[1:]
	if len(args) == 0 || isHelp(args[0]) {
		printUsage()
		return
	}

	switch args[0] {
	case "run":
		if code := runCmd(args[1:]); code != 0 {
			os.Exit(code)
		}
	default:
		fmt.Fprintf(os.Stderr, "未知命令：%q\n\n", args[0])
		printUsage()
		os.Exit(2)
	}
}

func runCmd(args []string) int {
	cli, err := parseRunArgs(args)
	if errors.Is(err, pflag.ErrHelp) {
		printRunUsage()
		return 0
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "参数错误：%v\n\n", err)
		printRunUsage()
		return 2
	}

	cwd, err := os.Getwd()
	if err != nil {
		fmt.Fprintf(os.Stderr, "读取当前目录失败：%v\n", err)
		return 1
	}

	fs := afero.NewOsFs()
	eff, err := config.LoadEffective(fs, cwd, cli)
	if err != nil {
		emitReport(reportForConfigError(err))
		return 1
	}

	progressW, interactive := pickProgressWriter()
	var obs run.Observer
	if interactive {
		obs = newProgressUI(progressW)
	}
	log := newDiagLogger(os.Stderr)
	defer func() { _ = log.Sync() }()

	rr, runErr := run.ExecuteWithObserver(fs, eff, log, obs)

	if eff.ReportPath != "" {
		if err := writeReportFile(fs, eff.ReportPath, rr); err != nil {
			fmt.Fprintf(os.Stderr, "写入 report 失败：%v\n", err)
			emitReport(rr)
			return 1
		}
	}

	emitReport(rr)
	if interactive {
		fmt.Fprintf(progressW, "out: %s\n", eff.OutputDir)
		if eff.ReportPath != "" {
			fmt.Fprintf(progressW, "report: %s\n", eff.ReportPath)
		}
	}
	if runErr != nil || !rr.OK() {
		return 1
	}
	return 0
}

// parseRunArgs 解析 run 子命令参数。
// 最多两个位置参数，依次作为 input 与 template（对应的 flag 优先）。
func parseRunArgs(args []string) (config.CLIArgs, error) {
	fl := pflag.NewFlagSet("run", pflag.ContinueOnError)
	fl.SetOutput(io.Discard)

	var cli config.CLIArgs
	fl.StringVarP(&cli.InputPath, "input", "i", "", "")
	fl.StringVarP(&cli.TemplatePath, "template", "t", "", "")
	fl.StringVarP(&cli.OutputDir, "out", "o", "", "")
	fl.StringVarP(&cli.ConfigPath, "config", "c", "", "")
	fl.StringVar(&cli.ReportPath, "report", "", "")
	fl.StringVar(&cli.OnBadNumber, "on-bad-number", "", "")
	fl.BoolVar(&cli.CleanRecursive, "clean-recursive", false, "")
	fl.StringVar(&cli.FilenamePolicy, "filename-policy", "", "")

	if err := fl.Parse(args); err != nil {
		return config.CLIArgs{}, err
	}

	cli.OnBadNumberSet = fl.Changed("on-bad-number")
	cli.CleanRecursiveSet = fl.Changed("clean-recursive")
	cli.FilenamePolicySet = fl.Changed("filename-policy")

	rest := fl.Args()
	if len(rest) > 2 {
		return config.CLIArgs{}, fmt.Errorf("多余的参数：%q", rest[2:])
	}
	if len(rest) >= 1 {
		if cli.InputPath != "" {
			return config.CLIArgs{}, fmt.Errorf("重复的 input：%q 与 %q", cli.InputPath, rest[0])
		}
		cli.InputPath = rest[0]
	}
	if len(rest) == 2 {
		if cli.TemplatePath != "" {
			return config.CLIArgs{}, fmt.Errorf("重复的 template：%q 与 %q", cli.TemplatePath, rest[1])
		}
		cli.TemplatePath = rest[1]
	}
	return cli, nil
}

func isHelp(s string) bool {
	return s == "-h" || s == "--help" || s == "help"
}

func printUsage() {
	fmt.Fprint(os.Stdout, `用法：
  moviepages run [input.csv] [template.html] [flags]

命令：
  run    读取电影列表，按模板为每条记录生成一个 HTML 文件

使用 "moviepages run --help" 查看详细说明。
`)
}

func printRunUsage() {
	fmt.Fprint(os.Stdout, `用法：
  moviepages run [input.csv] [template.html] [flags]

参数：
  -i, --input            输入文件（每行 id,title,year,director,genre）
  -t, --template         HTML 模板（占位符 %%1%%..%%5%%）
  -o, --out              输出目录（默认 ./salida；每次 run 开始时清空其中的文件）
  -c, --config           配置文件（默认查找 ./moviepages.json|yaml|yml）
      --on-bad-number    id/year 不是整数时：abort（默认，终止）| skip（跳过该行）
      --clean-recursive  清理输出目录时连子目录一起删除
      --filename-policy  文件名替换策略：colon（默认，只替换 ':'）| portable
      --report           额外把 report JSON 写入该文件
  -h, --help             显示帮助
`)
}

func emitReport(rr domain.RunReport) {
	if isTTY(os.Stdout) {
		fmt.Fprintln(os.Stdout, run.Summary(rr))
		for _, it := range rr.Items {
			if it.Status == domain.StatusWritten {
				continue
			}
			fmt.Fprintf(os.Stderr, "line %d %s: %s\n", it.Line, it.ErrorCode, it.ErrorMsg)
		}
		for _, n := range rr.Notices {
			fmt.Fprintf(os.Stderr, "%s: %s\n", n.Code, n.Msg)
		}
		return
	}

	// stdout 非 TTY：stdout 必须且仅输出一个 RunReport JSON（日志/摘要走 stderr）。
	enc := json.NewEncoder(os.Stdout)
	_ = enc.Encode(rr)
	fmt.Fprintln(os.Stderr, run.Summary(rr))
}

// newDiagLogger 返回 run 的诊断 logger。
// 交互终端下也保留 Info：“记录已添加”“保存文件”与进度行按行交错输出。
func newDiagLogger(w io.Writer) *zap.Logger {
	return logx.NewCLI(w, zapcore.InfoLevel)
}

func reportForConfigError(err error) domain.RunReport {
	now := time.Now().UTC()
	code := config.Code(err)
	if code == "" {
		code = config.ErrCodeInvalid
	}
	rr := domain.RunReport{
		StartedAt:  now,
		FinishedAt: now,
		Aborted:    true,
		Notices:    []domain.Notice{{Code: code, Msg: err.Error()}},
	}
	rr.Finalize()
	return rr
}

func writeReportFile(fs afero.Fs, path string, rr domain.RunReport) error {
	b, err := json.MarshalIndent(rr, "", "  ")
	if err != nil {
		return err
	}
	b = append(b, '\n')
	dir := filepath.Dir(path)
	if err := fs.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	return fsx.WriteFileAtomicReplace(fs, dir, filepath.Base(path), b)
}

func isTTY(f *os.File) bool {
	fd := f.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

func pickProgressWriter() (io.Writer, bool) {
	// 进度输出只在交互终端启用；默认走 stderr（不污染 stdout JSON）。
	if isTTY(os.Stderr) {
		return os.Stderr, true
	}
	if isTTY(os.Stdout) {
		return os.Stdout, true
	}
	return nil, false
}
