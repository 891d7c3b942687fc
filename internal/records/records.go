package records

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/John-Robertt/moviepages/internal/domain"
	"github.com/John-Robertt/moviepages/internal/infra/logx"
)

// FieldCount 是一行合法输入的字段数：id,title,year,director,genre。
const FieldCount = 5

// NumberPolicy 决定“字段数正确但 id/year 不是整数”的行如何处理。
type NumberPolicy string

const (
	// NumberAbort 让 Parse 直接返回 *FieldError，整次 run 终止。
	NumberAbort NumberPolicy = "abort"
	// NumberSkip 把该行当作 malformed 行记录并跳过。
	NumberSkip NumberPolicy = "skip"
)

type Options struct {
	OnBadNumber NumberPolicy
	Logger      *zap.Logger
}

// Line 是被接受的记录及其来源行号（从 1 开始）。
type Line struct {
	No     int
	Record domain.Record
}

// Result 是一次解析的结果。Rejected 中的元素是 *MalformedLineError 或 *FieldError（skip 策略）。
type Result struct {
	Accepted []Line
	Rejected []error
}

// Records 按输入顺序返回被接受的记录。
func (r Result) Records() []domain.Record {
	out := make([]domain.Record, 0, len(r.Accepted))
	for _, l := range r.Accepted {
		out = append(out, l.Record)
	}
	return out
}

// MalformedLineError 表示一行拆分后的字段数不是 5。
type MalformedLineError struct {
	Line   int
	Raw    string
	Fields int
}

func (e *MalformedLineError) Error() string {
	return fmt.Sprintf("第 %d 行格式无效（%d 个字段，期望 %d）：%q", e.Line, e.Fields, FieldCount, e.Raw)
}

// FieldError 表示字段数正确，但 id 或 year 不是整数。
type FieldError struct {
	Line  int
	Raw   string
	Field string
	Err   error
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("第 %d 行字段 %s 不是整数：%q：%v", e.Line, e.Field, e.Raw, e.Err)
}

func (e *FieldError) Unwrap() error { return e.Err }

// InputError 表示输入文件无法打开或读取。
type InputError struct {
	Path string
	Err  error
}

func (e *InputError) Error() string {
	return fmt.Sprintf("读取输入文件 %q 失败：%v", e.Path, e.Err)
}

func (e *InputError) Unwrap() error { return e.Err }

// ReadFile 打开 path 并解析。打开/读取失败返回 *InputError（由上层决定是否降级）；
// 读取中途失败时，已经解析出的记录仍随 Result 一起返回。
func ReadFile(fs afero.Fs, path string, opts Options) (Result, error) {
	f, err := fs.Open(path)
	if err != nil {
		return Result{}, &InputError{Path: path, Err: err}
	}
	defer f.Close()

	res, err := Parse(f, opts)
	if err != nil {
		var fe *FieldError
		if errors.As(err, &fe) {
			return res, err
		}
		return res, &InputError{Path: path, Err: err}
	}
	return res, nil
}

// Parse 逐行解析 r。
//
// 规则：
// - 行以 "\n" 或 "\r\n" 结尾，长度不限
// - 按 ',' 拆分，不支持引号/转义；末尾的空字段不计数（"1,A,2000,B," 只有 4 个字段）
// - 恰好 5 个字段：逐个 TrimSpace，第 1、3 个字段按十进制整数解析
// - 其他字段数（包括空行）：记录为 *MalformedLineError 并跳过
// - 整数解析失败：NumberAbort 时返回 *FieldError；NumberSkip 时按 malformed 处理
//
// 每条被接受的记录、每条被拒绝的行都会输出一条诊断日志。
func Parse(r io.Reader, opts Options) (Result, error) {
	log := logx.OrNop(opts.Logger)
	policy := opts.OnBadNumber
	if policy == "" {
		policy = NumberAbort
	}

	br := bufio.NewReader(r)

	var res Result
	no := 0
	for {
		raw, rerr := br.ReadString('\n')
		if rerr != nil && rerr != io.EOF {
			return res, rerr
		}
		if rerr == io.EOF && raw == "" {
			return res, nil
		}
		no++
		raw = strings.TrimSuffix(strings.TrimSuffix(raw, "\n"), "\r")
		if no == 1 {
			raw = strings.TrimPrefix(raw, "\ufeff")
		}

		rec, err := parseLine(no, raw)
		switch {
		case err == nil:
			res.Accepted = append(res.Accepted, Line{No: no, Record: rec})
			log.Info("记录已添加", zap.Int("line", no), zap.String("title", rec.Title))
		default:
			var fe *FieldError
			if errors.As(err, &fe) && policy == NumberAbort {
				log.Error("字段解析失败，终止", zap.Int("line", no), zap.String("field", fe.Field), zap.String("raw", raw))
				return res, err
			}
			res.Rejected = append(res.Rejected, err)
			log.Warn("行格式无效", zap.Int("line", no), zap.String("raw", raw))
		}

		if rerr == io.EOF {
			return res, nil
		}
	}
}

func parseLine(no int, raw string) (domain.Record, error) {
	fields := splitFields(raw)
	if len(fields) != FieldCount {
		return domain.Record{}, &MalformedLineError{Line: no, Raw: raw, Fields: len(fields)}
	}
	for i := range fields {
		fields[i] = strings.TrimSpace(fields[i])
	}

	id, err := strconv.Atoi(fields[0])
	if err != nil {
		return domain.Record{}, &FieldError{Line: no, Raw: raw, Field: "id", Err: err}
	}
	year, err := strconv.Atoi(fields[2])
	if err != nil {
		return domain.Record{}, &FieldError{Line: no, Raw: raw, Field: "year", Err: err}
	}

	return domain.Record{
		ID:       id,
		Title:    fields[1],
		Year:     year,
		Director: fields[3],
		Genre:    fields[4],
	}, nil
}

// splitFields 按 ',' 拆分并去掉末尾的空字段。没有 ',' 的行（包括空行）算 1 个字段。
func splitFields(raw string) []string {
	fields := strings.Split(raw, ",")
	if len(fields) == 1 {
		return fields
	}
	n := len(fields)
	for n > 0 && fields[n-1] == "" {
		n--
	}
	return fields[:n]
}
