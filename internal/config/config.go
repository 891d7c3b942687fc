package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"

	"github.com/John-Robertt/moviepages/internal/naming"
	"github.com/John-Robertt/moviepages/internal/records"
)

const (
	// ErrCodeNotFound 表示 --config 指定的文件不存在。
	ErrCodeNotFound = "config_not_found"
	// ErrCodeInvalid 表示配置文件无法读取/解析，或字段不合法。
	ErrCodeInvalid = "config_invalid"
	// ErrCodeMissingInput 表示 CLI 与配置文件都没有给出 input_path。
	ErrCodeMissingInput = "config_missing_input"
	// ErrCodeMissingTemplate 表示 CLI 与配置文件都没有给出 template_path。
	ErrCodeMissingTemplate = "config_missing_template"
)

const (
	// DefaultOutputDir 相对当前工作目录。
	DefaultOutputDir      = "salida"
	DefaultOnBadNumber    = string(records.NumberAbort)
	DefaultFilenamePolicy = naming.PolicyColon
)

// FileNames 是未指定 --config 时在 cwd 下按顺序查找的配置文件名（均可选）。
var FileNames = []string{"moviepages.json", "moviepages.yaml", "moviepages.yml"}

// CLIArgs 保留“是否显式指定”的信息，保证 --clean-recursive=false 之类能覆盖配置文件。
type CLIArgs struct {
	ConfigPath string

	InputPath    string
	TemplatePath string
	OutputDir    string
	ReportPath   string

	OnBadNumber    string
	OnBadNumberSet bool

	CleanRecursive    bool
	CleanRecursiveSet bool

	FilenamePolicy    string
	FilenamePolicySet bool
}

// FileConfig 对应 moviepages.json / moviepages.yaml。
type FileConfig struct {
	InputPath       string            `json:"input_path" yaml:"input_path"`
	TemplatePath    string            `json:"template_path" yaml:"template_path"`
	OutputDir       string            `json:"output_dir" yaml:"output_dir"`
	OnBadNumber     string            `json:"on_bad_number" yaml:"on_bad_number"`
	CleanRecursive  *bool             `json:"clean_recursive" yaml:"clean_recursive"`
	FilenamePolicy  string            `json:"filename_policy" yaml:"filename_policy"`
	FilenameReplace map[string]string `json:"filename_replace" yaml:"filename_replace"`
	ReportPath      string            `json:"report_path" yaml:"report_path"`
}

// EffectiveConfig 是合并、规范化并校验后的最终配置（实现层直接消费）。
// 路径均为 clean + absolute。
type EffectiveConfig struct {
	InputPath    string `name:"input_path" validate:"required"`
	TemplatePath string `name:"template_path" validate:"required"`
	OutputDir    string `name:"output_dir" validate:"required"`

	OnBadNumber    string `name:"on_bad_number" validate:"oneof=abort skip"`
	CleanRecursive bool   `name:"clean_recursive"`

	FilenamePolicy  string            `name:"filename_policy" validate:"oneof=colon portable"`
	FilenameReplace map[string]string `name:"filename_replace" validate:"omitempty,dive,keys,required,endkeys"`

	// ReportPath 为空表示不落盘 report。
	ReportPath string `name:"report_path"`

	// ConfigPath 是实际读取到的配置文件；没有读取任何文件时为空。
	ConfigPath string `name:"-"`
}

// NamingPolicy 由 filename_policy 预置表叠加 filename_replace 得到。
func (c EffectiveConfig) NamingPolicy() naming.Policy {
	m, err := naming.Presets(c.FilenamePolicy)
	if err != nil {
		m, _ = naming.Presets(DefaultFilenamePolicy)
	}
	for k, v := range c.FilenameReplace {
		m[k] = v
	}
	return naming.NewPolicy(m)
}

// NumberPolicy 把 on_bad_number 转为解析器的策略。
func (c EffectiveConfig) NumberPolicy() records.NumberPolicy {
	return records.NumberPolicy(c.OnBadNumber)
}

// Error 是配置阶段的结构化错误（带 error_code）。
type Error struct {
	Code string
	Path string
	Err  error
}

func (e *Error) Error() string {
	switch e.Code {
	case ErrCodeNotFound:
		return fmt.Sprintf("%s：未找到配置文件 %q", e.Code, e.Path)
	case ErrCodeMissingInput:
		return fmt.Sprintf("%s：缺少输入文件路径（--input 或配置 input_path）", e.Code)
	case ErrCodeMissingTemplate:
		return fmt.Sprintf("%s：缺少模板文件路径（--template 或配置 template_path）", e.Code)
	case ErrCodeInvalid:
		if e.Path == "" {
			return fmt.Sprintf("%s：%v", e.Code, e.Err)
		}
		if e.Err != nil {
			return fmt.Sprintf("%s：配置文件 %q 无效：%v", e.Code, e.Path, e.Err)
		}
		return fmt.Sprintf("%s：配置文件 %q 无效", e.Code, e.Path)
	default:
		if e.Err != nil {
			return fmt.Sprintf("%s：%v", e.Code, e.Err)
		}
		return e.Code
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Code 从 error 中提取 error_code；若不是 *Error 则返回空串。
func Code(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// LoadEffective 发现并读取配置文件，然后与 CLI 参数合并为最终配置。
//
// 发现规则（固定）：
// 1) CLI 提供 --config：必须存在
// 2) 否则依次尝试 <cwd>/moviepages.json、.yaml、.yml（可选，取第一个存在的）
//
// 覆盖优先级（固定）：CLI > 配置文件 > 默认值。
// 相对路径：CLI 给出的相对 cwd；配置文件给出的相对配置文件所在目录；默认 output_dir 相对 cwd。
func LoadEffective(fs afero.Fs, cwd string, cli CLIArgs) (EffectiveConfig, error) {
	cwdAbs, err := filepath.Abs(cwd)
	if err != nil {
		return EffectiveConfig{}, &Error{Code: ErrCodeInvalid, Path: cwd, Err: err}
	}

	var (
		cfgPath string
		fc      FileConfig
	)

	if strings.TrimSpace(cli.ConfigPath) != "" {
		cfgPath = absCleanFrom(cwdAbs, cli.ConfigPath)
		var exists bool
		fc, exists, err = readFileConfig(fs, cfgPath)
		if err != nil {
			return EffectiveConfig{}, &Error{Code: ErrCodeInvalid, Path: cfgPath, Err: err}
		}
		if !exists {
			return EffectiveConfig{}, &Error{Code: ErrCodeNotFound, Path: cfgPath, Err: os.ErrNotExist}
		}
	} else {
		for _, name := range FileNames {
			p := filepath.Join(cwdAbs, name)
			f, exists, e := readFileConfig(fs, p)
			if e != nil {
				return EffectiveConfig{}, &Error{Code: ErrCodeInvalid, Path: p, Err: e}
			}
			if exists {
				cfgPath, fc = p, f
				break
			}
		}
	}

	eff := merge(cwdAbs, cli, fc, cfgPath)
	if err := validate(eff); err != nil {
		return EffectiveConfig{}, withPath(err, cfgPath)
	}
	return eff, nil
}

func merge(cwdAbs string, cli CLIArgs, fc FileConfig, cfgPath string) EffectiveConfig {
	fileBase := cwdAbs
	if cfgPath != "" {
		fileBase = filepath.Dir(cfgPath)
	}

	pick := func(cliVal, fileVal, def string) string {
		if strings.TrimSpace(cliVal) != "" {
			return absCleanFrom(cwdAbs, cliVal)
		}
		if strings.TrimSpace(fileVal) != "" {
			return absCleanFrom(fileBase, fileVal)
		}
		if def != "" {
			return absCleanFrom(cwdAbs, def)
		}
		return ""
	}

	onBad := DefaultOnBadNumber
	if cli.OnBadNumberSet {
		onBad = cli.OnBadNumber
	} else if strings.TrimSpace(fc.OnBadNumber) != "" {
		onBad = fc.OnBadNumber
	}
	onBad = strings.ToLower(strings.TrimSpace(onBad))

	policy := DefaultFilenamePolicy
	if cli.FilenamePolicySet {
		policy = cli.FilenamePolicy
	} else if strings.TrimSpace(fc.FilenamePolicy) != "" {
		policy = fc.FilenamePolicy
	}
	policy = strings.ToLower(strings.TrimSpace(policy))

	recursive := false
	if cli.CleanRecursiveSet {
		recursive = cli.CleanRecursive
	} else if fc.CleanRecursive != nil {
		recursive = *fc.CleanRecursive
	}

	var replace map[string]string
	if len(fc.FilenameReplace) > 0 {
		replace = make(map[string]string, len(fc.FilenameReplace))
		for k, v := range fc.FilenameReplace {
			replace[k] = v
		}
	}

	return EffectiveConfig{
		InputPath:       pick(cli.InputPath, fc.InputPath, ""),
		TemplatePath:    pick(cli.TemplatePath, fc.TemplatePath, ""),
		OutputDir:       pick(cli.OutputDir, fc.OutputDir, DefaultOutputDir),
		OnBadNumber:     onBad,
		CleanRecursive:  recursive,
		FilenamePolicy:  policy,
		FilenameReplace: replace,
		ReportPath:      pick(cli.ReportPath, fc.ReportPath, ""),
		ConfigPath:      cfgPath,
	}
}

var validate = newValidate()

func newValidate() func(EffectiveConfig) error {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := f.Tag.Get("name")
		if name == "-" {
			return ""
		}
		return name
	})

	return func(c EffectiveConfig) error {
		err := v.Struct(c)
		if err == nil {
			return nil
		}
		var ves validator.ValidationErrors
		if !errors.As(err, &ves) || len(ves) == 0 {
			return &Error{Code: ErrCodeInvalid, Err: err}
		}

		fe := ves[0]
		switch {
		case fe.Field() == "input_path" && fe.Tag() == "required":
			return &Error{Code: ErrCodeMissingInput}
		case fe.Field() == "template_path" && fe.Tag() == "required":
			return &Error{Code: ErrCodeMissingTemplate}
		case fe.Tag() == "oneof":
			return &Error{Code: ErrCodeInvalid, Err: fmt.Errorf("%s 只能是 %s 之一，实际是 %q", fe.Field(), fe.Param(), fe.Value())}
		default:
			return &Error{Code: ErrCodeInvalid, Err: fmt.Errorf("%s 不合法（%s）", fe.Namespace(), fe.Tag())}
		}
	}
}

func withPath(err error, cfgPath string) error {
	var e *Error
	if errors.As(err, &e) && e.Code == ErrCodeInvalid && e.Path == "" {
		e.Path = cfgPath
	}
	return err
}

// absCleanFrom 以 base 为基准，把 p 变为 clean + absolute。
func absCleanFrom(base, p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return ""
	}
	p = filepath.Clean(p)
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Clean(filepath.Join(base, p))
}

// readFileConfig 读取并解析配置文件（按扩展名选择 JSON 或 YAML）。
// 返回值 exists 表示该文件是否存在（不存在不算错误）。
func readFileConfig(fs afero.Fs, path string) (fc FileConfig, exists bool, err error) {
	b, err := afero.ReadFile(fs, path)
	if err != nil {
		if os.IsNotExist(err) {
			return FileConfig{}, false, nil
		}
		return FileConfig{}, false, err
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(b, &fc)
	default:
		err = json.Unmarshal(b, &fc)
	}
	if err != nil {
		return FileConfig{}, true, err
	}
	return fc, true, nil
}
