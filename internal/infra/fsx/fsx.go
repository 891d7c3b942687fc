package fsx

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/spf13/afero"
)

// PathTypeConflictError 表示目标路径类型冲突（例如期望目录但实际是文件）。
// 上层可把它映射为 error_code=target_conflict。
type PathTypeConflictError struct {
	Path string
	Want string
	Got  string
}

func (e *PathTypeConflictError) Error() string {
	return fmt.Sprintf("目标路径类型冲突：%q（期望 %s，实际 %s）", e.Path, e.Want, e.Got)
}

func IsPathTypeConflict(err error) bool {
	var e *PathTypeConflictError
	return errors.As(err, &e)
}

// UnsafeNameError 表示文件名会解析到目标目录之外（例如 "../x" 或绝对路径）。
type UnsafeNameError struct {
	Dir  string
	Name string
}

func (e *UnsafeNameError) Error() string {
	return fmt.Sprintf("文件名 %q 会写到目录 %q 之外", e.Name, e.Dir)
}

func IsUnsafeName(err error) bool {
	var e *UnsafeNameError
	return errors.As(err, &e)
}

// JoinInside 把 name 拼到 dir 下，并保证结果仍在 dir 内。
// name 中的 '/' 会形成子路径（不做替换），但不允许越出 dir。
func JoinInside(dir, name string) (string, error) {
	dir = filepath.Clean(dir)
	if name == "" || filepath.IsAbs(name) {
		return "", &UnsafeNameError{Dir: dir, Name: name}
	}
	p := filepath.Join(dir, name)
	rel, err := filepath.Rel(dir, p)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", &UnsafeNameError{Dir: dir, Name: name}
	}
	return p, nil
}

// WriteFileAtomicReplace 在 dir 下原子写入 name（临时文件 + rename），覆盖同名文件。
//
// - dir 必须已存在：本函数不创建目录，缺失即失败
// - 临时文件与目标文件同目录，以保证 rename 的原子性
// - 目标路径是目录时返回 PathTypeConflictError
func WriteFileAtomicReplace(fs afero.Fs, dir, name string, data []byte) error {
	dst, err := JoinInside(dir, name)
	if err != nil {
		return err
	}
	if fi, err := fs.Stat(dst); err == nil && fi.IsDir() {
		return &PathTypeConflictError{Path: dst, Want: "file", Got: "dir"}
	}
	return writeFileAtomic(fs, filepath.Dir(dst), filepath.Base(dst), data, 0o644)
}

func writeFileAtomic(fs afero.Fs, dir, name string, data []byte, perm os.FileMode) error {
	dst := filepath.Join(dir, name)

	// 同目录临时文件（前缀带 '.'）；下一次 run 的清理也会把残留的临时文件删掉。
	tmp, err := afero.TempFile(fs, dir, "."+name+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() {
		_ = tmp.Close()
		_ = fs.Remove(tmpName)
	}()

	if err := writeAll(tmp, data); err != nil {
		return err
	}
	if err := tmp.Sync(); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := fs.Chmod(tmpName, perm); err != nil {
		return err
	}

	if err := fs.Rename(tmpName, dst); err != nil {
		return err
	}

	// 目录 fsync：best-effort（不同平台/文件系统的语义差异很大）。
	_ = syncDirBestEffort(fs, dir)
	return nil
}

func writeAll(w io.Writer, b []byte) error {
	for len(b) > 0 {
		n, err := w.Write(b)
		if err != nil {
			return err
		}
		b = b[n:]
	}
	return nil
}

func syncDirBestEffort(fs afero.Fs, dir string) error {
	if runtime.GOOS == "windows" {
		return nil
	}
	f, err := fs.Open(dir)
	if err != nil {
		return err
	}
	defer f.Close()
	return f.Sync()
}
