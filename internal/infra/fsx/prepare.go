package fsx

import (
	"errors"
	"os"
	"path/filepath"

	"github.com/spf13/afero"
)

// RemoveError 记录清理时某个条目删除失败。
type RemoveError struct {
	Path string
	Err  error
}

func (e RemoveError) Error() string { return e.Path + ": " + e.Err.Error() }

// PrepareResult 是 PrepareDir 的结果。
type PrepareResult struct {
	Created bool
	Removed []string
	Kept    []string // 未清理的子目录
	Failed  []RemoveError
}

// PrepareDir 保证 dir 存在，且其中不残留上一次 run 的文件。
//
// 规则：
// - dir 不存在：创建
// - dir 存在：删除所有“非目录”的直接子项；子目录及其内容保持不动
// - recursive=true：子目录也整体删除
// - dir 是文件：返回 PathTypeConflictError
//
// 单个条目删除失败不中断，记入 Failed；只有创建/列目录失败才返回 error。
// 该操作不可逆：上一次 run 的产物会被无条件丢弃。
func PrepareDir(fs afero.Fs, dir string, recursive bool) (PrepareResult, error) {
	var res PrepareResult
	dir = filepath.Clean(dir)

	fi, err := fs.Stat(dir)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return res, err
		}
		if err := fs.MkdirAll(dir, 0o755); err != nil {
			return res, err
		}
		res.Created = true
		return res, nil
	}
	if !fi.IsDir() {
		return res, &PathTypeConflictError{Path: dir, Want: "dir", Got: "file"}
	}

	entries, err := afero.ReadDir(fs, dir)
	if err != nil {
		return res, err
	}
	for _, e := range entries {
		p := filepath.Join(dir, e.Name())
		if e.IsDir() {
			if !recursive {
				res.Kept = append(res.Kept, p)
				continue
			}
			if err := fs.RemoveAll(p); err != nil {
				res.Failed = append(res.Failed, RemoveError{Path: p, Err: err})
				continue
			}
			res.Removed = append(res.Removed, p)
			continue
		}
		if err := fs.Remove(p); err != nil {
			res.Failed = append(res.Failed, RemoveError{Path: p, Err: err})
			continue
		}
		res.Removed = append(res.Removed, p)
	}
	return res, nil
}
