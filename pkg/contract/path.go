package contract

import (
	"path/filepath"
	"strings"
)

// CheckFilename 校验输出文件名只是单个基名，不允许目录分量与逃逸。
// 输出文件名沿用输入文件名，因此这里只做防御性校验，不做改写。
func CheckFilename(name string) error {
	n := strings.TrimSpace(name)
	if n == "" || n == "." || n == ".." {
		return ErrPathInvalid
	}
	if strings.ContainsAny(n, `/\`) {
		return ErrPathInvalid
	}
	if filepath.IsAbs(n) || filepath.VolumeName(n) != "" {
		return ErrPathInvalid
	}
	return nil
}
