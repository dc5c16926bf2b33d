package contract

import "errors"

// 最小错误分类（供上层分类与退出码判定）。
var (
	// ErrConfigInvalid: 配置非法（正则语法、groupby 引用未知捕获组等）；在任何目录 I/O 之前返回。
	ErrConfigInvalid = errors.New("config invalid")
	// ErrPathInvalid: 文件名映射为无效/越界路径（例如绝对路径或 '..' 逃逸）。
	ErrPathInvalid = errors.New("path invalid")
	// ErrPhase: 估计器阶段次序违例（未 fit 即 transform，或 transform 后再 fit）。
	ErrPhase = errors.New("estimator phase violation")
	// ErrShapeMismatch: 同一批/组内图像尺寸不一致。
	ErrShapeMismatch = errors.New("image shape mismatch")
	// ErrEmptyBatch: 批为空。
	ErrEmptyBatch = errors.New("empty batch")
	// ErrUnsupportedFormat: 扩展名无法承载目标像素类型（例如 16 位写 JPEG）。
	ErrUnsupportedFormat = errors.New("unsupported image format")
	// ErrInvariantViolation: 领域不变量违例（通用哨兵）。
	ErrInvariantViolation = errors.New("invariant violation")
)
