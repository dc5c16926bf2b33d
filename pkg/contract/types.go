package contract

import (
	"strings"

	"gonum.org/v1/gonum/mat"
)

// Fields: 正则命名捕获组 → 捕获值。
// 未参与匹配的捕获组不出现在映射中（不做空串填充）。
type Fields map[string]string

// ImageRecord: 单个匹配文件的结构化记录。
// 约束：创建后只读；不持久化。
type ImageRecord struct {
	Fields   Fields
	Filename string // 基名（输出沿用同名）
	Path     string // 输入目录下的完整路径
}

// GroupKey: 分组键，顺序与 groupby 配置一致。
type GroupKey []string

// Name 以下划线连接各字段值；空键返回 "flatfield"。
func (k GroupKey) Name() string {
	if len(k) == 0 {
		return "flatfield"
	}
	return strings.Join(k, "_")
}

// Group: 同一键值组合的成员集合，成员保持首次出现顺序。
type Group struct {
	Key     GroupKey
	Members []ImageRecord
}

// Batch: 组内成员的连续窗口（仅为处理窗口，不持久化）。
type Batch struct {
	// Index: 组内批序（0..n-1，严格递增）。
	Index   int
	Records []ImageRecord
}

// Stack: 一批已解码的二维图像，沿新的首轴堆叠。
// 约束：所有元素尺寸一致。
type Stack []*mat.Dense

// Dims 返回首个元素的 (rows, cols)；空栈返回 (0, 0)。
func (s Stack) Dims() (int, int) {
	if len(s) == 0 || s[0] == nil {
		return 0, 0
	}
	return s[0].Dims()
}

// CheckShape 校验栈内所有图像尺寸一致且非空。
func (s Stack) CheckShape() error {
	if len(s) == 0 {
		return ErrEmptyBatch
	}
	r, c := s.Dims()
	for _, m := range s {
		if m == nil {
			return ErrShapeMismatch
		}
		mr, mc := m.Dims()
		if mr != r || mc != c {
			return ErrShapeMismatch
		}
	}
	return nil
}
