package contract

import (
	"context"

	"gonum.org/v1/gonum/mat"
)

// Writer: 持久化校正结果与平场可视化工件。
// 约束：
//  1. WriteImage 先裁剪到 [0,65535] 再转换为 uint16，文件名沿用输入；
//  2. WriteFlatfield 以固定系数 128 缩放后转换为 uint8，按组键命名；
//  3. 错误直接上抛（不做重试/回退）；
//  4. Prepare 在扫描前调用，确保输出位置存在；Accept 在任何估计之前校验文件名可写。
type Writer interface {
	Prepare(ctx context.Context) error
	Accept(filename string) error
	WriteImage(ctx context.Context, filename string, img *mat.Dense) error
	WriteFlatfield(ctx context.Context, key GroupKey, flat *mat.Dense, score float64) error
}
