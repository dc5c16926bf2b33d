package contract

import "context"

// ImageLoader: 将一个批的文件解码为二维数值数组并堆叠。
// 约束：
//  1. 按 Batch.Records 顺序解码，返回等长 Stack；
//  2. 任一文件解码失败即返回错误（不做跳过）；
//  3. 栈内尺寸必须一致，否则返回 ErrShapeMismatch。
type ImageLoader interface {
	Load(ctx context.Context, b Batch) (Stack, error)
}
