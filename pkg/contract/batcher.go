package contract

import "context"

// Batcher: 将单个组的成员切分为连续批。
// 约束：
//  1. size<=0 视为整组单批；
//  2. 不重排、不丢失；除末批外每批恰为 size 条；
//  3. Batch.Index 自 0 严格递增。
type Batcher interface {
	Make(ctx context.Context, g Group, size int) ([]Batch, error)
}
