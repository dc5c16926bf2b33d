package fixed

import (
	"context"
	"fmt"

	"basiccorr/pkg/contract"
)

// Batcher 固定大小的连续分批。
type Batcher struct{}

// New 创建固定大小 Batcher。
func New() *Batcher { return &Batcher{} }

// Make 切分组成员：
// - size<=0 或 size>=len 时整组单批；
// - 否则 ceil(M/N) 批，末批 M mod N（整除时为 N）。
// 批内 Records 为组成员切片的只读视图。
func (b *Batcher) Make(ctx context.Context, g contract.Group, size int) ([]contract.Batch, error) {
	n := len(g.Members)
	if n == 0 {
		return nil, fmt.Errorf("batcher: group %q: %w", g.Key.Name(), contract.ErrEmptyBatch)
	}
	if size <= 0 || size > n {
		size = n
	}
	out := make([]contract.Batch, 0, Count(n, size))
	for i, from := 0, 0; from < n; i, from = i+1, from+size {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		to := from + size
		if to > n {
			to = n
		}
		out = append(out, contract.Batch{Index: i, Records: g.Members[from:to:to]})
	}
	return out, nil
}

// Count 返回 n 条记录按 size 切分的批数；size<=0 视为整组。
func Count(n, size int) int {
	if n <= 0 {
		return 0
	}
	if size <= 0 || size >= n {
		return 1
	}
	return (n + size - 1) / size
}

var _ contract.Batcher = (*Batcher)(nil)
