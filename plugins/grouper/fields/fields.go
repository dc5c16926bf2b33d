package fields

import (
	"context"
	"strings"

	"basiccorr/pkg/contract"
)

// Grouper 按捕获字段值分组。
type Grouper struct{}

// New 创建 Grouper。
func New() *Grouper { return &Grouper{} }

// Group 按 groupBy 顺序取字段值构造组键：
// - 组键与组内成员均保持首次出现顺序；
// - 缺少任一 groupBy 字段的记录不进入任何组，计入 skipped；
// - groupBy 为空时全部记录落入同一个空键组。
func (g *Grouper) Group(ctx context.Context, records []contract.ImageRecord, groupBy []string) ([]contract.Group, int, error) {
	var groups []contract.Group
	index := make(map[string]int)
	skipped := 0
	for i, rec := range records {
		if i%1024 == 0 {
			select {
			case <-ctx.Done():
				return nil, 0, ctx.Err()
			default:
			}
		}
		key, ok := keyOf(rec, groupBy)
		if !ok {
			skipped++
			continue
		}
		id := encode(key)
		gi, seen := index[id]
		if !seen {
			gi = len(groups)
			index[id] = gi
			groups = append(groups, contract.Group{Key: key})
		}
		groups[gi].Members = append(groups[gi].Members, rec)
	}
	return groups, skipped, nil
}

func keyOf(rec contract.ImageRecord, groupBy []string) (contract.GroupKey, bool) {
	key := make(contract.GroupKey, 0, len(groupBy))
	for _, f := range groupBy {
		v, ok := rec.Fields[f]
		if !ok {
			return nil, false
		}
		key = append(key, v)
	}
	return key, true
}

// encode: 以 NUL 分隔的映射键（文件名中不会出现 NUL），保证不同元组不会冲突。
func encode(k contract.GroupKey) string {
	return strings.Join(k, "\x00")
}

var _ contract.Grouper = (*Grouper)(nil)
