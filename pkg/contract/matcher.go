package contract

import "context"

// Matcher: 扫描输入目录并将文件名与命名捕获组正则匹配。
// 约束：
//  1. 非递归，仅当前目录；
//  2. 目录项与未匹配文件静默跳过；
//  3. 部分匹配（search 语义），非全匹配；
//  4. 不解码图像，仅产出记录。
type Matcher interface {
	Scan(ctx context.Context, dir string) ([]ImageRecord, error)
}

// Grouper: 按 groupby 字段值将记录划分为有序组。
// 约束：
//  1. 组键首次出现顺序稳定，组内成员首次出现顺序稳定；
//  2. 精确字符串相等判定；
//  3. 每条记录至多属于一个组（缺少 groupby 字段的记录被排除，以 skipped 计数返回）。
type Grouper interface {
	Group(ctx context.Context, records []ImageRecord, groupBy []string) (groups []Group, skipped int, err error)
}
