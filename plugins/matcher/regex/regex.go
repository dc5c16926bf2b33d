package regex

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"basiccorr/pkg/contract"
)

// Matcher 基于命名捕获组正则的文件名匹配器。
type Matcher struct {
	re    *regexp.Regexp
	names map[string]int // 捕获组名 → 子匹配下标
}

// New 编译正则；语法错误归类为配置错误（在任何目录扫描之前返回）。
func New(pattern string) (*Matcher, error) {
	if strings.TrimSpace(pattern) == "" {
		return nil, fmt.Errorf("%w: regex is empty", contract.ErrConfigInvalid)
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("%w: regex: %v", contract.ErrConfigInvalid, err)
	}
	names := make(map[string]int)
	for i, n := range re.SubexpNames() {
		if n != "" {
			names[n] = i
		}
	}
	return &Matcher{re: re, names: names}, nil
}

// Names 返回命名捕获组（按出现顺序）。
func (m *Matcher) Names() []string {
	out := make([]string, 0, len(m.names))
	for _, n := range m.re.SubexpNames() {
		if n != "" {
			out = append(out, n)
		}
	}
	return out
}

// CheckFields 校验 fields 全部为命名捕获组。
func (m *Matcher) CheckFields(fields []string) error {
	var missing []string
	for _, f := range fields {
		if _, ok := m.names[f]; !ok {
			missing = append(missing, f)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: groupby %v not captured by regex (groups: %v)", contract.ErrConfigInvalid, missing, m.Names())
	}
	return nil
}

// Match 对单个文件名做部分匹配；未匹配返回 ok=false。
// 未参与匹配的捕获组不写入 Fields。
func (m *Matcher) Match(name string) (contract.Fields, bool) {
	loc := m.re.FindStringSubmatchIndex(name)
	if loc == nil {
		return nil, false
	}
	f := make(contract.Fields, len(m.names))
	for n, i := range m.names {
		if loc[2*i] < 0 {
			continue
		}
		f[n] = name[loc[2*i]:loc[2*i+1]]
	}
	return f, true
}

// Scan 非递归扫描 dir，对每个非目录项做匹配。
// 顺序沿用 os.ReadDir（按文件名字典序）。
func (m *Matcher) Scan(ctx context.Context, dir string) ([]contract.ImageRecord, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var out []contract.ImageRecord
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		// 目录符号链接同样跳过
		if e.Type()&os.ModeSymlink != 0 {
			if st, err := os.Stat(filepath.Join(dir, e.Name())); err == nil && st.IsDir() {
				continue
			}
		}
		fields, ok := m.Match(e.Name())
		if !ok {
			continue
		}
		out = append(out, contract.ImageRecord{
			Fields:   fields,
			Filename: e.Name(),
			Path:     filepath.Join(dir, e.Name()),
		})
	}
	return out, nil
}

var _ contract.Matcher = (*Matcher)(nil)
