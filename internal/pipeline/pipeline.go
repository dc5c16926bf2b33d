package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"basiccorr/internal/diag"
	"basiccorr/pkg/contract"
)

// - 严格顺序：组与组、批与批依次处理；并行只发生在估计器内部（workers）。
// - 两阶段：同一组内全部批先 Fit，再逐批 Transform 并立即写出；平场最后写出。
// - 首错即停：任一步骤失败立即返回该错误；此前已完成的组保留在磁盘上。

// Components 聚合运行所需的组件。
type Components struct {
	Matcher      contract.Matcher
	Grouper      contract.Grouper
	Batcher      contract.Batcher
	Loader       contract.ImageLoader
	NewEstimator contract.NewEstimator
	Writer       contract.Writer
}

// Settings 运行期配置（最小必要）。
type Settings struct {
	// 输入目录（输出目录由 Writer 决定，这里只保留输入）
	InputDir string
	GroupBy  []string
	// BatchSize: 0 表示整组一批。
	BatchSize int
	// Workers/Estimator 仅用于终端提示；并行度已在估计器构造时确定。
	Workers   int
	Estimator string
}

// GroupResult 单组处理结果。
type GroupResult struct {
	Key     contract.GroupKey
	Images  int
	Batches int
	Score   float64
}

// Summary 一次运行的汇总。
type Summary struct {
	Matched int // 匹配正则的文件数
	Skipped int // 缺少分组字段而被排除的文件数
	Groups  []GroupResult
}

// Images 返回已校正的图像总数。
func (s Summary) Images() int {
	n := 0
	for _, g := range s.Groups {
		n += g.Images
	}
	return n
}

// Run 执行完整流程：Writer.Prepare → Matcher → Grouper → 每组（Batcher → Loader → Estimator.Fit×N → Transform×N → Writer）。
func Run(ctx context.Context, comp Components, set Settings, logger *diag.Logger) (Summary, error) {
	var sum Summary
	if err := sanity(comp, set); err != nil {
		return sum, fmt.Errorf("sanity: %w", err)
	}

	// 输出位置先于扫描创建：即使无匹配文件，目录也存在
	if err := comp.Writer.Prepare(ctx); err != nil {
		failed(logger, "writer", "prepare failed", "", "", nil, err)
		return sum, fmt.Errorf("writer prepare: %w", err)
	}

	mtimer := logger.StartWithKV("matcher", "scan", "", "", map[string]string{"dir": set.InputDir})
	recs, err := comp.Matcher.Scan(ctx, set.InputDir)
	if err != nil {
		failed(logger, "matcher", "scan failed", "", "", mtimer.Since(), err)
		return sum, fmt.Errorf("matcher scan: %w", err)
	}
	mtimer.Finish("scan", int64(len(recs)))
	diag.IncOp("matcher", "finish", "success")
	sum.Matched = len(recs)

	gtimer := logger.Start("grouper", "group")
	groups, skipped, err := comp.Grouper.Group(ctx, recs, set.GroupBy)
	if err != nil {
		failed(logger, "grouper", "group failed", "", "", gtimer.Since(), err)
		return sum, fmt.Errorf("grouper group: %w", err)
	}
	gtimer.Finish("group", int64(len(groups)))
	diag.IncOp("grouper", "finish", "success")
	sum.Skipped = skipped
	if skipped > 0 {
		logger.Warn("grouper", "records missing groupby fields excluded", int64(skipped),
			map[string]string{"groupby": strings.Join(set.GroupBy, ",")})
	}
	if len(recs) == 0 {
		logger.Warn("matcher", "no files matched", 0, map[string]string{"dir": set.InputDir})
	}

	// 不可写的文件名在任何估计之前拒绝
	for _, g := range groups {
		for _, r := range g.Members {
			if err := comp.Writer.Accept(r.Filename); err != nil {
				failed(logger, "writer", "output name rejected", g.Key.Name(), "", nil, err)
				return sum, fmt.Errorf("group %s: %s: %w", g.Key.Name(), r.Filename, err)
			}
		}
	}

	runStart := time.Now()
	term := diag.GetTerminal()
	term.RunStart(set.Workers, set.Estimator, contract.GroupKey(set.GroupBy).Name())
	ok := false
	defer func() { term.RunFinish(ok, time.Since(runStart)) }()

	for _, g := range groups {
		res, err := runGroup(ctx, comp, set, g, logger)
		if err != nil {
			return sum, fmt.Errorf("group %s: %w", g.Key.Name(), err)
		}
		sum.Groups = append(sum.Groups, res)
	}
	logger.InfoFinish("pipeline", "run", runStart, int64(sum.Images()))
	ok = true
	return sum, nil
}

func sanity(c Components, s Settings) error {
	if c.Matcher == nil || c.Grouper == nil || c.Batcher == nil || c.Loader == nil || c.NewEstimator == nil || c.Writer == nil {
		return errors.New("pipeline: missing components")
	}
	if strings.TrimSpace(s.InputDir) == "" {
		return errors.New("pipeline: empty input dir")
	}
	if s.BatchSize < 0 {
		return errors.New("pipeline: batch size must be >= 0")
	}
	return nil
}

// failed 记录错误事件并累加指标。
func failed(logger *diag.Logger, comp, msg, group, batch string, since *time.Time, err error) {
	code := diag.Classify(err)
	logger.ErrorWithKV(comp, string(code), msg, since, group, batch, map[string]string{"err": err.Error()})
	diag.IncOp(comp, "error", "error")
	if code != diag.CodeUnknown {
		diag.IncError(comp, string(code))
	}
}
