package pipeline

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"basiccorr/internal/diag"
	"basiccorr/pkg/contract"
)

// runGroup 处理单个分组：新建估计器 → 全部批 Fit → 逐批 Transform 并写出 → 写平场。
// 仅一批时复用 Fit 阶段已加载的栈；多批时 Transform 阶段重新加载，峰值内存为单批。
func runGroup(ctx context.Context, comp Components, set Settings, g contract.Group, logger *diag.Logger) (res GroupResult, err error) {
	name := g.Key.Name()
	res = GroupResult{Key: g.Key, Images: len(g.Members)}

	gtimer := logger.StartWithKV("group", "run", name, "", map[string]string{"images": strconv.Itoa(len(g.Members))})
	batches, err := comp.Batcher.Make(ctx, g, set.BatchSize)
	if err != nil {
		failed(logger, "batcher", "make failed", name, "", gtimer.Since(), err)
		return res, fmt.Errorf("batcher make: %w", err)
	}
	diag.IncOp("batcher", "finish", "success")
	res.Batches = len(batches)

	term := diag.GetTerminal()
	term.GroupStart(name, len(g.Members), len(batches))
	start := time.Now()
	ok := false
	defer func() { term.GroupFinish(ok, res.Score, time.Since(start)) }()

	est, err := comp.NewEstimator()
	if err != nil {
		failed(logger, "estimator", "create failed", name, "", gtimer.Since(), err)
		return res, fmt.Errorf("estimator new: %w", err)
	}

	// 阶段一：Fit
	var reuse contract.Stack
	for i, b := range batches {
		st, err := load(ctx, comp, b, name, logger)
		if err != nil {
			return res, err
		}
		bid := strconv.Itoa(b.Index)
		ftimer := logger.StartWith("estimator", "fit", name, bid)
		if err := est.Fit(ctx, st); err != nil {
			failed(logger, "estimator", "fit failed", name, bid, ftimer.Since(), err)
			return res, fmt.Errorf("estimator fit batch %d: %w", b.Index, err)
		}
		ftimer.Finish("fit", int64(len(st)))
		diag.IncOp("estimator", "fit", "success")
		if len(batches) == 1 {
			reuse = st
		}
		term.BatchProgress("fit", i+1, len(batches))
	}

	// 阶段二：Transform + 写出
	for i, b := range batches {
		st := reuse
		if st == nil {
			if st, err = load(ctx, comp, b, name, logger); err != nil {
				return res, err
			}
		}
		bid := strconv.Itoa(b.Index)
		ttimer := logger.StartWith("estimator", "transform", name, bid)
		out, err := est.Transform(ctx, st)
		if err != nil {
			failed(logger, "estimator", "transform failed", name, bid, ttimer.Since(), err)
			return res, fmt.Errorf("estimator transform batch %d: %w", b.Index, err)
		}
		if len(out) != len(b.Records) {
			err := fmt.Errorf("%w: transform returned %d images for %d inputs", contract.ErrInvariantViolation, len(out), len(b.Records))
			failed(logger, "estimator", "transform size mismatch", name, bid, ttimer.Since(), err)
			return res, err
		}
		ttimer.Finish("transform", int64(len(out)))
		diag.IncOp("estimator", "transform", "success")

		wtimer := logger.StartWith("writer", "write_images", name, bid)
		for j, rec := range b.Records {
			if err := comp.Writer.WriteImage(ctx, rec.Filename, out[j]); err != nil {
				failed(logger, "writer", "write image failed", name, bid, wtimer.Since(), err)
				return res, fmt.Errorf("writer write %s: %w", rec.Filename, err)
			}
		}
		wtimer.Finish("write_images", int64(len(b.Records)))
		diag.IncOp("writer", "image", "success")
		term.BatchProgress("transform", i+1, len(batches))
	}

	// 平场与分数（Transform 之后读取，估计器已冻结）
	flat, err := est.Flatfield()
	if err != nil {
		failed(logger, "estimator", "flatfield failed", name, "", gtimer.Since(), err)
		return res, fmt.Errorf("estimator flatfield: %w", err)
	}
	score, err := est.Score()
	if err != nil {
		failed(logger, "estimator", "score failed", name, "", gtimer.Since(), err)
		return res, fmt.Errorf("estimator score: %w", err)
	}
	res.Score = score
	if err := comp.Writer.WriteFlatfield(ctx, g.Key, flat, score); err != nil {
		failed(logger, "writer", "write flatfield failed", name, "", gtimer.Since(), err)
		return res, fmt.Errorf("writer flatfield: %w", err)
	}
	diag.IncOp("writer", "flatfield", "success")

	kv := map[string]string{
		"batches": strconv.Itoa(len(batches)),
		"score":   strconv.FormatFloat(score, 'f', 6, 64),
	}
	if de, ok := est.(contract.DarkfieldEstimator); ok {
		dark, err := de.Darkfield()
		if err != nil {
			failed(logger, "estimator", "darkfield failed", name, "", gtimer.Since(), err)
			return res, fmt.Errorf("estimator darkfield: %w", err)
		}
		raw := dark.RawMatrix().Data
		kv["dark_mean"] = strconv.FormatFloat(stat.Mean(raw, nil), 'f', 6, 64)
		kv["dark_max"] = strconv.FormatFloat(floats.Max(raw), 'f', 6, 64)
	}
	gtimer.FinishKV("run", int64(len(g.Members)), kv)
	diag.IncOp("group", "finish", "success")
	ok = true
	return res, nil
}

func load(ctx context.Context, comp Components, b contract.Batch, group string, logger *diag.Logger) (contract.Stack, error) {
	bid := strconv.Itoa(b.Index)
	if len(b.Records) == 0 {
		return nil, fmt.Errorf("loader load batch %d: %w", b.Index, contract.ErrEmptyBatch)
	}
	ltimer := logger.StartWith("loader", "load", group, bid)
	logger.DebugStart("loader", "load_req", group, bid, map[string]string{
		"first":   b.Records[0].Filename,
		"records": strconv.Itoa(len(b.Records)),
	})
	st, err := comp.Loader.Load(ctx, b)
	if err != nil {
		failed(logger, "loader", "load failed", group, bid, ltimer.Since(), err)
		return nil, fmt.Errorf("loader load batch %d: %w", b.Index, err)
	}
	ltimer.Finish("load", int64(len(st)))
	diag.IncOp("loader", "finish", "success")
	return st, nil
}
