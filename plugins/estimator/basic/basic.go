// Package basic 实现 BaSiC 风格的平场/暗场估计器。
//
// 估计分两阶段：Fit 跨批累积逐像素统计量（和、最小值）；首次读取平场或
// Transform 时冻结统计量，计算平场并按 (img − darkfield) / flatfield 校正。
// 平场 = 高斯平滑后的平均图像，归一化到均值 1。
package basic

import (
	"context"
	"fmt"
	"math"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"basiccorr/pkg/contract"
)

// Options 为 basic 估计器的可选配置。
type Options struct {
	// Smoothness: 高斯平滑 sigma（像素）。0 表示自动：max(rows, cols)/16。负数关闭平滑。
	Smoothness float64 `json:"smoothness"`
	// GetDarkfield: 是否估计暗场（逐像素最小值的平滑结果）。默认 false（暗场为 0）。
	GetDarkfield bool `json:"get_darkfield"`
	// Epsilon: 平场下限，避免除零。<=0 时取 1e-6。
	Epsilon float64 `json:"epsilon"`
}

// Estimator 累积统计并产出平场；每组一个实例。
type Estimator struct {
	contract.PhaseTracker

	sigma   float64
	dark    bool
	eps     float64
	workers int

	rows, cols int
	n          int
	sum        []float64
	min        []float64

	// 冻结结果（Fit 时失效）
	flat  *mat.Dense
	darkF *mat.Dense
	score float64
}

// New 创建估计器；workers<1 视为 1。
func New(opts *Options, workers int) *Estimator {
	e := &Estimator{eps: 1e-6, workers: workers}
	if e.workers < 1 {
		e.workers = 1
	}
	if opts != nil {
		e.sigma = opts.Smoothness
		e.dark = opts.GetDarkfield
		if opts.Epsilon > 0 {
			e.eps = opts.Epsilon
		}
	}
	return e
}

// Fit 累积一个批的统计量。
func (e *Estimator) Fit(ctx context.Context, s contract.Stack) error {
	if e.Phase() == contract.PhaseDone {
		return fmt.Errorf("%w: fit after transform", contract.ErrPhase)
	}
	if err := e.checkStack(s); err != nil {
		return err
	}
	if err := e.BeginFit(); err != nil {
		return err
	}
	if e.sum == nil {
		e.rows, e.cols = s.Dims()
		e.sum = make([]float64, e.rows*e.cols)
		if e.dark {
			e.min = make([]float64, e.rows*e.cols)
			for i := range e.min {
				e.min[i] = math.Inf(1)
			}
		}
	}
	e.flat, e.darkF = nil, nil
	err := e.parallel(ctx, e.rows, func(lo, hi int) {
		for _, m := range s {
			raw := m.RawMatrix()
			for y := lo; y < hi; y++ {
				row := raw.Data[y*raw.Stride : y*raw.Stride+e.cols]
				acc := e.sum[y*e.cols : (y+1)*e.cols]
				floats.Add(acc, row)
				if e.min != nil {
					mn := e.min[y*e.cols : (y+1)*e.cols]
					for x, v := range row {
						if v < mn[x] {
							mn[x] = v
						}
					}
				}
			}
		}
	})
	if err != nil {
		return err
	}
	e.n += len(s)
	return nil
}

// Transform 校正一个批；首次调用冻结平场。
func (e *Estimator) Transform(ctx context.Context, s contract.Stack) (contract.Stack, error) {
	if err := e.BeginTransform(); err != nil {
		return nil, err
	}
	if err := e.checkStack(s); err != nil {
		return nil, err
	}
	if err := e.freeze(ctx); err != nil {
		return nil, err
	}
	out := make(contract.Stack, len(s))
	flat := e.flat.RawMatrix().Data
	var dark []float64
	if e.darkF != nil {
		dark = e.darkF.RawMatrix().Data
	}
	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)
	for i := range s {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			src := s[i].RawMatrix()
			dst := make([]float64, e.rows*e.cols)
			for y := 0; y < e.rows; y++ {
				row := src.Data[y*src.Stride : y*src.Stride+e.cols]
				for x, v := range row {
					k := y*e.cols + x
					if dark != nil {
						v -= dark[k]
					}
					dst[k] = v / flat[k]
				}
			}
			out[i] = mat.NewDense(e.rows, e.cols, dst)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// Flatfield 返回平场副本（均值为 1）。
func (e *Estimator) Flatfield() (*mat.Dense, error) {
	if err := e.RequireFitted(); err != nil {
		return nil, err
	}
	if err := e.freeze(context.Background()); err != nil {
		return nil, err
	}
	return mat.DenseCopyOf(e.flat), nil
}

// Darkfield 返回暗场副本；未启用暗场时为全零。
func (e *Estimator) Darkfield() (*mat.Dense, error) {
	if err := e.RequireFitted(); err != nil {
		return nil, err
	}
	if err := e.freeze(context.Background()); err != nil {
		return nil, err
	}
	if e.darkF == nil {
		return mat.NewDense(e.rows, e.cols, nil), nil
	}
	return mat.DenseCopyOf(e.darkF), nil
}

// Score 返回平场标准差（照明非均匀度，越小越均匀）。
func (e *Estimator) Score() (float64, error) {
	if err := e.RequireFitted(); err != nil {
		return 0, err
	}
	if err := e.freeze(context.Background()); err != nil {
		return 0, err
	}
	return e.score, nil
}

// Images 返回已累积的图像数量。
func (e *Estimator) Images() int { return e.n }

func (e *Estimator) checkStack(s contract.Stack) error {
	if err := s.CheckShape(); err != nil {
		return err
	}
	if e.sum != nil {
		if r, c := s.Dims(); r != e.rows || c != e.cols {
			return fmt.Errorf("%w: got %dx%d, fitted %dx%d", contract.ErrShapeMismatch, r, c, e.rows, e.cols)
		}
	}
	return nil
}

// freeze 由累积统计计算暗场、平场与分数（幂等）。
func (e *Estimator) freeze(ctx context.Context) error {
	if e.flat != nil {
		return nil
	}
	if e.n == 0 {
		return fmt.Errorf("%w: no images fitted", contract.ErrPhase)
	}
	size := e.rows * e.cols
	mean := make([]float64, size)
	floats.ScaleTo(mean, 1/float64(e.n), e.sum)

	sigma := e.sigma
	if sigma == 0 {
		sigma = float64(max(e.rows, e.cols)) / 16
	}

	if e.min != nil {
		d, err := e.smooth(ctx, e.min, sigma)
		if err != nil {
			return err
		}
		for i := range d {
			if d[i] < 0 {
				d[i] = 0
			}
		}
		floats.Sub(mean, d)
		e.darkF = mat.NewDense(e.rows, e.cols, d)
	}

	base, err := e.smooth(ctx, mean, sigma)
	if err != nil {
		return err
	}
	m := floats.Sum(base) / float64(size)
	if m <= 0 || math.IsNaN(m) || math.IsInf(m, 0) {
		// 全暗或退化输入：无法估计照明，平场取 1
		for i := range base {
			base[i] = 1
		}
	} else {
		floats.Scale(1/m, base)
		for i, v := range base {
			if v < e.eps || math.IsNaN(v) {
				base[i] = e.eps
			}
		}
	}
	e.flat = mat.NewDense(e.rows, e.cols, base)
	e.score = stat.StdDev(base, nil)
	if math.IsNaN(e.score) {
		e.score = 0
	}
	return nil
}

// parallel 按行切块，以 workers 为上限并行执行 fn(lo, hi)。
func (e *Estimator) parallel(ctx context.Context, n int, fn func(lo, hi int)) error {
	if n <= 0 {
		return nil
	}
	chunk := (n + e.workers - 1) / e.workers
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)
	for lo := 0; lo < n; lo += chunk {
		lo, hi := lo, min(lo+chunk, n)
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			fn(lo, hi)
			return nil
		})
	}
	return g.Wait()
}

var (
	_ contract.Estimator          = (*Estimator)(nil)
	_ contract.DarkfieldEstimator = (*Estimator)(nil)
)
