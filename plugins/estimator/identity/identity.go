// Package identity 提供不做校正的估计器：平场恒为 1，Transform 原样复制。
// 用于空跑（只验证匹配/分组/批处理与输出）以及编排测试。
package identity

import (
	"context"
	"fmt"
	"os"
	"sync"

	"gonum.org/v1/gonum/mat"

	"basiccorr/pkg/contract"
)

// Options 定义可选项。
type Options struct {
	// FailFit: 第 N 次 Fit 返回错误（1 起算，0 关闭），用于错误路径联调。
	FailFit int `json:"fail_fit,omitempty"`
	// LogPath: 调试用日志文件，逐行追加每次调用（可选）。
	LogPath string `json:"log_path,omitempty"`
}

// Call 记录一次 Fit/Transform 调用。
type Call struct {
	Op string // "fit" | "transform"
	N  int    // 栈内图像数
}

// Estimator 为恒等估计器。
type Estimator struct {
	contract.PhaseTracker

	opts       Options
	rows, cols int

	mu    sync.Mutex
	calls []Call
}

// New 构造估计器。
func New(opts *Options) *Estimator {
	e := &Estimator{}
	if opts != nil {
		e.opts = *opts
	}
	return e
}

// Fit 仅记录尺寸。
func (e *Estimator) Fit(_ context.Context, s contract.Stack) error {
	if err := e.check(s); err != nil {
		return err
	}
	if err := e.BeginFit(); err != nil {
		return err
	}
	e.rows, e.cols = s.Dims()
	e.record("fit", len(s))
	if e.opts.FailFit > 0 && e.Fits() == e.opts.FailFit {
		return fmt.Errorf("identity: injected failure at fit %d", e.Fits())
	}
	return nil
}

// Transform 返回输入的深拷贝。
func (e *Estimator) Transform(ctx context.Context, s contract.Stack) (contract.Stack, error) {
	if err := e.BeginTransform(); err != nil {
		return nil, err
	}
	if err := e.check(s); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make(contract.Stack, len(s))
	for i, m := range s {
		out[i] = mat.DenseCopyOf(m)
	}
	e.record("transform", len(s))
	return out, nil
}

// Flatfield 返回全 1 平场。
func (e *Estimator) Flatfield() (*mat.Dense, error) {
	if err := e.RequireFitted(); err != nil {
		return nil, err
	}
	data := make([]float64, e.rows*e.cols)
	for i := range data {
		data[i] = 1
	}
	return mat.NewDense(e.rows, e.cols, data), nil
}

// Darkfield 返回全 0 暗场。
func (e *Estimator) Darkfield() (*mat.Dense, error) {
	if err := e.RequireFitted(); err != nil {
		return nil, err
	}
	return mat.NewDense(e.rows, e.cols, nil), nil
}

// Score 恒为 0（完全均匀）。
func (e *Estimator) Score() (float64, error) {
	if err := e.RequireFitted(); err != nil {
		return 0, err
	}
	return 0, nil
}

// Calls 返回调用记录副本。
func (e *Estimator) Calls() []Call {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Call(nil), e.calls...)
}

func (e *Estimator) check(s contract.Stack) error {
	if err := s.CheckShape(); err != nil {
		return err
	}
	if e.Fits() > 0 {
		if r, c := s.Dims(); r != e.rows || c != e.cols {
			return fmt.Errorf("%w: got %dx%d, fitted %dx%d", contract.ErrShapeMismatch, r, c, e.rows, e.cols)
		}
	}
	return nil
}

func (e *Estimator) record(op string, n int) {
	e.mu.Lock()
	e.calls = append(e.calls, Call{Op: op, N: n})
	e.mu.Unlock()
	if e.opts.LogPath != "" {
		// 追加写入，忽略错误。
		_ = appendFile(e.opts.LogPath, fmt.Sprintf("%s %d\n", op, n))
	}
}

// appendFile 以追加方式写入。
func appendFile(path, s string) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.WriteString(s)
	return err
}

var (
	_ contract.Estimator          = (*Estimator)(nil)
	_ contract.DarkfieldEstimator = (*Estimator)(nil)
)
