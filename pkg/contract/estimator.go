package contract

import (
	"context"
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// Estimator: 外部照明校正估计器的两阶段协议（fit→transform）。
// 约束：
//  1. 每组一个新实例，状态不跨组共享；
//  2. Fit 可多次调用并累积统计；
//  3. Transform/Flatfield/Score 仅在至少一次 Fit 之后合法；
//  4. 首次 Transform 之后平场冻结，再次 Fit 返回 ErrPhase；
//  5. 内部并行度由构造时的 workers 决定，调用方不并发调用同一实例。
type Estimator interface {
	Fit(ctx context.Context, s Stack) error
	Transform(ctx context.Context, s Stack) (Stack, error)
	Flatfield() (*mat.Dense, error)
	Score() (float64, error)
}

// DarkfieldEstimator: 可选能力；支持暗场的估计器额外提供暗场（未启用时全零）。
// 与 Flatfield 相同，仅在至少一次 Fit 之后合法。
type DarkfieldEstimator interface {
	Darkfield() (*mat.Dense, error)
}

// NewEstimator: 每组调用一次，返回新的估计器实例。
type NewEstimator func() (Estimator, error)

// Phase: 估计器生命周期状态。
type Phase int

const (
	PhaseCreated Phase = iota
	PhaseFitted
	PhaseDone
)

func (p Phase) String() string {
	switch p {
	case PhaseCreated:
		return "created"
	case PhaseFitted:
		return "fitted"
	case PhaseDone:
		return "done"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// PhaseTracker: 显式状态机 {Created, Fitted, Done}，供估计器实现内嵌。
// 非并发安全（估计器实例本身只被顺序访问）。
type PhaseTracker struct {
	phase Phase
	fits  int
}

// Phase 返回当前状态。
func (t *PhaseTracker) Phase() Phase { return t.phase }

// Fits 返回已接受的 Fit 次数。
func (t *PhaseTracker) Fits() int { return t.fits }

// BeginFit: Created/Fitted → Fitted；Done 状态下拒绝。
func (t *PhaseTracker) BeginFit() error {
	if t.phase == PhaseDone {
		return fmt.Errorf("%w: fit after transform", ErrPhase)
	}
	t.phase = PhaseFitted
	t.fits++
	return nil
}

// BeginTransform: Fitted/Done → Done；Created 状态下拒绝。
func (t *PhaseTracker) BeginTransform() error {
	if t.phase == PhaseCreated {
		return fmt.Errorf("%w: transform before fit", ErrPhase)
	}
	t.phase = PhaseDone
	return nil
}

// RequireFitted: 读取平场/分数前的检查。
func (t *PhaseTracker) RequireFitted() error {
	if t.phase == PhaseCreated {
		return fmt.Errorf("%w: no fit yet", ErrPhase)
	}
	return nil
}
