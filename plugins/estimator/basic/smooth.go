package basic

import (
	"context"
	"math"
)

// gaussianKernel 返回归一化的一维高斯核（半径 ceil(3σ)）。
func gaussianKernel(sigma float64) []float64 {
	r := int(math.Ceil(3 * sigma))
	k := make([]float64, 2*r+1)
	var s float64
	for i := -r; i <= r; i++ {
		v := math.Exp(-float64(i*i) / (2 * sigma * sigma))
		k[i+r] = v
		s += v
	}
	for i := range k {
		k[i] /= s
	}
	return k
}

// reflect 将越界下标镜像回 [0, n)（边缘样本重复，等价于 symmetric 边界）。
func reflect(i, n int) int {
	for i < 0 || i >= n {
		if i < 0 {
			i = -i - 1
		}
		if i >= n {
			i = 2*n - i - 1
		}
	}
	return i
}

// smooth 对 rows×cols 的数组做可分离高斯平滑，返回新数组。
// sigma<=0 时返回副本。
func (e *Estimator) smooth(ctx context.Context, src []float64, sigma float64) ([]float64, error) {
	out := make([]float64, len(src))
	if sigma <= 0 {
		copy(out, src)
		return out, nil
	}
	k := gaussianKernel(sigma)
	r := len(k) / 2
	rows, cols := e.rows, e.cols
	tmp := make([]float64, len(src))
	// 水平
	err := e.parallel(ctx, rows, func(lo, hi int) {
		for y := lo; y < hi; y++ {
			row := src[y*cols : (y+1)*cols]
			for x := 0; x < cols; x++ {
				var acc float64
				for j, w := range k {
					acc += w * row[reflect(x+j-r, cols)]
				}
				tmp[y*cols+x] = acc
			}
		}
	})
	if err != nil {
		return nil, err
	}
	// 垂直
	err = e.parallel(ctx, rows, func(lo, hi int) {
		for y := lo; y < hi; y++ {
			for x := 0; x < cols; x++ {
				var acc float64
				for j, w := range k {
					acc += w * tmp[reflect(y+j-r, rows)*cols+x]
				}
				out[y*cols+x] = acc
			}
		}
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
