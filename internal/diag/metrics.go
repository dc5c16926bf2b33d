package diag

import (
	"maps"
	"sync"
)

// 进程内指标（计数器，无导出端点）。
// 名称：
// - op_total{comp,stage,result}
// - error_total{comp,code}
// - op_duration_ms{comp,stage}（累计）

var (
	metricsMu sync.Mutex
	opTotal   = map[string]int64{}
	errTotal  = map[string]int64{}
	durTotal  = map[string]int64{}
)

// IncOp 累加操作计数（result=success|error）。
func IncOp(comp, stage, result string) {
	metricsMu.Lock()
	opTotal[comp+"/"+stage+"/"+result]++
	metricsMu.Unlock()
}

// IncError 按分类累加错误计数。
func IncError(comp, code string) {
	metricsMu.Lock()
	errTotal[comp+"/"+code]++
	metricsMu.Unlock()
}

// ObserveDuration 记录阶段耗时（毫秒，累计）。
func ObserveDuration(comp, stage string, durMS int64) {
	metricsMu.Lock()
	durTotal[comp+"/"+stage] += durMS
	metricsMu.Unlock()
}

// Metrics 为某一时刻的指标快照。键形如 "comp/stage/result"。
type Metrics struct {
	Ops        map[string]int64
	Errors     map[string]int64
	DurationMS map[string]int64
}

// Op 返回 op_total{comp,stage,result}。
func (m Metrics) Op(comp, stage, result string) int64 { return m.Ops[comp+"/"+stage+"/"+result] }

// Error 返回 error_total{comp,code}。
func (m Metrics) Error(comp, code string) int64 { return m.Errors[comp+"/"+code] }

// Snapshot 返回当前指标的副本。
func Snapshot() Metrics {
	metricsMu.Lock()
	defer metricsMu.Unlock()
	return Metrics{Ops: maps.Clone(opTotal), Errors: maps.Clone(errTotal), DurationMS: maps.Clone(durTotal)}
}

// ResetMetrics 清空计数（测试与多次运行之间使用）。
func ResetMetrics() {
	metricsMu.Lock()
	clear(opTotal)
	clear(errTotal)
	clear(durTotal)
	metricsMu.Unlock()
}
