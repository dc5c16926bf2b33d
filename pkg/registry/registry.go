package registry

import (
	"bytes"
	"encoding/json"
	"sort"

	"basiccorr/pkg/contract"
	basic "basiccorr/plugins/estimator/basic"
	ident "basiccorr/plugins/estimator/identity"
	wfs "basiccorr/plugins/writer/filesystem"
)

// strictUnmarshal: 使用 DisallowUnknownFields 严格解码，拒绝未知字段。
func strictUnmarshal(raw json.RawMessage, v any) error {
	if len(raw) == 0 || string(raw) == "null" {
		// 保持零值（默认选项）
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// Env: 工厂所需的运行期参数（来自已合并配置，不属于组件 Options）。
type Env struct {
	Workers      int
	OutputDir    string
	FlatfieldDir string
}

// NewEstimator 工厂签名：接收原样 JSON Options，返回“每组一个实例”的构造器。
// Options 在此处一次性校验，构造器本身不再失败于配置。
type NewEstimator func(raw json.RawMessage, env Env) (contract.NewEstimator, error)

// NewWriter 工厂签名：接收原样 JSON Options。
type NewWriter func(raw json.RawMessage, env Env) (contract.Writer, error)

// Estimator 工厂注册表（显式、零反射）。
var Estimator = map[string]NewEstimator{
	// basic: 平场/暗场估计（gonum）
	"basic": func(raw json.RawMessage, env Env) (contract.NewEstimator, error) {
		var opts basic.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return func() (contract.Estimator, error) { return basic.New(&opts, env.Workers), nil }, nil
	},
	// identity: 不校正，仅用于空跑
	"identity": func(raw json.RawMessage, _ Env) (contract.NewEstimator, error) {
		var opts ident.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return func() (contract.Estimator, error) { return ident.New(&opts), nil }, nil
	},
}

// Writer 工厂注册表。
var Writer = map[string]NewWriter{
	// fs: 文件系统 Writer（覆盖写/原子替换可配置）
	"fs": func(raw json.RawMessage, env Env) (contract.Writer, error) {
		var opts wfs.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		opts.OutputDir = env.OutputDir
		opts.FlatfieldDir = env.FlatfieldDir
		return wfs.New(&opts)
	},
}

// Names 返回注册表中的名称（排序），用于错误提示。
func Names[F any](m map[string]F) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
