package config

// Config: 运行期只读配置（一次解析，运行期不变）。
// YAML/JSON 键使用 snake_case；未知字段在解析期失败。
type Config struct {
	// Regex: 带命名捕获组的文件名正则（必需）。
	Regex string `yaml:"regex" json:"regex"`
	// GroupBy: 分组字段（必须是 Regex 的命名捕获组）；空表示全部文件一组。
	GroupBy []string `yaml:"groupby" json:"groupby"`
	// BatchSize: 每批图像数；0 表示整组一批；<0 表示未设置（仅用于覆盖层）。
	BatchSize int `yaml:"batch_size" json:"batch_size"`
	// Workers: 估计器内部并行度（>=1）；0 表示未设置。
	Workers int `yaml:"workers" json:"workers"`

	// 目录（通常由命令行位置参数提供）。
	InputDir     string `yaml:"input_dir" json:"input_dir"`
	OutputDir    string `yaml:"output_dir" json:"output_dir"`
	FlatfieldDir string `yaml:"flatfield_dir" json:"flatfield_dir"`

	Logging Logging `yaml:"logging" json:"logging"`

	// 组件名选择（空则使用默认名）。
	Components Components `yaml:"components" json:"components"`

	// 各组件 Options 子树，转为 JSON 后交由工厂严格解码。
	Options Options `yaml:"options" json:"options"`
}

// Logging: 日志等级与目录；轮转策略为固定默认。
type Logging struct {
	Level string `yaml:"level" json:"level"`
	Dir   string `yaml:"dir" json:"dir"`
}

// Components: 组件名选择（注册表中的实现名）。
type Components struct {
	Estimator string `yaml:"estimator" json:"estimator"`
	Writer    string `yaml:"writer" json:"writer"`
}

// Options: 各组件的原样 Options（整体替换，不做深度合并）。
type Options struct {
	Estimator map[string]any `yaml:"estimator" json:"estimator"`
	Writer    map[string]any `yaml:"writer" json:"writer"`
}
