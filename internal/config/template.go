package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
)

// DefaultTemplateConfig 返回一个“可运行”的默认配置：
// - 示例正则匹配 <well>_<channel>.tif，按 well 与 channel 分组；
// - 目录留空，由命令行位置参数提供；
// - 组件名与选项取仓库内置实现的中性默认值。
func DefaultTemplateConfig() Config {
	d := Defaults()
	return Config{
		Regex:      `(?P<well>[A-Z]\d{2})_(?P<channel>\d+)\.tiff?$`,
		GroupBy:    []string{"well", "channel"},
		BatchSize:  d.BatchSize,
		Workers:    d.Workers,
		Logging:    d.Logging,
		Components: d.Components,
		Options: Options{
			Estimator: map[string]any{"smoothness": 0.0, "get_darkfield": false, "epsilon": 0.0},
			Writer:    map[string]any{"atomic": true, "tiff_compression": "deflate", "perm_file": 0, "perm_dir": 0, "buf_size": 65536},
		},
	}
}

// templateYAML 与 DefaultTemplateConfig 对应的带注释 YAML。
const templateYAML = `# basiccorr 配置（由 --init-config 生成）
# 优先级：CLI > ENV(.env) > 本文件 > 内置默认

# 文件名正则；必须包含 groupby 中列出的命名捕获组（Go RE2 语法，支持 (?P<name>...)）。
regex: '(?P<well>[A-Z]\d{2})_(?P<channel>\d+)\.tiff?$'

# 分组字段；留空列表表示全部文件一组（平场文件名 flatfield.png）。
groupby: [well, channel]

# 每批图像数；0 表示整组一批。
batch_size: 0

# 估计器内部并行度。
workers: 1

# 目录通常由命令行位置参数提供：basiccorr <input_dir> <output_dir> <flatfield_dir>
# input_dir: ""
# output_dir: ""
# flatfield_dir: ""

logging:
  level: info   # debug|info|warn|error
  dir: logs

components:
  estimator: basic   # basic|identity
  writer: fs

options:
  estimator:
    smoothness: 0        # 高斯 sigma（像素）；0 自动，负数关闭平滑
    get_darkfield: false
    epsilon: 0           # 平场下限；0 使用 1e-6
  writer:
    atomic: true
    tiff_compression: deflate   # deflate|none
    perm_file: 0
    perm_dir: 0
    buf_size: 65536
`

// templateEnv 为 .env 模板：包含全部支持的覆盖项。
const templateEnv = `# basiccorr .env 模板（由 --init-config 生成）
# 优先级：CLI > ENV(.env) > config.yaml
# 取消注释并填写需要覆盖的项；BASICCORR_GROUPBY 置空表示不分组。

# BASICCORR_REGEX=
# BASICCORR_GROUPBY=
# BASICCORR_BATCH_SIZE=
# BASICCORR_WORKERS=
# BASICCORR_LOG_LEVEL=
# BASICCORR_LOG_DIR=
# BASICCORR_ESTIMATOR=
# BASICCORR_WRITER=
# BASICCORR_INPUT_DIR=
# BASICCORR_OUTPUT_DIR=
# BASICCORR_FLATFIELD_DIR=
`

// TemplateYAML 返回带注释的默认 config.yaml 内容。
func TemplateYAML() string { return templateYAML }

// WriteTemplates 在 dir 下生成 config.yaml 与 .env（已存在则跳过，不覆盖）。
// 返回实际写出的文件路径。
func WriteTemplates(dir string) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	var written []string
	for _, f := range []struct{ name, body string }{
		{DefaultPath, templateYAML},
		{".env", templateEnv},
	} {
		p := filepath.Join(dir, f.name)
		ok, err := writeExclusive(p, f.body)
		if err != nil {
			return written, err
		}
		if ok {
			written = append(written, p)
		}
	}
	return written, nil
}

// writeExclusive 仅在文件不存在时创建并写入。
func writeExclusive(path, body string) (bool, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return false, nil
		}
		return false, err
	}
	defer f.Close()
	if _, err := f.WriteString(body); err != nil {
		return false, err
	}
	return true, nil
}
