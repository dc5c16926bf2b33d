package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"maps"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/tailscale/hujson"
	"gopkg.in/yaml.v3"

	"basiccorr/pkg/contract"
)

// DefaultPath 为默认配置文件路径（相对工作目录）。
const DefaultPath = "config.yaml"

// EnvPrefix 为环境变量前缀。
const EnvPrefix = "BASICCORR_"

// Defaults 返回带有安全默认值的 Config 雏形。
// 注意：Regex 不设默认（必须由配置/ENV 提供）。
func Defaults() Config {
	return Config{
		BatchSize: 0,
		Workers:   1,
		Logging:   Logging{Level: "info", Dir: "logs"},
		Components: Components{
			Estimator: "basic",
			Writer:    "fs",
		},
	}
}

// Unset 返回“全部未设置”的覆盖层（BatchSize=-1）。
func Unset() Config { return Config{BatchSize: -1} }

// Load 读取配置文件。
// - 文件不存在：返回空覆盖层与 loaded=false（不是错误）；
// - .json/.jsonc/.hujson：HuJSON（允许注释与尾逗号）→ 严格 JSON；
// - 其他扩展名：YAML（KnownFields）。
// 未知字段与语法错误均归类为 ErrConfigInvalid。
func Load(path string) (cfg Config, loaded bool, err error) {
	cfg = Unset()
	if strings.TrimSpace(path) == "" {
		return cfg, false, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return cfg, false, nil
		}
		return cfg, false, err
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".jsonc", ".hujson":
		err = decodeHuJSON(raw, &cfg)
	default:
		err = decodeYAML(raw, &cfg)
	}
	if err != nil {
		return Unset(), false, fmt.Errorf("%w: %s: %v", contract.ErrConfigInvalid, path, err)
	}
	return cfg, true, nil
}

func decodeYAML(raw []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func decodeHuJSON(raw []byte, cfg *Config) error {
	std, err := hujson.Standardize(raw)
	if err != nil {
		return err
	}
	if len(bytes.TrimSpace(std)) == 0 {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(std))
	dec.DisallowUnknownFields()
	return dec.Decode(cfg)
}

// LoadDotEnv 加载 .env 到进程环境（不覆盖已存在的变量）；文件不存在时忽略。
func LoadDotEnv(path string) error {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return err
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("%w: %s: %v", contract.ErrConfigInvalid, path, err)
	}
	return nil
}

// Merge 按优先级合并（后者覆盖前者）。
// 仅标量/字符串/整段 Options 为“替换”；不做深度合并。
func Merge(base, over Config) Config {
	out := base
	if strings.TrimSpace(over.Regex) != "" {
		out.Regex = over.Regex
	}
	// groupby：nil 表示未设置；显式空列表可覆盖为“不分组”
	if over.GroupBy != nil {
		out.GroupBy = cloneStrings(over.GroupBy)
	}
	// 特殊：BatchSize 的 0 具有语义（整组一批），需要显式可覆盖。
	// 约定：over.BatchSize >= 0 时认为“存在”，<0 视为未覆盖。
	if over.BatchSize >= 0 {
		out.BatchSize = over.BatchSize
	}
	if over.Workers != 0 {
		out.Workers = over.Workers
	}
	if strings.TrimSpace(over.InputDir) != "" {
		out.InputDir = over.InputDir
	}
	if strings.TrimSpace(over.OutputDir) != "" {
		out.OutputDir = over.OutputDir
	}
	if strings.TrimSpace(over.FlatfieldDir) != "" {
		out.FlatfieldDir = over.FlatfieldDir
	}
	if strings.TrimSpace(over.Logging.Level) != "" {
		out.Logging.Level = strings.TrimSpace(over.Logging.Level)
	}
	if strings.TrimSpace(over.Logging.Dir) != "" {
		out.Logging.Dir = over.Logging.Dir
	}

	// 组件名（空不覆盖）
	if over.Components.Estimator != "" {
		out.Components.Estimator = over.Components.Estimator
	}
	if over.Components.Writer != "" {
		out.Components.Writer = over.Components.Writer
	}

	// Options（完整替换对应键）
	if over.Options.Estimator != nil {
		out.Options.Estimator = maps.Clone(over.Options.Estimator)
	}
	if over.Options.Writer != nil {
		out.Options.Writer = maps.Clone(over.Options.Writer)
	}
	return out
}

// EnvOverlay 从环境变量构建一个 Config 覆盖（仅解析有限键集合）。
// 规则：前缀 BASICCORR_；集合之外的键忽略。
// 支持：REGEX, GROUPBY（逗号分隔，空值表示不分组）, BATCH_SIZE, WORKERS, LOG_LEVEL, LOG_DIR,
// ESTIMATOR, WRITER, INPUT_DIR, OUTPUT_DIR, FLATFIELD_DIR。
func EnvOverlay(environ []string) (Config, error) {
	over := Unset()
	for _, kv := range environ {
		if !strings.HasPrefix(kv, EnvPrefix) {
			continue
		}
		eq := strings.IndexByte(kv, '=')
		if eq <= len(EnvPrefix) {
			continue
		}
		key := strings.TrimPrefix(kv[:eq], EnvPrefix)
		val := kv[eq+1:]
		switch key {
		case "REGEX":
			over.Regex = val
		case "GROUPBY":
			over.GroupBy = splitComma(val)
			if over.GroupBy == nil {
				over.GroupBy = []string{}
			}
		case "BATCH_SIZE":
			if strings.TrimSpace(val) == "" {
				continue
			}
			v, err := atoi(val)
			if err != nil {
				return Unset(), fmt.Errorf("%w: %sBATCH_SIZE: %v", contract.ErrConfigInvalid, EnvPrefix, err)
			}
			over.BatchSize = v
		case "WORKERS":
			if strings.TrimSpace(val) == "" {
				continue
			}
			v, err := atoi(val)
			if err != nil {
				return Unset(), fmt.Errorf("%w: %sWORKERS: %v", contract.ErrConfigInvalid, EnvPrefix, err)
			}
			over.Workers = v
		case "LOG_LEVEL":
			over.Logging.Level = strings.TrimSpace(val)
		case "LOG_DIR":
			over.Logging.Dir = strings.TrimSpace(val)
		case "ESTIMATOR":
			over.Components.Estimator = strings.TrimSpace(val)
		case "WRITER":
			over.Components.Writer = strings.TrimSpace(val)
		case "INPUT_DIR":
			over.InputDir = val
		case "OUTPUT_DIR":
			over.OutputDir = val
		case "FLATFIELD_DIR":
			over.FlatfieldDir = val
		}
	}
	return over, nil
}

// optionsJSON 将 Options 子树转为 JSON，交由工厂严格解码。
func optionsJSON(m map[string]any) (json.RawMessage, error) {
	if m == nil {
		return nil, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("%w: options: %v", contract.ErrConfigInvalid, err)
	}
	return b, nil
}

func cloneStrings(in []string) []string {
	out := make([]string, len(in))
	copy(out, in)
	return out
}

func splitComma(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := parts[:0]
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func atoi(s string) (int, error) {
	return strconv.Atoi(strings.TrimSpace(s))
}
