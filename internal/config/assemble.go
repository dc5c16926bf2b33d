package config

import (
	"fmt"
	"strings"

	"basiccorr/internal/pipeline"
	"basiccorr/pkg/contract"
	"basiccorr/pkg/registry"
	"basiccorr/plugins/batcher/fixed"
	"basiccorr/plugins/grouper/fields"
	"basiccorr/plugins/matcher/regex"
	rfs "basiccorr/plugins/reader/filesystem"
)

// Validate 对最小必要边界做静态校验（不触碰任何目录）。
// 所有错误均包装 contract.ErrConfigInvalid。
func Validate(cfg Config) error {
	m, err := regex.New(cfg.Regex)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if err := m.CheckFields(cfg.GroupBy); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if cfg.BatchSize < 0 {
		return invalid("batch_size must be >= 0")
	}
	if cfg.Workers < 1 {
		return invalid("workers must be >= 1")
	}
	if strings.TrimSpace(cfg.InputDir) == "" {
		return invalid("input_dir not set")
	}
	if strings.TrimSpace(cfg.OutputDir) == "" {
		return invalid("output_dir not set")
	}
	if strings.TrimSpace(cfg.FlatfieldDir) == "" {
		return invalid("flatfield_dir not set")
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Logging.Level)) {
	case "", "debug", "info", "warn", "error":
	default:
		return invalid(fmt.Sprintf("logging.level %q (want debug|info|warn|error)", cfg.Logging.Level))
	}
	// 组件名若为空，使用默认名（由 Defaults() 提供）。此处只要最终有值即可。
	if name := effName(cfg.Components.Estimator, Defaults().Components.Estimator); registry.Estimator[name] == nil {
		return invalid(fmt.Sprintf("estimator %q not registered (have %v)", name, registry.Names(registry.Estimator)))
	}
	if name := effName(cfg.Components.Writer, Defaults().Components.Writer); registry.Writer[name] == nil {
		return invalid(fmt.Sprintf("writer %q not registered (have %v)", name, registry.Names(registry.Writer)))
	}
	return nil
}

// Assemble 构造 Components 与 Settings。
// 严格 Options 解析在 registry（工厂）层进行；此处只传 JSON。
func Assemble(cfg Config) (pipeline.Components, pipeline.Settings, error) {
	if err := Validate(cfg); err != nil {
		return pipeline.Components{}, pipeline.Settings{}, err
	}

	// 有效名称
	d := Defaults()
	en := effName(cfg.Components.Estimator, d.Components.Estimator)
	wn := effName(cfg.Components.Writer, d.Components.Writer)

	env := registry.Env{Workers: cfg.Workers, OutputDir: cfg.OutputDir, FlatfieldDir: cfg.FlatfieldDir}

	m, err := regex.New(cfg.Regex)
	if err != nil {
		return pipeline.Components{}, pipeline.Settings{}, err
	}
	eraw, err := optionsJSON(cfg.Options.Estimator)
	if err != nil {
		return pipeline.Components{}, pipeline.Settings{}, err
	}
	newEst, err := registry.Estimator[en](eraw, env)
	if err != nil {
		return pipeline.Components{}, pipeline.Settings{}, fmt.Errorf("%w: options.estimator: %v", contract.ErrConfigInvalid, err)
	}
	wraw, err := optionsJSON(cfg.Options.Writer)
	if err != nil {
		return pipeline.Components{}, pipeline.Settings{}, err
	}
	w, err := registry.Writer[wn](wraw, env)
	if err != nil {
		return pipeline.Components{}, pipeline.Settings{}, fmt.Errorf("%w: options.writer: %v", contract.ErrConfigInvalid, err)
	}

	comp := pipeline.Components{
		Matcher:      m,
		Grouper:      fields.New(),
		Batcher:      fixed.New(),
		Loader:       rfs.New(nil),
		NewEstimator: newEst,
		Writer:       w,
	}
	set := pipeline.Settings{
		InputDir:  cfg.InputDir,
		GroupBy:   cloneStrings(cfg.GroupBy),
		BatchSize: cfg.BatchSize,
		Workers:   cfg.Workers,
		Estimator: en,
	}
	return comp, set, nil
}

func invalid(msg string) error {
	return fmt.Errorf("config: %w: %s", contract.ErrConfigInvalid, msg)
}

func effName(got, def string) string {
	if got == "" {
		return def
	}
	return got
}
