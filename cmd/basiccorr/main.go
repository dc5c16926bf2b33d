package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	flag "github.com/spf13/pflag"

	cfgpkg "basiccorr/internal/config"
	"basiccorr/internal/diag"
	"basiccorr/internal/pipeline"
)

var pipelineRun = pipeline.Run

// 退出码
const (
	exitOK      = 0
	exitRuntime = 1
	exitUsage   = 2
	exitConfig  = 3
)

const usageLine = "用法: basiccorr [flags] <input_dir> <output_dir> <flatfield_dir>"

// 位置参数：<input_dir> <output_dir> <flatfield_dir>（也可全部由配置/ENV 提供）。
// 旗标：--config, --batch_size, --workers, --log-level, --status, --init-config
func main() {
	os.Exit(run(os.Args[1:], os.Stderr))
}

func run(args []string, stderr io.Writer) int {
	start := time.Now()
	corrID := uuid.NewString()
	// 在任何 ENV 读取前加载工作目录下的 .env（不覆盖已有 ENV）。
	if err := cfgpkg.LoadDotEnv(".env"); err != nil {
		fprintf(stderr, "提示：.env 解析失败（已忽略）：%v\n", err)
	}
	// 先用默认 level 占位，合并配置后按最终 level/dir 重建
	logger := diag.NewLogger(corrID, "info", "")
	defer func() { _ = logger.Close() }()

	fs := flag.NewFlagSet("basiccorr", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.SetNormalizeFunc(func(_ *flag.FlagSet, name string) flag.NormalizedName {
		return flag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})
	fs.Usage = func() {
		fprintf(stderr, "%s\n\n", usageLine)
		fs.PrintDefaults()
	}
	var (
		flagConfig    = fs.String("config", cfgpkg.DefaultPath, "配置文件路径（YAML 或 JSONC）；不存在时视为空配置")
		flagBatchSize = fs.Int("batch-size", 0, "每批图像数；0 表示整组一批（覆盖配置）")
		flagWorkers   = fs.Int("workers", 1, "估计器并行度（覆盖配置）")
		flagLogLevel  = fs.String("log-level", "", "日志级别 debug|info|warn|error（覆盖配置）")
		flagStatus    = fs.Bool("status", true, "终端状态提示（stderr）。TTY 动态刷新；非 TTY 逐组输出")
		flagInitDir   = fs.String("init-config", "", "在指定目录生成 config.yaml 与 .env 模板（已存在则跳过）；不带值时为当前目录")
	)
	fs.Lookup("init-config").NoOptDefVal = "."

	if err := fs.Parse(normalizeInitArg(args)); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitOK
		}
		return exitUsage
	}

	// --init-config: 生成模板并退出
	if fs.Changed("init-config") {
		dir := strings.TrimSpace(*flagInitDir)
		if dir == "" {
			dir = "."
		}
		written, err := cfgpkg.WriteTemplates(dir)
		if err != nil {
			fprintf(stderr, "生成默认配置失败: %v\n", err)
			logger.Error("config", string(diag.Classify(err)), "init-config failed", &start)
			return exitConfig
		}
		if len(written) == 0 {
			fprintf(stderr, "模板已存在，未覆盖: %s\n", dir)
		}
		for _, p := range written {
			fprintf(stderr, "已生成 %s\n", p)
		}
		return exitOK
	}

	dirs := fs.Args()
	if len(dirs) != 0 && len(dirs) != 3 {
		fprintf(stderr, "位置参数需为 0 个或 3 个，实际 %d 个\n%s\n", len(dirs), usageLine)
		return exitUsage
	}

	// 配置：默认 < 文件 < ENV < CLI
	fileCfg, loaded, err := cfgpkg.Load(*flagConfig)
	if err != nil {
		fprintf(stderr, "配置解析失败: %v\n", err)
		logger.Error("config", string(diag.Classify(err)), "first error", &start)
		return exitConfig
	}
	cfg := cfgpkg.Merge(cfgpkg.Defaults(), fileCfg)

	overEnv, err := cfgpkg.EnvOverlay(os.Environ())
	if err != nil {
		fprintf(stderr, "环境变量解析失败: %v\n", err)
		logger.Error("config", string(diag.Classify(err)), "first error", &start)
		return exitConfig
	}
	cfg = cfgpkg.Merge(cfg, overEnv)

	// CLI 覆盖：仅显式给出的旗标生效（--batch_size 0 亦可覆盖）
	overCLI := cfgpkg.Unset()
	if fs.Changed("batch-size") {
		if *flagBatchSize < 0 {
			fprintf(stderr, "--batch_size 必须 >= 0\n")
			return exitUsage
		}
		overCLI.BatchSize = *flagBatchSize
	}
	if fs.Changed("workers") {
		if *flagWorkers < 1 {
			fprintf(stderr, "--workers 必须 >= 1\n")
			return exitUsage
		}
		overCLI.Workers = *flagWorkers
	}
	if fs.Changed("log-level") {
		overCLI.Logging.Level = *flagLogLevel
	}
	if len(dirs) == 3 {
		overCLI.InputDir, overCLI.OutputDir, overCLI.FlatfieldDir = dirs[0], dirs[1], dirs[2]
	}
	cfg = cfgpkg.Merge(cfg, overCLI)

	if err := cfgpkg.Validate(cfg); err != nil {
		fprintf(stderr, "配置校验失败: %v\n", err)
		_ = dumpConfig(stderr, cfg)
		logger.Error("config", string(diag.Classify(err)), "first error", &start)
		return exitConfig
	}

	// 使用最终配置中的日志级别与目录重建 logger
	_ = logger.Close()
	logger = diag.NewLogger(corrID, cfg.Logging.Level, cfg.Logging.Dir)
	cfgSource := *flagConfig
	if !loaded {
		cfgSource = ""
	}
	logger.Info("config", "loaded", map[string]string{"file": cfgSource})

	// 预检：输出目录与平场目录须可写（或其父目录可写）
	for _, d := range []string{cfg.OutputDir, cfg.FlatfieldDir} {
		if err := preflightCheckDir(d); err != nil {
			fprintf(stderr, "输出目录不可写或无法创建: %v\n", err)
			logger.Error("pipeline", string(diag.Classify(err)), "first error", &start)
			return exitConfig
		}
	}

	comp, set, err := cfgpkg.Assemble(cfg)
	if err != nil {
		fprintf(stderr, "装配失败: %v\n", err)
		logger.Error("pipeline", string(diag.Classify(err)), "first error", &start)
		return exitConfig
	}

	// 终端信息提示（非日志）：按 CLI 启用，默认开启
	term := diag.NewTerminal(stderr, *flagStatus)
	diag.SetTerminal(term)
	defer diag.SetTerminal(nil)

	logger.DebugStart("config", "effective", "", "", map[string]string{
		"regex":         cfg.Regex,
		"groupby":       strings.Join(cfg.GroupBy, ","),
		"batch_size":    strconv.Itoa(cfg.BatchSize),
		"workers":       strconv.Itoa(cfg.Workers),
		"estimator":     set.Estimator,
		"writer":        cfg.Components.Writer,
		"input_dir":     cfg.InputDir,
		"output_dir":    cfg.OutputDir,
		"flatfield_dir": cfg.FlatfieldDir,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	t := logger.Start("pipeline", "run")
	sum, err := pipelineRun(ctx, comp, set, logger)
	if err != nil {
		code := string(diag.Classify(err))
		logger.Error("pipeline", code, "first error", &start)
		diag.IncOp("pipeline", "error", "error")
		if code != "" && code != string(diag.CodeUnknown) {
			diag.IncError("pipeline", code)
		}
		if !errors.Is(err, context.Canceled) {
			fprintf(stderr, "运行失败: %v\n", err)
		}
		fprintf(stderr, "日志: %s\n", logger.Path())
		return exitRuntime
	}
	t.FinishKV("run", int64(sum.Images()), map[string]string{
		"matched": strconv.Itoa(sum.Matched),
		"skipped": strconv.Itoa(sum.Skipped),
		"groups":  strconv.Itoa(len(sum.Groups)),
	})
	diag.IncOp("pipeline", "finish", "success")
	diag.ObserveDuration("pipeline", "finish", time.Since(start).Milliseconds())
	return exitOK
}

func fprintf(w io.Writer, format string, a ...any) { _, _ = fmt.Fprintf(w, format, a...) }

func dumpConfig(w io.Writer, c cfgpkg.Config) error {
	b, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	_, _ = w.Write(append([]byte("有效配置:\n"), b...))
	_, _ = w.Write([]byte("\n"))
	return nil
}

// normalizeInitArg: 允许 "--init-config <dir>" 写法（pflag 的可选值仅识别 "--init-config=<dir>"）。
//
//	--init-config                => --init-config=.
//	--init-config=out
//	--init-config out            => --init-config=out
func normalizeInitArg(args []string) []string {
	out := make([]string, 0, len(args))
	for i := 0; i < len(args); i++ {
		a := args[i]
		if (a == "--init-config" || a == "--init_config") && i+1 < len(args) && !strings.HasPrefix(args[i+1], "-") {
			out = append(out, a+"="+args[i+1])
			i++
			continue
		}
		out = append(out, a)
	}
	return out
}

// preflightCheckDir: 启动前检查目录可写性。
// - 目录已存在：尝试创建并删除临时文件；
// - 目录不存在：检查父目录可写（创建并删除临时目录）。
func preflightCheckDir(dir string) error {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil
	}
	if st, err := os.Stat(dir); err == nil && st.IsDir() {
		f, err := os.CreateTemp(dir, ".wcheck-*")
		if err != nil {
			return err
		}
		name := f.Name()
		_ = f.Close()
		_ = os.Remove(name)
		return nil
	} else if err == nil && !st.IsDir() {
		return fmt.Errorf("路径存在但不是目录: %s", dir)
	} else if !os.IsNotExist(err) {
		return err
	}
	parent := filepath.Dir(filepath.Clean(dir))
	if parent == dir {
		return fmt.Errorf("无法确定父目录: %s", dir)
	}
	// 父目录也可能尚不存在：向上寻找最近的已存在祖先
	for {
		pst, err := os.Stat(parent)
		if err == nil {
			if !pst.IsDir() {
				return fmt.Errorf("父路径不是目录: %s", parent)
			}
			break
		}
		if !os.IsNotExist(err) {
			return err
		}
		next := filepath.Dir(parent)
		if next == parent {
			return err
		}
		parent = next
	}
	tmpd, err := os.MkdirTemp(parent, ".wcheck-*")
	if err != nil {
		return err
	}
	_ = os.RemoveAll(tmpd)
	return nil
}
