package diag

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"basiccorr/pkg/contract"
)

// UT-DIAG-01: 日志轮转写入
func TestRotatingFile(t *testing.T) {
	dir := t.TempDir()
	w := NewRotatingFile(dir, 30)
	if err := w.WriteLine([]byte("first line that is very long")); err != nil {
		t.Fatalf("写入失败: %v", err)
	}
	if err := w.WriteLine([]byte("second")); err != nil {
		t.Fatalf("第二次写入失败: %v", err)
	}
	files, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("读取目录失败: %v", err)
	}
	if len(files) < 2 {
		t.Fatalf("应存在轮转文件, got %d", len(files))
	}
}

// 进一步覆盖：当前文件名与时间戳文件存在
func TestRotatingFileRotateFiles(t *testing.T) {
	dir := t.TempDir()
	w := NewRotatingFile(dir, 10)
	for i := 0; i < 5; i++ {
		if err := w.WriteLine([]byte("xxxxxxxxxxxxxxxxxx")); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	// 检查 current 与至少一个历史文件
	ents, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("readdir: %v", err)
	}
	hasCurrent := false
	hasRotated := false
	for _, e := range ents {
		if strings.HasSuffix(e.Name(), "basiccorr-current.txt") {
			hasCurrent = true
		}
		if strings.HasPrefix(e.Name(), "basiccorr-") && strings.HasSuffix(e.Name(), ".txt") && !strings.Contains(e.Name(), "current") {
			hasRotated = true
		}
	}
	if !hasCurrent || !hasRotated {
		t.Fatalf("expect both current and rotated files, got current=%v rotated=%v", hasCurrent, hasRotated)
	}
}

// 直接覆盖 ensureOpen 与 rotate 内部分支
func TestRotatingFileEnsureAndRotate(t *testing.T) {
	dir := t.TempDir()
	w := NewRotatingFile(dir, 1024)
	if err := w.ensureOpen(); err != nil { //nolint:forbidigo // 访问非导出以提高覆盖率
		t.Fatalf("ensureOpen: %v", err)
	}
	if w.f == nil {
		t.Fatalf("file should be opened")
	}
	// 强制轮转
	if err := w.rotate(); err != nil { //nolint:forbidigo
		t.Fatalf("rotate: %v", err)
	}
	// 检查两个文件存在
	ents, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("readdir: %v", err)
	}
	if len(ents) < 2 {
		t.Fatalf("expect >=2 files, got %d", len(ents))
	}
}

// UT-DIAG-02: 指标计数
func TestMetricsCounters(t *testing.T) {
	ResetMetrics()
	IncOp("comp", "stage", "success")
	IncOp("comp", "stage", "success")
	IncError("comp", "io")
	ObserveDuration("comp", "stage", 5)
	ObserveDuration("comp", "stage", 7)
	m := Snapshot()
	if m.Op("comp", "stage", "success") != 2 || m.Error("comp", "io") != 1 || m.DurationMS["comp/stage"] != 12 {
		t.Fatalf("unexpected snapshot %+v", m)
	}
	// 快照为副本
	IncOp("comp", "stage", "success")
	if m.Op("comp", "stage", "success") != 2 {
		t.Fatalf("snapshot should be a copy")
	}
	ResetMetrics()
	if len(Snapshot().Ops) != 0 {
		t.Fatalf("reset failed")
	}
}

// 补充覆盖: 错误分类
func TestClassify(t *testing.T) {
	if CodeConfig != Classify(fmt.Errorf("load: %w", contract.ErrConfigInvalid)) {
		t.Fatalf("配置分类错误")
	}
	if CodeEstimator != Classify(contract.ErrPhase) || CodeEstimator != Classify(contract.ErrShapeMismatch) {
		t.Fatalf("估计器分类错误")
	}
	if CodeInvariant != Classify(contract.ErrPathInvalid) || CodeInvariant != Classify(contract.ErrEmptyBatch) {
		t.Fatalf("不变量分类错误")
	}
	if CodeIO != Classify(contract.ErrUnsupportedFormat) {
		t.Fatalf("格式分类错误")
	}
	if CodeCancel != Classify(context.Canceled) {
		t.Fatalf("取消分类错误")
	}
	err := &fs.PathError{Op: "open", Path: "/", Err: errors.New("x")}
	if CodeIO != Classify(err) {
		t.Fatalf("IO 分类错误")
	}
	if CodeUnknown != Classify(nil) {
		t.Fatalf("nil 分类错误")
	}
	if CodeUnknown != Classify(errors.New("other")) {
		t.Fatalf("未知分类错误")
	}
}

// 补充覆盖: Logger 基本流程
func TestLogger(t *testing.T) {
	l := NewLogger("corr", "debug", "")
	l.sink = nil // 避免文件操作
	timer := l.Start("comp", "msg")
	timer.Finish("ok", 1)
	timer = l.StartWith("comp", "msg", "fid", "bid")
	timer.Finish("ok", 1)
	timer = l.StartWithKV("comp", "msg", "fid", "bid", map[string]string{"k": "v"})
	timer.FinishKV("ok", 1, map[string]string{"score": "0.1"})
	l.Info("comp", "msg", nil)
	l.Warn("comp", "skipped", 3, nil)
	l.Error("comp", "code", "msg", nil)
	l.ErrorWith("comp", "code", "msg", nil, "fid", "bid")
	l.ErrorWithKV("comp", "code", "msg", timer.Since(), "fid", "bid", map[string]string{"file": "a.tif"})
	l.InfoFinish("comp", "msg", time.Now(), 1)
	l.DebugStart("comp", "msg", "fid", "bid", nil)
	_ = l
}

// 补充覆盖: NowUTC
func TestNowUTC(t *testing.T) {
	if NowUTC() == "" {
		t.Fatalf("应返回时间字符串")
	}
}

// UT-DIAG-03: 终端（非 TTY）关键节点输出
func TestTerminalNonTTYFlow(t *testing.T) {
	var sb strings.Builder
	term := NewTerminal(&sb, true)
	// 非 TTY：默认 bytes.Builder 不是 *os.File
	if term.isTTY {
		t.Fatalf("expect non-tty")
	}
	term.RunStart(4, "basic", "well_channel")
	term.GroupStart("A01_1", 12, 3)
	term.BatchProgress("fit", 1, 3) // 非 TTY：不输出进度
	term.GroupFinish(true, 0.01234, 5100*time.Millisecond)
	term.GroupStart("A02_1", 3, 1)
	term.GroupFinish(false, 0, 1500*time.Millisecond)
	term.RunFinish(false, 41300*time.Millisecond)

	out := sb.String()
	if strings.Contains(out, "\r") {
		t.Fatalf("non-tty should not contain carriage returns: %q", out)
	}
	for _, want := range []string{
		"[run] workers=4 | estimator=basic\n",
		"well_channel (Number of images): Score\n",
		"A01_1 (12): 0.0123\n",
		"[fail] A02_1 (3) | 批次 1 | 用时 1.5s\n",
		"[fail] 全部完成 | 分组 1 | 图像 12 | 总用时 41.3s\n",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %q in %q", want, out)
		}
	}
	if strings.Contains(out, "fit 1/3") {
		t.Fatalf("non-tty should not print progress: %q", out)
	}
}

// UT-DIAG-04: 终端（TTY）进度节流与清尾
func TestTerminalTTYProgressThrottleAndClear(t *testing.T) {
	var sb strings.Builder
	term := NewTerminal(&sb, true)
	term.isTTY = true // 强制 TTY
	term.RunStart(2, "identity", "flatfield")
	term.GroupStart("plateA", 5, 3)
	start := sb.String()

	// 第一次进度：应输出一行覆盖（无换行）
	term.BatchProgress("fit", 1, 3)
	first := sb.String()
	if len(first) <= len(start) || !strings.Contains(first[len(start):], "\rplateA (5): fit 1/3") {
		t.Fatalf("first progress should be inline with CR: %q", first)
	}
	// 立即第二次：应被节流（<100ms）
	term.BatchProgress("fit", 2, 3)
	second := sb.String()
	if second != first {
		t.Fatalf("second progress should be throttled; got changed output")
	}
	time.Sleep(120 * time.Millisecond)
	term.BatchProgress("transform", 1, 3)
	third := sb.String()
	if len(third) <= len(second) {
		t.Fatalf("third progress should append output")
	}
	// 完成：应先清尾（回车+空格覆盖），再输出分数行
	term.GroupFinish(true, 0.5, 2200*time.Millisecond)
	final := sb.String()
	idx := strings.LastIndex(final, "plateA (5): 0.5000\n")
	if idx < 0 {
		t.Fatalf("finish should include score line: %q", final)
	}
	seg := final[len(third):idx]
	if !strings.HasPrefix(seg, "\r ") {
		t.Fatalf("clear tail should write spaces after CR: %q", seg)
	}
}

// UT-DIAG-05: 写失败降级为禁用态
type flakyWriter struct{ fail bool }

func (w *flakyWriter) Write(p []byte) (int, error) {
	if w.fail {
		w.fail = false
		return 0, fmt.Errorf("boom")
	}
	return len(p), nil
}

func TestTerminalDisableOnWriteError(t *testing.T) {
	fw := &flakyWriter{fail: true}
	term := NewTerminal(fw, true)
	term.isTTY = false
	term.RunStart(1, "x", "k") // 第一次 println 触发失败
	if term.enabled {
		t.Fatalf("terminal should be disabled after write error")
	}
	// 后续调用应该是 no-op，不应 panic
	term.GroupStart("a", 0, 0)
	term.BatchProgress("fit", 0, 0)
	term.GroupFinish(true, 0, 0)
	term.RunFinish(true, 0)
}

// UT-DIAG-06: 工具函数覆盖
func TestHelpers(t *testing.T) {
	if shortenBase("/x/y/这是一个很长的文件名用于截断测试abcdefghijk.txt", 10) == "" {
		t.Fatalf("shortenBase should produce non-empty")
	}
	if safe("a\nb\rc") != "a b c" {
		t.Fatalf("safe replace failed")
	}
	if formatDur(0) != "0ms" {
		t.Fatalf("formatDur 0ms failed")
	}
	if formatDur(1500*time.Millisecond) != "1.5s" {
		t.Fatalf("formatDur 1.5s failed: %s", formatDur(1500*time.Millisecond))
	}
	SetTerminal(nil)
	if GetTerminal() != nil {
		t.Fatalf("expected nil terminal")
	}
	t1 := NewTerminal(os.Stderr, false)
	SetTerminal(t1)
	if GetTerminal() == nil {
		t.Fatalf("expected non-nil terminal")
	}
}

// 覆盖 NewTerminal 针对 *os.File 的 isTTY 判定路径
func TestNewTerminalWithFile(t *testing.T) {
	term := NewTerminal(os.Stderr, true)
	if term == nil {
		t.Fatalf("nil term")
	}
}

// 覆盖 Logger sink 写入成功路径与事件字段
func TestLoggerWithSink(t *testing.T) {
	dir := t.TempDir()
	l := NewLogger("corr-1", "info", dir)
	// 写几条日志，触发 sink 路径
	timer := l.StartWith("batch", "fit", "A01", "2")
	timer.Finish("ok", 4)
	l.Error("comp", "io", "msg", nil)
	l.DebugStart("comp", "filtered", "", "", nil)
	if err := l.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	b, err := os.ReadFile(filepath.Join(dir, "basiccorr-current.txt"))
	if err != nil {
		t.Fatalf("log file not found: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(b)), "\n")
	if len(lines) != 3 {
		t.Fatalf("expect 3 lines (debug filtered), got %d: %q", len(lines), b)
	}
	var ev Event
	if err := json.Unmarshal([]byte(lines[1]), &ev); err != nil {
		t.Fatalf("json: %v", err)
	}
	if ev.CorrID != "corr-1" || ev.Group != "A01" || ev.Batch != "2" || ev.Stage != "finish" || ev.Count != 4 || ev.Level != "info" {
		t.Fatalf("unexpected event %+v", ev)
	}
}

// 覆盖 Level.String 与 parseLevel 分支，以及 lv<level 过滤
func TestLoggerLevelsAndFilter(t *testing.T) {
	if Warn.String() != "warn" {
		t.Fatalf("warn string")
	}
	var unknown Level = 12345
	if unknown.String() != "info" {
		t.Fatalf("default string")
	}
	_ = NewLogger("c", "warn", t.TempDir())
	l := NewLogger("c", "info", t.TempDir())
	// Debug 在 info 级别应被过滤
	l.DebugStart("comp", "msg", "f", "b", nil)
	// 非空 durSince 分支
	start := time.Now().Add(-10 * time.Millisecond)
	l.Error("comp", "code", "msg", &start)
	l.ErrorWith("comp", "code", "msg", &start, "f", "b")
	// Timer nil/l=nil 早返回
	var tnil *Timer
	tnil.Finish("x", 0)
	(&Timer{}).Finish("x", 0)
}

// 触发默认 maxBytes 分支与 rotate 在 f==nil 分支
func TestRotatingFileDefaultsAndRotateNoOpen(t *testing.T) {
	dir := t.TempDir()
	w := NewRotatingFile(dir, 0)
	if err := w.WriteLine([]byte("a")); err != nil {
		t.Fatalf("write: %v", err)
	}
	// f 置空并调用 rotate 覆盖 f==nil 分支
	w.f = nil
	if err := w.rotate(); err != nil { //nolint:forbidigo
		t.Fatalf("rotate: %v", err)
	}
}

// 覆盖 printInline 写失败分支（TTY）
func TestTerminalInlineWriteError(t *testing.T) {
	fw := &flakyWriter{fail: true}
	term := NewTerminal(fw, true)
	term.isTTY = true
	term.GroupStart("f", 2, 1) // 第一次 inline 写失败 → 禁用
	if term.enabled {
		t.Fatalf("terminal should be disabled after inline error")
	}
}

// 覆盖 NewTerminal 中 CI 环境分支
func TestNewTerminalCIEnv(t *testing.T) {
	t.Setenv("CI", "true")
	var sb strings.Builder
	term := NewTerminal(&sb, true)
	if term.isTTY {
		t.Fatalf("CI env should force non-tty")
	}
}

// 覆盖 Terminal nil 接收者早返回
func TestTerminalNilReceiverNoop(t *testing.T) {
	var tn *Terminal
	tn.RunStart(1, "x", "k")
	tn.GroupStart("a", 1, 1)
	tn.BatchProgress("fit", 0, 0)
	tn.GroupFinish(true, 0, 0)
	tn.RunFinish(true, 0)
}

// shortenBase 边界
func TestShortenBaseEdge(t *testing.T) {
	_ = shortenBase("", 10) // 行为依赖 filepath.Base("") 返回 "."，不做强断言
	if shortenBase("x", 0) != "" {
		t.Fatalf("shortenBase max<=0 should be empty")
	}
}

// 轮转后只保留最近若干封存文件
func TestRotatingFilePrunesSealed(t *testing.T) {
	dir := t.TempDir()
	// 目录内的无关文件不受影响
	if err := os.WriteFile(filepath.Join(dir, "other.txt"), []byte("x"), 0o644); err != nil {
		t.Fatalf("seed: %v", err)
	}
	w := NewRotatingFile(dir, 10)
	for i := 0; i < 20; i++ {
		if err := w.WriteLine([]byte("xxxxxxxxxxxxxxxxxx")); err != nil {
			t.Fatalf("write %d: %v", i, err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if got := len(w.sealed()); got != logKeep {
		t.Fatalf("封存文件应为 %d 个, got %d", logKeep, got)
	}
	if _, err := os.Stat(w.Path()); err != nil {
		t.Fatalf("current missing: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "other.txt")); err != nil {
		t.Fatalf("无关文件被删除: %v", err)
	}
}

// Logger.Path 指向当前日志文件；nil 或无落地时为空
func TestLoggerPath(t *testing.T) {
	var ln *Logger
	if ln.Path() != "" {
		t.Fatalf("nil logger path should be empty")
	}
	dir := t.TempDir()
	l := NewLogger("c", "info", dir)
	if got, want := l.Path(), filepath.Join(dir, "basiccorr-current.txt"); got != want {
		t.Fatalf("path=%q want %q", got, want)
	}
	l.sink = nil
	if l.Path() != "" {
		t.Fatalf("sink=nil path should be empty")
	}
}
