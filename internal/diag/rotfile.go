package diag

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"
)

const (
	logPrefix = "basiccorr"
	// 当前文件名；轮转文件为 basiccorr-<UTC 时间戳>.txt
	logCurrent = logPrefix + "-current.txt"
	// 轮转后保留的历史文件个数
	logKeep = 8
)

// RotatingFile: 批处理运行共用的日志落地文件。
// 超过 maxBytes 时把当前文件改名封存，仅保留最近 logKeep 个封存文件。
type RotatingFile struct {
	mu       sync.Mutex
	dir      string
	maxBytes int64
	f        *os.File
	size     int64
}

// NewRotatingFile 不触碰磁盘；目录与文件在首次写入时创建。maxBytes<=0 取 10MiB。
func NewRotatingFile(dir string, maxBytes int64) *RotatingFile {
	if maxBytes <= 0 {
		maxBytes = 10 << 20
	}
	return &RotatingFile{dir: dir, maxBytes: maxBytes}
}

// Path 返回当前日志文件路径（可能尚未创建）。
func (w *RotatingFile) Path() string { return filepath.Join(w.dir, logCurrent) }

// WriteLine 追加一行；写入前若会超限则先轮转。
func (w *RotatingFile) WriteLine(b []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.ensureOpen(); err != nil {
		return err
	}
	if w.size > 0 && w.size+int64(len(b))+1 > w.maxBytes {
		if err := w.rotate(); err != nil {
			return err
		}
	}
	n, err := w.f.Write(append(b, '\n'))
	w.size += int64(n)
	return err
}

func (w *RotatingFile) ensureOpen() error {
	if w.f != nil {
		return nil
	}
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(w.Path(), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	w.f, w.size = f, 0
	if st, err := f.Stat(); err == nil {
		w.size = st.Size()
	}
	return nil
}

// rotate 封存当前文件并重新打开；封存名带纳秒时间戳，同秒多次轮转不会覆盖。
func (w *RotatingFile) rotate() error {
	if w.f == nil {
		return w.ensureOpen()
	}
	_ = w.f.Close()
	w.f = nil
	sealed := filepath.Join(w.dir, fmt.Sprintf("%s-%s.txt", logPrefix, time.Now().UTC().Format("20060102-150405.000000000")))
	if err := os.Rename(w.Path(), sealed); err != nil {
		return fmt.Errorf("seal log file: %w", err)
	}
	w.prune()
	return w.ensureOpen()
}

// prune 删除超出 logKeep 的最旧封存文件；失败忽略。
func (w *RotatingFile) prune() {
	sealed := w.sealed()
	if len(sealed) <= logKeep {
		return
	}
	for _, name := range sealed[:len(sealed)-logKeep] {
		_ = os.Remove(filepath.Join(w.dir, name))
	}
}

// sealed 返回封存文件名，按时间戳升序（名称即时间序）。
func (w *RotatingFile) sealed() []string {
	ents, err := os.ReadDir(w.dir)
	if err != nil {
		return nil
	}
	var out []string
	for _, e := range ents {
		n := e.Name()
		if e.IsDir() || n == logCurrent || !strings.HasPrefix(n, logPrefix+"-") || !strings.HasSuffix(n, ".txt") {
			continue
		}
		out = append(out, n)
	}
	slices.Sort(out)
	return out
}

// Close 关闭当前文件；之后的写入会重新打开。
func (w *RotatingFile) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.f == nil {
		return nil
	}
	err := w.f.Close()
	w.f = nil
	return err
}
