// Package filesystem 将校正图像与平场工件写入本地目录。
package filesystem

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"image"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/natefinch/atomic"
	"gonum.org/v1/gonum/mat"

	"basiccorr/internal/raster"
	"basiccorr/pkg/contract"
)

// Options: 最小必要选项。
type Options struct {
	// OutputDir: 校正图像输出目录（必需，由命令行注入）。
	OutputDir string `json:"-"`
	// FlatfieldDir: 平场工件输出目录（必需，由命令行注入）。
	FlatfieldDir string `json:"-"`
	// Atomic: 是否使用原子替换（同目录临时文件 + rename）。
	// 默认值：true。未提供该字段时采用原子写；显式 false 可关闭。
	Atomic *bool `json:"atomic,omitempty"`
	// PermFile/PermDir: 可选权限；为 0 表示使用默认 0644/0755。
	PermFile os.FileMode `json:"perm_file,omitempty"`
	PermDir  os.FileMode `json:"perm_dir,omitempty"`
	// TIFFCompression: "deflate"（默认）或 "none"。
	TIFFCompression string `json:"tiff_compression,omitempty"`
	// BufSize: 非原子写的缓冲区大小；<=0 使用默认 64KiB。
	BufSize int `json:"buf_size,omitempty"`
}

type FS struct {
	out     string
	flatDir string
	atomic  bool
	permF   os.FileMode
	permD   os.FileMode
	bufSize int
	enc     raster.EncodeOptions
}

// New 创建文件系统 Writer 实现。
func New(opts *Options) (*FS, error) {
	if opts == nil || strings.TrimSpace(opts.OutputDir) == "" || strings.TrimSpace(opts.FlatfieldDir) == "" {
		return nil, os.ErrInvalid
	}
	comp, err := raster.ParseTIFFCompression(opts.TIFFCompression)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", contract.ErrConfigInvalid, err)
	}
	bsz := opts.BufSize
	if bsz <= 0 {
		bsz = 64 * 1024
	}
	pf := opts.PermFile
	if pf == 0 {
		pf = 0o644
	}
	pd := opts.PermDir
	if pd == 0 {
		pd = 0o755
	}
	atomic := true
	if opts.Atomic != nil {
		atomic = *opts.Atomic
	}
	return &FS{
		out:     opts.OutputDir,
		flatDir: opts.FlatfieldDir,
		atomic:  atomic,
		permF:   pf,
		permD:   pd,
		bufSize: bsz,
		enc:     raster.EncodeOptions{TIFFCompression: comp},
	}, nil
}

var _ contract.Writer = (*FS)(nil)

// Prepare 创建输出目录与平场目录（含中间路径）。
func (w *FS) Prepare(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	for _, d := range []string{w.out, w.flatDir} {
		if err := os.MkdirAll(d, w.permD); err != nil {
			return err
		}
	}
	return nil
}

// Accept 校验文件名不越界且扩展名可承载 16 位输出。
func (w *FS) Accept(filename string) error {
	if err := contract.CheckFilename(filename); err != nil {
		return err
	}
	return raster.CheckEncodable(filename)
}

// WriteImage 裁剪并转换为 uint16 后，按原文件名写入输出目录。
func (w *FS) WriteImage(ctx context.Context, filename string, img *mat.Dense) error {
	if err := contract.CheckFilename(filename); err != nil {
		return err
	}
	return w.write(ctx, filepath.Join(w.out, filename), raster.ToGray16(img))
}

// WriteFlatfield 以 ×128 缩放转换为 uint8，写出 <key>.png 到平场目录。
// score 仅由调用方记录日志，不写入工件。
func (w *FS) WriteFlatfield(ctx context.Context, key contract.GroupKey, flat *mat.Dense, _ float64) error {
	name := key.Name() + ".png"
	if err := contract.CheckFilename(name); err != nil {
		return err
	}
	return w.write(ctx, filepath.Join(w.flatDir, name), raster.ToGray8(flat, raster.FlatfieldScale))
}

// write 先编码到内存，再整体落盘；编码失败不会留下半成品。
func (w *FS) write(ctx context.Context, dest string, img image.Image) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	var buf bytes.Buffer
	if err := raster.Encode(&buf, dest, img, w.enc); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dest), w.permD); err != nil {
		return err
	}
	if w.atomic {
		return w.writeAtomic(ctx, dest, &buf)
	}
	return w.writeOverwrite(ctx, dest, &buf)
}

func (w *FS) writeOverwrite(ctx context.Context, dest string, r io.Reader) error {
	f, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, w.permF)
	if err != nil {
		return err
	}
	// 确保及时关闭
	defer f.Close()

	bw := bufio.NewWriterSize(f, w.bufSize)
	if _, err := io.Copy(bw, readerWithCtx(ctx, r)); err != nil {
		return err
	}
	return bw.Flush()
}

func (w *FS) writeAtomic(ctx context.Context, dest string, r io.Reader) error {
	if err := atomic.WriteFile(dest, readerWithCtx(ctx, r)); err != nil {
		return err
	}
	// atomic.WriteFile 不为新文件设置权限
	return os.Chmod(dest, w.permF)
}

// readerWithCtx: 在每次 Read 前检查 ctx 是否已取消。
func readerWithCtx(ctx context.Context, r io.Reader) io.Reader {
	return &ctxReader{ctx: ctx, r: r}
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (cr *ctxReader) Read(p []byte) (int, error) {
	select {
	case <-cr.ctx.Done():
		return 0, cr.ctx.Err()
	default:
	}
	return cr.r.Read(p)
}
