package filesystem

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"

	"gonum.org/v1/gonum/mat"

	"basiccorr/internal/raster"
	"basiccorr/pkg/contract"
)

// Options 为 FileSystem 图像加载器的可选配置（最小必要）。
type Options struct {
	// BufSize 为读缓冲区大小（字节）。默认 256KiB。
	BufSize int `json:"buf_size"`
}

// FileSystem 从磁盘解码一个批的图像。
type FileSystem struct {
	bufSize int
}

// New 创建 FileSystem 加载器。
func New(opts *Options) *FileSystem {
	const defaultBuf = 256 * 1024
	b := defaultBuf
	if opts != nil && opts.BufSize > 0 {
		b = opts.BufSize
	}
	return &FileSystem{bufSize: b}
}

// Load 按批内顺序解码图像并堆叠；任一失败即返回（附带文件路径）。
func (r *FileSystem) Load(ctx context.Context, b contract.Batch) (contract.Stack, error) {
	if len(b.Records) == 0 {
		return nil, contract.ErrEmptyBatch
	}
	out := make(contract.Stack, 0, len(b.Records))
	for _, rec := range b.Records {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		m, err := r.decodeFile(rec.Path)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	if err := out.CheckShape(); err != nil {
		return nil, fmt.Errorf("batch %d: %w", b.Index, err)
	}
	return out, nil
}

func (r *FileSystem) decodeFile(path string) (*mat.Dense, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	brc := newBufferedCloser(f, r.bufSize)
	defer brc.Close()
	m, err := raster.Decode(brc)
	if err != nil {
		return nil, &os.PathError{Op: "decode", Path: path, Err: err}
	}
	return m, nil
}

// bufferedCloser 将 bufio.Reader 与底层 Closer 组合为 ReadCloser。
type bufferedCloser struct {
	*bufio.Reader
	c io.Closer
}

func newBufferedCloser(c io.ReadCloser, bufSize int) *bufferedCloser {
	if bufSize <= 0 {
		bufSize = 64 * 1024
	}
	return &bufferedCloser{Reader: bufio.NewReaderSize(c, bufSize), c: c}
}

func (b *bufferedCloser) Close() error { return b.c.Close() }

var _ contract.ImageLoader = (*FileSystem)(nil)
