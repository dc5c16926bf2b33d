// Package raster 负责像素数组与图像编解码之间的转换。
//
// 解码保持原生精度（8 位 0..255，16 位 0..65535）；编码遵循
// “先裁剪再转换”的规则，避免浮点越界导致回绕。
package raster

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/jpeg"
	"image/png"
	"io"
	"math"
	"path/filepath"
	"strings"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/tiff"
	"gonum.org/v1/gonum/mat"

	"basiccorr/pkg/contract"
)

const (
	// MaxUint16 为校正输出的上界。
	MaxUint16 = 65535
	// FlatfieldScale: 平场可视化缩放系数（平场值聚集在 1.0 附近）。
	FlatfieldScale = 128
)

// ErrEmptyImage: 解码得到零尺寸图像。
var ErrEmptyImage = errors.New("raster: empty image")

// Decode 读取一张图像并转换为二维数组（行=Y，列=X）。
func Decode(r io.Reader) (*mat.Dense, error) {
	img, _, err := image.Decode(r)
	if err != nil {
		return nil, err
	}
	return ToDense(img)
}

// ToDense 将任意 image.Image 转为灰度数值数组。
// 灰度图直接取样；彩色图按位深归约到亮度（8 位 → GrayModel，16 位 → Gray16Model）。
func ToDense(img image.Image) (*mat.Dense, error) {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w <= 0 || h <= 0 {
		return nil, ErrEmptyImage
	}
	data := make([]float64, w*h)
	switch im := img.(type) {
	case *image.Gray:
		for y := 0; y < h; y++ {
			off := im.PixOffset(b.Min.X, b.Min.Y+y)
			for x := 0; x < w; x++ {
				data[y*w+x] = float64(im.Pix[off+x])
			}
		}
	case *image.Gray16:
		for y := 0; y < h; y++ {
			off := im.PixOffset(b.Min.X, b.Min.Y+y)
			for x := 0; x < w; x++ {
				i := off + 2*x
				data[y*w+x] = float64(uint16(im.Pix[i])<<8 | uint16(im.Pix[i+1]))
			}
		}
	case *image.RGBA64, *image.NRGBA64:
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				c := color.Gray16Model.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.Gray16)
				data[y*w+x] = float64(c.Y)
			}
		}
	default:
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				c := color.GrayModel.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.Gray)
				data[y*w+x] = float64(c.Y)
			}
		}
	}
	return mat.NewDense(h, w, data), nil
}

// ClipUint16 先裁剪到 [0,65535] 再截断转换；NaN 视为 0。
func ClipUint16(v float64) uint16 {
	if math.IsNaN(v) || v <= 0 {
		return 0
	}
	if v >= MaxUint16 {
		return MaxUint16
	}
	return uint16(v)
}

// ScaleUint8 计算 round(v*factor) 并裁剪到 [0,255]；NaN 视为 0。
func ScaleUint8(v, factor float64) uint8 {
	s := math.Round(v * factor)
	if math.IsNaN(s) || s <= 0 {
		return 0
	}
	if s >= 255 {
		return 255
	}
	return uint8(s)
}

// ToGray16 按裁剪-转换规则生成 16 位灰度图。
func ToGray16(m *mat.Dense) *image.Gray16 {
	h, w := m.Dims()
	img := image.NewGray16(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		off := img.PixOffset(0, y)
		for x := 0; x < w; x++ {
			v := ClipUint16(m.At(y, x))
			img.Pix[off+2*x] = uint8(v >> 8)
			img.Pix[off+2*x+1] = uint8(v)
		}
	}
	return img
}

// ToGray8 按缩放-转换规则生成 8 位灰度图。
func ToGray8(m *mat.Dense, factor float64) *image.Gray {
	h, w := m.Dims()
	img := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		off := img.PixOffset(0, y)
		for x := 0; x < w; x++ {
			img.Pix[off+x] = ScaleUint8(m.At(y, x), factor)
		}
	}
	return img
}

// EncodeOptions: 编码可选项。
type EncodeOptions struct {
	// TIFFCompression: tiff.Uncompressed 或 tiff.Deflate（默认零值为 Uncompressed）。
	TIFFCompression tiff.CompressionType
}

// CheckEncodable 校验文件名扩展名能否承载 16 位灰度（.tif/.tiff/.png）。
func CheckEncodable(filename string) error {
	switch ext := strings.ToLower(filepath.Ext(filename)); ext {
	case ".tif", ".tiff", ".png":
		return nil
	default:
		return fmt.Errorf("%w: %q", contract.ErrUnsupportedFormat, ext)
	}
}

// Encode 按文件扩展名选择编码器。
func Encode(w io.Writer, filename string, img image.Image, opts EncodeOptions) error {
	if err := CheckEncodable(filename); err != nil {
		return err
	}
	if strings.ToLower(filepath.Ext(filename)) == ".png" {
		return png.Encode(w, img)
	}
	return tiff.Encode(w, img, &tiff.Options{Compression: opts.TIFFCompression, Predictor: opts.TIFFCompression == tiff.Deflate})
}

// ParseTIFFCompression 将配置字符串映射为压缩类型。
func ParseTIFFCompression(s string) (tiff.CompressionType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "deflate":
		return tiff.Deflate, nil
	case "none":
		return tiff.Uncompressed, nil
	default:
		return tiff.Uncompressed, fmt.Errorf("raster: unknown tiff compression %q", s)
	}
}
