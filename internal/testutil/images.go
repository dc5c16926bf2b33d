// Package testutil 提供测试用的合成图像夹具。
package testutil

import (
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"golang.org/x/image/tiff"
)

// PixelFunc 返回 (x, y) 处的 16 位样本值。
type PixelFunc func(x, y int) uint16

// Const 返回常量像素函数。
func Const(v uint16) PixelFunc { return func(int, int) uint16 { return v } }

// Vignette 返回中心亮、边缘暗的照明图样（乘以 base）。
func Vignette(w, h int, base float64) PixelFunc {
	cx, cy := float64(w-1)/2, float64(h-1)/2
	r2 := cx*cx + cy*cy
	if r2 == 0 {
		r2 = 1
	}
	return func(x, y int) uint16 {
		dx, dy := float64(x)-cx, float64(y)-cy
		v := base * (1 - 0.4*(dx*dx+dy*dy)/r2)
		return uint16(v)
	}
}

// Gray16 构造 16 位灰度图。
func Gray16(w, h int, fn PixelFunc) *image.Gray16 {
	img := image.NewGray16(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetGray16(x, y, color.Gray16{Y: fn(x, y)})
		}
	}
	return img
}

// WriteTIFF 在 dir 下写出 16 位 TIFF，返回完整路径。
func WriteTIFF(t testing.TB, dir, name string, w, h int, fn PixelFunc) string {
	t.Helper()
	p := filepath.Join(dir, name)
	f, err := os.Create(p)
	if err != nil {
		t.Fatalf("create %s: %v", p, err)
	}
	defer f.Close()
	if err := tiff.Encode(f, Gray16(w, h, fn), &tiff.Options{Compression: tiff.Deflate}); err != nil {
		t.Fatalf("encode %s: %v", p, err)
	}
	return p
}

// WritePNG 在 dir 下写出 16 位 PNG，返回完整路径。
func WritePNG(t testing.TB, dir, name string, w, h int, fn PixelFunc) string {
	t.Helper()
	p := filepath.Join(dir, name)
	f, err := os.Create(p)
	if err != nil {
		t.Fatalf("create %s: %v", p, err)
	}
	defer f.Close()
	if err := png.Encode(f, Gray16(w, h, fn)); err != nil {
		t.Fatalf("encode %s: %v", p, err)
	}
	return p
}

// ReadImage 解码任意已注册格式的图像。
func ReadImage(t testing.TB, path string) image.Image {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open %s: %v", path, err)
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	if err != nil {
		t.Fatalf("decode %s: %v", path, err)
	}
	return img
}
