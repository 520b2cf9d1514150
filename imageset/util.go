package imageset

import (
	"image"

	"golang.org/x/image/draw"
)

// Flatten rewrites fully transparent pixels to opaque white. Pixels with any
// alpha are left untouched.
func Flatten(img image.Image) *image.NRGBA {
	dst := toNRGBA(img)
	for i := 3; i < len(dst.Pix); i += 4 {
		if dst.Pix[i] == 0 {
			dst.Pix[i-3] = 255
			dst.Pix[i-2] = 255
			dst.Pix[i-1] = 255
			dst.Pix[i] = 255
		}
	}
	return dst
}

// toNRGBA 转为 NRGBA，方便统一处理；返回值总是新的副本
func toNRGBA(img image.Image) *image.NRGBA {
	b := img.Bounds()
	dst := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	if src, ok := img.(*image.NRGBA); ok {
		// 逐行拷贝，避免预乘往返改变半透明像素
		row := 4 * b.Dx()
		for y := 0; y < b.Dy(); y++ {
			off := src.PixOffset(b.Min.X, b.Min.Y+y)
			copy(dst.Pix[y*dst.Stride:y*dst.Stride+row], src.Pix[off:off+row])
		}
		return dst
	}
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)
	return dst
}
