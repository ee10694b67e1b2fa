package ndarray

import (
	"image"
	"image/color"
	"math"

	"github.com/pkg/errors"
)

// FromImage copies an image into a new monochrome frame. 8-bit gray images become UInt8
// frames; everything else is converted to 16-bit gray.
func (p *Pool) FromImage(img image.Image) (*Frame, error) {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if gray, ok := img.(*image.Gray); ok {
		f, err := p.Alloc([]int{w, h}, UInt8)
		if err != nil {
			return nil, err
		}
		data := f.Data.([]uint8)
		for y := 0; y < h; y++ {
			copy(data[y*w:(y+1)*w], gray.Pix[y*gray.Stride:y*gray.Stride+w])
		}
		return f, nil
	}

	f, err := p.Alloc([]int{w, h}, UInt16)
	if err != nil {
		return nil, err
	}
	data := f.Data.([]uint16)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			c := color.Gray16Model.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.Gray16)
			data[y*w+x] = c.Y
		}
	}
	return f, nil
}

// ToGray16 renders a frame as a 16-bit gray image, linearly stretching its value range to
// the full output range.
func ToGray16(f *Frame) (*image.Gray16, error) {
	if f.NDims() != 2 {
		return nil, errors.Errorf("cannot render %d-D frame", f.NDims())
	}
	vals, err := Float64s(f)
	if err != nil {
		return nil, err
	}
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, v := range vals {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	scale := 0.0
	if hi > lo {
		scale = math.MaxUint16 / (hi - lo)
	}

	w, h := f.Width(), f.Height()
	img := image.NewGray16(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetGray16(x, y, color.Gray16{Y: uint16(math.Round((vals[y*w+x] - lo) * scale))})
		}
	}
	return img, nil
}
