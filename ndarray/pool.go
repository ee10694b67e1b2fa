package ndarray

import (
	"github.com/pkg/errors"
	"go.uber.org/atomic"
)

// Pool allocates, copies and converts frames and tracks how many are still referenced.
type Pool struct {
	outstanding *atomic.Int64
	allocated   *atomic.Int64
	nextID      *atomic.Int64
}

// NewPool returns an empty pool.
func NewPool() *Pool {
	return &Pool{
		outstanding: atomic.NewInt64(0),
		allocated:   atomic.NewInt64(0),
		nextID:      atomic.NewInt64(0),
	}
}

// Outstanding returns the number of frames allocated from the pool that have not been
// fully released.
func (p *Pool) Outstanding() int {
	return int(p.outstanding.Load())
}

// Allocated returns the total number of frames handed out.
func (p *Pool) Allocated() int {
	return int(p.allocated.Load())
}

func (p *Pool) free(*Frame) {
	p.outstanding.Dec()
}

// Alloc returns a zeroed monochrome frame holding one reference.
func (p *Pool) Alloc(dims []int, dt DataType) (*Frame, error) {
	n := 1
	for _, d := range dims {
		if d < 0 {
			return nil, errors.Errorf("invalid dimension %d", d)
		}
		n *= d
	}
	if len(dims) == 0 {
		n = 0
	}
	buf, err := makeBuffer(dt, n)
	if err != nil {
		return nil, err
	}
	p.outstanding.Inc()
	p.allocated.Inc()
	return &Frame{
		UniqueID:   int(p.nextID.Inc()),
		Dims:       append([]int(nil), dims...),
		DataType:   dt,
		ColorMode:  ColorModeMono,
		Data:       buf,
		Attributes: NewAttributeList(),
		refs:       atomic.NewInt32(1),
		pool:       p,
	}, nil
}

// Copy returns a deep copy of src, including its attributes.
func (p *Pool) Copy(src *Frame) (*Frame, error) {
	dst, err := p.Alloc(src.Dims, src.DataType)
	if err != nil {
		return nil, err
	}
	switch s := src.Data.(type) {
	case []int8:
		copy(dst.Data.([]int8), s)
	case []uint8:
		copy(dst.Data.([]uint8), s)
	case []int16:
		copy(dst.Data.([]int16), s)
	case []uint16:
		copy(dst.Data.([]uint16), s)
	case []int32:
		copy(dst.Data.([]int32), s)
	case []uint32:
		copy(dst.Data.([]uint32), s)
	case []float32:
		copy(dst.Data.([]float32), s)
	case []float64:
		copy(dst.Data.([]float64), s)
	default:
		dst.Release()
		return nil, errors.Errorf("unsupported buffer type %T", src.Data)
	}
	copyMeta(src, dst)
	return dst, nil
}

// Convert returns a new frame holding src's values converted to dt.
func (p *Pool) Convert(src *Frame, dt DataType) (*Frame, error) {
	dst, err := p.Alloc(src.Dims, dt)
	if err != nil {
		return nil, err
	}
	vals, err := Float64s(src)
	if err != nil {
		dst.Release()
		return nil, err
	}
	switch d := dst.Data.(type) {
	case []int8:
		fill(d, vals)
	case []uint8:
		fill(d, vals)
	case []int16:
		fill(d, vals)
	case []uint16:
		fill(d, vals)
	case []int32:
		fill(d, vals)
	case []uint32:
		fill(d, vals)
	case []float32:
		fill(d, vals)
	case []float64:
		copy(d, vals)
	}
	copyMeta(src, dst)
	return dst, nil
}

func copyMeta(src, dst *Frame) {
	dst.UniqueID = src.UniqueID
	dst.TimeStamp = src.TimeStamp
	dst.ColorMode = src.ColorMode
	if src.Attributes != nil {
		src.Attributes.CopyTo(dst.Attributes)
	}
}

func fill[T Pixel](dst []T, src []float64) {
	for i, v := range src {
		dst[i] = T(v)
	}
}

func widen[T Pixel](src []T) []float64 {
	out := make([]float64, len(src))
	for i, v := range src {
		out[i] = float64(v)
	}
	return out
}

// Float64s returns the frame values widened to float64.
func Float64s(f *Frame) ([]float64, error) {
	switch s := f.Data.(type) {
	case []int8:
		return widen(s), nil
	case []uint8:
		return widen(s), nil
	case []int16:
		return widen(s), nil
	case []uint16:
		return widen(s), nil
	case []int32:
		return widen(s), nil
	case []uint32:
		return widen(s), nil
	case []float32:
		return widen(s), nil
	case []float64:
		return append([]float64(nil), s...), nil
	default:
		return nil, errors.Errorf("unsupported buffer type %T", f.Data)
	}
}
