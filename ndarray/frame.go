// Package ndarray defines the monochrome 2-D frames exchanged between calibration stages.
package ndarray

import (
	"fmt"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/atomic"
)

// DataType tags the element type of a frame buffer.
type DataType int

// The supported element types.
const (
	Int8 DataType = iota
	UInt8
	Int16
	UInt16
	Int32
	UInt32
	Float32
	Float64
)

func (dt DataType) String() string {
	switch dt {
	case Int8:
		return "int8"
	case UInt8:
		return "uint8"
	case Int16:
		return "int16"
	case UInt16:
		return "uint16"
	case Int32:
		return "int32"
	case UInt32:
		return "uint32"
	case Float32:
		return "float32"
	case Float64:
		return "float64"
	default:
		return fmt.Sprintf("DataType(%d)", int(dt))
	}
}

// IsFloat reports whether the type is a floating point type.
func (dt DataType) IsFloat() bool {
	return dt == Float32 || dt == Float64
}

// ColorMode describes how pixel values are laid out.
type ColorMode int

// Color modes. Only ColorModeMono frames are accepted by the calibration stages.
const (
	ColorModeMono ColorMode = iota
	ColorModeBayer
	ColorModeRGB1
	ColorModeRGB2
	ColorModeRGB3
)

// Pixel is the set of element types a frame may hold.
type Pixel interface {
	~int8 | ~uint8 | ~int16 | ~uint16 | ~int32 | ~uint32 | ~float32 | ~float64
}

// Frame is a reference counted 2-D array. Dims[0] is the width (fastest varying) and
// Dims[1] the height. Data holds a []T matching DataType with Width()*Height() elements.
type Frame struct {
	UniqueID   int
	TimeStamp  time.Time
	Dims       []int
	DataType   DataType
	ColorMode  ColorMode
	Data       interface{}
	Attributes *AttributeList

	refs *atomic.Int32
	pool *Pool
}

// NDims returns the number of dimensions.
func (f *Frame) NDims() int {
	return len(f.Dims)
}

// Width returns the size of the first dimension.
func (f *Frame) Width() int {
	if len(f.Dims) == 0 {
		return 0
	}
	return f.Dims[0]
}

// Height returns the size of the second dimension.
func (f *Frame) Height() int {
	if len(f.Dims) < 2 {
		return 0
	}
	return f.Dims[1]
}

// NumElements returns the product of all dimensions.
func (f *Frame) NumElements() int {
	if len(f.Dims) == 0 {
		return 0
	}
	n := 1
	for _, d := range f.Dims {
		n *= d
	}
	return n
}

// Reserve takes another reference on the frame.
func (f *Frame) Reserve() {
	f.refs.Inc()
}

// Release drops a reference. The buffer is returned to its pool when the last reference
// is released.
func (f *Frame) Release() {
	if f == nil {
		return
	}
	left := f.refs.Dec()
	if left < 0 {
		panic("ndarray: frame released more times than reserved")
	}
	if left == 0 && f.pool != nil {
		f.pool.free(f)
	}
}

// RefCount returns the current number of references.
func (f *Frame) RefCount() int {
	return int(f.refs.Load())
}

// Values returns the typed buffer of a frame.
func Values[T Pixel](f *Frame) ([]T, error) {
	vals, ok := f.Data.([]T)
	if !ok {
		return nil, errors.Errorf("frame holds %s data, not %T", f.DataType, vals)
	}
	return vals, nil
}

// New wraps an existing typed buffer in an unpooled frame with a single reference.
func New[T Pixel](width, height int, data []T) (*Frame, error) {
	if len(data) != width*height {
		return nil, errors.Errorf("buffer has %d elements, expected %dx%d", len(data), width, height)
	}
	dt, err := dataTypeOf(data)
	if err != nil {
		return nil, err
	}
	return &Frame{
		Dims:       []int{width, height},
		DataType:   dt,
		ColorMode:  ColorModeMono,
		Data:       data,
		Attributes: NewAttributeList(),
		refs:       atomic.NewInt32(1),
	}, nil
}

func dataTypeOf(data interface{}) (DataType, error) {
	switch data.(type) {
	case []int8:
		return Int8, nil
	case []uint8:
		return UInt8, nil
	case []int16:
		return Int16, nil
	case []uint16:
		return UInt16, nil
	case []int32:
		return Int32, nil
	case []uint32:
		return UInt32, nil
	case []float32:
		return Float32, nil
	case []float64:
		return Float64, nil
	default:
		return 0, errors.Errorf("unsupported buffer type %T", data)
	}
}

func makeBuffer(dt DataType, n int) (interface{}, error) {
	switch dt {
	case Int8:
		return make([]int8, n), nil
	case UInt8:
		return make([]uint8, n), nil
	case Int16:
		return make([]int16, n), nil
	case UInt16:
		return make([]uint16, n), nil
	case Int32:
		return make([]int32, n), nil
	case UInt32:
		return make([]uint32, n), nil
	case Float32:
		return make([]float32, n), nil
	case Float64:
		return make([]float64, n), nil
	default:
		return nil, errors.Errorf("unsupported data type %s", dt)
	}
}
