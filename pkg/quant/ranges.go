package quant

import "fmt"

// QuantizationRange is an inclusive integer interval [Min, Max].
type QuantizationRange struct {
	Min int `json:"qmin" yaml:"qmin"`
	Max int `json:"qmax" yaml:"qmax"`
}

var (
	naturalRanges = map[QType]QuantizationRange{
		Uint8: {0, 255},
		Int8:  {-128, 127},
	}
	symmetricRanges = map[QType]QuantizationRange{
		Int8: {-127, 127},
	}
	reducedRanges = map[QType]QuantizationRange{
		Uint8: {0, 127},
		Int8:  {-64, 64},
	}
)

// Ranges returns the integer range for qtype. Reduced range wins over
// symmetric, and symmetric only changes signed types.
func Ranges(qtype QType, reduceRange, symmetric bool) (QuantizationRange, error) {
	if qtype == Float8E4M3FN {
		return QuantizationRange{}, fmt.Errorf("%w: %w for float 8", ErrUnsupportedType, ErrNotImplemented)
	}

	var (
		r  QuantizationRange
		ok bool
	)
	switch {
	case reduceRange:
		r, ok = reducedRanges[qtype]
	case symmetric:
		if r, ok = symmetricRanges[qtype]; !ok {
			r, ok = naturalRanges[qtype]
		}
	default:
		r, ok = naturalRanges[qtype]
	}
	if !ok {
		return QuantizationRange{}, fmt.Errorf("%w: %s (only int8 and uint8 are supported)", ErrUnsupportedType, qtype)
	}
	return r, nil
}

// Span returns Max-Min.
func (r QuantizationRange) Span() int { return r.Max - r.Min }

// Clamp limits v to the range.
func (r QuantizationRange) Clamp(v float64) float64 {
	return min(max(v, float64(r.Min)), float64(r.Max))
}
