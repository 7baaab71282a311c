package quant

import (
	"fmt"
	"math"
)

// tinyFloat32 is the smallest positive normal float32. Scales below it are
// replaced with 1 so later divisions stay finite.
var tinyFloat32 = float32(math.Ldexp(1, -126))

// AffineParams is a per-tensor scale and zero point. Scale is always positive.
type AffineParams struct {
	Scale     float32 `json:"scale"`
	ZeroPoint int     `json:"zero_point"`
}

// ChannelParams holds one scale and zero point per channel.
type ChannelParams struct {
	Scale     []float32 `json:"scale"`
	ZeroPoint []int     `json:"zero_point"`
}

// Len returns the channel count.
func (p ChannelParams) Len() int { return len(p.Scale) }

// CalculateScaleZP derives per-tensor parameters from an observed [rmin, rmax].
//
// Symmetric parameters use a zero point at the middle of r regardless of the
// data. A degenerate range, or one whose scale underflows float32, yields
// scale 1.
func CalculateScaleZP(rmin, rmax float32, r QuantizationRange, qtype QType, sym bool) (AffineParams, error) {
	span := float64(r.Span())
	scale := 1.0
	if sym {
		maxRange := max(math.Abs(float64(rmin)), math.Abs(float64(rmax)))
		if maxRange > 0 {
			scale = maxRange * 2 / span
		}
	} else if rmin != rmax {
		scale = (float64(rmax) - float64(rmin)) / span
	}
	if float32(scale) < tinyFloat32 {
		scale = 1
	}

	var zp float64
	if sym {
		zp = math.RoundToEven(float64(r.Max+r.Min) / 2)
	} else {
		zp = math.RoundToEven(float64(r.Min) - float64(rmin)/scale)
	}
	z, err := castInt(qtype, int64(zp))
	if err != nil {
		return AffineParams{}, err
	}
	return AffineParams{Scale: float32(scale), ZeroPoint: z}, nil
}

// CalculateScaleZPPerChannel is CalculateScaleZP applied element-wise. The
// arithmetic is carried out in float32 and any scale smaller than the smallest
// normal float32 becomes 1.
func CalculateScaleZPPerChannel(rmin, rmax []float32, r QuantizationRange, qtype QType, sym bool) (ChannelParams, error) {
	if len(rmin) != len(rmax) {
		return ChannelParams{}, fmt.Errorf("%w: %d minimums for %d maximums", ErrShape, len(rmin), len(rmax))
	}
	span := float32(r.Span())
	out := ChannelParams{
		Scale:     make([]float32, len(rmin)),
		ZeroPoint: make([]int, len(rmin)),
	}
	mid := math.RoundToEven(float64(r.Max+r.Min) / 2)
	for i := range rmin {
		lo, hi := rmin[i], rmax[i]
		if sym {
			m := max(abs32(lo), abs32(hi))
			lo, hi = -m, m
		}
		scale := (hi - lo) / span
		if scale < tinyFloat32 {
			scale = 1
		}
		zp := mid
		if !sym {
			zp = math.RoundToEven(float64(float32(r.Min) - lo/scale))
		}
		z, err := castInt(qtype, int64(zp))
		if err != nil {
			return ChannelParams{}, err
		}
		out.Scale[i] = scale
		out.ZeroPoint[i] = z
	}
	return out, nil
}

func abs32(v float32) float32 {
	return math.Float32frombits(math.Float32bits(v) &^ (1 << 31))
}
