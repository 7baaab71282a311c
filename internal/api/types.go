package api

import (
	"github.com/samcharles93/quanta/internal/algo"
	"github.com/samcharles93/quanta/internal/ep"
	"github.com/samcharles93/quanta/pkg/quant"
)

type ErrorResponse struct {
	Error ResponseError `json:"error" cbor:"error"`
}

type ResponseError struct {
	Message   string `json:"message,omitempty" cbor:"message,omitempty"`
	Type      string `json:"type,omitempty" cbor:"type,omitempty"`
	RequestID string `json:"request_id,omitempty" cbor:"request_id,omitempty"`
}

type HealthResponse struct {
	Status     string   `json:"status" cbor:"status"`
	Version    string   `json:"version" cbor:"version"`
	Algorithms []string `json:"algorithms" cbor:"algorithms"`
}

// RangeRequest selects an integer range. QType is a name such as "uint8".
type RangeRequest struct {
	QType       string `json:"qtype" cbor:"qtype"`
	ReduceRange bool   `json:"reduce_range,omitempty" cbor:"reduce_range,omitempty"`
	Symmetric   bool   `json:"symmetric,omitempty" cbor:"symmetric,omitempty"`
}

type RangeResponse struct {
	QType string                  `json:"qtype" cbor:"qtype"`
	Range quant.QuantizationRange `json:"range" cbor:"range"`
}

// ScaleZPRequest derives parameters for an observed [rmin, rmax], or per
// channel when RMins and RMaxs are set.
type ScaleZPRequest struct {
	RangeRequest
	RMin  float32   `json:"rmin" cbor:"rmin"`
	RMax  float32   `json:"rmax" cbor:"rmax"`
	RMins []float32 `json:"rmins,omitempty" cbor:"rmins,omitempty"`
	RMaxs []float32 `json:"rmaxs,omitempty" cbor:"rmaxs,omitempty"`
}

type ScaleZPResponse struct {
	Range      quant.QuantizationRange `json:"range" cbor:"range"`
	Params     *quant.AffineParams     `json:"params,omitempty" cbor:"params,omitempty"`
	PerChannel *quant.ChannelParams    `json:"per_channel,omitempty" cbor:"per_channel,omitempty"`
}

// QuantizeRequest quantizes Data with parameters derived from its own range.
// With Shape and Axis set, one parameter pair is used per channel.
type QuantizeRequest struct {
	RangeRequest
	Data  []float32 `json:"data" cbor:"data"`
	Shape []int     `json:"shape,omitempty" cbor:"shape,omitempty"`
	Axis  *int      `json:"axis,omitempty" cbor:"axis,omitempty"`
}

type QuantizeResponse struct {
	Range      quant.QuantizationRange `json:"range" cbor:"range"`
	RMin       []float32               `json:"rmin" cbor:"rmin"`
	RMax       []float32               `json:"rmax" cbor:"rmax"`
	Params     *quant.AffineParams     `json:"params,omitempty" cbor:"params,omitempty"`
	PerChannel *quant.ChannelParams    `json:"per_channel,omitempty" cbor:"per_channel,omitempty"`
	Quantized  []int                   `json:"quantized" cbor:"quantized"`
}

type DequantizeRequest struct {
	Quantized []int   `json:"quantized" cbor:"quantized"`
	Scale     float32 `json:"scale" cbor:"scale"`
	ZeroPoint int     `json:"zero_point" cbor:"zero_point"`
}

type DequantizeResponse struct {
	Data []float32 `json:"data" cbor:"data"`
}

// GroupQuantizeRequest runs group-wise quantization over a tensor. Kind is
// "int" or "uint"; QDQ returns the dequantized tensor instead of codes.
type GroupQuantizeRequest struct {
	Data      []float32 `json:"data" cbor:"data"`
	Shape     []int     `json:"shape" cbor:"shape"`
	Bits      int       `json:"bits" cbor:"bits"`
	GroupSize int       `json:"group_size" cbor:"group_size"`
	Sym       bool      `json:"sym,omitempty" cbor:"sym,omitempty"`
	Kind      string    `json:"kind,omitempty" cbor:"kind,omitempty"`
	Ratio     float64   `json:"ratio,omitempty" cbor:"ratio,omitempty"`
	QDQ       bool      `json:"qdq,omitempty" cbor:"qdq,omitempty"`
}

type GroupQuantizeResponse struct {
	Rows      int                     `json:"rows" cbor:"rows"`
	Cols      int                     `json:"cols" cbor:"cols"`
	Range     quant.QuantizationRange `json:"range" cbor:"range"`
	Quantized []float64               `json:"quantized,omitempty" cbor:"quantized,omitempty"`
	Scale     []float64               `json:"scale,omitempty" cbor:"scale,omitempty"`
	ZeroPoint []float64               `json:"zero_point,omitempty" cbor:"zero_point,omitempty"`
	Data      []float32               `json:"data,omitempty" cbor:"data,omitempty"`
}

// CheckRequest runs the execution-provider pipeline for one op. A nil Config
// starts from ep.DefaultConfig.
type CheckRequest struct {
	OpType  string     `json:"op_type" cbor:"op_type"`
	Backend string     `json:"backend" cbor:"backend"`
	Format  string     `json:"format" cbor:"format"`
	Config  *ep.Config `json:"config,omitempty" cbor:"config,omitempty"`
}

type CheckResponse struct {
	Quantizable bool       `json:"quantizable" cbor:"quantizable"`
	Config      *ep.Config `json:"config,omitempty" cbor:"config,omitempty"`
}

// JobRequest quantizes a graph manifest on the server's filesystem.
type JobRequest struct {
	Algorithm      string             `json:"algorithm,omitempty" cbor:"algorithm,omitempty"`
	Model          string             `json:"model" cbor:"model"`
	Output         string             `json:"output" cbor:"output"`
	Bits           int                `json:"bits,omitempty" cbor:"bits,omitempty"`
	GroupSize      int                `json:"group_size,omitempty" cbor:"group_size,omitempty"`
	Scheme         string             `json:"scheme,omitempty" cbor:"scheme,omitempty"`
	AccuracyLevel  int                `json:"accuracy_level,omitempty" cbor:"accuracy_level,omitempty"`
	RuntimeVersion string             `json:"runtime_version,omitempty" cbor:"runtime_version,omitempty"`
	Providers      []string           `json:"providers,omitempty" cbor:"providers,omitempty"`
	Layout         string             `json:"layout,omitempty" cbor:"layout,omitempty"`
	Exclude        []string           `json:"exclude,omitempty" cbor:"exclude,omitempty"`
	Ratios         map[string]float64 `json:"ratios,omitempty" cbor:"ratios,omitempty"`
}

// Job status values.
const (
	JobCompleted = "completed"
	JobFailed    = "failed"
)

type Job struct {
	ID          string       `json:"id" cbor:"id"`
	Object      string       `json:"object" cbor:"object"`
	CreatedAt   int64        `json:"created_at" cbor:"created_at"`
	CompletedAt int64        `json:"completed_at,omitempty" cbor:"completed_at,omitempty"`
	Status      string       `json:"status" cbor:"status"`
	Request     JobRequest   `json:"request" cbor:"request"`
	Report      *algo.Report `json:"report,omitempty" cbor:"report,omitempty"`
	Stats       []StatsRow   `json:"stats,omitempty" cbor:"stats,omitempty"`
	Error       string       `json:"error,omitempty" cbor:"error,omitempty"`
}

type StatsRow struct {
	OpType string         `json:"op_type" cbor:"op_type"`
	Total  int            `json:"total" cbor:"total"`
	Counts map[string]int `json:"counts" cbor:"counts"`
}

type DeleteJobResp struct {
	ID      string `json:"id" cbor:"id"`
	Object  string `json:"object" cbor:"object"`
	Deleted bool   `json:"deleted" cbor:"deleted"`
}
