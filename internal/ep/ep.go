// Package ep adjusts per-operator quantization settings to what an execution
// provider can run.
//
// A pipeline is a fixed, ordered list of Check functions. The first entry
// rejects operators the provider cannot quantize at all; the rest are no-ops
// unless their provider is the target, in which case they coerce fields of the
// Config to legal values. Running a pipeline twice gives the same result.
package ep

import (
	"errors"
	"fmt"
	"slices"

	"github.com/samcharles93/quanta/pkg/quant"
)

var ErrUnsupportedBackendOrOp = errors.New("ep: unsupported backend or op")

// Config is the quantization setting proposed for one operator type.
type Config struct {
	PerChannel bool `json:"per_channel" yaml:"per_channel"`
	// PerChannelChoices lists the per-channel values a tuner may try. Nil
	// means PerChannel is fixed.
	PerChannelChoices []bool      `json:"per_channel_choices,omitempty" yaml:"per_channel_choices,omitempty"`
	WeightType        quant.QType `json:"weight_type" yaml:"weight_type"`
	ActivationType    quant.QType `json:"activation_type" yaml:"activation_type"`
	WeightSym         bool        `json:"weight_sym" yaml:"weight_sym"`
	ActivationSym     bool        `json:"activation_sym" yaml:"activation_sym"`
}

// DefaultConfig is the usual starting point: per-tensor, uint8 asymmetric
// activations and int8 symmetric weights.
func DefaultConfig() Config {
	return Config{
		WeightType:     quant.Int8,
		ActivationType: quant.Uint8,
		WeightSym:      true,
	}
}

// Check validates or adjusts cfg for opType on backend. A nil config with a nil
// error means the operator cannot be quantized on that backend.
type Check func(cfg *Config, opType string, backend Backend, format QuantFormat) (*Config, error)

// StaticChecks is the pipeline for static quantization.
var StaticChecks = []Check{
	checkBasic,
	checkCPUStatic,
	checkCUDAStatic,
	checkDMLStatic,
	checkDNNLStatic,
	checkTRTStatic,
}

// DynamicChecks is the pipeline for dynamic quantization.
var DynamicChecks = []Check{
	checkBasic,
	checkCPUDynamic,
	checkCUDADynamic,
	checkDMLDynamic,
	checkDNNLDynamic,
	checkTRTDynamic,
}

// Run applies checks in order. It returns ok=false when a check declares the
// operator unquantizable. cfg is modified in place.
func Run(checks []Check, cfg *Config, opType string, backend Backend, format QuantFormat) (*Config, bool, error) {
	cur := cfg
	for _, check := range checks {
		next, err := check(cur, opType, backend, format)
		if err != nil {
			return nil, false, err
		}
		if next == nil {
			return nil, false, nil
		}
		cur = next
	}
	return cur, true, nil
}

// ChecksFor returns the pipeline for a format.
func ChecksFor(format QuantFormat) []Check {
	if format == Dynamic {
		return DynamicChecks
	}
	return StaticChecks
}

func checkBasic(cfg *Config, opType string, backend Backend, format QuantFormat) (*Config, error) {
	ops, ok := Ops(backend, format)
	if !ok {
		return nil, fmt.Errorf("%w: %s with %s format", ErrUnsupportedBackendOrOp, backend, format)
	}
	if !ops[opType] {
		return nil, fmt.Errorf("%w: %s is not quantizable on %s with %s format", ErrUnsupportedBackendOrOp, opType, backend, format)
	}
	return cfg, nil
}

func checkCPUStatic(cfg *Config, opType string, backend Backend, _ QuantFormat) (*Config, error) {
	if backend != CPU {
		return cfg, nil
	}
	if perTensorStaticOps[opType] {
		cfg.PerChannel = false
	}
	if opType == "Attention" {
		cfg.ActivationType = quant.Uint8
	}
	return cfg, nil
}

func checkCUDAStatic(cfg *Config, opType string, backend Backend, _ QuantFormat) (*Config, error) {
	if backend != CUDA {
		return cfg, nil
	}
	if perTensorStaticOps[opType] {
		cfg.PerChannel = false
	}
	if opType == "Attention" {
		cfg.ActivationType = quant.Int8
		cfg.WeightType = quant.Int8
	}
	return cfg, nil
}

func checkDMLStatic(cfg *Config, opType string, backend Backend, _ QuantFormat) (*Config, error) {
	if backend != DML {
		return cfg, nil
	}
	if perTensorDMLOps[opType] {
		cfg.PerChannel = false
	}
	return cfg, nil
}

// checkDNNLStatic accepts whatever earlier checks produced; DNNL runs the
// CPU kernels but keeps per-channel and activation choices as given.
func checkDNNLStatic(cfg *Config, _ string, _ Backend, _ QuantFormat) (*Config, error) {
	return cfg, nil
}

func checkTRTStatic(cfg *Config, opType string, backend Backend, _ QuantFormat) (*Config, error) {
	if backend != TensorRT {
		return cfg, nil
	}
	cfg.WeightType = quant.Int8
	cfg.ActivationType = quant.Int8
	cfg.WeightSym = true
	cfg.ActivationSym = true
	if perChannelChoiceTRTOps[opType] {
		cfg.PerChannelChoices = []bool{false, true}
	}
	return cfg, nil
}

func dynamicPerTensor(target Backend) Check {
	return func(cfg *Config, opType string, backend Backend, _ QuantFormat) (*Config, error) {
		if backend != target {
			return cfg, nil
		}
		if perTensorDynamicOps[opType] {
			cfg.PerChannel = false
		}
		return cfg, nil
	}
}

func passThrough(cfg *Config, _ string, _ Backend, _ QuantFormat) (*Config, error) {
	return cfg, nil
}

func unsupportedDynamic(target Backend) Check {
	return func(cfg *Config, _ string, backend Backend, _ QuantFormat) (*Config, error) {
		if backend != target {
			return cfg, nil
		}
		return nil, nil
	}
}

var (
	checkCPUDynamic  = dynamicPerTensor(CPU)
	checkCUDADynamic = Check(passThrough)
	checkDNNLDynamic = Check(passThrough)
	checkDMLDynamic  = unsupportedDynamic(DML)
	checkTRTDynamic  = unsupportedDynamic(TensorRT)
)

// AutoDetect picks a backend from the providers a runtime reports, preferring
// DNNL, then DML, then CUDA, then CPU. DML maps to DNNL.
func AutoDetect(available []string) Backend {
	has := func(b Backend) bool { return slices.Contains(available, string(b)) }
	switch {
	case has(DNNL):
		return DNNL
	case has(DML):
		return DNNL
	case has(CUDA):
		return CUDA
	default:
		return CPU
	}
}

// ParseBackend accepts a provider name or a short alias such as "cpu" or "trt".
func ParseBackend(name string) (Backend, error) {
	switch name {
	case "cpu", string(CPU):
		return CPU, nil
	case "cuda", string(CUDA):
		return CUDA, nil
	case "dml", string(DML):
		return DML, nil
	case "dnnl", string(DNNL):
		return DNNL, nil
	case "trt", "tensorrt", string(TensorRT):
		return TensorRT, nil
	default:
		return "", fmt.Errorf("%w: unknown backend %q", ErrUnsupportedBackendOrOp, name)
	}
}

// ParseFormat accepts a format name or its lowercase form.
func ParseFormat(name string) (QuantFormat, error) {
	switch name {
	case "QOperator", "qoperator":
		return QOperator, nil
	case "QDQ", "qdq":
		return QDQ, nil
	case "Dynamic", "dynamic":
		return Dynamic, nil
	default:
		return "", fmt.Errorf("%w: unknown format %q", ErrUnsupportedBackendOrOp, name)
	}
}
