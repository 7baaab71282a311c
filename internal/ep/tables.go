package ep

// Backend is an execution provider name.
type Backend string

const (
	CPU      Backend = "CPUExecutionProvider"
	CUDA     Backend = "CUDAExecutionProvider"
	DML      Backend = "DmlExecutionProvider"
	DNNL     Backend = "DnnlExecutionProvider"
	TensorRT Backend = "TensorrtExecutionProvider"
)

// Backends lists every known provider.
var Backends = []Backend{CPU, CUDA, DML, DNNL, TensorRT}

// QuantFormat is how a statically quantized operator is expressed.
type QuantFormat string

const (
	QOperator QuantFormat = "QOperator"
	QDQ       QuantFormat = "QDQ"
	// Dynamic is the single format of dynamic quantization.
	Dynamic QuantFormat = "Dynamic"
)

func opSet(ops ...string) map[string]bool {
	m := make(map[string]bool, len(ops))
	for _, op := range ops {
		m[op] = true
	}
	return m
}

var cpuStaticOps = opSet(
	"FusedConv", "Conv", "Gather", "GatherElements", "GatherND", "Tile", "MatMul", "Gemm",
	"EmbedLayerNormalization", "Attention", "Relu", "Clip", "LeakyRelu", "Sigmoid", "MaxPool",
	"GlobalAveragePool", "Pad", "Split", "Add", "Squeeze", "Reshape", "Concat", "AveragePool",
	"Unsqueeze", "Transpose", "ArgMax", "Resize", "Abs", "Shrink", "Sign", "Flatten", "Expand",
	"Slice", "Mod", "ReduceMax", "ReduceMin", "CenterCropPad", "Mul",
)

var dmlStaticOps = opSet("Conv", "MatMul", "Add", "Mul", "Relu", "Clip", "MaxPool")

var trtQDQOps = opSet(
	"Conv", "MatMul", "Attention", "LeakyRelu", "Gather", "Sigmoid", "MaxPool",
	"EmbedLayerNormalization", "GlobalAveragePool", "Pad", "Split", "Squeeze", "Reshape",
	"Concat", "AveragePool", "Unsqueeze", "Transpose", "Resize", "Gemm", "Add",
)

var dynamicOps = opSet("FusedConv", "Conv", "EmbedLayerNormalization", "MatMul", "Gather", "Attention", "LSTM")

// StaticQOperatorOps is the operator support table for static QOperator models.
var StaticQOperatorOps = map[Backend]map[string]bool{
	CPU:      cpuStaticOps,
	CUDA:     cpuStaticOps,
	DNNL:     cpuStaticOps,
	DML:      dmlStaticOps,
	TensorRT: {},
}

// StaticQDQOps is the operator support table for static QDQ models.
var StaticQDQOps = map[Backend]map[string]bool{
	CPU:      cpuStaticOps,
	CUDA:     cpuStaticOps,
	DNNL:     cpuStaticOps,
	DML:      dmlStaticOps,
	TensorRT: trtQDQOps,
}

// DynamicOps is the operator support table for dynamic quantization.
var DynamicOps = map[Backend]map[string]bool{
	CPU:      dynamicOps,
	CUDA:     dynamicOps,
	DNNL:     dynamicOps,
	DML:      dynamicOps,
	TensorRT: dynamicOps,
}

// Ops returns the supported operator set for (backend, format), or false when
// the pair is unknown.
func Ops(backend Backend, format QuantFormat) (map[string]bool, bool) {
	var table map[Backend]map[string]bool
	switch format {
	case QOperator:
		table = StaticQOperatorOps
	case QDQ:
		table = StaticQDQOps
	case Dynamic:
		table = DynamicOps
	default:
		return nil, false
	}
	ops, ok := table[backend]
	return ops, ok
}

// ops that cannot be quantized per channel on the CPU-like static backends.
var perTensorStaticOps = opSet(
	"EmbedLayerNormalization", "Relu", "Clip", "LeakyRelu", "Sigmoid", "MaxPool",
	"GlobalAveragePool", "Pad", "Split", "Squeeze", "Reshape", "Concat", "AveragePool", "Tile",
	"Unsqueeze", "Transpose", "Resize", "Abs", "Shrink", "Sign", "Attention", "Flatten", "Expand",
	"Slice", "Mod", "ReduceMax", "ReduceMin", "CenterCropPad", "Add", "Mul", "ArgMax",
)

var perTensorDMLOps = opSet("Conv", "MatMul", "Mul", "Relu", "Clip", "MaxPool", "Add")

var perChannelChoiceTRTOps = opSet("Conv", "MatMul", "Gather", "Gemm")

var perTensorDynamicOps = opSet("FusedConv", "Conv", "EmbedLayerNormalization", "Gather", "Attention", "LSTM")
