package api

import (
	"fmt"
	"net/http"

	"github.com/labstack/echo/v5"
	"go.opentelemetry.io/otel/attribute"

	"github.com/samcharles93/quanta/internal/ep"
	"github.com/samcharles93/quanta/pkg/quant"
	"github.com/samcharles93/quanta/pkg/tensor"
)

func (r RangeRequest) resolve() (quant.QType, quant.QuantizationRange, error) {
	qt, err := quant.ParseQType(r.QType)
	if err != nil {
		return 0, quant.QuantizationRange{}, err
	}
	qr, err := quant.Ranges(qt, r.ReduceRange, r.Symmetric)
	return qt, qr, err
}

func (s *Server) handleRanges(c *echo.Context) error {
	req, err := decodeBody[RangeRequest](c)
	if err != nil {
		return writeEngineError(c, err)
	}
	qt, qr, err := req.resolve()
	if err != nil {
		return writeEngineError(c, err)
	}
	return writeBody(c, http.StatusOK, RangeResponse{QType: qt.String(), Range: qr})
}

func (s *Server) handleScaleZP(c *echo.Context) error {
	req, err := decodeBody[ScaleZPRequest](c)
	if err != nil {
		return writeEngineError(c, err)
	}
	qt, qr, err := req.resolve()
	if err != nil {
		return writeEngineError(c, err)
	}

	resp := ScaleZPResponse{Range: qr}
	if req.RMins != nil || req.RMaxs != nil {
		p, err := quant.CalculateScaleZPPerChannel(req.RMins, req.RMaxs, qr, qt, req.Symmetric)
		if err != nil {
			return writeEngineError(c, err)
		}
		resp.PerChannel = &p
	} else {
		p, err := quant.CalculateScaleZP(req.RMin, req.RMax, qr, qt, req.Symmetric)
		if err != nil {
			return writeEngineError(c, err)
		}
		resp.Params = &p
	}
	return writeBody(c, http.StatusOK, resp)
}

func (s *Server) handleQuantize(c *echo.Context) error {
	_, span := tracer.Start(c.Request().Context(), "api.quantize")
	defer span.End()

	req, err := decodeBody[QuantizeRequest](c)
	if err != nil {
		return writeEngineError(c, err)
	}
	qt, qr, err := req.resolve()
	if err != nil {
		return writeEngineError(c, err)
	}
	span.SetAttributes(attribute.Int("elements", len(req.Data)), attribute.String("qtype", qt.String()))

	resp := QuantizeResponse{Range: qr}
	if req.Axis == nil {
		res, err := quant.QuantizeData(qt, req.Data, qr, req.Symmetric)
		if err != nil {
			return writeEngineError(c, err)
		}
		resp.RMin = []float32{res.RMin}
		resp.RMax = []float32{res.RMax}
		resp.Params = &res.Params
		resp.Quantized = res.Quantized
		return writeBody(c, http.StatusOK, resp)
	}

	shape := req.Shape
	if shape == nil {
		shape = []int{len(req.Data)}
	}
	t, err := tensor.New(shape, req.Data)
	if err != nil {
		return writeEngineError(c, err)
	}
	res, err := quant.QuantizeDataPerChannel(qt, t, *req.Axis, qr, req.Symmetric)
	if err != nil {
		return writeEngineError(c, err)
	}
	resp.RMin = res.RMin
	resp.RMax = res.RMax
	resp.PerChannel = &res.Params
	resp.Quantized = res.Quantized
	return writeBody(c, http.StatusOK, resp)
}

func (s *Server) handleDequantize(c *echo.Context) error {
	req, err := decodeBody[DequantizeRequest](c)
	if err != nil {
		return writeEngineError(c, err)
	}
	if req.Scale <= 0 {
		return writeBadRequest(c, "scale must be positive")
	}
	return writeBody(c, http.StatusOK, DequantizeResponse{Data: quant.Dequantize(req.Quantized, req.Scale, req.ZeroPoint)})
}

func (s *Server) handleGroupQuantize(c *echo.Context) error {
	_, span := tracer.Start(c.Request().Context(), "api.group_quantize")
	defer span.End()

	req, err := decodeBody[GroupQuantizeRequest](c)
	if err != nil {
		return writeEngineError(c, err)
	}
	opts := quant.GroupOptions{
		Bits:      req.Bits,
		GroupSize: req.GroupSize,
		Sym:       req.Sym,
		Ratio:     req.Ratio,
	}
	switch req.Kind {
	case "", "int":
		opts.Kind = quant.KindInt
	case "uint":
		opts.Kind = quant.KindUint
	default:
		return writeBadRequest(c, fmt.Sprintf("kind %q (want int or uint)", req.Kind))
	}
	if opts.Bits == 0 {
		opts.Bits = 4
	}
	if opts.GroupSize == 0 {
		opts.GroupSize = 32
	}
	shape := req.Shape
	if shape == nil {
		shape = []int{len(req.Data)}
	}
	t, err := tensor.New(shape, req.Data)
	if err != nil {
		return writeEngineError(c, err)
	}
	span.SetAttributes(attribute.Int("bits", opts.Bits), attribute.Int("group_size", opts.GroupSize))

	if req.QDQ {
		out, err := quant.QDQTensor(t, opts)
		if err != nil {
			return writeEngineError(c, err)
		}
		return writeBody(c, http.StatusOK, GroupQuantizeResponse{
			Rows:  out.Dim(0),
			Cols:  out.Numel() / max(out.Dim(0), 1),
			Range: quant.GroupRange(opts.Bits, opts.Sym, opts.Kind),
			Data:  out.Data,
		})
	}
	res, err := quant.QuantTensor(t, opts)
	if err != nil {
		return writeEngineError(c, err)
	}
	return writeBody(c, http.StatusOK, GroupQuantizeResponse{
		Rows:      res.Rows,
		Cols:      res.Cols,
		Range:     res.Range,
		Quantized: res.Quantized,
		Scale:     res.Scale,
		ZeroPoint: res.ZeroPoint,
	})
}

func (s *Server) handleCheck(c *echo.Context) error {
	req, err := decodeBody[CheckRequest](c)
	if err != nil {
		return writeEngineError(c, err)
	}
	backend, err := ep.ParseBackend(req.Backend)
	if err != nil {
		return writeEngineError(c, err)
	}
	format, err := ep.ParseFormat(req.Format)
	if err != nil {
		return writeEngineError(c, err)
	}
	cfg := ep.DefaultConfig()
	if req.Config != nil {
		cfg = *req.Config
	}
	out, ok, err := ep.Run(ep.ChecksFor(format), &cfg, req.OpType, backend, format)
	if err != nil {
		return writeEngineError(c, err)
	}
	return writeBody(c, http.StatusOK, CheckResponse{Quantizable: ok, Config: out})
}
