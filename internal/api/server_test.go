package api

import (
	"bytes"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fxamacker/cbor/v2"
	"github.com/goccy/go-json"
	"github.com/labstack/echo/v5"

	"github.com/samcharles93/quanta/internal/algo"
	"github.com/samcharles93/quanta/internal/graph"
	"github.com/samcharles93/quanta/pkg/quant"
	"github.com/samcharles93/quanta/pkg/tensor"
	"github.com/samcharles93/quanta/pkg/woq"
)

func newTestEcho() *echo.Echo {
	return newTestEchoIn("")
}

func newTestEchoIn(root string) *echo.Echo {
	defaults := algo.DefaultOptions()
	defaults.Caps = woq.RuntimeCaps{Version: "1.17.0"}
	server := NewServer(Config{Defaults: defaults, Root: root})
	e := echo.New()
	server.Register(e)
	return e
}

func saveTinyGraph(t *testing.T, path string) {
	t.Helper()
	data := make([]float32, 64*4)
	for i := range data {
		data[i] = float32(i%17) - 8
	}
	w, err := tensor.New([]int{64, 4}, data)
	if err != nil {
		t.Fatal(err)
	}
	wi, err := graph.FromTensor("w", w)
	if err != nil {
		t.Fatal(err)
	}
	g := &graph.Graph{
		Name:         "tiny",
		Nodes:        []*graph.Node{{Name: "fc", OpType: "MatMul", Inputs: []string{"x", "w"}, Outputs: []string{"y"}}},
		Initializers: []*graph.Initializer{wi},
	}
	if err := graph.Save(g, path); err != nil {
		t.Fatal(err)
	}
}

func doJSON(t *testing.T, e *echo.Echo, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %T: %v body=%s", out, err, rec.Body.String())
	}
	return out
}

func TestHealthAndRequestID(t *testing.T) {
	t.Parallel()
	e := newTestEcho()

	rec := doJSON(t, e, http.MethodGet, "/healthz", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d body=%s", rec.Code, rec.Body.String())
	}
	if rec.Header().Get(echo.HeaderXRequestID) == "" {
		t.Fatal("expected a generated request id")
	}
	health := decode[HealthResponse](t, rec)
	if health.Status != "ok" || len(health.Algorithms) != 1 || health.Algorithms[0] != algo.RTNName {
		t.Fatalf("unexpected health response: %+v", health)
	}

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(echo.HeaderXRequestID, "abc-123")
	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if got := rec.Header().Get(echo.HeaderXRequestID); got != "abc-123" {
		t.Fatalf("request id not echoed: %q", got)
	}
}

func TestRanges(t *testing.T) {
	t.Parallel()
	e := newTestEcho()

	rec := doJSON(t, e, http.MethodPost, "/v1/ranges", `{"qtype":"int8","symmetric":true}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d body=%s", rec.Code, rec.Body.String())
	}
	got := decode[RangeResponse](t, rec)
	if got.Range != (quant.QuantizationRange{Min: -127, Max: 127}) {
		t.Fatalf("unexpected range: %+v", got.Range)
	}

	tests := []struct {
		body string
		code int
	}{
		{`{"qtype":"float8e4m3fn"}`, http.StatusUnprocessableEntity},
		{`{"qtype":"int4"}`, http.StatusUnprocessableEntity},
		{`{"qtype":"int16"}`, http.StatusUnprocessableEntity},
		{`{"qtype":`, http.StatusBadRequest},
		{``, http.StatusBadRequest},
	}
	for _, tt := range tests {
		rec := doJSON(t, e, http.MethodPost, "/v1/ranges", tt.body)
		if rec.Code != tt.code {
			t.Fatalf("%s: got %d want %d body=%s", tt.body, rec.Code, tt.code, rec.Body.String())
		}
		if !strings.Contains(rec.Body.String(), `"request_id"`) {
			t.Fatalf("error body missing request id: %s", rec.Body.String())
		}
	}
}

func TestScaleZP(t *testing.T) {
	t.Parallel()
	e := newTestEcho()

	rec := doJSON(t, e, http.MethodPost, "/v1/scale-zp", `{"qtype":"uint8","rmin":-1,"rmax":3}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d body=%s", rec.Code, rec.Body.String())
	}
	got := decode[ScaleZPResponse](t, rec)
	if got.Params == nil || got.Params.ZeroPoint != 64 || math.Abs(float64(got.Params.Scale)-4.0/255) > 1e-6 {
		t.Fatalf("unexpected params: %+v", got.Params)
	}

	rec = doJSON(t, e, http.MethodPost, "/v1/scale-zp", `{"qtype":"uint8","rmins":[-1,0],"rmaxs":[3]}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("mismatched channels: got %d body=%s", rec.Code, rec.Body.String())
	}
}

func TestQuantizeCBOR(t *testing.T) {
	t.Parallel()
	e := newTestEcho()

	body, err := cbor.Marshal(QuantizeRequest{
		RangeRequest: RangeRequest{QType: "uint8"},
		Data:         []float32{-1, 0, 3},
	})
	if err != nil {
		t.Fatal(err)
	}
	req := httptest.NewRequest(http.MethodPost, "/v1/quantize", bytes.NewReader(body))
	req.Header.Set(echo.HeaderContentType, MIMEApplicationCBOR)
	req.Header.Set(echo.HeaderAccept, MIMEApplicationCBOR)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d body=%x", rec.Code, rec.Body.Bytes())
	}
	if ct := rec.Header().Get(echo.HeaderContentType); ct != MIMEApplicationCBOR {
		t.Fatalf("content type: %q", ct)
	}
	var got QuantizeResponse
	if err := cbor.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	want := []int{0, 64, 255}
	for i, q := range got.Quantized {
		if q != want[i] {
			t.Fatalf("quantized = %v, want %v", got.Quantized, want)
		}
	}
}

func TestQuantizePerChannelAndDequantize(t *testing.T) {
	t.Parallel()
	e := newTestEcho()

	rec := doJSON(t, e, http.MethodPost, "/v1/quantize", `{"qtype":"int8","symmetric":true,"data":[1,-2,4,0.5],"shape":[2,2],"axis":0}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d body=%s", rec.Code, rec.Body.String())
	}
	got := decode[QuantizeResponse](t, rec)
	if got.PerChannel == nil || got.PerChannel.Len() != 2 || len(got.Quantized) != 4 {
		t.Fatalf("unexpected per-channel response: %+v", got)
	}

	rec = doJSON(t, e, http.MethodPost, "/v1/dequantize", `{"quantized":[0,64,255],"scale":0.5,"zero_point":64}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d body=%s", rec.Code, rec.Body.String())
	}
	deq := decode[DequantizeResponse](t, rec)
	if len(deq.Data) != 3 || deq.Data[0] != -32 || deq.Data[1] != 0 {
		t.Fatalf("unexpected dequantized data: %v", deq.Data)
	}

	rec = doJSON(t, e, http.MethodPost, "/v1/dequantize", `{"quantized":[1],"scale":0}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("zero scale: got %d", rec.Code)
	}
}

func TestGroupQuantize(t *testing.T) {
	t.Parallel()
	e := newTestEcho()

	rec := doJSON(t, e, http.MethodPost, "/v1/group-quantize", `{"data":[0,1,2,3,4,5,6,7],"shape":[2,4],"bits":4,"group_size":4,"kind":"uint"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d body=%s", rec.Code, rec.Body.String())
	}
	got := decode[GroupQuantizeResponse](t, rec)
	if got.Rows != 2 || got.Cols != 4 || len(got.Scale) != 2 {
		t.Fatalf("unexpected result: %+v", got)
	}

	rec = doJSON(t, e, http.MethodPost, "/v1/group-quantize", `{"data":[0,1,2,3,4,5],"group_size":4}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad group size: got %d body=%s", rec.Code, rec.Body.String())
	}
	rec = doJSON(t, e, http.MethodPost, "/v1/group-quantize", `{"data":[0,1],"group_size":2,"kind":"nf"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad kind: got %d", rec.Code)
	}
}

func TestCheck(t *testing.T) {
	t.Parallel()
	e := newTestEcho()

	rec := doJSON(t, e, http.MethodPost, "/v1/check", `{"op_type":"Attention","backend":"cpu","format":"qoperator"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d body=%s", rec.Code, rec.Body.String())
	}
	got := decode[CheckResponse](t, rec)
	if !got.Quantizable || got.Config.ActivationType != quant.Uint8 {
		t.Fatalf("unexpected check result: %+v", got)
	}

	rec = doJSON(t, e, http.MethodPost, "/v1/check", `{"op_type":"MatMul","backend":"dml","format":"dynamic"}`)
	got = decode[CheckResponse](t, rec)
	if rec.Code != http.StatusOK || got.Quantizable {
		t.Fatalf("dynamic dml: got %d %+v", rec.Code, got)
	}

	rec = doJSON(t, e, http.MethodPost, "/v1/check", `{"op_type":"Softmax","backend":"trt","format":"qdq"}`)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("unsupported op: got %d body=%s", rec.Code, rec.Body.String())
	}
}

func TestJobLifecycle(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	e := newTestEchoIn(dir)
	saveTinyGraph(t, filepath.Join(dir, "tiny.json"))
	model, out := "tiny.json", "quantized/tiny_q4.json"

	body, _ := json.Marshal(JobRequest{Model: model, Output: out})
	rec := doJSON(t, e, http.MethodPost, "/v1/jobs", string(body))
	if rec.Code != http.StatusOK {
		t.Fatalf("create status: got %d body=%s", rec.Code, rec.Body.String())
	}
	job := decode[Job](t, rec)
	if job.Status != JobCompleted || job.Report == nil || job.Report.Quantized[woq.OpMatMulNBits] != 1 {
		t.Fatalf("unexpected job: %+v", job)
	}
	if len(job.Stats) != 1 || job.Stats[0].Counts["A32W4G32"] != 1 {
		t.Fatalf("unexpected stats: %+v", job.Stats)
	}

	q, err := graph.Load(filepath.Join(dir, "quantized", "tiny_q4.json"))
	if err != nil {
		t.Fatalf("load output: %v", err)
	}
	if q.Nodes[0].OpType != woq.OpMatMulNBits {
		t.Fatalf("output node: %s", q.Nodes[0].OpType)
	}

	rec = doJSON(t, e, http.MethodGet, "/v1/jobs/"+job.ID, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("get status: got %d", rec.Code)
	}
	rec = doJSON(t, e, http.MethodDelete, "/v1/jobs/"+job.ID, "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"deleted":true`) {
		t.Fatalf("delete: got %d body=%s", rec.Code, rec.Body.String())
	}
	rec = doJSON(t, e, http.MethodGet, "/v1/jobs/"+job.ID, "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 after delete, got %d", rec.Code)
	}

	rec = doJSON(t, e, http.MethodPost, "/v1/jobs", `{"model":"nonexistent.json","output":"x.json"}`)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("missing model: got %d body=%s", rec.Code, rec.Body.String())
	}
	rec = doJSON(t, e, http.MethodPost, "/v1/jobs", `{"model":"a","output":"b","algorithm":"gptq"}`)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("unknown algorithm: got %d body=%s", rec.Code, rec.Body.String())
	}
}

func TestJobPathsStayInsideRoot(t *testing.T) {
	t.Parallel()
	parent := t.TempDir()
	root := filepath.Join(parent, "models")
	if err := os.Mkdir(root, 0o755); err != nil {
		t.Fatal(err)
	}
	saveTinyGraph(t, filepath.Join(parent, "secret.json"))
	saveTinyGraph(t, filepath.Join(root, "tiny.json"))
	if err := os.Symlink(filepath.Join(parent, "secret.json"), filepath.Join(root, "link.json")); err != nil {
		t.Fatal(err)
	}
	e := newTestEchoIn(root)

	rejected := []JobRequest{
		{Model: "../secret.json", Output: "out.json"},
		{Model: filepath.Join(parent, "secret.json"), Output: "out.json"},
		{Model: "tiny.json", Output: "../overwrite.json"},
		{Model: "tiny.json", Output: "sub/../../overwrite.json"},
		{Model: "tiny.json", Output: filepath.Join(parent, "overwrite.json")},
	}
	for _, req := range rejected {
		body, _ := json.Marshal(req)
		rec := doJSON(t, e, http.MethodPost, "/v1/jobs", string(body))
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("%+v: got %d body=%s", req, rec.Code, rec.Body.String())
		}
	}

	// a symlink out of the root is refused when opened
	body, _ := json.Marshal(JobRequest{Model: "link.json", Output: "out.json"})
	rec := doJSON(t, e, http.MethodPost, "/v1/jobs", string(body))
	if rec.Code == http.StatusOK {
		t.Fatalf("symlinked model outside root was loaded: %s", rec.Body.String())
	}

	for _, name := range []string{"overwrite.json", "overwrite.safetensors"} {
		if _, err := os.Stat(filepath.Join(parent, name)); err == nil {
			t.Fatalf("%s was written outside the root", name)
		}
	}
	if _, err := os.Stat(filepath.Join(root, "out.json")); err == nil {
		t.Fatal("rejected job still wrote its output")
	}
}

func TestMetrics(t *testing.T) {
	t.Parallel()
	e := newTestEcho()
	rec := doJSON(t, e, http.MethodGet, "/metrics", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("metrics status: got %d", rec.Code)
	}
}
