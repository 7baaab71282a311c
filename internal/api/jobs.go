package api

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/labstack/echo/v5"
	"go.opentelemetry.io/otel/attribute"

	"github.com/samcharles93/quanta/internal/algo"
	"github.com/samcharles93/quanta/internal/graph"
	"github.com/samcharles93/quanta/internal/stats"
	"github.com/samcharles93/quanta/pkg/woq"
)

// options overlays the request on the server defaults.
func (s *Server) options(req *JobRequest) algo.Options {
	opts := s.defaults
	if opts.Bits == 0 {
		opts = algo.DefaultOptions()
		opts.Caps = s.defaults.Caps
		opts.Providers = s.defaults.Providers
	}
	if req.Bits != 0 {
		opts.Bits = req.Bits
	}
	if req.GroupSize != 0 {
		opts.GroupSize = req.GroupSize
	}
	if req.Scheme != "" {
		opts.Scheme = req.Scheme
	}
	if req.AccuracyLevel != 0 {
		opts.AccuracyLevel = req.AccuracyLevel
	}
	if req.RuntimeVersion != "" {
		opts.Caps = woq.RuntimeCaps{Version: req.RuntimeVersion}
	}
	if req.Providers != nil {
		opts.Providers = req.Providers
	}
	if req.Layout != "" {
		opts.Layout = req.Layout
	}
	if req.Exclude != nil {
		opts.Exclude = req.Exclude
	}
	if req.Ratios != nil {
		opts.Ratios = req.Ratios
	}
	opts.Logger = s.log
	return opts
}

func (s *Server) handleCreateJob(c *echo.Context) error {
	ctx, span := tracer.Start(c.Request().Context(), "api.job")
	defer span.End()

	req, err := decodeBody[JobRequest](c)
	if err != nil {
		return writeEngineError(c, err)
	}
	if strings.TrimSpace(req.Model) == "" || strings.TrimSpace(req.Output) == "" {
		return writeBadRequest(c, "model and output are required")
	}
	model, err := jobPath("model", req.Model)
	if err != nil {
		return writeEngineError(c, err)
	}
	output, err := jobPath("output", req.Output)
	if err != nil {
		return writeEngineError(c, err)
	}
	if req.Algorithm == "" {
		req.Algorithm = algo.RTNName
	}
	span.SetAttributes(attribute.String("algorithm", req.Algorithm), attribute.String("model", req.Model))

	a, err := s.registry.New(req.Algorithm, s.options(&req))
	if err != nil {
		return writeEngineError(c, err)
	}

	job := s.store.Create(req, s.clock())
	log := s.log.With("job", job.ID, "model", req.Model)

	report, table, runErr := func() (*algo.Report, *stats.Table, error) {
		root, err := os.OpenRoot(s.root)
		if err != nil {
			return nil, nil, err
		}
		defer func() { _ = root.Close() }()

		g, err := graph.LoadFrom(root, model)
		if err != nil {
			return nil, nil, err
		}
		report, err := a.Quantize(ctx, g)
		if err != nil {
			return nil, nil, err
		}
		if dir := filepath.Dir(output); dir != "." {
			if err := root.MkdirAll(dir, 0o755); err != nil {
				return report, nil, err
			}
		}
		if err := graph.SaveTo(root, g, output); err != nil {
			return report, nil, err
		}
		return report, stats.WeightOnly(g, []string{"MatMul"}), nil
	}()

	done, _ := s.store.Finish(job.ID, s.clock(), func(j *Job) {
		j.Report = report
		if runErr != nil {
			j.Status = JobFailed
			j.Error = runErr.Error()
			return
		}
		j.Status = JobCompleted
		j.Stats = statsRows(table)
	})
	if runErr != nil {
		log.Error("quantization job failed", "error", runErr)
		span.RecordError(runErr)
		status, _ := statusFor(runErr)
		if status == http.StatusInternalServerError {
			status = http.StatusUnprocessableEntity
		}
		return writeBody(c, status, done)
	}
	log.Info("quantization job done", "quantized", report.Total(), "output", req.Output)
	return writeBody(c, http.StatusOK, done)
}

// jobPath checks that p names a file inside the server root.
func jobPath(field, p string) (string, error) {
	p = filepath.FromSlash(strings.TrimSpace(p))
	if !filepath.IsLocal(p) {
		return "", newInvalidRequest(fmt.Sprintf("%s %q must be a relative path inside the models directory", field, p))
	}
	return filepath.Clean(p), nil
}

func statsRows(t *stats.Table) []StatsRow {
	rows := make([]StatsRow, 0, len(t.Rows))
	for _, r := range t.Rows {
		counts := make(map[string]int, len(t.Tags))
		for i, tag := range t.Tags {
			counts[tag] = r.Counts[i]
		}
		rows = append(rows, StatsRow{OpType: r.OpType, Total: r.Total, Counts: counts})
	}
	return rows
}

func (s *Server) handleGetJob(c *echo.Context) error {
	id := c.Param("id")
	job, ok := s.store.Get(id)
	if !ok {
		return writeNotFound(c, "job not found")
	}
	return writeBody(c, http.StatusOK, job)
}

func (s *Server) handleDeleteJob(c *echo.Context) error {
	id := c.Param("id")
	if !s.store.Delete(id) {
		return writeNotFound(c, "job not found")
	}
	return writeBody(c, http.StatusOK, DeleteJobResp{ID: id, Object: "quantization.job.deleted", Deleted: true})
}
