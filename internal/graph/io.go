package graph

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/goccy/go-json"

	"github.com/samcharles93/quanta/internal/safetensors"
)

// manifest is the on-disk form: topology in JSON, tensor bytes in a sibling
// safetensors file named by Weights.
type manifest struct {
	Graph
	Weights string `json:"weights"`
}

// Files opens and creates the files a graph is stored in. *os.Root satisfies
// it and confines every path, including the manifest's weights reference, to
// one directory.
type Files interface {
	Open(name string) (*os.File, error)
	Create(name string) (*os.File, error)
}

type hostFiles struct{}

func (hostFiles) Open(name string) (*os.File, error)   { return os.Open(name) }
func (hostFiles) Create(name string) (*os.File, error) { return os.Create(name) }

// WeightsPath returns the safetensors path that accompanies a manifest.
func WeightsPath(manifestPath string) string {
	ext := filepath.Ext(manifestPath)
	return strings.TrimSuffix(manifestPath, ext) + ".safetensors"
}

// Load reads a manifest and its weights.
func Load(path string) (*Graph, error) {
	return LoadFrom(hostFiles{}, path)
}

// LoadFrom reads a manifest and its weights through files.
func LoadFrom(files Files, path string) (*Graph, error) {
	b, err := readAll(files, path)
	if err != nil {
		return nil, err
	}
	var m manifest
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("graph: parse %s: %w", path, err)
	}
	g := m.Graph
	if len(g.Initializers) == 0 {
		return &g, nil
	}

	weights := m.Weights
	if weights == "" {
		weights = WeightsPath(path)
	} else if !filepath.IsAbs(weights) {
		weights = filepath.Join(filepath.Dir(path), weights)
	}
	wf, err := files.Open(weights)
	if err != nil {
		return nil, fmt.Errorf("graph: open weights: %w", err)
	}
	st, err := safetensors.OpenFile(wf)
	_ = wf.Close()
	if err != nil {
		return nil, fmt.Errorf("graph: open weights: %w", err)
	}
	defer func() { _ = st.Close() }()

	for _, init := range g.Initializers {
		raw, info, err := st.ReadTensor(init.Name)
		if err != nil {
			return nil, fmt.Errorf("graph: initializer %s: %w", init.Name, err)
		}
		q, err := QTypeFromSafetensors(info.DType)
		if err != nil {
			return nil, fmt.Errorf("graph: initializer %s: %w", init.Name, err)
		}
		if q != init.DataType {
			return nil, fmt.Errorf("graph: initializer %s: manifest says %s, weights hold %s", init.Name, init.DataType, q)
		}
		init.RawData = raw
	}
	return &g, nil
}

func readAll(files Files, path string) ([]byte, error) {
	f, err := files.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()
	return io.ReadAll(f)
}

// Save writes the manifest to path and the initializers to the sibling
// safetensors file.
func Save(g *Graph, path string) error {
	return SaveTo(hostFiles{}, g, path)
}

// SaveTo is Save through files.
func SaveTo(files Files, g *Graph, path string) error {
	tensors := make([]safetensors.Tensor, 0, len(g.Initializers))
	for _, init := range g.Initializers {
		dt, err := SafetensorsDType(init.DataType)
		if err != nil {
			return fmt.Errorf("graph: initializer %s: %w", init.Name, err)
		}
		tensors = append(tensors, safetensors.Tensor{
			Name:  init.Name,
			DType: dt,
			Shape: init.Shape(),
			Data:  init.RawData,
		})
	}
	weights := WeightsPath(path)
	if weights == path {
		return fmt.Errorf("graph: manifest %s would overwrite its own weights", path)
	}
	if err := writeFile(files, weights, func(w io.Writer) error {
		return safetensors.Write(w, tensors, map[string]string{"graph": g.Name})
	}); err != nil {
		return fmt.Errorf("graph: write weights: %w", err)
	}

	b, err := json.MarshalIndent(manifest{Graph: *g, Weights: filepath.Base(weights)}, "", "  ")
	if err != nil {
		return fmt.Errorf("graph: encode manifest: %w", err)
	}
	return writeFile(files, path, func(w io.Writer) error {
		_, err := w.Write(append(b, '\n'))
		return err
	})
}

func writeFile(files Files, path string, write func(io.Writer) error) error {
	f, err := files.Create(path)
	if err != nil {
		return err
	}
	if err := write(f); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
