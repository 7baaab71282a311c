package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

const envQuantaOutDir = "QUANTA_OUT_DIR"

// resolveQuantizeOut picks the output manifest path. An explicit flag wins;
// otherwise the model's base name gets a _q<bits> suffix under
// $QUANTA_OUT_DIR or ./out. The returned bool reports whether the path was
// defaulted.
func resolveQuantizeOut(modelPath, outFlag string, bits int) (string, bool, error) {
	outFlag = strings.TrimSpace(outFlag)
	if outFlag != "" {
		outPath := filepath.Clean(outFlag)
		if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
			return "", false, err
		}
		return outPath, false, nil
	}

	base := filepath.Base(filepath.Clean(modelPath))
	base = strings.TrimSuffix(base, filepath.Ext(base))
	if base == "" || base == "." || base == string(filepath.Separator) {
		return "", true, fmt.Errorf("invalid model path: %q", modelPath)
	}

	outDir := strings.TrimSpace(os.Getenv(envQuantaOutDir))
	if outDir == "" {
		outDir = filepath.Join(".", "out")
	}

	outPath := filepath.Join(outDir, base+"_q"+strconv.Itoa(bits)+".json")
	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return "", true, err
	}
	return outPath, true, nil
}

// parseRatios turns name=ratio pairs into a map.
func parseRatios(pairs []string) (map[string]float64, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	out := make(map[string]float64, len(pairs))
	for _, p := range pairs {
		name, val, ok := strings.Cut(p, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("ratio %q: want name=value", p)
		}
		r, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
		if err != nil {
			return nil, fmt.Errorf("ratio %q: %w", p, err)
		}
		out[name] = r
	}
	return out, nil
}
