// Package woq packs group-quantized weights into the weight-only matmul node
// formats a runtime's kernels consume.
package woq

import (
	"slices"
	"strings"

	"golang.org/x/mod/semver"
)

const (
	versionFpQ4          = "v1.16.0"
	versionNBitsAfter    = "v1.16.1"
	versionAccuracyAfter = "v1.16.3"
)

// CUDAProvider is the execution provider name that disables the legacy layout.
const CUDAProvider = "CUDAExecutionProvider"

// RuntimeCaps describes what the target runtime accepts. Version is a semantic
// version with or without a leading "v".
type RuntimeCaps struct {
	Version string
}

func (c RuntimeCaps) semver() string {
	v := strings.TrimSpace(c.Version)
	if v == "" {
		return ""
	}
	if !strings.HasPrefix(v, "v") {
		v = "v" + v
	}
	if !semver.IsValid(v) {
		return ""
	}
	return v
}

func (c RuntimeCaps) cmp(other string) (int, bool) {
	v := c.semver()
	if v == "" {
		return 0, false
	}
	return semver.Compare(v, other), true
}

// SupportsNBits reports whether MatMulNBits is available (after 1.16.1).
func (c RuntimeCaps) SupportsNBits() bool {
	n, ok := c.cmp(versionNBitsAfter)
	return ok && n > 0
}

// SupportsFpQ4 reports whether MatMulFpQ4 is available (1.16.0 and later).
func (c RuntimeCaps) SupportsFpQ4() bool {
	n, ok := c.cmp(versionFpQ4)
	return ok && n >= 0
}

// SupportsAccuracyLevel reports whether MatMulNBits takes accuracy_level
// (after 1.16.3).
func (c RuntimeCaps) SupportsAccuracyLevel() bool {
	n, ok := c.cmp(versionAccuracyAfter)
	return ok && n > 0
}

// BlobSize returns the bytes per packed row for this runtime.
func (c RuntimeCaps) BlobSize(groupSize, bits int, hasZP bool) int {
	if c.SupportsNBits() {
		return NBitsLayout{}.BlobSize(groupSize, bits)
	}
	return LegacyLayout{}.BlobSize(groupSize, hasZP)
}

// SelectLayout picks the packed layout for a weight, or reports false when the
// weight should be fake-quantized in place instead.
func SelectLayout(caps RuntimeCaps, bits, groupSize int, providers []string) (Layout, bool) {
	if bits == 4 && caps.SupportsNBits() {
		return NBitsLayout{EmitAccuracyLevel: caps.SupportsAccuracyLevel()}, true
	}
	if slices.Contains(providers, CUDAProvider) {
		return nil, false
	}
	if bits == 4 && groupSize == 32 && caps.SupportsFpQ4() {
		return LegacyLayout{}, true
	}
	return nil, false
}
