// Package safetensors reads and writes the safetensors weight container: an
// 8-byte little-endian header length, a JSON header describing each tensor,
// then the raw tensor bytes.
package safetensors

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/goccy/go-json"
	"golang.org/x/sys/unix"

	"github.com/samcharles93/quanta/pkg/tensor"
)

var (
	ErrCorruptFile    = errors.New("safetensors: corrupt file")
	ErrTensorNotFound = errors.New("safetensors: tensor not found")
	ErrUnsupported    = errors.New("safetensors: unsupported dtype")
)

const metadataKey = "__metadata__"

// maxHeaderLen bounds the JSON header so a corrupt length cannot force a huge
// allocation.
const maxHeaderLen = 100 << 20

type TensorInfo struct {
	DType string
	Shape []int
	Start int64
	End   int64
}

// File is an open safetensors container. Data is memory mapped when the
// platform allows it. Close releases the mapping.
type File struct {
	Path      string
	DataStart int64
	Tensors   map[string]TensorInfo
	Metadata  map[string]string

	data    []byte
	mmapped bool
}

type tensorHeader struct {
	DType       string  `json:"dtype"`
	Shape       []int   `json:"shape"`
	DataOffsets []int64 `json:"data_offsets"`
}

// Open maps path read-only and parses its header. If mmap is unavailable the
// whole file is read into memory instead.
func Open(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()
	return OpenFile(f)
}

// OpenFile is Open for a file the caller already holds. f may be closed once
// OpenFile returns.
func OpenFile(f *os.File) (*File, error) {
	path := f.Name()
	stat, err := f.Stat()
	if err != nil {
		return nil, err
	}
	size64 := stat.Size()
	if size64 < 8 || size64 > int64(int(^uint(0)>>1)) {
		return nil, fmt.Errorf("%w: %s is %d bytes", ErrCorruptFile, path, size64)
	}
	size := int(size64)

	mmapped := true
	data, err := unix.Mmap(int(f.Fd()), 0, size, unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		mmapped = false
		data = make([]byte, size)
		if _, err := f.ReadAt(data, 0); err != nil && !errors.Is(err, io.EOF) {
			return nil, err
		}
	}

	sf, err := parse(path, data)
	if err != nil {
		if mmapped {
			_ = unix.Munmap(data)
		}
		return nil, err
	}
	sf.mmapped = mmapped
	return sf, nil
}

func parse(path string, data []byte) (*File, error) {
	headerLen := binary.LittleEndian.Uint64(data[:8])
	if headerLen > maxHeaderLen || headerLen > uint64(len(data)-8) {
		return nil, fmt.Errorf("%w: header length %d", ErrCorruptFile, headerLen)
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data[8:8+headerLen], &raw); err != nil {
		return nil, fmt.Errorf("%w: header: %w", ErrCorruptFile, err)
	}

	var meta map[string]string
	if msg, ok := raw[metadataKey]; ok {
		if err := json.Unmarshal(msg, &meta); err != nil {
			return nil, fmt.Errorf("%w: metadata: %w", ErrCorruptFile, err)
		}
		delete(raw, metadataKey)
	}

	dataStart := int64(8 + headerLen)
	payload := int64(len(data)) - dataStart
	tensors := make(map[string]TensorInfo, len(raw))
	for name, msg := range raw {
		var th tensorHeader
		if err := json.Unmarshal(msg, &th); err != nil {
			return nil, fmt.Errorf("%w: tensor %s: %w", ErrCorruptFile, name, err)
		}
		if len(th.DataOffsets) != 2 {
			return nil, fmt.Errorf("%w: tensor %s: invalid data_offsets", ErrCorruptFile, name)
		}
		start, end := th.DataOffsets[0], th.DataOffsets[1]
		if start < 0 || end < start || end > payload {
			return nil, fmt.Errorf("%w: tensor %s: offsets [%d, %d) outside %d data bytes", ErrCorruptFile, name, start, end, payload)
		}
		tensors[name] = TensorInfo{DType: th.DType, Shape: th.Shape, Start: start, End: end}
	}
	return &File{
		Path:      path,
		DataStart: dataStart,
		Tensors:   tensors,
		Metadata:  meta,
		data:      data,
	}, nil
}

// Close releases the memory mapping. Slices returned by Bytes are invalid
// afterwards.
func (f *File) Close() error {
	if f == nil || f.data == nil {
		return nil
	}
	data := f.data
	f.data = nil
	if f.mmapped {
		return unix.Munmap(data)
	}
	return nil
}

func (f *File) Tensor(name string) (TensorInfo, bool) {
	t, ok := f.Tensors[name]
	return t, ok
}

// Bytes returns the raw bytes of a tensor without copying.
func (f *File) Bytes(name string) ([]byte, TensorInfo, error) {
	t, ok := f.Tensors[name]
	if !ok {
		return nil, TensorInfo{}, fmt.Errorf("%w: %s", ErrTensorNotFound, name)
	}
	if f.data == nil {
		return nil, TensorInfo{}, fmt.Errorf("safetensors: %s is closed", f.Path)
	}
	off := f.DataStart
	return f.data[off+t.Start : off+t.End], t, nil
}

// ReadTensor returns a copy of a tensor's raw bytes.
func (f *File) ReadTensor(name string) ([]byte, TensorInfo, error) {
	b, t, err := f.Bytes(name)
	if err != nil {
		return nil, TensorInfo{}, err
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out, t, nil
}

// ReadTensorF32 decodes an F32, F16 or BF16 tensor into float32 values.
func (f *File) ReadTensorF32(name string) (*tensor.Tensor, error) {
	raw, info, err := f.Bytes(name)
	if err != nil {
		return nil, err
	}
	dt, ok := floatDTypes[info.DType]
	if !ok {
		return nil, fmt.Errorf("%w: %s is %s", ErrUnsupported, name, info.DType)
	}
	t, err := tensor.FromRaw(info.Shape, dt, raw)
	if err != nil {
		return nil, fmt.Errorf("tensor %s: %w", name, err)
	}
	return t, nil
}

var floatDTypes = map[string]tensor.DType{
	"F32":  tensor.Float32,
	"F16":  tensor.Float16,
	"BF16": tensor.BFloat16,
}
