package guest

import (
	"bytes"
	"context"
	"encoding/binary"
	"strings"

	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	"github.com/wippyai/nanoem-plugin-wasm/errors"
)

// Guest memory management exports every plugin must provide.
const (
	// ExportAllocate allocates memory in guest linear memory.
	// Signature: (size: i32) -> i32 (pointer)
	ExportAllocate = "nanoemApplicationPluginAllocateMemoryWASM"

	// ExportRelease frees memory returned by ExportAllocate.
	// Signature: (ptr: i32) -> ()
	ExportRelease = "nanoemApplicationPluginReleaseMemoryWASM"
)

// Module is the part of an instantiated plugin the helpers need.
type Module interface {
	Name() string
	Function(name string) api.Function
	Memory() api.Memory
}

// Stats counts guest allocator calls made by the host.
type Stats struct {
	Allocations uint64
	Releases    uint64
}

// Balanced reports whether every allocation has been released.
func (s Stats) Balanced() bool {
	return s.Allocations == s.Releases
}

// Memory moves data across the host/guest boundary. It never keeps a guest
// pointer beyond the scope of the With* call that produced it.
type Memory struct {
	module  Module
	alloc   api.Function
	release api.Function
	logger  *zap.Logger
	stats   Stats
}

// New resolves the guest allocator exports of mod. Missing exports are
// reported when an allocation is first attempted.
func New(mod Module, logger *zap.Logger) *Memory {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Memory{
		module:  mod,
		alloc:   mod.Function(ExportAllocate),
		release: mod.Function(ExportRelease),
		logger:  logger,
	}
}

// HasAllocator reports whether both allocator exports are present.
func (m *Memory) HasAllocator() bool {
	return m.alloc != nil && m.release != nil
}

// CheckAllocator reports a missing allocator export, or one whose signature
// is not (i32) -> (i32) for allocate and (i32) -> () for release.
func (m *Memory) CheckAllocator() error {
	name := m.module.Name()
	if m.alloc == nil {
		return errors.MissingExport(name, ExportAllocate)
	}
	if m.release == nil {
		return errors.MissingExport(name, ExportRelease)
	}
	if err := CheckSignature(name, ExportAllocate, m.alloc.Definition(), 1, 1); err != nil {
		return err
	}
	return CheckSignature(name, ExportRelease, m.release.Definition(), 1, 0)
}

// Stats returns the allocator call counters.
func (m *Memory) Stats() Stats {
	return m.stats
}

func (m *Memory) mem() (api.Memory, error) {
	mem := m.module.Memory()
	if mem == nil {
		return nil, errors.MissingExport(m.module.Name(), "memory")
	}
	return mem, nil
}

// Alloc calls the guest allocator. Zero-sized requests return 0 without
// calling the guest.
func (m *Memory) Alloc(ctx context.Context, size uint32) (uint32, error) {
	if size == 0 {
		return 0, nil
	}
	if m.alloc == nil {
		return 0, errors.MissingExport(m.module.Name(), ExportAllocate)
	}
	results, err := m.alloc.Call(ctx, uint64(size))
	if err != nil {
		return 0, errors.Trap(m.module.Name(), ExportAllocate, err)
	}
	m.stats.Allocations++
	if len(results) == 0 || uint32(results[0]) == 0 {
		// Nothing was allocated, so there is nothing to release.
		m.stats.Releases++
		return 0, errors.AllocationFailed(m.module.Name(), size)
	}
	return uint32(results[0]), nil
}

// Free releases ptr through the guest allocator. Zero is ignored. Failures
// are logged because release sits on cleanup paths.
func (m *Memory) Free(ctx context.Context, ptr uint32) {
	if ptr == 0 {
		return
	}
	m.stats.Releases++
	if m.release == nil {
		m.logger.Warn("guest release export missing", zap.String("plugin", m.module.Name()), zap.Uint32("ptr", ptr))
		return
	}
	if _, err := m.release.Call(ctx, uint64(ptr)); err != nil {
		m.logger.Warn("guest release failed",
			zap.String("plugin", m.module.Name()),
			zap.Uint32("ptr", ptr),
			zap.Error(err),
		)
	}
}

// Read copies length bytes out of linear memory at offset.
func (m *Memory) Read(offset, length uint32) ([]byte, error) {
	if length == 0 {
		return []byte{}, nil
	}
	mem, err := m.mem()
	if err != nil {
		return nil, err
	}
	view, ok := mem.Read(offset, length)
	if !ok {
		return nil, errors.MemoryAccess(m.module.Name(), offset, length)
	}
	out := make([]byte, length)
	copy(out, view)
	return out, nil
}

// Write copies data into linear memory at offset.
func (m *Memory) Write(offset uint32, data []byte) error {
	if len(data) == 0 {
		return nil
	}
	mem, err := m.mem()
	if err != nil {
		return err
	}
	if !mem.Write(offset, data) {
		return errors.MemoryAccess(m.module.Name(), offset, uint32(len(data)))
	}
	return nil
}

// ReadU32 reads an unsigned 32-bit little-endian value.
func (m *Memory) ReadU32(offset uint32) (uint32, error) {
	mem, err := m.mem()
	if err != nil {
		return 0, err
	}
	v, ok := mem.ReadUint32Le(offset)
	if !ok {
		return 0, errors.MemoryAccess(m.module.Name(), offset, 4)
	}
	return v, nil
}

// WriteU32 writes an unsigned 32-bit little-endian value.
func (m *Memory) WriteU32(offset uint32, value uint32) error {
	mem, err := m.mem()
	if err != nil {
		return err
	}
	if !mem.WriteUint32Le(offset, value) {
		return errors.MemoryAccess(m.module.Name(), offset, 4)
	}
	return nil
}

// ReadI32 reads a signed 32-bit little-endian value.
func (m *Memory) ReadI32(offset uint32) (int32, error) {
	v, err := m.ReadU32(offset)
	return int32(v), err
}

// WriteI32 writes a signed 32-bit little-endian value.
func (m *Memory) WriteI32(offset uint32, value int32) error {
	return m.WriteU32(offset, uint32(value))
}

// WriteBytes allocates len(data) bytes in the guest and copies data there.
// The caller owns the returned region and must Free it.
func (m *Memory) WriteBytes(ctx context.Context, data []byte) (ptr, length uint32, err error) {
	if len(data) == 0 {
		return 0, 0, nil
	}
	if uint64(len(data)) > uint64(^uint32(0)) {
		return 0, 0, errors.Overflow(errors.PhaseMarshal, len(data), "u32")
	}
	length = uint32(len(data))
	ptr, err = m.Alloc(ctx, length)
	if err != nil {
		return 0, 0, err
	}
	if err := m.Write(ptr, data); err != nil {
		m.Free(ctx, ptr)
		return 0, 0, err
	}
	return ptr, length, nil
}

// ReadBytes copies length bytes out of linear memory at ptr.
func (m *Memory) ReadBytes(ptr, length uint32) ([]byte, error) {
	return m.Read(ptr, length)
}

// WriteCString allocates len(s)+1 bytes and stores s followed by NUL.
// The caller owns the returned region and must Free it.
func (m *Memory) WriteCString(ctx context.Context, s string) (uint32, error) {
	buf := make([]byte, len(s)+1)
	copy(buf, s)
	ptr, _, err := m.WriteBytes(ctx, buf)
	return ptr, err
}

// ReadCString reads a NUL-terminated string at ptr. Invalid UTF-8 is
// replaced rather than rejected. A zero pointer yields "".
func (m *Memory) ReadCString(ptr uint32) (string, error) {
	if ptr == 0 {
		return "", nil
	}
	mem, err := m.mem()
	if err != nil {
		return "", err
	}
	size := mem.Size()
	if ptr >= size {
		return "", errors.MemoryAccess(m.module.Name(), ptr, 1)
	}
	view, ok := mem.Read(ptr, size-ptr)
	if !ok {
		return "", errors.MemoryAccess(m.module.Name(), ptr, size-ptr)
	}
	end := bytes.IndexByte(view, 0)
	if end < 0 {
		return "", errors.New(errors.PhaseMarshal, errors.KindMemoryAccess).
			Plugin(m.module.Name()).
			Detail("unterminated string at %d", ptr).
			Build()
	}
	return strings.ToValidUTF8(string(view[:end]), "\uFFFD"), nil
}

// WithBytes writes data into the guest for the duration of fn. The region is
// released on every exit path.
func (m *Memory) WithBytes(ctx context.Context, data []byte, fn func(ptr, length uint32) error) error {
	ptr, length, err := m.WriteBytes(ctx, data)
	if err != nil {
		return err
	}
	defer m.Free(ctx, ptr)
	return fn(ptr, length)
}

// WithCString writes s as a C string for the duration of fn.
func (m *Memory) WithCString(ctx context.Context, s string, fn func(ptr uint32) error) error {
	ptr, err := m.WriteCString(ctx, s)
	if err != nil {
		return err
	}
	defer m.Free(ctx, ptr)
	return fn(ptr)
}

// WithInt32s writes values as a packed little-endian i32 array for the
// duration of fn, which receives the element count.
func (m *Memory) WithInt32s(ctx context.Context, values []int32, fn func(ptr, count uint32) error) error {
	data, count, err := PackInt32s(values)
	if err != nil {
		return err
	}
	return m.WithBytes(ctx, data, func(ptr, _ uint32) error {
		return fn(ptr, count)
	})
}

// WithUint32s writes values as a packed little-endian u32 array for the
// duration of fn, which receives the element count.
func (m *Memory) WithUint32s(ctx context.Context, values []uint32, fn func(ptr, count uint32) error) error {
	data, count, err := PackUint32s(values)
	if err != nil {
		return err
	}
	return m.WithBytes(ctx, data, func(ptr, _ uint32) error {
		return fn(ptr, count)
	})
}

// WithOut32 provides a zeroed 4-byte out parameter to fn and returns the
// value the guest stored there.
func (m *Memory) WithOut32(ctx context.Context, fn func(ptr uint32) error) (uint32, error) {
	ptr, err := m.Alloc(ctx, 4)
	if err != nil {
		return 0, err
	}
	defer m.Free(ctx, ptr)

	if err := m.WriteU32(ptr, 0); err != nil {
		return 0, err
	}
	if err := fn(ptr); err != nil {
		return 0, err
	}
	return m.ReadU32(ptr)
}

// WithStatus provides a zeroed status out parameter to fn. A negative status
// stored by the guest is returned as a guest status error naming export.
func (m *Memory) WithStatus(ctx context.Context, export string, fn func(statusPtr uint32) error) error {
	v, err := m.WithOut32(ctx, fn)
	if err != nil {
		return err
	}
	if status := int32(v); status < 0 {
		return errors.GuestStatus(m.module.Name(), export, status)
	}
	return nil
}

// maxElements bounds index slices so both the element count and the byte
// length fit the guest's 32-bit ABI.
const maxElements = (1 << 30) - 1

// PackInt32s encodes values as a little-endian i32 array.
func PackInt32s(values []int32) ([]byte, uint32, error) {
	if len(values) > maxElements {
		return nil, 0, errors.Overflow(errors.PhaseMarshal, len(values), "index count")
	}
	buf := make([]byte, 4*len(values))
	for i, v := range values {
		binary.LittleEndian.PutUint32(buf[i*4:], uint32(v))
	}
	return buf, uint32(len(values)), nil
}

// PackUint32s encodes values as a little-endian u32 array.
func PackUint32s(values []uint32) ([]byte, uint32, error) {
	if len(values) > maxElements {
		return nil, 0, errors.Overflow(errors.PhaseMarshal, len(values), "index count")
	}
	buf := make([]byte, 4*len(values))
	for i, v := range values {
		binary.LittleEndian.PutUint32(buf[i*4:], v)
	}
	return buf, uint32(len(values)), nil
}
