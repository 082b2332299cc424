package guest

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/wippyai/nanoem-plugin-wasm/engine"
	"github.com/wippyai/nanoem-plugin-wasm/errors"
	"github.com/wippyai/nanoem-plugin-wasm/wat"
)

// allocatorModule exports a bump allocator that counts calls and a function that
// stores -5 through a status pointer.
const allocatorModule = `(module
	(memory (export "memory") 2)
	(global $heap (mut i32) (i32.const 1024))
	(global $allocs (mut i32) (i32.const 0))
	(global $releases (mut i32) (i32.const 0))
	(func (export "nanoemApplicationPluginAllocateMemoryWASM") (param $size i32) (result i32)
		(local $ptr i32)
		(global.set $allocs (i32.add (global.get $allocs) (i32.const 1)))
		(local.set $ptr (global.get $heap))
		(global.set $heap (i32.add (global.get $heap) (local.get $size)))
		(local.get $ptr))
	(func (export "nanoemApplicationPluginReleaseMemoryWASM") (param $ptr i32)
		(global.set $releases (i32.add (global.get $releases) (i32.const 1))))
	(func (export "allocs") (result i32) (global.get $allocs))
	(func (export "releases") (result i32) (global.get $releases))
	(func (export "fail") (param $s i32)
		(i32.store (local.get $s) (i32.const -5)))
	(func (export "size") (param $p i32)
		(i32.store (local.get $p) (i32.const 1234)))
	(data (i32.const 16) "hello\00")
	(data (i32.const 32) "\ff\fe\00")
	(data (i32.const 131064) "abcdefgh")
)`

// nullAllocatorModule returns 0 for every allocation.
const nullAllocatorModule = `(module
	(memory (export "memory") 1)
	(func (export "nanoemApplicationPluginAllocateMemoryWASM") (param i32) (result i32)
		(i32.const 0))
	(func (export "nanoemApplicationPluginReleaseMemoryWASM") (param i32))
)`

func instantiate(t *testing.T, source string) *engine.Module {
	t.Helper()
	ctx := context.Background()

	eng, err := engine.New(ctx, nil)
	if err != nil {
		t.Fatalf("engine.New failed: %v", err)
	}
	t.Cleanup(func() { eng.Close(ctx) })

	bin, err := wat.Compile(source)
	if err != nil {
		t.Fatalf("wat.Compile failed: %v", err)
	}
	mod, err := eng.Instantiate(ctx, "memory-test", bin, nil)
	if err != nil {
		t.Fatalf("Instantiate failed: %v", err)
	}
	t.Cleanup(func() { mod.Close(ctx) })
	return mod
}

func guestCounter(t *testing.T, mod *engine.Module, name string) uint32 {
	t.Helper()
	res, err := mod.Function(name).Call(context.Background())
	if err != nil {
		t.Fatalf("%s failed: %v", name, err)
	}
	return uint32(res[0])
}

func TestAlloc(t *testing.T) {
	ctx := context.Background()
	mod := instantiate(t, allocatorModule)
	m := New(mod, nil)

	if !m.HasAllocator() {
		t.Fatal("expected allocator exports")
	}
	ptr, err := m.Alloc(ctx, 0)
	if err != nil || ptr != 0 {
		t.Errorf("Alloc(0) = %d, %v; want 0, nil", ptr, err)
	}
	if guestCounter(t, mod, "allocs") != 0 {
		t.Error("Alloc(0) should not call the guest")
	}

	ptr, err = m.Alloc(ctx, 8)
	if err != nil {
		t.Fatalf("Alloc failed: %v", err)
	}
	if ptr != 1024 {
		t.Errorf("Alloc = %d, want 1024", ptr)
	}
	m.Free(ctx, ptr)
	m.Free(ctx, 0)

	if want := (Stats{Allocations: 1, Releases: 1}); m.Stats() != want {
		t.Errorf("Stats = %+v, want %+v", m.Stats(), want)
	}
	if guestCounter(t, mod, "releases") != 1 {
		t.Error("Free(0) should not call the guest")
	}
}

func TestAlloc_NullPointer(t *testing.T) {
	ctx := context.Background()
	m := New(instantiate(t, nullAllocatorModule), nil)

	_, err := m.Alloc(ctx, 4)
	if !errors.HasKind(err, errors.KindAllocation) {
		t.Fatalf("expected allocation error, got %v", err)
	}
	if !m.Stats().Balanced() {
		t.Errorf("failed allocation left stats unbalanced: %+v", m.Stats())
	}
	if err := m.WithBytes(ctx, []byte{1}, func(uint32, uint32) error {
		t.Error("callback must not run when allocation fails")
		return nil
	}); !errors.HasKind(err, errors.KindAllocation) {
		t.Errorf("WithBytes: expected allocation error, got %v", err)
	}
}

func TestAlloc_MissingExport(t *testing.T) {
	ctx := context.Background()
	m := New(instantiate(t, `(module (memory (export "memory") 1))`), nil)

	if m.HasAllocator() {
		t.Error("HasAllocator should be false")
	}
	if _, err := m.Alloc(ctx, 4); !errors.HasKind(err, errors.KindMissingExport) {
		t.Errorf("expected missing_export, got %v", err)
	}
}

func TestReadWrite(t *testing.T) {
	mod := instantiate(t, allocatorModule)
	m := New(mod, nil)

	if err := m.Write(100, []byte{1, 2, 3}); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	data, err := m.Read(100, 3)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if diff := cmp.Diff([]byte{1, 2, 3}, data); diff != "" {
		t.Errorf("Read mismatch (-want +got):\n%s", diff)
	}

	// Returned slices are copies.
	data[0] = 99
	again, _ := m.ReadBytes(100, 1)
	if again[0] != 1 {
		t.Error("Read returned a view into guest memory")
	}

	if err := m.WriteI32(200, -7); err != nil {
		t.Fatalf("WriteI32 failed: %v", err)
	}
	if v, err := m.ReadI32(200); err != nil || v != -7 {
		t.Errorf("ReadI32 = %d, %v", v, err)
	}
	if v, err := m.ReadU32(200); err != nil || v != 0xFFFFFFF9 {
		t.Errorf("ReadU32 = %#x, %v", v, err)
	}

	if _, err := m.Read(131070, 16); !errors.HasKind(err, errors.KindMemoryAccess) {
		t.Errorf("out of range Read: expected memory_access, got %v", err)
	}
	if err := m.Write(131070, make([]byte, 16)); !errors.HasKind(err, errors.KindMemoryAccess) {
		t.Errorf("out of range Write: expected memory_access, got %v", err)
	}
	if _, err := m.ReadU32(131070); !errors.HasKind(err, errors.KindMemoryAccess) {
		t.Errorf("out of range ReadU32: expected memory_access, got %v", err)
	}
}

func TestReadCString(t *testing.T) {
	m := New(instantiate(t, allocatorModule), nil)

	tests := []struct {
		name    string
		ptr     uint32
		want    string
		wantErr errors.Kind
	}{
		{"null", 0, "", ""},
		{"ascii", 16, "hello", ""},
		{"suffix", 18, "llo", ""},
		{"invalid utf8 is replaced", 32, "\uFFFD", ""},
		{"unterminated", 131064, "", errors.KindMemoryAccess},
		{"out of range", 1 << 20, "", errors.KindMemoryAccess},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := m.ReadCString(tt.ptr)
			if tt.wantErr != "" {
				if !errors.HasKind(err, tt.wantErr) {
					t.Errorf("expected %s, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ReadCString failed: %v", err)
			}
			if got != tt.want {
				t.Errorf("ReadCString = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestWithBytes(t *testing.T) {
	ctx := context.Background()
	mod := instantiate(t, allocatorModule)
	m := New(mod, nil)

	payload := []byte("payload")
	var seenPtr, seenLen uint32
	err := m.WithBytes(ctx, payload, func(ptr, length uint32) error {
		seenPtr, seenLen = ptr, length
		got, err := m.ReadBytes(ptr, length)
		if err != nil {
			return err
		}
		if !cmp.Equal(payload, got) {
			t.Errorf("guest holds %q, want %q", got, payload)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("WithBytes failed: %v", err)
	}
	if seenPtr == 0 || seenLen != uint32(len(payload)) {
		t.Errorf("callback got ptr=%d len=%d", seenPtr, seenLen)
	}

	err = m.WithBytes(ctx, nil, func(ptr, length uint32) error {
		if ptr != 0 || length != 0 {
			t.Errorf("empty payload passed ptr=%d len=%d", ptr, length)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("WithBytes(nil) failed: %v", err)
	}

	boom := errors.InvalidInput(errors.PhaseMarshal, "boom")
	if err := m.WithBytes(ctx, payload, func(uint32, uint32) error { return boom }); err != boom {
		t.Errorf("WithBytes returned %v, want callback error", err)
	}

	if !m.Stats().Balanced() {
		t.Errorf("stats unbalanced: %+v", m.Stats())
	}
	if a, r := guestCounter(t, mod, "allocs"), guestCounter(t, mod, "releases"); a != r || a != 2 {
		t.Errorf("guest saw %d allocations and %d releases, want 2 each", a, r)
	}
}

func TestWithBytes_ReleasesOnPanic(t *testing.T) {
	ctx := context.Background()
	m := New(instantiate(t, allocatorModule), nil)

	func() {
		defer func() {
			if recover() == nil {
				t.Error("expected panic to propagate")
			}
		}()
		_ = m.WithBytes(ctx, []byte{1}, func(uint32, uint32) error {
			panic("callback panic")
		})
	}()

	if !m.Stats().Balanced() {
		t.Errorf("stats unbalanced after panic: %+v", m.Stats())
	}
}

func TestWithCString(t *testing.T) {
	ctx := context.Background()
	m := New(instantiate(t, allocatorModule), nil)

	for _, s := range []string{"", "bones/ボーン/0"} {
		err := m.WithCString(ctx, s, func(ptr uint32) error {
			got, err := m.ReadCString(ptr)
			if err != nil {
				return err
			}
			if got != s {
				t.Errorf("ReadCString = %q, want %q", got, s)
			}
			return nil
		})
		if err != nil {
			t.Fatalf("WithCString(%q) failed: %v", s, err)
		}
	}
	if !m.Stats().Balanced() {
		t.Errorf("stats unbalanced: %+v", m.Stats())
	}
}

func TestWithStatus(t *testing.T) {
	ctx := context.Background()
	mod := instantiate(t, allocatorModule)
	m := New(mod, nil)

	err := m.WithStatus(ctx, "ok", func(uint32) error { return nil })
	if err != nil {
		t.Errorf("zero status should succeed, got %v", err)
	}

	err = m.WithStatus(ctx, "fail", func(status uint32) error {
		_, err := mod.Function("fail").Call(ctx, uint64(status))
		return err
	})
	e, ok := errors.As(err)
	if !ok || e.Kind != errors.KindGuestStatus {
		t.Fatalf("expected guest_status, got %v", err)
	}
	if e.Status != -5 || e.Export != "fail" {
		t.Errorf("Status = %d, Export = %q", e.Status, e.Export)
	}

	size, err := m.WithOut32(ctx, func(ptr uint32) error {
		_, err := mod.Function("size").Call(ctx, uint64(ptr))
		return err
	})
	if err != nil || size != 1234 {
		t.Errorf("WithOut32 = %d, %v; want 1234", size, err)
	}
	if !m.Stats().Balanced() {
		t.Errorf("stats unbalanced: %+v", m.Stats())
	}
}

func TestWithInt32s(t *testing.T) {
	ctx := context.Background()
	m := New(instantiate(t, allocatorModule), nil)

	values := []int32{1, -1, 2147483647}
	err := m.WithInt32s(ctx, values, func(ptr, count uint32) error {
		if count != 3 {
			t.Errorf("count = %d, want element count 3", count)
		}
		for i, want := range values {
			got, err := m.ReadI32(ptr + uint32(i)*4)
			if err != nil {
				return err
			}
			if got != want {
				t.Errorf("element %d = %d, want %d", i, got, want)
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("WithInt32s failed: %v", err)
	}

	err = m.WithUint32s(ctx, []uint32{0xFE01}, func(ptr, count uint32) error {
		v, err := m.ReadU32(ptr)
		if err != nil {
			return err
		}
		if count != 1 || v != 0xFE01 {
			t.Errorf("got count=%d value=%#x", count, v)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("WithUint32s failed: %v", err)
	}
}

func TestPack(t *testing.T) {
	data, count, err := PackInt32s([]int32{1, -2})
	if err != nil {
		t.Fatalf("PackInt32s failed: %v", err)
	}
	if count != 2 {
		t.Errorf("count = %d, want 2", count)
	}
	if diff := cmp.Diff([]byte{1, 0, 0, 0, 0xfe, 0xff, 0xff, 0xff}, data); diff != "" {
		t.Errorf("PackInt32s mismatch (-want +got):\n%s", diff)
	}

	data, count, err = PackUint32s(nil)
	if err != nil || count != 0 || len(data) != 0 {
		t.Errorf("PackUint32s(nil) = %v, %d, %v", data, count, err)
	}
}
