package plugin

import (
	"context"
	"encoding/binary"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/wippyai/nanoem-plugin-wasm/errors"
	"github.com/wippyai/nanoem-plugin-wasm/internal/testguest"
)

func loadMotion(t *testing.T, opts testguest.Options, rec *testguest.Recorder) *MotionInstance {
	t.Helper()
	ctx := context.Background()
	opts.Kind = testguest.Motion

	m, err := NewMotion(ctx, newTestEngine(t), opts.PluginName(), testguest.MustCompile(opts), rec.Install)
	if err != nil {
		t.Fatalf("NewMotion failed: %v", err)
	}
	t.Cleanup(func() { m.Terminate(ctx) })

	if err := m.Initialize(ctx); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	if err := m.Create(ctx); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	return m
}

func decodeUint32s(data []byte) []uint32 {
	out := make([]uint32, len(data)/4)
	for i := range out {
		out[i] = binary.LittleEndian.Uint32(data[i*4:])
	}
	return out
}

func TestMotion_Passthrough(t *testing.T) {
	ctx := context.Background()
	rec := testguest.NewRecorder()
	m := loadMotion(t, testguest.Options{}, rec)

	input := []byte("Vocaloid Motion Data 0002")
	if err := m.SetInputMotionData(ctx, input); err != nil {
		t.Fatalf("SetInputMotionData failed: %v", err)
	}
	if err := m.SetInputActiveModelData(ctx, []byte{9, 9}); err != nil {
		t.Fatalf("SetInputActiveModelData failed: %v", err)
	}
	if err := m.Execute(ctx); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	output, err := m.OutputMotionData(ctx)
	if err != nil {
		t.Fatalf("OutputMotionData failed: %v", err)
	}
	if diff := cmp.Diff(input, output); diff != "" {
		t.Errorf("output mismatch (-want +got):\n%s", diff)
	}
	if calls := rec.Filter("", "SetInputActiveModelData"); len(calls) != 1 || !cmp.Equal(calls[0].Data, []byte{9, 9}) {
		t.Errorf("guest received %+v", calls)
	}
	assertBalanced(t, &m.Instance)
}

func TestMotion_NamedSelectedBoneKeyframes(t *testing.T) {
	ctx := context.Background()
	rec := testguest.NewRecorder()
	m := loadMotion(t, testguest.Options{}, rec)

	names := []string{"bones/ボーン/0", "bones/ボーン/1", "bones/ボーン/2"}
	for _, name := range names {
		if err := m.SetAllNamedSelectedKeyframes(ctx, NamedKeyframeBone, name, []uint32{0xFE01}); err != nil {
			t.Fatalf("SetAllNamedSelectedKeyframes(%q) failed: %v", name, err)
		}
	}

	calls := rec.Filter("", "SetAllNamedSelectedBoneKeyframes")
	if len(calls) != len(names) {
		t.Fatalf("guest observed %d calls, want %d", len(calls), len(names))
	}
	for i, call := range calls {
		if call.Name != names[i] {
			t.Errorf("call %d name = %q, want %q", i, call.Name, names[i])
		}
		if diff := cmp.Diff([]uint32{0xFE01}, decodeUint32s(call.Data)); diff != "" {
			t.Errorf("call %d payload mismatch (-want +got):\n%s", i, diff)
		}
	}
	assertBalanced(t, &m.Instance)
}

func TestMotion_SelectedKeyframes(t *testing.T) {
	ctx := context.Background()
	rec := testguest.NewRecorder()
	m := loadMotion(t, testguest.Options{}, rec)

	for _, kind := range KeyframeKinds {
		frames := []uint32{uint32(kind), 30, 0xFFFFFFFF}
		if err := m.SetAllSelectedKeyframes(ctx, kind, frames); err != nil {
			t.Fatalf("SetAllSelectedKeyframes(%v) failed: %v", kind, err)
		}
		op, _ := kind.Op()
		calls := rec.Filter("", op)
		if len(calls) != 1 {
			t.Fatalf("%s: guest observed %d calls", op, len(calls))
		}
		if diff := cmp.Diff(frames, decodeUint32s(calls[0].Data)); diff != "" {
			t.Errorf("%s payload mismatch (-want +got):\n%s", op, diff)
		}
	}

	if err := m.SetAllSelectedKeyframes(ctx, KeyframeKind(-1), nil); !errors.HasKind(err, errors.KindUnknownOption) {
		t.Errorf("expected unknown_option, got %v", err)
	}
	if err := m.SetAllNamedSelectedKeyframes(ctx, NamedKeyframeKind(5), "x", nil); !errors.HasKind(err, errors.KindUnknownOption) {
		t.Errorf("expected unknown_option, got %v", err)
	}
}

func TestMotion_EmptySelection(t *testing.T) {
	ctx := context.Background()
	rec := testguest.NewRecorder()
	m := loadMotion(t, testguest.Options{}, rec)

	if err := m.SetAllNamedSelectedKeyframes(ctx, NamedKeyframeMorph, "", nil); err != nil {
		t.Fatalf("SetAllNamedSelectedKeyframes failed: %v", err)
	}
	calls := rec.Filter("", "SetAllNamedSelectedMorphKeyframes")
	if len(calls) != 1 || calls[0].Value != 0 || len(calls[0].Data) != 0 {
		t.Errorf("guest received %+v", calls)
	}
	assertBalanced(t, &m.Instance)
}

func TestMandatoryExports(t *testing.T) {
	exports := make(map[string]bool)
	for _, e := range MandatoryExports(MotionPrefix) {
		exports[e] = true
	}
	for _, want := range []string{
		MotionPrefix + "Execute",
		MotionPrefix + "GetOutputMotionDataSize",
		"nanoemApplicationPluginReleaseMemoryWASM",
		"memory",
	} {
		if !exports[want] {
			t.Errorf("MandatoryExports(motion) is missing %s", want)
		}
	}
	if exports[MotionPrefix+"SetLanguage"] {
		t.Error("SetLanguage should be optional")
	}
}
