package capi

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	pluginwasm "github.com/wippyai/nanoem-plugin-wasm"
	"github.com/wippyai/nanoem-plugin-wasm/config"
	"github.com/wippyai/nanoem-plugin-wasm/internal/testguest"
	"github.com/wippyai/nanoem-plugin-wasm/plugin"
	"github.com/wippyai/nanoem-plugin-wasm/uilayout"
)

func newRuntime(t *testing.T, rec *testguest.Recorder) (*Runtime, *GoAllocator) {
	t.Helper()
	alloc := NewGoAllocator()
	r := NewRuntime(alloc)
	r.Configure = rec.Configure
	r.Initialize()
	t.Cleanup(func() { r.Terminate(context.Background()) })
	return r, alloc
}

// pluginDir writes the plugins and returns a location inside the directory,
// the way the host passes its own executable path.
func pluginDir(t *testing.T, plugins ...testguest.Options) string {
	t.Helper()
	dir := t.TempDir()
	for _, opts := range plugins {
		path := filepath.Join(dir, opts.PluginName()+".wasm")
		if err := os.WriteFile(path, testguest.MustCompile(opts), 0o600); err != nil {
			t.Fatal(err)
		}
	}
	return filepath.Join(dir, "nanoem")
}

func assertBalanced(t *testing.T, h *IO) {
	t.Helper()
	var insts []*plugin.Instance
	if h.model != nil {
		for _, p := range h.model.Plugins() {
			insts = append(insts, p.Core())
		}
	}
	if h.motion != nil {
		for _, p := range h.motion.Plugins() {
			insts = append(insts, p.Core())
		}
	}
	for _, inst := range insts {
		allocs, releases, err := testguest.Counters(context.Background(), inst.Module())
		if err != nil {
			t.Fatal(err)
		}
		if allocs != releases {
			t.Errorf("%s: %d allocations, %d releases", inst.ID(), allocs, releases)
		}
	}
}

func TestNullSafety(t *testing.T) {
	ctx := context.Background()
	r, _ := newRuntime(t, testguest.NewRecorder())

	if r.Get(0) != nil || r.Get(42) != nil {
		t.Fatal("unknown handles must resolve to nil")
	}
	r.Destroy(ctx, 0)
	r.Destroy(ctx, 42)

	var h *IO
	if h.GuestReported() {
		t.Error("nil handle reported a guest status")
	}
	null := pluginwasm.StatusErrorNullObject
	statuses := map[string]pluginwasm.Status{
		"Create":                       h.Create(),
		"Reject":                       h.Reject(nil),
		"SetFunction":                  h.SetFunction(ctx, 0),
		"SetDescription":               h.SetDescription(ctx, plugin.DescriptionAudio, nil),
		"SetAudioData":                 h.SetAudioData(ctx, nil),
		"Execute":                      h.Execute(ctx),
		"OutputData":                   h.OutputData(ctx, nil),
		"LoadUIWindowLayout":           h.LoadUIWindowLayout(ctx),
		"UIWindowLayoutData":           h.UIWindowLayoutData(ctx, nil),
		"SetAllSelectedObjectIndices":  h.SetAllSelectedObjectIndices(ctx, plugin.ObjectBone, nil),
		"SetInputModelData":            h.SetInputModelData(ctx, nil),
		"SetAllSelectedKeyframes":      h.SetAllSelectedKeyframes(ctx, plugin.KeyframeCamera, nil),
		"SetAllNamedSelectedKeyframes": h.SetAllNamedSelectedKeyframes(ctx, plugin.NamedKeyframeBone, "", nil),
		"SetInputMotionData":           h.SetInputMotionData(ctx, nil),
		"SetInputActiveModelData":      h.SetInputActiveModelData(ctx, nil),
	}
	for name, status := range statuses {
		if status != null {
			t.Errorf("%s on nil = %v, want %v", name, status, null)
		}
	}
	if _, status := h.SetUIComponentLayoutData(ctx, "id", nil); status != null {
		t.Errorf("SetUIComponentLayoutData on nil = %v", status)
	}
	h.SetLanguage(ctx, pluginwasm.LanguageEnglish)
	if h.CountAllFunctions(ctx) != 0 || h.OutputDataSize(ctx) != 0 || h.UIWindowLayoutDataSize(ctx) != 0 {
		t.Error("nil handle must report zero sizes")
	}
	if h.FunctionName(ctx, 0) != nil || h.FailureReason(ctx) != nil || h.RecoverySuggestion(ctx) != nil {
		t.Error("nil handle must return nil strings")
	}
	if h.IsModel() || h.IsMotion() {
		t.Error("nil handle has no family")
	}
}

func TestCreateWithLocation_Failures(t *testing.T) {
	ctx := context.Background()
	r, _ := newRuntime(t, testguest.NewRecorder())

	if h := r.CreateModelWithLocation(ctx, ""); h != 0 {
		t.Errorf("empty path returned handle %d", h)
	}
	if h := r.CreateModelWithLocation(ctx, filepath.Join(t.TempDir(), "missing", "nanoem")); h != 0 {
		t.Errorf("missing directory returned handle %d", h)
	}

	location := pluginDir(t)
	if err := os.WriteFile(filepath.Join(filepath.Dir(location), config.FileName), []byte("stdout: pipe"), 0o600); err != nil {
		t.Fatal(err)
	}
	if h := r.CreateMotionWithLocation(ctx, location); h != 0 {
		t.Errorf("invalid configuration returned handle %d", h)
	}
	if r.Len() != 0 {
		t.Errorf("Len = %d", r.Len())
	}
}

func TestModelIO(t *testing.T) {
	ctx := context.Background()
	r, alloc := newRuntime(t, testguest.NewRecorder())

	handle := r.CreateModelWithLocation(ctx, pluginDir(t,
		testguest.Options{},
		testguest.Options{Minimal: true},
	))
	if handle == 0 {
		t.Fatal("CreateModelWithLocation failed")
	}
	h := r.Get(handle)
	if !h.IsModel() || h.IsMotion() {
		t.Fatal("expected a model handle")
	}
	if status := h.Create(); status != pluginwasm.StatusSuccess {
		t.Errorf("Create = %v", status)
	}

	if n := h.CountAllFunctions(ctx); n != 4 {
		t.Fatalf("CountAllFunctions = %d, want 4", n)
	}
	if got := alloc.GoString(h.FunctionName(ctx, 3)); got != "plugin_wasm_test_model_minimum: function0 (1.2.3)" {
		t.Errorf("FunctionName(3) = %q", got)
	}
	if h.FunctionName(ctx, 4) != nil {
		t.Error("FunctionName out of range should be nil")
	}

	if status := h.SetFunction(ctx, 0); status != pluginwasm.StatusSuccess {
		t.Fatalf("SetFunction = %v", status)
	}
	input := []byte{0x01, 0x02, 0x03, 0x04}
	if status := h.SetInputModelData(ctx, input); status != pluginwasm.StatusSuccess {
		t.Fatalf("SetInputModelData = %v", status)
	}
	if status := h.Execute(ctx); status != pluginwasm.StatusSuccess {
		t.Fatalf("Execute = %v", status)
	}
	size := h.OutputDataSize(ctx)
	if size != 4 {
		t.Fatalf("OutputDataSize = %d", size)
	}
	output := make([]byte, size)
	if status := h.OutputData(ctx, output); status != pluginwasm.StatusSuccess {
		t.Fatalf("OutputData = %v", status)
	}
	if diff := cmp.Diff(input, output); diff != "" {
		t.Errorf("output mismatch (-want +got):\n%s", diff)
	}

	if status := h.OutputData(ctx, make([]byte, 2)); status != pluginwasm.StatusErrorReferReason {
		t.Errorf("short buffer status = %v", status)
	}
	if reason := alloc.GoString(h.FailureReason(ctx)); !strings.Contains(reason, "output buffer") {
		t.Errorf("FailureReason = %q", reason)
	}

	if status := h.SetAllSelectedObjectIndices(ctx, plugin.ObjectBone, []int32{1, 4, 9, 16, 25, 2147483647}); status != pluginwasm.StatusSuccess {
		t.Errorf("SetAllSelectedObjectIndices = %v", status)
	}
	if status := h.SetAllSelectedObjectIndices(ctx, plugin.ObjectKind(99), nil); status != pluginwasm.StatusErrorUnknownOption {
		t.Errorf("unknown object kind = %v", status)
	}
	if status := h.SetInputMotionData(ctx, input); status != pluginwasm.StatusErrorNullObject {
		t.Errorf("motion setter on model handle = %v", status)
	}
	assertBalanced(t, h)

	r.Destroy(ctx, handle)
	if r.Get(handle) != nil {
		t.Error("handle still live after Destroy")
	}
	if n := alloc.Live(); n != 0 {
		t.Errorf("%d strings leaked", n)
	}
}

func TestFailureReason(t *testing.T) {
	ctx := context.Background()
	r, alloc := newRuntime(t, testguest.NewRecorder())
	h := r.Get(r.CreateModelWithLocation(ctx, pluginDir(t, testguest.Options{})))
	if h == nil {
		t.Fatal("CreateModelWithLocation failed")
	}

	if h.FailureReason(ctx) != nil {
		t.Error("FailureReason before any selection should be nil")
	}
	if status := h.SetFunction(ctx, 1); status != pluginwasm.StatusSuccess {
		t.Fatalf("SetFunction = %v", status)
	}
	if status := h.Execute(ctx); status != -1 {
		t.Fatalf("Execute = %v, want -1", status)
	}
	if !h.GuestReported() {
		t.Error("Execute status should be reported as the plugin's own")
	}
	if got := alloc.GoString(h.FailureReason(ctx)); got != testguest.FailureReason {
		t.Errorf("FailureReason = %q", got)
	}
	if got := alloc.GoString(h.RecoverySuggestion(ctx)); got != testguest.RecoverySuggestion {
		t.Errorf("RecoverySuggestion = %q", got)
	}

	// Repeated calls replace the kept string instead of accumulating.
	live := alloc.Live()
	h.FailureReason(ctx)
	h.FailureReason(ctx)
	if alloc.Live() != live {
		t.Errorf("live strings grew from %d to %d", live, alloc.Live())
	}

	if status := h.SetFunction(ctx, 7); status != pluginwasm.StatusErrorReferReason {
		t.Errorf("SetFunction out of range = %v", status)
	}
	if h.GuestReported() {
		t.Error("out of range status should be reported as the host's")
	}
	if got := alloc.GoString(h.FailureReason(ctx)); !strings.Contains(got, "out of bounds") {
		t.Errorf("FailureReason after host error = %q", got)
	}
	assertBalanced(t, h)
}

func TestUIWindowLayout(t *testing.T) {
	ctx := context.Background()
	rec := testguest.NewRecorder()
	r, _ := newRuntime(t, rec)
	h := r.Get(r.CreateModelWithLocation(ctx, pluginDir(t, testguest.Options{})))
	if h == nil {
		t.Fatal("CreateModelWithLocation failed")
	}
	if status := h.SetFunction(ctx, 0); status != pluginwasm.StatusSuccess {
		t.Fatal(status)
	}
	if status := h.LoadUIWindowLayout(ctx); status != pluginwasm.StatusSuccess {
		t.Fatalf("LoadUIWindowLayout = %v", status)
	}
	size := h.UIWindowLayoutDataSize(ctx)
	if size == 0 {
		t.Fatal("UIWindowLayoutDataSize = 0")
	}
	buf := make([]byte, size)
	if status := h.UIWindowLayoutData(ctx, buf); status != pluginwasm.StatusSuccess {
		t.Fatalf("UIWindowLayoutData = %v", status)
	}
	window, err := uilayout.Decode(buf)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if diff := cmp.Diff(testguest.Layout(), window); diff != "" {
		t.Errorf("layout mismatch (-want +got):\n%s", diff)
	}

	reload, status := h.SetUIComponentLayoutData(ctx, "amount", uilayout.EncodeComponent(&uilayout.Component{ID: "amount", Value: []byte{7}}))
	if status != pluginwasm.StatusSuccess || !reload {
		t.Errorf("SetUIComponentLayoutData = %v, %v", reload, status)
	}
	if calls := rec.Filter("", "SetUIComponentLayoutData"); len(calls) != 1 || calls[0].Name != "amount" {
		t.Errorf("guest observed %+v", calls)
	}
	assertBalanced(t, h)
}

func TestMotionIO(t *testing.T) {
	ctx := context.Background()
	rec := testguest.NewRecorder()
	r, _ := newRuntime(t, rec)
	h := r.Get(r.CreateMotionWithLocation(ctx, pluginDir(t,
		testguest.Options{Kind: testguest.Motion, Name: "a"},
		testguest.Options{Kind: testguest.Motion, Name: "b", Minimal: true},
	)))
	if !h.IsMotion() {
		t.Fatal("expected a motion handle")
	}

	h.SetLanguage(ctx, pluginwasm.LanguageEnglish)
	for _, name := range []string{"a", "b"} {
		if calls := rec.Filter(name, "SetLanguage"); len(calls) != 1 || calls[0].Value != 1 {
			t.Errorf("%s observed %+v", name, calls)
		}
	}

	if status := h.SetFunction(ctx, 3); status != pluginwasm.StatusSuccess {
		t.Fatalf("SetFunction = %v", status)
	}
	if status := h.SetInputMotionData(ctx, []byte("VMD")); status != pluginwasm.StatusSuccess {
		t.Fatal(status)
	}
	// Minimal plugins skip optional setters.
	if status := h.SetInputActiveModelData(ctx, []byte("PMX")); status != pluginwasm.StatusSuccess {
		t.Fatal(status)
	}
	if status := h.SetAllNamedSelectedKeyframes(ctx, plugin.NamedKeyframeBone, "センター", []uint32{1}); status != pluginwasm.StatusSuccess {
		t.Fatal(status)
	}
	if status := h.Execute(ctx); status != pluginwasm.StatusSuccess {
		t.Fatal(status)
	}
	if calls := rec.Filter("", "Execute"); len(calls) != 1 || calls[0].Plugin != "b" {
		t.Errorf("Execute reached %+v", calls)
	}
	if status := h.SetAllSelectedObjectIndices(ctx, plugin.ObjectBone, nil); status != pluginwasm.StatusErrorNullObject {
		t.Errorf("model setter on motion handle = %v", status)
	}
	assertBalanced(t, h)
}

func TestTerminate(t *testing.T) {
	ctx := context.Background()
	r, alloc := newRuntime(t, testguest.NewRecorder())
	location := pluginDir(t, testguest.Options{})

	a := r.CreateModelWithLocation(ctx, location)
	b := r.CreateModelWithLocation(ctx, location)
	if a == 0 || b == 0 || a == b {
		t.Fatalf("handles %d, %d", a, b)
	}
	r.Get(a).FunctionName(ctx, 0)
	r.Get(b).FunctionName(ctx, 1)

	plugins := r.Get(a).model.Plugins()
	r.Terminate(ctx)
	if r.Len() != 0 {
		t.Errorf("Len = %d after Terminate", r.Len())
	}
	if alloc.Live() != 0 {
		t.Errorf("%d strings leaked", alloc.Live())
	}
	for _, p := range plugins {
		s := p.Stats()
		if s.Create != s.Destroy || s.Initialize != s.Terminate {
			t.Errorf("%s lifecycle unbalanced: %+v", p.ID(), s)
		}
	}
}
