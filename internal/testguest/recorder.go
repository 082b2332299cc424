package testguest

import (
	"bytes"
	"context"
	"fmt"
	"sync"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"

	"github.com/wippyai/nanoem-plugin-wasm/engine"
)

// HostModule is the import module generated plugins report calls to.
const HostModule = "nanoem_test"

// Call is one operation observed by a generated plugin.
type Call struct {
	Plugin string
	Op     string
	Value  int32
	Name   string
	Data   []byte
}

// Recorder collects calls from every plugin it is installed into.
type Recorder struct {
	mu    sync.Mutex
	calls []Call
}

// NewRecorder creates an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// Install adds the recorder host module to a plugin environment.
func (r *Recorder) Install(b *engine.WASIBuilder) {
	b.WithHostModule(r.instantiate)
}

// Configure is Install in the shape of a controller configure hook.
func (r *Recorder) Configure(_ string, b *engine.WASIBuilder) {
	r.Install(b)
}

func (r *Recorder) instantiate(ctx context.Context, rt wazero.Runtime) error {
	_, err := rt.NewHostModuleBuilder(HostModule).
		NewFunctionBuilder().
		WithFunc(r.record).
		Export("record").
		Instantiate(ctx)
	return err
}

func (r *Recorder) record(_ context.Context, m api.Module, op, value, name, data, length uint32) {
	mem := m.Memory()
	call := Call{
		Plugin: m.Name(),
		Op:     cstring(mem, op),
		Value:  int32(value),
		Name:   cstring(mem, name),
	}
	if length > 0 {
		if view, ok := mem.Read(data, length); ok {
			call.Data = append([]byte(nil), view...)
		}
	}

	r.mu.Lock()
	r.calls = append(r.calls, call)
	r.mu.Unlock()
}

func cstring(mem api.Memory, ptr uint32) string {
	if ptr == 0 || ptr >= mem.Size() {
		return ""
	}
	view, _ := mem.Read(ptr, mem.Size()-ptr)
	if end := bytes.IndexByte(view, 0); end >= 0 {
		return string(view[:end])
	}
	return ""
}

// Calls returns a copy of every recorded call.
func (r *Recorder) Calls() []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Call(nil), r.calls...)
}

// Filter returns the calls of op, optionally restricted to one plugin.
func (r *Recorder) Filter(plugin, op string) []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Call
	for _, c := range r.calls {
		if c.Op == op && (plugin == "" || c.Plugin == plugin) {
			out = append(out, c)
		}
	}
	return out
}

// Count returns the number of calls of op across all plugins.
func (r *Recorder) Count(op string) int {
	return len(r.Filter("", op))
}

// Reset forgets every recorded call.
func (r *Recorder) Reset() {
	r.mu.Lock()
	r.calls = nil
	r.mu.Unlock()
}

// Function is the subset of a module needed to read guest counters.
type Function interface {
	Function(name string) api.Function
}

// Counters returns the allocation and release counts kept by the guest.
func Counters(ctx context.Context, mod Function) (allocs, releases uint32, err error) {
	get := func(name string) (uint32, error) {
		fn := mod.Function(name)
		if fn == nil {
			return 0, fmt.Errorf("export %s not found", name)
		}
		res, err := fn.Call(ctx)
		if err != nil {
			return 0, err
		}
		return uint32(res[0]), nil
	}
	if allocs, err = get("test_allocations"); err != nil {
		return 0, 0, err
	}
	releases, err = get("test_releases")
	return allocs, releases, err
}
