package testguest

import (
	"context"
	"strings"
	"testing"

	"github.com/wippyai/nanoem-plugin-wasm/engine"
)

func TestCompile_AllVariants(t *testing.T) {
	ctx := context.Background()
	eng, err := engine.New(ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer eng.Close(ctx)

	for _, opts := range []Options{
		{Kind: Model},
		{Kind: Model, Minimal: true},
		{Kind: Motion},
		{Kind: Motion, Minimal: true},
		{Kind: Model, Functions: []string{"a", "b"}, Omit: []string{"SetLanguage"}},
	} {
		name := opts.PluginName()
		t.Run(name, func(t *testing.T) {
			bin, err := Compile(opts)
			if err != nil {
				t.Fatalf("Compile failed: %v\n%s", err, Source(opts))
			}
			rec := NewRecorder()
			mod, err := eng.Instantiate(ctx, name, bin, rec.Install)
			if err != nil {
				t.Fatalf("Instantiate failed: %v", err)
			}
			defer mod.Close(ctx)

			prefix := opts.Kind.prefix()
			if _, err := mod.Function(prefix+"Initialize").Call(ctx); err != nil {
				t.Fatalf("Initialize failed: %v", err)
			}
			calls := rec.Calls()
			if len(calls) != 1 || calls[0].Op != "Initialize" || calls[0].Plugin != name {
				t.Errorf("recorded %+v", calls)
			}

			res, err := mod.Function(prefix+"CountAllFunctions").Call(ctx, 0)
			if err != nil {
				t.Fatalf("CountAllFunctions failed: %v", err)
			}
			if int(res[0]) != len(opts.FunctionNames()) {
				t.Errorf("CountAllFunctions = %d, want %d", res[0], len(opts.FunctionNames()))
			}
			if (mod.Function(prefix+"SetLanguage") == nil) != (len(opts.Omit) > 0) {
				t.Error("Omit was not honoured")
			}
			if (mod.Function(prefix+"GetUIWindowLayoutData") != nil) == opts.Minimal {
				t.Error("UI exports should exist only on full plugins")
			}
		})
	}
}

func TestCounters(t *testing.T) {
	ctx := context.Background()
	eng, err := engine.New(ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer eng.Close(ctx)

	mod, err := eng.Instantiate(ctx, "counters", MustCompile(Options{}), NewRecorder().Install)
	if err != nil {
		t.Fatalf("Instantiate failed: %v", err)
	}
	defer mod.Close(ctx)

	alloc := mod.Function("nanoemApplicationPluginAllocateMemoryWASM")
	release := mod.Function("nanoemApplicationPluginReleaseMemoryWASM")
	res, err := alloc.Call(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if res[0] != heapBase {
		t.Errorf("first allocation at %d, want %d", res[0], heapBase)
	}
	if _, err := release.Call(ctx, res[0]); err != nil {
		t.Fatal(err)
	}

	allocs, releases, err := Counters(ctx, mod)
	if err != nil {
		t.Fatalf("Counters failed: %v", err)
	}
	if allocs != 1 || releases != 1 {
		t.Errorf("Counters = %d, %d; want 1, 1", allocs, releases)
	}
}

func TestSource_Readable(t *testing.T) {
	src := Source(Options{Kind: Motion})
	for _, want := range []string{
		`(export "nanoemApplicationPluginMotionIOSetAllNamedSelectedBoneKeyframes")`,
		`(import "nanoem_test" "record"`,
		`(memory (export "memory") 16)`,
	} {
		if !strings.Contains(src, want) {
			t.Errorf("source is missing %s", want)
		}
	}
}
