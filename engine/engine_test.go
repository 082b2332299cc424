package engine

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/wippyai/nanoem-plugin-wasm/errors"
	"github.com/wippyai/nanoem-plugin-wasm/wat"
)

const counterModule = `(module
	(global $n (mut i32) (i32.const 0))
	(func (export "_initialize")
		(global.set $n (i32.const 40)))
	(func (export "next") (result i32)
		(global.set $n (i32.add (global.get $n) (i32.const 1)))
		(global.get $n))
	(memory (export "memory") 1)
)`

func newEngine(t *testing.T, cfg *Config) *Engine {
	t.Helper()
	ctx := context.Background()
	eng, err := New(ctx, cfg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	t.Cleanup(func() { eng.Close(ctx) })
	return eng
}

func mustCompile(t *testing.T, src string) []byte {
	t.Helper()
	bin, err := wat.Compile(src)
	if err != nil {
		t.Fatalf("wat.Compile failed: %v", err)
	}
	return bin
}

func TestConfig_Defaults(t *testing.T) {
	cfg := &Config{}
	if cfg.MemoryLimitPages != 0 || cfg.AllowText || cfg.CloseOnContextDone {
		t.Errorf("unexpected defaults: %+v", cfg)
	}
}

func TestNew(t *testing.T) {
	tests := []struct {
		cfg  *Config
		name string
	}{
		{nil, "nil config"},
		{&Config{}, "default config"},
		{&Config{MemoryLimitPages: 256}, "16MB limit"},
		{&Config{AllowText: true, CloseOnContextDone: true}, "text and cancellation"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			eng := newEngine(t, tc.cfg)
			if eng.cache == nil {
				t.Error("compilation cache should not be nil")
			}
		})
	}
}

func TestInstantiate_Reactor(t *testing.T) {
	ctx := context.Background()
	eng := newEngine(t, nil)

	mod, err := eng.Instantiate(ctx, "counter", mustCompile(t, counterModule), nil)
	if err != nil {
		t.Fatalf("Instantiate failed: %v", err)
	}
	defer mod.Close(ctx)

	if mod.Name() != "counter" {
		t.Errorf("Name = %q", mod.Name())
	}
	res, err := mod.Function("next").Call(ctx)
	if err != nil {
		t.Fatalf("next failed: %v", err)
	}
	if got := api.DecodeI32(res[0]); got != 41 {
		t.Errorf("next = %d, want 41 (_initialize must run first)", got)
	}
	if mod.Function("missing") != nil {
		t.Error("missing export should be nil")
	}
	if mod.Memory() == nil {
		t.Error("memory export should be present")
	}
}

func TestInstantiate_SeparateStores(t *testing.T) {
	ctx := context.Background()
	eng := newEngine(t, nil)
	bin := mustCompile(t, counterModule)

	a, err := eng.Instantiate(ctx, "a", bin, nil)
	if err != nil {
		t.Fatalf("Instantiate a failed: %v", err)
	}
	defer a.Close(ctx)
	b, err := eng.Instantiate(ctx, "a", bin, nil)
	if err != nil {
		t.Fatalf("same name in a second store failed: %v", err)
	}
	defer b.Close(ctx)

	a.Function("next").Call(ctx)
	a.Function("next").Call(ctx)
	res, _ := b.Function("next").Call(ctx)
	if got := api.DecodeI32(res[0]); got != 41 {
		t.Errorf("stores share state: got %d, want 41", got)
	}
}

func TestInstantiate_Text(t *testing.T) {
	ctx := context.Background()

	_, err := newEngine(t, nil).Instantiate(ctx, "text", []byte(counterModule), nil)
	if !errors.HasKind(err, errors.KindInvalidData) {
		t.Fatalf("text without AllowText: expected invalid_data, got %v", err)
	}

	mod, err := newEngine(t, &Config{AllowText: true}).Instantiate(ctx, "text", []byte(counterModule), nil)
	if err != nil {
		t.Fatalf("text with AllowText failed: %v", err)
	}
	mod.Close(ctx)

	_, err = newEngine(t, &Config{AllowText: true}).Instantiate(ctx, "bad", []byte(`(module (func (export "f") (i32.bogus)))`), nil)
	if !errors.HasKind(err, errors.KindInvalidData) {
		t.Errorf("broken text: expected invalid_data, got %v", err)
	}
}

func TestInstantiate_InitializeTrap(t *testing.T) {
	ctx := context.Background()
	src := mustCompile(t, `(module (func (export "_initialize") unreachable))`)

	_, err := newEngine(t, nil).Instantiate(ctx, "trap", src, nil)
	if !errors.HasKind(err, errors.KindInstantiation) {
		t.Errorf("expected instantiation error, got %v", err)
	}
}

func TestInstantiate_UnresolvedImport(t *testing.T) {
	ctx := context.Background()
	src := mustCompile(t, `(module (import "host" "missing" (func)))`)

	_, err := newEngine(t, nil).Instantiate(ctx, "imports", src, nil)
	if !errors.HasKind(err, errors.KindInstantiation) {
		t.Errorf("expected instantiation error, got %v", err)
	}
}

func TestInstantiate_MemoryLimit(t *testing.T) {
	ctx := context.Background()
	src := mustCompile(t, `(module (memory (export "memory") 8))`)

	if _, err := newEngine(t, &Config{MemoryLimitPages: 4}).Instantiate(ctx, "big", src, nil); err == nil {
		t.Error("expected memory above the limit to be rejected")
	}
}

func TestModule_Close(t *testing.T) {
	ctx := context.Background()
	mod, err := newEngine(t, nil).Instantiate(ctx, "close", mustCompile(t, counterModule), nil)
	if err != nil {
		t.Fatalf("Instantiate failed: %v", err)
	}

	if err := mod.Close(ctx); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := mod.Close(ctx); err != nil {
		t.Errorf("second Close failed: %v", err)
	}
	if !mod.Closed() {
		t.Error("Closed should be true")
	}
	if mod.Function("next") != nil || mod.Memory() != nil {
		t.Error("closed module should not expose exports")
	}
}

const wasiModule = `(module
	(import "wasi_snapshot_preview1" "fd_write" (func $fd_write (param i32 i32 i32 i32) (result i32)))
	(memory (export "memory") 1)
	(data (i32.const 8) "plugin says hi\n")
	(func (export "hello") (result i32)
		(i32.store (i32.const 0) (i32.const 8))
		(i32.store (i32.const 4) (i32.const 15))
		(call $fd_write (i32.const 1) (i32.const 0) (i32.const 1) (i32.const 32)))
)`

func TestWASIBuilder_Stdout(t *testing.T) {
	ctx := context.Background()
	var stdout bytes.Buffer

	mod, err := newEngine(t, nil).Instantiate(ctx, "wasi", mustCompile(t, wasiModule), func(b *WASIBuilder) {
		if b.Name() != "wasi" {
			t.Errorf("builder name = %q", b.Name())
		}
		b.WithStdout(&stdout).WithEnv("NANOEM", "1").WithArgs("plugin")
	})
	if err != nil {
		t.Fatalf("Instantiate failed: %v", err)
	}
	defer mod.Close(ctx)

	res, err := mod.Function("hello").Call(ctx)
	if err != nil {
		t.Fatalf("hello failed: %v", err)
	}
	if errno := api.DecodeI32(res[0]); errno != 0 {
		t.Fatalf("fd_write errno = %d", errno)
	}
	if got := stdout.String(); got != "plugin says hi\n" {
		t.Errorf("stdout = %q", got)
	}
}

const pathOpenModule = `(module
	(import "wasi_snapshot_preview1" "path_open"
		(func $path_open (param i32 i32 i32 i32 i32 i64 i64 i32 i32) (result i32)))
	(memory (export "memory") 1)
	(data (i32.const 64) "data.bin")
	(func (export "open_write") (result i32)
		(call $path_open (i32.const 3) (i32.const 0) (i32.const 64) (i32.const 8)
			(i32.const 1) (i64.const 64) (i64.const 0) (i32.const 0) (i32.const 128)))
	(func (export "open_read") (result i32)
		(call $path_open (i32.const 3) (i32.const 0) (i32.const 64) (i32.const 8)
			(i32.const 0) (i64.const 2) (i64.const 0) (i32.const 0) (i32.const 128)))
)`

func TestWASIBuilder_ReadOnlyDir(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "data.bin"), []byte{1, 2, 3}, 0o600); err != nil {
		t.Fatal(err)
	}

	mod, err := newEngine(t, nil).Instantiate(ctx, "fs", mustCompile(t, pathOpenModule), func(b *WASIBuilder) {
		b.WithReadOnlyDir(dir, "/data")
	})
	if err != nil {
		t.Fatalf("Instantiate failed: %v", err)
	}
	defer mod.Close(ctx)

	res, err := mod.Function("open_read").Call(ctx)
	if err != nil {
		t.Fatalf("open_read failed: %v", err)
	}
	if errno := api.DecodeI32(res[0]); errno != 0 {
		t.Errorf("open_read errno = %d, want 0", errno)
	}

	res, err = mod.Function("open_write").Call(ctx)
	if err != nil {
		t.Fatalf("open_write failed: %v", err)
	}
	if errno := api.DecodeI32(res[0]); errno == 0 {
		t.Error("read-only preopen allowed a write open")
	}
}

func TestWASIBuilder_HostModule(t *testing.T) {
	ctx := context.Background()
	var got []uint32
	src := mustCompile(t, `(module
		(import "env" "observe" (func $observe (param i32)))
		(func (export "run") (call $observe (i32.const 7))))`)

	mod, err := newEngine(t, nil).Instantiate(ctx, "host", src, func(b *WASIBuilder) {
		b.WithHostModule(func(ctx context.Context, r wazero.Runtime) error {
			_, err := r.NewHostModuleBuilder("env").
				NewFunctionBuilder().
				WithFunc(func(_ context.Context, v uint32) { got = append(got, v) }).
				Export("observe").
				Instantiate(ctx)
			return err
		})
	})
	if err != nil {
		t.Fatalf("Instantiate failed: %v", err)
	}
	defer mod.Close(ctx)

	if _, err := mod.Function("run").Call(ctx); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if len(got) != 1 || got[0] != 7 {
		t.Errorf("host observed %v, want [7]", got)
	}
}

func TestSetLogger(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	SetLogger(zap.New(core))
	defer SetLogger(nil)

	ctx := context.Background()
	mod, err := newEngine(t, nil).Instantiate(ctx, "logged", mustCompile(t, counterModule), nil)
	if err != nil {
		t.Fatalf("Instantiate failed: %v", err)
	}
	mod.Close(ctx)

	var messages []string
	for _, e := range logs.All() {
		messages = append(messages, e.Message)
	}
	joined := strings.Join(messages, ",")
	for _, want := range []string{"engine created", "module instantiated", "module closed"} {
		if !strings.Contains(joined, want) {
			t.Errorf("missing log %q in %v", want, messages)
		}
	}
}
