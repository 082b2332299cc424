package wat

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
)

func TestIsBinary(t *testing.T) {
	bin, err := Compile("(module)")
	if err != nil {
		t.Fatalf("Compile failed: %v", err)
	}
	if len(bin) != 8 || !IsBinary(bin) {
		t.Errorf("empty module = % x", bin)
	}
	if IsBinary([]byte("(module)")) || IsBinary(nil) {
		t.Error("text must not be reported as binary")
	}
}

// pluginShaped uses the constructs generated test plugins rely on.
const pluginShaped = `(module
	(import "host" "observe" (func $observe (param i32 i32)))
	(memory (export "memory") 1)
	(global $len (mut i32) (i32.const 0))
	(data (i32.const 64) "name\00")
	(func (export "copy") (param $src i32) (param $n i32) (result i32)
		(memory.copy (i32.const 256) (local.get $src) (local.get $n))
		(global.set $len (local.get $n))
		(call $observe (i32.const 256) (local.get $n))
		(global.get $len))
	(func (export "pick") (param $i i32) (result i32)
		(select (i32.const 64) (i32.const 0) (i32.lt_u (local.get $i) (i32.const 2))))
	(func (export "status") (param $fail i32) (param $out i32)
		(if (local.get $fail)
			(then (i32.store (local.get $out) (i32.const -1)))
			(else (i32.store (local.get $out) (i32.const 0))))))`

func TestCompile_PluginConstructs(t *testing.T) {
	ctx := context.Background()
	bin, err := Compile(pluginShaped)
	if err != nil {
		t.Fatalf("Compile failed: %v", err)
	}

	r := wazero.NewRuntime(ctx)
	defer r.Close(ctx)
	var observed []byte
	_, err = r.NewHostModuleBuilder("host").
		NewFunctionBuilder().
		WithFunc(func(_ context.Context, m api.Module, ptr, n uint32) {
			observed, _ = m.Memory().Read(ptr, n)
		}).
		Export("observe").
		Instantiate(ctx)
	if err != nil {
		t.Fatal(err)
	}
	mod, err := r.Instantiate(ctx, bin)
	if err != nil {
		t.Fatalf("Instantiate failed: %v", err)
	}

	res, err := mod.ExportedFunction("copy").Call(ctx, 64, 4)
	if err != nil {
		t.Fatalf("copy failed: %v", err)
	}
	if res[0] != 4 || string(observed) != "name" {
		t.Errorf("copy = %d, observed %q", res[0], observed)
	}

	for i, want := range []uint64{64, 64, 0} {
		res, err := mod.ExportedFunction("pick").Call(ctx, uint64(i))
		if err != nil {
			t.Fatal(err)
		}
		if res[0] != want {
			t.Errorf("pick(%d) = %d, want %d", i, res[0], want)
		}
	}

	if _, err := mod.ExportedFunction("status").Call(ctx, 1, 512); err != nil {
		t.Fatal(err)
	}
	if v, _ := mod.Memory().ReadUint32Le(512); int32(v) != -1 {
		t.Errorf("status = %d, want -1", int32(v))
	}
}

func instantiate(t *testing.T, src string) api.Module {
	t.Helper()
	ctx := context.Background()
	bin, err := Compile(src)
	if err != nil {
		t.Fatalf("Compile failed: %v", err)
	}
	r := wazero.NewRuntime(ctx)
	t.Cleanup(func() { r.Close(ctx) })
	mod, err := r.Instantiate(ctx, bin)
	if err != nil {
		t.Fatalf("Instantiate failed: %v", err)
	}
	return mod
}

func call(t *testing.T, mod api.Module, name string, params ...uint64) uint64 {
	t.Helper()
	res, err := mod.ExportedFunction(name).Call(context.Background(), params...)
	if err != nil {
		t.Fatalf("%s failed: %v", name, err)
	}
	return res[0]
}

const controlFlow = `(module
	(type $binary (func (param i32 i32) (result i32)))
	(func $add (type $binary)
		(i32.add (local.get 0) (local.get 1)))
	(func (export "sum") (param $n i32) (result i32)
		(local $acc i32)
		(block $done
			(loop $next
				(br_if $done (i32.eqz (local.get $n)))
				(local.set $acc (call $add (local.get $acc) (local.get $n)))
				(local.set $n (i32.sub (local.get $n) (i32.const 1)))
				(br $next)))
		(local.get $acc))
	(func (export "flat") (param i32) (result i32)
		local.get 0
		if (result i32)
			i32.const 10
		else
			i32.const 20
		end)
	(func (export "table") (param i32) (result i32)
		(block $two
			(block $one
				(block $zero
					(br_table $zero $one $two (local.get 0)))
				(return (i32.const 100)))
			(return (i32.const 101)))
		(i32.const 102))
)`

func TestCompile_ControlFlow(t *testing.T) {
	mod := instantiate(t, controlFlow)

	if got := call(t, mod, "sum", 10); got != 55 {
		t.Errorf("sum(10) = %d, want 55", got)
	}
	if got := call(t, mod, "flat", 1); got != 10 {
		t.Errorf("flat(1) = %d, want 10", got)
	}
	if got := call(t, mod, "flat", 0); got != 20 {
		t.Errorf("flat(0) = %d, want 20", got)
	}
	for in, want := range map[uint64]uint64{0: 100, 1: 101, 2: 102, 7: 102} {
		if got := call(t, mod, "table", in); got != want {
			t.Errorf("table(%d) = %d, want %d", in, got, want)
		}
	}
}

const memoryAndGlobals = `(module
	(memory 1 2)
	(export "mem" (memory 0))
	(global $g (export "g") (mut i64) (i64.const 0x10))
	(global $base i32 (i32.const 8))
	(func $init
		(global.set $g (i64.add (global.get $g) (i64.const -1))))
	(start $init)
	(func (export "offsets") (result i32)
		(i32.store offset=8 align=4 (i32.const 0) (i32.const 0x01020304))
		(i32.load8_u offset=8 (i32.const 0)))
	(func (export "wrap") (result i32) (i32.const 4_294_967_295))
	(func (export "widen") (param i32) (result i64)
		(i64.extend_i32_u (local.get 0)))
	(func (export "fill") (result i32)
		(memory.fill (global.get $base) (i32.const 7) (i32.const 4))
		(i32.load (global.get $base)))
	(func (export "pages") (result i32)
		(drop (memory.grow (i32.const 1)))
		(memory.size))
	(data (offset (i32.const 64)) "a" "\62" "\u{63}")
)`

func TestCompile_MemoryAndGlobals(t *testing.T) {
	mod := instantiate(t, memoryAndGlobals)

	if got := mod.ExportedGlobal("g").Get(); got != 15 {
		t.Errorf("start function did not run: g = %d", got)
	}
	if got := call(t, mod, "offsets"); got != 4 {
		t.Errorf("offsets = %d, want 4", got)
	}
	if got := api.DecodeI32(call(t, mod, "wrap")); got != -1 {
		t.Errorf("wrap = %d, want -1", got)
	}
	if got := call(t, mod, "widen", 0xffffffff); got != 0xffffffff {
		t.Errorf("widen = %#x", got)
	}
	if got := call(t, mod, "fill"); got != 0x07070707 {
		t.Errorf("fill = %#x", got)
	}
	if got := call(t, mod, "pages"); got != 2 {
		t.Errorf("pages = %d, want 2", got)
	}
	if data, _ := mod.ExportedMemory("mem").Read(64, 3); string(data) != "abc" {
		t.Errorf("data segment = %q", data)
	}
}

func TestTokenize(t *testing.T) {
	toks, err := tokenize(`;; line comment
(data (; block (; nested ;) ;) "tab\there\00\"q\"" $id)`)
	if err != nil {
		t.Fatalf("tokenize failed: %v", err)
	}
	var got []string
	for _, tok := range toks {
		got = append(got, tok.text)
	}
	want := []string{"", "data", "tab\there\x00\"q\"", "$id", ""}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("tokens mismatch (-want +got):\n%s", diff)
	}
	if toks[1].pos != (pos{line: 2, col: 2}) {
		t.Errorf("data position = %+v", toks[1].pos)
	}
}

func TestAppendSigned(t *testing.T) {
	tests := []struct {
		v    int64
		want []byte
	}{
		{0, []byte{0x00}},
		{63, []byte{0x3f}},
		{64, []byte{0xc0, 0x00}},
		{-1, []byte{0x7f}},
		{-64, []byte{0x40}},
		{-65, []byte{0xbf, 0x7f}},
		{-8, []byte{0x78}},
	}
	for _, tc := range tests {
		if diff := cmp.Diff(tc.want, appendSigned(nil, tc.v)); diff != "" {
			t.Errorf("appendSigned(%d) mismatch (-want +got):\n%s", tc.v, diff)
		}
	}
}

func TestCompile_Errors(t *testing.T) {
	tests := []struct {
		name string
		src  string
		msg  string
	}{
		{"unknown instruction", `(module (func (i32.bogus)))`, "unknown instruction"},
		{"unterminated", `(module (func`, "unclosed"},
		{"unknown local", `(module (func (local.get $missing)))`, "unknown local $missing"},
		{"unknown type", `(module (func (param i33)))`, "unknown value type"},
		{"unknown function", `(module (func (call $nowhere)))`, "unknown function"},
		{"unknown label", `(module (func (br $out)))`, "unknown label"},
		{"missing end", `(module (func block))`, "missing end"},
		{"else outside if", `(module (func else))`, "else outside if"},
		{"duplicate export", `(module (func (export "f")) (func (export "f")))`, "duplicate export"},
		{"duplicate local", `(module (func (param $a i32) (local $a i32)))`, "duplicate local"},
		{"i32 range", `(module (func (drop (i32.const 0x100000000))))`, "invalid i32"},
		{"bad alignment", `(module (memory 1) (func (drop (i32.load align=3 (i32.const 0)))))`, "power of two"},
		{"table", `(module (table 1 funcref))`, "unsupported module field"},
		{"memory import", `(module (import "env" "memory" (memory 1)))`, "only function imports"},
		{"two modules", `(module) (module)`, "single (module"},
		{"unterminated string", `(module (data (i32.const 0) "abc))`, "unterminated string"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Compile(tc.src)
			if err == nil {
				t.Fatal("expected an error")
			}
			if !strings.HasPrefix(err.Error(), "wat: ") || !strings.Contains(err.Error(), tc.msg) {
				t.Errorf("error %q, want prefix %q and %q", err, "wat: ", tc.msg)
			}
		})
	}
}

func TestCompile_ErrorPosition(t *testing.T) {
	_, err := Compile("(module\n  (func (i32.bogus)))")
	var werr *Error
	if !errors.As(err, &werr) {
		t.Fatalf("expected *Error, got %v", err)
	}
	if werr.Line != 2 || werr.Column != 10 {
		t.Errorf("position = %d:%d, want 2:10", werr.Line, werr.Column)
	}
}
