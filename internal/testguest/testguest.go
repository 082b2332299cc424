// Package testguest generates nanoem plugins in WebAssembly text for tests.
//
// Generated plugins pass input data through to the output, report every
// call to the "nanoem_test" host module and count allocator calls. Function
// index 1 of a full plugin fails with status -1 and a failure reason, index 2
// traps.
package testguest

import (
	"fmt"
	"strings"

	"github.com/wippyai/nanoem-plugin-wasm/uilayout"
	"github.com/wippyai/nanoem-plugin-wasm/wat"
)

// Kind selects the plugin family.
type Kind int

const (
	Model Kind = iota
	Motion
)

func (k Kind) prefix() string {
	if k == Motion {
		return "nanoemApplicationPluginMotionIO"
	}
	return "nanoemApplicationPluginModelIO"
}

func (k Kind) String() string {
	if k == Motion {
		return "motion"
	}
	return "model"
}

// Linear memory layout of generated plugins.
const (
	namesBase   = 256
	nameStride  = 128
	infoName    = 1024
	infoDesc    = 1152
	infoVersion = 1280
	opsBase     = 2048
	opsStride   = 64
	reasonAddr  = 7680
	recoverAddr = 7808
	layoutAddr  = 8192
	bufferAddr  = 16384
	heapBase    = 65536
	opaque      = 4096

	// ABIVersion is returned by GetABIVersion.
	ABIVersion = 0x20000

	// FailureReason and RecoverySuggestion are reported after function 1.
	FailureReason      = "Failure Reason"
	RecoverySuggestion = "Recovery Suggestion"
)

// Options controls the generated plugin.
type Options struct {
	Kind Kind

	// Minimal omits every optional export except SetFunction and SetLanguage.
	Minimal bool

	// Name is the plugin name. Defaults to plugin_wasm_test_<kind>[_minimum].
	Name string

	// Functions overrides the function names.
	Functions []string

	// Omit lists operation names (without prefix) that are not exported.
	Omit []string

	// Reject lists function indices SetFunction refuses with status -1,
	// leaving the previous selection in place.
	Reject []int

	// Broken lists operation names exported with a wrong signature. Plugin
	// operations become () -> (). AllocateMemoryWASM and ReleaseMemoryWASM
	// apply to the allocator exports.
	Broken []string
}

// PluginName returns the effective plugin name.
func (o Options) PluginName() string {
	if o.Name != "" {
		return o.Name
	}
	name := "plugin_wasm_test_" + o.Kind.String()
	if o.Minimal {
		name += "_minimum"
	}
	return name
}

// FunctionNames returns the effective function names.
func (o Options) FunctionNames() []string {
	if len(o.Functions) > 0 {
		return o.Functions
	}
	name := o.PluginName()
	if o.Minimal {
		return []string{name + ": function0 (1.2.3)"}
	}
	return []string{
		name + ": passthrough",
		name + ": failure",
		name + ": trap",
	}
}

// Layout is the UI window layout exported by full plugins.
func Layout() *uilayout.Window {
	return &uilayout.Window{
		Title: "Test Window",
		Components: []uilayout.Component{
			{ID: "enabled", Label: "Enabled", Kind: uilayout.KindCheckbox, Value: []byte{1}},
			{ID: "amount", Label: "Amount", Kind: uilayout.KindSlider},
		},
	}
}

// Compile returns the binary module for opts.
func Compile(opts Options) ([]byte, error) {
	bin, err := wat.Compile(Source(opts))
	if err != nil {
		return nil, fmt.Errorf("compile %s: %w", opts.PluginName(), err)
	}
	return bin, nil
}

// MustCompile is Compile for test setup.
func MustCompile(opts Options) []byte {
	bin, err := Compile(opts)
	if err != nil {
		panic(err)
	}
	return bin
}

// Source returns the WebAssembly text of the plugin described by opts.
func Source(opts Options) string {
	g := &generator{
		opts:   opts,
		prefix: opts.Kind.prefix(),
		omit:   make(map[string]bool, len(opts.Omit)),
		broken: make(map[string]bool, len(opts.Broken)),
		ops:    make(map[string]int),
	}
	for _, name := range opts.Omit {
		g.omit[name] = true
	}
	for _, name := range opts.Broken {
		g.broken[name] = true
	}
	return g.module()
}

type generator struct {
	opts    Options
	prefix  string
	omit    map[string]bool
	broken  map[string]bool
	ops     map[string]int
	opOrder []string
	funcs   strings.Builder
}

func (g *generator) opAddr(op string) int {
	idx, ok := g.ops[op]
	if !ok {
		idx = len(g.opOrder)
		g.ops[op] = idx
		g.opOrder = append(g.opOrder, op)
	}
	return opsBase + idx*opsStride
}

// record emits a call to the host recorder.
func (g *generator) record(op, value, name, data, length string) string {
	return fmt.Sprintf("(call $record (i32.const %d) %s %s %s %s)", g.opAddr(op), value, name, data, length)
}

// export emits an exported function unless op is omitted.
func (g *generator) export(op, signature, body string) {
	if g.omit[op] {
		return
	}
	if g.broken[op] {
		fmt.Fprintf(&g.funcs, "  (func (export \"%s%s\"))\n", g.prefix, op)
		return
	}
	fmt.Fprintf(&g.funcs, "  (func (export \"%s%s\") %s\n    %s)\n", g.prefix, op, signature, body)
}

func (g *generator) module() string {
	names := g.opts.FunctionNames()
	count := len(names)
	full := !g.opts.Minimal
	none := "(i32.const 0)"

	g.export("Initialize", "", g.record("Initialize", none, none, none, none))
	g.export("Terminate", "", g.record("Terminate", none, none, none, none))
	g.export("Create", "(result i32)",
		g.record("Create", none, none, none, none)+fmt.Sprintf("\n    (i32.const %d)", opaque))
	g.export("Destroy", "(param $o i32)", g.record("Destroy", "(local.get $o)", none, none, none))
	g.export("CountAllFunctions", "(param $o i32) (result i32)", fmt.Sprintf("(i32.const %d)", count))
	g.export("GetFunctionName", "(param $o i32) (param $i i32) (result i32)", fmt.Sprintf(
		"(select (i32.add (i32.const %d) (i32.mul (local.get $i) (i32.const %d))) (i32.const 0) (i32.lt_u (local.get $i) (i32.const %d)))",
		namesBase, nameStride, count))
	reject := ""
	for _, idx := range g.opts.Reject {
		reject += fmt.Sprintf(`
    (if (i32.eq (local.get $i) (i32.const %d))
      (then (i32.store (local.get $s) (i32.const -1)) (return)))`, idx)
	}
	g.export("SetFunction", "(param $o i32) (param $i i32) (param $s i32)",
		g.record("SetFunction", "(local.get $i)", none, none, none)+reject+fmt.Sprintf(`
    (global.set $func (local.get $i))
    (i32.store (local.get $s) (select (i32.const 0) (i32.const -2) (i32.lt_u (local.get $i) (i32.const %d))))`, count))
	g.export("SetLanguage", "(param $o i32) (param $v i32)", g.record("SetLanguage", "(local.get $v)", none, none, none))

	input, output := "SetInputModelData", "Model"
	if g.opts.Kind == Motion {
		input, output = "SetInputMotionData", "Motion"
	}
	g.export(input, "(param $o i32) (param $p i32) (param $n i32) (param $s i32)",
		g.record(input, none, none, "(local.get $p)", "(local.get $n)")+fmt.Sprintf(`
    (memory.copy (i32.const %d) (local.get $p) (local.get $n))
    (global.set $input_len (local.get $n))
    (i32.store (local.get $s) (i32.const 0))`, bufferAddr))

	g.execute(full)

	g.export("GetOutput"+output+"DataSize", "(param $o i32) (param $p i32)",
		"(i32.store (local.get $p) (global.get $output_len))")
	g.export("GetOutput"+output+"Data", "(param $o i32) (param $p i32) (param $n i32) (param $s i32)", fmt.Sprintf(
		`(if (i32.lt_u (local.get $n) (global.get $output_len))
      (then (i32.store (local.get $s) (i32.const -2)))
      (else
        (memory.copy (local.get $p) (i32.const %d) (global.get $output_len))
        (i32.store (local.get $s) (i32.const 0))))`, bufferAddr))

	if full {
		g.optional()
	}

	var b strings.Builder
	b.WriteString("(module\n")
	b.WriteString("  (import \"nanoem_test\" \"record\" (func $record (param i32 i32 i32 i32 i32)))\n")
	b.WriteString("  (memory (export \"memory\") 16)\n")
	fmt.Fprintf(&b, "  (global $heap (mut i32) (i32.const %d))\n", heapBase)
	b.WriteString("  (global $allocs (mut i32) (i32.const 0))\n")
	b.WriteString("  (global $releases (mut i32) (i32.const 0))\n")
	b.WriteString("  (global $func (mut i32) (i32.const 0))\n")
	b.WriteString("  (global $fail (mut i32) (i32.const 0))\n")
	b.WriteString("  (global $input_len (mut i32) (i32.const 0))\n")
	b.WriteString("  (global $output_len (mut i32) (i32.const 0))\n")
	if g.broken["AllocateMemoryWASM"] {
		b.WriteString("  (func (export \"nanoemApplicationPluginAllocateMemoryWASM\"))\n")
	} else if !g.omit["AllocateMemoryWASM"] {
		b.WriteString(`  (func (export "nanoemApplicationPluginAllocateMemoryWASM") (param $size i32) (result i32)
    (local $ptr i32)
    (global.set $allocs (i32.add (global.get $allocs) (i32.const 1)))
    (local.set $ptr (global.get $heap))
    (global.set $heap (i32.and (i32.add (i32.add (global.get $heap) (local.get $size)) (i32.const 7)) (i32.const -8)))
    (local.get $ptr))
`)
	}
	if g.broken["ReleaseMemoryWASM"] {
		b.WriteString("  (func (export \"nanoemApplicationPluginReleaseMemoryWASM\") (result i32) (i32.const 0))\n")
	} else if !g.omit["ReleaseMemoryWASM"] {
		fmt.Fprintf(&b, `  (func (export "nanoemApplicationPluginReleaseMemoryWASM") (param $ptr i32)
    (global.set $releases (i32.add (global.get $releases) (i32.const 1)))
    (if (i32.eq (global.get $allocs) (global.get $releases))
      (then (global.set $heap (i32.const %d)))))
`, heapBase)
	}
	b.WriteString("  (func (export \"test_allocations\") (result i32) (global.get $allocs))\n")
	b.WriteString("  (func (export \"test_releases\") (result i32) (global.get $releases))\n")
	b.WriteString(g.funcs.String())

	for i, name := range names {
		data(&b, namesBase+i*nameStride, name)
	}
	data(&b, infoName, g.opts.PluginName())
	data(&b, infoDesc, "nanoem test plugin")
	data(&b, infoVersion, "1.2.3")
	data(&b, reasonAddr, FailureReason)
	data(&b, recoverAddr, RecoverySuggestion)
	for _, op := range g.opOrder {
		data(&b, g.opAddr(op), op)
	}
	if full {
		dataBytes(&b, layoutAddr, uilayout.Encode(Layout()))
	}
	b.WriteString(")\n")
	return b.String()
}

func (g *generator) execute(full bool) {
	body := g.record("Execute", "(global.get $func)", "(i32.const 0)", "(i32.const 0)", "(i32.const 0)")
	if full {
		body += `
    (if (i32.eq (global.get $func) (i32.const 2)) (then (unreachable)))
    (global.set $fail (i32.eq (global.get $func) (i32.const 1)))`
	}
	body += `
    (i32.store (local.get $s) (select (i32.const -1) (i32.const 0) (global.get $fail)))
    (global.set $output_len (select (i32.const 0) (global.get $input_len) (global.get $fail)))`
	g.export("Execute", "(param $o i32) (param $s i32)", body)
}

// optional emits the exports a minimal plugin leaves out.
func (g *generator) optional() {
	none := "(i32.const 0)"
	cstr := func(addr int) string { return fmt.Sprintf("(i32.const %d)", addr) }

	g.export("GetABIVersion", "(result i32)", fmt.Sprintf("(i32.const %d)", ABIVersion))
	g.export("GetName", "(param $o i32) (result i32)", cstr(infoName))
	g.export("GetDescription", "(param $o i32) (result i32)", cstr(infoDesc))
	g.export("GetVersion", "(param $o i32) (result i32)", cstr(infoVersion))
	g.export("GetFailureReason", "(param $o i32) (result i32)",
		fmt.Sprintf("(select (i32.const %d) (i32.const 0) (global.get $fail))", reasonAddr))
	g.export("GetRecoverySuggestion", "(param $o i32) (result i32)",
		fmt.Sprintf("(select (i32.const %d) (i32.const 0) (global.get $fail))", recoverAddr))

	bytesSetter := func(op string) {
		g.export(op, "(param $o i32) (param $p i32) (param $n i32) (param $s i32)",
			g.record(op, none, none, "(local.get $p)", "(local.get $n)")+"\n    (i32.store (local.get $s) (i32.const 0))")
	}
	indexSetter := func(op string) {
		g.export(op, "(param $o i32) (param $p i32) (param $n i32) (param $s i32)",
			g.record(op, "(local.get $n)", none, "(local.get $p)", "(i32.mul (local.get $n) (i32.const 4))")+
				"\n    (i32.store (local.get $s) (i32.const 0))")
	}
	namedSetter := func(op string) {
		g.export(op, "(param $o i32) (param $name i32) (param $p i32) (param $n i32) (param $s i32)",
			g.record(op, "(local.get $n)", "(local.get $name)", "(local.get $p)", "(i32.mul (local.get $n) (i32.const 4))")+
				"\n    (i32.store (local.get $s) (i32.const 0))")
	}

	if g.opts.Kind == Model {
		for _, kind := range []string{"Vertex", "Material", "Bone", "Morph", "Label", "RigidBody", "Joint", "SoftBody"} {
			indexSetter("SetAllSelected" + kind + "ObjectIndices")
		}
	} else {
		for _, kind := range []string{"Accessory", "Camera", "Light", "Model", "SelfShadow"} {
			indexSetter("SetAllSelected" + kind + "Keyframes")
		}
		for _, kind := range []string{"Bone", "Morph"} {
			namedSetter("SetAllNamedSelected" + kind + "Keyframes")
		}
		bytesSetter("SetInputActiveModelData")
	}
	for _, kind := range []string{"Audio", "Camera", "Light"} {
		bytesSetter("Set" + kind + "Description")
	}
	bytesSetter("SetAudioData")

	layout := uilayout.Encode(Layout())
	g.export("GetUIWindowLayoutDataSize", "(param $o i32) (param $p i32)",
		fmt.Sprintf("(i32.store (local.get $p) (i32.const %d))", len(layout)))
	g.export("GetUIWindowLayoutData", "(param $o i32) (param $p i32) (param $n i32) (param $s i32)", fmt.Sprintf(
		`(if (i32.lt_u (local.get $n) (i32.const %[1]d))
      (then (i32.store (local.get $s) (i32.const -2)))
      (else
        (memory.copy (local.get $p) (i32.const %[2]d) (i32.const %[1]d))
        (i32.store (local.get $s) (i32.const 0))))`, len(layout), layoutAddr))
	g.export("LoadUIWindowLayout", "(param $o i32) (param $s i32)",
		g.record("LoadUIWindowLayout", none, none, none, none)+"\n    (i32.store (local.get $s) (i32.const 0))")
	g.export("SetUIComponentLayoutData", "(param $o i32) (param $id i32) (param $p i32) (param $n i32) (param $r i32) (param $s i32)",
		g.record("SetUIComponentLayoutData", none, "(local.get $id)", "(local.get $p)", "(local.get $n)")+`
    (i32.store (local.get $r) (i32.const 1))
    (i32.store (local.get $s) (i32.const 0))`)
}

// data emits s as a NUL-terminated active data segment.
func data(b *strings.Builder, addr int, s string) {
	dataBytes(b, addr, append([]byte(s), 0))
}

func dataBytes(b *strings.Builder, addr int, payload []byte) {
	fmt.Fprintf(b, "  (data (i32.const %d) \"", addr)
	for _, c := range payload {
		fmt.Fprintf(b, "\\%02x", c)
	}
	b.WriteString("\")\n")
}
