// Package wat compiles WebAssembly text modules to the binary format.
//
// Plugin authors can drop a *.wat file next to the *.wasm plugins while
// iterating on a plugin when the directory configuration sets allow_text.
// The test suites generate their fixture plugins as text as well.
//
//	bin, err := wat.Compile(`(module
//		(memory (export "memory") 1)
//		(func (export "nanoemApplicationPluginModelIOInitialize")))`)
//
// The accepted language is the subset plugins need: function imports, one
// memory, globals, exports, start, active data segments and integer code in
// folded or flat form, including blocks, branches, memory access and the
// bulk memory.copy and memory.fill. Floating point values are limited to
// constants, loads and stores. Tables, element segments, SIMD, reference
// types and multi-value blocks are rejected.
package wat
