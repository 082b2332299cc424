// Package engine provides the low-level wazero integration for plugin modules.
//
// # Architecture
//
// The engine package provides three main types:
//
//	Engine      - Holds the runtime configuration and a shared compilation cache
//	WASIBuilder - Describes one plugin's WASI environment (stdio, env, preopens, host imports)
//	Module      - One instantiated plugin together with the store that owns it
//
// # Instantiation Flow
//
//  1. Engine.Source() accepts binary modules, or WebAssembly text when AllowText is set
//  2. A fresh wazero runtime (the plugin's store) is created
//  3. wasi_snapshot_preview1 and any extra host modules are instantiated into it
//  4. The caller's configure hook adjusts the WASIBuilder
//  5. The module is instantiated as a reactor: no start function, _initialize if exported
//
// Closing a Module closes its store, so nothing outlives the plugin.
//
// # Thread Safety
//
// Engine is safe for concurrent use. Module is NOT thread-safe and should be
// used by a single goroutine.
package engine
