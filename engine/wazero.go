package engine

import (
	"context"
	"fmt"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	"github.com/wippyai/nanoem-plugin-wasm/errors"
	"github.com/wippyai/nanoem-plugin-wasm/wat"
)

// Engine creates one wazero store per plugin module. Stores share a
// compilation cache so reloading the same bytes does not recompile.
type Engine struct {
	runtimeConfig wazero.RuntimeConfig
	cache         wazero.CompilationCache
	config        Config
}

// Config holds configuration for engine creation
type Config struct {
	// MemoryLimitPages sets the maximum memory per plugin in pages (64KB each).
	// 0 means default (65536 pages = 4GB).
	// 256 = 16MB, 1024 = 64MB, 4096 = 256MB
	MemoryLimitPages uint32

	// CloseOnContextDone makes guest calls observe context cancellation.
	// Hosts that never cancel leave it off to avoid the per-call check.
	CloseOnContextDone bool

	// AllowText accepts WebAssembly text (.wat) sources and compiles them
	// before instantiation. Intended for plugin development.
	AllowText bool
}

// New creates a new wazero-based engine
func New(ctx context.Context, cfg *Config) (*Engine, error) {
	var c Config
	if cfg != nil {
		c = *cfg
	}

	cache := wazero.NewCompilationCache()
	runtimeCfg := wazero.NewRuntimeConfig().
		WithCompilationCache(cache).
		WithCloseOnContextDone(c.CloseOnContextDone)
	if c.MemoryLimitPages > 0 {
		runtimeCfg = runtimeCfg.WithMemoryLimitPages(c.MemoryLimitPages)
	}

	Logger().Debug("engine created",
		zap.Uint32("memory_limit_pages", c.MemoryLimitPages),
		zap.Bool("allow_text", c.AllowText),
	)

	return &Engine{
		runtimeConfig: runtimeCfg,
		cache:         cache,
		config:        c,
	}, nil
}

// Close releases the compilation cache. Modules instantiated by this engine
// must be closed first.
func (e *Engine) Close(ctx context.Context) error {
	return e.cache.Close(ctx)
}

// Source normalizes module bytes: binary modules are returned unchanged and
// text modules are compiled when the engine allows them.
func (e *Engine) Source(name string, src []byte) ([]byte, error) {
	if wat.IsBinary(src) {
		return src, nil
	}
	if !e.config.AllowText {
		return nil, errors.Load(name, "not a binary WebAssembly module", nil)
	}
	bin, err := wat.Compile(string(src))
	if err != nil {
		return nil, errors.Load(name, "compile WebAssembly text", err)
	}
	return bin, nil
}

// Instantiate loads a plugin module into a fresh store with its own WASI
// environment. configure may adjust the environment before instantiation.
func (e *Engine) Instantiate(ctx context.Context, name string, src []byte, configure func(*WASIBuilder)) (*Module, error) {
	bin, err := e.Source(name, src)
	if err != nil {
		return nil, err
	}

	r := wazero.NewRuntimeWithConfig(ctx, e.runtimeConfig)

	builder := NewWASIBuilder(name)
	if configure != nil {
		configure(builder)
	}

	if err := builder.instantiateHosts(ctx, r); err != nil {
		r.Close(ctx)
		return nil, errors.Instantiation(name, err)
	}

	compiled, err := r.CompileModule(ctx, bin)
	if err != nil {
		r.Close(ctx)
		return nil, errors.Load(name, "compile module", err)
	}

	mod, err := r.InstantiateModule(ctx, compiled, builder.moduleConfig())
	if err != nil {
		r.Close(ctx)
		return nil, errors.Instantiation(name, err)
	}

	// Reactor modules export _initialize instead of _start.
	if initFn := mod.ExportedFunction("_initialize"); initFn != nil {
		if _, err := initFn.Call(ctx); err != nil {
			r.Close(ctx)
			return nil, errors.Instantiation(name, fmt.Errorf("_initialize: %w", err))
		}
	}

	Logger().Debug("module instantiated", zap.String("plugin", name), zap.Int("size", len(bin)))

	return &Module{
		name:    name,
		runtime: r,
		module:  mod,
	}, nil
}

// Module is one instantiated plugin module together with its store.
type Module struct {
	runtime wazero.Runtime
	module  api.Module
	name    string
	closed  bool
}

// Name returns the plugin name the module was instantiated with.
func (m *Module) Name() string {
	return m.name
}

// Function returns the exported function, or nil if absent.
func (m *Module) Function(name string) api.Function {
	if m.closed {
		return nil
	}
	return m.module.ExportedFunction(name)
}

// Memory returns the guest's exported linear memory, or nil if absent.
func (m *Module) Memory() api.Memory {
	if m.closed {
		return nil
	}
	return m.module.Memory()
}

// API returns the underlying wazero module.
func (m *Module) API() api.Module {
	return m.module
}

// Closed reports whether Close has been called.
func (m *Module) Closed() bool {
	return m.closed
}

// Close tears down the module and its store. Safe to call more than once.
func (m *Module) Close(ctx context.Context) error {
	if m.closed {
		return nil
	}
	m.closed = true
	Logger().Debug("module closed", zap.String("plugin", m.name))
	return m.runtime.Close(ctx)
}
