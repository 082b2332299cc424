package capi

import (
	"context"
	"path/filepath"
	"sync"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/wippyai/nanoem-plugin-wasm/config"
	"github.com/wippyai/nanoem-plugin-wasm/controller"
	"github.com/wippyai/nanoem-plugin-wasm/engine"
	"github.com/wippyai/nanoem-plugin-wasm/plugin"
)

// Handle identifies an IO in a Runtime. Zero is never a valid handle.
type Handle uintptr

// Runtime owns every IO handed out to the host application.
type Runtime struct {
	// Configure, if set, runs after the directory configuration for every
	// plugin environment.
	Configure func(name string, b *engine.WASIBuilder)

	// TracerProvider is passed to every controller. nil disables tracing.
	TracerProvider trace.TracerProvider

	alloc   Allocator
	logger  *zap.Logger
	handles map[Handle]*IO
	mu      sync.Mutex
	next    Handle
}

// NewRuntime creates a runtime whose strings come from alloc.
func NewRuntime(alloc Allocator) *Runtime {
	return &Runtime{
		alloc:   alloc,
		logger:  zap.NewNop(),
		handles: make(map[Handle]*IO),
	}
}

// Initialize prepares the runtime for a host session. Calling it again does
// nothing.
func (r *Runtime) Initialize() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.handles == nil {
		r.handles = make(map[Handle]*IO)
	}
	r.logger.Debug("runtime initialized")
}

// Terminate destroys every live handle.
func (r *Runtime) Terminate(ctx context.Context) {
	r.mu.Lock()
	handles := r.handles
	r.handles = make(map[Handle]*IO)
	r.mu.Unlock()

	for _, h := range handles {
		h.close(ctx)
	}
	r.logger.Debug("runtime terminated", zap.Int("handles", len(handles)))
}

// Len returns the number of live handles.
func (r *Runtime) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.handles)
}

// Get returns the IO behind h, or nil for zero and unknown handles.
func (r *Runtime) Get(h Handle) *IO {
	if h == 0 {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.handles[h]
}

// Destroy closes the IO behind h. Unknown handles are ignored.
func (r *Runtime) Destroy(ctx context.Context, h Handle) {
	r.mu.Lock()
	io, ok := r.handles[h]
	delete(r.handles, h)
	r.mu.Unlock()
	if ok {
		io.close(ctx)
	}
}

// CreateModelWithLocation loads every model plugin in the directory of path,
// initializes and creates them. It returns 0 on failure.
func (r *Runtime) CreateModelWithLocation(ctx context.Context, path string) Handle {
	opts, ok := r.options(path)
	if !ok {
		return 0
	}
	c, err := controller.NewModelFromPath(ctx, filepath.Dir(path), opts)
	if err != nil {
		r.logger.Error("load model plugins failed", zap.String("path", path), zap.Error(err))
		return 0
	}
	return r.register(ctx, &IO{ctrl: c, model: c}, c.Initialize, c.Create)
}

// CreateMotionWithLocation is CreateModelWithLocation for motion plugins.
func (r *Runtime) CreateMotionWithLocation(ctx context.Context, path string) Handle {
	opts, ok := r.options(path)
	if !ok {
		return 0
	}
	c, err := controller.NewMotionFromPath(ctx, filepath.Dir(path), opts)
	if err != nil {
		r.logger.Error("load motion plugins failed", zap.String("path", path), zap.Error(err))
		return 0
	}
	return r.register(ctx, &IO{ctrl: c, motion: c}, c.Initialize, c.Create)
}

// options loads the directory configuration and installs its logger.
func (r *Runtime) options(path string) (*controller.Options, bool) {
	if path == "" {
		return nil, false
	}
	dir := filepath.Dir(path)
	cfg, err := config.Load(dir)
	if err != nil {
		r.logger.Error("load configuration failed", zap.String("dir", dir), zap.Error(err))
		return nil, false
	}
	logger, err := config.NewLogger(cfg.Log)
	if err != nil {
		r.logger.Error("create logger failed", zap.Error(err))
		return nil, false
	}

	r.mu.Lock()
	r.logger = logger
	r.mu.Unlock()
	engine.SetLogger(logger.Named("engine"))
	plugin.SetLogger(logger.Named("plugin"))

	opts := cfg.Options(logger.Named("controller"))
	opts.TracerProvider = r.TracerProvider
	if r.Configure != nil {
		opts.Configure = func(name string, b *engine.WASIBuilder) {
			cfg.Configure(name, b)
			r.Configure(name, b)
		}
	}
	return opts, true
}

// register brings a freshly loaded controller up and hands out its handle.
// A plugin failing a step is logged and left out of later steps by its own
// state machine.
func (r *Runtime) register(ctx context.Context, io *IO, steps ...func(context.Context) error) Handle {
	for _, step := range steps {
		if err := step(ctx); err != nil {
			r.logger.Warn("plugin setup failed", zap.Error(err))
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	io.strings = newStringCache(r.alloc)
	io.logger = r.logger
	r.next++
	h := r.next
	r.handles[h] = io
	return h
}
