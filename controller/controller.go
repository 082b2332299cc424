package controller

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	pluginwasm "github.com/wippyai/nanoem-plugin-wasm"
	"github.com/wippyai/nanoem-plugin-wasm/engine"
	"github.com/wippyai/nanoem-plugin-wasm/errors"
	"github.com/wippyai/nanoem-plugin-wasm/plugin"
)

// Plugin is an instance a controller can own.
type Plugin interface {
	Core() *plugin.Instance
}

// Selection identifies the function chosen by SetFunction.
type Selection struct {
	Plugin   int
	Function int
}

type failureReason struct {
	message string
	plugin  int
}

// Controller presents a set of plugin instances as one plugin with a flat
// function table. Lifecycle and language calls are broadcast to every
// instance; everything else is routed to the selected one.
//
// Controller is not safe for concurrent use.
type Controller[P Plugin] struct {
	tracer  trace.Tracer
	logger  *zap.Logger
	engine  *engine.Engine
	reason  *failureReason
	current *Selection
	plugins []P
	offsets []int
}

// New returns a controller over plugins in the given order.
func New[P Plugin](plugins []P, opts *Options) *Controller[P] {
	return &Controller[P]{
		plugins: plugins,
		tracer:  opts.tracer(),
		logger:  opts.logger(),
	}
}

type loader[P Plugin] func(ctx context.Context, eng *engine.Engine, name string, src []byte, configure func(*engine.WASIBuilder)) (P, error)

// fromPath loads every plugin module in dir, sorted by file name. Modules that
// fail to load are logged and left out.
func fromPath[P Plugin](ctx context.Context, dir string, opts *Options, load loader[P]) (*Controller[P], error) {
	var cfg engine.Config
	if opts != nil {
		cfg = opts.Engine
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseLoad, errors.KindInvalidInput, err, "read plugin directory")
	}
	eng, err := engine.New(ctx, &cfg)
	if err != nil {
		return nil, err
	}

	logger := opts.logger()
	var plugins []P
	for _, entry := range entries {
		if entry.IsDir() || !isModule(entry.Name(), cfg.AllowText) {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		name := strings.TrimSuffix(entry.Name(), filepath.Ext(entry.Name()))

		src, err := os.ReadFile(path)
		if err != nil {
			logger.Warn("read plugin failed", zap.String("path", path), zap.Error(err))
			continue
		}
		p, err := load(ctx, eng, name, src, opts.configure(name))
		if err != nil {
			logger.Warn("load plugin failed", zap.String("path", path), zap.Error(err))
			continue
		}
		logger.Debug("plugin loaded", zap.String("path", path))
		plugins = append(plugins, p)
	}

	c := New(plugins, opts)
	c.engine = eng
	logger.Info("plugins loaded", zap.String("dir", dir), zap.Int("count", len(plugins)))
	return c, nil
}

func isModule(name string, allowText bool) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".wasm":
		return true
	case ".wat":
		return allowText
	}
	return false
}

// Plugins returns the owned instances in load order.
func (c *Controller[P]) Plugins() []P {
	return c.plugins
}

// Selection returns the current selection, if any.
func (c *Controller[P]) Selection() (Selection, bool) {
	if c.current == nil {
		return Selection{}, false
	}
	return *c.current, true
}

func (c *Controller[P]) start(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return c.tracer.Start(ctx, "plugin."+op, trace.WithAttributes(attrs...))
}

func finish(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// broadcast runs fn on every plugin, continuing past failures, and returns
// the first error.
func (c *Controller[P]) broadcast(ctx context.Context, op string, fn func(context.Context, P) error) error {
	ctx, span := c.start(ctx, op, attribute.Int("plugin.count", len(c.plugins)))
	var first error
	for k, p := range c.plugins {
		if err := fn(ctx, p); err != nil {
			c.logger.Debug("broadcast failed",
				zap.String("op", op),
				zap.String("plugin", p.Core().ID()),
				zap.Int("index", k),
				zap.Error(err),
			)
			if first == nil {
				first = err
			}
		}
	}
	c.logger.Debug("broadcast", zap.String("op", op), zap.Int("plugins", len(c.plugins)))
	finish(span, first)
	return first
}

// route runs fn on the selected plugin only.
func route[P Plugin, T any](ctx context.Context, c *Controller[P], op string, fn func(context.Context, P) (T, error)) (T, error) {
	var zero T
	if c.current == nil {
		return zero, errors.NoFunctionSelected()
	}
	p := c.plugins[c.current.Plugin]
	ctx, span := c.start(ctx, op,
		attribute.String("plugin.name", p.Core().ID()),
		attribute.Int("plugin.index", c.current.Plugin),
		attribute.Int("plugin.function", c.current.Function),
	)
	v, err := fn(ctx, p)
	c.logger.Debug("route",
		zap.String("op", op),
		zap.String("plugin", p.Core().ID()),
		zap.Error(err),
	)
	finish(span, err)
	return v, err
}

func (c *Controller[P]) routeErr(ctx context.Context, op string, fn func(context.Context, P) error) error {
	_, err := route(ctx, c, op, func(ctx context.Context, p P) (struct{}, error) {
		return struct{}{}, fn(ctx, p)
	})
	return err
}

// Initialize initializes every plugin.
func (c *Controller[P]) Initialize(ctx context.Context) error {
	return c.broadcast(ctx, plugin.OpInitialize, func(ctx context.Context, p P) error {
		return p.Core().Initialize(ctx)
	})
}

// Create creates the guest object of every plugin.
func (c *Controller[P]) Create(ctx context.Context) error {
	return c.broadcast(ctx, plugin.OpCreate, func(ctx context.Context, p P) error {
		return p.Core().Create(ctx)
	})
}

// SetLanguage forwards lang to every plugin.
func (c *Controller[P]) SetLanguage(ctx context.Context, lang pluginwasm.Language) error {
	return c.broadcast(ctx, plugin.OpSetLanguage, func(ctx context.Context, p P) error {
		return p.Core().SetLanguage(ctx, lang)
	})
}

// Destroy destroys the guest object of every plugin and clears the selection.
func (c *Controller[P]) Destroy(ctx context.Context) {
	c.broadcast(ctx, plugin.OpDestroy, func(ctx context.Context, p P) error {
		p.Core().Destroy(ctx)
		return nil
	})
	c.current = nil
}

// Terminate terminates every plugin and closes its store.
func (c *Controller[P]) Terminate(ctx context.Context) {
	c.broadcast(ctx, plugin.OpTerminate, func(ctx context.Context, p P) error {
		p.Core().Terminate(ctx)
		return nil
	})
	c.current = nil
}

// Close destroys and terminates every plugin, then releases the engine the
// controller was loaded with. Safe to call more than once.
func (c *Controller[P]) Close(ctx context.Context) error {
	c.Destroy(ctx)
	c.Terminate(ctx)
	if c.engine == nil {
		return nil
	}
	err := c.engine.Close(ctx)
	c.engine = nil
	return err
}

// counts returns cumulative function counts: offsets[k] is the flat index of
// plugin k's first function and offsets[len(plugins)] the total. The result
// is cached once every plugin has answered.
func (c *Controller[P]) counts(ctx context.Context) []int {
	if c.offsets != nil {
		return c.offsets
	}
	offsets := make([]int, len(c.plugins)+1)
	complete := true
	for k, p := range c.plugins {
		n, err := p.Core().CountAllFunctions(ctx)
		if err != nil {
			c.logger.Debug("count functions failed", zap.String("plugin", p.Core().ID()), zap.Error(err))
			complete = false
			n = 0
		}
		offsets[k+1] = offsets[k] + n
	}
	if complete {
		c.offsets = offsets
	}
	return offsets
}

// CountAllFunctions returns the size of the flat function table.
func (c *Controller[P]) CountAllFunctions(ctx context.Context) int {
	offsets := c.counts(ctx)
	return offsets[len(offsets)-1]
}

// Resolve maps a flat function index to a plugin index and the plugin's own
// function index.
func (c *Controller[P]) Resolve(ctx context.Context, flat int) (int, int, error) {
	offsets := c.counts(ctx)
	total := offsets[len(offsets)-1]
	if flat < 0 || flat >= total {
		return 0, 0, errors.OutOfBounds(errors.PhaseABI, "function", flat, total)
	}
	k := sort.Search(len(c.plugins), func(k int) bool { return offsets[k+1] > flat })
	return k, flat - offsets[k], nil
}

// FunctionName returns the name of the function at the flat index.
func (c *Controller[P]) FunctionName(ctx context.Context, flat int) (string, error) {
	k, local, err := c.Resolve(ctx, flat)
	if err != nil {
		return "", err
	}
	return c.plugins[k].Core().FunctionName(ctx, local)
}

// SetFunction selects the function at the flat index on its plugin and makes
// that plugin the target of routed calls. It returns the plugin index. When
// the plugin rejects the function the previous selection stays in effect.
func (c *Controller[P]) SetFunction(ctx context.Context, flat int) (int, error) {
	ctx, span := c.start(ctx, plugin.OpSetFunction, attribute.Int("function.flat", flat))
	k, local, err := c.Resolve(ctx, flat)
	if err != nil {
		finish(span, err)
		return 0, err
	}
	span.SetAttributes(
		attribute.String("plugin.name", c.plugins[k].Core().ID()),
		attribute.Int("plugin.index", k),
	)
	err = c.plugins[k].Core().SetFunction(ctx, local)
	if err == nil {
		c.current = &Selection{Plugin: k, Function: local}
	}
	c.logger.Debug("function selected",
		zap.Int("flat", flat),
		zap.String("plugin", c.plugins[k].Core().ID()),
		zap.Int("local", local),
		zap.Error(err),
	)
	finish(span, err)
	return k, err
}

// AssignFailureReason records a host-side failure for the current selection.
// Errors reported by the guest itself, and nil, clear it so the guest's own
// reason is returned.
func (c *Controller[P]) AssignFailureReason(err error) {
	if err == nil || errors.IsGuestReported(err) {
		c.reason = nil
		return
	}
	c.reason = &failureReason{message: err.Error(), plugin: c.selected()}
}

func (c *Controller[P]) selected() int {
	if c.current == nil {
		return -1
	}
	return c.current.Plugin
}

func (c *Controller[P]) hostReason() (string, bool) {
	if c.reason == nil || c.reason.plugin != c.selected() {
		return "", false
	}
	return c.reason.message, true
}

// FailureReason returns the host-assigned failure reason for the current
// selection, or the selected plugin's own.
func (c *Controller[P]) FailureReason(ctx context.Context) (string, error) {
	if msg, ok := c.hostReason(); ok {
		return msg, nil
	}
	return route(ctx, c, plugin.OpGetFailureReason, func(ctx context.Context, p P) (string, error) {
		return p.Core().FailureReason(ctx)
	})
}

// RecoverySuggestion returns the selected plugin's recovery suggestion. It is
// empty while a host-assigned failure reason is in effect.
func (c *Controller[P]) RecoverySuggestion(ctx context.Context) (string, error) {
	if _, ok := c.hostReason(); ok {
		return "", nil
	}
	return route(ctx, c, plugin.OpGetRecoverySuggestion, func(ctx context.Context, p P) (string, error) {
		return p.Core().RecoverySuggestion(ctx)
	})
}

// SetDescription forwards an audio, camera or light description.
func (c *Controller[P]) SetDescription(ctx context.Context, kind plugin.DescriptionKind, data []byte) error {
	op, err := kind.Op()
	if err != nil {
		return err
	}
	return c.routeErr(ctx, op, func(ctx context.Context, p P) error {
		return p.Core().SetDescription(ctx, kind, data)
	})
}

// SetAudioData forwards decoded audio samples.
func (c *Controller[P]) SetAudioData(ctx context.Context, data []byte) error {
	return c.routeErr(ctx, plugin.OpSetAudioData, func(ctx context.Context, p P) error {
		return p.Core().SetAudioData(ctx, data)
	})
}

// Execute runs the selected function.
func (c *Controller[P]) Execute(ctx context.Context) error {
	return c.routeErr(ctx, plugin.OpExecute, func(ctx context.Context, p P) error {
		return p.Core().Execute(ctx)
	})
}

// OutputDataSize returns the size of the selected plugin's output.
func (c *Controller[P]) OutputDataSize(ctx context.Context) (uint32, error) {
	return route(ctx, c, "GetOutputDataSize", func(ctx context.Context, p P) (uint32, error) {
		return p.Core().OutputDataSize(ctx)
	})
}

// OutputData returns the selected plugin's output.
func (c *Controller[P]) OutputData(ctx context.Context) ([]byte, error) {
	return route(ctx, c, "GetOutputData", func(ctx context.Context, p P) ([]byte, error) {
		return p.Core().OutputData(ctx)
	})
}

// LoadUIWindowLayout asks the selected plugin to build its window layout.
func (c *Controller[P]) LoadUIWindowLayout(ctx context.Context) error {
	return c.routeErr(ctx, plugin.OpLoadUIWindowLayout, func(ctx context.Context, p P) error {
		return p.Core().LoadUIWindowLayout(ctx)
	})
}

// UIWindowLayout returns the selected plugin's serialized window layout.
func (c *Controller[P]) UIWindowLayout(ctx context.Context) ([]byte, error) {
	return route(ctx, c, plugin.OpGetUIWindowLayoutData, func(ctx context.Context, p P) ([]byte, error) {
		return p.Core().UIWindowLayout(ctx)
	})
}

// SetUIComponentLayout forwards a component change and reports whether the
// plugin wants its window reloaded.
func (c *Controller[P]) SetUIComponentLayout(ctx context.Context, id string, data []byte) (bool, error) {
	return route(ctx, c, plugin.OpSetUIComponentLayoutData, func(ctx context.Context, p P) (bool, error) {
		return p.Core().SetUIComponentLayout(ctx, id, data)
	})
}
