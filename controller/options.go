package controller

import (
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/wippyai/nanoem-plugin-wasm/engine"
)

const tracerName = "github.com/wippyai/nanoem-plugin-wasm/controller"

// Options configures a controller loaded from a directory.
type Options struct {
	// Configure is called once per plugin before instantiation with the
	// plugin name (file name without extension) and its WASI builder.
	Configure func(name string, b *engine.WASIBuilder)

	// Logger receives load failures and per operation debug lines.
	// nil means no logging.
	Logger *zap.Logger

	// TracerProvider creates the span for every controller operation.
	// nil means no tracing.
	TracerProvider trace.TracerProvider

	// Engine configures the store each plugin is instantiated in.
	// Engine.AllowText also makes FromPath pick up *.wat files.
	Engine engine.Config
}

func (o *Options) logger() *zap.Logger {
	if o == nil || o.Logger == nil {
		return zap.NewNop()
	}
	return o.Logger
}

func (o *Options) tracer() trace.Tracer {
	if o == nil || o.TracerProvider == nil {
		return noop.NewTracerProvider().Tracer(tracerName)
	}
	return o.TracerProvider.Tracer(tracerName)
}

func (o *Options) configure(name string) func(*engine.WASIBuilder) {
	if o == nil || o.Configure == nil {
		return nil
	}
	return func(b *engine.WASIBuilder) { o.Configure(name, b) }
}
