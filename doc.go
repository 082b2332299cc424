// Package pluginwasm hosts nanoem model and motion plugins compiled to
// WebAssembly (WASI) and exposes them to the host application through the
// nanoem application plugin C ABI.
//
// # Architecture Overview
//
//	pluginwasm/           Root package with Status and Language
//	├── engine/           wazero stores, WASI environment, module instantiation
//	├── guest/            Scoped allocations and marshalling in guest linear memory
//	├── plugin/           One loaded plugin module (model and motion variants)
//	├── controller/       Many plugins presented as one flat function table
//	├── capi/             Null-safe handle façade used by the C exports
//	├── uilayout/         Protobuf wire codec for plugin UI window layouts
//	├── config/           YAML configuration found next to the plugins
//	├── errors/           Structured error types and status translation
//	├── wat/              WebAssembly text compiler for development plugins
//	└── cmd/
//	    ├── nanoem-plugin-wasm/  cgo c-shared library exporting the C ABI
//	    └── debugger/            CLI and TUI exercising the ABI
//
// # Quick Start
//
//	ctx := context.Background()
//	ctrl, err := controller.NewModelFromPath(ctx, "plugins/model", nil)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer ctrl.Close(ctx)
//
//	if err := ctrl.Initialize(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	if err := ctrl.Create(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	if _, err := ctrl.SetFunction(ctx, 0); err != nil {
//	    log.Fatal(err)
//	}
//	_ = ctrl.SetInputModelData(ctx, pmx)
//	_ = ctrl.Execute(ctx)
//	out, _ := ctrl.OutputData(ctx)
//
// # Data Flow
//
//	host -> C ABI -> controller -> selected plugin -> guest memory -> WASM export
//	     <- status / failure reason / output bytes <-
//
// # Thread Safety
//
// A controller is NOT thread-safe; the host drives it from a single thread.
// Independent controllers share nothing and may be used concurrently.
//
// # Memory Model
//
// Every buffer written into guest memory is released before the host
// operation that wrote it returns, on success and failure paths alike.
// The host never holds a guest pointer between two host operations.
package pluginwasm
