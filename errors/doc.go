// Package errors provides structured error types for the plugin runtime.
//
// Errors are categorized by Phase (where the error occurred) and Kind (error category).
// The Error type carries the plugin name, the guest export involved, the guest
// status code when the guest itself reported the failure, and a cause chain.
//
// Use the Builder for structured error construction:
//
//	err := errors.New(errors.PhaseGuest, errors.KindGuestStatus).
//		Plugin("plugin_wasm_test_model_minimum").
//		Export("nanoemApplicationPluginModelIOExecute").
//		Status(-1).
//		Build()
//
// Or use convenience constructors for common patterns:
//
//	err := errors.MissingExport(name, "nanoemApplicationPluginAllocateMemoryWASM")
//	err := errors.OutOfBounds(errors.PhaseABI, "function", 10, 5)
//
// StatusOf translates any error into the status code reported through the C ABI.
//
// All errors implement the standard error interface and support errors.Is/As.
package errors
