// Package plugin hosts a single nanoem model or motion plugin.
//
// An Instance owns one WebAssembly module, the wazero store it lives in and
// the opaque plugin object returned by the guest's Create export. Every call
// into the guest goes through scoped allocations from package guest, so no
// guest pointer outlives the host operation that produced it.
//
// Lifecycle:
//
//	NewModel / NewMotion  -> StateNew
//	Initialize            -> StateReady
//	Create                -> StateActive   (setters, Execute, outputs, UI)
//	Destroy               -> StateDestroyed
//	Terminate             -> StateDead     (module and store closed)
//
// Exports beyond the mandatory set are resolved on first use. Missing
// setters are skipped, missing UI operations report KindUnsupported and
// missing failure strings read as "".
package plugin
