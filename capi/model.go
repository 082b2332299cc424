package capi

import (
	"context"

	pluginwasm "github.com/wippyai/nanoem-plugin-wasm"
	"github.com/wippyai/nanoem-plugin-wasm/plugin"
)

// IsModel reports whether h is a live model IO handle.
func (h *IO) IsModel() bool {
	return h != nil && h.model != nil
}

func (h *IO) SetAllSelectedObjectIndices(ctx context.Context, kind plugin.ObjectKind, indices []int32) pluginwasm.Status {
	if !h.IsModel() {
		return pluginwasm.StatusErrorNullObject
	}
	return h.status("SetAllSelectedObjectIndices", h.model.SetAllSelectedObjectIndices(ctx, kind, indices))
}

func (h *IO) SetInputModelData(ctx context.Context, data []byte) pluginwasm.Status {
	if !h.IsModel() {
		return pluginwasm.StatusErrorNullObject
	}
	return h.status(plugin.OpSetInputModelData, h.model.SetInputModelData(ctx, data))
}
