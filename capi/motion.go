package capi

import (
	"context"

	pluginwasm "github.com/wippyai/nanoem-plugin-wasm"
	"github.com/wippyai/nanoem-plugin-wasm/plugin"
)

// IsMotion reports whether h is a live motion IO handle.
func (h *IO) IsMotion() bool {
	return h != nil && h.motion != nil
}

func (h *IO) SetAllSelectedKeyframes(ctx context.Context, kind plugin.KeyframeKind, frames []uint32) pluginwasm.Status {
	if !h.IsMotion() {
		return pluginwasm.StatusErrorNullObject
	}
	return h.status("SetAllSelectedKeyframes", h.motion.SetAllSelectedKeyframes(ctx, kind, frames))
}

func (h *IO) SetAllNamedSelectedKeyframes(ctx context.Context, kind plugin.NamedKeyframeKind, name string, frames []uint32) pluginwasm.Status {
	if !h.IsMotion() {
		return pluginwasm.StatusErrorNullObject
	}
	return h.status("SetAllNamedSelectedKeyframes", h.motion.SetAllNamedSelectedKeyframes(ctx, kind, name, frames))
}

func (h *IO) SetInputMotionData(ctx context.Context, data []byte) pluginwasm.Status {
	if !h.IsMotion() {
		return pluginwasm.StatusErrorNullObject
	}
	return h.status(plugin.OpSetInputMotionData, h.motion.SetInputMotionData(ctx, data))
}

func (h *IO) SetInputActiveModelData(ctx context.Context, data []byte) pluginwasm.Status {
	if !h.IsMotion() {
		return pluginwasm.StatusErrorNullObject
	}
	return h.status(plugin.OpSetInputActiveModelData, h.motion.SetInputActiveModelData(ctx, data))
}
