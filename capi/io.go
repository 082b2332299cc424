package capi

import (
	"context"
	"unsafe"

	"go.uber.org/zap"

	pluginwasm "github.com/wippyai/nanoem-plugin-wasm"
	"github.com/wippyai/nanoem-plugin-wasm/controller"
	"github.com/wippyai/nanoem-plugin-wasm/errors"
	"github.com/wippyai/nanoem-plugin-wasm/plugin"
)

// Controller is the family independent part of a plugin controller.
// *controller.ModelController and *controller.MotionController implement it.
type Controller interface {
	SetLanguage(ctx context.Context, lang pluginwasm.Language) error
	CountAllFunctions(ctx context.Context) int
	FunctionName(ctx context.Context, flat int) (string, error)
	SetFunction(ctx context.Context, flat int) (int, error)
	SetDescription(ctx context.Context, kind plugin.DescriptionKind, data []byte) error
	SetAudioData(ctx context.Context, data []byte) error
	Execute(ctx context.Context) error
	OutputDataSize(ctx context.Context) (uint32, error)
	OutputData(ctx context.Context) ([]byte, error)
	LoadUIWindowLayout(ctx context.Context) error
	UIWindowLayout(ctx context.Context) ([]byte, error)
	SetUIComponentLayout(ctx context.Context, id string, data []byte) (bool, error)
	AssignFailureReason(err error)
	FailureReason(ctx context.Context) (string, error)
	RecoverySuggestion(ctx context.Context) (string, error)
	Close(ctx context.Context) error
}

// IO is the object behind one opaque handle. Exactly one of model and
// motion is set. Every method accepts a nil receiver and returns a safe
// default or StatusErrorNullObject; family specific methods do the same on a
// handle of the other family.
type IO struct {
	ctrl    Controller
	model   *controller.ModelController
	motion  *controller.MotionController
	strings *stringCache
	logger  *zap.Logger
	layout  []byte
	guest   bool
}

func (h *IO) status(op string, err error) pluginwasm.Status {
	h.ctrl.AssignFailureReason(err)
	h.guest = errors.IsGuestReported(err)
	if err != nil {
		h.logger.Debug("operation failed", zap.String("op", op), zap.Error(err))
	}
	return pluginwasm.Status(errors.StatusOf(err))
}

// GuestReported reports whether the last status returned by an operation
// was produced by the plugin rather than the host. Guest statuses share
// their values with the host's but not their meaning.
func (h *IO) GuestReported() bool {
	return h != nil && h.guest
}

// Reject records a host-side argument error, such as a NULL buffer with a
// non-zero length, and returns its status.
func (h *IO) Reject(err error) pluginwasm.Status {
	if h == nil {
		return pluginwasm.StatusErrorNullObject
	}
	return h.status("reject", err)
}

// Create reports success: the controller was initialized and created when
// the handle was made.
func (h *IO) Create() pluginwasm.Status {
	if h == nil {
		return pluginwasm.StatusErrorNullObject
	}
	return pluginwasm.StatusSuccess
}

func (h *IO) SetLanguage(ctx context.Context, lang pluginwasm.Language) {
	if h == nil {
		return
	}
	h.status(plugin.OpSetLanguage, h.ctrl.SetLanguage(ctx, lang))
}

func (h *IO) CountAllFunctions(ctx context.Context) int32 {
	if h == nil {
		return 0
	}
	return int32(h.ctrl.CountAllFunctions(ctx))
}

// FunctionName returns the function name at a flat index, or nil. The
// string stays valid until the next FunctionName call on this handle.
func (h *IO) FunctionName(ctx context.Context, index int32) unsafe.Pointer {
	if h == nil {
		return nil
	}
	name, err := h.ctrl.FunctionName(ctx, int(index))
	if err != nil {
		h.status(plugin.OpGetFunctionName, err)
		return nil
	}
	return h.strings.keep(slotFunctionName, name)
}

func (h *IO) SetFunction(ctx context.Context, index int32) pluginwasm.Status {
	if h == nil {
		return pluginwasm.StatusErrorNullObject
	}
	_, err := h.ctrl.SetFunction(ctx, int(index))
	h.layout = nil
	return h.status(plugin.OpSetFunction, err)
}

func (h *IO) SetDescription(ctx context.Context, kind plugin.DescriptionKind, data []byte) pluginwasm.Status {
	if h == nil {
		return pluginwasm.StatusErrorNullObject
	}
	return h.status("SetDescription", h.ctrl.SetDescription(ctx, kind, data))
}

func (h *IO) SetAudioData(ctx context.Context, data []byte) pluginwasm.Status {
	if h == nil {
		return pluginwasm.StatusErrorNullObject
	}
	return h.status(plugin.OpSetAudioData, h.ctrl.SetAudioData(ctx, data))
}

func (h *IO) Execute(ctx context.Context) pluginwasm.Status {
	if h == nil {
		return pluginwasm.StatusErrorNullObject
	}
	return h.status(plugin.OpExecute, h.ctrl.Execute(ctx))
}

// OutputDataSize returns the size of the output produced by Execute.
func (h *IO) OutputDataSize(ctx context.Context) uint32 {
	if h == nil {
		return 0
	}
	size, err := h.ctrl.OutputDataSize(ctx)
	if err != nil {
		h.status("GetOutputDataSize", err)
		return 0
	}
	return size
}

// OutputData copies the output into buf, which must hold OutputDataSize
// bytes.
func (h *IO) OutputData(ctx context.Context, buf []byte) pluginwasm.Status {
	if h == nil {
		return pluginwasm.StatusErrorNullObject
	}
	data, err := h.ctrl.OutputData(ctx)
	if err == nil {
		err = fill(buf, data)
	}
	return h.status("GetOutputData", err)
}

func (h *IO) LoadUIWindowLayout(ctx context.Context) pluginwasm.Status {
	if h == nil {
		return pluginwasm.StatusErrorNullObject
	}
	h.layout = nil
	return h.status(plugin.OpLoadUIWindowLayout, h.ctrl.LoadUIWindowLayout(ctx))
}

// UIWindowLayoutDataSize fetches the window layout and returns its size.
// The layout is kept for the following UIWindowLayoutData call.
func (h *IO) UIWindowLayoutDataSize(ctx context.Context) uint32 {
	if h == nil {
		return 0
	}
	layout, err := h.ctrl.UIWindowLayout(ctx)
	if err != nil {
		h.layout = nil
		h.status(plugin.OpGetUIWindowLayoutDataSize, err)
		return 0
	}
	h.layout = layout
	return uint32(len(layout))
}

func (h *IO) UIWindowLayoutData(ctx context.Context, buf []byte) pluginwasm.Status {
	if h == nil {
		return pluginwasm.StatusErrorNullObject
	}
	layout := h.layout
	if layout == nil {
		var err error
		if layout, err = h.ctrl.UIWindowLayout(ctx); err != nil {
			return h.status(plugin.OpGetUIWindowLayoutData, err)
		}
	}
	return h.status(plugin.OpGetUIWindowLayoutData, fill(buf, layout))
}

// SetUIComponentLayoutData forwards a component change and reports whether
// the host should reload the window.
func (h *IO) SetUIComponentLayoutData(ctx context.Context, id string, data []byte) (bool, pluginwasm.Status) {
	if h == nil {
		return false, pluginwasm.StatusErrorNullObject
	}
	reload, err := h.ctrl.SetUIComponentLayout(ctx, id, data)
	if reload {
		h.layout = nil
	}
	return reload, h.status(plugin.OpSetUIComponentLayoutData, err)
}

// FailureReason returns the reason of the last failure, or nil when there
// is none.
func (h *IO) FailureReason(ctx context.Context) unsafe.Pointer {
	if h == nil {
		return nil
	}
	reason, err := h.ctrl.FailureReason(ctx)
	if err != nil || reason == "" {
		return nil
	}
	return h.strings.keep(slotFailureReason, reason)
}

func (h *IO) RecoverySuggestion(ctx context.Context) unsafe.Pointer {
	if h == nil {
		return nil
	}
	suggestion, err := h.ctrl.RecoverySuggestion(ctx)
	if err != nil || suggestion == "" {
		return nil
	}
	return h.strings.keep(slotRecoverySuggestion, suggestion)
}

func (h *IO) close(ctx context.Context) {
	if err := h.ctrl.Close(ctx); err != nil {
		h.logger.Warn("close controller failed", zap.Error(err))
	}
	h.strings.release()
	h.layout = nil
}

func fill(buf, data []byte) error {
	if len(buf) < len(data) {
		return errors.OutOfBounds(errors.PhaseABI, "output buffer", len(data), len(buf))
	}
	copy(buf, data)
	return nil
}
