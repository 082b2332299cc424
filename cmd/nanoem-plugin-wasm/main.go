// Command nanoem-plugin-wasm is the nanoem model and motion IO plugin that
// hosts WebAssembly plugins. Build it with -buildmode=c-shared and place it
// next to the *.wasm modules it should load.
package main

// #include "nanoem_plugin.h"
import "C"

import (
	"context"
	"unsafe"

	pluginwasm "github.com/wippyai/nanoem-plugin-wasm"
	"github.com/wippyai/nanoem-plugin-wasm/capi"
	"github.com/wippyai/nanoem-plugin-wasm/errors"
	"github.com/wippyai/nanoem-plugin-wasm/plugin"
)

type cAllocator struct{}

func (cAllocator) CString(s string) unsafe.Pointer {
	return unsafe.Pointer(C.CString(s))
}

func (cAllocator) Free(p unsafe.Pointer) {
	C.free(p)
}

var host = capi.NewRuntime(cAllocator{})

func main() {}

func setStatus(status *C.int32_t, s pluginwasm.Status) {
	if status != nil {
		*status = C.int32_t(s)
	}
}

func setLength(length *C.uint32_t, n uint32) {
	if length != nil {
		*length = C.uint32_t(n)
	}
}

// goBytes views a host buffer. A NULL pointer with a non-zero length is
// rejected; the view must not outlive the call.
func goBytes(data *C.uint8_t, length C.uint32_t) ([]byte, error) {
	if length == 0 {
		return nil, nil
	}
	if data == nil {
		return nil, errors.InvalidInput(errors.PhaseABI, "data is NULL")
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(data)), int(length)), nil
}

func goInt32s(data *C.int32_t, length C.uint32_t) ([]int32, error) {
	if length == 0 {
		return nil, nil
	}
	if data == nil {
		return nil, errors.InvalidInput(errors.PhaseABI, "indices are NULL")
	}
	return unsafe.Slice((*int32)(unsafe.Pointer(data)), int(length)), nil
}

func goUint32s(data *C.uint32_t, length C.uint32_t) ([]uint32, error) {
	if length == 0 {
		return nil, nil
	}
	if data == nil {
		return nil, errors.InvalidInput(errors.PhaseABI, "frame indices are NULL")
	}
	return unsafe.Slice((*uint32)(unsafe.Pointer(data)), int(length)), nil
}

func goString(s *C.char) string {
	if s == nil {
		return ""
	}
	return C.GoString(s)
}

// withBytes runs fn on a host buffer, either a payload to send or an output
// buffer to fill, after checking the handle and the buffer for NULL.
func withBytes(io *capi.IO, data *C.uint8_t, length C.uint32_t, status *C.int32_t, fn func(context.Context, []byte) pluginwasm.Status) {
	if io == nil {
		setStatus(status, pluginwasm.StatusErrorNullObject)
		return
	}
	b, err := goBytes(data, length)
	if err != nil {
		setStatus(status, io.Reject(err))
		return
	}
	setStatus(status, fn(context.Background(), b))
}

func describe(io *capi.IO, kind plugin.DescriptionKind) func(context.Context, []byte) pluginwasm.Status {
	return func(ctx context.Context, data []byte) pluginwasm.Status {
		return io.SetDescription(ctx, kind, data)
	}
}

func setUIComponentLayoutData(io *capi.IO, id *C.char, data *C.uint8_t, length C.uint32_t, reload *C.int32_t, status *C.int32_t) {
	withBytes(io, data, length, status, func(ctx context.Context, b []byte) pluginwasm.Status {
		ok, s := io.SetUIComponentLayoutData(ctx, goString(id), b)
		if reload != nil {
			*reload = 0
			if ok {
				*reload = 1
			}
		}
		return s
	})
}
