package main

// #include "nanoem_plugin.h"
import "C"

import (
	"context"
	"unsafe"

	pluginwasm "github.com/wippyai/nanoem-plugin-wasm"
	"github.com/wippyai/nanoem-plugin-wasm/capi"
	"github.com/wippyai/nanoem-plugin-wasm/plugin"
)

func motion(instance *C.nanoem_application_plugin_motion_io_t) *capi.IO {
	if instance == nil {
		return nil
	}
	io := host.Get(capi.Handle(instance.id))
	if !io.IsMotion() {
		return nil
	}
	return io
}

//export nanoemApplicationPluginMotionIOInitialize
func nanoemApplicationPluginMotionIOInitialize() {
	host.Initialize()
}

//export nanoemApplicationPluginMotionIOTerminate
func nanoemApplicationPluginMotionIOTerminate() {
	host.Terminate(context.Background())
}

//export nanoemApplicationPluginMotionIOCreateWithLocation
func nanoemApplicationPluginMotionIOCreateWithLocation(path *C.char) *C.nanoem_application_plugin_motion_io_t {
	if path == nil {
		return nil
	}
	h := host.CreateMotionWithLocation(context.Background(), C.GoString(path))
	if h == 0 {
		return nil
	}
	instance := (*C.nanoem_application_plugin_motion_io_t)(C.calloc(1, C.sizeof_nanoem_application_plugin_motion_io_t))
	instance.id = C.uintptr_t(h)
	return instance
}

//export nanoemApplicationPluginMotionIOCreate
func nanoemApplicationPluginMotionIOCreate(instance *C.nanoem_application_plugin_motion_io_t, status *C.int32_t) {
	setStatus(status, motion(instance).Create())
}

//export nanoemApplicationPluginMotionIODestroy
func nanoemApplicationPluginMotionIODestroy(instance *C.nanoem_application_plugin_motion_io_t) {
	if instance == nil {
		return
	}
	host.Destroy(context.Background(), capi.Handle(instance.id))
	C.free(unsafe.Pointer(instance))
}

//export nanoemApplicationPluginMotionIOSetLanguage
func nanoemApplicationPluginMotionIOSetLanguage(instance *C.nanoem_application_plugin_motion_io_t, value C.int32_t) {
	motion(instance).SetLanguage(context.Background(), pluginwasm.Language(value))
}

//export nanoemApplicationPluginMotionIOCountAllFunctions
func nanoemApplicationPluginMotionIOCountAllFunctions(instance *C.nanoem_application_plugin_motion_io_t) C.int32_t {
	return C.int32_t(motion(instance).CountAllFunctions(context.Background()))
}

//export nanoemApplicationPluginMotionIOGetFunctionName
func nanoemApplicationPluginMotionIOGetFunctionName(instance *C.nanoem_application_plugin_motion_io_t, index C.int32_t) *C.char {
	return (*C.char)(motion(instance).FunctionName(context.Background(), int32(index)))
}

//export nanoemApplicationPluginMotionIOSetFunction
func nanoemApplicationPluginMotionIOSetFunction(instance *C.nanoem_application_plugin_motion_io_t, index C.int32_t, status *C.int32_t) {
	setStatus(status, motion(instance).SetFunction(context.Background(), int32(index)))
}

func setKeyframes(instance *C.nanoem_application_plugin_motion_io_t, kind plugin.KeyframeKind, data *C.uint32_t, length C.uint32_t, status *C.int32_t) {
	io := motion(instance)
	if io == nil {
		setStatus(status, pluginwasm.StatusErrorNullObject)
		return
	}
	frames, err := goUint32s(data, length)
	if err != nil {
		setStatus(status, io.Reject(err))
		return
	}
	setStatus(status, io.SetAllSelectedKeyframes(context.Background(), kind, frames))
}

func setNamedKeyframes(instance *C.nanoem_application_plugin_motion_io_t, kind plugin.NamedKeyframeKind, name *C.char, data *C.uint32_t, length C.uint32_t, status *C.int32_t) {
	io := motion(instance)
	if io == nil {
		setStatus(status, pluginwasm.StatusErrorNullObject)
		return
	}
	frames, err := goUint32s(data, length)
	if err != nil {
		setStatus(status, io.Reject(err))
		return
	}
	setStatus(status, io.SetAllNamedSelectedKeyframes(context.Background(), kind, goString(name), frames))
}

//export nanoemApplicationPluginMotionIOSetAllSelectedAccessoryKeyframes
func nanoemApplicationPluginMotionIOSetAllSelectedAccessoryKeyframes(instance *C.nanoem_application_plugin_motion_io_t, data *C.uint32_t, length C.uint32_t, status *C.int32_t) {
	setKeyframes(instance, plugin.KeyframeAccessory, data, length, status)
}

//export nanoemApplicationPluginMotionIOSetAllNamedSelectedBoneKeyframes
func nanoemApplicationPluginMotionIOSetAllNamedSelectedBoneKeyframes(instance *C.nanoem_application_plugin_motion_io_t, name *C.char, data *C.uint32_t, length C.uint32_t, status *C.int32_t) {
	setNamedKeyframes(instance, plugin.NamedKeyframeBone, name, data, length, status)
}

//export nanoemApplicationPluginMotionIOSetAllSelectedCameraKeyframes
func nanoemApplicationPluginMotionIOSetAllSelectedCameraKeyframes(instance *C.nanoem_application_plugin_motion_io_t, data *C.uint32_t, length C.uint32_t, status *C.int32_t) {
	setKeyframes(instance, plugin.KeyframeCamera, data, length, status)
}

//export nanoemApplicationPluginMotionIOSetAllSelectedLightKeyframes
func nanoemApplicationPluginMotionIOSetAllSelectedLightKeyframes(instance *C.nanoem_application_plugin_motion_io_t, data *C.uint32_t, length C.uint32_t, status *C.int32_t) {
	setKeyframes(instance, plugin.KeyframeLight, data, length, status)
}

//export nanoemApplicationPluginMotionIOSetAllSelectedModelKeyframes
func nanoemApplicationPluginMotionIOSetAllSelectedModelKeyframes(instance *C.nanoem_application_plugin_motion_io_t, data *C.uint32_t, length C.uint32_t, status *C.int32_t) {
	setKeyframes(instance, plugin.KeyframeModel, data, length, status)
}

//export nanoemApplicationPluginMotionIOSetAllNamedSelectedMorphKeyframes
func nanoemApplicationPluginMotionIOSetAllNamedSelectedMorphKeyframes(instance *C.nanoem_application_plugin_motion_io_t, name *C.char, data *C.uint32_t, length C.uint32_t, status *C.int32_t) {
	setNamedKeyframes(instance, plugin.NamedKeyframeMorph, name, data, length, status)
}

//export nanoemApplicationPluginMotionIOSetAllSelectedSelfShadowKeyframes
func nanoemApplicationPluginMotionIOSetAllSelectedSelfShadowKeyframes(instance *C.nanoem_application_plugin_motion_io_t, data *C.uint32_t, length C.uint32_t, status *C.int32_t) {
	setKeyframes(instance, plugin.KeyframeSelfShadow, data, length, status)
}

//export nanoemApplicationPluginMotionIOSetAudioDescription
func nanoemApplicationPluginMotionIOSetAudioDescription(instance *C.nanoem_application_plugin_motion_io_t, data *C.uint8_t, length C.uint32_t, status *C.int32_t) {
	io := motion(instance)
	withBytes(io, data, length, status, describe(io, plugin.DescriptionAudio))
}

//export nanoemApplicationPluginMotionIOSetCameraDescription
func nanoemApplicationPluginMotionIOSetCameraDescription(instance *C.nanoem_application_plugin_motion_io_t, data *C.uint8_t, length C.uint32_t, status *C.int32_t) {
	io := motion(instance)
	withBytes(io, data, length, status, describe(io, plugin.DescriptionCamera))
}

//export nanoemApplicationPluginMotionIOSetLightDescription
func nanoemApplicationPluginMotionIOSetLightDescription(instance *C.nanoem_application_plugin_motion_io_t, data *C.uint8_t, length C.uint32_t, status *C.int32_t) {
	io := motion(instance)
	withBytes(io, data, length, status, describe(io, plugin.DescriptionLight))
}

//export nanoemApplicationPluginMotionIOSetAudioData
func nanoemApplicationPluginMotionIOSetAudioData(instance *C.nanoem_application_plugin_motion_io_t, data *C.uint8_t, length C.uint32_t, status *C.int32_t) {
	io := motion(instance)
	withBytes(io, data, length, status, io.SetAudioData)
}

//export nanoemApplicationPluginMotionIOSetInputActiveModelData
func nanoemApplicationPluginMotionIOSetInputActiveModelData(instance *C.nanoem_application_plugin_motion_io_t, data *C.uint8_t, length C.uint32_t, status *C.int32_t) {
	io := motion(instance)
	withBytes(io, data, length, status, io.SetInputActiveModelData)
}

//export nanoemApplicationPluginMotionIOSetInputMotionData
func nanoemApplicationPluginMotionIOSetInputMotionData(instance *C.nanoem_application_plugin_motion_io_t, data *C.uint8_t, length C.uint32_t, status *C.int32_t) {
	io := motion(instance)
	withBytes(io, data, length, status, io.SetInputMotionData)
}

//export nanoemApplicationPluginMotionIOExecute
func nanoemApplicationPluginMotionIOExecute(instance *C.nanoem_application_plugin_motion_io_t, status *C.int32_t) {
	setStatus(status, motion(instance).Execute(context.Background()))
}

//export nanoemApplicationPluginMotionIOGetOutputMotionDataSize
func nanoemApplicationPluginMotionIOGetOutputMotionDataSize(instance *C.nanoem_application_plugin_motion_io_t, length *C.uint32_t) {
	setLength(length, motion(instance).OutputDataSize(context.Background()))
}

//export nanoemApplicationPluginMotionIOGetOutputMotionData
func nanoemApplicationPluginMotionIOGetOutputMotionData(instance *C.nanoem_application_plugin_motion_io_t, data *C.uint8_t, length C.uint32_t, status *C.int32_t) {
	io := motion(instance)
	withBytes(io, data, length, status, io.OutputData)
}

//export nanoemApplicationPluginMotionIOLoadUIWindowLayout
func nanoemApplicationPluginMotionIOLoadUIWindowLayout(instance *C.nanoem_application_plugin_motion_io_t, status *C.int32_t) {
	setStatus(status, motion(instance).LoadUIWindowLayout(context.Background()))
}

//export nanoemApplicationPluginMotionIOGetUIWindowLayoutDataSize
func nanoemApplicationPluginMotionIOGetUIWindowLayoutDataSize(instance *C.nanoem_application_plugin_motion_io_t, length *C.uint32_t) {
	setLength(length, motion(instance).UIWindowLayoutDataSize(context.Background()))
}

//export nanoemApplicationPluginMotionIOGetUIWindowLayoutData
func nanoemApplicationPluginMotionIOGetUIWindowLayoutData(instance *C.nanoem_application_plugin_motion_io_t, data *C.uint8_t, length C.uint32_t, status *C.int32_t) {
	io := motion(instance)
	withBytes(io, data, length, status, io.UIWindowLayoutData)
}

//export nanoemApplicationPluginMotionIOSetUIComponentLayoutData
func nanoemApplicationPluginMotionIOSetUIComponentLayoutData(instance *C.nanoem_application_plugin_motion_io_t, id *C.char, data *C.uint8_t, length C.uint32_t, reload *C.int32_t, status *C.int32_t) {
	setUIComponentLayoutData(motion(instance), id, data, length, reload, status)
}

//export nanoemApplicationPluginMotionIOGetFailureReason
func nanoemApplicationPluginMotionIOGetFailureReason(instance *C.nanoem_application_plugin_motion_io_t) *C.char {
	return (*C.char)(motion(instance).FailureReason(context.Background()))
}

//export nanoemApplicationPluginMotionIOGetRecoverySuggestion
func nanoemApplicationPluginMotionIOGetRecoverySuggestion(instance *C.nanoem_application_plugin_motion_io_t) *C.char {
	return (*C.char)(motion(instance).RecoverySuggestion(context.Background()))
}
