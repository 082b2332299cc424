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

func model(instance *C.nanoem_application_plugin_model_io_t) *capi.IO {
	if instance == nil {
		return nil
	}
	io := host.Get(capi.Handle(instance.id))
	if !io.IsModel() {
		return nil
	}
	return io
}

//export nanoemApplicationPluginModelIOInitialize
func nanoemApplicationPluginModelIOInitialize() {
	host.Initialize()
}

//export nanoemApplicationPluginModelIOTerminate
func nanoemApplicationPluginModelIOTerminate() {
	host.Terminate(context.Background())
}

//export nanoemApplicationPluginModelIOCreateWithLocation
func nanoemApplicationPluginModelIOCreateWithLocation(path *C.char) *C.nanoem_application_plugin_model_io_t {
	if path == nil {
		return nil
	}
	h := host.CreateModelWithLocation(context.Background(), C.GoString(path))
	if h == 0 {
		return nil
	}
	instance := (*C.nanoem_application_plugin_model_io_t)(C.calloc(1, C.sizeof_nanoem_application_plugin_model_io_t))
	instance.id = C.uintptr_t(h)
	return instance
}

//export nanoemApplicationPluginModelIOCreate
func nanoemApplicationPluginModelIOCreate(instance *C.nanoem_application_plugin_model_io_t, status *C.int32_t) {
	setStatus(status, model(instance).Create())
}

//export nanoemApplicationPluginModelIODestroy
func nanoemApplicationPluginModelIODestroy(instance *C.nanoem_application_plugin_model_io_t) {
	if instance == nil {
		return
	}
	host.Destroy(context.Background(), capi.Handle(instance.id))
	C.free(unsafe.Pointer(instance))
}

//export nanoemApplicationPluginModelIOSetLanguage
func nanoemApplicationPluginModelIOSetLanguage(instance *C.nanoem_application_plugin_model_io_t, value C.int32_t) {
	model(instance).SetLanguage(context.Background(), pluginwasm.Language(value))
}

//export nanoemApplicationPluginModelIOCountAllFunctions
func nanoemApplicationPluginModelIOCountAllFunctions(instance *C.nanoem_application_plugin_model_io_t) C.int32_t {
	return C.int32_t(model(instance).CountAllFunctions(context.Background()))
}

//export nanoemApplicationPluginModelIOGetFunctionName
func nanoemApplicationPluginModelIOGetFunctionName(instance *C.nanoem_application_plugin_model_io_t, index C.int32_t) *C.char {
	return (*C.char)(model(instance).FunctionName(context.Background(), int32(index)))
}

//export nanoemApplicationPluginModelIOSetFunction
func nanoemApplicationPluginModelIOSetFunction(instance *C.nanoem_application_plugin_model_io_t, index C.int32_t, status *C.int32_t) {
	setStatus(status, model(instance).SetFunction(context.Background(), int32(index)))
}

func setObjectIndices(instance *C.nanoem_application_plugin_model_io_t, kind plugin.ObjectKind, data *C.int32_t, length C.uint32_t, status *C.int32_t) {
	io := model(instance)
	if io == nil {
		setStatus(status, pluginwasm.StatusErrorNullObject)
		return
	}
	indices, err := goInt32s(data, length)
	if err != nil {
		setStatus(status, io.Reject(err))
		return
	}
	setStatus(status, io.SetAllSelectedObjectIndices(context.Background(), kind, indices))
}

//export nanoemApplicationPluginModelIOSetAllSelectedVertexObjectIndices
func nanoemApplicationPluginModelIOSetAllSelectedVertexObjectIndices(instance *C.nanoem_application_plugin_model_io_t, data *C.int32_t, length C.uint32_t, status *C.int32_t) {
	setObjectIndices(instance, plugin.ObjectVertex, data, length, status)
}

//export nanoemApplicationPluginModelIOSetAllSelectedMaterialObjectIndices
func nanoemApplicationPluginModelIOSetAllSelectedMaterialObjectIndices(instance *C.nanoem_application_plugin_model_io_t, data *C.int32_t, length C.uint32_t, status *C.int32_t) {
	setObjectIndices(instance, plugin.ObjectMaterial, data, length, status)
}

//export nanoemApplicationPluginModelIOSetAllSelectedBoneObjectIndices
func nanoemApplicationPluginModelIOSetAllSelectedBoneObjectIndices(instance *C.nanoem_application_plugin_model_io_t, data *C.int32_t, length C.uint32_t, status *C.int32_t) {
	setObjectIndices(instance, plugin.ObjectBone, data, length, status)
}

//export nanoemApplicationPluginModelIOSetAllSelectedMorphObjectIndices
func nanoemApplicationPluginModelIOSetAllSelectedMorphObjectIndices(instance *C.nanoem_application_plugin_model_io_t, data *C.int32_t, length C.uint32_t, status *C.int32_t) {
	setObjectIndices(instance, plugin.ObjectMorph, data, length, status)
}

//export nanoemApplicationPluginModelIOSetAllSelectedLabelObjectIndices
func nanoemApplicationPluginModelIOSetAllSelectedLabelObjectIndices(instance *C.nanoem_application_plugin_model_io_t, data *C.int32_t, length C.uint32_t, status *C.int32_t) {
	setObjectIndices(instance, plugin.ObjectLabel, data, length, status)
}

//export nanoemApplicationPluginModelIOSetAllSelectedRigidBodyObjectIndices
func nanoemApplicationPluginModelIOSetAllSelectedRigidBodyObjectIndices(instance *C.nanoem_application_plugin_model_io_t, data *C.int32_t, length C.uint32_t, status *C.int32_t) {
	setObjectIndices(instance, plugin.ObjectRigidBody, data, length, status)
}

//export nanoemApplicationPluginModelIOSetAllSelectedJointObjectIndices
func nanoemApplicationPluginModelIOSetAllSelectedJointObjectIndices(instance *C.nanoem_application_plugin_model_io_t, data *C.int32_t, length C.uint32_t, status *C.int32_t) {
	setObjectIndices(instance, plugin.ObjectJoint, data, length, status)
}

//export nanoemApplicationPluginModelIOSetAllSelectedSoftBodyObjectIndices
func nanoemApplicationPluginModelIOSetAllSelectedSoftBodyObjectIndices(instance *C.nanoem_application_plugin_model_io_t, data *C.int32_t, length C.uint32_t, status *C.int32_t) {
	setObjectIndices(instance, plugin.ObjectSoftBody, data, length, status)
}

//export nanoemApplicationPluginModelIOSetInputModelData
func nanoemApplicationPluginModelIOSetInputModelData(instance *C.nanoem_application_plugin_model_io_t, data *C.uint8_t, length C.uint32_t, status *C.int32_t) {
	io := model(instance)
	withBytes(io, data, length, status, io.SetInputModelData)
}

//export nanoemApplicationPluginModelIOSetAudioDescription
func nanoemApplicationPluginModelIOSetAudioDescription(instance *C.nanoem_application_plugin_model_io_t, data *C.uint8_t, length C.uint32_t, status *C.int32_t) {
	io := model(instance)
	withBytes(io, data, length, status, describe(io, plugin.DescriptionAudio))
}

//export nanoemApplicationPluginModelIOSetCameraDescription
func nanoemApplicationPluginModelIOSetCameraDescription(instance *C.nanoem_application_plugin_model_io_t, data *C.uint8_t, length C.uint32_t, status *C.int32_t) {
	io := model(instance)
	withBytes(io, data, length, status, describe(io, plugin.DescriptionCamera))
}

//export nanoemApplicationPluginModelIOSetLightDescription
func nanoemApplicationPluginModelIOSetLightDescription(instance *C.nanoem_application_plugin_model_io_t, data *C.uint8_t, length C.uint32_t, status *C.int32_t) {
	io := model(instance)
	withBytes(io, data, length, status, describe(io, plugin.DescriptionLight))
}

//export nanoemApplicationPluginModelIOSetAudioData
func nanoemApplicationPluginModelIOSetAudioData(instance *C.nanoem_application_plugin_model_io_t, data *C.uint8_t, length C.uint32_t, status *C.int32_t) {
	io := model(instance)
	withBytes(io, data, length, status, io.SetAudioData)
}

//export nanoemApplicationPluginModelIOExecute
func nanoemApplicationPluginModelIOExecute(instance *C.nanoem_application_plugin_model_io_t, status *C.int32_t) {
	setStatus(status, model(instance).Execute(context.Background()))
}

//export nanoemApplicationPluginModelIOGetOutputModelDataSize
func nanoemApplicationPluginModelIOGetOutputModelDataSize(instance *C.nanoem_application_plugin_model_io_t, length *C.uint32_t) {
	setLength(length, model(instance).OutputDataSize(context.Background()))
}

//export nanoemApplicationPluginModelIOGetOutputModelData
func nanoemApplicationPluginModelIOGetOutputModelData(instance *C.nanoem_application_plugin_model_io_t, data *C.uint8_t, length C.uint32_t, status *C.int32_t) {
	io := model(instance)
	withBytes(io, data, length, status, io.OutputData)
}

//export nanoemApplicationPluginModelIOLoadUIWindowLayout
func nanoemApplicationPluginModelIOLoadUIWindowLayout(instance *C.nanoem_application_plugin_model_io_t, status *C.int32_t) {
	setStatus(status, model(instance).LoadUIWindowLayout(context.Background()))
}

//export nanoemApplicationPluginModelIOGetUIWindowLayoutDataSize
func nanoemApplicationPluginModelIOGetUIWindowLayoutDataSize(instance *C.nanoem_application_plugin_model_io_t, length *C.uint32_t) {
	setLength(length, model(instance).UIWindowLayoutDataSize(context.Background()))
}

//export nanoemApplicationPluginModelIOGetUIWindowLayoutData
func nanoemApplicationPluginModelIOGetUIWindowLayoutData(instance *C.nanoem_application_plugin_model_io_t, data *C.uint8_t, length C.uint32_t, status *C.int32_t) {
	io := model(instance)
	withBytes(io, data, length, status, io.UIWindowLayoutData)
}

//export nanoemApplicationPluginModelIOSetUIComponentLayoutData
func nanoemApplicationPluginModelIOSetUIComponentLayoutData(instance *C.nanoem_application_plugin_model_io_t, id *C.char, data *C.uint8_t, length C.uint32_t, reload *C.int32_t, status *C.int32_t) {
	setUIComponentLayoutData(model(instance), id, data, length, reload, status)
}

//export nanoemApplicationPluginModelIOGetFailureReason
func nanoemApplicationPluginModelIOGetFailureReason(instance *C.nanoem_application_plugin_model_io_t) *C.char {
	return (*C.char)(model(instance).FailureReason(context.Background()))
}

//export nanoemApplicationPluginModelIOGetRecoverySuggestion
func nanoemApplicationPluginModelIOGetRecoverySuggestion(instance *C.nanoem_application_plugin_model_io_t) *C.char {
	return (*C.char)(model(instance).RecoverySuggestion(context.Background()))
}
