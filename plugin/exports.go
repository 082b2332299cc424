package plugin

import (
	"strings"

	"github.com/wippyai/nanoem-plugin-wasm/errors"
	"github.com/wippyai/nanoem-plugin-wasm/guest"
)

// Export name prefixes of the two plugin families.
const (
	ModelPrefix  = "nanoemApplicationPluginModelIO"
	MotionPrefix = "nanoemApplicationPluginMotionIO"
)

// Operation names, appended to a family prefix to form the export name.
const (
	OpInitialize            = "Initialize"
	OpTerminate             = "Terminate"
	OpCreate                = "Create"
	OpDestroy               = "Destroy"
	OpGetABIVersion         = "GetABIVersion"
	OpGetName               = "GetName"
	OpGetDescription        = "GetDescription"
	OpGetVersion            = "GetVersion"
	OpCountAllFunctions     = "CountAllFunctions"
	OpGetFunctionName       = "GetFunctionName"
	OpSetFunction           = "SetFunction"
	OpSetLanguage           = "SetLanguage"
	OpExecute               = "Execute"
	OpGetFailureReason      = "GetFailureReason"
	OpGetRecoverySuggestion = "GetRecoverySuggestion"
	OpSetAudioData          = "SetAudioData"

	OpSetInputModelData       = "SetInputModelData"
	OpSetInputMotionData      = "SetInputMotionData"
	OpSetInputActiveModelData = "SetInputActiveModelData"

	OpLoadUIWindowLayout        = "LoadUIWindowLayout"
	OpGetUIWindowLayoutDataSize = "GetUIWindowLayoutDataSize"
	OpGetUIWindowLayoutData     = "GetUIWindowLayoutData"
	OpSetUIComponentLayoutData  = "SetUIComponentLayoutData"
)

// MemoryExport is the linear memory every plugin must export.
const MemoryExport = "memory"

// family describes what differs between model and motion plugins at the
// export level.
type family struct {
	prefix string
	// data is the payload word in GetOutput<data>Data.
	data string
}

var (
	modelFamily  = family{prefix: ModelPrefix, data: "Model"}
	motionFamily = family{prefix: MotionPrefix, data: "Motion"}
)

func (f family) export(op string) string {
	return f.prefix + op
}

func (f family) outputSizeOp() string {
	return "GetOutput" + f.data + "DataSize"
}

func (f family) outputDataOp() string {
	return "GetOutput" + f.data + "Data"
}

// mandatory lists the operations that must be exported for New to succeed.
func (f family) mandatory() []string {
	return []string{
		OpInitialize,
		OpTerminate,
		OpCreate,
		OpDestroy,
		OpCountAllFunctions,
		OpGetFunctionName,
		OpExecute,
		f.outputSizeOp(),
		f.outputDataOp(),
	}
}

// arity returns the number of i32 parameters and results of op. Every
// operation of both families uses i32 values only.
func (f family) arity(op string) (params, results int) {
	switch op {
	case OpInitialize, OpTerminate:
		return 0, 0
	case OpCreate, OpGetABIVersion:
		return 0, 1
	case OpDestroy:
		return 1, 0
	case OpGetName, OpGetDescription, OpGetVersion, OpCountAllFunctions,
		OpGetFailureReason, OpGetRecoverySuggestion:
		return 1, 1
	case OpGetFunctionName:
		return 2, 1
	case OpSetLanguage, OpExecute, OpLoadUIWindowLayout, OpGetUIWindowLayoutDataSize, f.outputSizeOp():
		return 2, 0
	case OpSetFunction:
		return 3, 0
	case OpSetUIComponentLayoutData:
		return 6, 0
	}
	if strings.HasPrefix(op, "SetAllNamedSelected") {
		return 5, 0
	}
	// Byte and index setters, GetOutput*Data and GetUIWindowLayoutData.
	return 4, 0
}

// MandatoryExports returns every export name a plugin of the given prefix
// must provide, including the allocator exports.
func MandatoryExports(prefix string) []string {
	f := modelFamily
	if prefix == MotionPrefix {
		f = motionFamily
	}
	var out []string
	for _, op := range f.mandatory() {
		out = append(out, f.export(op))
	}
	return append(out, guest.ExportAllocate, guest.ExportRelease, MemoryExport)
}

// ObjectKind selects a model object category for index selection.
type ObjectKind int

const (
	ObjectVertex ObjectKind = iota
	ObjectMaterial
	ObjectBone
	ObjectMorph
	ObjectLabel
	ObjectRigidBody
	ObjectJoint
	ObjectSoftBody
)

var objectKindNames = [...]string{
	ObjectVertex:    "Vertex",
	ObjectMaterial:  "Material",
	ObjectBone:      "Bone",
	ObjectMorph:     "Morph",
	ObjectLabel:     "Label",
	ObjectRigidBody: "RigidBody",
	ObjectJoint:     "Joint",
	ObjectSoftBody:  "SoftBody",
}

// ObjectKinds lists every object kind.
var ObjectKinds = []ObjectKind{
	ObjectVertex, ObjectMaterial, ObjectBone, ObjectMorph,
	ObjectLabel, ObjectRigidBody, ObjectJoint, ObjectSoftBody,
}

func (k ObjectKind) String() string {
	if k >= 0 && int(k) < len(objectKindNames) {
		return objectKindNames[k]
	}
	return "Unknown"
}

// Op returns the setter operation for k.
func (k ObjectKind) Op() (string, error) {
	if k < 0 || int(k) >= len(objectKindNames) {
		return "", errors.UnknownOption("object kind", int(k))
	}
	return "SetAllSelected" + objectKindNames[k] + "ObjectIndices", nil
}

// KeyframeKind selects a motion track for keyframe selection.
type KeyframeKind int

const (
	KeyframeAccessory KeyframeKind = iota
	KeyframeCamera
	KeyframeLight
	KeyframeModel
	KeyframeSelfShadow
)

var keyframeKindNames = [...]string{
	KeyframeAccessory:  "Accessory",
	KeyframeCamera:     "Camera",
	KeyframeLight:      "Light",
	KeyframeModel:      "Model",
	KeyframeSelfShadow: "SelfShadow",
}

// KeyframeKinds lists every keyframe kind.
var KeyframeKinds = []KeyframeKind{
	KeyframeAccessory, KeyframeCamera, KeyframeLight, KeyframeModel, KeyframeSelfShadow,
}

func (k KeyframeKind) String() string {
	if k >= 0 && int(k) < len(keyframeKindNames) {
		return keyframeKindNames[k]
	}
	return "Unknown"
}

// Op returns the setter operation for k.
func (k KeyframeKind) Op() (string, error) {
	if k < 0 || int(k) >= len(keyframeKindNames) {
		return "", errors.UnknownOption("keyframe kind", int(k))
	}
	return "SetAllSelected" + keyframeKindNames[k] + "Keyframes", nil
}

// NamedKeyframeKind selects a per-track keyframe family addressed by name.
type NamedKeyframeKind int

const (
	NamedKeyframeBone NamedKeyframeKind = iota
	NamedKeyframeMorph
)

func (k NamedKeyframeKind) String() string {
	switch k {
	case NamedKeyframeBone:
		return "Bone"
	case NamedKeyframeMorph:
		return "Morph"
	}
	return "Unknown"
}

// Op returns the setter operation for k.
func (k NamedKeyframeKind) Op() (string, error) {
	switch k {
	case NamedKeyframeBone, NamedKeyframeMorph:
		return "SetAllNamedSelected" + k.String() + "Keyframes", nil
	}
	return "", errors.UnknownOption("named keyframe kind", int(k))
}

// DescriptionKind selects a scene description payload.
type DescriptionKind int

const (
	DescriptionAudio DescriptionKind = iota
	DescriptionCamera
	DescriptionLight
)

func (k DescriptionKind) String() string {
	switch k {
	case DescriptionAudio:
		return "Audio"
	case DescriptionCamera:
		return "Camera"
	case DescriptionLight:
		return "Light"
	}
	return "Unknown"
}

// Op returns the setter operation for k.
func (k DescriptionKind) Op() (string, error) {
	switch k {
	case DescriptionAudio, DescriptionCamera, DescriptionLight:
		return "Set" + k.String() + "Description", nil
	}
	return "", errors.UnknownOption("description kind", int(k))
}
