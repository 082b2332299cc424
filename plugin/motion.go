package plugin

import (
	"context"

	"github.com/wippyai/nanoem-plugin-wasm/engine"
)

// MotionInstance is a motion IO plugin.
type MotionInstance struct {
	Instance
}

// NewMotion instantiates a motion plugin from module bytes.
func NewMotion(ctx context.Context, eng *engine.Engine, name string, src []byte, configure func(*engine.WASIBuilder)) (*MotionInstance, error) {
	inst, err := newInstance(ctx, eng, motionFamily, name, src, configure)
	if err != nil {
		return nil, err
	}
	return &MotionInstance{Instance: *inst}, nil
}

// SetInputMotionData sends the motion the selected function operates on.
func (m *MotionInstance) SetInputMotionData(ctx context.Context, data []byte) error {
	return m.setBytes(ctx, OpSetInputMotionData, data)
}

// SetInputActiveModelData sends the model the motion is applied to.
func (m *MotionInstance) SetInputActiveModelData(ctx context.Context, data []byte) error {
	return m.setBytes(ctx, OpSetInputActiveModelData, data)
}

// SetAllSelectedKeyframes sends the selected frame indices of one track.
func (m *MotionInstance) SetAllSelectedKeyframes(ctx context.Context, kind KeyframeKind, frames []uint32) error {
	op, err := kind.Op()
	if err != nil {
		return err
	}
	return m.setUint32s(ctx, op, frames)
}

// SetAllNamedSelectedKeyframes sends the selected frame indices of the bone
// or morph track called name.
func (m *MotionInstance) SetAllNamedSelectedKeyframes(ctx context.Context, kind NamedKeyframeKind, name string, frames []uint32) error {
	op, err := kind.Op()
	if err != nil {
		return err
	}
	return m.setNamedUint32s(ctx, op, name, frames)
}

// OutputMotionData returns the motion produced by Execute.
func (m *MotionInstance) OutputMotionData(ctx context.Context) ([]byte, error) {
	return m.OutputData(ctx)
}
