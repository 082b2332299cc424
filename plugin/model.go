package plugin

import (
	"context"

	"github.com/wippyai/nanoem-plugin-wasm/engine"
)

// ModelInstance is a model IO plugin.
type ModelInstance struct {
	Instance
}

// NewModel instantiates a model plugin from module bytes. configure may
// adjust the plugin's WASI environment. Mandatory exports are checked here;
// optional ones are resolved on first use.
func NewModel(ctx context.Context, eng *engine.Engine, name string, src []byte, configure func(*engine.WASIBuilder)) (*ModelInstance, error) {
	inst, err := newInstance(ctx, eng, modelFamily, name, src, configure)
	if err != nil {
		return nil, err
	}
	return &ModelInstance{Instance: *inst}, nil
}

// SetInputModelData sends the model the selected function operates on.
func (m *ModelInstance) SetInputModelData(ctx context.Context, data []byte) error {
	return m.setBytes(ctx, OpSetInputModelData, data)
}

// SetAllSelectedObjectIndices sends the indices of the selected objects of
// one kind.
func (m *ModelInstance) SetAllSelectedObjectIndices(ctx context.Context, kind ObjectKind, indices []int32) error {
	op, err := kind.Op()
	if err != nil {
		return err
	}
	return m.setInt32s(ctx, op, indices)
}

// OutputModelData returns the model produced by Execute.
func (m *ModelInstance) OutputModelData(ctx context.Context) ([]byte, error) {
	return m.OutputData(ctx)
}
