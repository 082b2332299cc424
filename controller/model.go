package controller

import (
	"context"

	"github.com/wippyai/nanoem-plugin-wasm/plugin"
)

// ModelController routes model IO operations.
type ModelController struct {
	*Controller[*plugin.ModelInstance]
}

// NewModel returns a controller over already loaded model plugins.
func NewModel(plugins []*plugin.ModelInstance, opts *Options) *ModelController {
	return &ModelController{New(plugins, opts)}
}

// NewModelFromPath loads every model plugin in dir.
func NewModelFromPath(ctx context.Context, dir string, opts *Options) (*ModelController, error) {
	c, err := fromPath[*plugin.ModelInstance](ctx, dir, opts, plugin.NewModel)
	if err != nil {
		return nil, err
	}
	return &ModelController{c}, nil
}

// SetInputModelData forwards the input model to the selected plugin.
func (c *ModelController) SetInputModelData(ctx context.Context, data []byte) error {
	return c.routeErr(ctx, plugin.OpSetInputModelData, func(ctx context.Context, p *plugin.ModelInstance) error {
		return p.SetInputModelData(ctx, data)
	})
}

// SetAllSelectedObjectIndices forwards the selected objects of one kind.
func (c *ModelController) SetAllSelectedObjectIndices(ctx context.Context, kind plugin.ObjectKind, indices []int32) error {
	op, err := kind.Op()
	if err != nil {
		return err
	}
	return c.routeErr(ctx, op, func(ctx context.Context, p *plugin.ModelInstance) error {
		return p.SetAllSelectedObjectIndices(ctx, kind, indices)
	})
}

// OutputModelData returns the model produced by the selected plugin.
func (c *ModelController) OutputModelData(ctx context.Context) ([]byte, error) {
	return route(ctx, c.Controller, "GetOutputModelData", func(ctx context.Context, p *plugin.ModelInstance) ([]byte, error) {
		return p.OutputModelData(ctx)
	})
}
