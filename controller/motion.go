package controller

import (
	"context"

	"github.com/wippyai/nanoem-plugin-wasm/plugin"
)

// MotionController routes motion IO operations.
type MotionController struct {
	*Controller[*plugin.MotionInstance]
}

// NewMotion returns a controller over already loaded motion plugins.
func NewMotion(plugins []*plugin.MotionInstance, opts *Options) *MotionController {
	return &MotionController{New(plugins, opts)}
}

// NewMotionFromPath loads every motion plugin in dir.
func NewMotionFromPath(ctx context.Context, dir string, opts *Options) (*MotionController, error) {
	c, err := fromPath[*plugin.MotionInstance](ctx, dir, opts, plugin.NewMotion)
	if err != nil {
		return nil, err
	}
	return &MotionController{c}, nil
}

// SetInputMotionData forwards the input motion to the selected plugin.
func (c *MotionController) SetInputMotionData(ctx context.Context, data []byte) error {
	return c.routeErr(ctx, plugin.OpSetInputMotionData, func(ctx context.Context, p *plugin.MotionInstance) error {
		return p.SetInputMotionData(ctx, data)
	})
}

// SetInputActiveModelData forwards the model the motion belongs to.
func (c *MotionController) SetInputActiveModelData(ctx context.Context, data []byte) error {
	return c.routeErr(ctx, plugin.OpSetInputActiveModelData, func(ctx context.Context, p *plugin.MotionInstance) error {
		return p.SetInputActiveModelData(ctx, data)
	})
}

// SetAllSelectedKeyframes forwards the selected keyframes of one track.
func (c *MotionController) SetAllSelectedKeyframes(ctx context.Context, kind plugin.KeyframeKind, frames []uint32) error {
	op, err := kind.Op()
	if err != nil {
		return err
	}
	return c.routeErr(ctx, op, func(ctx context.Context, p *plugin.MotionInstance) error {
		return p.SetAllSelectedKeyframes(ctx, kind, frames)
	})
}

// SetAllNamedSelectedKeyframes forwards the selected keyframes of a named
// bone or morph track.
func (c *MotionController) SetAllNamedSelectedKeyframes(ctx context.Context, kind plugin.NamedKeyframeKind, name string, frames []uint32) error {
	op, err := kind.Op()
	if err != nil {
		return err
	}
	return c.routeErr(ctx, op, func(ctx context.Context, p *plugin.MotionInstance) error {
		return p.SetAllNamedSelectedKeyframes(ctx, kind, name, frames)
	})
}

// OutputMotionData returns the motion produced by the selected plugin.
func (c *MotionController) OutputMotionData(ctx context.Context) ([]byte, error) {
	return route(ctx, c.Controller, "GetOutputMotionData", func(ctx context.Context, p *plugin.MotionInstance) ([]byte, error) {
		return p.OutputMotionData(ctx)
	})
}
