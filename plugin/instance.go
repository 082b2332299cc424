package plugin

import (
	"context"
	"fmt"

	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	pluginwasm "github.com/wippyai/nanoem-plugin-wasm"
	"github.com/wippyai/nanoem-plugin-wasm/engine"
	"github.com/wippyai/nanoem-plugin-wasm/errors"
	"github.com/wippyai/nanoem-plugin-wasm/guest"
)

// Stats counts lifecycle calls that reached the guest and the host-side
// allocator traffic.
type Stats struct {
	Initialize int
	Create     int
	Destroy    int
	Terminate  int
	Memory     guest.Stats
}

// Instance is one loaded plugin module, its store and its guest object.
// ModelInstance and MotionInstance add the family specific setters.
//
// Instance is not safe for concurrent use.
type Instance struct {
	module  *engine.Module
	memory  *guest.Memory
	exports map[string]export
	family  family
	name    string
	state   State
	opaque  uint32
	stats   Stats
}

func newInstance(ctx context.Context, eng *engine.Engine, fam family, name string, src []byte, configure func(*engine.WASIBuilder)) (*Instance, error) {
	mod, err := eng.Instantiate(ctx, name, src, configure)
	if err != nil {
		return nil, err
	}

	inst := &Instance{
		module:  mod,
		memory:  guest.New(mod, Logger()),
		exports: make(map[string]export),
		family:  fam,
		name:    name,
	}
	if err := inst.checkMandatory(); err != nil {
		mod.Close(ctx)
		return nil, err
	}

	Logger().Debug("plugin loaded", zap.String("plugin", name), zap.String("family", fam.data))
	return inst, nil
}

func (i *Instance) checkMandatory() error {
	for _, op := range i.family.mandatory() {
		e := i.lookup(op)
		if e.fn == nil {
			return errors.MissingExport(i.name, i.family.export(op))
		}
		if e.err != nil {
			return e.err
		}
	}
	if err := i.memory.CheckAllocator(); err != nil {
		return err
	}
	if i.module.Memory() == nil {
		return errors.MissingExport(i.name, MemoryExport)
	}
	return nil
}

// Core returns the shared instance. Controllers use it to reach lifecycle
// operations of either family.
func (i *Instance) Core() *Instance {
	return i
}

// ID returns the name the plugin was loaded under, usually its file name.
func (i *Instance) ID() string {
	return i.name
}

// State returns the current lifecycle state.
func (i *Instance) State() State {
	return i.state
}

// Module returns the underlying module.
func (i *Instance) Module() *engine.Module {
	return i.module
}

// Stats returns lifecycle and allocator counters.
func (i *Instance) Stats() Stats {
	s := i.stats
	s.Memory = i.memory.Stats()
	return s
}

// export is a resolved operation export. err is set when the export exists
// with the wrong signature.
type export struct {
	fn  api.Function
	err error
}

// lookup resolves an operation export lazily and checks its signature the
// first time. Absent exports are cached with a nil fn.
func (i *Instance) lookup(op string) export {
	if e, ok := i.exports[op]; ok {
		return e
	}
	var e export
	name := i.family.export(op)
	if e.fn = i.module.Function(name); e.fn != nil {
		params, results := i.family.arity(op)
		e.err = guest.CheckSignature(i.name, name, e.fn.Definition(), params, results)
		if e.err != nil {
			Logger().Warn("export signature mismatch", zap.String("plugin", i.name), zap.Error(e.err))
		}
	}
	i.exports[op] = e
	return e
}

func (i *Instance) function(op string) api.Function {
	return i.lookup(op).fn
}

// Has reports whether the plugin exports op.
func (i *Instance) Has(op string) bool {
	return i.function(op) != nil
}

func (i *Instance) call(ctx context.Context, op string, params ...uint64) ([]uint64, error) {
	e := i.lookup(op)
	if e.fn == nil {
		return nil, errors.MissingExport(i.name, i.family.export(op))
	}
	if e.err != nil {
		return nil, e.err
	}
	results, err := e.fn.Call(ctx, params...)
	if err != nil {
		Logger().Warn("guest call failed",
			zap.String("plugin", i.name),
			zap.String("export", i.family.export(op)),
			zap.Error(err),
		)
		return nil, errors.Trap(i.name, i.family.export(op), err)
	}
	if _, want := i.family.arity(op); len(results) < want {
		return nil, errors.Signature(i.name, i.family.export(op),
			fmt.Sprintf("%d results", len(results)), fmt.Sprintf("%d results", want))
	}
	return results, nil
}

// callStatus calls op with the instance opaque, params and a trailing status
// pointer.
func (i *Instance) callStatus(ctx context.Context, op string, params ...uint64) error {
	return i.memory.WithStatus(ctx, i.family.export(op), func(status uint32) error {
		args := make([]uint64, 0, len(params)+2)
		args = append(args, uint64(i.opaque))
		args = append(args, params...)
		args = append(args, uint64(status))
		_, err := i.call(ctx, op, args...)
		return err
	})
}

func (i *Instance) require(op string, want State) error {
	if i.state != want {
		return errors.InvalidState(i.name, op, i.state)
	}
	return nil
}

// skip reports whether an optional op is missing and logs it.
func (i *Instance) skip(op string) bool {
	if i.function(op) != nil {
		return false
	}
	Logger().Debug("optional export missing, skipping",
		zap.String("plugin", i.name),
		zap.String("export", i.family.export(op)),
	)
	return true
}

// Initialize calls the guest's Initialize. Valid only once, from New.
func (i *Instance) Initialize(ctx context.Context) error {
	if err := i.require(OpInitialize, StateNew); err != nil {
		return err
	}
	if _, err := i.call(ctx, OpInitialize); err != nil {
		return err
	}
	i.stats.Initialize++
	i.state = StateReady
	return nil
}

// Create asks the guest to allocate its plugin object.
func (i *Instance) Create(ctx context.Context) error {
	if err := i.require(OpCreate, StateReady); err != nil {
		return err
	}
	results, err := i.call(ctx, OpCreate)
	if err != nil {
		return err
	}
	opaque := uint32(results[0])
	if opaque == 0 {
		return errors.New(errors.PhaseGuest, errors.KindNullObject).
			Plugin(i.name).
			Export(i.family.export(OpCreate)).
			Detail("plugin returned a null object").
			Build()
	}
	i.stats.Create++
	i.opaque = opaque
	i.state = StateActive
	return nil
}

// Destroy releases the guest object. Outside Active it does nothing.
func (i *Instance) Destroy(ctx context.Context) {
	if i.state != StateActive {
		return
	}
	if _, err := i.call(ctx, OpDestroy, uint64(i.opaque)); err != nil {
		Logger().Warn("destroy failed", zap.String("plugin", i.name), zap.Error(err))
	}
	i.stats.Destroy++
	i.opaque = 0
	i.state = StateDestroyed
}

// Terminate calls the guest's Terminate when it was initialized, then closes
// the module and its store. An active instance is destroyed first. Calling
// it again does nothing.
func (i *Instance) Terminate(ctx context.Context) {
	switch i.state {
	case StateDead:
		return
	case StateActive:
		i.Destroy(ctx)
	}
	if i.state == StateReady || i.state == StateDestroyed {
		if _, err := i.call(ctx, OpTerminate); err != nil {
			Logger().Warn("terminate failed", zap.String("plugin", i.name), zap.Error(err))
		}
		i.stats.Terminate++
	}
	i.state = StateDead
	if err := i.module.Close(ctx); err != nil {
		Logger().Warn("close module failed", zap.String("plugin", i.name), zap.Error(err))
	}
}

// ABIVersion returns the plugin's ABI version.
func (i *Instance) ABIVersion(ctx context.Context) (uint32, error) {
	if i.state == StateDead {
		return 0, errors.InvalidState(i.name, OpGetABIVersion, i.state)
	}
	if i.function(OpGetABIVersion) == nil {
		return 0, errors.Unsupported(i.name, i.family.export(OpGetABIVersion))
	}
	results, err := i.call(ctx, OpGetABIVersion)
	if err != nil {
		return 0, err
	}
	return uint32(results[0]), nil
}

// Name returns the plugin's self-reported name, or "" if not exported.
func (i *Instance) Name(ctx context.Context) (string, error) {
	return i.objectString(ctx, OpGetName)
}

// Description returns the plugin's description, or "" if not exported.
func (i *Instance) Description(ctx context.Context) (string, error) {
	return i.objectString(ctx, OpGetDescription)
}

// Version returns the plugin's version string, or "" if not exported.
func (i *Instance) Version(ctx context.Context) (string, error) {
	return i.objectString(ctx, OpGetVersion)
}

// FailureReason returns the guest's explanation of its last failure.
// Empty when the guest has none or does not export it.
func (i *Instance) FailureReason(ctx context.Context) (string, error) {
	return i.objectString(ctx, OpGetFailureReason)
}

// RecoverySuggestion returns the guest's suggestion for its last failure.
func (i *Instance) RecoverySuggestion(ctx context.Context) (string, error) {
	return i.objectString(ctx, OpGetRecoverySuggestion)
}

// objectString calls an optional (opaque) -> cstr export.
func (i *Instance) objectString(ctx context.Context, op string) (string, error) {
	if err := i.require(op, StateActive); err != nil {
		return "", err
	}
	if i.skip(op) {
		return "", nil
	}
	results, err := i.call(ctx, op, uint64(i.opaque))
	if err != nil {
		return "", err
	}
	return i.memory.ReadCString(uint32(results[0]))
}

// CountAllFunctions returns the number of functions the plugin offers.
func (i *Instance) CountAllFunctions(ctx context.Context) (int, error) {
	if err := i.require(OpCountAllFunctions, StateActive); err != nil {
		return 0, err
	}
	results, err := i.call(ctx, OpCountAllFunctions, uint64(i.opaque))
	if err != nil {
		return 0, err
	}
	n := api.DecodeI32(results[0])
	if n < 0 {
		return 0, nil
	}
	return int(n), nil
}

func (i *Instance) checkIndex(ctx context.Context, index int) error {
	count, err := i.CountAllFunctions(ctx)
	if err != nil {
		return err
	}
	if index < 0 || index >= count {
		return errors.OutOfBounds(errors.PhaseGuest, "function", index, count)
	}
	return nil
}

// FunctionName returns the name of the function at index.
func (i *Instance) FunctionName(ctx context.Context, index int) (string, error) {
	if err := i.checkIndex(ctx, index); err != nil {
		return "", err
	}
	results, err := i.call(ctx, OpGetFunctionName, uint64(i.opaque), api.EncodeI32(int32(index)))
	if err != nil {
		return "", err
	}
	return i.memory.ReadCString(uint32(results[0]))
}

// SetFunction selects the function Execute will run.
func (i *Instance) SetFunction(ctx context.Context, index int) error {
	if err := i.checkIndex(ctx, index); err != nil {
		return err
	}
	if i.skip(OpSetFunction) {
		return nil
	}
	return i.callStatus(ctx, OpSetFunction, api.EncodeI32(int32(index)))
}

// SetLanguage forwards the host UI language.
func (i *Instance) SetLanguage(ctx context.Context, lang pluginwasm.Language) error {
	if err := i.require(OpSetLanguage, StateActive); err != nil {
		return err
	}
	if i.skip(OpSetLanguage) {
		return nil
	}
	_, err := i.call(ctx, OpSetLanguage, uint64(i.opaque), api.EncodeU32(uint32(lang)))
	return err
}

// Execute runs the selected function.
func (i *Instance) Execute(ctx context.Context) error {
	if err := i.require(OpExecute, StateActive); err != nil {
		return err
	}
	return i.callStatus(ctx, OpExecute)
}

// OutputDataSize returns the size of the output produced by Execute.
func (i *Instance) OutputDataSize(ctx context.Context) (uint32, error) {
	if err := i.require(i.family.outputSizeOp(), StateActive); err != nil {
		return 0, err
	}
	return i.dataSize(ctx, i.family.outputSizeOp())
}

// OutputData returns the output produced by Execute.
func (i *Instance) OutputData(ctx context.Context) ([]byte, error) {
	if err := i.require(i.family.outputDataOp(), StateActive); err != nil {
		return nil, err
	}
	return i.extract(ctx, i.family.outputSizeOp(), i.family.outputDataOp())
}

func (i *Instance) dataSize(ctx context.Context, op string) (uint32, error) {
	return i.memory.WithOut32(ctx, func(ptr uint32) error {
		_, err := i.call(ctx, op, uint64(i.opaque), uint64(ptr))
		return err
	})
}

// extract runs the two-call protocol: query the size, then fill a buffer of
// that size.
func (i *Instance) extract(ctx context.Context, sizeOp, dataOp string) ([]byte, error) {
	size, err := i.dataSize(ctx, sizeOp)
	if err != nil {
		return nil, err
	}
	if size == 0 {
		return []byte{}, nil
	}
	ptr, err := i.memory.Alloc(ctx, size)
	if err != nil {
		return nil, err
	}
	defer i.memory.Free(ctx, ptr)

	if err := i.callStatus(ctx, dataOp, uint64(ptr), uint64(size)); err != nil {
		return nil, err
	}
	return i.memory.ReadBytes(ptr, size)
}

// setBytes is the common path of every byte payload setter.
func (i *Instance) setBytes(ctx context.Context, op string, data []byte) error {
	if err := i.require(op, StateActive); err != nil {
		return err
	}
	if i.skip(op) {
		return nil
	}
	return i.memory.WithBytes(ctx, data, func(ptr, length uint32) error {
		return i.callStatus(ctx, op, uint64(ptr), uint64(length))
	})
}

func (i *Instance) setInt32s(ctx context.Context, op string, values []int32) error {
	if err := i.require(op, StateActive); err != nil {
		return err
	}
	if i.skip(op) {
		return nil
	}
	return i.memory.WithInt32s(ctx, values, func(ptr, count uint32) error {
		return i.callStatus(ctx, op, uint64(ptr), uint64(count))
	})
}

func (i *Instance) setUint32s(ctx context.Context, op string, values []uint32) error {
	if err := i.require(op, StateActive); err != nil {
		return err
	}
	if i.skip(op) {
		return nil
	}
	return i.memory.WithUint32s(ctx, values, func(ptr, count uint32) error {
		return i.callStatus(ctx, op, uint64(ptr), uint64(count))
	})
}

func (i *Instance) setNamedUint32s(ctx context.Context, op, name string, values []uint32) error {
	if err := i.require(op, StateActive); err != nil {
		return err
	}
	if i.skip(op) {
		return nil
	}
	return i.memory.WithCString(ctx, name, func(namePtr uint32) error {
		return i.memory.WithUint32s(ctx, values, func(ptr, count uint32) error {
			return i.callStatus(ctx, op, uint64(namePtr), uint64(ptr), uint64(count))
		})
	})
}

// SetDescription sends an audio, camera or light description.
func (i *Instance) SetDescription(ctx context.Context, kind DescriptionKind, data []byte) error {
	op, err := kind.Op()
	if err != nil {
		return err
	}
	return i.setBytes(ctx, op, data)
}

// SetAudioData sends raw audio samples.
func (i *Instance) SetAudioData(ctx context.Context, data []byte) error {
	return i.setBytes(ctx, OpSetAudioData, data)
}

// LoadUIWindowLayout asks the plugin to build its UI window layout.
func (i *Instance) LoadUIWindowLayout(ctx context.Context) error {
	if err := i.require(OpLoadUIWindowLayout, StateActive); err != nil {
		return err
	}
	if i.function(OpLoadUIWindowLayout) == nil {
		return errors.Unsupported(i.name, i.family.export(OpLoadUIWindowLayout))
	}
	return i.callStatus(ctx, OpLoadUIWindowLayout)
}

// UIWindowLayout returns the serialized UI window layout.
func (i *Instance) UIWindowLayout(ctx context.Context) ([]byte, error) {
	if err := i.require(OpGetUIWindowLayoutData, StateActive); err != nil {
		return nil, err
	}
	for _, op := range []string{OpGetUIWindowLayoutDataSize, OpGetUIWindowLayoutData} {
		if i.function(op) == nil {
			return nil, errors.Unsupported(i.name, i.family.export(op))
		}
	}
	return i.extract(ctx, OpGetUIWindowLayoutDataSize, OpGetUIWindowLayoutData)
}

// SetUIComponentLayout sends a component change to the plugin and reports
// whether the plugin wants its window layout reloaded.
func (i *Instance) SetUIComponentLayout(ctx context.Context, id string, data []byte) (reload bool, err error) {
	op := OpSetUIComponentLayoutData
	if err := i.require(op, StateActive); err != nil {
		return false, err
	}
	if i.function(op) == nil {
		return false, errors.Unsupported(i.name, i.family.export(op))
	}
	err = i.memory.WithCString(ctx, id, func(idPtr uint32) error {
		return i.memory.WithBytes(ctx, data, func(ptr, length uint32) error {
			v, err := i.memory.WithOut32(ctx, func(reloadPtr uint32) error {
				return i.callStatus(ctx, op, uint64(idPtr), uint64(ptr), uint64(length), uint64(reloadPtr))
			})
			reload = v != 0
			return err
		})
	})
	return reload, err
}
