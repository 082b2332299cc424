package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"

	pluginwasm "github.com/wippyai/nanoem-plugin-wasm"
	"github.com/wippyai/nanoem-plugin-wasm/capi"
	"github.com/wippyai/nanoem-plugin-wasm/engine"
	"github.com/wippyai/nanoem-plugin-wasm/plugin"
	"github.com/wippyai/nanoem-plugin-wasm/uilayout"
)

// location is appended to the plugin directory the way the host passes the
// path of its own executable to CreateWithLocation.
const location = "nanoem"

type sessionOptions struct {
	kind      string
	configure func(name string, b *engine.WASIBuilder)
	output    io.Writer
}

// session drives one plugin directory through the host ABI.
type session struct {
	rt    *capi.Runtime
	alloc *capi.GoAllocator
	io    *capi.IO
	dir   string
	kind  string
}

type function struct {
	index int
	name  string
}

// request is one function invocation.
type request struct {
	language    pluginwasm.Language
	function    int
	input       []byte
	activeModel []byte
	selections  []string
	named       []string
}

// result carries the output of a successful run or the plugin's explanation
// of a failed one.
type result struct {
	status     pluginwasm.Status
	guest      bool
	output     []byte
	reason     string
	suggestion string
}

func (r *result) err() error {
	if r.status == pluginwasm.StatusSuccess {
		return nil
	}
	msg := fmt.Sprintf("execute failed with %s", r.status)
	if r.guest {
		msg = fmt.Sprintf("execute failed with plugin status %d", int32(r.status))
	}
	if r.reason != "" {
		msg += ": " + r.reason
	}
	if r.suggestion != "" {
		msg += " (" + r.suggestion + ")"
	}
	return errors.New(msg)
}

func openSession(ctx context.Context, dir string, opts sessionOptions) (*session, error) {
	alloc := capi.NewGoAllocator()
	rt := capi.NewRuntime(alloc)
	rt.Configure = func(name string, b *engine.WASIBuilder) {
		if opts.output != nil {
			b.WithStdout(opts.output).WithStderr(opts.output)
		}
		if opts.configure != nil {
			opts.configure(name, b)
		}
	}
	rt.Initialize()

	path := filepath.Join(dir, location)
	var h capi.Handle
	switch opts.kind {
	case "", "model":
		opts.kind = "model"
		h = rt.CreateModelWithLocation(ctx, path)
	case "motion":
		h = rt.CreateMotionWithLocation(ctx, path)
	default:
		return nil, fmt.Errorf("unknown plugin kind %q (want model or motion)", opts.kind)
	}
	if h == 0 {
		rt.Terminate(ctx)
		return nil, fmt.Errorf("load %s plugins from %s failed", opts.kind, dir)
	}
	return &session{rt: rt, alloc: alloc, io: rt.Get(h), dir: dir, kind: opts.kind}, nil
}

func (s *session) Close(ctx context.Context) {
	s.rt.Terminate(ctx)
}

func (s *session) functions(ctx context.Context) []function {
	n := s.io.CountAllFunctions(ctx)
	funcs := make([]function, 0, n)
	for i := int32(0); i < n; i++ {
		funcs = append(funcs, function{index: int(i), name: s.alloc.GoString(s.io.FunctionName(ctx, i))})
	}
	return funcs
}

func (s *session) failure(ctx context.Context, status pluginwasm.Status) *result {
	guest := s.io.GuestReported()
	return &result{
		status:     status,
		guest:      guest,
		reason:     s.alloc.GoString(s.io.FailureReason(ctx)),
		suggestion: s.alloc.GoString(s.io.RecoverySuggestion(ctx)),
	}
}

func (s *session) selectFunction(ctx context.Context, index int) *result {
	if st := s.io.SetFunction(ctx, int32(index)); st != pluginwasm.StatusSuccess {
		return s.failure(ctx, st)
	}
	return nil
}

// run applies req and executes the selected function.
func (s *session) run(ctx context.Context, req request) (*result, error) {
	s.io.SetLanguage(ctx, req.language)
	if r := s.selectFunction(ctx, req.function); r != nil {
		return r, nil
	}

	steps, err := s.setters(req)
	if err != nil {
		return nil, err
	}
	for _, step := range steps {
		if st := step(ctx); st != pluginwasm.StatusSuccess {
			return s.failure(ctx, st), nil
		}
	}

	if st := s.io.Execute(ctx); st != pluginwasm.StatusSuccess {
		return s.failure(ctx, st), nil
	}
	buf := make([]byte, s.io.OutputDataSize(ctx))
	if st := s.io.OutputData(ctx, buf); st != pluginwasm.StatusSuccess {
		return s.failure(ctx, st), nil
	}
	return &result{output: buf}, nil
}

func (s *session) setters(req request) ([]func(context.Context) pluginwasm.Status, error) {
	var steps []func(context.Context) pluginwasm.Status
	for _, sel := range req.selections {
		name, values, err := splitSelection(sel)
		if err != nil {
			return nil, err
		}
		step, err := s.selection(name, values)
		if err != nil {
			return nil, err
		}
		steps = append(steps, step)
	}
	for _, sel := range req.named {
		step, err := s.namedSelection(sel)
		if err != nil {
			return nil, err
		}
		steps = append(steps, step)
	}

	if s.kind == "motion" {
		if req.activeModel != nil {
			steps = append(steps, func(ctx context.Context) pluginwasm.Status {
				return s.io.SetInputActiveModelData(ctx, req.activeModel)
			})
		}
		if req.input != nil {
			steps = append(steps, func(ctx context.Context) pluginwasm.Status {
				return s.io.SetInputMotionData(ctx, req.input)
			})
		}
		return steps, nil
	}
	if req.activeModel != nil {
		return nil, fmt.Errorf("--active-model needs motion plugins")
	}
	if req.input != nil {
		steps = append(steps, func(ctx context.Context) pluginwasm.Status {
			return s.io.SetInputModelData(ctx, req.input)
		})
	}
	return steps, nil
}

// selection parses KIND=1,2,3 against the object kinds of model plugins or
// the keyframe kinds of motion plugins.
func (s *session) selection(name, values string) (func(context.Context) pluginwasm.Status, error) {
	if s.kind == "motion" {
		for _, k := range plugin.KeyframeKinds {
			if strings.EqualFold(k.String(), name) {
				frames, err := parseUint32s(values)
				if err != nil {
					return nil, err
				}
				return func(ctx context.Context) pluginwasm.Status {
					return s.io.SetAllSelectedKeyframes(ctx, k, frames)
				}, nil
			}
		}
		return nil, fmt.Errorf("unknown keyframe kind %q", name)
	}
	for _, k := range plugin.ObjectKinds {
		if strings.EqualFold(k.String(), name) {
			indices, err := parseInt32s(values)
			if err != nil {
				return nil, err
			}
			return func(ctx context.Context) pluginwasm.Status {
				return s.io.SetAllSelectedObjectIndices(ctx, k, indices)
			}, nil
		}
	}
	return nil, fmt.Errorf("unknown object kind %q", name)
}

// namedSelection parses KIND:NAME=1,2,3 for bone and morph keyframes.
func (s *session) namedSelection(sel string) (func(context.Context) pluginwasm.Status, error) {
	if s.kind != "motion" {
		return nil, fmt.Errorf("--named needs motion plugins")
	}
	target, values, err := splitSelection(sel)
	if err != nil {
		return nil, err
	}
	kindName, name, ok := strings.Cut(target, ":")
	if !ok || name == "" {
		return nil, fmt.Errorf("named selection %q: want KIND:NAME=frames", sel)
	}
	var kind plugin.NamedKeyframeKind
	switch strings.ToLower(kindName) {
	case "bone":
		kind = plugin.NamedKeyframeBone
	case "morph":
		kind = plugin.NamedKeyframeMorph
	default:
		return nil, fmt.Errorf("unknown named keyframe kind %q", kindName)
	}
	frames, err := parseUint32s(values)
	if err != nil {
		return nil, err
	}
	return func(ctx context.Context) pluginwasm.Status {
		return s.io.SetAllNamedSelectedKeyframes(ctx, kind, name, frames)
	}, nil
}

// layout loads and decodes the UI window of a function.
func (s *session) layout(ctx context.Context, index int) (*uilayout.Window, *result, error) {
	if r := s.selectFunction(ctx, index); r != nil {
		return nil, r, nil
	}
	if st := s.io.LoadUIWindowLayout(ctx); st != pluginwasm.StatusSuccess {
		return nil, s.failure(ctx, st), nil
	}
	buf := make([]byte, s.io.UIWindowLayoutDataSize(ctx))
	if st := s.io.UIWindowLayoutData(ctx, buf); st != pluginwasm.StatusSuccess {
		return nil, s.failure(ctx, st), nil
	}
	w, err := uilayout.Decode(buf)
	if err != nil {
		return nil, nil, err
	}
	return w, nil, nil
}

func splitSelection(sel string) (string, string, error) {
	name, values, ok := strings.Cut(sel, "=")
	if !ok || name == "" {
		return "", "", fmt.Errorf("selection %q: want KIND=values", sel)
	}
	return name, values, nil
}

func parseInt32s(s string) ([]int32, error) {
	var out []int32
	for _, f := range fields(s) {
		v, err := strconv.ParseInt(f, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("parse index %q: %w", f, err)
		}
		out = append(out, int32(v))
	}
	return out, nil
}

func parseUint32s(s string) ([]uint32, error) {
	var out []uint32
	for _, f := range fields(s) {
		v, err := strconv.ParseUint(f, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("parse frame %q: %w", f, err)
		}
		out = append(out, uint32(v))
	}
	return out, nil
}

func fields(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ' ' })
}

func parseLanguage(s string) (pluginwasm.Language, error) {
	switch strings.ToLower(s) {
	case "en", "english":
		return pluginwasm.LanguageEnglish, nil
	case "ja", "japanese":
		return pluginwasm.LanguageJapanese, nil
	}
	return 0, fmt.Errorf("unknown language %q (want en or ja)", s)
}
