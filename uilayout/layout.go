// Package uilayout decodes and encodes plugin UI window layouts.
//
// At the plugin ABI a layout is an opaque byte sequence. Its contents follow
// the protobuf wire format of the plugin UI schema:
//
//	Window    { title: 1 string, components: 2 repeated Component }
//	Component { id: 1 string, label: 2 string, kind: 3 enum, value: 4 bytes }
//
// Unknown fields are skipped so newer plugins stay readable.
package uilayout

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/wippyai/nanoem-plugin-wasm/errors"
)

// Field numbers of the Window message.
const (
	windowTitle      protowire.Number = 1
	windowComponents protowire.Number = 2
)

// Field numbers of the Component message.
const (
	componentID    protowire.Number = 1
	componentLabel protowire.Number = 2
	componentKind  protowire.Number = 3
	componentValue protowire.Number = 4
)

// ComponentKind identifies the widget a component is rendered as.
type ComponentKind int32

const (
	KindUnspecified ComponentKind = iota
	KindLabel
	KindButton
	KindCheckbox
	KindSlider
	KindText
	KindCombo
)

var kindNames = [...]string{
	KindUnspecified: "unspecified",
	KindLabel:       "label",
	KindButton:      "button",
	KindCheckbox:    "checkbox",
	KindSlider:      "slider",
	KindText:        "text",
	KindCombo:       "combo",
}

func (k ComponentKind) String() string {
	if k >= 0 && int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", int32(k))
}

// Component is one widget of a plugin window.
type Component struct {
	ID    string
	Label string
	Kind  ComponentKind
	Value []byte
}

// Window is a plugin's UI window layout.
type Window struct {
	Title      string
	Components []Component
}

// Component returns the component with the given id.
func (w *Window) Component(id string) (Component, bool) {
	for _, c := range w.Components {
		if c.ID == id {
			return c, true
		}
	}
	return Component{}, false
}

// ComponentLayout is the id/payload pair the host sends back to a plugin
// when the user changes a component.
type ComponentLayout struct {
	ID      string
	Payload []byte
}

// Encode serializes w.
func Encode(w *Window) []byte {
	if w == nil {
		return nil
	}
	var b []byte
	if w.Title != "" {
		b = protowire.AppendTag(b, windowTitle, protowire.BytesType)
		b = protowire.AppendString(b, w.Title)
	}
	for i := range w.Components {
		b = protowire.AppendTag(b, windowComponents, protowire.BytesType)
		b = protowire.AppendBytes(b, EncodeComponent(&w.Components[i]))
	}
	return b
}

// EncodeComponent serializes a single component. The result is also the
// payload format of ComponentLayout.
func EncodeComponent(c *Component) []byte {
	var b []byte
	if c.ID != "" {
		b = protowire.AppendTag(b, componentID, protowire.BytesType)
		b = protowire.AppendString(b, c.ID)
	}
	if c.Label != "" {
		b = protowire.AppendTag(b, componentLabel, protowire.BytesType)
		b = protowire.AppendString(b, c.Label)
	}
	if c.Kind != KindUnspecified {
		b = protowire.AppendTag(b, componentKind, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(c.Kind))
	}
	if len(c.Value) > 0 {
		b = protowire.AppendTag(b, componentValue, protowire.BytesType)
		b = protowire.AppendBytes(b, c.Value)
	}
	return b
}

// Decode parses a window layout. Empty input yields an empty window.
func Decode(b []byte) (*Window, error) {
	w := &Window{}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, wireError("window tag", n)
		}
		b = b[n:]

		switch {
		case num == windowTitle && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return nil, wireError("window title", n)
			}
			w.Title = v
			b = b[n:]
		case num == windowComponents && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, wireError("window component", n)
			}
			c, err := DecodeComponent(v)
			if err != nil {
				return nil, err
			}
			w.Components = append(w.Components, c)
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return nil, wireError("unknown window field", n)
			}
			b = b[n:]
		}
	}
	return w, nil
}

// DecodeComponent parses a single component.
func DecodeComponent(b []byte) (Component, error) {
	var c Component
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return Component{}, wireError("component tag", n)
		}
		b = b[n:]

		switch {
		case num == componentID && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return Component{}, wireError("component id", n)
			}
			c.ID = v
			b = b[n:]
		case num == componentLabel && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return Component{}, wireError("component label", n)
			}
			c.Label = v
			b = b[n:]
		case num == componentKind && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return Component{}, wireError("component kind", n)
			}
			c.Kind = ComponentKind(int32(v))
			b = b[n:]
		case num == componentValue && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return Component{}, wireError("component value", n)
			}
			c.Value = append([]byte(nil), v...)
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return Component{}, wireError("unknown component field", n)
			}
			b = b[n:]
		}
	}
	return c, nil
}

func wireError(what string, n int) error {
	return errors.Wrap(errors.PhaseLayout, errors.KindInvalidData, protowire.ParseError(n), what)
}
