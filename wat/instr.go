package wat

import (
	"encoding/binary"
	"math"
	"math/bits"
	"strings"
)

const (
	opIf    byte = 0x04
	opElse  byte = 0x05
	opEnd   byte = 0x0b
	opEmpty byte = 0x40
)

var blockOpcodes = map[string]byte{
	"block": 0x02,
	"loop":  0x03,
	"if":    opIf,
}

type immediate int

const (
	immNone immediate = iota
	immLocal
	immGlobal
	immFunc
	immLabel
	immLabelTable
	immMemarg
	immMemory
	immSelect
	immI32
	immI64
	immF32
	immF64
)

type opcode struct {
	code []byte
	imm  immediate
	// align is the natural alignment (log2) of memory accesses.
	align uint32
}

var instructions = buildInstructions()

func buildInstructions() map[string]opcode {
	ops := map[string]opcode{
		"unreachable":      {code: []byte{0x00}},
		"nop":              {code: []byte{0x01}},
		"br":               {code: []byte{0x0c}, imm: immLabel},
		"br_if":            {code: []byte{0x0d}, imm: immLabel},
		"br_table":         {code: []byte{0x0e}, imm: immLabelTable},
		"return":           {code: []byte{0x0f}},
		"call":             {code: []byte{0x10}, imm: immFunc},
		"drop":             {code: []byte{0x1a}},
		"select":           {code: []byte{0x1b}, imm: immSelect},
		"local.get":        {code: []byte{0x20}, imm: immLocal},
		"local.set":        {code: []byte{0x21}, imm: immLocal},
		"local.tee":        {code: []byte{0x22}, imm: immLocal},
		"global.get":       {code: []byte{0x23}, imm: immGlobal},
		"global.set":       {code: []byte{0x24}, imm: immGlobal},
		"memory.size":      {code: []byte{0x3f}, imm: immMemory},
		"memory.grow":      {code: []byte{0x40}, imm: immMemory},
		"i32.const":        {code: []byte{0x41}, imm: immI32},
		"i64.const":        {code: []byte{0x42}, imm: immI64},
		"f32.const":        {code: []byte{0x43}, imm: immF32},
		"f64.const":        {code: []byte{0x44}, imm: immF64},
		"i32.eqz":          {code: []byte{0x45}},
		"i64.eqz":          {code: []byte{0x50}},
		"i32.wrap_i64":     {code: []byte{0xa7}},
		"i64.extend_i32_s": {code: []byte{0xac}},
		"i64.extend_i32_u": {code: []byte{0xad}},
		"memory.copy":      {code: []byte{0xfc, 0x0a, 0x00, 0x00}},
		"memory.fill":      {code: []byte{0xfc, 0x0b, 0x00}},
	}

	access := []struct {
		name  string
		code  byte
		align uint32
	}{
		{"i32.load", 0x28, 2}, {"i64.load", 0x29, 3}, {"f32.load", 0x2a, 2}, {"f64.load", 0x2b, 3},
		{"i32.load8_s", 0x2c, 0}, {"i32.load8_u", 0x2d, 0}, {"i32.load16_s", 0x2e, 1}, {"i32.load16_u", 0x2f, 1},
		{"i64.load8_s", 0x30, 0}, {"i64.load8_u", 0x31, 0}, {"i64.load16_s", 0x32, 1}, {"i64.load16_u", 0x33, 1},
		{"i64.load32_s", 0x34, 2}, {"i64.load32_u", 0x35, 2},
		{"i32.store", 0x36, 2}, {"i64.store", 0x37, 3}, {"f32.store", 0x38, 2}, {"f64.store", 0x39, 3},
		{"i32.store8", 0x3a, 0}, {"i32.store16", 0x3b, 1},
		{"i64.store8", 0x3c, 0}, {"i64.store16", 0x3d, 1}, {"i64.store32", 0x3e, 2},
	}
	for _, a := range access {
		ops[a.name] = opcode{code: []byte{a.code}, imm: immMemarg, align: a.align}
	}

	compare := []string{"eq", "ne", "lt_s", "lt_u", "gt_s", "gt_u", "le_s", "le_u", "ge_s", "ge_u"}
	for i, name := range compare {
		ops["i32."+name] = opcode{code: []byte{0x46 + byte(i)}}
		ops["i64."+name] = opcode{code: []byte{0x51 + byte(i)}}
	}
	arith := []string{
		"clz", "ctz", "popcnt", "add", "sub", "mul", "div_s", "div_u", "rem_s", "rem_u",
		"and", "or", "xor", "shl", "shr_s", "shr_u", "rotl", "rotr",
	}
	for i, name := range arith {
		ops["i32."+name] = opcode{code: []byte{0x67 + byte(i)}}
		ops["i64."+name] = opcode{code: []byte{0x79 + byte(i)}}
	}
	return ops
}

type label struct {
	name string
	kind string
}

// compiler emits one instruction sequence. Folded and flat forms can be
// mixed freely.
type compiler struct {
	m      *module
	locals map[string]uint32
	labels []label
	out    []byte
}

func (c *compiler) push(name, kind string) {
	c.labels = append(c.labels, label{name: name, kind: kind})
}

func (c *compiler) pop() {
	c.labels = c.labels[:len(c.labels)-1]
}

func (c *compiler) seq(items []*node) error {
	for len(items) > 0 {
		n := items[0]
		if n.isList() {
			if err := c.folded(n); err != nil {
				return err
			}
			items = items[1:]
			continue
		}
		rest, err := c.plain(n, items[1:])
		if err != nil {
			return err
		}
		items = rest
	}
	return nil
}

// blockType reads an optional label and (result t) of a block.
func blockType(items []*node) (string, byte, []*node, error) {
	id, items := takeID(items)
	bt := opEmpty
	for ; len(items) > 0; items = items[1:] {
		switch n := items[0]; n.head() {
		case "result":
			res := n.items[1:]
			if len(res) > 1 || (len(res) == 1 && bt != opEmpty) {
				return "", 0, nil, n.pos.errorf("multi-value blocks are not supported")
			}
			if len(res) == 1 {
				t, err := valueType(res[0])
				if err != nil {
					return "", 0, nil, err
				}
				bt = t
			}
		case "param", "type":
			return "", 0, nil, n.pos.errorf("block parameters are not supported")
		default:
			return id, bt, items, nil
		}
	}
	return id, bt, items, nil
}

func skipID(items []*node) []*node {
	_, rest := takeID(items)
	return rest
}

func (c *compiler) plain(n *node, rest []*node) ([]*node, error) {
	if !n.isAtom() {
		return nil, n.pos.errorf("expected an instruction, got %s", n)
	}
	switch n.text {
	case "block", "loop", "if":
		id, bt, rest, err := blockType(rest)
		if err != nil {
			return nil, err
		}
		c.push(id, n.text)
		c.out = append(c.out, blockOpcodes[n.text], bt)
		return rest, nil
	case "else":
		if len(c.labels) == 0 || c.labels[len(c.labels)-1].kind != "if" {
			return nil, n.pos.errorf("else outside if")
		}
		c.out = append(c.out, opElse)
		return skipID(rest), nil
	case "end":
		if len(c.labels) == 0 {
			return nil, n.pos.errorf("end without a block")
		}
		c.pop()
		c.out = append(c.out, opEnd)
		return skipID(rest), nil
	}
	op, ok := instructions[n.text]
	if !ok {
		return nil, n.pos.errorf("unknown instruction %q", n.text)
	}
	code, rest, err := c.operands(n, op, rest)
	if err != nil {
		return nil, err
	}
	c.out = append(c.out, code...)
	return rest, nil
}

func (c *compiler) folded(n *node) error {
	head := n.head()
	if head == "" {
		return n.pos.errorf("expected an instruction, got %s", n)
	}
	items := n.items[1:]
	switch head {
	case "block", "loop":
		id, bt, body, err := blockType(items)
		if err != nil {
			return err
		}
		c.push(id, head)
		c.out = append(c.out, blockOpcodes[head], bt)
		if err := c.seq(body); err != nil {
			return err
		}
		c.pop()
		c.out = append(c.out, opEnd)
		return nil
	case "if":
		return c.foldedIf(n, items)
	}

	op, ok := instructions[head]
	if !ok {
		return n.items[0].pos.errorf("unknown instruction %q", head)
	}
	code, rest, err := c.operands(n.items[0], op, items)
	if err != nil {
		return err
	}
	for _, arg := range rest {
		if !arg.isList() {
			return arg.pos.errorf("unexpected %s in %s", arg, head)
		}
		if err := c.folded(arg); err != nil {
			return err
		}
	}
	c.out = append(c.out, code...)
	return nil
}

// foldedIf compiles (if label? blocktype? cond* (then ...) (else ...)?).
func (c *compiler) foldedIf(n *node, items []*node) error {
	id, bt, items, err := blockType(items)
	if err != nil {
		return err
	}
	i := 0
	for i < len(items) && items[i].head() != "then" {
		i++
	}
	if i == len(items) {
		return n.pos.errorf("if without then")
	}
	if err := c.seq(items[:i]); err != nil {
		return err
	}
	then := items[i]
	var els *node
	switch rest := items[i+1:]; {
	case len(rest) == 1 && rest[0].head() == "else":
		els = rest[0]
	case len(rest) > 0:
		return unexpected(rest, "if")
	}

	c.push(id, "if")
	c.out = append(c.out, opIf, bt)
	if err := c.seq(then.items[1:]); err != nil {
		return err
	}
	if els != nil {
		c.out = append(c.out, opElse)
		if err := c.seq(els.items[1:]); err != nil {
			return err
		}
	}
	c.pop()
	c.out = append(c.out, opEnd)
	return nil
}

// operands encodes op and the immediates it consumes from the front of rest.
func (c *compiler) operands(at *node, op opcode, rest []*node) ([]byte, []*node, error) {
	code := append([]byte(nil), op.code...)
	switch op.imm {
	case immNone:
		return code, rest, nil
	case immMemory:
		return append(code, 0x00), rest, nil
	case immSelect:
		if len(rest) > 0 && rest[0].head() == "result" {
			var types []byte
			for _, a := range rest[0].items[1:] {
				t, err := valueType(a)
				if err != nil {
					return nil, nil, err
				}
				types = append(types, t)
			}
			return appendVec([]byte{0x1c}, types), rest[1:], nil
		}
		return code, rest, nil
	case immMemarg:
		return memarg(code, op.align, rest)
	case immLabelTable:
		var targets []uint32
		for ; len(rest) > 0 && isLabelRef(rest[0]); rest = rest[1:] {
			depth, err := c.label(rest[0])
			if err != nil {
				return nil, nil, err
			}
			targets = append(targets, depth)
		}
		if len(targets) == 0 {
			return nil, nil, at.pos.errorf("br_table needs a default label")
		}
		code = binary.AppendUvarint(code, uint64(len(targets)-1))
		for _, t := range targets {
			code = binary.AppendUvarint(code, uint64(t))
		}
		return code, rest, nil
	}

	if len(rest) == 0 || !rest[0].isAtom() {
		return nil, nil, at.pos.errorf("%s needs an immediate", at.text)
	}
	arg := rest[0]
	rest = rest[1:]

	var idx uint32
	var err error
	switch op.imm {
	case immLocal:
		idx, err = c.local(arg)
	case immGlobal:
		idx, err = c.m.index(c.m.globalNames, "global", arg, uint32(len(c.m.globals)))
	case immFunc:
		idx, err = c.m.index(c.m.funcNames, "function", arg, c.m.funcCount())
	case immLabel:
		idx, err = c.label(arg)
	case immI32:
		v, err := parseInt(arg.text, 32)
		if err != nil {
			return nil, nil, arg.pos.errorf("invalid i32 %q", arg.text)
		}
		return appendSigned(code, int64(int32(v))), rest, nil
	case immI64:
		v, err := parseInt(arg.text, 64)
		if err != nil {
			return nil, nil, arg.pos.errorf("invalid i64 %q", arg.text)
		}
		return appendSigned(code, v), rest, nil
	case immF32:
		v, err := parseFloat(arg.text, 32)
		if err != nil {
			return nil, nil, arg.pos.errorf("invalid f32 %q", arg.text)
		}
		return binary.LittleEndian.AppendUint32(code, math.Float32bits(float32(v))), rest, nil
	case immF64:
		v, err := parseFloat(arg.text, 64)
		if err != nil {
			return nil, nil, arg.pos.errorf("invalid f64 %q", arg.text)
		}
		return binary.LittleEndian.AppendUint64(code, math.Float64bits(v)), rest, nil
	}
	if err != nil {
		return nil, nil, err
	}
	return binary.AppendUvarint(code, uint64(idx)), rest, nil
}

func (c *compiler) local(n *node) (uint32, error) {
	if n.isID() {
		idx, ok := c.locals[n.text]
		if !ok {
			return 0, n.pos.errorf("unknown local %s", n.text)
		}
		return idx, nil
	}
	v, err := parseUint(n.text, 32)
	if err != nil {
		return 0, n.pos.errorf("invalid local index %q", n.text)
	}
	return uint32(v), nil
}

// label returns the branch depth of a $label or numeric depth.
func (c *compiler) label(n *node) (uint32, error) {
	if n.isID() {
		for i := len(c.labels) - 1; i >= 0; i-- {
			if c.labels[i].name == n.text {
				return uint32(len(c.labels) - 1 - i), nil
			}
		}
		return 0, n.pos.errorf("unknown label %s", n.text)
	}
	v, err := parseUint(n.text, 32)
	if err != nil {
		return 0, n.pos.errorf("invalid label %q", n.text)
	}
	return uint32(v), nil
}

func isLabelRef(n *node) bool {
	if n.isID() {
		return true
	}
	return n.isAtom() && strings.Trim(n.text, "0123456789") == ""
}

// memarg reads optional offset=N and align=N atoms.
func memarg(code []byte, align uint32, rest []*node) ([]byte, []*node, error) {
	var offset uint64
	for ; len(rest) > 0 && rest[0].isAtom(); rest = rest[1:] {
		key, val, ok := strings.Cut(rest[0].text, "=")
		if !ok {
			break
		}
		v, err := parseUint(val, 32)
		if err != nil {
			return nil, nil, rest[0].pos.errorf("invalid %s", rest[0].text)
		}
		switch key {
		case "offset":
			offset = v
		case "align":
			if v == 0 || v&(v-1) != 0 {
				return nil, nil, rest[0].pos.errorf("alignment %d is not a power of two", v)
			}
			align = uint32(bits.TrailingZeros64(v))
		default:
			return nil, nil, rest[0].pos.errorf("unknown memory argument %q", key)
		}
	}
	code = binary.AppendUvarint(code, uint64(align))
	return binary.AppendUvarint(code, offset), rest, nil
}
