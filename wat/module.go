package wat

import (
	"bytes"
	"strconv"
	"strings"
)

var valueTypes = map[string]byte{
	"i32": 0x7f,
	"i64": 0x7e,
	"f32": 0x7d,
	"f64": 0x7c,
}

const (
	externFunc   byte = 0x00
	externMemory byte = 0x02
	externGlobal byte = 0x03
)

type funcType struct {
	params  []byte
	results []byte
}

type importFunc struct {
	module string
	name   string
	typ    uint32
}

type function struct {
	pos    pos
	typ    uint32
	locals []byte
	names  map[string]uint32
	body   []*node
	code   []byte
}

type global struct {
	pos  pos
	typ  byte
	mut  bool
	init []*node
	code []byte
}

type export struct {
	name string
	kind byte
	idx  uint32
	// ref is set for export fields until resolve looks it up.
	ref *node
}

type limits struct {
	min    uint32
	max    uint32
	hasMax bool
}

type segment struct {
	pos    pos
	offset []*node
	data   []byte
	code   []byte
}

type module struct {
	types   []funcType
	imports []importFunc
	funcs   []*function
	globals []*global
	memory  *limits
	exports []*export
	data    []*segment
	start   *node

	startIdx    uint32
	typeNames   map[string]uint32
	funcNames   map[string]uint32
	globalNames map[string]uint32
	exportNames map[string]bool
}

func newModule() *module {
	return &module{
		typeNames:   make(map[string]uint32),
		funcNames:   make(map[string]uint32),
		globalNames: make(map[string]uint32),
		exportNames: make(map[string]bool),
	}
}

func (m *module) funcCount() uint32 {
	return uint32(len(m.imports) + len(m.funcs))
}

// load reads module fields. Types come first so any field may refer to
// them, imports next because they take the low function indices.
func (m *module) load(fields []*node) error {
	for _, f := range fields {
		if !f.isList() {
			return f.pos.errorf("expected a module field, got %s", f)
		}
		if f.head() == "type" {
			if err := m.typeField(f); err != nil {
				return err
			}
		}
	}
	for _, f := range fields {
		var err error
		switch {
		case f.head() == "import":
			err = m.importField(f)
		case f.head() == "func" && inlineImport(f) != nil:
			err = m.funcImport(f)
		}
		if err != nil {
			return err
		}
	}
	for _, f := range fields {
		var err error
		switch f.head() {
		case "type", "import":
		case "func":
			if inlineImport(f) == nil {
				err = m.funcField(f)
			}
		case "memory":
			err = m.memoryField(f)
		case "global":
			err = m.globalField(f)
		case "export":
			err = m.exportField(f)
		case "data":
			err = m.dataField(f)
		case "start":
			if m.start != nil || len(f.items) != 2 {
				return f.pos.errorf("malformed start")
			}
			m.start = f.items[1]
		default:
			return f.pos.errorf("unsupported module field %s", f)
		}
		if err != nil {
			return err
		}
	}
	return m.resolve()
}

func takeID(items []*node) (string, []*node) {
	if len(items) > 0 && items[0].isID() {
		return items[0].text, items[1:]
	}
	return "", items
}

// takeExports consumes inline (export "name") abbreviations.
func takeExports(items []*node) ([]string, []*node, error) {
	var names []string
	for len(items) > 0 && items[0].head() == "export" {
		e := items[0]
		if len(e.items) != 2 || e.items[1].kind != tokString {
			return nil, nil, e.pos.errorf("malformed export")
		}
		names = append(names, e.items[1].text)
		items = items[1:]
	}
	return names, items, nil
}

// inlineImport returns the (import "m" "n") of an imported func field.
func inlineImport(f *node) *node {
	_, items := takeID(f.items[1:])
	for _, n := range items {
		if n.head() == "import" {
			return n
		}
		if n.head() != "export" {
			return nil
		}
	}
	return nil
}

func valueType(n *node) (byte, error) {
	if !n.isAtom() {
		return 0, n.pos.errorf("expected a value type, got %s", n)
	}
	t, ok := valueTypes[n.text]
	if !ok {
		return 0, n.pos.errorf("unknown value type %q", n.text)
	}
	return t, nil
}

func (m *module) bind(names map[string]uint32, what, id string, idx uint32, at pos) error {
	if id == "" {
		return nil
	}
	if _, dup := names[id]; dup {
		return at.errorf("duplicate %s %s", what, id)
	}
	names[id] = idx
	return nil
}

// index resolves a $name or a numeric index below limit.
func (m *module) index(names map[string]uint32, what string, n *node, limit uint32) (uint32, error) {
	if n.isID() {
		if idx, ok := names[n.text]; ok {
			return idx, nil
		}
		return 0, n.pos.errorf("unknown %s %s", what, n.text)
	}
	if !n.isAtom() {
		return 0, n.pos.errorf("expected a %s index, got %s", what, n)
	}
	v, err := parseUint(n.text, 32)
	if err != nil || uint32(v) >= limit {
		return 0, n.pos.errorf("invalid %s index %q", what, n.text)
	}
	return uint32(v), nil
}

func (m *module) addExport(name string, kind byte, idx uint32, at pos) error {
	if m.exportNames[name] {
		return at.errorf("duplicate export %q", name)
	}
	m.exportNames[name] = true
	m.exports = append(m.exports, &export{name: name, kind: kind, idx: idx})
	return nil
}

// signature parses (param ...)* (result ...)*. Unnamed parameters get an
// empty name.
func signature(items []*node) (funcType, []string, []*node, error) {
	var ft funcType
	var names []string
	for ; len(items) > 0; items = items[1:] {
		n := items[0]
		switch n.head() {
		case "param":
			args := n.items[1:]
			if len(args) == 2 && args[0].isID() {
				t, err := valueType(args[1])
				if err != nil {
					return ft, nil, nil, err
				}
				ft.params = append(ft.params, t)
				names = append(names, args[0].text)
				continue
			}
			for _, a := range args {
				t, err := valueType(a)
				if err != nil {
					return ft, nil, nil, err
				}
				ft.params = append(ft.params, t)
				names = append(names, "")
			}
		case "result":
			for _, a := range n.items[1:] {
				t, err := valueType(a)
				if err != nil {
					return ft, nil, nil, err
				}
				ft.results = append(ft.results, t)
			}
		default:
			return ft, names, items, nil
		}
	}
	return ft, names, nil, nil
}

// typeUse parses an optional (type x) followed by an inline signature.
func (m *module) typeUse(items []*node) (uint32, []string, []*node, error) {
	var ref *node
	if len(items) > 0 && items[0].head() == "type" {
		if len(items[0].items) != 2 {
			return 0, nil, nil, items[0].pos.errorf("malformed type use")
		}
		ref = items[0].items[1]
		items = items[1:]
	}
	ft, names, rest, err := signature(items)
	if err != nil {
		return 0, nil, nil, err
	}
	if ref == nil {
		return m.intern(ft), names, rest, nil
	}
	idx, err := m.index(m.typeNames, "type", ref, uint32(len(m.types)))
	if err != nil {
		return 0, nil, nil, err
	}
	if len(names) == 0 {
		names = make([]string, len(m.types[idx].params))
	}
	return idx, names, rest, nil
}

func (m *module) intern(ft funcType) uint32 {
	for i, t := range m.types {
		if bytes.Equal(t.params, ft.params) && bytes.Equal(t.results, ft.results) {
			return uint32(i)
		}
	}
	m.types = append(m.types, ft)
	return uint32(len(m.types) - 1)
}

func unexpected(rest []*node, where string) error {
	return rest[0].pos.errorf("unexpected %s in %s", rest[0], where)
}

func (m *module) typeField(f *node) error {
	id, items := takeID(f.items[1:])
	if len(items) != 1 || items[0].head() != "func" {
		return f.pos.errorf("malformed type definition")
	}
	ft, _, rest, err := signature(items[0].items[1:])
	if err != nil {
		return err
	}
	if len(rest) > 0 {
		return unexpected(rest, "type definition")
	}
	m.types = append(m.types, ft)
	return m.bind(m.typeNames, "type", id, uint32(len(m.types)-1), f.pos)
}

func importNames(imp *node) (string, string, error) {
	if len(imp.items) < 3 || imp.items[1].kind != tokString || imp.items[2].kind != tokString {
		return "", "", imp.pos.errorf("malformed import")
	}
	return imp.items[1].text, imp.items[2].text, nil
}

func (m *module) importField(f *node) error {
	mod, name, err := importNames(f)
	if err != nil {
		return err
	}
	if len(f.items) != 4 || f.items[3].head() != "func" {
		return f.pos.errorf("only function imports are supported")
	}
	desc := f.items[3]
	id, items := takeID(desc.items[1:])
	typ, _, rest, err := m.typeUse(items)
	if err != nil {
		return err
	}
	if len(rest) > 0 {
		return unexpected(rest, "import")
	}
	m.imports = append(m.imports, importFunc{module: mod, name: name, typ: typ})
	return m.bind(m.funcNames, "function", id, uint32(len(m.imports)-1), desc.pos)
}

// funcImport handles (func $f (export "e")* (import "m" "n") typeuse).
func (m *module) funcImport(f *node) error {
	id, items := takeID(f.items[1:])
	exports, items, err := takeExports(items)
	if err != nil {
		return err
	}
	mod, name, err := importNames(items[0])
	if err != nil {
		return err
	}
	if len(items[0].items) != 3 {
		return items[0].pos.errorf("malformed import")
	}
	typ, _, rest, err := m.typeUse(items[1:])
	if err != nil {
		return err
	}
	if len(rest) > 0 {
		return unexpected(rest, "imported function")
	}
	idx := uint32(len(m.imports))
	m.imports = append(m.imports, importFunc{module: mod, name: name, typ: typ})
	if err := m.bind(m.funcNames, "function", id, idx, f.pos); err != nil {
		return err
	}
	for _, e := range exports {
		if err := m.addExport(e, externFunc, idx, f.pos); err != nil {
			return err
		}
	}
	return nil
}

func (m *module) funcField(f *node) error {
	id, items := takeID(f.items[1:])
	exports, items, err := takeExports(items)
	if err != nil {
		return err
	}
	typ, params, items, err := m.typeUse(items)
	if err != nil {
		return err
	}
	fn := &function{pos: f.pos, typ: typ, names: make(map[string]uint32)}
	for i, name := range params {
		if err := m.bind(fn.names, "local", name, uint32(i), f.pos); err != nil {
			return err
		}
	}
	next := uint32(len(params))
	for ; len(items) > 0 && items[0].head() == "local"; items = items[1:] {
		args := items[0].items[1:]
		if len(args) == 2 && args[0].isID() {
			t, err := valueType(args[1])
			if err != nil {
				return err
			}
			if err := m.bind(fn.names, "local", args[0].text, next, items[0].pos); err != nil {
				return err
			}
			fn.locals = append(fn.locals, t)
			next++
			continue
		}
		for _, a := range args {
			t, err := valueType(a)
			if err != nil {
				return err
			}
			fn.locals = append(fn.locals, t)
			next++
		}
	}
	fn.body = items

	idx := m.funcCount()
	m.funcs = append(m.funcs, fn)
	if err := m.bind(m.funcNames, "function", id, idx, f.pos); err != nil {
		return err
	}
	for _, e := range exports {
		if err := m.addExport(e, externFunc, idx, f.pos); err != nil {
			return err
		}
	}
	return nil
}

func (m *module) memoryField(f *node) error {
	_, items := takeID(f.items[1:])
	exports, items, err := takeExports(items)
	if err != nil {
		return err
	}
	if m.memory != nil {
		return f.pos.errorf("multiple memories are not supported")
	}
	if len(items) == 0 || len(items) > 2 || !items[0].isAtom() {
		return f.pos.errorf("malformed memory, want (memory min max?)")
	}
	lim := &limits{}
	for i, n := range items {
		v, err := parseUint(n.text, 32)
		if err != nil || !n.isAtom() {
			return n.pos.errorf("invalid memory limit %s", n)
		}
		if i == 0 {
			lim.min = uint32(v)
		} else {
			lim.max, lim.hasMax = uint32(v), true
		}
	}
	m.memory = lim
	for _, e := range exports {
		if err := m.addExport(e, externMemory, 0, f.pos); err != nil {
			return err
		}
	}
	return nil
}

func (m *module) globalField(f *node) error {
	id, items := takeID(f.items[1:])
	exports, items, err := takeExports(items)
	if err != nil {
		return err
	}
	if len(items) == 0 {
		return f.pos.errorf("malformed global")
	}
	g := &global{pos: f.pos, init: items[1:]}
	if t := items[0]; t.head() == "mut" {
		if len(t.items) != 2 {
			return t.pos.errorf("malformed mut")
		}
		g.mut = true
		g.typ, err = valueType(t.items[1])
	} else {
		g.typ, err = valueType(t)
	}
	if err != nil {
		return err
	}

	idx := uint32(len(m.globals))
	m.globals = append(m.globals, g)
	if err := m.bind(m.globalNames, "global", id, idx, f.pos); err != nil {
		return err
	}
	for _, e := range exports {
		if err := m.addExport(e, externGlobal, idx, f.pos); err != nil {
			return err
		}
	}
	return nil
}

func (m *module) exportField(f *node) error {
	if len(f.items) != 3 || f.items[1].kind != tokString || len(f.items[2].items) != 2 {
		return f.pos.errorf("malformed export")
	}
	name := f.items[1].text
	if m.exportNames[name] {
		return f.pos.errorf("duplicate export %q", name)
	}
	m.exportNames[name] = true
	m.exports = append(m.exports, &export{name: name, ref: f.items[2]})
	return nil
}

func (m *module) dataField(f *node) error {
	_, items := takeID(f.items[1:])
	if len(items) > 0 && items[0].head() == "memory" {
		items = items[1:]
	}
	if len(items) == 0 || !items[0].isList() {
		return f.pos.errorf("passive data segments are not supported")
	}
	seg := &segment{pos: f.pos, offset: items[:1]}
	if items[0].head() == "offset" {
		seg.offset = items[0].items[1:]
	}
	for _, s := range items[1:] {
		if s.kind != tokString {
			return s.pos.errorf("expected a data string, got %s", s)
		}
		seg.data = append(seg.data, s.text...)
	}
	m.data = append(m.data, seg)
	return nil
}

// resolve compiles every body and expression once all names are known.
func (m *module) resolve() error {
	for _, e := range m.exports {
		if e.ref == nil {
			continue
		}
		var err error
		target := e.ref.items[1]
		switch e.ref.head() {
		case "func":
			e.kind = externFunc
			e.idx, err = m.index(m.funcNames, "function", target, m.funcCount())
		case "global":
			e.kind = externGlobal
			e.idx, err = m.index(m.globalNames, "global", target, uint32(len(m.globals)))
		case "memory":
			var count uint32
			if m.memory != nil {
				count = 1
			}
			e.kind = externMemory
			e.idx, err = m.index(nil, "memory", target, count)
		default:
			err = e.ref.pos.errorf("unsupported export of %s", e.ref)
		}
		if err != nil {
			return err
		}
	}

	for _, fn := range m.funcs {
		c := &compiler{m: m, locals: fn.names}
		if err := c.seq(fn.body); err != nil {
			return err
		}
		if len(c.labels) > 0 {
			return fn.pos.errorf("missing end of %s", c.labels[len(c.labels)-1].kind)
		}
		fn.code = append(localGroups(fn.locals), c.out...)
		fn.code = append(fn.code, opEnd)
	}
	for _, g := range m.globals {
		code, err := m.constExpr(g.init, g.pos)
		if err != nil {
			return err
		}
		g.code = code
	}
	for _, s := range m.data {
		code, err := m.constExpr(s.offset, s.pos)
		if err != nil {
			return err
		}
		s.code = code
	}
	if m.start != nil {
		idx, err := m.index(m.funcNames, "function", m.start, m.funcCount())
		if err != nil {
			return err
		}
		m.startIdx = idx
	}
	return nil
}

func (m *module) constExpr(nodes []*node, at pos) ([]byte, error) {
	if len(nodes) == 0 {
		return nil, at.errorf("missing initializer expression")
	}
	c := &compiler{m: m}
	if err := c.seq(nodes); err != nil {
		return nil, err
	}
	return append(c.out, opEnd), nil
}

func parseUint(s string, bits int) (uint64, error) {
	s = strings.ReplaceAll(s, "_", "")
	base := 10
	if strings.HasPrefix(s, "0x") {
		s, base = s[2:], 16
	}
	return strconv.ParseUint(s, base, bits)
}

// parseInt accepts the signed and unsigned range of an integer of the given
// size, so i32.const 0xffffffff is -1.
func parseInt(s string, bits int) (int64, error) {
	neg := strings.HasPrefix(s, "-")
	if neg || strings.HasPrefix(s, "+") {
		s = s[1:]
	}
	u, err := parseUint(s, bits)
	if err != nil {
		return 0, err
	}
	if neg {
		if u > 1<<(bits-1) {
			return 0, strconv.ErrRange
		}
		return -int64(u), nil
	}
	return int64(u), nil
}

func parseFloat(s string, bits int) (float64, error) {
	return strconv.ParseFloat(strings.ReplaceAll(s, "_", ""), bits)
}
