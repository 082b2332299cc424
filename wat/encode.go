package wat

import "encoding/binary"

// Section ids of the binary format, in the order they must appear.
const (
	secType     byte = 1
	secImport   byte = 2
	secFunction byte = 3
	secMemory   byte = 5
	secGlobal   byte = 6
	secExport   byte = 7
	secStart    byte = 8
	secCode     byte = 10
	secData     byte = 11
)

var version = []byte{0x01, 0x00, 0x00, 0x00}

func appendU32(b []byte, v uint32) []byte {
	return binary.AppendUvarint(b, uint64(v))
}

// appendSigned appends v as signed LEB128.
func appendSigned(b []byte, v int64) []byte {
	for {
		c := byte(v & 0x7f)
		v >>= 7
		if (v == 0 && c&0x40 == 0) || (v == -1 && c&0x40 != 0) {
			return append(b, c)
		}
		b = append(b, c|0x80)
	}
}

func appendVec(b, data []byte) []byte {
	b = appendU32(b, uint32(len(data)))
	return append(b, data...)
}

func appendName(b []byte, s string) []byte {
	return appendVec(b, []byte(s))
}

func appendSection(b []byte, id byte, count int, body []byte) []byte {
	if count == 0 {
		return b
	}
	content := appendU32(nil, uint32(count))
	content = append(content, body...)
	b = append(b, id)
	return appendVec(b, content)
}

// localGroups run-length encodes local declarations.
func localGroups(locals []byte) []byte {
	var groups []byte
	count := 0
	for i := 0; i < len(locals); {
		j := i
		for j < len(locals) && locals[j] == locals[i] {
			j++
		}
		groups = appendU32(groups, uint32(j-i))
		groups = append(groups, locals[i])
		count++
		i = j
	}
	return append(appendU32(nil, uint32(count)), groups...)
}

func (m *module) encode() []byte {
	out := append(append([]byte(nil), magic...), version...)

	var body []byte
	for _, t := range m.types {
		body = append(body, 0x60)
		body = appendVec(body, t.params)
		body = appendVec(body, t.results)
	}
	out = appendSection(out, secType, len(m.types), body)

	body = nil
	for _, imp := range m.imports {
		body = appendName(body, imp.module)
		body = appendName(body, imp.name)
		body = append(body, externFunc)
		body = appendU32(body, imp.typ)
	}
	out = appendSection(out, secImport, len(m.imports), body)

	body = nil
	for _, fn := range m.funcs {
		body = appendU32(body, fn.typ)
	}
	out = appendSection(out, secFunction, len(m.funcs), body)

	if m.memory != nil {
		body = []byte{0x00}
		if m.memory.hasMax {
			body[0] = 0x01
		}
		body = appendU32(body, m.memory.min)
		if m.memory.hasMax {
			body = appendU32(body, m.memory.max)
		}
		out = appendSection(out, secMemory, 1, body)
	}

	body = nil
	for _, g := range m.globals {
		body = append(body, g.typ)
		if g.mut {
			body = append(body, 0x01)
		} else {
			body = append(body, 0x00)
		}
		body = append(body, g.code...)
	}
	out = appendSection(out, secGlobal, len(m.globals), body)

	body = nil
	for _, e := range m.exports {
		body = appendName(body, e.name)
		body = append(body, e.kind)
		body = appendU32(body, e.idx)
	}
	out = appendSection(out, secExport, len(m.exports), body)

	if m.start != nil {
		out = append(out, secStart)
		out = appendVec(out, appendU32(nil, m.startIdx))
	}

	body = nil
	for _, fn := range m.funcs {
		body = appendVec(body, fn.code)
	}
	out = appendSection(out, secCode, len(m.funcs), body)

	body = nil
	for _, s := range m.data {
		body = append(body, 0x00)
		body = append(body, s.code...)
		body = appendVec(body, s.data)
	}
	return appendSection(out, secData, len(m.data), body)
}
