package wat

import (
	"bytes"
	"fmt"
)

var magic = []byte{0x00, 0x61, 0x73, 0x6d}

// IsBinary reports whether src starts with the WebAssembly binary magic.
func IsBinary(src []byte) bool {
	return bytes.HasPrefix(src, magic)
}

// Compile translates a WebAssembly text module to the binary format.
// Syntax and name errors wrap an *Error carrying the source position.
func Compile(source string) ([]byte, error) {
	bin, err := compile(source)
	if err != nil {
		return nil, fmt.Errorf("wat: %w", err)
	}
	return bin, nil
}

func compile(source string) ([]byte, error) {
	toks, err := tokenize(source)
	if err != nil {
		return nil, err
	}
	nodes, err := parse(toks)
	if err != nil {
		return nil, err
	}
	if len(nodes) != 1 || nodes[0].head() != "module" {
		at := pos{line: 1, col: 1}
		if len(nodes) > 0 {
			at = nodes[0].pos
		}
		return nil, at.errorf("expected a single (module ...)")
	}
	_, fields := takeID(nodes[0].items[1:])
	m := newModule()
	if err := m.load(fields); err != nil {
		return nil, err
	}
	return m.encode(), nil
}
