package guest

import (
	"strings"

	"github.com/tetratelabs/wazero/api"

	"github.com/wippyai/nanoem-plugin-wasm/errors"
)

// CheckSignature reports an export of plugin whose type is not params i32
// parameters and results i32 results. The plugin ABI uses no other types.
func CheckSignature(plugin, export string, def api.FunctionDefinition, params, results int) error {
	if allI32(def.ParamTypes(), params) && allI32(def.ResultTypes(), results) {
		return nil
	}
	want := make([]api.ValueType, params+results)
	for i := range want {
		want[i] = api.ValueTypeI32
	}
	return errors.Signature(plugin, export,
		formatSignature(def.ParamTypes(), def.ResultTypes()),
		formatSignature(want[:params], want[params:]))
}

func allI32(types []api.ValueType, n int) bool {
	if len(types) != n {
		return false
	}
	for _, t := range types {
		if t != api.ValueTypeI32 {
			return false
		}
	}
	return true
}

// formatSignature renders types as "(i32, i32) -> (i32)".
func formatSignature(params, results []api.ValueType) string {
	list := func(types []api.ValueType) string {
		names := make([]string, len(types))
		for i, t := range types {
			names[i] = api.ValueTypeName(t)
		}
		return "(" + strings.Join(names, ", ") + ")"
	}
	return list(params) + " -> " + list(results)
}
