package scripting

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/Shopify/go-lua"

	"github.com/rendis/nodeflow/internal/tools"
	"github.com/rendis/nodeflow/pkg/schema"
)

const (
	luaGlobalTableIndex = -2
	luaTableIndex       = -3
	luaGlobalTableName  = "_G"
	// luaHookCount is the instruction interval between cancellation checks.
	luaHookCount = 1000
)

var luaExclude = [...]string{
	"io", "os", "debug", "package", "require", "dofile", "loadfile", "load",
}

// luaScript is a Lua body. Like JavaScript it either defines a global
// execute(inputs, context) or assigns the global result.
type luaScript struct {
	source string
}

func compileLua(code string) (*luaScript, error) {
	L := lua.NewState()
	setupLuaSandbox(L)
	if err := lua.LoadString(L, code); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeInvalidConfig, "lua does not compile: %v", err).WithCause(err)
	}
	return &luaScript{source: code}, nil
}

// Invoke runs the script on a fresh state with the unsafe libraries removed.
func (s *luaScript) Invoke(ctx context.Context, inputs, vars map[string]any) (*tools.Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, interrupted(err)
	}

	L := lua.NewState()
	setupLuaSandbox(L)

	var printed []string
	L.Register("print", func(L *lua.State) int {
		n := L.Top()
		parts := make([]string, 0, n)
		for i := 1; i <= n; i++ {
			str, _ := lua.ToStringMeta(L, i)
			L.Pop(1)
			parts = append(parts, str)
		}
		printed = append(printed, strings.Join(parts, "\t"))
		return 0
	})

	lua.SetDebugHook(L, func(L *lua.State, _ lua.Debug) {
		if ctx.Err() != nil {
			lua.Errorf(L, "interrupted")
		}
	}, lua.MaskCount, luaHookCount)

	goToLua(L, inputs)
	L.SetGlobal("inputs")
	goToLua(L, vars)
	L.SetGlobal("context")

	value, err := s.run(L)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, interrupted(ctxErr)
		}
		if fe, ok := schema.AsFlowError(err); ok {
			return nil, fe
		}
		details := map[string]any{"runtime": "lua"}
		if len(printed) > 0 {
			details["output"] = printed
		}
		return nil, schema.NewErrorf(schema.ErrCodeStepFailed, "script error: %v", err).
			WithCause(err).
			WithDetails(details)
	}

	L.Global("context")
	exported, err := luaToGo(L, -1)
	L.Pop(1)
	if err != nil {
		return nil, err
	}
	delta, _ := exported.(map[string]any)

	return &tools.Result{Value: value, Context: delta, Diagnostics: printed}, nil
}

func (s *luaScript) run(L *lua.State) (any, error) {
	if err := lua.LoadString(L, s.source); err != nil {
		return nil, err
	}
	if err := L.ProtectedCall(0, 0, 0); err != nil {
		return nil, err
	}

	L.Global("execute")
	if L.IsFunction(-1) {
		L.Global("inputs")
		L.Global("context")
		if err := L.ProtectedCall(2, 1, 0); err != nil {
			return nil, err
		}
	} else {
		L.Pop(1)
		L.Global("result")
	}
	value, err := luaToGo(L, -1)
	L.Pop(1)
	return value, err
}

func setupLuaSandbox(L *lua.State) {
	lua.OpenLibraries(L)
	L.Global(luaGlobalTableName)
	for _, name := range luaExclude {
		L.PushNil()
		L.SetField(luaGlobalTableIndex, name)
	}
	L.Pop(1)
}

func goToLua(L *lua.State, value any) {
	switch v := schema.Normalize(value).(type) {
	case string:
		L.PushString(v)
	case bool:
		L.PushBoolean(v)
	case float64:
		L.PushNumber(v)
	case []any:
		pushLuaArray(L, v)
	case map[string]any:
		pushLuaMap(L, v)
	case nil:
		L.PushNil()
	default:
		L.PushString(fmt.Sprintf("%v", v))
	}
}

func pushLuaArray(L *lua.State, arr []any) {
	L.CreateTable(len(arr), 0)
	for i, item := range arr {
		L.PushInteger(i + 1)
		goToLua(L, item)
		L.SetTable(luaTableIndex)
	}
}

func pushLuaMap(L *lua.State, m map[string]any) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	L.CreateTable(0, len(m))
	for _, k := range keys {
		L.PushString(k)
		goToLua(L, m[k])
		L.SetTable(luaTableIndex)
	}
}

func cyclicTableError() error {
	return schema.NewError(schema.ErrCodeStepFailed, "cyclic value").
		WithDetails(map[string]any{"runtime": "lua"})
}

// luaExport converts Lua values to Go, tracking the tables on the current
// descent path so that a table reachable from itself is rejected.
type luaExport struct {
	L    *lua.State
	path map[any]bool
}

func luaToGo(L *lua.State, index int) (any, error) {
	x := luaExport{L: L, path: map[any]bool{}}
	v, err := x.value(index)
	if err != nil {
		return nil, err
	}
	return schema.Normalize(v), nil
}

func (x *luaExport) value(index int) (any, error) {
	L := x.L
	switch L.TypeOf(index) {
	case lua.TypeNil:
		return nil, nil
	case lua.TypeBoolean:
		return L.ToBoolean(index), nil
	case lua.TypeNumber:
		num, _ := L.ToNumber(index)
		return num, nil
	case lua.TypeString:
		s, _ := L.ToString(index)
		return s, nil
	case lua.TypeTable:
		return x.table(index)
	default:
		return nil, nil
	}
}

// table converts a table to []any when its keys are exactly 1..n and to
// map[string]any otherwise. Empty tables become empty maps.
func (x *luaExport) table(index int) (any, error) {
	L := x.L
	index = L.AbsIndex(index)
	id := L.ToValue(index)
	if x.path[id] {
		return nil, cyclicTableError()
	}
	if !L.CheckStack(3) {
		return nil, schema.NewError(schema.ErrCodeStepFailed, "lua value nested too deeply")
	}
	x.path[id] = true
	defer delete(x.path, id)

	length, maxKey, isArray := 0, 0, true
	L.PushNil()
	for L.Next(index) {
		length++
		if isArray && L.TypeOf(-2) == lua.TypeNumber {
			f, _ := L.ToNumber(-2)
			if f < 1 || f != math.Trunc(f) {
				isArray = false
			} else if int(f) > maxKey {
				maxKey = int(f)
			}
		} else {
			isArray = false
		}
		L.Pop(1)
	}

	if isArray && length > 0 && maxKey == length {
		arr := make([]any, length)
		for i := 1; i <= length; i++ {
			L.RawGetInt(index, i)
			v, err := x.value(-1)
			L.Pop(1)
			if err != nil {
				return nil, err
			}
			arr[i-1] = v
		}
		return arr, nil
	}

	result := map[string]any{}
	L.PushNil()
	for L.Next(index) {
		var key string
		if L.TypeOf(-2) == lua.TypeString {
			key, _ = L.ToString(-2)
		} else {
			k, err := x.value(-2)
			if err != nil {
				L.Pop(2)
				return nil, err
			}
			key = fmt.Sprintf("%v", schema.Normalize(k))
		}
		v, err := x.value(-1)
		if err != nil {
			L.Pop(2)
			return nil, err
		}
		result[key] = v
		L.Pop(1)
	}
	return result, nil
}
