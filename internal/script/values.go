package script

import (
	"context"
	"errors"
	"fmt"
	"math"

	lua "github.com/yuin/gopher-lua"
)

// Callable is a host function exposed to scripts.
type Callable func(ctx context.Context, args ...any) (any, error)

// Object is a host object exposed to scripts as userdata. Field reads and
// writes go through Get/Set, and obj:method(...) goes through Call.
type Object interface {
	Get(name string) (any, bool)
	Set(name string, value any)
	Responds(name string) bool
	Call(ctx context.Context, name string, args ...any) (any, error)
	String() string
}

// Scope resolves free names of a script to host values.
type Scope interface {
	Resolve(name string) (any, bool)
}

// ScopeFunc adapts a function to Scope.
type ScopeFunc func(name string) (any, bool)

func (f ScopeFunc) Resolve(name string) (any, bool) { return f(name) }

const objectTypeName = "blur.object"

func registerObjectType(L *lua.LState) {
	mt := L.NewTypeMetatable(objectTypeName)
	L.SetFuncs(mt, map[string]lua.LGFunction{
		"__index":    objectIndex,
		"__newindex": objectNewIndex,
		"__tostring": objectToString,
	})
}

func checkObject(L *lua.LState) Object {
	ud := L.CheckUserData(1)
	obj, ok := ud.Value.(Object)
	if !ok {
		L.ArgError(1, "object expected")
		return nil
	}
	return obj
}

func objectIndex(L *lua.LState) int {
	obj := checkObject(L)
	key := L.CheckString(2)

	if v, ok := obj.Get(key); ok {
		L.Push(toLua(L, v))
		return 1
	}
	if obj.Responds(key) {
		L.Push(L.NewFunction(func(L *lua.LState) int {
			start := 1
			if self, ok := L.Get(1).(*lua.LUserData); ok && self.Value == obj {
				start = 2
			}
			args := argsFromLua(L, start)
			ret, err := obj.Call(stateContext(L), key, args...)
			if err != nil {
				L.RaiseError("%s", err.Error())
				return 0
			}
			L.Push(toLua(L, ret))
			return 1
		}))
		return 1
	}
	L.Push(lua.LNil)
	return 1
}

func objectNewIndex(L *lua.LState) int {
	obj := checkObject(L)
	key := L.CheckString(2)
	value, err := fromLua(L.Get(3))
	if err != nil {
		L.ArgError(3, err.Error())
		return 0
	}
	obj.Set(key, value)
	return 0
}

func objectToString(L *lua.LState) int {
	obj := checkObject(L)
	L.Push(lua.LString(obj.String()))
	return 1
}

func stateContext(L *lua.LState) context.Context {
	if ctx := L.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func wrapCallable(fn Callable) lua.LGFunction {
	return func(L *lua.LState) int {
		args := argsFromLua(L, 1)
		ret, err := fn(stateContext(L), args...)
		if err != nil {
			L.RaiseError("%s", err.Error())
			return 0
		}
		L.Push(toLua(L, ret))
		return 1
	}
}

func scopeTable(L *lua.LState, s Scope) *lua.LTable {
	t := L.NewTable()
	mt := L.NewTable()
	mt.RawSetString("__index", L.NewFunction(func(L *lua.LState) int {
		key := L.CheckString(2)
		if v, ok := s.Resolve(key); ok {
			L.Push(toLua(L, v))
			return 1
		}
		L.Push(lua.LNil)
		return 1
	}))
	L.SetMetatable(t, mt)
	return t
}

// toLua converts a host value into a Lua value owned by L.
func toLua(L *lua.LState, v any) lua.LValue {
	switch x := v.(type) {
	case nil:
		return lua.LNil
	case lua.LValue:
		return x
	case bool:
		return lua.LBool(x)
	case string:
		return lua.LString(x)
	case int:
		return lua.LNumber(x)
	case int8:
		return lua.LNumber(x)
	case int16:
		return lua.LNumber(x)
	case int32:
		return lua.LNumber(x)
	case int64:
		return lua.LNumber(x)
	case uint:
		return lua.LNumber(x)
	case uint8:
		return lua.LNumber(x)
	case uint16:
		return lua.LNumber(x)
	case uint32:
		return lua.LNumber(x)
	case uint64:
		return lua.LNumber(x)
	case float32:
		return lua.LNumber(x)
	case float64:
		return lua.LNumber(x)
	case error:
		return lua.LString(x.Error())
	case []any:
		t := L.CreateTable(len(x), 0)
		for _, item := range x {
			t.Append(toLua(L, item))
		}
		return t
	case []string:
		t := L.CreateTable(len(x), 0)
		for _, item := range x {
			t.Append(lua.LString(item))
		}
		return t
	case map[string]any:
		t := L.CreateTable(0, len(x))
		for k, item := range x {
			t.RawSetString(k, toLua(L, item))
		}
		return t
	case Callable:
		return L.NewFunction(wrapCallable(x))
	case func(context.Context, ...any) (any, error):
		return L.NewFunction(wrapCallable(x))
	case Object:
		ud := L.NewUserData()
		ud.Value = x
		L.SetMetatable(ud, L.GetTypeMetatable(objectTypeName))
		return ud
	case Scope:
		return scopeTable(L, x)
	default:
		return lua.LString(fmt.Sprint(v))
	}
}

// ErrCyclicValue is returned when a table that contains itself is handed to
// the host.
var ErrCyclicValue = errors.New("cannot convert a table that contains itself")

// maxTableDepth bounds how deeply nested a table handed to the host may be.
const maxTableDepth = 64

// fromLua converts a Lua value into a host value. Integral numbers become
// int, tables with a dense 1..n sequence become []any, other tables become
// map[string]any. A table may appear more than once, but not inside itself.
func fromLua(v lua.LValue) (any, error) {
	c := converter{path: make(map[*lua.LTable]bool)}
	return c.value(v, 0)
}

// converter tracks the tables on the path from the root value.
type converter struct {
	path map[*lua.LTable]bool
}

func (c converter) value(v lua.LValue, depth int) (any, error) {
	switch x := v.(type) {
	case *lua.LNilType:
		return nil, nil
	case lua.LBool:
		return bool(x), nil
	case lua.LString:
		return string(x), nil
	case lua.LNumber:
		f := float64(x)
		if f == math.Trunc(f) && math.Abs(f) < 1<<53 {
			return int(f), nil
		}
		return f, nil
	case *lua.LTable:
		return c.table(x, depth)
	case *lua.LUserData:
		return x.Value, nil
	default:
		return v.String(), nil
	}
}

func (c converter) table(t *lua.LTable, depth int) (any, error) {
	if c.path[t] {
		return nil, ErrCyclicValue
	}
	if depth >= maxTableDepth {
		return nil, fmt.Errorf("cannot convert a table nested deeper than %d levels", maxTableDepth)
	}
	c.path[t] = true
	defer delete(c.path, t)

	n := t.MaxN()
	count := 0
	t.ForEach(func(lua.LValue, lua.LValue) { count++ })

	if n > 0 && n == count {
		items := make([]any, 0, n)
		for i := 1; i <= n; i++ {
			item, err := c.value(t.RawGetInt(i), depth+1)
			if err != nil {
				return nil, err
			}
			items = append(items, item)
		}
		return items, nil
	}

	m := make(map[string]any, count)
	var err error
	t.ForEach(func(k, v lua.LValue) {
		if err != nil {
			return
		}
		key := lua.LVAsString(k)
		if key == "" {
			key = k.String()
		}
		m[key], err = c.value(v, depth+1)
	})
	if err != nil {
		return nil, err
	}
	return m, nil
}

// argsFromLua converts the arguments on L's stack from index start, raising
// a script error when one cannot be converted.
func argsFromLua(L *lua.LState, start int) []any {
	args := make([]any, 0, L.GetTop())
	for i := start; i <= L.GetTop(); i++ {
		arg, err := fromLua(L.Get(i))
		if err != nil {
			L.ArgError(i, err.Error())
			return nil
		}
		args = append(args, arg)
	}
	return args
}
