// Package script is the restricted scripting layer used to turn replacement
// source text into callable behaviour at runtime. Scripts are Lua, executed by
// gopher-lua. Compiled bytecode is shared between a pool of interpreter
// states, so a script may call into Go code that runs another script.
package script

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"

	lua "github.com/yuin/gopher-lua"
	"github.com/yuin/gopher-lua/parse"
)

var (
	// ErrNoEntry is returned when source does not define the expected function.
	ErrNoEntry = errors.New("source does not define function")
)

var functionHeader = regexp.MustCompile(`(?m)^[ \t]*function[ \t]+([A-Za-z_][A-Za-z0-9_]*)[ \t]*\(`)

// FunctionName returns the name declared by the first "function name(" header
// in source, or "" when there is none.
func FunctionName(source string) string {
	m := functionHeader.FindStringSubmatch(source)
	if m == nil {
		return ""
	}
	return m[1]
}

// Program is compiled source whose chunk defines the function Entry.
type Program struct {
	Name   string
	Entry  string
	Source string

	proto *lua.FunctionProto
}

// Engine compiles and runs programs.
type Engine struct {
	pool *statePool
}

// NewEngine creates an engine with an empty state pool.
func NewEngine() *Engine {
	return &Engine{pool: &statePool{}}
}

// Close releases every pooled interpreter state.
func (e *Engine) Close() {
	e.pool.shutdown()
}

// Compile parses and compiles source. When entry is empty, the name declared
// by the source header is used.
func (e *Engine) Compile(name, source, entry string) (*Program, error) {
	if entry == "" {
		entry = FunctionName(source)
	}
	if entry == "" {
		return nil, fmt.Errorf("%w: no function header in %s", ErrNoEntry, name)
	}

	proto, err := compile(name, source)
	if err != nil {
		return nil, err
	}
	return &Program{Name: name, Entry: entry, Source: source, proto: proto}, nil
}

func compile(name, source string) (*lua.FunctionProto, error) {
	chunk, err := parse.Parse(strings.NewReader(source), name)
	if err != nil {
		return nil, fmt.Errorf("syntax error in %s: %w", name, err)
	}
	proto, err := lua.Compile(chunk, name)
	if err != nil {
		return nil, fmt.Errorf("failed to compile %s: %w", name, err)
	}
	return proto, nil
}

// Check runs the program chunk and verifies it defines its entry function.
func (e *Engine) Check(ctx context.Context, p *Program, scope Scope) error {
	L := e.pool.get()
	L.SetContext(ctx)
	_, err := instantiate(L, p, scope)
	L.RemoveContext()
	e.pool.put(L, err == nil)
	return err
}

// Call runs the program chunk and calls its entry function with args.
func (e *Engine) Call(ctx context.Context, p *Program, scope Scope, args ...any) (any, error) {
	L := e.pool.get()
	L.SetContext(ctx)

	ret, err := call(L, p, scope, args)

	L.RemoveContext()
	e.pool.put(L, err == nil)
	return ret, err
}

func call(L *lua.LState, p *Program, scope Scope, args []any) (any, error) {
	fn, err := instantiate(L, p, scope)
	if err != nil {
		return nil, err
	}

	largs := make([]lua.LValue, 0, len(args))
	for _, a := range args {
		largs = append(largs, toLua(L, a))
	}
	if err := L.CallByParam(lua.P{Fn: fn, NRet: 1, Protect: true}, largs...); err != nil {
		return nil, fmt.Errorf("%s: %w", p.Entry, err)
	}
	ret := L.Get(-1)
	L.Pop(1)
	value, err := fromLua(ret)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", p.Entry, err)
	}
	return value, nil
}

// Exec runs source as a statement block and returns the value left in the
// variable named result. ok is false when the variable is not set.
func (e *Engine) Exec(ctx context.Context, source string, scope Scope, result string) (value any, ok bool, err error) {
	proto, err := compile("shell", source)
	if err != nil {
		return nil, false, err
	}

	L := e.pool.get()
	L.SetContext(ctx)
	defer func() {
		L.RemoveContext()
		e.pool.put(L, err == nil)
	}()

	chunk := L.NewFunctionFromProto(proto)
	chunk.Env = newEnv(L, scope)
	L.Push(chunk)
	if err := L.PCall(0, 0, nil); err != nil {
		return nil, false, err
	}

	lv := chunk.Env.RawGetString(result)
	if lv == lua.LNil {
		return nil, false, nil
	}
	value, err = fromLua(lv)
	if err != nil {
		return nil, false, fmt.Errorf("%s: %w", result, err)
	}
	return value, true, nil
}

func instantiate(L *lua.LState, p *Program, scope Scope) (*lua.LFunction, error) {
	chunk := L.NewFunctionFromProto(p.proto)
	chunk.Env = newEnv(L, scope)
	L.Push(chunk)
	if err := L.PCall(0, 0, nil); err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", p.Name, err)
	}
	fn, ok := chunk.Env.RawGetString(p.Entry).(*lua.LFunction)
	if !ok {
		return nil, fmt.Errorf("%w %s in %s", ErrNoEntry, p.Entry, p.Name)
	}
	return fn, nil
}

// newEnv builds the global table of a chunk: names resolve through scope
// first, then the interpreter globals. Assignments stay in the chunk.
func newEnv(L *lua.LState, scope Scope) *lua.LTable {
	env := L.NewTable()
	mt := L.NewTable()
	globals := L.G.Global
	mt.RawSetString("__index", L.NewFunction(func(L *lua.LState) int {
		key := L.Get(2)
		if name, ok := key.(lua.LString); ok && scope != nil {
			if v, ok := scope.Resolve(string(name)); ok {
				L.Push(toLua(L, v))
				return 1
			}
		}
		L.Push(globals.RawGet(key))
		return 1
	}))
	L.SetMetatable(env, mt)
	return env
}

type statePool struct {
	mu    sync.Mutex
	saved []*lua.LState
}

func (p *statePool) get() *lua.LState {
	p.mu.Lock()
	defer p.mu.Unlock()

	n := len(p.saved)
	if n == 0 {
		return newState()
	}
	L := p.saved[n-1]
	p.saved = p.saved[:n-1]
	return L
}

// put returns L to the pool. States that saw an error are closed instead,
// since a cancelled call can leave the call stack unwound mid-frame.
func (p *statePool) put(L *lua.LState, healthy bool) {
	if !healthy {
		L.Close()
		return
	}
	L.SetTop(0)

	p.mu.Lock()
	defer p.mu.Unlock()
	p.saved = append(p.saved, L)
}

func (p *statePool) shutdown() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, L := range p.saved {
		L.Close()
	}
	p.saved = nil
}

func newState() *lua.LState {
	L := lua.NewState(lua.Options{SkipOpenLibs: true})
	for _, lib := range []struct {
		name string
		fn   lua.LGFunction
	}{
		{lua.BaseLibName, lua.OpenBase},
		{lua.TabLibName, lua.OpenTable},
		{lua.StringLibName, lua.OpenString},
		{lua.MathLibName, lua.OpenMath},
	} {
		if err := L.CallByParam(lua.P{Fn: L.NewFunction(lib.fn), NRet: 0, Protect: true}, lua.LString(lib.name)); err != nil {
			panic(fmt.Sprintf("script: failed to open %q library: %v", lib.name, err))
		}
	}
	L.SetGlobal("dofile", lua.LNil)
	L.SetGlobal("loadfile", lua.LNil)
	registerObjectType(L)
	return L
}
