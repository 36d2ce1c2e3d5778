package blur

import (
	"context"
	"fmt"

	"github.com/dyluth/blur/internal/script"
)

// Module groups functions and classes under a path.
type Module struct {
	net  *Network
	path string

	// guarded by net.mu
	funcs      map[string]*Func
	order      []string
	blurred    map[string]*Blurred
	classes    map[string]*Class
	classOrder []string
}

// Path returns the module path.
func (m *Module) Path() string { return m.path }

// Define compiles source and binds the function it declares under name.
func (m *Module) Define(name, source string) (*Func, error) {
	prog, err := m.net.engine.Compile(m.path+"."+name, source, "")
	if err != nil {
		return nil, err
	}
	if err := m.net.engine.Check(context.Background(), prog, m.scope()); err != nil {
		return nil, err
	}

	f := &Func{module: m, name: name, program: prog}
	f.id = m.net.newID()
	m.bind(f)
	return f, nil
}

// Native binds a Go function under name.
func (m *Module) Native(name string, fn Callable) *Func {
	f := &Func{module: m, name: name, native: fn}
	f.id = m.net.newID()
	m.bind(f)
	return f
}

func (m *Module) bind(f *Func) {
	m.net.mu.Lock()
	defer m.net.mu.Unlock()

	if _, ok := m.funcs[f.name]; !ok {
		m.order = append(m.order, f.name)
	}
	m.funcs[f.name] = f
}

// Lookup returns the function currently bound under name.
func (m *Module) Lookup(name string) (*Func, bool) {
	m.net.mu.RLock()
	defer m.net.mu.RUnlock()
	f, ok := m.funcs[name]
	return f, ok
}

// Functions returns the module's functions in declaration order.
func (m *Module) Functions() []*Func {
	m.net.mu.RLock()
	defer m.net.mu.RUnlock()

	out := make([]*Func, 0, len(m.order))
	for _, name := range m.order {
		out = append(out, m.funcs[name])
	}
	return out
}

// Class returns the class called name, declaring it with base when it does
// not exist yet.
func (m *Module) Class(name string, base *Class) *Class {
	m.net.mu.Lock()
	defer m.net.mu.Unlock()

	if c, ok := m.classes[name]; ok {
		return c
	}
	c := &Class{
		name:    name,
		module:  m,
		base:    base,
		methods: make(map[string]*Method),
		patches: make(map[string]*Func),
	}
	m.classes[name] = c
	m.classOrder = append(m.classOrder, name)
	return c
}

// scope resolves the free names of the module's scripts. Blurred wrappers
// shadow the function they wrap.
func (m *Module) scope() script.Scope {
	return script.ScopeFunc(func(name string) (any, bool) {
		m.net.mu.RLock()
		defer m.net.mu.RUnlock()

		if b, ok := m.blurred[name]; ok {
			return Callable(b.Call), true
		}
		if f, ok := m.funcs[name]; ok {
			return Callable(f.Call), true
		}
		if c, ok := m.classes[name]; ok {
			return c.scope(), true
		}
		return nil, false
	})
}

// Func is a named function of a module, native or scripted.
type Func struct {
	id      string
	module  *Module
	name    string
	native  Callable
	program *script.Program
}

// ID returns the identity string of the function.
func (f *Func) ID() string { return f.id }

// Name returns the name the function is bound under.
func (f *Func) Name() string { return f.name }

// Module returns the defining module.
func (f *Func) Module() *Module { return f.module }

// Path returns "module.name".
func (f *Func) Path() string { return f.module.path + "." + f.name }

// IsNative reports whether the function is implemented in Go.
func (f *Func) IsNative() bool { return f.native != nil }

// Source returns the script source of the function.
func (f *Func) Source() (string, error) {
	if f.program == nil {
		return "", fmt.Errorf("%w: %s is native", ErrNoSource, f.Path())
	}
	return f.program.Source, nil
}

// Call invokes the function.
func (f *Func) Call(ctx context.Context, args ...any) (any, error) {
	if f.native != nil {
		return f.native(ctx, args...)
	}
	return f.module.net.engine.Call(ctx, f.program, f.module.scope(), args...)
}

func (f *Func) String() string {
	return fmt.Sprintf("<function %s at %s>", f.Path(), f.id)
}
