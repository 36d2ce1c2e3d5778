package blur

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"weak"

	"github.com/dyluth/blur/internal/script"
)

// Method is a class-level method definition. Source is the text as written
// inside the class body, one indentation level deep; it is empty for native
// methods.
type Method struct {
	Name   string
	Source string
	Func   *Func
}

// Class owns a method table and, once blur-capable, the set of its live
// instances.
type Class struct {
	name   string
	module *Module
	base   *Class

	mu        sync.RWMutex
	methods   map[string]*Method
	order     []string
	patches   map[string]*Func
	onNew     []func(*Object)
	tracked   bool
	instances instanceSet
}

// Name returns the class name.
func (c *Class) Name() string { return c.name }

// Module returns the defining module.
func (c *Class) Module() *Module { return c.module }

// Base returns the base class, or nil.
func (c *Class) Base() *Class { return c.base }

// Path returns "module.Class".
func (c *Class) Path() string { return c.module.path + "." + c.name }

// Method compiles source and installs it as the class method name. The
// function declared in source may carry the class body indentation.
func (c *Class) Method(name, source string) error {
	net := c.module.net
	prog, err := net.engine.Compile(c.Path()+"."+name, source, "")
	if err != nil {
		return err
	}
	if err := net.engine.Check(context.Background(), prog, c.module.scope()); err != nil {
		return err
	}

	f := &Func{module: c.module, name: c.name + "." + name, program: prog}
	f.id = c.module.net.newID()
	c.install(&Method{Name: name, Source: source, Func: f})
	return nil
}

// NativeMethod installs a Go implementation of the class method name.
func (c *Class) NativeMethod(name string, fn Callable) {
	f := &Func{module: c.module, name: c.name + "." + name, native: fn}
	f.id = c.module.net.newID()
	c.install(&Method{Name: name, Func: f})
}

func (c *Class) install(m *Method) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.methods[m.Name]; !ok {
		c.order = append(c.order, m.Name)
	}
	c.methods[m.Name] = m
}

// lookupMethod walks the class and its bases.
func (c *Class) lookupMethod(name string) (*Method, bool) {
	for cls := c; cls != nil; cls = cls.base {
		cls.mu.RLock()
		m, ok := cls.methods[name]
		cls.mu.RUnlock()
		if ok {
			return m, true
		}
	}
	return nil, false
}

// Lookup returns the class-level implementation of name, walking bases.
func (c *Class) Lookup(name string) (*Func, bool) {
	m, ok := c.lookupMethod(name)
	if !ok {
		return nil, false
	}
	return m.Func, true
}

// Members returns the sorted names of methods declared by this class that
// its base class does not already provide.
func (c *Class) Members() []string {
	c.mu.RLock()
	names := make([]string, 0, len(c.order))
	names = append(names, c.order...)
	c.mu.RUnlock()

	out := names[:0]
	for _, name := range names {
		if c.base != nil {
			if _, ok := c.base.lookupMethod(name); ok {
				continue
			}
		}
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// OnNew registers a hook run for every object constructed by New.
func (c *Class) OnNew(hook func(*Object)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onNew = append(c.onNew, hook)
}

func (c *Class) track() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.tracked {
		return
	}
	c.tracked = true
	c.onNew = append(c.onNew, c.instances.add)
}

// Tracked reports whether the class is blur-capable.
func (c *Class) Tracked() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.tracked
}

// New constructs an object with a copy of fields and runs the construction
// hooks.
func (c *Class) New(fields map[string]any) *Object {
	o := &Object{
		class:     c,
		fields:    make(map[string]any, len(fields)),
		overrides: make(map[string]*Func),
	}
	for k, v := range fields {
		o.fields[k] = v
	}

	c.mu.RLock()
	hooks := make([]func(*Object), len(c.onNew))
	copy(hooks, c.onNew)
	c.mu.RUnlock()

	for _, hook := range hooks {
		hook(o)
	}
	return o
}

// Instances returns the live tracked instances in construction order.
func (c *Class) Instances() []*Object {
	return c.instances.live()
}

func (c *Class) recordPatch(name string, f *Func) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.patches[name] = f
}

func (c *Class) patch(name string) (*Func, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	f, ok := c.patches[name]
	return f, ok
}

// scope exposes the class to scripts as a table with "new" and "name".
func (c *Class) scope() script.Scope {
	return script.ScopeFunc(func(name string) (any, bool) {
		switch name {
		case "name":
			return c.name, true
		case "new":
			return Callable(func(ctx context.Context, args ...any) (any, error) {
				fields := map[string]any{}
				if len(args) > 0 {
					if m, ok := args[0].(map[string]any); ok {
						fields = m
					}
				}
				return c.New(fields), nil
			}), true
		}
		return nil, false
	})
}

// instanceSet holds weak pointers to objects. Collected objects are pruned
// whenever the set is read.
type instanceSet struct {
	mu   sync.Mutex
	refs []weak.Pointer[Object]
}

func (s *instanceSet) add(o *Object) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refs = append(s.refs, weak.Make(o))
}

func (s *instanceSet) live() []*Object {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*Object, 0, len(s.refs))
	kept := s.refs[:0]
	for _, ref := range s.refs {
		if o := ref.Value(); o != nil {
			out = append(out, o)
			kept = append(kept, ref)
		}
	}
	for i := len(kept); i < len(s.refs); i++ {
		s.refs[i] = weak.Pointer[Object]{}
	}
	s.refs = kept
	return out
}

// Object is an instance of a Class. Its override table is consulted before
// the class method table.
type Object struct {
	class *Class

	mu        sync.RWMutex
	fields    map[string]any
	overrides map[string]*Func
}

// Class returns the class the object was constructed from.
func (o *Object) Class() *Class { return o.class }

// Get returns the field called name.
func (o *Object) Get(name string) (any, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	v, ok := o.fields[name]
	return v, ok
}

// Set assigns the field called name.
func (o *Object) Set(name string, value any) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.fields[name] = value
}

// Override binds fn as this object's implementation of the method name.
func (o *Object) Override(name string, fn *Func) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.overrides[name] = fn
}

// Overridden returns the per-instance override of name, if any.
func (o *Object) Overridden(name string) (*Func, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	f, ok := o.overrides[name]
	return f, ok
}

// Method resolves name: instance override first, then the class table.
func (o *Object) Method(name string) (*Func, bool) {
	if f, ok := o.Overridden(name); ok {
		return f, true
	}
	return o.class.Lookup(name)
}

// Responds reports whether the object has a method called name.
func (o *Object) Responds(name string) bool {
	_, ok := o.Method(name)
	return ok
}

// Call invokes the method name with the object as first argument.
func (o *Object) Call(ctx context.Context, name string, args ...any) (any, error) {
	fn, ok := o.Method(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s.%s", ErrNoMethod, o.class.Path(), name)
	}
	return fn.Call(ctx, append([]any{o}, args...)...)
}

func (o *Object) String() string {
	return fmt.Sprintf("<%s object at %p>", o.class.Path(), o)
}
