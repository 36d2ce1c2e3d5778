package blur

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dyluth/blur/internal/script"
)

// Callable is the signature of native functions and methods. Methods receive
// the *Object they are called on as args[0].
type Callable = script.Callable

var (
	// ErrUnknownIdentity is returned when an identity names neither a
	// registered function nor a class method.
	ErrUnknownIdentity = errors.New("unknown identity")
	// ErrUnknownClass is returned for class names that were never registered.
	ErrUnknownClass = errors.New("unknown class")
	// ErrNoSource is returned when source is requested for a native function.
	ErrNoSource = errors.New("no source available")
	// ErrNoMethod is returned when an object has no method with a given name.
	ErrNoMethod = errors.New("no such method")
)

// SandboxMethod is the zero-argument method installed on every blur-capable
// class. Updating it runs the new body once on every patched instance.
const SandboxMethod = "blurSandbox"

// DefaultExcludedClassPrefixes hides GUI toolkit classes from class listings.
var DefaultExcludedClassPrefixes = []string{"Q"}

// Options configures a Network.
type Options struct {
	// Environment is the application environment name the process
	// identifies as.
	Environment string
	// ExcludeClassPrefixes filters class names out of DescribeClasses. Nil
	// means DefaultExcludedClassPrefixes; an empty slice disables filtering.
	ExcludeClassPrefixes []string
	// UpdateTimeout bounds ApplyUpdate and Eval. Zero means no bound.
	UpdateTimeout time.Duration
}

// Network is the process-wide registry of functions, blurred wrappers and
// classes. It is safe for concurrent use.
type Network struct {
	engine        *script.Engine
	excluded      []string
	updateTimeout time.Duration
	lastID        atomic.Uint64

	mu          sync.RWMutex
	env         string
	modules     map[string]*Module
	framework   map[string]*Func
	blurred     []*Blurred
	classes     map[string]*Class
	plugins     []any
	initPlugins []any
}

// NewNetwork creates an empty network.
func NewNetwork(opts Options) *Network {
	excluded := opts.ExcludeClassPrefixes
	if excluded == nil {
		excluded = DefaultExcludedClassPrefixes
	}
	return &Network{
		engine:        script.NewEngine(),
		excluded:      excluded,
		updateTimeout: opts.UpdateTimeout,
		env:           opts.Environment,
		modules:       make(map[string]*Module),
		framework:     make(map[string]*Func),
		classes:       make(map[string]*Class),
	}
}

// Close releases the scripting resources held by the network.
func (n *Network) Close() {
	n.engine.Close()
}

// Environment returns the application environment name.
func (n *Network) Environment() string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.env
}

// SetEnvironment changes the application environment name.
func (n *Network) SetEnvironment(name string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.env = name
}

// Module returns the module registered under path, creating it if needed.
func (n *Network) Module(path string) *Module {
	n.mu.Lock()
	defer n.mu.Unlock()

	if m, ok := n.modules[path]; ok {
		return m
	}
	m := &Module{
		net:     n,
		path:    path,
		funcs:   make(map[string]*Func),
		blurred: make(map[string]*Blurred),
		classes: make(map[string]*Class),
	}
	n.modules[path] = m
	return m
}

func (n *Network) lookupModule(path string) (*Module, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	m, ok := n.modules[path]
	return m, ok
}

// RegisterFreeFunction adds fn to the framework registry and returns its
// identity. Registering the same function again is a no-op.
func (n *Network) RegisterFreeFunction(fn *Func) string {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.registerFunc(fn)
	return fn.id
}

func (n *Network) registerFunc(fn *Func) {
	if _, ok := n.framework[fn.id]; !ok {
		n.framework[fn.id] = fn
	}
}

// RegisterModule registers every function and class currently declared in m.
func (n *Network) RegisterModule(m *Module) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.registerModule(m)
}

// newID returns an identity no other function or wrapper of n has had.
func (n *Network) newID() string {
	return fmt.Sprintf("0x%08x", n.lastID.Add(1))
}

func (n *Network) registerModule(m *Module) {
	for _, name := range m.order {
		n.registerFunc(m.funcs[name])
	}
	for _, name := range m.classOrder {
		n.classes[name] = m.classes[name]
	}
}

// MakeBlurCapable wraps fn in a Blurred function with no delegate and no
// callbacks. Scripts of fn's module resolve fn's name to the wrapper.
func (n *Network) MakeBlurCapable(fn *Func) *Blurred {
	b := &Blurred{original: fn}
	b.id = n.newID()

	n.mu.Lock()
	defer n.mu.Unlock()
	n.blurred = append(n.blurred, b)
	fn.module.blurred[fn.name] = b
	n.registerModule(fn.module)
	return b
}

// LinkDelegate makes b call fn instead of its original from the next call on.
func (n *Network) LinkDelegate(b *Blurred, fn *Func) {
	b.delegate.Store(fn)

	n.mu.Lock()
	defer n.mu.Unlock()
	n.registerModule(fn.module)
}

// AddCallback appends cb to the callbacks fired on every call of b.
func (n *Network) AddCallback(b *Blurred, cb *Func) {
	b.mu.Lock()
	b.callbacks = append(b.callbacks, cb)
	b.mu.Unlock()

	n.mu.Lock()
	defer n.mu.Unlock()
	n.registerModule(cb.module)
}

// MarkClassBlurCapable starts tracking the live instances of cls. Objects
// created by cls.New from now on join the instance set. A no-op
// SandboxMethod is installed when the class does not define one.
func (n *Network) MarkClassBlurCapable(cls *Class) {
	if _, ok := cls.Lookup(SandboxMethod); !ok {
		cls.NativeMethod(SandboxMethod, func(ctx context.Context, args ...any) (any, error) {
			return nil, nil
		})
	}
	cls.track()

	n.mu.Lock()
	defer n.mu.Unlock()
	n.classes[cls.name] = cls
	n.registerModule(cls.module)
}

// Function returns the function registered under id.
func (n *Network) Function(id string) (*Func, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	f, ok := n.framework[id]
	return f, ok
}

// Blurred returns the wrapper with the given identity.
func (n *Network) Blurred(id string) (*Blurred, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	for _, b := range n.blurred {
		if b.id == id {
			return b, true
		}
	}
	return nil, false
}

// LookupClass returns the registered class called name.
func (n *Network) LookupClass(name string) (*Class, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	c, ok := n.classes[name]
	return c, ok
}

// FunctionInfo describes one blurred wrapper. Blur is nil while the wrapper
// has no delegate.
type FunctionInfo struct {
	Blur      *string  `json:"blur"`
	Original  string   `json:"original"`
	Callbacks []string `json:"callbacks"`
}

// DescribeFunctions returns the blurred function network keyed by wrapper
// identity.
func (n *Network) DescribeFunctions() map[string]FunctionInfo {
	n.mu.RLock()
	blurred := make([]*Blurred, len(n.blurred))
	copy(blurred, n.blurred)
	n.mu.RUnlock()

	out := make(map[string]FunctionInfo, len(blurred))
	for _, b := range blurred {
		info := FunctionInfo{
			Original:  b.original.id,
			Callbacks: []string{},
		}
		if d := b.Delegate(); d != nil {
			id := d.id
			info.Blur = &id
		}
		for _, cb := range b.Callbacks() {
			info.Callbacks = append(info.Callbacks, cb.id)
		}
		out[b.id] = info
	}
	return out
}

// DescribeFramework maps every registered function identity to
// "module.name".
func (n *Network) DescribeFramework() map[string]string {
	n.mu.RLock()
	defer n.mu.RUnlock()

	out := make(map[string]string, len(n.framework))
	for id, f := range n.framework {
		out[id] = f.Path()
	}
	return out
}

// DescribeClasses returns the sorted names of registered classes, leaving out
// names with an excluded toolkit prefix.
func (n *Network) DescribeClasses() []string {
	n.mu.RLock()
	defer n.mu.RUnlock()

	names := make([]string, 0, len(n.classes))
	for name := range n.classes {
		if n.isExcluded(name) {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (n *Network) isExcluded(name string) bool {
	for _, prefix := range n.excluded {
		if prefix != "" && strings.HasPrefix(name, prefix) {
			return true
		}
	}
	return false
}

// ClassInfo describes a class: its dotted path and the methods it declares
// on top of its base class.
type ClassInfo struct {
	Name  string   `json:"name"`
	Funcs []string `json:"funcs"`
}

// DescribeClassMembers describes the registered class called name.
func (n *Network) DescribeClassMembers(name string) (*ClassInfo, error) {
	cls, ok := n.LookupClass(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownClass, name)
	}
	return &ClassInfo{Name: cls.Path(), Funcs: cls.Members()}, nil
}
