package blur

import (
	"context"
	"fmt"
	"log"
	"strings"
)

// UpdateKind tells what an identity resolved to.
type UpdateKind string

const (
	// UpdateFunction replaced a registered free function.
	UpdateFunction UpdateKind = "function"
	// UpdateMethod re-bound a method on the live instances of a class.
	UpdateMethod UpdateKind = "method"
)

// UpdateResult reports what an applied update touched.
type UpdateResult struct {
	ID   string     `json:"id"`
	Kind UpdateKind `json:"kind"`
	Path string     `json:"path"`
	// Instances is the number of objects that received the override.
	Instances int `json:"instances"`
	// Failed counts instances whose sandbox run returned an error.
	Failed int `json:"failed"`
	// Relinked is the number of blurred wrappers now delegating to the new
	// function.
	Relinked int `json:"relinked"`
}

// ApplyUpdate compiles source and swaps it in for the function or method
// named by id. Nothing is changed when an error is returned.
func (n *Network) ApplyUpdate(ctx context.Context, id, source string) (result *UpdateResult, err error) {
	if n.updateTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, n.updateTimeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			result, err = nil, fmt.Errorf("update of %s panicked: %v", id, r)
		}
		if err != nil {
			n.logEvent("update_failed", map[string]interface{}{
				"id":    id,
				"error": err.Error(),
			})
			return
		}
		n.logEvent("update_applied", map[string]interface{}{
			"id":        id,
			"kind":      string(result.Kind),
			"path":      result.Path,
			"instances": result.Instances,
			"relinked":  result.Relinked,
		})
	}()

	if fn, ok := n.Function(id); ok {
		return n.updateFunction(ctx, fn, source)
	}

	cls, name, err := n.resolveMethod(id)
	if err != nil {
		return nil, err
	}
	return n.updateMethod(ctx, id, cls, name, source)
}

func (n *Network) updateFunction(ctx context.Context, old *Func, source string) (*UpdateResult, error) {
	prog, err := n.engine.Compile(old.Path(), source, "")
	if err != nil {
		return nil, fmt.Errorf("failed to compile update for %s: %w", old.Path(), err)
	}
	if err := n.engine.Check(ctx, prog, old.module.scope()); err != nil {
		return nil, fmt.Errorf("failed to load update for %s: %w", old.Path(), err)
	}

	fn := &Func{id: old.id, module: old.module, name: old.name, program: prog}

	n.mu.Lock()
	n.framework[old.id] = fn
	old.module.funcs[old.name] = fn
	blurred := make([]*Blurred, len(n.blurred))
	copy(blurred, n.blurred)
	n.mu.Unlock()

	relinked := 0
	for _, b := range blurred {
		d := b.Delegate()
		if d == old || (d == nil && b.original == old) {
			b.delegate.Store(fn)
			relinked++
		}

		b.mu.Lock()
		for i, cb := range b.callbacks {
			if cb == old {
				b.callbacks[i] = fn
			}
		}
		b.mu.Unlock()
	}

	log.Printf("[Blur] Updated function %s (%s), %d wrapper(s) relinked", fn.Path(), fn.id, relinked)
	return &UpdateResult{ID: fn.id, Kind: UpdateFunction, Path: fn.Path(), Relinked: relinked}, nil
}

func (n *Network) updateMethod(ctx context.Context, id string, cls *Class, name, source string) (*UpdateResult, error) {
	prog, err := n.engine.Compile(id, source, "")
	if err != nil {
		return nil, fmt.Errorf("failed to compile update for %s: %w", id, err)
	}
	if err := n.engine.Check(ctx, prog, cls.module.scope()); err != nil {
		return nil, fmt.Errorf("failed to load update for %s: %w", id, err)
	}

	fn := &Func{module: cls.module, name: cls.name + "." + name, program: prog}
	fn.id = n.newID()

	instances := cls.Instances()
	for _, o := range instances {
		o.Override(name, fn)
	}
	cls.recordPatch(name, fn)

	result := &UpdateResult{ID: id, Kind: UpdateMethod, Path: id, Instances: len(instances)}
	if name == SandboxMethod {
		for _, o := range instances {
			if _, err := o.Call(ctx, name); err != nil {
				log.Printf("[Blur] Sandbox run on %s failed: %v", o, err)
				result.Failed++
			}
		}
	}

	log.Printf("[Blur] Patched method %s on %d instance(s)", id, len(instances))
	return result, nil
}

// resolveMethod splits "module.Class.method" on its last two dots. A path
// without a module part is looked up among the registered classes.
func (n *Network) resolveMethod(path string) (*Class, string, error) {
	i := strings.LastIndex(path, ".")
	if i <= 0 || i == len(path)-1 {
		return nil, "", fmt.Errorf("%w: %s", ErrUnknownIdentity, path)
	}
	rest, name := path[:i], path[i+1:]

	var cls *Class
	if j := strings.LastIndex(rest, "."); j >= 0 {
		m, ok := n.lookupModule(rest[:j])
		if ok {
			n.mu.RLock()
			cls = m.classes[rest[j+1:]]
			n.mu.RUnlock()
		}
	} else {
		cls, _ = n.LookupClass(rest)
	}

	if cls == nil {
		return nil, "", fmt.Errorf("%w: %s", ErrUnknownIdentity, path)
	}
	if _, ok := cls.Lookup(name); !ok {
		return nil, "", fmt.Errorf("%w: %s", ErrUnknownIdentity, path)
	}
	return cls, name, nil
}

// FetchSource returns the source of the free function registered under id,
// or of the method named by id.
func (n *Network) FetchSource(id string) (string, error) {
	if fn, ok := n.Function(id); ok {
		return fn.Source()
	}
	return n.FetchMethodSource(id)
}

// FetchMethodSource returns the source of the method at path with one level
// of indentation removed. Once the method has been patched, the source of the
// latest patch is returned instead.
func (n *Network) FetchMethodSource(path string) (string, error) {
	cls, name, err := n.resolveMethod(path)
	if err != nil {
		return "", err
	}
	if fn, ok := cls.patch(name); ok {
		return fn.Source()
	}

	m, _ := cls.lookupMethod(name)
	if m.Source == "" {
		return "", fmt.Errorf("%w: %s is native", ErrNoSource, path)
	}
	return dedent(m.Source), nil
}

// dedent strips one leading tab or four spaces from every line.
func dedent(source string) string {
	lines := strings.Split(source, "\n")
	for i, line := range lines {
		switch {
		case strings.HasPrefix(line, "\t"):
			lines[i] = line[1:]
		case strings.HasPrefix(line, "    "):
			lines[i] = line[4:]
		}
	}
	return strings.Join(lines, "\n")
}
