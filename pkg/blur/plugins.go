package blur

import "fmt"

// PluginKind selects a plugin listing.
type PluginKind int

const (
	AllPlugins PluginKind = iota
	ClassPlugins
	FunctionPlugins
	InitPlugins
)

// RegisterPlugin records a plugin, a *Func or a *Class, and makes it
// blur-capable. Init plugins are kept in their own list. Registering the same
// plugin twice is a no-op.
func (n *Network) RegisterPlugin(plugin any, init bool) error {
	switch plugin.(type) {
	case *Func, *Class:
	default:
		return fmt.Errorf("unsupported plugin type %T", plugin)
	}

	n.mu.Lock()
	list := &n.plugins
	if init {
		list = &n.initPlugins
	}
	for _, p := range *list {
		if p == plugin {
			n.mu.Unlock()
			return nil
		}
	}
	*list = append(*list, plugin)
	n.mu.Unlock()

	switch p := plugin.(type) {
	case *Func:
		n.MakeBlurCapable(p)
	case *Class:
		n.MarkClassBlurCapable(p)
	}
	return nil
}

// Plugins lists the registered plugins of the given kind in registration
// order.
func (n *Network) Plugins(kind PluginKind) []any {
	n.mu.RLock()
	defer n.mu.RUnlock()

	src := n.plugins
	if kind == InitPlugins {
		src = n.initPlugins
	}

	out := make([]any, 0, len(src))
	for _, p := range src {
		switch p.(type) {
		case *Class:
			if kind == FunctionPlugins {
				continue
			}
		case *Func:
			if kind == ClassPlugins {
				continue
			}
		}
		out = append(out, p)
	}
	return out
}
