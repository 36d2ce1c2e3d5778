package blur

import (
	"context"
	"fmt"

	"github.com/dyluth/blur/internal/script"
)

// ShellResult is the variable a shell statement assigns to return a value.
const ShellResult = "ret"

// Eval runs statement in the shell scope. The scope exposes:
//
//	app                 the environment name
//	module(path)        the members of a module, as seen by its scripts
//	call(id, ...)       calls a registered function or blurred wrapper
//	classes()           the names listed by DescribeClasses
//
// ok is false when the statement does not assign ret.
func (n *Network) Eval(ctx context.Context, statement string) (value any, ok bool, err error) {
	if n.updateTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, n.updateTimeout)
		defer cancel()
	}
	return n.engine.Exec(ctx, statement, n.shellScope(), ShellResult)
}

func (n *Network) shellScope() script.Scope {
	return script.ScopeFunc(func(name string) (any, bool) {
		switch name {
		case "app":
			return n.Environment(), true
		case "module":
			return Callable(func(ctx context.Context, args ...any) (any, error) {
				if len(args) != 1 {
					return nil, fmt.Errorf("module expects a path")
				}
				path, _ := args[0].(string)
				m, ok := n.lookupModule(path)
				if !ok {
					return nil, fmt.Errorf("unknown module %q", path)
				}
				return m.scope(), nil
			}), true
		case "call":
			return Callable(func(ctx context.Context, args ...any) (any, error) {
				if len(args) == 0 {
					return nil, fmt.Errorf("call expects an identity")
				}
				id, _ := args[0].(string)
				if b, ok := n.Blurred(id); ok {
					return b.Call(ctx, args[1:]...)
				}
				if fn, ok := n.Function(id); ok {
					return fn.Call(ctx, args[1:]...)
				}
				return nil, fmt.Errorf("%w: %s", ErrUnknownIdentity, id)
			}), true
		case "classes":
			return Callable(func(ctx context.Context, args ...any) (any, error) {
				return n.DescribeClasses(), nil
			}), true
		}
		return nil, false
	})
}
