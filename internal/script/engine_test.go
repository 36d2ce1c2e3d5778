package script

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testObject struct {
	fields  map[string]any
	methods map[string]Callable
}

func (o *testObject) Get(name string) (any, bool) {
	v, ok := o.fields[name]
	return v, ok
}

func (o *testObject) Set(name string, value any) { o.fields[name] = value }

func (o *testObject) Responds(name string) bool {
	_, ok := o.methods[name]
	return ok
}

func (o *testObject) Call(ctx context.Context, name string, args ...any) (any, error) {
	m, ok := o.methods[name]
	if !ok {
		return nil, fmt.Errorf("no method %s", name)
	}
	return m(ctx, append([]any{o}, args...)...)
}

func (o *testObject) String() string { return "<testObject>" }

func TestFunctionName(t *testing.T) {
	assert.Equal(t, "greet", FunctionName("function greet(name)\n  return name\nend\n"))
	assert.Equal(t, "label", FunctionName("    function label(self)\n    end"))
	assert.Equal(t, "", FunctionName("local x = 1"))
}

func TestCompile(t *testing.T) {
	e := NewEngine()
	defer e.Close()

	t.Run("valid source", func(t *testing.T) {
		p, err := e.Compile("demo", "function add(a, b) return a + b end", "")
		require.NoError(t, err)
		assert.Equal(t, "add", p.Entry)
	})

	t.Run("syntax error", func(t *testing.T) {
		_, err := e.Compile("demo", "function add(a, b) return a + end", "")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "syntax error")
	})

	t.Run("missing header", func(t *testing.T) {
		_, err := e.Compile("demo", "x = 1", "")
		assert.ErrorIs(t, err, ErrNoEntry)
	})
}

func TestCall(t *testing.T) {
	e := NewEngine()
	defer e.Close()
	ctx := context.Background()

	t.Run("calls entry with arguments", func(t *testing.T) {
		p, err := e.Compile("demo", "function add(a, b) return a + b end", "")
		require.NoError(t, err)

		ret, err := e.Call(ctx, p, nil, 2, 3)
		require.NoError(t, err)
		assert.Equal(t, 5, ret)
	})

	t.Run("resolves names through scope", func(t *testing.T) {
		scope := ScopeFunc(func(name string) (any, bool) {
			if name != "double" {
				return nil, false
			}
			return Callable(func(ctx context.Context, args ...any) (any, error) {
				return args[0].(int) * 2, nil
			}), true
		})
		p, err := e.Compile("demo", "function quad(x) return double(double(x)) end", "")
		require.NoError(t, err)

		ret, err := e.Call(ctx, p, scope, 3)
		require.NoError(t, err)
		assert.Equal(t, 12, ret)
	})

	t.Run("host errors surface as script errors", func(t *testing.T) {
		scope := ScopeFunc(func(name string) (any, bool) {
			return Callable(func(ctx context.Context, args ...any) (any, error) {
				return nil, errors.New("host failure")
			}), name == "fail"
		})
		p, err := e.Compile("demo", "function run() return fail() end", "")
		require.NoError(t, err)

		_, err = e.Call(ctx, p, scope)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "host failure")
	})

	t.Run("objects expose fields and methods", func(t *testing.T) {
		obj := &testObject{
			fields: map[string]any{"text": "OK"},
			methods: map[string]Callable{
				"shout": func(ctx context.Context, args ...any) (any, error) {
					self := args[0].(*testObject)
					return self.fields["text"].(string) + "!", nil
				},
			},
		}
		p, err := e.Compile("demo", `
function label(self)
  self.count = 7
  return "[" .. self:shout() .. "]"
end`, "")
		require.NoError(t, err)

		ret, err := e.Call(ctx, p, nil, obj)
		require.NoError(t, err)
		assert.Equal(t, "[OK!]", ret)
		assert.Equal(t, 7, obj.fields["count"])
	})

	t.Run("tables convert to slices and maps", func(t *testing.T) {
		p, err := e.Compile("demo", `function pack() return {1, 2, 3}, 0 end`, "")
		require.NoError(t, err)
		ret, err := e.Call(ctx, p, nil)
		require.NoError(t, err)
		assert.Equal(t, []any{1, 2, 3}, ret)

		p, err = e.Compile("demo", `function rec() return {name = "a", size = 1.5} end`, "")
		require.NoError(t, err)
		ret, err = e.Call(ctx, p, nil)
		require.NoError(t, err)
		assert.Equal(t, map[string]any{"name": "a", "size": 1.5}, ret)
	})

	t.Run("missing entry", func(t *testing.T) {
		p, err := e.Compile("demo", "function other() end", "wanted")
		require.NoError(t, err)
		_, err = e.Call(ctx, p, nil)
		assert.ErrorIs(t, err, ErrNoEntry)
	})

	t.Run("cancelled context aborts a runaway script", func(t *testing.T) {
		p, err := e.Compile("demo", "function spin() while true do end end", "")
		require.NoError(t, err)

		tctx, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
		defer cancel()

		start := time.Now()
		_, err = e.Call(tctx, p, nil)
		require.Error(t, err)
		assert.Less(t, time.Since(start), 5*time.Second)
	})
}

func TestExec(t *testing.T) {
	e := NewEngine()
	defer e.Close()
	ctx := context.Background()

	t.Run("returns ret when defined", func(t *testing.T) {
		v, ok, err := e.Exec(ctx, "ret = 40 + 2", nil, "ret")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, 42, v)
	})

	t.Run("nothing when ret is not defined", func(t *testing.T) {
		_, ok, err := e.Exec(ctx, "local x = 1", nil, "ret")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("runtime error", func(t *testing.T) {
		_, _, err := e.Exec(ctx, "error('bad')", nil, "ret")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "bad")
	})

	t.Run("file access is removed", func(t *testing.T) {
		v, ok, err := e.Exec(ctx, "ret = dofile == nil", nil, "ret")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, true, v)
	})

	t.Run("self-referencing table is an error", func(t *testing.T) {
		_, _, err := e.Exec(ctx, "t = {} t.self = t ret = t", nil, "ret")
		assert.ErrorIs(t, err, ErrCyclicValue)

		_, _, err = e.Exec(ctx, "a = {} b = {a} a[1] = b ret = {a}", nil, "ret")
		assert.ErrorIs(t, err, ErrCyclicValue)

		v, ok, err := e.Exec(ctx, "ret = 1", nil, "ret")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, 1, v)
	})

	t.Run("shared table is converted at each use", func(t *testing.T) {
		v, ok, err := e.Exec(ctx, "s = {1} ret = {left = s, right = s}", nil, "ret")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, map[string]any{"left": []any{1}, "right": []any{1}}, v)
	})

	t.Run("deeply nested table is an error", func(t *testing.T) {
		_, _, err := e.Exec(ctx, "ret = {} local t = ret for i = 1, 100 do t.next = {} t = t.next end", nil, "ret")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "nested deeper")
	})
}

func TestCall_CyclicValues(t *testing.T) {
	e := NewEngine()
	defer e.Close()
	ctx := context.Background()

	t.Run("returned from the entry function", func(t *testing.T) {
		p, err := e.Compile("demo", "function loop() local t = {} t[1] = t return t end", "")
		require.NoError(t, err)
		_, err = e.Call(ctx, p, nil)
		assert.ErrorIs(t, err, ErrCyclicValue)
	})

	t.Run("passed to a host function", func(t *testing.T) {
		called := false
		scope := ScopeFunc(func(name string) (any, bool) {
			return Callable(func(ctx context.Context, args ...any) (any, error) {
				called = true
				return nil, nil
			}), name == "sink"
		})
		p, err := e.Compile("demo", "function send() local t = {} t.me = t return sink(t) end", "")
		require.NoError(t, err)
		_, err = e.Call(ctx, p, scope)
		require.Error(t, err)
		assert.Contains(t, err.Error(), ErrCyclicValue.Error())
		assert.False(t, called)
	})

	t.Run("assigned to an object field", func(t *testing.T) {
		obj := &testObject{fields: map[string]any{}}
		p, err := e.Compile("demo", "function store(self) local t = {} t.me = t self.data = t end", "")
		require.NoError(t, err)
		_, err = e.Call(ctx, p, nil, obj)
		require.Error(t, err)
		assert.NotContains(t, obj.fields, "data")
	})
}
