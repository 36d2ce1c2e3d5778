package protocol

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/dyluth/blur/internal/journal"
	"github.com/dyluth/blur/internal/statement"
	"github.com/dyluth/blur/internal/transport"
	"github.com/dyluth/blur/pkg/blur"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const greetSource = `function greet(name)
  return "hello " .. name
end`

type fixture struct {
	net     *blur.Network
	reg     *statement.Registry
	journal *journal.Journal
	greet   *blur.Func
	blurred *blur.Blurred
	button  *blur.Class
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	net := blur.NewNetwork(blur.Options{Environment: "Alpha"})
	t.Cleanup(net.Close)

	j, err := journal.Open(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { j.Close() })

	m := net.Module("demo/widgets")
	greet, err := m.Define("greet", greetSource)
	require.NoError(t, err)
	b := net.MakeBlurCapable(greet)

	button := m.Class("Button", nil)
	require.NoError(t, button.Method("click", "\tfunction click(self)\n\t\treturn self.text\n\tend"))
	net.MarkClassBlurCapable(button)

	return &fixture{
		net:     net,
		reg:     NewRegistry(net, j),
		journal: j,
		greet:   greet,
		blurred: b,
		button:  button,
	}
}

func (f *fixture) dispatch(t *testing.T, request string) string {
	t.Helper()
	reply, ok := f.reg.Dispatch(context.Background(), request)
	require.True(t, ok, "request %q was not handled", request)
	return reply
}

func TestRegister_Order(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, []string{
		"APP", "BLUR_FUNCTIONS", "PYTHON_FRAMEWORK", "CLASS_FRAMEWORK", "CLASS_MEMBERS:",
		"SHELL:", "CODE:", "UPDATE|", "HISTORY",
	}, f.reg.Commands())
}

func TestApp(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, "Alpha", f.dispatch(t, "APP"))

	_, ok := f.reg.Dispatch(context.Background(), "APPLICATION")
	assert.False(t, ok)
}

func TestDumps(t *testing.T) {
	f := newFixture(t)

	t.Run("blur functions", func(t *testing.T) {
		var got map[string]blur.FunctionInfo
		require.NoError(t, json.Unmarshal([]byte(f.dispatch(t, "BLUR_FUNCTIONS")), &got))
		require.Contains(t, got, f.blurred.ID())
		assert.Nil(t, got[f.blurred.ID()].Blur)
		assert.Equal(t, f.greet.ID(), got[f.blurred.ID()].Original)
	})

	t.Run("framework", func(t *testing.T) {
		var got map[string]string
		require.NoError(t, json.Unmarshal([]byte(f.dispatch(t, "PYTHON_FRAMEWORK")), &got))
		assert.Equal(t, "demo/widgets.greet", got[f.greet.ID()])
	})

	t.Run("class framework", func(t *testing.T) {
		assert.JSONEq(t, `["Button"]`, f.dispatch(t, "CLASS_FRAMEWORK"))
	})

	t.Run("class members", func(t *testing.T) {
		assert.JSONEq(t, `{"name": "demo/widgets.Button", "funcs": ["blurSandbox", "click"]}`,
			f.dispatch(t, "CLASS_MEMBERS:Button"))
	})

	t.Run("unknown class is not answered", func(t *testing.T) {
		reply, ok := f.reg.Dispatch(context.Background(), "CLASS_MEMBERS:Missing")
		assert.False(t, ok)
		assert.Empty(t, reply)
	})
}

func TestCode(t *testing.T) {
	f := newFixture(t)

	assert.Equal(t, greetSource, f.dispatch(t, "CODE:"+f.greet.ID()))
	assert.Equal(t, "function click(self)\n\treturn self.text\nend",
		f.dispatch(t, "CODE:demo/widgets.Button.click:CLASS"))

	_, ok := f.reg.Dispatch(context.Background(), "CODE:0xdeadbeef")
	assert.False(t, ok)
}

func TestUpdate(t *testing.T) {
	ctx := context.Background()

	t.Run("free function", func(t *testing.T) {
		f := newFixture(t)
		source := `function greet(name) return "hi " .. name .. " | bye" end`

		var reply UpdateReply
		require.NoError(t, json.Unmarshal([]byte(f.dispatch(t, "UPDATE|"+f.greet.ID()+"|"+source)), &reply))
		assert.True(t, reply.OK)
		assert.Equal(t, "function", reply.Kind)
		assert.Equal(t, 1, reply.Relinked)

		assert.Equal(t, source, f.dispatch(t, "CODE:"+f.greet.ID()))
		got, err := f.blurred.Call(ctx, "Ada")
		require.NoError(t, err)
		assert.Equal(t, "hi Ada | bye", got)
	})

	t.Run("method", func(t *testing.T) {
		f := newFixture(t)
		obj := f.button.New(map[string]any{"text": "OK"})

		var reply UpdateReply
		require.NoError(t, json.Unmarshal([]byte(f.dispatch(t,
			`UPDATE|demo/widgets.Button.click|function click(self) return "<" .. self.text .. ">" end`)), &reply))
		assert.True(t, reply.OK)
		assert.Equal(t, "method", reply.Kind)
		assert.Equal(t, 1, reply.Instances)

		got, err := obj.Call(ctx, "click")
		require.NoError(t, err)
		assert.Equal(t, "<OK>", got)
	})

	t.Run("failure is reported and nothing changes", func(t *testing.T) {
		f := newFixture(t)

		var reply UpdateReply
		require.NoError(t, json.Unmarshal([]byte(f.dispatch(t, "UPDATE|"+f.greet.ID()+"|function greet(")), &reply))
		assert.False(t, reply.OK)
		assert.Contains(t, reply.Error, "syntax error")
		assert.Equal(t, greetSource, f.dispatch(t, "CODE:"+f.greet.ID()))
	})

	t.Run("malformed request", func(t *testing.T) {
		f := newFixture(t)
		_, ok := f.reg.Dispatch(ctx, "UPDATE|only-id")
		assert.False(t, ok)
	})

	t.Run("updates are journalled", func(t *testing.T) {
		f := newFixture(t)
		f.dispatch(t, "UPDATE|"+f.greet.ID()+"|function greet(n) return n end")
		f.dispatch(t, "UPDATE|0xdeadbeef|function x() end")

		entries, err := f.journal.List(0)
		require.NoError(t, err)
		require.Len(t, entries, 2)
		assert.Equal(t, "0xdeadbeef", entries[0].Target)
		assert.False(t, entries[0].OK)
		assert.Equal(t, f.greet.ID(), entries[1].Target)
		assert.True(t, entries[1].OK)
		assert.Equal(t, "Alpha", entries[1].App)

		var history []journal.Entry
		require.NoError(t, json.Unmarshal([]byte(f.dispatch(t, "HISTORY:1")), &history))
		require.Len(t, history, 1)
		assert.Equal(t, "0xdeadbeef", history[0].Target)
	})
}

func TestShell(t *testing.T) {
	f := newFixture(t)

	assert.Equal(t, `"Alpha"`, f.dispatch(t, "SHELL:ret = app"))
	assert.Equal(t, `3`, f.dispatch(t, "SHELL:ret = 1 + 2"))
	assert.Equal(t, `"hello Bob"`,
		f.dispatch(t, fmt.Sprintf("SHELL:ret = call(%q, %q)", f.blurred.ID(), "Bob")))
	assert.Contains(t, f.dispatch(t, "SHELL:error('nope')"), "nope")
	assert.Contains(t, f.dispatch(t, "SHELL:t = {} t.self = t ret = t"), "contains itself")
	assert.Equal(t, "Alpha", f.dispatch(t, "APP"))

	_, ok := f.reg.Dispatch(context.Background(), "SHELL:local x = 1")
	assert.False(t, ok)
}

func TestHistory_WithoutJournal(t *testing.T) {
	net := blur.NewNetwork(blur.Options{Environment: "Alpha"})
	defer net.Close()
	reg := NewRegistry(net, nil)

	reply, ok := reg.Dispatch(context.Background(), "HISTORY")
	require.True(t, ok)
	assert.Equal(t, "[]", reply)

	_, ok = reg.Dispatch(context.Background(), "HISTORY:abc")
	assert.False(t, ok)
}

func TestServer_SurvivesFailedRequests(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := transport.NewServer("Alpha", f.reg, transport.Options{BasePort: 23000, PortCount: 50})
	require.NoError(t, s.Start(ctx))
	defer s.Close()

	client := transport.NewClient(transport.ClientOptions{Timeout: 2 * time.Second})

	reply, err := client.Send(ctx, s.Port(), "CLASS_MEMBERS:Missing")
	require.NoError(t, err)
	assert.Empty(t, reply)

	got, err := client.Communicate(ctx, s.Port(), "CLASS_MEMBERS:Button")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{
		"name":  "demo/widgets.Button",
		"funcs": []any{"blurSandbox", "click"},
	}, got)

	got, err = client.Communicate(ctx, s.Port(), "APP")
	require.NoError(t, err)
	assert.Equal(t, "Alpha", got)
}
