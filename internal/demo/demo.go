// Package demo declares a small host application used to try live updates
// from the CLI: a blurred greeting, a widget module and a ticker that keeps
// calling them so changes show up in the log.
package demo

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/dyluth/blur/pkg/blur"
)

// ModulePath is the module the demo declares its members in.
const ModulePath = "demo/widgets"

const greetSource = `function greet(name)
  return "hello " .. name
end`

const titleSource = `function title()
  return string.upper(greet(app_name()))
end`

const clickSource = `    function click(self)
        self.clicks = self.clicks + 1
        return self.text .. " clicked " .. self.clicks .. " time(s)"
    end`

// App is the running demo state. It holds the button objects so the tracked
// instance set keeps seeing them.
type App struct {
	Net     *blur.Network
	Greet   *blur.Func
	Title   *blur.Blurred
	Button  *blur.Class
	Buttons []*blur.Object
}

// Build declares the demo module in net.
func Build(net *blur.Network) (*App, error) {
	m := net.Module(ModulePath)

	m.Native("app_name", func(ctx context.Context, args ...any) (any, error) {
		return net.Environment(), nil
	})
	greet, err := m.Define("greet", greetSource)
	if err != nil {
		return nil, fmt.Errorf("failed to define greet: %w", err)
	}
	title, err := m.Define("title", titleSource)
	if err != nil {
		return nil, fmt.Errorf("failed to define title: %w", err)
	}

	button := m.Class("Button", nil)
	if err := button.Method("click", clickSource); err != nil {
		return nil, fmt.Errorf("failed to define Button.click: %w", err)
	}
	button.NativeMethod("label", func(ctx context.Context, args ...any) (any, error) {
		self := args[0].(*blur.Object)
		text, _ := self.Get("text")
		return strings.ToUpper(fmt.Sprint(text)), nil
	})

	app := &App{Net: net, Greet: greet, Button: button}
	app.Title = net.MakeBlurCapable(title)
	net.MarkClassBlurCapable(button)
	net.RegisterModule(m)

	for _, text := range []string{"OK", "Cancel"} {
		app.Buttons = append(app.Buttons, button.New(map[string]any{"text": text, "clicks": 0}))
	}
	return app, nil
}

// Tick calls the blurred title and clicks every button once.
func (a *App) Tick(ctx context.Context) []string {
	var out []string

	title, err := a.Title.Call(ctx)
	if err != nil {
		out = append(out, fmt.Sprintf("title failed: %v", err))
	} else {
		out = append(out, fmt.Sprintf("title: %v", title))
	}

	for _, b := range a.Buttons {
		res, err := b.Call(ctx, "click")
		if err != nil {
			out = append(out, fmt.Sprintf("%s failed: %v", b, err))
			continue
		}
		out = append(out, fmt.Sprintf("button: %v", res))
	}
	return out
}

// Run logs a Tick every interval until ctx is done.
func (a *App) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, line := range a.Tick(ctx) {
				log.Printf("[Demo] %s", line)
			}
		}
	}
}
