// Package blur is the function and class network behind live code updates.
//
// # Overview
//
// A host application declares the functions and classes it wants to be
// editable while it runs. The network gives every function a stable identity
// string, keeps track of every live instance of the classes marked as
// blur-capable, and applies replacement source text sent by an external
// editor: free functions are replaced in place, and methods are re-bound on
// every live instance of their class.
//
// # Core Concepts
//
// Modules group functions and classes under a path such as "demo/widgets".
// A Func is either native (a Go Callable) or scripted (Lua source compiled by
// the internal scripting layer). Scripted functions see the other members of
// their module as free names.
//
// A Blurred function wraps an original Func. Every call first fires the
// wrapper's callbacks, then runs the current delegate, or the original while
// no delegate has been linked. Delegates are swapped atomically, so host
// goroutines can keep calling the wrapper while an update lands.
//
// Classes own a method table. Objects consult their own override table
// before the class table, which is how an update reaches the instances that
// exist when it is applied. Instances constructed afterwards use the class
// method; the class table itself is never rewritten by an update.
//
// Tracked classes hold their instances through weak pointers. The network
// never keeps an object alive; collected objects are skipped and pruned.
//
// # Usage Example
//
//	net := blur.NewNetwork(blur.Options{Environment: "Alpha"})
//	widgets := net.Module("demo/widgets")
//
//	greet, err := widgets.Define("greet", `
//	function greet(name)
//	  return "hello " .. name
//	end`)
//	if err != nil {
//		log.Fatal(err)
//	}
//	title := net.MakeBlurCapable(greet)
//
//	button := widgets.Class("Button", nil)
//	button.NativeMethod("click", func(ctx context.Context, args ...any) (any, error) {
//		self := args[0].(*blur.Object)
//		text, _ := self.Get("text")
//		return text, nil
//	})
//	net.MarkClassBlurCapable(button)
//	ok := button.New(map[string]any{"text": "OK"})
//
//	// Later, from the protocol handlers:
//	net.ApplyUpdate(ctx, greet.ID(), `function greet(name) return "hi " .. name end`)
//	net.ApplyUpdate(ctx, "demo/widgets.Button.click", `function click(self) return "patched" end`)
//
// # Identity Strings
//
// Functions and wrappers are identified by a hex token ("0x0000002a") drawn
// from a per-network counter when the object is created, so a token is never
// reused. An updated function inherits the
// identity of the function it replaces. Methods are identified by the dotted
// path "module.Class.method".
package blur
