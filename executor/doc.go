// Package executor provides the execution host: the component that owns an
// interpreter and services requests against it.
//
// # Overview
//
// A [Host] constructs one [Interpreter] from a [Language], emits a single
// ready event and then processes [protocol.Request] values one at a time, in
// arrival order. Script output is streamed back as stdout/stderr events while
// the script runs; each request ends with exactly one terminal event.
//
// # Basic Usage
//
//	host := executor.NewHost(javascript.New(), executor.WithLogger(logger))
//
//	requests := make(chan protocol.Request)
//	go host.Serve(ctx, requests, func(ev protocol.Event) {
//	    fmt.Printf("%s %q\n", ev.Type, ev.Text)
//	})
//
//	requests <- protocol.Request{ID: 1, Type: protocol.RequestRun, Code: `print(1+1)`}
//	// stdout "2", done 1
//
// # Packages
//
// Before running code the host asks the interpreter which packages the code
// imports and installs the ones it has not installed yet. Installed packages
// are remembered for the lifetime of Serve; installing them again is a no-op.
//
// # Language Interface
//
// To add support for a new language, implement the [Language] interface.
// See [github.com/caffeineduck/gorupad/language/javascript] for an example.
package executor
