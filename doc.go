// Package gorupad is a scratchpad for running snippets of JavaScript and
// Python in a sandboxed interpreter that lives behind a message boundary.
//
// # Overview
//
// An execution host ([executor.Host]) owns one interpreter and answers
// install and run requests one at a time, streaming output back as events.
// A worker ([worker.Worker]) carries those messages to the host, which may
// run in the same process, in a child process or behind a WebSocket. The
// client ([client.Client]) correlates requests with their results and keeps
// the console log, and a session manager ([session.Manager]) holds the code
// buffers a user switches between.
//
// # Basic Usage
//
//	c := client.New(worker.Spawn(javascript.New()))
//	if err := c.Start(ctx); err != nil {
//	    return err
//	}
//	defer c.Close()
//
//	if err := c.WaitReady(ctx); err != nil {
//	    return err
//	}
//	err := c.Run(ctx, `print("hello")`)
//	for _, line := range c.Logs() {
//	    fmt.Println(line.Kind, line.Text)
//	}
//
// # Remote Hosts
//
//	// server
//	http.Handle("/ws", worker.Handler(newHost, nil, logger))
//
//	// client
//	c := client.New(worker.Dial("ws://127.0.0.1:8080/ws", logger))
//
// See the [executor], [worker], [client], [session], [language/javascript]
// and [language/python] packages for detailed API documentation. The
// gorupad command in cmd/gorupad wires them into a CLI, a REPL and a server.
package gorupad
