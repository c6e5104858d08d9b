// Package mcpserver exposes the engine as a Model Context Protocol tool.
//
// The run_code tool takes a language, the source and optional stdin, and
// returns the program's output as text content. It uses mark3labs/mcp-go for
// the protocol and serves over stdio or streamable HTTP.
//
// Usage:
//
//	server, err := mcpserver.New(cfg, logger, engine)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	err = server.ServeStdio() // or server.ServeHTTP()
package mcpserver
