// Package main is the entry point for the coderun server.
//
// The server runs untrusted submissions in one-shot containers and serves
// the engine over HTTP (fiber), optionally as an MCP tool over stdio or HTTP,
// and optionally as a NATS request/reply responder. A janitor removes
// workspaces and containers leaked by earlier processes.
//
// The application uses Uber's fx framework for dependency injection and lifecycle
// management, with zap for structured logging and viper for configuration.
package main
