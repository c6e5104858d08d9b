// Package logger provides structured logging capabilities.
//
// The logger package builds the zap logger shared by every component. The
// development mode emits colored console output, the production mode JSON
// with ISO8601 timestamps. Each entry carries a service field.
//
// Usage:
//
//	log, err := logger.New("production", "info")
//	if err != nil {
//	    panic(err)
//	}
//	log.Info("sandbox ready", zap.String("backend", "docker"))
package logger
