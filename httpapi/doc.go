// Package httpapi serves the engine over HTTP with fiber.
//
// Routes:
//
//	POST /api/coding/run-code  {"language","code","stdin"} -> {"output"}
//	GET  /api/coding/languages
//	GET  /healthz
//	GET  /metrics
//
// run-code is admitted through a token bucket and a cap on concurrent
// executions; rejected requests get 429.
package httpapi
