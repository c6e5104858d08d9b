// Package natsserver answers run requests over NATS request/reply.
//
// Requests are JSON {"language","code","stdin"} published on the configured
// subject; replies are {"output"} or {"error"} for requests that could not be
// run. Subscribers join a queue group so replicas share the load.
package natsserver
