// Package api exposes the initiator over HTTP: a synchronous run endpoint,
// asynchronous run submission backed by internal/run, health and metrics.
package api
