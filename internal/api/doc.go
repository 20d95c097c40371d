// Package api implements the taskd HTTP endpoints. Handlers decode and
// validate requests, call the task and email services, and map service
// errors to status codes and JSON error bodies.
package api
