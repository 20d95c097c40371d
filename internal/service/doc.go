// Package service contains the application use cases behind the HTTP API.
// It persists tasks through the store interfaces and hands work to the
// job queue; it never runs jobs itself.
package service
