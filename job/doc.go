// Package job defines the Job entity, the handler registry, and the
// persistence contract consumed by the dispatch loop and lifecycle API.
package job
