// Package storage persists delivery outcomes.
//
// Only terminal facts are stored (sent, failed attempt, abandoned); the
// pending queue is in-memory by design and dies with the process.
package storage
