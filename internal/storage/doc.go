package storage

// Package storage provides an optional persistence layer for moverstatus.
//
// It currently supports:
//   - Delivery log appends (one record per provider attempt)
//   - Run state (so an in-flight move survives a daemon restart)
