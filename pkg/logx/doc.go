// Package logx provides the structured logging layer for moverstatus.
//
// It wraps zerolog behind a small Logger type whose zero value is a safe
// no-op, supports live sink/level swaps on config reload, and routes every
// sink through a secret redactor so webhook URLs and bot tokens never
// appear in log output.
package logx
