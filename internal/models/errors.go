package models

import (
	"errors"
	"fmt"
)

// ErrStaleReading marks a register reading older than the staleness
// window. It is advisory: stale readings are excluded from path selection,
// never surfaced as a hard failure.
var ErrStaleReading = errors.New("register reading is stale")

// ConnectError means a switch agent cannot be reached. Fatal for that
// switch's session, non-fatal for others.
type ConnectError struct {
	Switch SwitchID
	Err    error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("cannot connect to switch %s: %v", e.Switch, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// RPCError means a single table or register operation failed. Retried with
// bounded backoff, then surfaces as a divergence report.
type RPCError struct {
	Op    string
	Table string
	Err   error
}

func (e *RPCError) Error() string {
	if e.Table == "" {
		return fmt.Sprintf("switch rpc %s failed: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("switch rpc %s on %q failed: %v", e.Op, e.Table, e.Err)
}

func (e *RPCError) Unwrap() error { return e.Err }

// ConfigError means a malformed topology or probe descriptor. Fatal at
// load time, nothing is partially applied.
type ConfigError struct {
	Field string
	Err   error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config error in %s: %v", e.Field, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }
