package types

import (
	"errors"
	"fmt"
)

// TransientError marks a network or timeout failure at the exchange
// boundary. The affected symbol is skipped for the current cycle and retried
// on the next one; no state changes.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string { return fmt.Sprintf("transient: %s: %v", e.Op, e.Err) }
func (e *TransientError) Unwrap() error { return e.Err }

// OrderError marks an order the exchange rejected. The signal that produced
// it is dropped for the cycle; position state is unchanged.
type OrderError struct {
	Op  string
	Err error
}

func (e *OrderError) Error() string { return fmt.Sprintf("order rejected: %s: %v", e.Op, e.Err) }
func (e *OrderError) Unwrap() error { return e.Err }

// StateDesyncError marks a mismatch between locally tracked positions and
// exchange truth. New entries for the symbol stay suspended until a clean
// reconcile pass.
type StateDesyncError struct {
	Symbol string
	Detail string
}

func (e *StateDesyncError) Error() string {
	return fmt.Sprintf("state desync: %s: %s", e.Symbol, e.Detail)
}

// ConfigError is fatal: the engine refuses to start.
type ConfigError struct {
	Err error
}

func (e *ConfigError) Error() string { return fmt.Sprintf("config: %v", e.Err) }
func (e *ConfigError) Unwrap() error { return e.Err }

func Transient(op string, err error) error { return &TransientError{Op: op, Err: err} }
func Rejected(op string, err error) error  { return &OrderError{Op: op, Err: err} }
func BadConfig(err error) error            { return &ConfigError{Err: err} }

func Desync(symbol, format string, args ...any) error {
	return &StateDesyncError{Symbol: symbol, Detail: fmt.Sprintf(format, args...)}
}

func IsTransient(err error) bool {
	var t *TransientError
	return errors.As(err, &t)
}

func IsOrderError(err error) bool {
	var o *OrderError
	return errors.As(err, &o)
}

func IsDesync(err error) bool {
	var d *StateDesyncError
	return errors.As(err, &d)
}

func IsConfig(err error) bool {
	var c *ConfigError
	return errors.As(err, &c)
}
