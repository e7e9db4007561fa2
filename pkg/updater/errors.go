package updater

import (
	"errors"
	"fmt"
)

// Coordinator errors.
var (
	// ErrAlreadyStarted is returned by Start on a running updater.
	ErrAlreadyStarted = errors.New("updater: already started")

	// ErrNoDelivery is returned by AwaitNext and Key when the context does
	// not belong to a delivery in progress.
	ErrNoDelivery = errors.New("updater: context carries no delivery")
)

// ConfigError reports an invalid configuration detected at construction or
// startup. It is fatal: the updater refuses to run with it.
type ConfigError struct {
	Field  string
	Reason string
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	return fmt.Sprintf("updater config: %s: %s", e.Field, e.Reason)
}
