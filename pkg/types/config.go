package types

import (
	"errors"
	"time"
)

// Config holds the parameters for a scheduler loop and the storage it owns.
type Config struct {
	// Locator identifies the underlying database, typically a file path.
	// Handles opened with the same locator share committed state.
	Locator string `json:"locator" yaml:"locator"`

	// TickInterval bounds how long the loop sleeps between iterations when
	// no work is queued. Each iteration ends with a refresh, so this also
	// bounds the latency with which cross-handle commits become visible.
	// Zero selects DefaultTickInterval.
	TickInterval time.Duration `json:"tick_interval" yaml:"tick_interval"`
}

// DefaultTickInterval is used when Config.TickInterval is zero.
const DefaultTickInterval = time.Millisecond

// Config validation errors.
var (
	ErrLocatorEmpty        = errors.New("locator must not be empty")
	ErrTickIntervalInvalid = errors.New("tick interval must not be negative")
)

// Validate checks that the Config is well-formed. It returns a sentinel
// error from this package on failure.
func (c Config) Validate() error {
	if c.Locator == "" {
		return ErrLocatorEmpty
	}
	if c.TickInterval < 0 {
		return ErrTickIntervalInvalid
	}
	return nil
}

// EffectiveTickInterval returns TickInterval, or DefaultTickInterval when
// unset.
func (c Config) EffectiveTickInterval() time.Duration {
	if c.TickInterval == 0 {
		return DefaultTickInterval
	}
	return c.TickInterval
}
