// Package types defines the configuration, standard error values, and
// sample entity type shared by the tether scheduler and its storage layer.
package types
