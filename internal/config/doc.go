// Package config loads, normalizes, and validates crunch configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and layers CRUNCH_* environment overrides on
// top. The Config type centralizes every knob the CLI and daemon need, from
// encoder binaries to the admission ceiling and thermal thresholds.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
