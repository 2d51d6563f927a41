// Package config loads and validates lockstepd configuration.
//
// Values start from repository defaults, are overridden by an optional TOML
// file and then by LOCKSTEP_* environment variables, and are validated last.
package config
