// Package config loads the daemon configuration from JSON or YAML and
// republishes it on change.
//
// YAML is converted to JSON first so both formats go through the same strict
// decoder. Durations are Go duration strings.
package config
