// Package sigmsg provides embedded assets for the sigmsg daemon.
//
// The root package exists solely to embed [config.default.toml] via
// [DefaultConfigTOML], which the daemon writes to the data directory on first
// run.
package sigmsg

import _ "embed"

// DefaultConfigTOML holds the raw bytes of config.default.toml, generated by
// cmd/genconfig and embedded at build time.
//
//go:embed config.default.toml
var DefaultConfigTOML []byte
