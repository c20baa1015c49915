// Package configs provides embedded configuration templates for amanrag.
//
// Templates are embedded at build time so `amanrag config init` works from
// any distribution. The template documents every key with its default;
// the authoritative defaults live in internal/config NewConfig.
package configs

import _ "embed"

// UserConfigTemplate is written by `amanrag config init` to
// ~/.config/amanrag/config.yaml.
//
//go:embed user-config.example.yaml
var UserConfigTemplate string
