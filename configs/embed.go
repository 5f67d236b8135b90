// Package configs provides embedded configuration templates for stela.
//
// Templates are embedded at build time using Go's //go:embed directive so
// they are available in every distribution (source builds and binary
// releases alike).
//
// The templates are used by:
//   - cmd/stela/cmd/config.go → `stela config init` creates ~/.config/stela/config.yaml
//
// Configuration hierarchy (see internal/config/config.go Load()):
//  1. Hardcoded defaults (internal/config/config.go NewConfig())
//  2. User config (~/.config/stela/config.yaml)
//  3. Server config (stela.yaml in the working directory, or --config path)
//  4. Environment variables (STELA_*)
package configs

import _ "embed"

// UserConfigTemplate is the template for user/machine-level configuration.
// Created by: `stela config init` at ~/.config/stela/config.yaml
//
//go:embed user-config.example.yaml
var UserConfigTemplate string

// ServerConfigTemplate is the template for a server configuration file.
// Intended as a starting point for a stela.yaml checked in next to the
// service deployment.
//
//go:embed server-config.example.yaml
var ServerConfigTemplate string
