package configs

import _ "embed"

// DefaultConfig is the shipped default daemon configuration.
//
//go:embed default.yaml
var DefaultConfig []byte
