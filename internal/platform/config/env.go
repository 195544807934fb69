// Package config loads service configuration from the environment.
//
// All latchkey configuration variables share the LATCHKEY_ prefix; each
// consumer declares its own struct with env tags and hands it to ParseEnv.
package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// ParseEnv populates target from environment variables using its env tags.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}
