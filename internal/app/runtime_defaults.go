package app

import (
	"fmt"
	"strings"
	"time"

	"github.com/kitewall/apigate/internal/permissions"
	"github.com/kitewall/apigate/pkg/crypto"
)

const jwtSecretBytes = 48

// ApplyRuntimeDefaults ensures critical secrets are populated even when no configuration file is supplied.
// It returns a map describing which keys were generated so callers can log the event without exposing values.
func ApplyRuntimeDefaults(cfg *Config) (map[string]bool, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}

	generated := make(map[string]bool)

	if strings.TrimSpace(cfg.Auth.JWT.Secret) == "" {
		secret, err := crypto.GenerateToken(jwtSecretBytes)
		if err != nil {
			return nil, fmt.Errorf("generate jwt secret: %w", err)
		}
		cfg.Auth.JWT.Secret = secret
		generated["auth.jwt.secret"] = true
	}

	return generated, nil
}

// PermissionPolicy converts PermissionConfig into the policy consumed by the
// dimension managers. Zero or negative values fall back to the defaults.
func (c PermissionConfig) PermissionPolicy() permissions.Policy {
	policy := permissions.DefaultPolicy()
	if c.RenewableWindowDays > 0 {
		policy.RenewableWindow = time.Duration(c.RenewableWindowDays) * 24 * time.Hour
	}
	if c.RenewDays > 0 {
		policy.RenewDays = c.RenewDays
	}
	return policy
}
