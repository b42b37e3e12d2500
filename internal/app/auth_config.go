package app

import (
	"strings"

	"github.com/kitewall/apigate/internal/auth"
)

// JWTServiceConfig converts AuthConfig into the parameters expected by the JWT service.
func (c AuthConfig) JWTServiceConfig() auth.JWTConfig {
	ttl := c.JWT.TTL
	if ttl <= 0 {
		ttl = auth.DefaultAccessTokenTTL
	}

	return auth.JWTConfig{
		Secret:         c.JWT.Secret,
		Issuer:         c.JWT.Issuer,
		AccessTokenTTL: ttl,
	}
}

// FindOperator looks up a configured operator account by username.
func (c AuthConfig) FindOperator(username string) (OperatorAccount, bool) {
	username = strings.TrimSpace(username)
	for _, op := range c.Operators {
		if op.Username == username {
			return op, true
		}
	}
	return OperatorAccount{}, false
}
