package config

import "time"

// AuthConfig configures credentials and the admin rate limiter.
type AuthConfig struct {
	JWTSecret     string
	JWTIssuer     string
	CredentialTTL time.Duration

	AdminRateLimit  int
	AdminRateWindow time.Duration
}

func loadAuthConfig() AuthConfig {
	return AuthConfig{
		JWTSecret:       getEnv("JWT_SECRET", "dev-secret-change-me"),
		JWTIssuer:       getEnv("JWT_ISSUER", "coagline"),
		CredentialTTL:   getEnvDuration("CREDENTIAL_TTL", 12*time.Hour),
		AdminRateLimit:  getEnvInt("ADMIN_RATE_LIMIT", 20),
		AdminRateWindow: getEnvDuration("ADMIN_RATE_WINDOW", time.Minute),
	}
}
