package config

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	apperrors "github.com/jrsteele09/go-salesforce-proxy/internal/errors"
	"github.com/rs/zerolog/log"
)

type Config interface {
	EnvConfig
	CorsConfig
	SalesforceConfig
	SecurityConfig
}

type EnvConfig interface {
	GetPort() string
	GetAppName() string
	GetEnv() string
	IsProduction() bool
	GetLogLevel() string
	GetTrustProxy() bool
	GetRateLimitRPM() int
}

type CorsConfig interface {
	GetFrontendURL() string
	GetAllowedOrigins() AllowedOrigins
	GetAllowedMethods() string
	GetAllowedHeaders() string
}

// Settings is the concrete configuration, populated from the environment by Load.
type Settings struct {
	EnvVars
	Cors
	Salesforce
	Security
}

var _ Config = (*Settings)(nil)

// Load reads an optional .env file, parses the environment and validates the
// result. Any failure wraps ErrConfiguration and should abort startup.
func Load() (*Settings, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Warn().Err(err).Msg("Ignoring unreadable .env file")
	}

	var s Settings
	if err := env.Parse(&s); err != nil {
		return nil, fmt.Errorf("%w: parse environment: %v", apperrors.ErrConfiguration, err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Validate checks the credential bundle and session settings. A missing
// SESSION_SECRET outside production is replaced by a random per-process one.
func (s *Settings) Validate() error {
	if err := s.Salesforce.validate(); err != nil {
		return err
	}
	if err := s.Security.validate(); err != nil {
		return err
	}
	if s.SessionSecret == "" {
		if s.IsProduction() {
			return fmt.Errorf("%w: SESSION_SECRET is required in production", apperrors.ErrConfiguration)
		}
		secret := make([]byte, 32)
		if _, err := rand.Read(secret); err != nil {
			return fmt.Errorf("%w: generate session secret: %v", apperrors.ErrConfiguration, err)
		}
		s.SessionSecret = hex.EncodeToString(secret)
		log.Warn().Msg("SESSION_SECRET not set, sessions will not survive a restart")
	}
	return nil
}

// Redact masks a secret for logging, keeping only the last four characters.
func Redact(secret string) string {
	if len(secret) <= 4 {
		return "****"
	}
	return "****" + secret[len(secret)-4:]
}
