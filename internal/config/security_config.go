package config

import (
	"fmt"
	"time"

	apperrors "github.com/jrsteele09/go-salesforce-proxy/internal/errors"
	"github.com/jrsteele09/go-salesforce-proxy/internal/utils"
)

const (
	SessionStoreMemory = "memory"
	SessionStoreRedis  = "redis"
)

type SecurityConfig interface {
	GetSessionSecret() string
	GetSessionCookieName() string
	GetMaxSessionAge() time.Duration
	GetSessionStore() string
	GetRedisAddr() string
	GetRedisPassword() string
	GetRedisDB() int
	GetRevokeOnLogout() bool
}

type Security struct {
	SessionSecret  string        `env:"SESSION_SECRET"`
	CookieName     string        `env:"SESSION_COOKIE_NAME" envDefault:"sfproxy.sid"`
	SessionTTL     time.Duration `env:"SESSION_TTL" envDefault:"24h"`
	Store          string        `env:"SESSION_STORE" envDefault:"memory"`
	RedisAddr      string        `env:"REDIS_ADDR" envDefault:"127.0.0.1:6379"`
	RedisPassword  string        `env:"REDIS_PASSWORD"`
	RedisDB        int           `env:"REDIS_DB" envDefault:"0"`
	RevokeOnLogout bool          `env:"REVOKE_ON_LOGOUT" envDefault:"true"`
}

var _ SecurityConfig = Security{}

func (s Security) GetSessionSecret() string {
	return s.SessionSecret
}

func (s Security) GetSessionCookieName() string {
	return utils.Coalesce(s.CookieName, "sfproxy.sid")
}

func (s Security) GetMaxSessionAge() time.Duration {
	if s.SessionTTL <= 0 {
		return 24 * time.Hour
	}
	return s.SessionTTL
}

func (s Security) GetSessionStore() string {
	return utils.Coalesce(s.Store, SessionStoreMemory)
}

func (s Security) GetRedisAddr() string {
	return s.RedisAddr
}

func (s Security) GetRedisPassword() string {
	return s.RedisPassword
}

func (s Security) GetRedisDB() int {
	return s.RedisDB
}

func (s Security) GetRevokeOnLogout() bool {
	return s.RevokeOnLogout
}

func (s Security) validate() error {
	switch s.GetSessionStore() {
	case SessionStoreMemory:
	case SessionStoreRedis:
		if s.RedisAddr == "" {
			return fmt.Errorf("%w: REDIS_ADDR is required for the redis session store", apperrors.ErrConfiguration)
		}
	default:
		return fmt.Errorf("%w: unknown SESSION_STORE %q", apperrors.ErrConfiguration, s.Store)
	}
	return nil
}
