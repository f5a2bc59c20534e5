package config

import (
	"strings"

	"github.com/jrsteele09/go-salesforce-proxy/internal/utils"
)

const productionEnv = "production"

type EnvVars struct {
	Port         string `env:"PORT" envDefault:"3001"`
	AppName      string `env:"APP_NAME" envDefault:"SF Proxy"`
	Env          string `env:"NODE_ENV" envDefault:"development"`
	LogLevel     string `env:"LOG_LEVEL" envDefault:"info"`
	TrustProxy   bool   `env:"TRUST_PROXY" envDefault:"false"`
	RateLimitRPM int    `env:"RATE_LIMIT_RPM" envDefault:"120"`
}

var _ EnvConfig = EnvVars{}

func (e EnvVars) GetPort() string {
	port := utils.Coalesce(e.Port, "3001")
	if !strings.HasPrefix(port, ":") {
		port = ":" + port
	}
	return port
}

func (e EnvVars) GetAppName() string {
	return e.AppName
}

func (e EnvVars) GetEnv() string {
	return utils.Coalesce(e.Env, "development")
}

func (e EnvVars) IsProduction() bool {
	return strings.EqualFold(e.Env, productionEnv)
}

func (e EnvVars) GetLogLevel() string {
	return e.LogLevel
}

// GetTrustProxy reports whether X-Forwarded-* headers from a reverse proxy
// are believed when deciding if a request arrived over HTTPS.
func (e EnvVars) GetTrustProxy() bool {
	return e.TrustProxy
}

// GetRateLimitRPM is the per-client budget for /auth routes. Zero disables limiting.
func (e EnvVars) GetRateLimitRPM() int {
	return e.RateLimitRPM
}
