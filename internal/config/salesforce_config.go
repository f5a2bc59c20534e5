package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	apperrors "github.com/jrsteele09/go-salesforce-proxy/internal/errors"
	"github.com/jrsteele09/go-salesforce-proxy/internal/utils"
)

const DefaultLoginURL = "https://login.salesforce.com"

// SalesforceConfig is the credential bundle plus connector tuning.
type SalesforceConfig interface {
	GetClientID() string
	GetClientSecret() string
	GetRedirectURI() string
	GetLoginURL() string
	GetAPIVersion() string
	GetRequestTimeout() time.Duration
	GetStageAllowlist() []string
	GetRequireState() bool
	GetInstanceDomains() []string
}

type Salesforce struct {
	ClientID       string        `env:"SALESFORCE_CLIENT_ID"`
	ClientSecret   string        `env:"SALESFORCE_CLIENT_SECRET"`
	RedirectURI    string        `env:"SALESFORCE_REDIRECT_URI"`
	LoginURL       string        `env:"SALESFORCE_LOGIN_URL" envDefault:"https://login.salesforce.com"`
	APIVersion     string        `env:"SALESFORCE_API_VERSION" envDefault:"v59.0"`
	RequestTimeout time.Duration `env:"SALESFORCE_TIMEOUT" envDefault:"30s"`
	StageAllowlist []string      `env:"SALESFORCE_STAGE_ALLOWLIST" envSeparator:","`
	RequireState   bool          `env:"SALESFORCE_REQUIRE_STATE" envDefault:"false"`
	// extra host suffixes trusted as org instances, e.g. a sandbox proxy
	InstanceDomains []string `env:"SALESFORCE_INSTANCE_DOMAINS" envSeparator:","`
}

var _ SalesforceConfig = Salesforce{}

func (s Salesforce) GetClientID() string {
	return s.ClientID
}

func (s Salesforce) GetClientSecret() string {
	return s.ClientSecret
}

func (s Salesforce) GetRedirectURI() string {
	return s.RedirectURI
}

func (s Salesforce) GetLoginURL() string {
	return strings.TrimRight(utils.Coalesce(s.LoginURL, DefaultLoginURL), "/")
}

func (s Salesforce) GetAPIVersion() string {
	return utils.Coalesce(s.APIVersion, "v59.0")
}

func (s Salesforce) GetRequestTimeout() time.Duration {
	if s.RequestTimeout <= 0 {
		return 30 * time.Second
	}
	return s.RequestTimeout
}

func (s Salesforce) GetStageAllowlist() []string {
	return s.StageAllowlist
}

// GetRequireState makes the OAuth state parameter mandatory on the callback.
func (s Salesforce) GetRequireState() bool {
	return s.RequireState
}

// GetInstanceDomains lists host suffixes, beyond the Salesforce ones, that a
// client supplied instanceUrl may point at.
func (s Salesforce) GetInstanceDomains() []string {
	return s.InstanceDomains
}

func (s Salesforce) validate() error {
	var missing []string
	if strings.TrimSpace(s.ClientID) == "" {
		missing = append(missing, "SALESFORCE_CLIENT_ID")
	}
	if strings.TrimSpace(s.ClientSecret) == "" {
		missing = append(missing, "SALESFORCE_CLIENT_SECRET")
	}
	if strings.TrimSpace(s.RedirectURI) == "" {
		missing = append(missing, "SALESFORCE_REDIRECT_URI")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", apperrors.ErrConfiguration, strings.Join(missing, ", "))
	}
	if !isAbsoluteURL(s.RedirectURI) {
		return fmt.Errorf("%w: SALESFORCE_REDIRECT_URI must be an absolute URL", apperrors.ErrConfiguration)
	}
	if !isAbsoluteURL(s.GetLoginURL()) {
		return fmt.Errorf("%w: SALESFORCE_LOGIN_URL must be an absolute URL", apperrors.ErrConfiguration)
	}
	if !strings.HasPrefix(s.GetAPIVersion(), "v") {
		return fmt.Errorf("%w: SALESFORCE_API_VERSION must look like v59.0", apperrors.ErrConfiguration)
	}
	return nil
}

func isAbsoluteURL(raw string) bool {
	u, err := url.Parse(raw)
	return err == nil && u.IsAbs() && u.Host != ""
}
