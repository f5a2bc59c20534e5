// Package salesforce wraps the Salesforce OAuth2 web-server flow and the REST
// query API. Connector holds no per-user state: every call takes the caller's
// TokenBundle explicitly.
package salesforce

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/jrsteele09/go-salesforce-proxy/internal/config"
	apperrors "github.com/jrsteele09/go-salesforce-proxy/internal/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
)

const (
	authorizePath = "/services/oauth2/authorize"
	tokenPath     = "/services/oauth2/token"
	revokePath    = "/services/oauth2/revoke"
	userInfoPath  = "/services/oauth2/userinfo"

	// Authorization codes are valid for 15 minutes on the Salesforce side.
	codeReplayWindow = 15 * time.Minute
	codeReplayCap    = 4096
	clientPoolSize   = 64
)

// Scopes requested on every authorization. refresh_token grants offline access.
var Scopes = []string{"api", "id", "web", "refresh_token"}

// InstanceDomains are the host suffixes Salesforce serves org instances from.
var InstanceDomains = []string{".salesforce.com", ".force.com", ".cloudforce.com"}

type Connector struct {
	oauth       *oauth2.Config
	loginURL    string
	loginOrigin string
	apiVersion  string
	timeout     time.Duration
	transport   http.RoundTripper

	// host suffixes a bearer token may be sent to
	instanceDomains []string

	// pooled REST clients keyed by instance URL; they never carry a token
	clients *lru.Cache[string, *resty.Client]

	codesMu   sync.Mutex
	usedCodes *expirable.LRU[string, struct{}]
}

type Option func(*Connector)

// WithTransport overrides the HTTP transport used for every provider call.
func WithTransport(rt http.RoundTripper) Option {
	return func(c *Connector) {
		c.transport = rt
	}
}

func NewConnector(cfg config.SalesforceConfig, opts ...Option) (*Connector, error) {
	loginURL := cfg.GetLoginURL()
	login, err := url.Parse(loginURL)
	if err != nil || login.Host == "" {
		return nil, fmt.Errorf("[salesforce NewConnector] %w: bad login URL", apperrors.ErrConfiguration)
	}
	clients, err := lru.New[string, *resty.Client](clientPoolSize)
	if err != nil {
		return nil, fmt.Errorf("[salesforce NewConnector] client pool: %w", err)
	}

	c := &Connector{
		oauth: &oauth2.Config{
			ClientID:     cfg.GetClientID(),
			ClientSecret: cfg.GetClientSecret(),
			RedirectURL:  cfg.GetRedirectURI(),
			Scopes:       Scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:   loginURL + authorizePath,
				TokenURL:  loginURL + tokenPath,
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		loginURL:        loginURL,
		loginOrigin:     strings.ToLower(login.Scheme + "://" + login.Host),
		apiVersion:      cfg.GetAPIVersion(),
		timeout:         cfg.GetRequestTimeout(),
		transport:       http.DefaultTransport,
		instanceDomains: instanceDomains(cfg.GetInstanceDomains()),
		clients:         clients,
		usedCodes:       expirable.NewLRU[string, struct{}](codeReplayCap, nil, codeReplayWindow),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func instanceDomains(extra []string) []string {
	domains := append([]string(nil), InstanceDomains...)
	for _, d := range extra {
		d = strings.ToLower(strings.TrimSpace(d))
		if d == "" {
			continue
		}
		if !strings.HasPrefix(d, ".") {
			d = "." + d
		}
		domains = append(domains, d)
	}
	return domains
}

// CheckInstanceURL accepts only an https origin on a Salesforce host, or the
// configured login origin. Anything else is ErrInvalidRequest and must never
// receive a token.
func (c *Connector) CheckInstanceURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" || u.User != nil || u.RawQuery != "" || u.Fragment != "" || (u.Path != "" && u.Path != "/") {
		return fmt.Errorf("%w: instanceUrl must be a bare origin", apperrors.ErrInvalidRequest)
	}
	if strings.ToLower(u.Scheme+"://"+u.Host) == c.loginOrigin {
		return nil
	}
	if u.Scheme != "https" {
		return fmt.Errorf("%w: instanceUrl must use https", apperrors.ErrInvalidRequest)
	}
	host := strings.ToLower(u.Hostname())
	for _, d := range c.instanceDomains {
		if strings.HasSuffix(host, d) || host == d[1:] {
			return nil
		}
	}
	return fmt.Errorf("%w: instanceUrl is not a Salesforce host", apperrors.ErrInvalidRequest)
}

// httpClient returns a fresh client with the configured timeout. No cookie
// jar is attached so nothing is shared between sessions.
func (c *Connector) httpClient() *http.Client {
	return &http.Client{Timeout: c.timeout, Transport: c.transport}
}

func (c *Connector) oauthContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, c.httpClient())
}

func (c *Connector) restClient(baseURL string) *resty.Client {
	if rc, ok := c.clients.Get(baseURL); ok {
		return rc
	}
	rc := resty.NewWithClient(c.httpClient()).
		SetBaseURL(baseURL).
		SetHeader("Accept", "application/json")
	c.clients.Add(baseURL, rc)
	return rc
}

// AuthorizationURL builds the login redirect. It is a pure function of the
// credential bundle and state.
func (c *Connector) AuthorizationURL(state string) string {
	return c.oauth.AuthCodeURL(state)
}

// ExchangeCode trades a single-use authorization code for a full TokenBundle.
func (c *Connector) ExchangeCode(ctx context.Context, code string) (TokenBundle, error) {
	if code == "" {
		return TokenBundle{}, fmt.Errorf("%w: missing authorization code", apperrors.ErrInvalidRequest)
	}
	if !c.claimCode(code) {
		log.Warn().Msg("Rejected replayed authorization code")
		return TokenBundle{}, fmt.Errorf("%w: authorization code already used", apperrors.ErrAuthExchange)
	}

	tok, err := c.oauth.Exchange(c.oauthContext(ctx), code)
	if err != nil {
		if isTimeout(err) {
			return TokenBundle{}, fmt.Errorf("%w: salesforce did not respond in time, try again", apperrors.ErrAuthExchange)
		}
		errCode, desc := oauthErrorCode(err)
		log.Warn().Str("error_code", errCode).Str("error_description", desc).Msg("Authorization code exchange failed")
		if errCode == "" {
			return TokenBundle{}, apperrors.ErrAuthExchange
		}
		return TokenBundle{}, fmt.Errorf("%w (%s)", apperrors.ErrAuthExchange, errCode)
	}

	bundle := bundleFromToken(tok)
	if !bundle.Complete() {
		return TokenBundle{}, fmt.Errorf("%w: token response missing instance_url", apperrors.ErrAuthExchange)
	}
	bundle.RefreshToken = tok.RefreshToken
	return bundle, nil
}

// claimCode records the code digest and reports whether this is its first use.
func (c *Connector) claimCode(code string) bool {
	sum := sha256.Sum256([]byte(code))
	key := hex.EncodeToString(sum[:])

	c.codesMu.Lock()
	defer c.codesMu.Unlock()
	if c.usedCodes.Contains(key) {
		return false
	}
	c.usedCodes.Add(key, struct{}{})
	return true
}

// RefreshAccessToken mints a new access token. The result never carries a
// refresh token; callers keep the one they already hold.
func (c *Connector) RefreshAccessToken(ctx context.Context, bundle TokenBundle) (TokenBundle, error) {
	if !bundle.CanRefresh() {
		return TokenBundle{}, fmt.Errorf("%w: no refresh token", apperrors.ErrRefresh)
	}
	if bundle.InstanceURL != "" {
		if err := c.CheckInstanceURL(bundle.InstanceURL); err != nil {
			return TokenBundle{}, err
		}
	}

	src := c.oauth.TokenSource(c.oauthContext(ctx), &oauth2.Token{RefreshToken: bundle.RefreshToken})
	tok, err := src.Token()
	if err != nil {
		errCode, desc := oauthErrorCode(err)
		log.Warn().Err(sanitized(err, errCode)).Str("error_code", errCode).Str("error_description", desc).Msg("Token refresh failed")
		return TokenBundle{}, refreshFailure(err, errCode)
	}

	refreshed := bundleFromToken(tok)
	if refreshed.InstanceURL == "" {
		refreshed.InstanceURL = bundle.InstanceURL
	}
	refreshed.RefreshToken = ""
	return refreshed, nil
}

// Revoke invalidates a token at the provider. Revoking a refresh token also
// revokes every access token minted from it.
func (c *Connector) Revoke(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	resp, err := c.restClient(c.loginURL).R().
		SetContext(ctx).
		SetFormData(map[string]string{"token": token}).
		Post(revokePath)
	if err != nil {
		return fmt.Errorf("revoke: %w: transport failure", apperrors.ErrUpstream)
	}
	if resp.IsError() {
		return fmt.Errorf("revoke: %w (status %d)", apperrors.ErrUpstream, resp.StatusCode())
	}
	return nil
}

func bundleFromToken(tok *oauth2.Token) TokenBundle {
	bundle := TokenBundle{
		AccessToken: tok.AccessToken,
		IssuedAt:    time.Now().UTC(),
	}
	if v, ok := tok.Extra("instance_url").(string); ok {
		bundle.InstanceURL = v
	}
	if v, ok := tok.Extra("id").(string); ok {
		bundle.OrganizationID, bundle.UserID = parseIdentityURL(v)
	}
	// issued_at is epoch milliseconds as a string
	if v, ok := tok.Extra("issued_at").(string); ok {
		if ms, err := strconv.ParseInt(v, 10, 64); err == nil {
			bundle.IssuedAt = time.UnixMilli(ms).UTC()
		}
	}
	return bundle
}

// refreshFailure separates a refresh token the provider refused, which needs
// a new login, from an unreachable or failing token endpoint.
func refreshFailure(err error, errCode string) error {
	var re *oauth2.RetrieveError
	switch {
	case errCode != "":
		return fmt.Errorf("%w (%s)", apperrors.ErrRefresh, errCode)
	case apperrors.As(err, &re) && re.Response != nil && re.Response.StatusCode < http.StatusInternalServerError:
		return fmt.Errorf("%w (status %d)", apperrors.ErrRefresh, re.Response.StatusCode)
	case isTimeout(err):
		return fmt.Errorf("refresh: %w: salesforce did not respond in time, try again", apperrors.ErrUpstream)
	default:
		return fmt.Errorf("refresh: %w: token endpoint unavailable", apperrors.ErrUpstream)
	}
}

// sanitized keeps only the structured code of a token endpoint error so the
// raw body, which may echo request parameters, never reaches a log sink.
func sanitized(err error, code string) error {
	if code != "" {
		return apperrors.New("oauth2 error " + code)
	}
	if isTimeout(err) {
		return apperrors.New("timeout")
	}
	return apperrors.New("token endpoint failure")
}
