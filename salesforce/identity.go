package salesforce

import (
	"context"
	"fmt"

	"github.com/coreos/go-oidc/v3/oidc"
	apperrors "github.com/jrsteele09/go-salesforce-proxy/internal/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
)

// Identity is the authenticated principal as reported by the org.
type Identity struct {
	UserID         string `json:"userId"`
	OrganizationID string `json:"organizationId"`
	Username       string `json:"username"`
	DisplayName    string `json:"displayName,omitempty"`
	Email          string `json:"email,omitempty"`
	Subject        string `json:"sub,omitempty"`
}

type userInfoClaims struct {
	UserID            string `json:"user_id"`
	OrganizationID    string `json:"organization_id"`
	PreferredUsername string `json:"preferred_username"`
	Name              string `json:"name"`
}

// Identity calls the OpenID Connect userinfo endpoint of the bundle's instance.
func (c *Connector) Identity(ctx context.Context, bundle TokenBundle) (Identity, error) {
	if !bundle.Complete() {
		return Identity{}, fmt.Errorf("%w: accessToken and instanceUrl are required", apperrors.ErrInvalidRequest)
	}
	if err := c.CheckInstanceURL(bundle.InstanceURL); err != nil {
		return Identity{}, err
	}

	ctx = oidc.ClientContext(ctx, c.httpClient())
	providerConfig := &oidc.ProviderConfig{
		IssuerURL:   c.loginURL,
		AuthURL:     c.oauth.Endpoint.AuthURL,
		TokenURL:    c.oauth.Endpoint.TokenURL,
		UserInfoURL: bundle.InstanceURL + userInfoPath,
	}
	provider := providerConfig.NewProvider(ctx)

	info, err := provider.UserInfo(ctx, oauth2.StaticTokenSource(&oauth2.Token{
		AccessToken: bundle.AccessToken,
		TokenType:   "Bearer",
	}))
	if err != nil {
		if isTimeout(err) {
			return Identity{}, fmt.Errorf("userinfo: %w: salesforce did not respond in time", apperrors.ErrUpstream)
		}
		log.Warn().Msg("Userinfo lookup failed")
		return Identity{}, fmt.Errorf("userinfo: %w", apperrors.ErrUpstream)
	}

	var claims userInfoClaims
	if err := info.Claims(&claims); err != nil {
		return Identity{}, fmt.Errorf("userinfo: %w: undecodable claims", apperrors.ErrUpstream)
	}

	id := Identity{
		UserID:         claims.UserID,
		OrganizationID: claims.OrganizationID,
		Username:       claims.PreferredUsername,
		DisplayName:    claims.Name,
		Email:          info.Email,
		Subject:        info.Subject,
	}
	if id.UserID == "" {
		id.UserID = bundle.UserID
	}
	if id.OrganizationID == "" {
		id.OrganizationID = bundle.OrganizationID
	}
	return id, nil
}
