package salesforce

import (
	"net/url"
	"strings"
	"time"
)

// TokenBundle holds everything needed to call a Salesforce org on behalf of
// one user. AccessToken is only meaningful together with its own InstanceURL.
type TokenBundle struct {
	AccessToken    string    `json:"accessToken"`
	RefreshToken   string    `json:"refreshToken,omitempty"`
	InstanceURL    string    `json:"instanceUrl"`
	UserID         string    `json:"userId,omitempty"`
	OrganizationID string    `json:"organizationId,omitempty"`
	IssuedAt       time.Time `json:"issuedAt"`
}

// Complete reports whether the bundle can authenticate an API call.
func (b TokenBundle) Complete() bool {
	return b.AccessToken != "" && b.InstanceURL != ""
}

// CanRefresh reports whether the bundle carries a refresh token.
func (b TokenBundle) CanRefresh() bool {
	return b.RefreshToken != ""
}

// WithAccessToken returns a copy of b with the access token and instance URL
// of a refreshed grant, keeping the refresh token and identity.
func (b TokenBundle) WithAccessToken(refreshed TokenBundle) TokenBundle {
	b.AccessToken = refreshed.AccessToken
	if refreshed.InstanceURL != "" {
		b.InstanceURL = refreshed.InstanceURL
	}
	if !refreshed.IssuedAt.IsZero() {
		b.IssuedAt = refreshed.IssuedAt
	}
	return b
}

// parseIdentityURL extracts the org and user IDs from the identity URL
// returned with every token, e.g. https://login.salesforce.com/id/00Dxx/005xx
func parseIdentityURL(raw string) (orgID, userID string) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", ""
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(parts) < 3 || parts[len(parts)-3] != "id" {
		return "", ""
	}
	return parts[len(parts)-2], parts[len(parts)-1]
}
