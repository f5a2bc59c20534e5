package salesforce_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jrsteele09/go-salesforce-proxy/internal/config"
	apperrors "github.com/jrsteele09/go-salesforce-proxy/internal/errors"
	"github.com/jrsteele09/go-salesforce-proxy/salesforce"
	"github.com/jrsteele09/go-salesforce-proxy/salesforce/fakeorg"
	"github.com/jrsteele09/go-salesforce-proxy/salesforce/soql"
	"github.com/stretchr/testify/require"
)

const redirectURI = "http://localhost:3001/auth/callback"

func newConnector(t *testing.T, loginURL string, timeout time.Duration) *salesforce.Connector {
	t.Helper()
	c, err := salesforce.NewConnector(config.Salesforce{
		ClientID:       fakeorg.ClientID,
		ClientSecret:   fakeorg.ClientSecret,
		RedirectURI:    redirectURI,
		LoginURL:       loginURL,
		APIVersion:     "v59.0",
		RequestTimeout: timeout,
	})
	require.NoError(t, err)
	return c
}

func setupTestFixture(t *testing.T) (*fakeorg.Org, *salesforce.Connector) {
	t.Helper()
	org := fakeorg.New(t)
	return org, newConnector(t, org.URL(), 5*time.Second)
}

func login(t *testing.T, org *fakeorg.Org, c *salesforce.Connector) salesforce.TokenBundle {
	t.Helper()
	bundle, err := c.ExchangeCode(context.Background(), org.IssueCode())
	require.NoError(t, err)
	return bundle
}

func TestAuthorizationURL(t *testing.T) {
	org, c := setupTestFixture(t)

	first := c.AuthorizationURL("state-1")
	require.Equal(t, first, c.AuthorizationURL("state-1"))
	require.Equal(t, 0, org.Requests())

	u, err := url.Parse(first)
	require.NoError(t, err)
	require.Equal(t, org.URL()+"/services/oauth2/authorize", u.Scheme+"://"+u.Host+u.Path)

	q := u.Query()
	require.Equal(t, "code", q.Get("response_type"))
	require.Equal(t, fakeorg.ClientID, q.Get("client_id"))
	require.Equal(t, redirectURI, q.Get("redirect_uri"))
	require.Equal(t, "state-1", q.Get("state"))
	require.Equal(t, "api id web refresh_token", q.Get("scope"))
	require.NotContains(t, first, fakeorg.ClientSecret)
}

func TestExchangeCode(t *testing.T) {
	t.Run("returns a complete bundle", func(t *testing.T) {
		org, c := setupTestFixture(t)
		bundle := login(t, org, c)

		require.NotEmpty(t, bundle.AccessToken)
		require.NotEmpty(t, bundle.RefreshToken)
		require.Equal(t, org.URL(), bundle.InstanceURL)
		require.Equal(t, fakeorg.UserID, bundle.UserID)
		require.Equal(t, fakeorg.OrgID, bundle.OrganizationID)
		require.Equal(t, time.UnixMilli(1700000000000).UTC(), bundle.IssuedAt)
	})

	t.Run("second use of a code fails", func(t *testing.T) {
		org, c := setupTestFixture(t)
		code := org.IssueCode()

		_, err := c.ExchangeCode(context.Background(), code)
		require.NoError(t, err)

		_, err = c.ExchangeCode(context.Background(), code)
		require.ErrorIs(t, err, apperrors.ErrAuthExchange)
	})

	t.Run("code unknown to the provider", func(t *testing.T) {
		_, c := setupTestFixture(t)

		_, err := c.ExchangeCode(context.Background(), "never-issued")
		require.ErrorIs(t, err, apperrors.ErrAuthExchange)
		require.Contains(t, err.Error(), "invalid_grant")
	})

	t.Run("empty code", func(t *testing.T) {
		org, c := setupTestFixture(t)

		_, err := c.ExchangeCode(context.Background(), "")
		require.ErrorIs(t, err, apperrors.ErrInvalidRequest)
		require.Equal(t, 0, org.Requests())
	})

	t.Run("wrong client secret", func(t *testing.T) {
		org := fakeorg.New(t)
		c, err := salesforce.NewConnector(config.Salesforce{
			ClientID:     fakeorg.ClientID,
			ClientSecret: "wrong",
			RedirectURI:  redirectURI,
			LoginURL:     org.URL(),
		})
		require.NoError(t, err)

		_, err = c.ExchangeCode(context.Background(), org.IssueCode())
		require.ErrorIs(t, err, apperrors.ErrAuthExchange)
		require.NotContains(t, err.Error(), "wrong")
	})
}

func TestRefreshAccessToken(t *testing.T) {
	t.Run("mints a new access token without a refresh token", func(t *testing.T) {
		org, c := setupTestFixture(t)
		bundle := login(t, org, c)

		refreshed, err := c.RefreshAccessToken(context.Background(), bundle)
		require.NoError(t, err)
		require.NotEmpty(t, refreshed.AccessToken)
		require.NotEqual(t, bundle.AccessToken, refreshed.AccessToken)
		require.Empty(t, refreshed.RefreshToken)
		require.Equal(t, bundle.InstanceURL, refreshed.InstanceURL)

		merged := bundle.WithAccessToken(refreshed)
		require.Equal(t, bundle.RefreshToken, merged.RefreshToken)
		require.Equal(t, refreshed.AccessToken, merged.AccessToken)
	})

	t.Run("without a refresh token", func(t *testing.T) {
		org, c := setupTestFixture(t)

		_, err := c.RefreshAccessToken(context.Background(), salesforce.TokenBundle{AccessToken: "at", InstanceURL: org.URL()})
		require.ErrorIs(t, err, apperrors.ErrRefresh)
		require.Equal(t, 0, org.Requests())
	})

	t.Run("revoked refresh token", func(t *testing.T) {
		org, c := setupTestFixture(t)
		bundle := login(t, org, c)
		org.RevokeRefreshTokens()

		_, err := c.RefreshAccessToken(context.Background(), bundle)
		require.ErrorIs(t, err, apperrors.ErrRefresh)
		require.NotContains(t, err.Error(), bundle.RefreshToken)
	})

	t.Run("slow token endpoint is transient", func(t *testing.T) {
		org := fakeorg.New(t)
		c := newConnector(t, org.URL(), 200*time.Millisecond)
		bundle := login(t, org, c)
		org.SetTokenDelay(600 * time.Millisecond)

		_, err := c.RefreshAccessToken(context.Background(), bundle)
		require.ErrorIs(t, err, apperrors.ErrUpstream)
		require.NotErrorIs(t, err, apperrors.ErrRefresh)
		require.Contains(t, err.Error(), "did not respond in time")
	})

	t.Run("token endpoint outage is transient", func(t *testing.T) {
		org, c := setupTestFixture(t)
		bundle := login(t, org, c)
		org.FailNextToken(http.StatusServiceUnavailable)

		_, err := c.RefreshAccessToken(context.Background(), bundle)
		require.ErrorIs(t, err, apperrors.ErrUpstream)
		require.NotErrorIs(t, err, apperrors.ErrRefresh)

		// the refresh token is still good once the endpoint recovers
		_, err = c.RefreshAccessToken(context.Background(), bundle)
		require.NoError(t, err)
	})

	t.Run("foreign instance url", func(t *testing.T) {
		org, c := setupTestFixture(t)

		_, err := c.RefreshAccessToken(context.Background(), salesforce.TokenBundle{RefreshToken: "rt", InstanceURL: "https://evil.example.com"})
		require.ErrorIs(t, err, apperrors.ErrInvalidRequest)
		require.Equal(t, 0, org.Requests())
	})
}

func TestQueryOpportunities(t *testing.T) {
	t.Run("lists and flattens records", func(t *testing.T) {
		org, c := setupTestFixture(t)
		bundle := login(t, org, c)

		opps, err := c.QueryOpportunities(context.Background(), bundle, soql.OpportunityFilter{})
		require.NoError(t, err)
		require.Len(t, opps, 3)
		require.Equal(t, "Acme renewal", opps[0].Name)
		require.Equal(t, "Acme", opps[0].AccountName)
		require.Equal(t, "Rita Rep", opps[0].OwnerName)
		require.NotNil(t, opps[0].Amount)
		require.Equal(t, 50000.0, *opps[0].Amount)
		require.True(t, opps[0].IsWon)
	})

	t.Run("stage filter reaches the provider", func(t *testing.T) {
		org, c := setupTestFixture(t)
		bundle := login(t, org, c)

		opps, err := c.QueryOpportunities(context.Background(), bundle, soql.OpportunityFilter{StageNames: []string{"Closed Won"}})
		require.NoError(t, err)
		require.Len(t, opps, 1)

		queries := org.Queries()
		require.Len(t, queries, 1)
		require.Contains(t, queries[0], "StageName IN ('Closed Won')")
	})

	t.Run("follows result pages", func(t *testing.T) {
		org, c := setupTestFixture(t)
		org.SetPageSize(1)
		bundle := login(t, org, c)

		opps, err := c.QueryOpportunities(context.Background(), bundle, soql.OpportunityFilter{})
		require.NoError(t, err)
		require.Len(t, opps, 3)
		require.Equal(t, "Initech pilot", opps[2].Name)
	})

	t.Run("stops at the page limit", func(t *testing.T) {
		org, c := setupTestFixture(t)
		records := make([]map[string]any, 15)
		for i := range records {
			records[i] = map[string]any{"Id": "0060000000000" + strconv.Itoa(10+i) + "AAA", "Name": "Deal " + strconv.Itoa(i)}
		}
		org.SetRecords(records)
		org.SetPageSize(1)
		bundle := login(t, org, c)

		raw, err := c.Query(context.Background(), bundle, "SELECT Id, Name FROM Opportunity")
		require.NoError(t, err)
		require.Len(t, raw, 10)
	})

	t.Run("expired access token", func(t *testing.T) {
		org, c := setupTestFixture(t)
		bundle := login(t, org, c)
		org.ExpireAccessTokens()

		_, err := c.QueryOpportunities(context.Background(), bundle, soql.OpportunityFilter{})
		require.ErrorIs(t, err, apperrors.ErrSessionExpired)
	})

	t.Run("malformed query", func(t *testing.T) {
		org, c := setupTestFixture(t)
		bundle := login(t, org, c)
		org.FailNextQuery(http.StatusBadRequest, "MALFORMED_QUERY")

		_, err := c.QueryOpportunities(context.Background(), bundle, soql.OpportunityFilter{})
		require.ErrorIs(t, err, apperrors.ErrQuery)
		require.NotContains(t, err.Error(), "simulated failure")
	})

	t.Run("provider outage", func(t *testing.T) {
		org, c := setupTestFixture(t)
		bundle := login(t, org, c)
		org.FailNextQuery(http.StatusServiceUnavailable, "SERVER_UNAVAILABLE")

		_, err := c.QueryOpportunities(context.Background(), bundle, soql.OpportunityFilter{})
		require.ErrorIs(t, err, apperrors.ErrUpstream)
	})

	t.Run("incomplete bundle makes no call", func(t *testing.T) {
		org, c := setupTestFixture(t)

		_, err := c.QueryOpportunities(context.Background(), salesforce.TokenBundle{AccessToken: "at"}, soql.OpportunityFilter{})
		require.ErrorIs(t, err, apperrors.ErrNotAuthenticated)
		require.Equal(t, 0, org.Requests())
	})
}

func TestQueryTimeout(t *testing.T) {
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer slow.Close()

	c := newConnector(t, slow.URL, 50*time.Millisecond)
	_, err := c.Query(context.Background(), salesforce.TokenBundle{AccessToken: "at", InstanceURL: slow.URL}, "SELECT Id FROM Opportunity")
	require.ErrorIs(t, err, apperrors.ErrQuery)
	require.Contains(t, err.Error(), "did not respond in time")
}

func TestGetOpportunity(t *testing.T) {
	org, c := setupTestFixture(t)
	bundle := login(t, org, c)

	opp, err := c.GetOpportunity(context.Background(), bundle, "006000000000002AAA")
	require.NoError(t, err)
	require.Equal(t, "Globex expansion", opp.Name)

	_, err = c.GetOpportunity(context.Background(), bundle, "006000000000009AAA")
	require.ErrorIs(t, err, apperrors.ErrNotFound)

	requestsBefore := org.Requests()
	_, err = c.GetOpportunity(context.Background(), bundle, "abc' OR Id != '")
	require.ErrorIs(t, err, apperrors.ErrQuery)
	require.Equal(t, requestsBefore, org.Requests())
}

func TestIdentity(t *testing.T) {
	org, c := setupTestFixture(t)
	bundle := login(t, org, c)

	id, err := c.Identity(context.Background(), bundle)
	require.NoError(t, err)
	require.Equal(t, fakeorg.UserID, id.UserID)
	require.Equal(t, fakeorg.OrgID, id.OrganizationID)
	require.Equal(t, fakeorg.Username, id.Username)
	require.Equal(t, "Rita Rep", id.DisplayName)
	require.True(t, strings.HasSuffix(id.Subject, fakeorg.UserID))

	_, err = c.Identity(context.Background(), salesforce.TokenBundle{AccessToken: "bogus", InstanceURL: org.URL()})
	require.ErrorIs(t, err, apperrors.ErrUpstream)

	_, err = c.Identity(context.Background(), salesforce.TokenBundle{})
	require.ErrorIs(t, err, apperrors.ErrInvalidRequest)
}

func TestRevoke(t *testing.T) {
	org, c := setupTestFixture(t)
	bundle := login(t, org, c)

	require.NoError(t, c.Revoke(context.Background(), bundle.RefreshToken))
	require.Equal(t, []string{bundle.RefreshToken}, org.Revoked())

	_, err := c.RefreshAccessToken(context.Background(), bundle)
	require.ErrorIs(t, err, apperrors.ErrRefresh)
}

func TestCheckInstanceURL(t *testing.T) {
	org := fakeorg.New(t)
	c, err := salesforce.NewConnector(config.Salesforce{
		ClientID:        fakeorg.ClientID,
		ClientSecret:    fakeorg.ClientSecret,
		RedirectURI:     redirectURI,
		LoginURL:        org.URL(),
		InstanceDomains: []string{"sfproxy.test"},
	})
	require.NoError(t, err)

	for _, ok := range []string{
		"https://acme.my.salesforce.com",
		"https://acme--dev.sandbox.my.salesforce.com/",
		"https://acme.lightning.force.com",
		"https://org.sfproxy.test",
		org.URL(),
	} {
		require.NoError(t, c.CheckInstanceURL(ok), ok)
	}

	for _, bad := range []string{
		"http://acme.my.salesforce.com",
		"http://127.0.0.1:8080",
		"https://evil.example.com",
		"https://acme.my.salesforce.com.evil.example.com",
		"https://user@acme.my.salesforce.com",
		"https://acme.my.salesforce.com/services",
		"https://acme.my.salesforce.com?x=1",
		"acme.my.salesforce.com",
		"",
	} {
		require.ErrorIs(t, c.CheckInstanceURL(bad), apperrors.ErrInvalidRequest, bad)
	}
}

func TestTokensStayOnSalesforceHosts(t *testing.T) {
	org, c := setupTestFixture(t)

	var hits atomic.Int32
	internal := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer internal.Close()

	bundle := salesforce.TokenBundle{AccessToken: "tok", RefreshToken: "rt", InstanceURL: internal.URL}

	_, err := c.Identity(context.Background(), bundle)
	require.ErrorIs(t, err, apperrors.ErrInvalidRequest)

	_, err = c.Query(context.Background(), bundle, "SELECT Id FROM Opportunity")
	require.ErrorIs(t, err, apperrors.ErrInvalidRequest)

	_, err = c.Identity(context.Background(), salesforce.TokenBundle{AccessToken: "tok", InstanceURL: "https://intranet.example.com"})
	require.ErrorIs(t, err, apperrors.ErrInvalidRequest)

	require.Equal(t, int32(0), hits.Load())
	require.Equal(t, 0, org.Requests())
}
