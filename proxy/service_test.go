package proxy_test

import (
	"context"
	"net/http"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/jrsteele09/go-salesforce-proxy/internal/config"
	apperrors "github.com/jrsteele09/go-salesforce-proxy/internal/errors"
	"github.com/jrsteele09/go-salesforce-proxy/proxy"
	"github.com/jrsteele09/go-salesforce-proxy/proxy/authflowrepo"
	"github.com/jrsteele09/go-salesforce-proxy/salesforce"
	"github.com/jrsteele09/go-salesforce-proxy/salesforce/fakeorg"
	"github.com/jrsteele09/go-salesforce-proxy/salesforce/soql"
	"github.com/jrsteele09/go-salesforce-proxy/sessions"
	"github.com/stretchr/testify/require"
)

type testFixture struct {
	org     *fakeorg.Org
	repo    *sessions.InMemoryRepo
	service *proxy.Service
	ctx     context.Context
}

func setupTestFixture(t *testing.T, options ...proxy.ServiceOption) *testFixture {
	t.Helper()
	org := fakeorg.New(t)
	connector, err := salesforce.NewConnector(config.Salesforce{
		ClientID:       fakeorg.ClientID,
		ClientSecret:   fakeorg.ClientSecret,
		RedirectURI:    "http://localhost:3001/auth/callback",
		LoginURL:       org.URL(),
		RequestTimeout: 5 * time.Second,
	})
	require.NoError(t, err)

	repo := sessions.NewInMemoryRepo()
	service, err := proxy.NewService(connector, repo, authflowrepo.NewInMemoryRepo(time.Minute), options...)
	require.NoError(t, err)

	return &testFixture{org: org, repo: repo, service: service, ctx: context.Background()}
}

func (f *testFixture) login(t *testing.T) sessions.Session {
	t.Helper()
	session, err := f.service.CompleteLogin(f.ctx, "", f.org.IssueCode(), "")
	require.NoError(t, err)
	return session
}

func stateOf(t *testing.T, authURL string) string {
	t.Helper()
	u, err := url.Parse(authURL)
	require.NoError(t, err)
	return u.Query().Get("state")
}

func TestNewService(t *testing.T) {
	_, err := proxy.NewService(nil, sessions.NewInMemoryRepo(), authflowrepo.NewInMemoryRepo(0))
	require.Error(t, err)
}

func TestLogin(t *testing.T) {
	t.Run("issued state is accepted once", func(t *testing.T) {
		f := setupTestFixture(t, proxy.WithRequireState(true))

		authURL, state, err := f.service.LoginURL(f.ctx)
		require.NoError(t, err)
		require.NotEmpty(t, state)
		require.Equal(t, state, stateOf(t, authURL))

		session, err := f.service.CompleteLogin(f.ctx, "", f.org.IssueCode(), state)
		require.NoError(t, err)
		require.True(t, session.Authenticated())
		require.NotEmpty(t, session.Tokens.RefreshToken)

		_, err = f.service.CompleteLogin(f.ctx, "", f.org.IssueCode(), state)
		require.ErrorIs(t, err, apperrors.ErrInvalidRequest)
	})

	t.Run("unknown state makes no provider call", func(t *testing.T) {
		f := setupTestFixture(t)

		_, err := f.service.CompleteLogin(f.ctx, "", "abc123", "forged")
		require.ErrorIs(t, err, apperrors.ErrInvalidRequest)
		require.Equal(t, 0, f.org.Requests())
	})

	t.Run("missing state when required", func(t *testing.T) {
		f := setupTestFixture(t, proxy.WithRequireState(true))

		_, err := f.service.CompleteLogin(f.ctx, "", f.org.IssueCode(), "")
		require.ErrorIs(t, err, apperrors.ErrInvalidRequest)
	})

	t.Run("missing state tolerated by default", func(t *testing.T) {
		f := setupTestFixture(t)
		f.login(t)
		require.Equal(t, 1, f.repo.Len())
	})

	t.Run("code replay creates no session", func(t *testing.T) {
		f := setupTestFixture(t)
		code := f.org.IssueCode()

		_, err := f.service.CompleteLogin(f.ctx, "", code, "")
		require.NoError(t, err)
		_, err = f.service.CompleteLogin(f.ctx, "", code, "")
		require.ErrorIs(t, err, apperrors.ErrAuthExchange)
		require.Equal(t, 1, f.repo.Len())
	})

	t.Run("login rotates the session id", func(t *testing.T) {
		f := setupTestFixture(t)
		first := f.login(t)

		second, err := f.service.CompleteLogin(f.ctx, first.ID, f.org.IssueCode(), "")
		require.NoError(t, err)
		require.NotEqual(t, first.ID, second.ID)

		_, err = f.service.Session(f.ctx, first.ID)
		require.ErrorIs(t, err, apperrors.ErrNotAuthenticated)
		require.Equal(t, 1, f.repo.Len())
	})
}

func TestListOpportunities(t *testing.T) {
	t.Run("without a session makes zero provider calls", func(t *testing.T) {
		f := setupTestFixture(t)

		_, err := f.service.ListOpportunities(f.ctx, "", soql.OpportunityFilter{})
		require.ErrorIs(t, err, apperrors.ErrNotAuthenticated)
		_, err = f.service.ListOpportunities(f.ctx, "unknown-sid", soql.OpportunityFilter{})
		require.ErrorIs(t, err, apperrors.ErrNotAuthenticated)
		require.Equal(t, 0, f.org.Requests())
	})

	t.Run("lists with the session bundle", func(t *testing.T) {
		f := setupTestFixture(t)
		session := f.login(t)

		opps, err := f.service.ListOpportunities(f.ctx, session.ID, soql.OpportunityFilter{StageNames: []string{"Prospecting"}})
		require.NoError(t, err)
		require.Len(t, opps, 1)
		require.Equal(t, "Prospecting", opps[0].StageName)
	})

	t.Run("silently refreshes an expired access token", func(t *testing.T) {
		f := setupTestFixture(t)
		session := f.login(t)
		f.org.ExpireAccessTokens()

		opps, err := f.service.ListOpportunities(f.ctx, session.ID, soql.OpportunityFilter{})
		require.NoError(t, err)
		require.Len(t, opps, 3)

		stored, err := f.service.Session(f.ctx, session.ID)
		require.NoError(t, err)
		require.NotEqual(t, session.Tokens.AccessToken, stored.Tokens.AccessToken)
		require.Equal(t, session.Tokens.RefreshToken, stored.Tokens.RefreshToken)
		require.Equal(t, session.Tokens.InstanceURL, stored.Tokens.InstanceURL)
		// the rejected attempt never reaches query evaluation
		require.Len(t, f.org.Queries(), 1)
	})

	t.Run("revoked refresh token clears the session", func(t *testing.T) {
		f := setupTestFixture(t)
		session := f.login(t)
		f.org.ExpireAccessTokens()
		f.org.RevokeRefreshTokens()

		_, err := f.service.ListOpportunities(f.ctx, session.ID, soql.OpportunityFilter{})
		require.ErrorIs(t, err, apperrors.ErrSessionExpired)
		require.NotErrorIs(t, err, apperrors.ErrNotAuthenticated)

		_, err = f.service.ListOpportunities(f.ctx, session.ID, soql.OpportunityFilter{})
		require.ErrorIs(t, err, apperrors.ErrNotAuthenticated)
	})

	t.Run("token endpoint outage keeps the session", func(t *testing.T) {
		f := setupTestFixture(t)
		session := f.login(t)
		f.org.ExpireAccessTokens()
		f.org.FailNextToken(http.StatusServiceUnavailable)

		_, err := f.service.ListOpportunities(f.ctx, session.ID, soql.OpportunityFilter{})
		require.ErrorIs(t, err, apperrors.ErrUpstream)
		require.NotErrorIs(t, err, apperrors.ErrSessionExpired)

		stored, err := f.service.Session(f.ctx, session.ID)
		require.NoError(t, err)
		require.Equal(t, session.Tokens.RefreshToken, stored.Tokens.RefreshToken)

		// next call refreshes normally
		opps, err := f.service.ListOpportunities(f.ctx, session.ID, soql.OpportunityFilter{})
		require.NoError(t, err)
		require.Len(t, opps, 3)
	})

	t.Run("concurrent requests share one refresh", func(t *testing.T) {
		f := setupTestFixture(t)
		session := f.login(t)
		f.org.ExpireAccessTokens()

		var wg sync.WaitGroup
		errs := make([]error, 5)
		for i := range errs {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, errs[i] = f.service.ListOpportunities(f.ctx, session.ID, soql.OpportunityFilter{})
			}(i)
		}
		wg.Wait()
		for _, err := range errs {
			require.NoError(t, err)
		}
	})

	t.Run("query errors do not trigger a refresh", func(t *testing.T) {
		f := setupTestFixture(t)
		session := f.login(t)
		f.org.FailNextQuery(400, "INVALID_FIELD")
		before := f.org.Requests()

		_, err := f.service.ListOpportunities(f.ctx, session.ID, soql.OpportunityFilter{})
		require.ErrorIs(t, err, apperrors.ErrQuery)
		require.Equal(t, before+1, f.org.Requests())
	})
}

func TestGetOpportunity(t *testing.T) {
	f := setupTestFixture(t)
	session := f.login(t)

	opp, err := f.service.GetOpportunity(f.ctx, session.ID, "006000000000003AAA")
	require.NoError(t, err)
	require.Equal(t, "Initech pilot", opp.Name)

	_, err = f.service.GetOpportunity(f.ctx, session.ID, "006000000000009AAA")
	require.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestRefresh(t *testing.T) {
	f := setupTestFixture(t)
	session := f.login(t)

	refreshed, err := f.service.Refresh(f.ctx, session.Tokens.RefreshToken, session.Tokens.InstanceURL)
	require.NoError(t, err)
	require.NotEmpty(t, refreshed.AccessToken)
	require.Empty(t, refreshed.RefreshToken)

	_, err = f.service.Refresh(f.ctx, "", "")
	require.ErrorIs(t, err, apperrors.ErrInvalidRequest)

	_, err = f.service.Refresh(f.ctx, "rt-bogus", "")
	require.ErrorIs(t, err, apperrors.ErrRefresh)
}

func TestIdentity(t *testing.T) {
	f := setupTestFixture(t)
	session := f.login(t)

	id, err := f.service.Identity(f.ctx, session.Tokens)
	require.NoError(t, err)
	require.Equal(t, fakeorg.Username, id.Username)
}

func TestLogout(t *testing.T) {
	t.Run("revokes and deletes", func(t *testing.T) {
		f := setupTestFixture(t)
		session := f.login(t)

		require.NoError(t, f.service.Logout(f.ctx, session.ID))
		require.Equal(t, []string{session.Tokens.RefreshToken}, f.org.Revoked())

		_, err := f.service.ListOpportunities(f.ctx, session.ID, soql.OpportunityFilter{})
		require.ErrorIs(t, err, apperrors.ErrNotAuthenticated)
	})

	t.Run("revocation disabled", func(t *testing.T) {
		f := setupTestFixture(t, proxy.WithRevokeOnLogout(false))
		session := f.login(t)

		require.NoError(t, f.service.Logout(f.ctx, session.ID))
		require.Empty(t, f.org.Revoked())
		require.Equal(t, 0, f.repo.Len())
	})

	t.Run("anonymous logout is a no-op", func(t *testing.T) {
		f := setupTestFixture(t)
		require.NoError(t, f.service.Logout(f.ctx, ""))
		require.NoError(t, f.service.Logout(f.ctx, "unknown"))
		require.Equal(t, 0, f.org.Requests())
	})
}
