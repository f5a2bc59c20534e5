// Package proxy implements the session-bound operations behind the HTTP
// routes: login, callback, silent refresh and the opportunity queries.
package proxy

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"time"

	apperrors "github.com/jrsteele09/go-salesforce-proxy/internal/errors"
	"github.com/jrsteele09/go-salesforce-proxy/proxy/authflowrepo"
	"github.com/jrsteele09/go-salesforce-proxy/salesforce"
	"github.com/jrsteele09/go-salesforce-proxy/salesforce/soql"
	"github.com/jrsteele09/go-salesforce-proxy/sessions"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

const stateLength = 32

// Connector is the provider surface the service depends on.
// *salesforce.Connector satisfies it.
type Connector interface {
	AuthorizationURL(state string) string
	ExchangeCode(ctx context.Context, code string) (salesforce.TokenBundle, error)
	RefreshAccessToken(ctx context.Context, bundle salesforce.TokenBundle) (salesforce.TokenBundle, error)
	Revoke(ctx context.Context, token string) error
	Identity(ctx context.Context, bundle salesforce.TokenBundle) (salesforce.Identity, error)
	QueryOpportunities(ctx context.Context, bundle salesforce.TokenBundle, filter soql.OpportunityFilter) ([]salesforce.Opportunity, error)
	GetOpportunity(ctx context.Context, bundle salesforce.TokenBundle, id string) (salesforce.Opportunity, error)
}

var _ Connector = (*salesforce.Connector)(nil)

type Service struct {
	connector      Connector
	sessions       sessions.Repo
	states         authflowrepo.Repo
	sessionTTL     time.Duration
	requireState   bool
	revokeOnLogout bool
	nowTime        func() time.Time

	// one refresh in flight per session
	refreshes singleflight.Group
}

type ServiceOption func(*Service)

func WithSessionTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) {
		s.sessionTTL = ttl
	}
}

// WithRequireState rejects callbacks that carry no state parameter.
func WithRequireState(required bool) ServiceOption {
	return func(s *Service) {
		s.requireState = required
	}
}

// WithRevokeOnLogout controls whether Logout revokes the refresh token.
func WithRevokeOnLogout(revoke bool) ServiceOption {
	return func(s *Service) {
		s.revokeOnLogout = revoke
	}
}

// WithNowTime sets the now time function (primarily for testing)
func WithNowTime(nowFunc func() time.Time) ServiceOption {
	return func(s *Service) {
		s.nowTime = nowFunc
	}
}

func NewService(connector Connector, repo sessions.Repo, states authflowrepo.Repo, options ...ServiceOption) (*Service, error) {
	if connector == nil {
		return nil, apperrors.New("[NewService] connector is required")
	}
	if repo == nil {
		return nil, apperrors.New("[NewService] session repo is required")
	}
	if states == nil {
		return nil, apperrors.New("[NewService] state repo is required")
	}

	s := &Service{
		connector:      connector,
		sessions:       repo,
		states:         states,
		sessionTTL:     sessions.DefaultTTL,
		revokeOnLogout: true,
		nowTime:        time.Now,
	}
	for _, opt := range options {
		opt(s)
	}
	return s, nil
}

// LoginURL issues a fresh state and returns the provider's login page URL
// along with the state, which the caller binds to the requesting browser.
func (s *Service) LoginURL(_ context.Context) (authURL, state string, err error) {
	state, err = generateState()
	if err != nil {
		return "", "", apperrors.Wrapf(err, "[Service LoginURL] state")
	}
	if err := s.states.Upsert(state, authflowrepo.AuthFlowState{CreatedAt: s.nowTime()}); err != nil {
		return "", "", apperrors.Wrapf(err, "[Service LoginURL] remember state")
	}
	return s.connector.AuthorizationURL(state), state, nil
}

// CompleteLogin validates state, exchanges the code and binds the resulting
// bundle to a new session. Any previous session of the caller is dropped so
// a session ID is never reused across logins.
func (s *Service) CompleteLogin(ctx context.Context, previousSessionID, code, state string) (sessions.Session, error) {
	if code == "" {
		return sessions.Session{}, fmt.Errorf("%w: missing authorization code", apperrors.ErrInvalidRequest)
	}
	switch {
	case state != "":
		if _, err := s.states.Take(state); err != nil {
			return sessions.Session{}, fmt.Errorf("%w: unknown or expired state", apperrors.ErrInvalidRequest)
		}
	case s.requireState:
		return sessions.Session{}, fmt.Errorf("%w: missing state", apperrors.ErrInvalidRequest)
	}

	bundle, err := s.connector.ExchangeCode(ctx, code)
	if err != nil {
		return sessions.Session{}, err
	}

	if previousSessionID != "" {
		if err := s.sessions.Delete(ctx, previousSessionID); err != nil {
			log.Warn().Err(err).Msg("Failed to drop previous session")
		}
	}

	session := sessions.New(bundle, s.sessionTTL)
	if err := s.sessions.Upsert(ctx, session); err != nil {
		return sessions.Session{}, apperrors.Wrapf(err, "[Service CompleteLogin] store session")
	}
	log.Info().Str("user_id", bundle.UserID).Str("org_id", bundle.OrganizationID).Msg("Salesforce login completed")
	return session, nil
}

// Session returns the caller's session, or ErrNotAuthenticated.
func (s *Service) Session(ctx context.Context, sessionID string) (sessions.Session, error) {
	session, err := s.sessions.Get(ctx, sessionID)
	if apperrors.Is(err, apperrors.ErrSessionNotFound) {
		return sessions.Session{}, apperrors.ErrNotAuthenticated
	}
	if err != nil {
		return sessions.Session{}, err
	}
	if !session.Authenticated() {
		return sessions.Session{}, apperrors.ErrNotAuthenticated
	}
	return session, nil
}

// Identity looks up the principal behind an explicit token bundle.
func (s *Service) Identity(ctx context.Context, bundle salesforce.TokenBundle) (salesforce.Identity, error) {
	return s.connector.Identity(ctx, bundle)
}

// Refresh mints a new access token for an explicit refresh token. Nothing is
// stored.
func (s *Service) Refresh(ctx context.Context, refreshToken, instanceURL string) (salesforce.TokenBundle, error) {
	if refreshToken == "" {
		return salesforce.TokenBundle{}, fmt.Errorf("%w: refreshToken is required", apperrors.ErrInvalidRequest)
	}
	refreshed, err := s.connector.RefreshAccessToken(ctx, salesforce.TokenBundle{RefreshToken: refreshToken, InstanceURL: instanceURL})
	if err != nil {
		return salesforce.TokenBundle{}, err
	}
	return refreshed, nil
}

func (s *Service) ListOpportunities(ctx context.Context, sessionID string, filter soql.OpportunityFilter) ([]salesforce.Opportunity, error) {
	var opps []salesforce.Opportunity
	err := s.withRefresh(ctx, sessionID, func(bundle salesforce.TokenBundle) error {
		var err error
		opps, err = s.connector.QueryOpportunities(ctx, bundle, filter)
		return err
	})
	return opps, err
}

func (s *Service) GetOpportunity(ctx context.Context, sessionID, id string) (salesforce.Opportunity, error) {
	var opp salesforce.Opportunity
	err := s.withRefresh(ctx, sessionID, func(bundle salesforce.TokenBundle) error {
		var err error
		opp, err = s.connector.GetOpportunity(ctx, bundle, id)
		return err
	})
	return opp, err
}

// Logout revokes the refresh token when configured and deletes the session.
// Revocation is best-effort; the local session is always removed.
func (s *Service) Logout(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return nil
	}
	session, err := s.sessions.Get(ctx, sessionID)
	if err == nil && s.revokeOnLogout && session.Tokens.CanRefresh() {
		if err := s.connector.Revoke(ctx, session.Tokens.RefreshToken); err != nil {
			log.Warn().Err(err).Msg("Failed to revoke refresh token")
		}
	}
	return s.sessions.Delete(ctx, sessionID)
}

// withRefresh runs call with the session's bundle. When the provider reports
// the access token expired it refreshes once and retries once. A refresh the
// provider refuses clears the session; any other refresh failure leaves it in
// place and is returned as is.
func (s *Service) withRefresh(ctx context.Context, sessionID string, call func(salesforce.TokenBundle) error) error {
	session, err := s.Session(ctx, sessionID)
	if err != nil {
		return err
	}

	err = call(session.Tokens)
	if !apperrors.Is(err, apperrors.ErrSessionExpired) {
		return err
	}
	if !session.Tokens.CanRefresh() {
		s.clear(ctx, sessionID)
		return err
	}

	refreshed, rerr := s.refreshSession(ctx, session)
	if apperrors.Is(rerr, apperrors.ErrRefresh) {
		log.Warn().Err(rerr).Msg("Silent refresh refused, clearing session")
		s.clear(ctx, sessionID)
		return fmt.Errorf("%w: please sign in again", apperrors.ErrSessionExpired)
	}
	if rerr != nil {
		log.Warn().Err(rerr).Msg("Silent refresh failed, keeping session")
		return rerr
	}
	return call(refreshed.Tokens)
}

// refreshSession refreshes the session's access token, collapsing concurrent
// refreshes of the same session into one provider call.
func (s *Service) refreshSession(ctx context.Context, stale sessions.Session) (sessions.Session, error) {
	v, err, _ := s.refreshes.Do(stale.ID, func() (any, error) {
		ctx := context.WithoutCancel(ctx)

		// another request may already have refreshed this session
		current, err := s.sessions.Get(ctx, stale.ID)
		if err != nil {
			return nil, fmt.Errorf("%w: session vanished during refresh", apperrors.ErrRefresh)
		}
		if current.Tokens.AccessToken != stale.Tokens.AccessToken {
			return current, nil
		}

		refreshed, err := s.connector.RefreshAccessToken(ctx, current.Tokens)
		if err != nil {
			return nil, err
		}
		current.Tokens = current.Tokens.WithAccessToken(refreshed)
		if err := s.sessions.Upsert(ctx, current); err != nil {
			return nil, apperrors.Wrapf(err, "[Service refreshSession] store session")
		}
		log.Debug().Str("user_id", current.Tokens.UserID).Msg("Access token refreshed")
		return current, nil
	})
	if err != nil {
		return sessions.Session{}, err
	}
	return v.(sessions.Session), nil
}

func (s *Service) clear(ctx context.Context, sessionID string) {
	if err := s.sessions.Delete(ctx, sessionID); err != nil {
		log.Err(err).Msg("Failed to clear session")
	}
}

func generateState() (string, error) {
	b := make([]byte, stateLength)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
