package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

type OAuthUserInfo struct {
	Provider       string
	ProviderUserID string
	Email          string
	EmailVerified  bool
	Name           string
	AvatarURL      string
}

// OAuthProvider is the external identity collaborator. The token core trusts
// its result completely and performs no independent verification.
type OAuthProvider interface {
	AuthCodeURL(state string) string
	Exchange(ctx context.Context, code string) (*oauth2.Token, error)
	FetchUserInfo(ctx context.Context, token *oauth2.Token) (*OAuthUserInfo, error)
}

var (
	ErrOAuthStateInvalid   = errors.New("oauth state invalid or already used")
	ErrEmailNotVerified    = errors.New("oauth email not verified")
	ErrOAuthProviderFailed = errors.New("oauth provider request failed")
)

const oauthStateTTL = 10 * time.Minute

type OAuthService struct {
	provider   OAuthProvider
	stateStore OAuthStateStore
	directory  UserDirectory
}

func NewOAuthService(provider OAuthProvider, stateStore OAuthStateStore, directory UserDirectory) *OAuthService {
	return &OAuthService{provider: provider, stateStore: stateStore, directory: directory}
}

// LoginURL mints a single-use state nonce and returns the provider redirect.
func (s *OAuthService) LoginURL(ctx context.Context) (string, error) {
	state := uuid.NewString()
	if err := s.stateStore.Put(ctx, state, oauthStateTTL); err != nil {
		return "", fmt.Errorf("store oauth state: %w", err)
	}
	return s.provider.AuthCodeURL(state), nil
}

// HandleCallback redeems the state nonce, exchanges the code and resolves the
// verified profile to a directory user.
func (s *OAuthService) HandleCallback(ctx context.Context, state, code string) (uint, []string, error) {
	ok, err := s.stateStore.Consume(ctx, state)
	if err != nil {
		return 0, nil, fmt.Errorf("consume oauth state: %w", err)
	}
	if !ok {
		return 0, nil, ErrOAuthStateInvalid
	}
	token, err := s.provider.Exchange(ctx, code)
	if err != nil {
		return 0, nil, fmt.Errorf("exchange code: %w", err)
	}
	info, err := s.provider.FetchUserInfo(ctx, token)
	if err != nil {
		return 0, nil, fmt.Errorf("fetch userinfo: %w", err)
	}
	if !info.EmailVerified {
		return 0, nil, ErrEmailNotVerified
	}
	userID, roles, err := s.directory.ResolveExternal(info)
	if err != nil {
		return 0, nil, fmt.Errorf("resolve user: %w", err)
	}
	return userID, roles, nil
}

const googleUserInfoURL = "https://openidconnect.googleapis.com/v1/userinfo"

type GoogleOAuthProvider struct {
	config *oauth2.Config
}

func NewGoogleOAuthProvider(clientID, clientSecret, redirectURL string) *GoogleOAuthProvider {
	return &GoogleOAuthProvider{
		config: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURL,
			Scopes:       []string{"openid", "email", "profile"},
			Endpoint:     google.Endpoint,
		},
	}
}

func (p *GoogleOAuthProvider) AuthCodeURL(state string) string {
	return p.config.AuthCodeURL(state, oauth2.AccessTypeOnline)
}

func (p *GoogleOAuthProvider) Exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	return p.config.Exchange(ctx, code)
}

func (p *GoogleOAuthProvider) FetchUserInfo(ctx context.Context, token *oauth2.Token) (*OAuthUserInfo, error) {
	client := p.config.Client(ctx, token)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, googleUserInfoURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrOAuthProviderFailed, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: userinfo status %d", ErrOAuthProviderFailed, resp.StatusCode)
	}
	var payload struct {
		Sub           string `json:"sub"`
		Email         string `json:"email"`
		EmailVerified bool   `json:"email_verified"`
		Name          string `json:"name"`
		Picture       string `json:"picture"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode userinfo: %w", err)
	}
	return &OAuthUserInfo{
		Provider:       "google",
		ProviderUserID: payload.Sub,
		Email:          payload.Email,
		EmailVerified:  payload.EmailVerified,
		Name:           payload.Name,
		AvatarURL:      payload.Picture,
	}, nil
}
