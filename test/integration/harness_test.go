package integration

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/oauth2"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/sessioncore/token-lifecycle-service/internal/domain"
	"github.com/sessioncore/token-lifecycle-service/internal/health"
	"github.com/sessioncore/token-lifecycle-service/internal/http/handler"
	"github.com/sessioncore/token-lifecycle-service/internal/http/router"
	"github.com/sessioncore/token-lifecycle-service/internal/repository"
	"github.com/sessioncore/token-lifecycle-service/internal/security"
	"github.com/sessioncore/token-lifecycle-service/internal/service"
)

const (
	testPepper    = "integration-pepper-0123456789"
	testJWTSecret = "integration-secret-0123456789abcdef"
)

// fakeIdentityProvider stands in for Google. The authorization code carries
// the email, so tests log in as arbitrary users without a browser round trip.
// Codes starting with "unverified-" produce an unverified email.
type fakeIdentityProvider struct{}

func (fakeIdentityProvider) AuthCodeURL(state string) string {
	return "https://accounts.example/o/oauth2/auth?state=" + url.QueryEscape(state)
}

func (fakeIdentityProvider) Exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	if code == "" {
		return nil, fmt.Errorf("empty authorization code")
	}
	return &oauth2.Token{AccessToken: "provider-" + code}, nil
}

func (fakeIdentityProvider) FetchUserInfo(ctx context.Context, token *oauth2.Token) (*service.OAuthUserInfo, error) {
	email := strings.TrimPrefix(token.AccessToken, "provider-")
	return &service.OAuthUserInfo{
		Provider:       "google",
		ProviderUserID: email,
		Email:          email,
		EmailVerified:  !strings.HasPrefix(email, "unverified-"),
		Name:           email,
	}, nil
}

type serverConfig struct {
	accessTTL       time.Duration
	refreshTTL      time.Duration
	authRPM         int
	apiRPM          int
	redisClient     *redis.Client
	abusePolicy     *service.AuthAbusePolicy
	authRateLimiter func(http.Handler) http.Handler
}

type serverOption func(*serverConfig)

func withRefreshTTL(d time.Duration) serverOption {
	return func(c *serverConfig) { c.refreshTTL = d }
}

func withRedis(client *redis.Client) serverOption {
	return func(c *serverConfig) { c.redisClient = client }
}

func withAbusePolicy(p service.AuthAbusePolicy) serverOption {
	return func(c *serverConfig) { c.abusePolicy = &p }
}

func withAuthRateLimiter(mw func(http.Handler) http.Handler) serverOption {
	return func(c *serverConfig) { c.authRateLimiter = mw }
}

type testServer struct {
	baseURL   string
	client    *http.Client
	directory *service.InMemoryUserDirectory
	janitor   *service.JanitorService
	repo      repository.TokenRepository
}

// newLifecycleServer wires the full HTTP stack against sqlite and the fake
// identity provider, mirroring the production object graph.
func newLifecycleServer(t *testing.T, opts ...serverOption) *testServer {
	t.Helper()

	cfg := serverConfig{
		accessTTL:  15 * time.Minute,
		refreshTTL: 24 * time.Hour,
		authRPM:    10000,
		apiRPM:     10000,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_busy_timeout=5000", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&domain.RefreshToken{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	var negCache service.NegativeLookupCacheStore
	var stateStore service.OAuthStateStore
	var abuseGuard handler.AbuseGuard
	if cfg.redisClient != nil {
		negCache = service.NewRedisNegativeLookupCacheStore(cfg.redisClient, "")
		stateStore = service.NewRedisOAuthStateStore(cfg.redisClient, "")
		if cfg.abusePolicy != nil {
			abuseGuard = service.NewRedisAuthAbuseGuard(cfg.redisClient, "", *cfg.abusePolicy)
		}
	} else {
		negCache = service.NewInMemoryNegativeLookupCacheStore()
		stateStore = service.NewInMemoryOAuthStateStore()
	}

	jwtMgr := security.NewJWTManager("integration", "integration", testJWTSecret)
	tokenRepo := repository.NewTokenRepository(db)
	directory := service.NewInMemoryUserDirectory()

	tokens := service.NewTokenService(jwtMgr, tokenRepo, directory, negCache, testPepper, cfg.accessTTL, cfg.refreshTTL)
	revocation := service.NewRevocationService(tokenRepo)
	sessions := service.NewSessionService(tokenRepo, revocation)
	janitor := service.NewJanitorService(tokenRepo, nil)
	oauth := service.NewOAuthService(fakeIdentityProvider{}, stateStore, directory)

	cookies := handler.CookieConfig{Secure: false, AccessTTL: cfg.accessTTL}

	mux := router.NewRouter(router.Dependencies{
		AuthHandler:      handler.NewAuthHandler(oauth, tokens, revocation, abuseGuard, cookies),
		SessionHandler:   handler.NewSessionHandler(sessions, tokens, cookies),
		AdminHandler:     handler.NewAdminHandler(revocation),
		JWTManager:       jwtMgr,
		AuthRateLimitRPM: cfg.authRPM,
		APIRateLimitRPM:  cfg.apiRPM,
		AuthRateLimiter:  cfg.authRateLimiter,
		Readiness:        health.NewProbeRunner(time.Second, time.Second, health.NewGormChecker("database", db)),
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	client := &http.Client{
		Timeout: 10 * time.Second,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}

	return &testServer{
		baseURL:   srv.URL,
		client:    client,
		directory: directory,
		janitor:   janitor,
		repo:      tokenRepo,
	}
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

type session struct {
	userID       uint
	accessToken  string
	csrfToken    string
	refreshToken string
}

// login walks the full OAuth dance: login redirect, state extraction and the
// callback exchange, returning the freshly issued credential set.
func (s *testServer) login(t *testing.T, email string) session {
	t.Helper()

	resp := s.do(t, http.MethodGet, "/api/v1/auth/google/login", nil, nil, "")
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusFound {
		t.Fatalf("login redirect: expected 302, got %d", resp.StatusCode)
	}
	loc, err := url.Parse(resp.Header.Get("Location"))
	if err != nil {
		t.Fatalf("parse redirect location: %v", err)
	}
	state := loc.Query().Get("state")
	if state == "" {
		t.Fatal("redirect location carries no state")
	}

	return s.completeLogin(t, state, email)
}

func (s *testServer) completeLogin(t *testing.T, state, code string) session {
	t.Helper()

	resp := s.do(t, http.MethodGet, "/api/v1/auth/google/callback?state="+url.QueryEscape(state)+"&code="+url.QueryEscape(code), nil, nil, "")
	defer resp.Body.Close()
	env := decodeEnvelope(t, resp)
	if resp.StatusCode != http.StatusOK || !env.Success {
		t.Fatalf("callback failed: status=%d error=%+v", resp.StatusCode, env.Error)
	}

	var data struct {
		UserID      uint   `json:"user_id"`
		AccessToken string `json:"access_token"`
		CSRFToken   string `json:"csrf_token"`
	}
	if err := json.Unmarshal(env.Data, &data); err != nil {
		t.Fatalf("decode callback data: %v", err)
	}

	sess := session{userID: data.UserID, accessToken: data.AccessToken, csrfToken: data.CSRFToken}
	for _, c := range resp.Cookies() {
		if c.Name == "refresh_token" {
			sess.refreshToken = c.Value
		}
	}
	if sess.refreshToken == "" {
		t.Fatal("callback did not set a refresh cookie")
	}
	return sess
}

// refresh posts a rotation attempt with the session's cookies and CSRF pair.
func (s *testServer) refresh(t *testing.T, sess session) (*http.Response, envelope, session) {
	t.Helper()

	cookies := []*http.Cookie{
		{Name: "refresh_token", Value: sess.refreshToken},
		{Name: "csrf_token", Value: sess.csrfToken},
	}
	headers := map[string]string{"X-CSRF-Token": sess.csrfToken}
	resp := s.do(t, http.MethodPost, "/api/v1/auth/refresh", cookies, headers, "")
	defer resp.Body.Close()
	env := decodeEnvelope(t, resp)

	next := session{userID: sess.userID}
	if resp.StatusCode == http.StatusOK {
		var data struct {
			AccessToken string `json:"access_token"`
			CSRFToken   string `json:"csrf_token"`
		}
		if err := json.Unmarshal(env.Data, &data); err != nil {
			t.Fatalf("decode refresh data: %v", err)
		}
		next.accessToken = data.AccessToken
		next.csrfToken = data.CSRFToken
		for _, c := range resp.Cookies() {
			if c.Name == "refresh_token" {
				next.refreshToken = c.Value
			}
		}
	}
	return resp, env, next
}

func (s *testServer) do(t *testing.T, method, path string, cookies []*http.Cookie, headers map[string]string, body string) *http.Response {
	t.Helper()

	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, s.baseURL+path, reader)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for _, c := range cookies {
		req.AddCookie(c)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	return resp
}

func decodeEnvelope(t *testing.T, resp *http.Response) envelope {
	t.Helper()
	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	return env
}

func errorCodeOf(env envelope) string {
	if env.Error == nil {
		return ""
	}
	return env.Error.Code
}
