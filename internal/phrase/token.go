package phrase

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// tokenSafetyMargin is subtracted from the vendor-reported expiry so a token
// is refreshed before it can expire mid-request.
const tokenSafetyMargin = 2 * time.Minute

// TokenCache persists a token across processes so the api and worker share
// one vendor session instead of racing logins.
type TokenCache interface {
	Load(ctx context.Context) (token string, expires time.Time, err error)
	Save(ctx context.Context, token string, expires time.Time) error
}

// TokenSource logs in lazily and caches the bearer token until close to
// expiry. Concurrent refreshes collapse into a single login call.
type TokenSource struct {
	baseURL  string
	username string
	password string
	client   *http.Client
	cache    TokenCache
	now      func() time.Time

	mu      sync.Mutex
	token   string
	expires time.Time
	group   singleflight.Group
}

// TokenSourceOptions configures a TokenSource. Cache is optional.
type TokenSourceOptions struct {
	BaseURL    string
	Username   string
	Password   string
	HTTPClient *http.Client
	Cache      TokenCache
}

func NewTokenSource(opts TokenSourceOptions) *TokenSource {
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &TokenSource{
		baseURL:  opts.BaseURL,
		username: opts.Username,
		password: opts.Password,
		client:   client,
		cache:    opts.Cache,
		now:      time.Now,
	}
}

// Token returns a bearer token valid for at least the safety margin.
func (s *TokenSource) Token(ctx context.Context) (string, error) {
	s.mu.Lock()
	if s.token != "" && s.now().Add(tokenSafetyMargin).Before(s.expires) {
		token := s.token
		s.mu.Unlock()
		return token, nil
	}
	s.mu.Unlock()

	v, err, _ := s.group.Do("token", func() (any, error) {
		return s.refresh(ctx)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (s *TokenSource) refresh(ctx context.Context) (string, error) {
	if s.cache != nil {
		if token, expires, err := s.cache.Load(ctx); err == nil && token != "" {
			if s.now().Add(tokenSafetyMargin).Before(expires) {
				s.store(token, expires)
				return token, nil
			}
		}
	}

	token, expires, err := s.login(ctx)
	if err != nil {
		return "", err
	}
	s.store(token, expires)
	if s.cache != nil {
		// Best effort: a failed save only costs an extra login elsewhere.
		_ = s.cache.Save(ctx, token, expires)
	}
	return token, nil
}

func (s *TokenSource) store(token string, expires time.Time) {
	s.mu.Lock()
	s.token = token
	s.expires = expires
	s.mu.Unlock()
}

func (s *TokenSource) login(ctx context.Context) (string, time.Time, error) {
	payload, err := json.Marshal(map[string]string{
		"userName": s.username,
		"password": s.password,
	})
	if err != nil {
		return "", time.Time{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/api2/v1/auth/login", bytes.NewReader(payload))
	if err != nil {
		return "", time.Time{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.client.Do(req)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("vendor login: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode >= 300 {
		return "", time.Time{}, fmt.Errorf("vendor login responded %d", resp.StatusCode)
	}
	var out struct {
		Token   string    `json:"token"`
		Expires time.Time `json:"expires"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", time.Time{}, fmt.Errorf("decode login response: %w", err)
	}
	if out.Token == "" {
		return "", time.Time{}, fmt.Errorf("vendor login returned empty token")
	}
	expires := out.Expires
	if expires.IsZero() {
		expires = s.now().Add(30 * time.Minute)
	}
	return out.Token, expires, nil
}
