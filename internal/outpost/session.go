package outpost

import (
	"context"
	"net/http"
	"sync"
	"time"

	"outpost-sync/internal/models"
	"outpost-sync/internal/util"

	"go.uber.org/zap"
)

// loginRequest matches POST /auth/login.
type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// tokenResponse matches the login response body.
type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

// Session holds zero or one valid bearer token for a single outpost endpoint.
// One Session instance is shared by every caller addressing the same node;
// reads are cheap, refresh takes the write lock.
type Session struct {
	mu       sync.RWMutex
	token    *models.AuthToken
	username string
	password string

	baseURL string
	exec    *Executor
	now     func() time.Time
	logger  *zap.Logger
}

// NewSession creates a session for one node endpoint. The token is held in
// memory only and is never persisted.
func NewSession(baseURL string, exec *Executor) *Session {
	return &Session{
		baseURL: baseURL,
		exec:    exec,
		now:     time.Now,
		logger:  util.GetLogger(),
	}
}

// Authenticate issues a login call through the Executor. Credential rejection
// (401/403) is terminal and never retried: it clears any held token and
// returns false without an error. An error is returned only when transport
// failure persists past the executor's retry budget.
func (s *Session) Authenticate(ctx context.Context, username, password string) (bool, error) {
	resp, err := s.exec.Do(ctx, Request{
		Method:     http.MethodPost,
		URL:        s.baseURL + "/auth/login",
		Body:       loginRequest{Username: username, Password: password},
		Idempotent: true,
	}, nil)
	if err != nil {
		if IsAuth(err) || ClassOf(err) == ClassValidation {
			s.logger.Warn("Authentication rejected",
				zap.String("base_url", s.baseURL),
				zap.String("username", username))
			s.Clear()
			return false, nil
		}
		return false, err
	}

	var body tokenResponse
	if err := resp.DecodeJSON(&body); err != nil {
		s.Clear()
		return false, err
	}

	issued := s.now()
	s.mu.Lock()
	s.token = &models.AuthToken{
		Value:     body.AccessToken,
		TokenType: body.TokenType,
		Principal: username,
		IssuedAt:  issued,
		ExpiresAt: issued.Add(time.Duration(body.ExpiresIn) * time.Second),
	}
	s.username = username
	s.password = password
	s.mu.Unlock()

	util.AuthenticationsTotal.WithLabelValues("success").Inc()
	s.logger.Info("Authenticated",
		zap.String("base_url", s.baseURL),
		zap.String("principal", username),
		zap.Int("expires_in", body.ExpiresIn))
	return true, nil
}

// Reauthenticate retries login with the credentials cached by the last
// successful Authenticate. Returns false when no credentials are cached.
func (s *Session) Reauthenticate(ctx context.Context) (bool, error) {
	s.mu.RLock()
	username, password := s.username, s.password
	s.mu.RUnlock()

	if username == "" {
		return false, nil
	}

	util.ReauthenticationsTotal.Inc()
	return s.Authenticate(ctx, username, password)
}

// CurrentToken returns the held token only while it is unexpired. An expired
// token is cleared lazily; there is no background refresh timer.
func (s *Session) CurrentToken() (*models.AuthToken, bool) {
	s.mu.RLock()
	token := s.token
	s.mu.RUnlock()

	if token == nil {
		return nil, false
	}
	if token.Valid(s.now()) {
		return token, true
	}

	s.mu.Lock()
	if s.token == token {
		s.token = nil
	}
	s.mu.Unlock()
	return nil, false
}

// HasCredentials reports whether a transparent re-authentication is possible.
func (s *Session) HasCredentials() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.username != ""
}

// Clear discards the token unconditionally (logout). Cached credentials are
// dropped too so a logged-out client stays logged out.
func (s *Session) Clear() {
	s.mu.Lock()
	s.token = nil
	s.username = ""
	s.password = ""
	s.mu.Unlock()
}
