package supabase

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/dynamicsolutions/dashboard-bfa-go/internal/domain"
	"github.com/dynamicsolutions/dashboard-bfa-go/internal/infra/resilience"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// ============================================================
// GoTrue (Supabase Auth) endpoints
// ============================================================

// AuthAPI is the subset of GoTrue the session backend relies on.
// *Client implements it.
type AuthAPI interface {
	SignInWithPassword(ctx context.Context, email, password string) (*domain.Session, error)
	RefreshSession(ctx context.Context, refreshToken string) (*domain.Session, error)
	GetUser(ctx context.Context, accessToken string) (*domain.Account, error)
	Logout(ctx context.Context, accessToken string) error
}

// AuthAPIError is a non-2xx answer from GoTrue.
type AuthAPIError struct {
	Status  int
	Code    string
	Message string
}

func (e *AuthAPIError) Error() string {
	return fmt.Sprintf("gotrue returned status %d (%s): %s", e.Status, e.Code, e.Message)
}

// gotrueErrorBody covers both the legacy OAuth-style and the current
// error envelopes.
type gotrueErrorBody struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
	ErrorCode        string `json:"error_code"`
	Msg              string `json:"msg"`
	Message          string `json:"message"`
}

func decodeAuthError(status int, body []byte) *AuthAPIError {
	var b gotrueErrorBody
	_ = json.Unmarshal(body, &b)

	e := &AuthAPIError{Status: status, Code: b.ErrorCode}
	if e.Code == "" {
		e.Code = b.Error
	}
	for _, m := range []string{b.Msg, b.ErrorDescription, b.Message} {
		if m != "" {
			e.Message = m
			break
		}
	}
	if e.Message == "" {
		e.Message = http.StatusText(status)
	}
	return e
}

// IsSessionRejected reports whether err means the tokens are no longer
// accepted by GoTrue and the stored session should be dropped.
func IsSessionRejected(err error) bool {
	var apiErr *AuthAPIError
	if !errors.As(err, &apiErr) {
		return false
	}
	switch apiErr.Status {
	case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound:
		return true
	}
	return false
}

type gotrueUser struct {
	ID               string         `json:"id"`
	Email            string         `json:"email"`
	AppMetadata      map[string]any `json:"app_metadata"`
	UserMetadata     map[string]any `json:"user_metadata"`
	EmailConfirmedAt string         `json:"email_confirmed_at"`
	LastSignInAt     string         `json:"last_sign_in_at"`
}

func (u *gotrueUser) toAccount() *domain.Account {
	return &domain.Account{
		ID:               u.ID,
		Email:            u.Email,
		AppMetadata:      u.AppMetadata,
		UserMetadata:     u.UserMetadata,
		EmailConfirmedAt: parseTimePtr(u.EmailConfirmedAt),
		LastSignInAt:     parseTimePtr(u.LastSignInAt),
	}
}

type gotrueTokenResponse struct {
	AccessToken  string     `json:"access_token"`
	TokenType    string     `json:"token_type"`
	ExpiresIn    int64      `json:"expires_in"`
	ExpiresAt    int64      `json:"expires_at"`
	RefreshToken string     `json:"refresh_token"`
	User         gotrueUser `json:"user"`
}

func (c *Client) toSession(t *gotrueTokenResponse) (*domain.Session, error) {
	if t.AccessToken == "" || t.User.ID == "" {
		return nil, fmt.Errorf("gotrue token response without access token or user")
	}
	expiresAt := c.clock.Now().Add(time.Duration(t.ExpiresIn) * time.Second)
	if t.ExpiresAt > 0 {
		expiresAt = time.Unix(t.ExpiresAt, 0)
	}
	return &domain.Session{
		AccessToken:  t.AccessToken,
		RefreshToken: t.RefreshToken,
		TokenType:    t.TokenType,
		ExpiresAt:    expiresAt,
		Account:      *t.User.toAccount(),
	}, nil
}

// doAuthRequest calls a GoTrue endpoint. bearer defaults to the anon key.
func (c *Client) doAuthRequest(ctx context.Context, method, path, bearer string, payload any) ([]byte, error) {
	u := fmt.Sprintf("%s/auth/v1/%s", c.baseURL, path)

	var body *bytes.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, resilience.Permanent(err)
		}
		body = bytes.NewReader(b)
	} else {
		body = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, resilience.Permanent(err)
	}
	if bearer == "" {
		bearer = c.apiKey
	}
	req.Header.Set("apikey", c.apiKey)
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", bearer))
	req.Header.Set("Content-Type", "application/json")

	var resp *http.Response
	err = c.bulkhead.Do(ctx, func() error {
		var doErr error
		resp, doErr = c.httpClient.Do(req)
		return doErr
	})
	if err != nil {
		c.logger.Error("gotrue: request failed",
			zap.String("method", method),
			zap.String("path", path),
			zap.Error(err),
		)
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := readBody(resp)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := decodeAuthError(resp.StatusCode, respBody)
		c.logger.Warn("gotrue: non-2xx response",
			zap.String("method", method),
			zap.String("path", path),
			zap.Int("status", resp.StatusCode),
			zap.String("code", apiErr.Code),
		)
		if !retryableStatus(resp.StatusCode) {
			return nil, resilience.Permanent(apiErr)
		}
		return nil, apiErr
	}

	c.logger.Debug("gotrue: request OK",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
	)
	return respBody, nil
}

// SignInWithPassword exchanges email and password for a session.
// Rejected credentials come back as *domain.CredentialError.
func (c *Client) SignInWithPassword(ctx context.Context, email, password string) (*domain.Session, error) {
	ctx, span := tracer.Start(ctx, "Supabase.SignInWithPassword")
	defer span.End()

	var session *domain.Session
	err := c.execute(ctx, "supabase/auth", func() error {
		body, err := c.doAuthRequest(ctx, http.MethodPost, "token?grant_type=password", "", map[string]string{
			"email":    email,
			"password": password,
		})
		if err != nil {
			return err
		}
		var t gotrueTokenResponse
		if err := json.Unmarshal(body, &t); err != nil {
			return resilience.Permanent(fmt.Errorf("failed to decode token response: %w", err))
		}
		s, err := c.toSession(&t)
		if err != nil {
			return resilience.Permanent(err)
		}
		session = s
		return nil
	})
	if err != nil {
		var apiErr *AuthAPIError
		if errors.As(err, &apiErr) && isCredentialRejection(apiErr.Status) {
			return nil, &domain.CredentialError{Code: apiErr.Code, Message: apiErr.Message}
		}
		return nil, &domain.ErrExternalService{Service: "supabase/auth", Err: err}
	}

	span.SetAttributes(attribute.String("account.id", session.Account.ID))
	return session, nil
}

func isCredentialRejection(status int) bool {
	switch status {
	case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden, http.StatusUnprocessableEntity:
		return true
	}
	return false
}

// RefreshSession trades a refresh token for a new session.
func (c *Client) RefreshSession(ctx context.Context, refreshToken string) (*domain.Session, error) {
	ctx, span := tracer.Start(ctx, "Supabase.RefreshSession")
	defer span.End()

	if refreshToken == "" {
		return nil, &AuthAPIError{Status: http.StatusBadRequest, Code: "refresh_token_not_found", Message: "no refresh token"}
	}

	var session *domain.Session
	err := c.execute(ctx, "supabase/auth", func() error {
		body, err := c.doAuthRequest(ctx, http.MethodPost, "token?grant_type=refresh_token", "", map[string]string{
			"refresh_token": refreshToken,
		})
		if err != nil {
			return err
		}
		var t gotrueTokenResponse
		if err := json.Unmarshal(body, &t); err != nil {
			return resilience.Permanent(fmt.Errorf("failed to decode token response: %w", err))
		}
		s, err := c.toSession(&t)
		if err != nil {
			return resilience.Permanent(err)
		}
		session = s
		return nil
	})
	if err != nil {
		return nil, &domain.ErrExternalService{Service: "supabase/auth", Err: err}
	}
	return session, nil
}

// GetUser validates an access token with GoTrue and returns its user.
func (c *Client) GetUser(ctx context.Context, accessToken string) (*domain.Account, error) {
	ctx, span := tracer.Start(ctx, "Supabase.GetUser")
	defer span.End()

	var account *domain.Account
	err := c.execute(ctx, "supabase/auth", func() error {
		body, err := c.doAuthRequest(ctx, http.MethodGet, "user", accessToken, nil)
		if err != nil {
			return err
		}
		var u gotrueUser
		if err := json.Unmarshal(body, &u); err != nil {
			return resilience.Permanent(fmt.Errorf("failed to decode user: %w", err))
		}
		if u.ID == "" {
			return resilience.Permanent(fmt.Errorf("gotrue user without id"))
		}
		account = u.toAccount()
		return nil
	})
	if err != nil {
		return nil, &domain.ErrExternalService{Service: "supabase/auth", Err: err}
	}

	span.SetAttributes(attribute.String("account.id", account.ID))
	return account, nil
}

// Logout revokes the session behind accessToken. Tokens GoTrue no longer
// knows count as already logged out.
func (c *Client) Logout(ctx context.Context, accessToken string) error {
	ctx, span := tracer.Start(ctx, "Supabase.Logout")
	defer span.End()

	err := c.execute(ctx, "supabase/auth", func() error {
		_, err := c.doAuthRequest(ctx, http.MethodPost, "logout", accessToken, nil)
		return err
	})
	if err != nil {
		if IsSessionRejected(err) {
			c.logger.Debug("gotrue: logout of an already revoked session", zap.Error(err))
			return nil
		}
		return &domain.ErrExternalService{Service: "supabase/auth", Err: err}
	}
	return nil
}
