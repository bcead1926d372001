package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/fakeyudi/lokseva/internal/identity"
)

// HTTPBackend talks to the LokSeva auth service over JSON/HTTP.
type HTTPBackend struct {
	baseURL string
	client  *http.Client
}

// NewHTTPBackend returns a backend rooted at baseURL.
func NewHTTPBackend(baseURL string) *HTTPBackend {
	return &HTTPBackend{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 15 * time.Second},
	}
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type authResponse struct {
	Token string            `json:"token"`
	User  identity.Identity `json:"user"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (b *HTTPBackend) Login(ctx context.Context, email, password string) (identity.Credentials, error) {
	return b.authenticate(ctx, "/auth/login", loginRequest{Email: email, Password: password})
}

func (b *HTTPBackend) Register(ctx context.Context, p identity.Profile) (identity.Credentials, error) {
	return b.authenticate(ctx, "/auth/register", p)
}

func (b *HTTPBackend) Logout(ctx context.Context, token string) error {
	resp, err := b.do(ctx, "/auth/logout", token, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode >= 300 {
		return fmt.Errorf("logout: unexpected status %d", resp.StatusCode)
	}
	return nil
}

func (b *HTTPBackend) authenticate(ctx context.Context, path string, body any) (identity.Credentials, error) {
	resp, err := b.do(ctx, path, "", body)
	if err != nil {
		return identity.Credentials{}, newError(NetworkFailure, "", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return identity.Credentials{}, newError(NetworkFailure, "", fmt.Errorf("read response: %w", err))
	}

	if resp.StatusCode >= 300 {
		var er errorResponse
		_ = json.Unmarshal(data, &er)
		kind := kindForStatus(resp.StatusCode)
		msg := strings.TrimSpace(er.Error)
		if kind == NetworkFailure {
			msg = ""
		}
		return identity.Credentials{}, newError(kind, msg, fmt.Errorf("%s: status %d", path, resp.StatusCode))
	}

	var ar authResponse
	if err := json.Unmarshal(data, &ar); err != nil {
		return identity.Credentials{}, newError(NetworkFailure, "", fmt.Errorf("decode response: %w", err))
	}
	if ar.Token == "" || ar.User.ID == "" {
		return identity.Credentials{}, newError(NetworkFailure, "", fmt.Errorf("%s: response missing token or user", path))
	}
	return identity.Credentials{Identity: ar.User, Token: ar.Token}, nil
}

func (b *HTTPBackend) do(ctx context.Context, path, token string, body any) (*http.Response, error) {
	var payload io.Reader = http.NoBody
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		payload = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+path, payload)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return b.client.Do(req)
}

func kindForStatus(code int) ErrorKind {
	switch code {
	case http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound:
		return Invalid
	case http.StatusConflict:
		return DuplicateAccount
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return ValidationFailed
	default:
		return NetworkFailure
	}
}
