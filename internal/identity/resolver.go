package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"pong-arena/internal/game"
)

// ErrUnauthorized is returned when the auth service rejects a token.
var ErrUnauthorized = errors.New("identity: unauthorized")

// Resolver turns a session token into an identity. Implementations must be
// safe for concurrent use.
type Resolver interface {
	Resolve(ctx context.Context, token string) (game.Identity, error)
}

// HTTPResolver asks the auth service to verify the session token.
type HTTPResolver struct {
	baseURL string
	client  *http.Client
}

func NewHTTPResolver(baseURL string) *HTTPResolver {
	return &HTTPResolver{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 5 * time.Second},
	}
}

func (r *HTTPResolver) Resolve(ctx context.Context, token string) (game.Identity, error) {
	if token == "" {
		return game.Identity{}, ErrUnauthorized
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.baseURL+"/verify", nil)
	if err != nil {
		return game.Identity{}, err
	}
	req.AddCookie(&http.Cookie{Name: "jwt-token", Value: token})

	resp, err := r.client.Do(req)
	if err != nil {
		return game.Identity{}, fmt.Errorf("auth request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return game.Identity{}, ErrUnauthorized
	}
	if resp.StatusCode >= 400 {
		return game.Identity{}, fmt.Errorf("auth service returned %d", resp.StatusCode)
	}

	var body struct {
		UserID   string `json:"userId"`
		Username string `json:"username"`
		Avatar   string `json:"avatar"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return game.Identity{}, fmt.Errorf("failed to decode auth response: %w", err)
	}
	if body.UserID == "" {
		return game.Identity{}, ErrUnauthorized
	}

	return game.Identity{
		ID:       body.UserID,
		Username: body.Username,
		Avatar:   body.Avatar,
	}, nil
}

// StaticResolver maps tokens to fixed identities. Test use only.
type StaticResolver map[string]game.Identity

func (s StaticResolver) Resolve(_ context.Context, token string) (game.Identity, error) {
	id, ok := s[token]
	if !ok {
		return game.Identity{}, ErrUnauthorized
	}
	return id, nil
}
