package supabase

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"provisioner/internal/provisioning/models"
	"provisioner/pkg/platform/sentinel"
)

type createUserRequest struct {
	Email        string          `json:"email"`
	Password     string          `json:"password"`
	EmailConfirm bool            `json:"email_confirm"`
	UserMetadata models.Metadata `json:"user_metadata"`
}

type userResponse struct {
	ID               string          `json:"id"`
	Email            string          `json:"email"`
	EmailConfirmedAt *time.Time      `json:"email_confirmed_at"`
	UserMetadata     models.Metadata `json:"user_metadata"`
}

func (u userResponse) identity() (*models.Identity, error) {
	if _, err := uuid.Parse(u.ID); err != nil {
		return nil, fmt.Errorf("identity service returned invalid id %q", u.ID)
	}
	return &models.Identity{
		ID:        u.ID,
		Email:     u.Email,
		Confirmed: u.EmailConfirmedAt != nil,
		Metadata:  u.UserMetadata,
	}, nil
}

// CreateIdentity registers a new user through the admin API. It is never
// retried: a lost response could otherwise create a duplicate.
func (c *Client) CreateIdentity(ctx context.Context, in models.NewIdentity) (*models.Identity, error) {
	var out userResponse
	err := c.do(ctx, call{
		method: http.MethodPost,
		path:   "/auth/v1/admin/users",
		body: createUserRequest{
			Email:        in.Email,
			Password:     in.Password,
			EmailConfirm: in.Confirmed,
			UserMetadata: in.Metadata,
		},
	}, &out)
	if err != nil {
		return nil, err
	}
	return out.identity()
}

// DeleteIdentity removes a user. Deleting is idempotent so transient
// failures are retried. It is the compensating action of every workflow and
// ignores the circuit breaker.
func (c *Client) DeleteIdentity(ctx context.Context, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return fmt.Errorf("delete identity: invalid id %q", id)
	}
	return c.do(ctx, call{
		method:  http.MethodDelete,
		path:    "/auth/v1/admin/users/" + id,
		retry:   true,
		cleanup: true,
	}, nil)
}

// IdentityFromToken resolves the caller behind an access token. When a JWT
// secret is configured, malformed or expired tokens are rejected locally.
func (c *Client) IdentityFromToken(ctx context.Context, token string) (*models.Identity, error) {
	if token == "" {
		return nil, sentinel.ErrUnauthorized
	}
	if v := c.factory.verifier; v != nil {
		if _, err := v.Verify(token); err != nil {
			return nil, err
		}
	}

	var out userResponse
	err := c.do(ctx, call{
		method: http.MethodGet,
		path:   "/auth/v1/user",
		bearer: token,
		retry:  true,
	}, &out)
	if err != nil {
		return nil, err
	}
	if out.ID == "" {
		return nil, errors.Join(sentinel.ErrUnauthorized, errors.New("no user for token"))
	}
	return out.identity()
}
