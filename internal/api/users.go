// ABOUTME: Users resource client for the admin user-management surface.

package api

import (
	"context"
	"net/url"
	"time"
)

// User is an account visible in the admin console.
type User struct {
	ID          string     `json:"id"`
	Email       string     `json:"email"`
	Name        string     `json:"name"`
	Role        string     `json:"role"`
	CreatedAt   *time.Time `json:"createdAt,omitempty"`
	LastLoginAt *time.Time `json:"lastLoginAt,omitempty"`
}

// CreateUserRequest describes a new account.
type CreateUserRequest struct {
	Email    string `json:"email"`
	Name     string `json:"name"`
	Role     string `json:"role"`
	Password string `json:"password"`
}

// UpdateUserRequest carries the mutable account fields; nil fields are left
// unchanged by the server.
type UpdateUserRequest struct {
	Name *string `json:"name,omitempty"`
	Role *string `json:"role,omitempty"`
}

// ListUsers returns all accounts.
func (c *Client) ListUsers(ctx context.Context) ([]User, error) {
	var out struct {
		Users []User `json:"users"`
	}
	if err := c.get(ctx, "/users", nil, &out); err != nil {
		return nil, err
	}
	return out.Users, nil
}

// CreateUser creates an account.
func (c *Client) CreateUser(ctx context.Context, req CreateUserRequest) (*User, error) {
	var u User
	if err := c.post(ctx, "/users", req, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

// UpdateUser applies a partial update to an account.
func (c *Client) UpdateUser(ctx context.Context, userID string, req UpdateUserRequest) (*User, error) {
	var u User
	if err := c.put(ctx, "/users/"+url.PathEscape(userID), req, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

// DeleteUser removes an account.
func (c *Client) DeleteUser(ctx context.Context, userID string) error {
	return c.delete(ctx, "/users/"+url.PathEscape(userID))
}
