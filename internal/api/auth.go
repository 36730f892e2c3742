// ABOUTME: Authentication endpoints: login, logout, and the refresh path
// ABOUTME: constant shared with the authenticated transport.

package api

import "context"

// RefreshPath is the token refresh endpoint, relative to the API base URL.
// The authenticated transport exempts this path from bearer headers and
// recovery; the endpoint authenticates via the refresh cookie instead.
const RefreshPath = "/auth/refresh"

// LoginResult is the server's response to a successful login. The refresh
// credential arrives separately as an HttpOnly cookie captured by the
// client's cookie jar.
type LoginResult struct {
	AccessToken string `json:"accessToken"`
	User        User   `json:"user"`
}

// Login exchanges credentials for an access token and the user record.
func (c *Client) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	in := struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}{Email: email, Password: password}

	var out LoginResult
	if err := c.post(ctx, "/auth/login", in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Logout invalidates the refresh credential server-side. The caller clears
// local session state regardless of the outcome.
func (c *Client) Logout(ctx context.Context) error {
	return c.post(ctx, "/auth/logout", nil, nil)
}
