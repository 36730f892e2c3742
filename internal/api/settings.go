// ABOUTME: Settings resource client for the organization-wide configuration.

package api

import "context"

// Settings is the organization-wide configuration editable from the console.
type Settings struct {
	OrgName           string `json:"orgName"`
	SessionTimeout    string `json:"sessionTimeout"`
	MaxConcurrentJobs int    `json:"maxConcurrentJobs"`
	NotifyEmail       string `json:"notifyEmail,omitempty"`
}

// GetSettings returns the current settings.
func (c *Client) GetSettings(ctx context.Context) (*Settings, error) {
	var s Settings
	if err := c.get(ctx, "/settings", nil, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// UpdateSettings replaces the settings and returns the stored result.
func (c *Client) UpdateSettings(ctx context.Context, s Settings) (*Settings, error) {
	var out Settings
	if err := c.put(ctx, "/settings", s, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
