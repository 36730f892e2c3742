// ABOUTME: Audit log resource client with server-side filtering.

package api

import (
	"context"
	"net/url"
	"strconv"
	"time"
)

// AuditEvent is one entry in the administrative audit log.
type AuditEvent struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Actor     string    `json:"actor"`
	Action    string    `json:"action"`
	Target    string    `json:"target,omitempty"`
	Detail    string    `json:"detail,omitempty"`
}

// AuditFilter narrows an audit log listing. Zero values are omitted.
type AuditFilter struct {
	Actor  string
	Action string
	Since  time.Time
	Limit  int
}

// ListAuditEvents returns audit entries matching the filter, newest first.
func (c *Client) ListAuditEvents(ctx context.Context, filter AuditFilter) ([]AuditEvent, error) {
	query := url.Values{}
	if filter.Actor != "" {
		query.Set("actor", filter.Actor)
	}
	if filter.Action != "" {
		query.Set("action", filter.Action)
	}
	if !filter.Since.IsZero() {
		query.Set("since", filter.Since.Format(time.RFC3339))
	}
	if filter.Limit > 0 {
		query.Set("limit", strconv.Itoa(filter.Limit))
	}

	var out struct {
		Events []AuditEvent `json:"events"`
	}
	if err := c.get(ctx, "/audit", query, &out); err != nil {
		return nil, err
	}
	return out.Events, nil
}
