// ABOUTME: Jobs resource client: submission, retrieval, and listing.
// ABOUTME: FetchJob feeds the log synchronizer's historical backfill.

package api

import (
	"context"
	"net/url"
	"time"
)

// Job is a submitted job and its lifecycle record.
type Job struct {
	ID            string     `json:"id"`
	Name          string     `json:"name,omitempty"`
	Command       string     `json:"command,omitempty"`
	Status        string     `json:"status"`
	SubmittedAt   *time.Time `json:"submittedAt,omitempty"`
	StartedAt     *time.Time `json:"startedAt,omitempty"`
	CompletedAt   *time.Time `json:"completedAt,omitempty"`
	LogSnippet    string     `json:"logSnippet,omitempty"`
	ResultMessage string     `json:"resultMessage,omitempty"`
	ExitCode      *int       `json:"exitCode,omitempty"`
}

// JobSpec describes a job to submit.
type JobSpec struct {
	Name    string   `json:"name"`
	Command string   `json:"command"`
	Args    []string `json:"args,omitempty"`
}

// SubmitJob submits a new job and returns its record.
func (c *Client) SubmitJob(ctx context.Context, spec JobSpec) (*Job, error) {
	var job Job
	if err := c.post(ctx, "/jobs", spec, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// FetchJob retrieves a single job by id.
func (c *Client) FetchJob(ctx context.Context, jobID string) (*Job, error) {
	var job Job
	if err := c.get(ctx, "/jobs/"+url.PathEscape(jobID), nil, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// ListJobs returns all jobs visible to the current user.
func (c *Client) ListJobs(ctx context.Context) ([]Job, error) {
	var out struct {
		Jobs []Job `json:"jobs"`
	}
	if err := c.get(ctx, "/jobs", nil, &out); err != nil {
		return nil, err
	}
	return out.Jobs, nil
}
