// Package source reads submissions, activities and deployment instances from
// the activity component's REST API.
package source

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pavelanni/analytics/internal/model"
	"github.com/pavelanni/analytics/internal/observability"
)

// DefaultTimeout bounds every upstream request when no timeout is configured.
const DefaultTimeout = 30 * time.Second

// Client talks to the activity component. It satisfies metrics.SourceReader.
type Client struct {
	baseURL    string
	httpClient *http.Client
	obs        *observability.Metrics
}

// NewClient creates a client for the API rooted at baseURL
// (e.g. http://localhost:5000/api/v1).
func NewClient(baseURL string, timeout time.Duration, obs *observability.Metrics) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		obs:        obs,
	}
}

type submissionsEnvelope struct {
	Count       int                `json:"count"`
	Submissions []model.Submission `json:"submissions"`
}

// GetSubmission returns a student's submission for an instance, or nil when
// the activity component has none.
func (c *Client) GetSubmission(ctx context.Context, instanceID, studentID string) (*model.Submission, error) {
	var sub model.Submission
	found, err := c.get(ctx, "submission", &sub, "submissions", "instance", instanceID, "student", studentID)
	if err != nil || !found {
		return nil, err
	}
	return &sub, nil
}

// GetActivity returns the activity configuration, or nil when unknown.
func (c *Client) GetActivity(ctx context.Context, activityID string) (*model.Activity, error) {
	var act model.Activity
	found, err := c.get(ctx, "activity", &act, "config", activityID)
	if err != nil || !found {
		return nil, err
	}
	return &act, nil
}

// GetInstance returns the deployment instance, or nil when unknown.
func (c *Client) GetInstance(ctx context.Context, instanceID string) (*model.DeploymentInstance, error) {
	var inst model.DeploymentInstance
	found, err := c.get(ctx, "instance", &inst, "deploy", instanceID)
	if err != nil || !found {
		return nil, err
	}
	return &inst, nil
}

// GetInstanceSubmissions returns every submission of an instance in the order
// the activity component lists them. An unknown instance yields an empty slice.
func (c *Client) GetInstanceSubmissions(ctx context.Context, instanceID string) ([]model.Submission, error) {
	var env submissionsEnvelope
	found, err := c.get(ctx, "instance_submissions", &env, "submissions", "instance", instanceID)
	if err != nil {
		return nil, err
	}
	if !found || env.Submissions == nil {
		return []model.Submission{}, nil
	}
	if env.Count != len(env.Submissions) {
		slog.Debug("submission count mismatch",
			"instance_id", instanceID, "count", env.Count, "received", len(env.Submissions))
	}
	return env.Submissions, nil
}

// get fetches base/segments... into out. It reports found=false on 404.
func (c *Client) get(ctx context.Context, endpoint string, out any, segments ...string) (found bool, err error) {
	start := time.Now()
	defer func() { c.obs.Fetch(endpoint, start, err) }()

	u := c.endpointURL(segments...)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return false, fmt.Errorf("build request %s: %w", u, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("GET %s: %v: %w", u, err, model.ErrUpstreamUnavailable)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		io.Copy(io.Discard, resp.Body)
		return false, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return false, fmt.Errorf("GET %s: status %d: %s: %w",
			u, resp.StatusCode, strings.TrimSpace(string(body)), model.ErrUpstreamUnavailable)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return false, fmt.Errorf("decode %s: %v: %w", u, err, model.ErrUpstreamUnavailable)
	}
	return true, nil
}

func (c *Client) endpointURL(segments ...string) string {
	var b strings.Builder
	b.WriteString(c.baseURL)
	for _, s := range segments {
		b.WriteByte('/')
		b.WriteString(url.PathEscape(s))
	}
	return b.String()
}
