// Package bridge is the client for the remote research-platform API: the
// scheduled-activity timeline, participant reports, and archive uploads.
package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/sagebionetworks/burstd/config"
	"github.com/sagebionetworks/burstd/schedule"
	"github.com/sagebionetworks/burstd/taskgroup"
)

// timelineDaysBack and timelineDaysAhead bound the activity window fetched on
// every refresh: enough history to cover a full burst plus the continuation
// days, and enough future to plan the next reminder cycle.
const (
	timelineDaysBack  = 21
	timelineDaysAhead = 21
)

// Client calls the research-platform API. Safe for concurrent use.
type Client struct {
	baseURL string
	token   string
	studyID string
	http    *http.Client
}

// New creates a Client from the bridge configuration.
func New(cfg config.BridgeConfig) *Client {
	return &Client{
		baseURL: cfg.BaseURL,
		token:   cfg.SessionToken,
		studyID: cfg.StudyID,
		http:    &http.Client{Timeout: cfg.Timeout.Std()},
	}
}

type timelineResponse struct {
	Items []schedule.Activity `json:"items"`
}

// Timeline fetches every scheduled activity between from and to, inclusive.
func (c *Client) Timeline(ctx context.Context, from, to time.Time) ([]schedule.Activity, error) {
	q := url.Values{}
	q.Set("scheduledOnStart", from.Format(time.RFC3339))
	q.Set("scheduledOnEnd", to.Format(time.RFC3339))

	var resp timelineResponse
	if err := c.get(ctx, "/v4/activities", q, &resp); err != nil {
		return nil, fmt.Errorf("fetching timeline: %w", err)
	}
	return resp.Items, nil
}

// UpdateActivities pushes locally mutated schedule records back to the
// platform.
func (c *Client) UpdateActivities(ctx context.Context, activities []schedule.Activity) error {
	if len(activities) == 0 {
		return nil
	}
	if err := c.post(ctx, "/v4/activities", activities, nil); err != nil {
		return fmt.Errorf("updating %d activities: %w", len(activities), err)
	}
	return nil
}

type participantResponse struct {
	DataGroups []string        `json:"dataGroups"`
	ClientData json.RawMessage `json:"clientData"`
}

type participantClientData struct {
	PassiveDataAllowed bool `json:"passiveDataAllowed"`
}

// Participant fetches the participant record backing task variants: the
// data-group memberships and the passive-data permission. The clientData
// payload is decoded defensively; an absent or malformed payload leaves the
// permission unresolved.
func (c *Client) Participant(ctx context.Context) (taskgroup.Participant, error) {
	var resp participantResponse
	if err := c.get(ctx, "/v3/participants/self", nil, &resp); err != nil {
		return taskgroup.Participant{}, fmt.Errorf("fetching participant: %w", err)
	}

	p := taskgroup.Participant{DataGroups: resp.DataGroups}
	var cd participantClientData
	if len(resp.ClientData) > 0 && json.Unmarshal(resp.ClientData, &cd) == nil {
		p.PassiveDataAllowed = cd.PassiveDataAllowed
	}
	return p, nil
}

type reportResponse struct {
	Items []schedule.Report `json:"items"`
}

// Reports fetches the report rows for one query.
func (c *Client) Reports(ctx context.Context, query schedule.ReportQuery) ([]schedule.Report, error) {
	q := url.Values{}
	q.Set("type", string(query.Type))
	if !query.From.IsZero() {
		q.Set("startTime", query.From.Format(time.RFC3339))
	}
	if !query.To.IsZero() {
		q.Set("endTime", query.To.Format(time.RFC3339))
	}

	var resp reportResponse
	if err := c.get(ctx, "/v4/reports/"+url.PathEscape(query.Identifier), q, &resp); err != nil {
		return nil, fmt.Errorf("fetching %s reports: %w", query.Identifier, err)
	}
	return resp.Items, nil
}

// SaveReport writes one report row.
func (c *Client) SaveReport(ctx context.Context, report schedule.Report) error {
	if err := c.post(ctx, "/v4/reports/"+url.PathEscape(report.Identifier), report, nil); err != nil {
		return fmt.Errorf("saving %s report: %w", report.Identifier, err)
	}
	return nil
}

func (c *Client) get(ctx context.Context, path string, query url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	req.URL.RawQuery = query.Encode()
	return c.do(req, out)
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	req.Header.Set("Bridge-Session", c.token)
	if c.studyID != "" {
		req.Header.Set("Bridge-Study", c.studyID)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s %s: status %d: %s", req.Method, req.URL.Path, resp.StatusCode, body)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
