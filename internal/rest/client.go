// Package rest is the client for the platform's REST API. The collaboration
// layer treats that API as the durability authority: realtime broadcasts are
// hints, the REST write is the record.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/translation-studio/collab/internal/model"
)

// DefaultTimeout bounds every call so a slow backend cannot leave an
// optimistic edit pending forever.
const DefaultTimeout = 10 * time.Second

// Client talks to the platform REST API with bearer-token auth.
type Client struct {
	baseURL    string
	httpClient *http.Client
	token      string
	timeout    time.Duration
}

// NewClient creates a client for the given base URL, e.g. http://host:8000.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{},
		timeout:    DefaultTimeout,
	}
}

// SetToken installs the bearer token sent on every call.
func (c *Client) SetToken(token string) {
	c.token = token
}

// SetTimeout overrides the per-call timeout.
func (c *Client) SetTimeout(d time.Duration) {
	if d > 0 {
		c.timeout = d
	}
}

// LoginRequest is the credential payload for POST /auth/login.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginResponse carries the issued bearer token.
type LoginResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

// SegmentUpdate is the payload for persisting a segment edit.
type SegmentUpdate struct {
	PostEdit      *string `json:"post_edit,omitempty"`
	ReviewerNotes *string `json:"reviewer_notes,omitempty"`
}

// TranslateRequest asks the NMT service for a machine translation.
type TranslateRequest struct {
	Text         string `json:"text"`
	SourceLocale string `json:"source_locale"`
	TargetLocale string `json:"target_locale"`
}

// TranslateResponse is the NMT service's answer.
type TranslateResponse struct {
	Translation string `json:"translation"`
	Model       string `json:"model,omitempty"`
}

// QualityEstimateRequest asks the MTQE service to score a translation.
type QualityEstimateRequest struct {
	SourceText  string `json:"source_text"`
	Translation string `json:"translation"`
}

// QualityEstimateResponse carries the MTQE verdict.
type QualityEstimateResponse struct {
	Score     float64         `json:"score"`
	RiskLevel model.RiskLevel `json:"risk_level,omitempty"`
	Flags     []string        `json:"flags,omitempty"`
}

// StudioSnapshot is the CAT workspace payload for a project.
type StudioSnapshot struct {
	ProjectID    string          `json:"project_id"`
	ProjectName  string          `json:"project_name"`
	SourceLocale string          `json:"source_locale"`
	TargetLocale string          `json:"target_locale"`
	Segments     []model.Segment `json:"segments"`
}

// Login exchanges credentials for a bearer token and installs it.
func (c *Client) Login(ctx context.Context, email, password string) (*LoginResponse, error) {
	var resp LoginResponse
	err := c.do(ctx, http.MethodPost, "/auth/login", LoginRequest{Email: email, Password: password}, &resp)
	if err != nil {
		return nil, err
	}
	c.token = resp.AccessToken
	return &resp, nil
}

// Me returns the authenticated user.
func (c *Client) Me(ctx context.Context) (*model.User, error) {
	var user model.User
	if err := c.do(ctx, http.MethodGet, "/auth/me", nil, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// ListProjects returns the caller's projects.
func (c *Client) ListProjects(ctx context.Context) ([]model.Project, error) {
	var projects []model.Project
	if err := c.do(ctx, http.MethodGet, "/projects", nil, &projects); err != nil {
		return nil, err
	}
	return projects, nil
}

// CreateProject registers a project.
func (c *Client) CreateProject(ctx context.Context, p model.Project) (*model.Project, error) {
	var created model.Project
	if err := c.do(ctx, http.MethodPost, "/projects", p, &created); err != nil {
		return nil, err
	}
	return &created, nil
}

// ListSegments returns a project's translatable segments.
func (c *Client) ListSegments(ctx context.Context, projectID string) ([]model.Segment, error) {
	var segments []model.Segment
	path := "/projects/" + projectID + "/segments"
	if err := c.do(ctx, http.MethodGet, path, nil, &segments); err != nil {
		return nil, err
	}
	return segments, nil
}

// UpdateSegment persists a segment edit and returns the segment with
// server-derived annotations applied.
func (c *Client) UpdateSegment(ctx context.Context, projectID, segmentID string, update SegmentUpdate) (*model.Segment, error) {
	if projectID == "" {
		return nil, model.ErrProjectRequired
	}
	if segmentID == "" {
		return nil, model.ErrSegmentRequired
	}

	var seg model.Segment
	path := "/projects/" + projectID + "/segments/" + segmentID
	if err := c.do(ctx, http.MethodPost, path, update, &seg); err != nil {
		return nil, err
	}
	return &seg, nil
}

// Translate requests a machine translation.
func (c *Client) Translate(ctx context.Context, req TranslateRequest) (*TranslateResponse, error) {
	var resp TranslateResponse
	if err := c.do(ctx, http.MethodPost, "/translate", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// QualityEstimate requests an MTQE score for a translation.
func (c *Client) QualityEstimate(ctx context.Context, req QualityEstimateRequest) (*QualityEstimateResponse, error) {
	var resp QualityEstimateResponse
	if err := c.do(ctx, http.MethodPost, "/quality-estimate", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Studio fetches the CAT workspace snapshot for a project.
func (c *Client) Studio(ctx context.Context, projectID string) (*StudioSnapshot, error) {
	if projectID == "" {
		return nil, model.ErrProjectRequired
	}
	var snap StudioSnapshot
	if err := c.do(ctx, http.MethodGet, "/translation-studio/"+projectID, nil, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

// do performs one bounded API call. A 401 maps to model.ErrUnauthorized,
// which the session layer treats as fatal.
func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return model.ErrUnauthorized
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, data)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
