package provider

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
)

// Client is a thin wrapper over the provider's HTTP job-control API. It does
// not retry internally; retries are owned by the session state machine so
// they consume the iteration's retry budget.
type Client struct {
	http    *resty.Client
	baseURL string
	apiKey  string
}

// Config holds provider connection settings.
type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// NewClient creates a new provider client.
// Parameters:
//   - cfg: provider configuration including base URL and API key.
//
// Returns:
//   - *Client: initialized client.
func NewClient(cfg *Config) *Client {
	client := resty.New()
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	client.SetTimeout(timeout)

	return &Client{
		http:    client,
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
	}
}

type startRunResponse struct {
	RunToken string `json:"run_token"`
	Status   string `json:"status"`
	Error    string `json:"error,omitempty"`
}

// StartRun launches one provider run scoped to the requested page range and
// returns the opaque run token.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - projectToken: provider job-template identifier.
//   - params: start URL and page range for this iteration.
//
// Returns:
//   - string: run token for status polling and data retrieval.
//   - error: *Error of type launch or transport on failure.
func (c *Client) StartRun(ctx context.Context, projectToken string, params StartParams) (string, error) {
	var result startRunResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetFormData(map[string]string{
			"api_key":   c.apiKey,
			"start_url": params.StartURL,
			"start_value_override": fmt.Sprintf(`{"start_page":%d,"end_page":%d}`,
				params.StartPage, params.EndPage),
		}).
		SetResult(&result).
		Post(fmt.Sprintf("%s/projects/%s/run", c.baseURL, projectToken))

	if err != nil {
		return "", newTransportError("failed to reach provider", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return "", newLaunchError(fmt.Sprintf("launch rejected with status %d: %s",
			resp.StatusCode(), resp.String()), nil)
	}
	if result.RunToken == "" {
		return "", newLaunchError("launch response missing run token", nil)
	}

	return result.RunToken, nil
}

type runStatusResponse struct {
	RunToken  string `json:"run_token"`
	Status    string `json:"status"`
	Pages     int    `json:"pages"`
	DataCount int    `json:"data_count"`
	StartURL  string `json:"start_url"`
	ErrorLog  string `json:"error_log"`
}

// RunStatus fetches the current status of a run.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - runToken: token returned by StartRun.
//
// Returns:
//   - *RunStatus: snapshot with state, pages scraped, and record count.
//   - error: *Error on transport failure or non-success response.
func (c *Client) RunStatus(ctx context.Context, runToken string) (*RunStatus, error) {
	var result runStatusResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("api_key", c.apiKey).
		SetResult(&result).
		Get(fmt.Sprintf("%s/runs/%s", c.baseURL, runToken))

	if err != nil {
		return nil, newTransportError("failed to fetch run status", err)
	}
	if resp.StatusCode() == http.StatusNotFound {
		return nil, newNotFoundError("run " + runToken + " not found")
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, newBadResponseError(fmt.Sprintf("run status returned %d", resp.StatusCode()), nil)
	}

	return &RunStatus{
		RunToken:     result.RunToken,
		Status:       RunState(result.Status),
		PagesScraped: result.Pages,
		DataCount:    result.DataCount,
		StartURL:     result.StartURL,
		ErrorLog:     result.ErrorLog,
	}, nil
}

// RunData fetches and decodes a run's result payload.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - runToken: token returned by StartRun.
//   - format: csv or json.
//
// Returns:
//   - []Record: normalized rows in arrival order.
//   - error: *Error on transport failure, non-success response, or decode failure.
func (c *Client) RunData(ctx context.Context, runToken string, format DataFormat) ([]Record, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"api_key": c.apiKey,
			"format":  string(format),
		}).
		Get(fmt.Sprintf("%s/runs/%s/data", c.baseURL, runToken))

	if err != nil {
		return nil, newTransportError("failed to fetch run data", err)
	}
	if resp.StatusCode() == http.StatusNotFound {
		return nil, newNotFoundError("run " + runToken + " not found")
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, newBadResponseError(fmt.Sprintf("run data returned %d", resp.StatusCode()), nil)
	}

	switch format {
	case FormatCSV:
		return DecodeCSV(resp.Body())
	case FormatJSON:
		return DecodeJSON(resp.Body())
	default:
		return nil, newBadResponseError("unsupported data format "+strconv.Quote(string(format)), nil)
	}
}

type listProjectsResponse struct {
	Projects []Project `json:"projects"`
}

// ListProjects fetches all job templates visible to the API key.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//
// Returns:
//   - []Project: provider projects.
//   - error: *Error on transport failure or non-success response.
func (c *Client) ListProjects(ctx context.Context) ([]Project, error) {
	var result listProjectsResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("api_key", c.apiKey).
		SetResult(&result).
		Get(c.baseURL + "/projects")

	if err != nil {
		return nil, newTransportError("failed to list projects", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, newBadResponseError(fmt.Sprintf("project list returned %d", resp.StatusCode()), nil)
	}

	return result.Projects, nil
}

// GetProject fetches one job template, including its configured start URL.
// Used to lazily resolve a session's original URL when it was not supplied
// at creation.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - token: project token.
//
// Returns:
//   - *Project: project details.
//   - error: *Error on transport failure or non-success response.
func (c *Client) GetProject(ctx context.Context, token string) (*Project, error) {
	var result Project
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("api_key", c.apiKey).
		SetResult(&result).
		Get(fmt.Sprintf("%s/projects/%s", c.baseURL, token))

	if err != nil {
		return nil, newTransportError("failed to fetch project", err)
	}
	if resp.StatusCode() == http.StatusNotFound {
		return nil, newNotFoundError("project " + token + " not found")
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, newBadResponseError(fmt.Sprintf("project fetch returned %d", resp.StatusCode()), nil)
	}

	return &result, nil
}
