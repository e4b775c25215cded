// Package tower talks to the hosted workflow platform over its REST API and
// folds workflow and task state into the tracker's uniform job view.
package tower

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/Clinical-Genomics/trailblazer-sub000/pkg/tberrors"
)

// Client is the platform contract consumed by the job service.
type Client interface {
	GetWorkflow(ctx context.Context, workflowID string) (*WorkflowResponse, error)
	GetTasks(ctx context.Context, workflowID string) (*TasksResponse, error)
	CancelWorkflow(ctx context.Context, workflowID string) error
}

const defaultRequestTimeout = 30 * time.Second

type HTTPClientParams struct {
	BaseURL     string
	AccessToken string
	WorkspaceID string

	// RequestTimeout bounds each outbound call. Zero means the default.
	RequestTimeout time.Duration
}

// HTTPClient implements Client against the platform API with retries on
// transient transport failures.
type HTTPClient struct {
	baseURL     string
	accessToken string
	workspaceID string
	timeout     time.Duration
	client      *http.Client
}

func NewHTTPClient(params HTTPClientParams) *HTTPClient {
	retry := retryablehttp.NewClient()
	retry.RetryMax = 3
	retry.Logger = nil

	timeout := params.RequestTimeout
	if timeout == 0 {
		timeout = defaultRequestTimeout
	}

	return &HTTPClient{
		baseURL:     params.BaseURL,
		accessToken: params.AccessToken,
		workspaceID: params.WorkspaceID,
		timeout:     timeout,
		client:      retry.StandardClient(),
	}
}

func (c *HTTPClient) GetWorkflow(ctx context.Context, workflowID string) (*WorkflowResponse, error) {
	var response WorkflowResponse
	path := fmt.Sprintf("/workflow/%s", url.PathEscape(workflowID))
	if err := c.do(ctx, http.MethodGet, path, &response); err != nil {
		return nil, err
	}
	return &response, nil
}

func (c *HTTPClient) GetTasks(ctx context.Context, workflowID string) (*TasksResponse, error) {
	var response TasksResponse
	path := fmt.Sprintf("/workflow/%s/tasks", url.PathEscape(workflowID))
	if err := c.do(ctx, http.MethodGet, path, &response); err != nil {
		return nil, err
	}
	return &response, nil
}

func (c *HTTPClient) CancelWorkflow(ctx context.Context, workflowID string) error {
	path := fmt.Sprintf("/workflow/%s/cancel", url.PathEscape(workflowID))
	return c.do(ctx, http.MethodPost, path, nil)
}

func (c *HTTPClient) do(ctx context.Context, method, path string, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	endpoint := c.baseURL + path
	if c.workspaceID != "" {
		endpoint += "?workspaceId=" + url.QueryEscape(c.workspaceID)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, nil)
	if err != nil {
		return tberrors.NewBackend(err, "cannot build workflow platform request")
	}
	req.Header.Set("Authorization", "Bearer "+c.accessToken)
	req.Header.Set("Accept", "application/json")

	res, err := c.client.Do(req)
	if err != nil {
		return tberrors.NewBackend(err, "workflow platform request %s %s failed", method, path)
	}
	defer res.Body.Close()

	if res.StatusCode < http.StatusOK || res.StatusCode >= http.StatusMultipleChoices {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 1024))
		return tberrors.NewBackend(nil, "workflow platform returned %d for %s %s: %s",
			res.StatusCode, method, path, string(body))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		return tberrors.NewBackend(err, "cannot decode workflow platform response for %s %s", method, path)
	}
	return nil
}
