package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/artifact-keeper/artifact-keeper/api"
	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
)

// DefaultRequestTimeout bounds every call made by PrimaryClient.
const DefaultRequestTimeout = 10 * time.Second

// maxErrorBody caps how much of a failed response is kept in a StatusError.
const maxErrorBody = 512

const maxHeartbeatBody = 64 << 10

// StatusError is returned when the primary answers with a non-2xx status.
// It is never a connectivity failure: the primary was reachable.
type StatusError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s %s returned %d", e.Method, e.Path, e.StatusCode)
	}
	return fmt.Sprintf("%s %s returned %d: %s", e.Method, e.Path, e.StatusCode, e.Body)
}

// PrimaryClient implements api.PrimaryAPI over HTTP with bearer authentication.
type PrimaryClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewPrimaryClient creates a client for the primary at baseURL. A zero
// timeout selects DefaultRequestTimeout.
func NewPrimaryClient(baseURL, apiKey string, timeout time.Duration) *PrimaryClient {
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	return &PrimaryClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
	}
}

// Heartbeat posts the node's cache state to the primary.
func (c *PrimaryClient) Heartbeat(ctx context.Context, hb *api.HeartbeatRequest) (*api.HeartbeatResponse, error) {
	body, err := json.Marshal(hb)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal heartbeat: %w", err)
	}

	resp, err := c.do(ctx, http.MethodPost, api.HeartbeatPath, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	// Any 2xx is an acknowledgement. A body that is empty, not JSON or
	// carries an invalid node id only means there is no node id to adopt.
	var parsed api.HeartbeatResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxHeartbeatBody)).Decode(&parsed); err != nil {
		return &api.HeartbeatResponse{}, nil
	}
	return &parsed, nil
}

// DownloadArtifact fetches an artifact by id.
func (c *PrimaryClient) DownloadArtifact(ctx context.Context, artifactID uuid.UUID) (io.ReadCloser, error) {
	resp, err := c.do(ctx, http.MethodGet, "/api/v1/artifacts/"+artifactID.String()+"/download", nil)
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

// DownloadByPath fetches an artifact by repository key and artifact path.
func (c *PrimaryClient) DownloadByPath(ctx context.Context, repoKey, artifactPath string) (io.ReadCloser, error) {
	segments := strings.Split(strings.Trim(artifactPath, "/"), "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	path := fmt.Sprintf("/api/v1/repositories/%s/artifacts/%s/download", url.PathEscape(repoKey), strings.Join(segments, "/"))

	resp, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

// do sends the request and returns the response for 2xx statuses only.
func (c *PrimaryClient) do(ctx context.Context, method, path string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("could not reach primary: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &StatusError{
			Method:     method,
			Path:       path,
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(msg)),
		}
	}
	return resp, nil
}

// MockPrimaryAPI implements api.PrimaryAPI for testing.
type MockPrimaryAPI struct {
	mock.Mock
}

func (m *MockPrimaryAPI) Heartbeat(ctx context.Context, req *api.HeartbeatRequest) (*api.HeartbeatResponse, error) {
	args := m.Called(ctx, req)
	resp, _ := args.Get(0).(*api.HeartbeatResponse)
	return resp, args.Error(1)
}

func (m *MockPrimaryAPI) DownloadArtifact(ctx context.Context, artifactID uuid.UUID) (io.ReadCloser, error) {
	args := m.Called(ctx, artifactID)
	rc, _ := args.Get(0).(io.ReadCloser)
	return rc, args.Error(1)
}

func (m *MockPrimaryAPI) DownloadByPath(ctx context.Context, repoKey, artifactPath string) (io.ReadCloser, error) {
	args := m.Called(ctx, repoKey, artifactPath)
	rc, _ := args.Get(0).(io.ReadCloser)
	return rc, args.Error(1)
}
