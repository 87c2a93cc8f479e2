package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"analysisweb/pkg/api"
)

// Client handles API calls to the analysisweb controller.
type Client struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
}

// NewClient creates a new client with the given base URL and token.
// The token is only needed for the dispatch administration endpoints.
func NewClient(baseURL, token string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Token:   token,
		HTTPClient: &http.Client{
			Timeout: 5 * time.Minute,
		},
	}
}

// APIError represents an error response from the API.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error (%d): %s", e.StatusCode, e.Message)
}

// Form is a multipart request body: repeated fields and files by field name.
type Form struct {
	Fields [][2]string
	Files  map[string]string
}

func (f *Form) Add(key, value string) {
	f.Fields = append(f.Fields, [2]string{key, value})
}

func (f *Form) AddFile(field, path string) {
	if f.Files == nil {
		f.Files = make(map[string]string)
	}
	f.Files[field] = path
}

func (f *Form) encode() (io.Reader, string, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for _, kv := range f.Fields {
		if err := mw.WriteField(kv[0], kv[1]); err != nil {
			return nil, "", err
		}
	}

	fields := make([]string, 0, len(f.Files))
	for field := range f.Files {
		fields = append(fields, field)
	}
	sort.Strings(fields)
	for _, field := range fields {
		path := f.Files[field]
		src, err := os.Open(path)
		if err != nil {
			return nil, "", fmt.Errorf("failed to open %s: %w", path, err)
		}
		fw, err := mw.CreateFormFile(field, filepath.Base(path))
		if err == nil {
			_, err = io.Copy(fw, src)
		}
		src.Close()
		if err != nil {
			return nil, "", fmt.Errorf("failed to attach %s: %w", path, err)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, "", err
	}
	return &body, mw.FormDataContentType(), nil
}

// do sends the request and decodes a JSON response into out when out is
// not nil. Any status outside 2xx becomes an *APIError.
func (c *Client) do(method, path string, body io.Reader, contentType string, out interface{}) error {
	req, err := http.NewRequest(method, c.BaseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := strings.TrimSpace(string(respBody))
		var apiErr api.ErrorResponse
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Error != "" {
			msg = apiErr.Error
		}
		return &APIError{StatusCode: resp.StatusCode, Message: msg}
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

func (c *Client) postForm(path string, form *Form, out interface{}) error {
	body, contentType, err := form.encode()
	if err != nil {
		return err
	}
	return c.do(http.MethodPost, path, body, contentType, out)
}

// CreateMeasurement sends POST /measurements.
func (c *Client) CreateMeasurement(form *Form) (*api.CreatedResponse, error) {
	var result api.CreatedResponse
	if err := c.postForm("/measurements", form, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// CreateAnalysis sends POST /analyses.
func (c *Client) CreateAnalysis(form *Form) (*api.CreatedResponse, error) {
	var result api.CreatedResponse
	if err := c.postForm("/analyses", form, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// SubmitJob sends POST /jobs.
func (c *Client) SubmitJob(form *Form) (*api.CreatedResponse, error) {
	var result api.CreatedResponse
	if err := c.postForm("/jobs", form, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// GetJob sends GET /jobs/{id}.
func (c *Client) GetJob(id string) (*api.Job, error) {
	var job api.Job
	if err := c.do(http.MethodGet, "/jobs/"+url.PathEscape(id), nil, "", &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// ListJobs sends GET /jobs.
func (c *Client) ListJobs() ([]api.Job, error) {
	var jobs []api.Job
	err := c.do(http.MethodGet, "/jobs", nil, "", &jobs)
	return jobs, err
}

// ListMeasurements sends GET /measurements.
func (c *Client) ListMeasurements() ([]api.Measurement, error) {
	var list []api.Measurement
	err := c.do(http.MethodGet, "/measurements", nil, "", &list)
	return list, err
}

// ListAnalyses sends GET /analyses.
func (c *Client) ListAnalyses() ([]api.Analysis, error) {
	var list []api.Analysis
	err := c.do(http.MethodGet, "/analyses", nil, "", &list)
	return list, err
}

// Delete sends DELETE /{collection}/{id}.
func (c *Client) Delete(collection, id string) error {
	return c.do(http.MethodDelete, "/"+collection+"/"+url.PathEscape(id), nil, "", nil)
}

// Fetch downloads a stored file by the relative URL of a view, such as
// files/job/{id}/log.html.
func (c *Client) Fetch(fileURL string) ([]byte, error) {
	req, err := http.NewRequest(http.MethodGet, c.BaseURL+"/"+strings.TrimLeft(fileURL, "/"), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(body))}
	}
	return body, nil
}

// ListDLQ sends GET /dispatch/dlq to retrieve dispatches that exhausted their retries.
func (c *Client) ListDLQ(limit, offset int) ([]api.DLQEntry, error) {
	var entries []api.DLQEntry
	err := c.do(http.MethodGet, fmt.Sprintf("/dispatch/dlq?limit=%d&offset=%d", limit, offset), nil, "", &entries)
	return entries, err
}

// RetryDLQ sends POST /dispatch/dlq/{job_id}/retry.
func (c *Client) RetryDLQ(jobID string) (*api.StatusResponse, error) {
	var result api.StatusResponse
	if err := c.do(http.MethodPost, "/dispatch/dlq/"+url.PathEscape(jobID)+"/retry", nil, "", &result); err != nil {
		return nil, err
	}
	return &result, nil
}
