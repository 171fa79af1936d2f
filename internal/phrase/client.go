package phrase

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const clientDefaultTimeout = 60 * time.Second

// Client is the vendor TMS collaborator.
type Client interface {
	CreateProject(ctx context.Context, params CreateProjectParams) (string, error)
	CreateJobs(ctx context.Context, projectUID string, uploads []JobUpload) ([]Job, error)
	JobPreview(ctx context.Context, projectUID, jobUID string) ([]byte, error)
	DeleteProject(ctx context.Context, projectUID string) error
}

// HTTPClient talks to a Phrase-style REST API.
type HTTPClient struct {
	baseURL string
	tokens  *TokenSource
	client  *http.Client
}

// HTTPClientOptions configures the vendor client.
type HTTPClientOptions struct {
	BaseURL    string
	Tokens     *TokenSource
	HTTPClient *http.Client
}

func NewHTTPClient(opts HTTPClientOptions) (*HTTPClient, error) {
	if opts.BaseURL == "" {
		return nil, fmt.Errorf("vendor base url is required")
	}
	if opts.Tokens == nil {
		return nil, fmt.Errorf("vendor token source is required")
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: clientDefaultTimeout}
	}
	return &HTTPClient{
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		tokens:  opts.Tokens,
		client:  client,
	}, nil
}

func (c *HTTPClient) CreateProject(ctx context.Context, params CreateProjectParams) (string, error) {
	body := map[string]any{
		"name":        params.Name,
		"templateUid": params.TemplateUID,
		"sourceLang":  params.SourceLang,
		"targetLangs": params.TargetLangs,
	}
	if params.DateDue != nil {
		body["dateDue"] = params.DateDue.UTC().Format(time.RFC3339)
	}
	endpoint := fmt.Sprintf("%s/api2/v2/projects/applyTemplate/%s", c.baseURL, url.PathEscape(params.TemplateUID))
	var out struct {
		UID string `json:"uid"`
	}
	if err := c.doJSON(ctx, http.MethodPost, endpoint, body, &out); err != nil {
		return "", fmt.Errorf("create project: %w", err)
	}
	if out.UID == "" {
		return "", fmt.Errorf("create project: vendor returned empty project uid")
	}
	return out.UID, nil
}

func (c *HTTPClient) CreateJobs(ctx context.Context, projectUID string, uploads []JobUpload) ([]Job, error) {
	var jobs []Job
	for _, upload := range uploads {
		created, err := c.createJob(ctx, projectUID, upload)
		if err != nil {
			return nil, fmt.Errorf("create job for %s: %w", upload.TargetLang, err)
		}
		jobs = append(jobs, created...)
	}
	return jobs, nil
}

// createJob uploads one file as a job; the vendor fans it out into one job
// record per workflow step.
func (c *HTTPClient) createJob(ctx context.Context, projectUID string, upload JobUpload) ([]Job, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("file", upload.Filename)
	if err != nil {
		return nil, err
	}
	if _, err := part.Write(upload.Content); err != nil {
		return nil, err
	}
	if err := writer.Close(); err != nil {
		return nil, err
	}

	endpoint := fmt.Sprintf("%s/api2/v1/projects/%s/jobs", c.baseURL, url.PathEscape(projectUID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	memsource := map[string]any{"targetLangs": []string{upload.TargetLang}}
	meta, err := json.Marshal(memsource)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Memsource", string(meta))

	resp, err := c.send(req)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("vendor responded %d: %s", resp.StatusCode, readBody(resp.Body))
	}
	var out struct {
		Jobs []Job `json:"jobs"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode jobs response: %w", err)
	}
	return out.Jobs, nil
}

func (c *HTTPClient) JobPreview(ctx context.Context, projectUID, jobUID string) ([]byte, error) {
	endpoint := fmt.Sprintf("%s/api2/v1/projects/%s/jobs/%s/preview",
		c.baseURL, url.PathEscape(projectUID), url.PathEscape(jobUID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.send(req)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("job preview responded %d: %s", resp.StatusCode, readBody(resp.Body))
	}
	return io.ReadAll(resp.Body)
}

func (c *HTTPClient) DeleteProject(ctx context.Context, projectUID string) error {
	endpoint := fmt.Sprintf("%s/api2/v1/projects/%s", c.baseURL, url.PathEscape(projectUID))
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, endpoint, nil)
	if err != nil {
		return err
	}
	resp, err := c.send(req)
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode >= 300 && resp.StatusCode != http.StatusNotFound {
		return fmt.Errorf("delete project responded %d: %s", resp.StatusCode, readBody(resp.Body))
	}
	return nil
}

func (c *HTTPClient) doJSON(ctx context.Context, method, endpoint string, body, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.send(req)
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("vendor responded %d: %s", resp.StatusCode, readBody(resp.Body))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *HTTPClient) send(req *http.Request) (*http.Response, error) {
	token, err := c.tokens.Token(req.Context())
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "ApiToken "+token)
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("vendor request: %w", err)
	}
	return resp, nil
}

func readBody(r io.Reader) string {
	raw, _ := io.ReadAll(io.LimitReader(r, 2048))
	return strings.TrimSpace(string(raw))
}

var _ Client = (*HTTPClient)(nil)
