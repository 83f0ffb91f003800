package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/amishk599/runwatch/internal/model"
)

const (
	DefaultSubmitPath = "/run-agent/"
	DefaultStatusPath = "/status/{task_id}"
	DefaultRunsPath   = "/runs/"

	maxBodyBytes = 10 << 20
	userAgent    = "runwatch/1"
)

// Endpoints are the service paths, relative to the base URL. StatusPath must
// contain the {task_id} placeholder.
type Endpoints struct {
	SubmitPath string
	StatusPath string
	RunsPath   string
}

// DefaultEndpoints returns the paths used by the recruiter agent service.
func DefaultEndpoints() Endpoints {
	return Endpoints{
		SubmitPath: DefaultSubmitPath,
		StatusPath: DefaultStatusPath,
		RunsPath:   DefaultRunsPath,
	}
}

// Ensure HTTPClient implements the transport and history interfaces.
var (
	_ model.Transport     = (*HTTPClient)(nil)
	_ model.HistoryLister = (*HTTPClient)(nil)
)

// HTTPClient talks to the job service over HTTP. It never retries; every
// failure comes back as a *model.TransportError.
type HTTPClient struct {
	baseURL   string
	endpoints Endpoints
	client    *http.Client
}

// NewHTTPClient creates a client for the service at baseURL.
func NewHTTPClient(baseURL string, endpoints Endpoints, client *http.Client) *HTTPClient {
	return &HTTPClient{
		baseURL:   strings.TrimRight(baseURL, "/"),
		endpoints: endpoints,
		client:    client,
	}
}

// submitResponse is the body of a successful submission.
type submitResponse struct {
	TaskID string `json:"task_id"`
	Status string `json:"status"`
}

// wireSnapshot mirrors the status endpoint's JSON. Timestamps are decoded by
// hand because the service may omit the zone offset.
type wireSnapshot struct {
	TaskID    string          `json:"task_id"`
	Status    string          `json:"status"`
	CreatedAt string          `json:"created_at"`
	UpdatedAt string          `json:"updated_at"`
	Result    json.RawMessage `json:"result"`
	Error     *string         `json:"error"`
}

// Submit posts the payload as a multipart form and returns the new task id.
func (c *HTTPClient) Submit(ctx context.Context, payload model.Payload) (model.JobHandle, error) {
	body, contentType, err := encodeMultipart(payload)
	if err != nil {
		return "", fmt.Errorf("encode submission: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+c.endpoints.SubmitPath, body)
	if err != nil {
		return "", fmt.Errorf("submit job: %w", err)
	}
	req.Header.Set("Content-Type", contentType)

	var resp submitResponse
	if err := c.do(req, &resp); err != nil {
		return "", err
	}
	if resp.TaskID == "" {
		return "", &model.TransportError{
			Kind: model.MalformedResponse,
			Err:  errors.New("submit response has no task_id"),
		}
	}
	return model.JobHandle(resp.TaskID), nil
}

// GetStatus fetches the current snapshot for handle.
func (c *HTTPClient) GetStatus(ctx context.Context, handle model.JobHandle) (model.Snapshot, error) {
	path := strings.ReplaceAll(c.endpoints.StatusPath, "{task_id}", url.PathEscape(string(handle)))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return model.Snapshot{}, fmt.Errorf("get status for %s: %w", handle, err)
	}

	var ws wireSnapshot
	if err := c.do(req, &ws); err != nil {
		return model.Snapshot{}, err
	}
	snap, err := ws.toSnapshot()
	if err != nil {
		return model.Snapshot{}, &model.TransportError{Kind: model.MalformedResponse, Err: err}
	}
	if snap.Handle == "" {
		snap.Handle = handle
	}
	return snap, nil
}

// ListJobs returns up to limit recent runs, newest first.
func (c *HTTPClient) ListJobs(ctx context.Context, limit int) ([]model.Snapshot, error) {
	u := c.baseURL + c.endpoints.RunsPath + "?limit=" + strconv.Itoa(limit)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}

	var rows []wireSnapshot
	if err := c.do(req, &rows); err != nil {
		return nil, err
	}

	snaps := make([]model.Snapshot, 0, len(rows))
	for _, ws := range rows {
		snap, err := ws.toSnapshot()
		if err != nil {
			return nil, &model.TransportError{Kind: model.MalformedResponse, Err: err}
		}
		snaps = append(snaps, snap)
	}
	return snaps, nil
}

// do sends req and decodes a 2xx JSON body into out, normalizing every
// failure into a *model.TransportError.
func (c *HTTPClient) do(req *http.Request, out any) error {
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("X-Request-ID", uuid.NewString())

	resp, err := c.client.Do(req)
	if err != nil {
		return &model.TransportError{Kind: model.NetworkUnavailable, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		// The connection dropped mid-body.
		return &model.TransportError{Kind: model.NetworkUnavailable, StatusCode: resp.StatusCode, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &model.TransportError{
			Kind:       model.ServerRejected,
			StatusCode: resp.StatusCode,
			Detail:     parseDetail(body),
		}
	}

	if err := json.Unmarshal(body, out); err != nil {
		return &model.TransportError{Kind: model.MalformedResponse, StatusCode: resp.StatusCode, Err: err}
	}
	return nil
}

func (ws wireSnapshot) toSnapshot() (model.Snapshot, error) {
	status, err := model.ParseStatus(ws.Status)
	if err != nil {
		return model.Snapshot{}, err
	}
	created, err := parseTime(ws.CreatedAt)
	if err != nil {
		return model.Snapshot{}, fmt.Errorf("created_at: %w", err)
	}
	updated, err := parseTime(ws.UpdatedAt)
	if err != nil {
		return model.Snapshot{}, fmt.Errorf("updated_at: %w", err)
	}

	snap := model.Snapshot{
		Handle:    model.JobHandle(ws.TaskID),
		Status:    status,
		CreatedAt: created,
		UpdatedAt: updated,
	}
	if status == model.StatusCompleted && len(ws.Result) > 0 && string(ws.Result) != "null" {
		snap.Result = ws.Result
	}
	if status == model.StatusFailed && ws.Error != nil {
		snap.Error = *ws.Error
	}
	return snap, nil
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999", // isoformat() of a naive datetime, read as UTC
	"2006-01-02 15:04:05.999999999",
}

// parseTime accepts RFC 3339 and zone-less ISO timestamps. Empty is zero.
func parseTime(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", value)
}

// parseDetail extracts the "detail" message from an error body. It handles
// a plain string and a list of validation errors with "msg" fields.
// Returns "" when the body carries no usable detail.
func parseDetail(body []byte) string {
	var envelope struct {
		Detail json.RawMessage `json:"detail"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil || len(envelope.Detail) == 0 {
		return ""
	}

	var s string
	if err := json.Unmarshal(envelope.Detail, &s); err == nil {
		return s
	}

	var items []struct {
		Msg string `json:"msg"`
	}
	if err := json.Unmarshal(envelope.Detail, &items); err == nil {
		msgs := make([]string, 0, len(items))
		for _, it := range items {
			if it.Msg != "" {
				msgs = append(msgs, it.Msg)
			}
		}
		return strings.Join(msgs, "; ")
	}
	return ""
}

// encodeMultipart writes the payload parts in order.
func encodeMultipart(payload model.Payload) (io.Reader, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for _, p := range payload.Parts {
		if p.IsFile() {
			fw, err := w.CreateFormFile(p.Name, p.FileName)
			if err != nil {
				return nil, "", fmt.Errorf("field %s: %w", p.Name, err)
			}
			if _, err := fw.Write(p.Data); err != nil {
				return nil, "", fmt.Errorf("field %s: %w", p.Name, err)
			}
			continue
		}
		if err := w.WriteField(p.Name, string(p.Data)); err != nil {
			return nil, "", fmt.Errorf("field %s: %w", p.Name, err)
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, w.FormDataContentType(), nil
}
