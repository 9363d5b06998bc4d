package openai

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/kirillkom/conversation-insights/internal/core/domain"
)

const (
	defaultBaseURL          = "https://api.openai.com"
	defaultCompletionWindow = "24h"
	chatCompletionsEndpoint = "/v1/chat/completions"
)

type Options struct {
	APIKey           string
	BaseURL          string
	CompletionWindow string
	RequestsPerSec   float64
	Timeout          time.Duration
	Transport        http.RoundTripper
}

// Client talks to the OpenAI Files and Batches endpoints.
type Client struct {
	apiKey           string
	baseURL          string
	completionWindow string
	limiter          *rate.Limiter
	httpClient       *http.Client
}

func New(opts Options) *Client {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	baseURL = strings.TrimSuffix(baseURL, "/v1")

	window := opts.CompletionWindow
	if window == "" {
		window = defaultCompletionWindow
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	limit := rate.Inf
	if opts.RequestsPerSec > 0 {
		limit = rate.Limit(opts.RequestsPerSec)
	}

	return &Client{
		apiKey:           opts.APIKey,
		baseURL:          baseURL,
		completionWindow: window,
		limiter:          rate.NewLimiter(limit, 1),
		httpClient:       &http.Client{Timeout: timeout, Transport: opts.Transport},
	}
}

type fileObject struct {
	ID      string `json:"id"`
	Purpose string `json:"purpose"`
	Bytes   int64  `json:"bytes"`
}

type batchObject struct {
	ID           string `json:"id"`
	Status       string `json:"status"`
	InputFileID  string `json:"input_file_id"`
	OutputFileID string `json:"output_file_id"`
	ErrorFileID  string `json:"error_file_id"`
	RequestCount struct {
		Total     int `json:"total"`
		Completed int `json:"completed"`
		Failed    int `json:"failed"`
	} `json:"request_counts"`
}

// UploadBatchFile uploads JSONL input with purpose "batch" and returns the file id.
func (c *Client) UploadBatchFile(ctx context.Context, filename string, body io.Reader) (string, error) {
	var buf bytes.Buffer
	form := multipart.NewWriter(&buf)
	if err := form.WriteField("purpose", "batch"); err != nil {
		return "", fmt.Errorf("write purpose field: %w", err)
	}
	part, err := form.CreateFormFile("file", filename)
	if err != nil {
		return "", fmt.Errorf("create file part: %w", err)
	}
	if _, err := io.Copy(part, body); err != nil {
		return "", fmt.Errorf("copy batch input: %w", err)
	}
	if err := form.Close(); err != nil {
		return "", fmt.Errorf("close multipart body: %w", err)
	}

	var file fileObject
	if err := c.do(ctx, http.MethodPost, "/v1/files", form.FormDataContentType(), &buf, &file, "upload file"); err != nil {
		return "", err
	}
	if file.ID == "" {
		return "", errors.New("upload file: provider returned empty file id")
	}
	return file.ID, nil
}

func (c *Client) CreateBatch(ctx context.Context, inputFileID string) (domain.JobHandle, error) {
	request := map[string]any{
		"input_file_id":     inputFileID,
		"endpoint":          chatCompletionsEndpoint,
		"completion_window": c.completionWindow,
	}
	var batch batchObject
	if err := c.postJSON(ctx, "/v1/batches", request, &batch, "create batch"); err != nil {
		return domain.JobHandle{}, err
	}
	return batch.handle(), nil
}

// GetBatch returns the current job state. Transient failures are wrapped in
// domain.ErrTemporary.
func (c *Client) GetBatch(ctx context.Context, jobID string) (domain.JobHandle, error) {
	var batch batchObject
	err := c.do(ctx, http.MethodGet, "/v1/batches/"+url.PathEscape(jobID), "", nil, &batch, "get batch")
	if err != nil {
		return domain.JobHandle{}, wrapTemporaryIfNeeded("get batch "+jobID, err)
	}
	return batch.handle(), nil
}

func (c *Client) DownloadFile(ctx context.Context, fileID string) ([]byte, error) {
	resp, err := c.send(ctx, http.MethodGet, "/v1/files/"+url.PathEscape(fileID)+"/content", "", nil, "download file")
	if err != nil {
		return nil, wrapTemporaryIfNeeded("download file "+fileID, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, wrapTemporaryIfNeeded("download file "+fileID, fmt.Errorf("read file content: %w", err))
	}
	return raw, nil
}

func (b batchObject) handle() domain.JobHandle {
	return domain.JobHandle{
		JobID:     b.ID,
		Status:    MapStatus(b.Status),
		InputRef:  b.InputFileID,
		OutputRef: b.OutputFileID,
		ErrorRef:  b.ErrorFileID,
		Counts: domain.RequestCounts{
			Total:     b.RequestCount.Total,
			Completed: b.RequestCount.Completed,
			Failed:    b.RequestCount.Failed,
		},
	}
}

// MapStatus folds provider batch statuses into the job state machine.
// Unknown values are passed through unchanged and fail JobStatus.Valid.
func MapStatus(status string) domain.JobStatus {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "validating":
		return domain.JobStatusPending
	case "in_progress", "finalizing", "cancelling":
		return domain.JobStatusInProgress
	case "completed":
		return domain.JobStatusCompleted
	case "failed":
		return domain.JobStatusFailed
	case "expired":
		return domain.JobStatusExpired
	case "cancelled":
		return domain.JobStatusCancelled
	default:
		return domain.JobStatus(status)
	}
}
