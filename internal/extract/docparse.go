package extract

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"
)

// DocparseClient talks to the external document-parsing service. The
// service accepts raw file bytes and returns extracted plain text; it
// handles all three attachment formats, including hwp, which has no local
// fallback.
type DocparseClient struct {
	baseURL string
	httpc   *http.Client
}

// NewDocparseClient builds a client for the parsing service at baseURL.
// An empty baseURL returns nil, which the orchestrator treats as "service
// not configured, local fallbacks only".
func NewDocparseClient(baseURL string, timeout time.Duration) *DocparseClient {
	if baseURL == "" {
		return nil
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &DocparseClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpc:   &http.Client{Timeout: timeout},
	}
}

type docparseResponse struct {
	Text  string `json:"text"`
	Error string `json:"error,omitempty"`
}

// Parse submits one file and returns its extracted text. An empty text
// with no error is a legitimate response (image-only documents); callers
// decide whether to fall back.
func (c *DocparseClient) Parse(ctx context.Context, fileName, fileType string, data []byte) (string, error) {
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	part, err := w.CreateFormFile("file", fileName)
	if err != nil {
		return "", fmt.Errorf("docparse request: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return "", fmt.Errorf("docparse request: %w", err)
	}
	if err := w.WriteField("type", fileType); err != nil {
		return "", fmt.Errorf("docparse request: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("docparse request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/parse", &body)
	if err != nil {
		return "", fmt.Errorf("docparse request: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := c.httpc.Do(req)
	if err != nil {
		return "", fmt.Errorf("docparse call: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("docparse call: status %d", resp.StatusCode)
	}
	var out docparseResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("docparse response: %w", err)
	}
	if out.Error != "" {
		return "", fmt.Errorf("docparse: %s", out.Error)
	}
	return out.Text, nil
}
