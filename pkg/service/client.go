package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"github.com/menta2k/fruitcount/pkg/client"
	"github.com/menta2k/fruitcount/pkg/types"
)

// DefaultBaseURL is where the detection service listens out of the box
const DefaultBaseURL = "http://127.0.0.1:5000"

// ErrStatus is matched by every *StatusError
var ErrStatus = errors.New("unexpected service status")

// StatusError carries a non-2xx answer from the service
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("service returned status %d: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("service returned status %d", e.Code)
}

func (e *StatusError) Is(target error) bool {
	return target == ErrStatus
}

// Client talks to the fruit detection service over HTTP
type Client struct {
	baseURL    string
	httpClient *http.Client
}

var (
	_ client.DetectionClient = (*Client)(nil)
	_ client.WeightClient    = (*Client)(nil)
)

type averageWeightBody struct {
	AverageWeight float64 `json:"average_weight"`
}

type detectResponse struct {
	EstimatedApples *int   `json:"estimated_apples"`
	DetectionImage  string `json:"detection_image"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// NewClient creates a service client. An empty URL selects DefaultBaseURL
// and a non-positive timeout falls back to 60 seconds.
func NewClient(serverURL string, timeout time.Duration) (*Client, error) {
	if serverURL == "" {
		serverURL = DefaultBaseURL
	}
	if !strings.HasPrefix(serverURL, "http://") && !strings.HasPrefix(serverURL, "https://") {
		return nil, fmt.Errorf("invalid service URL %q: scheme must be http or https", serverURL)
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	return &Client{
		baseURL: strings.TrimSuffix(serverURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}, nil
}

// BaseURL returns the service address without a trailing slash
func (c *Client) BaseURL() string {
	return c.baseURL
}

// ResolveURL joins a path returned by the service with the base address
func (c *Client) ResolveURL(path string) string {
	if path == "" {
		return ""
	}
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return c.baseURL + path
}

// GetAverageWeight reads the average unit weight stored by the service
func (c *Client) GetAverageWeight(ctx context.Context) (float64, error) {
	respBody, err := c.sendRequest(ctx, http.MethodGet, "/average-weight", "", nil)
	if err != nil {
		return 0, fmt.Errorf("get average weight: %w", err)
	}

	var body averageWeightBody
	if err := json.Unmarshal(respBody, &body); err != nil {
		return 0, fmt.Errorf("failed to parse average weight: %w", err)
	}
	return body.AverageWeight, nil
}

// SetAverageWeight pushes a new average. The acknowledgement body is ignored.
func (c *Client) SetAverageWeight(ctx context.Context, grams float64) error {
	data, err := json.Marshal(averageWeightBody{AverageWeight: grams})
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	if _, err := c.sendRequest(ctx, http.MethodPost, "/average-weight", "application/json", bytes.NewReader(data)); err != nil {
		return fmt.Errorf("set average weight: %w", err)
	}
	return nil
}

// Ping checks that the service answers at all
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.GetAverageWeight(ctx)
	return err
}

// Detect uploads the payload as the multipart field "file"
func (c *Client) Detect(ctx context.Context, payload types.Payload) (*client.Detection, error) {
	if len(payload.Data) == 0 {
		return nil, fmt.Errorf("empty payload")
	}

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	filename := payload.Filename
	if filename == "" {
		filename = "image.jpg"
	}
	mimeType := payload.MIMEType
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s"`, escapeQuotes(filename)))
	header.Set("Content-Type", mimeType)
	part, err := writer.CreatePart(header)
	if err != nil {
		return nil, fmt.Errorf("create form file: %w", err)
	}
	if _, err := part.Write(payload.Data); err != nil {
		return nil, fmt.Errorf("copy image data: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("close multipart body: %w", err)
	}

	respBody, err := c.sendRequest(ctx, http.MethodPost, "/detect", writer.FormDataContentType(), body)
	if err != nil {
		return nil, fmt.Errorf("detect: %w", err)
	}

	var resp detectResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse detection response: %w", err)
	}
	if resp.EstimatedApples == nil {
		return nil, fmt.Errorf("detection response has no estimated_apples")
	}
	if *resp.EstimatedApples < 0 {
		return nil, fmt.Errorf("detection response has negative count %d", *resp.EstimatedApples)
	}

	return &client.Detection{
		Count:         *resp.EstimatedApples,
		AnnotatedPath: resp.DetectionImage,
	}, nil
}

// FetchImage downloads an image served by the service, e.g. the annotated
// detection output. ref may be relative to the base address or absolute.
func (c *Client) FetchImage(ctx context.Context, ref string) ([]byte, string, error) {
	target := c.ResolveURL(ref)
	if target == "" {
		return nil, "", fmt.Errorf("empty image reference")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("failed to download image: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read image data: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, "", &StatusError{Code: resp.StatusCode}
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}
	if !strings.HasPrefix(contentType, "image/") {
		return nil, "", fmt.Errorf("reference does not point to an image (Content-Type: %s)", contentType)
	}
	return data, contentType, nil
}

func (c *Client) sendRequest(ctx context.Context, method, endpoint, contentType string, body io.Reader) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")
	if id := client.RequestID(ctx); id != "" {
		req.Header.Set("X-Request-ID", id)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		statusErr := &StatusError{Code: resp.StatusCode}
		var e errorResponse
		if json.Unmarshal(respBody, &e) == nil && e.Error != "" {
			statusErr.Message = e.Error
		}
		return nil, statusErr
	}

	return respBody, nil
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func escapeQuotes(s string) string {
	return quoteEscaper.Replace(s)
}
