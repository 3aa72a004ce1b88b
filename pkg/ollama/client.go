package ollama

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/ollama/ollama/api"
	"github.com/rs/zerolog/log"

	"github.com/menta2k/fruitcount/pkg/client"
	"github.com/menta2k/fruitcount/pkg/processing"
	"github.com/menta2k/fruitcount/pkg/types"
)

// DefaultModel is a vision model that handles counting prompts reasonably
const DefaultModel = "llava:13b"

// Images sent to the model are limited to this long side and JPEG quality
const (
	SendMaxDim  = 1536
	SendQuality = 85
)

// CountPrompt asks the model for a bare fruit count
const CountPrompt = `You are counting fruit in a photo.

Return JSON only:
{"count": 0}

RULES
- "count" is the number of individual fruits visible, including partially hidden ones.
- Count each fruit once. Do not estimate fruit you cannot see.
- JSON only. No markdown, no code fences, no comments.`

// Client wraps the Ollama API client as a detection backend. It produces a
// count but no annotated image.
type Client struct {
	client *api.Client
	model  string
}

var _ client.DetectionClient = (*Client)(nil)

type countResult struct {
	Count *float64 `json:"count"`
}

// NewClient creates a new Ollama-backed detector
func NewClient(ollamaURL, model string) (*Client, error) {
	parsedURL, err := url.Parse(ollamaURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	if parsedURL.Scheme == "" || parsedURL.Host == "" {
		return nil, fmt.Errorf("invalid URL %q: scheme and host required", ollamaURL)
	}

	// Drop any path such as /api/chat, the SDK appends its own
	baseURL := &url.URL{
		Scheme: parsedURL.Scheme,
		Host:   parsedURL.Host,
	}

	if model == "" {
		model = DefaultModel
	}

	return &Client{
		client: api.NewClient(baseURL, http.DefaultClient),
		model:  model,
	}, nil
}

// ResolveURL always yields nothing since the model returns no image
func (c *Client) ResolveURL(path string) string {
	return ""
}

// Detect sends the payload to the vision model and parses the count
func (c *Client) Detect(ctx context.Context, payload types.Payload) (*client.Detection, error) {
	if len(payload.Data) == 0 {
		return nil, fmt.Errorf("empty payload")
	}

	// Vision models on CPU are slow
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, 300*time.Second)
		defer cancel()
	}

	imageData, err := processing.PrepareForModel(payload.Data, SendMaxDim, SendQuality)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare image for model: %w", err)
	}

	streamFalse := false
	req := &api.ChatRequest{
		Model: c.model,
		Messages: []api.Message{
			{
				Role:    "user",
				Content: CountPrompt,
				Images:  []api.ImageData{api.ImageData(imageData)},
			},
		},
		Stream: &streamFalse,
		Options: map[string]any{
			"temperature": 0.0,
		},
	}

	var responseContent string
	err = c.client.Chat(ctx, req, func(resp api.ChatResponse) error {
		responseContent = resp.Message.Content
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("ollama chat error: %w", err)
	}

	if responseContent == "" {
		return nil, fmt.Errorf("empty response from ollama")
	}

	count, err := parseCount(responseContent)
	if err != nil {
		return nil, err
	}

	log.Debug().
		Str("model", c.model).
		Str("request_id", client.RequestID(ctx)).
		Int("count", count).
		Msg("Ollama count parsed")

	return &client.Detection{Count: count}, nil
}

var bareNumber = regexp.MustCompile(`\d+`)

// maxCount bounds counts accepted from the model
const maxCount = math.MaxInt32

// parseCount extracts the count from a model answer. Non-JSON answers fall
// back to the first integer in the text.
func parseCount(raw string) (int, error) {
	cleaned := sanitizeModelJSON(raw)

	if strings.HasPrefix(cleaned, "{") {
		var result countResult
		if err := json.Unmarshal([]byte(cleaned), &result); err == nil && result.Count != nil {
			if *result.Count < 0 {
				return 0, fmt.Errorf("model returned negative count %v", *result.Count)
			}
			if *result.Count > maxCount {
				return 0, fmt.Errorf("model returned implausible count %v", *result.Count)
			}
			return int(*result.Count + 0.5), nil
		}
	}

	if m := bareNumber.FindString(raw); m != "" {
		n, err := strconv.Atoi(m)
		if err == nil && n <= maxCount {
			return n, nil
		}
	}

	return 0, fmt.Errorf("no count found in model response")
}

// sanitizeModelJSON removes code fences, comments, and trailing commas from JSON response
func sanitizeModelJSON(raw string) string {
	raw = strings.TrimSpace(raw)

	// Strip triple-backtick fences if present
	if strings.HasPrefix(raw, "```") {
		if i := strings.Index(raw, "\n"); i >= 0 {
			raw = raw[i+1:]
		}
		if j := strings.LastIndex(raw, "```"); j >= 0 {
			raw = raw[:j]
		}
	}
	raw = strings.TrimSpace(raw)
	raw = strings.Trim(raw, "`")

	raw = blockComment.ReplaceAllString(raw, "")
	raw = lineComment.ReplaceAllString(raw, "")
	raw = trailingComma.ReplaceAllString(raw, "$1")

	// Keep only the outermost {...}
	if start := strings.Index(raw, "{"); start >= 0 {
		if end := strings.LastIndex(raw, "}"); end > start {
			raw = raw[start : end+1]
		}
	}
	return strings.TrimSpace(raw)
}

var (
	blockComment  = regexp.MustCompile(`(?s)/\*.*?\*/`)
	lineComment   = regexp.MustCompile(`(?m)//.*$`)
	trailingComma = regexp.MustCompile(`,(\s*[}\]])`)
)
