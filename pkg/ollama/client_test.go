package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/jpeg"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ollama/ollama/api"

	"github.com/menta2k/fruitcount/pkg/types"
)

func TestParseCount(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		expected int
		wantErr  bool
	}{
		{"plain json", `{"count": 12}`, 12, false},
		{"fenced json", "```json\n{\"count\": 7}\n```", 7, false},
		{"trailing comma", `{"count": 3,}`, 3, false},
		{"float count", `{"count": 4.6}`, 5, false},
		{"prose fallback", "I can see 9 apples on the table.", 9, false},
		{"negative", `{"count": -2}`, 0, true},
		{"nothing", "no fruit here", 0, true},
		{"huge count", `{"count": 1e19}`, 0, true},
		{"enormous count", `{"count": 1e300}`, 0, true},
		{"huge prose count", "there are 99999999999999999999 apples", 0, true},
		{"max count", `{"count": 2147483647}`, 2147483647, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseCount(tt.raw)
			if tt.wantErr {
				if err == nil {
					t.Errorf("parseCount(%q) expected error, got %d", tt.raw, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("parseCount(%q) failed: %v", tt.raw, err)
			}
			if got != tt.expected {
				t.Errorf("parseCount(%q) = %d, expected %d", tt.raw, got, tt.expected)
			}
		})
	}
}

func TestNewClient(t *testing.T) {
	c, err := NewClient("http://localhost:11434/api/chat", "")
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	if c.model != DefaultModel {
		t.Errorf("Expected default model %s, got %s", DefaultModel, c.model)
	}
	if c.ResolveURL("/uploads/x.jpg") != "" {
		t.Error("Ollama backend should not resolve annotated images")
	}

	if _, err := NewClient("not a url", ""); err == nil {
		t.Error("Expected error for URL without scheme")
	}
}

func TestDetectEmptyPayload(t *testing.T) {
	c, err := NewClient("http://localhost:11434", "")
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	if _, err := c.Detect(context.Background(), types.Payload{}); err == nil {
		t.Error("Expected error for empty payload")
	}
}

func TestDetect(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var req api.ChatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.Model != "llava:7b" || len(req.Messages) != 1 || len(req.Messages[0].Images) != 1 {
			t.Errorf("unexpected chat request: model=%s messages=%d", req.Model, len(req.Messages))
		}

		resp := api.ChatResponse{
			Model:   req.Model,
			Message: api.Message{Role: "assistant", Content: `{"count": 11}`},
			Done:    true,
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL, "llava:7b")
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}

	var buf bytes.Buffer
	jpeg.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 32, 32)), nil)

	det, err := c.Detect(context.Background(), types.Payload{Filename: "a.jpg", MIMEType: "image/jpeg", Data: buf.Bytes()})
	if err != nil {
		t.Fatalf("Detect failed: %v", err)
	}
	if det.Count != 11 || det.AnnotatedPath != "" {
		t.Errorf("Unexpected detection %+v", det)
	}
}
