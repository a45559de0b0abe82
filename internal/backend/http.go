package backend

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"iter"
	"net/http"
	"time"
)

// HTTPStreamer talks to an NDJSON chat endpoint (Ollama wire shape): one JSON
// chunk per line, a done flag on the last chunk.
type HTTPStreamer struct {
	baseURL    string
	model      string
	httpClient *http.Client
}

// HTTPConfig holds configuration for the HTTP streamer.
type HTTPConfig struct {
	BaseURL string
	Model   string
	Timeout time.Duration
}

// NewHTTPStreamer creates a streamer against the given chat endpoint.
func NewHTTPStreamer(cfg HTTPConfig) *HTTPStreamer {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 120 * time.Second
	}
	return &HTTPStreamer{
		baseURL: cfg.BaseURL,
		model:   cfg.Model,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string         `json:"model"`
	Messages []chatMessage  `json:"messages"`
	Stream   bool           `json:"stream"`
	Options  map[string]any `json:"options,omitempty"`
}

type chatChunk struct {
	Message struct {
		Content string `json:"content"`
	} `json:"message"`
	Done  bool   `json:"done"`
	Error string `json:"error,omitempty"`
}

// Stream issues the chat request and yields fragments as lines arrive.
func (c *HTTPStreamer) Stream(ctx context.Context, req Request) iter.Seq2[*Fragment, error] {
	return func(yield func(*Fragment, error) bool) {
		body := chatRequest{
			Model: c.model,
			Messages: []chatMessage{
				{Role: "user", Content: req.Prompt},
			},
			Stream: true,
		}
		if req.MaxTokens > 0 {
			body.Options = map[string]any{"num_predict": req.MaxTokens}
		}
		if req.UseSearchContext {
			if body.Options == nil {
				body.Options = map[string]any{}
			}
			body.Options["search"] = true
		}

		jsonData, err := json.Marshal(body)
		if err != nil {
			yield(nil, fmt.Errorf("marshal chat request: %w", err))
			return
		}

		url := c.baseURL + "/api/chat"
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonData))
		if err != nil {
			yield(nil, fmt.Errorf("create chat request: %w", err))
			return
		}
		httpReq.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(httpReq)
		if err != nil {
			yield(nil, fmt.Errorf("chat request failed: %w", err))
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			yield(nil, fmt.Errorf("backend returned status %d: %s", resp.StatusCode, string(msg)))
			return
		}

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := scanner.Bytes()
			if len(line) == 0 {
				continue
			}

			var chunk chatChunk
			if err := json.Unmarshal(line, &chunk); err != nil {
				// Skip malformed lines rather than aborting the stream.
				continue
			}
			if chunk.Error != "" {
				yield(nil, fmt.Errorf("backend stream error: %s", chunk.Error))
				return
			}

			if chunk.Message.Content != "" {
				if !yield(&Fragment{Text: chunk.Message.Content}, nil) {
					return
				}
			}
			if chunk.Done {
				return
			}
		}
		if err := scanner.Err(); err != nil {
			yield(nil, fmt.Errorf("read chat stream: %w", err))
		}
	}
}

// Ping checks backend reachability for health reporting.
func (c *HTTPStreamer) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/version", nil)
	if err != nil {
		return fmt.Errorf("create version request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("backend unreachable: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("backend returned status %d", resp.StatusCode)
	}
	return nil
}
