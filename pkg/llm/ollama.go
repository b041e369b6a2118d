// Package llm streams completions from an Ollama-compatible server.
// The generate endpoint answers with newline-delimited JSON events;
// each event carries a text fragment and the last one sets done.
package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"chatrelay/pkg/logger"
)

const (
	scanBufInitial = 256 * 1024
	scanBufMax     = 1024 * 1024
)

// Options tune sampling. Zero values fall back to the server defaults
// except NumPredict, which is sent as -1 (unlimited) when unset.
type Options struct {
	Temperature float64
	TopP        float64
	TopK        int
	NumPredict  int
}

type Client struct {
	baseURL string
	model   string
	opts    Options
	client  *http.Client
}

func New(baseURL, model string, opts Options) (*Client, error) {
	if strings.TrimSpace(model) == "" {
		return nil, fmt.Errorf("llm client requires a model identifier")
	}
	if opts.NumPredict == 0 {
		opts.NumPredict = -1
	}
	return &Client{
		baseURL: normalizeBaseURL(baseURL),
		model:   model,
		opts:    opts,
		// streaming responses can run for minutes on large prompts
		client: &http.Client{Timeout: 10 * time.Minute},
	}, nil
}

func (c *Client) Model() string { return c.model }

type generateRequest struct {
	Model   string         `json:"model"`
	Prompt  string         `json:"prompt"`
	Stream  bool           `json:"stream"`
	Options map[string]any `json:"options,omitempty"`
}

type generateEvent struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
	Error    string `json:"error,omitempty"`
}

// Generate streams a completion for prompt, invoking onChunk for every
// non-empty text fragment, and returns the accumulated text. Lines
// that fail to decode are skipped; an event carrying an error field
// aborts the stream.
func (c *Client) Generate(ctx context.Context, prompt string, onChunk func(string)) (string, error) {
	payload := generateRequest{
		Model:  c.model,
		Prompt: prompt,
		Stream: true,
		Options: map[string]any{
			"temperature": c.opts.Temperature,
			"top_p":       c.opts.TopP,
			"top_k":       c.opts.TopK,
			"num_predict": c.opts.NumPredict,
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encode generate request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create generate request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("generate request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("generate failed: status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, scanBufInitial), scanBufMax)

	var full strings.Builder
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var ev generateEvent
		if err := json.Unmarshal([]byte(line), &ev); err != nil {
			logger.Warn("generate_chunk_undecodable", "model", c.model, "err", err)
			continue
		}
		if ev.Error != "" {
			return full.String(), fmt.Errorf("generate failed: %s", ev.Error)
		}
		if ev.Response != "" {
			full.WriteString(ev.Response)
			if onChunk != nil {
				onChunk(ev.Response)
			}
		}
		if ev.Done {
			break
		}
	}
	if err := scanner.Err(); err != nil {
		return full.String(), fmt.Errorf("generate stream: %w", err)
	}
	return full.String(), nil
}

// Health checks that the server answers on the tags endpoint.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/tags", nil)
	if err != nil {
		return err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("llm unreachable: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("llm health: status %d", resp.StatusCode)
	}
	return nil
}

func normalizeBaseURL(baseURL string) string {
	url := strings.TrimSpace(baseURL)
	if url == "" {
		return "http://localhost:11434"
	}
	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		url = "http://" + url
	}
	return strings.TrimRight(url, "/")
}
