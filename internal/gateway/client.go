package gateway

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

	"github.com/kalambet/tutord/internal/metrics"
)

const (
	defaultBaseURL    = "https://ai.gateway.lovable.dev/v1"
	defaultChatModel  = "google/gemini-2.5-flash"
	defaultImageModel = "google/gemini-2.5-flash-image-preview"
	defaultTimeout    = 60 * time.Second
	streamingTimeout  = 300 * time.Second
	maxErrorBody      = 4 << 10
)

// Options configures a Client. Empty fields take the gateway defaults.
type Options struct {
	APIKey     string
	BaseURL    string
	ChatModel  string
	ImageModel string
	Metrics    *metrics.Recorder
}

// Client talks to an OpenAI-compatible chat completions gateway. Upstream
// failures are surfaced immediately; the client never retries.
type Client struct {
	apiKey     string
	baseURL    string
	chatModel  string
	imageModel string
	httpClient *http.Client
	metrics    *metrics.Recorder
}

func NewClient(opts Options) *Client {
	c := &Client{
		apiKey:     opts.APIKey,
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		chatModel:  opts.ChatModel,
		imageModel: opts.ImageModel,
		// Per-request deadlines are set with contexts; streaming bodies outlive defaultTimeout.
		httpClient: &http.Client{},
		metrics:    opts.Metrics,
	}
	if c.baseURL == "" {
		c.baseURL = defaultBaseURL
	}
	if c.chatModel == "" {
		c.chatModel = defaultChatModel
	}
	if c.imageModel == "" {
		c.imageModel = defaultImageModel
	}
	return c
}

// NewClientWithBaseURL creates a client pointing at a custom base URL (for testing).
func NewClientWithBaseURL(apiKey, baseURL string) *Client {
	return NewClient(Options{APIKey: apiKey, BaseURL: baseURL})
}

// Configured reports whether an API key is present.
func (c *Client) Configured() bool {
	return c.apiKey != ""
}

// Complete sends a non-streaming chat request with the chat model and
// returns the first choice's content, or ErrNoChoices when there is none.
func (c *Client) Complete(ctx context.Context, messages []Message) (string, error) {
	start := time.Now()
	defer c.metrics.Since("gateway.complete", start)

	resp, err := c.call(ctx, ChatRequest{Model: c.chatModel, Messages: messages})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", ErrNoChoices
	}
	return resp.Choices[0].Message.Content, nil
}

// Stream sends a streaming chat request and returns the raw SSE body. The
// caller must close it.
func (c *Client) Stream(ctx context.Context, messages []Message) (io.ReadCloser, error) {
	start := time.Now()
	defer c.metrics.Since("gateway.stream_open", start)

	body, err := json.Marshal(ChatRequest{Model: c.chatModel, Messages: messages, Stream: true})
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}
	return c.do(ctx, body, streamingTimeout)
}

// GenerateImage asks the image model for one illustration and returns its
// URL (usually a base64 data URL).
func (c *Client) GenerateImage(ctx context.Context, prompt string) (string, error) {
	start := time.Now()
	defer c.metrics.Since("gateway.image", start)

	resp, err := c.call(ctx, ChatRequest{
		Model:      c.imageModel,
		Messages:   []Message{{Role: RoleUser, Content: prompt}},
		Modalities: []string{"image", "text"},
	})
	if err != nil {
		return "", err
	}
	for _, ch := range resp.Choices {
		for _, img := range ch.Message.Images {
			if img.ImageURL.URL != "" {
				return img.ImageURL.URL, nil
			}
		}
	}
	return "", ErrNoImage
}

func (c *Client) call(ctx context.Context, req ChatRequest) (*chatResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}
	rc, err := c.do(ctx, body, defaultTimeout)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	var resp chatResponse
	if err := json.NewDecoder(rc).Decode(&resp); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	return &resp, nil
}

func (c *Client) do(ctx context.Context, body []byte, timeout time.Duration) (io.ReadCloser, error) {
	if c.apiKey == "" {
		return nil, ErrNotConfigured
	}

	reqCtx, cancel := context.WithTimeout(ctx, timeout)

	httpReq, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("executing request: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		resp.Body.Close()
		cancel()
		switch resp.StatusCode {
		case http.StatusTooManyRequests:
			return nil, ErrRateLimited
		case http.StatusPaymentRequired:
			return nil, ErrQuotaExhausted
		default:
			return nil, &StatusError{Status: resp.StatusCode, Body: string(respBody)}
		}
	}

	// Wrap the body so the timeout context cancel is called when the caller closes it.
	return &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}, nil
}

// cancelOnClose wraps a ReadCloser and cancels a context on Close.
type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelOnClose) Close() error {
	err := c.ReadCloser.Close()
	c.cancel()
	return err
}

// Relay copies an SSE stream line by line to w, calling flush after every
// line, and returns the concatenated delta content. It stops after the
// [DONE] event or at EOF.
func Relay(w io.Writer, flush func(), r io.Reader) (string, error) {
	var content strings.Builder
	reader := bufio.NewReader(r)
	for {
		line, err := reader.ReadBytes('\n')
		if len(line) > 0 {
			if _, werr := w.Write(line); werr != nil {
				return content.String(), fmt.Errorf("writing stream: %w", werr)
			}
			flush()
			delta, done := ParseDelta(line)
			content.WriteString(delta)
			if done {
				return content.String(), nil
			}
		}
		if err != nil {
			if err == io.EOF {
				return content.String(), nil
			}
			return content.String(), fmt.Errorf("reading stream: %w", err)
		}
	}
}

// ParseDelta extracts the delta content from one SSE line. done is true for
// the terminal [DONE] event. Non-data lines and undecodable payloads yield
// an empty delta.
func ParseDelta(line []byte) (delta string, done bool) {
	s := strings.TrimSpace(string(line))
	payload, ok := strings.CutPrefix(s, "data:")
	if !ok {
		return "", false
	}
	payload = strings.TrimSpace(payload)
	if payload == "[DONE]" {
		return "", true
	}
	var chunk streamChunk
	if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
		return "", false
	}
	var sb strings.Builder
	for _, ch := range chunk.Choices {
		sb.WriteString(ch.Delta.Content)
	}
	return sb.String(), false
}
