package translate

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"
)

const defaultBaseURL = "https://api.openai.com/v1"

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// chatRequest is the minimal request shape for the Chat Completions endpoint.
type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature *float64      `json:"temperature,omitempty"`
}

// chatResponse is the minimal response shape returned by the Chat Completions endpoint.
type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// tokenPayload is the JSON shape stored in the parameter store for the API key.
type tokenPayload struct {
	Token string `json:"token"`
}

// Getter reads a named parameter.
type Getter interface {
	GetParameter(ctx context.Context, name string) (string, error)
}

// HTTPStatusError captures non-2xx upstream responses.
type HTTPStatusError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("translate: unexpected status %d from %s: %s", e.StatusCode, e.URL, e.Body)
}

// Client is an OpenAI-compatible translator and language detector.
type Client struct {
	baseURL    string
	model      string
	httpClient *http.Client
	apiKey     string
	getter     Getter
	paramName  string

	keyOnce     sync.Once
	resolvedKey string
	keyErr      error
}

type Option func(*Client)

func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		if u := strings.TrimSpace(baseURL); u != "" {
			c.baseURL = u
		}
	}
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.httpClient = &http.Client{Timeout: d}
		}
	}
}

// WithAPIKey sets a static API key. It takes precedence over WithParamStore.
func WithAPIKey(key string) Option {
	return func(c *Client) {
		c.apiKey = strings.TrimSpace(key)
	}
}

// WithParamStore fetches the API key from the named parameter on first use.
func WithParamStore(g Getter, name string) Option {
	return func(c *Client) {
		c.getter = g
		c.paramName = strings.TrimSpace(name)
	}
}

// NewClient creates a client for model.
func NewClient(model string, opts ...Option) (*Client, error) {
	model = strings.TrimSpace(model)
	if model == "" {
		return nil, errors.New("translate: model must not be empty")
	}
	c := &Client{
		baseURL:    defaultBaseURL,
		model:      model,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.apiKey == "" && (c.getter == nil || c.paramName == "") {
		return nil, errors.New("translate: an API key or a parameter store source is required")
	}
	return c, nil
}

// resolveAPIKey returns the static key, or fetches it from the parameter store
// once per process.
func (c *Client) resolveAPIKey(ctx context.Context) (string, error) {
	if c.apiKey != "" {
		return c.apiKey, nil
	}
	c.keyOnce.Do(func() {
		c.resolvedKey, c.keyErr = fetchAPIKey(ctx, c.getter, c.paramName)
	})
	return c.resolvedKey, c.keyErr
}

func chatURL(baseURL string) string {
	base := strings.TrimRight(baseURL, "/")
	if base == "" {
		base = defaultBaseURL
	}
	if strings.HasSuffix(base, "/v1") {
		return base + "/chat/completions"
	}
	return base + "/v1/chat/completions"
}

// Translate returns text translated into the target language.
func (c *Client) Translate(ctx context.Context, text, target string) (string, error) {
	if strings.TrimSpace(target) == "" {
		return "", errors.New("translate: target language must not be empty")
	}
	prompt := fmt.Sprintf("Translate the user's message into the language with BCP 47 tag %q. "+
		"Reply with the translation only, without quotes or commentary.", target)
	return c.complete(ctx, prompt, text)
}

// Detect returns the BCP 47 base language tag of text.
func (c *Client) Detect(ctx context.Context, text string) (string, error) {
	out, err := c.complete(ctx, "Identify the language of the user's message. "+
		"Reply with its two-letter ISO 639-1 code only.", text)
	if err != nil {
		return "", err
	}
	lang := BaseLanguage(strings.Trim(strings.TrimSpace(out), `."'`))
	if lang == "" {
		return "", fmt.Errorf("translate: unrecognized language %q", out)
	}
	return lang, nil
}

func (c *Client) complete(ctx context.Context, system, user string) (string, error) {
	apiKey, err := c.resolveAPIKey(ctx)
	if err != nil {
		return "", err
	}

	zero := 0.0
	body, err := json.Marshal(chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		Temperature: &zero,
	})
	if err != nil {
		return "", fmt.Errorf("translate: marshal request: %w", err)
	}

	url := chatURL(c.baseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("translate: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+apiKey)

	raw, err := c.doJSONRequest(req, url)
	if err != nil {
		return "", fmt.Errorf("translate: request failed: %w", err)
	}

	var payload chatResponse
	if err := json.Unmarshal(raw, &payload); err != nil {
		return "", fmt.Errorf("translate: decode response: %w", err)
	}
	if len(payload.Choices) == 0 {
		return "", errors.New("translate: no choices in response")
	}
	return strings.TrimSpace(payload.Choices[0].Message.Content), nil
}

func (c *Client) doJSONRequest(req *http.Request, url string) ([]byte, error) {
	hc := c.httpClient
	if hc == nil {
		hc = &http.Client{Timeout: 10 * time.Second}
	}
	res, err := hc.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		buf, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return nil, &HTTPStatusError{StatusCode: res.StatusCode, URL: url, Body: string(buf)}
	}

	buf, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	return buf, nil
}

func fetchAPIKey(ctx context.Context, g Getter, name string) (string, error) {
	if g == nil {
		return "", errors.New("translate: parameter store getter is nil")
	}
	raw, err := g.GetParameter(ctx, name)
	if err != nil {
		return "", fmt.Errorf("translate: fetch API key: %w", err)
	}
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "{") {
		var tp tokenPayload
		if err := json.Unmarshal([]byte(raw), &tp); err != nil {
			return "", fmt.Errorf("translate: unmarshal API key parameter: %w", err)
		}
		raw = tp.Token
	}
	if raw == "" {
		return "", errors.New("translate: API key is empty")
	}
	return raw, nil
}
