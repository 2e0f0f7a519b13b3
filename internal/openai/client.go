package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"promptstudio-backend-go/internal/core"
)

const (
	defaultBaseURL = "https://api.openai.com/v1"
	responseLimit  = 4 << 20

	systemPrompt = `Du bist "GLE Prompt Studio". Folge den Regeln im User-Prompt strikt und gib nur den fertigen Output aus.`
)

// ErrNoText is returned when a successful response carries no text.
var ErrNoText = core.ErrNoText

// APIError is a non-2xx answer from the API.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("openai: %s (status %d)", e.Message, e.Status)
}

// notFound reports whether the Responses endpoint or model is unavailable,
// in which case the chat completions endpoint is tried.
func (e *APIError) notFound() bool {
	return e.Status == http.StatusNotFound ||
		strings.Contains(e.Message, "404") ||
		strings.Contains(strings.ToLower(e.Message), "not found")
}

// Client calls the Responses API and falls back to chat completions.
// The API key is passed per request because callers may bring their own.
type Client struct {
	baseURL string
	client  *http.Client
}

// NewClient creates a Client with a fixed request timeout.
func NewClient(baseURL string, timeout time.Duration) *Client {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Client{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

var _ core.TextGenerator = (*Client)(nil)

type responsesRequest struct {
	Model       string  `json:"model"`
	Input       string  `json:"input"`
	Temperature float64 `json:"temperature"`
}

type responsesResponse struct {
	OutputText string `json:"output_text"`
	Output     []struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
	} `json:"output"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

type errorBody struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
	Message string `json:"message"`
}

// Complete returns the generated text for req.
func (c *Client) Complete(ctx context.Context, req core.CompletionRequest) (string, error) {
	text, err := c.responses(ctx, req)
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.notFound() {
		return c.chatCompletions(ctx, req)
	}
	return text, err
}

func (c *Client) responses(ctx context.Context, req core.CompletionRequest) (string, error) {
	var out responsesResponse
	err := c.post(ctx, "/responses", req.APIKey, responsesRequest{
		Model:       req.Model,
		Input:       req.Prompt,
		Temperature: req.Temperature,
	}, &out)
	if err != nil {
		return "", err
	}

	if s := strings.TrimSpace(out.OutputText); s != "" {
		return s, nil
	}
	for _, item := range out.Output {
		for _, content := range item.Content {
			if content.Type != "output_text" {
				continue
			}
			if s := strings.TrimSpace(content.Text); s != "" {
				return s, nil
			}
		}
	}
	return "", ErrNoText
}

func (c *Client) chatCompletions(ctx context.Context, req core.CompletionRequest) (string, error) {
	var out chatResponse
	err := c.post(ctx, "/chat/completions", req.APIKey, chatRequest{
		Model: req.Model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: req.Prompt},
		},
		Temperature: req.Temperature,
	}, &out)
	if err != nil {
		return "", err
	}
	if len(out.Choices) > 0 {
		if s := strings.TrimSpace(out.Choices[0].Message.Content); s != "" {
			return s, nil
		}
	}
	return "", ErrNoText
}

func (c *Client) post(ctx context.Context, path, apiKey string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+apiKey)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, responseLimit))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &APIError{Status: resp.StatusCode, Message: errorMessage(raw, resp.StatusCode)}
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

func errorMessage(raw []byte, status int) string {
	var body errorBody
	if err := json.Unmarshal(raw, &body); err == nil {
		if body.Error.Message != "" {
			return body.Error.Message
		}
		if body.Message != "" {
			return body.Message
		}
	}
	if s := strings.TrimSpace(string(raw)); s != "" {
		return s
	}
	return fmt.Sprintf("openai_error_%d", status)
}
