package ollama

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/ParchmentAI/parchment/pkg/fn"
	"github.com/ParchmentAI/parchment/pkg/resilience"
)

// ChatClient generates answers via Ollama's chat API. Transient-failure
// policy lives here, not in the caller: blocking completions are retried
// with backoff, and a circuit breaker sheds load once Ollama is down.
type ChatClient struct {
	baseURL     string
	model       string
	temperature float64
	client      *http.Client
	breaker     *resilience.Breaker
	retry       fn.RetryOpts
}

// NewChatClient creates an Ollama chat client.
func NewChatClient(baseURL, model string, temperature float64) *ChatClient {
	return &ChatClient{
		baseURL:     baseURL,
		model:       model,
		temperature: temperature,
		client:      &http.Client{},
		breaker:     resilience.NewBreaker(resilience.DefaultBreakerOpts),
		retry:       fn.RetryOpts{MaxAttempts: 2, InitialWait: fn.DefaultRetry.InitialWait, MaxWait: fn.DefaultRetry.MaxWait, Jitter: true},
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
	Done bool `json:"done"`
}

func (c *ChatClient) request(ctx context.Context, system, prompt string, stream bool) (*http.Response, error) {
	body, _ := json.Marshal(chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: prompt},
		},
		Stream:  stream,
		Options: map[string]any{"temperature": c.temperature},
	})
	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ollama chat: %w", err)
	}
	if resp.StatusCode != 200 {
		resp.Body.Close()
		return nil, fmt.Errorf("ollama chat: status %d", resp.StatusCode)
	}
	return resp, nil
}

// Complete returns the full generated text for one prompt.
func (c *ChatClient) Complete(ctx context.Context, system, prompt string) (string, error) {
	result := fn.Retry(ctx, c.retry, func(ctx context.Context) fn.Result[string] {
		return resilience.CallResult(c.breaker, ctx, func(ctx context.Context) fn.Result[string] {
			return fn.FromPair(c.complete(ctx, system, prompt))
		})
	})
	return result.Unwrap()
}

func (c *ChatClient) complete(ctx context.Context, system, prompt string) (string, error) {
	resp, err := c.request(ctx, system, prompt, false)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var chunk chatChunk
	if err := json.NewDecoder(resp.Body).Decode(&chunk); err != nil {
		return "", fmt.Errorf("ollama chat decode: %w", err)
	}
	return chunk.Message.Content, nil
}

// Stream opens a streaming completion. Fragments are decoded lazily, one
// NDJSON line per Recv, so nothing is read from the wire until the caller
// pulls. Opening the stream goes through the circuit breaker; once open,
// the stream is not retried.
func (c *ChatClient) Stream(ctx context.Context, system, prompt string) (*ChatStream, error) {
	var stream *ChatStream
	err := c.breaker.Call(ctx, func(ctx context.Context) error {
		resp, err := c.request(ctx, system, prompt, true)
		if err != nil {
			return err
		}
		sc := bufio.NewScanner(resp.Body)
		sc.Buffer(make([]byte, 64*1024), 64*1024)
		stream = &ChatStream{body: resp.Body, scanner: sc}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return stream, nil
}

// ChatStream is a pull-based fragment stream over an Ollama NDJSON
// response. Recv returns io.EOF after the final fragment.
type ChatStream struct {
	body    io.ReadCloser
	scanner *bufio.Scanner
	done    bool
}

// Recv returns the next non-empty text fragment.
func (s *ChatStream) Recv() (string, error) {
	if s.done {
		return "", io.EOF
	}
	for s.scanner.Scan() {
		line := s.scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var chunk chatChunk
		if err := json.Unmarshal(line, &chunk); err != nil {
			continue
		}
		if chunk.Done {
			s.done = true
			s.body.Close()
			if chunk.Message.Content != "" {
				return chunk.Message.Content, nil
			}
			return "", io.EOF
		}
		if chunk.Message.Content != "" {
			return chunk.Message.Content, nil
		}
	}
	s.done = true
	s.body.Close()
	if err := s.scanner.Err(); err != nil {
		return "", fmt.Errorf("ollama stream: %w", err)
	}
	return "", io.EOF
}

// Close abandons the stream and releases the connection.
func (s *ChatStream) Close() error {
	s.done = true
	return s.body.Close()
}
