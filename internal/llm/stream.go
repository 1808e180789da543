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
)

// StreamChat sends a streaming chat completion request and calls onDelta for
// every content delta in arrival order. It returns the accumulated answer
// text once the provider signals completion.
//
// Cancellation of ctx aborts the in-flight HTTP request; onDelta returning an
// error also stops the stream. Streams are never retried: after partial
// output a retry would duplicate the answer. All failures wrap
// ErrModelStream.
func (c *Client) StreamChat(ctx context.Context, opts ChatOptions, messages []Message, onDelta func(delta string) error) (string, error) {
	body, err := json.Marshal(map[string]any{
		"model":       opts.Model,
		"messages":    messages,
		"temperature": opts.Temperature,
		"stream":      true,
	})
	if err != nil {
		return "", fmt.Errorf("%w: marshaling request: %v", ErrModelStream, err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, streamingTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("%w: creating request: %v", ErrModelStream, err)
	}
	c.setHeaders(req)

	// The client-wide timeout would cut long streams short; the request
	// context above carries the streaming deadline instead.
	httpClient := &http.Client{Transport: c.httpClient.Transport}
	resp, err := httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("%w: executing request: %v", ErrModelStream, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("%w: status %d: %s", ErrModelStream, resp.StatusCode, respBody)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 2*1024*1024)

	var full strings.Builder
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "[DONE]" {
			return full.String(), nil
		}

		var chunk struct {
			Choices []struct {
				Delta struct {
					Content string `json:"content"`
				} `json:"delta"`
			} `json:"choices"`
		}
		if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
			// Providers interleave comments and keep-alives; skip anything
			// that is not a delta event.
			continue
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		delta := chunk.Choices[0].Delta.Content
		if delta == "" {
			continue
		}

		full.WriteString(delta)
		if err := onDelta(delta); err != nil {
			return "", err
		}
	}
	if err := scanner.Err(); err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("%w: reading stream: %v", ErrModelStream, err)
	}

	return full.String(), nil
}
