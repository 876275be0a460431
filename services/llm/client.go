// Package llmsvc talks to an OpenAI compatible chat completions endpoint.
package llmsvc

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/coursekit/core"
	"github.com/trezcool/coursekit/core/chat"
)

const chatCompletionsPath = "/v1/chat/completions"

var ErrNoChoices = errors.New("chat completion returned no choices")

type (
	chatRequest struct {
		Model    string         `json:"model"`
		Messages []chat.Message `json:"messages"`
	}

	chatResponse struct {
		Choices []struct {
			Message chat.Message `json:"message"`
		} `json:"choices"`
		Error *struct {
			Message string `json:"message"`
		} `json:"error,omitempty"`
	}
)

type Client struct {
	baseURL    string
	apiKey     string
	model      string
	timeout    time.Duration
	httpClient *http.Client
}

var _ chat.Completer = (*Client)(nil) // interface compliance check

func NewClient(conf *core.Config) *Client {
	tr := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2:   true,
		MaxIdleConns:        20,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	}
	return NewClientWithHTTPClient(conf, &http.Client{Transport: tr})
}

// NewClientWithHTTPClient lets tests swap the transport.
func NewClientWithHTTPClient(conf *core.Config, httpClient *http.Client) *Client {
	timeout := conf.LLM.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(conf.LLM.BaseURL, "/"),
		apiKey:     conf.LLM.APIKey,
		model:      conf.LLM.Model,
		timeout:    timeout,
		httpClient: httpClient,
	}
}

// Complete sends msgs and returns the first choice. Every call is bounded by the configured timeout.
func (c *Client) Complete(ctx context.Context, msgs []chat.Message) (chat.Message, error) {
	body, err := json.Marshal(chatRequest{Model: c.model, Messages: msgs})
	if err != nil {
		return chat.Message{}, errors.Wrap(err, "encoding chat request")
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+chatCompletionsPath, bytes.NewReader(body))
	if err != nil {
		return chat.Message{}, errors.Wrap(err, "building chat request")
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return chat.Message{}, errors.Wrap(err, "calling chat completions")
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return chat.Message{}, errors.Wrap(err, "reading chat response")
	}

	var out chatResponse
	if err = json.Unmarshal(raw, &out); err != nil && resp.StatusCode < 400 {
		return chat.Message{}, errors.Wrap(err, "decoding chat response")
	}
	if resp.StatusCode >= 400 {
		msg := strings.TrimSpace(string(raw))
		if out.Error != nil && out.Error.Message != "" {
			msg = out.Error.Message
		}
		return chat.Message{}, errors.Errorf("chat completions: status %d: %s", resp.StatusCode, msg)
	}
	if len(out.Choices) == 0 {
		return chat.Message{}, ErrNoChoices
	}

	answer := out.Choices[0].Message
	answer.Role = chat.RoleAssistant
	answer.Content = strings.TrimSpace(answer.Content)
	return answer, nil
}
