// Package assistant proxies the website chat widget to an OpenAI compatible
// LLM gateway and hands out signed voice agent sessions.
package assistant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	defaultHTTPTimeout = 20 * time.Second
	defaultVoiceBase   = "https://api.elevenlabs.io"

	maxMessages       = 30
	maxMessageRunes   = 2000
	defaultSystemText = "You are the virtual receptionist of a dental clinic. Answer questions about " +
		"services, opening hours and booking. Keep answers short and friendly. Never give a diagnosis; " +
		"suggest booking a consultation instead. Reply in the language the patient writes in."
)

var (
	ErrNotConfigured     = errors.New("assistant is not configured")
	ErrUpstreamRateLimit = errors.New("assistant provider rate limit reached")
	ErrUpstreamCredits   = errors.New("assistant provider credits exhausted")
	ErrInvalidMessages   = errors.New("invalid chat messages")
)

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatClient calls the chat completions endpoint of the gateway.
type ChatClient struct {
	baseURL    string
	apiKey     string
	model      string
	system     string
	httpClient *http.Client
}

func NewChatClient(baseURL, apiKey, model string) *ChatClient {
	return &ChatClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		model:      model,
		system:     defaultSystemText,
		httpClient: &http.Client{Timeout: defaultHTTPTimeout},
	}
}

// SetSystemPrompt overrides the clinic instructions prepended to every chat.
func (c *ChatClient) SetSystemPrompt(prompt string) {
	c.system = prompt
}

type chatRequest struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
}

type chatResponse struct {
	Choices []struct {
		Message Message `json:"message"`
	} `json:"choices"`
}

// ValidateMessages accepts user and assistant turns only.
func ValidateMessages(msgs []Message) error {
	if len(msgs) == 0 || len(msgs) > maxMessages {
		return fmt.Errorf("%w: expected 1 to %d messages", ErrInvalidMessages, maxMessages)
	}
	for i, m := range msgs {
		if m.Role != "user" && m.Role != "assistant" {
			return fmt.Errorf("%w: message %d has role %q", ErrInvalidMessages, i, m.Role)
		}
		if strings.TrimSpace(m.Content) == "" || len([]rune(m.Content)) > maxMessageRunes {
			return fmt.Errorf("%w: message %d is empty or too long", ErrInvalidMessages, i)
		}
	}
	return nil
}

// Complete returns the assistant's reply to the conversation.
func (c *ChatClient) Complete(ctx context.Context, msgs []Message) (string, error) {
	if c.apiKey == "" {
		return "", ErrNotConfigured
	}
	if err := ValidateMessages(msgs); err != nil {
		return "", err
	}

	all := make([]Message, 0, len(msgs)+1)
	all = append(all, Message{Role: "system", Content: c.system})
	all = append(all, msgs...)

	body, err := json.Marshal(chatRequest{Model: c.model, Messages: all})
	if err != nil {
		return "", fmt.Errorf("assistant: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("assistant: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("assistant: send: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("assistant: read response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return "", ErrUpstreamRateLimit
	case resp.StatusCode == http.StatusPaymentRequired:
		return "", ErrUpstreamCredits
	case resp.StatusCode != http.StatusOK:
		return "", fmt.Errorf("assistant: unexpected status %d: %s", resp.StatusCode, string(respBody))
	}

	var out chatResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return "", fmt.Errorf("assistant: unmarshal response: %w", err)
	}
	if len(out.Choices) == 0 {
		return "", errors.New("assistant: response has no choices")
	}
	return out.Choices[0].Message.Content, nil
}

// VoiceClient requests signed conversation URLs for the voice agent.
type VoiceClient struct {
	baseURL    string
	apiKey     string
	agentID    string
	httpClient *http.Client
}

func NewVoiceClient(apiKey, agentID string) *VoiceClient {
	return &VoiceClient{
		baseURL:    defaultVoiceBase,
		apiKey:     apiKey,
		agentID:    agentID,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// SetBaseURL overrides the API host (useful for testing).
func (c *VoiceClient) SetBaseURL(base string) {
	c.baseURL = strings.TrimRight(base, "/")
}

func (c *VoiceClient) SignedURL(ctx context.Context) (string, error) {
	if c.apiKey == "" || c.agentID == "" {
		return "", ErrNotConfigured
	}

	endpoint := c.baseURL + "/v1/convai/conversation/get_signed_url?agent_id=" + url.QueryEscape(c.agentID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", fmt.Errorf("voice: create request: %w", err)
	}
	req.Header.Set("xi-api-key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("voice: send: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("voice: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("voice: unexpected status %d: %s", resp.StatusCode, string(respBody))
	}

	var out struct {
		SignedURL string `json:"signed_url"`
	}
	if err := json.Unmarshal(respBody, &out); err != nil {
		return "", fmt.Errorf("voice: unmarshal response: %w", err)
	}
	if out.SignedURL == "" {
		return "", errors.New("voice: empty signed url")
	}
	return out.SignedURL, nil
}
