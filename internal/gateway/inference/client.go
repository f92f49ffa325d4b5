package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"quorum/internal/logger"
)

// ChatUsage is the billed token usage reported by the provider.
type ChatUsage struct {
	PromptTokens     int
	CompletionTokens int
}

// ChatClient speaks the OpenAI-compatible /v1/chat/completions dialect,
// which also covers DeepSeek, Qwen and the OpenRouter-style proxies.
type ChatClient struct {
	BaseURL      string
	APIKey       string
	Model        string
	Timeout      time.Duration
	Temperature  float64
	MaxTokens    int
	MaxRetries   int
	ExtraHeaders map[string]string
}

// ChatCompletion issues one completion and returns content plus usage.
// 429 and 5xx responses are retried with Retry-After or exponential backoff.
func (c *ChatClient) ChatCompletion(ctx context.Context, systemPrompt, userPrompt string) (string, ChatUsage, error) {
	timeout := c.Timeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}
	maxRetries := c.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 2
	}
	url := c.endpoint()

	messages := []map[string]string{}
	if systemPrompt != "" {
		messages = append(messages, map[string]string{"role": "system", "content": systemPrompt})
	}
	messages = append(messages, map[string]string{"role": "user", "content": userPrompt})

	payload := map[string]any{"model": c.Model, "messages": messages}
	if c.Temperature > 0 {
		payload["temperature"] = c.Temperature
	}
	if c.MaxTokens > 0 {
		payload["max_tokens"] = c.MaxTokens
	}
	body, _ := json.Marshal(payload)

	logger.LogLLMRequest(c.Model, "", systemPrompt, userPrompt, string(body))

	httpc := &http.Client{Timeout: timeout}
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt == 0 {
			logger.Debugf("[inference] POST %s model=%s headers=%v", url, c.Model, c.maskedHeaders())
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return "", ChatUsage{}, err
		}
		req.Header.Set("Content-Type", "application/json")
		if c.APIKey != "" {
			req.Header.Set("Authorization", "Bearer "+c.APIKey)
		}
		for k, v := range c.ExtraHeaders {
			req.Header.Set(k, v)
		}

		resp, err := httpc.Do(req)
		if err != nil {
			return "", ChatUsage{}, err
		}
		if resp.StatusCode/100 == 2 {
			var r struct {
				Choices []struct {
					Message struct {
						Content string `json:"content"`
					} `json:"message"`
				} `json:"choices"`
				Usage struct {
					PromptTokens     int `json:"prompt_tokens"`
					CompletionTokens int `json:"completion_tokens"`
				} `json:"usage"`
			}
			derr := json.NewDecoder(resp.Body).Decode(&r)
			resp.Body.Close()
			if derr != nil {
				return "", ChatUsage{}, derr
			}
			if len(r.Choices) == 0 {
				return "", ChatUsage{}, fmt.Errorf("empty choices")
			}
			content := r.Choices[0].Message.Content
			logger.LogLLMResponse(c.Model, "", content)
			return content, ChatUsage{
				PromptTokens:     r.Usage.PromptTokens,
				CompletionTokens: r.Usage.CompletionTokens,
			}, nil
		}

		var eresp struct {
			Error struct {
				Message string `json:"message"`
			} `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&eresp)
		resp.Body.Close()
		msg := strings.TrimSpace(eresp.Error.Message)
		if msg == "" {
			msg = resp.Status
		}
		lastErr = fmt.Errorf("status=%d: %s", resp.StatusCode, msg)
		if !retryableStatus(resp.StatusCode) || attempt >= maxRetries {
			break
		}
		wait := retryAfter(resp.Header.Get("Retry-After"))
		if wait == 0 {
			wait = 800 * time.Millisecond << attempt
			if wait > 8*time.Second {
				wait = 8 * time.Second
			}
		}
		select {
		case <-ctx.Done():
			return "", ChatUsage{}, ctx.Err()
		case <-time.After(wait):
		}
	}
	return "", ChatUsage{}, lastErr
}

func (c *ChatClient) endpoint() string {
	url := c.BaseURL
	if url == "" {
		url = "https://api.openai.com/v1"
	}
	url = strings.TrimRight(url, "/")
	// Tolerate configs that already carry the full completions path.
	url = strings.TrimSuffix(url, "/chat/completions")
	return url + "/chat/completions"
}

func (c *ChatClient) maskedHeaders() map[string]string {
	out := map[string]string{"Content-Type": "application/json"}
	if c.APIKey != "" {
		out["Authorization"] = "Bearer ****" + tail(c.APIKey)
	}
	for k, v := range c.ExtraHeaders {
		lk := strings.ToLower(k)
		if strings.Contains(lk, "key") || strings.Contains(lk, "token") || strings.Contains(lk, "auth") {
			v = "****" + tail(v)
		}
		out[k] = v
	}
	return out
}

func tail(s string) string {
	if len(s) > 4 {
		return s[len(s)-4:]
	}
	return s
}

func retryableStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests, http.StatusInternalServerError,
		http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}

func retryAfter(header string) time.Duration {
	if header == "" {
		return 0
	}
	if secs, err := strconv.Atoi(header); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return 0
}
