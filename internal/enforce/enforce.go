// Package enforce detects non-Latin script in LLM output and, on
// detection, rewrites the reply into English-only text via a synchronous
// chat-completions call.
package enforce

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"
	"unicode"

	"github.com/hubenschmidt/english-tutor-bridge/internal/metrics"
)

const (
	systemPrompt = "The learner's tutor reply below contains non-English script. Rewrite it " +
		"in English only, following this exact structure: start with \"In English you say " +
		"this: \" followed by the English meaning, then one short sentence reminding the " +
		"learner of the relevant grammar or vocabulary point, then ask the learner to repeat " +
		"the English sentence back to you."

	fallbackMessage = "In English you say this: I'm sorry, I had trouble with that — could you try saying it again in English?"

	rewriteTemperature = 0.3
	rewriteMaxTokens    = 200
	requestTimeout      = 20 * time.Second
	connectTimeout      = 5 * time.Second
)

// nonEnglishRanges are the Unicode script ranges this tutor treats as
// non-English: Arabic, Arabic Supplement, Arabic Extended-A, Arabic
// Presentation Forms A/B, and Devanagari.
var nonEnglishRanges = &unicode.RangeTable{
	R16: []unicode.Range16{
		{Lo: 0x0600, Hi: 0x06FF, Stride: 1},
		{Lo: 0x0750, Hi: 0x077F, Stride: 1},
		{Lo: 0x08A0, Hi: 0x08FF, Stride: 1},
		{Lo: 0x0900, Hi: 0x097F, Stride: 1},
		{Lo: 0xFB50, Hi: 0xFDFF, Stride: 1},
		{Lo: 0xFE70, Hi: 0xFEFF, Stride: 1},
	},
}

// ContainsNonEnglishScript reports whether s contains any rune in the
// Arabic/Devanagari ranges this tutor enforces against.
func ContainsNonEnglishScript(s string) bool {
	for _, r := range s {
		if unicode.Is(nonEnglishRanges, r) {
			return true
		}
	}
	return false
}

// Client issues the synchronous rewrite call. It holds a single pooled
// http.Client, lazily created on first use and shared across all sessions
// in the process — the only process-wide mutable state the bridge needs.
type Client struct {
	endpoint string
	apiKey   string
	model    string

	once       sync.Once
	httpClient *http.Client
}

// New creates an enforcement client pointed at a chat-completions-shaped
// endpoint (e.g. the LLM provider's /v1/chat/completions).
func New(endpoint, apiKey, model string) *Client {
	return &Client{endpoint: endpoint, apiKey: apiKey, model: model}
}

// client lazily builds the process-wide pooled http.Client used for
// enforcement calls, with the 20s total / 5s connect timeouts the spec
// requires.
func (c *Client) client() *http.Client {
	c.once.Do(func() {
		dialer := &net.Dialer{Timeout: connectTimeout}
		c.httpClient = &http.Client{
			Timeout: requestTimeout,
			Transport: &http.Transport{
				DialContext:           dialer.DialContext,
				MaxIdleConns:          8,
				MaxIdleConnsPerHost:   8,
				IdleConnTimeout:       90 * time.Second,
				ResponseHeaderTimeout: requestTimeout,
				ForceAttemptHTTP2:     true,
			},
		}
	})
	return c.httpClient
}

// Rewrite produces an English-only replacement for text. On any failure or
// an empty response, it returns the fixed fallback sentence instead of
// surfacing an error to the caller — enforcement failure never blocks the
// response lifecycle.
func (c *Client) Rewrite(ctx context.Context, text string) string {
	start := time.Now()
	defer func() {
		metrics.EnforcementRewriteDuration.Observe(time.Since(start).Seconds())
	}()

	rewritten, err := c.rewrite(ctx, text)
	if err != nil || rewritten == "" {
		metrics.EnforcementFallbacks.Inc()
		return fallbackMessage
	}
	return rewritten
}

type chatRequest struct {
	Model       string        `json:"model"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
	Messages    []chatMessage `json:"messages"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

func (c *Client) rewrite(ctx context.Context, text string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	body, err := json.Marshal(chatRequest{
		Model:       c.model,
		Temperature: rewriteTemperature,
		MaxTokens:   rewriteMaxTokens,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: text},
		},
	})
	if err != nil {
		return "", fmt.Errorf("marshal enforcement request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create enforcement request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client().Do(req)
	if err != nil {
		return "", fmt.Errorf("enforcement request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return "", fmt.Errorf("enforcement status %d", resp.StatusCode)
	}

	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("decode enforcement response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return "", nil
	}
	return parsed.Choices[0].Message.Content, nil
}
