// Package textgen drafts outreach messages through an OpenAI-compatible
// chat completions endpoint.
package textgen

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"text/template"
	"time"
)

const (
	DefaultSystem = `You are a social media outreach expert. Generate personalized, friendly DM messages that are 2-3 sentences long. Be genuine and avoid being salesy. Focus on their content, interests, or achievements mentioned in their bio.`

	DefaultPrompt = `Generate a personalized Instagram DM for:
Username: {{.Handle}}
Full Name: {{.FullName}}
Bio: {{if .Bio}}{{.Bio}}{{else}}No bio available{{end}}
Followers: {{.Followers}}

The message should be:
- Friendly and personalized based on their profile
- 2-3 sentences maximum
- Under {{.MaxChars}} characters
- Encourage engagement without being pushy
- Reference something specific from their bio if possible`
)

var ErrNoKey = errors.New("text generation key not configured")

type Config struct {
	BaseURL  string
	Model    string
	MaxChars int
	System   string // text/template
	Prompt   string // text/template
	Timeout  time.Duration
}

// Subject is what a draft is written about.
type Subject struct {
	Handle    string
	FullName  string
	Bio       string
	Followers int64
	MaxChars  int
}

type Client struct {
	cfg    Config
	key    func() string
	hc     *http.Client
	system *template.Template
	prompt *template.Template
}

func New(cfg Config, key func() string) (*Client, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Model == "" {
		cfg.Model = "gpt-4o"
	}
	if cfg.MaxChars <= 0 {
		cfg.MaxChars = 280
	}
	if strings.TrimSpace(cfg.System) == "" {
		cfg.System = DefaultSystem
	}
	if strings.TrimSpace(cfg.Prompt) == "" {
		cfg.Prompt = DefaultPrompt
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}

	sys, err := template.New("system").Parse(cfg.System)
	if err != nil {
		return nil, fmt.Errorf("parse system template: %w", err)
	}
	pr, err := template.New("prompt").Parse(cfg.Prompt)
	if err != nil {
		return nil, fmt.Errorf("parse prompt template: %w", err)
	}

	return &Client{
		cfg:    cfg,
		key:    key,
		hc:     &http.Client{Timeout: cfg.Timeout},
		system: sys,
		prompt: pr,
	}, nil
}

// SetHTTPClient swaps the transport. Tests only.
func (c *Client) SetHTTPClient(hc *http.Client) { c.hc = hc }

// Draft renders the templates for s and returns the generated text verbatim.
func (c *Client) Draft(ctx context.Context, s Subject) (string, error) {
	if s.MaxChars <= 0 {
		s.MaxChars = c.cfg.MaxChars
	}
	var sys, pr bytes.Buffer
	if err := c.system.Execute(&sys, s); err != nil {
		return "", fmt.Errorf("render system: %w", err)
	}
	if err := c.prompt.Execute(&pr, s); err != nil {
		return "", fmt.Errorf("render prompt: %w", err)
	}
	return c.Complete(ctx, sys.String(), pr.String())
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (c *Client) Complete(ctx context.Context, system, prompt string) (string, error) {
	key := ""
	if c.key != nil {
		key = c.key()
	}
	if key == "" {
		return "", ErrNoKey
	}

	body, err := json.Marshal(chatRequest{
		Model: c.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: prompt},
		},
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+key)
	req.Header.Set("Content-Type", "application/json")

	res, err := c.hc.Do(req)
	if err != nil {
		return "", fmt.Errorf("textgen request: %w", err)
	}
	defer res.Body.Close()

	b, err := io.ReadAll(io.LimitReader(res.Body, 4<<20))
	if err != nil {
		return "", fmt.Errorf("textgen read body: %w", err)
	}

	var out chatResponse
	decErr := json.Unmarshal(b, &out)
	if res.StatusCode < 200 || res.StatusCode > 299 {
		if decErr == nil && out.Error != nil && out.Error.Message != "" {
			return "", fmt.Errorf("textgen status %d: %s", res.StatusCode, out.Error.Message)
		}
		return "", fmt.Errorf("textgen status %d", res.StatusCode)
	}
	if decErr != nil {
		return "", fmt.Errorf("textgen decode: %w", decErr)
	}
	if len(out.Choices) == 0 {
		return "", errors.New("textgen returned no choices")
	}
	return out.Choices[0].Message.Content, nil
}
