// Package commentary produces a short headline comment for a paper using an
// OpenAI-compatible chat completion API.
package commentary

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/azure/arxiv-poster-bot/internal/models"
	"github.com/go-resty/resty/v2"
)

// DefaultSystemPrompt is used when no prompt is configured
const DefaultSystemPrompt = "You write one short, enthusiastic sentence introducing a trending AI/ML research paper to a research community chat channel. No hashtags, no links."

const maxAbstractChars = 500

// ErrNotConfigured is returned when the client lacks an endpoint, key or model
var ErrNotConfigured = errors.New("commentary client misconfigured")

// Generator produces commentary text for an item
type Generator interface {
	Generate(ctx context.Context, item models.Item) (string, error)
}

// ChatClient implements Generator against a /chat/completions endpoint
type ChatClient struct {
	client       *resty.Client
	endpoint     string
	model        string
	apiKey       string
	systemPrompt string
}

// Ensure ChatClient implements Generator
var _ Generator = (*ChatClient)(nil)

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// NewChatClient builds a client. endpoint is the full completions URL.
func NewChatClient(endpoint, apiKey, model, systemPrompt string) *ChatClient {
	return &ChatClient{
		client:       resty.New().SetTimeout(20 * time.Second),
		endpoint:     endpoint,
		model:        model,
		apiKey:       apiKey,
		systemPrompt: systemPrompt,
	}
}

// Generate asks the model for a one-line comment about the item
func (c *ChatClient) Generate(ctx context.Context, item models.Item) (string, error) {
	if c.apiKey == "" || c.endpoint == "" || c.model == "" {
		return "", ErrNotConfigured
	}

	resp, err := c.client.R().
		SetContext(ctx).
		SetAuthToken(c.apiKey).
		SetHeader("Content-Type", "application/json").
		SetBody(map[string]any{
			"model": c.model,
			"messages": []chatMessage{
				{Role: "system", Content: safePrompt(c.systemPrompt)},
				{Role: "user", Content: userPrompt(item)},
			},
		}).
		Post(c.endpoint)
	if err != nil {
		return "", fmt.Errorf("chat completion request: %w", err)
	}
	if resp.IsError() {
		body := string(resp.Body())
		if len(body) > 1024 {
			body = body[:1024]
		}
		return "", fmt.Errorf("chat completion error %s: %s", resp.Status(), strings.TrimSpace(body))
	}

	var parsed chatResponse
	if err := json.Unmarshal(resp.Body(), &parsed); err != nil {
		return "", fmt.Errorf("parse chat completion: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return "", errors.New("chat completion returned no choices")
	}

	comment := strings.Trim(strings.TrimSpace(parsed.Choices[0].Message.Content), `"`)
	if comment == "" {
		return "", errors.New("chat completion returned empty content")
	}
	return comment, nil
}

func userPrompt(item models.Item) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Title: %s\n", item.Title)
	fmt.Fprintf(&b, "Authors: %s\n", AuthorLine(item.Authors, "authors"))
	if cats := MainCategories(item.Categories); len(cats) > 0 {
		fmt.Fprintf(&b, "Categories: %s\n", strings.Join(cats, ", "))
	}
	if item.Attention != nil && item.Attention.Score > 0 {
		fmt.Fprintf(&b, "Altmetric score: %.1f\n", item.Attention.Score)
	}

	abstract := item.Abstract
	if len(abstract) > maxAbstractChars {
		abstract = abstract[:maxAbstractChars] + "..."
	}
	if abstract != "" {
		fmt.Fprintf(&b, "Abstract: %s\n", abstract)
	}
	return b.String()
}

// AuthorLine joins the first three authors, noting how many there are in total
func AuthorLine(authors []string, noun string) string {
	if len(authors) <= 3 {
		return strings.Join(authors, ", ")
	}
	return fmt.Sprintf("%s et al. (%d %s)", strings.Join(authors[:3], ", "), len(authors), noun)
}

// MainCategories returns up to three cs./stat. categories
func MainCategories(categories []string) []string {
	var out []string
	for _, c := range categories {
		if strings.HasPrefix(c, "cs.") || strings.HasPrefix(c, "stat.") {
			out = append(out, c)
			if len(out) == 3 {
				break
			}
		}
	}
	return out
}

func safePrompt(prompt string) string {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return DefaultSystemPrompt
	}
	return prompt
}
