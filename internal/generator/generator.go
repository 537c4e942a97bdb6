// Package generator drafts LinkedIn post text with hosted language models.
package generator

import (
	"context"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
)

var ErrNoContent = errors.New("no generator produced content")

type Params struct {
	Topic    string
	Tone     string
	Audience string
	URL      string
}

type Generator interface {
	Generate(ctx context.Context, p Params) (string, error)
}

// Provider is one model backend tried by a Chain.
type Provider interface {
	Name() string
	Generate(ctx context.Context, prompt string) (string, error)
}

// Chain asks each provider in order and returns the first usable answer.
type Chain struct {
	providers []Provider
	timeout   time.Duration
	policy    *bluemonday.Policy
	logger    *slog.Logger
}

func NewChain(timeout time.Duration, logger *slog.Logger, providers ...Provider) *Chain {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Chain{
		providers: providers,
		timeout:   timeout,
		policy:    bluemonday.StrictPolicy(),
		logger:    logger,
	}
}

// Len returns the number of configured providers.
func (c *Chain) Len() int {
	return len(c.providers)
}

func (c *Chain) Generate(ctx context.Context, p Params) (string, error) {
	if strings.TrimSpace(p.Topic) == "" {
		return "", fmt.Errorf("%w: topic is required", ErrNoContent)
	}
	prompt := BuildPrompt(p)

	for _, provider := range c.providers {
		text, err := c.try(ctx, provider, prompt)
		if err != nil {
			c.logger.Warn("generation failed",
				slog.String("provider", provider.Name()),
				slog.String("error", err.Error()))
			if ctx.Err() != nil {
				break
			}
			continue
		}
		if text = c.clean(text); text != "" {
			return text, nil
		}
		c.logger.Warn("generator returned empty content", slog.String("provider", provider.Name()))
	}
	return "", ErrNoContent
}

func (c *Chain) try(ctx context.Context, provider Provider, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	return provider.Generate(ctx, prompt)
}

// clean strips markup and the chatty preamble models like to add.
func (c *Chain) clean(text string) string {
	text = html.UnescapeString(c.policy.Sanitize(text))

	if parts := strings.Split(text, "---"); len(parts) > 1 {
		text = parts[len(parts)-1]
	}

	lines := strings.Split(strings.TrimSpace(text), "\n")
	start := 0
	for start < len(lines) && isPreamble(lines[start]) {
		start++
	}

	var out []string
	for _, line := range lines[start:] {
		line = strings.TrimRight(line, " \t\r")
		if line == "" && (len(out) == 0 || out[len(out)-1] == "") {
			continue
		}
		out = append(out, line)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}

func isPreamble(line string) bool {
	l := strings.ToLower(strings.TrimSpace(line))
	if l == "" {
		return true
	}
	switch {
	case strings.HasPrefix(l, "here") && (strings.Contains(l, "post") || strings.Contains(l, "linkedin")):
		return true
	case strings.HasPrefix(l, "below") && strings.Contains(l, "post"):
		return true
	case strings.Contains(l, "polished") && strings.Contains(l, "post"):
		return true
	}
	return false
}

var toneDescriptions = map[string]string{
	"professional":  "a professional tone suitable for business networking",
	"casual":        "a friendly, conversational tone",
	"inspirational": "an uplifting and motivational tone",
	"educational":   "an informative and educational tone",
}

// BuildPrompt renders the instruction sent to every provider. Unknown tones
// fall back to professional.
func BuildPrompt(p Params) string {
	tone, ok := toneDescriptions[strings.ToLower(strings.TrimSpace(p.Tone))]
	if !ok {
		tone = toneDescriptions["professional"]
	}

	var b strings.Builder
	b.WriteString("Write a LinkedIn post")
	if a := strings.TrimSpace(p.Audience); a != "" {
		fmt.Fprintf(&b, " for %s", a)
	}
	fmt.Fprintf(&b, " in %s about %q.\n", tone, strings.TrimSpace(p.Topic))
	if u := strings.TrimSpace(p.URL); u != "" {
		fmt.Fprintf(&b, "Consider the content or insights from this reference URL: %s\n", u)
	}
	b.WriteString(`
Respond only with the post content. Do not include introductory text or explanations.

Structure:
1. An engaging opening line with an emoji
2. Two or three short paragraphs separated by blank lines
3. A question that invites comments
4. Three to five relevant hashtags at the end
`)
	return b.String()
}
