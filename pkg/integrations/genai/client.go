package genai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/matzehuels/kmpindex/pkg/cache"
	kerrors "github.com/matzehuels/kmpindex/pkg/errors"
	"github.com/matzehuels/kmpindex/pkg/integrations"
	"github.com/matzehuels/kmpindex/pkg/model"
)

// DefaultTimeout bounds a single completion request.
const DefaultTimeout = 60 * time.Second

// maxReadme caps how much README text is sent as context.
const maxReadme = 12000

// ErrEmptyCompletion is returned when the model answers with no text.
var ErrEmptyCompletion = errors.New("empty completion")

// Config configures the generator.
type Config struct {
	BaseURL     string
	APIKey      string
	Model       string
	MaxTokens   int
	Temperature float32
	MaxTags     int
}

// Generator generates descriptions and tags through a chat-completions API.
type Generator struct {
	*integrations.Client
	cfg Config
}

// NewGenerator creates a Generator. Completions are never cached.
func NewGenerator(cfg Config) (*Generator, error) {
	if cfg.BaseURL == "" || cfg.Model == "" {
		return nil, kerrors.New(kerrors.ErrCodeConfig, "genai: base url and model are required")
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 256
	}
	if cfg.MaxTags <= 0 {
		cfg.MaxTags = 8
	}
	headers := map[string]string{"Content-Type": "application/json"}
	if cfg.APIKey != "" {
		headers["Authorization"] = "Bearer " + cfg.APIKey
	}
	c := integrations.NewClient(cache.NewNullCache(), "genai:", 0, headers)
	c.SetTimeout(DefaultTimeout)
	cfg.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	return &Generator{Client: c, cfg: cfg}, nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float32       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message      chatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
}

const (
	descriptionPrompt = "Write a single-sentence description, at most 200 characters, of the Kotlin Multiplatform library below. Answer with the sentence only."
	tagsPrompt        = "List up to %d short lowercase topic tags for the Kotlin Multiplatform library below, comma separated. Answer with the list only."
)

// GenerateDescription returns a one-sentence description of the project.
func (g *Generator) GenerateDescription(ctx context.Context, in model.GenerationContext) (string, error) {
	text, err := g.complete(ctx, descriptionPrompt, in)
	if err != nil {
		return "", err
	}
	return strings.Trim(text, "\"' \n"), nil
}

// GenerateTags returns free-form tags for the project. Callers canonicalize them.
func (g *Generator) GenerateTags(ctx context.Context, in model.GenerationContext) ([]string, error) {
	text, err := g.complete(ctx, fmt.Sprintf(tagsPrompt, g.cfg.MaxTags), in)
	if err != nil {
		return nil, err
	}
	var tags []string
	for _, t := range strings.FieldsFunc(text, func(r rune) bool { return r == ',' || r == '\n' }) {
		if t = strings.Trim(t, "#-* \t"); t != "" {
			tags = append(tags, t)
		}
	}
	if len(tags) > g.cfg.MaxTags {
		tags = tags[:g.cfg.MaxTags]
	}
	return tags, nil
}

func (g *Generator) complete(ctx context.Context, instruction string, in model.GenerationContext) (string, error) {
	body, err := json.Marshal(chatRequest{
		Model: g.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: instruction},
			{Role: "user", Content: userMessage(in)},
		},
		MaxTokens:   g.cfg.MaxTokens,
		Temperature: g.cfg.Temperature,
	})
	if err != nil {
		return "", err
	}

	resp, err := g.Fetch(ctx, http.MethodPost, g.cfg.BaseURL+"/chat/completions", nil, body)
	if err != nil {
		return "", fmt.Errorf("genai completion: %w", err)
	}
	var out chatResponse
	if err := json.Unmarshal(resp.Body, &out); err != nil {
		return "", kerrors.Wrap(kerrors.ErrCodeInvalidDescriptor, err, "decode completion")
	}
	if len(out.Choices) == 0 || strings.TrimSpace(out.Choices[0].Message.Content) == "" {
		return "", ErrEmptyCompletion
	}
	return strings.TrimSpace(out.Choices[0].Message.Content), nil
}

func userMessage(in model.GenerationContext) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Name: %s\n", in.ProjectName)
	if in.Repository != "" {
		fmt.Fprintf(&b, "Repository: %s\n", in.Repository)
	}
	if in.Description != "" {
		fmt.Fprintf(&b, "Current description: %s\n", in.Description)
	}
	if in.Readme != "" {
		readme := in.Readme
		if len(readme) > maxReadme {
			readme = readme[:maxReadme]
		}
		fmt.Fprintf(&b, "\nREADME:\n%s\n", readme)
	}
	return b.String()
}
