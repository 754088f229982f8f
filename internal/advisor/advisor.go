// Package advisor asks a language model to propose categorization
// rules for transactions the static engine left in the fallback
// category. Suggestions are advisory output for a human; nothing is
// applied automatically.
package advisor

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"google.golang.org/genai"

	"github.com/moneta-app/moneta/internal/category"
	"github.com/moneta-app/moneta/internal/store"
)

// DefaultModelName is the model used when none is configured.
const DefaultModelName = "gemini-2.0-flash"

// maxSamples caps how many uncategorized descriptions go into one
// prompt.
const maxSamples = 200

// Suggestion is one proposed keyword rule.
type Suggestion struct {
	Keyword  string `json:"keyword"`
	Category string `json:"category"`
}

// Generator produces model output for a prompt. The genai-backed
// implementation is the production one; tests substitute their own.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// GenAIGenerator calls the Gemini API.
type GenAIGenerator struct {
	Model string
}

// Generate sends the prompt and returns the raw model text.
func (g *GenAIGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		HTTPOptions: genai.HTTPOptions{APIVersion: "v1"},
	})
	if err != nil {
		return "", fmt.Errorf("Generate: create genai client: %w", err)
	}

	model := g.Model
	if model == "" {
		model = DefaultModelName
	}

	contents := []*genai.Content{
		{
			Role:  "user",
			Parts: []*genai.Part{{Text: prompt}},
		},
	}

	resp, err := client.Models.GenerateContent(ctx, model, contents, nil)
	if err != nil {
		return "", fmt.Errorf("Generate: generate content: %w", err)
	}
	text := resp.Text()
	if text == "" {
		return "", fmt.Errorf("Generate: empty response from model")
	}
	return text, nil
}

// Service builds rule suggestions from the owner's uncategorized
// transactions.
type Service struct {
	store     *store.Store
	generator Generator
	log       zerolog.Logger
}

// New creates the advisor service.
func New(st *store.Store, gen Generator, log zerolog.Logger) *Service {
	return &Service{store: st, generator: gen, log: log}
}

// SuggestRules collects descriptions stuck in the fallback category,
// asks the model for keyword rules and returns the validated set.
// Suggestions naming unknown categories are dropped.
func (s *Service) SuggestRules(ctx context.Context, ownerID string) ([]Suggestion, error) {
	transactions, err := s.store.TransactionsByOwner(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("SuggestRules: %w", err)
	}

	var descriptions []string
	seen := make(map[string]bool)
	for _, t := range transactions {
		if t.Category != category.Other || t.Description == "" || seen[t.Description] {
			continue
		}
		seen[t.Description] = true
		descriptions = append(descriptions, t.Description)
		if len(descriptions) >= maxSamples {
			break
		}
	}
	if len(descriptions) == 0 {
		return nil, nil
	}

	raw, err := s.generator.Generate(ctx, buildPrompt(descriptions))
	if err != nil {
		return nil, fmt.Errorf("SuggestRules: %w", err)
	}

	var suggestions []Suggestion
	if err := json.Unmarshal([]byte(cleanModelJSON(raw)), &suggestions); err != nil {
		return nil, fmt.Errorf("SuggestRules: unmarshal JSON: %w\nraw response: %s", err, raw)
	}

	valid := suggestions[:0]
	for _, sug := range suggestions {
		sug.Keyword = strings.ToLower(strings.TrimSpace(sug.Keyword))
		if sug.Keyword == "" || !category.Known(sug.Category) || sug.Category == category.Other {
			continue
		}
		valid = append(valid, sug)
	}

	s.log.Info().
		Int("descriptions", len(descriptions)).
		Int("suggestions", len(valid)).
		Msg("Rule suggestions generated")
	return valid, nil
}

func buildPrompt(descriptions []string) string {
	var b strings.Builder
	b.WriteString("You are a transaction categorization assistant for a personal finance tracker.\n\n")
	b.WriteString("Task:\n")
	b.WriteString("- Below is a list of transaction descriptions that could not be categorized.\n")
	b.WriteString("- Propose keyword rules mapping a lowercase substring to a category.\n")
	b.WriteString("- Output STRICT JSON only (no comments, no trailing commas, no extra text).\n")
	b.WriteString("- Output a JSON array of objects with fields \"keyword\" and \"category\".\n\n")
	b.WriteString("Allowed categories: " + strings.Join(category.All(), ", ") + "\n\n")
	b.WriteString("Rules:\n")
	b.WriteString("- Keywords must be substrings of the given descriptions.\n")
	b.WriteString("- Prefer merchant names over generic words.\n")
	b.WriteString("- Skip descriptions you cannot classify confidently.\n")
	b.WriteString("Return ONLY valid raw JSON.\n")
	b.WriteString("Do NOT wrap the response in code fences.\n")
	b.WriteString("Output must begin with \"[\" and end with \"]\".\n\n")
	b.WriteString("Descriptions:\n")
	for _, d := range descriptions {
		b.WriteString("- " + d + "\n")
	}
	return b.String()
}

// cleanModelJSON strips Markdown fences and surrounding junk when the
// model ignores the formatting instructions.
func cleanModelJSON(raw string) string {
	s := strings.TrimSpace(raw)

	if strings.HasPrefix(s, "```") {
		if idx := strings.Index(s, "\n"); idx != -1 {
			s = s[idx+1:]
		} else {
			return s
		}
		s = strings.TrimSpace(s)
	}
	if idx := strings.LastIndex(s, "```"); idx != -1 {
		s = s[:idx]
	}
	s = strings.TrimSpace(s)

	if start := strings.Index(s, "["); start != -1 {
		if end := strings.LastIndex(s, "]"); end != -1 && end > start {
			s = strings.TrimSpace(s[start : end+1])
		}
	}
	return s
}
