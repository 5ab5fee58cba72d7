package dedupe

import (
	"context"
	"fmt"
	"strings"

	"github.com/tendant/cutimage-pipeline/internal/llm"
	"github.com/tendant/cutimage-pipeline/pkg/pipeline"
)

const systemPrompt = "You are an SEO copywriter for online marketplace listings. " +
	"Reply only with the rewritten product title, at most %d characters."

const userPrompt = `Rewrite the following product title for a marketplace listing.

Original title: "%s"

Guidelines:
- Structure: [Product] + [Brand] + [Model] + [Key features]
- Use the keywords buyers search for
- Avoid unnecessary capitals, exclamation marks and words like "SALE" or "OFFER"
- Avoid confusing abbreviations

Mandatory rules:
1. The new title must be DIFFERENT from the original, not just one word changed
2. Keep the product's essence, brand and features
3. Use synonyms, reorder or rephrase for better search ranking
4. At most %d characters
5. Do not add information that is not in the original
6. Write in the same language as the original title
7. Reply ONLY with the new title, without quotes or explanations`

// LLMGenerator asks a chat completion model for title candidates
type LLMGenerator struct {
	client *llm.Client
}

// NewLLMGenerator wraps an llm client
func NewLLMGenerator(client *llm.Client) *LLMGenerator {
	return &LLMGenerator{client: client}
}

// Configured reports whether the underlying client has a credential
func (g *LLMGenerator) Configured() bool {
	return g != nil && g.client.Configured()
}

// Generate requests one candidate; later attempts run hotter
func (g *LLMGenerator) Generate(ctx context.Context, req Request) (string, error) {
	return g.client.Complete(ctx, BuildMessages(req), Temperature(req.Attempt))
}

// Temperature for a zero-based attempt
func Temperature(attempt int) float64 {
	return 0.8 + 0.1*float64(attempt)
}

// BuildMessages renders the chat prompt for req
func BuildMessages(req Request) []llm.Message {
	var b strings.Builder
	fmt.Fprintf(&b, userPrompt, req.OriginalTitle, pipeline.MaxTitleLength)

	if len(req.UsedTitles) > 0 {
		b.WriteString("\n\nTitles ALREADY USED for this product (do not repeat them or anything close to them):")
		for _, t := range req.UsedTitles {
			fmt.Fprintf(&b, "\n- %q", t)
		}
	}
	if req.Attempt > 0 {
		fmt.Fprintf(&b, "\n\nNote: attempt %d, be more creative and different.", req.Attempt+1)
	}

	return []llm.Message{
		{Role: "system", Content: fmt.Sprintf(systemPrompt, pipeline.MaxTitleLength)},
		{Role: "user", Content: b.String()},
	}
}
