package retriever

import (
	"context"

	"github.com/tmc/langchaingo/llms"
)

// LangchainGenerator adapts any langchaingo llms.Model to the
// retriever's Generator collaborator interface, the optional
// `generate(prompt) -> text` answer-synthesis step.
type LangchainGenerator struct {
	model llms.Model
}

// NewLangchainGenerator wraps model.
func NewLangchainGenerator(model llms.Model) *LangchainGenerator {
	return &LangchainGenerator{model: model}
}

// Generate implements Generator.
func (g *LangchainGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, g.model, prompt)
}
