package extractor

import (
	"context"
	"regexp"
	"strings"
)

var capitalizedWord = regexp.MustCompile(`\b[A-Z][a-zA-Z]{2,}(?:\s+[A-Z][a-zA-Z]{2,})?\b`)

var stopWords = map[string]bool{
	"The": true, "This": true, "That": true, "These": true, "Those": true,
	"I": true, "We": true, "It": true, "A": true, "An": true,
}

// HeuristicExtractor pulls capitalized-word entity candidates out of text
// without calling an external model, for tests and for deployments that
// haven't configured an extraction provider. It never returns relations —
// inferring relations without a model would be pure invention.
type HeuristicExtractor struct{}

func NewHeuristicExtractor() *HeuristicExtractor { return &HeuristicExtractor{} }

func (h *HeuristicExtractor) Extract(ctx context.Context, content string) (Result, error) {
	seen := make(map[string]bool)
	var entities []ExtractedEntity
	for _, m := range capitalizedWord.FindAllString(content, -1) {
		if stopWords[m] || seen[m] {
			continue
		}
		seen[m] = true
		entities = append(entities, ExtractedEntity{
			Name:       m,
			EntityType: guessType(m),
			Attributes: map[string]any{},
		})
	}
	return Result{Entities: entities}, nil
}

func guessType(name string) string {
	switch {
	case strings.Contains(name, " "):
		return "organization"
	default:
		return "person"
	}
}
