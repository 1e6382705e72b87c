package scoring

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/huntr-cli/internal/extract"
)

// KeywordEngine is the offline fallback: a plain term match against the
// criteria values. Used when no scoring API key is configured, so a hunt can
// still run end to end.
type KeywordEngine struct {
	logger *zap.Logger
}

func NewKeywordEngine(logger *zap.Logger) *KeywordEngine {
	return &KeywordEngine{logger: logger.Named("scoring")}
}

func (e *KeywordEngine) Score(_ context.Context, rec extract.Record, criteria map[string]string) (Decision, error) {
	haystack := strings.ToLower(rec.Title + " " + rec.Org + " " + rec.Location + " " + rec.Description)

	var terms, hits int
	var alignments []string
	for _, v := range criteria {
		for _, term := range strings.Fields(strings.ToLower(v)) {
			terms++
			if strings.Contains(haystack, term) {
				hits++
				alignments = append(alignments, term)
			}
		}
	}

	if terms == 0 {
		// Nothing to match against; treat every listing as neutral.
		return Decision{Score: 50, Reasoning: "no criteria provided"}, nil
	}

	score := 100 * float64(hits) / float64(terms)
	return Decision{
		Score:      score,
		Alignments: alignments,
		ShouldSkip: hits == 0,
		Reasoning:  "keyword match",
	}, nil
}
