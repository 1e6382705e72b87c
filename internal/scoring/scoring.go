package scoring

import (
	"context"
	"fmt"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"google.golang.org/genai"

	"github.com/xkilldash9x/huntr-cli/internal/config"
	"github.com/xkilldash9x/huntr-cli/internal/extract"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Decision is the engine's verdict on one listing.
type Decision struct {
	// Score is the criteria fit in [0, 100].
	Score      float64  `json:"score"`
	Alignments []string `json:"alignments,omitempty"`
	ShouldSkip bool     `json:"shouldSkip"`
	Reasoning  string   `json:"reasoning,omitempty"`
}

// Engine scores a listing against the run's criteria.
type Engine interface {
	Score(ctx context.Context, rec extract.Record, criteria map[string]string) (Decision, error)
}

// GeminiEngine asks a Gemini model for a structured verdict. Calls are rate
// limited and retried a bounded number of times; a run never dies because a
// single scoring call flaked.
type GeminiEngine struct {
	client     *genai.Client
	model      string
	limiter    *rate.Limiter
	timeout    time.Duration
	maxRetries int
	logger     *zap.Logger
}

// NewGeminiEngine builds the remote engine from config. The API key is
// required; callers that have none should use NewKeywordEngine instead.
func NewGeminiEngine(ctx context.Context, logger *zap.Logger, cfg config.ScoringConfig) (*GeminiEngine, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("scoring API key is not set")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create scoring client: %w", err)
	}

	rpm := cfg.RequestsPerMinute
	if rpm <= 0 {
		rpm = 10
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	retries := cfg.MaxRetries
	if retries <= 0 {
		retries = 2
	}

	return &GeminiEngine{
		client:     client,
		model:      cfg.Model,
		limiter:    rate.NewLimiter(rate.Limit(rpm/60.0), 1),
		timeout:    timeout,
		maxRetries: retries,
		logger:     logger.Named("scoring"),
	}, nil
}

func (e *GeminiEngine) Score(ctx context.Context, rec extract.Record, criteria map[string]string) (Decision, error) {
	if err := e.limiter.Wait(ctx); err != nil {
		return Decision{}, fmt.Errorf("rate limit wait interrupted: %w", err)
	}

	prompt := buildPrompt(rec, criteria)
	cfg := &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
		Temperature:      genai.Ptr[float32](0.2),
	}

	var lastErr error
	for attempt := 0; attempt <= e.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return Decision{}, ctx.Err()
			case <-time.After(time.Duration(attempt) * time.Second):
			}
		}

		callCtx, cancel := context.WithTimeout(ctx, e.timeout)
		resp, err := e.client.Models.GenerateContent(callCtx, e.model, genai.Text(prompt), cfg)
		cancel()
		if err != nil {
			lastErr = err
			e.logger.Warn("Scoring call failed",
				zap.Int("attempt", attempt+1),
				zap.Error(err))
			continue
		}

		decision, err := parseDecision(resp.Text())
		if err != nil {
			lastErr = err
			e.logger.Warn("Scoring response unparseable",
				zap.Int("attempt", attempt+1),
				zap.Error(err))
			continue
		}
		return decision, nil
	}
	return Decision{}, fmt.Errorf("scoring failed after %d attempts: %w", e.maxRetries+1, lastErr)
}

func buildPrompt(rec extract.Record, criteria map[string]string) string {
	var b strings.Builder
	b.WriteString("You are screening job listings for a candidate. ")
	b.WriteString("Evaluate the listing below against the candidate's criteria and respond with JSON only, ")
	b.WriteString(`matching this shape: {"score": 0-100, "alignments": ["..."], "shouldSkip": bool, "reasoning": "..."}.` + "\n\n")

	b.WriteString("Listing:\n")
	fmt.Fprintf(&b, "  Title: %s\n", rec.Title)
	fmt.Fprintf(&b, "  Organization: %s\n", rec.Org)
	if rec.Location != "" {
		fmt.Fprintf(&b, "  Location: %s\n", rec.Location)
	}
	if rec.SalaryRange != "" {
		fmt.Fprintf(&b, "  Salary: %s\n", rec.SalaryRange)
	}
	if rec.Description != "" {
		fmt.Fprintf(&b, "  Description: %s\n", rec.Description)
	}

	b.WriteString("\nCriteria:\n")
	for k, v := range criteria {
		fmt.Fprintf(&b, "  %s: %s\n", k, v)
	}
	return b.String()
}

// parseDecision reads the model's JSON verdict, tolerating markdown fences
// and clamping the score into range.
func parseDecision(text string) (Decision, error) {
	cleaned := strings.TrimSpace(text)
	cleaned = strings.TrimPrefix(cleaned, "```json")
	cleaned = strings.TrimPrefix(cleaned, "```")
	cleaned = strings.TrimSuffix(cleaned, "```")
	cleaned = strings.TrimSpace(cleaned)

	var d Decision
	if err := json.Unmarshal([]byte(cleaned), &d); err != nil {
		return Decision{}, fmt.Errorf("invalid decision payload: %w", err)
	}
	if d.Score < 0 {
		d.Score = 0
	}
	if d.Score > 100 {
		d.Score = 100
	}
	return d, nil
}
