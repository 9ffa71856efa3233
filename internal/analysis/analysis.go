// Package analysis declares the external collaborators the worker pipeline
// depends on. Implementations are thin I/O glue over upstream services;
// the pipeline treats every call as slow, blocking, and fallible.
package analysis

import (
	"context"

	"github.com/Krish-Gupta07/Litmus-AI/internal/domain"
)

// ScrapeResult is the extracted page content for a url-kind input.
type ScrapeResult struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

// TransformResult is the structured fact-check framing of the input text.
type TransformResult struct {
	Topics               domain.Topics `json:"search_topics"`
	ReformulatedQuestion string        `json:"reformulated_question"`
}

// Answer is the generated fact-check response.
type Answer struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Sources     []string `json:"sources,omitempty"`
}

type Scraper interface {
	Scrape(ctx context.Context, url string) (*ScrapeResult, error)
}

type Transformer interface {
	TransformQuery(ctx context.Context, text string) (*TransformResult, error)
}

// Retriever gathers supporting evidence. Best-effort: the pipeline treats
// failure as "no extra context".
type Retriever interface {
	RetrieveContext(ctx context.Context, question string) ([]string, error)
}

type Generator interface {
	GenerateAnswer(ctx context.Context, query *TransformResult, evidence []string) (*Answer, error)
}

// Scorer computes a 0-100 credibility percentage. Best-effort: failure
// leaves the score at zero.
type Scorer interface {
	ScoreQuality(ctx context.Context, description string, query *TransformResult) (int, error)
}

// Notifier delivers a terminal result to a messaging-channel owner.
// Fire-and-forget: errors are logged by the caller, never propagated.
type Notifier interface {
	Notify(ctx context.Context, ownerID string, result *domain.Result) error
}
