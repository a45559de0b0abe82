// Package finalize attaches sources and follow-up questions to a completed
// response. The placeholder implementation derives both deterministically from
// the query text; a retrieval-backed implementation can replace it behind the
// same interface without touching the search engine.
package finalize

import (
	"context"
	"fmt"
	"unicode/utf8"

	"github.com/sift-sh/sift/internal/domain"
)

// Result holds the artifacts attached at finalization. Both sequences are
// ordered and non-empty.
type Result struct {
	Sources           []domain.Source
	FollowUpQuestions []string
}

// Finalizer computes sources and follow-up questions for a finished session.
// Implementations must be pure: no side effects beyond the returned data.
type Finalizer interface {
	Finalize(ctx context.Context, query, response string) (*Result, error)
}

// Placeholder is the deterministic templating Finalizer used until a real
// retrieval service is wired in.
type Placeholder struct{}

// NewPlaceholder creates the templating finalizer.
func NewPlaceholder() *Placeholder {
	return &Placeholder{}
}

// Finalize derives two sources and three follow-up questions from the query.
func (p *Placeholder) Finalize(_ context.Context, query, _ string) (*Result, error) {
	return &Result{
		Sources: []domain.Source{
			{
				Title:   "Comprehensive Guide to " + truncate(query, 50),
				URL:     "https://example.com/source1",
				Snippet: "Detailed information about " + query + " with expert insights and analysis.",
				Domain:  "example.com",
			},
			{
				Title:   "Latest Research on " + truncate(query, 40),
				URL:     "https://research.example.com/article",
				Snippet: "Recent findings and developments related to " + query + ".",
				Domain:  "research.example.com",
			},
		},
		FollowUpQuestions: []string{
			fmt.Sprintf("What are the latest developments in %s?", query),
			fmt.Sprintf("How does %s compare to alternatives?", query),
			fmt.Sprintf("What are the practical applications of %s?", query),
		},
	}, nil
}

// truncate caps s at n bytes, backing off to a rune boundary so a multibyte
// character is never split.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
