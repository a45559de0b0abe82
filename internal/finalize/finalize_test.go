package finalize

import (
	"context"
	"strings"
	"testing"
	"unicode/utf8"
)

func TestPlaceholder_Finalize(t *testing.T) {
	p := NewPlaceholder()

	result, err := p.Finalize(context.Background(), "quantum computing", "some response text")
	if err != nil {
		t.Fatalf("Finalize failed: %v", err)
	}

	if len(result.Sources) != 2 {
		t.Fatalf("Expected 2 sources, got %d", len(result.Sources))
	}
	first := result.Sources[0]
	if first.Title != "Comprehensive Guide to quantum computing" {
		t.Errorf("Unexpected first source title: %q", first.Title)
	}
	if first.URL != "https://example.com/source1" || first.Domain != "example.com" {
		t.Errorf("Unexpected first source location: %s / %s", first.URL, first.Domain)
	}
	second := result.Sources[1]
	if second.Title != "Latest Research on quantum computing" {
		t.Errorf("Unexpected second source title: %q", second.Title)
	}
	if second.Domain != "research.example.com" {
		t.Errorf("Unexpected second source domain: %q", second.Domain)
	}

	if len(result.FollowUpQuestions) != 3 {
		t.Fatalf("Expected 3 follow-up questions, got %d", len(result.FollowUpQuestions))
	}
	for i, q := range result.FollowUpQuestions {
		if !strings.Contains(q, "quantum computing") {
			t.Errorf("Follow-up %d does not reference the query: %q", i, q)
		}
	}
}

func TestPlaceholder_Deterministic(t *testing.T) {
	p := NewPlaceholder()
	ctx := context.Background()

	a, err := p.Finalize(ctx, "same query", "response one")
	if err != nil {
		t.Fatalf("Finalize failed: %v", err)
	}
	b, err := p.Finalize(ctx, "same query", "response two")
	if err != nil {
		t.Fatalf("Finalize failed: %v", err)
	}

	if len(a.Sources) != len(b.Sources) || a.Sources[0] != b.Sources[0] {
		t.Error("Sources must depend only on the query")
	}
	for i := range a.FollowUpQuestions {
		if a.FollowUpQuestions[i] != b.FollowUpQuestions[i] {
			t.Errorf("Follow-up %d differs between identical queries", i)
		}
	}
}

func TestPlaceholder_TruncatesLongQueries(t *testing.T) {
	p := NewPlaceholder()
	long := strings.Repeat("x", 120)

	result, err := p.Finalize(context.Background(), long, "")
	if err != nil {
		t.Fatalf("Finalize failed: %v", err)
	}

	if got := result.Sources[0].Title; got != "Comprehensive Guide to "+long[:50] {
		t.Errorf("First source title not truncated to 50 chars: %q", got)
	}
	if got := result.Sources[1].Title; got != "Latest Research on "+long[:40] {
		t.Errorf("Second source title not truncated to 40 chars: %q", got)
	}
}

func TestPlaceholder_TruncationKeepsRunesIntact(t *testing.T) {
	p := NewPlaceholder()
	// 49 ASCII bytes followed by a 3-byte rune straddling the 50-byte cut.
	query := strings.Repeat("x", 49) + strings.Repeat("日", 30)

	result, err := p.Finalize(context.Background(), query, "")
	if err != nil {
		t.Fatalf("Finalize failed: %v", err)
	}

	for i, src := range result.Sources {
		if !utf8.ValidString(src.Title) {
			t.Errorf("Source %d title is not valid UTF-8: %q", i, src.Title)
		}
	}
	if got := result.Sources[0].Title; got != "Comprehensive Guide to "+strings.Repeat("x", 49) {
		t.Errorf("Expected cut backed off to the rune boundary, got %q", got)
	}
}
