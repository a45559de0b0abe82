package search

import (
	"context"
	"fmt"

	"github.com/sift-sh/sift/internal/backend"
)

// defaultMaxTokens is the approximate generation length governor passed to
// the backend. The backend enforces it; this component only requests it.
const defaultMaxTokens = 1000

// promptTemplate instructs the backend to produce a comprehensive, structured
// answer grounded in current information.
const promptTemplate = `You are an expert research assistant. Answer this question comprehensively using current information: %q

Provide a detailed, well-structured response that:
1. Directly answers the question
2. Includes relevant context and background
3. Uses current, accurate information
4. Is clear and easy to understand

Format your response in a conversational but informative tone.`

// BuildPrompt wraps the raw query in the research-assistant prompt template.
func BuildPrompt(query string) string {
	return fmt.Sprintf(promptTemplate, query)
}

// run bridges the backend's fragment sequence into the engine's callbacks.
// Fragments are applied in arrival order. Any backend fault surfaces as a
// stream error; a cancelled context means the session was superseded and the
// outcome no longer matters.
func (e *Engine) run(ctx context.Context, sessionID, userID, query string) {
	req := backend.Request{
		Prompt:           BuildPrompt(query),
		UseSearchContext: true,
		MaxTokens:        e.maxTokens,
	}

	for frag, err := range e.streamer.Stream(ctx, req) {
		if err != nil {
			if ctx.Err() != nil {
				// Superseded or shutting down; stale callbacks are no-ops
				// anyway, skip the error transition entirely.
				return
			}
			e.OnStreamError(sessionID, fmt.Errorf("backend stream for user %s: %w", userID, err))
			return
		}
		e.OnFragment(sessionID, frag.Text)
	}

	if ctx.Err() != nil {
		return
	}
	e.OnStreamComplete(ctx, sessionID)
}
