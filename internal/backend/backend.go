// Package backend abstracts the language-model service that generates
// answers. The core treats it as an opaque asynchronous producer of text
// fragments; the HTTP implementation speaks the NDJSON chat protocol.
package backend

import (
	"context"
	"iter"
)

// Request describes one generation call.
type Request struct {
	// Prompt is the fully constructed prompt, not the raw user query.
	Prompt string
	// UseSearchContext asks the backend to ground the answer in current
	// web results.
	UseSearchContext bool
	// MaxTokens is an approximate length governor enforced by the backend.
	MaxTokens int
}

// Fragment is one incremental chunk of generated text.
type Fragment struct {
	Text string
}

// Streamer produces an ordered sequence of text fragments for a request.
// The sequence ends normally on backend-reported completion, or yields a
// single non-nil error and stops on any backend-level fault. Fragments are
// delivered in the order the backend produced them.
type Streamer interface {
	Stream(ctx context.Context, req Request) iter.Seq2[*Fragment, error]
}
