// Package summarize defines the summarizer contract the executor drives
// to turn a batch of messages into a Markdown summary (spec §6.4).
package summarize

import (
	"context"

	"github.com/nextlevelbuilder/archivekeeper/internal/fetch"
)

// Result is what a Summarizer produces for one (source, period) slot.
type Result struct {
	Content      string
	TokensInput  int
	TokensOutput int
	Options      map[string]interface{}
}

// Summarizer turns a batch of messages into summary content, given the
// resolved API key and the requested summary shape.
type Summarizer interface {
	Summarize(ctx context.Context, messages []fetch.Message, apiKey, summaryType, perspective string) (Result, error)
}
