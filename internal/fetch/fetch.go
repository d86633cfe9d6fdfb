// Package fetch defines the message-fetching contract the executor drives
// during backfill and scan-triggered generation (spec §6.4), plus a shared
// Message shape every fetcher implementation produces.
package fetch

import (
	"context"
	"time"

	"github.com/nextlevelbuilder/archivekeeper/internal/archive/model"
)

// Message is one platform-agnostic chat message handed to a summarizer.
type Message struct {
	ID         string
	AuthorID   string
	AuthorName string
	Content    string
	Timestamp  time.Time
	IsSystem   bool
}

// MessageFetcher retrieves every message for a source within [startUTC,
// endUTC). Implementations must be safe to call from a bounded, one-shot
// backfill job — they are not expected to own continuous capture.
type MessageFetcher interface {
	Fetch(ctx context.Context, source model.Source, startUTC, endUTC time.Time) ([]Message, error)
}
