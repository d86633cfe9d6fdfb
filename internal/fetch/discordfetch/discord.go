// Package discordfetch implements fetch.MessageFetcher against the Discord
// REST API, so a backfill job can pull a bounded window of channel history
// without running a gateway connection. Grounded on
// internal/channels/discord/discord.go's session setup and error-wrapping
// style; the fetch itself has no original_source analogue (the Python
// implementation relied on a continuously-running capture bot instead).
package discordfetch

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/nextlevelbuilder/archivekeeper/internal/archive/model"
	"github.com/nextlevelbuilder/archivekeeper/internal/fetch"
)

// pageSize is the max messages discordgo's REST endpoint returns per call.
const pageSize = 100

// Fetcher retrieves channel history via the Discord bot REST API.
type Fetcher struct {
	session *discordgo.Session
}

// New creates a Fetcher authenticated with token (a bot token, as used by
// channels/discord.Channel).
func New(token string) (*Fetcher, error) {
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}
	return &Fetcher{session: session}, nil
}

// Fetch retrieves every message in source's channel within [startUTC,
// endUTC), paging backwards from the newest message via ChannelMessages's
// beforeID cursor until the window's start is reached or history runs out.
func (f *Fetcher) Fetch(ctx context.Context, source model.Source, startUTC, endUTC time.Time) ([]fetch.Message, error) {
	if source.ChannelID == "" {
		return nil, fmt.Errorf("discordfetch: source has no channel id")
	}

	var all []fetch.Message
	beforeID := ""

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		batch, err := f.session.ChannelMessages(source.ChannelID, pageSize, beforeID, "", "")
		if err != nil {
			return nil, fmt.Errorf("fetch discord channel history: %w", err)
		}
		if len(batch) == 0 {
			break
		}

		exhausted := false
		for _, m := range batch {
			ts := m.Timestamp.UTC()
			if ts.Before(startUTC) {
				exhausted = true
				continue
			}
			if !ts.Before(endUTC) {
				continue
			}
			all = append(all, toFetchMessage(m))
		}

		beforeID = batch[len(batch)-1].ID
		if exhausted || len(batch) < pageSize {
			break
		}
	}

	slog.Debug("discordfetch: retrieved history", "channel_id", source.ChannelID, "count", len(all))
	return all, nil
}

func toFetchMessage(m *discordgo.Message) fetch.Message {
	authorID, authorName := "", ""
	if m.Author != nil {
		authorID = m.Author.ID
		authorName = m.Author.Username
	}
	return fetch.Message{
		ID:         m.ID,
		AuthorID:   authorID,
		AuthorName: authorName,
		Content:    m.Content,
		Timestamp:  m.Timestamp.UTC(),
		IsSystem:   m.Type != discordgo.MessageTypeDefault && m.Type != discordgo.MessageTypeReply,
	}
}
