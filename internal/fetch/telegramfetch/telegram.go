// Package telegramfetch implements fetch.MessageFetcher for Telegram.
//
// The Bot API telego wraps has no GetChatHistory equivalent: a bot can only
// see messages sent while it is a member, delivered live via long polling
// (see internal/channels/telegram/channel.go), not paged out of the past.
// A bounded one-shot backfill therefore replays Telegram Desktop's "Export
// chat history" JSON (result.json) instead of calling a history API that
// does not exist — the same import-file shape whatsappimport uses for
// WhatsApp, with telego's Bot used only to validate the configured token
// up front.
package telegramfetch

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/mymmrac/telego"

	"github.com/nextlevelbuilder/archivekeeper/internal/archive/model"
	"github.com/nextlevelbuilder/archivekeeper/internal/fetch"
)

// exportMessage mirrors the fields Telegram Desktop's JSON export produces
// for a text message (result.json's top-level "messages" array).
type exportMessage struct {
	ID       int64       `json:"id"`
	Type     string      `json:"type"`
	Date     string      `json:"date"`
	FromID   string      `json:"from_id"`
	From     string      `json:"from"`
	Text     interface{} `json:"text"`
	ActionID string      `json:"action"`
}

type exportFile struct {
	Messages []exportMessage `json:"messages"`
}

// Fetcher serves message history from a Telegram Desktop JSON export.
type Fetcher struct {
	bot        *telego.Bot
	exportPath func(source model.Source) string
}

// New creates a Fetcher. token authenticates a bot used only to validate
// connectivity (GetMe); exportPath resolves a source to the path of its
// exported result.json.
func New(token string, exportPath func(source model.Source) string) (*Fetcher, error) {
	bot, err := telego.NewBot(token)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}
	return &Fetcher{bot: bot, exportPath: exportPath}, nil
}

// VerifyToken confirms the configured bot token is valid by calling GetMe.
func (f *Fetcher) VerifyToken(ctx context.Context) error {
	if _, err := f.bot.GetMe(ctx); err != nil {
		return fmt.Errorf("verify telegram bot token: %w", err)
	}
	return nil
}

// Fetch replays the exported history for source's channel, returning
// messages within [startUTC, endUTC).
func (f *Fetcher) Fetch(_ context.Context, source model.Source, startUTC, endUTC time.Time) ([]fetch.Message, error) {
	path := f.exportPath(source)
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read telegram export %s: %w", path, err)
	}

	var export exportFile
	if err := json.Unmarshal(raw, &export); err != nil {
		return nil, fmt.Errorf("parse telegram export %s: %w", path, err)
	}

	out := make([]fetch.Message, 0, len(export.Messages))
	for _, m := range export.Messages {
		if m.Type == "service" {
			ts, err := parseExportDate(m.Date)
			if err != nil {
				continue
			}
			if ts.Before(startUTC) || !ts.Before(endUTC) {
				continue
			}
			out = append(out, fetch.Message{
				ID:         strconv.FormatInt(m.ID, 10),
				AuthorID:   m.FromID,
				AuthorName: m.From,
				Content:    m.ActionID,
				Timestamp:  ts,
				IsSystem:   true,
			})
			continue
		}

		ts, err := parseExportDate(m.Date)
		if err != nil {
			continue
		}
		if ts.Before(startUTC) || !ts.Before(endUTC) {
			continue
		}

		out = append(out, fetch.Message{
			ID:         strconv.FormatInt(m.ID, 10),
			AuthorID:   m.FromID,
			AuthorName: m.From,
			Content:    flattenText(m.Text),
			Timestamp:  ts,
		})
	}

	return out, nil
}

func parseExportDate(s string) (time.Time, error) {
	t, err := time.Parse("2006-01-02T15:04:05", s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse export date %q: %w", s, err)
	}
	return t.UTC(), nil
}

// flattenText handles Telegram's export format, where "text" is either a
// plain string or an array mixing strings with {"type","text"} entity
// objects for formatted runs (bold, links, mentions).
func flattenText(text interface{}) string {
	switch v := text.(type) {
	case string:
		return v
	case []interface{}:
		out := ""
		for _, part := range v {
			switch p := part.(type) {
			case string:
				out += p
			case map[string]interface{}:
				if s, ok := p["text"].(string); ok {
					out += s
				}
			}
		}
		return out
	default:
		return ""
	}
}
