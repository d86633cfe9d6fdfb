package discordfetch

import (
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
)

func TestToFetchMessage_MapsFields(t *testing.T) {
	ts := time.Date(2024, 3, 15, 14, 30, 0, 0, time.UTC)
	m := &discordgo.Message{
		ID:        "m1",
		Content:   "hello",
		Timestamp: ts,
		Type:      discordgo.MessageTypeDefault,
		Author:    &discordgo.User{ID: "u1", Username: "alice"},
	}

	got := toFetchMessage(m)
	if got.ID != "m1" || got.AuthorID != "u1" || got.AuthorName != "alice" || got.Content != "hello" {
		t.Errorf("unexpected mapping: %+v", got)
	}
	if got.IsSystem {
		t.Errorf("expected a default message to not be flagged system")
	}
	if !got.Timestamp.Equal(ts) {
		t.Errorf("timestamp = %v, want %v", got.Timestamp, ts)
	}
}

func TestToFetchMessage_SystemType(t *testing.T) {
	m := &discordgo.Message{
		ID:     "m2",
		Type:   discordgo.MessageTypeGuildMemberJoin,
		Author: &discordgo.User{ID: "u2", Username: "bob"},
	}
	got := toFetchMessage(m)
	if !got.IsSystem {
		t.Errorf("expected a guild-member-join message to be flagged system")
	}
}

func TestToFetchMessage_NilAuthor(t *testing.T) {
	m := &discordgo.Message{ID: "m3", Content: "x"}
	got := toFetchMessage(m)
	if got.AuthorID != "" || got.AuthorName != "" {
		t.Errorf("expected empty author fields for nil author, got %+v", got)
	}
}
