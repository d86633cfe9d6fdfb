// Package whatsappimport parses WhatsApp chat exports (native .txt or the
// reader-bot JSON format) into archive messages, per spec §4.2/§6.2.
// Grounded on original_source/archive/importers/whatsapp.py.
package whatsappimport

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Message is one parsed WhatsApp message.
type Message struct {
	MessageID  string
	Timestamp  time.Time
	Sender     string
	Content    string
	IsSystem   bool
	Attachment string
	ReplyTo    string
}

var datetimePatterns = []*regexp.Regexp{
	// [DD/MM/YYYY, HH:MM:SS]
	regexp.MustCompile(`^\[(\d{1,2}/\d{1,2}/\d{2,4}),\s*(\d{1,2}:\d{2}(?::\d{2})?(?:\s*[AP]M)?)\]`),
	// DD/MM/YYYY, HH:MM -
	regexp.MustCompile(`^(\d{1,2}/\d{1,2}/\d{2,4}),\s*(\d{1,2}:\d{2}(?::\d{2})?(?:\s*[AP]M)?)\s*-`),
	// MM/DD/YY, HH:MM -
	regexp.MustCompile(`^(\d{1,2}/\d{1,2}/\d{2}),\s*(\d{1,2}:\d{2}(?:\s*[AP]M)?)\s*-`),
}

var systemPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)Messages and calls are end-to-end encrypted`),
	regexp.MustCompile(`(?i)created group`),
	regexp.MustCompile(`(?i)added you`),
	regexp.MustCompile(`(?i)changed the subject`),
	regexp.MustCompile(`(?i)changed this group's icon`),
	regexp.MustCompile(`(?i)left$`),
	regexp.MustCompile(`(?i)was removed$`),
	regexp.MustCompile(`(?i)joined using this group's invite link`),
}

var leadingSeparator = regexp.MustCompile(`^[\s\-:]+`)

// ParseTextExport parses a native WhatsApp .txt export into messages, in
// file order. Continuation lines (no leading timestamp) are appended to
// the previous message's content, matching WhatsApp's own multi-line
// message wrapping.
func ParseTextExport(content string) (messages []Message, errs []string) {
	lines := strings.Split(content, "\n")
	var current *Message
	counter := 0

	for lineNum, raw := range lines {
		line := strings.TrimSpace(raw)
		if line == "" {
			continue
		}

		if ts, sender, text, ok := parseMessageLine(line); ok {
			if current != nil {
				messages = append(messages, *current)
			}
			counter++
			isSystem := isSystemMessage(text)
			current = &Message{
				MessageID: fmt.Sprintf("wa_%d", counter),
				Timestamp: ts,
				Sender:    sender,
				Content:   text,
				IsSystem:  isSystem,
			}
			continue
		}

		if current != nil {
			current.Content += "\n" + line
			continue
		}

		if !strings.Contains(strings.ToLower(line), "end-to-end encrypted") {
			preview := line
			if len(preview) > 50 {
				preview = preview[:50]
			}
			errs = append(errs, fmt.Sprintf("line %d: could not parse: %s...", lineNum+1, preview))
		}
	}
	if current != nil {
		messages = append(messages, *current)
	}
	return messages, errs
}

func isSystemMessage(text string) bool {
	for _, p := range systemPatterns {
		if p.MatchString(text) {
			return true
		}
	}
	return false
}

func parseMessageLine(line string) (ts time.Time, sender, content string, ok bool) {
	for _, pattern := range datetimePatterns {
		match := pattern.FindStringSubmatchIndex(line)
		if match == nil {
			continue
		}
		groups := pattern.FindStringSubmatch(line)
		dateStr, timeStr := groups[1], groups[2]

		parsed, err := parseDateTime(dateStr, timeStr)
		if err != nil {
			continue
		}

		rest := strings.TrimSpace(line[match[1]:])
		rest = leadingSeparator.ReplaceAllString(rest, "")

		if idx := strings.Index(rest, ": "); idx >= 0 {
			return parsed, strings.TrimSpace(rest[:idx]), strings.TrimSpace(rest[idx+2:]), true
		}
		return parsed, "System", rest, true
	}
	return time.Time{}, "", "", false
}

// parseDateTime parses WhatsApp's various DD/MM/YYYY and MM/DD/YY date
// formats with a 12-hour-clock fallback, mirroring _parse_datetime's
// lenient heuristics (swap day/month if month > 12; assume 2000s for a
// 2-digit year).
func parseDateTime(dateStr, timeStr string) (time.Time, error) {
	dateStr = strings.NewReplacer(".", "/", "-", "/").Replace(dateStr)
	parts := strings.Split(dateStr, "/")
	if len(parts) != 3 {
		return time.Time{}, fmt.Errorf("cannot parse date: %s", dateStr)
	}

	day, err := strconv.Atoi(parts[0])
	if err != nil {
		return time.Time{}, fmt.Errorf("cannot parse date: %s", dateStr)
	}
	month, err := strconv.Atoi(parts[1])
	if err != nil {
		return time.Time{}, fmt.Errorf("cannot parse date: %s", dateStr)
	}
	var year int
	switch len(parts[2]) {
	case 4:
		year, err = strconv.Atoi(parts[2])
	case 2:
		var y int
		y, err = strconv.Atoi(parts[2])
		year = 2000 + y
	default:
		return time.Time{}, fmt.Errorf("unknown year format: %s", dateStr)
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("cannot parse date: %s", dateStr)
	}
	if month > 12 {
		day, month = month, day
	}

	timeStr = strings.TrimSpace(timeStr)
	upper := strings.ToUpper(timeStr)
	isPM := strings.Contains(upper, "PM")
	isAM := strings.Contains(upper, "AM")
	timeStr = regexp.MustCompile(`(?i)\s*[ap]m`).ReplaceAllString(timeStr, "")

	timeParts := strings.Split(timeStr, ":")
	hour, err := strconv.Atoi(timeParts[0])
	if err != nil {
		return time.Time{}, fmt.Errorf("cannot parse time: %s", timeStr)
	}
	minute, second := 0, 0
	if len(timeParts) > 1 {
		minute, _ = strconv.Atoi(timeParts[1])
	}
	if len(timeParts) > 2 {
		second, _ = strconv.Atoi(timeParts[2])
	}

	if isPM && hour < 12 {
		hour += 12
	} else if isAM && hour == 12 {
		hour = 0
	}

	return time.Date(year, time.Month(month), day, hour, minute, second, 0, time.UTC), nil
}

// ReaderBotMessage is one entry in a reader-bot JSON export.
type ReaderBotMessage struct {
	ID         string `json:"id"`
	Timestamp  string `json:"timestamp"`
	Sender     string `json:"sender"`
	Content    string `json:"content"`
	IsSystem   bool   `json:"is_system"`
	Attachment string `json:"attachment,omitempty"`
	ReplyTo    string `json:"reply_to,omitempty"`
}

// ReaderBotExport is the top-level shape of a reader-bot JSON export file.
type ReaderBotExport struct {
	Messages []ReaderBotMessage `json:"messages"`
}

// ParseReaderBotJSON converts a decoded reader-bot export into messages.
func ParseReaderBotJSON(export ReaderBotExport) ([]Message, error) {
	messages := make([]Message, 0, len(export.Messages))
	for i, m := range export.Messages {
		ts, err := time.Parse(time.RFC3339, m.Timestamp)
		if err != nil {
			return nil, fmt.Errorf("message %d: parse timestamp %q: %w", i, m.Timestamp, err)
		}
		id := m.ID
		if id == "" {
			id = fmt.Sprintf("wa_%d", i)
		}
		messages = append(messages, Message{
			MessageID:  id,
			Timestamp:  ts,
			Sender:     m.Sender,
			Content:    m.Content,
			IsSystem:   m.IsSystem,
			Attachment: m.Attachment,
			ReplyTo:    m.ReplyTo,
		})
	}
	return messages, nil
}

// Participants returns the distinct set of non-system senders.
func Participants(messages []Message) map[string]struct{} {
	set := map[string]struct{}{}
	for _, m := range messages {
		if !m.IsSystem {
			set[m.Sender] = struct{}{}
		}
	}
	return set
}
