package whatsappimport

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/nextlevelbuilder/archivekeeper/internal/archive/layout"
	"github.com/nextlevelbuilder/archivekeeper/internal/archive/model"
	"github.com/nextlevelbuilder/archivekeeper/internal/fetch"
)

// ImportResult summarizes one import run. Grounded on
// whatsapp.py's WhatsAppImportResult.
type ImportResult struct {
	ImportID         string
	Filename         string
	Format           string
	ImportedAt       time.Time
	DateRangeStart   time.Time
	DateRangeEnd     time.Time
	MessageCount     int
	ParticipantCount int
	Messages         []Message
	Errors           []string
}

type importManifestEntry struct {
	ImportID         string `json:"import_id"`
	Filename         string `json:"filename"`
	Format           string `json:"format"`
	ImportedAt       string `json:"imported_at"`
	DateRange        struct {
		Start string `json:"start"`
		End   string `json:"end"`
	} `json:"date_range"`
	MessageCount     int `json:"message_count"`
	ParticipantCount int `json:"participant_count"`
}

type importManifest struct {
	Imports  []importManifestEntry `json:"imports"`
	Coverage struct {
		Earliest string   `json:"earliest"`
		Latest   string   `json:"latest"`
		Gaps     []string `json:"gaps"`
	} `json:"coverage"`
}

// Importer persists WhatsApp imports under an archive root and serves
// them back out as fetch.Message for summary generation. Grounded on
// whatsapp.py's WhatsAppImporter.
type Importer struct {
	root string
}

// NewImporter returns an Importer rooted at root.
func NewImporter(root string) *Importer {
	return &Importer{root: root}
}

// ImportTextExport parses and persists a native WhatsApp .txt export for
// source.
func (im *Importer) ImportTextExport(source model.Source, filename string, content string) (ImportResult, error) {
	messages, errs := ParseTextExport(content)
	return im.finishImport(source, filename, "whatsapp_txt", messages, errs)
}

// ImportReaderBotJSON parses and persists a reader-bot JSON export for
// source.
func (im *Importer) ImportReaderBotJSON(source model.Source, filename string, export ReaderBotExport) (ImportResult, error) {
	messages, err := ParseReaderBotJSON(export)
	if err != nil {
		return ImportResult{}, err
	}
	return im.finishImport(source, filename, "reader_bot", messages, nil)
}

func (im *Importer) finishImport(source model.Source, filename, format string, messages []Message, errs []string) (ImportResult, error) {
	importID, err := newImportID()
	if err != nil {
		return ImportResult{}, err
	}

	var start, end time.Time
	if len(messages) > 0 {
		start, end = messages[0].Timestamp, messages[0].Timestamp
		for _, m := range messages[1:] {
			if m.Timestamp.Before(start) {
				start = m.Timestamp
			}
			if m.Timestamp.After(end) {
				end = m.Timestamp
			}
		}
	} else {
		now := time.Now().UTC()
		start, end = now, now
	}

	if err := im.saveImport(source, importID, filename, format, messages); err != nil {
		return ImportResult{}, err
	}

	return ImportResult{
		ImportID:         importID,
		Filename:         filename,
		Format:           format,
		ImportedAt:       time.Now().UTC(),
		DateRangeStart:   start,
		DateRangeEnd:     end,
		MessageCount:     len(messages),
		ParticipantCount: len(Participants(messages)),
		Messages:         messages,
		Errors:           errs,
	}, nil
}

func (im *Importer) saveImport(source model.Source, importID, filename, format string, messages []Message) error {
	importsDir := layout.ImportsDir(im.root, source)

	msgData, err := json.MarshalIndent(messages, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal messages: %w", err)
	}
	msgPath := filepath.Join(importsDir, importID+"_messages.json")
	if err := layout.AtomicWriteFile(msgPath, msgData, 0o644); err != nil {
		return fmt.Errorf("write import messages: %w", err)
	}

	manifestPath := filepath.Join(importsDir, "import-manifest.json")
	manifest, _ := loadImportManifest(manifestPath)

	var earliest, latest string
	if len(messages) > 0 {
		dates := make([]string, 0, len(messages))
		seen := map[string]bool{}
		for _, m := range messages {
			d := m.Timestamp.Format("2006-01-02")
			if !seen[d] {
				seen[d] = true
				dates = append(dates, d)
			}
		}
		sort.Strings(dates)
		earliest, latest = dates[0], dates[len(dates)-1]
	}

	entry := importManifestEntry{
		ImportID:         importID,
		Filename:         filename,
		Format:           format,
		ImportedAt:       time.Now().UTC().Format(time.RFC3339),
		MessageCount:     len(messages),
		ParticipantCount: len(Participants(messages)),
	}
	entry.DateRange.Start = earliest
	entry.DateRange.End = latest
	manifest.Imports = append(manifest.Imports, entry)

	var allDates []string
	for _, imp := range manifest.Imports {
		if imp.DateRange.Start != "" {
			allDates = append(allDates, imp.DateRange.Start)
		}
		if imp.DateRange.End != "" {
			allDates = append(allDates, imp.DateRange.End)
		}
	}
	if len(allDates) > 0 {
		sort.Strings(allDates)
		manifest.Coverage.Earliest = allDates[0]
		manifest.Coverage.Latest = allDates[len(allDates)-1]
	}

	out, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal import manifest: %w", err)
	}
	return layout.AtomicWriteFile(manifestPath, out, 0o644)
}

func loadImportManifest(path string) (importManifest, error) {
	var manifest importManifest
	data, err := os.ReadFile(path)
	if err != nil {
		return manifest, nil
	}
	if err := json.Unmarshal(data, &manifest); err != nil {
		return importManifest{}, fmt.Errorf("parse import manifest: %w", err)
	}
	return manifest, nil
}

// MessagesForPeriod returns every imported message for source within
// [start, end], sorted by timestamp. Grounded on
// whatsapp.py's get_messages_for_period.
func (im *Importer) MessagesForPeriod(source model.Source, start, end time.Time) ([]Message, error) {
	importsDir := layout.ImportsDir(im.root, source)

	var all []Message
	entries, err := os.ReadDir(importsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read imports directory: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() || !matchesMessagesFile(entry.Name()) {
			continue
		}
		data, err := os.ReadFile(filepath.Join(importsDir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("read import file %s: %w", entry.Name(), err)
		}
		var messages []Message
		if err := json.Unmarshal(data, &messages); err != nil {
			return nil, fmt.Errorf("parse import file %s: %w", entry.Name(), err)
		}
		for _, m := range messages {
			if !m.Timestamp.Before(start) && !m.Timestamp.After(end) {
				all = append(all, m)
			}
		}
	}

	sort.Slice(all, func(i, j int) bool { return all[i].Timestamp.Before(all[j].Timestamp) })
	return all, nil
}

func matchesMessagesFile(name string) bool {
	ext := filepath.Ext(name)
	return ext == ".json" && len(name) > len("_messages.json") && name[len(name)-len("_messages.json"):] == "_messages.json"
}

// Coverage returns the earliest/latest imported dates for source, and
// false if nothing has been imported yet.
func (im *Importer) Coverage(source model.Source) (earliest, latest time.Time, ok bool, err error) {
	manifestPath := filepath.Join(layout.ImportsDir(im.root, source), "import-manifest.json")
	manifest, loadErr := loadImportManifest(manifestPath)
	if loadErr != nil {
		return time.Time{}, time.Time{}, false, loadErr
	}
	if manifest.Coverage.Earliest == "" {
		return time.Time{}, time.Time{}, false, nil
	}
	earliest, err = time.Parse("2006-01-02", manifest.Coverage.Earliest)
	if err != nil {
		return time.Time{}, time.Time{}, false, err
	}
	latest, err = time.Parse("2006-01-02", manifest.Coverage.Latest)
	if err != nil {
		return time.Time{}, time.Time{}, false, err
	}
	return earliest, latest, true, nil
}

// Fetch satisfies fetch.MessageFetcher by serving previously imported
// messages for the period [startUTC, endUTC); WhatsApp has no live API to
// poll, so this fetcher is backed entirely by prior ImportTextExport /
// ImportReaderBotJSON calls.
func (im *Importer) Fetch(_ context.Context, source model.Source, startUTC, endUTC time.Time) ([]fetch.Message, error) {
	messages, err := im.MessagesForPeriod(source, startUTC, endUTC)
	if err != nil {
		return nil, err
	}
	out := make([]fetch.Message, 0, len(messages))
	for _, m := range messages {
		if !m.Timestamp.Before(endUTC) {
			continue
		}
		out = append(out, fetch.Message{
			ID:         m.MessageID,
			AuthorID:   m.Sender,
			AuthorName: m.Sender,
			Content:    m.Content,
			Timestamp:  m.Timestamp,
			IsSystem:   m.IsSystem,
		})
	}
	return out, nil
}

func newImportID() (string, error) {
	buf := make([]byte, 6)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate import id: %w", err)
	}
	return fmt.Sprintf("imp_%x", buf), nil
}
