// Package writer emits the Markdown + sidecar pair for one (source, period)
// slot, per spec §4.2. Grounded on original_source/archive/writer.py for
// exact filename/header/footer rules, and on
// internal/sessions.Manager.Save for the atomic-write idiom.
package writer

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/archivekeeper/internal/archive/layout"
	"github.com/nextlevelbuilder/archivekeeper/internal/archive/model"
)

// Writer writes summary artifacts under an archive root.
type Writer struct {
	root string
}

// New returns a Writer rooted at root.
func New(root string) *Writer {
	return &Writer{root: root}
}

// WriteSummaryInput bundles the arguments to WriteSummary.
type WriteSummaryInput struct {
	Source       model.Source
	Period       model.Period
	Content      string // opaque body supplied by the summarizer collaborator
	Statistics   model.SummaryStatistics
	Generation   model.GenerationInfo
	IsBackfill   bool
	BackfillReason string
	SummaryID    string // optional; generated if empty
}

// WriteSummary writes the Markdown artifact and its sidecar, atomically,
// and returns the Markdown path. Never mutates an existing complete
// artifact — callers must hold the slot's lock before calling this.
func (w *Writer) WriteSummary(in WriteSummaryInput) (string, error) {
	summaryID := in.SummaryID
	if summaryID == "" {
		summaryID = "sum_" + strings.ReplaceAll(uuid.New().String(), "-", "")[:12]
	}

	mdPath, metaPath := layout.SummaryPaths(w.root, in.Source, in.Period)

	full := generateMarkdown(in.Source, in.Period, in.Content, in.Statistics, in.Generation)

	if err := layout.AtomicWriteFile(mdPath, []byte(full), 0o644); err != nil {
		return "", fmt.Errorf("write summary markdown: %w", err)
	}

	sum := sha256.Sum256([]byte(full))
	checksum := fmt.Sprintf("sha256:%x", sum[:8]) // matches writer.py's sha256(full)[:16] hex chars

	now := time.Now().UTC()
	meta := model.SummaryMetadata{
		SummaryID:           summaryID,
		GeneratedAt:         &now,
		Period:              in.Period,
		Source:              in.Source,
		Status:              model.StatusComplete,
		Statistics:          &in.Statistics,
		Generation:          &in.Generation,
		ContentChecksum:     checksum,
		ReferencesValidated: false,
		BackfillEligible:    true,
	}
	if in.IsBackfill {
		backfilledAt := now
		meta.Backfill = &model.BackfillInfo{
			IsBackfill:   true,
			BackfilledAt: &backfilledAt,
			Reason:       in.BackfillReason,
		}
	}

	if err := writeSidecar(metaPath, meta); err != nil {
		return "", fmt.Errorf("write summary sidecar: %w", err)
	}

	return mdPath, nil
}

// WriteIncompleteMarkerInput bundles the arguments to WriteIncompleteMarker.
type WriteIncompleteMarkerInput struct {
	Source           model.Source
	Period           model.Period
	ReasonCode       model.IncompleteReasonCode
	ReasonMessage    string
	Details          map[string]interface{}
	BackfillEligible bool
}

// WriteIncompleteMarker writes a sidecar-only marker for a slot that
// produced no summary. Returns the sidecar path.
func (w *Writer) WriteIncompleteMarker(in WriteIncompleteMarkerInput) (string, error) {
	_, metaPath := layout.SummaryPaths(w.root, in.Source, in.Period)

	meta := model.SummaryMetadata{
		Period: in.Period,
		Source: in.Source,
		Status: model.StatusIncomplete,
		IncompleteReason: &model.IncompleteInfo{
			Code:    in.ReasonCode,
			Message: in.ReasonMessage,
			Details: in.Details,
		},
		BackfillEligible: in.BackfillEligible,
	}

	if err := writeSidecar(metaPath, meta); err != nil {
		return "", fmt.Errorf("write incomplete marker: %w", err)
	}
	return metaPath, nil
}

// MarkBackfillEligible flips an existing sidecar's BackfillEligible flag to
// true. retention and scanner never do this on their own; it is reserved
// for an explicit operator action (spec §4.9).
func (w *Writer) MarkBackfillEligible(source model.Source, period model.Period) error {
	_, metaPath := layout.SummaryPaths(w.root, source, period)

	data, err := os.ReadFile(metaPath)
	if err != nil {
		return fmt.Errorf("read sidecar: %w", err)
	}
	var meta model.SummaryMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return fmt.Errorf("parse sidecar: %w", err)
	}
	meta.BackfillEligible = true
	return writeSidecar(metaPath, meta)
}

func writeSidecar(path string, meta model.SummaryMetadata) error {
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal sidecar: %w", err)
	}
	return layout.AtomicWriteFile(path, data, 0o644)
}

func generateMarkdown(source model.Source, period model.Period, content string, stats model.SummaryStatistics, gen model.GenerationInfo) string {
	header := generateHeader(source, period, stats)
	footer := generateFooter(gen)
	return header + "\n---\n\n" + content + "\n\n---\n\n" + footer
}

func generateHeader(source model.Source, period model.Period, stats model.SummaryStatistics) string {
	title := "Daily Summary: " + source.ServerName

	var platformInfo string
	switch source.SourceType {
	case model.SourceDiscord:
		platformInfo = "**Server:** " + source.ServerName
		if source.ChannelName != "" {
			platformInfo += "\n**Channel:** #" + source.ChannelName
		}
	case model.SourceWhatsApp:
		platformInfo = "**Group:** " + source.ServerName
	case model.SourceSlack:
		platformInfo = "**Workspace:** " + source.ServerName
		if source.ChannelName != "" {
			platformInfo += "\n**Channel:** #" + source.ChannelName
		}
	case model.SourceTelegram:
		platformInfo = "**Chat:** " + source.ServerName
	default:
		platformInfo = "**Source:** " + source.ServerName
	}

	dateStr := period.Start.Format("2006-01-02 (Monday)")
	timeRange := period.Start.Format("15:04") + " — " + period.End.Format("15:04")

	lines := []string{
		"# " + title,
		"",
		"**Platform:** " + capitalize(string(source.SourceType)),
		platformInfo,
		"**Date:** " + dateStr,
		"**Timezone:** " + period.Timezone,
		"**Period:** " + timeRange,
		fmt.Sprintf("**Messages:** %d from %d participants", stats.MessageCount, stats.ParticipantCount),
	}
	return strings.Join(lines, "\n")
}

func generateFooter(gen model.GenerationInfo) string {
	timestamp := time.Now().UTC().Format("2006-01-02T15:04:05Z")
	return fmt.Sprintf(
		"*Generated by archivekeeper on %s*\n*Prompt version: %s (%s)*\n*Model: %s | Cost: $%.4f*",
		timestamp, gen.PromptVersion, gen.PromptChecksum, gen.Model, gen.CostUSD,
	)
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
