// Package scanner detects coverage gaps and outdated summaries across an
// archived source, per spec §4.6. Grounded on
// original_source/archive/scanner.py's ArchiveScanner.
package scanner

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/nextlevelbuilder/archivekeeper/internal/archive/model"
)

// OutdatedThreshold controls how large a prompt-version bump must be before
// a complete summary is flagged as outdated.
type OutdatedThreshold string

const (
	ThresholdMajor OutdatedThreshold = "major"
	ThresholdMinor OutdatedThreshold = "minor"
	ThresholdPatch OutdatedThreshold = "patch"
)

// GapReason classifies why a run of days has no usable summary.
type GapReason string

const (
	GapMissing           GapReason = "missing"
	GapFailed            GapReason = "failed"
	GapNoMessages        GapReason = "no_messages"
	GapExportUnavailable GapReason = "export_unavailable"
)

// SummaryInfo is what the scanner learned about one day from its sidecar.
type SummaryInfo struct {
	Date               time.Time
	Status             model.SummaryStatus
	PromptVersion      string
	PromptChecksum     string
	IsBackfillEligible bool
	IncompleteReason   model.IncompleteReasonCode
	MetaPath           string
}

// Gap is one contiguous run of days without a usable summary.
type Gap struct {
	StartDate       time.Time
	EndDate         time.Time
	Reason          GapReason
	Days            int
	BackfillEligible bool
}

// Outdated records a complete summary generated against a stale prompt.
type Outdated struct {
	Date           time.Time
	CurrentVersion string
	SummaryVersion string
	MetaPath       string
}

// Result is the outcome of scanning one source over a date range.
type Result struct {
	Source      model.Source
	TotalDays   int
	Complete    int
	Failed      int
	Missing     int
	Outdated    int
	Summaries   []SummaryInfo
	Gaps        []Gap
	OutdatedSummaries []Outdated
	EarliestDate time.Time
	LatestDate   time.Time
}

// Options configures ScanSource.
type Options struct {
	StartDate            time.Time // zero value: earliest date found, or 30 days ago
	EndDate              time.Time // zero value: yesterday, clamped to latest found date
	CurrentPromptVersion string
	OutdatedThreshold    OutdatedThreshold
}

// Scanner walks an archive root looking for coverage gaps.
type Scanner struct {
	archiveRoot string
}

// New returns a Scanner rooted at archiveRoot.
func New(archiveRoot string) *Scanner {
	return &Scanner{archiveRoot: archiveRoot}
}

// ScanSource scans one source for gaps and outdated summaries over opts'
// date range, defaulting per original_source's rules when unset.
func (s *Scanner) ScanSource(source model.Source, opts Options) (Result, error) {
	dir := source.SummariesDir(s.archiveRoot)

	summaries := map[string]SummaryInfo{} // keyed by "2006-01-02"
	if info, err := os.Stat(dir); err == nil && info.IsDir() {
		err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() || !strings.HasSuffix(path, ".meta.json") {
				return nil
			}
			si, ok, parseErr := parseMetaFile(path)
			if parseErr != nil {
				slog.Warn("failed to parse sidecar during scan", "path", path, "error", parseErr)
				return nil
			}
			if ok {
				summaries[si.Date.Format("2006-01-02")] = si
			}
			return nil
		})
		if err != nil {
			return Result{}, err
		}
	}

	threshold := opts.OutdatedThreshold
	if threshold == "" {
		threshold = ThresholdMinor
	}

	yesterday := truncateDay(time.Now().UTC().AddDate(0, 0, -1))

	var earliest, latest time.Time
	if len(summaries) > 0 {
		dates := sortedDates(summaries)
		if !opts.StartDate.IsZero() {
			earliest = truncateDay(opts.StartDate)
		} else {
			earliest = dates[0]
		}
		latestFound := dates[len(dates)-1]
		if !opts.EndDate.IsZero() {
			latest = truncateDay(opts.EndDate)
		} else if latestFound.Before(yesterday) {
			latest = latestFound
		} else {
			latest = yesterday
		}
	} else {
		if !opts.StartDate.IsZero() {
			earliest = truncateDay(opts.StartDate)
		} else {
			earliest = truncateDay(time.Now().UTC().AddDate(0, 0, -30))
		}
		if !opts.EndDate.IsZero() {
			latest = truncateDay(opts.EndDate)
		} else {
			latest = yesterday
		}
	}

	var (
		complete, failed, missing, outdatedCount int
		gaps                                     []Gap
		outdatedList                             []Outdated
		gapStart                                 time.Time
		gapHasFailed                             bool
	)
	gapOpen := false

	for day := earliest; !day.After(latest); day = day.AddDate(0, 0, 1) {
		key := day.Format("2006-01-02")
		info, exists := summaries[key]

		switch {
		case !exists:
			missing++
			if !gapOpen {
				gapStart, gapOpen = day, true
			}
		case info.Status == model.StatusComplete:
			complete++
			if opts.CurrentPromptVersion != "" && info.PromptVersion != "" {
				if isOutdated(info.PromptVersion, opts.CurrentPromptVersion, threshold) {
					outdatedCount++
					outdatedList = append(outdatedList, Outdated{
						Date:           day,
						CurrentVersion: opts.CurrentPromptVersion,
						SummaryVersion: info.PromptVersion,
						MetaPath:       info.MetaPath,
					})
				}
			}
			if gapOpen {
				reason := GapMissing
				if gapHasFailed {
					reason = GapFailed
				}
				gaps = append(gaps, newGap(gapStart, day.AddDate(0, 0, -1), reason, true))
				gapOpen = false
				gapHasFailed = false
			}
		case info.Status == model.StatusIncomplete:
			failed++
			if info.IsBackfillEligible {
				if !gapOpen {
					gapStart, gapOpen = day, true
				}
				gapHasFailed = true
			} else if gapOpen {
				// A non-eligible incomplete day (e.g. NO_MESSAGES) is a
				// resolved slot, not a backfill candidate — close any gap
				// open before it instead of sweeping it in as eligible.
				reason := GapMissing
				if gapHasFailed {
					reason = GapFailed
				}
				gaps = append(gaps, newGap(gapStart, day.AddDate(0, 0, -1), reason, true))
				gapOpen = false
				gapHasFailed = false
			}
		default:
			missing++
			if !gapOpen {
				gapStart, gapOpen = day, true
			}
		}
	}

	if gapOpen {
		gaps = append(gaps, newGap(gapStart, latest, GapMissing, true))
	}

	infos := make([]SummaryInfo, 0, len(summaries))
	for _, si := range summaries {
		infos = append(infos, si)
	}

	return Result{
		Source:            source,
		TotalDays:         int(latest.Sub(earliest).Hours()/24) + 1,
		Complete:          complete,
		Failed:            failed,
		Missing:           missing,
		Outdated:          outdatedCount,
		Summaries:         infos,
		Gaps:              gaps,
		OutdatedSummaries: outdatedList,
		EarliestDate:      earliest,
		LatestDate:        latest,
	}, nil
}

// GetBackfillCandidates returns the sorted list of dates needing backfill:
// every day inside a backfill-eligible gap, plus outdated days when
// requested.
func (s *Scanner) GetBackfillCandidates(source model.Source, includeOutdated bool, currentPromptVersion string) ([]time.Time, error) {
	opts := Options{}
	if includeOutdated {
		opts.CurrentPromptVersion = currentPromptVersion
	}
	result, err := s.ScanSource(source, opts)
	if err != nil {
		return nil, err
	}

	seen := map[string]bool{}
	var candidates []time.Time
	for _, gap := range result.Gaps {
		if !gap.BackfillEligible {
			continue
		}
		for d := gap.StartDate; !d.After(gap.EndDate); d = d.AddDate(0, 0, 1) {
			key := d.Format("2006-01-02")
			if !seen[key] {
				seen[key] = true
				candidates = append(candidates, d)
			}
		}
	}
	if includeOutdated {
		for _, o := range result.OutdatedSummaries {
			key := o.Date.Format("2006-01-02")
			if !seen[key] {
				seen[key] = true
				candidates = append(candidates, o.Date)
			}
		}
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].Before(candidates[j]) })
	return candidates, nil
}

func newGap(start, end time.Time, reason GapReason, eligible bool) Gap {
	days := int(end.Sub(start).Hours()/24) + 1
	return Gap{StartDate: start, EndDate: end, Reason: reason, Days: days, BackfillEligible: eligible}
}

func truncateDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func sortedDates(summaries map[string]SummaryInfo) []time.Time {
	dates := make([]time.Time, 0, len(summaries))
	for _, si := range summaries {
		dates = append(dates, si.Date)
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })
	return dates
}

func parseMetaFile(path string) (SummaryInfo, bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return SummaryInfo{}, false, err
	}

	var meta model.SummaryMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return SummaryInfo{}, false, err
	}
	if meta.Period.Start.IsZero() {
		return SummaryInfo{}, false, nil
	}

	info := SummaryInfo{
		Date:               truncateDay(meta.Period.Start),
		Status:             meta.Status,
		IsBackfillEligible: meta.BackfillEligible,
		MetaPath:           path,
	}
	if meta.Generation != nil {
		info.PromptVersion = meta.Generation.PromptVersion
		info.PromptChecksum = meta.Generation.PromptChecksum
	}
	if meta.IncompleteReason != nil {
		info.IncompleteReason = meta.IncompleteReason.Code
	}
	return info, true, nil
}

// isOutdated reports whether newVersion exceeds oldVersion by more than
// threshold, per dotted major.minor.patch version strings. Unparseable
// versions are treated as not outdated.
func isOutdated(oldVersion, newVersion string, threshold OutdatedThreshold) bool {
	oldParts, ok1 := parseVersion(oldVersion)
	newParts, ok2 := parseVersion(newVersion)
	if !ok1 || !ok2 {
		return false
	}

	switch threshold {
	case ThresholdMajor:
		return newParts[0] > oldParts[0]
	case ThresholdMinor:
		return newParts[0] > oldParts[0] || (newParts[0] == oldParts[0] && newParts[1] > oldParts[1])
	default: // patch
		for i := 0; i < 3; i++ {
			if newParts[i] != oldParts[i] {
				return newParts[i] > oldParts[i]
			}
		}
		return false
	}
}

func parseVersion(v string) ([3]int, bool) {
	var out [3]int
	parts := strings.Split(v, ".")
	if len(parts) > 3 {
		return out, false
	}
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			return out, false
		}
		out[i] = n
	}
	return out, true
}
