package sync

import (
	"fmt"
	"time"

	"github.com/adhocore/gronx"
)

// Due reports whether cronExpr's schedule has a tick in (since, now]. An
// empty cronExpr is always due. Used by `sync run --if-due` so a single
// tightly-ticking external cron entry can drive several sources, each
// configured with its own sync_frequency, without archivekeeper itself
// running as a daemon.
func Due(cronExpr string, since, now time.Time) (bool, error) {
	if cronExpr == "" {
		return true, nil
	}
	if since.IsZero() {
		return true, nil
	}

	if !gronx.IsValid(cronExpr) {
		return false, fmt.Errorf("invalid sync_frequency cron expression %q", cronExpr)
	}

	next, err := gronx.NextTickAfter(cronExpr, since, false)
	if err != nil {
		return false, fmt.Errorf("compute next tick for %q: %w", cronExpr, err)
	}
	return !next.After(now), nil
}
