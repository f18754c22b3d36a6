package schedule

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// nextRunParser accepts both canonical 6-field expressions (leading seconds
// field, as produced for natural-language schedules) and plain 5-field ones.
var nextRunParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// NextRun computes the earliest instant strictly after from that satisfies
// expr. The ? wildcard is normalized to * first since the evaluator's grammar
// does not recognize it. Callers must treat an error as "no value" and keep
// the previously computed run time.
func NextRun(expr string, from time.Time) (time.Time, error) {
	normalized := strings.ReplaceAll(expr, "?", "*")

	sched, err := nextRunParser.Parse(normalized)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse cron expression %q: %w", expr, err)
	}

	next := sched.Next(from)
	if next.IsZero() {
		return time.Time{}, fmt.Errorf("no upcoming run satisfies expression %q", expr)
	}
	return next, nil
}
