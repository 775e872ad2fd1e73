package cache

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/sosodev/duration"
)

// DefaultWorkflowTTL is the compiled-workflow lifetime when none is configured.
const DefaultWorkflowTTL = "PT5M"

// ParseISODuration parses the day-time subset of ISO-8601 durations
// ("PT5M", "PT1H30M", "P1DT12H", "PT0.5S"). Years, months and weeks are
// rejected because they have no fixed length, as are negative, zero and
// out-of-range durations.
func ParseISODuration(s string) (time.Duration, error) {
	if !strings.HasPrefix(s, "P") || strings.HasSuffix(s, "T") {
		return 0, fmt.Errorf("invalid ISO-8601 duration %q", s)
	}
	d, err := duration.Parse(s)
	if err != nil {
		return 0, fmt.Errorf("invalid ISO-8601 duration %q: %w", s, err)
	}
	if d.Years != 0 || d.Months != 0 || d.Weeks != 0 {
		return 0, fmt.Errorf("ISO-8601 duration %q uses calendar units", s)
	}
	if d.Negative || d.Days < 0 || d.Hours < 0 || d.Minutes < 0 || d.Seconds < 0 {
		return 0, fmt.Errorf("ISO-8601 duration %q must be positive", s)
	}

	secs := d.Days*86400 + d.Hours*3600 + d.Minutes*60 + d.Seconds
	if secs*float64(time.Second) >= math.MaxInt64 {
		return 0, fmt.Errorf("ISO-8601 duration %q is out of range", s)
	}
	out := time.Duration(math.Round(secs * float64(time.Second)))
	if out <= 0 {
		return 0, fmt.Errorf("ISO-8601 duration %q must be positive", s)
	}
	return out, nil
}
