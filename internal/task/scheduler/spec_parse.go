package scheduler

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// cronParser takes 5-field specs, 6-field specs with seconds, and the
// @hourly style descriptors.
var cronParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Schedule is a validated periodic trigger. Exactly one of Cron and Every
// is set.
type Schedule struct {
	Cron  string
	Every time.Duration
}

func (s Schedule) String() string {
	if s.Every > 0 {
		return "@every " + s.Every.String()
	}
	return s.Cron
}

// ParseSchedule accepts a cron expression ("* * * * *", "0 */5 * * * *",
// "@hourly"), "@every <duration>" or a bare duration such as "90s".
func ParseSchedule(raw string) (Schedule, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return Schedule{}, fmt.Errorf("schedule is empty")
	}
	if rest, ok := strings.CutPrefix(s, "@every "); ok {
		return parseEvery(raw, rest)
	}
	if strings.HasPrefix(s, "@") || strings.ContainsAny(s, " \t") {
		if _, err := cronParser.Parse(s); err != nil {
			return Schedule{}, fmt.Errorf("schedule %q: %w", raw, err)
		}
		return Schedule{Cron: s}, nil
	}
	return parseEvery(raw, s)
}

func parseEvery(raw, v string) (Schedule, error) {
	d, err := time.ParseDuration(strings.TrimSpace(v))
	if err != nil {
		return Schedule{}, fmt.Errorf("schedule %q is neither a cron expression nor a duration", raw)
	}
	if d < time.Second {
		return Schedule{}, fmt.Errorf("schedule %q: interval must be at least 1s", raw)
	}
	return Schedule{Every: d}, nil
}
