package reminder

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Tick is a normalized tick schedule: either a cron expression or a fixed
// interval.
type Tick struct {
	Cron  string
	Every time.Duration
}

// Spec returns the robfig/cron spec for the tick.
func (t Tick) Spec() string {
	if t.Every > 0 {
		return "@every " + t.Every.String()
	}
	return t.Cron
}

var reHHMM = regexp.MustCompile(`^\s*(\d{1,3}):(\d{2})\s*$`)

// ParseTick accepts:
//   - cron: "*/5 * * * *", "@hourly", "@every 2m", or "cron:<expr>"
//   - interval: "1m", "90s", "00:05" (HH:MM), or "every:<interval>"
func ParseTick(raw string) (Tick, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return Tick{}, fmt.Errorf("schedule required")
	}

	low := strings.ToLower(s)
	switch {
	case strings.HasPrefix(low, "cron:"):
		expr := strings.TrimSpace(s[len("cron:"):])
		if expr == "" {
			return Tick{}, fmt.Errorf("cron schedule required after 'cron:'")
		}
		return Tick{Cron: expr}, nil
	case strings.HasPrefix(low, "every:"):
		d, err := parseInterval(s[len("every:"):])
		if err != nil {
			return Tick{}, err
		}
		return Tick{Every: d}, nil
	}

	if strings.HasPrefix(s, "@every") {
		d, err := parseInterval(strings.TrimPrefix(s, "@every"))
		if err != nil {
			return Tick{}, err
		}
		return Tick{Every: d}, nil
	}
	if strings.ContainsAny(s, " \t") || strings.HasPrefix(s, "@") {
		return Tick{Cron: s}, nil
	}
	d, err := parseInterval(s)
	if err != nil {
		return Tick{}, fmt.Errorf(
			"invalid schedule %q (use cron like '*/5 * * * *', HH:MM like '00:05', or duration like '1m')", raw)
	}
	return Tick{Every: d}, nil
}

func parseInterval(v string) (time.Duration, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0, fmt.Errorf("interval required")
	}
	var d time.Duration
	if m := reHHMM.FindStringSubmatch(v); m != nil {
		hh, _ := strconv.Atoi(m[1])
		mm, _ := strconv.Atoi(m[2])
		if mm > 59 {
			return 0, fmt.Errorf("invalid minutes in %q", v)
		}
		d = time.Duration(hh)*time.Hour + time.Duration(mm)*time.Minute
	} else {
		var err error
		if d, err = time.ParseDuration(v); err != nil {
			return 0, fmt.Errorf("invalid interval %q", v)
		}
	}
	if d < time.Second {
		return 0, fmt.Errorf("interval must be at least 1s")
	}
	return d, nil
}
