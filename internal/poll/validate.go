package poll

import (
	"html"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"

	"pollbot/internal/model"
)

const (
	MaxTitleLen = 100
	MaxOptions  = 10
	MaxNameLen  = 64
)

// OptionInput is one proposed slot as supplied by the caller.
type OptionInput struct {
	StartsAt time.Time
	Duration time.Duration
}

// strict is only used to detect markup: titles are stored as typed and
// escaped at render time, so a title that holds tags is refused rather than
// silently cut down.
var strict = bluemonday.StrictPolicy()

// cleanText collapses whitespace.
func cleanText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// hasMarkup reports whether an HTML parser would read part of s as a tag or
// comment. Bare '<', '>' and '&' in prose do not count.
func hasMarkup(s string) bool {
	plain := cleanText(html.UnescapeString(s))
	return cleanText(html.UnescapeString(strict.Sanitize(s))) != plain
}

func cleanTitle(raw string) (string, error) {
	title := cleanText(raw)
	if title == "" {
		return "", model.Invalid("title", "title must not be empty")
	}
	if hasMarkup(title) {
		return "", model.Invalid("title", "title must be plain text without HTML tags")
	}
	if n := utf8.RuneCountInString(title); n > MaxTitleLen {
		return "", model.Invalid("title", "title is %d characters, at most %d allowed", n, MaxTitleLen)
	}
	return title, nil
}

// cleanName never fails; an unusable display name falls back to a placeholder.
func cleanName(raw string) string {
	name := cleanText(raw)
	if name == "" {
		return "someone"
	}
	if utf8.RuneCountInString(name) > MaxNameLen {
		r := []rune(name)
		name = string(r[:MaxNameLen])
	}
	return name
}

func validateOptions(in []OptionInput) error {
	if len(in) == 0 {
		return model.Invalid("options", "at least one option is required")
	}
	if len(in) > MaxOptions {
		return model.Invalid("options", "%d options given, at most %d allowed", len(in), MaxOptions)
	}
	for i, o := range in {
		if o.StartsAt.IsZero() {
			return model.Invalid("options", "option %d has no start time", i+1)
		}
		if o.Duration <= 0 {
			return model.Invalid("options", "option %d duration must be positive", i+1)
		}
		if o.Duration%time.Second != 0 {
			return model.Invalid("options", "option %d duration must be whole seconds", i+1)
		}
	}
	return nil
}

func validateDeadline(deadline, now time.Time) error {
	if deadline.IsZero() {
		return model.Invalid("deadline", "deadline is required")
	}
	if deadline.Before(now) {
		return model.ErrInvalidDeadline
	}
	return nil
}

// SettingsPatch changes only the fields that are set.
type SettingsPatch struct {
	Timezone        *string
	DefaultDuration *time.Duration
	ReminderLead    *time.Duration
}

func (p SettingsPatch) apply(cur model.GroupSettings) (model.GroupSettings, error) {
	next := cur
	if p.Timezone != nil {
		tz := strings.TrimSpace(*p.Timezone)
		if _, err := time.LoadLocation(tz); err != nil || tz == "" || strings.EqualFold(tz, "local") {
			return cur, model.Invalid("timezone", "unknown timezone %q", tz)
		}
		next.Timezone = tz
	}
	if p.DefaultDuration != nil {
		d := *p.DefaultDuration
		if d <= 0 || d%time.Minute != 0 {
			return cur, model.Invalid("duration", "default duration must be a positive number of minutes")
		}
		next.DefaultDuration = d
	}
	if p.ReminderLead != nil {
		d := *p.ReminderLead
		// Zero turns the per-group reminder off; global thresholds still apply.
		if d < 0 || d%time.Second != 0 {
			return cur, model.Invalid("lead", "reminder lead must be zero or a positive number of seconds")
		}
		next.ReminderLead = d
	}
	return next, nil
}
