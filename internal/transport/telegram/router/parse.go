package router

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"pollbot/internal/model"
	"pollbot/internal/poll"
)

// DateLayout is the only accepted date form. Dates are read in the group's
// timezone.
const DateLayout = "2006-01-02 15:04"

// parseWhen parses "YYYY-MM-DD HH:MM" in loc.
func parseWhen(raw string, loc *time.Location) (time.Time, error) {
	s := strings.Join(strings.Fields(raw), " ")
	t, err := time.ParseInLocation(DateLayout, s, loc)
	if err != nil {
		return time.Time{}, model.Invalid("date", "%q is not YYYY-MM-DD HH:MM", raw)
	}
	return t, nil
}

// parseSlot parses one option: a date with an optional "/minutes" suffix.
// Without the suffix the group default applies.
func parseSlot(raw string, loc *time.Location, def time.Duration) (poll.OptionInput, error) {
	date, mins, hasMins := strings.Cut(strings.TrimSpace(raw), "/")
	start, err := parseWhen(date, loc)
	if err != nil {
		return poll.OptionInput{}, err
	}
	d := def
	if hasMins {
		n, err := strconv.Atoi(strings.TrimSpace(mins))
		if err != nil || n <= 0 {
			return poll.OptionInput{}, model.Invalid("duration", "%q is not a positive number of minutes", mins)
		}
		d = time.Duration(n) * time.Minute
	}
	return poll.OptionInput{StartsAt: start, Duration: d}, nil
}

// parsePollArgs splits "/poll Title | slot | slot ..." into a title and its
// option inputs.
func parsePollArgs(args string, loc *time.Location, def time.Duration) (string, []poll.OptionInput, error) {
	parts := strings.Split(args, "|")
	title := strings.TrimSpace(parts[0])
	if title == "" {
		return "", nil, model.Invalid("title", "usage: /poll Title | %s[/minutes] | ...", DateLayout)
	}
	var opts []poll.OptionInput
	for i, p := range parts[1:] {
		if strings.TrimSpace(p) == "" {
			continue
		}
		in, err := parseSlot(p, loc, def)
		if err != nil {
			var ve *model.ValidationError
			if errors.As(err, &ve) {
				ve = &model.ValidationError{Field: fmt.Sprintf("option %d", i+1), Msg: ve.Msg}
				return "", nil, ve
			}
			return "", nil, err
		}
		opts = append(opts, in)
	}
	return title, opts, nil
}

// parseSettings reads "key value" pairs for /settings: tz, duration
// (minutes) and lead (a Go duration such as 24h, or 0 to turn it off).
func parseSettings(args []string) (poll.SettingsPatch, error) {
	var p poll.SettingsPatch
	if len(args)%2 != 0 {
		return p, model.Invalid("settings", "usage: /settings [tz Zone] [duration minutes] [lead 24h]")
	}
	for i := 0; i < len(args); i += 2 {
		key, val := strings.ToLower(args[i]), args[i+1]
		switch key {
		case "tz", "timezone":
			v := val
			p.Timezone = &v
		case "duration":
			n, err := strconv.Atoi(val)
			if err != nil {
				return p, model.Invalid("duration", "%q is not a number of minutes", val)
			}
			d := time.Duration(n) * time.Minute
			p.DefaultDuration = &d
		case "lead":
			d, err := time.ParseDuration(val)
			if val == "0" {
				d, err = 0, nil
			}
			if err != nil {
				return p, model.Invalid("lead", "%q is not a duration like 24h or 90m", val)
			}
			p.ReminderLead = &d
		default:
			return p, model.Invalid("settings", "unknown setting %q", key)
		}
	}
	return p, nil
}

// splitCommand returns the command word without '/' or "@bot", and the
// remaining text.
func splitCommand(text string) (string, string) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return "", ""
	}
	word, rest, _ := strings.Cut(text[1:], " ")
	if i := strings.IndexByte(word, '\n'); i >= 0 {
		rest = word[i+1:] + " " + rest
		word = word[:i]
	}
	if i := strings.IndexByte(word, '@'); i >= 0 {
		word = word[:i]
	}
	return strings.ToLower(word), strings.TrimSpace(rest)
}

// shortID is the display form of a poll id.
func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
