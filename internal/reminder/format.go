package reminder

import (
	"fmt"
	"strings"
	"time"

	"pollbot/internal/model"
	"pollbot/pkg/tgui"
)

// Formatter renders the reminder text for one (poll, threshold) pair.
type Formatter interface {
	Reminder(p model.DuePoll, threshold time.Duration, now time.Time) string
}

// HTMLFormatter renders reminders for Telegram's HTML parse mode, with the
// deadline shown in the group's timezone.
type HTMLFormatter struct{}

func (HTMLFormatter) Reminder(p model.DuePoll, threshold time.Duration, now time.Time) string {
	loc := time.UTC
	if l, err := time.LoadLocation(p.Timezone); err == nil && p.Timezone != "" {
		loc = l
	}
	at := p.Deadline.In(loc).Format("Mon 02 Jan 15:04 MST")
	b := tgui.New().Title("⏰", "Reminder: "+p.Title)
	if left := p.Deadline.Sub(now); left > 0 {
		b.Line(fmt.Sprintf("Voting closes in %s (%s).", FormatLead(left), at)).
			Line("Cast your votes on the poll above if you have not yet.")
	} else {
		b.Line(fmt.Sprintf("The voting deadline has passed (%s).", at)).
			Line("The poll is still open: confirm a slot or cancel it.")
	}
	b.HTML(tgui.JoinH(" ", tgui.I("reminder"), tgui.Code(FormatLead(threshold)+" before deadline")))
	return b.Build().Text
}

// FormatLead renders a duration compactly: "1d", "2d3h", "1h", "45m", "30s".
func FormatLead(d time.Duration) string {
	if d <= 0 {
		return "0m"
	}
	d = d.Round(time.Second)
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d/time.Second))
	}
	d = d.Round(time.Minute)
	days := d / (24 * time.Hour)
	d -= days * 24 * time.Hour
	hours := d / time.Hour
	d -= hours * time.Hour
	mins := d / time.Minute

	var b strings.Builder
	if days > 0 {
		fmt.Fprintf(&b, "%dd", days)
	}
	if hours > 0 {
		fmt.Fprintf(&b, "%dh", hours)
	}
	if mins > 0 && days == 0 {
		fmt.Fprintf(&b, "%dm", mins)
	}
	if b.Len() == 0 {
		return "0m"
	}
	return b.String()
}
