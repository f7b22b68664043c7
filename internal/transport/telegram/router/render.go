package router

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"pollbot/internal/model"
	"pollbot/internal/poll"
	"pollbot/internal/reminder"
	"pollbot/pkg/tgui"
)

const slotLayout = "Mon 02 Jan 15:04"

var voteButtons = []struct {
	value model.VoteValue
	code  string
	label string
}{
	{model.VoteYes, "y", "✅"},
	{model.VoteMaybe, "m", "❔"},
	{model.VoteNo, "n", "❌"},
}

func voteFromCode(code string) (model.VoteValue, bool) {
	for _, b := range voteButtons {
		if b.code == code {
			return b.value, true
		}
	}
	return "", false
}

// renderSnapshot draws the poll message. Active polls get vote, confirm and
// cancel buttons; terminal polls are shown without a keyboard.
func renderSnapshot(s poll.Snapshot) tgui.Message {
	loc := s.Group.Location()
	b := tgui.New().Title("📅", s.Poll.Title)

	status := string(s.Poll.Status)
	b.HTML(tgui.JoinH(" · ", tgui.I(status), tgui.Raw("id "+tgui.Code(shortID(s.Poll.ID)).String())))
	if s.Poll.Deadline != nil {
		b.KV("Deadline", s.Poll.Deadline.In(loc).Format(slotLayout+" MST"))
	}
	b.Blank()

	best, _, hasBest := s.MostPopular()
	for _, o := range s.Options {
		t, _ := s.TallyFor(o.ID)
		head := tgui.JoinH(" ",
			tgui.B(strconv.Itoa(o.Position)+"."),
			tgui.Esc(o.StartsAt.In(loc).Format(slotLayout)),
			tgui.Esc("("+reminder.FormatLead(o.Duration)+")"),
		)
		switch {
		case o.Confirmed:
			head = tgui.JoinH(" ", head, tgui.B("✔ confirmed"))
		case hasBest && best.ID == o.ID && s.Poll.Status == model.StatusActive:
			head = tgui.JoinH(" ", head, tgui.Esc("⭐"))
		}
		b.HTML(head)
		b.HTML(tgui.JoinH(" · ", bucketLine("✅", t.Yes), bucketLine("❔", t.Maybe), bucketLine("❌", t.No)))
	}

	if s.Poll.Status == model.StatusActive {
		b.Inline(pollKeyboard(s))
	}
	return b.Build()
}

func bucketLine(label string, bk poll.Bucket) tgui.H {
	h := tgui.Esc(label + " " + strconv.Itoa(bk.Count))
	if len(bk.Names) > 0 {
		h = tgui.JoinH(": ", h, tgui.Esc(tgui.TruncRunes(strings.Join(bk.Names, ", "), 200)))
	}
	return h
}

func pollKeyboard(s poll.Snapshot) *tgui.Inline {
	kb := tgui.NewInline()
	for _, o := range s.Options {
		pos := strconv.Itoa(o.Position)
		row := make([]tgui.Button, 0, len(voteButtons)+1)
		for _, vb := range voteButtons {
			row = append(row, tgui.Btn(pos+" "+vb.label, tgui.MustData(cbPrefix, cbVote, s.Poll.ID, pos, vb.code)))
		}
		row = append(row, tgui.Btn(pos+" 📌", tgui.MustData(cbPrefix, cbConfirm, s.Poll.ID, pos)))
		kb.Row(row...)
	}
	kb.Row(tgui.Btn("Cancel poll", tgui.MustData(cbPrefix, cbCancel, s.Poll.ID)))
	return kb
}

func renderList(polls []model.Poll, loc *time.Location) tgui.Message {
	b := tgui.New().Title("🗂", "Polls")
	if len(polls) == 0 {
		return b.Line("No open or confirmed polls. Start one with /poll.").Build()
	}
	for _, p := range polls {
		line := tgui.JoinH(" ", tgui.Code(shortID(p.ID)), tgui.B(p.Title), tgui.I(string(p.Status)))
		if p.Deadline != nil && p.Status == model.StatusActive {
			line = tgui.JoinH(" ", line, tgui.Esc("until "+p.Deadline.In(loc).Format(slotLayout)))
		}
		b.HTML(line)
	}
	return b.Build()
}

func renderSettings(g model.Group) tgui.Message {
	lead := "off"
	if g.Settings.ReminderLead > 0 {
		lead = reminder.FormatLead(g.Settings.ReminderLead)
	}
	return tgui.New().
		Title("⚙️", "Chat settings").
		KV("Timezone", g.Settings.Timezone).
		KV("Default duration", fmt.Sprintf("%d min", int(g.Settings.DefaultDuration/time.Minute))).
		KV("Reminder lead", lead).
		Build()
}

// errorText turns an engine error into something a chat user can act on.
func errorText(err error) string {
	var ve *model.ValidationError
	var te *model.TransitionError
	switch {
	case errors.As(err, &ve):
		return "⚠️ " + ve.Error()
	case errors.Is(err, model.ErrPollNotFound):
		return "That poll does not exist."
	case errors.Is(err, model.ErrOptionNotFound):
		return "That option is not part of the poll."
	case errors.Is(err, model.ErrGroupNotFound):
		return "This chat is not set up yet, try again."
	case errors.As(err, &te):
		return "The poll is already " + string(te.From) + "."
	case errors.Is(err, model.ErrPollNotOpen):
		return "The poll is closed for voting."
	case errors.Is(err, model.ErrForbidden):
		return "Only the poll creator can do that."
	case errors.Is(err, model.ErrConflict):
		return "Someone changed the poll at the same time, please retry."
	case errors.Is(err, model.ErrStoreUnavailable):
		return "Storage is unavailable right now, try again shortly."
	default:
		return "Something went wrong."
	}
}
