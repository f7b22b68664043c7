package router

import (
	"errors"
	"testing"
	"time"

	"pollbot/internal/model"
)

func TestParsePollArgs(t *testing.T) {
	t.Parallel()
	berlin, err := time.LoadLocation("Europe/Berlin")
	if err != nil {
		t.Skip("tzdata unavailable")
	}
	title, opts, err := parsePollArgs("  Board games |2026-10-16 19:00/90| 2026-10-17  14:00 | ", berlin, 4*time.Hour)
	if err != nil {
		t.Fatalf("parsePollArgs: %v", err)
	}
	if title != "Board games" || len(opts) != 2 {
		t.Fatalf("got %q %+v", title, opts)
	}
	if !opts[0].StartsAt.Equal(time.Date(2026, 10, 16, 17, 0, 0, 0, time.UTC)) || opts[0].Duration != 90*time.Minute {
		t.Fatalf("first option = %+v", opts[0])
	}
	if opts[1].Duration != 4*time.Hour {
		t.Fatalf("default duration not applied: %+v", opts[1])
	}
}

func TestParsePollArgsErrors(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name  string
		args  string
		field string
	}{
		{name: "no title", args: " | 2026-10-16 19:00", field: "title"},
		{name: "loose date", args: "T | next friday", field: "option 1"},
		{name: "bad minutes", args: "T | 2026-10-16 19:00 | 2026-10-17 19:00/0", field: "option 2"},
		{name: "seconds", args: "T | 2026-10-16 19:00:30", field: "option 1"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := parsePollArgs(tt.args, time.UTC, time.Hour)
			var ve *model.ValidationError
			if !errors.As(err, &ve) || ve.Field != tt.field {
				t.Fatalf("err = %v, want validation error on %q", err, tt.field)
			}
		})
	}
}

func TestParseSettings(t *testing.T) {
	t.Parallel()
	p, err := parseSettings([]string{"TZ", "Asia/Tokyo", "duration", "30", "lead", "0"})
	if err != nil {
		t.Fatalf("parseSettings: %v", err)
	}
	if *p.Timezone != "Asia/Tokyo" || *p.DefaultDuration != 30*time.Minute || *p.ReminderLead != 0 {
		t.Fatalf("patch = %+v", p)
	}
	for _, bad := range [][]string{{"tz"}, {"colour", "red"}, {"lead", "soon"}, {"duration", "x"}} {
		if _, err := parseSettings(bad); !errors.Is(err, model.ErrValidation) {
			t.Fatalf("parseSettings(%q) err = %v", bad, err)
		}
	}
}

func TestSplitCommand(t *testing.T) {
	t.Parallel()
	tests := []struct{ in, word, rest string }{
		{"/poll A | B", "poll", "A | B"},
		{"/Poll@PollBot  x", "poll", "x"},
		{"/list", "list", ""},
		{"hello", "", ""},
	}
	for _, tt := range tests {
		w, r := splitCommand(tt.in)
		if w != tt.word || r != tt.rest {
			t.Fatalf("splitCommand(%q) = %q, %q", tt.in, w, r)
		}
	}
}

func TestSplitCallback(t *testing.T) {
	t.Parallel()
	if cb := splitCallback("p:v:abc:2:m"); cb == nil || cb.pos != 2 || cb.vote != model.VoteMaybe {
		t.Fatalf("vote callback = %+v", cb)
	}
	if cb := splitCallback("\fp:c:abc:1"); cb == nil || cb.action != cbConfirm || cb.pos != 1 {
		t.Fatalf("confirm callback = %+v", cb)
	}
	if cb := splitCallback("p:x:abc"); cb == nil || cb.action != cbCancel {
		t.Fatalf("cancel callback = %+v", cb)
	}
	for _, bad := range []string{"", "q:v:abc:1:y", "p:v:abc:1:q", "p:v:abc:0:y", "p:c:abc", "p:x::", "p:z:abc"} {
		if cb := splitCallback(bad); cb != nil {
			t.Fatalf("splitCallback(%q) = %+v, want nil", bad, cb)
		}
	}
}
