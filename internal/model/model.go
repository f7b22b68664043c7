package model

import (
	"time"

	"github.com/google/uuid"
)

// NewID returns a random, globally unique identifier.
func NewID() string { return uuid.NewString() }

type Status string

const (
	StatusActive    Status = "active"
	StatusConfirmed Status = "confirmed"
	StatusCancelled Status = "cancelled"
)

func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusConfirmed, StatusCancelled:
		return true
	}
	return false
}

// Terminal reports whether no transition leaves s.
func (s Status) Terminal() bool { return s == StatusConfirmed || s == StatusCancelled }

// CanTransition reports whether s -> to is a legal poll transition.
// Only Active -> Confirmed and Active -> Cancelled exist.
func (s Status) CanTransition(to Status) bool {
	return s == StatusActive && to.Terminal()
}

type VoteValue string

const (
	VoteYes   VoteValue = "yes"
	VoteNo    VoteValue = "no"
	VoteMaybe VoteValue = "maybe"
)

func (v VoteValue) Valid() bool {
	switch v {
	case VoteYes, VoteNo, VoteMaybe:
		return true
	}
	return false
}

// Member identifies a chat user acting on a poll.
type Member struct {
	ID   int64
	Name string
}

// MessageRef points at the chat message that renders a poll.
// A zero MessageID means the poll has not been posted yet.
type MessageRef struct {
	ChatID    int64
	ThreadID  int
	MessageID int
}

// GroupSettings are the per-chat defaults.
type GroupSettings struct {
	Timezone        string
	DefaultDuration time.Duration
	ReminderLead    time.Duration
}

// DefaultGroupSettings matches what a freshly seen chat gets.
func DefaultGroupSettings() GroupSettings {
	return GroupSettings{
		Timezone:        "UTC",
		DefaultDuration: 240 * time.Minute,
		ReminderLead:    24 * time.Hour,
	}
}

type Group struct {
	ID        string
	ChatID    int64
	Settings  GroupSettings
	CreatedAt time.Time
}

// Location resolves the group timezone, falling back to UTC.
func (g Group) Location() *time.Location {
	if g.Settings.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(g.Settings.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

type Poll struct {
	ID        string
	GroupID   string
	Title     string
	Message   MessageRef
	Status    Status
	Deadline  *time.Time
	CreatedBy int64
	CreatedAt time.Time
}

// Option is one candidate slot. Position is the creation order within the poll (1-based).
type Option struct {
	ID        string
	PollID    string
	Position  int
	StartsAt  time.Time
	Duration  time.Duration
	Confirmed bool
}

// Vote is one member's stance on one option. VoterName is denormalized so
// rendering never needs an identity lookup.
type Vote struct {
	ID        string
	PollID    string
	OptionID  string
	VoterID   int64
	VoterName string
	Value     VoteValue
	VotedAt   time.Time
}

// ReminderReceipt marks a (poll, threshold) reminder as sent.
type ReminderReceipt struct {
	ID        string
	PollID    string
	Threshold time.Duration
	SentAt    time.Time
}

// DuePoll is the reminder scan row: an active poll with a deadline and the
// group data needed to address and configure its reminders.
type DuePoll struct {
	PollID       string
	GroupID      string
	Title        string
	Deadline     time.Time
	Target       MessageRef
	Timezone     string
	ReminderLead time.Duration
}

// PollState is a poll with everything needed to tally and render it, read
// in one consistent snapshot.
type PollState struct {
	Group   Group
	Poll    Poll
	Options []Option
	Votes   []Vote
}

// OptionAt returns the option with the given 1-based position.
func (s PollState) OptionAt(pos int) (Option, bool) {
	for _, o := range s.Options {
		if o.Position == pos {
			return o, true
		}
	}
	return Option{}, false
}

// ConfirmedOption returns the option chosen by ConfirmPoll, if any.
func (s PollState) ConfirmedOption() (Option, bool) {
	for _, o := range s.Options {
		if o.Confirmed {
			return o, true
		}
	}
	return Option{}, false
}
