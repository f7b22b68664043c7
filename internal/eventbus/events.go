package eventbus

import "time"

// Event types published by the poll engine, the reminder scheduler and the
// notifier.
const (
	PollCreated     = "poll.created"
	PollVoted       = "poll.voted"
	PollConfirmed   = "poll.confirmed"
	PollCancelled   = "poll.cancelled"
	PollDeadlineSet = "poll.deadline_set"

	ReminderSent    = "reminder.sent"
	ReminderFailed  = "reminder.failed"
	ReminderSkipped = "reminder.skipped"

	NotifySent   = "notifier.sent"
	NotifyFailed = "notifier.failed"
)

// PollEvent is the payload of the poll.* events.
type PollEvent struct {
	PollID   string
	GroupID  string
	ActorID  int64
	OptionID string `json:",omitempty"`
	Value    string `json:",omitempty"`
}

// ReminderEvent is the payload of the reminder.* events.
type ReminderEvent struct {
	PollID    string
	Threshold time.Duration
	Deadline  time.Time
	Error     string `json:",omitempty"`
}

// DeliveryEvent is the payload of the notifier.* events.
type DeliveryEvent struct {
	ChatID   int64
	ThreadID int
	Attempts int
	Error    string `json:",omitempty"`
}
