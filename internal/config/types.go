package config

// Config is the on-disk configuration. JSON and YAML share one strict
// decoder, so unknown keys fail the load instead of being ignored.
//
// All durations are Go duration strings ("500ms", "10s", "24h").
type Config struct {
	Telegram  TelegramConfig  `json:"telegram"`
	Logging   LoggingConfig   `json:"logging"`
	Storage   StorageConfig   `json:"storage"`
	Reminders RemindersConfig `json:"reminders"`
	Notifier  *NotifierConfig `json:"notifier,omitempty"`
	Polls     PollsConfig     `json:"polls"`
}

type TelegramConfig struct {
	Token        string  `json:"token"`
	OwnerUserIDs []int64 `json:"owner_user_ids"`
	GroupLog     string  `json:"group_log"`
	PollTimeout  string  `json:"poll_timeout"`
	// Workers bounds concurrent update handling. Default 4.
	Workers int `json:"workers,omitempty"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	ThreadID   int    `json:"thread_id"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// StorageConfig selects the persistence backend.
//
//	"storage": { "driver": "sqlite", "path": "./pollbot.db", "busy_timeout": "5s" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

// RemindersConfig drives the reminder scheduler.
//
// Enabled is a pointer so an omitted key defaults to on.
type RemindersConfig struct {
	Enabled *bool `json:"enabled,omitempty"`
	// Schedule is a cron expression or interval ("1m", "*/5 * * * *").
	Schedule    string   `json:"schedule,omitempty"`
	Thresholds  []string `json:"thresholds,omitempty"`
	TickTimeout string   `json:"tick_timeout,omitempty"`
}

// NotifierConfig paces outbound reminder delivery. When the section is
// omitted the runtime defaults apply.
type NotifierConfig struct {
	RatePerSec    int    `json:"rate_per_sec"`
	RetryMax      int    `json:"retry_max"`
	RetryBase     string `json:"retry_base"`
	RetryMaxDelay string `json:"retry_max_delay"`
	SendTimeout   string `json:"send_timeout,omitempty"`
}

// PollsConfig holds engine policy and new-group defaults.
type PollsConfig struct {
	// Authorization is "creator" (default) or "anyone".
	Authorization   string `json:"authorization,omitempty"`
	DefaultTimezone string `json:"default_timezone,omitempty"`
	DefaultDuration string `json:"default_duration,omitempty"`
	ReminderLead    string `json:"reminder_lead,omitempty"`
}

func (r RemindersConfig) IsEnabled() bool { return r.Enabled == nil || *r.Enabled }
