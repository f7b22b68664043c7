package app

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"pollbot/internal/config"
	"pollbot/internal/model"
	"pollbot/internal/notifier"
	"pollbot/internal/reminder"
	"pollbot/internal/storage"
	logx "pollbot/pkg/logx"
)

var defaultThresholds = []time.Duration{24 * time.Hour, time.Hour}

func mapLoggingConfig(cfg *config.Config) logx.Config {
	out := logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Telegram: logx.TelegramConfig{
			Enabled:    cfg.Logging.Telegram.Enabled,
			ThreadID:   cfg.Logging.Telegram.ThreadID,
			MinLevel:   cfg.Logging.Telegram.MinLevel,
			RatePerSec: cfg.Logging.Telegram.RatePerSec,
		},
	}
	// No target chat means nowhere to forward to.
	if id, err := strconv.ParseInt(strings.TrimSpace(cfg.Telegram.GroupLog), 10, 64); err == nil && id != 0 {
		out.Telegram.ChatID = id
	} else {
		out.Telegram.Enabled = false
	}
	return out
}

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	busy, err := config.ParseDurationOrDefault("storage.busy_timeout", cfg.Storage.BusyTimeout, time.Second)
	if err != nil {
		return storage.Config{}, err
	}
	path := strings.TrimSpace(cfg.Storage.Path)
	if path == "" {
		path = "./pollbot.db"
	}
	return storage.Config{
		Driver:      strings.TrimSpace(cfg.Storage.Driver),
		Path:        path,
		BusyTimeout: busy,
	}, nil
}

func mapNotifierConfig(cfg *config.Config) (notifier.Config, error) {
	n := cfg.Notifier
	if n == nil {
		return notifier.Config{RetryMax: 3}, nil
	}
	base, err := config.ParseDurationField("notifier.retry_base", n.RetryBase)
	if err != nil {
		return notifier.Config{}, err
	}
	maxDelay, err := config.ParseDurationField("notifier.retry_max_delay", n.RetryMaxDelay)
	if err != nil {
		return notifier.Config{}, err
	}
	sendTimeout, err := config.ParseDurationField("notifier.send_timeout", n.SendTimeout)
	if err != nil {
		return notifier.Config{}, err
	}
	if base > 0 && maxDelay > 0 && maxDelay < base {
		return notifier.Config{}, fmt.Errorf("notifier.retry_max_delay must be >= notifier.retry_base")
	}
	return notifier.Config{
		RatePerSec:    n.RatePerSec,
		RetryMax:      n.RetryMax,
		RetryBase:     base,
		RetryMaxDelay: maxDelay,
		SendTimeout:   sendTimeout,
	}, nil
}

func mapReminderConfig(cfg *config.Config) (reminder.Config, error) {
	thresholds, err := config.ParseDurations("reminders.thresholds", cfg.Reminders.Thresholds, defaultThresholds)
	if err != nil {
		return reminder.Config{}, err
	}
	tickTimeout, err := config.ParseDurationField("reminders.tick_timeout", cfg.Reminders.TickTimeout)
	if err != nil {
		return reminder.Config{}, err
	}
	schedule := strings.TrimSpace(cfg.Reminders.Schedule)
	if schedule != "" {
		if _, err := reminder.ParseTick(schedule); err != nil {
			return reminder.Config{}, fmt.Errorf("reminders.schedule: %w", err)
		}
	}
	return reminder.Config{
		Enabled:     cfg.Reminders.IsEnabled(),
		Schedule:    schedule,
		Thresholds:  thresholds,
		TickTimeout: tickTimeout,
	}, nil
}

// mapGroupDefaults overlays the configured new-group defaults on the
// built-in ones. An explicit "0" reminder lead turns the group lead off.
func mapGroupDefaults(cfg *config.Config) (model.GroupSettings, error) {
	def := model.DefaultGroupSettings()
	p := cfg.Polls
	if tz := strings.TrimSpace(p.DefaultTimezone); tz != "" {
		def.Timezone = tz
	}
	d, err := config.ParseDurationOrDefault("polls.default_duration", p.DefaultDuration, def.DefaultDuration)
	if err != nil {
		return model.GroupSettings{}, err
	}
	def.DefaultDuration = d
	if strings.TrimSpace(p.ReminderLead) != "" {
		d, err := config.ParseDurationField("polls.reminder_lead", p.ReminderLead)
		if err != nil {
			return model.GroupSettings{}, err
		}
		def.ReminderLead = d
	}
	return def, nil
}
