package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Validate checks values a decoder cannot: durations, enums and zones.
// Every problem is reported, not just the first.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	check := func(path, raw string) {
		if _, err := ParseDurationField(path, raw); err != nil {
			errs = append(errs, err)
		}
	}

	check("telegram.poll_timeout", cfg.Telegram.PollTimeout)
	if cfg.Telegram.Workers < 0 {
		errs = append(errs, errors.New("telegram.workers must be >= 0"))
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)) {
	case "", "sqlite", "sqlite3":
	default:
		errs = append(errs, fmt.Errorf("storage.driver: unsupported %q", cfg.Storage.Driver))
	}
	check("storage.busy_timeout", cfg.Storage.BusyTimeout)

	check("reminders.tick_timeout", cfg.Reminders.TickTimeout)
	for i, raw := range cfg.Reminders.Thresholds {
		d, err := ParseDurationField(fmt.Sprintf("reminders.thresholds[%d]", i), raw)
		if err == nil && d <= 0 {
			err = fmt.Errorf("reminders.thresholds[%d]: must be > 0", i)
		}
		if err != nil {
			errs = append(errs, err)
		}
	}

	if n := cfg.Notifier; n != nil {
		if n.RatePerSec < 0 || n.RetryMax < 0 {
			errs = append(errs, errors.New("notifier: rate_per_sec and retry_max must be >= 0"))
		}
		check("notifier.retry_base", n.RetryBase)
		check("notifier.retry_max_delay", n.RetryMaxDelay)
		check("notifier.send_timeout", n.SendTimeout)
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Polls.Authorization)) {
	case "", "creator", "anyone":
	default:
		errs = append(errs, fmt.Errorf("polls.authorization: want creator or anyone, got %q", cfg.Polls.Authorization))
	}
	if tz := strings.TrimSpace(cfg.Polls.DefaultTimezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil || strings.EqualFold(tz, "local") {
			errs = append(errs, fmt.Errorf("polls.default_timezone: unknown zone %q", tz))
		}
	}
	check("polls.default_duration", cfg.Polls.DefaultDuration)
	check("polls.reminder_lead", cfg.Polls.ReminderLead)

	return errors.Join(errs...)
}
