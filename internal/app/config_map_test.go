package app

import (
	"testing"
	"time"

	"pollbot/internal/config"
)

func TestMapLoggingConfigNeedsTarget(t *testing.T) {
	cfg := &config.Config{}
	cfg.Logging.Telegram.Enabled = true

	if got := mapLoggingConfig(cfg); got.Telegram.Enabled {
		t.Fatal("telegram sink enabled without a target chat")
	}

	cfg.Telegram.GroupLog = " -100123 "
	cfg.Logging.Telegram.ThreadID = 7
	got := mapLoggingConfig(cfg)
	if !got.Telegram.Enabled || got.Telegram.ChatID != -100123 || got.Telegram.ThreadID != 7 {
		t.Fatalf("telegram = %+v", got.Telegram)
	}
}

func TestMapReminderConfigDefaults(t *testing.T) {
	got, err := mapReminderConfig(&config.Config{})
	if err != nil {
		t.Fatalf("mapReminderConfig: %v", err)
	}
	if !got.Enabled {
		t.Fatal("reminders should default to enabled")
	}
	if len(got.Thresholds) != 2 || got.Thresholds[0] != 24*time.Hour || got.Thresholds[1] != time.Hour {
		t.Fatalf("thresholds = %v", got.Thresholds)
	}

	off := false
	cfg := &config.Config{Reminders: config.RemindersConfig{
		Enabled:    &off,
		Schedule:   "*/5 * * * *",
		Thresholds: []string{"30m"},
	}}
	got, err = mapReminderConfig(cfg)
	if err != nil {
		t.Fatalf("mapReminderConfig: %v", err)
	}
	if got.Enabled || got.Schedule != "*/5 * * * *" || len(got.Thresholds) != 1 || got.Thresholds[0] != 30*time.Minute {
		t.Fatalf("got %+v", got)
	}
}

func TestMapReminderConfigRejectsBadSchedule(t *testing.T) {
	cfg := &config.Config{Reminders: config.RemindersConfig{Schedule: "soon"}}
	if _, err := mapReminderConfig(cfg); err == nil {
		t.Fatal("expected schedule error")
	}
}

func TestMapNotifierConfig(t *testing.T) {
	got, err := mapNotifierConfig(&config.Config{})
	if err != nil || got.RetryMax != 3 {
		t.Fatalf("default notifier = %+v, %v", got, err)
	}

	cfg := &config.Config{Notifier: &config.NotifierConfig{RetryBase: "2s", RetryMaxDelay: "1s"}}
	if _, err := mapNotifierConfig(cfg); err == nil {
		t.Fatal("expected max delay < base error")
	}

	cfg.Notifier = &config.NotifierConfig{RatePerSec: 5, RetryMax: 1, RetryBase: "250ms", RetryMaxDelay: "5s"}
	got, err = mapNotifierConfig(cfg)
	if err != nil {
		t.Fatalf("mapNotifierConfig: %v", err)
	}
	if got.RatePerSec != 5 || got.RetryMax != 1 || got.RetryBase != 250*time.Millisecond || got.RetryMaxDelay != 5*time.Second {
		t.Fatalf("got %+v", got)
	}
}

func TestMapStorageConfig(t *testing.T) {
	got, err := mapStorageConfig(&config.Config{})
	if err != nil {
		t.Fatalf("mapStorageConfig: %v", err)
	}
	if got.Path != "./pollbot.db" || got.BusyTimeout != time.Second {
		t.Fatalf("got %+v", got)
	}
	if _, err := mapStorageConfig(&config.Config{Storage: config.StorageConfig{BusyTimeout: "soon"}}); err == nil {
		t.Fatal("expected busy_timeout error")
	}
}

func TestMapGroupDefaults(t *testing.T) {
	got, err := mapGroupDefaults(&config.Config{})
	if err != nil {
		t.Fatalf("mapGroupDefaults: %v", err)
	}
	if got.Timezone != "UTC" || got.DefaultDuration != 4*time.Hour || got.ReminderLead != 24*time.Hour {
		t.Fatalf("defaults = %+v", got)
	}

	cfg := &config.Config{Polls: config.PollsConfig{
		DefaultTimezone: "Europe/Berlin",
		DefaultDuration: "90m",
		ReminderLead:    "0",
	}}
	got, err = mapGroupDefaults(cfg)
	if err != nil {
		t.Fatalf("mapGroupDefaults: %v", err)
	}
	if got.Timezone != "Europe/Berlin" || got.DefaultDuration != 90*time.Minute || got.ReminderLead != 0 {
		t.Fatalf("got %+v", got)
	}
}
