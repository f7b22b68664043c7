package tgui

import (
	"errors"
	"strings"
)

// MaxCallbackDataLen is Telegram's callback_data size limit in bytes.
const MaxCallbackDataLen = 64

var ErrCallbackDataTooLong = errors.New("tgui: callback_data too long")

// Data joins callback parts with ':'. Parts must not contain ':' themselves.
func Data(parts ...string) (string, error) {
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	s := strings.Join(parts, ":")
	if len(s) > MaxCallbackDataLen {
		return "", ErrCallbackDataTooLong
	}
	return s, nil
}

// MustData is Data for inputs known to fit; it returns "" when they do not.
func MustData(parts ...string) string {
	s, _ := Data(parts...)
	return s
}

// SplitData is the inverse of Data. Telebot may prefix unique-less callback
// data with '\f'; that prefix is dropped.
func SplitData(data string) []string {
	data = strings.TrimPrefix(strings.TrimSpace(data), "\f")
	if data == "" {
		return nil
	}
	return strings.Split(data, ":")
}
