// Package tgui provides small Telegram UI helpers:
//   - HTML escaping and formatting for ParseMode="HTML"
//   - Inline keyboard builders
//   - Compact callback data ("p:v:<poll>:<n>:y") within Telegram's 64-byte limit
//   - A message builder that carries text and send options together
package tgui
