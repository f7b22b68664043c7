// Package notifier delivers rendered messages to chats on behalf of the
// reminder scheduler.
//
// Delivery is synchronous so the caller learns the outcome, but it is paced
// by a token bucket and retried with jittered exponential backoff. A message
// that still fails after the configured attempts is reported to the caller
// and on the event bus; nothing is queued for later.
//
// The service keeps a short in-memory history of delivered messages for
// operator visibility.
package notifier
