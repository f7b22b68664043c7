// Package poll implements the scheduling-poll lifecycle: creating polls with
// candidate slots, collecting yes/no/maybe votes per slot, and closing a poll
// by confirming one slot or cancelling it.
//
// A poll only ever moves Active -> Confirmed or Active -> Cancelled. The
// Engine checks the transition up front so callers get a precise error, and
// the Store repeats the check inside its write so that racing callers cannot
// both win. Who may confirm, cancel or move the deadline is decided by a
// pluggable Authorizer.
package poll
