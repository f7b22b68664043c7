// Package storage is the SQLite persistence layer for groups, polls,
// options, votes and reminder receipts.
//
// Every mutation that depends on poll state is a single guarded statement
// (or a short transaction) so that concurrent writers resolve inside the
// database rather than in process memory. Errors leave this package already
// classified against the model error classes.
package storage
